package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	ID     int64             `json:"id"`
	Name   string            `json:"name"`
	Tags   []string          `json:"tags"`
	At     time.Time         `json:"at"`
	Nested []samplePayload   `json:"nested"`
	Meta   map[string]any    `json:"meta"`
	Labels map[string]string `json:"labels"`
}

func TestDecodeJSON(t *testing.T) {
	raw := []byte(`{
		"id": 12,
		"name": "alice",
		"tags": ["a", 2],
		"at": "2024-03-01 10:20:30",
		"nested": [{"id": "7", "at": "2024-03-01T10:20:30.123456+00:00"}],
		"meta": "{\"k\": 1}"
	}`)
	out, err := DecodeJSON[samplePayload](raw)
	require.NoError(t, err)
	assert.Equal(t, int64(12), out.ID)
	assert.Equal(t, []string{"a", "2"}, out.Tags)
	assert.Equal(t, 2024, out.At.Year())
	require.Len(t, out.Nested, 1)
	assert.Equal(t, int64(7), out.Nested[0].ID)
	assert.Equal(t, 30, out.Nested[0].At.Second())
	assert.Equal(t, float64(1), out.Meta["k"])
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeJSON[samplePayload]([]byte(`not json`))
	assert.Error(t, err)
	_, err = DecodeJSON[samplePayload]([]byte(`[1,2]`))
	assert.Error(t, err)
	_, err = DecodeJSON[samplePayload]([]byte(`{"at": "yesterday"}`))
	assert.Error(t, err)
}

func TestReadHelpers(t *testing.T) {
	m := map[string]any{"s": "x", "n": float64(3), "ns": "42", "bad": true}
	s, err := ReadString(m, "s")
	require.NoError(t, err)
	assert.Equal(t, "x", s)

	n, err := ReadInt64(m, "n")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = ReadInt64(m, "ns")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = ReadInt64(m, "bad")
	assert.Error(t, err)
	_, err = ReadString(m, "missing")
	assert.Error(t, err)
}
