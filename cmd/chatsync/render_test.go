package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ChatSync/module/chat/model"
	"ChatSync/module/chat/msgsync"
	"ChatSync/service/transport"
	"ChatSync/tools/errs"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgo(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "now", ago(now, now.Add(-30*time.Second)))
	assert.Equal(t, "now", ago(now, now.Add(time.Minute)), "clock skew")
	assert.Equal(t, "5 m", ago(now, now.Add(-5*time.Minute)))
	assert.Equal(t, "2 h", ago(now, now.Add(-2*time.Hour-3*time.Minute)), "largest unit only")
}

func TestRendererLines(t *testing.T) {
	var buf bytes.Buffer
	mock := clock.NewMock()
	r := newTermRenderer(&buf, "alice", 5*time.Second, transport.PolicyReload)
	r.clock = mock

	r.OnMessageAppended(1, model.Message{ID: 3, SenderID: "bob", Content: model.StringPtr("hi"), SentAt: mock.Now()})
	r.OnMessageAppended(1, model.Message{ID: -1, SenderID: "alice", Content: model.StringPtr("yo"), Origin: model.PendingLocal})
	r.OnMessageFailed(1, msgsync.Handle(-1), model.Message{ID: -1, SenderID: "alice", Content: model.StringPtr("yo"), Origin: model.PendingLocal, Failed: true})
	r.OnMessageAppended(1, model.Message{ID: 4, SenderID: "bob", Media: &model.Media{URL: "/m/cat.png", Kind: model.MediaImage}, SentAt: mock.Now()})
	r.OnStateChanged(transport.StateEvent{State: transport.Closed})
	r.OnTypingChanged(1, "bob", false)

	assert.Equal(t, "[now] bob: hi\n"+
		"[sending] me: yo\n"+
		"[#1 failed] me: yo  (/retry 1, /discard 1)\n"+
		"[now] bob: [image] /m/cat.png\n"+
		"-- connection lost, polling; reloading in 5 seconds\n", buf.String())
}

func TestParseHandle(t *testing.T) {
	h, err := parseHandle(" #2")
	require.NoError(t, err)
	assert.Equal(t, msgsync.Handle(-2), h)

	_, err = parseHandle("x")
	assert.True(t, errs.ErrArgs.Is(err))
	_, err = parseHandle("0")
	assert.True(t, errs.ErrArgs.Is(err))
}

func TestAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cat.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o600))

	d, err := attachment(path + " look at this")
	require.NoError(t, err)
	assert.Equal(t, "look at this", d.Content)
	require.NotNil(t, d.Media)
	assert.Equal(t, "cat.png", d.Media.Filename)
	assert.Equal(t, "image/png", d.Media.ContentType)

	_, err = attachment("")
	assert.True(t, errs.ErrArgs.Is(err))
}
