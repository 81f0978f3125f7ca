package typing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signals struct {
	mu  sync.Mutex
	got []bool
	err error
}

func (s *signals) send(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, v)
	return s.err
}

func (s *signals) list() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.got...)
}

func TestKeystrokesEmitOneStartAndOneStop(t *testing.T) {
	for _, n := range []int{1, 2, 7, 25} {
		mock := clock.NewMock()
		sig := &signals{}
		d := NewDebouncer(sig.send, WithClock(mock))

		for i := 0; i < n; i++ {
			d.Keystroke()
			mock.Add(900 * time.Millisecond) // always inside the quiet period
		}
		assert.Equal(t, []bool{true}, sig.list())
		assert.Equal(t, ActivelyTyping, d.State())

		mock.Add(200 * time.Millisecond)
		assert.Eventually(t, func() bool { return len(sig.list()) == 2 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []bool{true, false}, sig.list(), "n=%d", n)
		assert.Equal(t, Idle, d.State())

		mock.Add(5 * time.Second)
		time.Sleep(10 * time.Millisecond)
		assert.Len(t, sig.list(), 2)
	}
}

func TestClearOnSendEmitsStopOnce(t *testing.T) {
	mock := clock.NewMock()
	sig := &signals{}
	d := NewDebouncer(sig.send, WithClock(mock))

	d.Keystroke()
	d.Keystroke()
	d.Clear()
	d.Clear()
	mock.Add(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, sig.list())

	// typing again after send starts a new cycle
	d.Keystroke()
	assert.Equal(t, []bool{true, false, true}, sig.list())
}

func TestStopOnLeave(t *testing.T) {
	mock := clock.NewMock()
	sig := &signals{}
	d := NewDebouncer(sig.send, WithClock(mock), WithQuietPeriod(500*time.Millisecond))

	d.Stop() // idle: nothing to emit
	assert.Empty(t, sig.list())

	d2 := NewDebouncer(sig.send, WithClock(mock))
	d2.Keystroke()
	d2.Stop()
	d2.Stop()
	d2.Keystroke()
	mock.Add(3 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, sig.list())
}

func TestSendErrorsAreSwallowed(t *testing.T) {
	mock := clock.NewMock()
	sig := &signals{err: errors.New("network down")}
	d := NewDebouncer(sig.send, WithClock(mock))

	require.NotPanics(t, func() {
		d.Keystroke()
		d.Keystroke()
		d.Clear()
	})
	assert.Equal(t, []bool{true, false}, sig.list())
	assert.Equal(t, Idle, d.State())
}

func TestLastSignalAtRefreshes(t *testing.T) {
	mock := clock.NewMock()
	d := NewDebouncer(nil, WithClock(mock))
	d.Keystroke()
	first := d.LastSignalAt()
	mock.Add(300 * time.Millisecond)
	d.Keystroke()
	assert.Equal(t, 300*time.Millisecond, d.LastSignalAt().Sub(first))
	d.Stop()
}

func TestTrackerEmitsOnlyOnChange(t *testing.T) {
	type change struct {
		user   string
		typing bool
	}
	var changes []change
	tr := NewTracker("me", func(u string, v bool) { changes = append(changes, change{u, v}) }, clock.NewMock())

	assert.True(t, tr.Apply("bob", true))
	assert.False(t, tr.Apply("bob", true))
	assert.False(t, tr.Apply("me", true))
	assert.False(t, tr.Apply("carol", false))
	assert.True(t, tr.Apply("bob", false))

	assert.Equal(t, 1, tr.ApplyAll(map[string]bool{"bob": true, "me": true, "carol": false}))
	assert.Equal(t, []string{"bob"}, tr.Typing())

	tr.Reset()
	assert.Empty(t, tr.Typing())
	_, ok := tr.Get("bob")
	assert.False(t, ok)

	assert.Equal(t, []change{
		{"bob", true},
		{"bob", false},
		{"bob", true},
		{"bob", false},
	}, changes)
}
