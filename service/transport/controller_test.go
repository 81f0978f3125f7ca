package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ChatSync/tools/errs"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStrategy is an in-memory Strategy.
type stubStrategy struct {
	kind Kind

	mu       sync.Mutex
	state    State
	emit     Emit
	dialErrs int // number of Connect calls that fail before one succeeds
	connects int
	closes   int
	sent     []OutboundEvent
}

func (s *stubStrategy) Kind() Kind { return s.kind }

func (s *stubStrategy) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubStrategy) Connect(_ context.Context, emit Emit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.dialErrs != 0 {
		if s.dialErrs > 0 {
			s.dialErrs--
		}
		s.state = Closed
		return errs.ErrTransportDial.WrapMsg("refused")
	}
	s.emit = emit
	s.state = Open
	return nil
}

func (s *stubStrategy) Send(ev OutboundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Open {
		return errs.ErrTransportNotOpen.WrapMsg("stub not open")
	}
	s.sent = append(s.sent, ev)
	return nil
}

func (s *stubStrategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.state = Closed
	return nil
}

// drop simulates the server closing the socket.
func (s *stubStrategy) drop() {
	s.mu.Lock()
	s.state = Closed
	emit := s.emit
	s.mu.Unlock()
	emit(ClosedEvent{Transport: s.kind, Err: errs.ErrTransportClosed.WrapMsg("gone")})
}

func (s *stubStrategy) counts() (connects, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.closes
}

type stateLog struct {
	mu     sync.Mutex
	states []StateEvent
	other  []InboundEvent
}

func (l *stateLog) emit(ev InboundEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if se, ok := ev.(StateEvent); ok {
		l.states = append(l.states, se)
		return
	}
	l.other = append(l.other, ev)
}

func (l *stateLog) sequence() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, 0, len(l.states))
	for _, s := range l.states {
		out = append(out, s.State)
	}
	return out
}

func TestChannelFallsBackWhenPushNeverEstablishes(t *testing.T) {
	push := &stubStrategy{kind: KindPush, dialErrs: -1}
	pull := &stubStrategy{kind: KindPull}
	ch := NewChannel(push, pull, nil)

	require.NoError(t, ch.Connect(context.Background()))
	assert.Equal(t, KindPull, ch.Active())
	assert.True(t, ch.Fallback())

	// permanent: a second Connect does not retry push
	require.NoError(t, ch.Connect(context.Background()))
	connects, _ := push.counts()
	assert.Equal(t, 1, connects)

	require.NoError(t, ch.Send(TypingSignal{ConversationID: 1, IsTyping: true}))
	assert.Len(t, pull.sent, 1)
}

func TestChannelPullOnlyWhenPushUnsupported(t *testing.T) {
	pull := &stubStrategy{kind: KindPull}
	ch := NewChannel(nil, pull, nil)
	assert.True(t, errs.ErrTransportNotOpen.Is(ch.Send(TypingSignal{})))
	require.NoError(t, ch.Connect(context.Background()))
	assert.Equal(t, KindPull, ch.Active())
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.True(t, errs.ErrTransportNotOpen.Is(ch.Send(TypingSignal{})))
}

func TestChannelForwardsPushEvents(t *testing.T) {
	push := &stubStrategy{kind: KindPush}
	log := &stateLog{}
	ch := NewChannel(push, &stubStrategy{kind: KindPull}, log.emit)
	require.NoError(t, ch.Connect(context.Background()))
	assert.True(t, ch.PushOpen())

	push.emit(TypingEvent{ConversationID: 1, UserID: "bob", IsTyping: true})
	assert.Equal(t, []InboundEvent{TypingEvent{ConversationID: 1, UserID: "bob", IsTyping: true}}, log.other)
}

func TestControllerReloadPolicy(t *testing.T) {
	mock := clock.NewMock()
	push := &stubStrategy{kind: KindPush}
	pull := &stubStrategy{kind: KindPull}
	log := &stateLog{}
	ch := NewChannel(push, pull, log.emit)

	var reloads int32
	ctl := NewController(ch, ControllerOptions{
		Policy:   PolicyReload,
		Clock:    mock,
		Emit:     log.emit,
		OnReload: func() { atomic.AddInt32(&reloads, 1) },
	})
	defer ctl.Stop()

	require.NoError(t, ctl.Start(context.Background()))
	st, attempt := ctl.State()
	assert.Equal(t, Open, st)
	assert.Equal(t, 0, attempt)

	push.drop()
	st, _ = ctl.State()
	assert.Equal(t, Closed, st)
	assert.Equal(t, KindPull, ch.Active(), "pull carries events until the reload")
	assert.True(t, ch.Fallback())

	mock.Add(4900 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&reloads))

	mock.Add(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&reloads) == 1 }, time.Second, time.Millisecond)
	st, attempt = ctl.State()
	assert.Equal(t, Reconnecting, st)
	assert.Equal(t, 1, attempt)
	assert.Equal(t, []State{Connecting, Open, Closed, Reconnecting}, log.sequence())

	// push never redialled in-process
	connects, _ := push.counts()
	assert.Equal(t, 1, connects)
}

func TestControllerBackoffPolicyRestoresPush(t *testing.T) {
	push := &stubStrategy{kind: KindPush}
	pull := &stubStrategy{kind: KindPull}
	log := &stateLog{}
	ch := NewChannel(push, pull, log.emit)
	ctl := NewController(ch, ControllerOptions{
		Policy:       PolicyBackoff,
		InitialDelay: 5 * time.Millisecond,
		MaxElapsed:   time.Second,
		Emit:         log.emit,
		OnReload:     func() { t.Error("reload not expected") },
	})
	defer ctl.Stop()
	require.NoError(t, ctl.Start(context.Background()))

	push.mu.Lock()
	push.dialErrs = 2
	push.mu.Unlock()
	push.drop()

	assert.Eventually(t, func() bool {
		st, _ := ctl.State()
		return st == Open && ch.Active() == KindPush
	}, 2*time.Second, time.Millisecond)

	connects, _ := push.counts()
	assert.Equal(t, 4, connects) // initial + 2 failures + success
	assert.Equal(t, Closed, pull.State(), "pull stopped once push is back")
	assert.False(t, ch.Fallback())

	seq := log.sequence()
	assert.Equal(t, []State{Connecting, Open, Closed, Reconnecting}, seq[:4])
	assert.Equal(t, Open, seq[len(seq)-1])
}

func TestControllerBackoffExhaustedReloads(t *testing.T) {
	push := &stubStrategy{kind: KindPush}
	pull := &stubStrategy{kind: KindPull}
	reloaded := make(chan struct{})
	var once sync.Once
	ch := NewChannel(push, pull, nil)
	ctl := NewController(ch, ControllerOptions{
		Policy:       PolicyBackoff,
		InitialDelay: 5 * time.Millisecond,
		MaxElapsed:   50 * time.Millisecond,
		ReloadDelay:  10 * time.Millisecond,
		OnReload:     func() { once.Do(func() { close(reloaded) }) },
	})
	defer ctl.Stop()
	require.NoError(t, ctl.Start(context.Background()))

	push.mu.Lock()
	push.dialErrs = -1
	push.mu.Unlock()
	push.drop()

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after backoff gave up")
	}
}

func TestControllerStopCancelsReload(t *testing.T) {
	mock := clock.NewMock()
	push := &stubStrategy{kind: KindPush}
	ch := NewChannel(push, &stubStrategy{kind: KindPull}, nil)
	var reloads int32
	ctl := NewController(ch, ControllerOptions{Clock: mock, OnReload: func() { atomic.AddInt32(&reloads, 1) }})
	require.NoError(t, ctl.Start(context.Background()))

	push.drop()
	ctl.Stop()
	ctl.Stop()
	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&reloads))
}
