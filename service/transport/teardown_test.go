package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ChatSync/tools/errs"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowPeer holds every handshake until release is called.
type slowPeer struct {
	srv      *httptest.Server
	arrived  chan struct{}
	finished chan struct{}
	gate     chan struct{}
	once     sync.Once
}

func newSlowPeer(t *testing.T) *slowPeer {
	t.Helper()
	p := &slowPeer{
		arrived:  make(chan struct{}, 4),
		finished: make(chan struct{}, 4),
		gate:     make(chan struct{}),
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { p.finished <- struct{}{} }()
		p.arrived <- struct{}{}
		<-p.gate
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		p.release()
		p.srv.CloseClientConnections()
		p.srv.Close()
	})
	return p
}

func (p *slowPeer) url() string { return "ws" + strings.TrimPrefix(p.srv.URL, "http") + "/ws/" }

func (p *slowPeer) release() { p.once.Do(func() { close(p.gate) }) }

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal(what)
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return")
		return nil
	}
}

func TestPushCloseAbortsHandshake(t *testing.T) {
	peer := newSlowPeer(t)
	p := NewPush(PushOptions{URL: peer.url(), HandshakeTimeout: 10 * time.Second})
	emit, events := collect()

	res := make(chan error, 1)
	go func() { res <- p.Connect(context.Background(), emit) }()
	wait(t, peer.arrived, "handshake never reached the server")

	require.NoError(t, p.Close())
	err := waitErr(t, res)
	assert.True(t, errs.ErrTransportClosed.Is(err), "got %v", err)
	assert.Equal(t, Closed, p.State())

	// the server finishing the handshake late must not revive the socket
	peer.release()
	wait(t, peer.finished, "server side never ended")
	assert.Equal(t, Closed, p.State())
	assert.True(t, errs.ErrTransportNotOpen.Is(p.Send(TypingSignal{ConversationID: 1})))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPushCancelledContextAbortsHandshake(t *testing.T) {
	peer := newSlowPeer(t)
	p := NewPush(PushOptions{URL: peer.url(), HandshakeTimeout: 10 * time.Second})
	emit, _ := collect()

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() { res <- p.Connect(ctx, emit) }()
	wait(t, peer.arrived, "handshake never reached the server")

	cancel()
	err := waitErr(t, res)
	assert.True(t, errs.ErrTransportDial.Is(err), "got %v", err)
	assert.Equal(t, Closed, p.State())
}

func TestPushConcurrentConnectWaitsForDial(t *testing.T) {
	peer := newSlowPeer(t)
	p := NewPush(PushOptions{URL: peer.url(), HandshakeTimeout: 10 * time.Second})
	emit, _ := collect()
	t.Cleanup(func() { _ = p.Close() })

	first := make(chan error, 1)
	go func() { first <- p.Connect(context.Background(), emit) }()
	wait(t, peer.arrived, "handshake never reached the server")

	second := make(chan error, 1)
	go func() { second <- p.Connect(context.Background(), emit) }()
	select {
	case err := <-second:
		t.Fatalf("second connect returned before the socket was open: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	peer.release()
	require.NoError(t, waitErr(t, first))
	require.NoError(t, waitErr(t, second))
	assert.Equal(t, Open, p.State())
	select {
	case <-peer.arrived:
		t.Fatal("second connect dialled again")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelCloseDuringPushHandshake(t *testing.T) {
	peer := newSlowPeer(t)
	push := NewPush(PushOptions{URL: peer.url(), HandshakeTimeout: 10 * time.Second})
	pull := &stubStrategy{kind: KindPull}
	ch := NewChannel(push, pull, nil)

	res := make(chan error, 1)
	go func() { res <- ch.Connect(context.Background()) }()
	wait(t, peer.arrived, "handshake never reached the server")

	require.NoError(t, ch.Close())
	err := waitErr(t, res)
	assert.True(t, errs.ErrTransportClosed.Is(err), "got %v", err)

	peer.release()
	wait(t, peer.finished, "server side never ended")
	assert.Equal(t, Closed, push.State())
	assert.Equal(t, KindNone, ch.Active())
	assert.False(t, ch.PushOpen())
	connects, _ := pull.counts()
	assert.Zero(t, connects, "a closed channel must not start pull")
}

func TestControllerStopDuringHandshake(t *testing.T) {
	peer := newSlowPeer(t)
	push := NewPush(PushOptions{URL: peer.url(), HandshakeTimeout: 10 * time.Second})
	pull := &stubStrategy{kind: KindPull}
	ch := NewChannel(push, pull, nil)
	ctl := NewController(ch, ControllerOptions{})

	res := make(chan error, 1)
	go func() { res <- ctl.Start(context.Background()) }()
	wait(t, peer.arrived, "handshake never reached the server")

	ctl.Stop()
	assert.Error(t, waitErr(t, res))
	require.NoError(t, ch.Close())

	peer.release()
	wait(t, peer.finished, "server side never ended")
	assert.Equal(t, Closed, push.State())
	assert.Equal(t, KindNone, ch.Active())
	connects, _ := pull.counts()
	assert.Zero(t, connects)
}
