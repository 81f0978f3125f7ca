package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"ChatSync/logger"
	"ChatSync/tools/errs"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	HeaderSessionID = "X-Session-Id"

	sendQueueSize = 64
	readLimit     = 1 << 20 // 1MB
	writeWait     = 5 * time.Second
)

type PushOptions struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	// PingInterval > 0 enables client pings; the read deadline is twice the interval
	// and is extended by every pong.
	PingInterval time.Duration
}

// Push delivers events over one WebSocket. Send never buffers while the socket is
// not Open. After the connection ends Push can be connected again.
type Push struct {
	opts   PushOptions
	dialer *websocket.Dialer

	mu      sync.Mutex
	state   State
	cur     *pushConn
	gen     uint64 // bumped by Close; a dial started under an older gen is discarded
	dialing chan struct{}
	abort   context.CancelFunc
	raw     net.Conn // connection of the handshake in flight
}

type dialGenKey struct{}

type pushConn struct {
	ws        *websocket.Conn
	sessionID string
	send      chan []byte
	stop      chan struct{}
	stopOnce  sync.Once
	closing   bool // guarded by Push.mu
}

func NewPush(opts PushOptions) *Push {
	p := &Push{opts: opts, state: Closed}
	p.dialer = &websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
		NetDialContext:   p.netDial,
	}
	return p
}

// netDial keeps the raw connection so Close can cut a handshake short; the
// websocket dialer only honours the context until TCP is up.
func (p *Push) netDial(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	gen, _ := ctx.Value(dialGenKey{}).(uint64)
	p.mu.Lock()
	if p.gen != gen || p.state != Connecting {
		p.mu.Unlock()
		_ = conn.Close()
		return nil, errs.ErrTransportClosed.WrapMsg("push closed during dial")
	}
	p.raw = conn
	p.mu.Unlock()
	return conn, nil
}

func (p *Push) Kind() Kind { return KindPush }

func (p *Push) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connect dials the socket and starts the read and write pumps. It returns once the
// handshake has completed or failed. A Connect made while another dial is in flight
// waits for that dial. A Close during the dial aborts it and discards the socket.
func (p *Push) Connect(ctx context.Context, emit Emit) error {
	p.mu.Lock()
	switch p.state {
	case Open:
		p.mu.Unlock()
		return nil
	case Connecting:
		wait := p.dialing
		p.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return errs.ErrTransportNotOpen.WrapMsg("push dial in flight", "err", ctx.Err().Error())
		}
		if p.State() != Open {
			return errs.ErrTransportNotOpen.WrapMsg("push dial in flight failed")
		}
		return nil
	}
	gen := p.gen
	dctx, abort := context.WithCancel(context.WithValue(ctx, dialGenKey{}, gen))
	done := make(chan struct{})
	p.state = Connecting
	p.dialing = done
	p.abort = abort
	p.mu.Unlock()
	defer close(done)
	defer abort()
	// a cancelled ctx also cuts the handshake short
	defer context.AfterFunc(dctx, func() {
		p.mu.Lock()
		var raw net.Conn
		if p.gen == gen && p.state == Connecting {
			raw, p.raw = p.raw, nil
		}
		p.mu.Unlock()
		if raw != nil {
			_ = raw.Close()
		}
	})()

	sessionID := uuid.NewString()
	header := http.Header{}
	header.Set(HeaderSessionID, sessionID)
	if p.opts.Token != "" {
		header.Set("Authorization", "Bearer "+p.opts.Token)
	}

	ws, resp, err := p.dialer.DialContext(dctx, p.opts.URL, header)
	if err != nil {
		p.mu.Lock()
		stale := p.gen != gen
		if !stale {
			p.state = Closed
			p.raw = nil
		}
		p.mu.Unlock()
		if stale {
			return errs.ErrTransportClosed.WrapMsg("push closed during handshake")
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return errs.ErrTransportDial.WrapMsg("push handshake failed", "url", p.opts.URL, "status", status, "err", err.Error())
	}

	c := &pushConn{
		ws:        ws,
		sessionID: sessionID,
		send:      make(chan []byte, sendQueueSize),
		stop:      make(chan struct{}),
	}
	p.mu.Lock()
	if p.gen != gen {
		// closed while dialling
		p.mu.Unlock()
		c.shutdown(true)
		logger.Debug("[Push] discard socket dialled after close", zap.String("session", sessionID))
		return errs.ErrTransportClosed.WrapMsg("push closed during handshake")
	}
	p.cur = c
	p.state = Open
	p.abort = nil
	p.raw = nil
	p.mu.Unlock()

	logger.Info("[Push] connected", zap.String("url", p.opts.URL), zap.String("session", sessionID))
	go p.writePump(c)
	go p.readPump(c, emit)
	return nil
}

// Send enqueues one frame. It fails with ErrTransportNotOpen unless the socket is
// Open.
func (p *Push) Send(ev OutboundEvent) error {
	p.mu.Lock()
	c := p.cur
	open := p.state == Open && c != nil
	p.mu.Unlock()
	if !open {
		return errs.ErrTransportNotOpen.WrapMsg("push not open")
	}

	b, err := EncodeFrame(ev)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	case <-c.stop:
		return errs.ErrTransportClosed.WrapMsg("push closed")
	default:
		return errs.ErrTransport.WrapMsg("push send queue full", "session", c.sessionID)
	}
}

// Close ends the connection, or aborts a dial in flight, without publishing a
// ClosedEvent. Idempotent.
func (p *Push) Close() error {
	p.mu.Lock()
	c := p.cur
	p.cur = nil
	p.state = Closed
	p.gen++
	abort, raw := p.abort, p.raw
	p.abort, p.raw = nil, nil
	if c != nil {
		c.closing = true
	}
	p.mu.Unlock()

	if abort != nil {
		abort()
	}
	if raw != nil {
		_ = raw.Close()
	}
	if c != nil {
		c.shutdown(true)
	}
	return nil
}

func (c *pushConn) shutdown(graceful bool) {
	c.stopOnce.Do(func() {
		close(c.stop)
		if graceful {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(writeWait))
		}
		_ = c.ws.Close()
	})
}

// 写协程：业务帧 + 心跳
func (p *Push) writePump(c *pushConn) {
	var tick <-chan time.Time
	if p.opts.PingInterval > 0 {
		t := time.NewTicker(p.opts.PingInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-c.stop:
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				logger.Warn("[Push] write failed", zap.String("session", c.sessionID), zap.Error(err))
				_ = c.ws.Close() // read pump reports the close
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				logger.Warn("[Push] ping failed", zap.String("session", c.sessionID), zap.Error(err))
				_ = c.ws.Close()
				return
			}
		}
	}
}

// 读协程：每帧解析为事件；解析失败只丢弃该帧
func (p *Push) readPump(c *pushConn, emit Emit) {
	c.ws.SetReadLimit(readLimit)
	if p.opts.PingInterval > 0 {
		wait := 2 * p.opts.PingInterval
		_ = c.ws.SetReadDeadline(time.Now().Add(wait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(wait))
		})
	}

	var rerr error
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			rerr = err
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		events, perr := ParseFrame(data)
		if perr != nil {
			logger.Warn("[Push] drop frame",
				zap.String("session", c.sessionID),
				zap.Error(perr),
				zap.ByteString("sample", sample(data)),
				zap.Int("len", len(data)))
			continue
		}
		for _, ev := range events {
			emit(ev)
		}
	}

	p.mu.Lock()
	intentional := c.closing
	if p.cur == c {
		p.state = Closed
		p.cur = nil
	}
	p.mu.Unlock()
	c.shutdown(false)

	if intentional {
		logger.Debug("[Push] closed", zap.String("session", c.sessionID))
		return
	}
	switch {
	case websocket.IsCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Info("[Push] peer closed", zap.String("session", c.sessionID), zap.Error(rerr))
	default:
		if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
			logger.Info("[Push] read timeout", zap.String("session", c.sessionID), zap.Error(rerr))
		} else {
			logger.Info("[Push] read error", zap.String("session", c.sessionID), zap.Error(rerr))
		}
	}
	emit(ClosedEvent{Transport: KindPush, Err: errs.ErrTransportClosed.WrapMsg("push connection lost", "err", errString(rerr))})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
