package transport

import (
	"context"
	"sync"

	"ChatSync/logger"
	"ChatSync/tools/errs"

	"go.uber.org/zap"
)

// Strategy is one way of delivering events: Push or Pull.
type Strategy interface {
	Kind() Kind
	Connect(ctx context.Context, emit Emit) error
	Send(ev OutboundEvent) error
	Close() error
	State() State
}

// Channel multiplexes push and pull into one event stream. Push is tried first
// when configured; once it fails to establish the channel stays on pull.
type Channel struct {
	push Strategy // nil when push is unsupported
	pull Strategy
	emit Emit

	mu       sync.Mutex
	active   Strategy
	fallback bool // permanent pull
	closed   bool
	onClosed func(error)
}

func NewChannel(push, pull Strategy, emit Emit) *Channel {
	if emit == nil {
		emit = func(InboundEvent) {}
	}
	return &Channel{push: push, pull: pull, emit: emit}
}

// SetPushClosedHandler registers the callback for an unexpected push close.
func (c *Channel) SetPushClosedHandler(f func(error)) {
	c.mu.Lock()
	c.onClosed = f
	c.mu.Unlock()
}

// Connect establishes the preferred strategy. A push that cannot be established
// switches the channel to pull for good.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrTransportClosed.WrapMsg("channel closed")
	}
	push := c.push
	if c.fallback {
		push = nil
	}
	c.mu.Unlock()

	if push != nil {
		err := push.Connect(ctx, c.fromPush)
		if err == nil {
			return c.activate(push)
		}
		if c.isClosed() {
			return errs.ErrTransportClosed.WrapMsg("channel closed")
		}
		if ctx.Err() != nil {
			// the caller gave up; no fallback
			return err
		}
		logger.Warn("[Channel] push unavailable, falling back to pull", zap.Error(err))
	}
	return c.SwitchToPull(ctx)
}

// SwitchToPull closes push and moves to pull for the rest of the session.
func (c *Channel) SwitchToPull(ctx context.Context) error {
	c.mu.Lock()
	c.fallback = true
	c.mu.Unlock()
	return c.usePull(ctx)
}

// usePull moves to pull without giving up on push.
func (c *Channel) usePull(ctx context.Context) error {
	if c.push != nil {
		_ = c.push.Close()
	}
	if c.pull == nil {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
		return errs.ErrTransport.WrapMsg("no pull strategy")
	}
	if err := c.pull.Connect(ctx, c.emit); err != nil {
		return err
	}
	if err := c.activate(c.pull); err != nil {
		return err
	}
	logger.Info("[Channel] using pull")
	return nil
}

// restorePush reconnects push and, once it is Open, stops pull.
func (c *Channel) restorePush(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.fallback || c.push == nil {
		c.mu.Unlock()
		return errs.ErrTransportClosed.WrapMsg("push not available")
	}
	c.mu.Unlock()

	if err := c.push.Connect(ctx, c.fromPush); err != nil {
		return err
	}
	if err := c.activate(c.push); err != nil {
		return err
	}
	if c.pull != nil {
		_ = c.pull.Close()
	}
	logger.Info("[Channel] push restored")
	return nil
}

// activate makes s the active strategy. A strategy that finished connecting after
// Close is shut again so no late socket or poller outlives the channel.
func (c *Channel) activate(s Strategy) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = s.Close()
		return errs.ErrTransportClosed.WrapMsg("channel closed while connecting", "transport", s.Kind().String())
	}
	c.active = s
	c.mu.Unlock()
	return nil
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send delivers ev over the active strategy.
func (c *Channel) Send(ev OutboundEvent) error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return errs.ErrTransportNotOpen.WrapMsg("channel not connected")
	}
	return s.Send(ev)
}

// Close shuts both strategies. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.active = nil
	c.mu.Unlock()

	if c.push != nil {
		_ = c.push.Close()
	}
	if c.pull != nil {
		_ = c.pull.Close()
	}
	return nil
}

// Active reports the strategy currently carrying traffic.
func (c *Channel) Active() Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return KindNone
	}
	return c.active.Kind()
}

// PushOpen reports whether push is the active strategy and Open.
func (c *Channel) PushOpen() bool {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	return s != nil && s.Kind() == KindPush && s.State() == Open
}

func (c *Channel) Fallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback
}

func (c *Channel) fromPush(ev InboundEvent) {
	closed, ok := ev.(ClosedEvent)
	if !ok {
		c.emit(ev)
		return
	}
	c.mu.Lock()
	if c.active == c.push {
		c.active = nil
	}
	f := c.onClosed
	shut := c.closed
	c.mu.Unlock()
	if shut {
		return
	}
	if f != nil {
		f(closed.Err)
		return
	}
	// nobody supervises this channel: keep events flowing over pull
	if err := c.SwitchToPull(context.Background()); err != nil {
		logger.Error("[Channel] pull fallback failed", zap.Error(err))
	}
}
