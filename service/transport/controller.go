package transport

import (
	"context"
	"sync"
	"time"

	"ChatSync/logger"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	PolicyReload  = "reload"
	PolicyBackoff = "backoff"

	DefaultReloadDelay = 5000 * time.Millisecond
)

type ControllerOptions struct {
	Policy       string
	ReloadDelay  time.Duration
	InitialDelay time.Duration
	MaxElapsed   time.Duration
	Clock        clock.Clock
	// OnReload rebuilds the session. It is called at most once per controller and
	// must not block.
	OnReload func()
	// Emit receives a StateEvent on every transition.
	Emit Emit
}

func (o *ControllerOptions) norm() {
	if o.Policy == "" {
		o.Policy = PolicyReload
	}
	if o.ReloadDelay <= 0 {
		o.ReloadDelay = DefaultReloadDelay
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	if o.MaxElapsed <= 0 {
		o.MaxElapsed = 2 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Emit == nil {
		o.Emit = func(InboundEvent) {}
	}
}

// Controller owns the connection state:
// Connecting -> Open -> Closed -> Reconnecting -> Connecting.
// With the reload policy a close moves the channel to pull and asks for a full
// session rebuild after ReloadDelay. With the backoff policy push is redialled
// with exponential backoff until MaxElapsed, then the reload path is taken.
type Controller struct {
	ch   *Channel
	opts ControllerOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	attempt     int
	transport   Kind
	reloadTimer *clock.Timer
	reloading   bool
	stopped     bool
}

func NewController(ch *Channel, opts ControllerOptions) *Controller {
	opts.norm()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{ch: ch, opts: opts, ctx: ctx, cancel: cancel, state: Closed}
	ch.SetPushClosedHandler(c.HandleClosed)
	return c
}

// Start connects the channel. Stop aborts a dial still in flight.
func (c *Controller) Start(ctx context.Context) error {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(c.ctx, cancel)
	defer unhook()

	c.set(Connecting, nil)
	if err := c.ch.Connect(dctx); err != nil {
		c.set(Closed, err)
		c.scheduleReload()
		return err
	}
	c.set(Open, nil)
	return nil
}

// HandleClosed is invoked when push closes unexpectedly.
func (c *Controller) HandleClosed(err error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.set(Closed, err)
	if c.opts.Policy == PolicyBackoff {
		if perr := c.ch.usePull(c.ctx); perr != nil {
			logger.Warn("[Reconnect] pull unavailable while reconnecting", zap.Error(perr))
		}
		go c.reconnect()
		return
	}
	if perr := c.ch.SwitchToPull(c.ctx); perr != nil {
		logger.Warn("[Reconnect] pull fallback failed", zap.Error(perr))
	}
	c.scheduleReload()
}

// Stop cancels pending reconnects and reloads. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.cancel()
	if c.reloadTimer != nil {
		c.reloadTimer.Stop()
	}
}

// State returns the connection state and the reconnection attempt count.
func (c *Controller) State() (State, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.attempt
}

func (c *Controller) set(s State, err error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.state = s
	if s == Open {
		c.transport = c.ch.Active()
	}
	ev := StateEvent{State: s, Attempt: c.attempt, Transport: c.transport, Err: err}
	c.mu.Unlock()

	logger.Info("[Reconnect] state", zap.Stringer("state", s), zap.Int("attempt", ev.Attempt), zap.Stringer("transport", ev.Transport))
	c.opts.Emit(ev)
}

func (c *Controller) scheduleReload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.reloading {
		return
	}
	c.reloading = true
	c.reloadTimer = c.opts.Clock.AfterFunc(c.opts.ReloadDelay, c.fireReload)
}

func (c *Controller) fireReload() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.attempt++
	c.mu.Unlock()

	c.set(Reconnecting, nil)
	if c.opts.OnReload != nil {
		c.opts.OnReload()
	}
}

func (c *Controller) reconnect() {
	c.set(Reconnecting, nil)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialDelay
	b.MaxElapsedTime = c.opts.MaxElapsed
	b.Clock = c.opts.Clock
	b.Reset()

	op := func() error {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return backoff.Permanent(context.Canceled)
		}
		c.attempt++
		c.mu.Unlock()

		c.set(Connecting, nil)
		return c.ch.restorePush(c.ctx)
	}
	notify := func(err error, next time.Duration) {
		logger.Info("[Reconnect] push redial failed", zap.Error(err), zap.Duration("next", next))
	}

	err := backoff.RetryNotifyWithTimer(op, backoff.WithContext(b, c.ctx), notify, &clockTimer{clock: c.opts.Clock})
	if err == nil {
		c.mu.Lock()
		c.attempt = 0
		c.mu.Unlock()
		c.set(Open, nil)
		return
	}
	if c.ctx.Err() != nil {
		return
	}
	logger.Warn("[Reconnect] backoff exhausted, reloading", zap.Error(err))
	c.set(Closed, err)
	c.scheduleReload()
}

// clockTimer drives backoff from a clock.Clock.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.Timer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.timer.C }
