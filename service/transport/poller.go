package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ChatSync/logger"
	"ChatSync/tools/safe"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Poller calls fn every interval. A tick that arrives while the previous call is
// still running is skipped, not queued.
type Poller struct {
	name     string
	interval time.Duration
	clock    clock.Clock
	fn       func(ctx context.Context)

	ctx    context.Context
	cancel context.CancelFunc

	inFlight atomic.Bool
	calls    atomic.Uint64
	skipped  atomic.Uint64

	mu      sync.Mutex
	started bool
	stopped bool
	ticker  *clock.Ticker
	stopCh  chan struct{}
}

func NewPoller(name string, interval time.Duration, fn func(ctx context.Context), c clock.Clock) *Poller {
	if c == nil {
		c = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		name:     name,
		interval: interval,
		clock:    c,
		fn:       fn,
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
	}
}

func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.ticker = p.clock.Ticker(p.interval)
	go p.run(p.ticker)
}

// Kick runs one poll now, subject to the same in-flight rule as a tick.
func (p *Poller) Kick() {
	p.tick()
}

// Stop cancels the in-flight request and stops ticking. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.cancel()
	if p.ticker != nil {
		p.ticker.Stop()
	}
	close(p.stopCh)
}

func (p *Poller) InFlight() bool  { return p.inFlight.Load() }
func (p *Poller) Calls() uint64   { return p.calls.Load() }
func (p *Poller) Skipped() uint64 { return p.skipped.Load() }

func (p *Poller) run(t *clock.Ticker) {
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	if p.ctx.Err() != nil {
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		logger.Debug("[Poller] tick skipped, request in flight", zap.String("poller", p.name))
		return
	}
	p.calls.Add(1)
	go func() {
		defer p.inFlight.Store(false)
		_ = safe.SafeCall(func() { p.fn(p.ctx) })
	}()
}
