package transport

import (
	"context"
	"sync"
	"time"

	"ChatSync/logger"
	"ChatSync/module/chat/model"
	"ChatSync/tools/errs"
	"ChatSync/tools/safe"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultMessageInterval = 2000 * time.Millisecond
	DefaultUpdatesInterval = 30000 * time.Millisecond
	outboxSize             = 32
)

// PullAPI is the HTTP surface the pull strategy needs.
type PullAPI interface {
	Updates(ctx context.Context) (model.UpdatesSummary, error)
	SetTyping(ctx context.Context, conversationID int64, isTyping bool) error
}

type PullOptions struct {
	UpdatesInterval time.Duration
	RequestTimeout  time.Duration
	Clock           clock.Clock
}

func (o *PullOptions) norm() {
	if o.UpdatesInterval <= 0 {
		o.UpdatesInterval = DefaultUpdatesInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Pull polls the updates endpoint and sends outbound events as HTTP requests, one
// at a time and in order.
type Pull struct {
	api  PullAPI
	opts PullOptions

	mu    sync.Mutex
	state State
	run   *pullRun
}

type pullRun struct {
	updates *Poller
	outbox  chan OutboundEvent
	stop    chan struct{}
}

func NewPull(api PullAPI, opts PullOptions) *Pull {
	opts.norm()
	return &Pull{api: api, opts: opts, state: Closed}
}

func (p *Pull) Kind() Kind { return KindPull }

func (p *Pull) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connect starts the updates poller and the outbound worker. Pull is Open as soon
// as it is started; request failures are retried on the next tick.
func (p *Pull) Connect(_ context.Context, emit Emit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Open {
		return nil
	}
	r := &pullRun{
		outbox: make(chan OutboundEvent, outboxSize),
		stop:   make(chan struct{}),
	}
	r.updates = NewPoller("updates", p.opts.UpdatesInterval, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
		defer cancel()
		sum, err := p.api.Updates(ctx)
		if err != nil {
			logPollError("updates", err)
			return
		}
		emit(UpdatesEvent{Summary: sum})
	}, p.opts.Clock)

	p.run = r
	p.state = Open
	r.updates.Start()
	go p.sendLoop(r)
	return nil
}

// Send queues ev for delivery. Delivery errors are logged, not returned.
func (p *Pull) Send(ev OutboundEvent) error {
	p.mu.Lock()
	r := p.run
	open := p.state == Open && r != nil
	p.mu.Unlock()
	if !open {
		return errs.ErrTransportNotOpen.WrapMsg("pull not open")
	}
	if _, ok := ev.(TypingSignal); !ok {
		return errs.ErrArgs.WrapMsg("unsupported outbound event")
	}
	select {
	case r.outbox <- ev:
		return nil
	default:
		return errs.ErrTransport.WrapMsg("pull outbox full")
	}
}

// Close stops polling and the outbound worker. Idempotent; Connect may be called
// again afterwards.
func (p *Pull) Close() error {
	p.mu.Lock()
	r := p.run
	p.run = nil
	p.state = Closed
	p.mu.Unlock()

	if r != nil {
		r.updates.Stop()
		close(r.stop)
	}
	return nil
}

func (p *Pull) sendLoop(r *pullRun) {
	for {
		select {
		case <-r.stop:
			return
		case ev := <-r.outbox:
			sig := ev.(TypingSignal)
			_ = safe.SafeCall(func() {
				ctx, cancel := context.WithTimeout(context.Background(), p.opts.RequestTimeout)
				defer cancel()
				if err := p.api.SetTyping(ctx, sig.ConversationID, sig.IsTyping); err != nil {
					logger.Debug("[Pull] typing signal failed", zap.Int64("conversation", sig.ConversationID), zap.Error(err))
				}
			})
		}
	}
}

func logPollError(what string, err error) {
	if errs.ErrMalformedPayload.Is(err) {
		logger.Warn("[Pull] drop response", zap.String("poll", what), zap.Error(err))
		return
	}
	logger.Debug("[Pull] poll failed", zap.String("poll", what), zap.Error(err))
}
