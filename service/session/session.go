package session

import (
	"context"
	"sync"

	"ChatSync/global/config"
	"ChatSync/logger"
	"ChatSync/module/chat/model"
	"ChatSync/module/notify"
	"ChatSync/service/api"
	"ChatSync/service/loop"
	"ChatSync/service/transport"
	"ChatSync/tools/errs"
	"ChatSync/tools/safe"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

type Options struct {
	Clock  clock.Clock
	Native notify.Native // nil: in-app toasts only
}

// Session is one signed-in client: the process-wide channel, its controller, the
// notification dispatcher and the open conversation views. All inbound events
// are handled on the session's loop.
type Session struct {
	cfg    config.AppConfig
	api    *api.Client
	r      Renderer
	opts   Options
	loop   *loop.Loop
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	ch      *transport.Channel
	ctl     *transport.Controller
	disp    *notify.Dispatcher
	views   map[int64]*ConversationView
	reloads int
	started bool
	stopped bool
}

func New(cfg config.AppConfig, client *api.Client, r Renderer, opts Options) *Session {
	safe.MustNotNil(client, "api client")
	if r == nil {
		r = NopRenderer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		api:    client,
		r:      r,
		opts:   opts,
		loop:   loop.New(),
		ctx:    ctx,
		cancel: cancel,
		views:  make(map[int64]*ConversationView),
	}
}

// Start connects the channel. A push that cannot be established leaves the
// session on pull; Start only fails once the session is stopped.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errs.ErrTransportClosed.WrapMsg("session stopped")
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.loop.Start()
	return s.build().Start(ctx)
}

// build creates a fresh dispatcher, channel and controller; the caller starts the
// returned controller.
func (s *Session) build() *transport.Controller {
	disp := notify.NewDispatcher(s.r, notify.Options{
		AppName:       s.cfg.AppName,
		ToastLifetime: s.cfg.Toast.Lifetime,
		Native:        s.opts.Native,
		Clock:         s.opts.Clock,
		Executor:      s.post,
	})

	var push transport.Strategy
	if s.cfg.Push.Enabled {
		push = transport.NewPush(transport.PushOptions{
			URL:              s.cfg.PushURL(),
			Token:            s.api.Token(),
			HandshakeTimeout: s.cfg.Push.HandshakeTimeout,
			PingInterval:     s.cfg.Push.PingInterval,
		})
	}
	pull := transport.NewPull(s.api, transport.PullOptions{
		UpdatesInterval: s.cfg.Pull.UpdatesInterval,
		RequestTimeout:  s.cfg.Pull.RequestTimeout,
		Clock:           s.opts.Clock,
	})
	ch := transport.NewChannel(push, pull, s.onEvent)
	ctl := transport.NewController(ch, transport.ControllerOptions{
		Policy:       s.cfg.Reconnect.Policy,
		ReloadDelay:  s.cfg.Reconnect.ReloadDelay,
		InitialDelay: s.cfg.Reconnect.InitialDelay,
		MaxElapsed:   s.cfg.Reconnect.MaxElapsed,
		Clock:        s.opts.Clock,
		OnReload:     func() { s.post(s.reload) },
		Emit:         s.onEvent,
	})

	s.mu.Lock()
	if s.stopped {
		// Stop ran while we were building; the controller's Start fails on the
		// closed channel
		s.mu.Unlock()
		s.teardown(ctl, ch, disp)
		return ctl
	}
	s.disp, s.ch, s.ctl = disp, ch, ctl
	s.mu.Unlock()
	return ctl
}

// Open returns the view of a conversation, starting it if needed.
func (s *Session) Open(conversationID int64) (*ConversationView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.started {
		return nil, errs.ErrTransportNotOpen.WrapMsg("session not running")
	}
	if v, ok := s.views[conversationID]; ok {
		return v, nil
	}
	v := newConversationView(s, conversationID)
	s.views[conversationID] = v
	v.Start()
	return v, nil
}

// View returns the current view of an open conversation.
func (s *Session) View(conversationID int64) (*ConversationView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[conversationID]
	return v, ok
}

// Leave stops and forgets a conversation view.
func (s *Session) Leave(conversationID int64) {
	s.mu.Lock()
	v, ok := s.views[conversationID]
	delete(s.views, conversationID)
	s.mu.Unlock()
	if ok {
		v.Stop()
	}
}

// Reload tears everything down and reconnects, reopening the same conversations
// with empty views.
func (s *Session) Reload() {
	s.post(s.reload)
}

func (s *Session) reload() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	ids := make([]int64, 0, len(s.views))
	old := make([]*ConversationView, 0, len(s.views))
	for id, v := range s.views {
		ids = append(ids, id)
		old = append(old, v)
	}
	s.views = make(map[int64]*ConversationView)
	s.reloads++
	ctl, ch, disp := s.ctl, s.ch, s.disp
	s.mu.Unlock()

	logger.Info("[Session] reload", zap.Int("views", len(ids)))
	for _, v := range old {
		v.Stop()
	}
	s.teardown(ctl, ch, disp)
	s.r.OnReload()

	ctl = s.build()
	for _, id := range ids {
		if _, err := s.Open(id); err != nil {
			logger.Warn("[Session] reopen failed", zap.Int64("conversation", id), zap.Error(err))
		}
	}
	// dialling may take up to the handshake timeout; keep the loop free
	safe.SafeGo(func() {
		if err := ctl.Start(s.ctx); err != nil {
			logger.Error("[Session] reconnect after reload failed", zap.Error(err))
		}
	})
}

// Stop closes every view, the channel and the loop. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	views := s.views
	s.views = make(map[int64]*ConversationView)
	ctl, ch, disp := s.ctl, s.ch, s.disp
	s.mu.Unlock()

	for _, v := range views {
		v.Stop()
	}
	s.teardown(ctl, ch, disp)
	s.cancel()
	s.loop.Stop()
}

func (s *Session) teardown(ctl *transport.Controller, ch *transport.Channel, disp *notify.Dispatcher) {
	if ctl != nil {
		ctl.Stop()
	}
	if ch != nil {
		_ = ch.Close()
	}
	if disp != nil {
		disp.Stop()
	}
}

// Dispatcher is the current notification dispatcher.
func (s *Session) Dispatcher() *notify.Dispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disp
}

func (s *Session) Channel() *transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// State is the controller's connection state and attempt count.
func (s *Session) State() (transport.State, int) {
	s.mu.Lock()
	ctl := s.ctl
	s.mu.Unlock()
	if ctl == nil {
		return transport.Closed, 0
	}
	return ctl.State()
}

// Reloads counts session rebuilds.
func (s *Session) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

// Flush waits until every event received so far has been handled.
func (s *Session) Flush() { s.loop.Flush() }

func (s *Session) post(f func()) { s.loop.Post(f) }

func (s *Session) onEvent(ev transport.InboundEvent) {
	s.post(func() { s.handle(ev) })
}

func (s *Session) handle(ev transport.InboundEvent) {
	switch e := ev.(type) {
	case transport.MessagesEvent:
		if v, ok := s.View(e.ConversationID); ok {
			v.ingest(e.Messages)
		}
	case transport.TypingEvent:
		if v, ok := s.View(e.ConversationID); ok {
			v.tracker.Apply(e.UserID, e.IsTyping)
		}
	case transport.TypingSnapshotEvent:
		if v, ok := s.View(e.ConversationID); ok {
			v.tracker.ApplyAll(e.Typing)
		}
	case transport.NotificationEvent:
		if nm, ok := e.Notification.(model.NewMessage); ok && s.cfg.UserID != "" && nm.Sender == s.cfg.UserID {
			// echo of our own send; the MessagesEvent next to it carries the message
			return
		}
		if d := s.Dispatcher(); d != nil {
			d.Dispatch(e.Notification)
		}
	case transport.UpdatesEvent:
		if d := s.Dispatcher(); d != nil {
			d.ApplyUpdates(e.Summary)
		}
	case transport.StateEvent:
		s.r.OnStateChanged(e)
	}
}

func (s *Session) channelSend(ev transport.OutboundEvent) error {
	ch := s.Channel()
	if ch == nil {
		return errs.ErrTransportNotOpen.WrapMsg("no channel")
	}
	return ch.Send(ev)
}

func (s *Session) pushOpen() bool {
	ch := s.Channel()
	return ch != nil && ch.PushOpen()
}
