package session

import (
	"context"
	"sync"

	"ChatSync/logger"
	"ChatSync/module/chat/model"
	"ChatSync/module/chat/msgsync"
	"ChatSync/module/chat/typing"
	"ChatSync/service/transport"
	"ChatSync/tools/errs"
	"ChatSync/tools/safe"

	"go.uber.org/zap"
)

// ConversationView is one open conversation: its synchronizer, the local typing
// debouncer, remote typing state and the message poll. Stop releases all of its
// timers.
type ConversationView struct {
	s  *Session
	id int64

	sync     *msgsync.Synchronizer
	debounce *typing.Debouncer
	tracker  *typing.Tracker
	feed     *transport.MessageFeed

	mu      sync.Mutex
	drafts  map[msgsync.Handle]model.Draft
	stopped bool
}

func newConversationView(s *Session, id int64) *ConversationView {
	v := &ConversationView{s: s, id: id, drafts: make(map[msgsync.Handle]model.Draft)}
	v.sync = msgsync.New(id, s.cfg.UserID, viewObserver{id: id, post: s.post, r: s.r}, msgsync.WithClock(s.opts.Clock))
	v.debounce = typing.NewDebouncer(func(isTyping bool) error {
		return s.channelSend(transport.TypingSignal{ConversationID: id, IsTyping: isTyping})
	}, typing.WithClock(s.opts.Clock), typing.WithQuietPeriod(s.cfg.Typing.QuietPeriod))
	v.tracker = typing.NewTracker(s.cfg.UserID, func(userID string, isTyping bool) {
		s.post(func() { s.r.OnTypingChanged(id, userID, isTyping) })
	}, s.opts.Clock)
	v.feed = transport.NewMessageFeed(s.api, id, v.sync.FetchCursor, s.onEvent, transport.FeedOptions{
		Interval:       s.cfg.Pull.MessageInterval,
		RequestTimeout: s.cfg.Pull.RequestTimeout,
		Clock:          s.opts.Clock,
		Gate: func() bool {
			return s.cfg.Pull.PollWhilePushOpen || !s.pushOpen()
		},
	})
	return v
}

func (v *ConversationView) ConversationID() int64 { return v.id }

// Start performs the initial load and starts polling.
func (v *ConversationView) Start() {
	v.feed.Start()
}

// Stop is leaving the conversation: polling ends, typing=false is sent if we were
// typing, and remote typing state is cleared.
func (v *ConversationView) Stop() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	v.mu.Unlock()

	v.feed.Stop()
	v.debounce.Stop()
	v.tracker.Reset()
}

// Keystroke feeds the typing debouncer.
func (v *ConversationView) Keystroke() {
	v.debounce.Keystroke()
}

// Send shows draft immediately as a pending row and posts it. The outcome
// arrives through OnMessageReconciled or OnMessageFailed.
func (v *ConversationView) Send(draft model.Draft) (msgsync.Handle, error) {
	if draft.Empty() {
		return 0, errs.ErrArgs.WrapMsg("empty message")
	}
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return 0, errs.ErrArgs.WrapMsg("conversation closed", "conversation", v.id)
	}
	v.mu.Unlock()

	v.debounce.Clear()
	h, pending := v.sync.AppendLocal(draft)

	v.mu.Lock()
	v.drafts[h] = draft
	v.mu.Unlock()

	safe.SafeGo(func() {
		ctx, cancel := context.WithTimeout(v.s.ctx, v.s.cfg.Pull.RequestTimeout)
		defer cancel()
		sm, err := v.s.api.Compose(ctx, v.id, draft, pending.ClientToken)
		v.s.post(func() { v.complete(h, sm, err) })
	})
	return h, nil
}

func (v *ConversationView) complete(h msgsync.Handle, sm model.ServerMessage, err error) {
	if err != nil {
		logger.Warn("[View] send failed", zap.Int64("conversation", v.id), zap.Int64("handle", int64(h)), zap.Error(err))
		if ferr := v.sync.ReconcileSendFailure(h); ferr != nil {
			logger.Debug("[View] failure for unknown handle", zap.Error(ferr))
		}
		return
	}
	if rerr := v.sync.ReconcileSend(h, sm); rerr != nil {
		logger.Warn("[View] reconcile failed", zap.Int64("conversation", v.id), zap.Error(rerr))
		_ = v.sync.ReconcileSendFailure(h)
		return
	}
	v.mu.Lock()
	delete(v.drafts, h)
	v.mu.Unlock()
}

// Retry sends a failed message again as a new pending entry. The failed row stays
// until it is discarded.
func (v *ConversationView) Retry(h msgsync.Handle) (msgsync.Handle, error) {
	msg, ok := v.sync.Pending(h)
	if !ok || !msg.Failed {
		return 0, errs.ErrArgs.WrapMsg("not a failed message", "handle", int64(h))
	}
	v.mu.Lock()
	draft, ok := v.drafts[h]
	v.mu.Unlock()
	if !ok {
		return 0, errs.ErrArgs.WrapMsg("draft not kept", "handle", int64(h))
	}
	return v.Send(draft)
}

// Discard removes a pending (normally failed) message.
func (v *ConversationView) Discard(h msgsync.Handle) error {
	if err := v.sync.Discard(h); err != nil {
		return err
	}
	v.mu.Lock()
	delete(v.drafts, h)
	v.mu.Unlock()
	return nil
}

// Refresh asks for an immediate fetch.
func (v *ConversationView) Refresh() { v.feed.Poll() }

func (v *ConversationView) Messages() []model.Message { return v.sync.Messages() }

func (v *ConversationView) Cursor() int64 { return v.sync.Cursor() }

func (v *ConversationView) Typing() []string { return v.tracker.Typing() }

func (v *ConversationView) Synchronizer() *msgsync.Synchronizer { return v.sync }

func (v *ConversationView) ingest(batch []model.ServerMessage) {
	v.mu.Lock()
	stopped := v.stopped
	v.mu.Unlock()
	if stopped {
		return
	}
	v.sync.Ingest(batch)
}
