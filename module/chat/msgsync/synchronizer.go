package msgsync

import (
	"sort"
	"sync"

	"ChatSync/logger"
	"ChatSync/module/chat/model"
	"ChatSync/tools/errs"
	"ChatSync/tools/ids"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Handle identifies an optimistic (PendingLocal) row; it is the row's placeholder id.
type Handle int64

// Observer receives view changes. Calls are made after the synchronizer's lock is
// released, in the order the changes happened.
type Observer interface {
	OnMessageAppended(msg model.Message)
	// OnMessageReconciled: pending row h now holds the confirmed msg (same row).
	OnMessageReconciled(h Handle, msg model.Message)
	// OnMessageFailed: pending row h could not be sent; it stays visible.
	OnMessageFailed(h Handle, msg model.Message)
	// OnMessageDiscarded: pending row h is gone, either discarded by the user or
	// folded into a confirmed row that was already on screen.
	OnMessageDiscarded(h Handle)
}

// Synchronizer owns the ordered message view and the SyncCursor of one
// conversation. Order: confirmed rows by ascending id, then pending rows in the
// order they were appended.
type Synchronizer struct {
	mu sync.Mutex

	conversationID int64
	selfID         string
	obs            Observer
	clock          clock.Clock

	rows      []*model.Message // confirmed (sorted) + pending tail
	confirmed int              // rows[:confirmed] are Confirmed

	byID       map[int64]*model.Message
	pending    map[Handle]*model.Message
	byToken    map[string]Handle // token -> unreconciled pending row
	reconciled map[string]int64  // token -> server id of a reconciled local send
	handleIDs  map[Handle]int64  // reconciled handle -> server id

	cursor      int64 // SyncCursor: highest id applied to the view
	fetchCursor int64 // highest ingested id that is not an own send; pull low-water mark
	placeholder int64
}

type Option func(*Synchronizer)

// WithClock sets the clock used to stamp pending rows.
func WithClock(c clock.Clock) Option {
	return func(s *Synchronizer) { s.clock = c }
}

func New(conversationID int64, selfID string, obs Observer, opts ...Option) *Synchronizer {
	if obs == nil {
		obs = NopObserver{}
	}
	s := &Synchronizer{
		conversationID: conversationID,
		selfID:         selfID,
		obs:            obs,
		clock:          clock.New(),
		byID:           make(map[int64]*model.Message),
		pending:        make(map[Handle]*model.Message),
		byToken:        make(map[string]Handle),
		reconciled:     make(map[string]int64),
		handleIDs:      make(map[Handle]int64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Synchronizer) ConversationID() int64 { return s.conversationID }

// AppendLocal inserts draft at the tail as a PendingLocal row with a negative
// placeholder id and a fresh correlation token, and returns its handle.
func (s *Synchronizer) AppendLocal(draft model.Draft) (Handle, model.Message) {
	s.mu.Lock()
	s.placeholder--
	h := Handle(s.placeholder)
	msg := &model.Message{
		ID:             s.placeholder,
		ConversationID: s.conversationID,
		SenderID:       s.selfID,
		SentAt:         s.clock.Now(),
		Origin:         model.PendingLocal,
		ClientToken:    ids.CorrelationToken(),
	}
	if draft.Content != "" {
		msg.Content = model.StringPtr(draft.Content)
	}
	if draft.Media != nil {
		msg.Media = &model.Media{Kind: model.MediaKindFromMIME(draft.Media.ContentType)}
	}
	s.rows = append(s.rows, msg)
	s.pending[h] = msg
	s.byToken[msg.ClientToken] = h
	out := *msg
	s.mu.Unlock()

	s.obs.OnMessageAppended(out)
	return h, out
}

// ReconcileSend replaces pending row h with the server-confirmed message. A handle
// that was already reconciled (e.g. by a push echo) is a no-op.
func (s *Synchronizer) ReconcileSend(h Handle, sm model.ServerMessage) error {
	s.mu.Lock()
	entry, ok := s.pending[h]
	if !ok {
		_, done := s.handleIDs[h]
		s.mu.Unlock()
		if done {
			return nil
		}
		return errs.ErrArgs.WrapMsg("unknown pending handle", "handle", int64(h))
	}
	if sm.ID <= 0 {
		s.mu.Unlock()
		return errs.ErrMalformedPayload.WrapMsg("confirmed message without id", "handle", int64(h))
	}
	evs := s.reconcileLocked(h, entry, sm)
	s.mu.Unlock()

	s.emit(evs)
	return nil
}

// ReconcileSendFailure marks pending row h as failed. The row is kept so the user
// can see what failed and retry or discard it.
func (s *Synchronizer) ReconcileSendFailure(h Handle) error {
	s.mu.Lock()
	entry, ok := s.pending[h]
	if !ok {
		_, done := s.handleIDs[h]
		s.mu.Unlock()
		if done {
			// the echo won the race; the message did go through
			return nil
		}
		return errs.ErrArgs.WrapMsg("unknown pending handle", "handle", int64(h))
	}
	entry.Failed = true
	out := *entry
	s.mu.Unlock()

	s.obs.OnMessageFailed(h, out)
	return nil
}

// Discard removes a pending row, normally one that failed.
func (s *Synchronizer) Discard(h Handle) error {
	s.mu.Lock()
	entry, ok := s.pending[h]
	if !ok {
		s.mu.Unlock()
		return errs.ErrArgs.WrapMsg("unknown pending handle", "handle", int64(h))
	}
	s.removeRowLocked(entry)
	delete(s.pending, h)
	delete(s.byToken, entry.ClientToken)
	s.mu.Unlock()

	s.obs.OnMessageDiscarded(h)
	return nil
}

// Ingest applies server messages from any transport. Duplicates (by id, or by the
// token of an already reconciled local send) are skipped; a message echoing the
// token of a pending row reconciles that row instead of adding a new one. It
// returns how many messages changed the view.
func (s *Synchronizer) Ingest(batch []model.ServerMessage) int {
	if len(batch) == 0 {
		return 0
	}
	var evs []event
	applied := 0

	s.mu.Lock()
	for _, sm := range batch {
		if sm.ID <= 0 {
			logger.Warn("[Sync] drop message without id", zap.Int64("conversation", s.conversationID))
			continue
		}
		if sm.ClientToken != "" {
			if h, ok := s.byToken[sm.ClientToken]; ok {
				evs = append(evs, s.reconcileLocked(h, s.pending[h], sm)...)
				applied++
				continue
			}
		}
		if sm.ID > s.fetchCursor {
			s.fetchCursor = sm.ID
		}
		if _, ok := s.reconciled[sm.ClientToken]; sm.ClientToken != "" && ok {
			continue
		}
		if _, ok := s.byID[sm.ID]; ok {
			continue
		}
		msg := sm.ToMessage(s.conversationID)
		s.insertConfirmedLocked(&msg)
		s.advanceLocked(sm.ID)
		evs = append(evs, event{kind: evAppended, msg: msg})
		applied++
	}
	s.mu.Unlock()

	s.emit(evs)
	return applied
}

// Cursor returns the SyncCursor (highest id applied, including own sends).
func (s *Synchronizer) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// FetchCursor is the last_id to pull with. Own sends (confirmed by response or
// echo) do not move it, so they cannot hide a peer message that the server
// numbered just below them.
func (s *Synchronizer) FetchCursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCursor
}

// Messages returns a snapshot of the view in render order.
func (s *Synchronizer) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.rows))
	for i, m := range s.rows {
		out[i] = *m
	}
	return out
}

// Pending returns the pending row for h, if it is still pending.
func (s *Synchronizer) Pending(h Handle) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.pending[h]
	if !ok {
		return model.Message{}, false
	}
	return *m, true
}

func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// ---------------- 内部方法 ----------------

func (s *Synchronizer) reconcileLocked(h Handle, entry *model.Message, sm model.ServerMessage) []event {
	delete(s.pending, h)
	delete(s.byToken, entry.ClientToken)
	s.reconciled[entry.ClientToken] = sm.ID
	s.handleIDs[h] = sm.ID
	s.advanceLocked(sm.ID)

	if _, dup := s.byID[sm.ID]; dup {
		// the confirmed copy is already on screen (pulled without a token)
		s.removeRowLocked(entry)
		return []event{{kind: evDiscarded, handle: h}}
	}

	confirmed := sm.ToMessage(s.conversationID)
	if confirmed.Content == nil {
		confirmed.Content = entry.Content
	}
	if confirmed.Media == nil {
		confirmed.Media = entry.Media
	}
	if confirmed.SenderID == "" {
		confirmed.SenderID = entry.SenderID
	}
	confirmed.ClientToken = entry.ClientToken

	s.removeRowLocked(entry)
	*entry = confirmed
	s.insertConfirmedLocked(entry)
	return []event{{kind: evReconciled, handle: h, msg: confirmed}}
}

func (s *Synchronizer) advanceLocked(id int64) {
	if id > s.cursor {
		s.cursor = id
	}
}

func (s *Synchronizer) insertConfirmedLocked(m *model.Message) {
	idx := sort.Search(s.confirmed, func(i int) bool { return s.rows[i].ID > m.ID })
	s.rows = append(s.rows, nil)
	copy(s.rows[idx+1:], s.rows[idx:])
	s.rows[idx] = m
	s.confirmed++
	s.byID[m.ID] = m
}

func (s *Synchronizer) removeRowLocked(m *model.Message) {
	for i, r := range s.rows {
		if r == m {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			if i < s.confirmed {
				s.confirmed--
			}
			return
		}
	}
}

type eventKind int

const (
	evAppended eventKind = iota
	evReconciled
	evDiscarded
)

type event struct {
	kind   eventKind
	handle Handle
	msg    model.Message
}

func (s *Synchronizer) emit(evs []event) {
	for _, e := range evs {
		switch e.kind {
		case evAppended:
			s.obs.OnMessageAppended(e.msg)
		case evReconciled:
			s.obs.OnMessageReconciled(e.handle, e.msg)
		case evDiscarded:
			s.obs.OnMessageDiscarded(e.handle)
		}
	}
}
