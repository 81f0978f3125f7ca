package devserver

import (
	"sort"
	"strconv"
	"sync"

	"ChatSync/module/chat/model"
	"ChatSync/tools/errs"
)

type conversation struct {
	id           int64
	participants []string
	messages     []model.ServerMessage // ascending id
	typing       map[string]bool
}

// Store is the in-memory backing store of the dev server. Messages are unique per
// (conversation, sender, client_token), so a retried compose returns the message
// that was already stored.
type Store struct {
	mu       sync.RWMutex
	convs    map[int64]*conversation
	byToken  map[string]int64 // conv|sender|token -> message id
	unread   map[string]map[int64]int
	bookings map[string]int
	payments map[string]int
	nextConv int64
}

func NewStore() *Store {
	return &Store{
		convs:    make(map[int64]*conversation),
		byToken:  make(map[string]int64),
		unread:   make(map[string]map[int64]int),
		bookings: make(map[string]int),
		payments: make(map[string]int),
	}
}

func keyToken(convID int64, sender, token string) string {
	return strconv.FormatInt(convID, 10) + "|" + sender + "|" + token
}

// CreateConversation registers a conversation between participants and returns its id.
func (st *Store) CreateConversation(participants ...string) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextConv++
	c := &conversation{
		id:           st.nextConv,
		participants: append([]string(nil), participants...),
		typing:       make(map[string]bool),
	}
	st.convs[c.id] = c
	return c.id
}

func (st *Store) conv(convID int64) (*conversation, error) {
	c, ok := st.convs[convID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("conversation not found", "conversation", convID)
	}
	return c, nil
}

func (c *conversation) has(user string) bool {
	for _, p := range c.participants {
		if p == user {
			return true
		}
	}
	return false
}

// Participants returns the members of a conversation.
func (st *Store) Participants(convID int64) ([]string, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	c, err := st.conv(convID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), c.participants...), nil
}

func (st *Store) IsParticipant(convID int64, user string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	c, err := st.conv(convID)
	return err == nil && c.has(user)
}

// Append stores msg under an id from alloc. alloc runs under the store lock so ids
// become visible to Since in the order they were handed out. dup is true when the
// (sender, client_token) pair was seen before; the stored message is returned.
func (st *Store) Append(msg model.ServerMessage, alloc func(floor int64) (int64, error)) (stored model.ServerMessage, dup bool, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	c, err := st.conv(msg.ConversationID)
	if err != nil {
		return model.ServerMessage{}, false, err
	}
	if msg.ClientToken != "" {
		if id, ok := st.byToken[keyToken(c.id, msg.Sender, msg.ClientToken)]; ok {
			if m, found := c.find(id); found {
				return m, true, nil
			}
		}
	}

	var floor int64
	if n := len(c.messages); n > 0 {
		floor = c.messages[n-1].ID
	}
	id, err := alloc(floor)
	if err != nil {
		return model.ServerMessage{}, false, err
	}
	if id <= floor {
		return model.ServerMessage{}, false, errs.ErrInternalServer.WrapMsg("allocator went backwards", "id", id, "floor", floor)
	}
	msg.ID = id
	c.messages = append(c.messages, msg)
	if msg.ClientToken != "" {
		st.byToken[keyToken(c.id, msg.Sender, msg.ClientToken)] = id
	}
	for _, p := range c.participants {
		if p == msg.Sender {
			continue
		}
		if st.unread[p] == nil {
			st.unread[p] = make(map[int64]int)
		}
		st.unread[p][c.id]++
	}
	return msg, false, nil
}

func (c *conversation) find(id int64) (model.ServerMessage, bool) {
	i := sort.Search(len(c.messages), func(i int) bool { return c.messages[i].ID >= id })
	if i < len(c.messages) && c.messages[i].ID == id {
		return c.messages[i], true
	}
	return model.ServerMessage{}, false
}

// Since returns the messages with id > lastID and marks the ones addressed to
// reader as read.
func (st *Store) Since(convID int64, reader string, lastID int64) ([]model.ServerMessage, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, err := st.conv(convID)
	if err != nil {
		return nil, err
	}
	for i := range c.messages {
		if c.messages[i].Sender != reader {
			c.messages[i].IsRead = true
		}
	}
	if m := st.unread[reader]; m != nil {
		delete(m, convID)
	}

	i := sort.Search(len(c.messages), func(i int) bool { return c.messages[i].ID > lastID })
	return append([]model.ServerMessage(nil), c.messages[i:]...), nil
}

// SetTyping records whether user is typing in a conversation.
func (st *Store) SetTyping(convID int64, user string, isTyping bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, err := st.conv(convID)
	if err != nil {
		return err
	}
	if !c.has(user) {
		return errs.ErrArgs.WrapMsg("not a participant", "conversation", convID, "user", user)
	}
	c.typing[user] = isTyping
	return nil
}

// Typing returns the typing state of every participant other than reader.
func (st *Store) Typing(convID int64, reader string) map[string]bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]bool)
	c, err := st.conv(convID)
	if err != nil {
		return out
	}
	for _, p := range c.participants {
		if p != reader {
			out[p] = c.typing[p]
		}
	}
	return out
}

// Unread is the number of unread messages of user across conversations.
func (st *Store) Unread(user string) int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	n := 0
	for _, v := range st.unread[user] {
		n += v
	}
	return n
}

func (st *Store) AddBooking(user string) {
	st.mu.Lock()
	st.bookings[user]++
	st.mu.Unlock()
}

func (st *Store) AddPayment(user string) {
	st.mu.Lock()
	st.payments[user]++
	st.mu.Unlock()
}

// Summary is the body of the updates endpoint.
func (st *Store) Summary(user string) model.UpdatesSummary {
	unread := st.Unread(user)
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := model.UpdatesSummary{
		UnreadMessages:      unread,
		PendingBookings:     st.bookings[user],
		PendingTransactions: st.payments[user],
	}
	out.Total = out.UnreadMessages + out.PendingBookings + out.PendingTransactions
	return out
}
