package devserver

import (
	"context"
	"testing"
	"time"

	"ChatSync/module/chat/model"
	"ChatSync/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendText(t *testing.T, st *Store, alloc IDAllocator, convID int64, sender, text, token string) (model.ServerMessage, bool) {
	t.Helper()
	m, dup, err := st.Append(model.ServerMessage{
		ConversationID: convID,
		Sender:         sender,
		Content:        model.StringPtr(text),
		MessageType:    model.MessageTypeText,
		SentAt:         time.Now(),
		ClientToken:    token,
	}, func(floor int64) (int64, error) { return alloc.Next(context.Background(), convID, floor) })
	require.NoError(t, err)
	return m, dup
}

func TestStoreAppendIsIdempotentPerSenderToken(t *testing.T) {
	st := NewStore()
	alloc := NewMemAllocator()
	conv := st.CreateConversation("alice", "bob")

	first, dup := appendText(t, st, alloc, conv, "alice", "hi", "ct-1")
	assert.False(t, dup)
	assert.Equal(t, int64(1), first.ID)

	again, dup := appendText(t, st, alloc, conv, "alice", "hi", "ct-1")
	assert.True(t, dup)
	assert.Equal(t, first.ID, again.ID)

	other, dup := appendText(t, st, alloc, conv, "bob", "hi", "ct-1")
	assert.False(t, dup, "tokens are scoped to the sender")
	assert.Equal(t, int64(2), other.ID)

	msgs, err := st.Since(conv, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestStoreSinceMarksReadAndClearsUnread(t *testing.T) {
	st := NewStore()
	alloc := NewMemAllocator()
	conv := st.CreateConversation("alice", "bob")
	for i := 0; i < 3; i++ {
		appendText(t, st, alloc, conv, "bob", "ping", "")
	}
	assert.Equal(t, 3, st.Unread("alice"))
	assert.Equal(t, 0, st.Unread("bob"))

	msgs, err := st.Since(conv, "alice", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].ID)
	assert.Equal(t, int64(3), msgs[1].ID)
	assert.True(t, msgs[0].IsRead)
	assert.Equal(t, 0, st.Unread("alice"))

	none, err := st.Since(conv, "alice", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreTypingAndSummary(t *testing.T) {
	st := NewStore()
	conv := st.CreateConversation("alice", "bob", "carol")

	require.NoError(t, st.SetTyping(conv, "bob", true))
	assert.Equal(t, map[string]bool{"bob": true, "carol": false}, st.Typing(conv, "alice"))
	assert.True(t, errs.ErrArgs.Is(st.SetTyping(conv, "mallory", true)))
	assert.True(t, errs.ErrRecordNotFound.Is(st.SetTyping(99, "bob", true)))

	st.AddBooking("alice")
	st.AddPayment("alice")
	st.AddPayment("alice")
	appendText(t, st, NewMemAllocator(), conv, "bob", "x", "")
	assert.Equal(t, model.UpdatesSummary{
		UnreadMessages:      1,
		PendingBookings:     1,
		PendingTransactions: 2,
		Total:               4,
	}, st.Summary("alice"))
}

func TestStoreRejectsUnknownConversationAndBackwardsIDs(t *testing.T) {
	st := NewStore()
	_, _, err := st.Append(model.ServerMessage{ConversationID: 5, Sender: "a"}, func(int64) (int64, error) { return 1, nil })
	assert.True(t, errs.ErrRecordNotFound.Is(err))

	conv := st.CreateConversation("a", "b")
	appendText(t, st, NewMemAllocator(), conv, "a", "one", "")
	_, _, err = st.Append(model.ServerMessage{ConversationID: conv, Sender: "a"}, func(int64) (int64, error) { return 1, nil })
	assert.True(t, errs.ErrInternalServer.Is(err))
}

func TestMemAllocatorHonoursFloor(t *testing.T) {
	a := NewMemAllocator()
	ctx := context.Background()
	id, _ := a.Next(ctx, 1, 0)
	assert.Equal(t, int64(1), id)
	id, _ = a.Next(ctx, 1, 10)
	assert.Equal(t, int64(11), id)
	id, _ = a.Next(ctx, 2, 0)
	assert.Equal(t, int64(1), id, "counters are per conversation")
}
