package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ChatSync/module/chat/model"
	"ChatSync/service/api"
	"ChatSync/tools/errs"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      sync.Mutex
	typing  []TypingSignal
	updates model.UpdatesSummary
	fail    bool

	lastIDs []int64
	fetch   func(lastID int64) (api.FetchResult, error)
}

func (f *fakeAPI) Updates(context.Context) (model.UpdatesSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return model.UpdatesSummary{}, errs.ErrTransport.WrapMsg("down")
	}
	return f.updates, nil
}

func (f *fakeAPI) SetTyping(_ context.Context, id int64, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, TypingSignal{ConversationID: id, IsTyping: v})
	if f.fail {
		return errors.New("down")
	}
	return nil
}

func (f *fakeAPI) Fetch(_ context.Context, _ int64, lastID int64) (api.FetchResult, error) {
	f.mu.Lock()
	f.lastIDs = append(f.lastIDs, lastID)
	fn := f.fetch
	f.mu.Unlock()
	return fn(lastID)
}

func (f *fakeAPI) typingSignals() []TypingSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TypingSignal(nil), f.typing...)
}

func TestPullPollsUpdatesAndSendsTypingInOrder(t *testing.T) {
	mock := clock.NewMock()
	fa := &fakeAPI{updates: model.UpdatesSummary{UnreadMessages: 2, Total: 2}}
	p := NewPull(fa, PullOptions{Clock: mock})
	emit, events := collect()

	assert.True(t, errs.ErrTransportNotOpen.Is(p.Send(TypingSignal{ConversationID: 1, IsTyping: true})))
	require.NoError(t, p.Connect(context.Background(), emit))
	defer p.Close()
	assert.Equal(t, Open, p.State())

	mock.Add(DefaultUpdatesInterval)
	assert.Equal(t, UpdatesEvent{Summary: fa.updates}, next(t, events))

	require.NoError(t, p.Send(TypingSignal{ConversationID: 1, IsTyping: true}))
	require.NoError(t, p.Send(TypingSignal{ConversationID: 1, IsTyping: false}))
	assert.Eventually(t, func() bool { return len(fa.typingSignals()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []TypingSignal{{1, true}, {1, false}}, fa.typingSignals())
}

func TestPullSwallowsFailures(t *testing.T) {
	mock := clock.NewMock()
	fa := &fakeAPI{fail: true}
	p := NewPull(fa, PullOptions{Clock: mock})
	emit, events := collect()
	require.NoError(t, p.Connect(context.Background(), emit))

	mock.Add(DefaultUpdatesInterval)
	require.NoError(t, p.Send(TypingSignal{ConversationID: 3, IsTyping: true}))
	assert.Eventually(t, func() bool { return len(fa.typingSignals()) == 1 }, time.Second, time.Millisecond)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, errs.ErrTransportNotOpen.Is(p.Send(TypingSignal{ConversationID: 3})))
}

func TestMessageFeedCarriesCursorAndTyping(t *testing.T) {
	mock := clock.NewMock()
	var cursor int64
	var mu sync.Mutex
	fa := &fakeAPI{fetch: func(lastID int64) (api.FetchResult, error) {
		if lastID == 0 {
			return api.FetchResult{
				Messages: []model.ServerMessage{{ID: 1}, {ID: 2}},
				Typing:   map[string]bool{"bob": false},
			}, nil
		}
		return api.FetchResult{Typing: map[string]bool{"bob": true}}, nil
	}}
	emit, events := collect()
	feed := NewMessageFeed(fa, 8, func() int64 { mu.Lock(); defer mu.Unlock(); return cursor }, emit, FeedOptions{Clock: mock})
	feed.Start()
	defer feed.Stop()

	me := next(t, events).(MessagesEvent)
	assert.Equal(t, int64(8), me.ConversationID)
	assert.Equal(t, KindPull, me.Source)
	assert.Len(t, me.Messages, 2)
	assert.Equal(t, TypingSnapshotEvent{ConversationID: 8, Typing: map[string]bool{"bob": false}}, next(t, events))

	mu.Lock()
	cursor = 2
	mu.Unlock()
	require.Eventually(t, func() bool { return !feed.Poller().InFlight() }, time.Second, time.Millisecond)
	mock.Add(DefaultMessageInterval)
	assert.Equal(t, TypingSnapshotEvent{ConversationID: 8, Typing: map[string]bool{"bob": true}}, next(t, events))

	fa.mu.Lock()
	assert.Equal(t, []int64{0, 2}, fa.lastIDs)
	fa.mu.Unlock()
}

func TestMessageFeedGate(t *testing.T) {
	mock := clock.NewMock()
	fa := &fakeAPI{fetch: func(int64) (api.FetchResult, error) { return api.FetchResult{}, nil }}
	emit, _ := collect()
	feed := NewMessageFeed(fa, 1, func() int64 { return 0 }, emit, FeedOptions{Clock: mock, Gate: func() bool { return false }})
	feed.Start()
	defer feed.Stop()

	require.Eventually(t, func() bool { return feed.Poller().Calls() == 1 && !feed.Poller().InFlight() }, time.Second, time.Millisecond)
	fa.mu.Lock()
	assert.Empty(t, fa.lastIDs)
	fa.mu.Unlock()
}
