package transport

import (
	"context"
	"time"

	"ChatSync/service/api"

	"github.com/benbjohnson/clock"
)

// FetchAPI is the message fetch endpoint.
type FetchAPI interface {
	Fetch(ctx context.Context, conversationID, lastID int64) (api.FetchResult, error)
}

type FeedOptions struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	Clock          clock.Clock
	// Gate, when set, is consulted before each request; false skips the tick.
	Gate func() bool
}

// MessageFeed is the pull path of one conversation: it fetches messages newer than
// the cursor every Interval and emits them with the conversation's typing map.
type MessageFeed struct {
	conversationID int64
	poller         *Poller
}

func NewMessageFeed(fetcher FetchAPI, conversationID int64, cursor func() int64, emit Emit, opts FeedOptions) *MessageFeed {
	if opts.Interval <= 0 {
		opts.Interval = DefaultMessageInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	f := &MessageFeed{conversationID: conversationID}
	f.poller = NewPoller("messages", opts.Interval, func(ctx context.Context) {
		if opts.Gate != nil && !opts.Gate() {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
		defer cancel()
		res, err := fetcher.Fetch(ctx, conversationID, cursor())
		if err != nil {
			if ctx.Err() == nil {
				logPollError("messages", err)
			}
			return
		}
		if len(res.Messages) > 0 {
			emit(MessagesEvent{ConversationID: conversationID, Messages: res.Messages, Source: KindPull})
		}
		if len(res.Typing) > 0 {
			emit(TypingSnapshotEvent{ConversationID: conversationID, Typing: res.Typing})
		}
	}, opts.Clock)
	return f
}

// Start loads immediately, then polls.
func (f *MessageFeed) Start() {
	f.poller.Start()
	f.poller.Kick()
}

// Poll requests one extra fetch now, unless one is already in flight.
func (f *MessageFeed) Poll() { f.poller.Kick() }

func (f *MessageFeed) Stop() { f.poller.Stop() }

func (f *MessageFeed) Poller() *Poller { return f.poller }
