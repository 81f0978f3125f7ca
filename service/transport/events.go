package transport

import "ChatSync/module/chat/model"

// State of a transport or of the whole connection (see Controller).
type State int

const (
	Connecting State = iota
	Open
	Closed
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	case Reconnecting:
		return "Reconnecting"
	}
	return "Unknown"
}

// Kind names a delivery strategy.
type Kind int

const (
	KindNone Kind = iota
	KindPush
	KindPull
)

func (k Kind) String() string {
	switch k {
	case KindPush:
		return "push"
	case KindPull:
		return "pull"
	}
	return "none"
}

// InboundEvent is the union every strategy delivers: MessagesEvent, TypingEvent,
// TypingSnapshotEvent, NotificationEvent, UpdatesEvent, StateEvent or ClosedEvent.
type InboundEvent interface {
	inbound()
}

// Emit receives inbound events. Implementations must not block.
type Emit func(InboundEvent)

// MessagesEvent carries server messages for one conversation.
type MessagesEvent struct {
	ConversationID int64
	Messages       []model.ServerMessage
	Source         Kind
}

type TypingEvent struct {
	ConversationID int64
	UserID         string
	IsTyping       bool
}

// TypingSnapshotEvent is the whole typing map of a conversation, as returned by
// the fetch endpoint.
type TypingSnapshotEvent struct {
	ConversationID int64
	Typing         map[string]bool
}

type NotificationEvent struct {
	Notification model.Notification
}

type UpdatesEvent struct {
	Summary model.UpdatesSummary
}

// StateEvent is published by the Controller on every connection state change.
type StateEvent struct {
	State     State
	Attempt   int
	Transport Kind
	Err       error
}

// ClosedEvent is published by a strategy whose connection ended without Close
// being called.
type ClosedEvent struct {
	Transport Kind
	Err       error
}

func (MessagesEvent) inbound()       {}
func (TypingEvent) inbound()         {}
func (TypingSnapshotEvent) inbound() {}
func (NotificationEvent) inbound()   {}
func (UpdatesEvent) inbound()        {}
func (StateEvent) inbound()          {}
func (ClosedEvent) inbound()         {}

// OutboundEvent is anything the client sends over the channel.
type OutboundEvent interface {
	outbound()
}

type TypingSignal struct {
	ConversationID int64
	IsTyping       bool
}

func (TypingSignal) outbound() {}
