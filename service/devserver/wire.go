package devserver

import (
	"encoding/json"

	"ChatSync/module/chat/model"
	"ChatSync/service/transport"
)

// Timestamp shapes of the web backend: isoformat() on compose responses and
// push frames, '%Y-%m-%d %H:%M:%S' on the fetch endpoint.
const (
	isoLayout  = "2006-01-02T15:04:05.999999"
	listLayout = "2006-01-02 15:04:05"
)

type wireMessage struct {
	ID             int64   `json:"id"`
	ConversationID int64   `json:"conversation_id"`
	Sender         string  `json:"sender"`
	Content        *string `json:"content"`
	MessageType    string  `json:"message_type"`
	MediaURL       *string `json:"media_url"`
	SentAt         string  `json:"sent_at"`
	IsRead         bool    `json:"is_read"`
	ClientToken    string  `json:"client_token,omitempty"`
}

func toWire(m model.ServerMessage, layout string) wireMessage {
	return wireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Content:        m.Content,
		MessageType:    m.MessageType,
		MediaURL:       m.MediaURL,
		SentAt:         m.SentAt.UTC().Format(layout),
		IsRead:         m.IsRead,
		ClientToken:    m.ClientToken,
	}
}

func toWireList(ms []model.ServerMessage, layout string) []wireMessage {
	out := make([]wireMessage, 0, len(ms))
	for _, m := range ms {
		out = append(out, toWire(m, layout))
	}
	return out
}

type composeBody struct {
	Success bool         `json:"success"`
	Message *wireMessage `json:"message,omitempty"`
	Errors  any          `json:"errors,omitempty"`
}

type fetchBody struct {
	Messages []wireMessage   `json:"messages"`
	Typing   map[string]bool `json:"typing"`
}

type typingBody struct {
	ConversationID int64 `json:"conversation_id"`
	IsTyping       bool  `json:"is_typing"`
}

// ===== push frames =====

type newMessageFrame struct {
	Type           string      `json:"type"`
	Sender         string      `json:"sender"`
	UnreadCount    int         `json:"unread_count"`
	ConversationID int64       `json:"conversation_id"`
	Message        wireMessage `json:"message"`
}

type typingFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type paymentFrame struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

type profileViewFrame struct {
	Type  string `json:"type"`
	Views int    `json:"views"`
}

type bareFrame struct {
	Type string `json:"type"`
}

func notificationFrame(n model.Notification) ([]byte, bool) {
	var v any
	switch x := n.(type) {
	case model.NewBooking:
		v = bareFrame{Type: transport.FrameNewBooking}
	case model.PaymentReceived:
		v = paymentFrame{Type: transport.FramePaymentReceived, Amount: x.Amount}
	case model.ProfileView:
		v = profileViewFrame{Type: transport.FrameProfileView, Views: x.Views}
	default:
		return nil, false
	}
	b, err := json.Marshal(v)
	return b, err == nil
}
