package transport

import (
	"encoding/json"
	"strings"

	"ChatSync/module/chat/model"
	"ChatSync/tools/decode"
	"ChatSync/tools/errs"
)

// push frame types
const (
	FrameNewMessage      = "new_message"
	FrameNewBooking      = "new_booking"
	FramePaymentReceived = "payment_received"
	FrameProfileView     = "profile_view"
	FrameTyping          = "typing"
)

type newMessageFrame struct {
	Sender         string               `json:"sender"`
	UnreadCount    int                  `json:"unread_count"`
	ConversationID int64                `json:"conversation_id"`
	Message        *model.ServerMessage `json:"message"`
}

type paymentFrame struct {
	Amount float64 `json:"amount"`
}

type profileViewFrame struct {
	Views int `json:"views"`
}

type typingFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

// frameType normalises "new_message", "NewMessage" and "newMessage".
func frameType(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "_", ""))
	switch s {
	case "newmessage":
		return FrameNewMessage
	case "newbooking":
		return FrameNewBooking
	case "paymentreceived":
		return FramePaymentReceived
	case "profileview":
		return FrameProfileView
	case "typing":
		return FrameTyping
	}
	return s
}

// ParseFrame turns one push frame into inbound events. A new_message frame that
// echoes the message yields both a NotificationEvent and a MessagesEvent.
func ParseFrame(data []byte) ([]InboundEvent, error) {
	m, err := decode.ParseObject(data)
	if err != nil {
		return nil, errs.ErrMalformedPayload.WrapMsg("frame is not a JSON object", "err", err.Error())
	}
	raw, err := decode.ReadString(m, "type")
	if err != nil {
		return nil, errs.ErrMalformedPayload.WrapMsg("frame without type")
	}

	switch frameType(raw) {
	case FrameNewMessage:
		f, err := decode.DecodeMap[newMessageFrame](m)
		if err != nil {
			return nil, errs.ErrMalformedPayload.WrapMsg("new_message frame", "err", err.Error())
		}
		convID := f.ConversationID
		if f.Message != nil && convID == 0 {
			convID = f.Message.ConversationID
		}
		sender := f.Sender
		if sender == "" && f.Message != nil {
			sender = f.Message.Sender
		}
		out := []InboundEvent{NotificationEvent{Notification: model.NewMessage{
			Sender:         sender,
			UnreadCount:    f.UnreadCount,
			ConversationID: convID,
			Message:        f.Message,
		}}}
		if f.Message != nil && f.Message.ID > 0 && convID != 0 {
			msg := *f.Message
			msg.ConversationID = convID
			out = append(out, MessagesEvent{ConversationID: convID, Messages: []model.ServerMessage{msg}, Source: KindPush})
		}
		return out, nil

	case FrameNewBooking:
		return []InboundEvent{NotificationEvent{Notification: model.NewBooking{}}}, nil

	case FramePaymentReceived:
		f, err := decode.DecodeMap[paymentFrame](m)
		if err != nil {
			return nil, errs.ErrMalformedPayload.WrapMsg("payment_received frame", "err", err.Error())
		}
		return []InboundEvent{NotificationEvent{Notification: model.PaymentReceived{Amount: f.Amount}}}, nil

	case FrameProfileView:
		f, err := decode.DecodeMap[profileViewFrame](m)
		if err != nil {
			return nil, errs.ErrMalformedPayload.WrapMsg("profile_view frame", "err", err.Error())
		}
		return []InboundEvent{NotificationEvent{Notification: model.ProfileView{Views: f.Views}}}, nil

	case FrameTyping:
		f, err := decode.DecodeMap[typingFrame](m)
		if err != nil || f.UserID == "" || f.ConversationID == 0 {
			return nil, errs.ErrMalformedPayload.WrapMsg("typing frame")
		}
		return []InboundEvent{TypingEvent{ConversationID: f.ConversationID, UserID: f.UserID, IsTyping: f.IsTyping}}, nil
	}
	return nil, errs.ErrMalformedPayload.WrapMsg("unknown frame type", "type", raw)
}

// EncodeFrame serialises an outbound event for the push socket.
func EncodeFrame(ev OutboundEvent) ([]byte, error) {
	switch v := ev.(type) {
	case TypingSignal:
		return json.Marshal(typingFrame{Type: FrameTyping, ConversationID: v.ConversationID, IsTyping: v.IsTyping})
	}
	return nil, errs.ErrArgs.WrapMsg("unsupported outbound event")
}

func sample(b []byte) []byte {
	if len(b) > 256 {
		return b[:256]
	}
	return b
}
