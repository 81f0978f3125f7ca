package model

// NotificationKind 通知类型。
type NotificationKind int

const (
	KindNewMessage NotificationKind = iota + 1
	KindNewBooking
	KindPaymentReceived
	KindProfileView
)

func (k NotificationKind) String() string {
	switch k {
	case KindNewMessage:
		return "NewMessage"
	case KindNewBooking:
		return "NewBooking"
	case KindPaymentReceived:
		return "PaymentReceived"
	case KindProfileView:
		return "ProfileView"
	}
	return "Unknown"
}

// Notification is the tagged union of inbound notification events. It is consumed
// once and never stored.
type Notification interface {
	Kind() NotificationKind
}

type NewMessage struct {
	Sender         string
	UnreadCount    int
	ConversationID int64
	Message        *ServerMessage // present when the push frame echoes the message
}

type NewBooking struct{}

type PaymentReceived struct {
	Amount float64
}

type ProfileView struct {
	Views int
}

func (NewMessage) Kind() NotificationKind      { return KindNewMessage }
func (NewBooking) Kind() NotificationKind      { return KindNewBooking }
func (PaymentReceived) Kind() NotificationKind { return KindPaymentReceived }
func (ProfileView) Kind() NotificationKind     { return KindProfileView }

// UpdatesSummary 是通用更新接口（/api/updates/）的响应。
type UpdatesSummary struct {
	UnreadMessages      int `json:"unread_messages"`
	PendingBookings     int `json:"pending_bookings"`
	PendingTransactions int `json:"pending_transactions"`
	Total               int `json:"total"`
}
