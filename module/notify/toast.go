package notify

import (
	"strconv"
	"time"

	"ChatSync/module/chat/model"
)

const DefaultToastLifetime = 5000 * time.Millisecond

// deep links
const (
	LinkInbox    = "/inbox/"
	LinkBookings = "/bookings/"
	LinkWallet   = "/wallet/"
	LinkProfile  = "/profile/"
)

// Toast 是应用内通知条。
type Toast struct {
	ID        uint64
	Kind      model.NotificationKind
	Text      string
	Link      string
	CreatedAt time.Time
}

// Render returns the user-facing text and deep link for n. ok is false for kinds
// that never produce a toast or native notification.
func Render(n model.Notification) (text, link string, ok bool) {
	switch v := n.(type) {
	case model.NewMessage:
		return "New message from " + v.Sender, LinkInbox, true
	case *model.NewMessage:
		return Render(*v)
	case model.NewBooking, *model.NewBooking:
		return "New booking request", LinkBookings, true
	case model.PaymentReceived:
		return "Payment received: KES " + strconv.FormatFloat(v.Amount, 'f', -1, 64), LinkWallet, true
	case *model.PaymentReceived:
		return Render(*v)
	case model.ProfileView:
		return "Your profile has " + strconv.Itoa(v.Views) + " views", LinkProfile, true
	case *model.ProfileView:
		return Render(*v)
	}
	return "", "", false
}
