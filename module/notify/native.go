package notify

import (
	"time"

	"ChatSync/logger"
	"ChatSync/tools/errs"

	xnotify "gioui.org/x/notify"
	"go.uber.org/zap"
)

// Native shows an OS-level notification. A nil Native means permission was not
// granted and every notification falls back to a toast.
type Native interface {
	Push(title, text, link string) error
}

// DesktopNotifier posts through the platform notification service and cancels the
// notification after Timeout.
type DesktopNotifier struct {
	Timeout time.Duration
}

func NewDesktopNotifier(timeout time.Duration) *DesktopNotifier {
	return &DesktopNotifier{Timeout: timeout}
}

// Push posts the notification. x/notify has no click actions, so the deep link
// rides in the body where the user can open it.
func (d *DesktopNotifier) Push(title, text, link string) error {
	n, err := xnotify.Push(title, nativeBody(text, link))
	if err != nil {
		return errs.WrapMsg(err, "native notification failed", "title", title)
	}
	logger.Debug("[Notify] native notification", zap.String("text", text), zap.String("link", link))
	if d.Timeout > 0 {
		go func() {
			<-time.After(d.Timeout)
			_ = n.Cancel()
		}()
	}
	return nil
}

func nativeBody(text, link string) string {
	if link == "" {
		return text
	}
	return text + "\n" + link
}

// NativeFunc adapts a function to Native.
type NativeFunc func(title, text, link string) error

func (f NativeFunc) Push(title, text, link string) error { return f(title, text, link) }
