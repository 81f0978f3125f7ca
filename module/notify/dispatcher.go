package notify

import (
	"strconv"
	"sync"
	"time"

	"ChatSync/logger"
	"ChatSync/module/chat/model"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const DefaultAppName = "ConnectPro"

// Renderer receives UI changes. Calls go through the Dispatcher's executor, so with
// the event loop as executor they never run concurrently.
type Renderer interface {
	OnNotification(n model.Notification)
	OnToastShown(t Toast)
	OnToastDismissed(id uint64)
	OnUnreadChanged(count int, title string)
	OnProfileViews(views int)
}

type Options struct {
	AppName       string
	ToastLifetime time.Duration
	Native        Native
	Clock         clock.Clock
	// Executor runs render callbacks; nil runs them inline.
	Executor func(func())
}

// Dispatcher routes notification events to native notifications or toasts and
// owns the unread counter.
type Dispatcher struct {
	mu sync.Mutex

	appName  string
	lifetime time.Duration
	native   Native
	clock    clock.Clock
	exec     func(func())
	r        Renderer

	nextID  uint64
	toasts  []Toast
	timers  map[uint64]*clock.Timer
	unread  int
	stopped bool
}

func NewDispatcher(r Renderer, opts Options) *Dispatcher {
	d := &Dispatcher{
		appName:  opts.AppName,
		lifetime: opts.ToastLifetime,
		native:   opts.Native,
		clock:    opts.Clock,
		exec:     opts.Executor,
		r:        r,
		timers:   make(map[uint64]*clock.Timer),
	}
	if d.appName == "" {
		d.appName = DefaultAppName
	}
	if d.lifetime <= 0 {
		d.lifetime = DefaultToastLifetime
	}
	if d.clock == nil {
		d.clock = clock.New()
	}
	if d.exec == nil {
		d.exec = func(f func()) { f() }
	}
	if d.r == nil {
		d.r = RendererFuncs{}
	}
	return d
}

// Dispatch handles one notification event.
func (d *Dispatcher) Dispatch(n model.Notification) {
	if n == nil {
		return
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.exec(func() { d.r.OnNotification(n) })

	switch v := n.(type) {
	case model.ProfileView:
		d.exec(func() { d.r.OnProfileViews(v.Views) })
	case *model.ProfileView:
		d.exec(func() { d.r.OnProfileViews(v.Views) })
	case model.NewMessage:
		d.setUnread(v.UnreadCount)
	case *model.NewMessage:
		d.setUnread(v.UnreadCount)
	}

	text, link, ok := Render(n)
	if !ok {
		logger.Warn("[Notify] unknown notification kind", zap.Stringer("kind", n.Kind()))
		return
	}
	if d.native != nil {
		err := d.native.Push(d.appName, text, link)
		if err == nil {
			return
		}
		logger.Warn("[Notify] native failed, falling back to toast", zap.Error(err))
	}
	d.showToast(n.Kind(), text, link)
}

// ApplyUpdates applies a polled updates summary. The counter only moves when the
// server reports unread messages.
func (d *Dispatcher) ApplyUpdates(s model.UpdatesSummary) {
	if s.UnreadMessages > 0 {
		d.setUnread(s.UnreadMessages)
	}
}

// Dismiss closes toast id early. It reports false if the toast is already gone.
func (d *Dispatcher) Dismiss(id uint64) bool {
	d.mu.Lock()
	if !d.removeLocked(id) {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	d.exec(func() { d.r.OnToastDismissed(id) })
	return true
}

// Stop cancels all toast timers. It is safe to call more than once.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.toasts = nil
}

func (d *Dispatcher) UnreadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread
}

// Title is the window title for the current unread count.
func (d *Dispatcher) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.titleLocked()
}

// Toasts returns the visible toasts in arrival order.
func (d *Dispatcher) Toasts() []Toast {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Toast(nil), d.toasts...)
}

func (d *Dispatcher) titleLocked() string {
	if d.unread > 0 {
		return "(" + strconv.Itoa(d.unread) + ") " + d.appName
	}
	return d.appName
}

// setUnread takes the server's value as is.
func (d *Dispatcher) setUnread(count int) {
	if count < 0 {
		count = 0
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.unread = count
	title := d.titleLocked()
	d.mu.Unlock()

	d.exec(func() { d.r.OnUnreadChanged(count, title) })
}

func (d *Dispatcher) showToast(kind model.NotificationKind, text, link string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.nextID++
	t := Toast{ID: d.nextID, Kind: kind, Text: text, Link: link, CreatedAt: d.clock.Now()}
	d.toasts = append(d.toasts, t)
	id := t.ID
	d.timers[id] = d.clock.AfterFunc(d.lifetime, func() { d.expire(id) })
	d.mu.Unlock()

	d.exec(func() { d.r.OnToastShown(t) })
}

func (d *Dispatcher) expire(id uint64) {
	d.mu.Lock()
	if d.stopped || !d.removeLocked(id) {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.exec(func() { d.r.OnToastDismissed(id) })
}

func (d *Dispatcher) removeLocked(id uint64) bool {
	for i, t := range d.toasts {
		if t.ID == id {
			d.toasts = append(d.toasts[:i], d.toasts[i+1:]...)
			if tm, ok := d.timers[id]; ok {
				tm.Stop()
				delete(d.timers, id)
			}
			return true
		}
	}
	return false
}

// RendererFuncs adapts optional functions to Renderer.
type RendererFuncs struct {
	Notification  func(n model.Notification)
	ToastShown    func(t Toast)
	ToastDismiss  func(id uint64)
	UnreadChanged func(count int, title string)
	ProfileViews  func(views int)
}

func (f RendererFuncs) OnNotification(n model.Notification) {
	if f.Notification != nil {
		f.Notification(n)
	}
}

func (f RendererFuncs) OnToastShown(t Toast) {
	if f.ToastShown != nil {
		f.ToastShown(t)
	}
}

func (f RendererFuncs) OnToastDismissed(id uint64) {
	if f.ToastDismiss != nil {
		f.ToastDismiss(id)
	}
}

func (f RendererFuncs) OnUnreadChanged(count int, title string) {
	if f.UnreadChanged != nil {
		f.UnreadChanged(count, title)
	}
}

func (f RendererFuncs) OnProfileViews(views int) {
	if f.ProfileViews != nil {
		f.ProfileViews(views)
	}
}
