package session

import (
	"ChatSync/module/chat/model"
	"ChatSync/module/chat/msgsync"
	"ChatSync/module/notify"
	"ChatSync/service/transport"
)

// Renderer is the UI. Every call is made on the session's event loop, one at a
// time.
type Renderer interface {
	notify.Renderer

	OnMessageAppended(conversationID int64, msg model.Message)
	OnMessageReconciled(conversationID int64, h msgsync.Handle, msg model.Message)
	OnMessageFailed(conversationID int64, h msgsync.Handle, msg model.Message)
	OnMessageDiscarded(conversationID int64, h msgsync.Handle)
	OnTypingChanged(conversationID int64, userID string, isTyping bool)
	OnStateChanged(ev transport.StateEvent)
	// OnReload: every view was torn down and reopened from an empty state.
	OnReload()
}

// NopRenderer ignores everything; embed it to implement only some callbacks.
type NopRenderer struct{}

func (NopRenderer) OnNotification(model.Notification) {}
func (NopRenderer) OnToastShown(notify.Toast) {}
func (NopRenderer) OnToastDismissed(uint64) {}
func (NopRenderer) OnUnreadChanged(int, string) {}
func (NopRenderer) OnProfileViews(int) {}
func (NopRenderer) OnMessageAppended(int64, model.Message) {}
func (NopRenderer) OnMessageReconciled(int64, msgsync.Handle, model.Message) {}
func (NopRenderer) OnMessageFailed(int64, msgsync.Handle, model.Message) {}
func (NopRenderer) OnMessageDiscarded(int64, msgsync.Handle) {}
func (NopRenderer) OnTypingChanged(int64, string, bool) {}
func (NopRenderer) OnStateChanged(transport.StateEvent) {}
func (NopRenderer) OnReload() {}

// viewObserver forwards synchronizer changes to the renderer through the loop.
type viewObserver struct {
	id   int64
	post func(func())
	r    Renderer
}

func (o viewObserver) OnMessageAppended(msg model.Message) {
	o.post(func() { o.r.OnMessageAppended(o.id, msg) })
}

func (o viewObserver) OnMessageReconciled(h msgsync.Handle, msg model.Message) {
	o.post(func() { o.r.OnMessageReconciled(o.id, h, msg) })
}

func (o viewObserver) OnMessageFailed(h msgsync.Handle, msg model.Message) {
	o.post(func() { o.r.OnMessageFailed(o.id, h, msg) })
}

func (o viewObserver) OnMessageDiscarded(h msgsync.Handle) {
	o.post(func() { o.r.OnMessageDiscarded(o.id, h) })
}
