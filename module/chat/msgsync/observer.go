package msgsync

import "ChatSync/module/chat/model"

type NopObserver struct{}

func (NopObserver) OnMessageAppended(model.Message)           {}
func (NopObserver) OnMessageReconciled(Handle, model.Message) {}
func (NopObserver) OnMessageFailed(Handle, model.Message)     {}
func (NopObserver) OnMessageDiscarded(Handle)                 {}

// ObserverFuncs adapts plain funcs; nil fields are ignored.
type ObserverFuncs struct {
	Appended   func(model.Message)
	Reconciled func(Handle, model.Message)
	Failed     func(Handle, model.Message)
	Discarded  func(Handle)
}

func (o ObserverFuncs) OnMessageAppended(m model.Message) {
	if o.Appended != nil {
		o.Appended(m)
	}
}

func (o ObserverFuncs) OnMessageReconciled(h Handle, m model.Message) {
	if o.Reconciled != nil {
		o.Reconciled(h, m)
	}
}

func (o ObserverFuncs) OnMessageFailed(h Handle, m model.Message) {
	if o.Failed != nil {
		o.Failed(h, m)
	}
}

func (o ObserverFuncs) OnMessageDiscarded(h Handle) {
	if o.Discarded != nil {
		o.Discarded(h)
	}
}
