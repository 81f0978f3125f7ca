package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"ChatSync/module/chat/model"
	"ChatSync/module/chat/msgsync"
	"ChatSync/module/notify"
	"ChatSync/service/session"
	"ChatSync/service/transport"

	"github.com/benbjohnson/clock"
	"github.com/hako/durafmt"
)

var units, _ = durafmt.UnitsCoder{PluralSep: ":", UnitsSep: ","}.Decode("y:y,w:w,d:d,h:h,m:m,s:s,ms:ms,us:us")

// ago renders ts relative to now in its largest unit ("now", "5 m", "2 h").
func ago(now, ts time.Time) string {
	d := now.Sub(ts).Truncate(time.Minute)
	if d <= 0 {
		return "now"
	}
	return durafmt.ParseShort(d).Format(units)
}

// termRenderer prints view changes as lines. The session calls it from its loop
// goroutine only; mu guards the writer against the prompt.
type termRenderer struct {
	session.NopRenderer

	mu          sync.Mutex
	out         io.Writer
	clock       clock.Clock
	self        string
	reloadDelay time.Duration
	policy      string
}

func newTermRenderer(out io.Writer, self string, reloadDelay time.Duration, policy string) *termRenderer {
	return &termRenderer{out: out, clock: clock.New(), self: self, reloadDelay: reloadDelay, policy: policy}
}

func (r *termRenderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *termRenderer) line(m model.Message) string {
	who := m.SenderID
	if who == r.self {
		who = "me"
	}
	body := m.Text()
	if m.Media != nil {
		kind := string(m.Media.Kind)
		if kind == "" {
			kind = "file"
		}
		body = strings.TrimSpace(body + " [" + kind + "] " + m.Media.URL)
	}
	switch {
	case m.Failed:
		return fmt.Sprintf("[#%d failed] %s: %s  (/retry %d, /discard %d)", -m.ID, who, body, -m.ID, -m.ID)
	case m.Origin == model.PendingLocal:
		return fmt.Sprintf("[sending] %s: %s", who, body)
	}
	return fmt.Sprintf("[%s] %s: %s", ago(r.clock.Now(), m.SentAt), who, body)
}

func (r *termRenderer) OnMessageAppended(_ int64, m model.Message) {
	r.printf("%s", r.line(m))
}

func (r *termRenderer) OnMessageReconciled(_ int64, _ msgsync.Handle, m model.Message) {
	r.printf("%s", r.line(m))
}

func (r *termRenderer) OnMessageFailed(_ int64, _ msgsync.Handle, m model.Message) {
	r.printf("%s", r.line(m))
}

func (r *termRenderer) OnMessageDiscarded(_ int64, h msgsync.Handle) {
	r.printf("[#%d discarded]", -int64(h))
}

func (r *termRenderer) OnTypingChanged(_ int64, userID string, isTyping bool) {
	if isTyping {
		r.printf("… %s is typing", userID)
	}
}

func (r *termRenderer) OnToastShown(t notify.Toast) {
	r.printf("(!) %s  %s", t.Text, t.Link)
}

func (r *termRenderer) OnUnreadChanged(count int, title string) {
	r.printf("== %s ==", title)
}

func (r *termRenderer) OnProfileViews(views int) {
	r.printf("profile views: %d", views)
}

func (r *termRenderer) OnStateChanged(ev transport.StateEvent) {
	switch ev.State {
	case transport.Open:
		r.printf("-- connected (%s)", ev.Transport)
	case transport.Closed:
		if r.policy == transport.PolicyReload {
			r.printf("-- connection lost, polling; reloading in %s", durafmt.Parse(r.reloadDelay))
			return
		}
		r.printf("-- connection lost, polling")
	case transport.Reconnecting:
		r.printf("-- reconnecting (attempt %d)", ev.Attempt)
	}
}

func (r *termRenderer) OnReload() {
	r.printf("-- reloaded")
}
