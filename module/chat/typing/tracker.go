package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RemoteState is the last typing signal seen for one remote user.
type RemoteState struct {
	IsTyping     bool
	LastSignalAt time.Time
}

// ChangeFunc is invoked only when a user's typing state actually flips.
type ChangeFunc func(userID string, isTyping bool)

// Tracker holds remote typing state for one conversation. No debounce: the latest
// signal is shown immediately.
type Tracker struct {
	mu       sync.Mutex
	selfID   string
	clock    clock.Clock
	onChange ChangeFunc
	states   map[string]*RemoteState
}

func NewTracker(selfID string, onChange ChangeFunc, c clock.Clock) *Tracker {
	if c == nil {
		c = clock.New()
	}
	return &Tracker{
		selfID:   selfID,
		clock:    c,
		onChange: onChange,
		states:   make(map[string]*RemoteState),
	}
}

// Apply records one signal and reports whether the visible state changed.
// Signals about ourselves are ignored.
func (t *Tracker) Apply(userID string, isTyping bool) bool {
	if userID == "" || userID == t.selfID {
		return false
	}
	t.mu.Lock()
	st, ok := t.states[userID]
	if !ok {
		st = &RemoteState{}
		t.states[userID] = st
	}
	st.LastSignalAt = t.clock.Now()
	changed := st.IsTyping != isTyping
	st.IsTyping = isTyping
	t.mu.Unlock()

	if changed && t.onChange != nil {
		t.onChange(userID, isTyping)
	}
	return changed
}

// ApplyAll applies a fetch response's typing map in a stable order.
func (t *Tracker) ApplyAll(m map[string]bool) int {
	users := make([]string, 0, len(m))
	for u := range m {
		users = append(users, u)
	}
	sort.Strings(users)
	n := 0
	for _, u := range users {
		if t.Apply(u, m[u]) {
			n++
		}
	}
	return n
}

// Reset drops all state, emitting typing=false for users shown as typing.
func (t *Tracker) Reset() {
	t.mu.Lock()
	var typing []string
	for u, st := range t.states {
		if st.IsTyping {
			typing = append(typing, u)
		}
	}
	t.states = make(map[string]*RemoteState)
	t.mu.Unlock()

	sort.Strings(typing)
	if t.onChange == nil {
		return
	}
	for _, u := range typing {
		t.onChange(u, false)
	}
}

// Typing returns the users currently shown as typing, sorted.
func (t *Tracker) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for u, st := range t.states {
		if st.IsTyping {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) Get(userID string) (RemoteState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[userID]
	if !ok {
		return RemoteState{}, false
	}
	return *st, true
}
