package typing

import (
	"sync"
	"time"

	"ChatSync/logger"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const DefaultQuietPeriod = 1000 * time.Millisecond

// State 本地输入状态机。
type State int

const (
	Idle State = iota
	ActivelyTyping
)

func (s State) String() string {
	if s == ActivelyTyping {
		return "ActivelyTyping"
	}
	return "Idle"
}

// SendFunc delivers one typing signal. It must not block; failures are logged
// and dropped by the Debouncer.
type SendFunc func(isTyping bool) error

type Option func(*Debouncer)

func WithClock(c clock.Clock) Option {
	return func(d *Debouncer) { d.clock = c }
}

func WithQuietPeriod(p time.Duration) Option {
	return func(d *Debouncer) {
		if p > 0 {
			d.quiet = p
		}
	}
}

// Debouncer turns a stream of keystrokes into exactly one typing=true on the first
// keystroke and one typing=false after the quiet period, on send, or on leave.
type Debouncer struct {
	mu sync.Mutex

	clock clock.Clock
	quiet time.Duration
	send  SendFunc

	state        State
	lastSignalAt time.Time
	timer        *clock.Timer
	gen          uint64
	stopped      bool
}

func NewDebouncer(send SendFunc, opts ...Option) *Debouncer {
	d := &Debouncer{
		clock: clock.New(),
		quiet: DefaultQuietPeriod,
		send:  send,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Keystroke records local input. Only the Idle -> ActivelyTyping edge emits.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.lastSignalAt = d.clock.Now()
	emit := d.state == Idle
	d.state = ActivelyTyping
	d.armLocked()
	d.mu.Unlock()

	if emit {
		d.deliver(true)
	}
}

// Clear is called when the message is sent.
func (d *Debouncer) Clear() {
	d.mu.Lock()
	emit := d.idleLocked()
	d.mu.Unlock()

	if emit {
		d.deliver(false)
	}
}

// Stop is called when leaving the conversation. Later keystrokes are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	emit := d.idleLocked()
	d.stopped = true
	d.mu.Unlock()

	if emit {
		d.deliver(false)
	}
}

func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastSignalAt is the time of the most recent keystroke.
func (d *Debouncer) LastSignalAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSignalAt
}

func (d *Debouncer) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.quiet, func() { d.expire(gen) })
}

func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.state != ActivelyTyping {
		// 已被新的按键或 Clear 取代
		d.mu.Unlock()
		return
	}
	emit := d.idleLocked()
	d.mu.Unlock()

	if emit {
		d.deliver(false)
	}
}

func (d *Debouncer) idleLocked() bool {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.state != ActivelyTyping {
		return false
	}
	d.state = Idle
	return true
}

func (d *Debouncer) deliver(isTyping bool) {
	if d.send == nil {
		return
	}
	if err := d.send(isTyping); err != nil {
		logger.Debug("[Typing] signal dropped", zap.Bool("is_typing", isTyping), zap.Error(err))
	}
}
