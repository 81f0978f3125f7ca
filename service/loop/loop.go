package loop

import (
	"sync"

	"ChatSync/tools/safe"
)

// Loop runs posted tasks one at a time on a single goroutine. Timers, sockets and
// request goroutines post their results here so that state owned by a view is only
// touched from one place.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	stopped bool

	startOnce sync.Once
	stopOnce  sync.Once
}

func New() *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the loop goroutine. Extra calls are no-ops.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return
		}
		l.started = true
		l.mu.Unlock()
		go l.run()
	})
}

// Post enqueues f without blocking. It returns false once the loop is stopped.
func (l *Loop) Post(f func()) bool {
	if f == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every task posted before the call has run. The loop must
// be started; Flush must not be called from a task.
func (l *Loop) Flush() {
	ch := make(chan struct{})
	if !l.Post(func() { close(ch) }) {
		return
	}
	select {
	case <-ch:
	case <-l.done:
	}
}

// Stop runs the tasks already queued, then ends the loop. Safe to call more than
// once and before Start.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		started := l.started
		l.mu.Unlock()
		close(l.stopCh)
		if !started {
			close(l.done)
			return
		}
		<-l.done
	})
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.drain()
		select {
		case <-l.wake:
		case <-l.stopCh:
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		tasks := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, f := range tasks {
			_ = safe.SafeCall(f)
		}
	}
}
