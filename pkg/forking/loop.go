package forking

import (
	"log"
	"runtime/debug"
	"sync"
)

// Scheduler runs deferred tasks after the caller's current work.
//
// Tasks must run one at a time, in the order they were scheduled.
type Scheduler interface {
	Schedule(task func())
}

// Loop is a single-goroutine run loop with an unbounded FIFO queue.
//
// Schedule never blocks, so tasks may schedule further tasks (including from
// inside a running task). A panicking task is logged and the loop carries on.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewLoop starts a run loop.
func NewLoop() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Schedule appends task to the queue. Tasks scheduled after Close are dropped.
func (l *Loop) Schedule(task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.queue = append(l.queue, task)
	l.cond.Signal()
}

// Close runs every task already queued, then stops the loop and waits for it.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.cond.Signal()
	l.mu.Unlock()

	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.runTask(task)
	}
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[loop] task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	task()
}
