package forking

import (
	"sync"

	"github.com/orneryd/quadfork/pkg/rdf"
)

// Batcher coalesces bursts of mutations into one notification.
//
// AddData appends to a pending accumulator and, when idle, schedules a flush
// on the Scheduler. The flush first acquires the gate (the store's tick lock),
// so it can only run once the mutation that armed it, and any Store.Do group
// around it, has returned. It then takes the accumulator, drops every insert
// that is exactly cancelled by a delete and vice versa, and hands the rest to
// the handler unless nothing is left.
//
// Mutations made while the handler runs go into a fresh batch.
type Batcher struct {
	mu       sync.Mutex
	pending  rdf.Changes
	armed    bool
	flushing int
	busy     bool
	idle     chan struct{}

	gate    sync.Locker
	sched   Scheduler
	handler func(rdf.Changes)
}

// NewBatcher creates an idle batcher. gate may be nil.
func NewBatcher(sched Scheduler, gate sync.Locker, handler func(rdf.Changes)) *Batcher {
	idle := make(chan struct{})
	close(idle)
	return &Batcher{
		gate:    gate,
		sched:   sched,
		handler: handler,
		idle:    idle,
	}
}

// AddData queues changes for the next flush.
func (b *Batcher) AddData(changes rdf.Changes) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending.Inserts = append(b.pending.Inserts, changes.Inserts...)
	b.pending.Deletes = append(b.pending.Deletes, changes.Deletes...)

	if b.armed {
		return
	}
	b.armed = true
	if !b.busy {
		b.busy = true
		b.idle = make(chan struct{})
	}
	b.sched.Schedule(b.flush)
}

// IsIdle reports whether no flush is scheduled or running.
func (b *Batcher) IsIdle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.busy
}

// Idle returns a channel that is closed once the batcher is idle. The channel
// belongs to the current busy period; callers should re-check IsIdle.
func (b *Batcher) Idle() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idle
}

func (b *Batcher) flush() {
	if b.gate != nil {
		b.gate.Lock()
	}
	b.mu.Lock()
	pending := b.pending
	b.pending = rdf.Changes{}
	b.armed = false
	b.flushing++
	b.mu.Unlock()
	if b.gate != nil {
		b.gate.Unlock()
	}

	defer func() {
		b.mu.Lock()
		b.flushing--
		if !b.armed && b.flushing == 0 && b.busy {
			b.busy = false
			close(b.idle)
		}
		b.mu.Unlock()
	}()

	changes := Cancel(pending)
	if changes.Empty() {
		return
	}
	b.handler(changes)
}

// Cancel removes every insert that also appears among the deletes and every
// delete that also appears among the inserts, comparing all four components
// with normalized literals. Exact duplicates collapse to their first copy.
func Cancel(c rdf.Changes) rdf.Changes {
	insKeys := make(map[string]struct{}, len(c.Inserts))
	for _, q := range c.Inserts {
		insKeys[q.Key()] = struct{}{}
	}
	delKeys := make(map[string]struct{}, len(c.Deletes))
	for _, q := range c.Deletes {
		delKeys[q.Key()] = struct{}{}
	}

	out := rdf.Changes{Inserts: []rdf.Quad{}, Deletes: []rdf.Quad{}}
	for _, q := range rdf.Dedup(c.Inserts) {
		if _, ok := delKeys[q.Key()]; !ok {
			out.Inserts = append(out.Inserts, q)
		}
	}
	for _, q := range rdf.Dedup(c.Deletes) {
		if _, ok := insKeys[q.Key()]; !ok {
			out.Deletes = append(out.Deletes, q)
		}
	}
	return out
}
