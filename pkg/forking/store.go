// Package forking keeps a client-side fork of named graphs on top of a quad store.
//
// Callers insert and delete quads without touching the base graphs. Pending
// inserts for graph G live in an addition shadow graph and pending deletes in a
// deletion shadow graph (see Namer). Reads merge base + additions - deletions
// on the fly. Persist pushes each graph's diff through a Transport and clears
// the shadows. Observers receive one debounced, self-cancelling change set per
// burst of mutations.
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	store := forking.New(engine, transport.Nop{}, nil)
//	defer store.Close()
//
//	g := rdf.NamedNode("http://example.org/g")
//	q := rdf.NewQuad(rdf.NamedNode("http://example.org/a"), rdf.NamedNode("http://example.org/p"), rdf.Literal("1"), g)
//	store.AddAll([]rdf.Quad{q})
//
//	quads, _ := store.Match(rdf.Any.InGraph(g))   // [q]
//	changed, _ := store.ChangedGraphs()            // ["http://example.org/g"]
//	err := store.Persist(ctx)                      // pushes and clears the fork
//
// Concurrency:
//
//	Every mutating call runs to completion under the store's tick lock and is
//	never interleaved with another. Do groups several calls into one tick.
//	Observer callbacks run on the store's run loop, outside the lock, so they
//	may call back into the store.
package forking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/orneryd/quadfork/pkg/metrics"
	"github.com/orneryd/quadfork/pkg/rdf"
	"github.com/orneryd/quadfork/pkg/storage"
	"github.com/orneryd/quadfork/pkg/transport"
)

var (
	// ErrNoGraph is returned for a mutation whose quad has no graph.
	ErrNoGraph = errors.New("quad has no graph")
	// ErrClosed is returned for a mutation after Close.
	ErrClosed = errors.New("forking store is closed")
)

// Options configures a Store.
type Options struct {
	// Namespace roots the shadow graph identifiers. Default: DefaultNamespace
	Namespace string

	// Scheduler runs batched notifications. Default: a Loop owned by the store
	Scheduler Scheduler

	// KeepShadowsOnFailure keeps a graph's pending changes when its push
	// fails. By default shadows are cleared whatever the outcome.
	KeepShadowsOnFailure bool

	// PersistConcurrency caps concurrent pushes. Zero means unlimited.
	PersistConcurrency int
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		Namespace: DefaultNamespace,
	}
}

// Store is the forking layer over a quad store.
type Store struct {
	engine    storage.Engine
	transport transport.Transport
	namer     Namer
	opts      Options

	// mu is the tick lock. It serializes mutations and gates batch flushes.
	mu     sync.Mutex
	closed bool

	batcher   *Batcher
	loop      *Loop
	observers observerRegistry
}

// New creates a Store over engine. The engine is owned by the caller and is
// not closed by Store.Close. A nil transport accepts every push.
func New(engine storage.Engine, tr transport.Transport, opts *Options) *Store {
	if opts == nil {
		opts = DefaultOptions()
	}
	if tr == nil {
		tr = transport.Nop{}
	}

	s := &Store{
		engine:    engine,
		transport: tr,
		namer:     NewNamer(opts.Namespace),
		opts:      *opts,
	}

	sched := opts.Scheduler
	if sched == nil {
		s.loop = NewLoop()
		sched = s.loop
	}
	s.batcher = NewBatcher(sched, &s.mu, s.observers.inform)
	return s
}

// Close rejects further mutations, flushes any pending notification and
// stops the store's run loop. Reads keep working until the engine is closed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.loop != nil {
		s.loop.Close()
	}
	return nil
}

// Engine returns the underlying quad store.
func (s *Store) Engine() storage.Engine {
	return s.engine
}

// Namer returns the shadow graph namer in use.
func (s *Store) Namer() Namer {
	return s.namer
}

// Tx is the view of a Store inside Do. Its methods do not take the tick lock
// and must not be used after Do returns.
type Tx struct {
	s *Store
}

// Do runs fn as a single tick: no batch can flush until fn returns, so every
// mutation inside fn lands in the same notification. fn must use tx, not the
// Store, to avoid deadlocking on the tick lock.
func (s *Store) Do(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s})
}

// ============================================================================
// Read path
// ============================================================================

// Match returns the logical view of p.
//
// With a graph, the result is (base ∪ additions) minus every triple present in
// the deletions, restated on the graph, with duplicate triples collapsed.
// Without a graph the underlying store is queried as is.
func (s *Store) Match(p rdf.Pattern) ([]rdf.Quad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match(p)
}

// Match is Store.Match within a tick.
func (tx *Tx) Match(p rdf.Pattern) ([]rdf.Quad, error) {
	return tx.s.match(p)
}

func (s *Store) match(p rdf.Pattern) ([]rdf.Quad, error) {
	if p.Graph.IsZero() {
		return s.engine.Match(p)
	}

	g := p.Graph
	base, err := s.engine.Match(p)
	if err != nil {
		return nil, err
	}
	added, err := s.engine.Match(p.InGraph(s.namer.AdditionGraphFor(g)))
	if err != nil {
		return nil, err
	}
	deleted, err := s.engine.Match(p.InGraph(s.namer.DeletionGraphFor(g)))
	if err != nil {
		return nil, err
	}

	removed := make(map[string]struct{}, len(deleted))
	for _, q := range deleted {
		removed[q.TripleKey()] = struct{}{}
	}
	seen := make(map[string]struct{}, len(base)+len(added))
	out := make([]rdf.Quad, 0, len(base)+len(added))
	for _, list := range [][]rdf.Quad{base, added} {
		for _, q := range list {
			k := q.TripleKey()
			if _, gone := removed[k]; gone {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, q.InGraph(g))
		}
	}
	return out, nil
}

// Any returns a component of the first match of p: the subject if p leaves it
// open, else the predicate, object or graph, in that order. When all four are
// bound it returns the zero Term and true. found is false when nothing matches.
func (s *Store) Any(p rdf.Pattern) (term rdf.Term, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.any(p)
}

// Any is Store.Any within a tick.
func (tx *Tx) Any(p rdf.Pattern) (rdf.Term, bool, error) {
	return tx.s.any(p)
}

func (s *Store) any(p rdf.Pattern) (rdf.Term, bool, error) {
	matches, err := s.match(p)
	if err != nil || len(matches) == 0 {
		return rdf.Term{}, false, err
	}

	first := matches[0]
	switch {
	case p.Subject.IsZero():
		return first.Subject, true, nil
	case p.Predicate.IsZero():
		return first.Predicate, true, nil
	case p.Object.IsZero():
		return first.Object, true, nil
	case p.Graph.IsZero():
		return first.Graph, true, nil
	default:
		return rdf.Term{}, true, nil
	}
}

// contains reports whether q is logically present in its graph.
func (s *Store) contains(q rdf.Quad) (bool, error) {
	matches, err := s.match(q.Pattern())
	return len(matches) > 0, err
}

// ============================================================================
// Write path
// ============================================================================

// AddAll records inserts. A pending delete of the same quad is cancelled, and
// the quad is added to the addition shadow only if it is not already visible.
// Observers are notified later, in one batch.
func (s *Store) AddAll(inserts []rdf.Quad) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAll(inserts)
}

// AddAll is Store.AddAll within a tick.
func (tx *Tx) AddAll(inserts []rdf.Quad) error {
	return tx.s.addAll(inserts)
}

func (s *Store) addAll(inserts []rdf.Quad) error {
	if s.closed {
		return ErrClosed
	}
	if err := requireGraphs(inserts); err != nil {
		return err
	}

	for _, q := range inserts {
		if err := s.removeIfPresent(q.InGraph(s.namer.DeletionGraphFor(q.Graph))); err != nil {
			return err
		}
		present, err := s.contains(q)
		if err != nil {
			return err
		}
		if present {
			continue
		}
		if err := s.engine.Add(q.InGraph(s.namer.AdditionGraphFor(q.Graph))); err != nil {
			return fmt.Errorf("recording insert %s: %w", q, err)
		}
	}

	metrics.CounterMutations.WithLabelValues("insert").Add(float64(len(inserts)))
	s.batcher.AddData(rdf.Changes{Inserts: append([]rdf.Quad(nil), inserts...)})
	return nil
}

// RemoveStatements records deletes. A pending insert of the same quad is
// cancelled, and the quad is added to the deletion shadow only if it is still
// visible afterwards.
func (s *Store) RemoveStatements(deletes []rdf.Quad) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeStatements(deletes)
}

// RemoveStatements is Store.RemoveStatements within a tick.
func (tx *Tx) RemoveStatements(deletes []rdf.Quad) error {
	return tx.s.removeStatements(deletes)
}

func (s *Store) removeStatements(deletes []rdf.Quad) error {
	if s.closed {
		return ErrClosed
	}
	if err := requireGraphs(deletes); err != nil {
		return err
	}

	for _, q := range deletes {
		if err := s.removeIfPresent(q.InGraph(s.namer.AdditionGraphFor(q.Graph))); err != nil {
			return err
		}
		present, err := s.contains(q)
		if err != nil {
			return err
		}
		if !present {
			continue
		}
		if err := s.engine.Add(q.InGraph(s.namer.DeletionGraphFor(q.Graph))); err != nil {
			return fmt.Errorf("recording delete %s: %w", q, err)
		}
	}

	metrics.CounterMutations.WithLabelValues("delete").Add(float64(len(deletes)))
	s.batcher.AddData(rdf.Changes{Deletes: append([]rdf.Quad(nil), deletes...)})
	return nil
}

// removeIfPresent removes q, treating absence as success.
func (s *Store) removeIfPresent(q rdf.Quad) error {
	if err := s.engine.Remove(q); err != nil && !storage.IsNotFound(err) {
		return err
	}
	return nil
}

func requireGraphs(quads []rdf.Quad) error {
	for _, q := range quads {
		if !q.Graph.IsNamedNode() {
			return fmt.Errorf("%w: %s", ErrNoGraph, q)
		}
	}
	return nil
}

// RemoveMatches deletes every stored quad matching p directly in the
// underlying store, bypassing the shadows and observers.
func (s *Store) RemoveMatches(p rdf.Pattern) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.RemoveMatches(p)
}

// RemoveMatches is Store.RemoveMatches within a tick.
func (tx *Tx) RemoveMatches(p rdf.Pattern) (int, error) {
	return tx.s.engine.RemoveMatches(p)
}

// ============================================================================
// Graph bookkeeping
// ============================================================================

// AllGraphs lists every graph holding at least one quad, shadows included.
func (s *Store) AllGraphs() ([]string, error) {
	return s.engine.Graphs()
}

// ChangedGraphs lists the base graphs that have pending additions or
// deletions, sorted.
func (s *Store) ChangedGraphs() ([]string, error) {
	graphs, err := s.engine.Graphs()
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, id := range graphs {
		base, kind := s.namer.Parse(id)
		if kind == Addition || kind == Deletion {
			set[base] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

// IsDirty reports whether any graph has pending changes.
func (s *Store) IsDirty() (bool, error) {
	changed, err := s.ChangedGraphs()
	return len(changed) > 0, err
}

// ============================================================================
// Observers
// ============================================================================

// RegisterObserver adds o under key. A zero key registers o under its own
// identity, so registering the same handle twice keeps one registration.
func (s *Store) RegisterObserver(o *Observer, key Key) {
	s.observers.register(o, key)
}

// Observe registers fn under a fresh identity and returns the handle, which
// can later be passed to DeregisterObserver via its Key.
func (s *Store) Observe(fn ObserverFunc) *Observer {
	o := NewObserver(fn)
	s.observers.register(o, Key{})
	return o
}

// DeregisterObserver removes the registration under key and reports whether
// there was one.
func (s *Store) DeregisterObserver(key Key) bool {
	return s.observers.deregister(key)
}

// ClearObservers removes every registration.
func (s *Store) ClearObservers() {
	s.observers.clear()
}

// ObserverCount returns the number of registrations.
func (s *Store) ObserverCount() int {
	return s.observers.len()
}

// IsIdle reports whether no notification is pending or being delivered.
func (s *Store) IsIdle() bool {
	return s.batcher.IsIdle()
}

// WaitIdle blocks until the batcher is idle or ctx is done.
func (s *Store) WaitIdle(ctx context.Context) error {
	for {
		if s.batcher.IsIdle() {
			return nil
		}
		select {
		case <-s.batcher.Idle():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
