package storage

import (
	"sort"
	"sync"

	"github.com/orneryd/quadfork/pkg/rdf"
)

// MemoryEngine is a thread-safe in-memory quad store.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Client-side working sets that are loaded, edited and persisted remotely
//   - Small datasets that fit entirely in RAM
//
// Features:
//   - Thread-safe: All operations use RWMutex for concurrent access
//   - Indexed: Maintains graph and subject indexes for pattern lookups
//   - Ordered: Match returns quads in insertion order
//
// Performance Characteristics:
//   - Exact add/remove: O(1)
//   - Match with bound graph: O(k log k) where k = quads in that graph
//   - Match with bound subject: O(k log k) where k = quads with that subject
//   - Match with neither: O(n log n)
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	engine.BulkAdd(quads)
//	inGraph, _ := engine.Match(rdf.Any.InGraph(rdf.NamedNode("http://example.org/g")))
type MemoryEngine struct {
	mu     sync.RWMutex
	quads  map[string]memEntry
	seq    uint64
	closed bool

	// Indexes: term key -> set of quad keys
	byGraph   map[string]map[string]struct{}
	bySubject map[string]map[string]struct{}
}

type memEntry struct {
	quad rdf.Quad
	seq  uint64
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		quads:     make(map[string]memEntry),
		byGraph:   make(map[string]map[string]struct{}),
		bySubject: make(map[string]map[string]struct{}),
	}
}

// Add inserts q if no equal quad is stored.
func (m *MemoryEngine) Add(q rdf.Quad) error {
	if err := validateQuad(q); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	m.addUnlocked(q)
	return nil
}

// BulkAdd validates every quad first, then inserts them under one lock.
func (m *MemoryEngine) BulkAdd(quads []rdf.Quad) error {
	for _, q := range quads {
		if err := validateQuad(q); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	for _, q := range quads {
		m.addUnlocked(q)
	}
	return nil
}

// Remove deletes q or returns ErrNotFound.
func (m *MemoryEngine) Remove(q rdf.Quad) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	key := q.Key()
	if _, ok := m.quads[key]; !ok {
		return ErrNotFound
	}
	m.removeUnlocked(key)
	return nil
}

// Match returns copies of the quads satisfying p in insertion order.
func (m *MemoryEngine) Match(p rdf.Pattern) ([]rdf.Quad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	return m.matchUnlocked(p), nil
}

// RemoveMatches deletes every quad satisfying p.
func (m *MemoryEngine) RemoveMatches(p rdf.Pattern) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	matches := m.matchUnlocked(p)
	for _, q := range matches {
		m.removeUnlocked(q.Key())
	}
	return len(matches), nil
}

// Graphs lists graph IRIs in sorted order.
func (m *MemoryEngine) Graphs() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	graphs := make([]string, 0, len(m.byGraph))
	for gk := range m.byGraph {
		// Graph keys are "N" + IRI.
		graphs = append(graphs, gk[1:])
	}
	sort.Strings(graphs)
	return graphs, nil
}

// Count returns the number of stored quads.
func (m *MemoryEngine) Count() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.quads)), nil
}

// Close drops all data.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.quads = nil
	m.byGraph = nil
	m.bySubject = nil
	return nil
}

// ============================================================================
// Internal helpers (caller must hold lock)
// ============================================================================

func (m *MemoryEngine) addUnlocked(q rdf.Quad) {
	key := q.Key()
	if _, ok := m.quads[key]; ok {
		return
	}
	m.seq++
	m.quads[key] = memEntry{quad: q, seq: m.seq}
	indexAdd(m.byGraph, q.Graph.Key(), key)
	indexAdd(m.bySubject, q.Subject.Key(), key)
}

func (m *MemoryEngine) removeUnlocked(key string) {
	e, ok := m.quads[key]
	if !ok {
		return
	}
	delete(m.quads, key)
	indexRemove(m.byGraph, e.quad.Graph.Key(), key)
	indexRemove(m.bySubject, e.quad.Subject.Key(), key)
}

func (m *MemoryEngine) matchUnlocked(p rdf.Pattern) []rdf.Quad {
	if p.Bound() {
		if e, ok := m.quads[rdf.NewQuad(p.Subject, p.Predicate, p.Object, p.Graph).Key()]; ok {
			return []rdf.Quad{e.quad}
		}
		return nil
	}

	var entries []memEntry
	collect := func(keys map[string]struct{}) {
		for k := range keys {
			if e := m.quads[k]; p.Matches(e.quad) {
				entries = append(entries, e)
			}
		}
	}

	switch {
	case !p.Graph.IsZero():
		collect(m.byGraph[p.Graph.Key()])
	case !p.Subject.IsZero():
		collect(m.bySubject[p.Subject.Key()])
	default:
		for _, e := range m.quads {
			if p.Matches(e.quad) {
				entries = append(entries, e)
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]rdf.Quad, len(entries))
	for i, e := range entries {
		out[i] = e.quad
	}
	return out
}

func indexAdd(idx map[string]map[string]struct{}, term, key string) {
	set, ok := idx[term]
	if !ok {
		set = make(map[string]struct{})
		idx[term] = set
	}
	set[key] = struct{}{}
}

func indexRemove(idx map[string]map[string]struct{}, term, key string) {
	set, ok := idx[term]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(idx, term)
	}
}
