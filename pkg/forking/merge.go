package forking

import (
	"errors"
	"fmt"

	"github.com/orneryd/quadfork/pkg/rdf"
)

// ErrConflictingShadows is returned when loaded additions and removals share a triple.
var ErrConflictingShadows = errors.New("triple is both a pending addition and a pending removal")

// MergedGraph recomputes the merged scratch graph of g from scratch and
// returns its identifier. The scratch graph is cleared, filled with the base
// view, stripped of pending deletions and topped up with pending additions.
// Calling it twice without an intervening mutation yields the same quads.
func (s *Store) MergedGraph(g rdf.Term) (rdf.Term, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergedGraph(g)
}

// MergedGraph is Store.MergedGraph within a tick.
func (tx *Tx) MergedGraph(g rdf.Term) (rdf.Term, error) {
	return tx.s.mergedGraph(g)
}

func (s *Store) mergedGraph(g rdf.Term) (rdf.Term, error) {
	merged := s.namer.MergedGraphFor(g)

	base, err := s.restated(g, merged)
	if err != nil {
		return rdf.Term{}, err
	}
	deleted, err := s.restated(s.namer.DeletionGraphFor(g), merged)
	if err != nil {
		return rdf.Term{}, err
	}
	added, err := s.restated(s.namer.AdditionGraphFor(g), merged)
	if err != nil {
		return rdf.Term{}, err
	}

	if _, err := s.engine.RemoveMatches(rdf.Any.InGraph(merged)); err != nil {
		return rdf.Term{}, fmt.Errorf("clearing merged graph: %w", err)
	}
	if err := s.engine.BulkAdd(base); err != nil {
		return rdf.Term{}, fmt.Errorf("filling merged graph: %w", err)
	}
	for _, q := range deleted {
		if err := s.removeIfPresent(q); err != nil {
			return rdf.Term{}, err
		}
	}
	if err := s.engine.BulkAdd(added); err != nil {
		return rdf.Term{}, fmt.Errorf("filling merged graph: %w", err)
	}
	return merged, nil
}

// restated returns the logical view of from, moved onto graph to.
func (s *Store) restated(from, to rdf.Term) ([]rdf.Quad, error) {
	quads, err := s.match(rdf.Any.InGraph(from))
	if err != nil {
		return nil, err
	}
	for i := range quads {
		quads[i] = quads[i].InGraph(to)
	}
	return quads, nil
}

// MergedQuads materializes the merged graph of g and returns its contents
// restated on g.
func (s *Store) MergedQuads(g rdf.Term) ([]rdf.Quad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged, err := s.mergedGraph(g)
	if err != nil {
		return nil, err
	}
	return s.restated(merged, g)
}

// ShadowSet holds the raw contents of a graph and its two shadows, each
// restated on the base graph.
type ShadowSet struct {
	Base      []rdf.Quad `json:"graph"`
	Additions []rdf.Quad `json:"additions"`
	Removals  []rdf.Quad `json:"removals"`
}

// Shadows returns the base quads of g along with its pending additions and
// removals, so a fork can be saved and later restored with LoadWithShadows.
func (s *Store) Shadows(g rdf.Term) (ShadowSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var set ShadowSet
	var err error
	if set.Base, err = s.engine.Match(rdf.Any.InGraph(g)); err != nil {
		return set, err
	}
	if set.Additions, err = s.restatedRaw(s.namer.AdditionGraphFor(g), g); err != nil {
		return set, err
	}
	if set.Removals, err = s.restatedRaw(s.namer.DeletionGraphFor(g), g); err != nil {
		return set, err
	}
	return set, nil
}

func (s *Store) restatedRaw(from, to rdf.Term) ([]rdf.Quad, error) {
	quads, err := s.engine.Match(rdf.Any.InGraph(from))
	if err != nil {
		return nil, err
	}
	for i := range quads {
		quads[i] = quads[i].InGraph(to)
	}
	return quads, nil
}

// LoadWithShadows writes base quads into g and the given pending additions and
// removals into its shadows, without notifying observers. Quads are restated
// on the right graph whatever graph they carry.
func (s *Store) LoadWithShadows(g rdf.Term, set ShadowSet) error {
	adds := make(map[string]struct{}, len(set.Additions))
	for _, q := range set.Additions {
		adds[q.TripleKey()] = struct{}{}
	}
	for _, q := range set.Removals {
		if _, ok := adds[q.TripleKey()]; ok {
			return fmt.Errorf("%w: %s", ErrConflictingShadows, q.InGraph(g))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batches := []struct {
		graph rdf.Term
		quads []rdf.Quad
	}{
		{g, set.Base},
		{s.namer.AdditionGraphFor(g), set.Additions},
		{s.namer.DeletionGraphFor(g), set.Removals},
	}
	for _, b := range batches {
		quads := make([]rdf.Quad, len(b.quads))
		for i, q := range b.quads {
			quads[i] = q.InGraph(b.graph)
		}
		if err := s.engine.BulkAdd(quads); err != nil {
			return fmt.Errorf("loading %s: %w", b.graph.Value, err)
		}
	}
	return nil
}
