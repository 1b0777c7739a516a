package forking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/quadfork/pkg/metrics"
	"github.com/orneryd/quadfork/pkg/rdf"
	"github.com/orneryd/quadfork/pkg/transport"
)

// PushError reports a failed push for one graph.
type PushError struct {
	Graph string
	// Discarded is the number of pending quads cleared despite the failure.
	Discarded int
	Err       error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("pushing changes for %s: %v", e.Graph, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// Persist pushes the pending diff of every changed graph through the
// transport, concurrently, and waits for all of them.
//
// Each graph's shadows are cleared as soon as its push settles. On success the
// pushed deletes are removed from the base graph and the pushed inserts added
// to it, so the base graph tracks the remote store and Match returns the same
// view before and after. Unless Options.KeepShadowsOnFailure is set the
// shadows are also cleared when the push fails, leaving the base graph as it
// was, so the pending changes of a failed graph are gone when Persist returns.
// The returned error joins one *PushError per failed graph.
//
// Clearing removes exactly the shadow quads that were submitted rather than
// emptying both shadow graphs, so mutations recorded while a push is in
// flight stay pending for the next Persist.
func (s *Store) Persist(ctx context.Context) error {
	graphs, err := s.ChangedGraphs()
	if err != nil {
		return err
	}
	if len(graphs) == 0 {
		return nil
	}

	runID := ulid.Make().String()
	ctx = transport.WithRequestID(ctx, runID)
	start := time.Now()

	var eg errgroup.Group
	if s.opts.PersistConcurrency > 0 {
		eg.SetLimit(s.opts.PersistConcurrency)
	}
	errs := make([]error, len(graphs))
	for i, g := range graphs {
		eg.Go(func() error {
			errs[i] = s.PushGraphChanges(ctx, rdf.NamedNode(g))
			return nil
		})
	}
	_ = eg.Wait()

	err = errors.Join(errs...)
	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	log.Printf("[forking] persist %s: %d graphs, %d failed in %v", runID, len(graphs), failed, time.Since(start))
	return err
}

// PushGraphChanges submits the pending deletes and inserts of g and then
// clears exactly the shadow quads that were submitted. Mutations recorded
// while the submit is in flight stay pending for the next push.
func (s *Store) PushGraphChanges(ctx context.Context, g rdf.Term) error {
	addG := s.namer.AdditionGraphFor(g)
	delG := s.namer.DeletionGraphFor(g)

	s.mu.Lock()
	deletes, errDel := s.restated(delG, g)
	inserts, errIns := s.restated(addG, g)
	s.mu.Unlock()
	if err := errors.Join(errDel, errIns); err != nil {
		return &PushError{Graph: g.Value, Err: err}
	}

	err := s.transport.Submit(ctx, g, deletes, inserts)
	if err != nil {
		metrics.CounterPushes.WithLabelValues("failure").Inc()
	} else {
		metrics.CounterPushes.WithLabelValues("success").Inc()
	}

	if err != nil && s.opts.KeepShadowsOnFailure {
		log.Printf("[forking] push of %s failed, keeping %d pending quads: %v", g.Value, len(deletes)+len(inserts), err)
		return &PushError{Graph: g.Value, Err: err}
	}

	if cerr := s.clearSubmitted(g, deletes, inserts, err == nil); cerr != nil {
		return &PushError{Graph: g.Value, Err: errors.Join(err, cerr)}
	}
	if err != nil {
		discarded := len(deletes) + len(inserts)
		metrics.CounterDiscardedQuads.Add(float64(discarded))
		log.Printf("[forking] WARNING: push of %s failed, discarded %d pending quads: %v", g.Value, discarded, err)
		return &PushError{Graph: g.Value, Discarded: discarded, Err: err}
	}
	return nil
}

// clearSubmitted drops the submitted quads from the shadows of g. When the
// push succeeded they are also applied to g itself.
func (s *Store) clearSubmitted(g rdf.Term, deletes, inserts []rdf.Quad, applied bool) error {
	delG := s.namer.DeletionGraphFor(g)
	addG := s.namer.AdditionGraphFor(g)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range deletes {
		if err := s.removeIfPresent(q.InGraph(delG)); err != nil {
			return err
		}
	}
	for _, q := range inserts {
		if err := s.removeIfPresent(q.InGraph(addG)); err != nil {
			return err
		}
	}
	if !applied {
		return nil
	}

	for _, q := range deletes {
		if err := s.removeIfPresent(q.InGraph(g)); err != nil {
			return fmt.Errorf("applying delete %s: %w", q, err)
		}
	}
	if err := s.engine.BulkAdd(inserts); err != nil {
		return fmt.Errorf("applying inserts to %s: %w", g.Value, err)
	}
	return nil
}
