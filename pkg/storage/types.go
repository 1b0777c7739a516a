// Package storage provides the quad store engines used underneath the forking store.
//
// The storage layer is deliberately dumb: it holds quads, answers wildcard
// pattern queries and removes quads by exact value or by pattern. Everything
// about shadow graphs, merged views and persistence lives one layer up in
// package forking.
//
// Design Principles:
//   - Set semantics: adding a quad that is already present is a no-op
//   - Normalized equality: quads compare with rdf.Term.Equal in every position
//   - Thread-safe implementations
//   - Testability through dependency injection (Engine interface)
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	q := rdf.NewQuad(
//		rdf.NamedNode("http://example.org/alice"),
//		rdf.NamedNode("http://xmlns.com/foaf/0.1/name"),
//		rdf.Literal("Alice"),
//		rdf.NamedNode("http://example.org/people"),
//	)
//	engine.Add(q)
//
//	people, _ := engine.Match(rdf.Any.InGraph(q.Graph))
//	fmt.Printf("Found %d statements\n", len(people))
package storage

import (
	"errors"
	"fmt"

	"github.com/orneryd/quadfork/pkg/rdf"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidQuad   = errors.New("invalid quad")
	ErrStorageClosed = errors.New("storage closed")
)

// Engine is the quad store capability.
//
// Implementations must treat Add as idempotent and must report a missing quad
// on Remove with ErrNotFound so callers can decide whether absence matters.
// Match returns quads as stored, so the datatype of the first inserted copy of
// an equal literal is preserved.
//
// Thread Safety:
//
//	All implementations must be safe for concurrent use.
type Engine interface {
	// Add inserts q. Adding an equal quad twice keeps one copy.
	Add(q rdf.Quad) error

	// BulkAdd inserts every quad in one pass.
	BulkAdd(quads []rdf.Quad) error

	// Remove deletes q, returning ErrNotFound when it is absent.
	Remove(q rdf.Quad) error

	// Match returns every quad satisfying p. Zero pattern terms are wildcards.
	Match(p rdf.Pattern) ([]rdf.Quad, error)

	// RemoveMatches deletes every quad satisfying p and returns how many went.
	RemoveMatches(p rdf.Pattern) (int, error)

	// Graphs lists the distinct graph IRIs that hold at least one quad.
	Graphs() ([]string, error)

	// Count returns the total number of stored quads.
	Count() (int64, error)

	// Close releases resources. Further calls return ErrStorageClosed.
	Close() error
}

// validateQuad checks that every position is bound and that the graph is a
// named node. Literals are only allowed in object position.
func validateQuad(q rdf.Quad) error {
	switch {
	case !q.Subject.IsNamedNode():
		return fmt.Errorf("%w: subject must be a named node, got %s", ErrInvalidQuad, q.Subject)
	case !q.Predicate.IsNamedNode():
		return fmt.Errorf("%w: predicate must be a named node, got %s", ErrInvalidQuad, q.Predicate)
	case q.Object.IsZero():
		return fmt.Errorf("%w: object is unbound", ErrInvalidQuad)
	case !q.Graph.IsNamedNode():
		return fmt.Errorf("%w: graph must be a named node, got %s", ErrInvalidQuad, q.Graph)
	}
	return nil
}

// IsNotFound reports whether err means the quad was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
