// Package transport pushes pending graph diffs to a remote store.
//
// A Transport receives the deletes and inserts accumulated for one graph and
// reports success or failure. Retry and timeout policy belong to the
// transport, never to the caller: the forking store calls Submit once per
// graph per persist.
//
// Implementations:
//   - HTTPTransport: SPARQL 1.1 Update over HTTP with retries
//   - Func: adapts a plain function
//   - Nop: accepts everything, useful for local-only stores
package transport

import (
	"context"

	"github.com/orneryd/quadfork/pkg/rdf"
)

// Transport submits a diff for a single graph.
//
// Quads in deletes and inserts are already restated on graph. Submit must be
// safe for concurrent use; the forking store pushes graphs in parallel.
type Transport interface {
	Submit(ctx context.Context, graph rdf.Term, deletes, inserts []rdf.Quad) error
}

// Func adapts an ordinary function to the Transport interface.
type Func func(ctx context.Context, graph rdf.Term, deletes, inserts []rdf.Quad) error

// Submit calls f.
func (f Func) Submit(ctx context.Context, graph rdf.Term, deletes, inserts []rdf.Quad) error {
	return f(ctx, graph, deletes, inserts)
}

// Nop accepts every diff without sending it anywhere.
type Nop struct{}

// Submit always succeeds.
func (Nop) Submit(context.Context, rdf.Term, []rdf.Quad, []rdf.Quad) error {
	return nil
}

type requestIDKey struct{}

// WithRequestID attaches an id that transports forward to the remote side.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
