package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadfork/pkg/rdf"
)

var (
	graph = rdf.NamedNode("http://example.org/g")
	subj  = rdf.NamedNode("http://example.org/s")
	pred  = rdf.NamedNode("http://example.org/p")
)

func fastConfig(endpoint string) *HTTPConfig {
	cfg := DefaultHTTPConfig(endpoint)
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	return cfg
}

func TestRenderUpdate(t *testing.T) {
	del := rdf.NewQuad(subj, pred, rdf.Literal("old"), graph)
	ins := rdf.NewQuad(subj, pred, rdf.Literal(2), graph)

	t.Run("both_halves", func(t *testing.T) {
		want := "DELETE DATA {\n  GRAPH <http://example.org/g> {\n" +
			"    <http://example.org/s> <http://example.org/p> \"old\" .\n  }\n} ;\n" +
			"INSERT DATA {\n  GRAPH <http://example.org/g> {\n" +
			"    <http://example.org/s> <http://example.org/p> \"2\"^^<http://www.w3.org/2001/XMLSchema#integer> .\n  }\n}"
		assert.Equal(t, want, RenderUpdate(graph, []rdf.Quad{del}, []rdf.Quad{ins}))
	})

	t.Run("inserts_only", func(t *testing.T) {
		out := RenderUpdate(graph, nil, []rdf.Quad{ins})
		assert.Contains(t, out, "INSERT DATA")
		assert.NotContains(t, out, "DELETE DATA")
	})

	t.Run("empty_diff", func(t *testing.T) {
		assert.Empty(t, RenderUpdate(graph, nil, nil))
	})
}

func TestHTTPTransport_Submit(t *testing.T) {
	t.Run("posts_sparql_update", func(t *testing.T) {
		var gotBody, gotType, gotID, gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
			gotType = r.Header.Get("Content-Type")
			gotID = r.Header.Get("X-Request-ID")
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		cfg := fastConfig(srv.URL)
		cfg.Headers = map[string]string{"Authorization": "Bearer t"}
		tr, err := NewHTTPTransport(cfg)
		require.NoError(t, err)

		ctx := WithRequestID(context.Background(), "req-1")
		err = tr.Submit(ctx, graph, nil, []rdf.Quad{rdf.NewQuad(subj, pred, rdf.Literal("x"), graph)})
		require.NoError(t, err)

		assert.Equal(t, ContentTypeSPARQLUpdate, gotType)
		assert.Equal(t, "req-1", gotID)
		assert.Equal(t, "Bearer t", gotAuth)
		assert.Contains(t, gotBody, `<http://example.org/s> <http://example.org/p> "x" .`)
	})

	t.Run("empty_diff_sends_nothing", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer srv.Close()

		tr, err := NewHTTPTransport(fastConfig(srv.URL))
		require.NoError(t, err)
		require.NoError(t, tr.Submit(context.Background(), graph, nil, nil))
		assert.Zero(t, atomic.LoadInt32(&calls))
	})

	t.Run("retries_server_errors", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		tr, err := NewHTTPTransport(fastConfig(srv.URL))
		require.NoError(t, err)
		err = tr.Submit(context.Background(), graph, []rdf.Quad{rdf.NewQuad(subj, pred, rdf.Literal("x"), graph)}, nil)
		require.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("client_errors_fail_without_retry", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			http.Error(w, "malformed query", http.StatusBadRequest)
		}))
		defer srv.Close()

		tr, err := NewHTTPTransport(fastConfig(srv.URL))
		require.NoError(t, err)
		err = tr.Submit(context.Background(), graph, nil, []rdf.Quad{rdf.NewQuad(subj, pred, rdf.Literal("x"), graph)})

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
		assert.Equal(t, "malformed query", statusErr.Body)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("requires_endpoint", func(t *testing.T) {
		_, err := NewHTTPTransport(&HTTPConfig{})
		assert.Error(t, err)
		_, err = NewHTTPTransport(nil)
		assert.Error(t, err)
	})
}

func TestFuncAndNop(t *testing.T) {
	var seen rdf.Term
	f := Func(func(_ context.Context, g rdf.Term, _, _ []rdf.Quad) error {
		seen = g
		return nil
	})
	require.NoError(t, f.Submit(context.Background(), graph, nil, nil))
	assert.Equal(t, graph, seen)

	assert.NoError(t, Nop{}.Submit(context.Background(), graph, nil, nil))
	assert.Empty(t, RequestID(context.Background()))
}
