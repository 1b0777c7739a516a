package forking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadfork/pkg/rdf"
	"github.com/orneryd/quadfork/pkg/storage"
	"github.com/orneryd/quadfork/pkg/transport"
)

// manualScheduler queues tasks until the test runs them.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

func (m *manualScheduler) Schedule(task func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}

// RunPending runs tasks until the queue is empty, including tasks scheduled
// by the ones it runs, and returns how many ran.
func (m *manualScheduler) RunPending() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.tasks) == 0 {
			m.mu.Unlock()
			return n
		}
		task := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.mu.Unlock()

		task()
		n++
	}
}

func (m *manualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// recorder collects every change set delivered to it.
type recorder struct {
	mu    sync.Mutex
	calls []rdf.Changes
}

func (r *recorder) observe(c rdf.Changes) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return nil
}

func (r *recorder) Calls() []rdf.Changes {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rdf.Changes(nil), r.calls...)
}

// pushRecorder is a transport that records diffs and fails graphs on demand.
type pushRecorder struct {
	mu     sync.Mutex
	pushes map[string]rdf.Changes
	fail   map[string]error
	ids    map[string]string
	calls  int32
}

func newPushRecorder() *pushRecorder {
	return &pushRecorder{
		pushes: make(map[string]rdf.Changes),
		fail:   make(map[string]error),
		ids:    make(map[string]string),
	}
}

func (p *pushRecorder) Submit(ctx context.Context, g rdf.Term, deletes, inserts []rdf.Quad) error {
	atomic.AddInt32(&p.calls, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes[g.Value] = rdf.Changes{Inserts: inserts, Deletes: deletes}
	p.ids[g.Value] = transport.RequestID(ctx)
	return p.fail[g.Value]
}

var _ transport.Transport = (*pushRecorder)(nil)

func newTestStore(t *testing.T, tr transport.Transport, opts *Options) (*Store, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.Scheduler = sched
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { engine.Close() })
	store := New(engine, tr, opts)
	t.Cleanup(func() { store.Close() })
	return store, sched
}

var quadCounter int64

// randomQuad returns a fresh quad in a fresh graph.
func randomQuad() rdf.Quad {
	n := atomic.AddInt64(&quadCounter, 1)
	return rdf.NewQuad(
		rdf.NamedNode(fmt.Sprintf("http://subject/%d", n)),
		rdf.NamedNode(fmt.Sprintf("http://predicate/%d", n)),
		rdf.Literal(fmt.Sprintf("literal-%d", n)),
		rdf.NamedNode(fmt.Sprintf("http://graph/%d", n)),
	)
}

func randomQuadIn(g rdf.Term) rdf.Quad {
	return randomQuad().InGraph(g)
}

func mustChanged(t *testing.T, s *Store) []string {
	t.Helper()
	changed, err := s.ChangedGraphs()
	require.NoError(t, err)
	return changed
}
