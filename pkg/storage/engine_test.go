package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/quadfork/pkg/rdf"
)

var (
	exS1 = rdf.NamedNode("http://example.org/s1")
	exS2 = rdf.NamedNode("http://example.org/s2")
	exP  = rdf.NamedNode("http://example.org/p")
	exQ  = rdf.NamedNode("http://example.org/q")
	exG1 = rdf.NamedNode("http://example.org/g1")
	exG2 = rdf.NamedNode("http://example.org/g2")
)

// engineFactories lists every Engine implementation the shared suite runs against.
func engineFactories(t *testing.T) map[string]func() Engine {
	return map[string]func() Engine{
		"memory": func() Engine { return NewMemoryEngine() },
		"badger": func() Engine {
			engine, err := NewBadgerEngineInMemory()
			require.NoError(t, err)
			return engine
		},
	}
}

func TestEngineConformance(t *testing.T) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("add_is_idempotent", func(t *testing.T) {
				engine := factory()
				defer engine.Close()

				q := rdf.NewQuad(exS1, exP, rdf.Literal("1"), exG1)
				require.NoError(t, engine.Add(q))
				require.NoError(t, engine.Add(q))
				require.NoError(t, engine.Add(rdf.NewQuad(exS1, exP, rdf.Literal(1), exG1)))

				count, err := engine.Count()
				require.NoError(t, err)
				assert.Equal(t, int64(1), count)

				matches, err := engine.Match(rdf.Any)
				require.NoError(t, err)
				require.Len(t, matches, 1)
				assert.Equal(t, rdf.XSDString, matches[0].Object.Datatype, "first stored copy wins")
			})

			t.Run("language_tags_are_distinct", func(t *testing.T) {
				engine := factory()
				defer engine.Close()

				fr := rdf.NewQuad(exS1, exP, rdf.LangLiteral("chat", "fr"), exG1)
				en := rdf.NewQuad(exS1, exP, rdf.LangLiteral("chat", "en"), exG1)
				require.NoError(t, engine.BulkAdd([]rdf.Quad{fr, en}))

				count, err := engine.Count()
				require.NoError(t, err)
				assert.Equal(t, int64(2), count)

				matches, err := engine.Match(rdf.Pattern{Object: rdf.LangLiteral("chat", "en")})
				require.NoError(t, err)
				assert.Equal(t, []rdf.Quad{en}, matches)
			})

			t.Run("remove_reports_absence", func(t *testing.T) {
				engine := factory()
				defer engine.Close()

				q := rdf.NewQuad(exS1, exP, rdf.Literal("1"), exG1)
				err := engine.Remove(q)
				assert.True(t, IsNotFound(err))

				require.NoError(t, engine.Add(q))
				require.NoError(t, engine.Remove(rdf.NewQuad(exS1, exP, rdf.Literal(1), exG1)))

				count, err := engine.Count()
				require.NoError(t, err)
				assert.Zero(t, count)
			})

			t.Run("match_by_pattern", func(t *testing.T) {
				engine := factory()
				defer engine.Close()

				require.NoError(t, engine.BulkAdd([]rdf.Quad{
					rdf.NewQuad(exS1, exP, rdf.Literal("a"), exG1),
					rdf.NewQuad(exS1, exQ, rdf.Literal("b"), exG1),
					rdf.NewQuad(exS2, exP, rdf.Literal("c"), exG1),
					rdf.NewQuad(exS1, exP, rdf.Literal("a"), exG2),
					rdf.NewQuad(exS2, exP, exS1, exG2),
				}))

				cases := []struct {
					name    string
					pattern rdf.Pattern
					want    int
				}{
					{"everything", rdf.Any, 5},
					{"graph", rdf.Any.InGraph(exG1), 3},
					{"subject", rdf.Pattern{Subject: exS1}, 3},
					{"subject_in_graph", rdf.Pattern{Subject: exS1, Graph: exG2}, 1},
					{"predicate", rdf.Pattern{Predicate: exP}, 4},
					{"object_literal", rdf.Pattern{Object: rdf.Literal("a")}, 2},
					{"object_node", rdf.Pattern{Object: exS1}, 1},
					{"predicate_in_graph", rdf.Pattern{Predicate: exQ, Graph: exG1}, 1},
					{"exact", rdf.Pattern{Subject: exS2, Predicate: exP, Object: rdf.Literal("c"), Graph: exG1}, 1},
					{"no_match", rdf.Pattern{Subject: exS2, Graph: exG1, Predicate: exQ}, 0},
				}
				for _, tc := range cases {
					t.Run(tc.name, func(t *testing.T) {
						matches, err := engine.Match(tc.pattern)
						require.NoError(t, err)
						assert.Len(t, matches, tc.want)
						for _, m := range matches {
							assert.True(t, tc.pattern.Matches(m), "unexpected match %s", m)
						}
					})
				}
			})

			t.Run("remove_matches_and_graphs", func(t *testing.T) {
				engine := factory()
				defer engine.Close()

				require.NoError(t, engine.BulkAdd([]rdf.Quad{
					rdf.NewQuad(exS1, exP, rdf.Literal("a"), exG1),
					rdf.NewQuad(exS2, exP, rdf.Literal("b"), exG1),
					rdf.NewQuad(exS1, exP, rdf.Literal("a"), exG2),
				}))

				graphs, err := engine.Graphs()
				require.NoError(t, err)
				assert.Equal(t, []string{exG1.Value, exG2.Value}, graphs)

				n, err := engine.RemoveMatches(rdf.Any.InGraph(exG1))
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				graphs, err = engine.Graphs()
				require.NoError(t, err)
				assert.Equal(t, []string{exG2.Value}, graphs)

				n, err = engine.RemoveMatches(rdf.Any.InGraph(exG1))
				require.NoError(t, err)
				assert.Zero(t, n)
			})

			t.Run("rejects_invalid_quads", func(t *testing.T) {
				engine := factory()
				defer engine.Close()

				err := engine.Add(rdf.NewQuad(rdf.Literal("s"), exP, rdf.Literal("o"), exG1))
				assert.ErrorIs(t, err, ErrInvalidQuad)

				err = engine.Add(rdf.NewQuad(exS1, exP, rdf.Literal("o"), rdf.Term{}))
				assert.ErrorIs(t, err, ErrInvalidQuad)

				err = engine.BulkAdd([]rdf.Quad{
					rdf.NewQuad(exS1, exP, rdf.Literal("o"), exG1),
					rdf.NewQuad(exS1, exP, rdf.Term{}, exG1),
				})
				assert.ErrorIs(t, err, ErrInvalidQuad)

				count, err := engine.Count()
				require.NoError(t, err)
				assert.Zero(t, count, "bulk add is all or nothing")
			})

			t.Run("closed_engine", func(t *testing.T) {
				engine := factory()
				require.NoError(t, engine.Close())

				_, err := engine.Match(rdf.Any)
				assert.ErrorIs(t, err, ErrStorageClosed)
				assert.ErrorIs(t, engine.Add(rdf.NewQuad(exS1, exP, exS2, exG1)), ErrStorageClosed)
			})
		})
	}
}

func TestMemoryEngine_InsertionOrder(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, engine.Add(rdf.NewQuad(exS1, exP, rdf.Literal(i), exG1)))
	}

	matches, err := engine.Match(rdf.Any.InGraph(exG1))
	require.NoError(t, err)
	require.Len(t, matches, 20)
	for i, m := range matches {
		assert.Equal(t, fmt.Sprint(i), m.Object.Value)
	}
}

func TestBadgerEngine_Persistence(t *testing.T) {
	dir := t.TempDir()

	engine, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	q := rdf.NewQuad(exS1, exP, rdf.LangLiteral("hallo", "de"), exG1)
	require.NoError(t, engine.Add(q))
	require.NoError(t, engine.Sync())
	require.NoError(t, engine.Close())

	reopened, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	defer reopened.Close()

	matches, err := reopened.Match(rdf.Pattern{Subject: exS1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, q, matches[0])
}

func TestBadgerEngine_TermCache(t *testing.T) {
	engine, err := NewBadgerEngineWithOptions(BadgerOptions{InMemory: true, TermCacheSize: 16})
	require.NoError(t, err)
	defer engine.Close()

	q := rdf.NewQuad(exS1, exP, rdf.Literal(42), exG1)
	require.NoError(t, engine.Add(q))

	first, err := engine.Match(rdf.Any)
	require.NoError(t, err)
	misses := engine.TermCacheStats().Misses
	assert.Equal(t, uint64(4), misses)

	second, err := engine.Match(rdf.Any)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats := engine.TermCacheStats()
	assert.Equal(t, misses, stats.Misses, "second read decodes nothing")
	assert.Equal(t, uint64(4), stats.Hits)
	assert.Equal(t, 4, stats.Size)
}

func TestBadgerEngine_DiskSize(t *testing.T) {
	engine, err := NewBadgerEngine(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, engine.Add(rdf.NewQuad(exS1, exP, rdf.Literal("sized"), exG1)))
	size, err := engine.DiskSize()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, int64(0))

	require.NoError(t, engine.Close())
	_, err = engine.DiskSize()
	assert.ErrorIs(t, err, ErrStorageClosed)
}
