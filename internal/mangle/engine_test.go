package mangle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
Decl edge(From, To, RelType) descr [mode("+", "-", "-")].
Decl connected(From, To) descr [mode("+", "-")].
connected(X, Y) :- edge(X, Y, T).
connected(X, Z) :- edge(X, Y, T), connected(Y, Z).
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, e.LoadSchemaString(testSchema))
	return e
}

func TestAddFactsAndDirectQuery(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.AddFacts([]Fact{
		{Predicate: "edge", Args: []any{"auth-service", "jwt-lib", "depends_on"}},
		{Predicate: "edge", Args: []any{"auth-service", "user-db", "reads_from"}},
	}))

	res, err := e.Query(context.Background(), `edge("auth-service", Y, T)`)
	require.NoError(t, err)
	assert.Len(t, res.Bindings, 2)
}

func TestTransitiveClosure(t *testing.T) {
	e := newTestEngine(t)

	// auth -> jwt -> crypto; auth -> db. Closure from auth covers all three.
	require.NoError(t, e.AddFacts([]Fact{
		{Predicate: "edge", Args: []any{"auth", "jwt", "depends_on"}},
		{Predicate: "edge", Args: []any{"jwt", "crypto", "depends_on"}},
		{Predicate: "edge", Args: []any{"auth", "db", "reads_from"}},
	}))

	res, err := e.Query(context.Background(), `connected("auth", Y)`)
	require.NoError(t, err)

	reached := make(map[string]bool)
	for _, row := range res.Bindings {
		reached[row["Y"].(string)] = true
	}
	assert.True(t, reached["jwt"])
	assert.True(t, reached["crypto"])
	assert.True(t, reached["db"])
	assert.False(t, reached["auth"], "no self-edge was asserted")
}

func TestClosureRecomputedPerBatch(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.AddFact("edge", "a", "b", "depends_on"))
	res, err := e.Query(context.Background(), `connected("a", Y)`)
	require.NoError(t, err)
	assert.Len(t, res.Bindings, 1)

	// A later batch extends the chain; the closure must pick it up.
	require.NoError(t, e.AddFact("edge", "b", "c", "depends_on"))
	res, err = e.Query(context.Background(), `connected("a", Y)`)
	require.NoError(t, err)
	assert.Len(t, res.Bindings, 2)
}

func TestUndeclaredPredicateRejected(t *testing.T) {
	e := newTestEngine(t)

	err := e.AddFact("unknown_pred", "x")
	require.Error(t, err)

	_, err = e.Query(context.Background(), `unknown_pred(X)`)
	require.Error(t, err)
}

func TestArityMismatchRejected(t *testing.T) {
	e := newTestEngine(t)
	err := e.AddFact("edge", "only-one-arg")
	require.Error(t, err)
}

func TestClearKeepsSchema(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.AddFact("edge", "a", "b", "depends_on"))
	require.Equal(t, 1, e.GetStats().PredicateCounts["edge"])

	e.Clear()
	assert.Equal(t, 0, e.GetStats().TotalFacts)

	// Schema survives: the same predicate is immediately usable again.
	require.NoError(t, e.AddFact("edge", "c", "d", "depends_on"))
	res, err := e.Query(context.Background(), `connected("c", Y)`)
	require.NoError(t, err)
	assert.Len(t, res.Bindings, 1)
}

func TestFactLimitEnforced(t *testing.T) {
	e, err := NewEngine(Config{FactLimit: 2})
	require.NoError(t, err)
	require.NoError(t, e.LoadSchemaString(testSchema))

	require.NoError(t, e.AddFact("edge", "a", "b", "t"))
	require.NoError(t, e.AddFact("edge", "b", "c", "t"))
	require.Error(t, e.AddFact("edge", "c", "d", "t"))
}

func TestGetFactsRoundtrip(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddFact("edge", "m1", "m2", "supersedes"))

	facts, err := e.GetFacts("edge")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, []any{"m1", "m2", "supersedes"}, facts[0].Args)
}
