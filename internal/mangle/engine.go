// Package mangle embeds the Google Mangle Datalog engine as agentmem's
// graph-reachability kernel. The graph layer declares a small edge/connected
// schema, bulk-loads a project's relations as facts, and asks for the
// transitive closure; this wrapper owns schema compilation, typed fact
// conversion, and bounded query evaluation over an in-memory fact store.
package mangle

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"github.com/google/mangle/unionfind"
)

// Config bounds the kernel: a fact-count ceiling (0 = unlimited) and a
// default per-query timeout applied when the caller's context has none.
type Config struct {
	FactLimit    int
	QueryTimeout time.Duration
}

// DefaultConfig sizes the kernel for a single project's entity graph.
func DefaultConfig() Config {
	return Config{FactLimit: 100000, QueryTimeout: 30 * time.Second}
}

// Fact is one ground atom to insert: a declared predicate plus its
// arguments (strings, ints, floats, bools).
type Fact struct {
	Predicate string `json:"predicate"`
	Args      []any  `json:"args"`
}

// QueryResult carries the variable bindings produced by one query.
type QueryResult struct {
	Bindings []map[string]any `json:"bindings"`
	Duration time.Duration    `json:"duration"`
}

// Stats reports the fact store's current contents.
type Stats struct {
	TotalFacts      int            `json:"total_facts"`
	PredicateCounts map[string]int `json:"predicate_counts"`
}

// Engine holds the compiled schema fragments, the fact store, and the
// query context rebuilt after each schema load.
type Engine struct {
	cfg Config

	mu           sync.RWMutex
	store        factstore.ConcurrentFactStore
	baseStore    factstore.FactStoreWithRemove
	programInfo  *analysis.ProgramInfo
	queryContext *mengine.QueryContext
	predicates   map[string]ast.PredicateSym
	fragments    []parse.SourceUnit
	factCount    int
}

// NewEngine constructs an empty kernel; load a schema before adding facts.
func NewEngine(cfg Config) (*Engine, error) {
	base := factstore.NewSimpleInMemoryStore()
	return &Engine{
		cfg:        cfg,
		baseStore:  base,
		store:      factstore.NewConcurrentFactStore(base),
		predicates: make(map[string]ast.PredicateSym),
	}, nil
}

// LoadSchemaString parses and compiles one schema fragment (Decls plus
// rules) on top of anything loaded before it.
func (e *Engine) LoadSchemaString(schema string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(schema)))
	if err != nil {
		return fmt.Errorf("mangle: parse schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.fragments = append(e.fragments, unit)
	if err := e.recompileLocked(); err != nil {
		return fmt.Errorf("mangle: analyze schema: %w", err)
	}
	return nil
}

// recompileLocked re-analyzes every loaded fragment and rebuilds the
// predicate index and query context. Must be called with mu held.
func (e *Engine) recompileLocked() error {
	var clauses []ast.Clause
	var decls []ast.Decl
	for _, f := range e.fragments {
		clauses = append(clauses, f.Clauses...)
		decls = append(decls, f.Decls...)
	}

	info, err := analysis.AnalyzeOneUnit(parse.SourceUnit{Clauses: clauses, Decls: decls}, nil)
	if err != nil {
		return err
	}
	e.programInfo = info

	e.predicates = make(map[string]ast.PredicateSym, len(info.Decls))
	predToDecl := make(map[ast.PredicateSym]*ast.Decl, len(info.Decls))
	for sym, decl := range info.Decls {
		e.predicates[sym.Symbol] = sym
		predToDecl[sym] = decl
	}

	predToRules := make(map[ast.PredicateSym][]ast.Clause)
	for _, clause := range info.Rules {
		predToRules[clause.Head.Predicate] = append(predToRules[clause.Head.Predicate], clause)
	}

	e.queryContext = &mengine.QueryContext{
		PredToRules: predToRules,
		PredToDecl:  predToDecl,
		Store:       e.store,
	}
	return nil
}

// AddFact inserts one fact and re-evaluates the rules.
func (e *Engine) AddFact(predicate string, args ...any) error {
	return e.AddFacts([]Fact{{Predicate: predicate, Args: args}})
}

// AddFacts inserts a batch of facts, then evaluates the program once so
// derived predicates (the connected/2 closure) reflect the whole batch.
func (e *Engine) AddFacts(facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return fmt.Errorf("mangle: no schema loaded")
	}

	for _, f := range facts {
		if e.cfg.FactLimit > 0 && e.factCount >= e.cfg.FactLimit {
			return fmt.Errorf("mangle: fact limit %d exceeded", e.cfg.FactLimit)
		}
		atom, err := e.toAtomLocked(f)
		if err != nil {
			return err
		}
		if e.store.Add(atom) {
			e.factCount++
		}
	}

	_, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
	return err
}

func (e *Engine) toAtomLocked(f Fact) (ast.Atom, error) {
	sym, ok := e.predicates[f.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("mangle: predicate %s not declared", f.Predicate)
	}
	if len(f.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("mangle: %s expects %d args, got %d", f.Predicate, sym.Arity, len(f.Args))
	}

	args := make([]ast.BaseTerm, len(f.Args))
	for i, raw := range f.Args {
		term, err := toBaseTerm(raw)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("mangle: %s arg %d: %w", f.Predicate, i, err)
		}
		args[i] = term
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

// toBaseTerm converts a Go value to a Mangle constant. Plain strings stay
// /string constants so fact args and parsed query literals compare equal;
// a leading "/" opts into a name constant explicitly.
func toBaseTerm(value any) (ast.BaseTerm, error) {
	switch v := value.(type) {
	case ast.BaseTerm:
		return v, nil
	case string:
		if strings.HasPrefix(v, "/") {
			return ast.Name(v)
		}
		return ast.String(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case int64:
		return ast.Number(v), nil
	case float64:
		return ast.Float64(v), nil
	case bool:
		if v {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	default:
		return nil, fmt.Errorf("unsupported fact argument type %T", v)
	}
}

// Query evaluates a single-atom query like `connected("3", Y)`, binding
// every variable position and returning one row per derived fact.
func (e *Engine) Query(ctx context.Context, query string) (*QueryResult, error) {
	atom, vars, err := parseQueryAtom(query)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	qc := e.queryContext
	if qc == nil {
		e.mu.RUnlock()
		return nil, fmt.Errorf("mangle: no schema loaded")
	}
	decl, ok := qc.PredToDecl[atom.Predicate]
	if !ok {
		e.mu.RUnlock()
		return nil, fmt.Errorf("mangle: predicate %s not declared", atom.Predicate.Symbol)
	}
	if len(decl.Modes()) == 0 {
		e.mu.RUnlock()
		return nil, fmt.Errorf("mangle: predicate %s has no modes declared", atom.Predicate.Symbol)
	}
	mode := decl.Modes()[0]
	e.mu.RUnlock()

	if _, ok := ctx.Deadline(); !ok && e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	var rows []map[string]any
	err = qc.EvalQuery(atom, mode, unionfind.New(), func(fact ast.Atom) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := make(map[string]any, len(vars))
		for _, v := range vars {
			if v.index < len(fact.Args) {
				row[v.name] = fromBaseTerm(fact.Args[v.index])
			}
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mangle: eval %q: %w", query, err)
	}
	return &QueryResult{Bindings: rows, Duration: time.Since(start)}, nil
}

// GetFacts returns every stored fact for one predicate.
func (e *Engine) GetFacts(predicate string) ([]Fact, error) {
	e.mu.RLock()
	sym, ok := e.predicates[predicate]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mangle: predicate %s not declared", predicate)
	}

	var out []Fact
	err := e.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]any, len(atom.Args))
		for i, a := range atom.Args {
			args[i] = fromBaseTerm(a)
		}
		out = append(out, Fact{Predicate: predicate, Args: args})
		return nil
	})
	return out, err
}

// GetStats counts stored facts per predicate.
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	counts := make(map[string]int)
	for _, sym := range e.store.ListPredicates() {
		n := 0
		_ = e.store.GetFacts(ast.NewQuery(sym), func(ast.Atom) error {
			n++
			return nil
		})
		counts[sym.Symbol] = n
	}
	return Stats{TotalFacts: e.store.EstimateFactCount(), PredicateCounts: counts}
}

// Clear drops every fact, keeping the compiled schema. The graph layer
// calls this before re-hydrating a project's edges.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseStore = factstore.NewSimpleInMemoryStore()
	e.store = factstore.NewConcurrentFactStore(e.baseStore)
	e.factCount = 0
	if e.queryContext != nil {
		e.queryContext.Store = e.store
	}
}

type queryVar struct {
	name  string
	index int
}

func parseQueryAtom(query string) (ast.Atom, []queryVar, error) {
	clean := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), "."))
	if clean == "" {
		return ast.Atom{}, nil, fmt.Errorf("mangle: empty query")
	}
	atom, err := parse.Atom(clean)
	if err != nil {
		return ast.Atom{}, nil, fmt.Errorf("mangle: parse query %q: %w", query, err)
	}
	vars := make([]queryVar, 0, len(atom.Args))
	for i, arg := range atom.Args {
		if v, ok := arg.(ast.Variable); ok {
			vars = append(vars, queryVar{name: v.Symbol, index: i})
		}
	}
	return atom, vars, nil
}

func fromBaseTerm(term ast.BaseTerm) any {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", term)
	}
	switch c.Type {
	case ast.StringType, ast.NameType, ast.BytesType:
		return c.Symbol
	case ast.NumberType:
		return c.NumValue
	case ast.Float64Type:
		return math.Float64frombits(uint64(c.NumValue))
	default:
		return c.String()
	}
}
