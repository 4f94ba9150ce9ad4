// Package kernel wraps the Google Mangle engine that holds the extracted
// C# facts and evaluates user Datalog rules against them.
package kernel

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"convlint/internal/logging"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	_ "github.com/google/mangle/packages"
	"github.com/google/mangle/parse"
	"github.com/google/mangle/unionfind"
)

//go:embed schema.mg
var baseSchema string

// Config holds kernel configuration.
type Config struct {
	FactLimit    int           // 0 means unlimited
	QueryTimeout time.Duration // applied when the caller's context has no deadline
	AutoEval     bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FactLimit:    500000,
		QueryTimeout: 30 * time.Second,
		AutoEval:     true,
	}
}

// Engine holds the fact store, the compiled schema and any loaded rules.
type Engine struct {
	config Config

	mu              sync.RWMutex
	store           factstore.ConcurrentFactStore
	baseStore       factstore.FactStoreWithRemove
	programInfo     *analysis.ProgramInfo
	queryContext    *mengine.QueryContext
	predicateIndex  map[string]ast.PredicateSym
	schemaFragments []parse.SourceUnit
	factCount       int
	factLimitWarned bool
	autoEval        bool
	fileFacts       map[string][]ast.Atom
}

// Fact represents a single fact destined for the store.
type Fact struct {
	Predicate string `json:"predicate"`
	Args      []any  `json:"args"`
}

// String returns the Datalog representation of the fact.
func (f Fact) String() string {
	var args []string
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		case bool:
			if v {
				args = append(args, "/true")
			} else {
				args = append(args, "/false")
			}
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// QueryResult represents the result of a kernel query.
type QueryResult struct {
	Bindings []map[string]any `json:"bindings"`
	Duration time.Duration    `json:"duration"`
}

// Stats contains engine statistics.
type Stats struct {
	TotalFacts      int            `json:"total_facts"`
	PredicateCounts map[string]int `json:"predicate_counts"`
}

// NewEngine creates an engine with the embedded convlint schema loaded.
func NewEngine(cfg Config) (*Engine, error) {
	baseStore := factstore.NewSimpleInMemoryStore()
	e := &Engine{
		config:         cfg,
		baseStore:      baseStore,
		store:          factstore.NewConcurrentFactStore(baseStore),
		predicateIndex: make(map[string]ast.PredicateSym),
		autoEval:       cfg.AutoEval,
		fileFacts:      make(map[string][]ast.Atom),
	}
	if err := e.LoadSchemaString(baseSchema); err != nil {
		return nil, fmt.Errorf("load embedded schema: %w", err)
	}
	return e, nil
}

// RecomputeRules forces a re-evaluation of all rules against the fact store.
func (e *Engine) RecomputeRules() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return fmt.Errorf("no schemas loaded")
	}

	timer := logging.StartTimer(logging.CategoryKernel, "RecomputeRules")
	defer timer.StopWithThreshold(5 * time.Second)

	_, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
	return err
}

// LoadSchemaString loads and compiles additional schema or rule text.
func (e *Engine) LoadSchemaString(schema string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(schema)))
	if err != nil {
		return fmt.Errorf("failed to parse schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.schemaFragments = append(e.schemaFragments, unit)
	if err := e.rebuildProgramLocked(); err != nil {
		// Roll back the fragment so a bad rule file cannot poison the engine.
		e.schemaFragments = e.schemaFragments[:len(e.schemaFragments)-1]
		if rerr := e.rebuildProgramLocked(); rerr != nil {
			return fmt.Errorf("failed to analyze schema: %v (rollback also failed: %w)", err, rerr)
		}
		return fmt.Errorf("failed to analyze schema: %w", err)
	}
	return nil
}

// rebuildProgramLocked analyzes all loaded fragments and refreshes indexes.
func (e *Engine) rebuildProgramLocked() error {
	if len(e.schemaFragments) == 0 {
		return fmt.Errorf("no schemas loaded")
	}

	var clauses []ast.Clause
	var decls []ast.Decl
	for _, fragment := range e.schemaFragments {
		clauses = append(clauses, fragment.Clauses...)
		decls = append(decls, fragment.Decls...)
	}

	programInfo, err := analysis.AnalyzeOneUnit(parse.SourceUnit{Clauses: clauses, Decls: decls}, nil)
	if err != nil {
		return err
	}

	e.programInfo = programInfo
	e.predicateIndex = make(map[string]ast.PredicateSym, len(programInfo.Decls))

	predToDecl := make(map[ast.PredicateSym]*ast.Decl, len(programInfo.Decls))
	for sym, decl := range programInfo.Decls {
		e.predicateIndex[sym.Symbol] = sym
		predToDecl[sym] = decl
	}

	predToRules := make(map[ast.PredicateSym][]ast.Clause)
	for _, clause := range programInfo.Rules {
		predToRules[clause.Head.Predicate] = append(predToRules[clause.Head.Predicate], clause)
	}

	e.queryContext = &mengine.QueryContext{
		PredToRules: predToRules,
		PredToDecl:  predToDecl,
		Store:       e.store,
	}
	return nil
}

// AddFact inserts a single fact.
func (e *Engine) AddFact(predicate string, args ...any) error {
	return e.AddFacts([]Fact{{Predicate: predicate, Args: args}})
}

// AddFacts inserts multiple facts (batched).
func (e *Engine) AddFacts(facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return fmt.Errorf("no schemas loaded")
	}

	for _, fact := range facts {
		if err := e.insertFactLocked(fact); err != nil {
			return err
		}
	}

	if e.autoEval {
		_, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
		return err
	}
	return nil
}

// ReplaceFactsForFile retracts all facts whose first argument is the given
// file before inserting the new set. Used for incremental re-lints.
func (e *Engine) ReplaceFactsForFile(file string, facts []Fact) error {
	target := canonicalPath(file)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return fmt.Errorf("no schemas loaded")
	}

	removed := e.removeFactsLocked(target)
	logging.KernelDebug("replaced facts for %s: removed=%d adding=%d", target, removed, len(facts))

	for _, fact := range facts {
		if err := e.insertFactLocked(fact); err != nil {
			return err
		}
	}

	if removed > 0 && (e.config.FactLimit == 0 || float64(e.factCount) < float64(e.config.FactLimit)*0.7) {
		e.factLimitWarned = false
	}

	if e.autoEval {
		_, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
		return err
	}
	return nil
}

func (e *Engine) insertFactLocked(fact Fact) error {
	if e.config.FactLimit > 0 && e.factCount >= e.config.FactLimit {
		return fmt.Errorf("fact limit exceeded: %d", e.config.FactLimit)
	}

	atom, err := e.factToAtomLocked(fact)
	if err != nil {
		return err
	}

	if e.store.Add(atom) {
		e.factCount++
		e.maybeWarnFactLimit()

		// Reverse index keyed on the first argument when it is a path.
		if len(atom.Args) > 0 {
			if str, ok := convertBaseTermToInterface(atom.Args[0]).(string); ok {
				if target := canonicalPath(str); target != "" {
					e.fileFacts[target] = append(e.fileFacts[target], atom)
				}
			}
		}
	}
	return nil
}

func (e *Engine) maybeWarnFactLimit() {
	if e.config.FactLimit == 0 || e.factLimitWarned {
		return
	}
	utilization := float64(e.factCount) / float64(e.config.FactLimit)
	if utilization >= 0.85 {
		logging.Get(logging.CategoryKernel).Warn("fact store is %.1f%% of configured capacity (%d / %d)",
			utilization*100, e.factCount, e.config.FactLimit)
		e.factLimitWarned = true
	}
}

func (e *Engine) factToAtomLocked(fact Fact) (ast.Atom, error) {
	sym, ok := e.predicateIndex[fact.Predicate]
	if !ok {
		return ast.Atom{}, fmt.Errorf("predicate %s is not declared", fact.Predicate)
	}
	if len(fact.Args) != sym.Arity {
		return ast.Atom{}, fmt.Errorf("predicate %s expects %d args, got %d", fact.Predicate, sym.Arity, len(fact.Args))
	}

	args := make([]ast.BaseTerm, len(fact.Args))
	for i, raw := range fact.Args {
		term, err := convertValueToBaseTerm(raw)
		if err != nil {
			return ast.Atom{}, fmt.Errorf("predicate %s arg %d: %w", fact.Predicate, i, err)
		}
		args[i] = term
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

// convertValueToBaseTerm converts a Go value to a Mangle BaseTerm.
// Strings with a leading "/" become name constants; everything else keeps
// its natural type.
func convertValueToBaseTerm(value any) (ast.BaseTerm, error) {
	switch v := value.(type) {
	case ast.BaseTerm:
		return v, nil
	case string:
		if strings.HasPrefix(v, "/") {
			name, err := ast.Name(v)
			if err != nil {
				return nil, err
			}
			return name, nil
		}
		return ast.String(v), nil
	case int:
		return ast.Number(int64(v)), nil
	case int32:
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
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported fact argument type %T", v)
		}
		return ast.String(string(encoded)), nil
	}
}

// Query evaluates a query expressed in Mangle notation, e.g.
// "cs_method(File, ID, Class, Name, Line, Ret, Async, Pub)".
func (e *Engine) Query(ctx context.Context, query string) (*QueryResult, error) {
	shape, err := parseQueryShape(query)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	queryContext := e.queryContext
	if queryContext == nil {
		e.mu.RUnlock()
		return nil, fmt.Errorf("no schemas loaded; cannot execute query")
	}

	decl, ok := queryContext.PredToDecl[shape.atom.Predicate]
	if !ok {
		e.mu.RUnlock()
		return nil, fmt.Errorf("predicate %s is not declared", shape.atom.Predicate.Symbol)
	}

	// EvalQuery only walks PredToRules, so base predicates with no rules
	// would come back empty. Answer those straight from the fact store;
	// bound constants in the query atom still filter.
	if len(queryContext.PredToRules[shape.atom.Predicate]) == 0 {
		e.mu.RUnlock()
		start := time.Now()
		var results []map[string]any
		err := e.store.GetFacts(shape.atom, func(fact ast.Atom) error {
			row := make(map[string]any, len(shape.variables))
			for _, binding := range shape.variables {
				if binding.Index >= len(fact.Args) {
					continue
				}
				row[binding.Name] = convertBaseTermToInterface(fact.Args[binding.Index])
			}
			results = append(results, row)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &QueryResult{Bindings: results, Duration: time.Since(start)}, nil
	}

	if len(decl.Modes()) == 0 {
		e.mu.RUnlock()
		return nil, fmt.Errorf("predicate %s has no modes declared", shape.atom.Predicate.Symbol)
	}
	mode := decl.Modes()[0]
	e.mu.RUnlock()

	if _, ok := ctx.Deadline(); !ok {
		timeout := e.config.QueryTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resultChan := make(chan []map[string]any, 1)
	errChan := make(chan error, 1)

	go func() {
		var results []map[string]any
		err := queryContext.EvalQuery(shape.atom, mode, unionfind.New(), func(fact ast.Atom) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			row := make(map[string]any, len(shape.variables))
			for _, binding := range shape.variables {
				if binding.Index >= len(fact.Args) {
					continue
				}
				row[binding.Name] = convertBaseTermToInterface(fact.Args[binding.Index])
			}
			results = append(results, row)
			return nil
		})
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- results
	}()

	select {
	case results := <-resultChan:
		return &QueryResult{Bindings: results, Duration: time.Since(start)}, nil
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("query timed out after %v: %w", time.Since(start), ctx.Err())
	}
}

// GetFacts retrieves all facts for a given predicate, derived ones included.
func (e *Engine) GetFacts(predicate string) ([]Fact, error) {
	e.mu.RLock()
	sym, ok := e.predicateIndex[predicate]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}

	var results []Fact
	err := e.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]any, len(atom.Args))
		for i, arg := range atom.Args {
			args[i] = convertBaseTermToInterface(arg)
		}
		results = append(results, Fact{Predicate: predicate, Args: args})
		return nil
	})
	return results, err
}

// GetStats returns overall statistics for the fact store.
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	counts := make(map[string]int)
	for _, sym := range e.store.ListPredicates() {
		localCount := 0
		_ = e.store.GetFacts(ast.NewQuery(sym), func(ast.Atom) error {
			localCount++
			return nil
		})
		counts[sym.Symbol] = localCount
	}
	return Stats{
		TotalFacts:      e.store.EstimateFactCount(),
		PredicateCounts: counts,
	}
}

// Clear removes all facts from the store, keeping schemas and rules.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseStore = factstore.NewSimpleInMemoryStore()
	e.store = factstore.NewConcurrentFactStore(e.baseStore)
	e.factCount = 0
	e.fileFacts = make(map[string][]ast.Atom)
	if e.queryContext != nil {
		e.queryContext.Store = e.store
	}
}

type queryVariable struct {
	Name  string
	Index int
}

type queryShape struct {
	atom      ast.Atom
	variables []queryVariable
}

func parseQueryShape(query string) (*queryShape, error) {
	clean := strings.TrimSpace(query)
	if clean == "" {
		return nil, fmt.Errorf("empty query")
	}

	if strings.HasPrefix(clean, "?") {
		clean = strings.TrimSpace(clean[1:])
	}
	if strings.HasSuffix(clean, ".") {
		clean = strings.TrimSpace(clean[:len(clean)-1])
	}

	atom, err := parse.Atom(clean)
	if err != nil {
		atom, err = parse.Atom(clean + ".")
		if err != nil {
			return nil, fmt.Errorf("failed to parse query %q: %w", query, err)
		}
	}

	variables := make([]queryVariable, 0, len(atom.Args))
	for idx, arg := range atom.Args {
		if variable, ok := arg.(ast.Variable); ok {
			variables = append(variables, queryVariable{Name: variable.Symbol, Index: idx})
		}
	}
	return &queryShape{atom: atom, variables: variables}, nil
}

func convertBaseTermToInterface(term ast.BaseTerm) any {
	switch v := term.(type) {
	case ast.Constant:
		return constantToInterface(v)
	case ast.Variable:
		return v.Symbol
	case ast.ApplyFn:
		return v.String()
	default:
		return fmt.Sprintf("%v", term)
	}
}

func constantToInterface(constant ast.Constant) any {
	switch constant.Type {
	case ast.StringType:
		return constant.Symbol
	case ast.NameType:
		return constant.Symbol
	case ast.NumberType:
		return constant.NumValue
	case ast.Float64Type:
		return math.Float64frombits(uint64(constant.NumValue))
	default:
		return constant.String()
	}
}

func (e *Engine) removeFactsLocked(file string) int {
	if file == "" {
		return 0
	}

	target := canonicalPath(file)
	removed := 0

	if atoms, ok := e.fileFacts[target]; ok {
		for _, atom := range atoms {
			if e.baseStore.Remove(atom) {
				if e.factCount > 0 {
					e.factCount--
				}
				removed++
			}
		}
		delete(e.fileFacts, target)
	}
	return removed
}

func canonicalPath(path string) string {
	if path == "" {
		return ""
	}
	clean := filepath.Clean(path)
	return strings.ReplaceAll(clean, "\\", "/")
}
