// Package reachability computes reachable sets and enumerates simple cycles
// over a snapshot's call graph.
package reachability

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/akiramei/funcqc-sub009/internal/logging"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

const (
	DefaultMaxCycles      = 1000
	DefaultMaxCycleLength = 20
	DefaultMaxSearchSteps = 2_000_000
)

// Cycle is a simple cycle as an ordered list of function IDs. The closing
// edge runs from the last node back to the first. Cycles are rotated to
// start at their smallest ID.
type Cycle []string

// Key returns a stable string form of the cycle.
func (c Cycle) Key() string {
	return strings.Join(c, "->")
}

// CycleSearchResult is the outcome of a bounded cycle enumeration.
type CycleSearchResult struct {
	Cycles []Cycle `json:"cycles" toon:"cycles"`
	// Truncated is set when MaxCycles or the search step budget stopped
	// enumeration early.
	Truncated bool `json:"truncated" toon:"truncated"`
	// LengthLimited is set when paths longer than MaxCycleLength were pruned.
	LengthLimited bool `json:"length_limited" toon:"length_limited"`
	// CyclicIDs holds every function on some cycle, from SCC membership and
	// self loops. It is exact even when Cycles is truncated.
	CyclicIDs map[string]bool `json:"-" toon:"-"`
}

// Analyzer runs reachability and cycle searches.
type Analyzer struct {
	logger         *slog.Logger
	maxCycles      int
	maxCycleLength int
	maxSearchSteps int
	minSize        int
}

// Option is a functional option for configuring Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger used for integrity warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logging.OrDiscard(logger)
	}
}

// WithMaxCycles caps the number of cycles returned. Values <= 0 keep the default.
func WithMaxCycles(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxCycles = n
		}
	}
}

// WithMaxCycleLength caps the number of nodes in an enumerated cycle.
// Values <= 0 keep the default.
func WithMaxCycleLength(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxCycleLength = n
		}
	}
}

// WithMaxSearchSteps caps the number of edge expansions of the cycle search.
func WithMaxSearchSteps(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxSearchSteps = n
		}
	}
}

// WithMinSize drops cycles with fewer than n nodes.
func WithMinSize(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.minSize = n
		}
	}
}

// New creates a new reachability analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		logger:         logging.Discard(),
		maxCycles:      DefaultMaxCycles,
		maxCycleLength: DefaultMaxCycleLength,
		maxSearchSteps: DefaultMaxSearchSteps,
		minSize:        1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ReachableFrom returns the transitive closure of entryIDs under
// caller -> callee edges. Entry IDs are always part of the result.
func (a *Analyzer) ReachableFrom(entryIDs map[string]bool, edges []models.CallEdge) map[string]bool {
	starts := sortedKeys(entryIDs)
	g := BuildGraph(edges, starts...)
	bm := g.Reachable(starts)

	reachable := make(map[string]bool, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		reachable[g.ID(it.Next())] = true
	}
	return reachable
}

// Unreachable returns the functions not in reachable, ordered by ID.
func (a *Analyzer) Unreachable(functions []models.FunctionInfo, reachable map[string]bool) []models.FunctionInfo {
	var result []models.FunctionInfo
	seen := make(map[string]bool, len(functions))
	for _, fn := range functions {
		if reachable[fn.ID] || seen[fn.ID] {
			continue
		}
		seen[fn.ID] = true
		result = append(result, fn)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// FindCircularDependencies enumerates simple cycles. External edges are
// excluded. The search only visits strongly connected components, and
// starts each cycle at its smallest node, so every cycle is found once in
// canonical rotation.
func (a *Analyzer) FindCircularDependencies(edges []models.CallEdge) *CycleSearchResult {
	g := BuildGraph(edges)
	res := &CycleSearchResult{CyclicIDs: make(map[string]bool)}
	search := &cycleSearch{
		graph:   g,
		minSize: a.minSize,
		maxLen:  a.maxCycleLength,
		max:     a.maxCycles,
		budget:  a.maxSearchSteps,
		res:     res,
	}

	it := g.selfLoop.Iterator()
	for it.HasNext() {
		i := it.Next()
		res.CyclicIDs[g.ID(i)] = true
		search.emit([]uint32{i})
	}

	components := g.StronglyConnected()
	for _, scc := range components {
		for _, i := range scc {
			res.CyclicIDs[g.ID(i)] = true
		}
	}
	for _, scc := range components {
		if search.done() {
			break
		}
		search.component(scc)
	}

	if res.Truncated {
		a.logger.Warn("cycle enumeration truncated",
			"cycles", len(res.Cycles),
			"max_cycles", a.maxCycles,
			"max_search_steps", a.maxSearchSteps)
	}

	sortCycles(res.Cycles)
	return res
}

// Result bundles a full reachability pass over one snapshot.
type Result struct {
	EntryPoints  map[string]bool
	Reachable    map[string]bool
	Unreachable  []models.FunctionInfo
	Cycles       *CycleSearchResult
	ValidEdges   []models.CallEdge
	SkippedEdges []*analyzer.DataIntegrityError
}

// Analyze validates edges against the known functions, then computes the
// reachable set, unreachable functions and cycles. Edges with unknown
// endpoints are logged and skipped.
func (a *Analyzer) Analyze(functions []models.FunctionInfo, edges []models.CallEdge, entryIDs map[string]bool) *Result {
	idx := analyzer.NewFunctionIndex(functions)
	valid, problems := idx.CheckEdges(edges)
	for _, p := range problems {
		a.logger.Warn("skipping call edge", "caller", p.CallerID, "callee", p.CalleeID, "reason", p.Reason)
	}

	reachable := a.ReachableFrom(entryIDs, valid)
	return &Result{
		EntryPoints:  entryIDs,
		Reachable:    reachable,
		Unreachable:  a.Unreachable(functions, reachable),
		Cycles:       a.FindCircularDependencies(valid),
		ValidEdges:   valid,
		SkippedEdges: problems,
	}
}

type cycleSearch struct {
	graph   *Graph
	minSize int
	maxLen  int
	max     int
	budget  int
	res     *CycleSearchResult
}

func (s *cycleSearch) done() bool {
	return s.res.Truncated
}

// emit records a cycle. Cycles shorter than minSize are dropped before they
// count toward the cap.
func (s *cycleSearch) emit(path []uint32) {
	if len(path) < s.minSize {
		return
	}
	if len(s.res.Cycles) >= s.max {
		s.res.Truncated = true
		return
	}
	c := make(Cycle, len(path))
	for i, n := range path {
		c[i] = s.graph.ID(n)
	}
	s.res.Cycles = append(s.res.Cycles, c)
}

// component enumerates the cycles of one SCC. For each start node it runs a
// DFS with an explicit stack through members greater than the start; a
// cycle is emitted when an edge closes back to the start.
func (s *cycleSearch) component(members []uint32) {
	inSCC := roaring.BitmapOf(members...)
	onPath := roaring.New()

	type frame struct {
		node uint32
		next int
	}

	for _, start := range members {
		stack := []frame{{node: start}}
		path := []uint32{start}
		onPath.Add(start)

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succ := s.graph.Successors(top.node)
			if top.next >= len(succ) {
				onPath.Remove(top.node)
				path = path[:len(path)-1]
				stack = stack[:len(stack)-1]
				continue
			}
			w := succ[top.next]
			top.next++

			s.budget--
			if s.budget < 0 {
				s.res.Truncated = true
				return
			}
			if w == start {
				s.emit(path)
				if s.done() {
					return
				}
				continue
			}
			if w < start || !inSCC.Contains(w) || onPath.Contains(w) {
				continue
			}
			if len(path) >= s.maxLen {
				s.res.LengthLimited = true
				continue
			}
			onPath.Add(w)
			path = append(path, w)
			stack = append(stack, frame{node: w})
		}
	}
}

func sortCycles(cycles []Cycle) {
	sort.Slice(cycles, func(i, j int) bool {
		if len(cycles[i]) != len(cycles[j]) {
			return len(cycles[i]) < len(cycles[j])
		}
		for k := range cycles[i] {
			if cycles[i][k] != cycles[j][k] {
				return cycles[i][k] < cycles[j][k]
			}
		}
		return false
	})
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k, v := range set {
		if v {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
