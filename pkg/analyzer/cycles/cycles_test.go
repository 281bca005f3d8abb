package cycles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiramei/funcqc-sub009/pkg/models"
)

func edge(from, to string) models.CallEdge {
	return models.CallEdge{CallerFunctionID: from, CalleeFunctionID: to, CalleeName: to, CallType: models.CallDirect}
}

func fn(id, file string, complexity int) models.FunctionInfo {
	return models.FunctionInfo{ID: id, Name: id, FilePath: file, StartLine: 1, EndLine: 5, CyclomaticComplexity: complexity}
}

func TestSelfLoopIsRecursiveLow(t *testing.T) {
	functions := []models.FunctionInfo{fn("A", "src/core/a.ts", 2)}
	res := New().AnalyzeClassifiedCycles([]models.CallEdge{edge("A", "A")}, functions, DefaultOptions())

	require.Len(t, res.Cycles, 1)
	c := res.Cycles[0]
	assert.Equal(t, []string{"A"}, c.Nodes)
	assert.Equal(t, models.CycleRecursive, c.Type)
	assert.Equal(t, models.ImportanceLow, c.Importance)
	assert.Contains(t, c.Recommendations, "Verify the recursion has a guaranteed base case")
}

func TestMutualAcrossModulesIsHigh(t *testing.T) {
	functions := []models.FunctionInfo{
		fn("A", "src/core/graph/a.ts", 3),
		fn("B", "src/core/storage/b.ts", 4),
	}
	edges := []models.CallEdge{edge("A", "B"), edge("B", "A")}

	res := New().AnalyzeClassifiedCycles(edges, functions, DefaultOptions())
	require.Len(t, res.Cycles, 1)
	c := res.Cycles[0]
	assert.Equal(t, models.CycleMutual, c.Type)
	assert.True(t, c.CrossModule)
	assert.True(t, c.CrossFile)
	assert.False(t, c.CrossLayer)
	assert.Equal(t, models.ImportanceHigh, c.Importance)
	assert.Equal(t, 2, c.ModuleCount)
	assert.Contains(t, c.Recommendations, "Extract shared logic into a common module")
}

func TestComplexAcrossLayersIsCritical(t *testing.T) {
	functions := []models.FunctionInfo{
		fn("A", "src/cli/a.ts", 3),
		fn("B", "src/core/b.ts", 5),
		fn("C", "src/storage/c.ts", 7),
		fn("D", "src/analyzers/d.ts", 11),
	}
	edges := []models.CallEdge{edge("A", "B"), edge("B", "C"), edge("C", "D"), edge("D", "A")}

	res := New().AnalyzeClassifiedCycles(edges, functions, DefaultOptions())
	require.Len(t, res.Cycles, 1)
	c := res.Cycles[0]
	assert.Equal(t, models.CycleComplex, c.Type)
	assert.Equal(t, models.ImportanceCritical, c.Importance)
	assert.Equal(t, 4, c.LayerCount)
	assert.Equal(t, 26, c.CyclomaticComplexity)
	assert.InDelta(t, 6.5, c.AverageComplexity, 1e-9)
	assert.Equal(t, []string{
		"URGENT: Cross-layer cycle violates architectural boundaries",
		"Introduce an interface or event boundary between layers",
		"Extract shared logic into a common module",
		"Break into smaller, focused components",
	}, c.Recommendations)
	// 7 + min(1.5, 0.75) + min(1.5, 1.3)
	assert.InDelta(t, 9.05, c.Score, 1e-9)
}

func TestSameFileMutualIsLow(t *testing.T) {
	functions := []models.FunctionInfo{fn("A", "src/core/a.ts", 1), fn("B", "src/core/a.ts", 1)}
	res := New().AnalyzeClassifiedCycles([]models.CallEdge{edge("A", "B"), edge("B", "A")}, functions, DefaultOptions())

	require.Len(t, res.Cycles, 1)
	assert.Equal(t, models.ImportanceLow, res.Cycles[0].Importance)
	assert.Contains(t, res.Cycles[0].Recommendations, "Consider merging or inverting the dependency")
}

func TestScoreMonotonic(t *testing.T) {
	base := models.ClassifiedCycle{Nodes: []string{"a", "b"}, Importance: models.ImportanceLow, CyclomaticComplexity: 4}
	prev := Score(base)
	for _, imp := range []models.Importance{models.ImportanceMedium, models.ImportanceHigh, models.ImportanceCritical} {
		c := base
		c.Importance = imp
		s := Score(c)
		assert.Greater(t, s, prev)
		prev = s
	}

	bigger := base
	bigger.Nodes = []string{"a", "b", "c"}
	assert.Greater(t, Score(bigger), Score(base))

	heavy := base
	heavy.CyclomaticComplexity = 20
	assert.Greater(t, Score(heavy), Score(base))

	huge := models.ClassifiedCycle{Nodes: make([]string, 50), Importance: models.ImportanceCritical, CyclomaticComplexity: 1000}
	assert.LessOrEqual(t, Score(huge), 10.0)
}

func TestFilters(t *testing.T) {
	functions := []models.FunctionInfo{
		fn("r", "src/core/r.ts", 1),
		fn("clearCache", "src/core/c.ts", 1),
		fn("x", "src/core/c.ts", 1),
		fn("p", "src/cli/p.ts", 1),
		fn("q", "src/core/q.ts", 1),
	}
	edges := []models.CallEdge{
		edge("r", "r"),
		edge("clearCache", "x"), edge("x", "clearCache"),
		edge("p", "q"), edge("q", "p"),
	}

	tests := []struct {
		name     string
		opts     func(*Options)
		want     int
		excluded func(FilterStats) int
		dropped  int
	}{
		{"exclude recursive", func(o *Options) { o.ExcludeRecursive = true }, 2, func(s FilterStats) int { return s.ExcludedByRecursive }, 1},
		{"exclude clear", func(o *Options) { o.ExcludeClear = true }, 2, func(s FilterStats) int { return s.ExcludedByClear }, 1},
		{"min complexity", func(o *Options) { o.MinComplexity = 2 }, 2, func(s FilterStats) int { return s.ExcludedByMinComplexity }, 1},
		{"cross layer only", func(o *Options) { o.CrossLayerOnly = true }, 1, func(s FilterStats) int { return s.ExcludedByCrossLayerOnly }, 2},
		{"recursive only", func(o *Options) { o.RecursiveOnly = true }, 1, func(s FilterStats) int { return s.ExcludedByRecursiveOnly }, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.opts(&opts)
			res := New().AnalyzeClassifiedCycles(edges, functions, opts)
			assert.Len(t, res.Cycles, tt.want)
			assert.Equal(t, 3, res.FilterStats.TotalCycles)
			assert.Equal(t, tt.want, res.FilterStats.FilteredCycles)
			assert.Equal(t, tt.dropped, tt.excluded(res.FilterStats))
		})
	}
}

func TestLimitAndSummary(t *testing.T) {
	functions := []models.FunctionInfo{
		fn("a", "src/core/a.ts", 1),
		fn("b", "src/cli/b.ts", 1),
		fn("c", "src/core/c.ts", 1),
	}
	edges := []models.CallEdge{edge("a", "a"), edge("a", "b"), edge("b", "a"), edge("c", "c")}

	opts := DefaultOptions()
	opts.Limit = 2
	res := New().AnalyzeClassifiedCycles(edges, functions, opts)

	require.Len(t, res.Cycles, 2)
	assert.Equal(t, models.ImportanceCritical, res.Cycles[0].Importance)
	assert.Equal(t, 1, res.FilterStats.LimitedOut)
	assert.Equal(t, ImportanceSummary{Critical: 1, Low: 1, Recursive: 1, Mutual: 1}, res.Summary)
}

func TestDeterministicOrdering(t *testing.T) {
	functions := []models.FunctionInfo{
		fn("a", "src/core/a.ts", 1), fn("b", "src/core/a.ts", 1),
		fn("c", "src/core/a.ts", 1), fn("d", "src/core/a.ts", 1),
	}
	edges := []models.CallEdge{edge("a", "b"), edge("b", "a"), edge("c", "d"), edge("d", "c")}

	first := New().AnalyzeClassifiedCycles(edges, functions, DefaultOptions())
	require.Len(t, first.Cycles, 2)
	assert.Equal(t, first.Cycles[0].Score, first.Cycles[1].Score)
	assert.Less(t, first.Cycles[0].ID, first.Cycles[1].ID)

	for i := 0; i < 5; i++ {
		again := New().AnalyzeClassifiedCycles(edges, functions, DefaultOptions())
		assert.Equal(t, first, again)
	}
}

func TestCycleID(t *testing.T) {
	id := CycleID([]string{"a", "b"})
	assert.Regexp(t, `^cycle-[0-9a-f]{16}$`, id)
	assert.Equal(t, id, CycleID([]string{"a", "b"}))
	assert.NotEqual(t, id, CycleID([]string{"ab"}))
}

func TestIsClearFunction(t *testing.T) {
	for _, name := range []string{"clear", "Clear", "reset", "clearCache", "resetState", "dispose", "closeAll", "teardown"} {
		assert.True(t, IsClearFunction(name), name)
	}
	for _, name := range []string{"clearance", "resets", "closet", "compute"} {
		assert.False(t, IsClearFunction(name), name)
	}
}

func TestBoundaries(t *testing.T) {
	b := NewBoundaries("/repo", nil)
	tests := []struct {
		path   string
		layer  string
		module string
	}{
		{"src/cli/x.ts", "cli", "cli"},
		{"src/core/graph/x.ts", "core", "core/graph"},
		{"src/core/graph/deep/x.ts", "core", "core/graph"},
		{"/repo/src/storage/db.ts", "storage", "storage"},
		{"internal/store/sqlite.go", "store", "store"},
		{"main.go", rootLayer, rootLayer},
		{"src/index.ts", rootLayer, rootLayer},
		{"tools/gen/x.go", "tools", "tools/gen"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.layer, b.Layer(tt.path), tt.path)
		assert.Equal(t, tt.module, b.Module(tt.path), tt.path)
	}
}

func TestLayerTable(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "layers.yaml")
	content := "layers:\n  - pattern: \"src/cli/**\"\n    layer: presentation\n  - pattern: \"src/*/db.ts\"\n    layer: data\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	table, err := LoadLayerTable(file)
	require.NoError(t, err)
	require.Len(t, table, 2)

	b := NewBoundaries("", table)
	assert.Equal(t, "presentation", b.Layer("src/cli/commands/x.ts"))
	assert.Equal(t, "presentation/cli/commands", b.Module("src/cli/commands/x.ts"))
	assert.Equal(t, "data", b.Layer("src/core/db.ts"))
	assert.Equal(t, "core", b.Layer("src/core/other.ts"))

	_, err = LoadLayerTable(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDanglingEdgesSkipped(t *testing.T) {
	functions := []models.FunctionInfo{fn("a", "src/core/a.ts", 1)}
	res := New().AnalyzeClassifiedCycles([]models.CallEdge{edge("a", "ghost"), edge("ghost", "a")}, functions, DefaultOptions())
	assert.Empty(t, res.Cycles)
}
