// Package deletion selects dead functions and removes them from source
// files in validated, individually reversible batches.
package deletion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/akiramei/funcqc-sub009/internal/logging"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/depmetrics"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/entrypoint"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/reachability"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/typesafety"
	"github.com/akiramei/funcqc-sub009/pkg/models"
	"github.com/akiramei/funcqc-sub009/pkg/validation"
)

// Candidate confidence by reason, before the exported penalty.
const (
	unreachableConfidence = 0.95
	isolatedConfidence    = 0.90
	lowCallerConfidence   = 0.75
	exportedPenalty       = 0.25
)

// Protector scores type-safety evidence for candidate functions.
type Protector interface {
	AnalyzeMany(ctx context.Context, fns []models.FunctionInfo, snapshotID string) []typesafety.Result
}

// ConfirmFunc is asked before any file is touched. Returning false ends the
// run as a preview.
type ConfirmFunc func(candidates []models.DeletionCandidate) bool

// System runs safe deletion.
type System struct {
	protector Protector
	validator validation.Validator
	confirm   ConfirmFunc
	logger    *slog.Logger
}

// Option is a functional option for configuring System.
type Option func(*System)

// WithValidator sets the validation port.
func WithValidator(v validation.Validator) Option {
	return func(s *System) {
		s.validator = v
	}
}

// WithConfirm sets the confirmation hook.
func WithConfirm(fn ConfirmFunc) Option {
	return func(s *System) {
		s.confirm = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *System) {
		s.logger = logging.OrDiscard(logger)
	}
}

// New creates a deletion system. A nil protector disables type-safety
// protection.
func New(protector Protector, opts ...Option) *System {
	s := &System{
		protector: protector,
		validator: validation.Noop{},
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProtectedFunction is a would-be candidate kept because of type evidence.
type ProtectedFunction struct {
	Function models.FunctionInfo `json:"function" toon:"function"`
	Safety   typesafety.Result   `json:"safety" toon:"safety"`
}

// Analysis is the ANALYZE stage output.
type Analysis struct {
	Candidates   []models.DeletionCandidate     `json:"candidates" toon:"candidates"`
	Protected    []ProtectedFunction            `json:"protected" toon:"protected"`
	Warnings     []string                       `json:"warnings" toon:"warnings"`
	SkippedEdges []*analyzer.DataIntegrityError `json:"-" toon:"-"`
}

// Analyze selects deletion candidates without touching any file.
func (s *System) Analyze(ctx context.Context, functions []models.FunctionInfo, edges []models.CallEdge, opts Options) (*Analysis, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	idx := analyzer.NewFunctionIndex(functions)
	valid, problems := idx.CheckEdges(edges)
	for _, p := range problems {
		s.logger.Warn("skipping call edge", "caller", p.CallerID, "callee", p.CalleeID, "reason", p.Reason)
	}
	out := &Analysis{SkippedEdges: problems}

	// Test functions keep their callees alive unless tests are themselves
	// candidates.
	detector := entrypoint.New(
		entrypoint.WithExcludeTests(!opts.ExcludeTests),
		entrypoint.WithExtraPatterns(opts.EntryPatterns...),
	)
	entries := make(map[string]bool)
	for _, ep := range detector.Detect(functions) {
		if opts.IncludeExports && len(ep.Reasons) == 1 && ep.Reasons[0] == entrypoint.ReasonExported {
			continue
		}
		entries[ep.FunctionID] = true
	}

	reachable := reachability.New(reachability.WithLogger(s.logger)).ReachableFrom(entries, valid)
	metrics := depmetrics.New().CalculateMetrics(functions, valid, entries, nil)
	metricByID := make(map[string]models.DependencyMetrics, len(metrics))
	for _, m := range metrics {
		metricByID[m.FunctionID] = m
	}

	inbound := make(map[string][]models.CallEdge)
	for _, e := range valid {
		if e.IsInternal() && e.CalleeFunctionID != e.CallerFunctionID {
			inbound[e.CalleeFunctionID] = append(inbound[e.CalleeFunctionID], e)
		}
	}

	var pending []models.DeletionCandidate
	for _, id := range idx.IDs() {
		fn, _ := idx.Get(id)
		if entries[id] {
			continue
		}
		reason, ok := classify(metricByID[id], reachable[id], inbound[id], opts.ConfidenceThreshold)
		if !ok {
			continue
		}
		if why, skip := excluded(fn, opts); skip {
			s.logger.Debug("candidate excluded", "function", id, "rule", why)
			continue
		}
		c := models.DeletionCandidate{
			Function:        *fn,
			Reason:          reason,
			ConfidenceScore: candidateConfidence(reason, fn.IsExported),
			CallersCount:    distinctCallers(inbound[id]),
		}
		c.EstimatedImpact = estimateImpact(c.CallersCount, fn.LineCount())
		if c.ConfidenceScore < opts.CandidateMinConfidence {
			continue
		}
		pending = append(pending, c)
	}

	out.Candidates = s.filterProtected(ctx, pending, opts, out)
	sortCandidates(out.Candidates)
	return out, nil
}

func (s *System) filterProtected(ctx context.Context, pending []models.DeletionCandidate, opts Options, out *Analysis) []models.DeletionCandidate {
	kept := make([]models.DeletionCandidate, 0, len(pending))
	if s.protector == nil || len(pending) == 0 {
		return append(kept, pending...)
	}

	fns := make([]models.FunctionInfo, len(pending))
	for i, c := range pending {
		fns[i] = c.Function
	}
	results := s.protector.AnalyzeMany(ctx, fns, opts.SnapshotID)
	for i, c := range pending {
		r := results[i]
		if r.Err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("type evidence unavailable for %s: %v", c.Function.DisplayName(), r.Err))
		}
		if r.Protected(opts.ProtectionThreshold) {
			s.logger.Info("function protected by type evidence", "function", c.Function.ID, "score", r.ConfidenceScore)
			out.Protected = append(out.Protected, ProtectedFunction{Function: c.Function, Safety: r})
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func classify(m models.DependencyMetrics, reachable bool, inbound []models.CallEdge, threshold float64) (models.DeletionReason, bool) {
	switch {
	case m.IsIsolated():
		return models.ReasonIsolated, true
	case !reachable:
		return models.ReasonUnreachable, true
	case len(inbound) > 0 && allLowConfidence(inbound, threshold):
		return models.ReasonNoHighConfidenceCallers, true
	}
	return "", false
}

// IsLowConfidence reports whether an edge is too weak to keep its callee alive.
func IsLowConfidence(e models.CallEdge, threshold float64) bool {
	switch e.CallType {
	case models.CallVirtual, models.CallExternal, models.CallConditional:
		return true
	}
	return e.EffectiveConfidence() < threshold
}

func allLowConfidence(edges []models.CallEdge, threshold float64) bool {
	for _, e := range edges {
		if !IsLowConfidence(e, threshold) {
			return false
		}
	}
	return true
}

func distinctCallers(edges []models.CallEdge) int {
	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		seen[e.CallerFunctionID] = true
	}
	return len(seen)
}

func candidateConfidence(reason models.DeletionReason, exported bool) float64 {
	var c float64
	switch reason {
	case models.ReasonUnreachable:
		c = unreachableConfidence
	case models.ReasonIsolated:
		c = isolatedConfidence
	case models.ReasonNoHighConfidenceCallers:
		c = lowCallerConfidence
	}
	if exported {
		c -= exportedPenalty
	}
	return max(0, min(1, c))
}

func estimateImpact(callers, lines int) models.Impact {
	switch {
	case callers >= 3 || lines > 50:
		return models.ImpactHigh
	case callers >= 1 || lines > 20:
		return models.ImpactMedium
	default:
		return models.ImpactLow
	}
}

func excluded(fn *models.FunctionInfo, opts Options) (string, bool) {
	if fn.IsExported && !opts.IncludeExports {
		return "exported", true
	}
	if fn.IsStatic && !opts.IncludeStaticMethods {
		return "static", true
	}
	if opts.ExcludeTests && entrypoint.IsTestFunction(fn) {
		return "test", true
	}
	for _, p := range opts.ExcludePatterns {
		if MatchPattern(p, fn.FilePath) {
			return "pattern " + p, true
		}
	}
	return "", false
}

func sortCandidates(list []models.DeletionCandidate) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].Function, list[j].Function
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.ID < b.ID
	})
}

// Batches splits ordered candidates into groups of at most size.
func Batches(candidates []models.DeletionCandidate, size int) [][]models.DeletionCandidate {
	if size < 1 {
		size = 1
	}
	var batches [][]models.DeletionCandidate
	for start := 0; start < len(candidates); start += size {
		end := min(start+size, len(candidates))
		batches = append(batches, candidates[start:end])
	}
	return batches
}

// RestoreFromBackup restores every file captured in the backup at dir.
func RestoreFromBackup(dir string) error {
	b, err := OpenBackup(dir)
	if err != nil {
		return err
	}
	return b.Restore()
}

// DiscardBackup deletes the backup at dir.
func DiscardBackup(dir string) error {
	b, err := OpenBackup(dir)
	if err != nil {
		return err
	}
	return b.Discard()
}
