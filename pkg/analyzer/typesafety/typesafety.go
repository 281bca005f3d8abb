// Package typesafety scores how strongly type relationships protect a
// function from deletion.
package typesafety

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/akiramei/funcqc-sub009/internal/logging"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

const (
	// DefaultProtectionThreshold is the score at or above which a function is protected.
	DefaultProtectionThreshold = 0.70

	abstractBase  = 0.80
	implementBase = 0.80
	overrideBase  = 0.70
	bonusStep     = 0.05
	maxScore      = 0.98

	// FailClosedReason is reported when evidence is unavailable under the fail-closed policy.
	FailClosedReason = "type evidence unavailable"
)

// Storage is the type-relationship store consulted for evidence.
type Storage interface {
	GetTypeMembers(ctx context.Context, typeID string) ([]models.TypeMember, error)
	GetMethodOverridesByFunction(ctx context.Context, functionID string) ([]models.MethodOverride, error)
	GetImplementingClasses(ctx context.Context, interfaceID string) ([]models.TypeDefinition, error)
}

// EvidenceStrength counts the distinct relationships found.
type EvidenceStrength struct {
	InterfaceCount              int `json:"interface_count" toon:"interface_count"`
	ClassCount                  int `json:"class_count" toon:"class_count"`
	AbstractImplementationCount int `json:"abstract_implementation_count" toon:"abstract_implementation_count"`
	OverrideCount               int `json:"override_count" toon:"override_count"`
}

// SignatureCompatibility summarizes the compatibility flags of the evidence.
type SignatureCompatibility struct {
	Compatible   int  `json:"compatible" toon:"compatible"`
	Incompatible int  `json:"incompatible" toon:"incompatible"`
	AllMatch     bool `json:"all_match" toon:"all_match"`
}

// Result is the deletion-safety verdict for one function.
type Result struct {
	FunctionID                string                  `json:"function_id" toon:"function_id"`
	ConfidenceScore           float64                 `json:"confidence_score" toon:"confidence_score"`
	ProtectionReason          *string                 `json:"protection_reason" toon:"protection_reason"`
	ImplementedInterfaces     []string                `json:"implemented_interfaces" toon:"implemented_interfaces"`
	ImplementingClasses       []string                `json:"implementing_classes" toon:"implementing_classes"`
	IsInterfaceImplementation bool                    `json:"is_interface_implementation" toon:"is_interface_implementation"`
	IsMethodOverride          bool                    `json:"is_method_override" toon:"is_method_override"`
	EvidenceStrength          EvidenceStrength        `json:"evidence_strength" toon:"evidence_strength"`
	SignatureCompatibility    *SignatureCompatibility `json:"signature_compatibility,omitempty" toon:"signature_compatibility,omitempty"`

	// Err is the storage failure that forced the fallback result, if any.
	Err error `json:"-" toon:"-"`
}

// Protected reports whether the score reaches threshold.
func (r Result) Protected(threshold float64) bool {
	return r.ConfidenceScore >= threshold
}

// Analyzer computes deletion-safety results.
type Analyzer struct {
	storage     Storage
	logger      *slog.Logger
	failClosed  bool
	concurrency int
	runCtx      *analyzer.RunContext
}

// Option is a functional option for configuring Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logging.OrDiscard(logger)
	}
}

// WithFailClosed makes storage failures protect the function instead of
// reporting no evidence.
func WithFailClosed(failClosed bool) Option {
	return func(a *Analyzer) {
		a.failClosed = failClosed
	}
}

// WithConcurrency bounds the goroutines used by AnalyzeMany.
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithRunContext sets the run context that holds memoized results. A run
// context attached to the call's ctx takes precedence.
func WithRunContext(rc *analyzer.RunContext) Option {
	return func(a *Analyzer) {
		a.runCtx = rc
	}
}

// New creates a new deletion-safety analyzer.
func New(storage Storage, opts ...Option) *Analyzer {
	a := &Analyzer{
		storage:     storage,
		logger:      logging.Discard(),
		concurrency: runtime.NumCPU() * 2,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) runContext(ctx context.Context) *analyzer.RunContext {
	if rc := analyzer.RunContextFrom(ctx); rc != nil {
		return rc
	}
	return a.runCtx
}

// AnalyzeDeletionSafety scores fn from its override and implementation
// evidence. Results are memoized per run context.
func (a *Analyzer) AnalyzeDeletionSafety(ctx context.Context, fn models.FunctionInfo, snapshotID string) Result {
	memo := analyzer.Table[string, Result](a.runContext(ctx), "typesafety.results")
	key := snapshotID + "\x00" + fn.ID
	if r, ok := memo.Get(key); ok {
		return r
	}
	r := a.analyze(ctx, fn, snapshotID)
	// Failures are not cached so a later lookup can succeed.
	if r.Err == nil {
		memo.Set(key, r)
	}
	return r
}

// ShouldProtectFromDeletion reports whether the safety score reaches threshold.
func (a *Analyzer) ShouldProtectFromDeletion(ctx context.Context, fn models.FunctionInfo, snapshotID string, threshold float64) bool {
	return a.AnalyzeDeletionSafety(ctx, fn, snapshotID).Protected(threshold)
}

// AnalyzeMany analyzes functions concurrently. Results are returned in the
// order of fns and do not depend on each other.
func (a *Analyzer) AnalyzeMany(ctx context.Context, fns []models.FunctionInfo, snapshotID string) []Result {
	results := make([]Result, len(fns))
	p := pool.New().WithMaxGoroutines(a.concurrency)
	for i, fn := range fns {
		p.Go(func() {
			results[i] = a.AnalyzeDeletionSafety(ctx, fn, snapshotID)
		})
	}
	p.Wait()
	return results
}

func (a *Analyzer) fallback(fn models.FunctionInfo, err error) Result {
	a.logger.Warn("type evidence lookup failed",
		"function", fn.ID,
		"fail_closed", a.failClosed,
		"error", err)
	r := Result{FunctionID: fn.ID, Err: err}
	if a.failClosed {
		reason := FailClosedReason
		r.ConfidenceScore = 1.0
		r.ProtectionReason = &reason
	}
	return r
}

// category groups the overrides of one protection class.
type category struct {
	kind         models.OverrideKind
	base         float64
	compatible   map[string]string // target key -> display name
	incompatible map[string]string
}

func newCategory(kind models.OverrideKind, base float64) *category {
	return &category{
		kind:         kind,
		base:         base,
		compatible:   make(map[string]string),
		incompatible: make(map[string]string),
	}
}

func (c *category) add(o models.MethodOverride) {
	key, name := targetOf(o)
	if o.IsCompatible {
		c.compatible[key] = name
		return
	}
	c.incompatible[key] = name
}

func (c *category) present() bool {
	return len(c.compatible)+len(c.incompatible) > 0
}

// targets returns the distinct target names, compatible and not, sorted.
func (c *category) targets() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range []map[string]string{c.compatible, c.incompatible} {
		for key, name := range m {
			if seen[key] {
				continue
			}
			seen[key] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// score only counts compatible members; incompatible evidence never raises it.
func (c *category) score(extra int) float64 {
	if len(c.compatible) == 0 {
		return 0
	}
	s := c.base + bonusStep*float64(len(c.compatible)-1+extra)
	return min(s, maxScore)
}

func targetOf(o models.MethodOverride) (key, name string) {
	key = o.TargetTypeID
	if key == "" {
		key = "name:" + o.TargetTypeName
	}
	name = o.TargetTypeName
	if name == "" {
		name = o.TargetTypeID
	}
	return key, name
}

func (a *Analyzer) analyze(ctx context.Context, fn models.FunctionInfo, snapshotID string) Result {
	overrides, err := a.storage.GetMethodOverridesByFunction(ctx, fn.ID)
	if err != nil {
		return a.fallback(fn, &analyzer.StorageQueryError{Op: "GetMethodOverridesByFunction", Key: fn.ID, Err: err})
	}

	abstract := newCategory(models.OverrideKindAbstractImplement, abstractBase)
	implement := newCategory(models.OverrideKindImplement, implementBase)
	override := newCategory(models.OverrideKindOverride, overrideBase)

	var compat SignatureCompatibility
	interfaceIDs := make(map[string]bool)
	for _, o := range overrides {
		switch o.OverrideKind {
		case models.OverrideKindAbstractImplement:
			abstract.add(o)
		case models.OverrideKindImplement:
			implement.add(o)
			if o.TargetTypeID != "" {
				interfaceIDs[o.TargetTypeID] = true
			}
		case models.OverrideKindOverride:
			isAbstract, err := a.targetIsAbstract(ctx, snapshotID, o)
			if err != nil {
				return a.fallback(fn, err)
			}
			if isAbstract {
				abstract.add(o)
			} else {
				override.add(o)
			}
		case models.OverrideKindSignatureImplement:
			override.add(o)
		default:
			a.logger.Debug("ignoring unknown override kind", "function", fn.ID, "kind", string(o.OverrideKind))
			continue
		}
		if o.IsCompatible {
			compat.Compatible++
		} else {
			compat.Incompatible++
		}
	}

	classes, err := a.implementingClasses(ctx, snapshotID, interfaceIDs)
	if err != nil {
		return a.fallback(fn, err)
	}

	r := Result{
		FunctionID:                fn.ID,
		ImplementedInterfaces:     implement.targets(),
		ImplementingClasses:       classes,
		IsInterfaceImplementation: implement.present(),
		IsMethodOverride:          abstract.present() || override.present(),
		EvidenceStrength: EvidenceStrength{
			InterfaceCount:              len(implement.targets()),
			ClassCount:                  len(classes),
			AbstractImplementationCount: len(abstract.targets()),
			OverrideCount:               len(override.targets()),
		},
	}
	if r.ImplementedInterfaces == nil {
		r.ImplementedInterfaces = []string{}
	}
	if compat.Compatible+compat.Incompatible > 0 {
		compat.AllMatch = compat.Incompatible == 0
		r.SignatureCompatibility = &compat
	}

	// The first category with compatible evidence wins, in priority order.
	classBonus := max(len(classes)-1, 0)
	ranked := []struct {
		cat   *category
		score float64
	}{
		{abstract, abstract.score(0)},
		{implement, implement.score(classBonus)},
		{override, override.score(0)},
	}
	best := -1
	for i, c := range ranked {
		if c.score > 0 {
			best = i
			break
		}
	}
	if best < 0 {
		return r
	}

	r.ConfidenceScore = ranked[best].score
	reason := describe(ranked[best].cat, len(classes))
	r.ProtectionReason = &reason
	return r
}

// targetIsAbstract reports whether an override replaces an abstract member
// of its parent type, which makes it an abstract implementation.
func (a *Analyzer) targetIsAbstract(ctx context.Context, snapshotID string, o models.MethodOverride) (bool, error) {
	if o.TargetTypeID == "" || o.TargetMemberID == "" {
		return false, nil
	}
	memo := analyzer.Table[string, []models.TypeMember](a.runContext(ctx), "typesafety.members")
	key := snapshotID + "\x00" + o.TargetTypeID
	members, ok := memo.Get(key)
	if !ok {
		var err error
		members, err = a.storage.GetTypeMembers(ctx, o.TargetTypeID)
		if err != nil {
			return false, &analyzer.StorageQueryError{Op: "GetTypeMembers", Key: o.TargetTypeID, Err: err}
		}
		memo.Set(key, members)
	}
	for _, m := range members {
		if m.ID == o.TargetMemberID {
			return m.IsAbstract, nil
		}
	}
	return false, nil
}

func (a *Analyzer) implementingClasses(ctx context.Context, snapshotID string, interfaceIDs map[string]bool) ([]string, error) {
	memo := analyzer.Table[string, []models.TypeDefinition](a.runContext(ctx), "typesafety.implementors")

	ids := make([]string, 0, len(interfaceIDs))
	for id := range interfaceIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := make(map[string]bool)
	var names []string
	for _, id := range ids {
		key := snapshotID + "\x00" + id
		defs, ok := memo.Get(key)
		if !ok {
			var err error
			defs, err = a.storage.GetImplementingClasses(ctx, id)
			if err != nil {
				return nil, &analyzer.StorageQueryError{Op: "GetImplementingClasses", Key: id, Err: err}
			}
			memo.Set(key, defs)
		}
		for _, d := range defs {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func describe(c *category, classCount int) string {
	targets := c.targets()
	list := strings.Join(targets, ", ")
	var reason string
	switch c.kind {
	case models.OverrideKindAbstractImplement:
		reason = fmt.Sprintf("Implements abstract method(s) of %d abstract class(es) (%s)", len(targets), list)
	case models.OverrideKindImplement:
		reason = fmt.Sprintf("Implements %d interface(s) (%s)", len(targets), list)
		if classCount > 0 {
			reason += fmt.Sprintf(" shared by %d class(es)", classCount)
		}
	default:
		reason = fmt.Sprintf("Overrides method(s) of %d parent type(s) (%s)", len(targets), list)
	}
	if n := len(c.incompatible); n > 0 {
		reason += fmt.Sprintf("; %d incompatible match(es) not counted", n)
	}
	return reason
}
