package models

import "time"

// Snapshot is one immutable, point-in-time extraction of a codebase.
type Snapshot struct {
	ID        string    `json:"id" toon:"id"`
	Label     string    `json:"label,omitempty" toon:"label,omitempty"`
	RootDir   string    `json:"root_dir,omitempty" toon:"root_dir,omitempty"`
	CreatedAt time.Time `json:"created_at" toon:"created_at"`
}

// FunctionInfo describes a single function or method extracted from source.
type FunctionInfo struct {
	ID                   string `json:"id" toon:"id"`
	SemanticID           string `json:"semantic_id,omitempty" toon:"semantic_id,omitempty"`
	Name                 string `json:"name" toon:"name"`
	FilePath             string `json:"file_path" toon:"file_path"`
	StartLine            int    `json:"start_line" toon:"start_line"`
	EndLine              int    `json:"end_line" toon:"end_line"`
	CyclomaticComplexity int    `json:"cyclomatic_complexity" toon:"cyclomatic_complexity"`
	IsExported           bool   `json:"is_exported" toon:"is_exported"`
	IsMethod             bool   `json:"is_method,omitempty" toon:"is_method,omitempty"`
	IsStatic             bool   `json:"is_static,omitempty" toon:"is_static,omitempty"`
	ClassName            string `json:"class_name,omitempty" toon:"class_name,omitempty"`
	ContextPath          string `json:"context_path,omitempty" toon:"context_path,omitempty"`
	Signature            string `json:"signature,omitempty" toon:"signature,omitempty"`
}

// LineCount returns the number of source lines the function spans.
func (f FunctionInfo) LineCount() int {
	if f.EndLine < f.StartLine {
		return 0
	}
	return f.EndLine - f.StartLine + 1
}

// DisplayName returns Class.method for methods and the bare name otherwise.
func (f FunctionInfo) DisplayName() string {
	if f.ClassName != "" {
		return f.ClassName + "." + f.Name
	}
	return f.Name
}

// CallType classifies how a call edge is made.
type CallType string

const (
	CallDirect      CallType = "direct"
	CallAsync       CallType = "async"
	CallConditional CallType = "conditional"
	CallExternal    CallType = "external"
	CallVirtual     CallType = "virtual"
)

// String returns the string representation.
func (c CallType) String() string {
	return string(c)
}

// Valid reports whether c is a known call type.
func (c CallType) Valid() bool {
	switch c {
	case CallDirect, CallAsync, CallConditional, CallExternal, CallVirtual:
		return true
	}
	return false
}

// CallEdge is a directed caller -> callee relationship.
// An empty CalleeFunctionID marks an external or virtual terminal.
type CallEdge struct {
	CallerFunctionID string   `json:"caller_function_id" toon:"caller_function_id"`
	CalleeFunctionID string   `json:"callee_function_id,omitempty" toon:"callee_function_id,omitempty"`
	CalleeName       string   `json:"callee_name" toon:"callee_name"`
	CallType         CallType `json:"call_type" toon:"call_type"`
	LineNumber       int      `json:"line_number,omitempty" toon:"line_number,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty" toon:"confidence,omitempty"`
}

// IsInternal reports whether the edge points at a known function.
func (e CallEdge) IsInternal() bool {
	return e.CalleeFunctionID != ""
}

// EffectiveConfidence returns the edge confidence clamped to [0, 1]. An
// edge without a recorded confidence is certain; an explicit 0 stays 0.
func (e CallEdge) EffectiveConfidence() float64 {
	if e.Confidence == nil {
		return 1.0
	}
	return min(max(*e.Confidence, 0), 1)
}

// Confidence returns a pointer to v for CallEdge.Confidence.
func Confidence(v float64) *float64 {
	return &v
}
