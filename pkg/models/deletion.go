package models

// DeletionReason explains why a function was selected for deletion.
type DeletionReason string

const (
	ReasonUnreachable             DeletionReason = "unreachable"
	ReasonNoHighConfidenceCallers DeletionReason = "no-high-confidence-callers"
	ReasonIsolated                DeletionReason = "isolated"
)

// String returns the string representation.
func (r DeletionReason) String() string {
	return string(r)
}

// Impact estimates how disruptive removing a function would be.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// DeletionCandidate is a function proposed for removal.
type DeletionCandidate struct {
	Function        FunctionInfo   `json:"function" toon:"function"`
	Reason          DeletionReason `json:"reason" toon:"reason"`
	ConfidenceScore float64        `json:"confidence_score" toon:"confidence_score"`
	CallersCount    int            `json:"callers_count" toon:"callers_count"`
	EstimatedImpact Impact         `json:"estimated_impact" toon:"estimated_impact"`
}

// ValidationStatus records the outcome of type-check and test validation.
// Performed is false when the validators could not be run at all.
type ValidationStatus struct {
	Performed       bool `json:"performed" toon:"performed"`
	TypeCheckPassed bool `json:"type_check_passed" toon:"type_check_passed"`
	TestsPassed     bool `json:"tests_passed" toon:"tests_passed"`
}

// Passed reports whether validation ran and everything passed.
func (v ValidationStatus) Passed() bool {
	return v.Performed && v.TypeCheckPassed && v.TestsPassed
}

// Failed reports whether validation ran and something failed.
// A status that was not performed is neither passed nor failed.
func (v ValidationStatus) Failed() bool {
	return v.Performed && (!v.TypeCheckPassed || !v.TestsPassed)
}

// Label renders the status for display: PASS, FAIL or N/A.
func (v ValidationStatus) Label() string {
	switch {
	case !v.Performed:
		return "N/A"
	case v.Passed():
		return "PASS"
	default:
		return "FAIL"
	}
}

// BatchStatus is the terminal state of a deletion batch.
type BatchStatus string

const (
	BatchCommitted  BatchStatus = "committed"
	BatchRolledBack BatchStatus = "rolled_back"
	BatchSkipped    BatchStatus = "skipped"
)

// BatchResult describes what happened to one batch of candidates.
type BatchResult struct {
	Index      int              `json:"index" toon:"index"`
	Functions  []string         `json:"functions" toon:"functions"`
	Files      []string         `json:"files" toon:"files"`
	Status     BatchStatus      `json:"status" toon:"status"`
	Validation ValidationStatus `json:"validation" toon:"validation"`
	Error      string           `json:"error,omitempty" toon:"error,omitempty"`
}

// SafeDeletionResult is the outcome of a safe deletion run.
type SafeDeletionResult struct {
	CandidateFunctions   []DeletionCandidate `json:"candidate_functions" toon:"candidate_functions"`
	DeletedFunctions     []DeletionCandidate `json:"deleted_functions" toon:"deleted_functions"`
	SkippedFunctions     []DeletionCandidate `json:"skipped_functions" toon:"skipped_functions"`
	Errors               []string            `json:"errors" toon:"errors"`
	Warnings             []string            `json:"warnings" toon:"warnings"`
	BackupPath           string              `json:"backup_path,omitempty" toon:"backup_path,omitempty"`
	PreDeleteValidation  ValidationStatus    `json:"pre_delete_validation" toon:"pre_delete_validation"`
	PostDeleteValidation ValidationStatus    `json:"post_delete_validation" toon:"post_delete_validation"`
	Batches              []BatchResult       `json:"batches,omitempty" toon:"batches,omitempty"`
	Executed             bool                `json:"executed" toon:"executed"`
}

// NewSafeDeletionResult returns a result with non-nil slices.
func NewSafeDeletionResult() *SafeDeletionResult {
	return &SafeDeletionResult{
		CandidateFunctions: make([]DeletionCandidate, 0),
		DeletedFunctions:   make([]DeletionCandidate, 0),
		SkippedFunctions:   make([]DeletionCandidate, 0),
		Errors:             make([]string, 0),
		Warnings:           make([]string, 0),
	}
}
