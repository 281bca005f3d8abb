package deletion

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/models"
	"github.com/akiramei/funcqc-sub009/pkg/validation"
)

type lineRange struct {
	start, end int
}

// Run selects candidates and, when opts.Execute is set and DryRun is not,
// deletes them batch by batch. Every touched file is backed up before the
// first write; a batch whose edits fail to write or fail validation is
// restored and its functions are reported as skipped.
func (s *System) Run(ctx context.Context, functions []models.FunctionInfo, edges []models.CallEdge, opts Options) (*models.SafeDeletionResult, error) {
	analysis, err := s.Analyze(ctx, functions, edges, opts)
	if err != nil {
		return nil, err
	}

	result := models.NewSafeDeletionResult()
	result.CandidateFunctions = append(result.CandidateFunctions, analysis.Candidates...)
	result.Warnings = append(result.Warnings, analysis.Warnings...)
	for _, p := range analysis.SkippedEdges {
		result.Warnings = append(result.Warnings, "skipped edge: "+p.Error())
	}

	if !opts.Execute || opts.DryRun || len(analysis.Candidates) == 0 {
		return result, nil
	}
	if s.confirm != nil && !s.confirm(analysis.Candidates) {
		result.Warnings = append(result.Warnings, "deletion not confirmed; nothing was changed")
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if err := s.execute(ctx, analysis.Candidates, opts, result); err != nil {
		return result, err
	}
	return result, nil
}

func (s *System) execute(ctx context.Context, candidates []models.DeletionCandidate, opts Options, result *models.SafeDeletionResult) error {
	ids := make([]string, len(candidates))
	paths := make([]string, 0, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Function.ID
		paths = append(paths, opts.resolve(c.Function.FilePath))
	}

	backup, err := CreateBackup(opts.resolve(opts.BackupDir), opts.SnapshotID, ids, paths)
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	result.BackupPath = backup.Dir
	result.Executed = true
	s.logger.Info("backup created", "path", backup.Dir, "files", len(backup.Manifest.Files))

	baseline := validation.Run(ctx, s.validator)
	result.PreDeleteValidation = baseline
	result.PostDeleteValidation = baseline

	batches := Batches(candidates, opts.MaxFunctionsPerBatch)
	tracker := analyzer.TrackerFromContext(ctx)
	tracker.Start(len(batches))

	committed := make(map[string][]lineRange)
	for i, batch := range batches {
		if ctx.Err() != nil {
			s.skipRemaining(batches[i:], i, opts, result, tracker)
			break
		}
		br := s.runBatch(ctx, i, batch, backup, committed, baseline, opts, result)
		result.Batches = append(result.Batches, br)
		tracker.Finish(br)
	}
	return nil
}

func (s *System) runBatch(ctx context.Context, index int, batch []models.DeletionCandidate, backup *Backup, committed map[string][]lineRange, baseline models.ValidationStatus, opts Options, result *models.SafeDeletionResult) models.BatchResult {
	ranges := make(map[string][]lineRange)
	br := models.BatchResult{Index: index, Functions: make([]string, len(batch))}
	for i, c := range batch {
		p := opts.resolve(c.Function.FilePath)
		ranges[p] = append(ranges[p], lineRange{c.Function.StartLine, c.Function.EndLine})
		br.Functions[i] = c.Function.ID
	}
	br.Files = sortedKeys(ranges)
	log := s.logger.With("batch", index+1, "functions", len(batch))

	fail := func(reason string) models.BatchResult {
		br.Status = models.BatchRolledBack
		br.Error = reason
		if err := s.rollback(backup, br.Files, committed); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("batch %d rollback failed, restore from %s: %v", index+1, backup.Dir, err))
		}
		result.SkippedFunctions = append(result.SkippedFunctions, batch...)
		result.Warnings = append(result.Warnings, fmt.Sprintf("batch %d rolled back: %s", index+1, reason))
		log.Warn("batch rolled back", "reason", reason)
		return br
	}

	for _, p := range br.Files {
		merged := append(append([]lineRange{}, committed[p]...), ranges[p]...)
		if err := writeWithout(backup, p, merged); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return fail("write failed: " + err.Error())
		}
	}

	status := validation.Run(ctx, s.validator)
	br.Validation = status
	if ctx.Err() != nil {
		return fail("cancelled during validation")
	}
	if regressed(baseline, status) {
		return fail("validation failed (" + status.Label() + ")")
	}

	for _, p := range br.Files {
		committed[p] = append(committed[p], ranges[p]...)
	}
	br.Status = models.BatchCommitted
	result.DeletedFunctions = append(result.DeletedFunctions, batch...)
	result.PostDeleteValidation = status
	log.Info("batch committed", "validation", status.Label())
	return br
}

func (s *System) skipRemaining(rest [][]models.DeletionCandidate, offset int, opts Options, result *models.SafeDeletionResult, tracker *analyzer.Tracker) {
	for i, batch := range rest {
		br := models.BatchResult{Index: offset + i, Status: models.BatchSkipped, Error: "cancelled"}
		files := make(map[string][]lineRange)
		for _, c := range batch {
			br.Functions = append(br.Functions, c.Function.ID)
			files[opts.resolve(c.Function.FilePath)] = nil
		}
		br.Files = sortedKeys(files)
		result.Batches = append(result.Batches, br)
		tracker.Finish(br)
		result.SkippedFunctions = append(result.SkippedFunctions, batch...)
	}
	result.Warnings = append(result.Warnings, fmt.Sprintf("run cancelled; %d batch(es) skipped", len(rest)))
	s.logger.Warn("deletion cancelled", "skipped_batches", len(rest))
}

// rollback rewrites each file as its backed-up content minus the ranges of
// batches that already committed.
func (s *System) rollback(backup *Backup, files []string, committed map[string][]lineRange) error {
	var errs []error
	for _, p := range files {
		if err := writeWithout(backup, p, committed[p]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d file(s) not restored: %w", len(errs), errs[0])
	}
	return nil
}

// writeWithout derives a file from its original bytes so line numbers never
// drift between batches.
func writeWithout(backup *Backup, path string, ranges []lineRange) error {
	original, err := backup.Content(path)
	if err != nil {
		return err
	}
	data, err := removeRanges(original, ranges)
	if err != nil {
		return &analyzer.FileSystemError{Op: "edit", Path: path, Err: err}
	}
	return writeFileAtomic(path, data, backup.byPath[path].Mode)
}

// removeRanges deletes 1-based inclusive line ranges from content. Ranges
// are merged and removed in descending start order.
func removeRanges(content []byte, ranges []lineRange) ([]byte, error) {
	if len(ranges) == 0 {
		return content, nil
	}
	lines := bytes.SplitAfter(content, []byte("\n"))
	if n := len(lines); n > 0 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}

	sorted := append([]lineRange{}, ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })
	merged := make([]lineRange, 0, len(sorted))
	for _, r := range sorted {
		if r.start < 1 || r.end < r.start || r.end > len(lines) {
			return nil, fmt.Errorf("line range %d-%d outside file of %d lines", r.start, r.end, len(lines))
		}
		if last := len(merged) - 1; last >= 0 && r.start <= merged[last].end+1 {
			merged[last].end = max(merged[last].end, r.end)
			continue
		}
		merged = append(merged, r)
	}

	for i := len(merged) - 1; i >= 0; i-- {
		r := merged[i]
		lines = append(lines[:r.start-1], lines[r.end:]...)
	}
	return bytes.Join(lines, nil), nil
}

// regressed reports whether status is worse than the pre-deletion baseline.
// Checks that did not run never count as failures.
func regressed(baseline, status models.ValidationStatus) bool {
	if !status.Performed {
		return false
	}
	if !baseline.Performed {
		return status.Failed()
	}
	return (baseline.TypeCheckPassed && !status.TypeCheckPassed) ||
		(baseline.TestsPassed && !status.TestsPassed)
}

func sortedKeys(m map[string][]lineRange) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
