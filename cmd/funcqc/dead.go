package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/akiramei/funcqc-sub009/internal/output"
	"github.com/akiramei/funcqc-sub009/internal/progress"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/typesafety"
	"github.com/akiramei/funcqc-sub009/pkg/deletion"
	"github.com/akiramei/funcqc-sub009/pkg/models"
	"github.com/akiramei/funcqc-sub009/pkg/validation"
)

var deadCmd = &cobra.Command{
	Use:   "dead",
	Short: "Preview functions that are safe to delete",
	Long: `Lists unreachable, isolated and weakly-called functions that survive
type-safety protection and the configured exclusions. Nothing is modified.`,
	RunE: runDead,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete dead functions in validated batches",
	Long: `Deletes the candidates reported by 'funcqc dead'. Without --execute this is
a preview. With --execute every touched file is backed up first, then
candidates are removed batch by batch; a batch that fails validation is
rolled back on its own.

Examples:
  funcqc delete                                  # Preview
  funcqc delete --execute                        # Delete after confirmation
  funcqc delete --execute --yes --batch-size 10  # Non-interactive
  funcqc delete --restore .funcqc/backups/<id>   # Undo a run`,
	RunE: runDelete,
}

func init() {
	for _, c := range []*cobra.Command{deadCmd, deleteCmd} {
		c.Flags().Float64("confidence-threshold", 0, "Edge confidence below which a caller does not keep a function alive")
		c.Flags().Float64("min-confidence", 0, "Minimum candidate confidence")
		c.Flags().Bool("include-exports", false, "Consider exported functions")
		c.Flags().Bool("include-static", false, "Consider static methods")
		c.Flags().Bool("include-tests", false, "Consider test functions")
		c.Flags().StringSlice("exclude", nil, "Glob patterns of files to leave alone (repeatable)")
		c.Flags().StringSlice("entry", nil, "Function name globs to treat as entry points (repeatable)")
		c.Flags().Bool("fail-closed", false, "Protect functions whose type evidence cannot be loaded")
	}
	deleteCmd.Flags().Bool("execute", false, "Actually delete (default is a preview)")
	deleteCmd.Flags().Bool("dry-run", false, "Force a preview even with --execute")
	deleteCmd.Flags().Int("batch-size", 0, "Functions per batch")
	deleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	deleteCmd.Flags().String("restore", "", "Restore the backup at this path instead of deleting")

	rootCmd.AddCommand(deadCmd)
	rootCmd.AddCommand(deleteCmd)
}

func deletionOptions(flags *pflag.FlagSet, ws *workspace) deletion.Options {
	opts := ws.cfg.DeletionOptions(ws.snapshot.ID, ws.sourceRoot())
	if flags.Changed("confidence-threshold") {
		opts.ConfidenceThreshold, _ = flags.GetFloat64("confidence-threshold")
	}
	if flags.Changed("min-confidence") {
		opts.CandidateMinConfidence, _ = flags.GetFloat64("min-confidence")
	}
	if flags.Changed("include-exports") {
		opts.IncludeExports, _ = flags.GetBool("include-exports")
	}
	if flags.Changed("include-static") {
		opts.IncludeStaticMethods, _ = flags.GetBool("include-static")
	}
	if include, _ := flags.GetBool("include-tests"); include {
		opts.ExcludeTests = false
	}
	if patterns, _ := flags.GetStringSlice("exclude"); len(patterns) > 0 {
		opts.ExcludePatterns = append(opts.ExcludePatterns, patterns...)
	}
	if patterns, _ := flags.GetStringSlice("entry"); len(patterns) > 0 {
		opts.EntryPatterns = append(opts.EntryPatterns, patterns...)
	}
	if flags.Changed("execute") {
		opts.Execute, _ = flags.GetBool("execute")
	}
	if flags.Changed("dry-run") {
		opts.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("batch-size") {
		opts.MaxFunctionsPerBatch, _ = flags.GetInt("batch-size")
	}
	return opts
}

func newDeletionSystem(cmd *cobra.Command, ws *workspace, extra ...deletion.Option) *deletion.System {
	failClosed := ws.cfg.Deletion.FailClosed
	if cmd.Flags().Changed("fail-closed") {
		failClosed, _ = cmd.Flags().GetBool("fail-closed")
	}
	rc := analyzer.NewRunContext(ws.snapshot.ID, ws.logger)
	safety := typesafety.New(ws.store.TypeStore(ws.snapshot.ID),
		typesafety.WithLogger(rc.Logger),
		typesafety.WithFailClosed(failClosed),
		typesafety.WithRunContext(rc),
	)
	opts := append([]deletion.Option{deletion.WithLogger(rc.Logger)}, extra...)
	return deletion.New(safety, opts...)
}

func runDead(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	analysis, err := newDeletionSystem(cmd, ws).Analyze(cmd.Context(), ws.functions, ws.edges, deletionOptions(cmd.Flags(), ws))
	if err != nil {
		return err
	}

	formatter, err := newFormatter(ws.cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	if formatter.Format() == output.FormatJSON || formatter.Format() == output.FormatTOON {
		return formatter.Output(analysis)
	}

	if len(analysis.Candidates) == 0 {
		color.Green("No deletion candidates found")
	} else if err := formatter.Output(candidateTable("Deletion Candidates", analysis.Candidates, formatter.Colored())); err != nil {
		return err
	}

	if len(analysis.Protected) > 0 {
		rows := make([][]string, 0, len(analysis.Protected))
		for _, p := range analysis.Protected {
			reason := ""
			if p.Safety.ProtectionReason != nil {
				reason = *p.Safety.ProtectionReason
			}
			rows = append(rows, []string{
				fmt.Sprintf("%s:%d", p.Function.FilePath, p.Function.StartLine),
				p.Function.DisplayName(),
				fmt.Sprintf("%.2f", p.Safety.ConfidenceScore),
				reason,
			})
		}
		table := output.NewTable("Protected by Type Evidence",
			[]string{"Location", "Function", "Score", "Reason"}, rows, nil, analysis.Protected)
		if err := formatter.Output(table); err != nil {
			return err
		}
	}
	for _, w := range analysis.Warnings {
		formatter.Warning("%s", w)
	}
	return nil
}

func candidateTable(title string, list []models.DeletionCandidate, colored bool) *output.Table {
	rows := make([][]string, 0, len(list))
	for _, c := range list {
		impact := string(c.EstimatedImpact)
		if colored {
			impact = output.SeverityColor(impact, impact)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%s:%d-%d", c.Function.FilePath, c.Function.StartLine, c.Function.EndLine),
			truncate(c.Function.DisplayName(), 40),
			string(c.Reason),
			fmt.Sprintf("%.0f%%", c.ConfidenceScore*100),
			fmt.Sprintf("%d", c.CallersCount),
			impact,
		})
	}
	footer := []string{fmt.Sprintf("%d function(s)", len(list)), "", "", "", "", ""}
	return output.NewTable(title,
		[]string{"Location", "Function", "Reason", "Confidence", "Callers", "Impact"}, rows, footer, list)
}

// confirmOnStdin asks for a y/N answer on the terminal.
func confirmOnStdin(candidates []models.DeletionCandidate) bool {
	fmt.Fprintf(os.Stderr, "Delete %d function(s)? [y/N] ", len(candidates))
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	restorePath, _ := cmd.Flags().GetString("restore")
	if restorePath == "" {
		restorePath = cfg.Deletion.Restore
	}
	if restorePath != "" {
		return restoreBackup(restorePath)
	}

	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	opts := deletionOptions(cmd.Flags(), ws)
	var extra []deletion.Option
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		extra = append(extra, deletion.WithConfirm(confirmOnStdin))
	}
	if opts.Execute && !opts.DryRun {
		extra = append(extra, deletion.WithValidator(
			validation.NewCommandValidator(append(ws.cfg.ValidatorOptions(ws.sourceRoot()),
				validation.WithLogger(ws.logger))...)))
	}
	sys := newDeletionSystem(cmd, ws, extra...)

	ctx, tracker := progress.Attach(cmd.Context(), os.Stderr, "Deleting")
	result, err := sys.Run(ctx, ws.functions, ws.edges, opts)
	if err != nil {
		tracker.FinishError(err)
		if result != nil && result.BackupPath != "" {
			color.Yellow("Backup retained at %s", result.BackupPath)
		}
		return err
	}
	tracker.FinishSuccess()

	return renderDeletion(ws, result, opts)
}

func renderDeletion(ws *workspace, result *models.SafeDeletionResult, opts deletion.Options) error {
	formatter, err := newFormatter(ws.cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	if formatter.Format() == output.FormatJSON || formatter.Format() == output.FormatTOON {
		return formatter.Output(result)
	}

	if !result.Executed {
		if len(result.CandidateFunctions) == 0 {
			color.Green("No deletion candidates found")
			return nil
		}
		if err := formatter.Output(candidateTable("Deletion Preview", result.CandidateFunctions, formatter.Colored())); err != nil {
			return err
		}
		for _, w := range result.Warnings {
			formatter.Warning("%s", w)
		}
		if !opts.Execute {
			formatter.Info("Preview only. Re-run with --execute to delete.")
		}
		return nil
	}

	rows := make([][]string, 0, len(result.Batches))
	for _, b := range result.Batches {
		status := string(b.Status)
		if formatter.Colored() {
			status = output.SeverityColor(status, status)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", b.Index+1),
			fmt.Sprintf("%d", len(b.Functions)),
			truncate(strings.Join(b.Files, ", "), 60),
			status,
			b.Validation.Label(),
		})
	}
	table := output.NewTable("Deletion Batches",
		[]string{"Batch", "Functions", "Files", "Status", "Validation"}, rows, nil, result.Batches)
	if err := formatter.Output(table); err != nil {
		return err
	}

	formatter.Info("Validation before: %s, after: %s",
		result.PreDeleteValidation.Label(), result.PostDeleteValidation.Label())
	for _, w := range result.Warnings {
		formatter.Warning("%s", w)
	}
	for _, e := range result.Errors {
		formatter.Error("%s", e)
	}
	formatter.Success("Deleted %d of %d function(s); %d skipped",
		len(result.DeletedFunctions), len(result.CandidateFunctions), len(result.SkippedFunctions))
	formatter.Info("Backup: %s (undo with 'funcqc restore %s')", result.BackupPath, result.BackupPath)
	return nil
}
