package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akiramei/funcqc-sub009/internal/output"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/depmetrics"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/entrypoint"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/reachability"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Show fan-in, fan-out and depth statistics",
	Long: `Computes per-function dependency metrics and summarizes hubs (high
fan-in), utilities (high fan-out) and isolated functions.`,
	RunE: runDeps,
}

func init() {
	depsCmd.Flags().Int("hub-threshold", 0, "Minimum fan-in for a hub")
	depsCmd.Flags().Int("utility-threshold", 0, "Minimum fan-out for a utility")
	depsCmd.Flags().Int("max-hubs", 0, "Maximum hubs to list")
	depsCmd.Flags().Int("max-utilities", 0, "Maximum utilities to list")
	depsCmd.Flags().Bool("all", false, "Output metrics for every function (JSON/TOON)")

	rootCmd.AddCommand(depsCmd)
}

type depsReport struct {
	SnapshotID string                     `json:"snapshot_id" toon:"snapshot_id"`
	Stats      *models.DependencyStats    `json:"stats" toon:"stats"`
	Metrics    []models.DependencyMetrics `json:"metrics,omitempty" toon:"metrics,omitempty"`
}

func runDeps(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	opts := ws.cfg.StatsOptions()
	flags := cmd.Flags()
	if flags.Changed("hub-threshold") {
		opts.HubThreshold, _ = flags.GetInt("hub-threshold")
	}
	if flags.Changed("utility-threshold") {
		opts.UtilityThreshold, _ = flags.GetInt("utility-threshold")
	}
	if flags.Changed("max-hubs") {
		opts.MaxHubFunctions, _ = flags.GetInt("max-hubs")
	}
	if flags.Changed("max-utilities") {
		opts.MaxUtilityFunctions, _ = flags.GetInt("max-utilities")
	}

	entries := entrypoint.New(entrypoint.WithExtraPatterns(ws.cfg.Deletion.EntryPatterns...)).IDs(ws.functions)
	search := reachability.New(
		reachability.WithLogger(ws.logger),
		reachability.WithMaxCycles(ws.cfg.Cycles.MaxCycles),
		reachability.WithMaxCycleLength(ws.cfg.Cycles.MaxLength),
	).FindCircularDependencies(ws.edges)

	calc := depmetrics.New()
	metrics := calc.CalculateMetrics(ws.functions, ws.edges, entries, search.CyclicIDs)
	stats := calc.GenerateStats(metrics, opts)

	formatter, err := newFormatter(ws.cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	report := depsReport{SnapshotID: ws.snapshot.ID, Stats: stats}
	if all, _ := flags.GetBool("all"); all {
		report.Metrics = metrics
	}
	if formatter.Format() == output.FormatJSON || formatter.Format() == output.FormatTOON {
		return formatter.Output(report)
	}

	summary := &output.Section{
		Title: "Summary",
		Content: fmt.Sprintf(
			"functions %d, avg fan-in %.2f, avg fan-out %.2f, max fan-in %d, max fan-out %d\nmax depth %d, unreachable %d, cyclic %d",
			stats.TotalFunctions, stats.AvgFanIn, stats.AvgFanOut, stats.MaxFanIn, stats.MaxFanOut,
			stats.MaxDepth, stats.UnreachableCount, stats.CyclicCount,
		),
	}

	sections := []output.Renderable{summary}
	if len(stats.HubFunctions) > 0 {
		sections = append(sections, metricsTable(
			fmt.Sprintf("Hubs (fan-in >= %d, %d total)", stats.HubThreshold, stats.TotalHubCount),
			stats.HubFunctions))
	}
	if len(stats.UtilityFunctions) > 0 {
		sections = append(sections, metricsTable(
			fmt.Sprintf("Utilities (fan-out >= %d, %d total)", stats.UtilityThreshold, stats.TotalUtilityCount),
			stats.UtilityFunctions))
	}
	if len(stats.IsolatedFunctions) > 0 {
		sections = append(sections, metricsTable(
			fmt.Sprintf("Isolated (%d)", len(stats.IsolatedFunctions)),
			stats.IsolatedFunctions))
	}

	return formatter.Output(&output.Report{
		Title:    "Dependency Metrics",
		Sections: sections,
		Data:     report,
	})
}

func metricsTable(title string, list []models.DependencyMetrics) *output.Table {
	rows := make([][]string, 0, len(list))
	for _, m := range list {
		depth := "-"
		if m.IsReachable() {
			depth = fmt.Sprintf("%d", m.DepthFromEntry)
		}
		rows = append(rows, []string{
			truncate(m.FunctionName, 40),
			truncate(m.FilePath, 50),
			fmt.Sprintf("%d", m.FanIn),
			fmt.Sprintf("%d", m.FanOut),
			depth,
			yesNo(m.IsCyclic),
		})
	}
	return output.NewTable(title, []string{"Function", "File", "Fan-in", "Fan-out", "Depth", "Cyclic"}, rows, nil, list)
}
