package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/akiramei/funcqc-sub009/internal/output"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/cycles"
)

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Find and classify call cycles",
	Long: `Enumerates simple call cycles, classifies them by the file, module and
layer boundaries they cross, and ranks them by importance.

Examples:
  funcqc cycles                       # All cycles, most severe first
  funcqc cycles --cross-layer-only    # Only cycles spanning layers
  funcqc cycles --exclude-recursive --limit 20`,
	RunE: runCycles,
}

func init() {
	cyclesCmd.Flags().Int("min-size", 0, "Minimum cycle size")
	cyclesCmd.Flags().Int("max-length", 0, "Maximum cycle length to enumerate")
	cyclesCmd.Flags().Int("max-cycles", 0, "Maximum number of cycles to enumerate")
	cyclesCmd.Flags().Bool("exclude-recursive", false, "Drop single-function recursion")
	cyclesCmd.Flags().Bool("exclude-clear", false, "Drop cycles through clear/reset/cleanup functions")
	cyclesCmd.Flags().Int("min-complexity", 0, "Minimum number of functions in a cycle")
	cyclesCmd.Flags().Bool("cross-layer-only", false, "Keep only cycles crossing architectural layers")
	cyclesCmd.Flags().Bool("recursive-only", false, "Keep only single-function recursion")
	cyclesCmd.Flags().Int("limit", 0, "Show at most N cycles (0 = all)")
	cyclesCmd.Flags().String("layers", "", "YAML file mapping path patterns to layers")

	rootCmd.AddCommand(cyclesCmd)
}

func applyCycleFlags(flags *pflag.FlagSet, opts *cycles.Options) {
	if flags.Changed("min-size") {
		opts.MinSize, _ = flags.GetInt("min-size")
	}
	if flags.Changed("max-length") {
		opts.MaxLength, _ = flags.GetInt("max-length")
	}
	if flags.Changed("max-cycles") {
		opts.MaxCycles, _ = flags.GetInt("max-cycles")
	}
	if flags.Changed("exclude-recursive") {
		opts.ExcludeRecursive, _ = flags.GetBool("exclude-recursive")
	}
	if flags.Changed("exclude-clear") {
		opts.ExcludeClear, _ = flags.GetBool("exclude-clear")
	}
	if flags.Changed("min-complexity") {
		opts.MinComplexity, _ = flags.GetInt("min-complexity")
	}
	if flags.Changed("cross-layer-only") {
		opts.CrossLayerOnly, _ = flags.GetBool("cross-layer-only")
	}
	if flags.Changed("recursive-only") {
		opts.RecursiveOnly, _ = flags.GetBool("recursive-only")
	}
	if flags.Changed("limit") {
		opts.Limit, _ = flags.GetInt("limit")
	}
}

func runCycles(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	if path, _ := cmd.Flags().GetString("layers"); path != "" {
		ws.cfg.Cycles.LayersFile = path
	}
	opts, err := ws.cfg.CycleOptions(ws.sourceRoot())
	if err != nil {
		return err
	}
	applyCycleFlags(cmd.Flags(), &opts)

	result := cycles.New(cycles.WithLogger(ws.logger)).AnalyzeClassifiedCycles(ws.edges, ws.functions, opts)

	formatter, err := newFormatter(ws.cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	if formatter.Format() == output.FormatJSON || formatter.Format() == output.FormatTOON {
		return formatter.Output(result)
	}

	if len(result.Cycles) == 0 {
		color.Green("No cycles found")
		return nil
	}

	rows := make([][]string, 0, len(result.Cycles))
	for _, c := range result.Cycles {
		importance := string(c.Importance)
		if formatter.Colored() {
			importance = output.SeverityColor(importance, importance)
		}
		rows = append(rows, []string{
			importance,
			fmt.Sprintf("%.2f", c.Score),
			string(c.Type),
			fmt.Sprintf("%d", c.Size()),
			fmt.Sprintf("%d/%d/%d", c.FileCount, c.ModuleCount, c.LayerCount),
			truncate(strings.Join(c.FunctionNames, " -> "), 80),
		})
	}

	s := result.Summary
	report := &output.Report{
		Title: "Call Cycles",
		Sections: []output.Renderable{
			output.NewTable(
				"",
				[]string{"Importance", "Score", "Type", "Size", "Files/Modules/Layers", "Functions"},
				rows,
				nil,
				result,
			),
			&output.Section{
				Title: "Summary",
				Content: fmt.Sprintf(
					"critical %d, high %d, medium %d, low %d (recursive %d, mutual %d, complex %d)\n%d of %d cycles shown",
					s.Critical, s.High, s.Medium, s.Low, s.Recursive, s.Mutual, s.Complex,
					result.FilterStats.FilteredCycles, result.FilterStats.TotalCycles,
				),
			},
		},
	}
	if err := formatter.Output(report); err != nil {
		return err
	}

	if ws.cfg.Output.Verbose {
		for _, c := range result.Cycles {
			if len(c.Recommendations) == 0 {
				continue
			}
			fmt.Fprintf(formatter.Writer(), "\n%s %s\n", c.ID, strings.Join(c.FunctionNames, " -> "))
			for _, r := range c.Recommendations {
				fmt.Fprintf(formatter.Writer(), "  - %s\n", r)
			}
		}
	}
	if result.Truncated {
		formatter.Warning("cycle enumeration hit its cap; raise --max-cycles or --max-length for a complete list")
	}
	return nil
}
