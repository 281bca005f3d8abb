package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	formatFlag string
	outputFile string
	storePath  string
	snapshotID string
	rootDir    string
	verbosity  int
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "funcqc",
	Short: "Call-graph reachability, cycle and safe deletion analysis",
	Long: `funcqc analyzes the call graph of an imported snapshot: it finds entry
points, unreachable functions and call cycles, ranks cycles by how badly they
cross architectural boundaries, and removes dead functions in validated,
reversible batches.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (TOML, YAML, or JSON)")
	rootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "", "Output format: text, json, markdown, toon")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "Write output to file")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Path to the snapshot database")
	rootCmd.PersistentFlags().StringVarP(&snapshotID, "snapshot", "s", "", "Snapshot ID (default: latest)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Source root for file paths (default: snapshot root or .)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v, -vv)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress log output")
}
