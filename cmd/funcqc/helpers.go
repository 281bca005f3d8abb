package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/akiramei/funcqc-sub009/internal/logging"
	"github.com/akiramei/funcqc-sub009/internal/output"
	"github.com/akiramei/funcqc-sub009/pkg/config"
	"github.com/akiramei/funcqc-sub009/pkg/models"
	"github.com/akiramei/funcqc-sub009/pkg/store"
)

// loadConfig loads --config or the first config file found.
func loadConfig() (*config.Config, error) {
	var opts []config.LoadOption
	if cfgFile != "" {
		opts = append(opts, config.WithPath(cfgFile))
	}
	result, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, err
	}
	cfg := result.Config
	if formatFlag != "" {
		cfg.Output.Format = formatFlag
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if verbosity > 0 {
		cfg.Output.Verbose = true
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	return logging.New(os.Stderr, logging.LevelFromVerbosity(verbosity, quiet))
}

func newFormatter(cfg *config.Config) (*output.Formatter, error) {
	return output.NewFormatter(output.ParseFormat(cfg.Output.Format), outputFile, cfg.Output.Color)
}

// workspace is the loaded configuration, store and snapshot shared by the
// analysis commands.
type workspace struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     store.Store
	snapshot  models.Snapshot
	functions []models.FunctionInfo
	edges     []models.CallEdge
}

func openWorkspace(cmd *cobra.Command) (*workspace, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	db, err := store.OpenSQLite(cfg.Store.Path, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	ws := &workspace{cfg: cfg, logger: logger, store: db}

	ctx := cmd.Context()
	if err := ws.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ws, nil
}

func (ws *workspace) load(ctx context.Context) error {
	var err error
	if snapshotID != "" {
		ws.snapshot, err = ws.store.GetSnapshot(ctx, snapshotID)
	} else {
		ws.snapshot, err = ws.store.LatestSnapshot(ctx)
	}
	if err != nil {
		return fmt.Errorf("no snapshot to analyze (run 'funcqc import' first): %w", err)
	}
	if ws.functions, err = ws.store.GetFunctions(ctx, ws.snapshot.ID); err != nil {
		return err
	}
	if ws.edges, err = ws.store.GetCallEdges(ctx, ws.snapshot.ID); err != nil {
		return err
	}
	ws.logger.Debug("snapshot loaded",
		"snapshot", ws.snapshot.ID,
		"functions", len(ws.functions),
		"edges", len(ws.edges),
	)
	return nil
}

// sourceRoot resolves relative function paths: --root, then the snapshot
// root, then the working directory.
func (ws *workspace) sourceRoot() string {
	if rootDir != "" {
		return rootDir
	}
	if ws.snapshot.RootDir != "" {
		return ws.snapshot.RootDir
	}
	return "."
}

func (ws *workspace) Close() error {
	return ws.store.Close()
}

// truncate shortens a string to maxLen characters, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
