package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/akiramei/funcqc-sub009/internal/output"
	"github.com/akiramei/funcqc-sub009/pkg/deletion"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-path>",
	Short: "Restore every file captured in a deletion backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return restoreBackup(args[0])
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List deletion backups",
	RunE:  runBackupsList,
}

var backupsDiscardCmd = &cobra.Command{
	Use:   "discard <backup-path>",
	Short: "Delete a backup that is no longer needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := deletion.DiscardBackup(args[0]); err != nil {
			return err
		}
		color.Green("Backup discarded: %s", args[0])
		return nil
	},
}

func init() {
	backupsCmd.Flags().String("dir", "", "Backup root (default: deletion.backup_dir)")

	backupsCmd.AddCommand(backupsDiscardCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(backupsCmd)
}

func restoreBackup(path string) error {
	if err := deletion.RestoreFromBackup(path); err != nil {
		color.Red("Restore incomplete:")
		return err
	}
	color.Green("Restored files from %s", path)
	return nil
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, _ := cmd.Flags().GetString("dir")
	if root == "" {
		root = cfg.Deletion.BackupDir
		if rootDir != "" && !filepath.IsAbs(root) {
			root = filepath.Join(rootDir, root)
		}
	}

	backups, err := deletion.ListBackups(root)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		color.Yellow("No backups in %s", root)
		return nil
	}

	formatter, err := newFormatter(cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	manifests := make([]deletion.Manifest, 0, len(backups))
	rows := make([][]string, 0, len(backups))
	for _, b := range backups {
		manifests = append(manifests, b.Manifest)
		rows = append(rows, []string{
			b.Dir,
			b.Manifest.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(b.Manifest.SnapshotID, 12),
			fmt.Sprintf("%d", len(b.Manifest.Functions)),
			fmt.Sprintf("%d", len(b.Manifest.Files)),
		})
	}
	return formatter.Output(output.NewTable("Backups",
		[]string{"Path", "Created", "Snapshot", "Functions", "Files"}, rows, nil, manifests))
}
