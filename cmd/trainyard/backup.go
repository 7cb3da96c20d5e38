package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/trainyard/pkg/storage"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a consistent copy of the ledger database",
	Long: `Write a consistent snapshot of the ledger database to --out.

The snapshot is taken inside a read transaction. Run it against a stopped
server's data directory; the database is locked while trainyard serve runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		out, _ := cmd.Flags().GetString("out")

		dbPath := filepath.Join(dataDir, storage.DBFile)
		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("database not found at %s: %w", dbPath, err)
		}

		store, err := storage.OpenBoltStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create backup file: %w", err)
		}

		n, err := store.Backup(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out)
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("✓ Backup written: %s (%d bytes)\n", out, n)
		return nil
	},
}

func init() {
	backupCmd.Flags().String("data-dir", "./trainyard-data", "Data directory for the ledger database")
	backupCmd.Flags().String("out", "", "Backup file path (required)")
	_ = backupCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(backupCmd)
}
