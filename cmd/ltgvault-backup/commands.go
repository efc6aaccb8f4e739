package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/ltgvault/internal/backup"
	"github.com/dukerupert/ltgvault/internal/database"
)

var createFlags struct {
	prune bool
}

var restoreFlags struct {
	latest bool
	force  bool
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot, encrypt and upload the database",
	Long: `Snapshot the database with VACUUM INTO, encrypt it and upload it.
The server may keep running while this command runs.

With --prune, snapshots beyond LTGV_BACKUP_KEEP are deleted afterwards.`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots beyond LTGV_BACKUP_KEEP",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

var restoreCmd = &cobra.Command{
	Use:   "restore [key]",
	Short: "Download, decrypt and install a snapshot",
	Long: `Download a snapshot, decrypt it, verify its integrity and replace the
database file. Stop the server first.

Examples:
  # Restore a specific snapshot
  ltgvault-backup restore ltgvault/ltgvault-20260301T040000Z.db.enc

  # Restore the newest snapshot
  ltgvault-backup restore --latest`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(createCmd, listCmd, pruneCmd, restoreCmd)

	createCmd.Flags().BoolVar(&createFlags.prune, "prune", false, "delete old snapshots after uploading")
	restoreCmd.Flags().BoolVar(&restoreFlags.latest, "latest", false, "restore the newest snapshot")
	restoreCmd.Flags().BoolVar(&restoreFlags.force, "force", false, "overwrite an existing database file")
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, m, err := setup()
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	obj, err := m.Create(cmd.Context(), db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%d bytes)\n", obj.Key, obj.Size)

	if createFlags.prune {
		return prune(cmd, m, cfg.Keep)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	_, m, err := setup()
	if err != nil {
		return err
	}

	objects, err := m.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no backups found")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tUPLOADED")
	for _, o := range objects {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.UTC().Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, m, err := setup()
	if err != nil {
		return err
	}
	return prune(cmd, m, cfg.Keep)
}

func prune(cmd *cobra.Command, m *backup.Manager, keep int) error {
	deleted, err := m.Prune(cmd.Context(), keep)
	if err != nil {
		return err
	}
	for _, k := range deleted {
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", k)
	}
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, m, err := setup()
	if err != nil {
		return err
	}

	var key string
	switch {
	case len(args) == 1 && restoreFlags.latest:
		return errors.New("pass a key or --latest, not both")
	case len(args) == 1:
		key = args[0]
	case restoreFlags.latest:
		latest, err := m.Latest(cmd.Context())
		if err != nil {
			return err
		}
		if latest == nil {
			return errors.New("no backups found")
		}
		key = latest.Key
	default:
		return errors.New("pass a key or --latest")
	}

	if _, err := os.Stat(cfg.DBPath); err == nil && !restoreFlags.force {
		return fmt.Errorf("%s exists; stop the server and pass --force to replace it", cfg.DBPath)
	}

	if err := m.Restore(cmd.Context(), key, cfg.DBPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", key, cfg.DBPath)
	return nil
}
