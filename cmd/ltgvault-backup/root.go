package main

import (
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/dukerupert/ltgvault/internal/backup"
	"github.com/dukerupert/ltgvault/internal/config"
	"github.com/dukerupert/ltgvault/internal/logging"
)

var (
	// Global flags
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ltgvault-backup",
	Short: "Encrypted backup and restore for the LTG Vault database",
	Long: `Take consistent snapshots of the LTG Vault SQLite database, encrypt them
with a passphrase (Argon2id + AES-256-GCM) and keep them in S3-compatible
storage.

Configuration is read from the environment:
  LTGV_BACKUP_S3_BUCKET, LTGV_BACKUP_S3_ACCESS_KEY, LTGV_BACKUP_S3_SECRET_KEY
  LTGV_BACKUP_S3_ENDPOINT, LTGV_BACKUP_S3_REGION, LTGV_BACKUP_PREFIX
  LTGV_BACKUP_PASSPHRASE, LTGV_BACKUP_KEEP, LTGV_DB_PATH`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default $LTGV_DB_PATH or ltgvault.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// setup loads configuration and builds the manager shared by every command.
func setup() (*config.BackupConfig, *backup.Manager, error) {
	cfg, err := config.BackupFromEnv(os.Getenv)
	if err != nil {
		return nil, nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	logger := logging.Setup(logLevel, "text")
	m := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		},
		Prefix:     cfg.Prefix,
		Passphrase: cfg.Passphrase,
	}, logger.With("component", "backup"))
	slog.Debug("backup configured", "bucket", cfg.Bucket, "prefix", cfg.Prefix, "db_path", cfg.DBPath)
	return cfg, m, nil
}
