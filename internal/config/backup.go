package config

import (
	"fmt"
	"strconv"
)

// BackupConfig is read by the backup CLI only; the server never needs it.
type BackupConfig struct {
	DBPath     string
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Prefix     string
	Passphrase string
	Keep       int
}

// BackupFromEnv reads LTGV_BACKUP_* settings. Bucket, credentials and the
// passphrase are required.
func BackupFromEnv(getenv func(string) string) (*BackupConfig, error) {
	var errs []FieldError

	cfg := &BackupConfig{
		DBPath:     envOr(getenv, "LTGV_DB_PATH", "ltgvault.db"),
		Endpoint:   getenv("LTGV_BACKUP_S3_ENDPOINT"),
		Bucket:     getenv("LTGV_BACKUP_S3_BUCKET"),
		Region:     envOr(getenv, "LTGV_BACKUP_S3_REGION", "us-east-1"),
		AccessKey:  getenv("LTGV_BACKUP_S3_ACCESS_KEY"),
		SecretKey:  getenv("LTGV_BACKUP_S3_SECRET_KEY"),
		Prefix:     envOr(getenv, "LTGV_BACKUP_PREFIX", "ltgvault"),
		Passphrase: getenv("LTGV_BACKUP_PASSPHRASE"),
		Keep:       14,
	}

	required := []struct{ field, value string }{
		{"LTGV_BACKUP_S3_BUCKET", cfg.Bucket},
		{"LTGV_BACKUP_S3_ACCESS_KEY", cfg.AccessKey},
		{"LTGV_BACKUP_S3_SECRET_KEY", cfg.SecretKey},
		{"LTGV_BACKUP_PASSPHRASE", cfg.Passphrase},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, FieldError{Field: r.field, Message: "required"})
		}
	}
	if cfg.Passphrase != "" && len(cfg.Passphrase) < 12 {
		errs = append(errs, FieldError{Field: "LTGV_BACKUP_PASSPHRASE", Message: "must be at least 12 characters"})
	}

	if v := getenv("LTGV_BACKUP_KEEP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, FieldError{Field: "LTGV_BACKUP_KEEP", Message: fmt.Sprintf("must be a positive integer, got %q", v)})
		} else {
			cfg.Keep = n
		}
	}

	if len(errs) > 0 {
		return nil, ValidationError{Errors: errs}
	}
	return cfg, nil
}
