// Package backup takes encrypted SQLite snapshots and keeps them in
// S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3         S3Config
	Prefix     string
	Passphrase string
}

// Object is one stored snapshot.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Manager creates, lists, prunes and restores snapshots.
type Manager struct {
	client     s3Client
	bucket     string
	prefix     string
	passphrase string
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return newManager(newS3Client(cfg.S3), cfg, logger)
}

func newManager(client s3Client, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		client:     client,
		bucket:     cfg.S3.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		passphrase: cfg.Passphrase,
		logger:     logger,
		now:        time.Now,
	}
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Create snapshots db with VACUUM INTO, seals it and uploads it. The
// snapshot is consistent even while the server keeps writing.
func (m *Manager) Create(ctx context.Context, db *sql.DB) (*Object, error) {
	tmpDir, err := os.MkdirTemp("", "ltgvault-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "snapshot.db")
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}

	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	sealed, err := Seal(plaintext, m.passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	now := m.now().UTC()
	key := m.objectKey(now)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return nil, fmt.Errorf("upload to s3: %w", err)
	}

	m.logger.Info("backup uploaded", "key", key, "size", len(sealed))
	return &Object{Key: key, Size: int64(len(sealed)), LastModified: now}, nil
}

// Keys embed a sortable UTC timestamp, so key order is age order.
func (m *Manager) objectKey(t time.Time) string {
	name := fmt.Sprintf("ltgvault-%s.db.enc", t.Format("20060102T150405Z"))
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// List returns snapshots newest first.
func (m *Manager) List(ctx context.Context) ([]Object, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(m.bucket)}
	if m.prefix != "" {
		input.Prefix = aws.String(m.prefix + "/")
	}

	var objects []Object
	p := s3.NewListObjectsV2Paginator(m.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			if !strings.HasSuffix(key, ".db.enc") {
				continue
			}
			objects = append(objects, Object{
				Key:          key,
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })
	return objects, nil
}

// Latest returns the newest snapshot, or nil when there are none.
func (m *Manager) Latest(ctx context.Context) (*Object, error) {
	objects, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}
	return &objects[0], nil
}

// Prune deletes all but the newest keep snapshots and returns the keys it
// removed. Individual delete failures are logged and skipped.
func (m *Manager) Prune(ctx context.Context, keep int) ([]string, error) {
	objects, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(objects) <= keep {
		return nil, nil
	}

	var deleted []string
	for _, o := range objects[keep:] {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(o.Key),
		}); err != nil {
			m.logger.Warn("delete old backup", "key", o.Key, "error", err)
			continue
		}
		deleted = append(deleted, o.Key)
	}
	return deleted, nil
}

// Restore downloads key, decrypts it, checks its integrity and replaces the
// database at dbPath. The server must not be running.
func (m *Manager) Restore(ctx context.Context, key, dbPath string) error {
	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	sealed, err := io.ReadAll(result.Body)
	result.Body.Close()
	if err != nil {
		return fmt.Errorf("read download: %w", err)
	}

	plaintext, err := Open(sealed, m.passphrase)
	if err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}

	// Stage next to the target so the final rename stays on one filesystem.
	staged := dbPath + ".restore"
	if err := os.WriteFile(staged, plaintext, 0600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}
	defer os.Remove(staged)

	if err := checkIntegrity(ctx, staged); err != nil {
		return err
	}

	// A leftover WAL belongs to the old database and must not be replayed
	// onto the restored one.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", suffix, err)
		}
	}
	if err := os.Rename(staged, dbPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}

	m.logger.Info("backup restored", "key", key, "db_path", dbPath)
	return nil
}

func checkIntegrity(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	return nil
}
