package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukerupert/ltgvault/internal/database"
	"github.com/dukerupert/ltgvault/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for k, v := range m.objects {
		if !strings.HasPrefix(k, aws.ToString(input.Prefix)) {
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(v))),
			LastModified: aws.Time(time.Now()),
		})
	}
	return out, nil
}

const testPassphrase = "correct horse battery"

func newTestManager(t *testing.T, client *mockS3Client) *Manager {
	t.Helper()
	m := newManager(client, Config{
		S3:         S3Config{Bucket: "vault-backups"},
		Prefix:     "prod",
		Passphrase: testPassphrase,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m
}

// fixedClock returns successive times one minute apart.
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Minute)
		return t
	}
}

func TestCreateAndRestore(t *testing.T) {
	dir := t.TempDir()
	db, err := database.Open(filepath.Join(dir, "live.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := store.NewAccountStore(db).Create("saved@example.com"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	client := newMockS3()
	m := newTestManager(t, client)
	m.now = fixedClock(time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC))

	obj, err := m.Create(context.Background(), db)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if obj.Key != "prod/ltgvault-20260301T040000Z.db.enc" {
		t.Errorf("key = %q", obj.Key)
	}
	if bytes.Contains(client.objects[obj.Key], []byte("saved@example.com")) {
		t.Error("uploaded snapshot is not encrypted")
	}

	target := filepath.Join(dir, "restored.db")
	if err := m.Restore(context.Background(), obj.Key, target); err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored, err := database.Open(target)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	acct, err := store.NewAccountStore(restored).GetByEmail("saved@example.com")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct == nil {
		t.Fatal("account missing from restored database")
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	client := newMockS3()
	sealed, err := Seal([]byte("not even sqlite"), "some other passphrase")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	client.objects["prod/ltgvault-20260101T000000Z.db.enc"] = sealed

	m := newTestManager(t, client)
	target := filepath.Join(t.TempDir(), "target.db")
	err = m.Restore(context.Background(), "prod/ltgvault-20260101T000000Z.db.enc", target)
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("err = %v, want ErrDecryption", err)
	}
}

func TestRestoreRejectsCorruptDatabase(t *testing.T) {
	client := newMockS3()
	sealed, err := Seal([]byte("this is not a sqlite file at all"), testPassphrase)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	client.objects["prod/ltgvault-20260101T000000Z.db.enc"] = sealed

	m := newTestManager(t, client)
	target := filepath.Join(t.TempDir(), "target.db")
	if err := m.Restore(context.Background(), "prod/ltgvault-20260101T000000Z.db.enc", target); err == nil {
		t.Fatal("restore of garbage succeeded")
	}
}

func TestRestoreMissingKey(t *testing.T) {
	m := newTestManager(t, newMockS3())
	if err := m.Restore(context.Background(), "prod/missing.db.enc", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatal("restore of missing key succeeded")
	}
}

func TestListAndPrune(t *testing.T) {
	client := newMockS3()
	for _, k := range []string{
		"prod/ltgvault-20260101T000000Z.db.enc",
		"prod/ltgvault-20260103T000000Z.db.enc",
		"prod/ltgvault-20260102T000000Z.db.enc",
		"prod/notes.txt",
		"staging/ltgvault-20260104T000000Z.db.enc",
	} {
		client.objects[k] = []byte("x")
	}
	m := newTestManager(t, client)

	objects, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objects) != 3 {
		t.Fatalf("objects = %+v, want 3", objects)
	}
	if objects[0].Key != "prod/ltgvault-20260103T000000Z.db.enc" {
		t.Errorf("newest = %q", objects[0].Key)
	}

	latest, err := m.Latest(context.Background())
	if err != nil || latest == nil || latest.Key != objects[0].Key {
		t.Errorf("latest = %+v, %v", latest, err)
	}

	deleted, err := m.Prune(context.Background(), 1)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted = %q, want 2 keys", deleted)
	}
	if _, ok := client.objects["prod/ltgvault-20260103T000000Z.db.enc"]; !ok {
		t.Error("newest backup was pruned")
	}
	if _, ok := client.objects["staging/ltgvault-20260104T000000Z.db.enc"]; !ok {
		t.Error("object outside prefix was pruned")
	}
}

func TestPruneSkipsFailedDeletes(t *testing.T) {
	client := newMockS3()
	client.objects["prod/ltgvault-20260101T000000Z.db.enc"] = []byte("x")
	client.objects["prod/ltgvault-20260102T000000Z.db.enc"] = []byte("x")
	client.delErr = errors.New("access denied")
	m := newTestManager(t, client)

	deleted, err := m.Prune(context.Background(), 1)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("deleted = %q, want none", deleted)
	}
}

func TestLatestEmpty(t *testing.T) {
	m := newTestManager(t, newMockS3())
	latest, err := m.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Errorf("latest = %+v, want nil", latest)
	}
}

func TestCreateUploadError(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	client := newMockS3()
	client.putErr = errors.New("bucket gone")
	m := newTestManager(t, client)
	if _, err := m.Create(context.Background(), db); err == nil {
		t.Fatal("create succeeded despite upload error")
	}
}
