package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (u *memoryUploader) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	if u.err != nil {
		return u.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = make(map[string][]byte)
	}
	u.objects[key] = data
	return nil
}

func openLedger(t *testing.T, dir string) *database.DB {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Conn().Exec(`INSERT INTO runs (id, status, phase, source, window_start, window_end, interval_ms, created_at)
		VALUES ('run-1', 'completed', 'done', 'api', 0, 3600, 20000, 0)`)
	require.NoError(t, err)
	return db
}

// readArchive returns the files inside a tar.gz keyed by name
func readArchive(t *testing.T, data []byte) map[string][]byte {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = content
	}
	return files
}

func TestBackupService_UploadsArchive(t *testing.T) {
	dir := t.TempDir()
	db := openLedger(t, dir)
	uploader := &memoryUploader{}

	bus := events.NewBus(zerolog.Nop())
	_, ch := bus.Subscribe(8)
	svc := NewBackupService(db, uploader, filepath.Join(dir, "backups"), "/nightly/", events.NewManager(bus, zerolog.Nop()), zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 3, 4, 3, 0, 0, 0, time.UTC) }

	result, err := svc.Backup(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Uploaded)
	assert.Equal(t, "nightly/ledger-backup-2024-03-04-030000.tar.gz", result.Key)
	assert.FileExists(t, result.Archive)

	data, ok := uploader.objects[result.Key]
	require.True(t, ok)
	files := readArchive(t, data)
	require.Contains(t, files, "ledger.db")
	require.Contains(t, files, metadataFilename)

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataFilename], &meta))
	assert.Equal(t, "ledger", meta.Database)
	assert.Equal(t, int64(len(files["ledger.db"])), meta.SizeBytes)
	assert.Contains(t, meta.Checksum, "sha256:")

	select {
	case e := <-ch:
		assert.Equal(t, events.BackupCompleted, e.Type)
	default:
		t.Fatal("expected a backup event")
	}
}

func TestBackupService_LocalOnlyAndPrune(t *testing.T) {
	dir := t.TempDir()
	db := openLedger(t, dir)
	svc := NewBackupService(db, nil, filepath.Join(dir, "backups"), "", nil, zerolog.Nop())
	assert.False(t, svc.UploadEnabled())

	base := time.Date(2024, 3, 4, 3, 0, 0, 0, time.UTC)
	for i := 0; i < DefaultKeepLocal+2; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		svc.now = func() time.Time { return at }

		result, err := svc.Backup(context.Background())
		require.NoError(t, err)
		assert.False(t, result.Uploaded)
		assert.Empty(t, result.Key)
	}

	archives, err := svc.ListLocal()
	require.NoError(t, err)
	require.Len(t, archives, DefaultKeepLocal)
	assert.Equal(t, "ledger-backup-2024-03-04-070000.tar.gz", filepath.Base(archives[0]))

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.Len(t, entries, DefaultKeepLocal, "work directories are removed")
}

func TestBackupService_UploadFailure(t *testing.T) {
	dir := t.TempDir()
	db := openLedger(t, dir)
	svc := NewBackupService(db, &memoryUploader{err: errors.New("access denied")}, filepath.Join(dir, "backups"), "", nil, zerolog.Nop())

	_, err := svc.Backup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestDailyMaintenanceJob(t *testing.T) {
	dir := t.TempDir()
	db := openLedger(t, dir)
	job := NewDailyMaintenanceJob(db, dir, zerolog.Nop())
	assert.Equal(t, "daily_maintenance", job.Name())

	job.diskFree = func(string) (uint64, error) { return 20e9, nil }
	assert.NoError(t, job.Run())

	job.diskFree = func(string) (uint64, error) { return 1e8, nil }
	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRITICAL")

	job.diskFree = func(string) (uint64, error) { return 0, errors.New("no such device") }
	assert.Error(t, job.Run())
}
