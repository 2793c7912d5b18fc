// Package reliability keeps the run journal safe: snapshots shipped to
// object storage and routine database maintenance.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/events"
	"github.com/rs/zerolog"
)

const (
	archivePrefix    = "ledger-backup-"
	archiveSuffix    = ".tar.gz"
	archiveTimestamp = "2006-01-02-150405"
	metadataFilename = "backup-metadata.json"

	// DefaultKeepLocal is how many archives stay in the staging directory
	DefaultKeepLocal = 3
)

// Snapshotter produces a consistent copy of a database file
type Snapshotter interface {
	Name() string
	SnapshotTo(ctx context.Context, dest string) error
}

// Uploader ships an archive to object storage
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
}

// BackupMetadata describes the contents of an archive
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupResult reports a finished backup
type BackupResult struct {
	Archive   string        `json:"archive"`
	Key       string        `json:"key,omitempty"`
	SizeBytes int64         `json:"size_bytes"`
	Uploaded  bool          `json:"uploaded"`
	Duration  time.Duration `json:"duration"`
}

// BackupService snapshots the ledger, archives it and uploads the archive.
// Without an uploader archives are only kept locally.
type BackupService struct {
	db         Snapshotter
	uploader   Uploader
	stagingDir string
	prefix     string
	keepLocal  int
	events     *events.Manager
	now        func() time.Time
	log        zerolog.Logger

	mu sync.Mutex
}

// NewBackupService creates a new backup service. uploader may be nil.
func NewBackupService(
	db Snapshotter,
	uploader Uploader,
	stagingDir string,
	prefix string,
	eventManager *events.Manager,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		db:         db,
		uploader:   uploader,
		stagingDir: stagingDir,
		prefix:     strings.Trim(prefix, "/"),
		keepLocal:  DefaultKeepLocal,
		events:     eventManager,
		now:        time.Now,
		log:        log.With().Str("service", "backup").Logger(),
	}
}

// UploadEnabled reports whether archives leave the machine
func (s *BackupService) UploadEnabled() bool {
	return s.uploader != nil
}

// Backup creates an archive of the ledger and uploads it when an uploader is configured
func (s *BackupService) Backup(ctx context.Context) (*BackupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info().Msg("Starting ledger backup")
	startTime := s.now()

	if err := os.MkdirAll(s.stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	workDir, err := os.MkdirTemp(s.stagingDir, "work-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	dbFilename := s.db.Name() + ".db"
	dbPath := filepath.Join(workDir, dbFilename)
	if err := s.db.SnapshotTo(ctx, dbPath); err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", s.db.Name(), err)
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	checksum, err := calculateChecksum(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	metadata := BackupMetadata{
		Timestamp: startTime.UTC(),
		Database:  s.db.Name(),
		Filename:  dbFilename,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}
	metadataPath := filepath.Join(workDir, metadataFilename)
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := archivePrefix + startTime.UTC().Format(archiveTimestamp) + archiveSuffix
	archivePath := filepath.Join(s.stagingDir, archiveName)
	if err := createArchive(archivePath, workDir, []string{dbFilename, metadataFilename}); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	result := &BackupResult{Archive: archivePath, SizeBytes: archiveInfo.Size()}
	if s.uploader != nil {
		result.Key = s.objectKey(archiveName)
		if err := s.upload(ctx, archivePath, result.Key, archiveInfo.Size()); err != nil {
			return nil, err
		}
		result.Uploaded = true
	}

	if err := s.pruneLocal(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to prune staged archives")
	}

	result.Duration = s.now().Sub(startTime)
	s.log.Info().
		Str("archive", archiveName).
		Bool("uploaded", result.Uploaded).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration_ms", result.Duration).
		Msg("Ledger backup completed")

	if s.events != nil {
		key := result.Key
		if key == "" {
			key = archivePath
		}
		s.events.EmitTyped("reliability", &events.BackupCompletedData{Key: key, SizeBytes: result.SizeBytes})
	}
	return result, nil
}

func (s *BackupService) upload(ctx context.Context, archivePath, key string, size int64) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	if err := s.uploader.Upload(ctx, key, f, size); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (s *BackupService) objectKey(archiveName string) string {
	if s.prefix == "" {
		return archiveName
	}
	return s.prefix + "/" + archiveName
}

// ListLocal returns staged archive paths, newest first
func (s *BackupService) ListLocal() ([]string, error) {
	entries, err := os.ReadDir(s.stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var archives []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		archives = append(archives, filepath.Join(s.stagingDir, name))
	}
	// the timestamp format sorts lexically
	sort.Sort(sort.Reverse(sort.StringSlice(archives)))
	return archives, nil
}

// pruneLocal keeps the newest keepLocal archives
func (s *BackupService) pruneLocal() error {
	archives, err := s.ListLocal()
	if err != nil {
		return err
	}
	for i, path := range archives {
		if i < s.keepLocal {
			continue
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		s.log.Debug().Str("archive", filepath.Base(path)).Msg("Pruned staged archive")
	}
	return nil
}

// calculateChecksum calculates SHA256 checksum of a file
func calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

// writeMetadata writes backup metadata to a JSON file
func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive writes a tar.gz of the named files in sourceDir
func createArchive(archivePath, sourceDir string, filenames []string) (err error) {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if cerr := archiveFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzipWriter.Close()
}

// addFileToArchive adds a single file to a tar archive
func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tarWriter, file)
	return err
}
