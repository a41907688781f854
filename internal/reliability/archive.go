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
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/version"
)

const (
	archivePrefix        = "helmsman-archive-"
	archiveTimestampForm = "2006-01-02-150405"

	// Rotation never deletes below this many archives, whatever their age.
	minArchivesToKeep = 3
)

// ObjectClient is the bucket surface the archive service needs.
type ObjectClient interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]StoredObject, error)
	Delete(ctx context.Context, key string) error
}

var _ ObjectClient = (*ObjectStore)(nil)

// ArchiveMetadata describes the contents of one archive.
type ArchiveMetadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Version   string         `json:"version"`
	Files     []FileMetadata `json:"files"`
}

// FileMetadata describes a single file inside an archive.
type FileMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// ArchiveInfo summarizes one archive stored in the bucket.
type ArchiveInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// ArchiveService bundles run artifacts (the trade journal and result
// bundles) into tar.gz archives and ships them to an object store.
type ArchiveService struct {
	store      ObjectClient
	journal    *database.DB // nil when journaling is off
	resultsDir string
	dataDir    string
	log        zerolog.Logger
}

// NewArchiveService creates the archive service. journal may be nil.
func NewArchiveService(store ObjectClient, journal *database.DB, resultsDir, dataDir string, log zerolog.Logger) *ArchiveService {
	return &ArchiveService{
		store:      store,
		journal:    journal,
		resultsDir: resultsDir,
		dataDir:    dataDir,
		log:        log.With().Str("service", "archive").Logger(),
	}
}

// CreateAndUpload stages the journal and result bundles, wraps them in a
// tar.gz with a metadata file, and uploads the archive.
func (s *ArchiveService) CreateAndUpload(ctx context.Context) error {
	s.log.Info().Msg("Starting archive upload")
	startTime := time.Now()

	stagingDir := filepath.Join(s.dataDir, "archive-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := ArchiveMetadata{
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
	}

	var staged []string

	if s.journal != nil {
		journalCopy := filepath.Join(stagingDir, "journal.db")
		// Checkpoint first so the copy carries everything in the WAL.
		if err := s.journal.WALCheckpoint("TRUNCATE"); err != nil {
			s.log.Warn().Err(err).Msg("WAL checkpoint before archive failed")
		}
		if err := s.journal.BackupTo(journalCopy); err != nil {
			return fmt.Errorf("failed to back up journal: %w", err)
		}
		meta, err := s.fileMetadata(journalCopy, "journal.db")
		if err != nil {
			return err
		}
		metadata.Files = append(metadata.Files, meta)
		staged = append(staged, "journal.db")
	}

	bundles, err := s.stageResultBundles(stagingDir)
	if err != nil {
		return err
	}
	for _, name := range bundles {
		meta, err := s.fileMetadata(filepath.Join(stagingDir, name), name)
		if err != nil {
			return err
		}
		metadata.Files = append(metadata.Files, meta)
	}
	staged = append(staged, bundles...)

	if len(staged) == 0 {
		s.log.Info().Msg("Nothing to archive")
		return nil
	}

	metadataPath := filepath.Join(stagingDir, "archive-metadata.json")
	if err := s.writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	staged = append(staged, "archive-metadata.json")

	archiveName := archivePrefix + time.Now().Format(archiveTimestampForm) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := s.createArchive(archivePath, stagingDir, staged); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.store.Upload(ctx, archiveName, archiveFile); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int("files", len(staged)).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("Archive upload completed")

	return nil
}

// stageResultBundles copies run bundles into the staging directory and
// returns their basenames. A missing results directory stages nothing.
func (s *ArchiveService) stageResultBundles(stagingDir string) ([]string, error) {
	entries, err := os.ReadDir(s.resultsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var staged []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "run-") {
			continue
		}
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".msgpack") {
			continue
		}
		if err := copyFile(filepath.Join(s.resultsDir, name), filepath.Join(stagingDir, name)); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", name, err)
		}
		staged = append(staged, name)
	}
	sort.Strings(staged)
	return staged, nil
}

// ListArchives lists the archives in the bucket, newest first.
func (s *ArchiveService) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	archives := make([]ArchiveInfo, 0, len(objects))
	now := time.Now()

	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, archivePrefix) || !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}

		timestampStr := strings.TrimSuffix(strings.TrimPrefix(obj.Key, archivePrefix), ".tar.gz")
		timestamp, err := time.Parse(archiveTimestampForm, timestampStr)
		if err != nil {
			s.log.Warn().Str("filename", obj.Key).Msg("Failed to parse timestamp from filename")
			continue
		}

		archives = append(archives, ArchiveInfo{
			Filename:  obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})
	return archives, nil
}

// RotateOldArchives deletes archives older than the retention period. The
// newest minArchivesToKeep always stay; retentionDays 0 keeps everything.
func (s *ArchiveService) RotateOldArchives(ctx context.Context, retentionDays int) error {
	s.log.Info().Int("retention_days", retentionDays).Msg("Starting archive rotation")

	archives, err := s.ListArchives(ctx)
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}

	if len(archives) <= minArchivesToKeep {
		s.log.Info().Int("count", len(archives)).Msg("Too few archives to rotate")
		return nil
	}

	var cutoffTime time.Time
	if retentionDays > 0 {
		cutoffTime = time.Now().AddDate(0, 0, -retentionDays)
	}

	deletedCount := 0
	for i, archive := range archives {
		if i < minArchivesToKeep {
			continue
		}
		if retentionDays == 0 {
			continue
		}
		if archive.Timestamp.Before(cutoffTime) {
			if err := s.store.Delete(ctx, archive.Filename); err != nil {
				s.log.Error().
					Err(err).
					Str("filename", archive.Filename).
					Msg("Failed to delete old archive")
				continue
			}
			s.log.Info().
				Str("filename", archive.Filename).
				Time("timestamp", archive.Timestamp).
				Msg("Deleted old archive")
			deletedCount++
		}
	}

	s.log.Info().
		Int("deleted", deletedCount).
		Int("remaining", len(archives)-deletedCount).
		Msg("Archive rotation completed")

	return nil
}

// fileMetadata stats and checksums one staged file.
func (s *ArchiveService) fileMetadata(path, name string) (FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	checksum, err := calculateChecksum(path)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("failed to checksum %s: %w", name, err)
	}
	return FileMetadata{Name: name, SizeBytes: info.Size(), Checksum: checksum}, nil
}

// calculateChecksum calculates the SHA256 checksum of a file.
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

// writeMetadata writes archive metadata to a JSON file.
func (s *ArchiveService) writeMetadata(path string, metadata ArchiveMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive creates a tar.gz archive of the named staged files.
func (s *ArchiveService) createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}
	return nil
}

// addFileToArchive adds a single file to a tar archive.
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
	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}
	return nil
}

// copyFile copies src to dst, truncating dst if it exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
