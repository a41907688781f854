package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
)

const jobTimeout = 10 * time.Minute

// ArchiveJob ships run artifacts to the object store on a schedule, then
// rotates old archives.
type ArchiveJob struct {
	svc           *ArchiveService
	retentionDays int
	log           zerolog.Logger
}

// NewArchiveJob creates the scheduled archive job.
func NewArchiveJob(svc *ArchiveService, retentionDays int, log zerolog.Logger) *ArchiveJob {
	return &ArchiveJob{
		svc:           svc,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "archive_upload").Logger(),
	}
}

// Run uploads a fresh archive and rotates old ones.
func (j *ArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := j.svc.CreateAndUpload(ctx); err != nil {
		return fmt.Errorf("archive upload failed: %w", err)
	}
	if err := j.svc.RotateOldArchives(ctx, j.retentionDays); err != nil {
		// The upload succeeded; rotation can wait for the next run.
		j.log.Warn().Err(err).Msg("Archive rotation failed")
	}
	return nil
}

// Name identifies the job in scheduler logs.
func (j *ArchiveJob) Name() string {
	return "archive_upload"
}

// MaintenanceJob keeps the journal database healthy: WAL checkpoint, an
// integrity ping, and a disk space check that halts on a full disk.
type MaintenanceJob struct {
	db      *database.DB
	dataDir string
	log     zerolog.Logger
}

// NewMaintenanceJob creates the journal maintenance job.
func NewMaintenanceJob(db *database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:      db,
		dataDir: dataDir,
		log:     log.With().Str("job", "journal_maintenance").Logger(),
	}
}

// Run executes one maintenance pass.
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting journal maintenance")
	startTime := time.Now()

	if j.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if err := j.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("journal health check failed: %w", err)
		}
		if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
			// Not critical, the autocheckpoint will catch up.
			j.log.Warn().Err(err).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Journal maintenance completed")
	return nil
}

// Name identifies the job in scheduler logs.
func (j *MaintenanceJob) Name() string {
	return "journal_maintenance"
}

// checkDiskSpace verifies sufficient disk space is available.
func (j *MaintenanceJob) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(j.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	availableGB := float64(availableBytes) / 1e9

	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < 0.5 {
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %.2f GB free on %s", availableGB, j.dataDir)
	}
	if availableGB < 5.0 {
		j.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Disk space running low")
	}

	return nil
}
