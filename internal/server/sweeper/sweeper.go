package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dropslot/internal/server/database"
	"dropslot/internal/server/storage"

	"github.com/robfig/cron/v3"
)

// Registry is the slice of the repository the global sweep needs.
type Registry interface {
	ExpiredFiles(ctx context.Context) ([]*database.File, error)
	ExpiredShares(ctx context.Context) ([]*database.Share, error)
	ShareFiles(ctx context.Context, shareID int64) ([]*database.File, error)
	DeleteFile(ctx context.Context, id int64) error
	DeleteShare(ctx context.Context, shareID int64) error
}

// Report tallies one sweep cycle.
type Report struct {
	FilesRemoved  int
	SharesRemoved int
	Failures      int
}

// Sweeper runs the scheduled global sweep: every expired file and every
// expired share is removed best-effort. Runs are single-flight: a trigger
// that finds the previous cycle still going is skipped, not queued.
type Sweeper struct {
	repo     Registry
	store    storage.Store
	interval time.Duration
	cron     *cron.Cron
	running  sync.Mutex
}

// New creates a sweeper that runs every interval.
func New(repo Registry, store storage.Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		store:    store,
		interval: interval,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the sweep and runs one cycle immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	slog.Info("sweeper started", "interval", s.interval)

	_, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		s.Run(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()

	// Clear anything that expired while the server was down
	go s.Run(ctx)
	return nil
}

// Stop halts the schedule and waits for an in-flight cycle to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.running.Lock()
	s.running.Unlock()
}

// Run executes one sweep cycle. Per-item failures are logged and tallied,
// never propagated, so the cycle always completes. A call that overlaps a
// running cycle returns immediately with a nil report.
func (s *Sweeper) Run(ctx context.Context) *Report {
	if !s.running.TryLock() {
		return nil
	}
	defer s.running.Unlock()

	report := &Report{}

	files, err := s.repo.ExpiredFiles(ctx)
	if err != nil {
		slog.Error("failed to list expired files", "error", err)
		report.Failures++
	}
	for _, f := range files {
		if err := s.store.Delete(ctx, f.StoredKey); err != nil {
			// Leave the row for the next cycle so the blob gets retried.
			slog.Error("failed to delete expired blob", "key", f.StoredKey, "error", err)
			report.Failures++
			continue
		}
		if err := s.repo.DeleteFile(ctx, f.ID); err != nil && !errors.Is(err, database.ErrFileNotFound) {
			slog.Error("failed to delete expired file record", "file_id", f.ID, "error", err)
			report.Failures++
			continue
		}
		report.FilesRemoved++
	}

	shares, err := s.repo.ExpiredShares(ctx)
	if err != nil {
		slog.Error("failed to list expired shares", "error", err)
		report.Failures++
	}
	for _, share := range shares {
		if err := s.deleteShareCascade(ctx, share); err != nil {
			slog.Error("failed to delete expired share",
				"identifier", share.Identifier,
				"error", err,
			)
			report.Failures++
			continue
		}
		report.SharesRemoved++
	}

	if report.FilesRemoved > 0 || report.SharesRemoved > 0 || report.Failures > 0 {
		slog.Info("sweep cycle complete",
			"files_removed", report.FilesRemoved,
			"shares_removed", report.SharesRemoved,
			"failures", report.Failures,
		)
	}
	return report
}

func (s *Sweeper) deleteShareCascade(ctx context.Context, share *database.Share) error {
	files, err := s.repo.ShareFiles(ctx, share.ID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.store.Delete(ctx, f.StoredKey); err != nil {
			slog.Error("failed to delete blob", "key", f.StoredKey, "error", err)
		}
		if err := s.repo.DeleteFile(ctx, f.ID); err != nil && !errors.Is(err, database.ErrFileNotFound) {
			slog.Error("failed to delete file record", "file_id", f.ID, "error", err)
		}
	}
	return s.repo.DeleteShare(ctx, share.ID)
}
