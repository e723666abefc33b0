// Package jobs contains the background workers of the Keepsake backend.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/keepsake-app/keepsake/internal/config"
	"github.com/keepsake-app/keepsake/internal/db/repositories"
	"github.com/keepsake-app/keepsake/internal/safego"
	"github.com/keepsake-app/keepsake/internal/storage"
	"github.com/keepsake-app/keepsake/internal/telemetry"
)

// purgeBatchSize bounds how many projects one sweep pass processes.
const purgeBatchSize = 50

// RetentionSweeper hard-deletes projects that are past retention: soft-deleted
// projects older than the purge window, and projects whose expires_at has
// passed by the same margin. Database rows cascade from the project row; the
// sweeper's own work is removing the stored audio and PDFs first.
type RetentionSweeper struct {
	projects   *repositories.ProjectRepository
	recordings *repositories.RecordingRepository
	blob       storage.Blob
	cfg        *config.RetentionConfig

	audioPrefix string
	pdfPrefix   string
	stopCh      chan struct{}
}

// NewRetentionSweeper creates the sweeper.
func NewRetentionSweeper(projects *repositories.ProjectRepository, recordings *repositories.RecordingRepository, blob storage.Blob, cfg *config.Config) *RetentionSweeper {
	return &RetentionSweeper{
		projects:    projects,
		recordings:  recordings,
		blob:        blob,
		cfg:         &cfg.Retention,
		audioPrefix: cfg.Storage.AudioPrefix,
		pdfPrefix:   cfg.Storage.PDFPrefix,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *RetentionSweeper) Start(ctx context.Context) {
	safego.Go(func() {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop stops the sweep loop.
func (s *RetentionSweeper) Stop() {
	close(s.stopCh)
}

func (s *RetentionSweeper) sweep(ctx context.Context) {
	telemetry.RetentionSweepsTotal.Inc()
	cutoff := time.Now().Add(-s.cfg.PurgeAfter)

	projects, err := s.projects.ListPurgeable(ctx, cutoff, purgeBatchSize)
	if err != nil {
		slog.Error("retention sweep query failed", "error", err)
		return
	}
	if len(projects) == 0 {
		return
	}

	slog.Info("retention sweep starting", "candidates", len(projects), "cutoff", cutoff)
	for _, p := range projects {
		if err := s.purgeProject(ctx, p.ID); err != nil {
			// Leave the row in place so the next sweep retries the project.
			slog.Error("project purge failed", "project_id", p.ID, "error", err)
			continue
		}
		telemetry.RetentionProjectsPurgedTotal.Inc()
		slog.Info("project purged", "project_id", p.ID)
	}
}

// purgeProject removes stored objects first, then the database rows. Order
// matters: if the row delete ran first, a storage failure would strand
// unreachable objects with no record pointing at them.
//
// Audio keys recorded on recordings rows are deleted individually, then the
// prefix pass clears objects left by uploads that never completed (a signed
// upload URL may have been used without a matching upload-complete). PDFs are
// not row-tracked, so they are purged by prefix alone.
func (s *RetentionSweeper) purgeProject(ctx context.Context, projectID string) error {
	keys, err := s.recordings.ListAudioKeys(ctx, projectID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.blob.Delete(ctx, key); err != nil {
			return err
		}
	}
	if err := s.blob.DeletePrefix(ctx, s.audioPrefix+"/"+projectID); err != nil {
		return err
	}
	if err := s.blob.DeletePrefix(ctx, s.pdfPrefix+"/"+projectID); err != nil {
		return err
	}
	return s.projects.DeleteProject(ctx, projectID)
}
