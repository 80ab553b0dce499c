package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morningbrief/api/internal/client"
	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/store"
)

// artifactRoot is the storage prefix holding every briefing object.
const artifactRoot = "briefings/"

// CleanupConfig holds cleanup cooldowns
type CleanupConfig struct {
	FastInterval time.Duration
	DeepInterval time.Duration
	BatchSize    int
}

// CleanupService deletes expired and orphaned briefing artifacts
type CleanupService struct {
	store   *store.Store
	storage client.StorageClient
	cfg     CleanupConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewCleanupService(st *store.Store, storage client.StorageClient, cfg CleanupConfig, logger *slog.Logger) *CleanupService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupService{
		store:   st,
		storage: storage,
		cfg:     cfg,
		logger:  logger.With("component", "cleanup"),
		now:     time.Now,
	}
}

// WithClock overrides the time source.
func (s *CleanupService) WithClock(now func() time.Time) *CleanupService {
	s.now = now
	return s
}

// Run executes the passes selected by mode. A pass still cooling down is
// reported as skipped.
func (s *CleanupService) Run(ctx context.Context, retention time.Duration, mode model.CleanupMode) (*model.CleanupResponse, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown cleanup mode %q", mode)
	}
	resp := &model.CleanupResponse{Mode: mode}

	if mode == model.CleanupFast || mode == model.CleanupBoth {
		report, err := s.gated(ctx, store.TriggerCleanupFast, s.cfg.FastInterval, func() (*model.CleanupReport, error) {
			return s.FastPass(ctx, retention)
		})
		if err != nil {
			return nil, err
		}
		resp.FastPass = report
	}

	if mode == model.CleanupDeep || mode == model.CleanupBoth {
		report, err := s.gated(ctx, store.TriggerCleanupDeep, s.cfg.DeepInterval, func() (*model.CleanupReport, error) {
			return s.DeepPass(ctx)
		})
		if err != nil {
			return nil, err
		}
		resp.DeepPass = report
	}
	return resp, nil
}

func (s *CleanupService) gated(ctx context.Context, name string, interval time.Duration, pass func() (*model.CleanupReport, error)) (*model.CleanupReport, error) {
	ok, err := s.store.TryStartTrigger(ctx, name, interval, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info("cleanup pass skipped", "pass", name, "reason", "cooldown")
		return &model.CleanupReport{Skipped: true, SkipReason: "cooldown"}, nil
	}

	report, runErr := pass()
	if err := s.store.FinishTrigger(ctx, name, runErr, s.now()); err != nil {
		s.logger.Warn("failed to record cleanup run", "pass", name, "error", err)
	}
	if runErr != nil {
		return nil, runErr
	}
	return report, nil
}

// FastPass deletes the artifacts of finished jobs created before now-retention and
// marks them purged. Running it again is harmless.
func (s *CleanupService) FastPass(ctx context.Context, retention time.Duration) (*model.CleanupReport, error) {
	report := &model.CleanupReport{}
	cutoff := s.now().Add(-retention)
	seen := make(map[string]bool)

	for {
		jobs, err := s.store.PurgeCandidates(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		progressed := false
		for _, job := range jobs {
			if seen[job.ID] {
				continue
			}
			seen[job.ID] = true
			progressed = true
			report.JobsScanned++

			if job.HasActiveLease(s.now()) {
				continue
			}
			if s.purgeJob(ctx, job.ID, report) {
				if err := s.store.MarkArtifactsPurged(ctx, job.ID, s.now()); err != nil {
					report.Errors++
					s.logger.Warn("failed to mark job purged", "job_id", job.ID, "error", err)
				}
			}
		}
		if !progressed || len(jobs) < s.cfg.BatchSize {
			break
		}
	}

	s.logger.Info("fast cleanup pass finished",
		"jobs", report.JobsScanned,
		"deleted", report.ObjectsDeleted,
		"errors", report.Errors,
	)
	return report, nil
}

// purgeJob deletes every object of a job and reports whether all deletes succeeded.
func (s *CleanupService) purgeJob(ctx context.Context, jobID string, report *model.CleanupReport) bool {
	keys, err := s.storage.List(ctx, ArtifactPrefix(jobID))
	if err != nil {
		report.Errors++
		s.logger.Warn("failed to list job artifacts", "job_id", jobID, "error", err)
		return false
	}
	report.ObjectsScanned += len(keys)

	clean := true
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			report.Errors++
			clean = false
			s.logger.Warn("failed to delete artifact", "key", key, "error", err)
			continue
		}
		report.ObjectsDeleted++
	}
	return clean
}

// DeepPass deletes stored objects whose job no longer exists. Objects that
// belong to an existing job are never touched.
func (s *CleanupService) DeepPass(ctx context.Context) (*model.CleanupReport, error) {
	report := &model.CleanupReport{}

	keys, err := s.storage.List(ctx, artifactRoot)
	if err != nil {
		return report, fmt.Errorf("failed to list artifacts: %w", err)
	}
	report.ObjectsScanned = len(keys)

	byJob := make(map[string][]string)
	for _, key := range keys {
		id, ok := JobIDFromKey(key)
		if !ok {
			continue
		}
		byJob[id] = append(byJob[id], key)
	}

	ids := make([]string, 0, len(byJob))
	for id := range byJob {
		ids = append(ids, id)
	}
	existing, err := s.store.ExistingJobIDs(ctx, ids)
	if err != nil {
		return report, err
	}
	report.JobsScanned = len(ids)

	for id, objects := range byJob {
		if existing[id] {
			continue
		}
		for _, key := range objects {
			if err := s.storage.Delete(ctx, key); err != nil {
				report.Errors++
				s.logger.Warn("failed to delete orphan artifact", "key", key, "error", err)
				continue
			}
			report.ObjectsDeleted++
		}
	}

	s.logger.Info("deep cleanup pass finished",
		"objects", report.ObjectsScanned,
		"deleted", report.ObjectsDeleted,
		"errors", report.Errors,
	)
	return report, nil
}
