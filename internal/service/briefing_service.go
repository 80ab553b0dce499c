package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morningbrief/api/internal/client"
	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/store"
)

var (
	ErrJobNotFound     = errors.New("briefing not found")
	ErrForbidden       = errors.New("briefing belongs to another user")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrNotSegmented    = errors.New("briefing is not segmented")
	ErrPlaybackTooLate = errors.New("playback time has already passed its completion window")
)

// farFuture is how far ahead playback must be for a job to start in the background band.
const farFuture = 24 * time.Hour

// BriefingConfig holds the scheduling windows applied at creation
type BriefingConfig struct {
	LeadTime          time.Duration
	GracePeriod       time.Duration
	UrgentWindow      time.Duration
	EstimatedDuration time.Duration
	SignedURLTTL      time.Duration
	DefaultRegion     string
}

// BriefingService handles briefing job creation and status queries
type BriefingService struct {
	store   *store.Store
	storage client.StorageClient
	cfg     BriefingConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewBriefingService(st *store.Store, storage client.StorageClient, cfg BriefingConfig, logger *slog.Logger) *BriefingService {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "us"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BriefingService{
		store:   st,
		storage: storage,
		cfg:     cfg,
		logger:  logger.With("component", "briefings"),
		now:     time.Now,
	}
}

// WithClock overrides the time source.
func (s *BriefingService) WithClock(now func() time.Time) *BriefingService {
	s.now = now
	return s
}

// Create creates the briefing for (user, local date), or reschedules it when
// the inputs changed. Posting identical inputs again returns the existing job.
func (s *BriefingService) Create(ctx context.Context, userID string, req *model.CreateBriefingRequest) (*model.CreateBriefingResponse, error) {
	now := s.now().UTC()
	playback := req.PlaybackAt.UTC()

	latest := playback.Add(s.cfg.GracePeriod)
	if !latest.After(now) {
		return nil, ErrPlaybackTooLate
	}

	earliest := playback.Add(-s.cfg.LeadTime)
	if req.Welcome || earliest.Before(now) {
		earliest = now
	}

	priority := s.priorityFor(req, playback, now)

	result, err := s.store.UpsertJob(ctx, store.UpsertParams{
		UserID:             userID,
		LocalDate:          req.LocalDate,
		PlaybackAt:         playback,
		EarliestProcessAt:  earliest,
		LatestCompletionAt: latest,
		Priority:           priority,
		Preferences:        s.preferencesFrom(req),
		Segmented:          req.Segmented,
		SegmentCount:       segmentCount(req),
	}, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save briefing: %w", err)
	}

	job := result.Job
	if result.Created || result.Rescheduled {
		s.logger.Info("briefing scheduled",
			"job_id", job.ID,
			"created", result.Created,
			"priority", job.Priority,
			"playback_at", job.PlaybackAt,
		)
	}

	return &model.CreateBriefingResponse{
		JobID:            job.ID,
		Status:           job.Status,
		Priority:         job.Priority,
		PriorityBand:     model.PriorityBand(job.Priority),
		Created:          result.Created,
		EstimatedReadyAt: s.estimateReady(job, now),
	}, nil
}

func (s *BriefingService) priorityFor(req *model.CreateBriefingRequest, playback, now time.Time) int {
	switch {
	case req.Welcome:
		return model.PriorityImmediate
	case playback.Sub(now) <= s.cfg.UrgentWindow:
		return model.PriorityUrgent
	case playback.Sub(now) > farFuture:
		return model.PriorityBackground
	default:
		return model.PriorityRegular
	}
}

func (s *BriefingService) preferencesFrom(req *model.CreateBriefingRequest) model.Preferences {
	locale := req.Locale
	if locale == "" {
		locale = "en-US"
	}
	region := req.Region
	if region == "" {
		region = s.cfg.DefaultRegion
	}
	quoteStyle := req.QuoteStyle
	if quoteStyle == "" {
		quoteStyle = model.QuoteStyleInspirational
	}
	return model.Preferences{
		DisplayName:           req.DisplayName,
		Timezone:              req.Timezone,
		Locale:                locale,
		Region:                region,
		WeatherLocation:       req.WeatherLocation,
		Voice:                 req.Voice,
		TargetDurationSeconds: req.TargetDurationSeconds,
		Categories:            req.Categories,
		StockSymbols:          req.StockSymbols,
		SportsLeagues:         req.SportsLeagues,
		QuoteStyle:            quoteStyle,
		CalendarSnippets:      req.CalendarSnippets,
	}
}

func segmentCount(req *model.CreateBriefingRequest) int {
	if !req.Segmented {
		return 0
	}
	if req.SegmentCount == 0 {
		return 3
	}
	return req.SegmentCount
}

// estimateReady is the time processing can start plus the typical pipeline duration.
func (s *BriefingService) estimateReady(job *model.Job, now time.Time) time.Time {
	if job.Status == model.JobStatusReady && job.AudioReadyAt != nil {
		return *job.AudioReadyAt
	}
	start := job.EarliestProcessAt
	if start.Before(now) {
		start = now
	}
	if job.NextAttemptAt.After(start) {
		start = job.NextAttemptAt
	}
	return start.Add(s.cfg.EstimatedDuration)
}

// Status returns a user's briefing with signed URLs for finished audio
func (s *BriefingService) Status(ctx context.Context, userID, jobID string) (*model.BriefingStatusResponse, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	resp := &model.BriefingStatusResponse{
		JobID:           job.ID,
		LocalDate:       job.LocalDate,
		Status:          job.Status,
		PlaybackAt:      job.PlaybackAt,
		Segmented:       job.Segmented,
		SegmentFallback: job.SegmentFallback,
		SegmentCount:    job.SegmentCount,
		SegmentsReady:   job.SegmentsReady,
		UpdatedAt:       job.UpdatedAt,
	}

	if job.Status == model.JobStatusFailed || job.Status == model.JobStatusFailedMissed {
		resp.FailureStage = job.FailureStage
		resp.FailureReason = job.FailureReason
	}

	if job.Status == model.JobStatusReady && job.AudioKey != "" {
		url, expires, err := s.sign(ctx, job.AudioKey)
		if err != nil {
			return nil, err
		}
		resp.AudioURL = url
		resp.AudioExpiresAt = expires
	}

	if job.Segmented {
		segments, err := s.store.ListSegments(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list segments: %w", err)
		}
		for _, seg := range segments {
			sr, err := s.segmentResponse(ctx, seg)
			if err != nil {
				return nil, err
			}
			resp.Segments = append(resp.Segments, *sr)
		}
	}
	return resp, nil
}

// Segment returns one segment, with a URL only once it is ready
func (s *BriefingService) Segment(ctx context.Context, userID, jobID string, index int) (*model.SegmentResponse, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Segmented {
		return nil, ErrNotSegmented
	}

	seg, err := s.store.GetSegment(ctx, job.ID, index)
	if errors.Is(err, store.ErrNotFound) {
		// Segment rows are created when the audio stage starts.
		if index >= 0 && index < job.SegmentCount && job.Status != model.JobStatusReady {
			return &model.SegmentResponse{Index: index, Status: model.SegmentStatusQueued}, nil
		}
		return nil, ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load segment: %w", err)
	}
	return s.segmentResponse(ctx, seg)
}

// Owner checks that jobID exists and belongs to userID.
func (s *BriefingService) Owner(ctx context.Context, userID, jobID string) error {
	_, err := s.ownedJob(ctx, userID, jobID)
	return err
}

func (s *BriefingService) ownedJob(ctx context.Context, userID, jobID string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load briefing: %w", err)
	}
	if job.UserID != userID {
		return nil, ErrForbidden
	}
	return job, nil
}

func (s *BriefingService) segmentResponse(ctx context.Context, seg *model.AudioSegment) (*model.SegmentResponse, error) {
	sr := &model.SegmentResponse{Index: seg.Index, Status: seg.Status}
	if seg.Status == model.SegmentStatusReady && seg.AudioKey != "" {
		url, expires, err := s.sign(ctx, seg.AudioKey)
		if err != nil {
			return nil, err
		}
		sr.AudioURL = url
		sr.ExpiresAt = expires
	}
	return sr, nil
}

func (s *BriefingService) sign(ctx context.Context, key string) (string, *time.Time, error) {
	url, err := s.storage.GetSignedURL(ctx, key, s.cfg.SignedURLTTL)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign audio url: %w", err)
	}
	expires := s.now().Add(s.cfg.SignedURLTTL)
	return url, &expires, nil
}
