package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/semaphore"

	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/store"
)

// AudioOutcome is what an audio strategy produced for a job
type AudioOutcome struct {
	AudioKey        string
	Provider        string
	SegmentFallback bool
	// BilledChars not yet charged to the job. Segment charges are recorded
	// with each segment and are not included.
	BilledChars int
}

// AudioStrategy produces the audio artifacts for a leased job
type AudioStrategy interface {
	Produce(ctx context.Context, job *model.Job, owner string) (*AudioOutcome, error)
}

// SegmentStore persists per-segment progress under the job lease
type SegmentStore interface {
	EnsureSegments(ctx context.Context, jobID, owner string, slices []string, now time.Time) ([]*model.AudioSegment, error)
	StartSegment(ctx context.Context, jobID, owner string, index int, now time.Time) error
	CompleteSegment(ctx context.Context, jobID, owner string, index int, audioKey string, billed int, now time.Time) (int, error)
	FailSegment(ctx context.Context, jobID, owner string, index int, reason string, billed int, now time.Time) error
}

// SegmentReadyFunc is called each time a segment becomes playable.
type SegmentReadyFunc func(job *model.Job, index, ready, total int)

// SingleStrategy synthesizes the whole script in one call
type SingleStrategy struct {
	synth     *Synthesizer
	artifacts *ArtifactStore
}

func NewSingleStrategy(synth *Synthesizer, artifacts *ArtifactStore) *SingleStrategy {
	return &SingleStrategy{synth: synth, artifacts: artifacts}
}

// Produce synthesizes and stores the full briefing
func (s *SingleStrategy) Produce(ctx context.Context, job *model.Job, owner string) (*AudioOutcome, error) {
	res, err := s.synth.Synthesize(ctx, job.Script, job.Preferences.Voice)
	outcome := &AudioOutcome{}
	if res != nil {
		outcome.BilledChars = res.BilledChars
	}
	if err != nil {
		return outcome, err
	}

	key, err := s.artifacts.Save(ctx, FullAudioStem(job.ID), res.Audio)
	if err != nil {
		return outcome, err
	}
	outcome.AudioKey = key
	outcome.Provider = res.Provider
	return outcome, nil
}

// SegmentConfig bounds segmented synthesis
type SegmentConfig struct {
	Concurrency int
	Retries     int
	Backoff     time.Duration
}

// SegmentedStrategy synthesizes sentence-aligned slices of the script
// concurrently and falls back to a single synthesis if any slice fails.
type SegmentedStrategy struct {
	single    *SingleStrategy
	synth     *Synthesizer
	artifacts *ArtifactStore
	segments  SegmentStore
	cfg       SegmentConfig
	onReady   SegmentReadyFunc
	logger    *slog.Logger
	now       func() time.Time
}

func NewSegmentedStrategy(single *SingleStrategy, synth *Synthesizer, artifacts *ArtifactStore, segments SegmentStore, cfg SegmentConfig, logger *slog.Logger) *SegmentedStrategy {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentedStrategy{
		single:    single,
		synth:     synth,
		artifacts: artifacts,
		segments:  segments,
		cfg:       cfg,
		logger:    logger.With("component", "segments"),
		now:       time.Now,
	}
}

// OnSegmentReady registers a progress callback.
func (s *SegmentedStrategy) OnSegmentReady(fn SegmentReadyFunc) *SegmentedStrategy {
	s.onReady = fn
	return s
}

// Produce synthesizes every segment that is not already ready. When all
// segments succeed the job's audio is the segment set and AudioKey is empty.
func (s *SegmentedStrategy) Produce(ctx context.Context, job *model.Job, owner string) (*AudioOutcome, error) {
	count := job.SegmentCount
	if count < 2 {
		count = 2
	}
	segs, err := s.segments.EnsureSegments(ctx, job.ID, owner, SplitScript(job.Script, count), s.now())
	if err != nil {
		return &AudioOutcome{}, err
	}

	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failed   []int
		leaseErr error
		provider string
	)

	for _, seg := range segs {
		if seg.Status == model.SegmentStatusReady {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failed = append(failed, seg.Index)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(seg *model.AudioSegment) {
			defer wg.Done()
			defer sem.Release(1)

			name, err := s.produceSegment(ctx, job, owner, seg, len(segs))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, store.ErrLeaseLost):
				leaseErr = err
			case err != nil:
				failed = append(failed, seg.Index)
			case provider == "":
				provider = name
			}
		}(seg)
	}
	wg.Wait()

	if leaseErr != nil {
		return &AudioOutcome{}, leaseErr
	}
	if len(failed) == 0 {
		return &AudioOutcome{Provider: provider}, nil
	}

	s.logger.Warn("segment synthesis failed, falling back to single synthesis",
		"job_id", job.ID, "failed_segments", failed)

	outcome, err := s.single.Produce(ctx, job, owner)
	if outcome != nil {
		outcome.SegmentFallback = true
	}
	if err != nil {
		return outcome, fmt.Errorf("segment fallback: %w", err)
	}
	return outcome, nil
}

func (s *SegmentedStrategy) produceSegment(ctx context.Context, job *model.Job, owner string, seg *model.AudioSegment, total int) (string, error) {
	if err := s.segments.StartSegment(ctx, job.ID, owner, seg.Index, s.now()); err != nil {
		return "", err
	}

	billed := 0
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, s.cfg.Backoff*time.Duration(1<<(attempt-2))); err != nil {
				lastErr = err
				break
			}
		}

		res, err := s.synth.Synthesize(ctx, seg.ScriptSlice, job.Preferences.Voice)
		if res != nil {
			billed += res.BilledChars
		}
		if err != nil {
			lastErr = err
			continue
		}

		key, err := s.artifacts.Save(ctx, SegmentAudioStem(job.ID, seg.Index), res.Audio)
		if err != nil {
			lastErr = err
			continue
		}

		ready, err := s.segments.CompleteSegment(ctx, job.ID, owner, seg.Index, key, billed, s.now())
		if err != nil {
			return "", err
		}
		if s.onReady != nil {
			s.onReady(job, seg.Index, ready, total)
		}
		return res.Provider, nil
	}

	reason := "segment synthesis failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	// The parent context may be done; record the failure regardless.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.segments.FailSegment(recordCtx, job.ID, owner, seg.Index, reason, billed, s.now()); err != nil {
		return "", err
	}
	return "", fmt.Errorf("segment %d: %s", seg.Index, reason)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SplitScript cuts a script into at most n slices of similar length without
// breaking sentences.
func SplitScript(script string, n int) []string {
	sentences := splitSentences(script)
	if n > len(sentences) {
		n = len(sentences)
	}
	if n <= 1 {
		return []string{strings.TrimSpace(script)}
	}

	total := 0
	for _, s := range sentences {
		total += len(s)
	}

	slices := make([]string, 0, n)
	var cur []string
	acc := 0
	for i, sentence := range sentences {
		cur = append(cur, sentence)
		acc += len(sentence)

		remainingSlices := n - len(slices) - 1
		if remainingSlices == 0 {
			continue
		}
		remainingSentences := len(sentences) - i - 1
		if acc*n >= total*(len(slices)+1) || remainingSentences == remainingSlices {
			slices = append(slices, strings.Join(cur, " "))
			cur = nil
		}
	}
	return append(slices, strings.Join(cur, " "))
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)

	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}

	for i, r := range runes {
		b.WriteRune(r)
		switch r {
		case '\n':
			flush()
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return out
}
