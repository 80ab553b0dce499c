package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/morningbrief/api/internal/client"
)

// ErrAllProvidersFailed is returned when every speech provider in the chain failed.
var ErrAllProvidersFailed = errors.New("all speech providers failed")

// SpeechProvider synthesizes speech from text
type SpeechProvider interface {
	Name() string
	Synthesize(ctx context.Context, text, voice string) (*client.Audio, error)
}

// SynthesisResult is the audio produced by the first provider that succeeded
type SynthesisResult struct {
	Audio       *client.Audio
	Provider    string
	BilledChars int
}

// Synthesizer tries an ordered chain of speech providers
type Synthesizer struct {
	providers []SpeechProvider
	timeout   time.Duration
	logger    *slog.Logger
}

// NewSynthesizer creates a synthesizer over providers in priority order.
// Nil providers are skipped.
func NewSynthesizer(providers []SpeechProvider, timeout time.Duration, logger *slog.Logger) *Synthesizer {
	chain := make([]SpeechProvider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			chain = append(chain, p)
		}
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{providers: chain, timeout: timeout, logger: logger.With("component", "synth")}
}

// Providers returns the provider names in chain order.
func (s *Synthesizer) Providers() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// Synthesize converts text to audio with the first provider that succeeds.
// Characters sent to every attempted provider are billed, including failures.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (*SynthesisResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("nothing to synthesize")
	}
	chars := utf8.RuneCountInString(text)
	result := &SynthesisResult{}
	var errs []error

	for _, p := range s.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		audio, err := p.Synthesize(callCtx, text, voice)
		cancel()
		result.BilledChars += chars

		if err == nil && (audio == nil || len(audio.Data) == 0) {
			err = fmt.Errorf("empty audio")
		}
		if err != nil {
			s.logger.Warn("speech provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		result.Audio = audio
		result.Provider = p.Name()
		return result, nil
	}

	if len(s.providers) == 0 {
		errs = append(errs, fmt.Errorf("no speech providers configured"))
	}
	return result, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

// ArtifactStore persists synthesized audio
type ArtifactStore struct {
	storage client.StorageClient
}

func NewArtifactStore(storage client.StorageClient) *ArtifactStore {
	return &ArtifactStore{storage: storage}
}

// ArtifactPrefix is the storage prefix owning every object of a job.
func ArtifactPrefix(jobID string) string {
	return "briefings/" + jobID + "/"
}

// FullAudioStem is the extensionless key of an unsegmented briefing.
func FullAudioStem(jobID string) string {
	return ArtifactPrefix(jobID) + "full"
}

// SegmentAudioStem is the extensionless key of one segment.
func SegmentAudioStem(jobID string, index int) string {
	return fmt.Sprintf("%ssegment-%d", ArtifactPrefix(jobID), index)
}

// JobIDFromKey extracts the job id from an artifact key.
func JobIDFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "briefings/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Save uploads audio under key stem with an extension and content type
// detected from the bytes. It returns the full key.
func (a *ArtifactStore) Save(ctx context.Context, stem string, audio *client.Audio) (string, error) {
	mtype := mimetype.Detect(audio.Data)
	ext := strings.TrimPrefix(mtype.Extension(), ".")
	contentType := mtype.String()
	if !strings.HasPrefix(contentType, "audio/") {
		// Fall back to the provider's declared format.
		ext = audio.Format
		if ext == "" {
			ext = "mp3"
		}
		contentType = audioContentType(ext)
	}
	key := stem + "." + ext
	if _, err := a.storage.Upload(ctx, key, bytes.NewReader(audio.Data), contentType); err != nil {
		return "", fmt.Errorf("failed to store audio: %w", err)
	}
	return key, nil
}

func audioContentType(ext string) string {
	switch ext {
	case "wav":
		return "audio/wav"
	case "ogg", "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}
