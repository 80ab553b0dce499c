// Package app wires configuration into the running components shared by the
// API server and the one-shot tick command.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/morningbrief/api/internal/auth"
	"github.com/morningbrief/api/internal/cache"
	"github.com/morningbrief/api/internal/client"
	"github.com/morningbrief/api/internal/config"
	"github.com/morningbrief/api/internal/content"
	"github.com/morningbrief/api/internal/handler"
	"github.com/morningbrief/api/internal/logging"
	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/service"
	"github.com/morningbrief/api/internal/store"
	ws "github.com/morningbrief/api/internal/websocket"
	"github.com/morningbrief/api/internal/worker"
)

// Options override infrastructure that tests replace with fakes.
type Options struct {
	Redis   *redis.Client
	Storage client.StorageClient
	// Speech replaces the configured speech providers.
	Speech []service.SpeechProvider
	// SkipOIDC disables JWKS discovery.
	SkipOIDC bool
}

// App holds every long-lived component.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store   *store.Store
	Redis   *redis.Client
	Storage client.StorageClient
	Hub     *ws.Hub

	Content   *cache.ContentCache
	Refresher *content.Refresher
	Scripts   *service.ScriptService
	Synth     *service.Synthesizer
	Briefings *service.BriefingService
	Cleanup   *service.CleanupService
	Scheduler *worker.Scheduler
	Auth      *auth.Authenticator

	Health handler.HealthInfo

	ownsRedis bool
}

// New builds the component graph from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	a.Store = st

	a.Redis = opts.Redis
	if a.Redis == nil {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.ownsRedis = true
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, content cache reads will report absent", "addr", cfg.Redis.Addr, "error", err)
	}

	a.Storage, a.Health.Storage = newStorage(cfg, opts, logger)

	a.Content = cache.NewContentCache(a.Redis, cfg.Content.MaxRetention)
	a.Refresher = content.NewRefresher(a.Content, st, st, newSources(cfg, logger), content.RefresherConfig{
		TTL: cfg.Content.TTL,
		Defaults: map[model.ContentType][]string{
			model.ContentNews:    cfg.Content.DefaultRegions,
			model.ContentWeather: cfg.Content.DefaultWeather,
			model.ContentSports:  cfg.Content.DefaultLeagues,
			model.ContentStocks:  cfg.Content.DefaultSymbols,
		},
		Cooldown:     cfg.Content.RefreshCooldown,
		FetchTimeout: cfg.Content.FetchTimeout,
		Parallel:     4,
	}, logger)

	writer := client.NewGroqClient(&cfg.LLM)
	a.Health.ScriptWriter = writer.IsConfigured()
	a.Scripts = service.NewScriptService(writer, a.Content, service.ScriptConfig{
		WordsPerMinute: cfg.Pipeline.WordsPerMinute,
		MinWords:       cfg.Pipeline.MinWords,
		MinScriptChars: cfg.Pipeline.MinScriptChars,
		Timeout:        cfg.Pipeline.ScriptTimeout,
	}, logger)

	providers := opts.Speech
	if providers == nil {
		providers, err = speechProviders(cfg, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	a.Synth = service.NewSynthesizer(providers, cfg.Pipeline.SpeechTimeout, logger)
	a.Health.SpeechProviders = a.Synth.Providers()

	a.Hub = ws.NewHub(logger)

	artifacts := service.NewArtifactStore(a.Storage)
	single := service.NewSingleStrategy(a.Synth, artifacts)
	segmented := service.NewSegmentedStrategy(single, a.Synth, artifacts, st, service.SegmentConfig{
		Concurrency: cfg.Pipeline.SegmentConcurrency,
		Retries:     cfg.Pipeline.SegmentRetries,
		Backoff:     cfg.Pipeline.SegmentBackoff,
	}, logger).OnSegmentReady(func(job *model.Job, index, ready, total int) {
		a.Hub.BroadcastSegment(job.ID, index, ready, total)
	})

	a.Briefings = service.NewBriefingService(st, a.Storage, service.BriefingConfig{
		LeadTime:          cfg.Pipeline.LeadTime,
		GracePeriod:       cfg.Pipeline.GracePeriod,
		UrgentWindow:      cfg.Pipeline.UrgentWindow,
		EstimatedDuration: cfg.Pipeline.EstimatedDuration,
		SignedURLTTL:      cfg.R2.SignedURLTTL,
		DefaultRegion:     firstOr(cfg.Content.DefaultRegions, "us"),
	}, logger)

	a.Cleanup = service.NewCleanupService(st, a.Storage, service.CleanupConfig{
		FastInterval: cfg.Cleanup.FastInterval,
		DeepInterval: cfg.Cleanup.DeepInterval,
	}, logger)

	a.Scheduler = worker.NewScheduler(st, a.Scripts, single, segmented, a.Hub, worker.Config{
		BatchSize:     cfg.Pipeline.BatchSize,
		Workers:       cfg.Pipeline.Workers,
		LeaseDuration: cfg.Pipeline.LeaseDuration,
		MaxAttempts:   cfg.Pipeline.MaxAttempts,
		BackoffBase:   cfg.Pipeline.BackoffBase,
		BackoffMax:    cfg.Pipeline.BackoffMax,
		UrgentWindow:  cfg.Pipeline.UrgentWindow,
	}, logger)

	a.Auth = newAuthenticator(ctx, cfg, opts, logger)
	a.Health.AuthMethods = a.Auth.Methods()

	return a, nil
}

// TaskHandlers returns the asynq handlers for the periodic tasks.
func (a *App) TaskHandlers() *worker.TaskHandlers {
	return worker.NewTaskHandlers(a.Scheduler, a.Refresher, a.Cleanup, a.Config.Cleanup.RetentionDays, a.Logger)
}

// Close releases the store and, unless injected, the Redis client.
func (a *App) Close() error {
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.ownsRedis && a.Redis != nil {
		_ = a.Redis.Close()
	}
	return a.Store.Close()
}

func newStorage(cfg *config.Config, opts Options, logger *slog.Logger) (client.StorageClient, string) {
	if opts.Storage != nil {
		return opts.Storage, "injected"
	}
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2, err := client.NewR2Client(&cfg.R2)
		if err == nil && r2.IsConfigured() {
			return r2, "r2"
		}
		logger.Warn("R2 client not initialized, using memory storage", "error", err)
	} else {
		logger.Info("R2 storage not configured, using memory storage")
	}
	return client.NewMemoryStorage(""), "memory"
}

func newSources(cfg *config.Config, logger *slog.Logger) map[model.ContentType][]content.Source {
	sources := make(map[model.ContentType][]content.Source)
	for _, t := range model.CachedContentTypes {
		for _, tmpl := range cfg.Content.Sources[t] {
			if tmpl == "" {
				continue
			}
			sources[t] = append(sources[t], client.NewFeedClient(tmpl, cfg.Content.APIKey, cfg.Content.FetchTimeout, logger))
		}
	}
	return sources
}

// speechProviders returns the configured providers in fallback order. Outside
// production a silent mock provider closes the chain.
func speechProviders(cfg *config.Config, logger *slog.Logger) ([]service.SpeechProvider, error) {
	var providers []service.SpeechProvider
	for _, pc := range []config.SpeechProviderConfig{cfg.Speech.Primary, cfg.Speech.Fallback} {
		sc := client.NewSpeechClient(&pc)
		if sc.IsConfigured() {
			providers = append(providers, sc)
		}
	}
	if !cfg.IsProduction() {
		providers = append(providers, client.NewMockSpeechProvider("mock"))
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no speech provider configured")
	}
	logging.Component(logger, "speech").Info("speech providers ready", "count", len(providers))
	return providers, nil
}

func newAuthenticator(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) *auth.Authenticator {
	var verifiers []auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" && !opts.SkipOIDC {
		jwks, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			logger.Warn("JWKS verifier not initialized", "issuer", cfg.Zitadel.Issuer, "error", err)
		} else {
			verifiers = append(verifiers, jwks)
		}
	}
	if cfg.JWT.Secret != "" {
		verifiers = append(verifiers, auth.NewLegacyVerifier(cfg.JWT.Secret))
	}
	return auth.NewAuthenticator(verifiers...)
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return fallback
}

// TickTimeout bounds a one-shot tick so a stuck provider cannot hold the
// process past the next scheduled run.
func TickTimeout(cfg *config.Config) time.Duration {
	return cfg.Pipeline.LeaseDuration
}
