package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/morningbrief/api/internal/cache"
	"github.com/morningbrief/api/internal/logging"
	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/store"
)

// ErrCooldown is returned by Trigger while the previous refresh is too recent.
var ErrCooldown = errors.New("content refresh is cooling down")

// PendingJobs lists the preferences of jobs that still need content.
type PendingJobs interface {
	PendingPreferences(ctx context.Context) ([]model.Preferences, error)
}

// Gate guards a named trigger with a persisted minimum interval.
type Gate interface {
	TryStartTrigger(ctx context.Context, name string, minInterval time.Duration, now time.Time) (bool, error)
	FinishTrigger(ctx context.Context, name string, runErr error, now time.Time) error
}

// RefresherConfig holds the refresh knobs.
type RefresherConfig struct {
	TTL          map[model.ContentType]time.Duration
	Defaults     map[model.ContentType][]string
	Cooldown     time.Duration
	FetchTimeout time.Duration
	// Parallel bounds how many (type, selector) pairs refresh at once.
	Parallel int
}

// Refresher pulls every configured source into the content cache.
type Refresher struct {
	cache   *cache.ContentCache
	jobs    PendingJobs
	gate    Gate
	sources map[model.ContentType][]Source
	cfg     RefresherConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewRefresher(contentCache *cache.ContentCache, jobs PendingJobs, gate Gate, sources map[model.ContentType][]Source, cfg RefresherConfig, logger *slog.Logger) *Refresher {
	if cfg.Parallel < 1 {
		cfg.Parallel = 4
	}
	return &Refresher{
		cache:   contentCache,
		jobs:    jobs,
		gate:    gate,
		sources: sources,
		cfg:     cfg,
		logger:  logging.Component(logger, "content-refresher"),
		now:     time.Now,
	}
}

// Trigger runs one refresh cycle unless the persisted cooldown forbids it.
func (r *Refresher) Trigger(ctx context.Context) (*model.RefreshResponse, error) {
	ok, err := r.gate.TryStartTrigger(ctx, store.TriggerContentRefresh, r.cfg.Cooldown, r.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCooldown
	}

	resp, runErr := r.RunCycle(ctx)
	if err := r.gate.FinishTrigger(ctx, store.TriggerContentRefresh, runErr, r.now()); err != nil {
		r.logger.Warn("record refresh outcome failed", "error", err)
	}
	return resp, runErr
}

type pair struct {
	contentType model.ContentType
	selector    string
}

// RunCycle refreshes every (type, selector) pair once. Per-pair failures are
// reported in the response; only failures to plan the cycle are returned.
func (r *Refresher) RunCycle(ctx context.Context) (*model.RefreshResponse, error) {
	started := r.now()
	pairs, err := r.plan(ctx)
	if err != nil {
		return nil, err
	}

	resp := &model.RefreshResponse{
		StartedAt: started,
		Results:   make([]model.RefreshResult, 0, len(pairs)),
		Summary:   map[model.Freshness]int{},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallel)
	for _, p := range pairs {
		g.Go(func() error {
			result := r.refreshPair(gctx, p)
			mu.Lock()
			resp.Results = append(resp.Results, result)
			resp.Summary[result.Outcome]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(resp.Results, func(i, j int) bool {
		if resp.Results[i].Type != resp.Results[j].Type {
			return resp.Results[i].Type < resp.Results[j].Type
		}
		return resp.Results[i].Selector < resp.Results[j].Selector
	})

	r.logger.Info("content refresh finished",
		"pairs", len(pairs),
		"fresh", resp.Summary[model.FreshnessFresh],
		"stale", resp.Summary[model.FreshnessStale],
		"absent", resp.Summary[model.FreshnessAbsent],
		"duration", time.Since(started),
	)
	return resp, nil
}

// plan collects configured default selectors plus every selector referenced
// by a pending job with the category enabled.
func (r *Refresher) plan(ctx context.Context) ([]pair, error) {
	selectors := make(map[model.ContentType]map[string]bool)
	add := func(t model.ContentType, s string) {
		s = model.NormalizeSelector(s)
		if s == "" {
			return
		}
		if selectors[t] == nil {
			selectors[t] = make(map[string]bool)
		}
		selectors[t][s] = true
	}

	for t, defaults := range r.cfg.Defaults {
		for _, s := range defaults {
			add(t, s)
		}
	}

	prefs, err := r.jobs.PendingPreferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	for _, p := range prefs {
		for _, t := range model.CachedContentTypes {
			if !p.Categories.Enabled(t) {
				continue
			}
			for _, s := range p.Selectors(t) {
				add(t, s)
			}
		}
	}

	var pairs []pair
	for _, t := range model.CachedContentTypes {
		if len(r.sources[t]) == 0 {
			if len(selectors[t]) > 0 {
				r.logger.Debug("no sources configured", "type", t)
			}
			continue
		}
		for s := range selectors[t] {
			pairs = append(pairs, pair{contentType: t, selector: s})
		}
	}
	return pairs, nil
}

type sourceResult struct {
	name  string
	items []model.ContentItem
	err   error
}

func (r *Refresher) refreshPair(ctx context.Context, p pair) model.RefreshResult {
	result := model.RefreshResult{Type: p.contentType, Selector: p.selector}
	sources := r.sources[p.contentType]
	results := make([]sourceResult, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout())
			defer cancel()
			items, err := src.Fetch(fetchCtx, p.contentType, p.selector)
			results[i] = sourceResult{name: src.Name(), items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		merged  []model.ContentItem
		names   []string
		errs    []error
		success bool
	)
	for _, res := range results {
		if res.err != nil {
			r.logger.Warn("source fetch failed",
				logging.FieldProvider, res.name, "type", p.contentType, "selector", p.selector, "error", res.err)
			errs = append(errs, fmt.Errorf("%s: %w", res.name, res.err))
			continue
		}
		success = true
		names = append(names, res.name)
		for _, item := range res.items {
			if item.Source == "" {
				item.Source = res.name
			}
			merged = append(merged, item)
		}
	}

	if !success {
		cause := errors.Join(errs...)
		result.Error = cause.Error()
		if err := r.cache.MarkStale(ctx, p.contentType, p.selector, cause); err != nil {
			result.Error = strings.Join([]string{result.Error, err.Error()}, "; ")
		}
		_, freshness, err := r.cache.Get(ctx, p.contentType, p.selector)
		if err != nil {
			freshness = model.FreshnessAbsent
		}
		result.Outcome = freshness
		return result
	}

	items := Dedupe(merged)
	if err := r.cache.Put(ctx, p.contentType, p.selector, items, names, r.cfg.TTL[p.contentType]); err != nil {
		result.Error = err.Error()
		result.Outcome = model.FreshnessAbsent
		return result
	}
	if len(errs) > 0 {
		result.Error = errors.Join(errs...).Error()
	}
	result.Items = len(items)
	result.Outcome = model.FreshnessFresh
	return result
}

func (r *Refresher) fetchTimeout() time.Duration {
	if r.cfg.FetchTimeout > 0 {
		return r.cfg.FetchTimeout
	}
	return 15 * time.Second
}
