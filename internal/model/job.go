package model

import (
	"strings"
	"time"
)

// Job is one briefing for one user on one local calendar date.
type Job struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	LocalDate string    `json:"localDate"`
	Status    JobStatus `json:"status"`
	Priority  int       `json:"priority"`

	PlaybackAt         time.Time `json:"playbackAt"`
	EarliestProcessAt  time.Time `json:"earliestProcessAt"`
	LatestCompletionAt time.Time `json:"latestCompletionAt"`

	ScriptAttempts int        `json:"scriptAttempts"`
	AudioAttempts  int        `json:"audioAttempts"`
	NextAttemptAt  time.Time  `json:"nextAttemptAt"`
	LeaseOwner     string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`
	FailureStage   Stage      `json:"failureStage,omitempty"`
	FailureReason  string     `json:"failureReason,omitempty"`

	Preferences Preferences `json:"preferences"`

	Script            string     `json:"-"`
	ScriptReadyAt     *time.Time `json:"scriptReadyAt,omitempty"`
	AudioKey          string     `json:"-"`
	AudioReadyAt      *time.Time `json:"audioReadyAt,omitempty"`
	AudioProvider     string     `json:"audioProvider,omitempty"`
	ScriptBilledChars int        `json:"scriptBilledChars"`
	AudioBilledChars  int        `json:"audioBilledChars"`

	Segmented       bool `json:"segmented"`
	SegmentCount    int  `json:"segmentCount"`
	SegmentsReady   int  `json:"segmentsReady"`
	SegmentFallback bool `json:"segmentFallback"`

	ArtifactsPurgedAt *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Attempts returns the attempt counter for a stage.
func (j *Job) Attempts(stage Stage) int {
	if stage == StageAudio {
		return j.AudioAttempts
	}
	return j.ScriptAttempts
}

// HasActiveLease reports whether a worker holds an unexpired lease at now.
func (j *Job) HasActiveLease(now time.Time) bool {
	return j.LeaseOwner != "" && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now)
}

// Categories toggles the content blocks included in a briefing.
type Categories struct {
	News     bool `json:"news"`
	Sports   bool `json:"sports"`
	Stocks   bool `json:"stocks"`
	Weather  bool `json:"weather"`
	Calendar bool `json:"calendar"`
	Quotes   bool `json:"quotes"`
}

// Enabled reports whether a content type is switched on.
func (c Categories) Enabled(t ContentType) bool {
	switch t {
	case ContentNews:
		return c.News
	case ContentSports:
		return c.Sports
	case ContentStocks:
		return c.Stocks
	case ContentWeather:
		return c.Weather
	case ContentCalendar:
		return c.Calendar
	case ContentQuotes:
		return c.Quotes
	}
	return false
}

// Preferences are the generation inputs captured when the job is created.
type Preferences struct {
	DisplayName           string     `json:"displayName,omitempty"`
	Timezone              string     `json:"timezone"`
	Locale                string     `json:"locale"`
	Region                string     `json:"region"`
	WeatherLocation       string     `json:"weatherLocation,omitempty"`
	Voice                 string     `json:"voice"`
	TargetDurationSeconds int        `json:"targetDurationSeconds"`
	Categories            Categories `json:"categories"`
	StockSymbols          []string   `json:"stockSymbols,omitempty"`
	SportsLeagues         []string   `json:"sportsLeagues,omitempty"`
	QuoteStyle            QuoteStyle `json:"quoteStyle,omitempty"`
	CalendarSnippets      []string   `json:"calendarSnippets,omitempty"`
}

// Selectors returns the cache selectors this job reads for a content type.
func (p Preferences) Selectors(t ContentType) []string {
	switch t {
	case ContentNews:
		return []string{NormalizeSelector(p.Region)}
	case ContentWeather:
		if p.WeatherLocation != "" {
			return []string{NormalizeSelector(p.WeatherLocation)}
		}
		return []string{NormalizeSelector(p.Region)}
	case ContentSports:
		return normalizeAll(p.SportsLeagues)
	case ContentStocks:
		return normalizeAll(p.StockSymbols)
	}
	return nil
}

// NormalizeSelector canonicalizes a region, league or symbol cache selector.
func NormalizeSelector(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		n := NormalizeSelector(v)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// AudioSegment is one independently synthesized slice of a segmented briefing.
type AudioSegment struct {
	JobID       string        `json:"jobId"`
	Index       int           `json:"index"`
	Status      SegmentStatus `json:"status"`
	ScriptSlice string        `json:"-"`
	AudioKey    string        `json:"-"`
	Attempts    int           `json:"attempts"`
	Error       string        `json:"error,omitempty"`
	BilledChars int           `json:"billedChars"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// TriggerRun is the persisted bookkeeping for a rate-limited trigger.
type TriggerRun struct {
	Name          string
	LastStartedAt *time.Time
	LastSuccessAt *time.Time
	LastError     string
}
