package model

import "time"

// CreateBriefingRequest represents the request body for creating or rescheduling a briefing
type CreateBriefingRequest struct {
	LocalDate             string     `json:"localDate" validate:"required,datetime=2006-01-02"`
	PlaybackAt            time.Time  `json:"playbackAt" validate:"required"`
	Timezone              string     `json:"timezone" validate:"required,timezone"`
	Locale                string     `json:"locale" validate:"omitempty,bcp47_language_tag"`
	Region                string     `json:"region" validate:"omitempty,max=64"`
	WeatherLocation       string     `json:"weatherLocation" validate:"omitempty,max=128"`
	DisplayName           string     `json:"displayName" validate:"omitempty,max=80"`
	Voice                 string     `json:"voice" validate:"required,max=64"`
	TargetDurationSeconds int        `json:"targetDurationSeconds" validate:"required,min=30,max=1800"`
	Categories            Categories `json:"categories"`
	StockSymbols          []string   `json:"stockSymbols" validate:"omitempty,max=20,dive,min=1,max=12"`
	SportsLeagues         []string   `json:"sportsLeagues" validate:"omitempty,max=10,dive,min=1,max=32"`
	QuoteStyle            QuoteStyle `json:"quoteStyle" validate:"omitempty,oneof=inspirational stoic humor"`
	CalendarSnippets      []string   `json:"calendarSnippets" validate:"omitempty,max=20,dive,min=1,max=280"`
	Welcome               bool       `json:"welcome"`
	Segmented             bool       `json:"segmented"`
	SegmentCount          int        `json:"segmentCount" validate:"omitempty,min=2,max=6"`
}

// CreateBriefingResponse represents the response after a briefing job is queued
type CreateBriefingResponse struct {
	JobID            string    `json:"jobId"`
	Status           JobStatus `json:"status"`
	Priority         int       `json:"priority"`
	PriorityBand     string    `json:"priorityBand"`
	Created          bool      `json:"created"`
	EstimatedReadyAt time.Time `json:"estimatedReadyAt"`
}

// BriefingStatusResponse represents the status of a briefing job
type BriefingStatusResponse struct {
	JobID           string            `json:"jobId"`
	LocalDate       string            `json:"localDate"`
	Status          JobStatus         `json:"status"`
	PlaybackAt      time.Time         `json:"playbackAt"`
	AudioURL        string            `json:"audioUrl,omitempty"`
	AudioExpiresAt  *time.Time        `json:"audioExpiresAt,omitempty"`
	Segmented       bool              `json:"segmented"`
	SegmentFallback bool              `json:"segmentFallback,omitempty"`
	SegmentCount    int               `json:"segmentCount,omitempty"`
	SegmentsReady   int               `json:"segmentsReady,omitempty"`
	Segments        []SegmentResponse `json:"segments,omitempty"`
	FailureStage    Stage             `json:"failureStage,omitempty"`
	FailureReason   string            `json:"failureReason,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// SegmentResponse represents one segment of a segmented briefing
type SegmentResponse struct {
	Index     int           `json:"index"`
	Status    SegmentStatus `json:"status"`
	AudioURL  string        `json:"audioUrl,omitempty"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
}

// RefreshResponse represents the outcome of a content refresh trigger
type RefreshResponse struct {
	StartedAt time.Time              `json:"startedAt"`
	Results   []RefreshResult        `json:"results"`
	Summary   map[Freshness]int      `json:"summary"`
	Errors    map[string]string      `json:"errors,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// RefreshResult describes one refreshed (type, selector) pair
type RefreshResult struct {
	Type     ContentType `json:"type"`
	Selector string      `json:"selector"`
	Items    int         `json:"items"`
	Outcome  Freshness   `json:"outcome"`
	Error    string      `json:"error,omitempty"`
}

// CleanupResponse represents the outcome of a cleanup trigger
type CleanupResponse struct {
	Mode     CleanupMode    `json:"mode"`
	FastPass *CleanupReport `json:"fastPass,omitempty"`
	DeepPass *CleanupReport `json:"deepPass,omitempty"`
}

// CleanupReport summarises a single cleanup pass
type CleanupReport struct {
	Skipped        bool   `json:"skipped"`
	SkipReason     string `json:"skipReason,omitempty"`
	JobsScanned    int    `json:"jobsScanned"`
	ObjectsScanned int    `json:"objectsScanned"`
	ObjectsDeleted int    `json:"objectsDeleted"`
	Errors         int    `json:"errors"`
}

// TickResponse summarises a scheduler tick
type TickResponse struct {
	Missed       int `json:"missed"`
	Exhausted    int `json:"exhausted"`
	Promoted     int `json:"promoted"`
	ScriptLeased int `json:"scriptLeased"`
	AudioLeased  int `json:"audioLeased"`
	Completed    int `json:"completed"`
	Retried      int `json:"retried"`
	Failed       int `json:"failed"`
	LeaseLost    int `json:"leaseLost"`
}
