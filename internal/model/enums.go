package model

// Job status
type JobStatus string

const (
	JobStatusQueued           JobStatus = "queued"
	JobStatusScriptProcessing JobStatus = "script_processing"
	JobStatusScriptReady      JobStatus = "script_ready"
	JobStatusAudioProcessing  JobStatus = "audio_processing"
	JobStatusReady            JobStatus = "ready"
	JobStatusFailed           JobStatus = "failed"
	JobStatusFailedMissed     JobStatus = "failed_missed"
)

var AllJobStatuses = []JobStatus{
	JobStatusQueued, JobStatusScriptProcessing, JobStatusScriptReady,
	JobStatusAudioProcessing, JobStatusReady, JobStatusFailed, JobStatusFailedMissed,
}

// NonTerminalStatuses lists every status a job can still leave.
var NonTerminalStatuses = []JobStatus{
	JobStatusQueued, JobStatusScriptProcessing, JobStatusScriptReady, JobStatusAudioProcessing,
}

// IsTerminal reports whether no further transitions can occur.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusReady, JobStatusFailed, JobStatusFailedMissed:
		return true
	}
	return false
}

// IsProcessing reports whether a worker lease is expected for the status.
func (s JobStatus) IsProcessing() bool {
	return s == JobStatusScriptProcessing || s == JobStatusAudioProcessing
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:           {JobStatusScriptProcessing, JobStatusFailedMissed, JobStatusFailed},
	JobStatusScriptProcessing: {JobStatusScriptReady, JobStatusQueued, JobStatusScriptProcessing, JobStatusFailed, JobStatusFailedMissed},
	JobStatusScriptReady:      {JobStatusAudioProcessing, JobStatusFailedMissed, JobStatusFailed},
	JobStatusAudioProcessing:  {JobStatusReady, JobStatusScriptReady, JobStatusAudioProcessing, JobStatusFailed, JobStatusFailedMissed},
}

// CanTransition reports whether the job state machine has an edge from -> to.
// Re-leasing a processing job whose lease expired is modelled as a self edge.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Generation stages
type Stage string

const (
	StageScript Stage = "script"
	StageAudio  Stage = "audio"
)

// Processing status a stage moves a job into once leased.
func (s Stage) ProcessingStatus() JobStatus {
	if s == StageAudio {
		return JobStatusAudioProcessing
	}
	return JobStatusScriptProcessing
}

// Status a stage waits in before it is leased, and returns to on retry.
func (s Stage) EligibleStatus() JobStatus {
	if s == StageAudio {
		return JobStatusScriptReady
	}
	return JobStatusQueued
}

// Priority bands, highest first
const (
	PriorityImmediate  = 100
	PriorityUrgent     = 75
	PriorityRegular    = 50
	PriorityBackground = 10
)

// PriorityBand returns a readable band name for a numeric priority.
func PriorityBand(priority int) string {
	switch {
	case priority >= PriorityImmediate:
		return "immediate"
	case priority >= PriorityUrgent:
		return "urgent"
	case priority >= PriorityRegular:
		return "regular"
	default:
		return "background"
	}
}

// Segment status
type SegmentStatus string

const (
	SegmentStatusQueued     SegmentStatus = "queued"
	SegmentStatusProcessing SegmentStatus = "processing"
	SegmentStatusReady      SegmentStatus = "ready"
	SegmentStatusFailed     SegmentStatus = "failed"
)

// Content categories
type ContentType string

const (
	ContentNews     ContentType = "news"
	ContentSports   ContentType = "sports"
	ContentStocks   ContentType = "stocks"
	ContentWeather  ContentType = "weather"
	ContentCalendar ContentType = "calendar"
	ContentQuotes   ContentType = "quotes"
)

// CachedContentTypes are refreshed from upstream feeds and served from the content cache.
var CachedContentTypes = []ContentType{
	ContentNews, ContentSports, ContentStocks, ContentWeather,
}

// Freshness of a content cache read
type Freshness string

const (
	FreshnessFresh  Freshness = "fresh"
	FreshnessStale  Freshness = "stale"
	FreshnessAbsent Freshness = "absent"
)

// Quote styles
type QuoteStyle string

const (
	QuoteStyleInspirational QuoteStyle = "inspirational"
	QuoteStyleStoic         QuoteStyle = "stoic"
	QuoteStyleHumor         QuoteStyle = "humor"
)

// Cleanup modes
type CleanupMode string

const (
	CleanupFast CleanupMode = "fast"
	CleanupDeep CleanupMode = "deep"
	CleanupBoth CleanupMode = "both"
)

// Valid reports whether m names a known cleanup mode.
func (m CleanupMode) Valid() bool {
	return m == CleanupFast || m == CleanupDeep || m == CleanupBoth
}
