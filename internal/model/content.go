package model

import "time"

// ContentItem is a single piece of aggregated content.
// Value fields are only populated for numeric feeds (stocks, weather).
type ContentItem struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
	Value       float64   `json:"value,omitempty"`
	Change      float64   `json:"change,omitempty"`
	Unit        string    `json:"unit,omitempty"`
}

// ContentEntry is the cached payload for one (type, selector) pair.
type ContentEntry struct {
	Type       ContentType   `json:"type"`
	Selector   string        `json:"selector"`
	Items      []ContentItem `json:"items"`
	Sources    []string      `json:"sources"`
	FetchedAt  time.Time     `json:"fetchedAt"`
	FreshUntil time.Time     `json:"freshUntil"`
	Stale      bool          `json:"stale"`
	Failures   int           `json:"failures"`
	LastError  string        `json:"lastError,omitempty"`
}

// Age returns how old the entry's data is at now.
func (e *ContentEntry) Age(now time.Time) time.Duration {
	if e.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(e.FetchedAt)
}
