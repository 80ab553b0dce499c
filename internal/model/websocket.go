package model

// WebSocket message types
const (
	WSMessageTypeStatus       = "status"
	WSMessageTypeSegmentReady = "segment_ready"
	WSMessageTypeComplete     = "complete"
	WSMessageTypeError        = "error"
	WSMessageTypePing         = "ping"
	WSMessageTypePong         = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStatusMessage represents a job status change
type WSStatusMessage struct {
	Type          string    `json:"type"`
	JobID         string    `json:"jobId"`
	Status        JobStatus `json:"status"`
	SegmentsReady int       `json:"segmentsReady,omitempty"`
	SegmentCount  int       `json:"segmentCount,omitempty"`
}

// WSSegmentMessage announces that one segment can be played
type WSSegmentMessage struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
	Index int    `json:"index"`
	Ready int    `json:"ready"`
	Total int    `json:"total"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type            string `json:"type"`
	JobID           string `json:"jobId"`
	Provider        string `json:"provider,omitempty"`
	SegmentFallback bool   `json:"segmentFallback,omitempty"`
}

// WSErrorMessage represents a terminal failure
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Stage   Stage  `json:"stage,omitempty"`
	Message string `json:"message"`
}
