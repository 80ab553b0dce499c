package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/morningbrief/api/internal/model"
)

// FeedClient fetches content items from a JSON feed endpoint. The endpoint is a
// URL template where {selector} is replaced with the escaped selector.
type FeedClient struct {
	httpClient  *http.Client
	name        string
	urlTemplate string
	apiKey      string
	logger      *slog.Logger
}

// FeedResponse is the wire shape returned by feed endpoints
type FeedResponse struct {
	Items []FeedItem `json:"items"`
}

// FeedItem represents a single upstream item
type FeedItem struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Value       float64   `json:"value,omitempty"`
	Change      float64   `json:"change,omitempty"`
	Unit        string    `json:"unit,omitempty"`
}

// NewFeedClient creates a feed client named after the template's host
func NewFeedClient(urlTemplate, apiKey string, timeout time.Duration, logger *slog.Logger) *FeedClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		name:        feedName(urlTemplate),
		urlTemplate: urlTemplate,
		apiKey:      apiKey,
		logger:      logger.With("component", "feed-client"),
	}
}

func feedName(urlTemplate string) string {
	u, err := url.Parse(strings.ReplaceAll(urlTemplate, "{selector}", "x"))
	if err != nil || u.Host == "" {
		return urlTemplate
	}
	return u.Host
}

// Name identifies the feed in cache entries and logs
func (c *FeedClient) Name() string {
	return c.name
}

// Fetch retrieves items for a content type and selector
func (c *FeedClient) Fetch(ctx context.Context, contentType model.ContentType, selector string) ([]model.ContentItem, error) {
	endpoint := strings.ReplaceAll(c.urlTemplate, "{selector}", url.PathEscape(selector))
	endpoint = strings.ReplaceAll(endpoint, "{type}", string(contentType))

	var result FeedResponse
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}

	items := make([]model.ContentItem, 0, len(result.Items))
	for _, it := range result.Items {
		if strings.TrimSpace(it.Title) == "" {
			continue
		}
		items = append(items, model.ContentItem{
			Title:       it.Title,
			Summary:     it.Summary,
			URL:         it.URL,
			Source:      it.Source,
			PublishedAt: it.PublishedAt,
			Value:       it.Value,
			Change:      it.Change,
			Unit:        it.Unit,
		})
	}
	return items, nil
}

// get sends a GET request and parses the JSON response
func (c *FeedClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("feed response", "feed", c.name, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("feed %s error (status %d): %s", c.name, resp.StatusCode, truncate(string(respBody), 200))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *FeedClient) IsConfigured() bool {
	return c.urlTemplate != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
