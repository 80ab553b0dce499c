package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/morningbrief/api/internal/config"
)

// Audio is synthesized speech returned by a provider
type Audio struct {
	Data   []byte
	Format string
}

// SpeechClient talks to an OpenAI-compatible text-to-speech endpoint
type SpeechClient struct {
	httpClient *http.Client
	name       string
	baseURL    string
	apiKey     string
	format     string
}

// SpeechRequest represents the request body for speech synthesis
type SpeechRequest struct {
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// NewSpeechClient creates a new speech provider client
func NewSpeechClient(cfg *config.SpeechProviderConfig) *SpeechClient {
	format := cfg.Format
	if format == "" {
		format = "mp3"
	}
	return &SpeechClient{
		// Per-call deadlines come from the caller's context.
		httpClient: &http.Client{},
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		format:     format,
	}
}

// Name identifies the provider in logs and job records
func (c *SpeechClient) Name() string {
	return c.name
}

// Synthesize converts text to speech
func (c *SpeechClient) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	bodyBytes, err := json.Marshal(SpeechRequest{Input: text, Voice: voice, ResponseFormat: c.format})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s speech error (status %d): %s", c.name, resp.StatusCode, truncate(string(respBody), 200))
	}
	if len(respBody) == 0 {
		return nil, fmt.Errorf("%s speech returned no audio", c.name)
	}

	return &Audio{Data: respBody, Format: c.format}, nil
}

// HealthCheck checks if the speech service is available
func (c *SpeechClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SpeechClient) IsConfigured() bool {
	return c.baseURL != ""
}
