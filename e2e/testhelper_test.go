package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/morningbrief/api/internal/app"
	"github.com/morningbrief/api/internal/auth"
	"github.com/morningbrief/api/internal/client"
	"github.com/morningbrief/api/internal/config"
	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/service"
)

const (
	testJWTSecret    = "test-secret-for-e2e"
	testTriggerToken = "trigger-for-e2e"
	testUserID       = "test-user-123"
)

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	core    *app.App
	storage *client.MemoryStorage
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:    config.ServerConfig{Env: "test", LogLevel: "info"},
		Database:  config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "briefings.db")},
		JWT:       config.JWTConfig{Secret: testJWTSecret, Expiration: 24},
		RateLimit: config.RateLimitConfig{BriefingsPerHour: 10000, TriggersPerMin: 10000},
		R2:        config.R2Config{SignedURLTTL: time.Hour},
		Content: config.ContentConfig{
			TTL: map[model.ContentType]time.Duration{
				model.ContentNews:    3 * time.Hour,
				model.ContentWeather: time.Hour,
				model.ContentSports:  30 * time.Minute,
				model.ContentStocks:  15 * time.Minute,
			},
			MaxRetention:    48 * time.Hour,
			RefreshCooldown: 10 * time.Minute,
			FetchTimeout:    time.Second,
			DefaultRegions:  []string{"us"},
		},
		Pipeline: config.PipelineConfig{
			BatchSize:          10,
			Workers:            2,
			LeaseDuration:      time.Minute,
			MaxAttempts:        3,
			BackoffBase:        30 * time.Second,
			BackoffMax:         10 * time.Minute,
			WordsPerMinute:     150,
			MinWords:           150,
			MinScriptChars:     800,
			LeadTime:           2 * time.Hour,
			GracePeriod:        30 * time.Minute,
			UrgentWindow:       45 * time.Minute,
			EstimatedDuration:  3 * time.Minute,
			ScriptTimeout:      5 * time.Second,
			SpeechTimeout:      5 * time.Second,
			SegmentConcurrency: 2,
			SegmentRetries:     1,
			SegmentBackoff:     time.Millisecond,
		},
		Cleanup:  config.CleanupConfig{RetentionDays: 7, FastInterval: time.Hour, DeepInterval: 24 * time.Hour},
		Triggers: config.TriggersConfig{Token: testTriggerToken},
	}
}

// setupApp builds the same component graph as cmd/server on top of an
// in-memory Redis, a temporary SQLite file, memory storage and a silent
// speech provider.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	storage := client.NewMemoryStorage("")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	core, err := app.New(context.Background(), testConfig(t), logger, app.Options{
		Redis:    rdb,
		Storage:  storage,
		Speech:   []service.SpeechProvider{client.NewMockSpeechProvider("mock")},
		SkipOIDC: true,
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = core.Close() })

	return &testApp{app: core.NewFiber(), core: core, storage: storage}
}

// generateToken issues a legacy HMAC token for userID.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.NewLegacyVerifier(testJWTSecret).Issue(userID, userID+"@example.com", "Ada", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as testUserID.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, testUserID),
	})
}

// doTrigger performs an internal trigger request with the configured token.
func doTrigger(app *fiber.App, path string) (*http.Response, error) {
	return doRequest(app, http.MethodPost, path, "", map[string]string{
		"X-Trigger-Token": testTriggerToken,
	})
}

// briefingBody returns a create request for playback at the given time.
func briefingBody(playbackAt time.Time, extra string) string {
	body := fmt.Sprintf(`{
		"localDate": %q,
		"playbackAt": %q,
		"timezone": "UTC",
		"voice": "alloy",
		"targetDurationSeconds": 120,
		"categories": {"news": true, "weather": true, "quotes": true}`,
		playbackAt.UTC().Format("2006-01-02"), playbackAt.UTC().Format(time.RFC3339))
	if extra != "" {
		body += ", " + extra
	}
	return body + "}"
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode extracts error.code from an error envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	detail, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	code, _ := detail["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
