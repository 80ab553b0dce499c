package e2e

import (
	"net/http"
	"testing"
)

func TestTriggers_RequireToken(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/internal/pipeline/tick", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)

	resp, err = doRequest(ta.app, http.MethodPost, "/internal/pipeline/tick", "", map[string]string{
		"X-Trigger-Token": "wrong",
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusForbidden)

	// A user token is not a trigger token
	resp, err = doRequest(ta.app, http.MethodPost, "/internal/pipeline/tick", "", map[string]string{
		"Authorization": "Bearer " + generateToken(t, testUserID),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusForbidden)
}

func TestTick_Empty(t *testing.T) {
	ta := setupApp(t)

	data := tick(t, ta)
	for _, key := range []string{"scriptLeased", "audioLeased", "completed", "failed", "missed"} {
		if data[key] != float64(0) {
			t.Errorf("%s = %v, want 0", key, data[key])
		}
	}
}

func TestContentRefresh_Cooldown(t *testing.T) {
	ta := setupApp(t)

	resp, err := doTrigger(ta.app, "/internal/content/refresh")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	data := parseJSON(t, resp)
	if _, ok := data["summary"]; !ok {
		t.Errorf("expected summary in refresh response, got %v", data)
	}

	resp, err = doTrigger(ta.app, "/internal/content/refresh")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") != "600" {
		t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
	if code := errorCode(t, resp); code != "COOLDOWN" {
		t.Errorf("code = %q", code)
	}
}

func TestCleanup(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"default mode", "", http.StatusOK},
		{"fast", "?mode=fast", http.StatusOK},
		{"deep with retention", "?mode=deep&retentionDays=3", http.StatusOK},
		{"unknown mode", "?mode=everything", http.StatusBadRequest},
		{"zero retention", "?mode=fast&retentionDays=0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := doTrigger(ta.app, "/internal/cleanup"+tt.query)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, tt.status)
		})
	}
}

func TestCleanup_FastPassSkippedWhenRecent(t *testing.T) {
	ta := setupApp(t)

	resp, _ := doTrigger(ta.app, "/internal/cleanup?mode=fast")
	assertStatus(t, resp, http.StatusOK)
	first := parseJSON(t, resp)
	if pass, _ := first["fastPass"].(map[string]interface{}); pass == nil || pass["skipped"] != false {
		t.Fatalf("first fast pass = %v", first)
	}

	resp, _ = doTrigger(ta.app, "/internal/cleanup?mode=fast")
	second := parseJSON(t, resp)
	pass, _ := second["fastPass"].(map[string]interface{})
	if pass == nil || pass["skipped"] != true {
		t.Fatalf("second fast pass = %v", second)
	}
}
