package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/morningbrief/api/internal/model"
)

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHubDeliversToJobSubscribers(t *testing.T) {
	h := NewHub(nil)
	go h.Run()
	defer h.Stop()

	watcher := &Client{JobID: "job-1", Send: make(chan []byte, 8)}
	other := &Client{JobID: "job-2", Send: make(chan []byte, 8)}
	h.Register(watcher)
	h.Register(other)
	if n := h.Subscribers("job-1"); n != 1 {
		t.Fatalf("Subscribers = %d", n)
	}

	h.BroadcastSegment("job-1", 0, 1, 3)
	msg := receive(t, watcher)
	if msg["type"] != model.WSMessageTypeSegmentReady || msg["index"] != float64(0) || msg["total"] != float64(3) {
		t.Fatalf("segment message = %v", msg)
	}

	h.BroadcastComplete(&model.Job{ID: "job-1", Status: model.JobStatusReady, AudioProvider: "primary"})
	msg = receive(t, watcher)
	if msg["type"] != model.WSMessageTypeComplete || msg["provider"] != "primary" {
		t.Fatalf("complete message = %v", msg)
	}

	h.BroadcastError(&model.Job{
		ID:            "job-1",
		Status:        model.JobStatusFailed,
		FailureStage:  model.StageAudio,
		FailureReason: "all providers failed",
	})
	msg = receive(t, watcher)
	detail, _ := msg["error"].(map[string]interface{})
	if msg["type"] != model.WSMessageTypeError || detail["code"] != "failed" || detail["stage"] != "audio" {
		t.Fatalf("error message = %v", msg)
	}

	select {
	case data := <-other.Send:
		t.Fatalf("unrelated subscriber received %s", data)
	default:
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	h := NewHub(nil)
	go h.Run()
	defer h.Stop()

	c := &Client{JobID: "job-1", Send: make(chan []byte, 1)}
	h.Register(c)
	h.Unregister(c)

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
	if n := h.Subscribers("job-1"); n != 0 {
		t.Fatalf("Subscribers = %d", n)
	}
}
