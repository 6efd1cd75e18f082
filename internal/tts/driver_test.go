package tts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newFakeSynthesisServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/synthesize" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("audio:"), body...))
	}))
}

func TestDriverQuerySynthesizesAndFansOutToCallbackAndCache(t *testing.T) {
	srv := newFakeSynthesisServer(t)
	defer srv.Close()

	cache := NewCache(10, time.Minute, time.Second)
	d := NewWithCache(srv.URL, 2, cache)

	var mu sync.Mutex
	var received []string
	done := make(chan struct{})
	d.SetCallback(func(requestID string, chunk []byte) {
		mu.Lock()
		defer mu.Unlock()
		if len(chunk) == 0 {
			close(done)
			return
		}
		received = append(received, string(chunk))
	})

	reqID := "req-abc"
	d.Query(context.Background(), "fast", reqID, "hello world", false)
	d.Query(context.Background(), "fast", reqID, "", true)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for synthesis sentinel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("received = %v, want 1 chunk", received)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var cached [][]byte
	for chunk := range cache.StreamAudio(ctx, reqID) {
		cached = append(cached, chunk)
	}
	if len(cached) != 1 {
		t.Fatalf("cache chunks = %d, want 1", len(cached))
	}
}

func TestDriverResetClearsCallbackAndRequestID(t *testing.T) {
	d := NewWithCache("http://unused.invalid", 1, NewCache(10, time.Minute, time.Second))
	d.SetCallback(func(string, []byte) {})
	d.requestID = "stale"

	d.Reset()

	if d.onAudio != nil {
		t.Fatal("expected onAudio cleared after Reset")
	}
	if d.requestID != "" {
		t.Fatalf("requestID = %q, want empty after Reset", d.requestID)
	}
}

func TestDriverSetTraceBindsRunIDAndResetClearsIt(t *testing.T) {
	d := NewWithCache("http://unused.invalid", 1, NewCache(10, time.Minute, time.Second))
	d.SetTrace(nil, "run-123")

	if d.runID != "run-123" {
		t.Fatalf("runID = %q, want run-123", d.runID)
	}

	d.Reset()

	if d.runID != "" {
		t.Fatalf("runID = %q, want empty after Reset", d.runID)
	}
	if d.tracer != nil {
		t.Fatal("expected tracer cleared after Reset")
	}
}

func TestDriverRecordSpanNoOpsWithoutTracerOrRunID(t *testing.T) {
	d := NewWithCache("http://unused.invalid", 1, NewCache(10, time.Minute, time.Second))

	// No tracer bound: must not panic despite a nil tracer.
	d.recordSpan(time.Now(), "hello", []byte("audio"), nil)

	d.SetTrace(nil, "")
	d.recordSpan(time.Now(), "hello", []byte("audio"), nil)
}

func TestResolveVoiceFallsBackToFast(t *testing.T) {
	if got := resolveVoice("quality"); got != "en_US-lessac-medium" {
		t.Fatalf("resolveVoice(quality) = %q", got)
	}
	if got := resolveVoice("unknown-engine"); got != voiceModels["fast"] {
		t.Fatalf("resolveVoice(unknown) = %q, want fast voice", got)
	}
}

func TestNewRequestIDIsUnique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	if a == b || a == "" {
		t.Fatalf("NewRequestID produced a=%q b=%q", a, b)
	}
}
