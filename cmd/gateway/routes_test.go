package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vce-gateway/gateway/internal/llm"
	"github.com/vce-gateway/gateway/internal/orchestrator"
	"github.com/vce-gateway/gateway/internal/tts"
)

func newTestDeps(t *testing.T) deps {
	t.Helper()
	cache := tts.NewCache(10, time.Minute, time.Second)
	synthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("audio:"), body...))
	}))
	t.Cleanup(synthSrv.Close)
	driver := tts.NewWithCache(synthSrv.URL, 1, cache)

	return deps{
		ollamaURL:     "http://127.0.0.1:0",
		ollamaModel:   "llama3",
		asrEngines:    []string{"whisper"},
		llmRouter:     llm.NewAgentLLM("ollama", 2048),
		ttsEngines:    []string{"piper"},
		ttsCache:      cache,
		ttsPool:       singleDriverPool{driver: driver},
		defaultEngine: "piper",
		svcMgr:        orchestrator.NewHTTPControlManager(orchestrator.NewRegistry(nil)),
		gpu:           newGPUHub("", ""),
	}
}

// singleDriverPool is a fixed-size ttsPool fake wrapping one real *tts.Driver.
type singleDriverPool struct {
	driver *tts.Driver
}

func (p singleDriverPool) Acquire() *tts.Driver   { return p.driver }
func (p singleDriverPool) Release(*tts.Driver) {}

func TestHandleHealthReturnsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestHandleModelsFallsBackToConfiguredModelOnOllamaError(t *testing.T) {
	d := newTestDeps(t)
	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	w := httptest.NewRecorder()
	d.handleModels(w, req)

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	llmSection := body["llm"].(map[string]any)
	if llmSection["active"] != "llama3" {
		t.Fatalf("active = %v, want llama3", llmSection["active"])
	}
	models := llmSection["models"].([]any)
	if len(models) != 1 || models[0] != "llama3" {
		t.Fatalf("models = %v, want fallback to configured model on list error", models)
	}
}

func TestHandleASRModelsWithoutControlURLReturnsServiceUnavailable(t *testing.T) {
	d := newTestDeps(t)
	req := httptest.NewRequest(http.MethodGet, "/api/asr/models", nil)
	w := httptest.NewRecorder()
	d.handleASRModels(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHandleGPUWithoutControlURLReturnsZeroedPayload(t *testing.T) {
	d := newTestDeps(t)
	req := httptest.NewRequest(http.MethodGet, "/api/gpu", nil)
	w := httptest.NewRecorder()
	d.handleGPU(w, req)

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["vram_total_mb"].(float64) != 0 {
		t.Fatalf("vram_total_mb = %v, want 0", body["vram_total_mb"])
	}
}

func TestHandleTextToSpeechThenPullRoundTripsAudio(t *testing.T) {
	d := newTestDeps(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vce/coze/audio/text_to_speech?text=hello", nil)
	w := httptest.NewRecorder()
	d.handleTextToSpeech(w, req)
	if w.Code != http.StatusOK && w.Code != 0 {
		t.Fatalf("text_to_speech status = %d", w.Code)
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.URL == "" {
		t.Fatal("expected a non-empty pull URL")
	}

	pullReq := httptest.NewRequest(http.MethodGet, resp.URL, nil)
	pullW := httptest.NewRecorder()
	d.handleTTSPull(pullW, pullReq)

	if pullW.Body.Len() == 0 {
		t.Fatal("expected streamed audio bytes from the pull endpoint")
	}
}

func TestHandleTextToSpeechMissingTextReturnsBadRequest(t *testing.T) {
	d := newTestDeps(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/vce/coze/audio/text_to_speech", nil)
	w := httptest.NewRecorder()
	d.handleTextToSpeech(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleServicesStartStopStatusAgainstFakeControlServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start", "/stop":
			json.NewEncoder(w).Encode(map[string]any{"gpu": map[string]any{"used_mb": 256}})
		case "/status":
			json.NewEncoder(w).Encode(map[string]bool{"running": true})
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := newTestDeps(t)
	d.svcMgr = orchestrator.NewHTTPControlManager(orchestrator.NewRegistry(map[string]orchestrator.ServiceMeta{
		"piper": {Category: "tts", ControlURL: srv.URL, HealthURL: srv.URL + "/health"},
	}))

	startReq := httptest.NewRequest(http.MethodPost, "/api/services/piper/start", nil)
	startReq.SetPathValue("name", "piper")
	startW := httptest.NewRecorder()
	d.handleServiceStart(startW, startReq)
	if startW.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", startW.Code)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/api/services/piper/status", nil)
	statusReq.SetPathValue("name", "piper")
	statusW := httptest.NewRecorder()
	d.handleServiceStatus(statusW, statusReq)
	var info orchestrator.ServiceInfo
	if err := json.NewDecoder(statusW.Body).Decode(&info); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if info.Status != orchestrator.StatusHealthy {
		t.Fatalf("status = %q, want healthy", info.Status)
	}

	stopReq := httptest.NewRequest(http.MethodPost, "/api/services/piper/stop", nil)
	stopReq.SetPathValue("name", "piper")
	stopW := httptest.NewRecorder()
	d.handleServiceStop(stopW, stopReq)
	if stopW.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", stopW.Code)
	}
}

func TestHandleServiceStatusUnknownServiceReturnsNotFound(t *testing.T) {
	d := newTestDeps(t)
	req := httptest.NewRequest(http.MethodGet, "/api/services/nope/status", nil)
	req.SetPathValue("name", "nope")
	w := httptest.NewRecorder()
	d.handleServiceStatus(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRegisterTraceRoutesDisabledWithoutStore(t *testing.T) {
	mux := http.NewServeMux()
	registerTraceRoutes(mux, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/traces/sessions", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when tracing is disabled", w.Code)
	}
}

func TestQueryIntFallsBackOnMissingOrInvalidValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=7&bad=nope", nil)
	if got := queryInt(req, "limit", 20); got != 7 {
		t.Fatalf("limit = %d, want 7", got)
	}
	if got := queryInt(req, "offset", 20); got != 20 {
		t.Fatalf("offset = %d, want fallback 20", got)
	}
	if got := queryInt(req, "bad", 3); got != 3 {
		t.Fatalf("bad = %d, want fallback 3 on non-numeric value", got)
	}
}
