// Package tts implements the TTS driver and audio cache contract of §4.3:
// incremental per-utterance synthesis fanned out to a realtime callback and
// to a resumable HTTP-pullable cache, backed by a Piper-compatible HTTP
// synthesis endpoint.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vce-gateway/gateway/internal/httpx"
	"github.com/vce-gateway/gateway/internal/metrics"
	"github.com/vce-gateway/gateway/internal/trace"
)

// pacingInterval is the minimum spacing between consecutive synthesis acks,
// enforcing deterministic output ordering as subtasks complete.
const pacingInterval = 100 * time.Millisecond

// SampleRate is the fixed output rate for PCM synthesis and WAV framing.
const SampleRate = 24000

// OnAudio is invoked with each synthesized chunk, and with an empty chunk
// as the end-of-utterance sentinel.
type OnAudio func(requestID string, chunk []byte)

type subtask struct {
	text    string
	isFinal bool
}

// Driver sequentially synthesizes incrementally-arriving text and fans
// audio out to the realtime callback and to the Cache.
type Driver struct {
	piperURL string
	client   *http.Client
	Cache    *Cache

	mu        sync.Mutex
	requestID string
	queue     chan subtask
	cancel    context.CancelFunc
	onAudio   OnAudio
	tracer    *trace.Tracer
	runID     string
}

// voiceModels mirrors the teacher's engine->voice mapping.
var voiceModels = map[string]string{
	"fast":    "en_US-lessac-low",
	"quality": "en_US-lessac-medium",
	"piper":   "en_US-lessac-low",
	"coqui":   "en_US-lessac-medium",
}

func resolveVoice(engine string) string {
	if v, ok := voiceModels[engine]; ok {
		return v
	}
	return voiceModels["fast"]
}

// New creates a driver pointing at the Piper-compatible service URL, with
// a cache sized per the given cache params.
func New(piperURL string, poolSize int, cacheMaxSize int, cacheTTL, readerTimeout time.Duration) *Driver {
	return NewWithCache(piperURL, poolSize, NewCache(cacheMaxSize, cacheTTL, readerTimeout))
}

// NewWithCache creates a driver sharing an already-constructed Cache. Used
// when every pooled Driver instance must back the same HTTP pull surface
// (§4.3/§4.9), since the cache otherwise lives and dies with one Driver.
func NewWithCache(piperURL string, poolSize int, cache *Cache) *Driver {
	return &Driver{
		piperURL: piperURL,
		client:   httpx.NewPooledClient(poolSize, 30*time.Second),
		Cache:    cache,
	}
}

// SetCallback registers the realtime audio sink.
func (d *Driver) SetCallback(onAudio OnAudio) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAudio = onAudio
}

// SetTrace binds the tracer and run ID used to record a "tts" span for each
// synthesized sentence, mirroring the teacher's per-sentence traceSpan call
// (internal/pipeline.Pipeline.synthesizeSentence) but recorded from inside
// the driver since synthesis here happens off the turn goroutine.
func (d *Driver) SetTrace(tracer *trace.Tracer, runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracer = tracer
	d.runID = runID
}

// Query starts a new utterance on first call (isFinal=false) and pushes
// subsequent text increments to the same utterance's synthesis queue.
// Query(_, true) signals end-of-utterance; the driver synthesizes any
// remaining text then emits the sentinel to both sinks.
func (d *Driver) Query(ctx context.Context, engine, requestID, text string, isFinal bool) {
	d.mu.Lock()
	if d.requestID != requestID {
		d.requestID = requestID
		d.Cache.CreateRequest(requestID)
		qctx, cancel := context.WithCancel(ctx)
		d.cancel = cancel
		d.queue = make(chan subtask, 64)
		go d.consume(qctx, engine, requestID, d.queue)
	}
	queue := d.queue
	d.mu.Unlock()

	if text != "" || isFinal {
		queue <- subtask{text: text, isFinal: isFinal}
	}
}

// Stop cancels the active utterance's synthesis worker, if any.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Driver) consume(ctx context.Context, engine, requestID string, queue chan subtask) {
	var lastAck time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-queue:
			if !ok {
				return
			}
			if wait := pacingInterval - time.Since(lastAck); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
			}
			if st.text != "" {
				d.synthesizeOne(ctx, engine, requestID, st.text)
			}
			lastAck = time.Now()
			if st.isFinal {
				d.emit(requestID, nil) // sentinel to both sinks
				return
			}
		}
	}
}

func (d *Driver) synthesizeOne(ctx context.Context, engine, requestID, text string) {
	start := time.Now()
	audioData, err := d.synthesize(ctx, text, engine)
	d.recordSpan(start, text, audioData, err)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "transient").Inc()
		return
	}
	d.emit(requestID, audioData)
}

func (d *Driver) recordSpan(start time.Time, text string, audioData []byte, err error) {
	d.mu.Lock()
	tracer, runID := d.tracer, d.runID
	d.mu.Unlock()
	if tracer == nil || runID == "" {
		return
	}
	status, errMsg := "ok", ""
	if err != nil {
		status, errMsg = "error", err.Error()
	}
	output := ""
	if audioData != nil {
		output = fmt.Sprintf("audio_bytes=%d", len(audioData))
	}
	tracer.RecordSpan(runID, "tts", start, float64(time.Since(start).Milliseconds()), text, output, status, errMsg)
}

func (d *Driver) emit(requestID string, chunk []byte) {
	d.mu.Lock()
	onAudio := d.onAudio
	d.mu.Unlock()

	d.Cache.AppendDelta(requestID, chunk)
	if onAudio != nil {
		onAudio(requestID, chunk)
	}
}

// synthesize calls the Piper-compatible HTTP endpoint. Grounded verbatim on
// the teacher's TTSClient.Synthesize.
func (d *Driver) synthesize(ctx context.Context, text, engine string) ([]byte, error) {
	start := time.Now()
	voice := resolveVoice(engine)

	reqBody, err := json.Marshal(struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.piperURL+"/synthesize", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts status %d", resp.StatusCode)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}

	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	return audioData, nil
}

// NewRequestID mints a fresh TTS request id, used by the session when it
// creates the "{uid}.{request_id}" audio URL token.
func NewRequestID() string {
	return uuid.NewString()
}

// Reset releases the driver back to a pool-ready state between sessions.
func (d *Driver) Reset() {
	d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAudio = nil
	d.requestID = ""
	d.tracer = nil
	d.runID = ""
}

// Close tears the driver down permanently; called by respool.Pool.Release
// when the pool is already at capacity.
func (d *Driver) Close() {
	d.Reset()
}
