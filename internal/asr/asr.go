// Package asr implements the streaming ASR driver contract: stream_start,
// stream_append, stream_finish with partial/final callbacks, backed by a
// whisper.cpp-compatible /inference HTTP endpoint.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vce-gateway/gateway/internal/audio"
	"github.com/vce-gateway/gateway/internal/httpx"
	"github.com/vce-gateway/gateway/internal/metrics"
)

// ErrNotStreaming is returned by StreamAppend after StreamFinish, or before
// the first StreamStart.
var ErrNotStreaming = errors.New("asr: not streaming")

// coalesceFrames is how many 30ms frames (≈450ms) are batched per upload.
const coalesceFrames = 15

// OnPartial fires at most once per provider update with cumulative text.
type OnPartial func(requestID, text string)

// OnFinal fires exactly once per StreamFinish.
type OnFinal func(requestID, text string)

// Driver streams audio chunks to a whisper.cpp-compatible provider,
// coalescing frames before each upload and reporting partial/final text.
type Driver struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	streaming bool
	requestID string
	pending   []float32 // samples awaiting the next coalesced flush
	committed string    // cumulative recognized text across flushes this request

	onPartial OnPartial
	onFinal   OnFinal
}

// New creates a Driver pointing at the whisper.cpp-compatible server URL.
func New(url string, poolSize int) *Driver {
	return &Driver{
		url:    url,
		client: httpx.NewPooledClient(poolSize, 30*time.Second),
	}
}

// SetCallbacks registers the partial/final transcript callbacks.
func (d *Driver) SetCallbacks(onPartial OnPartial, onFinal OnFinal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPartial = onPartial
	d.onFinal = onFinal
}

// StreamStart begins a fresh request, discarding any prior pending state.
func (d *Driver) StreamStart() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requestID = uuid.NewString()
	d.streaming = true
	d.pending = d.pending[:0]
	d.committed = ""
	return d.requestID
}

// StreamAppend adds samples to the coalescing buffer, flushing a partial
// transcription request once ~450ms of audio has accumulated.
func (d *Driver) StreamAppend(ctx context.Context, samples []float32) error {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return ErrNotStreaming
	}
	d.pending = append(d.pending, samples...)
	shouldFlush := len(d.pending) >= coalesceFrames*audio.FrameSamples
	var flushSamples []float32
	requestID := d.requestID
	if shouldFlush {
		flushSamples = append([]float32(nil), d.pending...)
		d.pending = d.pending[:0]
	}
	d.mu.Unlock()

	if !shouldFlush {
		return nil
	}
	return d.flush(ctx, requestID, flushSamples, false)
}

// StreamFinish flushes any remainder and issues a final transcription,
// invoking onFinal exactly once. Further StreamAppend calls fail until the
// next StreamStart.
func (d *Driver) StreamFinish(ctx context.Context) error {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return ErrNotStreaming
	}
	requestID := d.requestID
	remainder := append([]float32(nil), d.pending...)
	d.pending = d.pending[:0]
	d.streaming = false
	d.mu.Unlock()

	err := d.flush(ctx, requestID, remainder, true)

	d.mu.Lock()
	text := d.committed
	onFinal := d.onFinal
	d.mu.Unlock()

	if onFinal != nil {
		onFinal(requestID, text)
	}
	return err
}

func (d *Driver) flush(ctx context.Context, requestID string, samples []float32, final bool) error {
	if len(samples) == 0 {
		return nil
	}

	result, err := d.transcribe(ctx, samples)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "transient").Inc()
		d.mu.Lock()
		onFinal := d.onFinal
		d.committed = ""
		d.mu.Unlock()
		if !final && onFinal != nil {
			onFinal(requestID, "")
		}
		return fmt.Errorf("asr flush: %w", err)
	}

	d.mu.Lock()
	d.committed = result.Text
	onPartial := d.onPartial
	d.mu.Unlock()

	if !final && onPartial != nil {
		onPartial(requestID, result.Text)
	}
	return nil
}

type transcribeResult struct {
	Text      string
	LatencyMs float64
}

// transcribe uploads samples as a multipart WAV and parses the whisper.cpp
// response. Grounded verbatim on the teacher's ASRClient.Transcribe.
func (d *Driver) transcribe(ctx context.Context, samples []float32) (*transcribeResult, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("asr status %d: %s", resp.StatusCode, string(respBody))
	}

	var whisperResp struct {
		Text string `json:"text"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&whisperResp); err != nil {
		return nil, fmt.Errorf("decode asr response: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("asr").Observe(latency.Seconds())

	return &transcribeResult{Text: whisperResp.Text, LatencyMs: float64(latency.Milliseconds())}, nil
}

func buildMultipartAudio(samples []float32) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, audio.SampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

// Reset releases the driver back to a pool-ready state: stops any in-flight
// streaming and clears callbacks.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = false
	d.pending = nil
	d.committed = ""
	d.onPartial = nil
	d.onFinal = nil
}

// Close tears the driver down permanently; called by respool.Pool.Release
// when the pool is already at capacity. Equivalent to Reset since the
// driver holds no resources beyond its own pooled HTTP client.
func (d *Driver) Close() {
	d.Reset()
}
