// Package session implements the §4.8 per-connection session: the four
// pooled AI-client handles (VAD/ASR/TTS/LLM), the outbound event queue, and
// the turn state machine driving the §6 wire protocol.
//
// Grounded directly on the teacher's internal/ws.runSession/processMessages
// and internal/pipeline.Pipeline's streamLLMWithTTS/consumeSentences turn
// orchestration, generalized from the teacher's metadata-then-binary-stream
// protocol to the tagged-union JSON envelope protocol, and from one-shot
// ASR/TTS calls to the streaming drivers.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vce-gateway/gateway/internal/asr"
	"github.com/vce-gateway/gateway/internal/audio"
	"github.com/vce-gateway/gateway/internal/chunker"
	"github.com/vce-gateway/gateway/internal/denoise"
	"github.com/vce-gateway/gateway/internal/device"
	"github.com/vce-gateway/gateway/internal/intent"
	"github.com/vce-gateway/gateway/internal/llm"
	"github.com/vce-gateway/gateway/internal/metrics"
	"github.com/vce-gateway/gateway/internal/proto"
	"github.com/vce-gateway/gateway/internal/respool"
	"github.com/vce-gateway/gateway/internal/trace"
	"github.com/vce-gateway/gateway/internal/tts"
)

// ErrResourceUnavailable is surfaced by turn operations that need a pooled
// handle Init(ctx) failed to acquire.
var ErrResourceUnavailable = errors.New("session: resource unavailable")

// idleLivenessCheck is how long the sender waits for an outbound event
// before pinging the connection, per §4.8 step 2.
const idleLivenessCheck = 60 * time.Second

// outboundQueueDepth bounds the sender channel; a slow client blocks new
// sends rather than growing memory unbounded.
const outboundQueueDepth = 256

// Pools bundles the four process-wide resource pools a session acquires
// its handles from.
type Pools struct {
	VAD *respool.Pool[*audio.VAD]
	ASR *respool.Pool[*asr.Driver]
	TTS *respool.Pool[*tts.Driver]
	LLM *respool.Pool[*llm.Client]
}

// History persists a completed (user, agent) turn for later RAG retrieval.
// Nil means call-history persistence is disabled.
type History interface {
	StoreAsync(ctx context.Context, uid, userText, agentText string)
}

// Config bundles the session's shared, long-lived collaborators.
type Config struct {
	Pools        Pools
	TTSCache     *tts.Cache
	Registry     *intent.Registry
	DeviceRepo   *device.Repository
	Knowledge    intent.KnowledgeBase
	History      History
	Tracer       *trace.Tracer
	NewDenoiser  func() *denoise.Denoiser // nil disables noise suppression
	UID          string
	Engine       string // LLM/ASR/TTS vendor engine name
	Language     chunker.Language
}

// Session owns one client's VAD/ASR/TTS/LLM handles and outbound queue.
type Session struct {
	cfg  Config
	conn *websocket.Conn

	vad      *audio.VAD
	asr      *asr.Driver
	tts      *tts.Driver
	llm      *llm.Client
	denoiser *denoise.Denoiser

	out      chan proto.Envelope
	done     chan struct{}
	closeOne sync.Once

	audioBuf audioBuf

	mu           sync.Mutex
	asrRequestID string
	ttsRequestID string
	cancelTurn   context.CancelFunc
	lastActive   time.Time
	runID        string
	turnStart    time.Time
}

// New constructs a session bound to conn. Call Init before use.
func New(cfg Config, conn *websocket.Conn) *Session {
	return &Session{
		cfg:        cfg,
		conn:       conn,
		out:        make(chan proto.Envelope, outboundQueueDepth),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}
}

// Init concurrently acquires the four pooled handles. A failure on any one
// is logged and that slot is left nil; subsequent operations needing it
// return ErrResourceUnavailable. Init also starts the sender task.
func (s *Session) Init(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)

	go func() { defer wg.Done(); s.vad = acquireLogged(s.cfg.Pools.VAD, "vad") }()
	go func() { defer wg.Done(); s.asr = acquireLogged(s.cfg.Pools.ASR, "asr") }()
	go func() { defer wg.Done(); s.tts = acquireLogged(s.cfg.Pools.TTS, "tts") }()
	go func() { defer wg.Done(); s.llm = acquireLogged(s.cfg.Pools.LLM, "llm") }()
	wg.Wait()

	if s.cfg.NewDenoiser != nil {
		s.denoiser = s.cfg.NewDenoiser()
	}

	metrics.CallsActive.Inc()
	metrics.CallsTotal.Inc()

	go s.sendLoop()
}

func acquireLogged[T respool.Closer](p *respool.Pool[T], name string) T {
	var zero T
	if p == nil {
		slog.Error("session init: no pool configured", "handle", name)
		return zero
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session init: acquire panicked", "handle", name, "recover", r)
		}
	}()
	return p.Acquire()
}

// sendLoop drains the outbound queue onto the WebSocket. On queue-empty it
// waits up to idleLivenessCheck and then pings the connection.
func (s *Session) sendLoop() {
	for {
		select {
		case <-s.done:
			return
		case env, ok := <-s.out:
			if !ok {
				return
			}
			if err := s.conn.WriteJSON(env); err != nil {
				slog.Error("session send failed", "uid", s.cfg.UID, "error", err)
			}
		case <-time.After(idleLivenessCheck):
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				slog.Warn("session liveness ping failed", "uid", s.cfg.UID, "error", err)
			}
		}
	}
}

func (s *Session) emit(eventType proto.EventType, data any) {
	env, err := proto.New(eventType, s.cfg.UID, data)
	if err != nil {
		slog.Error("session emit: marshal failed", "event_type", eventType, "error", err)
		return
	}
	select {
	case s.out <- env:
	case <-s.done:
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long the session has gone without activity, used by
// the gateway's idle-eviction monitor.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// Close is idempotent: cancels the sender (events still queued are not
// sent), releases all four handles back to their pools, and closes the
// WebSocket normally.
func (s *Session) Close() {
	s.closeOne.Do(func() {
		close(s.done)

		s.mu.Lock()
		if s.cancelTurn != nil {
			s.cancelTurn()
		}
		s.mu.Unlock()

		if s.vad != nil && s.cfg.Pools.VAD != nil {
			s.vad.Reset()
			s.cfg.Pools.VAD.Release(s.vad)
		}
		if s.asr != nil && s.cfg.Pools.ASR != nil {
			s.asr.Reset()
			s.cfg.Pools.ASR.Release(s.asr)
		}
		if s.tts != nil && s.cfg.Pools.TTS != nil {
			s.tts.Reset()
			s.cfg.Pools.TTS.Release(s.tts)
		}
		if s.llm != nil && s.cfg.Pools.LLM != nil {
			s.cfg.Pools.LLM.Release(s.llm)
		}
		if s.denoiser != nil {
			s.denoiser.Close()
		}

		if s.cfg.Tracer != nil {
			s.cfg.Tracer.Close()
		}

		metrics.CallsActive.Dec()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

func audioToBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}
