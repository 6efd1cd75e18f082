package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vce-gateway/gateway/internal/asr"
	"github.com/vce-gateway/gateway/internal/audio"
	"github.com/vce-gateway/gateway/internal/intent"
	"github.com/vce-gateway/gateway/internal/metrics"
	"github.com/vce-gateway/gateway/internal/proto"
	"github.com/vce-gateway/gateway/internal/tts"
)

// audioBuf accumulates raw PCM bytes between chat.update and
// input_audio_buffer.complete, sliced into VAD-sized frames as they fill.
type audioBuf struct {
	pending []byte
}

func (b *audioBuf) append(data []byte) [][]byte {
	b.pending = append(b.pending, data...)
	var frames [][]byte
	for len(b.pending) >= audio.FrameBytes {
		frames = append(frames, b.pending[:audio.FrameBytes])
		b.pending = b.pending[audio.FrameBytes:]
	}
	return frames
}

// HandleEnvelope dispatches one inbound client event per the §6 protocol.
func (s *Session) HandleEnvelope(ctx context.Context, env proto.Envelope) {
	s.touch()
	var err error
	switch env.EventType {
	case proto.EventChatUpdate:
		err = s.handleChatUpdate(env)
	case proto.EventInputAudioBufferAppend:
		err = s.handleAudioAppend(ctx, env)
	case proto.EventInputAudioBufferComplete:
		err = s.handleAudioComplete(ctx)
	case proto.EventConversationChatCancel:
		s.handleChatCancel()
	default:
		slog.Debug("session: unhandled event type", "event_type", env.EventType)
	}
	if err != nil {
		slog.Error("session: turn error", "uid", s.cfg.UID, "event_type", env.EventType, "error", err)
		s.emit(proto.EventError, proto.ErrorData{Code: "turn_error", Message: err.Error()})
	}
}

func (s *Session) handleChatUpdate(env proto.Envelope) error {
	var data proto.ChatUpdateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("decode chat.update: %w", err)
	}

	if s.vad != nil {
		s.vad.Reset()
	}
	s.mu.Lock()
	s.asrRequestID = ""
	s.runID = ""
	s.turnStart = time.Now()
	if s.cfg.Tracer != nil {
		s.runID = s.cfg.Tracer.StartRun()
	}
	s.mu.Unlock()

	if s.asr != nil {
		s.asr.SetCallbacks(s.onASRPartial, s.onASRFinal)
		reqID := s.asr.StreamStart()
		s.mu.Lock()
		s.asrRequestID = reqID
		s.mu.Unlock()
	}
	if s.tts != nil {
		s.tts.SetCallback(s.onTTSAudio)
	}

	s.emit(proto.EventChatUpdated, data)
	return nil
}

func (s *Session) handleAudioAppend(ctx context.Context, env proto.Envelope) error {
	var data proto.AudioBufferAppendData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("decode input_audio_buffer.append: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(data.Delta)
	if err != nil {
		return fmt.Errorf("decode audio delta: %w", err)
	}

	metrics.AudioChunks.Inc()
	for _, frame := range s.audioBuf.append(raw) {
		s.processFrame(ctx, frame)
	}
	return nil
}

func (s *Session) processFrame(ctx context.Context, frame []byte) {
	var vadErr error
	var changed bool
	if s.vad != nil {
		changed, vadErr = s.vad.ProcessFrame(frame)
		if vadErr != nil {
			slog.Error("session: vad error", "uid", s.cfg.UID, "error", vadErr)
		} else if changed {
			metrics.SpeechSegments.Inc()
			s.emit(proto.EventConversationAudioTranscriptVAD, proto.VADData{Content: s.vad.SpeechActive()})
		}
	}

	if s.asr == nil {
		return
	}
	samples, _, err := audio.Decode(frame, audio.CodecPCM, audio.SampleRate)
	if err != nil {
		slog.Error("session: audio decode error", "uid", s.cfg.UID, "error", err)
		return
	}
	if s.denoiser != nil {
		samples = s.denoiser.Denoise(samples)
	}
	if err := s.asr.StreamAppend(ctx, samples); err != nil && err != asr.ErrNotStreaming {
		slog.Error("session: asr append error", "uid", s.cfg.UID, "error", err)
	}
}

func (s *Session) handleAudioComplete(ctx context.Context) error {
	if s.asr == nil {
		return ErrResourceUnavailable
	}
	s.emit(proto.EventInputAudioBufferCompleted, struct{}{})
	return s.asr.StreamFinish(ctx)
}

func (s *Session) handleChatCancel() {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.cancelTurn = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.emit(proto.EventConversationChatCanceled, struct{}{})
}

func (s *Session) onASRPartial(requestID, text string) {
	s.emit(proto.EventConversationAudioTranscriptUpdate, proto.TextData{Content: text})
}

// onASRFinal kicks off the intent-classify -> (short-circuit | LLM stream) ->
// TTS turn, per §4.8's ASR-final flow. Runs on its own cancelable context so
// conversation.chat.cancel can stop mid-turn.
func (s *Session) onASRFinal(requestID, text string) {
	s.emit(proto.EventConversationAudioTranscriptDone, proto.TextData{Content: text})

	s.mu.Lock()
	asrStart := s.turnStart
	s.mu.Unlock()
	s.traceSpan("asr", asrStart, "", text, nil)

	if text == "" {
		s.endRun(text, "", "filtered")
		return
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelTurn = cancel
	s.mu.Unlock()

	go s.runDialogueTurn(turnCtx, text)
}

// traceSpan records a completed span for the turn currently in progress, if
// tracing is enabled. Grounded on the teacher's Pipeline.traceSpan.
func (s *Session) traceSpan(name string, start time.Time, input, output string, err error) {
	if s.cfg.Tracer == nil {
		return
	}
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()
	if runID == "" {
		return
	}
	status, errMsg := "ok", ""
	if err != nil {
		status, errMsg = "error", err.Error()
	}
	s.cfg.Tracer.RecordSpan(runID, name, start, float64(time.Since(start).Milliseconds()), input, output, status, errMsg)
}

// endRun finalizes the turn's run, if tracing is enabled. Grounded on the
// teacher's Pipeline.endRun.
func (s *Session) endRun(transcript, response, status string) {
	if s.cfg.Tracer == nil {
		return
	}
	s.mu.Lock()
	runID, start := s.runID, s.turnStart
	s.runID = ""
	s.mu.Unlock()
	if runID == "" {
		return
	}
	s.cfg.Tracer.EndRun(runID, float64(time.Since(start).Milliseconds()), transcript, response, status)
}

func (s *Session) runDialogueTurn(ctx context.Context, text string) {
	defer func() {
		s.mu.Lock()
		s.cancelTurn = nil
		s.mu.Unlock()
	}()

	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()
	if s.tts != nil {
		s.tts.SetTrace(s.cfg.Tracer, runID)
	}

	s.emit(proto.EventConversationChatCreated, struct{}{})
	s.emit(proto.EventConversationChatInProgress, struct{}{})

	if s.tts != nil && s.cfg.TTSCache != nil {
		reqID := tts.NewRequestID()
		s.mu.Lock()
		s.ttsRequestID = reqID
		s.mu.Unlock()
		s.cfg.TTSCache.CreateRequest(reqID)
		s.emit(proto.EventConversationAudioURL, proto.AudioURLData{Content: s.cfg.UID + "." + reqID})
	}

	if s.llm == nil || s.cfg.Registry == nil {
		s.emit(proto.EventError, proto.ErrorData{Code: "resource_unavailable", Message: "llm unavailable"})
		s.endRun(text, "", "error")
		return
	}

	deps := intent.Deps{LLM: s.llm, Engine: s.cfg.Engine, DeviceRepo: s.cfg.DeviceRepo, Knowledge: s.cfg.Knowledge}
	intentStart := time.Now()
	name, result, err := intent.Detect(ctx, s.cfg.Registry, text, "", s.cfg.Language, deps)
	s.traceSpan("intent", intentStart, text, string(name), err)
	if err != nil {
		s.emit(proto.EventError, proto.ErrorData{Code: "intent_error", Message: err.Error()})
		s.endRun(text, "", "error")
		return
	}
	metrics.IntentTotal.WithLabelValues(string(name)).Inc()

	if result.MetaData != nil {
		s.speakFinal(text, result.UserPrompt, result.MetaData)
		s.emit(proto.EventConversationChatCompleted, struct{}{})
		s.endRun(text, result.UserPrompt, "ok")
		return
	}

	s.streamDialogue(ctx, text, result)
	s.emit(proto.EventConversationChatCompleted, struct{}{})
}

func (s *Session) streamDialogue(ctx context.Context, userText string, result intent.ActionResult) {
	systemPrompt := result.SystemPrompt
	llmStart := time.Now()

	err := s.llm.QueryStream(ctx, s.cfg.Engine, result.UserPrompt, systemPrompt, s.cfg.Language,
		nil,
		func(chunk string, isFinal bool) {
			s.emit(proto.EventConversationMessageDelta, proto.TextData{Content: chunk})
			if s.tts != nil {
				s.tts.Query(ctx, s.cfg.Engine, s.currentTTSRequestID(), chunk, isFinal)
			}
		},
		func(fullText string) {
			s.traceSpan("llm", llmStart, result.UserPrompt, fullText, nil)
			s.emit(proto.EventConversationMessageCompleted, proto.MessageCompletedData{Content: fullText})
			if s.cfg.History != nil {
				s.cfg.History.StoreAsync(context.Background(), s.cfg.UID, userText, fullText)
			}
			s.endRun(userText, fullText, "ok")
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return // cancelled mid-stream; conversation.chat.canceled already emitted
		}
		s.traceSpan("llm", llmStart, result.UserPrompt, "", err)
		s.emit(proto.EventError, proto.ErrorData{Code: "llm_error", Message: err.Error()})
		s.endRun(userText, "", "error")
	}
}

func (s *Session) speakFinal(userText, userPrompt string, cmd *proto.Command) {
	s.emit(proto.EventConversationMessageCompleted, proto.MessageCompletedData{Content: userPrompt, MetaData: cmd})
	if s.cfg.History != nil {
		s.cfg.History.StoreAsync(context.Background(), s.cfg.UID, userText, userPrompt)
	}
	if s.tts != nil {
		s.tts.Query(context.Background(), s.cfg.Engine, s.currentTTSRequestID(), userPrompt, true)
	}
}

func (s *Session) currentTTSRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttsRequestID
}

// onTTSAudio forwards each synthesized chunk as a speech.audio.update event;
// an empty chunk is the driver's end-of-utterance sentinel (it has already
// been recorded in tts.Cache by the driver itself).
func (s *Session) onTTSAudio(requestID string, chunk []byte) {
	if len(chunk) == 0 {
		s.emit(proto.EventSpeechAudioCompleted, struct{}{})
		s.emit(proto.EventConversationAudioCompleted, struct{}{})
		return
	}
	s.emit(proto.EventSpeechAudioUpdate, proto.AudioDeltaData{Delta: audioToBase64(chunk)})
}

