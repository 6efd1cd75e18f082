package llm

import (
	"context"
	"fmt"

	"github.com/vce-gateway/gateway/internal/chunker"
)

// Slot names the two per-vendor model slots required by §4.6: a fast model
// for intent classification and a long-form model for dialogue.
type Slot string

const (
	SlotLite  Slot = "lite"
	SlotThink Slot = "think"
)

// Vendor holds the two named model slots for one LLM vendor/engine.
type Vendor struct {
	Engine string
	Models map[Slot]string
}

// Client is the C6 LLM client: chat/streaming-chat over multiple vendors,
// with a short conversation cache feeding both intent classification and
// dialogue turns.
type Client struct {
	router   *AgentLLM
	vendors  map[string]Vendor
	fallback string
	cache    *ConversationCache
}

// NewClient wraps an already-wired AgentLLM (vendor backends registered via
// Register/RegisterRaw) with the per-vendor model-slot table and a
// conversation cache of the given depth.
func NewClient(router *AgentLLM, vendors map[string]Vendor, fallback string, cacheDepth int) *Client {
	return &Client{
		router:   router,
		vendors:  vendors,
		fallback: fallback,
		cache:    NewConversationCache(cacheDepth),
	}
}

// Close flushes the conversation cache. Active streaming turns are stopped
// by cancelling the context.Context passed to QueryStream, per §4.6 — the
// client itself holds no goroutines to stop.
func (c *Client) Close() {
	c.cache.Clear()
}

func (c *Client) modelFor(engine string, slot Slot) string {
	v, ok := c.vendors[engine]
	if !ok {
		v = c.vendors[c.fallback]
	}
	return v.Models[slot]
}

// Query issues a single non-streaming (insofar as the caller drains
// onToken itself) chat call using the "think" model slot, with history
// flattened into the prompt via ragContext-shaped prior turns.
func (c *Client) Query(ctx context.Context, engine, text, systemPrompt string, onToken TokenCallback) (*LLMResult, error) {
	model := c.modelFor(engine, SlotThink)
	history := c.cache.Flatten()
	result, err := c.router.Chat(ctx, text, history, systemPrompt, model, engine, onToken)
	if err != nil {
		return nil, fmt.Errorf("llm query: %w", err)
	}
	c.cache.Push(text, result.Text)
	return result, nil
}

// QueryLite issues a chat call using the "lite" model slot, intended for
// intent classification — it does not touch the conversation cache.
func (c *Client) QueryLite(ctx context.Context, engine, text, systemPrompt string) (string, error) {
	model := c.modelFor(engine, SlotLite)
	var out string
	_, err := c.router.Chat(ctx, text, "", systemPrompt, model, engine, func(tok string) { out += tok })
	if err != nil {
		return "", fmt.Errorf("llm query_lite: %w", err)
	}
	return out, nil
}

// OnText is invoked for each raw streamed token.
type OnText func(token string)

// OnChunk is invoked with a sentence-safe chunk ready for TTS.
type OnChunk func(text string, isFinal bool)

// OnFinish is invoked once, after end-of-stream, with the full text.
type OnFinish func(fullText string)

// QueryStream wraps a cancellable token stream in a StreamProcessor: tokens
// are forwarded to onText, accumulated and run through the sentence
// chunker to flush onChunk, and onFinish fires last with the full text.
func (c *Client) QueryStream(ctx context.Context, engine, text, systemPrompt string, lang chunker.Language, onText OnText, onChunk OnChunk, onFinish OnFinish) error {
	model := c.modelFor(engine, SlotThink)
	history := c.cache.Flatten()

	sp := &StreamProcessor{lang: lang, onChunk: onChunk}

	result, err := c.router.Chat(ctx, text, history, systemPrompt, model, engine, func(tok string) {
		if ctx.Err() != nil {
			return // Close()'d: no further chunks observed downstream
		}
		if onText != nil {
			onText(tok)
		}
		sp.Feed(tok)
	})
	if err != nil {
		return fmt.Errorf("llm query_stream: %w", err)
	}

	if ctx.Err() == nil {
		sp.Finish()
		c.cache.Push(text, result.Text)
		if onFinish != nil {
			onFinish(result.Text)
		}
	}
	return nil
}

// StreamProcessor accumulates streamed tokens and flushes sentence-safe
// chunks, exactly per §4.6's (a)(b)(c) behavior.
type StreamProcessor struct {
	lang    chunker.Language
	buf     string
	onChunk OnChunk
}

// Feed appends a token and flushes as many safe chunks as are available.
func (s *StreamProcessor) Feed(token string) {
	s.buf += token
	for {
		chunk, remainder := chunker.Split(s.buf, s.lang)
		if chunk == nil {
			return
		}
		s.buf = remainder
		if s.onChunk != nil {
			s.onChunk(*chunk, false)
		}
	}
}

// Finish flushes any remainder as the final chunk.
func (s *StreamProcessor) Finish() {
	if s.buf == "" {
		return
	}
	remainder := s.buf
	s.buf = ""
	if s.onChunk != nil {
		s.onChunk(remainder, true)
	}
}
