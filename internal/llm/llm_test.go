package llm

import (
	"context"
	"testing"

	"github.com/vce-gateway/gateway/internal/chunker"
)

func TestRouterRouteFallsBackToDefault(t *testing.T) {
	r := NewRouter(map[string]string{"default": "d-backend", "fast": "f-backend"}, "default")

	got, err := r.Route("fast")
	if err != nil || got != "f-backend" {
		t.Fatalf("Route(fast) = %q, %v", got, err)
	}

	got, err = r.Route("unknown")
	if err != nil || got != "d-backend" {
		t.Fatalf("Route(unknown) = %q, %v, want fallback", got, err)
	}
}

func TestRouterRouteNoFallbackErrors(t *testing.T) {
	r := NewRouter(map[string]string{"fast": "f-backend"}, "missing")
	if _, err := r.Route("unknown"); err == nil {
		t.Fatal("expected error when neither engine nor fallback registered")
	}
}

func TestRouterHasAndEngines(t *testing.T) {
	r := NewRouter(map[string]string{"a": "1", "b": "2"}, "a")
	if !r.Has("a") || r.Has("c") {
		t.Fatal("Has() mismatched registered backends")
	}
	if len(r.Engines()) != 2 {
		t.Fatalf("Engines() = %v, want 2 entries", r.Engines())
	}
}

func TestConversationCacheEvictsOldest(t *testing.T) {
	c := NewConversationCache(2)
	c.Push("q1", "a1")
	c.Push("q2", "a2")
	c.Push("q3", "a3")

	flat := c.Flatten()
	if want := "user: q2\nassistant: a2\nuser: q3\nassistant: a3\n"; flat != want {
		t.Fatalf("Flatten() = %q, want %q", flat, want)
	}
}

func TestConversationCacheClear(t *testing.T) {
	c := NewConversationCache(3)
	c.Push("q1", "a1")
	c.Clear()
	if c.Flatten() != "" {
		t.Fatalf("Flatten() after Clear() = %q, want empty", c.Flatten())
	}
}

func TestConversationCacheDefaultDepth(t *testing.T) {
	c := NewConversationCache(0)
	if c.depth != 3 {
		t.Fatalf("depth = %d, want default 3", c.depth)
	}
}

// fakeChatClient is a minimal LLMChatClient for raw-engine AgentLLM tests.
type fakeChatClient struct {
	reply string
}

func (f fakeChatClient) Chat(ctx context.Context, userMessage, ragContext, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error) {
	if onToken != nil {
		onToken(f.reply)
	}
	return &LLMResult{Text: f.reply}, nil
}

func TestAgentLLMRawClientBypassesSDK(t *testing.T) {
	router := NewAgentLLM("raw-engine", 256)
	router.RegisterRaw("raw-engine", fakeChatClient{reply: "hello there"}, "default-model")

	if !router.Has("raw-engine") {
		t.Fatal("expected raw-engine registered")
	}
	engines := router.Engines()
	if len(engines) != 1 || engines[0] != "raw-engine" {
		t.Fatalf("Engines() = %v", engines)
	}

	var got string
	result, err := router.Chat(context.Background(), "hi", "", "be nice", "", "raw-engine", func(tok string) {
		got += tok
	})
	if err != nil {
		t.Fatalf("Chat error = %v", err)
	}
	if result.Text != "hello there" || got != "hello there" {
		t.Fatalf("result = %+v, got tokens = %q", result, got)
	}
}

func TestAgentLLMUnregisteredEngineErrors(t *testing.T) {
	router := NewAgentLLM("missing-fallback", 256)
	if _, err := router.Chat(context.Background(), "hi", "", "", "", "nope", nil); err == nil {
		t.Fatal("expected error for unregistered engine with no matching fallback")
	}
}

func TestClientQueryUsesThinkSlotAndPushesCache(t *testing.T) {
	router := NewAgentLLM("demo", 256)
	router.RegisterRaw("demo", fakeChatClient{reply: "world"}, "ignored")

	vendors := map[string]Vendor{
		"demo": {Engine: "demo", Models: map[Slot]string{SlotThink: "think-model", SlotLite: "lite-model"}},
	}
	client := NewClient(router, vendors, "demo", 3)

	result, err := client.Query(context.Background(), "demo", "hello", "sys", nil)
	if err != nil {
		t.Fatalf("Query error = %v", err)
	}
	if result.Text != "world" {
		t.Fatalf("result.Text = %q", result.Text)
	}
	if flat := client.cache.Flatten(); flat == "" {
		t.Fatal("expected Query to push a turn into the conversation cache")
	}
}

func TestClientQueryLiteDoesNotTouchCache(t *testing.T) {
	router := NewAgentLLM("demo", 256)
	router.RegisterRaw("demo", fakeChatClient{reply: "classified"}, "ignored")

	vendors := map[string]Vendor{
		"demo": {Engine: "demo", Models: map[Slot]string{SlotLite: "lite-model"}},
	}
	client := NewClient(router, vendors, "demo", 3)

	out, err := client.QueryLite(context.Background(), "demo", "classify this", "sys")
	if err != nil {
		t.Fatalf("QueryLite error = %v", err)
	}
	if out != "classified" {
		t.Fatalf("out = %q", out)
	}
	if client.cache.Flatten() != "" {
		t.Fatal("expected QueryLite to leave the conversation cache untouched")
	}
}

func TestStreamProcessorFlushesSentencesThenRemainder(t *testing.T) {
	var chunks []string
	var finals []bool
	sp := &StreamProcessor{lang: chunker.English, onChunk: func(text string, isFinal bool) {
		chunks = append(chunks, text)
		finals = append(finals, isFinal)
	}}

	for _, tok := range []string{"Hello world. ", "This is ", "unfinished"} {
		sp.Feed(tok)
	}
	sp.Finish()

	if len(chunks) == 0 {
		t.Fatal("expected at least one flushed chunk")
	}
	if !finals[len(finals)-1] {
		t.Fatal("expected last chunk to be marked final")
	}
}
