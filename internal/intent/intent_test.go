package intent

import (
	"context"
	"testing"

	"github.com/vce-gateway/gateway/internal/chunker"
)

func noopHandler(label string) Handler {
	return HandlerFunc(func(ctx context.Context, text, content, history string, deps Deps) (ActionResult, error) {
		return ActionResult{UserPrompt: label}, nil
	})
}

func TestRegistryResolveExactMatch(t *testing.T) {
	r := NewRegistry(chunker.English)
	r.Register(Alarm, chunker.English, noopHandler("en-alarm"))

	h, ok := r.Resolve(Alarm, chunker.English)
	if !ok {
		t.Fatal("expected handler found")
	}
	res, _ := h.Handle(context.Background(), "", "", "", Deps{})
	if res.UserPrompt != "en-alarm" {
		t.Fatalf("UserPrompt = %q, want en-alarm", res.UserPrompt)
	}
}

func TestRegistryResolveFallsBackToDefaultLanguage(t *testing.T) {
	r := NewRegistry(chunker.English)
	r.Register(Alarm, chunker.English, noopHandler("en-alarm"))

	h, ok := r.Resolve(Alarm, chunker.Chinese)
	if !ok {
		t.Fatal("expected fallback to English handler")
	}
	res, _ := h.Handle(context.Background(), "", "", "", Deps{})
	if res.UserPrompt != "en-alarm" {
		t.Fatalf("UserPrompt = %q, want en-alarm (fallback)", res.UserPrompt)
	}
}

func TestRegistryResolveFallsBackToChat(t *testing.T) {
	r := NewRegistry(chunker.English)
	r.Register(Chat, chunker.English, noopHandler("chat"))

	h, ok := r.Resolve(Music, chunker.English)
	if !ok {
		t.Fatal("expected fallback to chat handler")
	}
	res, _ := h.Handle(context.Background(), "", "", "", Deps{})
	if res.UserPrompt != "chat" {
		t.Fatalf("UserPrompt = %q, want chat", res.UserPrompt)
	}
}

func TestRegistryResolveNoChatReturnsFalse(t *testing.T) {
	r := NewRegistry(chunker.English)
	if _, ok := r.Resolve(Music, chunker.English); ok {
		t.Fatal("expected no handler found when chat is never registered")
	}
}

func TestParseClassificationWellFormed(t *testing.T) {
	name, content := parseClassification("intent: alarm\ncontent: wake me at 7am")
	if name != Alarm {
		t.Fatalf("name = %v, want alarm", name)
	}
	if content != "wake me at 7am" {
		t.Fatalf("content = %q, want 'wake me at 7am'", content)
	}
}

func TestParseClassificationUnknownIntentDefaultsToChat(t *testing.T) {
	name, content := parseClassification("intent: banana\ncontent: whatever")
	if name != Chat {
		t.Fatalf("name = %v, want chat", name)
	}
	if content != "intent: banana\ncontent: whatever" {
		t.Fatalf("content = %q, want raw reply", content)
	}
}

func TestParseClassificationMalformedDefaultsToChat(t *testing.T) {
	name, content := parseClassification("just a plain reply")
	if name != Chat {
		t.Fatalf("name = %v, want chat", name)
	}
	if content != "just a plain reply" {
		t.Fatalf("content = %q, want trimmed raw reply", content)
	}
}
