// Package intent implements the §4.5 two-stage pipeline: a single LLM call
// classifies user text into one of eight intents, then a per-intent handler
// drawn from a registry keyed by (intent, language) produces the spoken
// reply and, when the turn is short-circuited, a structured proto.Command.
//
// Grounded on original_source's
// backend/common/openai/llm/intention/action/{base.py,action_*}, with the
// per-language registries there collapsed into one Go registry per §9.
package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/vce-gateway/gateway/internal/chunker"
	"github.com/vce-gateway/gateway/internal/device"
	"github.com/vce-gateway/gateway/internal/llm"
	"github.com/vce-gateway/gateway/internal/proto"
)

// Name is one of the eight closed-set target intents.
type Name string

const (
	Alarm   Name = "alarm"
	Control Name = "control"
	Music   Name = "music"
	Weather Name = "weather"
	News    Name = "news"
	Story   Name = "story"
	Joke    Name = "joke"
	Chat    Name = "chat"
)

// ActionResult is a handler's verdict. When MetaData is set, the dialogue
// is short-circuited: UserPrompt is spoken directly, no further LLM call is
// made. When MetaData is nil, UserPrompt/SystemPrompt form the prompt
// packet the session streams through the "think" LLM slot for a
// conversational reply (per §4.5's story/joke/chat handling).
type ActionResult struct {
	UserPrompt   string
	SystemPrompt string
	MetaData     *proto.Command
}

// KnowledgeBase retrieves grounding context for a free-form utterance. The
// chat and story handlers splice its result into the system prompt when
// present; nil means no RAG backend is configured.
type KnowledgeBase interface {
	RetrieveContext(ctx context.Context, query string) (string, error)
}

// Deps bundles the collaborators every action handler may need. Not every
// handler uses every field.
type Deps struct {
	LLM        *llm.Client
	Engine     string
	DeviceRepo *device.Repository
	Knowledge  KnowledgeBase
}

// Handler implements one intent's action. Handlers receive the raw user
// utterance, the content extracted by the top-level classifier (often equal
// to text), and the current conversation history flattened to plain text.
type Handler interface {
	Handle(ctx context.Context, text, content, history string, deps Deps) (ActionResult, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, text, content, history string, deps Deps) (ActionResult, error)

func (f HandlerFunc) Handle(ctx context.Context, text, content, history string, deps Deps) (ActionResult, error) {
	return f(ctx, text, content, history, deps)
}

// Registry dispatches on (intent, language); lookups fall back to the
// registry's default language, then to the chat handler, so a single
// missing per-language handler never breaks a turn.
type Registry struct {
	handlers map[Name]map[chunker.Language]Handler
	fallback chunker.Language
}

// NewRegistry creates an empty registry defaulting unresolved languages to
// fallbackLang.
func NewRegistry(fallbackLang chunker.Language) *Registry {
	return &Registry{
		handlers: make(map[Name]map[chunker.Language]Handler),
		fallback: fallbackLang,
	}
}

// Register installs handler for the given (intent, language) pair.
func (r *Registry) Register(name Name, lang chunker.Language, h Handler) {
	byLang, ok := r.handlers[name]
	if !ok {
		byLang = make(map[chunker.Language]Handler)
		r.handlers[name] = byLang
	}
	byLang[lang] = h
}

// Resolve finds the handler for (name, lang), falling back to the
// registry's default language, then to the chat handler for name=Chat
// itself. Returns false only if no chat handler was ever registered.
func (r *Registry) Resolve(name Name, lang chunker.Language) (Handler, bool) {
	if byLang, ok := r.handlers[name]; ok {
		if h, ok := byLang[lang]; ok {
			return h, true
		}
		if h, ok := byLang[r.fallback]; ok {
			return h, true
		}
	}
	if name != Chat {
		return r.Resolve(Chat, lang)
	}
	return nil, false
}

// intentLinePattern matches the top-level classifier's required
// "intent: <name>\ncontent: <content>" grammar, tolerating surrounding
// whitespace and case.
var intentLinePattern = regexp.MustCompile(`(?i)intent\s*:\s*(\w+)`)
var contentLinePattern = regexp.MustCompile(`(?is)content\s*:\s*(.*)`)

// parseClassification extracts (intent, content) from the classifier's raw
// reply. If the grammar doesn't match, intent defaults to chat and content
// is the raw reply verbatim, per §4.5.
func parseClassification(raw string) (Name, string) {
	m := intentLinePattern.FindStringSubmatch(raw)
	if m == nil {
		return Chat, strings.TrimSpace(raw)
	}
	name := Name(strings.ToLower(m[1]))
	switch name {
	case Alarm, Control, Music, Weather, News, Story, Joke, Chat:
	default:
		return Chat, strings.TrimSpace(raw)
	}
	content := raw
	if cm := contentLinePattern.FindStringSubmatch(raw); cm != nil {
		content = strings.TrimSpace(cm[1])
	}
	return name, content
}
