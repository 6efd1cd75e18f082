package actions

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/vce-gateway/gateway/internal/intent"
)

const chatSystemPrompt = `System Prompt: Family Voice Assistant

Role Definition:
- Identity: warm, caring family conversation partner.
- Style: natural, friendly, with a touch of playful charm and insightful responses.
- Goal: provide safe, concise, text-only responses suitable for all ages.

Interaction Guidelines:
- Use clear, natural language, avoiding slang and complex jargon.
- Read numbers fully (e.g. "twenty-five percent" for 25%).
- Keep responses concise (50-100 words), favoring short phrases.

Safety:
- Prohibit graphic symbols, special characters, and negative words.
- If unclear, respond humorously and ask for a repeat rather than refusing.`

const storySystemPrompt = `Storyteller Prompt Template

Role:
- You are a gentle storyteller for a family audience of all ages.

Requirements:
- Tell a short, complete story (roughly 150-250 words) with a clear beginning, middle, and end.
- Keep content warm, positive, and free of anything frightening, violent, or adult.
- If a theme or character is requested, honor it; otherwise favor animals, nature, or everyday family life.

Output:
- A single narrated story, no meta-commentary, no question-answer format.`

const jokeSystemPrompt = `Humorous Joke Generation Prompt Template

Role:
- You are a witty comedian, skilled at crafting short, joyful jokes.

Requirements:
- Content must be positive, avoiding offensive, sensitive, political, religious, or negative topics.
- Generate a cohesive joke, 50-100 words, 3-5 sentences, using puns, twists, or daily life scenarios.
- If a theme is specified, follow it; otherwise prioritize daily life or family themes.

Output:
- A complete joke, without question-answer format.`

var jokeTopics = []string{
	"programmers", "teachers", "cooking", "pets", "weekends", "siblings",
	"video games", "the weather", "school", "road trips", "robots", "sports",
}

// ChatHandler implements intent.Handler for chat and story — each
// composes a prompt packet and leaves streaming generation to the session,
// per §4.5.
type ChatHandler struct {
	SystemPrompt string
}

var _ intent.Handler = ChatHandler{}

func (h ChatHandler) Handle(ctx context.Context, text, content, history string, deps intent.Deps) (intent.ActionResult, error) {
	systemPrompt := h.SystemPrompt
	if deps.Knowledge != nil {
		if grounding, err := deps.Knowledge.RetrieveContext(ctx, text); err != nil {
			slog.Warn("chat: knowledge retrieval failed", "error", err)
		} else if grounding != "" {
			systemPrompt = fmt.Sprintf("%s\n\nRelevant background (use only if helpful, never mention its source):\n%s", h.SystemPrompt, grounding)
		}
	}
	return intent.ActionResult{
		UserPrompt:   fmt.Sprintf("Current time: %s\nInput: %s", time.Now().Format(time.RFC3339), text),
		SystemPrompt: systemPrompt,
	}, nil
}

// NewChatHandler returns the default chat/small-talk handler.
func NewChatHandler() ChatHandler { return ChatHandler{SystemPrompt: chatSystemPrompt} }

// NewStoryHandler returns the storytelling handler.
func NewStoryHandler() ChatHandler { return ChatHandler{SystemPrompt: storySystemPrompt} }

// JokeHandler builds its own prompt packet and picks a random topic when the
// classifier didn't extract one, grounded on original_source's
// ActionJoke.joke_topics. It does no knowledge retrieval.
type JokeHandler struct{}

var _ intent.Handler = JokeHandler{}

func (JokeHandler) Handle(ctx context.Context, text, content, history string, deps intent.Deps) (intent.ActionResult, error) {
	if content == "" || content == "unknown" {
		topic := jokeTopics[rand.Intn(len(jokeTopics))]
		text = fmt.Sprintf("Please tell me a joke about %s", topic)
	}
	return intent.ActionResult{
		UserPrompt:   fmt.Sprintf("Current time: %s\nInput: %s", time.Now().Format(time.RFC3339), text),
		SystemPrompt: jokeSystemPrompt,
	}, nil
}
