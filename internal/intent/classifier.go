package intent

import (
	"context"
	"fmt"

	"github.com/vce-gateway/gateway/internal/chunker"
)

// classificationPrompt lists the eight target intents and the required
// output grammar. One prompt per language, grounded on the per-language
// system prompts original_source scatters across action_{en,es,zh}/*.
var classificationPrompt = map[chunker.Language]string{
	chunker.English: `Intent Classifier

Classify the user's utterance into exactly one of these intents:
- alarm: set, cancel, or list alarms/reminders
- control: operate a device (lights, volume, playback, screen, bluetooth, mode, microphone)
- music: play, search, or control music
- weather: ask about current or forecast weather
- news: ask for news headlines or summaries
- story: ask for a story
- joke: ask for a joke or riddle
- chat: anything else, including small talk and open questions

Output exactly two lines, nothing else:
intent: <one of alarm|control|music|weather|news|story|joke|chat>
content: <the user's request, rephrased as a short self-contained instruction>`,
	chunker.Chinese: `意图分类器

将用户的话分类到以下八种意图之一：
alarm（闹钟）、control（设备控制）、music（音乐）、weather（天气）、
news（新闻）、story（故事）、joke（笑话）、chat（闲聊，默认）。

只输出两行，不要输出其他内容：
intent: <alarm|control|music|weather|news|story|joke|chat 之一>
content: <用户请求，改写为简短独立的指令>`,
	chunker.Arabic: `مصنّف النوايا

صنّف طلب المستخدم إلى واحدة من ثماني نوايا بالضبط:
alarm وcontrol وmusic وweather وnews وstory وjoke وchat (الافتراضي).

أخرج سطرين فقط، بدون أي نص إضافي:
intent: <alarm|control|music|weather|news|story|joke|chat>
content: <طلب المستخدم، معاد صياغته كتعليمة قصيرة مستقلة>`,
}

// Detect runs the two-stage pipeline: classify, then dispatch to the
// registered handler for the resolved (intent, language) pair.
func Detect(ctx context.Context, reg *Registry, text, history string, lang chunker.Language, deps Deps) (Name, ActionResult, error) {
	prompt, ok := classificationPrompt[lang]
	if !ok {
		prompt = classificationPrompt[chunker.English]
	}

	raw, err := deps.LLM.QueryLite(ctx, deps.Engine, text, prompt)
	if err != nil {
		return Chat, ActionResult{}, fmt.Errorf("intent classify: %w", err)
	}

	name, content := parseClassification(raw)

	handler, ok := reg.Resolve(name, lang)
	if !ok {
		return name, ActionResult{UserPrompt: content}, nil
	}

	result, err := handler.Handle(ctx, text, content, history, deps)
	if err != nil {
		return name, ActionResult{}, fmt.Errorf("intent handle %s: %w", name, err)
	}
	return name, result, nil
}
