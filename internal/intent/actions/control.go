package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vce-gateway/gateway/internal/intent"
	"github.com/vce-gateway/gateway/internal/proto"
)

const controlSystemPrompt = `Structured Control Command Processor

Role:
- Convert natural language to standardized JSON commands with device, action, value, raw_input.
- Output pure JSON only, no explanatory text.

Device Types: light, screen, bluetooth, volume, playback, mode, microphone

Action Types: on, off, adjust, pause, continue, next, prev, jump, set, mute, unmute, record, stop_record

Parameter Rules:
- Volume: integer 0-100 or signed delta (e.g. 5, -10); vague "a bit louder"/"a bit lower" map to 10/-10.
- Track: positive integer.
- Others: null.

Error Handling:
- Invalid input or conflicting commands: {"device":"invalid","action":null,"value":"invalid input","raw_input":"..."}

Examples:
- "Turn on bedroom light" -> {"device":"light","action":"on","value":null,"raw_input":"Turn on bedroom light"}
- "Set volume to 50%" -> {"device":"volume","action":"set","value":50,"raw_input":"Set volume to 50%"}
- "Next song" -> {"device":"playback","action":"next","value":null,"raw_input":"Next song"}`

type controlCommand struct {
	Device   string `json:"device"`
	Action   *string `json:"action"`
	Value    any    `json:"value"`
	RawInput string `json:"raw_input"`
}

// controlCommandSchema enforces the closed device/action vocabulary the
// controlSystemPrompt instructs the model to emit. Validating against a
// schema rather than Go maps lets the vocabulary double as documentation of
// the wire contract, and rejects malformed types (e.g. a numeric device)
// that would otherwise silently zero-value past json.Unmarshal.
var controlCommandSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["device"],
	"properties": {
		"device": {
			"type": "string",
			"enum": ["light", "screen", "bluetooth", "volume", "playback", "mode", "microphone"]
		},
		"action": {
			"enum": [null, "on", "off", "adjust", "pause", "continue", "next", "prev", "jump", "set", "mute", "unmute", "record", "stop_record"]
		}
	}
}`)

// ControlHandler implements intent.Handler for the control intent.
type ControlHandler struct{}

var _ intent.Handler = ControlHandler{}

func (ControlHandler) Handle(ctx context.Context, text, content, history string, deps intent.Deps) (intent.ActionResult, error) {
	raw, err := deps.LLM.QueryLite(ctx, deps.Engine, fmt.Sprintf("Current time: %s\nUser query: %s", time.Now().Format(time.RFC3339), text), controlSystemPrompt)
	if err != nil {
		return intent.ActionResult{}, fmt.Errorf("control action llm: %w", err)
	}
	return handleControlResponse(raw), nil
}

func handleControlResponse(raw string) intent.ActionResult {
	invalid := func(reason string) intent.ActionResult {
		cmd := proto.BuildCommand(proto.CommandControl, "invalid", map[string]any{})
		return intent.ActionResult{UserPrompt: reason, MetaData: &cmd}
	}

	var single controlCommand
	if err := json.Unmarshal([]byte(raw), &single); err == nil && single.Device != "" {
		if !validControl(single) {
			return invalid("Command not recognized. Please try again.")
		}
		cmd := proto.BuildCommand(proto.CommandControl, "list", map[string]any{"commands": []controlCommand{single}})
		return intent.ActionResult{UserPrompt: "Command dispatched", MetaData: &cmd}
	}

	var list []controlCommand
	if err := json.Unmarshal([]byte(raw), &list); err == nil && len(list) > 0 {
		for _, c := range list {
			if !validControl(c) {
				return invalid("Command not recognized. Please try again.")
			}
		}
		cmd := proto.BuildCommand(proto.CommandControl, "list", map[string]any{"commands": list})
		return intent.ActionResult{UserPrompt: "Command dispatched", MetaData: &cmd}
	}

	return invalid("Command not recognized. Please try again.")
}

func validControl(c controlCommand) bool {
	doc, err := json.Marshal(c)
	if err != nil {
		return false
	}
	result, err := gojsonschema.Validate(controlCommandSchema, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return false
	}
	return result.Valid()
}
