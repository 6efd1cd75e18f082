package proto

// ChatConfig is the body of a chat.update event's data.chat_config.
type ChatConfig struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// ChatUpdateData is chat.update's data payload.
type ChatUpdateData struct {
	ChatConfig   ChatConfig `json:"chat_config"`
	InputAudio   *InputAudio `json:"input_audio,omitempty"`
	OutputAudio  *OutputAudio `json:"output_audio,omitempty"`
}

// InputAudio describes the upstream audio format, mirroring the
// original_source's InputAudio model.
type InputAudio struct {
	Format     string `json:"format,omitempty"`
	Codec      string `json:"codec,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channel    int    `json:"channel,omitempty"`
	BitDepth   int    `json:"bit_depth,omitempty"`
}

// OutputAudio describes the downstream synthesis voice/encoding.
type OutputAudio struct {
	Codec       string  `json:"codec,omitempty"`
	SpeechRate  int     `json:"speech_rate,omitempty"`
	VoiceID     string  `json:"voice_id,omitempty"`
	SampleRate  int     `json:"sample_rate,omitempty"`
}

// AudioBufferAppendData is input_audio_buffer.append's data payload.
type AudioBufferAppendData struct {
	Delta string `json:"delta"` // base64(PCM)
}

// TextBufferAppendData is input_text_buffer.append's data payload.
type TextBufferAppendData struct {
	Delta string `json:"delta"`
}

// SubmitToolOutputsData is conversation.chat.submit_tool_outputs's payload.
type SubmitToolOutputsData struct {
	ChatID      string       `json:"chat_id"`
	ToolOutputs []ToolOutput `json:"tool_outputs"`
}

// ToolOutput is one entry of SubmitToolOutputsData.ToolOutputs.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// MessageCreateData is conversation.message.create's data payload.
type MessageCreateData struct {
	Role        string `json:"role"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

// ErrorData is the error event's payload.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TextData carries a plain text increment, used by conversation.message.delta
// and conversation.audio_transcript.update/completed.
type TextData struct {
	Content string `json:"content"`
}

// VADData carries the boolean speech_active transition for
// conversation.audio_transcript.vad.
type VADData struct {
	Content bool `json:"content"`
}

// AudioURLData is conversation.audio.url / speech.audio.url's payload; Content
// has the form "<uid>.<tts_request_id>" per §6.
type AudioURLData struct {
	Content string `json:"content"`
}

// AudioDeltaData carries a base64-encoded audio chunk.
type AudioDeltaData struct {
	Delta string `json:"delta"`
}

// MessageCompletedData is conversation.message.completed's payload: the full
// assistant text plus, if the turn was short-circuited by an intent action,
// the structured Command.
type MessageCompletedData struct {
	Content  string   `json:"content"`
	MetaData *Command `json:"meta_data,omitempty"`
}
