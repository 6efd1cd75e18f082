// Package proto implements the client-facing WebSocket wire protocol of §6:
// a tagged-union JSON event envelope, the closed set of client→server and
// server→client event types, and the structured Command payload emitted by
// short-circuited intent actions.
//
// Grounded on the original_source's backend/common/wscore/coze/models.py
// WebsocketsEvent/WebsocketsEventType and ctrl/Command, reshaped as plain Go
// structs per §9's "tagged union, not a class hierarchy" design note.
package proto

import "encoding/json"

// EventType is the closed set of event discriminants from §6.
type EventType string

const (
	// Client -> server
	EventChatUpdate                   EventType = "chat.update"
	EventInputAudioBufferAppend       EventType = "input_audio_buffer.append"
	EventInputAudioBufferComplete     EventType = "input_audio_buffer.complete"
	EventConversationChatCancel       EventType = "conversation.chat.cancel"
	EventConversationChatSubmitTools  EventType = "conversation.chat.submit_tool_outputs"
	EventConversationMessageCreate    EventType = "conversation.message.create"
	EventSpeechUpdate                 EventType = "speech.update"
	EventInputTextBufferAppend        EventType = "input_text_buffer.append"
	EventInputTextBufferComplete      EventType = "input_text_buffer.complete"
	EventTranscriptionsUpdate         EventType = "transcriptions.update"

	// Server -> client
	EventChatCreated                       EventType = "chat.created"
	EventChatUpdated                       EventType = "chat.updated"
	EventConversationChatCreated           EventType = "conversation.chat.created"
	EventConversationChatInProgress        EventType = "conversation.chat.in_progress"
	EventConversationChatRequiresAction    EventType = "conversation.chat.requires_action"
	EventConversationChatCompleted         EventType = "conversation.chat.completed"
	EventConversationChatCanceled          EventType = "conversation.chat.canceled"
	EventConversationMessageDelta          EventType = "conversation.message.delta"
	EventConversationMessageCompleted      EventType = "conversation.message.completed"
	EventConversationAudioTranscriptUpdate EventType = "conversation.audio_transcript.update"
	EventConversationAudioTranscriptDone   EventType = "conversation.audio_transcript.completed"
	EventConversationAudioTranscriptVAD    EventType = "conversation.audio_transcript.vad"
	EventConversationAudioURL             EventType = "conversation.audio.url"
	EventConversationAudioDelta           EventType = "conversation.audio.delta"
	EventConversationAudioCompleted       EventType = "conversation.audio.completed"
	EventInputAudioBufferCompleted        EventType = "input_audio_buffer.completed"
	EventSpeechCreated                    EventType = "speech.created"
	EventSpeechAudioURL                   EventType = "speech.audio.url"
	EventSpeechAudioUpdate                EventType = "speech.audio.update"
	EventSpeechAudioCompleted             EventType = "speech.audio.completed"
	EventTranscriptionsCreated            EventType = "transcriptions.created"
	EventTranscriptionsVAD                EventType = "transcriptions.vad"
	EventTranscriptionsMessageUpdate      EventType = "transcriptions.message.update"
	EventTranscriptionsMessageCompleted   EventType = "transcriptions.message.completed"
	EventError                            EventType = "error"
)

// Detail carries the opaque per-event log correlation id.
type Detail struct {
	LogID string `json:"logid,omitempty"`
}

// Envelope is the wire shape every event, in either direction, is framed in.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	EventType EventType       `json:"event_type"`
	Detail    *Detail         `json:"detail,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New builds an Envelope with data marshaled into the Data field.
func New(eventType EventType, logID string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	var det *Detail
	if logID != "" {
		det = &Detail{LogID: logID}
	}
	return Envelope{EventType: eventType, Detail: det, Data: raw}, nil
}
