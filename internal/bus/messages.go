// Package bus carries the coordinator's message vocabulary across
// process boundaries. Delivery is at-most-once per send with no ordering
// guarantee across distinct senders.
package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeUserCommandStarted Type = "USER_COMMAND_STARTED"
	TypeUserCommandResult  Type = "USER_COMMAND_RESULT"

	TypeAudioCaptureStarted Type = "AUDIO_CAPTURE_STARTED"
	TypeAudioCaptureStopped Type = "AUDIO_CAPTURE_STOPPED"
	TypeAudioCaptureError   Type = "AUDIO_CAPTURE_ERROR"

	TypeSpeechRecognitionStarted Type = "SPEECH_RECOGNITION_STARTED"
	TypeSpeechRecognitionEnded   Type = "SPEECH_RECOGNITION_ENDED"
	TypeSpeechRecognitionError   Type = "SPEECH_RECOGNITION_ERROR"

	TypeVoiceActivityDetected Type = "VOICE_ACTIVITY_DETECTED"

	TypeStartListening Type = "START_LISTENING"
	TypeStopListening  Type = "STOP_LISTENING"

	TypeCopilotStart Type = "COPILOT_START"
	TypeCopilotStop  Type = "COPILOT_STOP"
)

// Message is the JSON envelope on the wire.
type Message struct {
	ID        uuid.UUID       `json:"id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload accompanies the *_ERROR message types.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ResultPayload accompanies USER_COMMAND_RESULT.
type ResultPayload struct {
	Transcript string `json:"transcript"`
}

// New builds a stamped message. A nil payload is omitted from the
// envelope; marshal failures cannot happen for the small payload structs
// used here, so they only surface as an empty payload.
func New(t Type, payload any) Message {
	msg := Message{
		ID:        uuid.New(),
		Type:      t,
		Timestamp: time.Now(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			msg.Payload = raw
		}
	}
	return msg
}

// DecodePayload unmarshals the payload into out.
func (m Message) DecodePayload(out any) error {
	return json.Unmarshal(m.Payload, out)
}
