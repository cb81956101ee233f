// Package recognition wraps a streaming speech-to-text engine behind a
// small state machine with a retry policy over the engine's error
// taxonomy.
package recognition

import (
	"errors"
	"time"
)

// ErrEngineUnavailable is the configuration error for a context with no
// usable engine. Terminal: reported once upstream, never retried.
var ErrEngineUnavailable = errors.New("speech recognition engine unavailable")

// ErrAlreadyListening is returned when a start is attempted while an
// engine run is active.
var ErrAlreadyListening = errors.New("recognition already listening")

// Config mirrors the engine-facing recognition settings. Only the session
// mutates it, and only between engine runs: an engine cannot be
// reconfigured mid-utterance.
type Config struct {
	Continuous      bool
	InterimResults  bool
	Locale          string
	MaxAlternatives int
}

// ErrorCode is the engine's error taxonomy. Codes outside the named set
// fall under the default retry policy.
type ErrorCode string

const (
	ErrNoSpeech     ErrorCode = "no-speech"
	ErrAborted      ErrorCode = "aborted"
	ErrNotAllowed   ErrorCode = "not-allowed"
	ErrAudioCapture ErrorCode = "audio-capture"
	ErrNetwork      ErrorCode = "network"
)

// Fatal reports whether a code ends the engine instance rather than being
// retried.
func (c ErrorCode) Fatal() bool {
	return c == ErrNotAllowed || c == ErrAudioCapture
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventResult
	EventError
	EventEnd
)

// Result is one recognition fragment within a result event.
type Result struct {
	Text  string
	Final bool
}

// Event is a lifecycle or result notification from the engine. After
// Start, an engine emits Started, any number of Result/Error events, and
// exactly one End once it has fully stopped.
type Event struct {
	Kind    EventKind
	Results []Result
	Code    ErrorCode
	Message string
	At      time.Time
}

// Engine is the platform speech-to-text engine boundary.
type Engine interface {
	// Start begins a recognition run with the given config. It fails if a
	// run is already active.
	Start(cfg Config) error
	// Stop requests a graceful stop. The run is only over once the End
	// event arrives; callers needing a clean restart must wait for it.
	Stop()
	// Abort tears the run down immediately; the engine reports an
	// "aborted" error followed by End.
	Abort()
	// Events delivers engine events. The channel is owned by the engine
	// and persists across runs.
	Events() <-chan Event
}
