// Package wake classifies transcripts for wake and sleep phrases. Pure
// functions, no state: duplicate-fire suppression across interim/final
// variants of one utterance is the coordinator's latch, not ours.
package wake

import "strings"

var wakePhrases = []string{
	"hey copilot",
	"ok copilot",
	"copilot",
}

var sleepPhrases = []string{
	"copilot stop",
	"stop copilot",
	"copilot exit",
	"copilot sleep",
}

// Class is the outcome of classifying one transcript.
type Class int

const (
	None Class = iota
	Wake
	Sleep
)

func (c Class) String() string {
	switch c {
	case Wake:
		return "wake"
	case Sleep:
		return "sleep"
	default:
		return "none"
	}
}

// IsWake reports whether the transcript contains a wake phrase.
func IsWake(transcript string) bool {
	return matchAny(transcript, wakePhrases)
}

// IsSleep reports whether the transcript contains a sleep phrase.
func IsSleep(transcript string) bool {
	return matchAny(transcript, sleepPhrases)
}

// Classify returns at most one class per transcript. Wake takes priority
// and short-circuits the sleep check: "copilot stop" heard cold is still
// addressed speech, and the coordinator only consults sleep while a
// command is already latched.
func Classify(transcript string) Class {
	if IsWake(transcript) {
		return Wake
	}
	if IsSleep(transcript) {
		return Sleep
	}
	return None
}

func matchAny(transcript string, phrases []string) bool {
	lower := strings.ToLower(transcript)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
