package app

import (
	"time"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
)

// ToolName enumerates the fixed tool catalog. The set is small by design and
// not user-extensible.
type ToolName string

const (
	ToolStartQuiz       ToolName = "start_quiz"
	ToolNextQuestion    ToolName = "next_question"
	ToolMarkTTSEnd      ToolName = "mark_tts_end"
	ToolMarkSpeechStart ToolName = "mark_speech_start"
	ToolSubmitAnswer    ToolName = "submit_answer"
	ToolFinishQuiz      ToolName = "finish_quiz"
)

// toolSpec is the static gate for one tool: whether it needs a session, the
// phases it may legally run in, whether duplicate calls are throttled, and
// its argument predicate. Execution itself lives in the engine's switch.
type toolSpec struct {
	requiresSession bool
	allowedPhases   []domain.SessionPhase
	rateLimited     bool
	validate        func(args map[string]any) error
}

var toolTable = map[ToolName]toolSpec{
	ToolStartQuiz: {
		validate: noArgs,
	},
	ToolNextQuestion: {
		requiresSession: true,
		allowedPhases:   []domain.SessionPhase{domain.PhaseGreeting, domain.PhasePostScore},
		validate:        noArgs,
	},
	// mark_tts_end stays legal in listening so a keyless retry after the
	// phase already moved lands on timeline dedup and acks the same event.
	ToolMarkTTSEnd: {
		requiresSession: true,
		allowedPhases:   []domain.SessionPhase{domain.PhaseAsking, domain.PhaseListening},
		rateLimited:     true,
		validate:        validateSignalArgs,
	},
	ToolMarkSpeechStart: {
		requiresSession: true,
		allowedPhases:   []domain.SessionPhase{domain.PhaseListening},
		rateLimited:     true,
		validate:        validateSignalArgs,
	},
	ToolSubmitAnswer: {
		requiresSession: true,
		allowedPhases:   []domain.SessionPhase{domain.PhaseListening},
		validate:        validateSubmitArgs,
	},
	ToolFinishQuiz: {
		requiresSession: true,
		allowedPhases:   []domain.SessionPhase{domain.PhaseGreeting, domain.PhasePostScore},
		validate:        noArgs,
	},
}

func phaseAllowed(spec toolSpec, phase domain.SessionPhase) bool {
	for _, p := range spec.allowedPhases {
		if p == phase {
			return true
		}
	}
	return false
}

func noArgs(map[string]any) error { return nil }

// validateSignalArgs accepts an optional RFC3339 client timestamp plus
// free-form string metadata such as confidence or VAD threshold.
func validateSignalArgs(args map[string]any) error {
	if raw, ok := args["clientTimestamp"]; ok {
		s, ok := raw.(string)
		if !ok {
			return &domain.ValidationError{Field: "clientTimestamp", Reason: "must be an RFC3339 string"}
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return &domain.ValidationError{Field: "clientTimestamp", Reason: "not a valid RFC3339 timestamp"}
		}
	}
	return nil
}

func validateSubmitArgs(args map[string]any) error {
	answer, ok := args["answer"].(string)
	if !ok || answer == "" {
		return &domain.ValidationError{Field: "answer", Reason: "required non-empty string"}
	}
	return validateSignalArgs(args)
}

// clientTimestamp extracts the advisory client clock value, if supplied.
// Validation already guaranteed the format.
func clientTimestamp(args map[string]any) *time.Time {
	s, ok := args["clientTimestamp"].(string)
	if !ok {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &ts
}

// signalMetadata copies the advisory string fields clients attach to timing
// signals (transcript, confidence, vadThreshold).
func signalMetadata(args map[string]any) map[string]string {
	var meta map[string]string
	for _, key := range []string{"transcript", "confidence", "vadThreshold"} {
		if v, ok := args[key].(string); ok && v != "" {
			if meta == nil {
				meta = make(map[string]string)
			}
			meta[key] = v
		}
	}
	return meta
}
