package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a tool names a session that does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRequired is returned when a session-scoped tool is called without a session id.
	ErrSessionRequired = errors.New("session id required")
	// ErrNotSessionOwner is returned when the acting user does not own the session.
	ErrNotSessionOwner = errors.New("session not owned by caller")
	// ErrSessionTerminal is returned when a completed or abandoned session receives a tool call.
	ErrSessionTerminal = errors.New("session already terminal")
	// ErrSessionPaused is returned while a session awaits reconnection.
	ErrSessionPaused = errors.New("session paused; reconnect to resume")
	// ErrQuestionsExhausted signals that all catalog questions have been served;
	// callers should finish the quiz rather than retry.
	ErrQuestionsExhausted = errors.New("all questions exhausted")
	// ErrQuestionNotFound indicates a missing catalog or session question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrTimingIncomplete is returned when scoring is requested before the
	// timeline holds both tts_end and answer_received.
	ErrTimingIncomplete = errors.New("timing data incomplete")
	// ErrRateLimited is returned when a per-session tool is invoked too frequently.
	ErrRateLimited = errors.New("tool rate limited for session")
	// ErrRecoveryExhausted is returned when the reconnection attempt cap is hit.
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")
)

// ValidationError reports a malformed or missing tool argument. It is raised
// before any persistence happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

// PhaseError reports a tool call issued outside its allowed session phases.
type PhaseError struct {
	Tool    string
	Phase   SessionPhase
	Allowed []SessionPhase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("tool %s not allowed in phase %s (allowed: %v)", e.Tool, e.Phase, e.Allowed)
}

// IntegrityError reports a recovery-time inconsistency in recorded state.
type IntegrityError struct {
	SessionID string
	Issues    []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("session %s failed integrity check: %v", e.SessionID, e.Issues)
}
