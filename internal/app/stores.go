package app

import (
	"context"
	"time"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
)

// SessionStore abstracts how sessions are persisted (in-memory, Postgres).
// Get and FindOpen return (nil, nil) when nothing matches.
type SessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	// FindOpen returns the participant's single active or paused session.
	FindOpen(ctx context.Context, participantID string) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
	// ApplyAnswer atomically adds the score delta, replaces the streak, sets
	// the phase, and bumps activity time in one logical update. Returns the
	// resulting total score.
	ApplyAnswer(ctx context.Context, sessionID string, delta, streak int, phase domain.SessionPhase, at time.Time) (int, error)
	// CompletedEntries returns unranked leaderboard rows for completed sessions.
	CompletedEntries(ctx context.Context) ([]domain.LeaderboardEntry, error)
}

// SessionQuestionStore persists question instances bound to sessions.
type SessionQuestionStore interface {
	Create(ctx context.Context, q *domain.SessionQuestion) error
	// GetByOrder is the idempotency key lookup: (sessionID, orderInSession).
	GetByOrder(ctx context.Context, sessionID string, order int) (*domain.SessionQuestion, error)
	// MarkAnswered writes the one-shot answer outcome. Returns false without
	// writing when the question was already answered.
	MarkAnswered(ctx context.Context, id, userAnswer string, correct bool, points int, responseTimeMs int64) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error)
}

// AuditStore records the immutable per-tool audit trail.
type AuditStore interface {
	Append(ctx context.Context, rec *domain.AuditRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]domain.AuditRecord, error)
}

// Catalog serves the ordered question list. QuestionAt is 1-based and returns
// (nil, nil) past the end so callers can distinguish exhaustion from failure.
type Catalog interface {
	QuestionAt(ctx context.Context, order int) (*domain.Question, error)
	Count(ctx context.Context) (int, error)
}
