package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
)

// SessionStore is the slice of session persistence the recovery path needs.
type SessionStore interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
}

// SessionQuestionStore lists question instances for integrity checks.
type SessionQuestionStore interface {
	ListBySession(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error)
}

// EventStore lists the timeline of one session-question.
type EventStore interface {
	List(ctx context.Context, sessionQuestionID string) ([]domain.TimingEvent, error)
}

// Snapshotter builds the resume view handed to reconnecting clients.
type Snapshotter interface {
	Snapshot(ctx context.Context, sessionID string) (domain.SessionSnapshot, error)
}

// Presence marks session liveness in a shared store (Redis). Best effort:
// presence failures never fail recovery decisions.
type Presence interface {
	MarkActive(ctx context.Context, sessionID string) error
	MarkPaused(ctx context.Context, sessionID string) error
	Clear(ctx context.Context, sessionID string) error
}

// NopPresence is used when no Redis is configured.
type NopPresence struct{}

func (NopPresence) MarkActive(context.Context, string) error { return nil }
func (NopPresence) MarkPaused(context.Context, string) error { return nil }
func (NopPresence) Clear(context.Context, string) error      { return nil }

// Policy holds the recovery tunables. None of these are load-bearing
// correctness constraints.
type Policy struct {
	SessionTimeout time.Duration
	MaxAttempts    int
	MaxMinorIssues int
	MaxEventGap    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		SessionTimeout: 30 * time.Minute,
		MaxAttempts:    5,
		MaxMinorIssues: 2,
		MaxEventGap:    10 * time.Minute,
	}
}

// Suggested client actions attached to recovery results.
const (
	ActionResume  = "resume"
	ActionRestart = "restart"
)

// Service keeps disconnected sessions recoverable without letting either
// side rewrite history. It runs off the live request path.
type Service struct {
	sessions    SessionStore
	questions   SessionQuestionStore
	events      EventStore
	snapshotter Snapshotter
	presence    Presence
	policy      Policy
	metrics     *metricsRegistry
	logger      *zap.Logger
	clock       func() time.Time
}

func NewService(sessions SessionStore, questions SessionQuestionStore, events EventStore, snapshotter Snapshotter, presence Presence, policy Policy, logger *zap.Logger) *Service {
	if presence == nil {
		presence = NopPresence{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessions:    sessions,
		questions:   questions,
		events:      events,
		snapshotter: snapshotter,
		presence:    presence,
		policy:      policy,
		metrics:     newMetricsRegistry(),
		logger:      logger,
		clock:       time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.clock = now
	return s
}

// Result is the structured outcome of a reconnection attempt.
type Result struct {
	CanResume       bool                    `json:"canResume"`
	SuggestedAction string                  `json:"suggestedAction"`
	Issues          []string                `json:"issues,omitempty"`
	Snapshot        *domain.SessionSnapshot `json:"snapshot,omitempty"`
}

// IntegrityReport is the outcome of a session consistency check.
type IntegrityReport struct {
	IsValid    bool     `json:"isValid"`
	CanRecover bool     `json:"canRecover"`
	Issues     []string `json:"issues,omitempty"`
}

// ClientState is the client's view offered during sync. Only the activity
// hint is ever trusted; scores and progress are server property.
type ClientState struct {
	LastActivityAt       *time.Time `json:"lastActivityAt,omitempty"`
	TotalScore           int        `json:"totalScore"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
}

// HandleDisconnection pauses the session and records the disconnect. State
// is never deleted here.
func (s *Service) HandleDisconnection(ctx context.Context, sessionID, participantID, reason string) error {
	session, err := s.loadOwned(ctx, sessionID, participantID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return nil
	}

	now := s.clock()
	if session.Status != domain.StatusPaused {
		session.Status = domain.StatusPaused
		if err := s.sessions.Save(ctx, session); err != nil {
			return err
		}
	}
	s.metrics.recordDisconnect(sessionID, now)
	if err := s.presence.MarkPaused(ctx, sessionID); err != nil {
		s.logger.Warn("presence mark paused failed", zap.String("session", sessionID), zap.Error(err))
	}
	s.logger.Info("session paused on disconnect",
		zap.String("session", sessionID),
		zap.String("reason", reason))
	return nil
}

// AttemptReconnection validates the session and either resumes it or retires
// it. Policy outcomes are reported in the Result; errors are infrastructure.
func (s *Service) AttemptReconnection(ctx context.Context, sessionID, participantID string, attemptNumber int) (Result, error) {
	s.metrics.recordAttempt(sessionID)

	if attemptNumber > s.policy.MaxAttempts {
		return Result{
			SuggestedAction: ActionRestart,
			Issues:          []string{fmt.Sprintf("recovery attempt %d exceeds cap %d", attemptNumber, s.policy.MaxAttempts)},
		}, nil
	}

	session, err := s.loadOwned(ctx, sessionID, participantID)
	if err != nil {
		return Result{}, err
	}
	if session.Status.Terminal() {
		return Result{SuggestedAction: ActionRestart, Issues: []string{"session already terminal"}}, nil
	}

	now := s.clock()
	if now.Sub(session.LastActivityAt) > s.policy.SessionTimeout {
		// Irreversible: a timed-out session is retired so the participant
		// can start fresh.
		session.Status = domain.StatusAbandoned
		if err := s.sessions.Save(ctx, session); err != nil {
			return Result{}, err
		}
		if err := s.presence.Clear(ctx, sessionID); err != nil {
			s.logger.Warn("presence clear failed", zap.String("session", sessionID), zap.Error(err))
		}
		s.metrics.drop(sessionID)
		s.logger.Info("session abandoned after timeout", zap.String("session", sessionID))
		return Result{SuggestedAction: ActionRestart, Issues: []string{"session inactive beyond timeout"}}, nil
	}

	report, err := s.ValidateSessionIntegrity(ctx, sessionID, participantID)
	if err != nil {
		return Result{}, err
	}
	if !report.CanRecover {
		session.Status = domain.StatusAbandoned
		if err := s.sessions.Save(ctx, session); err != nil {
			return Result{}, err
		}
		s.metrics.drop(sessionID)
		return Result{SuggestedAction: ActionRestart, Issues: report.Issues}, nil
	}

	session.Status = domain.StatusActive
	session.LastActivityAt = now
	if err := s.sessions.Save(ctx, session); err != nil {
		return Result{}, err
	}
	s.metrics.recordRecovery(sessionID, now)
	if err := s.presence.MarkActive(ctx, sessionID); err != nil {
		s.logger.Warn("presence mark active failed", zap.String("session", sessionID), zap.Error(err))
	}

	snap, err := s.snapshotter.Snapshot(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("session resumed",
		zap.String("session", sessionID),
		zap.Int("attempt", attemptNumber),
		zap.Strings("issues", report.Issues))
	return Result{
		CanResume:       true,
		SuggestedAction: ActionResume,
		Issues:          report.Issues,
		Snapshot:        &snap,
	}, nil
}

// ValidateSessionIntegrity checks that the recorded state is internally
// consistent. Up to MaxMinorIssues issues still permit recovery; more force
// a restart. The threshold trades strictness for player experience.
func (s *Service) ValidateSessionIntegrity(ctx context.Context, sessionID, participantID string) (IntegrityReport, error) {
	session, err := s.loadOwned(ctx, sessionID, participantID)
	if err != nil {
		return IntegrityReport{}, err
	}

	var issues []string
	if session.Status.Terminal() {
		issues = append(issues, "session already terminal")
		return IntegrityReport{Issues: issues}, nil
	}

	questions, err := s.questions.ListBySession(ctx, sessionID)
	if err != nil {
		return IntegrityReport{}, err
	}
	if session.CurrentQuestionIndex > 0 && len(questions) == 0 {
		issues = append(issues, "in-progress session has no question records")
	}

	for _, q := range questions {
		events, err := s.events.List(ctx, q.ID)
		if err != nil {
			return IntegrityReport{}, err
		}
		sort.Slice(events, func(i, j int) bool {
			return events[i].ServerTimestamp.Before(events[j].ServerTimestamp)
		})
		issues = append(issues, timelineIssues(q.OrderInSession, events, s.policy.MaxEventGap)...)
	}

	return IntegrityReport{
		IsValid:    len(issues) == 0,
		CanRecover: len(issues) <= s.policy.MaxMinorIssues,
		Issues:     issues,
	}, nil
}

// timelineIssues flags negative or implausibly large gaps between the
// expected lifecycle order of one question's events.
func timelineIssues(order int, events []domain.TimingEvent, maxGap time.Duration) []string {
	var issues []string
	expected := map[domain.EventType]int{
		domain.EventTTSStart:       0,
		domain.EventTTSEnd:         1,
		domain.EventSpeechStart:    2,
		domain.EventAnswerReceived: 3,
	}
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if expected[cur.Type] < expected[prev.Type] {
			issues = append(issues, fmt.Sprintf("question %d: %s recorded after %s", order, cur.Type, prev.Type))
		}
		gap := cur.ServerTimestamp.Sub(prev.ServerTimestamp)
		if gap < 0 {
			issues = append(issues, fmt.Sprintf("question %d: negative gap between %s and %s", order, prev.Type, cur.Type))
		} else if maxGap > 0 && gap > maxGap {
			issues = append(issues, fmt.Sprintf("question %d: %s gap between %s and %s", order, gap, prev.Type, cur.Type))
		}
	}
	return issues
}

// SyncStateWithClient reconciles a client snapshot against server state.
// The server always wins; the client may only advance its own activity hint.
func (s *Service) SyncStateWithClient(ctx context.Context, sessionID, participantID string, client ClientState) (domain.SessionSnapshot, error) {
	session, err := s.loadOwned(ctx, sessionID, participantID)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}

	now := s.clock()
	if client.LastActivityAt != nil &&
		client.LastActivityAt.After(session.LastActivityAt) &&
		!client.LastActivityAt.After(now) {
		session.LastActivityAt = *client.LastActivityAt
		if err := s.sessions.Save(ctx, session); err != nil {
			return domain.SessionSnapshot{}, err
		}
	}

	return s.snapshotter.Snapshot(ctx, sessionID)
}

// Metrics returns the in-process counters for one session.
func (s *Service) Metrics(sessionID string) ConnectionMetrics {
	return s.metrics.snapshot(sessionID)
}

func (s *Service) loadOwned(ctx context.Context, sessionID, participantID string) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	if session.ParticipantID != participantID {
		return nil, domain.ErrNotSessionOwner
	}
	return session, nil
}
