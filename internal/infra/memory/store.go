package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
)

// Store is the in-memory implementation of every persistence interface the
// engine and recovery service consume. It is the default backend for tests
// and single-node development; Postgres is the durable counterpart.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]domain.Session
	questions map[string]domain.SessionQuestion
	qByOrder  map[string]string // sessionID|order -> question id
	events    map[string][]domain.TimingEvent // by session-question id
	audits    map[string][]domain.AuditRecord // by session id
}

func NewStore() *Store {
	return &Store{
		sessions:  make(map[string]domain.Session),
		questions: make(map[string]domain.SessionQuestion),
		qByOrder:  make(map[string]string),
		events:    make(map[string][]domain.TimingEvent),
		audits:    make(map[string][]domain.AuditRecord),
	}
}

// Sub-store views share the same data and lock.

func (s *Store) Sessions() *SessionStore   { return &SessionStore{s} }
func (s *Store) Questions() *QuestionStore { return &QuestionStore{s} }
func (s *Store) Events() *EventStore       { return &EventStore{s} }
func (s *Store) Audit() *AuditStore        { return &AuditStore{s} }

func orderKey(sessionID string, order int) string {
	return fmt.Sprintf("%s|%d", sessionID, order)
}

// SessionStore implements app.SessionStore and recovery.SessionStore.
type SessionStore struct{ store *Store }

func (s *SessionStore) Create(_ context.Context, sess *domain.Session) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, ok := s.store.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.store.sessions[sess.ID] = *sess
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	sess, ok := s.store.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *SessionStore) FindOpen(_ context.Context, participantID string) (*domain.Session, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	for _, sess := range s.store.sessions {
		if sess.ParticipantID == participantID && !sess.Status.Terminal() {
			found := sess
			return &found, nil
		}
	}
	return nil, nil
}

func (s *SessionStore) Save(_ context.Context, sess *domain.Session) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, ok := s.store.sessions[sess.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.store.sessions[sess.ID] = *sess
	return nil
}

func (s *SessionStore) ApplyAnswer(_ context.Context, sessionID string, delta, streak int, phase domain.SessionPhase, at time.Time) (int, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	sess, ok := s.store.sessions[sessionID]
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	sess.TotalScore += delta
	sess.Streak = streak
	sess.Phase = phase
	sess.LastActivityAt = at
	s.store.sessions[sessionID] = sess
	return sess.TotalScore, nil
}

func (s *SessionStore) CompletedEntries(_ context.Context) ([]domain.LeaderboardEntry, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	var entries []domain.LeaderboardEntry
	for _, sess := range s.store.sessions {
		if sess.Status != domain.StatusCompleted || sess.CompletedAt == nil {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			SessionID:     sess.ID,
			ParticipantID: sess.ParticipantID,
			Score:         sess.TotalScore,
			CompletedAt:   *sess.CompletedAt,
			AvgResponseMs: s.store.avgResponseLocked(sess.ID),
		})
	}
	return entries, nil
}

func (s *Store) avgResponseLocked(sessionID string) *int64 {
	var sum, count int64
	for _, q := range s.questions {
		if q.SessionID == sessionID && q.IsAnswered && q.ResponseTimeMs != nil {
			sum += *q.ResponseTimeMs
			count++
		}
	}
	if count == 0 {
		return nil
	}
	avg := sum / count
	return &avg
}

// QuestionStore implements app.SessionQuestionStore.
type QuestionStore struct{ store *Store }

func (s *QuestionStore) Create(_ context.Context, q *domain.SessionQuestion) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	key := orderKey(q.SessionID, q.OrderInSession)
	if _, ok := s.store.qByOrder[key]; ok {
		return fmt.Errorf("question order %d already served for session %s", q.OrderInSession, q.SessionID)
	}
	s.store.questions[q.ID] = *q
	s.store.qByOrder[key] = q.ID
	return nil
}

func (s *QuestionStore) GetByOrder(_ context.Context, sessionID string, order int) (*domain.SessionQuestion, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	id, ok := s.store.qByOrder[orderKey(sessionID, order)]
	if !ok {
		return nil, nil
	}
	q := s.store.questions[id]
	return &q, nil
}

func (s *QuestionStore) MarkAnswered(_ context.Context, id, userAnswer string, correct bool, points int, responseTimeMs int64) (bool, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	q, ok := s.store.questions[id]
	if !ok {
		return false, domain.ErrQuestionNotFound
	}
	if q.IsAnswered {
		return false, nil
	}
	q.IsAnswered = true
	q.UserAnswer = userAnswer
	q.IsCorrect = correct
	q.PointsEarned = points
	rt := responseTimeMs
	q.ResponseTimeMs = &rt
	s.store.questions[id] = q
	return true, nil
}

func (s *QuestionStore) ListBySession(_ context.Context, sessionID string) ([]domain.SessionQuestion, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	var questions []domain.SessionQuestion
	for _, q := range s.store.questions {
		if q.SessionID == sessionID {
			questions = append(questions, q)
		}
	}
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].OrderInSession < questions[j].OrderInSession
	})
	return questions, nil
}

// EventStore implements timing.EventStore and recovery.EventStore.
type EventStore struct{ store *Store }

func (s *EventStore) Append(_ context.Context, ev *domain.TimingEvent) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, existing := range s.store.events[ev.SessionQuestionID] {
		if existing.Type == ev.Type {
			return fmt.Errorf("event %s already recorded for %s", ev.Type, ev.SessionQuestionID)
		}
	}
	s.store.events[ev.SessionQuestionID] = append(s.store.events[ev.SessionQuestionID], *ev)
	return nil
}

func (s *EventStore) Find(_ context.Context, sessionQuestionID string, t domain.EventType) (*domain.TimingEvent, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	for _, ev := range s.store.events[sessionQuestionID] {
		if ev.Type == t {
			found := ev
			return &found, nil
		}
	}
	return nil, nil
}

func (s *EventStore) List(_ context.Context, sessionQuestionID string) ([]domain.TimingEvent, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	events := make([]domain.TimingEvent, len(s.store.events[sessionQuestionID]))
	copy(events, s.store.events[sessionQuestionID])
	sort.Slice(events, func(i, j int) bool {
		return events[i].ServerTimestamp.Before(events[j].ServerTimestamp)
	})
	return events, nil
}

// AuditStore implements app.AuditStore.
type AuditStore struct{ store *Store }

func (s *AuditStore) Append(_ context.Context, rec *domain.AuditRecord) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.audits[rec.SessionID] = append(s.store.audits[rec.SessionID], *rec)
	return nil
}

func (s *AuditStore) ListBySession(_ context.Context, sessionID string) ([]domain.AuditRecord, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	records := make([]domain.AuditRecord, len(s.store.audits[sessionID]))
	copy(records, s.store.audits[sessionID])
	return records, nil
}
