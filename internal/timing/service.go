package timing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
)

// EventStore is the durable, append-only timeline. Absence of an event is an
// expected state, reported as (nil, nil), not an error.
type EventStore interface {
	Append(ctx context.Context, ev *domain.TimingEvent) error
	Find(ctx context.Context, sessionQuestionID string, t domain.EventType) (*domain.TimingEvent, error)
	List(ctx context.Context, sessionQuestionID string) ([]domain.TimingEvent, error)
}

// DefaultDedupWindow bounds how close two identical signals must be to count
// as a retried duplicate.
const DefaultDedupWindow = time.Second

// Service owns the per-question timeline: it records server-authoritative
// events, swallows retried duplicates, and derives latency intervals.
type Service struct {
	events EventStore
	window time.Duration
	clock  func() time.Time

	mu     sync.Mutex
	recent map[dedupKey]dedupEntry
}

type dedupKey struct {
	sessionQuestionID string
	eventType         domain.EventType
}

type dedupEntry struct {
	eventID    string
	recordedAt time.Time
}

func NewService(events EventStore, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Service{
		events: events,
		window: window,
		clock:  time.Now,
		recent: make(map[dedupKey]dedupEntry),
	}
}

// NewServiceWithClock allows deterministic timestamps in tests.
func NewServiceWithClock(events EventStore, window time.Duration, now func() time.Time) *Service {
	s := NewService(events, window)
	s.clock = now
	return s
}

// RecordEvent appends one timeline fact using the server's own clock as the
// timestamp of record. The client timestamp is stored for diagnostics only.
// A second call for the same (sessionQuestion, eventType) is a no-op and
// returns the prior event id; the timeline holds at most one event per type.
func (s *Service) RecordEvent(ctx context.Context, sessionQuestionID string, eventType domain.EventType, clientTS *time.Time, metadata map[string]string) (string, error) {
	now := s.clock()
	key := dedupKey{sessionQuestionID: sessionQuestionID, eventType: eventType}

	s.mu.Lock()
	s.sweepLocked(now)
	if entry, ok := s.recent[key]; ok && now.Sub(entry.recordedAt) <= s.window {
		s.mu.Unlock()
		return entry.eventID, nil
	}
	s.mu.Unlock()

	// The cache is advisory; the durable timeline stays authoritative.
	if existing, err := s.events.Find(ctx, sessionQuestionID, eventType); err != nil {
		return "", err
	} else if existing != nil {
		s.remember(key, existing.ID, existing.ServerTimestamp)
		return existing.ID, nil
	}

	ev := &domain.TimingEvent{
		ID:                    uuid.NewString(),
		SessionQuestionID:     sessionQuestionID,
		Type:                  eventType,
		ServerTimestamp:       now,
		ClientSignalTimestamp: clientTS,
		Metadata:              metadata,
	}
	if err := s.events.Append(ctx, ev); err != nil {
		return "", err
	}
	s.remember(key, ev.ID, now)
	return ev.ID, nil
}

func (s *Service) remember(key dedupKey, eventID string, at time.Time) {
	s.mu.Lock()
	s.recent[key] = dedupEntry{eventID: eventID, recordedAt: at}
	s.mu.Unlock()
}

// sweepLocked drops expired entries opportunistically on the hot path; no
// background timer needed.
func (s *Service) sweepLocked(now time.Time) {
	for key, entry := range s.recent {
		if now.Sub(entry.recordedAt) > s.window {
			delete(s.recent, key)
		}
	}
}

// TimerStart is the authoritative moment the answer clock starts: the
// tts_end server timestamp. Nil means "not ready", never zero latency.
func (s *Service) TimerStart(ctx context.Context, sessionQuestionID string) (*time.Time, error) {
	ev, err := s.events.Find(ctx, sessionQuestionID, domain.EventTTSEnd)
	if err != nil || ev == nil {
		return nil, err
	}
	ts := ev.ServerTimestamp
	return &ts, nil
}

// ResponseTime is answer_received minus tts_end in milliseconds. Nil when
// either event is missing; this is a hard precondition for scoring.
func (s *Service) ResponseTime(ctx context.Context, sessionQuestionID string) (*int64, error) {
	ttsEnd, err := s.events.Find(ctx, sessionQuestionID, domain.EventTTSEnd)
	if err != nil || ttsEnd == nil {
		return nil, err
	}
	answered, err := s.events.Find(ctx, sessionQuestionID, domain.EventAnswerReceived)
	if err != nil || answered == nil {
		return nil, err
	}
	ms := answered.ServerTimestamp.Sub(ttsEnd.ServerTimestamp).Milliseconds()
	return &ms, nil
}
