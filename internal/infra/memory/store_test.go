package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
)

func TestMarkAnsweredOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.Questions().Create(ctx, &domain.SessionQuestion{
		ID: "sq1", SessionID: "s1", QuestionID: "q1", OrderInSession: 1,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := store.Questions().MarkAnswered(ctx, "sq1", "geri dönüşüm", true, 15, 2400)
	if err != nil || !applied {
		t.Fatalf("first mark: applied=%v err=%v", applied, err)
	}
	applied, err = store.Questions().MarkAnswered(ctx, "sq1", "something else", false, 0, 99)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if applied {
		t.Fatalf("second mark must not apply")
	}

	q, _ := store.Questions().GetByOrder(ctx, "s1", 1)
	if q.UserAnswer != "geri dönüşüm" || !q.IsCorrect || q.PointsEarned != 15 {
		t.Fatalf("first outcome must win: %+v", q)
	}
	if q.ResponseTimeMs == nil || *q.ResponseTimeMs != 2400 {
		t.Fatalf("expected stored response time 2400, got %v", q.ResponseTimeMs)
	}
}

func TestFindOpenSkipsTerminalSessions(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	done := now.Add(time.Hour)
	if err := store.Sessions().Create(ctx, &domain.Session{
		ID: "old", ParticipantID: "u1", Status: domain.StatusCompleted,
		Phase: domain.PhasePostScore, StartedAt: now, CompletedAt: &done, LastActivityAt: done,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if open, _ := store.Sessions().FindOpen(ctx, "u1"); open != nil {
		t.Fatalf("completed session must not count as open: %+v", open)
	}

	if err := store.Sessions().Create(ctx, &domain.Session{
		ID: "live", ParticipantID: "u1", Status: domain.StatusPaused,
		Phase: domain.PhaseAsking, StartedAt: done, LastActivityAt: done,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	open, _ := store.Sessions().FindOpen(ctx, "u1")
	if open == nil || open.ID != "live" {
		t.Fatalf("paused session counts as open, got %+v", open)
	}
}

func TestApplyAnswerAccumulates(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Sessions().Create(ctx, &domain.Session{
		ID: "s1", ParticipantID: "u1", Status: domain.StatusActive,
		Phase: domain.PhaseListening, StartedAt: now, LastActivityAt: now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	total, err := store.Sessions().ApplyAnswer(ctx, "s1", 15, 1, domain.PhasePostScore, now.Add(time.Minute))
	if err != nil || total != 15 {
		t.Fatalf("first apply: total=%d err=%v", total, err)
	}
	total, err = store.Sessions().ApplyAnswer(ctx, "s1", 22, 2, domain.PhasePostScore, now.Add(2*time.Minute))
	if err != nil || total != 37 {
		t.Fatalf("second apply: total=%d err=%v", total, err)
	}

	session, _ := store.Sessions().Get(ctx, "s1")
	if session.TotalScore != 37 || session.Streak != 2 || session.Phase != domain.PhasePostScore {
		t.Fatalf("unexpected session after apply: %+v", session)
	}
}

func TestEventStoreOneEventPerType(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Events().Append(ctx, &domain.TimingEvent{
		ID: "e1", SessionQuestionID: "sq1", Type: domain.EventTTSEnd, ServerTimestamp: now,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Events().Append(ctx, &domain.TimingEvent{
		ID: "e2", SessionQuestionID: "sq1", Type: domain.EventTTSEnd, ServerTimestamp: now.Add(time.Second),
	}); err == nil {
		t.Fatalf("duplicate event type must be rejected")
	}

	ev, err := store.Events().Find(ctx, "sq1", domain.EventTTSEnd)
	if err != nil || ev == nil || ev.ID != "e1" {
		t.Fatalf("expected original event, got %+v %v", ev, err)
	}
	if missing, _ := store.Events().Find(ctx, "sq1", domain.EventSpeechStart); missing != nil {
		t.Fatalf("absent event must be (nil, nil), got %+v", missing)
	}
}

func TestCompletedEntriesComputeAverages(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	done := now.Add(time.Hour)
	if err := store.Sessions().Create(ctx, &domain.Session{
		ID: "s1", ParticipantID: "u1", Status: domain.StatusCompleted,
		Phase: domain.PhasePostScore, TotalScore: 30,
		StartedAt: now, CompletedAt: &done, LastActivityAt: done,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i, rt := range []int64{2000, 4000} {
		q := &domain.SessionQuestion{
			ID: string(rune('a' + i)), SessionID: "s1", QuestionID: "q", OrderInSession: i + 1,
		}
		if err := store.Questions().Create(ctx, q); err != nil {
			t.Fatalf("create question: %v", err)
		}
		if _, err := store.Questions().MarkAnswered(ctx, q.ID, "x", true, 15, rt); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	entries, err := store.Sessions().CompletedEntries(ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries: %+v %v", entries, err)
	}
	if entries[0].AvgResponseMs == nil || *entries[0].AvgResponseMs != 3000 {
		t.Fatalf("expected average 3000ms, got %v", entries[0].AvgResponseMs)
	}
	if entries[0].Score != 30 || entries[0].ParticipantID != "u1" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}
