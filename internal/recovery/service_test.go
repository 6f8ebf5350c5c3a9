package recovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ahmetmnr/dogalast-sub000/internal/app"
	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
	"github.com/ahmetmnr/dogalast-sub000/internal/infra/memory"
	"github.com/ahmetmnr/dogalast-sub000/internal/recovery"
	"github.com/ahmetmnr/dogalast-sub000/internal/timing"
)

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService() (*recovery.Service, *memory.Store, *fakeClock) {
	clock := newFakeClock()
	store := memory.NewStore()
	catalog := app.NewCachedCatalog(app.NewStaticCatalogLoader([]domain.Question{
		{ID: "q1", Prompt: "Atık nereye gider?", Answer: "geri dönüşüm", BasePoints: 10, TimeLimitMs: 10_000, Difficulty: 1},
	}), time.Minute)
	timingSvc := timing.NewServiceWithClock(store.Events(), timing.DefaultDedupWindow, clock.Now)
	engine := app.NewEngine(store.Sessions(), store.Questions(), store.Audit(), catalog, timingSvc, app.DefaultConfig(), nil).WithClock(clock.Now)
	svc := recovery.NewService(store.Sessions(), store.Questions(), store.Events(), engine, recovery.NopPresence{}, recovery.DefaultPolicy(), nil).WithClock(clock.Now)
	return svc, store, clock
}

func seedSession(t *testing.T, store *memory.Store, clock *fakeClock, status domain.SessionStatus) *domain.Session {
	t.Helper()
	session := &domain.Session{
		ID:             "s1",
		ParticipantID:  "u1",
		Status:         status,
		Phase:          domain.PhaseGreeting,
		StartedAt:      clock.Now(),
		LastActivityAt: clock.Now(),
	}
	if err := store.Sessions().Create(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestDisconnectPausesWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService()
	seedSession(t, store, clock, domain.StatusActive)

	if err := svc.HandleDisconnection(ctx, "s1", "u1", "socket closed"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	session, _ := store.Sessions().Get(ctx, "s1")
	if session == nil || session.Status != domain.StatusPaused {
		t.Fatalf("expected paused session, got %+v", session)
	}
	if m := svc.Metrics("s1"); m.Disconnections != 1 {
		t.Fatalf("expected one disconnect recorded, got %+v", m)
	}

	// A second drop while already paused is harmless.
	if err := svc.HandleDisconnection(ctx, "s1", "u1", "flaky network"); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if m := svc.Metrics("s1"); m.Disconnections != 2 {
		t.Fatalf("expected two disconnects recorded, got %+v", m)
	}
}

func TestReconnectionResumes(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService()
	seedSession(t, store, clock, domain.StatusActive)

	if err := svc.HandleDisconnection(ctx, "s1", "u1", "socket closed"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	clock.Advance(time.Minute)
	result, err := svc.AttemptReconnection(ctx, "s1", "u1", 1)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !result.CanResume || result.SuggestedAction != recovery.ActionResume {
		t.Fatalf("expected resume, got %+v", result)
	}
	if result.Snapshot == nil || result.Snapshot.Session.ID != "s1" {
		t.Fatalf("expected snapshot in result, got %+v", result.Snapshot)
	}

	session, _ := store.Sessions().Get(ctx, "s1")
	if session.Status != domain.StatusActive {
		t.Fatalf("expected active session after resume, got %s", session.Status)
	}
	m := svc.Metrics("s1")
	if m.SuccessfulRecoveries != 1 || m.CumulativeDowntime != time.Minute {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestReconnectionTimeoutAbandons(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService()
	seedSession(t, store, clock, domain.StatusPaused)

	clock.Advance(40 * time.Minute)
	result, err := svc.AttemptReconnection(ctx, "s1", "u1", 1)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if result.CanResume || result.SuggestedAction != recovery.ActionRestart {
		t.Fatalf("timed-out session must force restart, got %+v", result)
	}

	session, _ := store.Sessions().Get(ctx, "s1")
	if session.Status != domain.StatusAbandoned {
		t.Fatalf("expected abandoned session, got %s", session.Status)
	}

	// Abandonment is irreversible.
	again, err := svc.AttemptReconnection(ctx, "s1", "u1", 2)
	if err != nil {
		t.Fatalf("second reconnect: %v", err)
	}
	if again.CanResume || again.SuggestedAction != recovery.ActionRestart {
		t.Fatalf("terminal session must stay restart-only, got %+v", again)
	}
}

func TestReconnectionAttemptCap(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService()
	seedSession(t, store, clock, domain.StatusPaused)

	result, err := svc.AttemptReconnection(ctx, "s1", "u1", 6)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if result.CanResume || result.SuggestedAction != recovery.ActionRestart {
		t.Fatalf("capped attempt must suggest restart, got %+v", result)
	}
	// The cap decision alone does not retire the session.
	session, _ := store.Sessions().Get(ctx, "s1")
	if session.Status != domain.StatusPaused {
		t.Fatalf("session must be untouched by the cap, got %s", session.Status)
	}
}

func TestIntegrityMinorIssuesStillRecoverable(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService()
	session := seedSession(t, store, clock, domain.StatusPaused)
	session.CurrentQuestionIndex = 1 // in progress, but no question records
	if err := store.Sessions().Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}

	report, err := svc.ValidateSessionIntegrity(ctx, "s1", "u1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.IsValid {
		t.Fatalf("expected integrity issue, got valid report")
	}
	if !report.CanRecover || len(report.Issues) != 1 {
		t.Fatalf("one issue must stay recoverable: %+v", report)
	}

	result, err := svc.AttemptReconnection(ctx, "s1", "u1", 1)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !result.CanResume || len(result.Issues) != 1 {
		t.Fatalf("expected resume with reported issue, got %+v", result)
	}
}

func TestIntegrityCorruptTimelineForcesRestart(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService()
	session := seedSession(t, store, clock, domain.StatusPaused)
	session.CurrentQuestionIndex = 1
	if err := store.Sessions().Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Questions().Create(ctx, &domain.SessionQuestion{
		ID: "sq1", SessionID: "s1", QuestionID: "q1", OrderInSession: 1,
	}); err != nil {
		t.Fatalf("create question: %v", err)
	}

	// The lifecycle recorded fully backwards: three ordering violations.
	base := clock.Now()
	for i, typ := range []domain.EventType{
		domain.EventAnswerReceived,
		domain.EventSpeechStart,
		domain.EventTTSEnd,
		domain.EventTTSStart,
	} {
		if err := store.Events().Append(ctx, &domain.TimingEvent{
			ID: string(typ), SessionQuestionID: "sq1", Type: typ,
			ServerTimestamp: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}

	report, err := svc.ValidateSessionIntegrity(ctx, "s1", "u1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.CanRecover {
		t.Fatalf("three ordering issues must not be recoverable: %+v", report)
	}

	result, err := svc.AttemptReconnection(ctx, "s1", "u1", 1)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if result.CanResume || result.SuggestedAction != recovery.ActionRestart {
		t.Fatalf("corrupt session must force restart, got %+v", result)
	}
	stored, _ := store.Sessions().Get(ctx, "s1")
	if stored.Status != domain.StatusAbandoned {
		t.Fatalf("expected abandoned session, got %s", stored.Status)
	}
}

func TestSyncServerWins(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService()
	seedSession(t, store, clock, domain.StatusActive)

	clock.Advance(10 * time.Minute)

	// A plausible client activity hint advances the server value.
	hint := clock.Now().Add(-5 * time.Minute)
	snap, err := svc.SyncStateWithClient(ctx, "s1", "u1", recovery.ClientState{
		LastActivityAt:       &hint,
		TotalScore:           9999, // never trusted
		CurrentQuestionIndex: 42,
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !snap.Session.LastActivityAt.Equal(hint) {
		t.Fatalf("expected activity hint applied, got %v", snap.Session.LastActivityAt)
	}
	if snap.Session.TotalScore != 0 || snap.Session.CurrentQuestionIndex != 0 {
		t.Fatalf("client score and progress must be ignored: %+v", snap.Session)
	}

	// Hints in the future or behind the server value are dropped.
	future := clock.Now().Add(time.Hour)
	snap, err = svc.SyncStateWithClient(ctx, "s1", "u1", recovery.ClientState{LastActivityAt: &future})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if snap.Session.LastActivityAt.Equal(future) {
		t.Fatalf("future hint must be rejected")
	}
	stale := hint.Add(-time.Hour)
	snap, err = svc.SyncStateWithClient(ctx, "s1", "u1", recovery.ClientState{LastActivityAt: &stale})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if snap.Session.LastActivityAt.Equal(stale) {
		t.Fatalf("stale hint must be rejected")
	}
}

func TestRecoveryRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService()
	seedSession(t, store, clock, domain.StatusActive)

	if err := svc.HandleDisconnection(ctx, "s1", "u2", "socket closed"); !errors.Is(err, domain.ErrNotSessionOwner) {
		t.Fatalf("expected ownership rejection, got %v", err)
	}
	if _, err := svc.AttemptReconnection(ctx, "s1", "u2", 1); !errors.Is(err, domain.ErrNotSessionOwner) {
		t.Fatalf("expected ownership rejection, got %v", err)
	}
	if _, err := svc.AttemptReconnection(ctx, "missing", "u1", 1); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
