package timing_test

import (
	"context"
	"testing"
	"time"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
	"github.com/ahmetmnr/dogalast-sub000/internal/timing"
)

func containsFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func TestBreakdownDerivesIntervals(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService()

	record := func(typ domain.EventType, after time.Duration) {
		clock.Advance(after)
		if _, err := svc.RecordEvent(ctx, "sq-1", typ, nil, nil); err != nil {
			t.Fatalf("record %s: %v", typ, err)
		}
	}

	record(domain.EventTTSStart, 0)
	record(domain.EventTTSEnd, 1500*time.Millisecond)
	record(domain.EventSpeechStart, 700*time.Millisecond)
	record(domain.EventAnswerReceived, 1800*time.Millisecond)

	b, err := svc.Breakdown(ctx, "sq-1")
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if b.ResponseTimeMs == nil || *b.ResponseTimeMs != 2500 {
		t.Fatalf("expected response time 2500ms, got %v", b.ResponseTimeMs)
	}
	if b.SpeechLatencyMs == nil || *b.SpeechLatencyMs != 700 {
		t.Fatalf("expected speech latency 700ms, got %v", b.SpeechLatencyMs)
	}
	if b.ProcessingMs == nil || *b.ProcessingMs != 1800 {
		t.Fatalf("expected processing 1800ms, got %v", b.ProcessingMs)
	}
	if b.TotalMs == nil || *b.TotalMs != 4000 {
		t.Fatalf("expected total 4000ms, got %v", b.TotalMs)
	}
	if len(b.Anomalies) != 0 {
		t.Fatalf("clean timeline flagged: %v", b.Anomalies)
	}
}

func TestBreakdownMissingEventsLeaveNils(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService()

	if _, err := svc.RecordEvent(ctx, "sq-1", domain.EventTTSEnd, nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := svc.RecordEvent(ctx, "sq-1", domain.EventAnswerReceived, nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	b, err := svc.Breakdown(ctx, "sq-1")
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if b.ResponseTimeMs == nil || *b.ResponseTimeMs != 2000 {
		t.Fatalf("expected response time 2000ms, got %v", b.ResponseTimeMs)
	}
	if b.SpeechLatencyMs != nil || b.ProcessingMs != nil || b.TotalMs != nil {
		t.Fatalf("missing events must leave intervals nil: %+v", b)
	}
}

func TestBreakdownFlagsSuspiciouslyFast(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService()

	if _, err := svc.RecordEvent(ctx, "sq-1", domain.EventTTSEnd, nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	clock.Advance(150 * time.Millisecond)
	if _, err := svc.RecordEvent(ctx, "sq-1", domain.EventAnswerReceived, nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	b, err := svc.Breakdown(ctx, "sq-1")
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if !containsFlag(b.Anomalies, timing.AnomalySuspiciouslyFast) {
		t.Fatalf("expected suspiciously fast flag, got %v", b.Anomalies)
	}
}

func TestBreakdownFlagsStalledProcessing(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService()

	if _, err := svc.RecordEvent(ctx, "sq-1", domain.EventSpeechStart, nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	clock.Advance(20 * time.Second)
	if _, err := svc.RecordEvent(ctx, "sq-1", domain.EventAnswerReceived, nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	b, err := svc.Breakdown(ctx, "sq-1")
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if !containsFlag(b.Anomalies, timing.AnomalyStalledProcessing) {
		t.Fatalf("expected stalled processing flag, got %v", b.Anomalies)
	}
}
