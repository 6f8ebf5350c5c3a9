package timing

import (
	"context"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
)

// Timing anomaly flags. Reported, never auto-rejected; consequence is the
// caller's policy decision.
const (
	AnomalySuspiciouslyFast  = "suspiciously_fast"
	AnomalyNegativeInterval  = "negative_interval"
	AnomalyStalledProcessing = "stalled_processing"
)

const (
	humanResponseFloorMs = 300
	stalledProcessingMs  = 15_000
)

// Breakdown names the four derived intervals of one question. Missing events
// leave the corresponding interval nil.
type Breakdown struct {
	ResponseTimeMs  *int64   `json:"responseTimeMs,omitempty"`  // answer_received - tts_end
	SpeechLatencyMs *int64   `json:"speechLatencyMs,omitempty"` // speech_start - tts_end
	ProcessingMs    *int64   `json:"processingMs,omitempty"`    // answer_received - speech_start
	TotalMs         *int64   `json:"totalMs,omitempty"`         // answer_received - tts_start
	Anomalies       []string `json:"anomalies,omitempty"`
}

// Breakdown derives the named intervals from whatever timeline facts exist
// and flags anomalies.
func (s *Service) Breakdown(ctx context.Context, sessionQuestionID string) (Breakdown, error) {
	events, err := s.events.List(ctx, sessionQuestionID)
	if err != nil {
		return Breakdown{}, err
	}

	byType := make(map[domain.EventType]domain.TimingEvent, len(events))
	for _, ev := range events {
		byType[ev.Type] = ev
	}

	var b Breakdown
	b.ResponseTimeMs = interval(byType, domain.EventTTSEnd, domain.EventAnswerReceived)
	b.SpeechLatencyMs = interval(byType, domain.EventTTSEnd, domain.EventSpeechStart)
	b.ProcessingMs = interval(byType, domain.EventSpeechStart, domain.EventAnswerReceived)
	b.TotalMs = interval(byType, domain.EventTTSStart, domain.EventAnswerReceived)

	if b.ResponseTimeMs != nil && *b.ResponseTimeMs < humanResponseFloorMs && *b.ResponseTimeMs >= 0 {
		b.Anomalies = append(b.Anomalies, AnomalySuspiciouslyFast)
	}
	for _, v := range []*int64{b.ResponseTimeMs, b.SpeechLatencyMs, b.ProcessingMs, b.TotalMs} {
		if v != nil && *v < 0 {
			b.Anomalies = append(b.Anomalies, AnomalyNegativeInterval)
			break
		}
	}
	if b.ProcessingMs != nil && *b.ProcessingMs > stalledProcessingMs {
		b.Anomalies = append(b.Anomalies, AnomalyStalledProcessing)
	}

	return b, nil
}

func interval(byType map[domain.EventType]domain.TimingEvent, from, to domain.EventType) *int64 {
	start, ok := byType[from]
	if !ok {
		return nil
	}
	end, ok := byType[to]
	if !ok {
		return nil
	}
	ms := end.ServerTimestamp.Sub(start.ServerTimestamp).Milliseconds()
	return &ms
}
