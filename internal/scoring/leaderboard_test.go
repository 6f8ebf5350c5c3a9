package scoring_test

import (
	"testing"
	"time"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
	"github.com/ahmetmnr/dogalast-sub000/internal/scoring"
)

func msPtr(v int64) *int64 { return &v }

func TestRankOrdersByScoreThenCompletionThenSpeed(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []domain.LeaderboardEntry{
		{SessionID: "slow", Score: 10, CompletedAt: base.Add(time.Hour)},
		{SessionID: "late", Score: 20, CompletedAt: base.Add(time.Minute)},
		{SessionID: "early", Score: 20, CompletedAt: base},
	}

	ranked := scoring.Rank(entries)
	want := []string{"early", "late", "slow"}
	for i, id := range want {
		if ranked[i].SessionID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, ranked[i].SessionID)
		}
	}
	if ranked[0].Rank != 1 || ranked[1].Rank != 2 || ranked[2].Rank != 3 {
		t.Fatalf("unexpected ranks: %+v", ranked)
	}
}

func TestRankTiesShareRankAndSkip(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []domain.LeaderboardEntry{
		{SessionID: "a", Score: 20, CompletedAt: at, AvgResponseMs: msPtr(3000)},
		{SessionID: "b", Score: 20, CompletedAt: at, AvgResponseMs: msPtr(2000)},
		{SessionID: "c", Score: 10, CompletedAt: at},
	}

	ranked := scoring.Rank(entries)
	if ranked[0].SessionID != "b" {
		t.Fatalf("faster average should order first among ties, got %s", ranked[0].SessionID)
	}
	if ranked[0].Rank != 1 || ranked[1].Rank != 1 {
		t.Fatalf("tied entries must share rank 1, got %d and %d", ranked[0].Rank, ranked[1].Rank)
	}
	if ranked[2].Rank != 3 {
		t.Fatalf("rank after a tie must skip to 3, got %d", ranked[2].Rank)
	}
}

func TestRankMissingAverageOrdersLast(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []domain.LeaderboardEntry{
		{SessionID: "unknown", Score: 20, CompletedAt: at},
		{SessionID: "measured", Score: 20, CompletedAt: at, AvgResponseMs: msPtr(5000)},
	}
	ranked := scoring.Rank(entries)
	if ranked[0].SessionID != "measured" {
		t.Fatalf("entry without average must order last among ties, got %s first", ranked[0].SessionID)
	}
}

func TestPageBounds(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var entries []domain.LeaderboardEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, domain.LeaderboardEntry{SessionID: string(rune('a' + i)), Score: 50 - i, CompletedAt: at})
	}
	ranked := scoring.Rank(entries)

	page := scoring.Page(ranked, 2, 1)
	if len(page) != 2 || page[0].SessionID != "b" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if got := scoring.Page(ranked, 10, 99); got != nil {
		t.Fatalf("offset past end must return nil, got %+v", got)
	}
	if got := scoring.Page(ranked, 0, 0); len(got) != 5 {
		t.Fatalf("zero limit must return all entries, got %d", len(got))
	}
}
