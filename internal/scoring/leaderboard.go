package scoring

import (
	"sort"

	"github.com/ahmetmnr/dogalast-sub000/internal/domain"
)

// Rank orders leaderboard rows deterministically and assigns ranks in place:
// score descending, earlier completion first, faster average response first.
// Rows tied on both score and completion time share a rank; the next distinct
// row resumes at its positional rank, skipping the tied count.
func Rank(entries []domain.LeaderboardEntry) []domain.LeaderboardEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].CompletedAt.Equal(entries[j].CompletedAt) {
			return entries[i].CompletedAt.Before(entries[j].CompletedAt)
		}
		return lessAvgResponse(entries[i].AvgResponseMs, entries[j].AvgResponseMs)
	})

	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score || !entries[i].CompletedAt.Equal(entries[i-1].CompletedAt) {
			rank = i + 1
		}
		entries[i].Rank = rank
	}
	return entries
}

// lessAvgResponse treats a missing average as slowest.
func lessAvgResponse(a, b *int64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a < *b
	}
}

// Page applies limit/offset to an already ranked slice.
func Page(entries []domain.LeaderboardEntry, limit, offset int) []domain.LeaderboardEntry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}
