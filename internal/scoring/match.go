package scoring

import (
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// MatchType classifies how a user answer compared to the canonical answer.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchFuzzy   MatchType = "fuzzy"
	MatchPartial MatchType = "partial"
	MatchNone    MatchType = "none"
)

// Similarity thresholds are fixed constants, not per-question settings.
const (
	fuzzyThreshold   = 0.85
	partialThreshold = 0.60
)

// Judgement is the outcome of comparing one answer against the canonical one.
// Partial matches are counted incorrect but kept distinct for tuning.
type Judgement struct {
	IsCorrect  bool      `json:"isCorrect"`
	MatchType  MatchType `json:"matchType"`
	Similarity float64   `json:"similarity"`
}

// ValidateAnswer normalizes both strings and judges the user answer. Exact
// match after normalization wins outright; otherwise normalized Levenshtein
// similarity (maxLen-dist)/maxLen decides the band.
func ValidateAnswer(userAnswer, correctAnswer string) Judgement {
	user := Normalize(userAnswer)
	correct := Normalize(correctAnswer)

	if correct == "" {
		return Judgement{MatchType: MatchNone}
	}
	if user == correct {
		return Judgement{IsCorrect: true, MatchType: MatchExact, Similarity: 1.0}
	}

	maxLen := utf8.RuneCountInString(user)
	if n := utf8.RuneCountInString(correct); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return Judgement{MatchType: MatchNone}
	}

	dist := levenshtein.Distance(user, correct, nil)
	similarity := float64(maxLen-dist) / float64(maxLen)
	if similarity < 0 {
		similarity = 0
	}

	switch {
	case similarity >= fuzzyThreshold:
		return Judgement{IsCorrect: true, MatchType: MatchFuzzy, Similarity: similarity}
	case similarity >= partialThreshold:
		return Judgement{MatchType: MatchPartial, Similarity: similarity}
	default:
		return Judgement{MatchType: MatchNone, Similarity: similarity}
	}
}
