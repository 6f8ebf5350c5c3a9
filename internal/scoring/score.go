package scoring

import "math"

// Bonus policy. Streak bonus kicks in once the streak reaches streakMin and
// grows per streak step up to a cap; difficulty 4-5 earns a percentage of base.
const (
	streakMin          = 3
	streakStepPoints   = 2
	streakStepCap      = 10
	difficultyMin      = 4
	difficultyStepPct  = 25
)

// Breakdown itemizes one score so the total stays auditable. Every component
// is an integer, rounded once at the component level, never cumulatively.
type Breakdown struct {
	Base            int `json:"base"`
	TimeBonus       int `json:"timeBonus"`
	StreakBonus     int `json:"streakBonus"`
	DifficultyBonus int `json:"difficultyBonus"`
	Total           int `json:"total"`
}

// CalculateScore is a pure function of its inputs. Incorrect answers score
// zero unconditionally. The time bonus is tiered by the fraction of the time
// limit consumed: ≤50% → +50% of base, ≤70% → +30%, ≤90% → +10%, else none.
func CalculateScore(isCorrect bool, basePoints int, responseTimeMs, timeLimitMs int64, difficulty, currentStreak int) Breakdown {
	if !isCorrect {
		return Breakdown{}
	}
	if basePoints <= 0 {
		basePoints = 1
	}

	b := Breakdown{Base: basePoints}

	if timeLimitMs > 0 && responseTimeMs >= 0 {
		fraction := float64(responseTimeMs) / float64(timeLimitMs)
		var pct float64
		switch {
		case fraction <= 0.5:
			pct = 0.5
		case fraction <= 0.7:
			pct = 0.3
		case fraction <= 0.9:
			pct = 0.1
		}
		b.TimeBonus = int(math.Round(float64(basePoints) * pct))
	}

	if currentStreak >= streakMin {
		steps := currentStreak
		if steps > streakStepCap {
			steps = streakStepCap
		}
		b.StreakBonus = steps * streakStepPoints
	}

	if difficulty >= difficultyMin {
		pct := float64((difficulty-difficultyMin+1)*difficultyStepPct) / 100
		b.DifficultyBonus = int(math.Round(float64(basePoints) * pct))
	}

	b.Total = b.Base + b.TimeBonus + b.StreakBonus + b.DifficultyBonus
	return b
}
