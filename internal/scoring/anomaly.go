package scoring

// Anomaly flags are advisory telemetry for anti-cheat review. They never
// reject an answer on their own.
const (
	AnomalySubSecond         = "sub_second_response"
	AnomalyImplausibleStreak = "implausible_streak"
	AnomalyScoreJump         = "score_jump"
	AnomalyNearTimeLimit     = "near_time_limit"
)

const (
	subSecondFloorMs    = 1000
	maxPlausibleStreak  = 25
	scoreJumpFactor     = 3.0
	nearLimitWindowPct  = 2 // within 2% of the deadline
)

// DetectAnomalies flags suspicious scoring patterns: sub-second responses,
// streaks beyond a plausible maximum, sudden score jumps relative to the
// rolling average of recent scores (latest last), and responses suspiciously
// close to the time limit.
func DetectAnomalies(responseTimeMs, timeLimitMs int64, streak int, recentScores []int) []string {
	var flags []string

	if responseTimeMs >= 0 && responseTimeMs < subSecondFloorMs {
		flags = append(flags, AnomalySubSecond)
	}
	if streak > maxPlausibleStreak {
		flags = append(flags, AnomalyImplausibleStreak)
	}
	if len(recentScores) >= 2 {
		latest := recentScores[len(recentScores)-1]
		sum := 0
		for _, s := range recentScores[:len(recentScores)-1] {
			sum += s
		}
		avg := float64(sum) / float64(len(recentScores)-1)
		if avg > 0 && float64(latest) > avg*scoreJumpFactor {
			flags = append(flags, AnomalyScoreJump)
		}
	}
	if timeLimitMs > 0 && responseTimeMs <= timeLimitMs &&
		responseTimeMs >= timeLimitMs-(timeLimitMs*nearLimitWindowPct/100) {
		flags = append(flags, AnomalyNearTimeLimit)
	}

	return flags
}
