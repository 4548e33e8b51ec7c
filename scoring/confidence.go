package scoring

import "math"

// MissingLogProb stands in when the completion service returns no
// log-probability.
const MissingLogProb = -1.0

// ScoreConfidence converts the top token's log-probability to a confidence
// in [0, 1]. A nil or NaN value scores as exp(-1).
func ScoreConfidence(logProb *float64) float64 {
	lp := MissingLogProb
	if logProb != nil && !math.IsNaN(*logProb) {
		lp = *logProb
	}
	return clamp(0, 1, math.Exp(lp))
}
