package scoring

import (
	"math"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

// Engine computes reading metrics under one policy.
type Engine struct {
	policy Policy
}

// NewEngine returns an engine for p, or PolicyV1 when p is the zero value.
func NewEngine(p Policy) *Engine {
	if p.Version == "" {
		p = PolicyV1
	}
	return &Engine{policy: p}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// ComputeMetrics derives pace and accuracy scores from word timings. It
// returns model.ErrInsufficientData for an empty sequence.
//
//	duration      = last.End - first.Start, MinDurationSeconds when not positive
//	wpm           = words / duration * 60
//	accuracy      = mean(confidence)
//	fluency       = clamp(0, 100, wpm/baseline*paceW + accuracy*accW)
//	comprehension = clamp(0, 100, accuracy*accW + wpm/baseline*paceW)
func (e *Engine) ComputeMetrics(words []model.WordTiming) (model.ReadingMetrics, error) {
	if len(words) == 0 {
		return model.ReadingMetrics{}, model.ErrInsufficientData
	}
	p := e.policy

	duration := Duration(words)
	if math.IsNaN(duration) || duration <= 0 {
		duration = p.MinDurationSeconds
	}
	wpm := float64(len(words)) / duration * 60
	if math.IsInf(wpm, 0) || math.IsNaN(wpm) {
		wpm = 0
	}

	var sum float64
	for _, w := range words {
		sum += clamp(0, 1, w.Confidence)
	}
	accuracy := sum / float64(len(words))
	pace := wpm / p.BaselineWPM

	return model.ReadingMetrics{
		WPM:           wpm,
		Accuracy:      accuracy,
		Fluency:       clamp(0, 100, pace*p.FluencyPaceWeight+accuracy*p.FluencyAccuracyWeight),
		Comprehension: clamp(0, 100, accuracy*p.ComprehensionAccuracyWeight+pace*p.ComprehensionPaceWeight),
		PolicyVersion: p.Version,
	}, nil
}

// Duration is the span from the first word's start to the last word's end.
func Duration(words []model.WordTiming) float64 {
	if len(words) == 0 {
		return 0
	}
	return words[len(words)-1].End - words[0].Start
}

// clamp bounds v to [lo, hi]; NaN maps to lo.
func clamp(lo, hi, v float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
