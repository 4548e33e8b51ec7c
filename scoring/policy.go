// Package scoring turns word timings into reading metrics and completion
// log-probabilities into command confidence.
package scoring

import "fmt"

// Policy holds the coefficients of the reading metric heuristic. Weights are
// in points out of 100.
type Policy struct {
	Version                     string  `yaml:"version" toml:"version"`
	BaselineWPM                 float64 `yaml:"baseline_wpm" toml:"baseline_wpm"`
	FluencyPaceWeight           float64 `yaml:"fluency_pace_weight" toml:"fluency_pace_weight"`
	FluencyAccuracyWeight       float64 `yaml:"fluency_accuracy_weight" toml:"fluency_accuracy_weight"`
	ComprehensionAccuracyWeight float64 `yaml:"comprehension_accuracy_weight" toml:"comprehension_accuracy_weight"`
	ComprehensionPaceWeight     float64 `yaml:"comprehension_pace_weight" toml:"comprehension_pace_weight"`
	// MinDurationSeconds replaces a zero or negative word span.
	MinDurationSeconds float64 `yaml:"min_duration_seconds" toml:"min_duration_seconds"`
}

// PolicyV1 is the 150 wpm baseline with 50/50 fluency and 70/30
// comprehension splits.
var PolicyV1 = Policy{
	Version:                     "v1",
	BaselineWPM:                 150,
	FluencyPaceWeight:           50,
	FluencyAccuracyWeight:       50,
	ComprehensionAccuracyWeight: 70,
	ComprehensionPaceWeight:     30,
	MinDurationSeconds:          1,
}

var policies = map[string]Policy{
	PolicyV1.Version: PolicyV1,
}

// LookupPolicy returns a registered policy by version.
func LookupPolicy(version string) (Policy, bool) {
	p, ok := policies[version]
	return p, ok
}

// Validate rejects policies that would divide by zero or produce negative scores.
func (p Policy) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("scoring policy version is required")
	}
	if p.BaselineWPM <= 0 {
		return fmt.Errorf("scoring policy %s: baseline_wpm must be positive", p.Version)
	}
	if p.MinDurationSeconds <= 0 {
		return fmt.Errorf("scoring policy %s: min_duration_seconds must be positive", p.Version)
	}
	for name, w := range map[string]float64{
		"fluency_pace_weight":           p.FluencyPaceWeight,
		"fluency_accuracy_weight":       p.FluencyAccuracyWeight,
		"comprehension_accuracy_weight": p.ComprehensionAccuracyWeight,
		"comprehension_pace_weight":     p.ComprehensionPaceWeight,
	} {
		if w < 0 {
			return fmt.Errorf("scoring policy %s: %s must not be negative", p.Version, name)
		}
	}
	return nil
}
