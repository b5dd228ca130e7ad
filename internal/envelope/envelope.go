// Package envelope implements the Envelope Checker: comparing extracted
// metric values against the min/max bounds a contract declares.
//
// This deliberately diverges from
// internal/validation/validator.go's ValidateFailureModes stub and its
// sibling ValidateContract threshold loop, which would treat a metric
// absent from the produced metrics map as an error. Per spec.md §4.6,
// envelope is a filter over whatever metrics were actually produced, not a
// schema every evaluator must satisfy — a metric no registered guardrail
// happens to emit is silently skipped rather than flagged.
package envelope

import (
	"fmt"

	"github.com/policygate/gateway/pkg/contracts"
)

// Violation describes one metric falling outside its declared bounds.
type Violation struct {
	Metric string
	Value  float64
	Min    float64
	Max    float64
	Phase  contracts.Phase
}

func (v Violation) String() string {
	return fmt.Sprintf("%s=%.4f out of bounds [%.4f, %.4f]", v.Metric, v.Value, v.Min, v.Max)
}

// Check compares metrics against env, restricted to bounds that apply to
// phase, and returns every violation found — not just the first — so
// telemetry and the blocked response can report the complete picture.
// Metrics absent from env, and envelope entries with no corresponding
// metric, are both silently ignored.
func Check(env map[string]contracts.Bounds, metrics map[string]float64, phase contracts.Phase) []Violation {
	var violations []Violation
	for name, bounds := range env {
		if !bounds.AppliesTo(phase) {
			continue
		}
		value, ok := metrics[name]
		if !ok {
			continue
		}
		if value < bounds.Min || value > bounds.Max {
			violations = append(violations, Violation{
				Metric: name,
				Value:  value,
				Min:    bounds.Min,
				Max:    bounds.Max,
				Phase:  phase,
			})
		}
	}
	return violations
}
