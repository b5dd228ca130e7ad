package guardrail

// evaluateRegex matches payload against every precompiled pattern and
// clamps the sum of matching weights to [0,1]. Grounded on
// pkg/txrepo/extractors.go's PII/citation pattern sets and their
// min(total/N, 1)-style clamp math, generalized to arbitrary
// per-pattern weights instead of one fixed divisor per metric.
func evaluateRegex(cfg *RegexConfig, payload string) float64 {
	if cfg == nil {
		return 0
	}
	var sum float64
	for _, p := range cfg.Patterns {
		if p.compiled == nil {
			continue
		}
		if p.compiled.MatchString(payload) {
			sum += p.Weight
		}
	}
	return clamp01(sum)
}
