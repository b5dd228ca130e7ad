package guardrail

// evaluateKeyword tokenizes payload (lowercase, non-word split) and sums
// weight × occurrence-count per configured keyword, normalized by the
// configured ceiling. Grounded on pkg/txrepo/generic_llm.go's
// patternBasedCheck keyword-counting shape, generalized from fixed
// per-match increments to per-keyword weights.
func evaluateKeyword(cfg *KeywordConfig, payload string) float64 {
	if cfg == nil || len(cfg.Keywords) == 0 {
		return 0
	}
	tokens := tokenize(payload)
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}

	var sum float64
	for _, kw := range cfg.Keywords {
		if n := counts[kw.Word]; n > 0 {
			sum += kw.Weight * float64(n)
		}
	}

	ceiling := cfg.Ceiling
	if ceiling <= 0 {
		ceiling = 1
	}
	return clamp01(sum / ceiling)
}
