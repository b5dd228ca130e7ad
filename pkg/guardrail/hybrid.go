package guardrail

// evaluateHybrid fuses a regex score and a semantic score with configured
// weights (default 0.4/0.6). The semantic half is always the keyword score:
// HybridConfig carries no embedding config, so fallbackUsed is always true,
// matching spec.md §4.4's "semantic half may fall back to keyword-only if
// the embedding backend is unavailable."
func evaluateHybrid(cfg *HybridConfig, payload string) (score float64, fallbackUsed bool) {
	if cfg == nil {
		return 0, false
	}

	regexWeight, semanticWeight := cfg.RegexWeight, cfg.SemanticWeight
	if regexWeight == 0 && semanticWeight == 0 {
		regexWeight, semanticWeight = 0.4, 0.6
	}

	regexScore := evaluateRegex(cfg.Regex, payload)
	semanticScore := evaluateKeyword(cfg.Keyword, payload)
	fallbackUsed = true // hybrid never has its own embedding half; always keyword-backed

	return clamp01(regexWeight*regexScore + semanticWeight*semanticScore), fallbackUsed
}
