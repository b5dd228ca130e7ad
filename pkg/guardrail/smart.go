package guardrail

// evaluateSmart blends an embedding-similarity score against the guardrail's
// safe/unsafe example centroids with a lexical (keyword) score, per the
// guardrail's own SmartConfig embedding_weight/lexical_weight (default
// 0.6/0.4 when both are zero). It returns only the
// continuous combined score; decide() maps it through the three-zone
// t_allow/t_block bands, keeping decide() the single place score-to-Decision
// mapping happens.
func evaluateSmart(cfg *SmartConfig, payload string) float64 {
	if cfg == nil {
		return 0
	}

	embeddingWeight, lexicalWeight := cfg.EmbeddingWeight, cfg.LexicalWeight
	if embeddingWeight == 0 && lexicalWeight == 0 {
		embeddingWeight, lexicalWeight = 0.6, 0.4
	}

	embeddingScore := embeddingSimilarity(cfg, payload)
	lexicalScore := evaluateKeyword(cfg.Keyword, payload)

	return clamp01(embeddingWeight*embeddingScore + lexicalWeight*lexicalScore)
}

// embeddingSimilarity scores payload by how much closer it sits to the
// unsafe centroid than the safe one. A payload exactly as close to both
// centroids scores 0.5; pure-unsafe scores trend to 1, pure-safe to 0.
func embeddingSimilarity(cfg *SmartConfig, payload string) float64 {
	if cfg.safeCentroid == nil && cfg.unsafeCentroid == nil {
		return 0
	}

	v := embed(payload)
	safeSim := cosine(v, cfg.safeCentroid)
	unsafeSim := cosine(v, cfg.unsafeCentroid)

	// Map the [-1,1] similarity difference to [0,1]: 1 means maximally
	// closer to unsafe, 0 means maximally closer to safe.
	return clamp01((unsafeSim - safeSim + 1) / 2)
}
