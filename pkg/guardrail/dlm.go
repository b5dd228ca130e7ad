package guardrail

import "math"

// evaluateDLMKernel scores payload via an RBF (Gaussian) kernel against
// multiple safe and unsafe anchor embeddings: each anchor contributes
// exp(-distance²/(2·sigma²)), and the guardrail's risk score is the ratio of
// total unsafe-anchor mass to total anchor mass. A guardrail with no anchors
// configured on either side has never been calibrated, so it reports
// calibrated=false and evaluate.go maps that to DecisionSkip rather than a
// false allow or block.
func evaluateDLMKernel(cfg *DLMKernelConfig, payload string) (score float64, calibrated bool) {
	if cfg == nil || (len(cfg.safeAnchors) == 0 && len(cfg.unsafeAnchors) == 0) {
		return 0, false
	}

	sigma := cfg.Sigma
	if sigma <= 0 {
		sigma = 1.0
	}

	v := embed(payload)
	safeMass := kernelMass(v, cfg.safeAnchors, sigma)
	unsafeMass := kernelMass(v, cfg.unsafeAnchors, sigma)

	total := safeMass + unsafeMass
	if total == 0 {
		return 0, true
	}
	return clamp01(unsafeMass / total), true
}

func kernelMass(v []float64, anchors [][]float64, sigma float64) float64 {
	var mass float64
	denom := 2 * sigma * sigma
	for _, a := range anchors {
		d2 := euclideanSquared(v, a)
		mass += math.Exp(-d2 / denom)
	}
	return mass
}
