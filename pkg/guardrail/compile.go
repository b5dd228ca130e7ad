package guardrail

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
)

// Compile precompiles a guardrail's type-specific configuration once, at
// registration time, so the hot evaluation path never compiles a pattern or
// recomputes a centroid per request. Patterns and anchors are immutable
// after this call, matching spec.md §9's "inline regex compilation per
// request → compile-once cache keyed by config-hash" redesign note.
func Compile(g *Guardrail) error {
	if err := compilePatterns(g.Regex); err != nil {
		return fmt.Errorf("guardrail %s: regex: %w", g.ID, err)
	}
	if g.Hybrid != nil {
		if err := compilePatterns(g.Hybrid.Regex); err != nil {
			return fmt.Errorf("guardrail %s: hybrid.regex: %w", g.ID, err)
		}
	}
	if g.Smart != nil {
		g.Smart.safeCentroid = centroid(g.Smart.SafeExamples)
		g.Smart.unsafeCentroid = centroid(g.Smart.UnsafeExamples)
	}
	if g.DLMKernel != nil {
		g.DLMKernel.safeAnchors = embedAll(g.DLMKernel.SafeAnchorTexts)
		g.DLMKernel.unsafeAnchors = embedAll(g.DLMKernel.UnsafeAnchorTexts)
		if g.DLMKernel.Sigma == 0 {
			g.DLMKernel.Sigma = 1.0
		}
	}

	g.ConfigHash = configHash(g)
	return nil
}

func compilePatterns(cfg *RegexConfig) error {
	if cfg == nil {
		return nil
	}
	for i := range cfg.Patterns {
		re, err := regexp.Compile(cfg.Patterns[i].Pattern)
		if err != nil {
			return fmt.Errorf("pattern %q: %w", cfg.Patterns[i].Pattern, err)
		}
		cfg.Patterns[i].compiled = re
	}
	return nil
}

func embedAll(texts []string) [][]float64 {
	if len(texts) == 0 {
		return nil
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = embed(t)
	}
	return out
}

// configHash identifies a guardrail's compiled configuration; used as the
// registry's lock-free publication key.
func configHash(g *Guardrail) string {
	// Hash over the JSON-serializable fields only (compiled artifacts are
	// unexported and excluded automatically).
	data, _ := json.Marshal(g)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
