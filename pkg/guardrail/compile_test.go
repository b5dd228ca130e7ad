package guardrail

import "testing"

func TestCompileRejectsInvalidRegexPattern(t *testing.T) {
	g := &Guardrail{
		ID:    "g1",
		Kind:  KindRegex,
		Regex: &RegexConfig{Patterns: []WeightedPattern{{Pattern: "(unterminated", Weight: 1}}},
	}
	if err := Compile(g); err == nil {
		t.Fatal("expected an error compiling an invalid regex pattern")
	}
}

func TestCompilePopulatesConfigHash(t *testing.T) {
	g := &Guardrail{ID: "g1", Kind: KindKeyword, Keyword: &KeywordConfig{Keywords: []WeightedKeyword{{Word: "x", Weight: 1}}}}
	if err := Compile(g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.ConfigHash == "" {
		t.Error("expected a non-empty config hash after compiling")
	}
}

func TestCompileDifferentConfigsHashDifferently(t *testing.T) {
	a := &Guardrail{ID: "g1", Kind: KindKeyword, Threshold: 0.1, Keyword: &KeywordConfig{}}
	b := &Guardrail{ID: "g1", Kind: KindKeyword, Threshold: 0.9, Keyword: &KeywordConfig{}}
	_ = Compile(a)
	_ = Compile(b)
	if a.ConfigHash == b.ConfigHash {
		t.Error("expected differing thresholds to produce differing config hashes")
	}
}

func TestCompileDeterministicForSameConfig(t *testing.T) {
	mk := func() *Guardrail {
		return &Guardrail{ID: "g1", Kind: KindKeyword, Threshold: 0.5, Keyword: &KeywordConfig{Keywords: []WeightedKeyword{{Word: "x", Weight: 1}}}}
	}
	a, b := mk(), mk()
	_ = Compile(a)
	_ = Compile(b)
	if a.ConfigHash != b.ConfigHash {
		t.Error("expected identical configs to hash identically")
	}
}

func TestCompileSmartPopulatesCentroidsImplicitly(t *testing.T) {
	g := &Guardrail{
		ID:   "g1",
		Kind: KindSmart,
		Smart: &SmartConfig{
			SafeExamples:   []string{"hello there"},
			UnsafeExamples: []string{"attack the server"},
		},
	}
	if err := Compile(g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Exercised indirectly: evaluateSmart should now produce a non-zero
	// embedding contribution since centroids are populated.
	score := evaluateSmart(g.Smart, "attack the server now")
	if score == 0 {
		t.Error("expected a non-zero smart score once centroids are compiled")
	}
}

func TestCompileDLMKernelDefaultsSigma(t *testing.T) {
	g := &Guardrail{ID: "g1", Kind: KindDLMKernel, DLMKernel: &DLMKernelConfig{}}
	if err := Compile(g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.DLMKernel.Sigma != 1.0 {
		t.Errorf("expected default sigma 1.0, got %v", g.DLMKernel.Sigma)
	}
}
