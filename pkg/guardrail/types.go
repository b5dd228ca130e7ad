// Package guardrail implements the Guardrail Registry and the six
// evaluator kinds (regex, keyword, hybrid, smart, llm_assisted,
// dlm_kernel) dispatched against a guardrail's type-specific config.
package guardrail

import "regexp"

// Kind is the evaluator kind a Guardrail dispatches to.
type Kind string

const (
	KindRegex       Kind = "regex"
	KindKeyword     Kind = "keyword"
	KindHybrid      Kind = "hybrid"
	KindSmart       Kind = "smart"
	KindLLMAssisted Kind = "llm_assisted"
	KindDLMKernel   Kind = "dlm_kernel"
)

// Origin distinguishes compiled-in guardrails from runtime-registered ones.
type Origin string

const (
	OriginStatic  Origin = "static"
	OriginDynamic Origin = "dynamic"
)

// Guardrail is one policy check: immutable for a given id, producing a
// metric value and a decision when evaluated against a payload.
type Guardrail struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"type"`
	Origin      Origin `json:"-"`
	MetricName  string `json:"metric_name"`
	Threshold   float64 `json:"threshold"`
	InvertScore bool    `json:"invert_score,omitempty"`

	// ConfigHash identifies this guardrail's compiled configuration;
	// compiled artifacts (regexes, anchors) are cached per hash and are
	// immutable and lock-free to read once published.
	ConfigHash string `json:"-"`

	RegisteredAt string `json:"registered_at,omitempty"`

	Regex       *RegexConfig       `json:"regex,omitempty"`
	Keyword     *KeywordConfig     `json:"keyword,omitempty"`
	Hybrid      *HybridConfig      `json:"hybrid,omitempty"`
	Smart       *SmartConfig       `json:"smart,omitempty"`
	LLMAssisted *LLMAssistedConfig `json:"llm_assisted,omitempty"`
	DLMKernel   *DLMKernelConfig   `json:"dlm_kernel,omitempty"`
}

// WeightedPattern is one regex pattern with its contribution weight.
type WeightedPattern struct {
	Pattern string  `json:"pattern"`
	Weight  float64 `json:"weight"`

	compiled *regexp.Regexp
}

// RegexConfig configures the regex evaluator: payload matched against
// compiled patterns, score = clamp(sum of matching weights, 0, 1).
type RegexConfig struct {
	Patterns []WeightedPattern `json:"patterns"`
}

// WeightedKeyword is one keyword with its per-occurrence weight.
type WeightedKeyword struct {
	Word   string  `json:"word"`
	Weight float64 `json:"weight"`
}

// KeywordConfig configures the keyword evaluator: tokenize, sum
// (weight × count), normalize by Ceiling.
type KeywordConfig struct {
	Keywords []WeightedKeyword `json:"keywords"`
	Ceiling  float64           `json:"ceiling"`
}

// HybridConfig fuses a regex score and a semantic-similarity score.
// SemanticWeight weights the keyword score; hybrid has no embedding half.
type HybridConfig struct {
	Regex          *RegexConfig   `json:"regex,omitempty"`
	Keyword        *KeywordConfig `json:"keyword,omitempty"`
	RegexWeight    float64        `json:"regex_weight"`
	SemanticWeight float64        `json:"semantic_weight"`
}

// SmartConfig configures the embedding+lexical evaluator: safe/unsafe
// training examples define centroids; TAllow/TBlock bound the three-zone
// decision (allow / review / block).
type SmartConfig struct {
	SafeExamples    []string `json:"safe_examples"`
	UnsafeExamples  []string `json:"unsafe_examples"`
	Keyword         *KeywordConfig `json:"keyword,omitempty"`
	EmbeddingWeight float64 `json:"embedding_weight"`
	LexicalWeight   float64 `json:"lexical_weight"`
	TAllow          float64 `json:"t_allow"`
	TBlock          float64 `json:"t_block"`

	safeCentroid   []float64
	unsafeCentroid []float64
}

// LLMAssistedConfig configures the external-judge evaluator.
type LLMAssistedConfig struct {
	PromptTemplate string   `json:"prompt_template,omitempty"`
	Keywords       []string `json:"keywords,omitempty"` // fallback on timeout/malformed judge output
}

// DLMKernelConfig configures the multi-anchor RBF-kernel evaluator.
// Calibration (anchor embeddings) is optional; an uncalibrated guardrail
// evaluates to NotCalibrated rather than allow or block.
type DLMKernelConfig struct {
	SafeAnchorTexts   []string `json:"safe_anchor_texts,omitempty"`
	UnsafeAnchorTexts []string `json:"unsafe_anchor_texts,omitempty"`
	Sigma             float64  `json:"sigma"`

	safeAnchors   [][]float64
	unsafeAnchors [][]float64
}
