package guardrail

// Builtins returns the gateway's static, always-registered guardrails:
// pii_detector, grounding_analyzer, and hallucination_detector. Their
// regex/keyword sets are grounded on pkg/txrepo/extractors.go's PII,
// citation, and vague-word pattern sets, reframed as compiled RegexConfig
// and KeywordConfig payloads instead of bespoke per-metric functions so
// they flow through the same evaluate.go dispatch as dynamic guardrails.
func Builtins() []*Guardrail {
	return []*Guardrail{
		piiDetector(),
		groundingAnalyzer(),
		hallucinationDetector(),
	}
}

func piiDetector() *Guardrail {
	return &Guardrail{
		ID:          "pii_detector",
		Name:        "PII Detector",
		Description: "Flags social security numbers, emails, phone numbers, credit cards, and zip codes.",
		Kind:        KindRegex,
		Origin:      OriginStatic,
		MetricName:  "pii_risk",
		Threshold:   0.4,
		Regex: &RegexConfig{
			Patterns: []WeightedPattern{
				{Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Weight: 0.4},                                                         // SSN
				{Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`, Weight: 0.2},                            // email
				{Pattern: `\b(?:\+?1[-.]?)?\(?([0-9]{3})\)?[-.]?([0-9]{3})[-.]?([0-9]{4})\b`, Weight: 0.2},               // phone
				{Pattern: `\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, Weight: 0.4},                                     // credit card
				{Pattern: `\b\d{5}(?:-\d{4})?\b`, Weight: 0.1},                                                          // zip code
			},
		},
	}
}

func groundingAnalyzer() *Guardrail {
	return &Guardrail{
		ID:          "grounding_analyzer",
		Name:        "Grounding Analyzer",
		Description: "Scores citation density; low citation density against prose length indicates ungrounded claims.",
		Kind:        KindRegex,
		Origin:      OriginStatic,
		MetricName:  "grounding_confidence",
		Threshold:   0.2,
		InvertScore: true, // low citation density is the risk signal, so invert before thresholding
		Regex: &RegexConfig{
			Patterns: []WeightedPattern{
				{Pattern: `\[\d+\]`, Weight: 0.25},                           // numbered citation
				{Pattern: `\([A-Za-z]+\s+\d{4}\)`, Weight: 0.25},             // parenthetical citation
				{Pattern: `https?://[^\s]+`, Weight: 0.25},                   // URL
				{Pattern: `(?i)source:|reference:|cited from:`, Weight: 0.25}, // source keyword
			},
		},
	}
}

func hallucinationDetector() *Guardrail {
	return &Guardrail{
		ID:          "hallucination_detector",
		Name:        "Hallucination Detector",
		Description: "Flags hedging/vague language unaccompanied by specific facts (numbers, dates, named entities).",
		Kind:        KindKeyword,
		Origin:      OriginStatic,
		MetricName:  "hallucination_risk",
		Threshold:   0.5,
		Keyword: &KeywordConfig{
			Keywords: []WeightedKeyword{
				{Word: "might", Weight: 1}, {Word: "possibly", Weight: 1}, {Word: "perhaps", Weight: 1},
				{Word: "maybe", Weight: 1}, {Word: "unclear", Weight: 1}, {Word: "uncertain", Weight: 1},
				{Word: "probably", Weight: 1}, {Word: "likely", Weight: 1}, {Word: "appears", Weight: 1},
			},
			Ceiling: 5,
		},
	}
}
