// Package sanitize redacts personally identifiable information from
// strings before they are written to telemetry or evidence records, so a
// guardrail violation's logged detail never itself leaks the PII it
// flagged.
//
// Adapted from internal/mitigation/engine.go's RedactPII/
// redactPIIFromJSON/redactPIIFromText: the same SSN/credit-card/email/
// phone regex set and the same recurse-through-JSON-then-fall-back-to-text
// shape, with the grounding-notice-injection and contract-scoped
// always-redact-key config dropped — those belonged to mitigating the
// response sent to the caller, a concern now owned by the groundingAnalyzer
// and hallucinationDetector built-in guardrails (pkg/guardrail/builtins.go)
// rather than a separate post-hoc rewrite stage.
package sanitize

import (
	"encoding/json"
	"regexp"
)

var (
	ssnPattern        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	creditCardPattern = regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`)
	emailPattern      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	phonePattern      = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
)

// Text redacts PII patterns from a plain string.
func Text(s string) string {
	s = ssnPattern.ReplaceAllString(s, "[REDACTED-SSN]")
	s = creditCardPattern.ReplaceAllString(s, "[REDACTED-CC]")
	s = emailPattern.ReplaceAllString(s, "[REDACTED-EMAIL]")
	s = phonePattern.ReplaceAllString(s, "[REDACTED-PHONE]")
	return s
}

// JSON redacts PII patterns from every string value in a JSON document,
// falling back to Text if data isn't valid JSON.
func JSON(data []byte) []byte {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return []byte(Text(string(data)))
	}
	out, err := json.Marshal(redactValue(v))
	if err != nil {
		return []byte(Text(string(data)))
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, inner := range val {
			val[k] = redactValue(inner)
		}
		return val
	case []interface{}:
		for i, inner := range val {
			val[i] = redactValue(inner)
		}
		return val
	case string:
		return Text(val)
	default:
		return v
	}
}
