package guardrail

import (
	"context"
	"time"
)

// LLMCallConfig carries the judge-endpoint wiring the llm_assisted evaluator
// needs, kept as a small local type so this package has no dependency on
// internal/config.
type LLMCallConfig struct {
	Endpoint  string
	APIKeyEnv string
	Model     string
}

// Evaluate dispatches payload to g's evaluator kind and returns a Result.
// ctx's deadline bounds the call; an evaluator kind with no external call
// (regex, keyword, hybrid, smart, dlm_kernel) never blocks long enough to
// need it, but llm_assisted honors ctx for its HTTP round trip per spec.md
// §4.4's per-kind timeout requirement.
func Evaluate(ctx context.Context, g *Guardrail, payload string, llmCfg LLMCallConfig) Result {
	start := time.Now()
	res := Result{GuardrailID: g.ID, EvaluatorKind: g.Kind}

	var raw float64
	var fallback bool
	var calibrated = true
	var reason string
	var err error

	switch g.Kind {
	case KindRegex:
		raw = evaluateRegex(g.Regex, payload)
	case KindKeyword:
		raw = evaluateKeyword(g.Keyword, payload)
	case KindHybrid:
		raw, fallback = evaluateHybrid(g.Hybrid, payload)
	case KindSmart:
		raw = evaluateSmart(g.Smart, payload)
	case KindLLMAssisted:
		raw, fallback, reason, err = evaluateLLMAssisted(ctx, g.LLMAssisted, payload, llmCfg.Endpoint, llmCfg.APIKeyEnv, llmCfg.Model)
	case KindDLMKernel:
		raw, calibrated = evaluateDLMKernel(g.DLMKernel, payload)
	default:
		res.Err = &Error{Kind: "unknown_evaluator_kind", Message: string(g.Kind)}
		res.Latency = time.Since(start)
		return res
	}

	res.Latency = time.Since(start)
	res.FallbackUsed = fallback
	res.Reason = reason

	if err != nil {
		res.Err = err
		res.Decision = DecisionSkip
		res.Reason = "evaluator error: " + err.Error()
		return res
	}

	if !calibrated {
		res.Decision = DecisionSkip
		res.Reason = "guardrail not calibrated"
		return res
	}

	res.RawScore = raw
	res.Decision, res.EffectiveScore = decide(raw, g)
	res.Metrics = map[string]float64{g.MetricName: raw}
	return res
}

// Error is a minimal local error type so this package doesn't need to
// import pkg/gwerrors for its one evaluator-kind-validation failure mode.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return e.Kind + ": " + e.Message }
