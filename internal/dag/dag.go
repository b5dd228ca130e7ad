// Package dag evaluates a contract's composite guardrail tree: AND/OR/NOT
// nodes over guardrail leaves, with short-circuit aggregation and
// skip-as-identity semantics for uncalibrated guardrails.
//
// No direct teacher file implements this; the short-circuit, collect-all-
// violations traversal discipline is grounded on
// internal/validation/validator.go's threshold-checking loop (walk every
// check, keep going past the first failure so every violation surfaces),
// generalized from a flat loop to a tree and inverted at the AND/OR level:
// here the loop stops walking siblings as soon as the operator's outcome is
// already determined, since the Composite DAG's whole purpose is to skip
// guardrail calls a contract doesn't need. Policy trees are small (depth
// <= 8), so a plain recursive walk needs no worker pool or result cache,
// unlike the similarly-shaped other_examples SWARM-INTELLIGENCE-NETWORK
// dag_engine.go this is grounded on for general tree-evaluation structure.
package dag

import (
	"context"
	"fmt"

	"github.com/policygate/gateway/pkg/contracts"
	"github.com/policygate/gateway/pkg/guardrail"
)

// MaxDepth is the maximum tree depth accepted at registration; deeper trees
// are rejected before they ever reach evaluation.
const MaxDepth = 8

// Evaluator evaluates a single guardrail id against payload. Implemented by
// a thin adapter over the registry in production, and by a fake in tests.
type Evaluator func(ctx context.Context, guardrailID string, payload string) guardrail.Result

// Outcome is the result of evaluating a full tree: whether it passed, and
// every leaf Result collected along the way (for telemetry/evidence, not
// just the first failure).
type Outcome struct {
	Decision guardrail.Decision
	Score    float64
	Leaves   []guardrail.Result
}

// ValidateDepth rejects a tree deeper than MaxDepth at contract-registration
// time, so a pathological tree never reaches the request path.
func ValidateDepth(node *contracts.DAGNode) error {
	if node == nil {
		return nil
	}
	if d := node.Depth(); d > MaxDepth {
		return fmt.Errorf("dag: depth %d exceeds max %d", d, MaxDepth)
	}
	return nil
}

// Evaluate walks node, short-circuiting AND on the first block and OR on the
// first allow, while still returning every leaf Result evaluated up to the
// point of short-circuit so callers can log what actually fired.
func Evaluate(ctx context.Context, node *contracts.DAGNode, payload string, eval Evaluator) Outcome {
	if node == nil {
		return Outcome{Decision: guardrail.DecisionAllow, Score: 0}
	}

	if node.IsLeaf() {
		res := eval(ctx, node.GuardrailID, payload)
		return Outcome{Decision: res.Decision, Score: res.EffectiveScore, Leaves: []guardrail.Result{res}}
	}

	switch node.Op {
	case contracts.OpNOT:
		return evaluateNot(ctx, node, payload, eval)
	case contracts.OpAND:
		return evaluateAndOr(ctx, node, payload, eval, guardrail.DecisionBlock)
	case contracts.OpOR:
		return evaluateAndOr(ctx, node, payload, eval, guardrail.DecisionAllow)
	default:
		return Outcome{Decision: guardrail.DecisionSkip}
	}
}

func evaluateNot(ctx context.Context, node *contracts.DAGNode, payload string, eval Evaluator) Outcome {
	if len(node.Children) != 1 {
		return Outcome{Decision: guardrail.DecisionSkip}
	}
	child := Evaluate(ctx, node.Children[0], payload, eval)
	out := Outcome{Leaves: child.Leaves}
	switch child.Decision {
	case guardrail.DecisionSkip:
		out.Decision = guardrail.DecisionSkip
		out.Score = child.Score
	case guardrail.DecisionBlock:
		out.Decision = guardrail.DecisionAllow
		out.Score = 1 - child.Score
	default:
		out.Decision = guardrail.DecisionBlock
		out.Score = 1 - child.Score
	}
	return out
}

// evaluateAndOr implements both AND and OR: shortCircuitOn is DecisionBlock
// for AND (one block fails the whole conjunction) and DecisionAllow for OR
// (one allow satisfies the whole disjunction). A skip child is folded away
// (treated as the operator's identity) rather than counted toward either
// outcome; an operator whose every child skipped itself reports skip. An
// AND with a review child and no block child reports review; OR counts
// review as not-allow.
func evaluateAndOr(ctx context.Context, node *contracts.DAGNode, payload string, eval Evaluator, shortCircuitOn guardrail.Decision) Outcome {
	var out Outcome
	out.Decision = guardrail.DecisionSkip

	sawNonSkip := false
	sawReview := false
	var extremeScore float64
	isAnd := shortCircuitOn == guardrail.DecisionBlock
	if isAnd {
		extremeScore = 0 // AND aggregates as the riskiest (max) child score
	} else {
		extremeScore = 1 // OR aggregates as the safest (min) child score
	}

	for _, child := range node.Children {
		c := Evaluate(ctx, child, payload, eval)
		out.Leaves = append(out.Leaves, c.Leaves...)

		if c.Decision == guardrail.DecisionSkip {
			continue
		}
		sawNonSkip = true
		if isAnd && c.Score > extremeScore {
			extremeScore = c.Score
		}
		if !isAnd && c.Score < extremeScore {
			extremeScore = c.Score
		}

		if c.Decision == shortCircuitOn {
			out.Decision = shortCircuitOn
			out.Score = extremeScore
			return out // short-circuit: remaining siblings need not be evaluated
		}
		if c.Decision == guardrail.DecisionReview {
			sawReview = true
		}
	}

	if sawNonSkip {
		out.Score = extremeScore
		switch {
		case isAnd && sawReview:
			out.Decision = guardrail.DecisionReview
		case isAnd:
			out.Decision = guardrail.DecisionAllow
		default:
			out.Decision = guardrail.DecisionBlock
		}
	}
	return out
}
