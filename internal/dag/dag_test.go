package dag

import (
	"context"
	"math"
	"testing"

	"github.com/policygate/gateway/pkg/contracts"
	"github.com/policygate/gateway/pkg/guardrail"
)

// fakeEvaluator resolves a guardrail id through a fixed lookup table and
// records every id it was asked to evaluate, so tests can assert that
// short-circuiting actually skipped the calls it claims to skip.
func fakeEvaluator(table map[string]guardrail.Result, calls *[]string) Evaluator {
	return func(_ context.Context, id string, _ string) guardrail.Result {
		*calls = append(*calls, id)
		return table[id]
	}
}

func leaf(id string) *contracts.DAGNode {
	return &contracts.DAGNode{GuardrailID: id}
}

func TestEvaluateLeaf(t *testing.T) {
	var calls []string
	table := map[string]guardrail.Result{
		"g1": {Decision: guardrail.DecisionBlock, EffectiveScore: 0.9},
	}
	out := Evaluate(context.Background(), leaf("g1"), "payload", fakeEvaluator(table, &calls))

	if out.Decision != guardrail.DecisionBlock {
		t.Errorf("expected block decision, got %s", out.Decision)
	}
	if len(out.Leaves) != 1 {
		t.Errorf("expected exactly one leaf result, got %d", len(out.Leaves))
	}
}

func TestEvaluateANDShortCircuitsOnFirstBlock(t *testing.T) {
	var calls []string
	table := map[string]guardrail.Result{
		"g1": {Decision: guardrail.DecisionBlock, EffectiveScore: 0.8},
		"g2": {Decision: guardrail.DecisionAllow, EffectiveScore: 0.1},
	}
	node := &contracts.DAGNode{Op: contracts.OpAND, Children: []*contracts.DAGNode{leaf("g1"), leaf("g2")}}

	out := Evaluate(context.Background(), node, "payload", fakeEvaluator(table, &calls))

	if out.Decision != guardrail.DecisionBlock {
		t.Fatalf("expected AND to block on first failing child, got %s", out.Decision)
	}
	if len(calls) != 1 || calls[0] != "g1" {
		t.Errorf("expected short-circuit after g1, calls = %v", calls)
	}
}

func TestEvaluateANDAllowsWhenAllAllow(t *testing.T) {
	var calls []string
	table := map[string]guardrail.Result{
		"g1": {Decision: guardrail.DecisionAllow, EffectiveScore: 0.1},
		"g2": {Decision: guardrail.DecisionAllow, EffectiveScore: 0.3},
	}
	node := &contracts.DAGNode{Op: contracts.OpAND, Children: []*contracts.DAGNode{leaf("g1"), leaf("g2")}}

	out := Evaluate(context.Background(), node, "payload", fakeEvaluator(table, &calls))

	if out.Decision != guardrail.DecisionAllow {
		t.Fatalf("expected AND to allow when every child allows, got %s", out.Decision)
	}
	if out.Score != 0.3 {
		t.Errorf("expected AND score to be the riskiest (max) child score, got %v", out.Score)
	}
	if len(calls) != 2 {
		t.Errorf("expected both children evaluated, calls = %v", calls)
	}
}

func TestEvaluateORShortCircuitsOnFirstAllow(t *testing.T) {
	var calls []string
	table := map[string]guardrail.Result{
		"g1": {Decision: guardrail.DecisionAllow, EffectiveScore: 0.2},
		"g2": {Decision: guardrail.DecisionBlock, EffectiveScore: 0.9},
	}
	node := &contracts.DAGNode{Op: contracts.OpOR, Children: []*contracts.DAGNode{leaf("g1"), leaf("g2")}}

	out := Evaluate(context.Background(), node, "payload", fakeEvaluator(table, &calls))

	if out.Decision != guardrail.DecisionAllow {
		t.Fatalf("expected OR to allow on first passing child, got %s", out.Decision)
	}
	if len(calls) != 1 || calls[0] != "g1" {
		t.Errorf("expected short-circuit after g1, calls = %v", calls)
	}
}

func TestEvaluateSkipChildrenFoldAsIdentity(t *testing.T) {
	var calls []string
	table := map[string]guardrail.Result{
		"g1": {Decision: guardrail.DecisionSkip, EffectiveScore: 0},
		"g2": {Decision: guardrail.DecisionAllow, EffectiveScore: 0.15},
	}
	node := &contracts.DAGNode{Op: contracts.OpAND, Children: []*contracts.DAGNode{leaf("g1"), leaf("g2")}}

	out := Evaluate(context.Background(), node, "payload", fakeEvaluator(table, &calls))

	if out.Decision != guardrail.DecisionAllow {
		t.Fatalf("expected skip to be folded away, leaving g2's allow, got %s", out.Decision)
	}
}

func TestEvaluateAllChildrenSkipReportsSkip(t *testing.T) {
	var calls []string
	table := map[string]guardrail.Result{
		"g1": {Decision: guardrail.DecisionSkip},
		"g2": {Decision: guardrail.DecisionSkip},
	}
	node := &contracts.DAGNode{Op: contracts.OpOR, Children: []*contracts.DAGNode{leaf("g1"), leaf("g2")}}

	out := Evaluate(context.Background(), node, "payload", fakeEvaluator(table, &calls))

	if out.Decision != guardrail.DecisionSkip {
		t.Fatalf("expected skip when every child skips, got %s", out.Decision)
	}
}

func TestEvaluateNOTInvertsChild(t *testing.T) {
	var calls []string
	table := map[string]guardrail.Result{
		"g1": {Decision: guardrail.DecisionBlock, EffectiveScore: 0.8},
	}
	node := &contracts.DAGNode{Op: contracts.OpNOT, Children: []*contracts.DAGNode{leaf("g1")}}

	out := Evaluate(context.Background(), node, "payload", fakeEvaluator(table, &calls))

	if out.Decision != guardrail.DecisionAllow {
		t.Fatalf("expected NOT to invert a block into an allow, got %s", out.Decision)
	}
	if math.Abs(out.Score-0.2) > 1e-9 {
		t.Errorf("expected inverted score 1-0.8=0.2, got %v", out.Score)
	}
}

func TestEvaluateNOTPassesThroughSkip(t *testing.T) {
	var calls []string
	table := map[string]guardrail.Result{
		"g1": {Decision: guardrail.DecisionSkip},
	}
	node := &contracts.DAGNode{Op: contracts.OpNOT, Children: []*contracts.DAGNode{leaf("g1")}}

	out := Evaluate(context.Background(), node, "payload", fakeEvaluator(table, &calls))

	if out.Decision != guardrail.DecisionSkip {
		t.Fatalf("expected NOT to pass through a skipped child unchanged, got %s", out.Decision)
	}
}

func TestEvaluateNOTRejectsWrongArity(t *testing.T) {
	var calls []string
	node := &contracts.DAGNode{Op: contracts.OpNOT, Children: []*contracts.DAGNode{leaf("g1"), leaf("g2")}}

	out := Evaluate(context.Background(), node, "payload", fakeEvaluator(map[string]guardrail.Result{}, &calls))

	if out.Decision != guardrail.DecisionSkip {
		t.Fatalf("expected malformed NOT node to report skip, got %s", out.Decision)
	}
}

func chainOfDepth(n int) *contracts.DAGNode {
	node := leaf("g")
	for i := 1; i < n; i++ {
		node = &contracts.DAGNode{Op: contracts.OpAND, Children: []*contracts.DAGNode{node}}
	}
	return node
}

func TestValidateDepthRejectsDeepTree(t *testing.T) {
	node := chainOfDepth(MaxDepth + 2)
	if err := ValidateDepth(node); err == nil {
		t.Fatal("expected error for a tree deeper than MaxDepth")
	}
}

func TestValidateDepthAcceptsShallowTree(t *testing.T) {
	node := &contracts.DAGNode{Op: contracts.OpAND, Children: []*contracts.DAGNode{leaf("g1"), leaf("g2")}}
	if err := ValidateDepth(node); err != nil {
		t.Errorf("expected shallow tree to pass, got %v", err)
	}
}
