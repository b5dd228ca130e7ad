// Package pipeline implements the Enforcement Pipeline: per-request
// orchestration across contract resolution, pre-check, forwarding,
// post-check, and response emission, as the explicit state machine
// described in state.go.
//
// Grounded on internal/api/proxy.go's ProxyRequest for the overall
// resolve -> pre-check -> forward -> post-check -> respond shape and its
// X-ACVPS-* observability header convention (renamed to X-PolicyGate-*
// here), and on internal/api/handler.go for the contract-id/tenant-id
// header extraction convention.
package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/policygate/gateway/internal/contractstore"
	"github.com/policygate/gateway/internal/dag"
	"github.com/policygate/gateway/internal/envelope"
	"github.com/policygate/gateway/internal/upstream"
	"github.com/policygate/gateway/pkg/contracts"
	"github.com/policygate/gateway/pkg/guardrail"
	"github.com/policygate/gateway/pkg/gwerrors"
)

// ContractIDHeader and TenantIDHeader name the headers the pipeline reads
// to resolve a request's contract and tenant. LegacyContractIDHeader is
// honored as a fallback when ContractIDHeader is absent, matching the
// teacher's own handler.go/proxy.go/stream_handler.go dual-header support.
const (
	ContractIDHeader       = "X-Contract-ID"
	LegacyContractIDHeader = "X-DC-Id"
	TenantIDHeader         = "X-Tenant-ID"
	PolicyDigestHeader     = "X-Policy-Digest"
)

// DefaultMaxResponseBody is the bound used when Pipeline.MaxResponseBody is
// zero: how much of an upstream response is buffered for post-checking;
// larger bodies pass through unchecked per spec.md §4.7.
const DefaultMaxResponseBody = 1 << 20 // 1 MiB

// Sink receives completed-request and violation telemetry without the
// pipeline depending on the telemetry package's batching/spill internals.
type Sink interface {
	EnqueueRequest(rec RequestRecord)
	EnqueueViolation(rec ViolationRecord)
}

// EvidenceSink receives one audit record per completed request, independent
// of the batched Sink telemetry stream.
type EvidenceSink interface {
	EmitFromPipeline(rec RequestRecord, violations []ViolationRecord)
}

// RequestRecord is one completed request's telemetry summary.
type RequestRecord struct {
	Tenant     string
	TraceID    string
	ContractID string
	Method     string
	Path       string
	StatusCode int
	LatencyMS  int64
	ReqBytes   int
	RespBytes  int
	Outcome    Outcome
}

// ViolationRecord is one guardrail or envelope violation surfaced during
// enforcement. JSON tags match spec.md §6's blocked-response violation
// shape directly, since this struct is also what writeBlocked serializes
// into the caller-facing response body.
type ViolationRecord struct {
	Tenant     string  `json:"-"`
	TraceID    string  `json:"-"`
	ContractID string  `json:"-"`
	Phase      Phase   `json:"-"`
	Type       string  `json:"-"` // "guardrail" or "envelope"
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Severity   string  `json:"severity"`
	Detail     string  `json:"-"`
}

// Registry is the subset of *guardrail.Registry the pipeline needs, kept as
// an interface so tests can substitute a fake.
type Registry interface {
	Get(id string) (*guardrail.Guardrail, bool)
}

// Pipeline wires every enforcement-path component together and exposes a
// single http.Handler entry point.
type Pipeline struct {
	Contracts       *contractstore.Store
	Guardrails      Registry
	Proxy           *upstream.Proxy
	Telemetry       Sink
	Evidence        EvidenceSink
	LLM             guardrail.LLMCallConfig
	FailOpen        bool
	MaxResponseBody int
}

// Handle runs the full state machine for one request and writes the result
// to w. It never panics on a nil Telemetry or Guardrails — callers wire
// real implementations in production and fakes in tests.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	traceID := newTraceID()
	tenantID := r.Header.Get(TenantIDHeader)
	contractID := r.Header.Get(ContractIDHeader)
	if contractID == "" {
		contractID = r.Header.Get(LegacyContractIDHeader)
	}

	rec := RequestRecord{Tenant: tenantID, TraceID: traceID, ContractID: contractID, Method: r.Method, Path: r.URL.Path}
	var allViolations []ViolationRecord
	defer func() {
		rec.LatencyMS = time.Since(start).Milliseconds()
		p.enqueueRequest(rec)
		p.emitEvidence(rec, allViolations)
	}()

	ctx := r.Context()

	// Resolving
	contract, err := p.resolve(ctx, contractID)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.StatusCode = p.writeFailure(w, err)
		return
	}

	if digest := r.Header.Get(PolicyDigestHeader); digest != "" && digest != contract.PolicyDigest {
		rec.Outcome = OutcomeFailed
		rec.StatusCode = p.writeFailure(w, gwerrors.New(gwerrors.KindInvalid, "policy digest mismatch"))
		return
	}

	reqBody, err := readBody(r)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.StatusCode = p.writeFailure(w, gwerrors.New(gwerrors.KindInvalid, "reading request body: "+err.Error()))
		return
	}
	rec.ReqBytes = len(reqBody)

	// PreChecking
	if contract.CheckOnRequest {
		blocked, violations := p.check(ctx, contract, reqBody, PhaseInput, tenantID, traceID, contract.ContractID)
		allViolations = append(allViolations, violations...)
		if blocked {
			rec.Outcome = OutcomeBlocked
			rec.StatusCode = http.StatusForbidden
			p.writeBlocked(w, traceID, contract.ContractID, PhaseInput, violations)
			return
		}
	}

	// Forwarding
	upstreamResp, err := p.Proxy.Forward(ctx, r, reqBody)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.StatusCode = p.writeFailure(w, err)
		return
	}
	rec.RespBytes = len(upstreamResp.Body)

	// PostChecking
	postCheckSkipped := len(upstreamResp.Body) > p.maxResponseBody()
	if contract.CheckOnResponse && !postCheckSkipped {
		blocked, violations := p.check(ctx, contract, upstreamResp.Body, PhaseOutput, tenantID, traceID, contract.ContractID)
		allViolations = append(allViolations, violations...)
		if blocked {
			rec.Outcome = OutcomeBlocked
			rec.StatusCode = http.StatusForbidden
			p.writeBlocked(w, traceID, contract.ContractID, PhaseOutput, violations)
			return
		}
	}

	// Responding
	rec.Outcome = OutcomeAllowed
	rec.StatusCode = upstreamResp.StatusCode
	p.writeAllowed(w, upstreamResp, traceID, postCheckSkipped)
}

func (p *Pipeline) resolve(ctx context.Context, contractID string) (*contracts.Contract, error) {
	if contractID == "" {
		return nil, gwerrors.New(gwerrors.KindInvalid, "missing "+ContractIDHeader+" header")
	}
	c, err := p.Contracts.Resolve(ctx, contractID)
	if err != nil {
		if gwerrors.Is(err, gwerrors.KindUnavailable) && p.FailOpen {
			log.WithField("contract_id", contractID).Warn("contract source unavailable, fail-open: proceeding with no enforcement")
			return &contracts.Contract{ContractID: contractID, Status: contracts.StatusActive, ExpiresAt: time.Now().Add(time.Hour)}, nil
		}
		return nil, err
	}
	return c, nil
}

// check runs the Composite DAG and Envelope Checker against payload for the
// given phase, returning whether the request should be blocked and the
// violations to report.
func (p *Pipeline) check(ctx context.Context, contract *contracts.Contract, body []byte, phase Phase, tenantID, traceID, contractID string) (bool, []ViolationRecord) {
	text := extractText(body)

	evalFn := func(ctx context.Context, guardrailID string, payload string) guardrail.Result {
		g, ok := p.Guardrails.Get(guardrailID)
		if !ok {
			return guardrail.Result{GuardrailID: guardrailID, Decision: guardrail.DecisionSkip, Reason: "guardrail not registered"}
		}
		return guardrail.Evaluate(ctx, g, payload, p.LLM)
	}

	tree := contract.EffectiveDAG()
	outcome := dag.Evaluate(ctx, tree, text, evalFn)

	var violations []ViolationRecord
	blocked := outcome.Decision == guardrail.DecisionBlock
	if outcome.Decision == guardrail.DecisionReview && contract.Profile != contracts.ProfileObserve {
		blocked = true
	}

	for _, leaf := range outcome.Leaves {
		severity := ""
		switch leaf.Decision {
		case guardrail.DecisionBlock:
			severity = "block"
		case guardrail.DecisionReview:
			severity = "review"
		default:
			continue
		}
		for metric, value := range leaf.Metrics {
			violations = append(violations, ViolationRecord{
				Tenant: tenantID, TraceID: traceID, ContractID: contractID,
				Phase: phase, Type: "guardrail", Metric: metric, Value: value,
				Severity: severity, Detail: leaf.Reason,
			})
		}
	}

	metrics := collectMetrics(outcome)
	envViolations := envelope.Check(contract.Envelope, metrics, envelopePhase(phase))
	if len(envViolations) > 0 {
		blocked = true
		for _, v := range envViolations {
			violations = append(violations, ViolationRecord{
				Tenant: tenantID, TraceID: traceID, ContractID: contractID,
				Phase: phase, Type: "envelope", Metric: v.Metric, Value: v.Value,
				Min: v.Min, Max: v.Max, Severity: "block",
			})
		}
	}

	for _, v := range violations {
		p.enqueueViolation(v)
	}

	return blocked, violations
}

// envelopePhase maps a pipeline Phase (input/output, named after where the
// payload came from in the request lifecycle) to the contracts.Phase
// vocabulary (request/response) that Bounds.AppliesTo checks against.
func envelopePhase(phase Phase) contracts.Phase {
	if phase == PhaseOutput {
		return contracts.PhaseResponse
	}
	return contracts.PhaseRequest
}

func collectMetrics(outcome dag.Outcome) map[string]float64 {
	metrics := make(map[string]float64)
	for _, leaf := range outcome.Leaves {
		for k, v := range leaf.Metrics {
			metrics[k] = v
		}
	}
	return metrics
}

func (p *Pipeline) maxResponseBody() int {
	if p.MaxResponseBody > 0 {
		return p.MaxResponseBody
	}
	return DefaultMaxResponseBody
}

func (p *Pipeline) writeBlocked(w http.ResponseWriter, traceID, contractID string, phase Phase, violations []ViolationRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-PolicyGate-Status", "blocked")
	w.Header().Set("X-PolicyGate-Trace-ID", traceID)
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       blockedErrorCode(phase),
		"contract_id": contractID,
		"violations":  violations,
		"trace_id":    traceID,
	})
}

// blockedErrorCode names the spec.md §6 error value for a blocked phase:
// pre-check blocks are INPUT_BLOCKED, post-check blocks are OUTPUT_BLOCKED.
func blockedErrorCode(phase Phase) string {
	if phase == PhaseOutput {
		return "OUTPUT_BLOCKED"
	}
	return "INPUT_BLOCKED"
}

func (p *Pipeline) writeFailure(w http.ResponseWriter, err error) int {
	status := 500
	msg := err.Error()
	if gwErr, ok := err.(*gwerrors.Error); ok {
		status = gwerrors.HTTPStatus(gwErr.Kind)
		msg = gwErr.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
	return status
}

func (p *Pipeline) writeAllowed(w http.ResponseWriter, resp *upstream.Response, traceID string, postCheckSkipped bool) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("X-PolicyGate-Status", "passed")
	w.Header().Set("X-PolicyGate-Trace-ID", traceID)
	if postCheckSkipped {
		w.Header().Set("X-PolicyGate-Post-Check", "skipped")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (p *Pipeline) enqueueRequest(rec RequestRecord) {
	if p.Telemetry != nil {
		p.Telemetry.EnqueueRequest(rec)
	}
}

func (p *Pipeline) enqueueViolation(rec ViolationRecord) {
	if p.Telemetry != nil {
		p.Telemetry.EnqueueViolation(rec)
	}
}

func (p *Pipeline) emitEvidence(rec RequestRecord, violations []ViolationRecord) {
	if p.Evidence != nil {
		p.Evidence.EmitFromPipeline(rec, violations)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func newTraceID() string {
	return uuid.New().String()
}
