// Package evidence implements the Evidence Emitter: a fire-and-forget
// audit record POSTed to an evidence sink for every enforced request,
// independent of the Telemetry Pipeline's batched metrics stream.
//
// Adapted from internal/api/evidence.go's EmitEvidence/
// CreateEvidenceFromValidation: same record shape and same
// never-block-the-response goroutine-plus-5s-timeout discipline, with the
// record built from pipeline.RequestRecord/ViolationRecord instead of the
// teacher's gateway.ValidationResult, and the endpoint configured directly
// rather than resolved from CONTROL_PLANE_URL/BACKEND_URL env vars.
package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/policygate/gateway/internal/pipeline"
	"github.com/policygate/gateway/internal/sanitize"
)

// Record is one request's audit evidence.
type Record struct {
	TraceID      string             `json:"trace_id"`
	ContractID   string             `json:"contract_id"`
	TenantID     string             `json:"tenant_id"`
	SafetyScores map[string]float64 `json:"safety_scores"`
	LatencyMs    int64              `json:"latency_ms"`
	Status       string             `json:"status"` // "Allowed", "Blocked", or "Failed"
	Violations   []string           `json:"violations,omitempty"`
}

// Emitter POSTs evidence records to a sink without blocking the caller.
type Emitter struct {
	endpoint   string
	httpClient *http.Client
}

// New builds an Emitter targeting endpoint. An empty endpoint makes Emit a
// no-op, matching the pipeline's tolerance for an unwired Telemetry sink.
func New(endpoint string) *Emitter {
	return &Emitter{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Emit sends rec to the evidence sink in a background goroutine. The
// caller's response is never delayed or affected by the outcome.
func (e *Emitter) Emit(rec Record) {
	if e.endpoint == "" {
		return
	}
	go func() {
		data, err := json.Marshal(rec)
		if err != nil {
			log.WithError(err).Error("failed to marshal evidence record")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/evidence", bytes.NewReader(data))
		if err != nil {
			log.WithError(err).Error("failed to build evidence request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			log.WithError(err).Warn("failed to send evidence to sink")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			log.WithFields(log.Fields{"status_code": resp.StatusCode, "trace_id": rec.TraceID}).
				Warn("evidence sink rejected record")
			return
		}
		log.WithFields(log.Fields{"trace_id": rec.TraceID, "status": rec.Status}).Debug("evidence recorded")
	}()
}

// EmitFromPipeline satisfies pipeline.EvidenceSink: builds a Record from the completed
// request and its violations and sends it via the background Emit above.
func (e *Emitter) EmitFromPipeline(rec pipeline.RequestRecord, violations []pipeline.ViolationRecord) {
	e.Emit(FromRequest(rec, violations))
}

// FromRequest builds a Record from a completed request and the violations
// (if any) it produced, mirroring CreateEvidenceFromValidation's shape.
func FromRequest(rec pipeline.RequestRecord, violations []pipeline.ViolationRecord) Record {
	safetyScores := make(map[string]float64, len(violations))
	var violationStrings []string
	for _, v := range violations {
		safetyScores[v.Metric] = v.Value
		if v.Type == "envelope" {
			violationStrings = append(violationStrings, fmt.Sprintf("%s: %.2f (expected: %.2f-%.2f)", v.Metric, v.Value, v.Min, v.Max))
		} else {
			violationStrings = append(violationStrings, fmt.Sprintf("%s: %.2f (%s)", v.Metric, v.Value, sanitize.Text(v.Detail)))
		}
	}

	return Record{
		TraceID:      rec.TraceID,
		ContractID:   rec.ContractID,
		TenantID:     rec.Tenant,
		SafetyScores: safetyScores,
		LatencyMs:    rec.LatencyMS,
		Status:       string(rec.Outcome),
		Violations:   violationStrings,
	}
}
