// Package telemetry implements the Telemetry Pipeline: a non-blocking
// bounded queue of request/violation records, drained by a background
// worker into size-or-time batches POSTed to a sink, with an NDJSON
// spill-to-disk fallback when the sink is unreachable.
//
// Adapted from pkg/telemetry/batch.go's BatchCollector: the RequestEvent/
// ViolationEvent shapes, batch-size-or-interval flush trigger, and
// fire-and-forget POST are kept, but the buffering primitive changes from a
// mutex-guarded slice with drop-oldest backpressure to a buffered channel
// with drop-newest-on-full, matching spec.md §4.10's literal "if the queue
// is full, the record is dropped and a drop-counter increments" (the
// teacher's own drop-oldest choice silently discards older, possibly
// already-reported-elsewhere events; dropping the newest and counting it is
// the simpler, more honest metric). The package-level singleton
// (defaultCollector/sync.Once) is also replaced by a constructor-injected
// struct per spec.md §9's redesign note.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/policygate/gateway/internal/pipeline"
	"github.com/policygate/gateway/internal/sanitize"
)

// RequestEvent is the wire shape of one request telemetry record.
type RequestEvent struct {
	Timestamp         string `json:"timestamp"`
	TenantID          string `json:"tenant_id"`
	TraceID           string `json:"trace_id"`
	ContractID        string `json:"contract_id"`
	Method            string `json:"method"`
	Path              string `json:"path"`
	StatusCode        int    `json:"status_code"`
	ResponseTimeMs    int64  `json:"response_time_ms"`
	RequestSizeBytes  int    `json:"request_size_bytes"`
	ResponseSizeBytes int    `json:"response_size_bytes"`
	Outcome           string `json:"outcome"`
}

// ViolationEvent is the wire shape of one violation telemetry record.
type ViolationEvent struct {
	Timestamp     string  `json:"timestamp"`
	TenantID      string  `json:"tenant_id"`
	TraceID       string  `json:"trace_id"`
	ContractID    string  `json:"contract_id"`
	Phase         string  `json:"phase"`
	ViolationType string  `json:"violation_type"`
	MetricName    string  `json:"metric_name"`
	MetricValue   float64 `json:"metric_value"`
	ThresholdMin  float64 `json:"threshold_min,omitempty"`
	ThresholdMax  float64 `json:"threshold_max,omitempty"`
	Severity      string  `json:"severity"`
	Detail        string  `json:"detail,omitempty"`
}

type batch struct {
	Requests   []RequestEvent   `json:"requests"`
	Violations []ViolationEvent `json:"violations"`
}

// Config carries the Telemetry Pipeline's tunables.
type Config struct {
	SinkURL       string
	BatchSize     int
	BatchInterval time.Duration
	QueueCapacity int
	SpillPath     string
	SpillMaxBytes int64
}

// Pipeline drains a bounded queue of telemetry records into periodic
// batches POSTed to a sink, spilling to a local NDJSON file on sink error.
// It implements pipeline.Sink.
type Pipeline struct {
	cfg        Config
	httpClient *http.Client

	requests   chan RequestEvent
	violations chan ViolationEvent

	dropped atomic.Uint64

	mu          sync.Mutex
	bufRequests []RequestEvent
	bufViol     []ViolationEvent

	stop chan struct{}
	done chan struct{}
}

var _ pipeline.Sink = (*Pipeline)(nil)

// New builds a Pipeline with its queue allocated but its background worker
// not yet started; call Start to begin draining.
func New(cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 5 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1000
	}
	return &Pipeline{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		requests:   make(chan RequestEvent, cfg.QueueCapacity),
		violations: make(chan ViolationEvent, cfg.QueueCapacity),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// EnqueueRequest converts a pipeline.RequestRecord and enqueues it,
// dropping it and incrementing the drop counter if the queue is full.
func (p *Pipeline) EnqueueRequest(rec pipeline.RequestRecord) {
	event := RequestEvent{
		Timestamp:         time.Now().UTC().Format(time.RFC3339Nano),
		TenantID:          rec.Tenant,
		TraceID:           rec.TraceID,
		ContractID:        rec.ContractID,
		Method:            rec.Method,
		Path:              rec.Path,
		StatusCode:        rec.StatusCode,
		ResponseTimeMs:    rec.LatencyMS,
		RequestSizeBytes:  rec.ReqBytes,
		ResponseSizeBytes: rec.RespBytes,
		Outcome:           string(rec.Outcome),
	}
	select {
	case p.requests <- event:
	default:
		p.dropped.Add(1)
		log.Warn("telemetry request queue full, dropping record")
	}
}

// EnqueueViolation converts a pipeline.ViolationRecord and enqueues it.
func (p *Pipeline) EnqueueViolation(rec pipeline.ViolationRecord) {
	event := ViolationEvent{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		TenantID:      rec.Tenant,
		TraceID:       rec.TraceID,
		ContractID:    rec.ContractID,
		Phase:         string(rec.Phase),
		ViolationType: rec.Type,
		MetricName:    rec.Metric,
		MetricValue:   rec.Value,
		ThresholdMin:  rec.Min,
		ThresholdMax:  rec.Max,
		Severity:      rec.Severity,
		Detail:        sanitize.Text(rec.Detail),
	}
	select {
	case p.violations <- event:
	default:
		p.dropped.Add(1)
		log.Warn("telemetry violation queue full, dropping record")
	}
}

// DroppedCount reports how many records have been dropped since startup,
// for the admin/observability surface.
func (p *Pipeline) DroppedCount() uint64 {
	return p.dropped.Load()
}

// Start launches the background worker that batches and ships queued
// records. It is started last and stopped first in the gateway's lifecycle,
// so no in-flight request ever blocks on it.
func (p *Pipeline) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop signals the worker to flush and exit, and waits for it to finish.
func (p *Pipeline) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case req := <-p.requests:
			p.bufferRequest(req)
		case v := <-p.violations:
			p.bufferViolation(v)
		case <-ticker.C:
			p.flush()
		case <-ctx.Done():
			p.flush()
			return
		case <-p.stop:
			p.drain()
			p.flush()
			return
		}
	}
}

// drain empties whatever is still sitting in the channels after a stop
// signal, so a graceful shutdown doesn't lose the last few records.
func (p *Pipeline) drain() {
	for {
		select {
		case req := <-p.requests:
			p.bufferRequest(req)
		case v := <-p.violations:
			p.bufferViolation(v)
		default:
			return
		}
	}
}

func (p *Pipeline) bufferRequest(req RequestEvent) {
	p.mu.Lock()
	p.bufRequests = append(p.bufRequests, req)
	full := len(p.bufRequests) >= p.cfg.BatchSize
	p.mu.Unlock()
	if full {
		p.flush()
	}
}

func (p *Pipeline) bufferViolation(v ViolationEvent) {
	p.mu.Lock()
	p.bufViol = append(p.bufViol, v)
	full := len(p.bufViol) >= p.cfg.BatchSize
	p.mu.Unlock()
	if full {
		p.flush()
	}
}

func (p *Pipeline) flush() {
	p.mu.Lock()
	if len(p.bufRequests) == 0 && len(p.bufViol) == 0 {
		p.mu.Unlock()
		return
	}
	b := batch{Requests: p.bufRequests, Violations: p.bufViol}
	p.bufRequests = nil
	p.bufViol = nil
	p.mu.Unlock()

	if err := p.send(b); err != nil {
		log.WithError(err).Warn("telemetry sink unreachable, spilling batch to disk")
		if spillErr := p.spill(b); spillErr != nil {
			log.WithError(spillErr).Error("telemetry spill-to-disk failed, batch lost")
		}
	}
}

func (p *Pipeline) send(b batch) error {
	if p.cfg.SinkURL == "" {
		return fmt.Errorf("no telemetry sink configured")
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, p.cfg.SinkURL+"/ingest/batch", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telemetry sink returned %d", resp.StatusCode)
	}
	return nil
}
