package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/policygate/gateway/internal/breaker"
	"github.com/policygate/gateway/pkg/contracts"
	"github.com/policygate/gateway/pkg/guardrail"
)

type fakeContractStore struct {
	contracts map[string]*contracts.Contract
	putErr    error
}

func newFakeContractStore() *fakeContractStore {
	return &fakeContractStore{contracts: map[string]*contracts.Contract{}}
}

func (f *fakeContractStore) Resolve(_ context.Context, contractID string) (*contracts.Contract, error) {
	c, ok := f.contracts[contractID]
	if !ok {
		return nil, fmt.Errorf("contract not found: %s", contractID)
	}
	return c, nil
}

func (f *fakeContractStore) Put(_ context.Context, c *contracts.Contract) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.contracts[c.ContractID] = c
	return nil
}

func newServer() (*Server, *fakeContractStore) {
	store := newFakeContractStore()
	s := &Server{
		Guardrails: guardrail.NewRegistry(),
		Contracts:  store,
		Breakers:   breaker.NewTable(5, time.Second),
		Version:    "test",
	}
	return s, store
}

func TestHealthCheckReportsHealthyByDefault(t *testing.T) {
	s, _ := newServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.HealthCheck(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", body["status"])
	}
}

func TestHealthCheckReportsDegradedWhenBreakerOpen(t *testing.T) {
	s, _ := newServer()
	br := s.Breakers.For("contract-source")
	br.RecordFailure()
	br.RecordFailure()
	br.RecordFailure()
	br.RecordFailure()
	br.RecordFailure()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.HealthCheck(w, req)

	var body map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "degraded" {
		t.Errorf("expected degraded status with an open breaker, got %v", body["status"])
	}
}

func TestReadinessCheckOKWithNoDependenciesConfigured(t *testing.T) {
	s, _ := newServer()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()

	s.ReadinessCheck(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 when no dependencies are wired, got %d", w.Code)
	}
}

func TestListGuardrailsIncludesBuiltins(t *testing.T) {
	s, _ := newServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/guardrails", nil)
	w := httptest.NewRecorder()

	s.ListGuardrails(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body["count"].(float64) == 0 {
		t.Error("expected at least the built-in guardrails listed")
	}
}

func TestRegisterAndGetGuardrail(t *testing.T) {
	s, _ := newServer()
	payload := guardrail.Guardrail{ID: "custom-1", Name: "custom rule", Kind: guardrail.KindKeyword, MetricName: "custom_metric"}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/admin/guardrails", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.RegisterGuardrail(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 registering a guardrail, got %d: %s", w.Code, w.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/admin/guardrails/custom-1", nil)
	getReq = mux.SetURLVars(getReq, map[string]string{"id": "custom-1"})
	getW := httptest.NewRecorder()
	s.GetGuardrail(getW, getReq)

	if getW.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching registered guardrail, got %d", getW.Code)
	}
}

func TestGetGuardrailNotFound(t *testing.T) {
	s, _ := newServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/guardrails/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})
	w := httptest.NewRecorder()

	s.GetGuardrail(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown guardrail, got %d", w.Code)
	}
}

func TestDeleteGuardrailRefusesBuiltin(t *testing.T) {
	s, _ := newServer()
	builtins := s.Guardrails.List()
	if len(builtins) == 0 {
		t.Fatal("expected at least one built-in guardrail to test against")
	}

	req := httptest.NewRequest(http.MethodDelete, "/admin/guardrails/"+builtins[0].ID, nil)
	req = mux.SetURLVars(req, map[string]string{"id": builtins[0].ID})
	w := httptest.NewRecorder()

	s.DeleteGuardrail(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 deleting a built-in guardrail, got %d", w.Code)
	}
}

func TestDeleteGuardrailRemovesDynamic(t *testing.T) {
	s, _ := newServer()
	payload := guardrail.Guardrail{ID: "custom-2", Name: "custom rule", Kind: guardrail.KindKeyword, MetricName: "custom_metric"}
	body, _ := json.Marshal(payload)
	regReq := httptest.NewRequest(http.MethodPost, "/admin/guardrails", bytes.NewReader(body))
	s.RegisterGuardrail(httptest.NewRecorder(), regReq)

	delReq := httptest.NewRequest(http.MethodDelete, "/admin/guardrails/custom-2", nil)
	delReq = mux.SetURLVars(delReq, map[string]string{"id": "custom-2"})
	w := httptest.NewRecorder()
	s.DeleteGuardrail(w, delReq)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 deleting a dynamic guardrail, got %d", w.Code)
	}
	if _, ok := s.Guardrails.Get("custom-2"); ok {
		t.Error("expected guardrail removed from the registry")
	}
}

func TestRegisterGuardrailRejectsMissingFields(t *testing.T) {
	s, _ := newServer()
	body, _ := json.Marshal(map[string]string{"name": "no id"})
	req := httptest.NewRequest(http.MethodPost, "/admin/guardrails", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.RegisterGuardrail(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a guardrail missing required fields, got %d", w.Code)
	}
}

func TestPutAndGetContract(t *testing.T) {
	s, store := newServer()
	contract := contracts.Contract{
		ContractID: "c1",
		Status:     contracts.StatusActive,
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	body, _ := json.Marshal(contract)

	putReq := httptest.NewRequest(http.MethodPost, "/admin/contracts", bytes.NewReader(body))
	putW := httptest.NewRecorder()
	s.PutContract(putW, putReq)

	if putW.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", putW.Code, putW.Body.String())
	}
	if _, ok := store.contracts["c1"]; !ok {
		t.Fatal("expected contract stored in the fake contract store")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/admin/contracts/c1", nil)
	getReq = mux.SetURLVars(getReq, map[string]string{"id": "c1"})
	getW := httptest.NewRecorder()
	s.GetContract(getW, getReq)

	if getW.Code != http.StatusOK {
		t.Errorf("expected 200 fetching the stored contract, got %d", getW.Code)
	}
}

func TestGetContractNotFound(t *testing.T) {
	s, _ := newServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/contracts/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})
	w := httptest.NewRecorder()

	s.GetContract(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown contract, got %d", w.Code)
	}
}

func TestPutContractRejectsMissingID(t *testing.T) {
	s, _ := newServer()
	body, _ := json.Marshal(map[string]string{"name": "no id"})
	req := httptest.NewRequest(http.MethodPost, "/admin/contracts", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.PutContract(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a contract missing contract_id, got %d", w.Code)
	}
}
