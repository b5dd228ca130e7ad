// Package admin implements the Admin/Observability Surface: health,
// Prometheus metrics, guardrail and contract CRUD, and a server-sent-events
// telemetry stream, routed with gorilla/mux the way internal/api/handler.go
// routes its own endpoints (RegisterRoutes, path-prefixed subrouters,
// per-route method restriction).
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/policygate/gateway/internal/breaker"
	"github.com/policygate/gateway/internal/cache"
	"github.com/policygate/gateway/internal/telemetry"
	"github.com/policygate/gateway/pkg/contracts"
	"github.com/policygate/gateway/pkg/guardrail"
)

// ContractStore is the subset of *contractstore.Store the admin surface
// needs for direct CRUD on cached contracts, kept as an interface so tests
// can substitute a fake.
type ContractStore interface {
	Resolve(ctx context.Context, contractID string) (*contracts.Contract, error)
	Put(ctx context.Context, c *contracts.Contract) error
}

// Server holds every dependency the admin endpoints read or mutate.
type Server struct {
	Guardrails        *guardrail.Registry
	GuardrailRepoPath string
	Contracts         ContractStore
	Breakers          *breaker.Table
	Telemetry         *telemetry.Pipeline
	Cache             cache.Store
	ContractSourceURL string
	Version           string

	httpClient *http.Client
}

// RegisterRoutes mounts every admin endpoint onto router, mirroring
// Handler.RegisterRoutes's grouping of public vs. path-prefixed routes.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.HealthCheck).Methods("GET")
	router.HandleFunc("/health/ready", s.ReadinessCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/admin/stream", s.StreamTelemetry).Methods("GET")

	admin := router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/guardrails", s.ListGuardrails).Methods("GET")
	admin.HandleFunc("/guardrails", s.RegisterGuardrail).Methods("POST")
	admin.HandleFunc("/guardrails/{id}", s.GetGuardrail).Methods("GET")
	admin.HandleFunc("/guardrails/{id}", s.DeleteGuardrail).Methods("DELETE")

	admin.HandleFunc("/contracts/{id}", s.GetContract).Methods("GET")
	admin.HandleFunc("/contracts", s.PutContract).Methods("POST")

	log.Info("admin surface routes registered")
}

// HealthCheck reports process liveness plus each dependency breaker's
// state, adapted from Handler.HealthCheck's flat status payload.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	breakers := map[string]string{}
	if s.Breakers != nil {
		for name, st := range s.Breakers.States() {
			breakers[name] = st.String()
			if st == breaker.Open {
				status = "degraded"
			}
		}
	}

	dropped := uint64(0)
	if s.Telemetry != nil {
		dropped = s.Telemetry.DroppedCount()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"version":          s.Version,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"breakers":         breakers,
		"telemetry_dropped": dropped,
	})
}

// ReadinessCheck probes every external dependency concurrently and fails
// if any is unreachable, unlike HealthCheck's liveness-only (no outbound
// calls) response. The two probes are genuinely independent I/O calls with
// no ordering requirement between them, so they run via errgroup rather
// than sequentially.
func (s *Server) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	results := map[string]string{}

	if s.Cache != nil {
		g.Go(func() error {
			_, _, err := s.Cache.Get(gctx, "readiness-probe")
			if err != nil {
				results["cache"] = "unreachable: " + err.Error()
				return err
			}
			results["cache"] = "ok"
			return nil
		})
	}

	if s.ContractSourceURL != "" {
		g.Go(func() error {
			if err := s.probeContractSource(gctx); err != nil {
				results["contract_source"] = "unreachable: " + err.Error()
				return err
			}
			results["contract_source"] = "ok"
			return nil
		})
	}

	err := g.Wait()
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"ready": err == nil, "checks": results})
}

func (s *Server) probeContractSource(ctx context.Context) error {
	client := s.httpClient
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.ContractSourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// ListGuardrails handles GET /admin/guardrails.
func (s *Server) ListGuardrails(w http.ResponseWriter, r *http.Request) {
	list := s.Guardrails.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": len(list), "guardrails": list})
}

// GetGuardrail handles GET /admin/guardrails/{id}.
func (s *Server) GetGuardrail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	g, ok := s.Guardrails.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("guardrail not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// RegisterGuardrail handles POST /admin/guardrails, adapted from
// Handler.RegisterGuardrail: decode, compile-and-publish via the registry,
// then persist to the repository directory for restart durability.
func (s *Server) RegisterGuardrail(w http.ResponseWriter, r *http.Request) {
	var g guardrail.Guardrail
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if g.ID == "" || g.Name == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: id, name")
		return
	}
	g.Origin = guardrail.OriginDynamic

	if err := s.Guardrails.Register(&g); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.GuardrailRepoPath != "" {
		if err := guardrail.SaveToDirectory(&g, s.GuardrailRepoPath); err != nil {
			log.WithError(err).Warn("failed to persist guardrail to repository, continuing anyway")
		}
	}

	log.WithFields(log.Fields{"guardrail_id": g.ID, "name": g.Name}).Info("guardrail registered")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "guardrail_id": g.ID})
}

// DeleteGuardrail handles DELETE /admin/guardrails/{id}, refusing to
// remove built-in guardrails the way Handler.DeleteGuardrail refuses to
// remove static ones.
func (s *Server) DeleteGuardrail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	g, ok := s.Guardrails.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("guardrail not found: %s", id))
		return
	}
	if g.Origin != guardrail.OriginDynamic {
		writeError(w, http.StatusForbidden, "cannot delete a built-in guardrail")
		return
	}

	s.Guardrails.Remove(id)
	if s.GuardrailRepoPath != "" {
		if err := guardrail.DeleteFromDirectory(id, s.GuardrailRepoPath); err != nil {
			log.WithError(err).Warn("failed to delete guardrail from repository, continuing anyway")
		}
	}

	log.WithField("guardrail_id", id).Info("guardrail deleted")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// GetContract handles GET /admin/contracts/{id}.
func (s *Server) GetContract(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := s.Contracts.Resolve(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("contract not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// PutContract handles POST /admin/contracts, adapted from
// Handler.RegisterContract's decode-and-store shape.
func (s *Server) PutContract(w http.ResponseWriter, r *http.Request) {
	var c contracts.Contract
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if c.ContractID == "" {
		writeError(w, http.StatusBadRequest, "missing contract_id")
		return
	}
	if err := s.Contracts.Put(r.Context(), &c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store contract: "+err.Error())
		return
	}
	log.WithField("contract_id", c.ContractID).Info("contract registered")
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "contract_id": c.ContractID})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": "ADMIN_ERROR", "message": message})
}
