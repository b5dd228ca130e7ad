// Package contractstore implements the Contract Store: cache-then-HTTP
// resolution of a contract by id, with circuit-breaker-gated source calls
// and status/expiry validation.
//
// Grounded on pkg/gateway/boot.go's ContractRuntimeTable (global
// cache-or-load table, RWMutex-guarded map of bindings) and
// internal/validation/validator.go's ValidateContract (status/suite/expiry
// checks), with the blockchain half of ValidateContract dropped — on-chain
// verification is out of scope (see DESIGN.md "Dropped teacher
// dependencies"). Replaces boot.go's package-level global map and mutex
// with a constructor-injected struct per spec.md §9's explicit-dependency-
// graph redesign note.
package contractstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/policygate/gateway/internal/breaker"
	"github.com/policygate/gateway/internal/cache"
	"github.com/policygate/gateway/internal/dag"
	"github.com/policygate/gateway/pkg/contracts"
	"github.com/policygate/gateway/pkg/gwerrors"
)

// Store resolves contracts by id, preferring a cache hit over a source
// round trip, and gates the source call behind a circuit breaker so a
// degraded contract backend fails fast instead of piling up latency.
type Store struct {
	cache      cache.Store
	cacheTTL   time.Duration
	sourceURL  string
	httpClient *http.Client
	breaker    *breaker.Breaker
	apiKey     string
}

// New builds a Store. sourceURL is the contract backend's base URL (e.g.
// "https://contracts.internal/api/gateway"); GET {sourceURL}/contracts/{id}
// is expected to return one Contract as JSON.
func New(cacheStore cache.Store, cacheTTL time.Duration, sourceURL, apiKey string, timeout time.Duration, br *breaker.Breaker) *Store {
	return &Store{
		cache:      cacheStore,
		cacheTTL:   cacheTTL,
		sourceURL:  sourceURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    br,
		apiKey:     apiKey,
	}
}

// Resolve returns the active, validated contract for id. Typed errors:
// KindNotFound (never existed), KindRevoked/KindExpired (status/window
// invalid), KindUnavailable (breaker open or source error with no cache
// fallback), KindInvalid (DAG depth rejected).
func (s *Store) Resolve(ctx context.Context, contractID string) (*contracts.Contract, error) {
	if c, ok := s.getCached(ctx, contractID); ok {
		return s.validate(c)
	}

	c, err := s.fetchFromSource(ctx, contractID)
	if err != nil {
		return nil, err
	}

	s.setCached(ctx, c)
	return s.validate(c)
}

// Put writes c directly into the cache, bypassing the source fetch. Used
// by the admin surface to register or update a contract without a round
// trip through the external contract source.
func (s *Store) Put(ctx context.Context, c *contracts.Contract) error {
	if _, err := s.validate(c); err != nil {
		return err
	}
	s.setCached(ctx, c)
	return nil
}

func (s *Store) getCached(ctx context.Context, contractID string) (*contracts.Contract, bool) {
	var c contracts.Contract
	hit, err := cache.GetJSON(ctx, s.cache, cacheKey(contractID), &c)
	if err != nil {
		log.WithError(err).WithField("contract_id", contractID).Warn("contract cache read failed")
		return nil, false
	}
	if !hit {
		return nil, false
	}
	return &c, true
}

func (s *Store) setCached(ctx context.Context, c *contracts.Contract) {
	if err := cache.SetJSON(ctx, s.cache, cacheKey(c.ContractID), c, s.cacheTTL); err != nil {
		log.WithError(err).WithField("contract_id", c.ContractID).Warn("contract cache write failed")
	}
}

func cacheKey(contractID string) string {
	return "contract:" + contractID
}

func (s *Store) fetchFromSource(ctx context.Context, contractID string) (*contracts.Contract, error) {
	if !s.breaker.Allow() {
		return nil, gwerrors.New(gwerrors.KindUnavailable, "contract source circuit open")
	}

	c, err := s.doFetch(ctx, contractID)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, err
	}
	s.breaker.RecordSuccess()
	return c, nil
}

func (s *Store) doFetch(ctx context.Context, contractID string) (*contracts.Contract, error) {
	url := fmt.Sprintf("%s/contracts/%s", s.sourceURL, contractID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindInternal, err.Error())
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, gwerrors.New(gwerrors.KindNotFound, "contract "+contractID+" not found")
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return nil, gwerrors.New(gwerrors.KindUpstream5xx, string(body))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, gwerrors.New(gwerrors.KindInvalid, string(body))
	}

	var c contracts.Contract
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return nil, gwerrors.New(gwerrors.KindInvalid, "malformed contract payload: "+err.Error())
	}
	return &c, nil
}

// validate enforces status/expiry and DAG-depth invariants on a resolved
// contract before it is handed to the enforcement pipeline.
func (s *Store) validate(c *contracts.Contract) (*contracts.Contract, error) {
	switch c.Status {
	case contracts.StatusRevoked:
		return nil, gwerrors.New(gwerrors.KindRevoked, "contract "+c.ContractID+" revoked")
	case contracts.StatusExpired:
		return nil, gwerrors.New(gwerrors.KindExpired, "contract "+c.ContractID+" expired")
	}
	if !c.IsValid(time.Now()) {
		return nil, gwerrors.New(gwerrors.KindExpired, "contract "+c.ContractID+" past expiry")
	}
	if c.PolicyDigest == "" {
		return nil, gwerrors.New(gwerrors.KindInvalid, "contract "+c.ContractID+" has no policy digest")
	}
	if err := dag.ValidateDepth(c.EffectiveDAG()); err != nil {
		return nil, gwerrors.New(gwerrors.KindInvalid, err.Error())
	}
	return c, nil
}
