// Package tenant implements the Tenant Auth Middleware: API-key-to-tenant
// resolution and request-context propagation for multi-tenant deployments.
//
// Adapted from internal/api/tenant.go's TenantAuthMiddleware/
// DefaultTenantConfig/GetTenantID, generalized from a single static-key map
// to the Config shape (config.TenantConfig.StaticKeys), with the
// Redis-backed ApiKeyValidator path (internal/api/apikey_validator.go) kept
// as an optional second source ahead of the static map.
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/policygate/gateway/internal/cache"
)

type contextKey string

const tenantContextKey contextKey = "tenant_id"

// Config holds tenant authentication configuration.
type Config struct {
	AuthEnabled bool
	StaticKeys  map[string]string // api key -> tenant id
	Validator   *APIKeyValidator  // optional cache-backed validator, tried first
}

// Middleware extracts and validates the tenant for each request, storing
// the resolved tenant id in the request context. With AuthEnabled false it
// trusts X-Tenant-ID (or defaults to "default"), matching local/dev mode.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headerTenant := r.Header.Get("X-Tenant-ID")
			apiKey := r.Header.Get("X-API-Key")

			if !cfg.AuthEnabled {
				if headerTenant == "" {
					headerTenant = "default"
				}
				next.ServeHTTP(w, r.WithContext(withTenant(r.Context(), headerTenant)))
				return
			}

			if apiKey == "" {
				writeAuthError(w, "missing X-API-Key header")
				return
			}

			resolved, err := resolveTenant(r.Context(), cfg, apiKey)
			if err != nil {
				log.WithField("api_key", maskAPIKey(apiKey)).WithError(err).Warn("api key validation failed")
				writeAuthError(w, "invalid API key")
				return
			}

			if headerTenant != "" && headerTenant != resolved {
				writeForbidden(w, "tenant id does not match API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(withTenant(r.Context(), resolved)))
		})
	}
}

func resolveTenant(ctx context.Context, cfg Config, apiKey string) (string, error) {
	if cfg.Validator != nil {
		if tenantID, err := cfg.Validator.Validate(ctx, apiKey); err == nil {
			return tenantID, nil
		}
	}
	tenantID, ok := cfg.StaticKeys[apiKey]
	if !ok {
		return "", fmt.Errorf("unknown api key")
	}
	return tenantID, nil
}

func withTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenantID)
}

// FromContext returns the tenant id resolved by Middleware, or "default"
// when none is present (e.g. in tests that don't wire the middleware).
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantContextKey).(string); ok && v != "" {
		return v
	}
	return "default"
}

func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "****" + apiKey[len(apiKey)-4:]
}

func writeAuthError(w http.ResponseWriter, message string) {
	writeJSONStatus(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeJSONStatus(w, http.StatusForbidden, "AUTHENTICATION_ERROR", message)
}

func writeJSONStatus(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

// APIKeyValidator resolves an API key to a tenant id via a cache-backed
// lookup, adapted from internal/api/apikey_validator.go's ValidateApiKey:
// hash the presented key, look up "apikey:{sha256}" in the cache, and
// return the tenant id it maps to.
type APIKeyValidator struct {
	cache cache.Store
}

// NewAPIKeyValidator builds a validator backed by store.
func NewAPIKeyValidator(store cache.Store) *APIKeyValidator {
	return &APIKeyValidator{cache: store}
}

// Validate hashes apiKey and looks up its tenant binding in the cache.
func (v *APIKeyValidator) Validate(ctx context.Context, apiKey string) (string, error) {
	sum := sha256.Sum256([]byte(apiKey))
	key := "apikey:" + hex.EncodeToString(sum[:])

	tenantID, hit, err := v.cache.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !hit || tenantID == "" {
		return "", fmt.Errorf("api key not recognized")
	}
	return tenantID, nil
}
