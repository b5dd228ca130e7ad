// Command gateway wires every Enforcement Pipeline component together and
// serves the proxy and admin surfaces over HTTP, adapted from the
// teacher's cmd/server bootstrap: read config, build long-lived
// dependencies (cache, registry, breakers, telemetry) once, inject them
// into per-request components, and wire graceful shutdown with the
// documented start-last/stop-first order for the Telemetry Pipeline.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/policygate/gateway/internal/admin"
	"github.com/policygate/gateway/internal/breaker"
	"github.com/policygate/gateway/internal/cache"
	"github.com/policygate/gateway/internal/config"
	"github.com/policygate/gateway/internal/contractstore"
	"github.com/policygate/gateway/internal/evidence"
	"github.com/policygate/gateway/internal/pipeline"
	"github.com/policygate/gateway/internal/telemetry"
	"github.com/policygate/gateway/internal/tenant"
	"github.com/policygate/gateway/internal/upstream"
	"github.com/policygate/gateway/pkg/guardrail"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	configureLogging(cfg.Logging)

	cacheStore := buildCacheStore(cfg.Cache)

	guardrails := guardrail.NewRegistry()
	if err := guardrail.LoadFromDirectory(guardrails, cfg.Guardrails.RepoDir); err != nil {
		log.WithError(err).Warn("guardrail repository load encountered errors, continuing with what loaded")
	}

	breakers := breaker.NewTable(cfg.Breaker.FailureThreshold, cfg.BreakerCooldown())

	contractStore := contractstore.New(
		cacheStore,
		time.Duration(cfg.Cache.ContractTTLS)*time.Second,
		cfg.Contracts.SourceURL,
		os.Getenv(cfg.Contracts.APIKeyEnv),
		cfg.ContractsTimeout(),
		breakers.For("contract-source"),
	)

	proxy := upstream.New(upstream.Config{
		Allowlist:       cfg.Upstream.Allowlist,
		Timeout:         cfg.UpstreamTimeout(),
		CloudRunIDToken: cfg.Upstream.CloudRunIDToken,
	})

	telemetryPipeline := telemetry.New(telemetry.Config{
		SinkURL:       cfg.Telemetry.SinkURL,
		BatchSize:     cfg.Telemetry.BatchSize,
		BatchInterval: cfg.TelemetryBatchInterval(),
		QueueCapacity: cfg.Telemetry.QueueCapacity,
		SpillPath:     cfg.Telemetry.SpillPath,
		SpillMaxBytes: cfg.Telemetry.SpillMaxBytes,
	})
	if err := telemetryPipeline.ReplaySpill(); err != nil {
		log.WithError(err).Warn("telemetry spill replay encountered errors")
	}

	evidenceEmitter := evidence.New(cfg.Evidence.SinkURL)

	enforcer := &pipeline.Pipeline{
		Contracts:  contractStore,
		Guardrails: guardrails,
		Proxy:      proxy,
		Telemetry:  telemetryPipeline,
		Evidence:   evidenceEmitter,
		LLM: guardrail.LLMCallConfig{
			Endpoint:  cfg.Evaluator.LLMAssisted.Endpoint,
			APIKeyEnv: cfg.Evaluator.LLMAssisted.APIKeyEnv,
			Model:     cfg.Evaluator.LLMAssisted.Model,
		},
		FailOpen:        cfg.Policy.FailOpen,
		MaxResponseBody: int(cfg.Upstream.MaxBodyBytes),
	}

	tenantCfg := tenant.Config{
		AuthEnabled: cfg.Tenant.AuthEnabled,
		StaticKeys:  cfg.Tenant.StaticKeys,
	}
	if cfg.Cache.Enabled {
		tenantCfg.Validator = tenant.NewAPIKeyValidator(cacheStore)
	}

	adminServer := &admin.Server{
		Guardrails:        guardrails,
		GuardrailRepoPath: cfg.Guardrails.RepoDir,
		Contracts:         contractStore,
		Breakers:          breakers,
		Telemetry:         telemetryPipeline,
		Cache:             cacheStore,
		ContractSourceURL: cfg.Contracts.SourceURL,
		Version:           version,
	}

	router := mux.NewRouter()
	router.Use(admin.CORSMiddleware)
	adminServer.RegisterRoutes(router)

	proxyRouter := router.PathPrefix("/").Subrouter()
	proxyRouter.Use(tenant.Middleware(tenantCfg))
	proxyRouter.PathPrefix("/").HandlerFunc(enforcer.Handle)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Gateway.Port),
		Handler: router,
	}

	ctx := context.Background()
	telemetryPipeline.Start(ctx)

	go func() {
		log.WithFields(log.Fields{"name": cfg.Gateway.Name, "port": cfg.Gateway.Port}).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	waitForShutdown(srv, telemetryPipeline)
}

func waitForShutdown(srv *http.Server, telemetryPipeline *telemetry.Pipeline) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutdown signal received, draining in-flight requests")

	// Telemetry is stopped first: its worker flushes what is queued and
	// exits before the server drains. Enqueue never blocks, so draining
	// requests are unaffected; records they enqueue after this point are
	// not shipped.
	telemetryPipeline.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown timed out")
	}
	log.Info("gateway stopped")
}

func buildCacheStore(cfg config.CacheConfig) cache.Store {
	if !cfg.Enabled {
		return cache.NewLRUStore(10000)
	}
	store, err := cache.NewRedisStore(cfg)
	if err != nil {
		log.WithError(err).Warn("redis cache unavailable, falling back to in-process LRU")
		return cache.NewLRUStore(10000)
	}
	return store
}

func configureLogging(cfg config.LoggingConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{})
	}

	if cfg.Output == "stderr" {
		log.SetOutput(os.Stderr)
	}
}

