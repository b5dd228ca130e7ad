// Package config loads the gateway's YAML configuration file, overlaying
// environment-variable overrides, and fills in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the entire gateway configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Contracts ContractsConfig `yaml:"contracts"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Smart     SmartConfig     `yaml:"smart"`
	Cache     CacheConfig     `yaml:"cache"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Policy    PolicyConfig    `yaml:"policy"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Tenant    TenantConfig    `yaml:"tenant"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type GatewayConfig struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

// ContractsConfig points at the HTTP contract-registry endpoint the
// Contract Store resolves against. The gateway never talks to an on-chain
// registry directly.
type ContractsConfig struct {
	SourceURL string `yaml:"source_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type UpstreamConfig struct {
	Allowlist       []string `yaml:"allowlist"`
	TimeoutMs       int      `yaml:"timeout_ms"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
	CloudRunIDToken bool     `yaml:"cloud_run_id_token"`
}

type EvaluatorConfig struct {
	RegexTimeoutMs     int             `yaml:"regex_timeout_ms"`
	KeywordTimeoutMs   int             `yaml:"keyword_timeout_ms"`
	HybridTimeoutMs    int             `yaml:"hybrid_timeout_ms"`
	SmartTimeoutMs     int             `yaml:"smart_timeout_ms"`
	LLMAssistedTimeoutMs int           `yaml:"llm_assisted_timeout_ms"`
	DLMKernelTimeoutMs int             `yaml:"dlm_kernel_timeout_ms"`
	LLMAssisted        LLMAssistedConfig `yaml:"llm_assisted"`
}

type LLMAssistedConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

type SmartConfig struct {
	EmbeddingModel  string  `yaml:"embedding_model"`
	TAllow          float64 `yaml:"t_allow"`
	TBlock          float64 `yaml:"t_block"`
	EmbeddingWeight float64 `yaml:"embedding_weight"`
	LexicalWeight   float64 `yaml:"lexical_weight"`
}

type CacheConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	PoolSize      int    `yaml:"pool_size"`
	MaxRetries    int    `yaml:"max_retries"`
	ContractTTLS  int    `yaml:"contract_ttl_s"`
	ResultTTLS    int    `yaml:"result_ttl_s"`
	GuardrailTTLS int    `yaml:"guardrail_ttl_s"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownS        int `yaml:"cooldown_s"`
}

type TelemetryConfig struct {
	SinkURL         string `yaml:"sink_url"`
	BatchSize       int    `yaml:"batch_size"`
	BatchIntervalMs int    `yaml:"batch_interval_ms"`
	QueueCapacity   int    `yaml:"queue_capacity"`
	SpillPath       string `yaml:"spill_path"`
	SpillMaxBytes   int64  `yaml:"spill_max_bytes"`
}

type PolicyConfig struct {
	FailOpen bool `yaml:"fail_open"`
}

type GuardrailsConfig struct {
	RepoDir    string `yaml:"repo_dir"`
	AutoReload bool   `yaml:"auto_reload"`
}

type TenantConfig struct {
	AuthEnabled bool              `yaml:"auth_enabled"`
	StaticKeys  map[string]string `yaml:"static_keys"`
}

type EvidenceConfig struct {
	SinkURL string `yaml:"sink_url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Load reads configuration from a YAML file, expands ${VAR}-style
// environment references, applies defaults and environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8443
	}
	if cfg.Gateway.Name == "" {
		cfg.Gateway.Name = "policygate"
	}

	if cfg.Contracts.TimeoutMs == 0 {
		cfg.Contracts.TimeoutMs = 3000
	}
	if v := os.Getenv("CONTRACTS_SOURCE_URL"); v != "" {
		cfg.Contracts.SourceURL = v
	}

	if cfg.Upstream.TimeoutMs == 0 {
		cfg.Upstream.TimeoutMs = 30000
	}
	if cfg.Upstream.MaxBodyBytes == 0 {
		cfg.Upstream.MaxBodyBytes = 1 << 20 // 1 MiB
	}

	if cfg.Evaluator.RegexTimeoutMs == 0 {
		cfg.Evaluator.RegexTimeoutMs = 200
	}
	if cfg.Evaluator.KeywordTimeoutMs == 0 {
		cfg.Evaluator.KeywordTimeoutMs = 200
	}
	if cfg.Evaluator.HybridTimeoutMs == 0 {
		cfg.Evaluator.HybridTimeoutMs = 200
	}
	if cfg.Evaluator.SmartTimeoutMs == 0 {
		cfg.Evaluator.SmartTimeoutMs = 200
	}
	if cfg.Evaluator.LLMAssistedTimeoutMs == 0 {
		cfg.Evaluator.LLMAssistedTimeoutMs = 5000
	}
	if cfg.Evaluator.DLMKernelTimeoutMs == 0 {
		cfg.Evaluator.DLMKernelTimeoutMs = 200
	}
	if cfg.Evaluator.LLMAssisted.Model == "" {
		cfg.Evaluator.LLMAssisted.Model = "gpt-4"
	}

	if cfg.Smart.TAllow == 0 {
		cfg.Smart.TAllow = 0.35
	}
	if cfg.Smart.TBlock == 0 {
		cfg.Smart.TBlock = 0.65
	}
	if cfg.Smart.EmbeddingWeight == 0 {
		cfg.Smart.EmbeddingWeight = 0.6
	}
	if cfg.Smart.LexicalWeight == 0 {
		cfg.Smart.LexicalWeight = 0.4
	}

	if cfg.Cache.PoolSize == 0 {
		cfg.Cache.PoolSize = 100
	}
	if cfg.Cache.ContractTTLS == 0 {
		cfg.Cache.ContractTTLS = 300
	}
	if cfg.Cache.ResultTTLS == 0 {
		cfg.Cache.ResultTTLS = 60
	}
	if cfg.Cache.GuardrailTTLS == 0 {
		cfg.Cache.GuardrailTTLS = 600
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := os.Getenv("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		cfg.Cache.RedisURL = fmt.Sprintf("redis://%s:%s", redisHost, redisPort)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Cache.RedisPassword = redisPassword
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.CooldownS == 0 {
		cfg.Breaker.CooldownS = 30
	}

	if cfg.Telemetry.BatchSize == 0 {
		cfg.Telemetry.BatchSize = 100
	}
	if cfg.Telemetry.BatchIntervalMs == 0 {
		cfg.Telemetry.BatchIntervalMs = 5000
	}
	if cfg.Telemetry.QueueCapacity == 0 {
		cfg.Telemetry.QueueCapacity = 1000
	}
	if cfg.Telemetry.SpillPath == "" {
		cfg.Telemetry.SpillPath = "telemetry-spill.ndjson"
	}
	if cfg.Telemetry.SpillMaxBytes == 0 {
		cfg.Telemetry.SpillMaxBytes = 10 << 20 // 10 MiB
	}

	if cfg.Guardrails.RepoDir == "" {
		cfg.Guardrails.RepoDir = "./guardrail_repo"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "policygate"
	}
}

func validate(cfg *Config) error {
	if cfg.Contracts.SourceURL == "" {
		return fmt.Errorf("contracts.source_url is required")
	}
	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when cache.enabled is true")
	}
	return nil
}

// ContractsTimeout returns the configured contract-source timeout.
func (c *Config) ContractsTimeout() time.Duration {
	return time.Duration(c.Contracts.TimeoutMs) * time.Millisecond
}

// UpstreamTimeout returns the configured upstream total-request timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutMs) * time.Millisecond
}

// BreakerCooldown returns the configured circuit cool-down duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownS) * time.Second
}

// TelemetryBatchInterval returns the configured batch flush interval.
func (c *Config) TelemetryBatchInterval() time.Duration {
	return time.Duration(c.Telemetry.BatchIntervalMs) * time.Millisecond
}
