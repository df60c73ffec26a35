// Package config loads and validates gateway configuration from environment
// variables and optional YAML overlays (backend catalog, role templates).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved gateway configuration.
type Config struct {
	Backends     map[string]*BackendDescriptor
	Providers    Providers
	Discovery    DiscoveryConfig
	Breaker      BreakerConfig
	RateLimit    RateLimitConfig
	Pool         PoolConfig
	Fuzzy        FuzzyConfig
	Orchestrator OrchestratorConfig
	Dashboard    DashboardConfig

	// RolesFile is an optional YAML overlay for the builtin role table.
	RolesFile string
}

// Providers holds the per-provider credentials and overrides read from the
// environment. An absent credential does not fail startup; the affected
// backend refuses requests with a misconfigured classification.
type Providers struct {
	DeepSeekAPIKey string
	QwenAPIKey     string
	GeminiAPIKey   string
	OpenAIAPIKey   string

	// RequestTimeout overrides, zero means adapter default.
	DeepSeekTimeout time.Duration
	QwenTimeout     time.Duration
	GeminiTimeout   time.Duration
	OpenAITimeout   time.Duration

	// LocalEndpoint overrides autodiscovery when set.
	LocalEndpoint string
}

// DiscoveryConfig controls local endpoint autodiscovery.
type DiscoveryConfig struct {
	// HostIPs are the candidate IPs probed after loopback and the default
	// gateway, in priority order. The defaults are the common virtualization
	// host addresses; the set is configuration, not API.
	HostIPs []string

	// Ports are the candidate ports probed per IP, in priority order.
	Ports []int

	// Hostnames are well-known container-host names probed last.
	Hostnames []string

	// Interfaces are user-provided interface addresses, probed between the
	// virtualization IPs and the container hostnames.
	Interfaces []string

	// CacheTTL bounds how long a discovered endpoint is trusted.
	CacheTTL time.Duration

	// ProbeTimeout bounds each candidate probe.
	ProbeTimeout time.Duration

	// OrchestratorPorts mark endpoints whose models are routing-only.
	OrchestratorPorts []int
}

// BreakerConfig controls the per-adapter circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// RateLimitConfig holds the proactive quota guard limits.
type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerDay    int
	TokensPerMinute   int
	Threshold         float64
}

// PoolConfig controls the concurrent request pool.
type PoolConfig struct {
	MaxConcurrent int
}

// FuzzyConfig holds the fuzzy-edit complexity limits.
type FuzzyConfig struct {
	MaxSingle      int
	MaxLines       int
	MaxTotal       int
	MaxIterations  int
	MaxSuggestions int
	Timeout        time.Duration
}

// OrchestratorConfig controls parallel-agents runs.
type OrchestratorConfig struct {
	MaxParallel   int // hard clamp on discovered or requested parallelism
	MaxIterations int // quality gate iterations
	WorkDirBase   string
}

// DashboardConfig controls the optional HTTP dashboard.
type DashboardConfig struct {
	Enabled bool
	Port    string
}

// Load resolves configuration from the environment with defaults applied.
func Load() (*Config, error) {
	cfg := &Config{
		Backends: DefaultBackends(),
		Providers: Providers{
			DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
			QwenAPIKey:      os.Getenv("QWEN_API_KEY"),
			GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
			OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
			DeepSeekTimeout: envDuration("DEEPSEEK_TIMEOUT", 0),
			QwenTimeout:     envDuration("QWEN_TIMEOUT", 0),
			GeminiTimeout:   envDuration("GEMINI_TIMEOUT", 0),
			OpenAITimeout:   envDuration("OPENAI_TIMEOUT", 0),
			LocalEndpoint:   os.Getenv("LOCAL_LLM_URL"),
		},
		Discovery:    DefaultDiscovery(),
		Breaker:      DefaultBreaker(),
		RateLimit:    DefaultRateLimit(),
		Pool:         PoolConfig{MaxConcurrent: envInt("AIBRIDGE_POOL_MAX", DefaultPoolMax)},
		Fuzzy:        DefaultFuzzy(),
		Orchestrator: DefaultOrchestrator(),
		Dashboard: DashboardConfig{
			Enabled: os.Getenv("AIBRIDGE_DASHBOARD") == "true",
			Port:    getEnv("AIBRIDGE_DASHBOARD_PORT", "8080"),
		},
		RolesFile: os.Getenv("AIBRIDGE_ROLES_FILE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency of the resolved configuration.
func (c *Config) Validate() error {
	if c.Pool.MaxConcurrent < 1 {
		return NewValidationError("limits", "pool", "max_concurrent", ErrInvalidValue)
	}
	if c.RateLimit.Threshold <= 0 || c.RateLimit.Threshold > 1 {
		return NewValidationError("limits", "rate_limit", "threshold", ErrInvalidValue)
	}
	if c.Breaker.FailureThreshold < 1 {
		return NewValidationError("limits", "breaker", "failure_threshold", ErrInvalidValue)
	}
	for name, desc := range c.Backends {
		if desc.Type == "" {
			return NewValidationError("backend", name, "type", ErrMissingRequiredField)
		}
		if desc.Priority < 0 {
			return NewValidationError("backend", name, "priority", ErrInvalidValue)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
