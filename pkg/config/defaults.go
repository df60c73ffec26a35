package config

import "time"

// Default resource limits. Values mirror the documented free-tier and
// anti-DoS budgets; all are overridable through the environment or the
// backend catalog overlay.
const (
	DefaultPoolMax = 250

	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second

	DefaultRPM          = 15
	DefaultRPD          = 1500
	DefaultTPM          = 1_000_000
	DefaultRLThreshold  = 0.8
	DefaultFuzzySingle  = 5000
	DefaultFuzzyLines   = 200
	DefaultFuzzyTotal   = 50_000
	DefaultFuzzyIters   = 10_000
	DefaultFuzzySuggest = 10
	DefaultFuzzyTimeout = 5 * time.Second

	DefaultMaxParallel       = 10
	DefaultQualityIterations = 3

	DefaultDiscoveryTTL   = 5 * time.Minute
	DefaultProbeTimeout   = 2 * time.Second
	DefaultHealthInterval = 60 * time.Second
)

// Model ids are pinned vendor strings; they are configuration, not API.
const (
	ModelDeepSeekPrimary  = "deepseek-reasoner"
	ModelDeepSeekFallback = "deepseek-chat"
	ModelQwenCoder        = "qwen3-coder-plus"
	ModelGeminiFlash      = "gemini-2.0-flash"
	ModelGPTPremium       = "gpt-4o"
)

// DefaultBackends returns the builtin backend catalog. Priority ascends:
// lower is preferred.
func DefaultBackends() map[string]*BackendDescriptor {
	return map[string]*BackendDescriptor{
		"local": {
			Type:     BackendTypeLocal,
			Enabled:  true,
			Priority: 1,
		},
		"deepseek": {
			Type:     BackendTypeDeepSeek,
			Enabled:  true,
			Priority: 2,
			Endpoint: "https://api.deepseek.com/v1",
			Model:    ModelDeepSeekPrimary,
		},
		"qwen": {
			Type:     BackendTypeQwen,
			Enabled:  true,
			Priority: 3,
			Endpoint: "https://dashscope-intl.aliyuncs.com/compatible-mode/v1",
			Model:    ModelQwenCoder,
		},
		"gemini": {
			Type:     BackendTypeGemini,
			Enabled:  true,
			Priority: 4,
			Endpoint: "https://generativelanguage.googleapis.com/v1beta",
			Model:    ModelGeminiFlash,
		},
		"openai": {
			Type:     BackendTypeOpenAI,
			Enabled:  false, // premium tier is opt-in
			Priority: 5,
			Endpoint: "https://api.openai.com/v1",
			Model:    ModelGPTPremium,
		},
	}
}

// DefaultDiscovery returns the local autodiscovery defaults. The host IP set
// is empirical: loopback first, then the default-route gateway (resolved at
// probe time), then common virtualization host addresses.
func DefaultDiscovery() DiscoveryConfig {
	return DiscoveryConfig{
		HostIPs: []string{
			"172.17.0.1",  // docker0
			"192.168.65.2", // Docker Desktop (macOS/Windows)
			"10.0.2.2",    // QEMU/VirtualBox user-mode NAT
		},
		Ports:             []int{1234, 8080, 11434},
		Hostnames:         []string{"host.docker.internal", "gateway.docker.internal"},
		CacheTTL:          DefaultDiscoveryTTL,
		ProbeTimeout:      DefaultProbeTimeout,
		OrchestratorPorts: []int{11435, 8600},
	}
}

// DefaultBreaker returns the adapter breaker defaults.
func DefaultBreaker() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultBreakerFailures,
		ResetTimeout:     DefaultBreakerReset,
	}
}

// DefaultRateLimit returns the declared-quota guard defaults (free tier).
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: DefaultRPM,
		RequestsPerDay:    DefaultRPD,
		TokensPerMinute:   DefaultTPM,
		Threshold:         DefaultRLThreshold,
	}
}

// DefaultFuzzy returns the fuzzy-edit complexity limits.
func DefaultFuzzy() FuzzyConfig {
	return FuzzyConfig{
		MaxSingle:      DefaultFuzzySingle,
		MaxLines:       DefaultFuzzyLines,
		MaxTotal:       DefaultFuzzyTotal,
		MaxIterations:  DefaultFuzzyIters,
		MaxSuggestions: DefaultFuzzySuggest,
		Timeout:        DefaultFuzzyTimeout,
	}
}

// DefaultOrchestrator returns parallel-agents run defaults.
func DefaultOrchestrator() OrchestratorConfig {
	return OrchestratorConfig{
		MaxParallel:   DefaultMaxParallel,
		MaxIterations: DefaultQualityIterations,
		WorkDirBase:   "/tmp",
	}
}
