package backend

import (
	"fmt"

	"github.com/Platano78/smart-ai-bridge/pkg/config"
)

// NewFactory builds the standard adapter factory from resolved
// configuration. quota guards the declared-quota provider; the other
// variants ignore it.
func NewFactory(cfg *config.Config, quota QuotaGuard) AdapterFactory {
	breaker := func(name string) *Breaker {
		return NewBreaker(name, cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout)
	}

	return func(name string, desc *config.BackendDescriptor) (Adapter, error) {
		switch desc.Type {
		case config.BackendTypeLocal:
			return NewLocalAdapter(name, cfg.Discovery, cfg.Providers.LocalEndpoint, breaker(name)), nil

		case config.BackendTypeDeepSeek:
			return NewDeepSeekAdapter(name, desc.Endpoint, cfg.Providers.DeepSeekAPIKey,
				desc.Model, config.ModelDeepSeekFallback,
				breaker(name), cfg.Providers.DeepSeekTimeout), nil

		case config.BackendTypeQwen:
			return NewQwenAdapter(name, desc.Endpoint, cfg.Providers.QwenAPIKey,
				desc.Model, breaker(name), cfg.Providers.QwenTimeout), nil

		case config.BackendTypeGemini:
			return NewGeminiAdapter(name, desc.Endpoint, cfg.Providers.GeminiAPIKey,
				desc.Model, breaker(name), quota, cfg.Providers.GeminiTimeout), nil

		case config.BackendTypeOpenAI:
			return NewOpenAIAdapter(name, desc.Endpoint, cfg.Providers.OpenAIAPIKey,
				desc.Model, breaker(name), cfg.Providers.OpenAITimeout), nil

		default:
			return nil, fmt.Errorf("unknown backend type %q for %q", desc.Type, name)
		}
	}
}
