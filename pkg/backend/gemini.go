package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
)

// QuotaGuard is the proactive rate limiter consulted by quota-bound
// adapters before any upstream contact. Implemented by guard.RateLimiter.
type QuotaGuard interface {
	// Allow admits or denies a request with the given token estimate.
	// A denial error names the threshold that tripped.
	Allow(estimatedTokens int) error

	// Record reports the actual tokens consumed by an admitted request.
	Record(tokens int)

	// Open reports whether the limiter's breaker is currently open.
	Open() bool
}

// GeminiAdapter is the remote fast adapter. It is the quota-declared
// provider: every request passes the proactive rate limiter first, and the
// adapter's availability tracks the limiter's breaker.
type GeminiAdapter struct {
	*remoteCore
	quota QuotaGuard
}

// NewGeminiAdapter creates the fast adapter.
func NewGeminiAdapter(name, endpoint, apiKey, model string, breaker *Breaker, quota QuotaGuard, timeoutOverride time.Duration) *GeminiAdapter {
	core := newRemoteCore(name, endpoint, apiKey, model, breaker)
	core.defaultMaxTokens = 2048
	core.perTokenCost = 20 * time.Millisecond
	core.timeoutOverride = timeoutOverride
	core.probeTimeout = 5 * time.Second
	return &GeminiAdapter{remoteCore: core, quota: quota}
}

// geminiRequest is the provider-specific generation schema.
type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig geminiGenConfig  `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Execute performs one generation round-trip, gated by the quota guard.
func (a *GeminiAdapter) Execute(ctx context.Context, prompt string, opts *Options) (*bridge.Response, error) {
	if err := a.preflight(); err != nil {
		return nil, err
	}

	if a.quota != nil {
		// Rough estimate: 4 chars per token of prompt plus the output budget.
		estimate := len(prompt)/4 + a.maxTokensFor(opts)
		if err := a.quota.Allow(estimate); err != nil {
			return nil, &bridge.Error{Kind: bridge.KindRateLimited, Backend: a.name, Err: err}
		}
	}

	body, err := json.Marshal(&geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenConfig{
			MaxOutputTokens: a.maxTokensFor(opts),
			Temperature:     temperatureOf(opts),
			TopP:            topPOf(opts),
		},
	})
	if err != nil {
		return nil, bridge.WrapError(bridge.KindUpstreamError, a.name, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.endpoint, a.model, a.apiKey)

	start := time.Now()
	data, err := a.roundTrip(ctx, url, body, a.timeoutFor(opts))
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	var parsed geminiResponse
	parseErr := json.Unmarshal(data, &parsed)
	if parseErr == nil && (len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0) {
		parseErr = fmt.Errorf("response contains no candidates")
	}
	if err := a.recordParsed(parseErr, latency); err != nil {
		return nil, err
	}

	tokens := parsed.UsageMetadata.TotalTokenCount
	if a.quota != nil {
		a.quota.Record(tokens)
	}

	return &bridge.Response{
		Content:   parsed.Candidates[0].Content.Parts[0].Text,
		Tokens:    tokens,
		Backend:   a.name,
		LatencyMS: latency.Milliseconds(),
		Metadata: &bridge.ResponseMetadata{
			Model:        a.model,
			FinishReason: parsed.Candidates[0].FinishReason,
		},
	}, nil
}

// Available additionally requires the quota breaker to be closed: an open
// limiter means the next request would be denied anyway.
func (a *GeminiAdapter) Available() bool {
	if a.quota != nil && a.quota.Open() {
		return false
	}
	return a.remoteCore.Available()
}

// HealthProbe issues a minimal generation.
func (a *GeminiAdapter) HealthProbe(ctx context.Context) *bridge.HealthStatus {
	return a.probe(ctx, a.Execute)
}
