package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
)

// OpenAIAdapter is the remote premium adapter. The newer completion surface
// renamed the output budget field to max_completion_tokens; everything else
// follows the familiar chat shape.
type OpenAIAdapter struct {
	*remoteCore
}

// NewOpenAIAdapter creates the premium adapter.
func NewOpenAIAdapter(name, endpoint, apiKey, model string, breaker *Breaker, timeoutOverride time.Duration) *OpenAIAdapter {
	core := newRemoteCore(name, endpoint, apiKey, model, breaker)
	core.defaultMaxTokens = 4096
	core.perTokenCost = 35 * time.Millisecond
	core.timeoutOverride = timeoutOverride
	return &OpenAIAdapter{remoteCore: core}
}

type openAIPremiumRequest struct {
	Model               string          `json:"model"`
	Messages            []openAIChatMsg `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Temperature         float64         `json:"temperature,omitempty"`
	TopP                float64         `json:"top_p,omitempty"`
}

// Execute performs one premium round-trip.
func (a *OpenAIAdapter) Execute(ctx context.Context, prompt string, opts *Options) (*bridge.Response, error) {
	if err := a.preflight(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(&openAIPremiumRequest{
		Model:               a.model,
		Messages:            []openAIChatMsg{{Role: "user", Content: prompt}},
		MaxCompletionTokens: a.maxTokensFor(opts),
		Temperature:         temperatureOf(opts),
		TopP:                topPOf(opts),
	})
	if err != nil {
		return nil, bridge.WrapError(bridge.KindUpstreamError, a.name, err)
	}

	start := time.Now()
	data, err := a.roundTrip(ctx, a.endpoint+"/chat/completions", body, a.timeoutFor(opts))
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	var parsed openAIChatResponse
	parseErr := json.Unmarshal(data, &parsed)
	if parseErr == nil && len(parsed.Choices) == 0 {
		parseErr = fmt.Errorf("response contains no choices")
	}
	if err := a.recordParsed(parseErr, latency); err != nil {
		return nil, err
	}

	return &bridge.Response{
		Content:   parsed.Choices[0].Message.Content,
		Tokens:    parsed.Usage.TotalTokens,
		Backend:   a.name,
		LatencyMS: latency.Milliseconds(),
		Metadata: &bridge.ResponseMetadata{
			Model:        a.model,
			FinishReason: parsed.Choices[0].FinishReason,
		},
	}, nil
}

// HealthProbe issues a minimal generation.
func (a *OpenAIAdapter) HealthProbe(ctx context.Context) *bridge.HealthStatus {
	return a.probe(ctx, a.Execute)
}
