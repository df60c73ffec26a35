package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
)

// QwenAdapter is the remote code adapter. The DashScope compatible-mode
// surface is OpenAI-shaped but enforces a lower output-token ceiling and
// faster serialization than the reasoning tier.
type QwenAdapter struct {
	*remoteCore
}

// NewQwenAdapter creates the code adapter.
func NewQwenAdapter(name, endpoint, apiKey, model string, breaker *Breaker, timeoutOverride time.Duration) *QwenAdapter {
	core := newRemoteCore(name, endpoint, apiKey, model, breaker)
	core.defaultMaxTokens = 4096
	core.perTokenCost = 30 * time.Millisecond
	core.timeoutOverride = timeoutOverride
	core.probeTimeout = 8 * time.Second
	return &QwenAdapter{remoteCore: core}
}

// Execute performs one code-generation round-trip.
func (a *QwenAdapter) Execute(ctx context.Context, prompt string, opts *Options) (*bridge.Response, error) {
	if err := a.preflight(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(&openAIChatRequest{
		Model:       a.model,
		Messages:    []openAIChatMsg{{Role: "user", Content: prompt}},
		MaxTokens:   a.maxTokensFor(opts),
		Temperature: temperatureOf(opts),
		TopP:        topPOf(opts),
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
func (a *QwenAdapter) HealthProbe(ctx context.Context) *bridge.HealthStatus {
	return a.probe(ctx, a.Execute)
}
