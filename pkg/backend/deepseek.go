package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
)

// DeepSeekAdapter is the remote reasoning adapter. It owns an intra-adapter
// fallback: when the primary reasoner model times out, returns 5xx, or
// aborts, the request is re-issued against the secondary chat model with a
// shorter timeout. The router sees the adapter as a single unit.
type DeepSeekAdapter struct {
	*remoteCore
	fallbackModel   string
	fallbackTimeout time.Duration
}

// NewDeepSeekAdapter creates the reasoning adapter.
func NewDeepSeekAdapter(name, endpoint, apiKey, primaryModel, fallbackModel string, breaker *Breaker, timeoutOverride time.Duration) *DeepSeekAdapter {
	core := newRemoteCore(name, endpoint, apiKey, primaryModel, breaker)
	core.defaultMaxTokens = 8192
	core.perTokenCost = 40 * time.Millisecond // cloud serialization estimate
	core.timeoutOverride = timeoutOverride
	return &DeepSeekAdapter{
		remoteCore:      core,
		fallbackModel:   fallbackModel,
		fallbackTimeout: 60 * time.Second,
	}
}

// openAIChatRequest is the OpenAI-compatible request schema shared by the
// DeepSeek and Qwen surfaces.
type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIChatMsg `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
}

type openAIChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Execute runs the primary model, falling back to the secondary on timeout,
// 5xx, or an aborted response.
func (a *DeepSeekAdapter) Execute(ctx context.Context, prompt string, opts *Options) (*bridge.Response, error) {
	if err := a.preflight(); err != nil {
		return nil, err
	}

	resp, err := a.executeModel(ctx, a.model, prompt, opts, a.timeoutFor(opts))
	if err == nil {
		return resp, nil
	}
	if !a.shouldFallback(err) {
		return nil, err
	}

	slog.Warn("Primary model failed, retrying with fallback model",
		"backend", a.name,
		"primary", a.model,
		"fallback", a.fallbackModel,
		"error", err)

	resp, fbErr := a.executeModel(ctx, a.fallbackModel, prompt, opts, a.fallbackTimeout)
	if fbErr != nil {
		return nil, fbErr
	}
	if resp.Metadata == nil {
		resp.Metadata = &bridge.ResponseMetadata{}
	}
	resp.Metadata.FallbackUsed = true
	return resp, nil
}

func (a *DeepSeekAdapter) shouldFallback(err error) bool {
	var be *bridge.Error
	if !errors.As(err, &be) {
		return false
	}
	if be.Kind == bridge.KindUpstreamTimeout {
		return true
	}
	return be.Kind == bridge.KindUpstreamError && (be.Status == 0 || be.Status >= 500)
}

func (a *DeepSeekAdapter) executeModel(ctx context.Context, model, prompt string, opts *Options, timeout time.Duration) (*bridge.Response, error) {
	body, err := json.Marshal(&openAIChatRequest{
		Model:       model,
		Messages:    []openAIChatMsg{{Role: "user", Content: prompt}},
		MaxTokens:   a.maxTokensFor(opts),
		Temperature: temperatureOf(opts),
		TopP:        topPOf(opts),
	})
	if err != nil {
		return nil, bridge.WrapError(bridge.KindUpstreamError, a.name, err)
	}

	start := time.Now()
	data, err := a.roundTrip(ctx, a.endpoint+"/chat/completions", body, timeout)
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

	choice := parsed.Choices[0]
	content := choice.Message.Content
	if content == "" && choice.Message.ReasoningContent != "" {
		// Reasoner responses may carry only reasoning content.
		content = choice.Message.ReasoningContent
	}

	return &bridge.Response{
		Content:   content,
		Tokens:    parsed.Usage.TotalTokens,
		Backend:   a.name,
		LatencyMS: latency.Milliseconds(),
		Metadata: &bridge.ResponseMetadata{
			Model:        model,
			FinishReason: choice.FinishReason,
		},
	}, nil
}

// HealthProbe issues a minimal generation against the primary model.
func (a *DeepSeekAdapter) HealthProbe(ctx context.Context) *bridge.HealthStatus {
	return a.probe(ctx, func(ctx context.Context, prompt string, opts *Options) (*bridge.Response, error) {
		if err := a.preflight(); err != nil {
			return nil, err
		}
		return a.executeModel(ctx, a.model, prompt, opts, a.probeTimeout)
	})
}

func temperatureOf(opts *Options) float64 {
	if opts != nil {
		return opts.Temperature
	}
	return 0
}

func topPOf(opts *Options) float64 {
	if opts != nil {
		return opts.TopP
	}
	return 0
}
