package backend

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/config"
)

// localPerTokenCost is the local serialization estimate used for dynamic
// timeouts (no network serialization, but slower hardware).
const localPerTokenCost = 25 * time.Millisecond

// preferContextThreshold is the prompt size above which the largest-context
// model is selected automatically.
const preferContextThreshold = 20_000

// LocalAdapter talks to an OpenAI-compatible server discovered at runtime.
// Discovery probes a priority-ordered set of IP strategies and ports and
// accepts the first endpoint whose model listing is non-empty. The endpoint
// is cached with a TTL and invalidated on request failure (one rediscovery
// per call).
type LocalAdapter struct {
	name      string
	discovery config.DiscoveryConfig
	override  string // explicit endpoint, skips discovery

	breaker *Breaker
	stats   statsTracker
	health  healthState
	client  *http.Client

	mu           sync.Mutex
	endpoint     string
	discoveredAt time.Time
	models       []LocalModel
}

// LocalModel is one entry of the local server's model listing, annotated
// with its advertised context window and parallel slot count.
type LocalModel struct {
	ID            string `json:"id"`
	State         string `json:"state,omitempty"` // "loaded" when resident
	ContextLength int    `json:"context_length,omitempty"`
	Slots         int    `json:"slots,omitempty"`
}

// NewLocalAdapter creates the local adapter. override, when non-empty,
// pins the endpoint and disables discovery.
func NewLocalAdapter(name string, discovery config.DiscoveryConfig, override string, breaker *Breaker) *LocalAdapter {
	return &LocalAdapter{
		name:      name,
		discovery: discovery,
		override:  override,
		breaker:   breaker,
		client:    &http.Client{},
	}
}

func (a *LocalAdapter) Name() string      { return a.name }
func (a *LocalAdapter) Breaker() *Breaker { return a.breaker }
func (a *LocalAdapter) Stats() Stats      { return a.stats.snapshot() }

func (a *LocalAdapter) LastHealth() *bridge.HealthStatus {
	return publishHealth(a.health.get())
}

// Available mirrors the remote adapters: breaker admits and last probe
// (if any) healthy.
func (a *LocalAdapter) Available() bool {
	switch a.breaker.State() {
	case BreakerClosed:
	case BreakerOpen:
		if time.Since(a.breaker.OpenedAt()) < a.breaker.resetTimeout {
			return false
		}
	default:
		return false
	}
	if last := a.health.get(); last != nil {
		return last.Healthy
	}
	return true
}

// ActiveModel returns the id of the first loaded model, or "".
func (a *LocalAdapter) ActiveModel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.models {
		if m.State == "" || m.State == "loaded" {
			return m.ID
		}
	}
	return ""
}

// Slots returns the advertised parallel slot count of the first loaded
// model (minimum 1 once an endpoint is known). Used by the orchestrator to
// size its pool.
func (a *LocalAdapter) Slots(ctx context.Context) int {
	if _, err := a.ensureEndpoint(ctx); err != nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.models {
		if m.Slots > 0 {
			return m.Slots
		}
	}
	return 1
}

// Execute performs one round-trip against the discovered endpoint. On a
// request failure the endpoint cache is invalidated and discovery re-runs
// once; the retried guard prevents loops.
func (a *LocalAdapter) Execute(ctx context.Context, prompt string, opts *Options) (*bridge.Response, error) {
	if !a.breaker.Allow() {
		return nil, &bridge.Error{
			Kind:    bridge.KindBackendUnavailable,
			Backend: a.name,
			Msg:     "circuit breaker open",
		}
	}

	retried := false
	for {
		endpoint, err := a.ensureEndpoint(ctx)
		if err != nil {
			a.breaker.RecordFailure()
			a.stats.recordFailure()
			return nil, err
		}

		resp, err := a.executeAt(ctx, endpoint, prompt, opts)
		if err == nil {
			return resp, nil
		}
		if retried || !isRetryableLocal(err) {
			return nil, err
		}
		// Endpoint may have moved (server restarted on another port).
		slog.Debug("Local request failed, invalidating endpoint cache",
			"endpoint", endpoint, "error", err)
		a.invalidate()
		retried = true
	}
}

func isRetryableLocal(err error) bool {
	kind := bridge.KindOf(err)
	return kind == bridge.KindUpstreamError || kind == bridge.KindUpstreamTimeout
}

func (a *LocalAdapter) executeAt(ctx context.Context, endpoint, prompt string, opts *Options) (*bridge.Response, error) {
	model, err := a.selectModel(prompt, opts)
	if err != nil {
		return nil, err
	}

	maxTokens := 2048
	if opts != nil && opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	timeout := dynamicTimeout(maxTokens, localPerTokenCost, false)
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	body, err := json.Marshal(&openAIChatRequest{
		Model:       model,
		Messages:    []openAIChatMsg{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperatureOf(opts),
		TopP:        topPOf(opts),
	})
	if err != nil {
		return nil, bridge.WrapError(bridge.KindUpstreamError, a.name, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint+"/v1/chat/completions", strings.NewReader(string(body)))
	if err != nil {
		return nil, bridge.WrapError(bridge.KindUpstreamError, a.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := a.client.Do(req)
	if err != nil {
		a.breaker.RecordFailure()
		a.stats.recordFailure()
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, &bridge.Error{Kind: bridge.KindUpstreamTimeout, Backend: a.name, Err: err}
		}
		return nil, bridge.WrapError(bridge.KindUpstreamError, a.name, err)
	}
	defer httpResp.Body.Close()

	var parsed openAIChatResponse
	decodeErr := json.NewDecoder(httpResp.Body).Decode(&parsed)
	latency := time.Since(start)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		a.breaker.RecordFailure()
		a.stats.recordFailure()
		return nil, classify(a.name, httpResp.StatusCode,
			fmt.Errorf("local server status %d", httpResp.StatusCode))
	}
	if decodeErr == nil && len(parsed.Choices) == 0 {
		decodeErr = fmt.Errorf("response contains no choices")
	}
	if decodeErr != nil {
		a.stats.recordFailure()
		return nil, &bridge.Error{Kind: bridge.KindProtocolMismatch, Backend: a.name, Err: decodeErr}
	}

	a.breaker.RecordSuccess()
	a.stats.recordSuccess(latency)

	return &bridge.Response{
		Content:   parsed.Choices[0].Message.Content,
		Tokens:    parsed.Usage.TotalTokens,
		Backend:   a.name,
		LatencyMS: latency.Milliseconds(),
		Metadata: &bridge.ResponseMetadata{
			Model:        model,
			FinishReason: parsed.Choices[0].FinishReason,
		},
	}, nil
}

// selectModel applies the local selection policy:
// router hint > large prompt or prefer-context > prefer-speed > first loaded.
// A requested model that is not loaded is substituted with the first loaded.
func (a *LocalAdapter) selectModel(prompt string, opts *Options) (string, error) {
	a.mu.Lock()
	models := a.models
	a.mu.Unlock()

	if len(models) == 0 {
		return "", bridge.NewError(bridge.KindMisconfigured,
			"local endpoint lists no models")
	}

	loaded := make([]LocalModel, 0, len(models))
	for _, m := range models {
		if m.State == "" || m.State == "loaded" {
			loaded = append(loaded, m)
		}
	}
	if len(loaded) == 0 {
		return "", bridge.NewError(bridge.KindMisconfigured,
			"local endpoint has no loaded models")
	}

	if opts != nil && opts.RouterModel != "" {
		for _, m := range loaded {
			if m.ID == opts.RouterModel {
				return m.ID, nil
			}
		}
		// Requested model not loaded: substitute the first loaded one.
		slog.Debug("Requested local model not loaded, substituting",
			"requested", opts.RouterModel, "substitute", loaded[0].ID)
		return loaded[0].ID, nil
	}

	if len(prompt) > preferContextThreshold || (opts != nil && opts.PreferContext) {
		best := loaded[0]
		for _, m := range loaded[1:] {
			if m.ContextLength > best.ContextLength {
				best = m
			}
		}
		return best.ID, nil
	}

	if opts != nil && opts.PreferSpeed {
		best := loaded[0]
		for _, m := range loaded[1:] {
			if m.Slots > best.Slots {
				best = m
			}
		}
		return best.ID, nil
	}

	return loaded[0].ID, nil
}

// HealthProbe issues a minimal generation against the discovered endpoint.
func (a *LocalAdapter) HealthProbe(ctx context.Context) *bridge.HealthStatus {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	snap := &HealthSnapshot{CheckedAt: start}
	endpoint, err := a.ensureEndpoint(probeCtx)
	if err != nil {
		snap.Latency = time.Since(start)
		snap.Error = err.Error()
		a.health.set(snap)
		return publishHealth(snap)
	}

	resp, err := a.executeAt(probeCtx, endpoint, "ping", &Options{MaxTokens: 5, Timeout: 3 * time.Second})
	snap.Latency = time.Since(start)
	if err != nil {
		snap.Error = err.Error()
	} else {
		snap.Healthy = true
		if resp.Metadata != nil {
			snap.Model = resp.Metadata.Model
		}
	}
	a.health.set(snap)
	return publishHealth(snap)
}

// ensureEndpoint returns the cached endpoint or runs discovery.
func (a *LocalAdapter) ensureEndpoint(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.endpoint != "" && time.Since(a.discoveredAt) < a.discovery.CacheTTL {
		ep := a.endpoint
		a.mu.Unlock()
		return ep, nil
	}
	a.mu.Unlock()

	return a.discover(ctx)
}

func (a *LocalAdapter) invalidate() {
	a.mu.Lock()
	a.endpoint = ""
	a.mu.Unlock()
}

// discover probes candidates in priority order and caches the first
// endpoint with a non-empty model listing.
func (a *LocalAdapter) discover(ctx context.Context) (string, error) {
	for _, base := range a.candidates() {
		models, err := a.listModels(ctx, base)
		if err != nil || len(models) == 0 {
			continue
		}
		a.mu.Lock()
		a.endpoint = base
		a.discoveredAt = time.Now()
		a.models = models
		a.mu.Unlock()
		slog.Info("Local endpoint discovered", "endpoint", base, "models", len(models))
		return base, nil
	}
	return "", bridge.NewError(bridge.KindUpstreamError,
		"no local OpenAI-compatible endpoint discovered")
}

// candidates enumerates probe targets in strategy priority order:
// explicit override; loopback; default-route gateway; virtualization host
// IPs; user-provided interfaces; container-host hostnames.
func (a *LocalAdapter) candidates() []string {
	if a.override != "" {
		return []string{strings.TrimRight(a.override, "/")}
	}

	hosts := []string{"127.0.0.1", "localhost"}
	if gw := defaultGatewayIP(); gw != "" {
		hosts = append(hosts, gw)
	}
	hosts = append(hosts, a.discovery.HostIPs...)
	hosts = append(hosts, a.discovery.Interfaces...)
	hosts = append(hosts, a.discovery.Hostnames...)

	seen := make(map[string]bool, len(hosts))
	var out []string
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		for _, port := range a.discovery.Ports {
			out = append(out, fmt.Sprintf("http://%s:%d", h, port))
		}
	}
	return out
}

type modelListResponse struct {
	Data []LocalModel `json:"data"`
}

// listModels queries the /v1/models listing with the probe timeout.
func (a *LocalAdapter) listModels(ctx context.Context, base string) ([]LocalModel, error) {
	probeCtx, cancel := context.WithTimeout(ctx, a.discovery.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, base+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model listing status %d", resp.StatusCode)
	}
	var parsed modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed.Data, nil
}

// defaultGatewayIP reads the default route from /proc/net/route.
// Best effort: returns "" on any failure (non-Linux, no default route).
func defaultGatewayIP() string {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}
		raw, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			continue
		}
		ip := make(net.IP, 4)
		binary.LittleEndian.PutUint32(ip, uint32(raw))
		return ip.String()
	}
	return ""
}
