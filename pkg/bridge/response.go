package bridge

import "time"

// Response is the unified result of one backend round-trip.
// Adapter-specific response schemas are translated into this shape before
// they leave the adapter.
type Response struct {
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
	Backend   string `json:"backend"`
	LatencyMS int64  `json:"latency_ms"`

	// Metadata is optional per-adapter detail.
	Metadata *ResponseMetadata `json:"metadata,omitempty"`

	// FallbackChain lists backends attempted and failed before this
	// response was produced. Empty when the first attempt succeeded.
	FallbackChain []string `json:"fallback_chain,omitempty"`
}

// ResponseMetadata carries provider-level attribution.
type ResponseMetadata struct {
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	// FallbackUsed is true when the adapter's own internal fallback model
	// served the request (invisible to the router).
	FallbackUsed bool `json:"fallback_used,omitempty"`
}

// HealthStatus is the latest observed health of one backend.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Error     string        `json:"error,omitempty"`
	Model     string        `json:"model,omitempty"`
}
