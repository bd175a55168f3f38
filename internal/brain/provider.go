// Package brain talks to language models.
//
// A Provider speaks one vendor's HTTP API. An Oracle narrows a provider to
// the single operation the planner and its collaborators need: prompt in,
// text out. Oracle output is untrusted; callers decode it with DecodeJSON
// and fall back to deterministic values on any error.
package brain

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Request holds parameters for a completion call.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Response holds the result of a completion call.
type Response struct {
	Content      string  `json:"content"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMs    int64   `json:"latency_ms"`
	StopReason   string  `json:"stop_reason"`
}

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// pricePerMillion returns the cost of a call given (input, output) USD per
// one million tokens.
func pricePerMillion(pricing [2]float64, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*pricing[0] + float64(outputTokens)/1_000_000*pricing[1]
}
