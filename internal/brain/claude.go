package brain

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// claudePricing maps model family to (input, output) cost per 1M tokens in USD.
var claudePricing = map[string][2]float64{
	"haiku":  {0.80, 4.0},
	"sonnet": {3.0, 15.0},
	"opus":   {15.0, 75.0},
}

// ClaudeOption configures a ClaudeProvider.
type ClaudeOption func(*ClaudeProvider)

// WithClaudeBaseURL overrides the API base URL (useful for testing).
func WithClaudeBaseURL(url string) ClaudeOption {
	return func(p *ClaudeProvider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithClaudeHTTPClient sets a custom HTTP client.
func WithClaudeHTTPClient(c *http.Client) ClaudeOption {
	return func(p *ClaudeProvider) {
		p.client = c
	}
}

// WithClaudeDefaultModel sets the default model when none is specified in the request.
func WithClaudeDefaultModel(model string) ClaudeOption {
	return func(p *ClaudeProvider) {
		p.defaultModel = model
	}
}

// ClaudeProvider implements Provider for the Anthropic Messages API.
type ClaudeProvider struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	defaultModel string
}

// NewClaudeProvider creates a new Claude provider.
func NewClaudeProvider(apiKey string, opts ...ClaudeOption) *ClaudeProvider {
	p := &ClaudeProvider{
		apiKey:       apiKey,
		baseURL:      "https://api.anthropic.com",
		client:       &http.Client{Timeout: 120 * time.Second},
		defaultModel: "claude-sonnet-4-20250514",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *ClaudeProvider) Name() string { return "claude" }

type claudeRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	Messages    []claudeMsg `json:"messages"`
	System      string      `json:"system,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	Model      string        `json:"model"`
	Content    []claudeBlock `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      claudeUsage   `json:"usage"`
}

// Complete sends a request to the Messages API. System messages are
// concatenated into the top-level system field.
func (p *ClaudeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	cr := claudeRequest{Model: model, MaxTokens: maxTokens}
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		cr.Messages = append(cr.Messages, claudeMsg{Role: m.Role, Content: m.Content})
	}
	cr.System = strings.Join(system, "\n\n")
	if req.Temperature > 0 {
		t := req.Temperature
		cr.Temperature = &t
	}

	header := http.Header{}
	header.Set("x-api-key", p.apiKey)
	header.Set("anthropic-version", "2023-06-01")

	var decoded claudeResponse
	latency, err := postJSON(ctx, p.client, p.Name(), p.baseURL+"/v1/messages", header, cr, &decoded)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Content:      text.String(),
		Model:        decoded.Model,
		InputTokens:  decoded.Usage.InputTokens,
		OutputTokens: decoded.Usage.OutputTokens,
		CostUSD:      claudeCalculateCost(decoded.Model, decoded.Usage.InputTokens, decoded.Usage.OutputTokens),
		LatencyMs:    latency,
		StopReason:   decoded.StopReason,
	}, nil
}

// claudeCalculateCost computes USD cost based on model and token counts.
// Unknown models are priced as sonnet.
func claudeCalculateCost(model string, inputTokens, outputTokens int) float64 {
	pricing := claudePricing["sonnet"]
	for family, p := range claudePricing {
		if strings.Contains(model, family) {
			pricing = p
			break
		}
	}
	return pricePerMillion(pricing, inputTokens, outputTokens)
}
