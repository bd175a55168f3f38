package brain

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// openaiPricing maps model identifier substrings to (input, output) cost per
// 1M tokens. Checked in order; unknown models are free (local servers).
var openaiPricing = []struct {
	match   string
	pricing [2]float64
}{
	{"gpt-4o-mini", [2]float64{0.15, 0.60}},
	{"gpt-4.1-mini", [2]float64{0.40, 1.60}},
	{"gpt-4.1", [2]float64{2.00, 8.00}},
	{"gpt-4o", [2]float64{2.50, 10.0}},
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIBaseURL overrides the API base URL. Any server speaking
// /v1/chat/completions works: Ollama, LM Studio, vLLM, OpenRouter.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.client = c
	}
}

// WithOpenAIDefaultModel sets the default model.
func WithOpenAIDefaultModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.defaultModel = model
	}
}

// WithOpenAIName sets the label reported by Name.
func WithOpenAIName(name string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.name = name
	}
}

// OpenAIProvider implements Provider for OpenAI-compatible chat APIs.
type OpenAIProvider struct {
	name         string
	apiKey       string
	baseURL      string
	client       *http.Client
	defaultModel string
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
// An empty apiKey sends no Authorization header.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		name:         "openai",
		apiKey:       apiKey,
		baseURL:      "https://api.openai.com",
		client:       &http.Client{Timeout: 120 * time.Second},
		defaultModel: "gpt-4o",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOllamaProvider creates a provider for a local Ollama server.
func NewOllamaProvider(baseURL, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1:8b"
	}
	return NewOpenAIProvider("",
		WithOpenAIName("ollama"),
		WithOpenAIBaseURL(baseURL),
		WithOpenAIDefaultModel(model),
		WithOpenAIHTTPClient(&http.Client{Timeout: 300 * time.Second}),
	)
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return p.name }

type openaiRequest struct {
	Model               string      `json:"model"`
	Messages            []openaiMsg `json:"messages"`
	Temperature         *float64    `json:"temperature,omitempty"`
	MaxTokens           *int        `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int        `json:"max_completion_tokens,omitempty"`
}

type openaiMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChoice struct {
	FinishReason string    `json:"finish_reason"`
	Message      openaiMsg `json:"message"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiResponse struct {
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	or := openaiRequest{Model: model}
	for _, m := range req.Messages {
		or.Messages = append(or.Messages, openaiMsg{Role: m.Role, Content: m.Content})
	}
	if req.Temperature > 0 {
		t := req.Temperature
		or.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		if useMaxCompletionTokens(model) {
			or.MaxCompletionTokens = &mt
		} else {
			or.MaxTokens = &mt
		}
	}

	header := http.Header{}
	if p.apiKey != "" {
		header.Set("Authorization", "Bearer "+p.apiKey)
	}

	var decoded openaiResponse
	latency, err := postJSON(ctx, p.client, p.name, p.baseURL+"/v1/chat/completions", header, or, &decoded)
	if err != nil {
		return nil, err
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("%s: response has no choices", p.name)
	}

	choice := decoded.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		Model:        decoded.Model,
		InputTokens:  decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
		CostUSD:      openaiCalculateCost(decoded.Model, decoded.Usage.PromptTokens, decoded.Usage.CompletionTokens),
		LatencyMs:    latency,
		StopReason:   choice.FinishReason,
	}, nil
}

// useMaxCompletionTokens returns true if the model requires
// max_completion_tokens instead of max_tokens.
func useMaxCompletionTokens(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-4.1", "gpt-4o", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// openaiCalculateCost computes USD cost based on model and token counts.
func openaiCalculateCost(model string, inputTokens, outputTokens int) float64 {
	for _, entry := range openaiPricing {
		if strings.Contains(model, entry.match) {
			return pricePerMillion(entry.pricing, inputTokens, outputTokens)
		}
	}
	return 0
}
