package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/overhuman/foreman/internal/budget"
	"github.com/overhuman/foreman/internal/observability"
)

// DefaultFinalAnswerMarker precedes the final answer in the output of
// reasoning models that print their analysis channel first.
const DefaultFinalAnswerMarker = "<|start|>assistant<|channel|>final<|message|>"

// endMarkers terminate a final answer.
var endMarkers = []string{"<|end|>", "<|endoftext|>", "<|eot_id|>"}

// ErrOffline is returned by OfflineOracle.
var ErrOffline = errors.New("brain: oracle offline")

// Oracle is an opaque text-completion service. Every error it returns is a
// soft failure that callers recover from with a deterministic fallback.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f OracleFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// OfflineOracle always fails, forcing every caller onto its fallback path.
type OfflineOracle struct{}

// Complete returns ErrOffline.
func (OfflineOracle) Complete(context.Context, string) (string, error) {
	return "", ErrOffline
}

// ExtractFinalAnswer returns the text after marker, cut at the first end
// marker. Text without the marker is returned trimmed.
func ExtractFinalAnswer(content, marker string) string {
	if marker == "" {
		return strings.TrimSpace(content)
	}
	idx := strings.Index(content, marker)
	if idx == -1 {
		return strings.TrimSpace(content)
	}
	answer := content[idx+len(marker):]
	for _, end := range endMarkers {
		if j := strings.Index(answer, end); j != -1 {
			answer = answer[:j]
		}
	}
	return strings.TrimSpace(answer)
}

// OracleOption configures a ProviderOracle.
type OracleOption func(*ProviderOracle)

// WithOracleModel pins the model sent with every request.
func WithOracleModel(model string) OracleOption {
	return func(o *ProviderOracle) { o.model = model }
}

// WithOracleSystemPrompt sets the system message.
func WithOracleSystemPrompt(prompt string) OracleOption {
	return func(o *ProviderOracle) { o.system = prompt }
}

// WithOracleTimeout bounds every call.
func WithOracleTimeout(d time.Duration) OracleOption {
	return func(o *ProviderOracle) { o.timeout = d }
}

// WithOracleMaxTokens sets max tokens per response.
func WithOracleMaxTokens(n int) OracleOption {
	return func(o *ProviderOracle) { o.maxTokens = n }
}

// WithOracleTemperature sets the sampling temperature.
func WithOracleTemperature(t float64) OracleOption {
	return func(o *ProviderOracle) { o.temperature = t }
}

// WithFinalAnswerMarker enables final-answer extraction. Empty disables it.
func WithFinalAnswerMarker(marker string) OracleOption {
	return func(o *ProviderOracle) { o.marker = marker }
}

// WithOracleBudget gates calls on a spend tracker.
func WithOracleBudget(t *budget.Tracker) OracleOption {
	return func(o *ProviderOracle) { o.budget = t }
}

// WithOracleMetrics records call counts and latency.
func WithOracleMetrics(m *observability.MetricsCollector) OracleOption {
	return func(o *ProviderOracle) { o.metrics = m }
}

// WithOracleLogger sets the logger.
func WithOracleLogger(l *observability.Logger) OracleOption {
	return func(o *ProviderOracle) { o.logger = l }
}

// ProviderOracle implements Oracle on top of a Provider.
type ProviderOracle struct {
	provider    Provider
	model       string
	system      string
	timeout     time.Duration
	maxTokens   int
	temperature float64
	marker      string
	budget      *budget.Tracker
	budgetKey   string
	metrics     *observability.MetricsCollector
	logger      *observability.Logger
}

// NewProviderOracle wraps a provider.
func NewProviderOracle(p Provider, opts ...OracleOption) *ProviderOracle {
	o := &ProviderOracle{
		provider:    p,
		system:      "You are a precise software engineering assistant. When asked for JSON, reply with JSON only.",
		timeout:     120 * time.Second,
		maxTokens:   4096,
		temperature: 0.2,
		budgetKey:   "oracle",
		logger:      observability.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Scoped returns a copy that attributes spend to key.
func (o *ProviderOracle) Scoped(key string) *ProviderOracle {
	c := *o
	c.budgetKey = key
	c.logger = o.logger.With("oracle_scope", key)
	return &c
}

// UsingModel returns a copy that requests model. Empty keeps the current one.
func (o *ProviderOracle) UsingModel(model string) *ProviderOracle {
	c := *o
	if model != "" {
		c.model = model
	}
	return &c
}

// Model returns the pinned model, or "" for the provider default.
func (o *ProviderOracle) Model() string { return o.model }

// Complete sends prompt as a single user message and returns the answer text.
func (o *ProviderOracle) Complete(ctx context.Context, prompt string) (string, error) {
	if o.budget != nil {
		if err := o.budget.Check(); err != nil {
			return "", err
		}
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var msgs []Message
	if o.system != "" {
		msgs = append(msgs, Message{Role: "system", Content: o.system})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})

	start := time.Now()
	resp, err := o.provider.Complete(ctx, Request{
		Messages:    msgs,
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	})
	if o.metrics != nil {
		o.metrics.Increment(observability.CounterOracleCalls)
		o.metrics.Record(observability.MetricOracleLatency, float64(time.Since(start).Milliseconds()),
			observability.Labels{"scope": o.budgetKey, "provider": o.provider.Name()})
	}
	if err != nil {
		o.logger.Debug("oracle call failed", "provider", o.provider.Name(), "error", err)
		return "", err
	}

	if o.budget != nil {
		o.budget.Record(o.budgetKey, resp.CostUSD)
	}
	if o.metrics != nil && resp.CostUSD > 0 {
		o.metrics.Record(observability.MetricOracleCost, resp.CostUSD, observability.Labels{"scope": o.budgetKey})
	}

	content := ExtractFinalAnswer(resp.Content, o.marker)
	if content == "" {
		return "", fmt.Errorf("%s: empty response", o.provider.Name())
	}
	o.logger.Debug("oracle call",
		"provider", o.provider.Name(),
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"latency_ms", resp.LatencyMs,
	)
	return content, nil
}
