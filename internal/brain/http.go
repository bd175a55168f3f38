package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError is a non-200 reply from a provider.
type APIError struct {
	Provider string
	Status   int
	Type     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API error %d: %s: %s", e.Provider, e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Provider, e.Status, e.Message)
}

// apiErrorBody is the error envelope shared by the Anthropic and OpenAI APIs.
type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// postJSON sends in as a JSON POST and decodes a 200 reply into out. It
// returns the round-trip latency in milliseconds.
func postJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, in, out any) (int64, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("%s: marshal request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%s: create request: %w", provider, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: http request: %w", provider, err)
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return latency, fmt.Errorf("%s: read response: %w", provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Provider: provider, Status: resp.StatusCode, Message: string(raw)}
		var env apiErrorBody
		if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
			apiErr.Type, apiErr.Message = env.Error.Type, env.Error.Message
		}
		return latency, apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return latency, fmt.Errorf("%s: unmarshal response: %w", provider, err)
	}
	return latency, nil
}
