package brain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when oracle output contains no JSON value.
var ErrNoJSON = errors.New("brain: no JSON in response")

// ExtractJSON returns the JSON object or array embedded in model output.
// Code fences are stripped. The outermost {...} span is preferred, so
// bracketed prose before an object is skipped; the outermost [...] span is
// used when it is valid JSON and the object span is not. Failing both, the
// object span is returned so the decode error names the problem.
func ExtractJSON(text string) (string, error) {
	t := stripFence(strings.TrimSpace(text))
	obj, hasObj := span(t, '{', '}')
	if hasObj && json.Valid([]byte(obj)) {
		return obj, nil
	}
	if arr, ok := span(t, '[', ']'); ok && (!hasObj || json.Valid([]byte(arr))) {
		return arr, nil
	}
	if hasObj {
		return obj, nil
	}
	return "", ErrNoJSON
}

// span returns t from the first opener to the last closer.
func span(t string, opener, closer byte) (string, bool) {
	start := strings.IndexByte(t, opener)
	if start == -1 {
		return "", false
	}
	end := strings.LastIndexByte(t, closer)
	if end <= start {
		return "", false
	}
	return t[start : end+1], true
}

// DecodeJSON extracts JSON from text and unmarshals it into v.
func DecodeJSON(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("brain: decode oracle JSON: %w", err)
	}
	return nil
}

// stripFence removes a surrounding ```lang ... ``` fence, if present.
func stripFence(t string) string {
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	// Drop the language hint line.
	if idx := strings.IndexByte(t, '\n'); idx != -1 {
		t = t[idx+1:]
	}
	if j := strings.LastIndex(t, "```"); j != -1 {
		t = t[:j]
	}
	return strings.TrimSpace(t)
}

// CodeBlock returns the body and language hint of the first fenced code
// block in text. A fence closed on its opening line has no language hint.
// ok is false when text has no non-empty fenced block.
func CodeBlock(text string) (code, lang string, ok bool) {
	start := strings.Index(text, "```")
	if start == -1 {
		return "", "", false
	}
	rest := text[start+3:]
	nl := strings.IndexByte(rest, '\n')
	if end := strings.Index(rest, "```"); end != -1 && (nl == -1 || end < nl) {
		code = strings.TrimSpace(rest[:end])
		return code, "", code != ""
	}
	if nl == -1 {
		return "", "", false
	}
	lang = strings.ToLower(strings.TrimSpace(rest[:nl]))
	body := rest[nl+1:]
	if end := strings.Index(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.TrimRight(body, "\n"), lang, true
}
