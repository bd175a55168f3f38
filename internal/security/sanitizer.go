// Package security screens untrusted text: objectives before they reach
// the planner, and generated programs before they are run.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrBlocked is returned for input that must not be processed.
var ErrBlocked = errors.New("security: input blocked")

// DefaultMaxInputLength bounds an objective in bytes.
const DefaultMaxInputLength = 100000

// SanitizeResult holds the outcome of a sanitization check.
type SanitizeResult struct {
	Clean       string   // the sanitized input
	WasModified bool     // true if the input was changed
	Warnings    []string // non-blocking concerns
	Blocked     bool     // true if the input should be rejected
	BlockReason string
}

// Err returns ErrBlocked with the reason, or nil.
func (r SanitizeResult) Err() error {
	if !r.Blocked {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBlocked, r.BlockReason)
}

// SanitizerConfig holds configuration for the Sanitizer.
type SanitizerConfig struct {
	MaxInputLength int      // default DefaultMaxInputLength
	Blocklist      []string // phrases that reject the input outright
}

// Sanitizer cleans objectives. It is immutable once built.
type Sanitizer struct {
	maxInputLength int
	injection      []*regexp.Regexp
	blocklist      []string
}

var injectionPatterns = []string{
	// Instruction override.
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`,
	`(?i)disregard\s+(all\s+)?(previous|prior|above)`,
	`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions?|context)`,
	// Role manipulation.
	`(?i)act\s+as\s+(a|an|the)\s+(system|admin|root|developer)`,
	// System prompt extraction.
	`(?i)(show|reveal|print|output|display)\s+(your\s+)?(system\s+prompt|instructions|rules)`,
	// Delimiter injection.
	`(?i)<\/?system>`,
	`(?i)\[INST\]|\[\/INST\]`,
	`(?i)<<SYS>>|<<\/SYS>>`,
	`<\|(start|end|channel|message)\|>`,
}

// NewSanitizer creates a Sanitizer with prompt injection detection.
func NewSanitizer(cfg SanitizerConfig) *Sanitizer {
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = DefaultMaxInputLength
	}
	s := &Sanitizer{
		maxInputLength: cfg.MaxInputLength,
		blocklist:      append([]string(nil), cfg.Blocklist...),
	}
	for _, p := range injectionPatterns {
		s.injection = append(s.injection, regexp.MustCompile(p))
	}
	return s
}

// Sanitize checks and cleans an input string. Suspected prompt injection
// only warns: objectives legitimately mention prompts and instructions.
func (s *Sanitizer) Sanitize(input string) SanitizeResult {
	result := SanitizeResult{Clean: input}

	if !utf8.ValidString(input) {
		result.Clean = strings.ToValidUTF8(input, "")
		result.WasModified = true
		result.Warnings = append(result.Warnings, "invalid UTF-8 sequences removed")
	}

	if cleaned := stripControlChars(result.Clean); cleaned != result.Clean {
		result.Clean = cleaned
		result.WasModified = true
		result.Warnings = append(result.Warnings, "control characters removed")
	}

	if len(result.Clean) > s.maxInputLength {
		result.Blocked = true
		result.BlockReason = fmt.Sprintf("input exceeds maximum length (%d > %d)", len(result.Clean), s.maxInputLength)
		return result
	}

	lower := strings.ToLower(result.Clean)
	for _, blocked := range s.blocklist {
		if blocked != "" && strings.Contains(lower, strings.ToLower(blocked)) {
			result.Blocked = true
			result.BlockReason = fmt.Sprintf("input contains blocked phrase %q", blocked)
			return result
		}
	}

	for _, re := range s.injection {
		if m := re.FindString(result.Clean); m != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("potential prompt injection: %q", m))
		}
	}
	return result
}

// stripControlChars removes ASCII control characters except \n, \r and \t.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
