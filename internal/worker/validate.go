package worker

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors.
var (
	ErrEmptySolution = errors.New("solution is empty")
	ErrTooLarge      = errors.New("solution exceeds size limit")
	ErrPlaceholder   = errors.New("solution is a placeholder")
)

// DefaultMaxSolutionBytes bounds a single generated file.
const DefaultMaxSolutionBytes = 512 * 1024

// Validator checks a solution before it is executed or saved. Errors fail
// the task; warnings are recorded with the result.
type Validator interface {
	Validate(sol Solution) (warnings []string, err error)
}

// BasicValidator applies cheap structural checks.
type BasicValidator struct {
	MaxBytes int
}

var placeholders = []string{
	"your code here",
	"implementation goes here",
	"todo: implement",
}

// Validate rejects empty, oversized and placeholder solutions and warns
// about common mistakes.
func (v BasicValidator) Validate(sol Solution) ([]string, error) {
	code := strings.TrimSpace(sol.Code)
	if code == "" {
		return nil, ErrEmptySolution
	}
	limit := v.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxSolutionBytes
	}
	if len(sol.Code) > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(sol.Code), limit)
	}
	lower := strings.ToLower(code)
	for _, p := range placeholders {
		if lower == p || (len(code) < 200 && strings.Contains(lower, p)) {
			return nil, fmt.Errorf("%w: %q", ErrPlaceholder, p)
		}
	}

	var warnings []string
	if sol.Language == "python" {
		if strings.Contains(code, "def main(") && !strings.Contains(code, "__name__") {
			warnings = append(warnings, "main function defined but not called")
		}
		if strings.Contains(code, "while True:") && !strings.Contains(code, "break") && !strings.Contains(code, "return") {
			warnings = append(warnings, "potential infinite loop")
		}
		managers := 0
		for _, m := range []string{".pack(", ".grid(", ".place("} {
			if strings.Contains(code, m) {
				managers++
			}
		}
		if managers > 1 {
			warnings = append(warnings, "mixing tkinter geometry managers")
		}
	}
	return warnings, nil
}
