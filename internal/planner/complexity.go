package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/overhuman/foreman/internal/brain"
)

// Complexity is the assessed difficulty of an objective.
type Complexity struct {
	Score     int    `json:"complexity_score"`
	Level     string `json:"complexity_level"`
	Reasoning string `json:"reasoning"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// keywordBuckets are checked in order; the first bucket with a matching
// keyword wins.
var keywordBuckets = []struct {
	words []string
	score int
	level string
}{
	{[]string{"simple", "basic", "hello", "calculator"}, 2, "simple"},
	{[]string{"game", "web", "app", "system"}, 6, "moderate"},
	{[]string{"complex", "advanced", "enterprise"}, 8, "complex"},
}

// FallbackComplexity scores an objective from keywords alone.
func FallbackComplexity(objective string) Complexity {
	lower := strings.ToLower(objective)
	for _, b := range keywordBuckets {
		for _, w := range b.words {
			if strings.Contains(lower, w) {
				return Complexity{Score: b.score, Level: b.level, Reasoning: "keyword heuristic", Fallback: true}
			}
		}
	}
	return Complexity{Score: 4, Level: "moderate", Reasoning: "keyword heuristic", Fallback: true}
}

// LevelFor names the band a score falls in.
func LevelFor(score int) string {
	switch {
	case score <= 3:
		return "simple"
	case score <= 6:
		return "moderate"
	case score <= 8:
		return "complex"
	default:
		return "very_complex"
	}
}

// TaskRange returns the number of tasks a plan of this score should have.
func TaskRange(score int) (min, max int) {
	switch {
	case score <= 3:
		return 1, 3
	case score <= 6:
		return 3, 8
	case score <= 8:
		return 5, 15
	default:
		return 10, 20
	}
}

const complexityPrompt = `You are a project manager assessing the complexity of a software development objective.

OBJECTIVE: %q

Rate its complexity on a scale of 1-10, considering technical complexity,
feature scope, integration requirements and the domain expertise needed.

COMPLEXITY GUIDELINES:
- 1-3: Simple scripts, basic tools, single-file programs
- 4-6: Multi-component applications, basic games, data analysis
- 7-8: Complex applications, advanced games, system integrations
- 9-10: Enterprise systems, advanced AI, complex distributed systems

Respond with JSON only:
{"complexity_score": 1-10, "complexity_level": "simple|moderate|complex|very_complex", "reasoning": "brief explanation"}`

// AssessComplexity asks the oracle for a 1..10 score. Any oracle error,
// undecodable reply or out-of-range score yields FallbackComplexity.
func (p *Planner) AssessComplexity(ctx context.Context, objective string) Complexity {
	reply, err := p.oracle.Complete(ctx, fmt.Sprintf(complexityPrompt, objective))
	if err == nil {
		var c Complexity
		if err = brain.DecodeJSON(reply, &c); err == nil {
			if c.Score < 1 || c.Score > 10 {
				err = fmt.Errorf("complexity score %d outside 1..10", c.Score)
			} else {
				if c.Level == "" {
					c.Level = LevelFor(c.Score)
				}
				return c
			}
		}
	}

	p.fallback("complexity", err)
	return FallbackComplexity(objective)
}
