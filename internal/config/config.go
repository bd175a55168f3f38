// Package config loads foreman settings.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// YAML file, an optional .env file and finally the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/overhuman/foreman/internal/brain"
	"github.com/overhuman/foreman/internal/security"
)

// DefaultFile is read when no path is given and it exists.
const DefaultFile = "foreman.yaml"

// Providers accepted in LLMConfig.Provider.
const (
	ProviderOpenAI  = "openai"
	ProviderClaude  = "claude"
	ProviderOllama  = "ollama"
	ProviderOffline = "offline"
)

// LLMConfig selects and tunes the oracle.
type LLMConfig struct {
	Provider           string        `yaml:"provider"`
	Model              string        `yaml:"model"`
	BaseURL            string        `yaml:"base_url"`
	OpenAIKey          string        `yaml:"-"`
	AnthropicKey       string        `yaml:"-"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxTokens          int           `yaml:"max_tokens"`
	Temperature        float64       `yaml:"temperature"`
	BudgetUSD          float64       `yaml:"budget_usd"`
	ExtractFinalAnswer bool          `yaml:"extract_final_answer"`
	FinalAnswerMarker  string        `yaml:"final_answer_marker"`
}

// LoopConfig bounds the execution loop.
type LoopConfig struct {
	MaxCycles             int `yaml:"max_cycles"`
	MaxPulls              int `yaml:"max_pulls"`
	BatchSize             int `yaml:"batch_size"`
	MaxNodeAttempts       int `yaml:"max_node_attempts"`
	MaxImprovements       int `yaml:"max_improvements"`
	SatisfactionThreshold int `yaml:"satisfaction_threshold"`
}

// ExecConfig bounds generated program execution.
type ExecConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	ProbeDelay time.Duration `yaml:"probe_delay"`
	Grace      time.Duration `yaml:"grace"`
	Disabled   bool          `yaml:"disabled"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// SecurityConfig bounds and screens objectives.
type SecurityConfig struct {
	MaxInputLength int      `yaml:"max_input_length"`
	Blocklist      []string `yaml:"blocklist"`
}

// Config is the full configuration. It is built once and passed by value.
type Config struct {
	Database  string         `yaml:"database"`
	Artifacts string         `yaml:"artifacts"`
	LLM       LLMConfig      `yaml:"llm"`
	Loop      LoopConfig     `yaml:"loop"`
	Exec      ExecConfig     `yaml:"exec"`
	Log       LogConfig      `yaml:"log"`
	Security  SecurityConfig `yaml:"security"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:  "foreman.db",
		Artifacts: "artifacts",
		LLM: LLMConfig{
			Provider:           ProviderOpenAI,
			Timeout:            120 * time.Second,
			MaxTokens:          4096,
			Temperature:        0.2,
			BudgetUSD:          0,
			ExtractFinalAnswer: true,
			FinalAnswerMarker:  brain.DefaultFinalAnswerMarker,
		},
		Loop: LoopConfig{
			MaxCycles:             50,
			MaxPulls:              15,
			BatchSize:             3,
			MaxNodeAttempts:       3,
			MaxImprovements:       3,
			SatisfactionThreshold: 7,
		},
		Exec: ExecConfig{
			Timeout:    15 * time.Second,
			ProbeDelay: 3 * time.Second,
			Grace:      5 * time.Second,
		},
		Log:      LogConfig{Level: "info"},
		Security: SecurityConfig{MaxInputLength: security.DefaultMaxInputLength},
	}
}

// Load builds a Config from defaults, the YAML file at path, a .env file
// in the working directory and the environment. An empty path reads
// DefaultFile if present; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	file := path
	if file == "" {
		file = DefaultFile
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", file, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == "":
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", file, err)
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_MODEL", &c.LLM.Model)
	str("OPENAI_BASE_URL", &c.LLM.BaseURL)
	str("OPENAI_API_KEY", &c.LLM.OpenAIKey)
	str("ANTHROPIC_API_KEY", &c.LLM.AnthropicKey)
	str("FINAL_ANSWER_MARKER", &c.LLM.FinalAnswerMarker)
	str("FOREMAN_DB", &c.Database)
	str("FOREMAN_ARTIFACTS", &c.Artifacts)
	str("FOREMAN_LOG_LEVEL", &c.Log.Level)
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)

	if v, ok := lookup("EXTRACT_FINAL_ANSWER"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: EXTRACT_FINAL_ANSWER: %w", err)
		}
		c.LLM.ExtractFinalAnswer = b
	}

	for key, dst := range map[string]*int{
		"FOREMAN_MAX_CYCLES":   &c.Loop.MaxCycles,
		"FOREMAN_MAX_PULLS":    &c.Loop.MaxPulls,
		"FOREMAN_MAX_ATTEMPTS": &c.Loop.MaxImprovements,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the loop cannot run with.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"loop.max_cycles":        c.Loop.MaxCycles,
		"loop.max_pulls":         c.Loop.MaxPulls,
		"loop.batch_size":        c.Loop.BatchSize,
		"loop.max_node_attempts": c.Loop.MaxNodeAttempts,
		"loop.max_improvements":  c.Loop.MaxImprovements,
	}
	for _, name := range []string{"loop.max_cycles", "loop.max_pulls", "loop.batch_size", "loop.max_node_attempts", "loop.max_improvements"} {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, positive[name]))
		}
	}
	if t := c.Loop.SatisfactionThreshold; t < 1 || t > 10 {
		errs = append(errs, fmt.Errorf("loop.satisfaction_threshold must be in 1..10, got %d", t))
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderClaude, ProviderOllama, ProviderOffline:
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of openai, claude, ollama, offline", c.LLM.Provider))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if c.Exec.Timeout <= 0 || c.Exec.ProbeDelay <= 0 || c.Exec.Grace <= 0 {
		errs = append(errs, errors.New("exec timeouts must be positive"))
	}
	if c.Security.MaxInputLength <= 0 {
		errs = append(errs, fmt.Errorf("security.max_input_length must be positive, got %d", c.Security.MaxInputLength))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database path is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Offline reports whether the oracle should be disabled: the provider says
// so, or the selected hosted provider has no key.
func (c Config) Offline() bool {
	switch c.LLM.Provider {
	case ProviderOffline:
		return true
	case ProviderClaude:
		return c.LLM.AnthropicKey == ""
	case ProviderOpenAI:
		return c.LLM.OpenAIKey == "" && c.LLM.BaseURL == ""
	default:
		return false
	}
}
