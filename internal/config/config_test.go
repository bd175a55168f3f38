package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Loop.MaxCycles != 50 || cfg.Loop.MaxPulls != 15 || cfg.Loop.BatchSize != 3 {
		t.Errorf("loop = %+v", cfg.Loop)
	}
	if cfg.Loop.MaxImprovements != 3 || cfg.Loop.SatisfactionThreshold != 7 || cfg.Loop.MaxNodeAttempts != 3 {
		t.Errorf("loop = %+v", cfg.Loop)
	}
	if cfg.Exec.Timeout != 15*time.Second || cfg.Exec.ProbeDelay != 3*time.Second || cfg.Exec.Grace != 5*time.Second {
		t.Errorf("exec = %+v", cfg.Exec)
	}
	if cfg.LLM.Timeout != 120*time.Second {
		t.Errorf("llm timeout = %v", cfg.LLM.Timeout)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yaml")
	yml := `
database: data/tasks.db
llm:
  provider: ollama
  model: llama3.1:8b
  timeout: 30s
loop:
  max_cycles: 10
  satisfaction_threshold: 8
exec:
  grace: 1s
log:
  level: debug
security:
  blocklist:
    - keylogger
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("FOREMAN_DB", "")
	t.Setenv("FOREMAN_MAX_CYCLES", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database != "data/tasks.db" || cfg.LLM.Provider != ProviderOllama || cfg.LLM.Model != "llama3.1:8b" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LLM.Timeout != 30*time.Second || cfg.Exec.Grace != time.Second {
		t.Errorf("durations = %v, %v", cfg.LLM.Timeout, cfg.Exec.Grace)
	}
	if cfg.Loop.MaxCycles != 10 || cfg.Loop.SatisfactionThreshold != 8 {
		t.Errorf("loop = %+v", cfg.Loop)
	}
	if len(cfg.Security.Blocklist) != 1 || cfg.Security.Blocklist[0] != "keylogger" {
		t.Errorf("security = %+v", cfg.Security)
	}
	// Unset keys keep their defaults.
	if cfg.Loop.MaxPulls != 15 || cfg.Artifacts != "artifacts" || cfg.Security.MaxInputLength != 100000 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := Load(""); err != nil {
		t.Errorf("Load without files: %v", err)
	}
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Error("explicit missing path should fail")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(DefaultFile, []byte("loop: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), DefaultFile) {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	os.Unsetenv("FOREMAN_ARTIFACTS")
	t.Cleanup(func() { os.Unsetenv("FOREMAN_ARTIFACTS") })
	t.Setenv("FOREMAN_DB", "from-env.db")

	env := "FOREMAN_ARTIFACTS=out\nFOREMAN_DB=from-dotenv.db\n"
	if err := os.WriteFile(".env", []byte(env), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Artifacts != "out" {
		t.Errorf("artifacts = %q, want value from .env", cfg.Artifacts)
	}
	// The real environment wins over .env.
	if cfg.Database != "from-env.db" {
		t.Errorf("database = %q", cfg.Database)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LLM_PROVIDER":         "Claude",
		"LLM_MODEL":            "claude-sonnet-4-5-20250929",
		"ANTHROPIC_API_KEY":    "sk-ant",
		"OPENAI_BASE_URL":      "http://localhost:1234/v1",
		"EXTRACT_FINAL_ANSWER": "false",
		"FINAL_ANSWER_MARKER":  "FINAL:",
		"FOREMAN_MAX_CYCLES":   "5",
		"FOREMAN_MAX_PULLS":    "2",
		"FOREMAN_MAX_ATTEMPTS": "1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Provider != ProviderClaude || cfg.LLM.AnthropicKey != "sk-ant" || cfg.LLM.Model != "claude-sonnet-4-5-20250929" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.ExtractFinalAnswer || cfg.LLM.FinalAnswerMarker != "FINAL:" || cfg.LLM.BaseURL != "http://localhost:1234/v1" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Loop.MaxCycles != 5 || cfg.Loop.MaxPulls != 2 || cfg.Loop.MaxImprovements != 1 {
		t.Errorf("loop = %+v", cfg.Loop)
	}

	env = map[string]string{"FOREMAN_MAX_PULLS": "many"}
	if err := cfg.applyEnv(lookup); err == nil || !strings.Contains(err.Error(), "FOREMAN_MAX_PULLS") {
		t.Errorf("err = %v", err)
	}
	env = map[string]string{"EXTRACT_FINAL_ANSWER": "maybe"}
	if err := cfg.applyEnv(lookup); err == nil {
		t.Error("bad bool accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero cycles", func(c *Config) { c.Loop.MaxCycles = 0 }, "loop.max_cycles"},
		{"negative pulls", func(c *Config) { c.Loop.MaxPulls = -1 }, "loop.max_pulls"},
		{"threshold low", func(c *Config) { c.Loop.SatisfactionThreshold = 0 }, "satisfaction_threshold"},
		{"threshold high", func(c *Config) { c.Loop.SatisfactionThreshold = 11 }, "satisfaction_threshold"},
		{"provider", func(c *Config) { c.LLM.Provider = "gemini" }, "llm.provider"},
		{"exec", func(c *Config) { c.Exec.Grace = 0 }, "exec timeouts"},
		{"db", func(c *Config) { c.Database = "" }, "database"},
		{"input length", func(c *Config) { c.Security.MaxInputLength = 0 }, "security.max_input_length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestOffline(t *testing.T) {
	tests := []struct {
		name string
		llm  LLMConfig
		want bool
	}{
		{"offline provider", LLMConfig{Provider: ProviderOffline, OpenAIKey: "k"}, true},
		{"openai without key", LLMConfig{Provider: ProviderOpenAI}, true},
		{"openai with key", LLMConfig{Provider: ProviderOpenAI, OpenAIKey: "k"}, false},
		{"openai-compatible gateway", LLMConfig{Provider: ProviderOpenAI, BaseURL: "http://localhost:8080/v1"}, false},
		{"claude without key", LLMConfig{Provider: ProviderClaude, OpenAIKey: "k"}, true},
		{"claude with key", LLMConfig{Provider: ProviderClaude, AnthropicKey: "k"}, false},
		{"ollama", LLMConfig{Provider: ProviderOllama}, false},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.LLM = tt.llm
		if got := cfg.Offline(); got != tt.want {
			t.Errorf("%s: Offline() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
