package cli

import (
	"github.com/overhuman/foreman/internal/brain"
	"github.com/overhuman/foreman/internal/budget"
	"github.com/overhuman/foreman/internal/config"
	"github.com/overhuman/foreman/internal/observability"
)

// oracleSet is the oracle wiring for one run.
type oracleSet struct {
	oracle   brain.Oracle
	provider string
	// selectPlanner routes graph generation by complexity. Nil keeps oracle.
	selectPlanner func(score int) brain.Oracle
	budget        *budget.Tracker
}

// newOracle builds the oracle the config asks for. A hosted provider
// without credentials runs offline.
func newOracle(cfg config.Config, logger *observability.Logger, metrics *observability.MetricsCollector) oracleSet {
	if cfg.Offline() {
		logger.Warn("oracle offline, every oracle call uses its fallback", "provider", cfg.LLM.Provider)
		return oracleSet{oracle: brain.OfflineOracle{}, provider: config.ProviderOffline}
	}

	var p brain.Provider
	switch cfg.LLM.Provider {
	case config.ProviderClaude:
		p = brain.NewClaudeProvider(cfg.LLM.AnthropicKey)
	case config.ProviderOllama:
		p = brain.NewOllamaProvider(cfg.LLM.BaseURL, cfg.LLM.Model)
	default:
		var opts []brain.OpenAIOption
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, brain.WithOpenAIBaseURL(cfg.LLM.BaseURL))
		}
		p = brain.NewOpenAIProvider(cfg.LLM.OpenAIKey, opts...)
	}

	tracker := budget.New(cfg.LLM.BudgetUSD)
	marker := ""
	if cfg.LLM.ExtractFinalAnswer {
		marker = cfg.LLM.FinalAnswerMarker
	}
	po := brain.NewProviderOracle(p,
		brain.WithOracleModel(cfg.LLM.Model),
		brain.WithOracleTimeout(cfg.LLM.Timeout),
		brain.WithOracleMaxTokens(cfg.LLM.MaxTokens),
		brain.WithOracleTemperature(cfg.LLM.Temperature),
		brain.WithFinalAnswerMarker(marker),
		brain.WithOracleBudget(tracker),
		brain.WithOracleMetrics(metrics),
		brain.WithOracleLogger(logger.Component("oracle")),
	)
	set := oracleSet{oracle: po, provider: p.Name(), budget: tracker}

	// The router only knows hosted model ids.
	if cfg.LLM.Model == "" && cfg.LLM.BaseURL == "" && cfg.LLM.Provider != config.ProviderOllama {
		router := brain.NewModelRouter(cfg.LLM.Provider, nil)
		set.selectPlanner = func(score int) brain.Oracle {
			return po.Scoped("planner").UsingModel(router.Select(score, tracker.Remaining()))
		}
	}
	return set
}
