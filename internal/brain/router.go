package brain

// Tier represents a model cost/capability tier.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierMid      Tier = "mid"
	TierPowerful Tier = "powerful"
)

// ModelEntry describes a model with its tier.
type ModelEntry struct {
	ID       string // e.g. "gpt-4o-mini"
	Provider string // "claude", "openai", "ollama"
	Tier     Tier
}

// ModelRouter picks a model for a project from its complexity score and the
// remaining oracle budget.
type ModelRouter struct {
	models   []ModelEntry
	provider string
}

// DefaultModels lists the hosted models the router knows about.
func DefaultModels() []ModelEntry {
	return []ModelEntry{
		{ID: "claude-haiku-4-5", Provider: "claude", Tier: TierCheap},
		{ID: "gpt-4o-mini", Provider: "openai", Tier: TierCheap},
		{ID: "claude-sonnet-4-20250514", Provider: "claude", Tier: TierMid},
		{ID: "gpt-4o", Provider: "openai", Tier: TierMid},
		{ID: "claude-opus-4-20250514", Provider: "claude", Tier: TierPowerful},
		{ID: "gpt-4.1", Provider: "openai", Tier: TierPowerful},
	}
}

// NewModelRouter creates a router restricted to one provider's models.
// An empty provider considers every model.
func NewModelRouter(provider string, models []ModelEntry) *ModelRouter {
	if models == nil {
		models = DefaultModels()
	}
	return &ModelRouter{models: models, provider: provider}
}

// TierForScore maps a 1..10 complexity score to a tier.
func TierForScore(score int) Tier {
	switch {
	case score <= 3:
		return TierCheap
	case score <= 6:
		return TierMid
	default:
		return TierPowerful
	}
}

// Select returns the model for a complexity score. budgetRemaining is in
// USD; a negative value means unlimited. Returns "" when the router has no
// model for its provider, in which case the provider default applies.
func (r *ModelRouter) Select(score int, budgetRemaining float64) string {
	target := TierForScore(score)
	if budgetRemaining >= 0 {
		switch {
		case budgetRemaining < 0.10:
			target = TierCheap
		case budgetRemaining < 1.0 && target == TierPowerful:
			target = TierMid
		}
	}

	for _, tier := range append([]Tier{target}, tierFallback(target)...) {
		for _, m := range r.models {
			if r.matchesProvider(m) && m.Tier == tier {
				return m.ID
			}
		}
	}
	return ""
}

func (r *ModelRouter) matchesProvider(m ModelEntry) bool {
	return r.provider == "" || m.Provider == r.provider
}

// tierFallback returns the fallback order for a given tier.
func tierFallback(tier Tier) []Tier {
	switch tier {
	case TierPowerful:
		return []Tier{TierMid, TierCheap}
	case TierMid:
		return []Tier{TierCheap, TierPowerful}
	default:
		return []Tier{TierMid, TierPowerful}
	}
}
