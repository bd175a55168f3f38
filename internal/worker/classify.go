package worker

import (
	"regexp"
	"sort"
	"strings"

	"github.com/overhuman/foreman/internal/storage"
)

// Approach selects how a solution prompt is built.
type Approach int

const (
	// ApproachSpecialized uses the full domain prompt.
	ApproachSpecialized Approach = iota
	// ApproachCautious uses the domain prompt and retries generically when
	// the reply cannot be parsed.
	ApproachCautious
	// ApproachHybrid blends the two strongest domains.
	ApproachHybrid
	// ApproachGenericFallback ignores the domain entirely.
	ApproachGenericFallback
)

func (a Approach) String() string {
	switch a {
	case ApproachSpecialized:
		return "specialized"
	case ApproachCautious:
		return "cautious"
	case ApproachHybrid:
		return "hybrid"
	case ApproachGenericFallback:
		return "generic_fallback"
	default:
		return "unknown"
	}
}

// Classification thresholds.
const (
	genericBelow  = 0.15
	cautiousBelow = 0.35
	hybridFloor   = 0.25
	hybridSpread  = 0.30
)

// Scoring weights for each kind of evidence.
const (
	keywordWeight = 1.0
	termWeight    = 0.7
	patternWeight = 0.5
)

// Domain describes how to recognize one kind of task.
type Domain struct {
	Name     string
	Keywords []string
	Terms    []string
	Patterns []*regexp.Regexp
	// Prose domains produce text and are never executed.
	Prose bool
}

// DomainTable is an immutable set of domains. Build it once and share it.
type DomainTable struct {
	domains []Domain
}

// NewDomainTable copies domains into a table. Order breaks score ties.
func NewDomainTable(domains ...Domain) *DomainTable {
	out := make([]Domain, len(domains))
	for i, d := range domains {
		out[i] = Domain{
			Name:     d.Name,
			Keywords: append([]string(nil), d.Keywords...),
			Terms:    append([]string(nil), d.Terms...),
			Patterns: append([]*regexp.Regexp(nil), d.Patterns...),
			Prose:    d.Prose,
		}
	}
	return &DomainTable{domains: out}
}

// Names lists the domains in table order.
func (t *DomainTable) Names() []string {
	names := make([]string, len(t.domains))
	for i, d := range t.domains {
		names[i] = d.Name
	}
	return names
}

// IsProse reports whether the named domain produces text only.
func (t *DomainTable) IsProse(name string) bool {
	for _, d := range t.domains {
		if d.Name == name {
			return d.Prose
		}
	}
	return false
}

func rx(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// DefaultDomainTable returns the built-in domains.
func DefaultDomainTable() *DomainTable {
	return NewDomainTable(
		Domain{
			Name: "code",
			Keywords: []string{"implement", "code", "function", "class", "api", "algorithm",
				"program", "script", "application", "software", "system", "framework",
				"library", "module", "backend", "frontend", "database", "server",
				"client", "build", "develop"},
			Terms: []string{"python", "javascript", "java", "c++", "html", "css", "react",
				"django", "flask", "node", "sql", "git", "docker", "kubernetes", "aws",
				"rest", "graphql"},
			Patterns: rx(`\b(def|class|import|function)\b`, `\.(py|js|html|css)\b`, `\b(git|github|repository)\b`),
		},
		Domain{
			Name: "creative",
			Keywords: []string{"write", "story", "novel", "chapter", "character", "plot",
				"narrative", "dialogue", "scene", "poem", "script", "screenplay", "book",
				"fiction", "creative", "literature", "author", "compose", "draft", "manuscript"},
			Terms: []string{"science fiction", "fantasy", "mystery", "romance", "thriller",
				"horror", "drama", "comedy", "adventure"},
			Patterns: rx(`\b(chapter|page|word count)\b`, `\b(protagonist|antagonist|character)\b`, `\b(first person|third person)\b`),
			Prose:    true,
		},
		Domain{
			Name: "data",
			Keywords: []string{"analyze", "data", "statistics", "chart", "graph", "plot",
				"visualization", "dataset", "csv", "excel", "database", "query", "report",
				"metrics", "analytics", "insights", "correlation", "regression",
				"machine learning", "ai", "pandas", "numpy", "matplotlib", "seaborn"},
			Terms:    []string{"csv", "xlsx", "json", "xml", "sql", "parquet"},
			Patterns: rx(`\b(pandas|numpy|matplotlib|seaborn|plotly)\b`, `\.(csv|xlsx|json)\b`, `\b(mean|median|std|correlation)\b`),
		},
		Domain{
			Name: "ui",
			Keywords: []string{"interface", "ui", "ux", "design", "layout", "user", "screen",
				"page", "form", "button", "menu", "navigation", "responsive", "mobile",
				"desktop", "web", "gui", "tkinter", "qt", "gtk", "javafx", "swing"},
			Terms: []string{"button", "textbox", "dropdown", "checkbox", "radio", "slider",
				"menu", "toolbar", "dialog", "window"},
			Patterns: rx(`\b(tkinter|gui|window|dialog)\b`, `\b(css|html|bootstrap|react)\b`, `\b(responsive|mobile|desktop)\b`),
		},
		Domain{
			Name: "research",
			Keywords: []string{"research", "investigate", "study", "analyze", "gather",
				"information", "facts", "sources", "references", "review", "survey",
				"examine", "explore", "documentation", "report", "summary", "overview",
				"background", "literature"},
			Terms: []string{"paper", "journal", "article", "citation", "bibliography",
				"methodology", "hypothesis", "conclusion", "abstract"},
			Patterns: rx(`\b(research|investigate|study)\b`, `\b(sources|references|citations)\b`, `\b(academic|scholarly|peer-reviewed)\b`),
			Prose:    true,
		},
		Domain{
			Name: "game",
			Keywords: []string{"game", "gaming", "player", "level", "score", "character",
				"enemy", "weapon", "physics", "graphics", "engine", "raycast", "collision",
				"animation", "sprite", "texture", "doom", "mario", "platformer", "puzzle", "arcade"},
			Terms: []string{"fps", "rpg", "rts", "platformer", "puzzle", "arcade", "shooter",
				"adventure", "simulation", "strategy"},
			Patterns: rx(`\b(pygame|unity|unreal|godot)\b`, `\b(fps|rpg|mmo|rts)\b`, `\b(raycast|collision|physics)\b`),
		},
	)
}

// Classification is the result of classifying one task.
type Classification struct {
	Primary             string             `json:"primary_domain"`
	Secondary           string             `json:"secondary_domain,omitempty"`
	Confidence          float64            `json:"confidence"`
	SecondaryConfidence float64            `json:"secondary_confidence"`
	Scores              map[string]float64 `json:"scores"`
	Approach            Approach           `json:"-"`
	Reason              string             `json:"reason,omitempty"`
}

// Tag is the domain label stored with results. Hybrid tasks carry both
// domains joined by "+".
func (c Classification) Tag() string {
	if c.Approach == ApproachHybrid && c.Secondary != "" {
		return c.Primary + "+" + c.Secondary
	}
	return c.Primary
}

// Classifier scores task text against a domain table.
type Classifier struct {
	table *DomainTable
}

// NewClassifier creates a classifier. A nil table uses DefaultDomainTable.
func NewClassifier(table *DomainTable) *Classifier {
	if table == nil {
		table = DefaultDomainTable()
	}
	return &Classifier{table: table}
}

// Table returns the classifier's domain table.
func (c *Classifier) Table() *DomainTable { return c.table }

// Classify scores the task's title, description and deliverable.
func (c *Classifier) Classify(task storage.Task) Classification {
	text := strings.ToLower(task.Title + " " + task.Description + " " + task.Deliverable)

	type scored struct {
		name  string
		score float64
	}
	ranked := make([]scored, len(c.table.domains))
	scores := make(map[string]float64, len(c.table.domains))
	for i, d := range c.table.domains {
		s := score(text, d)
		ranked[i] = scored{d.Name, s}
		scores[d.Name] = s
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	cls := Classification{Scores: scores, Primary: "code"}
	if len(ranked) > 0 {
		cls.Primary, cls.Confidence = ranked[0].name, ranked[0].score
	}
	if len(ranked) > 1 {
		cls.Secondary, cls.SecondaryConfidence = ranked[1].name, ranked[1].score
	}
	hybrid := cls.Confidence > hybridFloor && cls.SecondaryConfidence > hybridFloor &&
		cls.Confidence-cls.SecondaryConfidence < hybridSpread

	switch {
	case cls.Confidence < genericBelow:
		cls.Primary = "code"
		cls.Approach = ApproachGenericFallback
		cls.Reason = "very low classification confidence"
	case cls.Confidence < cautiousBelow:
		cls.Approach = ApproachCautious
		cls.Reason = "low classification confidence"
	case hybrid:
		cls.Approach = ApproachHybrid
		cls.Reason = "multiple domains detected"
	default:
		cls.Approach = ApproachSpecialized
	}
	return cls
}

// score is the weighted share of keywords, terms and patterns found in text.
func score(text string, d Domain) float64 {
	var total, weight float64
	if len(d.Keywords) > 0 {
		total += fraction(text, d.Keywords) * keywordWeight
		weight += keywordWeight
	}
	if len(d.Terms) > 0 {
		total += fraction(text, d.Terms) * termWeight
		weight += termWeight
	}
	if len(d.Patterns) > 0 {
		hits := 0
		for _, p := range d.Patterns {
			if p.MatchString(text) {
				hits++
			}
		}
		total += float64(hits) / float64(len(d.Patterns)) * patternWeight
		weight += patternWeight
	}
	if weight == 0 {
		return 0
	}
	return total / weight
}

func fraction(text string, words []string) float64 {
	hits := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}
