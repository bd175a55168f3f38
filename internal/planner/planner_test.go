package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/overhuman/foreman/internal/brain"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/plan"
)

// scriptedOracle answers complexity and breakdown prompts with fixed text.
type scriptedOracle struct {
	complexity string
	breakdown  string
	err        error
	prompts    []string
}

func (o *scriptedOracle) Complete(_ context.Context, prompt string) (string, error) {
	o.prompts = append(o.prompts, prompt)
	if o.err != nil {
		return "", o.err
	}
	if strings.Contains(prompt, "assessing the complexity") {
		return o.complexity, nil
	}
	return o.breakdown, nil
}

func intPtr(v int) *int { return &v }

func TestFallbackComplexity(t *testing.T) {
	tests := []struct {
		objective string
		score     int
		level     string
	}{
		{"simple", 2, "simple"},
		{"Build a basic CLI", 2, "simple"},
		{"Hello world", 2, "simple"},
		{"scientific calculator", 2, "simple"},
		{"snake game", 6, "moderate"},
		{"Web scraper", 6, "moderate"},
		{"advanced trading engine", 8, "complex"},
		{"ENTERPRISE inventory", 8, "complex"},
		{"translate poems", 4, "moderate"},
		// Earlier buckets win.
		{"simple game", 2, "simple"},
		{"advanced web crawler", 6, "moderate"},
	}
	for _, tt := range tests {
		c := FallbackComplexity(tt.objective)
		if c.Score != tt.score || c.Level != tt.level || !c.Fallback {
			t.Errorf("FallbackComplexity(%q) = %+v, want %d/%s", tt.objective, c, tt.score, tt.level)
		}
	}
}

func TestTaskRangeAndFallbackSize(t *testing.T) {
	tests := []struct {
		score, lo, hi, fallback int
	}{
		{1, 1, 3, 1},
		{3, 1, 3, 1},
		{4, 3, 8, 3},
		{6, 3, 8, 3},
		{7, 5, 15, 5},
		{8, 5, 15, 5},
		{9, 10, 20, 5},
		{10, 10, 20, 5},
	}
	for _, tt := range tests {
		lo, hi := TaskRange(tt.score)
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("TaskRange(%d) = %d..%d, want %d..%d", tt.score, lo, hi, tt.lo, tt.hi)
		}
		if got := FallbackSize(tt.score); got != tt.fallback {
			t.Errorf("FallbackSize(%d) = %d, want %d", tt.score, got, tt.fallback)
		}
	}
}

func TestCreatePlan_SimpleObjectiveOffline(t *testing.T) {
	p := New(brain.OfflineOracle{})
	pl := p.CreatePlan(context.Background(), "simple")

	if pl.ComplexityScore != 2 {
		t.Errorf("score = %d, want 2", pl.ComplexityScore)
	}
	if len(pl.Nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(pl.Nodes))
	}
	if len(pl.Nodes[0].Dependencies) != 0 {
		t.Errorf("deps = %v, want none", pl.Nodes[0].Dependencies)
	}
	if !pl.Fallback {
		t.Error("expected fallback plan")
	}
	if pl.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreatePlan_FallbackTermination(t *testing.T) {
	metrics := observability.NewMetricsCollector(10)
	p := New(brain.OfflineOracle{}, WithMetrics(metrics))

	objectives := []string{
		"simple", "hello script", "web dashboard", "tetris game",
		"advanced compiler", "enterprise CRM", "write a sonnet", "",
	}
	for _, obj := range objectives {
		pl := p.CreatePlan(context.Background(), obj)
		want := FallbackSize(FallbackComplexity(obj).Score)
		if len(pl.Nodes) == 0 || len(pl.Nodes) != want {
			t.Errorf("%q: nodes = %d, want %d", obj, len(pl.Nodes), want)
		}
		if err := plan.CheckAcyclic(pl.Nodes); err != nil {
			t.Errorf("%q: %v", obj, err)
		}
	}
	// Two fallbacks per plan: complexity and breakdown.
	if got := metrics.Counter(observability.CounterOracleFallbacks); got != int64(2*len(objectives)) {
		t.Errorf("fallbacks = %d, want %d", got, 2*len(objectives))
	}
}

func TestFallbackPlan_Chain(t *testing.T) {
	pl := FallbackPlan("todo app", Complexity{Score: 8, Level: "complex"})
	if len(pl.Nodes) != 5 {
		t.Fatalf("nodes = %d", len(pl.Nodes))
	}
	wantTitles := []string{
		"Implement Core Functionality for todo app",
		"Add User Interface and Interaction",
		"Integrate and Test Components",
		"Enhance and Polish (Phase 1)",
		"Enhance and Polish (Phase 2)",
	}
	for i, n := range pl.Nodes {
		if n.Title != wantTitles[i] {
			t.Errorf("node %d title = %q", i, n.Title)
		}
		if n.Priority != 10-i {
			t.Errorf("node %d priority = %d", i, n.Priority)
		}
		if i == 0 && len(n.Dependencies) != 0 {
			t.Errorf("first node deps = %v", n.Dependencies)
		}
		if i > 0 && (len(n.Dependencies) != 1 || n.Dependencies[0] != pl.Nodes[i-1].ID) {
			t.Errorf("node %d deps = %v, want [%s]", i, n.Dependencies, pl.Nodes[i-1].ID)
		}
	}

	// Strict chain: exactly one node is ever ready.
	for range pl.Nodes {
		ready := plan.ReadyNodes(pl, 0)
		if len(ready) != 1 {
			t.Fatalf("ready = %d, want 1", len(ready))
		}
		pl.MarkCompleted(ready[0].ID)
	}
}

func TestAssessComplexity(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		err       error
		wantScore int
		wantFall  bool
	}{
		{"valid", `{"complexity_score": 7, "complexity_level": "complex", "reasoning": "many parts"}`, nil, 7, false},
		{"level filled", `Here: {"complexity_score": 9}`, nil, 9, false},
		{"out of range", `{"complexity_score": 42}`, nil, 6, true},
		{"zero", `{"complexity_score": 0}`, nil, 6, true},
		{"string score", `{"complexity_score": "high"}`, nil, 6, true},
		{"no json", `I think it is hard.`, nil, 6, true},
		{"oracle down", "", errors.New("connection refused"), 6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(&scriptedOracle{complexity: tt.reply, err: tt.err})
			c := p.AssessComplexity(context.Background(), "web shop")
			if c.Score != tt.wantScore || c.Fallback != tt.wantFall {
				t.Errorf("got %+v, want score %d fallback %v", c, tt.wantScore, tt.wantFall)
			}
			if c.Level == "" {
				t.Error("level must be set")
			}
		})
	}
}

const goodBreakdown = "```json\n" + `{
  "project_summary": {"primary_domain": "game", "architecture_overview": "pygame loop"},
  "task_breakdown": {
    "estimated_tasks": 7,
    "tasks": [
      {"id": "board", "title": "Board", "priority": 9, "dependencies": []},
      {"id": "pieces", "title": "Pieces", "priority": 7, "dependencies": ["board"]},
      {"id": "loop", "title": "Game loop", "priority": 8, "dependencies": ["board", "pieces"], "domain": "code"}
    ]
  }
}` + "\n```"

func TestCreatePlan_FromOracle(t *testing.T) {
	oracle := &scriptedOracle{
		complexity: `{"complexity_score": 5, "complexity_level": "moderate"}`,
		breakdown:  goodBreakdown,
	}
	p := New(oracle)
	pl := p.CreatePlan(context.Background(), "tetris")

	if pl.Fallback {
		t.Fatal("unexpected fallback plan")
	}
	if len(pl.Nodes) != 3 {
		t.Fatalf("nodes = %d", len(pl.Nodes))
	}
	if pl.Nodes[0].Domain != "game" || pl.Nodes[2].Domain != "code" {
		t.Errorf("domains = %s/%s", pl.Nodes[0].Domain, pl.Nodes[2].Domain)
	}
	if pl.DomainSummary != "game: pygame loop" {
		t.Errorf("DomainSummary = %q", pl.DomainSummary)
	}
	if pl.Execution.CurrentPhase != plan.PhasePlanning {
		t.Errorf("phase = %s", pl.Execution.CurrentPhase)
	}
	if !strings.Contains(oracle.prompts[1], "3 to 8 tasks") {
		t.Errorf("breakdown prompt not sized by score: %s", oracle.prompts[1])
	}
}

func TestCreatePlan_CyclicBreakdownFallsBack(t *testing.T) {
	oracle := &scriptedOracle{
		complexity: `{"complexity_score": 5}`,
		breakdown: `{"task_breakdown": {"tasks": [
			{"id": "a", "title": "A", "dependencies": ["b"]},
			{"id": "b", "title": "B", "dependencies": ["a"]}
		]}}`,
	}
	pl := New(oracle).CreatePlan(context.Background(), "anything")
	if !pl.Fallback {
		t.Fatal("cyclic plan must be replaced by the fallback plan")
	}
	if len(pl.Nodes) != FallbackSize(5) {
		t.Errorf("nodes = %d", len(pl.Nodes))
	}
	if pl.ComplexityScore != 5 {
		t.Errorf("oracle complexity should be kept, got %d", pl.ComplexityScore)
	}
}

func TestCreatePlan_ModelSelector(t *testing.T) {
	primary := &scriptedOracle{complexity: `{"complexity_score": 9}`}
	big := &scriptedOracle{breakdown: goodBreakdown}
	var gotScore int
	p := New(primary, WithModelSelector(func(score int) brain.Oracle {
		gotScore = score
		return big
	}))

	pl := p.CreatePlan(context.Background(), "distributed database")
	if gotScore != 9 {
		t.Errorf("selector score = %d", gotScore)
	}
	if len(big.prompts) != 1 || len(primary.prompts) != 1 {
		t.Errorf("prompts primary=%d big=%d", len(primary.prompts), len(big.prompts))
	}
	if pl.Fallback {
		t.Error("unexpected fallback")
	}
}

func TestValidate_Repairs(t *testing.T) {
	var b Breakdown
	b.ProjectSummary.PrimaryDomain = "data"
	b.TaskBreakdown.EstimatedTasks = 10
	b.TaskBreakdown.Tasks = []RawNode{
		{ID: "", Title: "first", Priority: intPtr(50)},
		{ID: "x", Title: "second", Dependencies: []string{"x", "ghost", "task_1", "task_1"}},
		{ID: "x", Title: "dup", Priority: intPtr(-3)},
		{ID: "y", Title: "", Domain: "ui"},
	}

	v, err := Validate(b)
	if err != nil {
		t.Fatal(err)
	}
	n := v.Nodes
	if len(n) != 4 {
		t.Fatalf("nodes = %d", len(n))
	}
	if n[0].ID != "task_1" || n[0].Priority != 10 {
		t.Errorf("node0 = %+v", n[0])
	}
	if n[1].Priority != defaultPriority {
		t.Errorf("default priority = %d", n[1].Priority)
	}
	if len(n[1].Dependencies) != 1 || n[1].Dependencies[0] != "task_1" {
		t.Errorf("deps = %v, want [task_1]", n[1].Dependencies)
	}
	if n[2].ID == "x" || n[2].Priority != 1 {
		t.Errorf("duplicate node = %+v", n[2])
	}
	if n[3].Title != "Task 4" || n[3].Domain != "ui" {
		t.Errorf("node3 = %+v", n[3])
	}
	if n[0].Domain != "data" {
		t.Errorf("default domain = %q", n[0].Domain)
	}
	for _, node := range n {
		if node.Dependencies == nil {
			t.Errorf("%s: dependencies must be an empty set, not nil", node.ID)
		}
	}
	if len(v.Corrections) == 0 {
		t.Error("expected corrections")
	}
	foundCount := false
	for _, c := range v.Corrections {
		if strings.Contains(c, "estimated_tasks 10 recomputed to 4") {
			foundCount = true
		}
	}
	if !foundCount {
		t.Errorf("count correction missing: %v", v.Corrections)
	}
}

func TestValidate_Rejects(t *testing.T) {
	if _, err := Validate(Breakdown{}); !errors.Is(err, ErrEmptyPlan) {
		t.Errorf("empty err = %v", err)
	}

	var b Breakdown
	b.TaskBreakdown.Tasks = []RawNode{
		{ID: "a", Title: "A", Dependencies: []string{"c"}},
		{ID: "b", Title: "B", Dependencies: []string{"a"}},
		{ID: "c", Title: "C", Dependencies: []string{"b"}},
	}
	if _, err := Validate(b); !errors.Is(err, plan.ErrCycle) {
		t.Errorf("cycle err = %v", err)
	}
}

func TestValidate_Truncates(t *testing.T) {
	var b Breakdown
	for i := 0; i < 30; i++ {
		b.TaskBreakdown.Tasks = append(b.TaskBreakdown.Tasks, RawNode{Title: "t"})
	}
	v, err := Validate(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Nodes) != maxNodes {
		t.Errorf("nodes = %d, want %d", len(v.Nodes), maxNodes)
	}
}
