package observability

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// MetricType names a sampled measurement.
type MetricType string

const (
	MetricTaskDuration  MetricType = "task_duration_ms"
	MetricOracleLatency MetricType = "oracle_latency_ms"
	MetricOracleCost    MetricType = "oracle_cost_usd"
	MetricSatisfaction  MetricType = "satisfaction"
	MetricCompletion    MetricType = "completion_pct"
)

// Counter names shared by the scheduler, planner and pipeline.
const (
	CounterTasksEnqueued       = "tasks.enqueued"
	CounterTasksCompleted      = "tasks.completed"
	CounterTasksFailed         = "tasks.failed"
	CounterOracleCalls         = "oracle.calls"
	CounterOracleFallbacks     = "oracle.fallbacks"
	CounterSchedulerCycles     = "scheduler.cycles"
	CounterImprovementAttempts = "improvement.attempts"
	CounterRemediationTasks    = "improvement.remediation_tasks"
)

// Labels are key-value metadata on a sample, e.g. {"project_id": "..."}.
type Labels map[string]string

// matches reports whether every pair in want is present in l.
func (l Labels) matches(want Labels) bool {
	for k, v := range want {
		if l[k] != v {
			return false
		}
	}
	return true
}

// MetricPoint is a single sample.
type MetricPoint struct {
	Type      MetricType `json:"type"`
	Value     float64    `json:"value"`
	Labels    Labels     `json:"labels,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// MetricsCollector keeps named counters and the most recent samples in a
// fixed-size ring. It is safe for concurrent use.
type MetricsCollector struct {
	mu       sync.RWMutex
	ring     []MetricPoint
	head     int // index of the oldest sample once the ring is full
	maxSize  int
	counters map[string]int64
}

// NewMetricsCollector creates a collector holding at most maxSize samples.
func NewMetricsCollector(maxSize int) *MetricsCollector {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MetricsCollector{
		ring:     make([]MetricPoint, 0, maxSize),
		maxSize:  maxSize,
		counters: make(map[string]int64),
	}
}

// Record stores a sample, evicting the oldest when the ring is full.
func (c *MetricsCollector) Record(mt MetricType, value float64, labels Labels) {
	p := MetricPoint{Type: mt, Value: value, Labels: labels, Timestamp: time.Now()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ring) < c.maxSize {
		c.ring = append(c.ring, p)
		return
	}
	c.ring[c.head] = p
	c.head = (c.head + 1) % c.maxSize
}

// Increment adds one to a counter.
func (c *MetricsCollector) Increment(name string) {
	c.IncrementBy(name, 1)
}

// IncrementBy adds n to a counter.
func (c *MetricsCollector) IncrementBy(name string, n int64) {
	c.mu.Lock()
	c.counters[name] += n
	c.mu.Unlock()
}

// Counter returns a counter's value; unknown counters are zero.
func (c *MetricsCollector) Counter(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Snapshot returns a copy of all counters.
func (c *MetricsCollector) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.counters)
}

// Len returns the number of samples held.
func (c *MetricsCollector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ring)
}

// Query returns samples of type mt, oldest first. A zero since selects the
// whole ring; each labels argument must be matched by the sample.
func (c *MetricsCollector) Query(mt MetricType, since time.Time, labels ...Labels) []MetricPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []MetricPoint
	n := len(c.ring)
	for i := range n {
		p := c.ring[(c.head+i)%n]
		if p.Type != mt || (!since.IsZero() && p.Timestamp.Before(since)) {
			continue
		}
		if !matchesAll(p.Labels, labels) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matchesAll(l Labels, want []Labels) bool {
	for _, w := range want {
		if !l.matches(w) {
			return false
		}
	}
	return true
}

// Summary aggregates the samples of one metric type.
type Summary struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

// Summarize aggregates the samples Query would return.
func (c *MetricsCollector) Summarize(mt MetricType, since time.Time, labels ...Labels) Summary {
	points := c.Query(mt, since, labels...)
	if len(points) == 0 {
		return Summary{}
	}
	values := make([]float64, len(points))
	var s Summary
	for i, p := range points {
		values[i] = p.Value
		s.Sum += p.Value
	}
	slices.Sort(values)

	s.Count = len(values)
	s.Mean = s.Sum / float64(s.Count)
	s.Min, s.Max = values[0], values[s.Count-1]
	s.P50 = percentile(values, 0.50)
	s.P95 = percentile(values, 0.95)
	return s
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}
