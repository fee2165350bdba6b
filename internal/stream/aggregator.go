package stream

import "sync"

// DefaultSegmentBudget keeps each segment under the platform's 2000
// character message limit.
const DefaultSegmentBudget = 1800

// Aggregator groups deltas into segments of at most budget bytes. A delta
// that alone exceeds the budget becomes its own oversized segment. It is
// safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	budget   int
	segments []string
}

// NewAggregator creates an aggregator. Non-positive budgets use DefaultSegmentBudget.
func NewAggregator(budget int) *Aggregator {
	if budget <= 0 {
		budget = DefaultSegmentBudget
	}
	return &Aggregator{budget: budget}
}

// Append adds delta to the last segment, or starts a new segment when the
// budget would be exceeded. Empty deltas are ignored and no segment is ever
// empty.
func (a *Aggregator) Append(delta string) {
	if delta == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.segments) == 0 {
		a.segments = append(a.segments, "")
	}
	last := len(a.segments) - 1
	if a.segments[last] != "" && len(a.segments[last])+len(delta) > a.budget {
		a.segments = append(a.segments, delta)
		return
	}
	a.segments[last] += delta
}

// Segments returns a copy of the current segments.
func (a *Aggregator) Segments() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.segments))
	copy(out, a.segments)
	return out
}

// Len returns the number of segments.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

// Text returns the concatenation of all segments.
func (a *Aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, seg := range a.segments {
		total += len(seg)
	}
	buf := make([]byte, 0, total)
	for _, seg := range a.segments {
		buf = append(buf, seg...)
	}
	return string(buf)
}
