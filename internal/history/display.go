package history

import "sync"

// ResultKey addresses the display state of one command result.
type ResultKey struct {
	HistoryID   string
	ResultIndex int
}

// PlanInsight is a derived observation about a statement's plan, emitted
// when the plan-insight session option is on.
type PlanInsight struct {
	Name   string
	Detail string
}

// ResultDisplay is UI-adjacent metadata for one result. It is mutated
// independently of the underlying result and never touches row data.
type ResultDisplay struct {
	Page     int
	DiffMode bool
	Insights []PlanInsight
}

// DisplayState tracks per-result display metadata keyed by
// (historyId, result index).
type DisplayState struct {
	mu sync.RWMutex
	m  map[ResultKey]ResultDisplay
}

// NewDisplayState returns an empty display-state store.
func NewDisplayState() *DisplayState {
	return &DisplayState{m: make(map[ResultKey]ResultDisplay)}
}

// Get returns the display state for key, zero-valued if never touched.
func (d *DisplayState) Get(key ResultKey) ResultDisplay {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.m[key]
}

// SetPage records the current pagination page for key.
func (d *DisplayState) SetPage(key ResultKey, page int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.m[key]
	s.Page = page
	d.m[key] = s
}

// ToggleDiffMode flips diff mode for key and returns the new value.
func (d *DisplayState) ToggleDiffMode(key ResultKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.m[key]
	s.DiffMode = !s.DiffMode
	d.m[key] = s
	return s.DiffMode
}

// SetInsights attaches derived plan insights to key.
func (d *DisplayState) SetInsights(key ResultKey, insights []PlanInsight) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.m[key]
	s.Insights = insights
	d.m[key] = s
}

// Reset drops all display state.
func (d *DisplayState) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m = make(map[ResultKey]ResultDisplay)
}
