package history

import "sync"

// Accumulator is the writer-of-record for committed session log items. It
// keeps an ordered list of history ids defining display order and a keyed
// store of the items themselves, so entries are independently addressable
// without disturbing order.
type Accumulator struct {
	mu    sync.RWMutex
	order []string
	items map[string]Item

	// Hooks invoked on Reset so derived caches owned by the view layer
	// (e.g. measured row heights for virtualized rendering) are cleared in
	// the same step.
	resetHooks []func()
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{items: make(map[string]Item)}
}

// Append commits an item to the log. It returns false when the item was
// suppressed: a connection-loss notice immediately following another
// connection-loss notice is deliberately debounced so reconnect churn does
// not spam the log with near-duplicates.
func (a *Accumulator) Append(item Item) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if isConnectionLoss(item) && len(a.order) > 0 {
		if last, ok := a.items[a.order[len(a.order)-1]]; ok && isConnectionLoss(last) {
			return false
		}
	}

	a.order = append(a.order, item.HistoryID())
	a.items[item.HistoryID()] = item
	return true
}

// Update replaces the item for id with the value returned by fn, which must
// be a pure function of its argument. Only the touched entry is swapped, so
// change detection over other entries keeps working. Returns false when id
// is unknown.
func (a *Accumulator) Update(id string, fn func(Item) Item) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, ok := a.items[id]
	if !ok {
		return false
	}
	a.items[id] = fn(item)
	return true
}

// Get returns the item for id.
func (a *Accumulator) Get(id string) (Item, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	item, ok := a.items[id]
	return item, ok
}

// Items returns the log in display order.
func (a *Accumulator) Items() []Item {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Item, 0, len(a.order))
	for _, id := range a.order {
		if item, ok := a.items[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

// Len returns the number of committed items.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

// OnReset registers a hook run whenever the log is reset.
func (a *Accumulator) OnReset(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetHooks = append(a.resetHooks, fn)
}

// Reset clears the log and fires the reset hooks. The swap is done under
// one lock so a reader never observes ids pointing at missing items.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.order = nil
	a.items = make(map[string]Item)
	hooks := a.resetHooks
	a.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
