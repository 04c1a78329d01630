package metrics

import (
	"sync"
	"sync/atomic"
)

// automationStats holds counters for automation runs and per-action
// outcomes. Kept simple/thread-safe for use from the engine and exposition.
type automationStats struct {
	runs          uint64
	mu            sync.Mutex
	runsByStatus  map[string]uint64
	actionOutcome map[string]uint64
}

var auto automationStats

// IncRunFinished increments run counters for the given final status.
func IncRunFinished(status string) {
	atomic.AddUint64(&auto.runs, 1)
	auto.mu.Lock()
	if auto.runsByStatus == nil {
		auto.runsByStatus = make(map[string]uint64)
	}
	auto.runsByStatus[status]++
	auto.mu.Unlock()
}

// IncActionOutcome increments the counter for one action outcome
// (ok, skipped, error).
func IncActionOutcome(outcome string) {
	auto.mu.Lock()
	if auto.actionOutcome == nil {
		auto.actionOutcome = make(map[string]uint64)
	}
	auto.actionOutcome[outcome]++
	auto.mu.Unlock()
}

// AutomationSnapshot returns a copy of the current counters.
func AutomationSnapshot() (runs uint64, byStatus, byOutcome map[string]uint64) {
	runs = atomic.LoadUint64(&auto.runs)
	auto.mu.Lock()
	defer auto.mu.Unlock()
	byStatus = make(map[string]uint64, len(auto.runsByStatus))
	for k, v := range auto.runsByStatus {
		byStatus[k] = v
	}
	byOutcome = make(map[string]uint64, len(auto.actionOutcome))
	for k, v := range auto.actionOutcome {
		byOutcome[k] = v
	}
	return runs, byStatus, byOutcome
}
