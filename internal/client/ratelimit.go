package client

import (
	"sync"
	"time"
)

// rateLimitWindow is the trailing interval over which per-endpoint request
// counts apply.
const rateLimitWindow = 60 * time.Second

// rateWindow tracks request timestamps per endpoint path. Advisory and
// in-process: state is owned by one client and not shared across instances.
type rateWindow struct {
	mu     sync.Mutex
	stamps map[string][]time.Time
	now    func() time.Time
}

func newRateWindow() *rateWindow {
	return &rateWindow{
		stamps: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// allow prunes timestamps older than the window and admits iff the remaining
// count is below limit. A non-positive limit always admits.
func (w *rateWindow) allow(path string, limit int) bool {
	if limit <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-rateLimitWindow)
	kept := w.stamps[path][:0]
	for _, t := range w.stamps[path] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.stamps[path] = kept

	return len(kept) < limit
}

// record appends the current time to the window for path.
func (w *rateWindow) record(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stamps[path] = append(w.stamps[path], w.now())
}

// count returns the pruned request count for path.
func (w *rateWindow) count(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-rateLimitWindow)
	n := 0
	for _, t := range w.stamps[path] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
