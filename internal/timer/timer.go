package timer

import (
	"sync"
	"time"
)

// Timer is a single reusable cancellable timer slot. Scheduling again
// supersedes any previously armed run; a generation counter makes sure a
// firing that lost the race against Schedule/Stop is a no-op.
//
// One Timer backs one logical concern (typing expiry, reconnect backoff,
// poll interval) instead of ad hoc time.AfterFunc bookkeeping per call site.
type Timer struct {
	mu  sync.Mutex
	gen uint64
	t   *time.Timer
}

// Schedule arms the timer to run fn after d, cancelling any previously
// scheduled run. Returns a cancel function scoped to this scheduling;
// cancelling after the timer fired is a no-op.
func (t *Timer) Schedule(d time.Duration, fn func()) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen
	if t.t != nil {
		t.t.Stop()
	}
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		fn()
	})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.gen != gen {
			return
		}
		t.gen++
		if t.t != nil {
			t.t.Stop()
		}
	}
}

// Stop cancels any armed run.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.t != nil {
		t.t.Stop()
	}
}
