package install

import (
	"context"
	"sync"
	"time"
)

// Tracker records admitted work until it concludes. The host uses it to
// know when the process is idle.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]trackedWork
	idle    chan struct{}
}

type trackedWork struct {
	kind    string
	started time.Time
}

func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{entries: make(map[string]trackedWork), idle: idle}
}

// Begin registers id. It reports false if id is already outstanding.
func (t *Tracker) Begin(id, kind string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; ok {
		return false
	}
	if len(t.entries) == 0 {
		t.idle = make(chan struct{})
	}
	t.entries[id] = trackedWork{kind: kind, started: at}
	return true
}

// Finish concludes id and returns when it began. Unknown ids report false.
func (t *Tracker) Finish(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.entries[id]
	if !ok {
		return time.Time{}, false
	}
	delete(t.entries, id)
	if len(t.entries) == 0 {
		close(t.idle)
	}
	return w.started, true
}

// Outstanding returns the number of unfinished entries.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Wait blocks until nothing is outstanding or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
