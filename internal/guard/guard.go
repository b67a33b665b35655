// Package guard implements the reference-counted liveness hold that keeps the
// host awake while install or uninstall work is outstanding.
//
// The hold is activated on the 0→1 transition and deactivated on 1→0. If
// activation fails, every later Acquire retries it while references remain.
// It is not a correctness lock: Hold implementations must not block, and
// nothing waits on the hold.
package guard

import (
	"log/slog"
	"sync"
)

// Hold is the underlying exclusive resource kept while the count is positive.
type Hold interface {
	Activate() error
	Deactivate() error
}

// Guard counts references to a Hold. The zero value is not usable; use New.
type Guard struct {
	mu     sync.Mutex
	count  int
	active bool
	hold   Hold
	logger *slog.Logger
}

// New creates a Guard over hold. A nil hold behaves like NopHold.
func New(hold Hold, logger *slog.Logger) *Guard {
	if hold == nil {
		hold = NopHold{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{hold: hold, logger: logger}
}

// Acquire adds one reference, activating the hold if it is not active.
func (g *Guard) Acquire() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.count++
	if g.active {
		return
	}
	if err := g.hold.Activate(); err != nil {
		g.logger.Error("failed to activate hold", "error", err, "references", g.count)
		return
	}
	g.active = true
	g.logger.Debug("hold activated", "references", g.count)
}

// Release drops one reference, deactivating the hold on the last one.
// Releasing with no outstanding references is logged and ignored.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		g.logger.Error("release called with no outstanding references")
		return
	}
	g.count--
	if g.count == 0 && g.active {
		// The hold is treated as released even when Deactivate fails.
		g.active = false
		if err := g.hold.Deactivate(); err != nil {
			g.logger.Error("failed to deactivate hold", "error", err)
			return
		}
		g.logger.Debug("hold deactivated")
	}
}

// Count returns the number of outstanding references.
func (g *Guard) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Active reports whether the hold is currently activated.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// NopHold is a Hold with no side effects.
type NopHold struct{}

func (NopHold) Activate() error   { return nil }
func (NopHold) Deactivate() error { return nil }
