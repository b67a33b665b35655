// Package events fans out installer events to in-process subscribers such as
// the SSE feed, keeping a short history for clients that connect late.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the installer.
const (
	TypeGrantInstallRequested   = "grant.install_requested"
	TypeGrantUninstallRequested = "grant.uninstall_requested"
	TypeInstallCompleted        = "install.completed"
	TypeUninstallCompleted      = "uninstall.completed"
	TypeCoreServicesUpdated     = "core_services.updated"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Completion is the payload of install.completed and uninstall.completed.
type Completion struct {
	RequestID   string `json:"request_id"`
	PackageName string `json:"package"`
	ReturnCode  int    `json:"return_code"`
	Succeeded   bool   `json:"succeeded"`
}

// PackageRef is the payload of events that only name a package.
type PackageRef struct {
	PackageName string `json:"package"`
}

// Publisher is the producer side of Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Hub is an in-memory pub/sub with a ring buffer for late subscribers.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int

	now func() time.Time
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
		now:  time.Now,
	}
}

// Publish records an event and delivers it to every subscriber that has
// room. data is JSON-encoded; encoding failures publish an empty object.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   h.now().UTC(),
		Data: payload,
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Slow subscribers miss events rather than block the installer.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Full: overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
