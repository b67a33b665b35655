package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/wearpkg/internal/events"
)

const keepAliveInterval = 15 * time.Second

// sseStream writes server-sent event frames and remembers the last id sent,
// so replayed and live events are never written twice.
type sseStream struct {
	w      io.Writer
	lastID int64
}

func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	frame := "id: " + strconv.FormatInt(ev.ID, 10) + "\n"
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	// Payloads are single-line JSON.
	frame += "data: " + string(ev.Data) + "\n\n"
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	s.lastID = ev.ID
	return nil
}

func (s *sseStream) ping() error {
	_, err := io.WriteString(s.w, ": keep-alive\n\n")
	return err
}

// handleEvents streams installer events. Buffered events newer than the
// Last-Event-ID header are replayed before live ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{w: w, lastID: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.events.SnapshotSince(stream.lastID) {
		if err := stream.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-ticker.C:
			err = stream.ping()
		}
		if err != nil {
			s.logger.Debug("event stream closed", "error", err, "last_event_id", stream.lastID)
			return
		}
		flusher.Flush()
	}
}

// parseLastEventID returns 0 for a missing or malformed header.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
