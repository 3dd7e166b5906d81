package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/channelgw/internal/events"
)

const sseKeepAlive = 15 * time.Second

// sseStream writes server-sent events and flushes after each one.
type sseStream struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s sseStream) event(ev events.Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", ev.ID)
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(&b, "data: %s\n\n", ev.Data)
	return s.write(b.String())
}

func (s sseStream) comment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s sseStream) write(frame string) error {
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleEvents streams lifecycle events. Clients resume with Last-Event-ID
// (or ?last_event_id=) and may narrow the stream with ?type=<prefix>, for
// example type=channel.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	resume := r.Header.Get("Last-Event-ID")
	if resume == "" {
		resume = r.URL.Query().Get("last_event_id")
	}
	prefix := r.URL.Query().Get("type")
	wanted := func(ev events.Event) bool { return strings.HasPrefix(ev.Type, prefix) }

	// Subscribe before replaying so nothing published in between is lost.
	live, unsubscribe := s.deps.Events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	stream := sseStream{w: w, f: flusher}

	var sent int64
	for _, ev := range s.deps.Events.SnapshotSince(parseLastEventID(resume)) {
		sent = ev.ID
		if !wanted(ev) {
			continue
		}
		if err := stream.event(ev); err != nil {
			return
		}
	}
	if err := stream.comment("ready"); err != nil {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.ID <= sent || !wanted(ev) {
				continue
			}
			if err := stream.event(ev); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := stream.comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
