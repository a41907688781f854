package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/events"
)

const (
	// streamBuffer is the per-client queue; a client that falls this far
	// behind starts losing events rather than stalling the bus.
	streamBuffer = 100

	heartbeatInterval = 30 * time.Second
)

// handleEventsStream serves bus events over SSE. An optional
// comma-separated ?types= filter narrows the stream, e.g.
// ?types=TRADE_EXECUTED,ORDER_REJECTED.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.respondError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var filter map[events.EventType]bool
	if raw := r.URL.Query().Get("types"); raw != "" {
		filter = make(map[events.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter[events.EventType(t)] = true
			}
		}
	}

	ch, cancel := s.bus.SubscribeChan(streamBuffer)
	defer cancel()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream client connected")

	s.writeStreamEvent(w, map[string]any{
		"type":      "connected",
		"timestamp": time.Now().Format(time.RFC3339),
	})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream client disconnected")
			return

		case event, open := <-ch:
			if !open {
				return
			}
			if filter != nil && !filter[event.Type] {
				continue
			}

			s.writeStreamEvent(w, map[string]any{
				"type":      event.Type,
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			})
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) writeStreamEvent(w io.Writer, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal stream event")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
