package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/exchange-market-board/internal/stream"
)

// streamInstrument pushes one instrument's events over SSE.
func (s *Server) streamInstrument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instrument := vars["instrument"]

	if !s.admitted(instrument) {
		http.Error(w, "Instrument not found", http.StatusNotFound)
		return
	}
	s.stream(w, r, instrument)
}

// streamPnl pushes position and P&L traffic for every trader.
func (s *Server) streamPnl(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, stream.TopicPnl)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, sub := s.hub.Subscribe(topic)
	defer s.hub.Unsubscribe(topic, id)

	// Send initial connection message
	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case payload, ok := <-sub.C:
			if !ok {
				return
			}
			// Tell a lagging client how much it missed before resuming
			if skipped := sub.Lagged(); skipped > 0 {
				fmt.Fprintf(w, "event: warn\ndata: {\"lagged\": %d}\n\n", skipped)
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
