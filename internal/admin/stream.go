package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// StreamTelemetry serves a live server-sent-events feed of the dropped-
// record counter and breaker states, polling every two seconds. Grounded
// on the SSE transport shape in the pack's UI example (event:/data: framing,
// flusher.Flush per event, no-cache/keep-alive headers) — the teacher
// itself has no streaming endpoint.
func (s *Server) StreamTelemetry(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	if err := s.sendSnapshot(w, flusher); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := s.sendSnapshot(w, flusher); err != nil {
				log.WithError(err).Debug("telemetry stream client disconnected")
				return
			}
		}
	}
}

func (s *Server) sendSnapshot(w http.ResponseWriter, flusher http.Flusher) error {
	dropped := uint64(0)
	if s.Telemetry != nil {
		dropped = s.Telemetry.DroppedCount()
	}
	breakers := map[string]string{}
	if s.Breakers != nil {
		for name, st := range s.Breakers.States() {
			breakers[name] = st.String()
		}
	}

	data, err := json.Marshal(map[string]interface{}{
		"dropped_records": dropped,
		"breakers":        breakers,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
