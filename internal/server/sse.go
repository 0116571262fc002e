package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chatsync/chatsync/internal/event"
	"github.com/chatsync/chatsync/internal/logging"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

func (s *sseWriter) writeEvent(ev event.Event) error {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", jsonData); err != nil {
		return err
	}

	// ResponseController flushes through middleware wrappers; the plain
	// Flusher is the fallback.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// events is the SSE firehose: a read-only mirror of the process-wide event
// bus. Dashboards and the tail CLI attach here; interactive clients use the
// websocket, which scopes events per connection.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent(event.Event{
		Type: event.ServerConnected,
		Data: event.ServerConnectedData{},
	}); err != nil {
		return
	}

	// Small buffer for low-latency streaming; a slow reader drops events
	// rather than backing up the bus.
	events := make(chan event.Event, 10)

	unsub := event.SubscribeAll(func(e event.Event) {
		select {
		case events <- e:
		default:
			logging.Warn().
				Str("eventType", string(e.Type)).
				Msg("SSE event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(e); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
