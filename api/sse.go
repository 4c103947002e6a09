package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/windrose/conductor/observer"
)

// sseFrame is the wire shape from spec §6: "event: <kind>\ndata: {...}".
type sseFrame struct {
	Timestamp string                 `json:"ts"`
	Sequence  uint64                 `json:"seq"`
	ThreadID  string                 `json:"threadID"`
	TaskID    string                 `json:"taskID,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
}

// handleStream serves GET /a2a/stream: an SSE stream of Observer events
// for one thread, replayed from the per-thread buffer on subscribe.
// Grounded on gomind/ui/transports/sse/sse.go's flusher-based write loop
// and header set.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("threadID")
	if threadID == "" {
		threadID = r.URL.Query().Get("thread")
	}
	if threadID == "" {
		http.Error(w, "threadID query parameter required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.bus.Subscribe(threadID)
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				sub.MarkError()
				return
			}
			sub.MarkSuccess()
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev observer.Event) error {
	frame := sseFrame{
		Timestamp: ev.Timestamp.Format("2006-01-02T15:04:05.000Z"),
		Sequence:  ev.Sequence,
		ThreadID:  ev.ThreadID,
		TaskID:    ev.TaskID,
		Payload:   ev.Payload,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
