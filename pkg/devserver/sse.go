package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/killallgit/flowchat/pkg/stream"
)

// eventWriter writes prediction events as server-sent events
type eventWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	h := w.Header()
	h.Set("Content-Type", stream.ContentTypeEventStream)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ew := &eventWriter{w: w}
	ew.flusher, _ = w.(http.Flusher)
	ew.flush()
	return ew
}

// send writes one frame carrying {"event": name, "data": data}
func (e *eventWriter) send(name string, data any) error {
	payload, err := json.Marshal(map[string]any{"event": name, "data": data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.w, "message:\ndata: %s\n\n", payload); err != nil {
		return err
	}
	e.flush()
	return nil
}

func (e *eventWriter) flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
