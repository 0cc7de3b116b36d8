package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"lectern/internal/progress"
)

// sseWriter writes frames as Server-Sent Events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	f, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: f}
}

// init sets the event-stream headers and flushes them to the client.
func (sw *sseWriter) init() {
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

// writeFrame writes "event: <type>\ndata: <json>\n\n" and flushes.
func (sw *sseWriter) writeFrame(frame progress.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("sse: marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", frame.Type, data); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}
