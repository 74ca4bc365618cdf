package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// JobStream handles GET /api/jobs/stream (SSE endpoint)
func (h *Handler) JobStream(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before snapshotting so no event slips between the two
	eventCh := h.queue.Subscribe()
	defer h.queue.Unsubscribe(eventCh)

	initial, _ := json.Marshal(map[string]interface{}{
		"type":  "init",
		"jobs":  h.queue.List(),
		"stats": h.queue.Stats(),
	})
	fmt.Fprintf(w, "data: %s\n\n", initial)
	flusher.Flush()

	// Stream events
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
