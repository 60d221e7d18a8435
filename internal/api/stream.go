package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"example.com/placevisits/internal/auth"
)

// streamVisits serves the ordered visit list as server-sent events. Every store
// change produces one snapshot event carrying the full list.
func (h *Handler) streamVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !authorize(w, r, auth.ScopeVisitsRead) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error", "streaming unsupported")
		return
	}

	sub, err := h.stream.Subscribe(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snapshot, ok := <-sub.C():
			if !ok {
				return
			}
			view := SnapshotView{Items: make([]VisitView, 0, len(snapshot))}
			for _, ev := range snapshot {
				view.Items = append(view.Items, toVisitView(ev))
			}
			payload, err := json.Marshal(view)
			if err != nil {
				h.logger.Printf("encode snapshot: %v", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
