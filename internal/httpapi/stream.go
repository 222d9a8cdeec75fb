package httpapi

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"levra.org/internal/lifecycle"
	"levra.org/internal/stream"
)

// Stream serves change notifications for one collection as Server-Sent
// Events. Clients only ever see their own rows; administrators may narrow
// the feed with owner_id. The response ends when the subscriber falls
// behind, and the caller is expected to re-read and reconnect.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	actor := actorFrom(r.Context())
	q := r.URL.Query()
	filter := stream.Filter{Collection: q.Get("collection"), OwnerID: q.Get("owner_id")}
	if !slices.Contains(lifecycle.Collections, filter.Collection) {
		writeError(w, r, http.StatusBadRequest, "collection must be one of project_requests, projects, project_payments")
		return
	}
	if !actor.IsAdmin() {
		filter.OwnerID = actor.ID()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := a.stream.Subscribe(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "subscribe failed")
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case change, ok := <-sub.Events():
			if !ok {
				return
			}
			if !actor.IsAdmin() {
				change = redactChange(change)
			}
			payload, err := json.Marshal(change)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: change\ndata: "))
			_, _ = w.Write(payload)
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// redactChange strips administrator-only fields from request rows. A row
// that cannot be re-encoded is dropped from the payload; the subscriber
// falls back to a read.
func redactChange(c stream.Change) stream.Change {
	if c.Collection != lifecycle.CollectionRequests || len(c.Row) == 0 {
		return c
	}
	var req lifecycle.ProjectRequest
	if err := json.Unmarshal(c.Row, &req); err != nil {
		c.Row = nil
		return c
	}
	data, err := json.Marshal(lifecycle.RedactForClient(req))
	if err != nil {
		c.Row = nil
		return c
	}
	c.Row = data
	return c
}
