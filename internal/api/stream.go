package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/model"
)

// HandleEvents streams a job's live events as Server-Sent Events. The
// stream ends after the terminal done event, or when the client
// disconnects.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "analysis ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	ch, cancel, err := h.ctrl.Subscribe(r.Context(), id)
	if err != nil {
		writeNotFoundOrInternal(w, r, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				log.Debug().Err(err).Str("job_id", id).Msg("event stream client gone")
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent emits one event with the event kind as the SSE event
// type and the JSON payload as data. Multi-line payloads get a data:
// prefix per line so embedded newlines cannot forge event boundaries.
func writeSSEEvent(w http.ResponseWriter, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Kind); err != nil {
		return err
	}
	for _, line := range strings.Split(string(payload), "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err = fmt.Fprint(w, "\n")
	return err
}
