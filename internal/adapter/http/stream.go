package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/failure"
	"github.com/Strob0t/agentrelay/internal/service"
)

const defaultHeartbeat = 15 * time.Second

// eventCursor returns the first seq the client wants. ?from=N asks for
// seq >= N; Last-Event-ID names the last event already seen.
func eventCursor(r *http.Request) (uint64, error) {
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid from cursor %q", v)
		}
		return n, nil
	}
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid Last-Event-ID %q", v)
		}
		return n + 1, nil
	}
	return 0, nil
}

// StreamEvents handles GET /a2a/tasks/{id}/events as Server-Sent Events.
// Buffered events from the cursor are replayed, then live events follow
// until the terminal event. Closing the connection never cancels the task.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	from, err := eventCursor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, failure.KindProtocol, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "", "streaming unsupported")
		return
	}

	sub, err := h.Registry.Subscribe(urlParam(r, "id"), from)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if sub.Truncated {
		fmt.Fprintf(w, ": events before seq %d were evicted\n\n", sub.Replay[0].Seq)
	}
	for _, ev := range sub.Replay {
		if err := writeSSE(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
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
		case ev, ok := <-sub.Events():
			if !ok {
				if errors.Is(sub.Err(), service.ErrSubscriberOverflow) {
					slog.WarnContext(r.Context(), "sse client fell behind", "task_id", sub.TaskID)
					fmt.Fprint(w, "event: overflow\ndata: {\"reason\":\"subscriber fell behind, reconnect with Last-Event-ID\"}\n\n")
					flusher.Flush()
				}
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
	return err
}
