package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/agentrelay/internal/domain"
	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/service"
)

// Message types on a per-task stream.
const (
	TypeEvent     = "task.event"
	TypeTruncated = "task.truncated"
	TypeOverflow  = "task.overflow"
)

// TaskStream serves GET /ws/tasks/{id}?from=N: buffered events with
// seq >= N, then live events until the terminal one. Disconnecting never
// cancels the task.
type TaskStream struct {
	Registry *service.Registry
}

// ServeHTTP implements http.Handler.
func (s *TaskStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "from must be a non-negative integer", http.StatusBadRequest)
			return
		}
		from = n
	}

	sub, err := s.Registry.Subscribe(chi.URLParam(r, "id"), from)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer ws.CloseNow()

	ctx := ws.CloseRead(r.Context())

	if sub.Truncated {
		if err := writeMessage(ctx, ws, TypeTruncated, map[string]uint64{"first_seq": sub.Replay[0].Seq}); err != nil {
			return
		}
	}
	for _, ev := range sub.Replay {
		if err := writeMessage(ctx, ws, TypeEvent, ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if errors.Is(sub.Err(), service.ErrSubscriberOverflow) {
					slog.WarnContext(ctx, "websocket client fell behind", "task_id", sub.TaskID)
					_ = writeMessage(ctx, ws, TypeOverflow, map[string]string{"reason": "subscriber fell behind, reconnect with from"})
					_ = ws.Close(websocket.StatusTryAgainLater, "subscriber fell behind")
					return
				}
				_ = ws.Close(websocket.StatusNormalClosure, "task finished")
				return
			}
			if err := writeMessage(ctx, ws, TypeEvent, ev); err != nil {
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, ws *websocket.Conn, typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{Type: typ, Payload: data})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, msg)
}

// DecodeEvent extracts the event from a TypeEvent message.
func DecodeEvent(msg Message) (event.Event, error) {
	var ev event.Event
	err := json.Unmarshal(msg.Payload, &ev)
	return ev, err
}
