package http

import (
	"net/http"
	"time"

	"github.com/Strob0t/agentrelay/internal/domain/routing"
	"github.com/Strob0t/agentrelay/internal/domain/task"
	"github.com/Strob0t/agentrelay/internal/port/cache"
	"github.com/Strob0t/agentrelay/internal/port/messagequeue"
	"github.com/Strob0t/agentrelay/internal/resilience"
	"github.com/Strob0t/agentrelay/internal/service"
)

// bodyLimit leaves room for JSON escaping around the largest content.
const bodyLimit = 2*routing.MaxContentBytes + 1<<10

// Handlers holds the services used by the HTTP endpoints.
type Handlers struct {
	Executor  *service.Executor
	Registry  *service.Registry
	Breakers  *resilience.BreakerSet
	Queue     messagequeue.Queue // nil when NATS is disabled
	Heartbeat time.Duration      // SSE keep-alive interval
	Version   string

	// Optional submission guards.
	SubmitLimiter  *RateLimiter
	Idempotency    cache.Cache
	IdempotencyTTL time.Duration
}

type submitResponse struct {
	ID    string     `json:"id"`
	State task.State `json:"state"`
}

// SubmitTask handles POST /a2a/tasks.
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[routing.WorkRequest](w, r, bodyLimit)
	if !ok {
		return
	}

	snap, err := h.Executor.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "task not created")
		return
	}

	w.Header().Set("Location", "/a2a/tasks/"+snap.ID)
	writeJSON(w, http.StatusAccepted, submitResponse{ID: snap.ID, State: snap.State})
}

// ListTasks handles GET /a2a/tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.List())
}

// GetTask handles GET /a2a/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Registry.Get(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CancelTask handles POST /a2a/tasks/{id}/cancel.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Executor.Cancel(id); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

type healthStatus struct {
	Status   string                             `json:"status"`
	Version  string                             `json:"version,omitempty"`
	Tasks    int                                `json:"tasks"`
	NATS     string                             `json:"nats"`
	Breakers map[string]resilience.CircuitState `json:"breakers"`
}

// Health handles GET /health. An open breaker degrades the status but the
// relay keeps serving.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	status := healthStatus{
		Status:   "ok",
		Version:  h.Version,
		Tasks:    len(h.Registry.List()),
		NATS:     "disabled",
		Breakers: map[string]resilience.CircuitState{},
	}
	if h.Breakers != nil {
		status.Breakers = h.Breakers.Snapshot()
		for _, cs := range status.Breakers {
			if cs.State == resilience.StateOpen {
				status.Status = "degraded"
			}
		}
	}
	if h.Queue != nil {
		status.NATS = "connected"
		if !h.Queue.IsConnected() {
			status.NATS = "disconnected"
			status.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, status)
}
