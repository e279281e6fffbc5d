package ws

import (
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/agentrelay/internal/service"
)

// MountRoutes registers the firehose and per-task WebSocket endpoints.
func MountRoutes(r chi.Router, hub *Hub, reg *service.Registry) {
	r.Get("/ws", hub.HandleWS)
	r.Method("GET", "/ws/tasks/{id}", &TaskStream{Registry: reg})
}
