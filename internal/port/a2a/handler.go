package a2a

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CardSource returns the current card info. It is consulted per request so
// routing table reloads show up in the published card.
type CardSource func() CardInfo

// Handler serves this relay's agent card.
type Handler struct {
	source CardSource
}

// NewHandler creates a card handler.
func NewHandler(source CardSource) *Handler {
	return &Handler{source: source}
}

// MountRoutes registers the well-known card route on the given chi router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/.well-known/agent.json", h.handleAgentCard)
	r.Get("/.well-known/agent-card.json", h.handleAgentCard)
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	card := BuildAgentCard(h.source())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}
