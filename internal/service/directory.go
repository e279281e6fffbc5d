package service

import (
	"slices"
	"time"

	"github.com/Strob0t/agentrelay/internal/config"
)

// AgentEntry is one configured downstream agent.
type AgentEntry struct {
	ID       string        `json:"id"`
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Directory maps the agent identities named by routing rules to endpoints.
type Directory struct {
	agents map[string]AgentEntry
}

// NewDirectory builds a directory from configuration.
func NewDirectory(agents []config.Agent) *Directory {
	d := &Directory{agents: make(map[string]AgentEntry, len(agents))}
	for _, a := range agents {
		d.agents[a.ID] = AgentEntry{ID: a.ID, Endpoint: a.Endpoint, Timeout: a.Timeout}
	}
	return d
}

// Lookup returns the entry for id.
func (d *Directory) Lookup(id string) (AgentEntry, bool) {
	e, ok := d.agents[id]
	return e, ok
}

// Entries returns all agents sorted by id.
func (d *Directory) Entries() []AgentEntry {
	out := make([]AgentEntry, 0, len(d.agents))
	for _, e := range d.agents {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b AgentEntry) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Missing returns the ids in want that have no entry.
func (d *Directory) Missing(want []string) []string {
	var out []string
	for _, id := range want {
		if _, ok := d.agents[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
