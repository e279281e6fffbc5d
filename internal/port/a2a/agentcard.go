package a2a

import (
	a2aspec "github.com/a2aproject/a2a-go/a2a"
)

// CardInfo is the identity this relay publishes about itself.
type CardInfo struct {
	BaseURL string
	Version string
	Agents  []string // downstream agent ids reachable through routing
}

// BuildAgentCard returns the relay's own card. Every routable downstream
// agent is advertised as a skill so callers can see what work is accepted.
func BuildAgentCard(info CardInfo) *a2aspec.AgentCard {
	version := info.Version
	if version == "" {
		version = "dev"
	}

	skills := []a2aspec.AgentSkill{{
		ID:          "route",
		Name:        "Route Analysis Work",
		Description: "Classify a work unit and relay it to the matching analysis agent",
		Tags:        []string{"routing", "relay"},
		InputModes:  []string{"application/json", "text/csv", "application/xml", "text/plain"},
		OutputModes: []string{"application/json"},
	}}
	for _, id := range info.Agents {
		skills = append(skills, a2aspec.AgentSkill{
			ID:          "agent:" + id,
			Name:        id,
			Description: "Work routed to downstream agent " + id,
			Tags:        []string{"downstream"},
		})
	}

	return &a2aspec.AgentCard{
		Name:               "agentrelay",
		Description:        "Task orchestration and event streaming relay for remote analysis agents",
		URL:                info.BaseURL,
		Version:            version,
		ProtocolVersion:    "0.3.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"application/json"},
		Skills:             skills,
		Capabilities: a2aspec.AgentCapabilities{
			Streaming: true,
		},
		PreferredTransport: a2aspec.TransportProtocolJSONRPC,
	}
}
