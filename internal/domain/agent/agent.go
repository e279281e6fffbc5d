// Package agent defines the remote agent capability manifest (Agent Card).
package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedCard indicates a fetched card is missing required fields.
var ErrMalformedCard = errors.New("malformed agent card")

// Card describes a remote agent's endpoint and skills. Cards are treated as
// immutable once fetched.
type Card struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	URL          string       `json:"url"`
	Version      string       `json:"version,omitempty"`
	Skills       []Skill      `json:"skills,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// Skill describes a single capability of the agent.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// Capabilities are the protocol features the agent supports.
type Capabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
}

// Validate checks required fields. The returned error wraps ErrMalformedCard.
func (c *Card) Validate() error {
	var missing []string
	if c.ID == "" {
		missing = append(missing, "id")
	}
	if c.Name == "" {
		missing = append(missing, "name")
	}
	if c.URL == "" {
		missing = append(missing, "url")
	}
	for i, s := range c.Skills {
		if s.ID == "" {
			missing = append(missing, fmt.Sprintf("skills[%d].id", i))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedCard, strings.Join(missing, ", "))
	}
	return nil
}

// HasSkill reports whether the card declares a skill with the given id.
func (c *Card) HasSkill(id string) bool {
	for _, s := range c.Skills {
		if s.ID == id {
			return true
		}
	}
	return false
}
