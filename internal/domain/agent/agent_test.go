package agent

import (
	"errors"
	"strings"
	"testing"
)

func TestCardValidate(t *testing.T) {
	tests := []struct {
		name    string
		card    Card
		missing string
	}{
		{"valid", Card{ID: "net", Name: "Network", URL: "http://a"}, ""},
		{"no id", Card{Name: "Network", URL: "http://a"}, "id"},
		{"no url", Card{ID: "net", Name: "Network"}, "url"},
		{"skill without id", Card{ID: "net", Name: "Network", URL: "http://a", Skills: []Skill{{Name: "scan"}}}, "skills[0].id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.card.Validate()
			if tt.missing == "" {
				if err != nil {
					t.Fatalf("expected valid card, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrMalformedCard) {
				t.Fatalf("expected ErrMalformedCard, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Errorf("expected %q in %q", tt.missing, err.Error())
			}
		})
	}
}

func TestHasSkill(t *testing.T) {
	c := Card{Skills: []Skill{{ID: "scan"}, {ID: "triage"}}}
	if !c.HasSkill("triage") {
		t.Fatal("expected triage skill")
	}
	if c.HasSkill("report") {
		t.Fatal("unexpected report skill")
	}
}
