package routing

import (
	"fmt"
	"strings"

	"github.com/Strob0t/agentrelay/internal/domain"
)

// Stage is the rule variant. Stages are evaluated in the order exact,
// code, keyword.
type Stage string

const (
	StageExact   Stage = "exact"
	StageCode    Stage = "code"
	StageKeyword Stage = "keyword"
)

var stageOrder = []Stage{StageExact, StageCode, StageKeyword}

// Rule is one entry of the table. Code patterns ending in "*" match by prefix.
type Rule struct {
	Stage   Stage
	Pattern string
	Agent   string
}

// Matches reports whether the rule accepts the features.
func (r Rule) Matches(f Features) bool {
	switch r.Stage {
	case StageExact:
		for _, t := range f.Types {
			if strings.EqualFold(t, r.Pattern) {
				return true
			}
		}
	case StageCode:
		prefix, wildcard := strings.CutSuffix(r.Pattern, "*")
		for _, c := range f.Codes {
			if wildcard && len(c) >= len(prefix) && strings.EqualFold(c[:len(prefix)], prefix) {
				return true
			}
			if !wildcard && strings.EqualFold(c, r.Pattern) {
				return true
			}
		}
	case StageKeyword:
		return strings.Contains(f.Text, strings.ToLower(r.Pattern))
	}
	return false
}

// Route is the YAML form of one agent's rules.
type Route struct {
	Agent    string   `yaml:"agent" json:"agent"`
	Types    []string `yaml:"types" json:"types,omitempty"`
	Codes    []string `yaml:"codes" json:"codes,omitempty"`
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`
}

// Decision is a successful classification.
type Decision struct {
	Agent   string `json:"agent"`
	Stage   Stage  `json:"stage"`
	Pattern string `json:"pattern"`
}

// Table is an immutable, ordered rule list.
type Table struct {
	rules []Rule
}

// NewTable flattens routes into stage order, keeping declaration order
// within each stage.
func NewTable(routes []Route) (*Table, error) {
	t := &Table{}
	for _, stage := range stageOrder {
		for i, r := range routes {
			if r.Agent == "" {
				return nil, fmt.Errorf("%w: route %d has no agent", domain.ErrValidation, i)
			}
			for _, p := range r.patterns(stage) {
				if strings.TrimSpace(p) == "" || p == "*" {
					return nil, fmt.Errorf("%w: route %q has an empty %s pattern", domain.ErrValidation, r.Agent, stage)
				}
				t.rules = append(t.rules, Rule{Stage: stage, Pattern: p, Agent: r.Agent})
			}
		}
	}
	return t, nil
}

func (r Route) patterns(s Stage) []string {
	switch s {
	case StageExact:
		return r.Types
	case StageCode:
		return r.Codes
	default:
		return r.Keywords
	}
}

// Rules returns a copy of the ordered rules.
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// Agents returns the distinct agent ids referenced by the table.
func (t *Table) Agents() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range t.rules {
		if !seen[r.Agent] {
			seen[r.Agent] = true
			out = append(out, r.Agent)
		}
	}
	return out
}

// Match returns the first rule accepting f. visit, when non-nil, is called
// for every rule evaluated, in order.
func (t *Table) Match(f Features, visit func(Rule)) (Decision, bool) {
	for _, r := range t.rules {
		if visit != nil {
			visit(r)
		}
		if r.Matches(f) {
			return Decision{Agent: r.Agent, Stage: r.Stage, Pattern: r.Pattern}, true
		}
	}
	return Decision{}, false
}
