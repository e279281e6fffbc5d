package routing

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// Features are the classification inputs extracted from a work request.
// Types and Codes hold values found under the configured field names;
// Text is the full content, lowercased, for keyword matching.
type Features struct {
	Types []string
	Codes []string
	Text  string
}

// Extractor pulls Features out of content. Field names are matched
// case-insensitively.
type Extractor struct {
	TypeFields []string
	CodeFields []string
}

// DefaultExtractor matches the field names used by common alert exports.
func DefaultExtractor() Extractor {
	return Extractor{
		TypeFields: []string{"type", "alert_type", "alertType", "category"},
		CodeFields: []string{"code", "rule_id", "ruleId", "signature_id"},
	}
}

// Extract returns the features of a validated request. Content that fails
// to parse for its kind still yields Text, so keyword rules can apply.
func (x Extractor) Extract(r WorkRequest) Features {
	f := Features{Text: strings.ToLower(r.Content)}
	c := collector{types: lowerSet(x.TypeFields), codes: lowerSet(x.CodeFields), f: &f}

	switch r.Kind {
	case KindJSON:
		var v any
		if err := json.Unmarshal([]byte(r.Content), &v); err == nil {
			c.walkJSON(v)
		}
	case KindCSV:
		c.readCSV(r.Content)
	case KindXML:
		c.readXML(r.Content)
	default:
		c.readLines(r.Content)
	}
	return f
}

type collector struct {
	types map[string]bool
	codes map[string]bool
	f     *Features
}

func (c collector) add(key, value string) {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if c.types[key] {
		c.f.Types = append(c.f.Types, value)
	}
	if c.codes[key] {
		c.f.Codes = append(c.f.Codes, value)
	}
}

func (c collector) walkJSON(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			switch s := val.(type) {
			case string:
				c.add(k, s)
			case float64, bool:
				c.add(k, fmt.Sprint(s))
			case []any:
				for _, item := range s {
					if str, ok := item.(string); ok {
						c.add(k, str)
					} else {
						c.walkJSON(item)
					}
				}
			default:
				c.walkJSON(val)
			}
		}
	case []any:
		for _, item := range t {
			c.walkJSON(item)
		}
	}
}

func (c collector) readCSV(s string) {
	rd := csv.NewReader(strings.NewReader(s))
	rd.FieldsPerRecord = -1
	rows, err := rd.ReadAll()
	if err != nil || len(rows) == 0 {
		return
	}
	header := rows[0]
	for _, row := range rows[1:] {
		for i, cell := range row {
			if i < len(header) {
				c.add(header[i], cell)
			}
		}
	}
}

func (c collector) readXML(s string) {
	dec := xml.NewDecoder(bytes.NewReader([]byte(s)))
	var stack []string
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			for _, a := range t.Attr {
				c.add(a.Name.Local, a.Value)
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				c.add(stack[len(stack)-1], string(t))
			}
		}
	}
}

// readLines handles free text with "key: value" or "key=value" lines.
func (c collector) readLines(s string) {
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 64*1024), MaxContentBytes)
	for sc.Scan() {
		line := sc.Text()
		idx := strings.IndexAny(line, ":=")
		if idx <= 0 {
			continue
		}
		c.add(line[:idx], line[idx+1:])
	}
}

func lowerSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = true
	}
	return m
}
