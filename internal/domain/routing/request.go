// Package routing defines inbound work requests and the ordered rule table
// used to classify them onto agents.
package routing

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Strob0t/agentrelay/internal/domain"
)

// ContentKind is the caller-declared format of a work request's content.
type ContentKind string

const (
	KindJSON ContentKind = "json"
	KindCSV  ContentKind = "csv"
	KindXML  ContentKind = "xml"
	KindText ContentKind = "text"
)

// MaxContentBytes bounds the size of a single work request.
const MaxContentBytes = 8 << 20

// WorkRequest is the caller-supplied unit of work. The work type is derived
// from Content by the router, never declared.
type WorkRequest struct {
	Content string      `json:"content"`
	Kind    ContentKind `json:"kind"`
}

// Validate checks structural well-formedness for the declared kind. An
// empty kind is treated as text. Errors wrap domain.ErrValidation.
func (r *WorkRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	if len(r.Content) > MaxContentBytes {
		return fmt.Errorf("%w: content exceeds %d bytes", domain.ErrValidation, MaxContentBytes)
	}
	if r.Kind == "" {
		r.Kind = KindText
	}

	switch r.Kind {
	case KindText:
		return nil
	case KindJSON:
		if !json.Valid([]byte(r.Content)) {
			return fmt.Errorf("%w: content is not valid json", domain.ErrValidation)
		}
	case KindCSV:
		rd := csv.NewReader(strings.NewReader(r.Content))
		rd.FieldsPerRecord = 0
		rows, err := rd.ReadAll()
		if err != nil {
			return fmt.Errorf("%w: content is not valid csv: %v", domain.ErrValidation, err)
		}
		if len(rows) < 2 {
			return fmt.Errorf("%w: csv needs a header and at least one row", domain.ErrValidation)
		}
	case KindXML:
		if err := checkXML(r.Content); err != nil {
			return fmt.Errorf("%w: content is not well-formed xml: %v", domain.ErrValidation, err)
		}
	default:
		return fmt.Errorf("%w: unknown content kind %q", domain.ErrValidation, r.Kind)
	}
	return nil
}

func checkXML(s string) error {
	dec := xml.NewDecoder(bytes.NewReader([]byte(s)))
	sawElement := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawElement = true
		}
	}
	if !sawElement {
		return errors.New("no root element")
	}
	return nil
}
