package rdf

import (
	"encoding/json"
	"fmt"
)

// termJSON mirrors the RDF/JS term shape.
type termJSON struct {
	TermType string `json:"termType"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Language string `json:"language,omitempty"`
}

// MarshalJSON encodes the term as {"termType": ..., "value": ...}.
func (t Term) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	out := termJSON{TermType: t.Kind.String(), Value: t.Value}
	if t.IsLiteral() {
		out.Language = t.Language
		if t.Datatype != XSDString && t.Language == "" {
			out.Datatype = t.Datatype
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the RDF/JS term shape. A bare JSON string decodes as
// a named node.
func (t *Term) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Term{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var iri string
		if err := json.Unmarshal(data, &iri); err != nil {
			return err
		}
		*t = NamedNode(iri)
		return nil
	}

	var in termJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.TermType {
	case "NamedNode":
		*t = NamedNode(in.Value)
	case "Literal":
		if in.Language != "" {
			*t = LangLiteral(in.Value, in.Language)
		} else {
			*t = TypedLiteral(in.Value, in.Datatype)
		}
	default:
		return fmt.Errorf("rdf: unsupported termType %q", in.TermType)
	}
	return nil
}
