package rdf

import "strings"

// Quad is a subject/predicate/object statement inside a named graph.
type Quad struct {
	Subject   Term `json:"subject"`
	Predicate Term `json:"predicate"`
	Object    Term `json:"object"`
	Graph     Term `json:"graph"`
}

// NewQuad builds a quad from its four terms.
func NewQuad(s, p, o, g Term) Quad {
	return Quad{Subject: s, Predicate: p, Object: o, Graph: g}
}

// InGraph returns the same triple restated on graph g.
func (q Quad) InGraph(g Term) Quad {
	q.Graph = g
	return q
}

// SameTriple compares subject, predicate and object, ignoring the graph.
func (q Quad) SameTriple(o Quad) bool {
	return q.Subject.Equal(o.Subject) &&
		q.Predicate.Equal(o.Predicate) &&
		q.Object.Equal(o.Object)
}

// Equal compares all four components.
func (q Quad) Equal(o Quad) bool {
	return q.SameTriple(o) && q.Graph.Equal(o.Graph)
}

// TripleKey is a map key consistent with SameTriple.
func (q Quad) TripleKey() string {
	var b strings.Builder
	b.Grow(len(q.Subject.Value) + len(q.Predicate.Value) + len(q.Object.Value) + 8)
	writeKey(&b, q.Subject)
	writeKey(&b, q.Predicate)
	writeKey(&b, q.Object)
	return b.String()
}

// Key is a map key consistent with Equal.
func (q Quad) Key() string {
	var b strings.Builder
	b.Grow(len(q.Subject.Value) + len(q.Predicate.Value) + len(q.Object.Value) + len(q.Graph.Value) + 8)
	writeKey(&b, q.Subject)
	writeKey(&b, q.Predicate)
	writeKey(&b, q.Object)
	writeKey(&b, q.Graph)
	return b.String()
}

// writeKey appends the term key followed by a 0x00 separator. Embedded NULs
// are escaped so keys stay unambiguous.
func writeKey(b *strings.Builder, t Term) {
	b.WriteString(strings.ReplaceAll(t.Key(), "\x00", "\x00\x01"))
	b.WriteByte(0)
}

// String renders the quad as an N-Quads line without the trailing newline.
func (q Quad) String() string {
	if q.Graph.IsZero() {
		return q.Subject.String() + " " + q.Predicate.String() + " " + q.Object.String() + " ."
	}
	return q.Subject.String() + " " + q.Predicate.String() + " " + q.Object.String() + " " + q.Graph.String() + " ."
}

// Pattern selects quads. Zero terms are wildcards.
type Pattern struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

// Any is the pattern that matches every quad.
var Any = Pattern{}

// Pattern returns the fully bound pattern matching q.
func (q Quad) Pattern() Pattern {
	return Pattern{Subject: q.Subject, Predicate: q.Predicate, Object: q.Object, Graph: q.Graph}
}

// InGraph returns the pattern restricted to graph g.
func (p Pattern) InGraph(g Term) Pattern {
	p.Graph = g
	return p
}

// Matches reports whether q satisfies every bound component of p.
func (p Pattern) Matches(q Quad) bool {
	return matchTerm(p.Subject, q.Subject) &&
		matchTerm(p.Predicate, q.Predicate) &&
		matchTerm(p.Object, q.Object) &&
		matchTerm(p.Graph, q.Graph)
}

// Bound reports whether all four components are set.
func (p Pattern) Bound() bool {
	return !p.Subject.IsZero() && !p.Predicate.IsZero() && !p.Object.IsZero() && !p.Graph.IsZero()
}

func matchTerm(want, got Term) bool {
	return want.IsZero() || want.Equal(got)
}

// Changes is the payload delivered to observers.
type Changes struct {
	Inserts []Quad `json:"inserts"`
	Deletes []Quad `json:"deletes"`
}

// Empty reports whether there is nothing to deliver.
func (c Changes) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Deletes) == 0
}

// Dedup removes exact (four-component) duplicates, keeping first occurrences.
func Dedup(quads []Quad) []Quad {
	seen := make(map[string]struct{}, len(quads))
	out := make([]Quad, 0, len(quads))
	for _, q := range quads {
		k := q.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, q)
	}
	return out
}
