// Package rdf provides the term and quad model shared by every quadfork package.
//
// A Term is a closed tagged variant: it is either a named node (an IRI used for
// subjects, predicates, graphs and object references) or a literal (a lexical
// value with an optional datatype or language tag). The zero Term has KindNone
// and acts as a wildcard in patterns.
//
// Term equality is normalized: two terms are equal when they have the same kind,
// the same lexical value and, for literals, the same language tag (compared
// case-insensitively). The datatype is carried along for serialization but
// does not take part in comparisons, so a plain string "5" and an integer
// literal 5 compare equal while "chat"@fr and "chat"@en do not.
//
// Example Usage:
//
//	q := rdf.NewQuad(
//		rdf.NamedNode("http://example.org/a"),
//		rdf.NamedNode("http://example.org/p"),
//		rdf.Literal(5),
//		rdf.NamedNode("http://example.org/g"),
//	)
//
//	q.Object.Equal(rdf.Literal("5")) // true
package rdf

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// XSD datatype IRIs assigned by Literal.
const (
	XSDString   = "http://www.w3.org/2001/XMLSchema#string"
	XSDBoolean  = "http://www.w3.org/2001/XMLSchema#boolean"
	XSDInteger  = "http://www.w3.org/2001/XMLSchema#integer"
	XSDDecimal  = "http://www.w3.org/2001/XMLSchema#decimal"
	XSDDouble   = "http://www.w3.org/2001/XMLSchema#double"
	XSDDateTime = "http://www.w3.org/2001/XMLSchema#dateTime"
	RDFLangStr  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"
)

// Kind tags the variant held by a Term.
type Kind uint8

const (
	// KindNone is the zero kind. A Term of this kind is a wildcard.
	KindNone Kind = iota
	// KindNamedNode is an IRI.
	KindNamedNode
	// KindLiteral is a lexical value with optional datatype or language.
	KindLiteral
)

// String returns the RDF/JS termType name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNamedNode:
		return "NamedNode"
	case KindLiteral:
		return "Literal"
	default:
		return "None"
	}
}

// Term is a node in subject, predicate, object or graph position.
//
// Terms are small values and are passed by value. Construct them with
// NamedNode, Literal, TypedLiteral or LangLiteral rather than by hand so the
// lexical value is normalized.
type Term struct {
	Kind     Kind
	Value    string
	Datatype string
	Language string
}

// NamedNode returns an IRI term.
func NamedNode(iri string) Term {
	return Term{Kind: KindNamedNode, Value: iri}
}

// TypedLiteral returns a literal with an explicit lexical form and datatype.
func TypedLiteral(lexical, datatype string) Term {
	if datatype == "" {
		datatype = XSDString
	}
	return Term{Kind: KindLiteral, Value: lexical, Datatype: datatype}
}

// LangLiteral returns a language-tagged string literal.
func LangLiteral(lexical, lang string) Term {
	return Term{Kind: KindLiteral, Value: lexical, Datatype: RDFLangStr, Language: strings.ToLower(lang)}
}

// Literal converts a Go value to a literal term.
//
// Strings, booleans, integers, floats, time.Time and fmt.Stringer values are
// normalized to their canonical lexical form. Whole floats are written without
// a fraction so Literal(5.0), Literal(5) and Literal("5") are all equal.
// Passing a Term returns it unchanged.
func Literal(v any) Term {
	switch x := v.(type) {
	case Term:
		return x
	case string:
		return TypedLiteral(x, XSDString)
	case bool:
		return TypedLiteral(strconv.FormatBool(x), XSDBoolean)
	case int:
		return TypedLiteral(strconv.FormatInt(int64(x), 10), XSDInteger)
	case int8:
		return TypedLiteral(strconv.FormatInt(int64(x), 10), XSDInteger)
	case int16:
		return TypedLiteral(strconv.FormatInt(int64(x), 10), XSDInteger)
	case int32:
		return TypedLiteral(strconv.FormatInt(int64(x), 10), XSDInteger)
	case int64:
		return TypedLiteral(strconv.FormatInt(x, 10), XSDInteger)
	case uint:
		return TypedLiteral(strconv.FormatUint(uint64(x), 10), XSDInteger)
	case uint8:
		return TypedLiteral(strconv.FormatUint(uint64(x), 10), XSDInteger)
	case uint16:
		return TypedLiteral(strconv.FormatUint(uint64(x), 10), XSDInteger)
	case uint32:
		return TypedLiteral(strconv.FormatUint(uint64(x), 10), XSDInteger)
	case uint64:
		return TypedLiteral(strconv.FormatUint(x, 10), XSDInteger)
	case float32:
		return floatLiteral(float64(x))
	case float64:
		return floatLiteral(x)
	case time.Time:
		return TypedLiteral(x.UTC().Format(time.RFC3339Nano), XSDDateTime)
	case fmt.Stringer:
		return TypedLiteral(x.String(), XSDString)
	default:
		return TypedLiteral(fmt.Sprint(v), XSDString)
	}
}

func floatLiteral(f float64) Term {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return TypedLiteral(strconv.FormatFloat(f, 'g', -1, 64), XSDDouble)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return TypedLiteral(strconv.FormatFloat(f, 'f', -1, 64), XSDInteger)
	}
	return TypedLiteral(strconv.FormatFloat(f, 'f', -1, 64), XSDDecimal)
}

// IsZero reports whether the term is the wildcard.
func (t Term) IsZero() bool {
	return t.Kind == KindNone
}

// IsNamedNode reports whether the term is an IRI.
func (t Term) IsNamedNode() bool {
	return t.Kind == KindNamedNode
}

// IsLiteral reports whether the term is a literal.
func (t Term) IsLiteral() bool {
	return t.Kind == KindLiteral
}

// Equal compares kind, lexical value and language tag. Datatype is ignored.
func (t Term) Equal(o Term) bool {
	return t.Kind == o.Kind && t.Value == o.Value && strings.EqualFold(t.Language, o.Language)
}

// Key returns a string that is identical for exactly the terms that are Equal.
func (t Term) Key() string {
	switch t.Kind {
	case KindNamedNode:
		return "N" + t.Value
	case KindLiteral:
		// Language tags never contain "@", so the first one ends the tag.
		return "L" + strings.ToLower(t.Language) + "@" + t.Value
	default:
		return ""
	}
}

// String renders the term in N-Triples syntax. The wildcard renders as "*".
func (t Term) String() string {
	switch t.Kind {
	case KindNamedNode:
		return "<" + escapeIRI(t.Value) + ">"
	case KindLiteral:
		lit := `"` + escapeLiteral(t.Value) + `"`
		if t.Language != "" {
			return lit + "@" + t.Language
		}
		if t.Datatype != "" && t.Datatype != XSDString {
			return lit + "^^<" + escapeIRI(t.Datatype) + ">"
		}
		return lit
	default:
		return "*"
	}
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escapeLiteral(s string) string {
	return literalEscaper.Replace(s)
}

var iriEscaper = strings.NewReplacer(
	"<", `\u003C`,
	">", `\u003E`,
	`"`, `\u0022`,
	" ", `\u0020`,
	"{", `\u007B`,
	"}", `\u007D`,
	"|", `\u007C`,
	"^", `\u005E`,
	"`", `\u0060`,
	`\`, `\u005C`,
)

func escapeIRI(s string) string {
	return iriEscaper.Replace(s)
}
