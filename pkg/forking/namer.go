package forking

import (
	"net/url"
	"strings"

	"github.com/orneryd/quadfork/pkg/rdf"
)

// DefaultNamespace prefixes every shadow graph identifier.
const DefaultNamespace = "http://mu.semte.ch/libraries/rdf-store"

// ShadowKind says which derived graph an identifier names.
type ShadowKind int

const (
	// NotShadow is any identifier that was not produced by a Namer.
	NotShadow ShadowKind = iota
	// Addition holds quads pending insertion into the base graph.
	Addition
	// Deletion holds quads pending removal from the base graph.
	Deletion
	// Merged holds the last materialized merged view.
	Merged
)

var shadowSegments = map[ShadowKind]string{
	Addition: "/graphs/add",
	Deletion: "/graphs/del",
	Merged:   "/graphs/merged",
}

func (k ShadowKind) String() string {
	switch k {
	case Addition:
		return "addition"
	case Deletion:
		return "deletion"
	case Merged:
		return "merged"
	default:
		return "none"
	}
}

// Namer derives shadow graph identifiers from base graph identifiers and
// reverses the derivation.
//
// For a base graph G the addition graph is
//
//	<Namespace>/graphs/add?for=<percent-encoded G>
//
// and likewise for /graphs/del and /graphs/merged. The mapping is a bijection
// for each kind.
type Namer struct {
	Namespace string
}

// NewNamer returns a Namer rooted at namespace, or DefaultNamespace if empty.
func NewNamer(namespace string) Namer {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Namer{Namespace: strings.TrimSuffix(namespace, "/")}
}

func (n Namer) namespace() string {
	if n.Namespace == "" {
		return DefaultNamespace
	}
	return n.Namespace
}

// GraphFor returns the identifier of the kind shadow of g.
func (n Namer) GraphFor(kind ShadowKind, g rdf.Term) rdf.Term {
	seg, ok := shadowSegments[kind]
	if !ok {
		return g
	}
	return rdf.NamedNode(n.namespace() + seg + "?for=" + encodeComponent(g.Value))
}

// AdditionGraphFor returns the addition shadow of g.
func (n Namer) AdditionGraphFor(g rdf.Term) rdf.Term { return n.GraphFor(Addition, g) }

// DeletionGraphFor returns the deletion shadow of g.
func (n Namer) DeletionGraphFor(g rdf.Term) rdf.Term { return n.GraphFor(Deletion, g) }

// MergedGraphFor returns the merged scratch graph of g.
func (n Namer) MergedGraphFor(g rdf.Term) rdf.Term { return n.GraphFor(Merged, g) }

// Parse reports which shadow id names and the base graph it was derived from.
// Identifiers that are not absolute URIs, that live outside the namespace, or
// that carry no "for" parameter yield NotShadow.
func (n Namer) Parse(id string) (base string, kind ShadowKind) {
	u, err := url.Parse(id)
	if err != nil || !u.IsAbs() {
		return "", NotShadow
	}

	path, _, _ := strings.Cut(id, "?")
	for k, seg := range shadowSegments {
		if path != n.namespace()+seg {
			continue
		}
		q, err := url.ParseQuery(u.RawQuery)
		if err != nil {
			return "", NotShadow
		}
		target := q.Get("for")
		if target == "" {
			return "", NotShadow
		}
		return target, k
	}
	return "", NotShadow
}

// encodeComponent escapes like JavaScript's encodeURIComponent, so spaces
// become %20 rather than "+".
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

var defaultNamer = NewNamer(DefaultNamespace)

// AdditionGraphFor returns the addition shadow of g in DefaultNamespace.
func AdditionGraphFor(g rdf.Term) rdf.Term { return defaultNamer.AdditionGraphFor(g) }

// DeletionGraphFor returns the deletion shadow of g in DefaultNamespace.
func DeletionGraphFor(g rdf.Term) rdf.Term { return defaultNamer.DeletionGraphFor(g) }

// MergedGraphFor returns the merged scratch graph of g in DefaultNamespace.
func MergedGraphFor(g rdf.Term) rdf.Term { return defaultNamer.MergedGraphFor(g) }
