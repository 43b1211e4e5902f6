// Package memory provides an in-process RDF triple store implementing
// the endpoint.Client contract, usable standalone and as the default
// backing store for tests and small deployments that do not need
// MongoDB persistence (see internal/endpoint/mongostore).
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/arces-wot/sepa/internal/endpoint"
	"github.com/arces-wot/sepa/internal/rdf"
)

const defaultGraph = ""

// Store is a thread-safe in-memory quad store.
type Store struct {
	mu     sync.RWMutex
	quads  map[string]map[quadKey]quad // graph -> quad set
}

type quadKey string

func New() *Store {
	return &Store{quads: map[string]map[quadKey]quad{defaultGraph: {}}}
}

var _ endpoint.Client = (*Store)(nil)

func (s *Store) Update(_ context.Context, update string, usingGraphs, _ []string) (endpoint.UpdateResult, error) {
	ops, err := parseUpdate(update)
	if err != nil {
		return endpoint.UpdateResult{StatusCode: 400, Body: err.Error()}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		for _, q := range op.Quads {
			graph := q.Graph
			if graph == "" && len(usingGraphs) == 1 {
				graph = usingGraphs[0]
			}
			key := graph
			if s.quads[key] == nil {
				s.quads[key] = map[quadKey]quad{}
			}
			k := quadKeyOf(q.S, q.P, q.O)
			switch op.Kind {
			case "insert":
				s.quads[key][k] = quad{Graph: graph, S: q.S, P: q.P, O: q.O}
			case "delete":
				delete(s.quads[key], k)
			}
		}
	}
	return endpoint.UpdateResult{StatusCode: 200, Body: "OK"}, nil
}

func (s *Store) Query(_ context.Context, query string, defaultGraphs, namedGraphs []string) (rdf.BindingSet, error) {
	q, err := parseSelect(query)
	if err != nil {
		return rdf.BindingSet{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	graphs := s.graphScope(defaultGraphs, namedGraphs)
	results := []rdf.Binding{{}}
	for _, p := range q.Patterns {
		var next []rdf.Binding
		for _, b := range results {
			next = append(next, s.joinPattern(b, p, graphs)...)
		}
		results = next
		if len(results) == 0 {
			break
		}
	}

	set := rdf.NewBindingSet()
	for _, b := range results {
		set.Add(projectVars(b, q.Vars))
	}
	return set, nil
}

// GraphNames returns every graph currently holding at least one quad,
// including the default graph (""). Used by callers such as
// internal/endpoint/mongostore that need to know the full set of
// graphs an update touched, not just the ones named in its
// using-graph clauses.
func (s *Store) GraphNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.quads))
	for g, quads := range s.quads {
		if len(quads) == 0 {
			continue
		}
		names = append(names, g)
	}
	return names
}

func (s *Store) graphScope(defaultGraphs, namedGraphs []string) []string {
	if len(defaultGraphs) == 0 && len(namedGraphs) == 0 {
		return nil // nil means "every known graph"
	}
	scope := append([]string{}, defaultGraphs...)
	scope = append(scope, namedGraphs...)
	return scope
}

func (s *Store) joinPattern(b rdf.Binding, p pattern, graphs []string) []rdf.Binding {
	var out []rdf.Binding
	scope := graphs
	if p.Graph != "" {
		scope = []string{p.Graph}
	}
	if scope == nil {
		for g := range s.quads {
			scope = append(scope, g)
		}
	}
	for _, g := range scope {
		for _, q := range s.quads[g] {
			nb, ok := unify(b, p, q)
			if ok {
				out = append(out, nb)
			}
		}
	}
	return out
}

func unify(b rdf.Binding, p pattern, q quad) (rdf.Binding, bool) {
	nb := b.Clone()
	if !bindTerm(nb, p.S, q.S) {
		return nil, false
	}
	if !bindTerm(nb, p.P, q.P) {
		return nil, false
	}
	if !bindTerm(nb, p.O, q.O) {
		return nil, false
	}
	return nb, true
}

func bindTerm(b rdf.Binding, tok string, val rdf.Term) bool {
	if isVar(tok) {
		name := tok[1:]
		if existing, ok := b[name]; ok {
			return existing.Equal(val)
		}
		b[name] = val
		return true
	}
	t, err := parseTerm(tok)
	if err != nil {
		return false
	}
	return t.Equal(val)
}

func projectVars(b rdf.Binding, vars []string) rdf.Binding {
	if len(vars) == 0 {
		return b
	}
	out := make(rdf.Binding, len(vars))
	for _, v := range vars {
		if t, ok := b[v]; ok {
			out[v] = t
		}
	}
	return out
}

func quadKeyOf(s, p, o rdf.Term) quadKey {
	return quadKey(fmt.Sprintf("%s\x1f%s\x1f%s", s.String(), p.String(), o.String()))
}
