package rdf

import "sort"

// Binding maps SPARQL variable names (without the leading '?') to the
// RDF term bound to them in one result row.
type Binding map[string]Term

// Equal reports whether two bindings bind the same variable set to
// pairwise-equal terms.
func (b Binding) Equal(o Binding) bool {
	if len(b) != len(o) {
		return false
	}
	for k, v := range b {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// key returns a canonical string encoding of the binding: its variables
// sorted, each paired with its term's canonical encoding. Two bindings
// with equal key() are Equal, and vice versa.
func (b Binding) key() string {
	vars := make([]string, 0, len(b))
	for k := range b {
		vars = append(vars, k)
	}
	sort.Strings(vars)

	out := make([]byte, 0, 64)
	for _, v := range vars {
		out = append(out, v...)
		out = append(out, '\x1e')
		out = append(out, b[v].key()...)
		out = append(out, '\x1d')
	}
	return string(out)
}

// Clone returns a shallow copy of the binding.
func (b Binding) Clone() Binding {
	c := make(Binding, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// BindingSet is a de-duplicated collection of Bindings, keyed for O(1)
// average membership testing and set-difference computation.
type BindingSet struct {
	byKey map[string]Binding
}

// NewBindingSet builds a BindingSet from the given bindings, collapsing
// duplicates per SPARQL SELECT set semantics.
func NewBindingSet(bindings ...Binding) BindingSet {
	s := BindingSet{byKey: make(map[string]Binding, len(bindings))}
	for _, b := range bindings {
		s.Add(b)
	}
	return s
}

// Add inserts a binding, collapsing it into any existing duplicate.
func (s *BindingSet) Add(b Binding) {
	if s.byKey == nil {
		s.byKey = make(map[string]Binding)
	}
	s.byKey[b.key()] = b
}

// Len returns the number of distinct bindings in the set.
func (s BindingSet) Len() int {
	return len(s.byKey)
}

// Contains reports whether an equal binding is already in the set.
func (s BindingSet) Contains(b Binding) bool {
	_, ok := s.byKey[b.key()]
	return ok
}

// Bindings returns the set's bindings in unspecified order.
func (s BindingSet) Bindings() []Binding {
	out := make([]Binding, 0, len(s.byKey))
	for _, b := range s.byKey {
		out = append(out, b)
	}
	return out
}

// Diff returns s \ other: the bindings present in s but not in other.
func (s BindingSet) Diff(other BindingSet) BindingSet {
	out := BindingSet{byKey: make(map[string]Binding)}
	for k, b := range s.byKey {
		if _, ok := other.byKey[k]; !ok {
			out.byKey[k] = b
		}
	}
	return out
}

// Equal reports whether s and other contain the same bindings.
func (s BindingSet) Equal(other BindingSet) bool {
	if len(s.byKey) != len(other.byKey) {
		return false
	}
	for k := range s.byKey {
		if _, ok := other.byKey[k]; !ok {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the set has no bindings.
func (s BindingSet) IsEmpty() bool {
	return len(s.byKey) == 0
}
