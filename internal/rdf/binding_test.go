package rdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTermEqual(t *testing.T) {
	assert.True(t, IRI("http://a").Equal(IRI("http://a")))
	assert.False(t, IRI("http://a").Equal(IRI("http://b")))
	assert.True(t, TypedLiteral("1", "http://www.w3.org/2001/XMLSchema#integer").
		Equal(TypedLiteral("1", "http://www.w3.org/2001/XMLSchema#integer")))
	assert.False(t, PlainLiteral("1").Equal(TypedLiteral("1", "http://www.w3.org/2001/XMLSchema#integer")))
	assert.False(t, LangLiteral("chat", "fr").Equal(LangLiteral("chat", "en")))
	assert.False(t, IRI("http://a").Equal(BlankNode("http://a")))
}

func TestBindingEqual(t *testing.T) {
	a := Binding{"x": IRI("http://a"), "y": PlainLiteral("1")}
	b := Binding{"y": PlainLiteral("1"), "x": IRI("http://a")}
	c := Binding{"x": IRI("http://a")}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestBindingSetDiff(t *testing.T) {
	a := NewBindingSet(
		Binding{"x": IRI("http://a")},
		Binding{"x": IRI("http://b")},
	)
	b := NewBindingSet(
		Binding{"x": IRI("http://b")},
		Binding{"x": IRI("http://c")},
	)

	added := b.Diff(a)
	removed := a.Diff(b)

	assert.Equal(t, 1, added.Len())
	assert.True(t, added.Contains(Binding{"x": IRI("http://c")}))

	assert.Equal(t, 1, removed.Len())
	assert.True(t, removed.Contains(Binding{"x": IRI("http://a")}))
}

func TestBindingSetDedup(t *testing.T) {
	s := NewBindingSet(
		Binding{"x": IRI("http://a")},
		Binding{"x": IRI("http://a")},
	)
	assert.Equal(t, 1, s.Len())
}

func TestBindingSetEqual(t *testing.T) {
	a := NewBindingSet(Binding{"x": IRI("http://a")})
	b := NewBindingSet(Binding{"x": IRI("http://a")})
	c := NewBindingSet(Binding{"x": IRI("http://b")})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
