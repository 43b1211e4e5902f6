package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arces-wot/sepa/internal/subscription"
)

type fakeCandidate struct {
	id  string
	req subscription.Request
}

func (f fakeCandidate) ID() string                          { return f.id }
func (f fakeCandidate) Predicate() subscription.Request { return f.req }

func TestAllFilterReturnsEverything(t *testing.T) {
	cands := []Candidate{fakeCandidate{id: "a"}, fakeCandidate{id: "b"}}
	got := All{}.Select(subscription.Update{}, cands)
	assert.Len(t, got, 2)
}

func TestLUTFilterKeepsIntersectingGraphs(t *testing.T) {
	l, err := NewLUT()
	require.NoError(t, err)

	cands := []Candidate{
		fakeCandidate{id: "matches", req: subscription.Request{DefaultGraphs: []string{"g1"}}},
		fakeCandidate{id: "no-match", req: subscription.Request{DefaultGraphs: []string{"g2"}}},
		fakeCandidate{id: "unscoped", req: subscription.Request{}},
	}

	got := l.Select(subscription.Update{UsingGraphs: []string{"g1"}}, cands)
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID()
	}
	assert.ElementsMatch(t, []string{"matches", "unscoped"}, ids)
}

func TestLUTFilterExcludesScopedCandidateWhenUpdateTargetsDefaultGraph(t *testing.T) {
	l, err := NewLUT()
	require.NoError(t, err)

	cands := []Candidate{fakeCandidate{id: "a", req: subscription.Request{DefaultGraphs: []string{"g1"}}}}
	got := l.Select(subscription.Update{}, cands)
	assert.Empty(t, got)
}

func TestLUTFilterNeverOmitsUnscopedCandidate(t *testing.T) {
	l, err := NewLUT()
	require.NoError(t, err)

	cands := []Candidate{fakeCandidate{id: "a", req: subscription.Request{}}}
	got := l.Select(subscription.Update{}, cands)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID())
}
