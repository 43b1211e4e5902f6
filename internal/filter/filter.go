// Package filter implements the SPU Manager's step 2, spec.md §4.3:
// selecting the subset of live SPUs an update could possibly affect.
// The contract every implementation must uphold: filter MUST NOT omit
// an SPU whose result set would actually change.
package filter

import "github.com/arces-wot/sepa/internal/subscription"

// Candidate is the narrow view of a live SPU the filter needs: its
// identity and the predicate (with graph scope) it was created for.
type Candidate interface {
	ID() string
	Predicate() subscription.Request
}

// Filter selects the subset of candidates an update could possibly
// affect.
type Filter interface {
	Select(update subscription.Update, candidates []Candidate) []Candidate
}

// All is the default, always-correct filter: it returns every
// candidate unfiltered. spec.md §9 "Filter stub" names this the
// correct default; optimized filters are opt-in via configuration.
type All struct{}

func (All) Select(_ subscription.Update, candidates []Candidate) []Candidate {
	return candidates
}
