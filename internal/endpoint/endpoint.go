// Package endpoint defines the outbound SPARQL client interface the SPU
// Manager and SPUs use to talk to the backing RDF store. It is an
// external collaborator per the broker's scope: this package only
// pins the contract two concrete transports (internal/endpoint/memory
// and internal/endpoint/mongostore) implement.
package endpoint

import (
	"context"
	"errors"

	"github.com/arces-wot/sepa/internal/rdf"
)

// ErrAuth is returned by Client methods when the endpoint rejects the
// request for authentication/authorization reasons.
var ErrAuth = errors.New("endpoint: authentication failed")

// UpdateResult carries the HTTP-equivalent outcome of applying a SPARQL
// update to the endpoint, whether success or error, so that the caller
// (SPU Manager) can always return it to its own caller regardless of
// how the barrier phases fared.
type UpdateResult struct {
	StatusCode int
	Body       string
}

// Failed reports whether the update did not apply, using the same
// success-range convention as HTTP.
func (r UpdateResult) Failed() bool {
	return r.StatusCode < 200 || r.StatusCode >= 300
}

// Client is the SPARQL 1.1 Protocol client used to evaluate query
// predicates and to apply updates against the physical RDF endpoint.
type Client interface {
	// Query evaluates a SPARQL SELECT query against the given graph
	// scope and returns its result as a BindingSet.
	Query(ctx context.Context, query string, defaultGraphs, namedGraphs []string) (rdf.BindingSet, error)

	// Update applies a SPARQL update against the given using-graph
	// scope. The result is returned even on failure so callers can
	// surface the endpoint's own response.
	Update(ctx context.Context, update string, usingGraphs, usingNamedGraphs []string) (UpdateResult, error)
}
