// Package subscription defines the immutable request values the SPU
// Manager accepts: subscribe predicates and updates.
package subscription

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/arces-wot/sepa/internal/notify"
)

// Fingerprint is the canonical identity of a subscribe request used for
// SPU de-duplication: equality of query text and graph URI sets. Alias
// and principal are deliberately excluded.
type Fingerprint string

// Request is an immutable value describing a subscribe predicate.
type Request struct {
	Query          string
	DefaultGraphs  []string
	NamedGraphs    []string
	Alias          string
	Principal      string
	GatewayID      string
	Sink           notify.EventSink
}

// Fingerprint computes the canonical identity of the request: a digest
// of the query text and the sorted, de-duplicated graph URI sets.
func (r Request) Fingerprint() Fingerprint {
	h := sha256.New()
	h.Write([]byte(r.Query))
	h.Write([]byte{0})
	h.Write([]byte(canonicalGraphs(r.DefaultGraphs)))
	h.Write([]byte{0})
	h.Write([]byte(canonicalGraphs(r.NamedGraphs)))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func canonicalGraphs(graphs []string) string {
	if len(graphs) == 0 {
		return ""
	}
	uniq := make(map[string]struct{}, len(graphs))
	for _, g := range graphs {
		uniq[g] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for g := range uniq {
		sorted = append(sorted, g)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}

// Update is a SPARQL update string plus its using-graph scope and the
// principal that issued it; opaque to the manager beyond these fields.
type Update struct {
	Text             string
	UsingGraphs      []string
	UsingNamedGraphs []string
	Principal        string
}
