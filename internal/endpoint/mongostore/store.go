// Package mongostore is a MongoDB-backed implementation of
// endpoint.Client, an alternative to internal/endpoint/memory for
// deployments that want the RDF store's state to persist and be
// shared across broker instances. It stores each quad as its own
// document, grounded on the same driver and error-mapping idiom the
// teacher's document store uses.
package mongostore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arces-wot/sepa/internal/endpoint"
	"github.com/arces-wot/sepa/internal/endpoint/memory"
	"github.com/arces-wot/sepa/internal/rdf"
)

// quadDoc is the on-wire shape of one stored quad.
type quadDoc struct {
	Graph        string `bson:"graph"`
	SubjKind     string `bson:"s_kind"`
	SubjValue    string `bson:"s_value"`
	SubjDatatype string `bson:"s_datatype,omitempty"`
	SubjLang     string `bson:"s_lang,omitempty"`
	PredValue    string `bson:"p_value"`
	ObjKind      string `bson:"o_kind"`
	ObjValue     string `bson:"o_value"`
	ObjDatatype  string `bson:"o_datatype,omitempty"`
	ObjLang      string `bson:"o_lang,omitempty"`
}

// Store is a mongo-backed quad store implementing endpoint.Client. It
// re-uses internal/endpoint/memory's SPARQL subset parser and query
// evaluator, materializing the relevant graphs from MongoDB into an
// in-memory snapshot for each call; the collection itself remains the
// durable source of truth.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// New wraps an already-connected mongo client's collection.
func New(client *mongo.Client, db *mongo.Database, collectionName string) *Store {
	return &Store{client: client, collection: db.Collection(collectionName)}
}

var _ endpoint.Client = (*Store)(nil)

// EnsureIndexes creates the index that makes per-graph loads and
// duplicate-quad rejection efficient.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if s.client == nil {
		return ErrNotConnected
	}
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "graph", Value: 1},
			{Key: "s_value", Value: 1},
			{Key: "p_value", Value: 1},
			{Key: "o_value", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *Store) Update(ctx context.Context, update string, usingGraphs, usingNamedGraphs []string) (endpoint.UpdateResult, error) {
	if s.client == nil {
		return endpoint.UpdateResult{}, ErrNotConnected
	}
	snap := memory.New()
	if err := s.loadInto(ctx, snap, nil); err != nil {
		return endpoint.UpdateResult{}, err
	}
	before := snap.GraphNames()

	res, err := snap.Update(ctx, update, usingGraphs, usingNamedGraphs)
	if err != nil || res.Failed() {
		return res, err
	}

	// Re-derive the quad set of each touched graph and replace it
	// wholesale; the in-memory snapshot is the merge authority,
	// MongoDB is just the persisted mirror of it. The touched set is
	// the union of the using-graph clauses, whatever graphs already
	// existed (so a delete that empties a graph still clears it in
	// Mongo), and whatever graphs exist afterward (so an explicit
	// "GRAPH <iri> { ... }" clause in the update text, which sets the
	// quad's graph directly regardless of usingGraphs/usingNamedGraphs,
	// still gets persisted).
	graphs := unionGraphs(usingGraphs, usingNamedGraphs, before, snap.GraphNames())
	if len(graphs) == 0 {
		graphs = []string{""}
	}
	var docs []interface{}
	for _, g := range graphs {
		if _, err := s.collection.DeleteMany(ctx, bson.M{"graph": g}); err != nil {
			return endpoint.UpdateResult{}, err
		}
		set, err := snap.Query(ctx, selectAllQuery, []string{g}, nil)
		if err != nil {
			return endpoint.UpdateResult{}, err
		}
		for _, b := range set.Bindings() {
			docs = append(docs, toDoc(g, b["s"], b["p"], b["o"]))
		}
	}
	if len(docs) > 0 {
		if _, err := s.collection.InsertMany(ctx, docs); err != nil {
			return endpoint.UpdateResult{}, err
		}
	}
	return res, nil
}

const selectAllQuery = "SELECT ?s ?p ?o WHERE { ?s ?p ?o }"

// unionGraphs merges any number of graph-name slices into a
// deduplicated set.
func unionGraphs(sets ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, set := range sets {
		for _, g := range set {
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}

func (s *Store) Query(ctx context.Context, query string, defaultGraphs, namedGraphs []string) (rdf.BindingSet, error) {
	if s.client == nil {
		return rdf.BindingSet{}, ErrNotConnected
	}
	snap := memory.New()
	scope := append(append([]string{}, defaultGraphs...), namedGraphs...)
	if err := s.loadInto(ctx, snap, scope); err != nil {
		return rdf.BindingSet{}, err
	}
	return snap.Query(ctx, query, defaultGraphs, namedGraphs)
}

func (s *Store) loadInto(ctx context.Context, dst *memory.Store, graphs []string) error {
	filter := bson.M{}
	if len(graphs) > 0 {
		filter["graph"] = bson.M{"$in": graphs}
	}
	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	byGraph := map[string][]quadDoc{}
	for cursor.Next(ctx) {
		var d quadDoc
		if err := cursor.Decode(&d); err != nil {
			return err
		}
		byGraph[d.Graph] = append(byGraph[d.Graph], d)
	}
	if err := cursor.Err(); err != nil {
		return err
	}

	for graph, docs := range byGraph {
		for _, d := range docs {
			insert := insertDataText(d)
			if graph != "" {
				insert = "INSERT DATA { GRAPH <" + graph + "> { " + tripleText(d) + " } }"
			}
			if _, err := dst.Update(ctx, insert, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertDataText(d quadDoc) string {
	return "INSERT DATA { " + tripleText(d) + " }"
}

func tripleText(d quadDoc) string {
	return termText(d.SubjKind, d.SubjValue, d.SubjDatatype, d.SubjLang) + " <" + d.PredValue + "> " +
		termText(d.ObjKind, d.ObjValue, d.ObjDatatype, d.ObjLang) + " ."
}

func termText(kind, value, datatype, lang string) string {
	switch kind {
	case "iri":
		return "<" + value + ">"
	case "blank":
		return "_:" + value
	case "literal":
		lit := `"` + value + `"`
		if datatype != "" {
			lit += "^^<" + datatype + ">"
		} else if lang != "" {
			lit += "@" + lang
		}
		return lit
	default:
		return `""`
	}
}

func toDoc(graph string, s, p, o rdf.Term) quadDoc {
	return quadDoc{
		Graph:        graph,
		SubjKind:     kindString(s),
		SubjValue:    s.Value,
		SubjDatatype: s.Datatype,
		SubjLang:     s.Lang,
		PredValue:    p.Value,
		ObjKind:      kindString(o),
		ObjValue:     o.Value,
		ObjDatatype:  o.Datatype,
		ObjLang:      o.Lang,
	}
}

func kindString(t rdf.Term) string {
	switch t.Kind {
	case rdf.KindIRI:
		return "iri"
	case rdf.KindBlankNode:
		return "blank"
	default:
		return "literal"
	}
}

// ErrNotConnected is returned by EnsureIndexes, Update, and Query when
// Store was built with a nil *mongo.Client, e.g. by a caller that
// skipped the dial-and-ping step New expects the caller to have
// already done.
var ErrNotConnected = errors.New("mongostore: client is not connected")
