// Package rest implements the SPARQL 1.1 Protocol-shaped HTTP surface
// named by SPEC_FULL.md §4.8: POST /sparql/update runs an update
// through the SPU Manager's full barrier protocol, GET and POST
// /sparql/query evaluate a query directly against the backing endpoint.
// Adapted from the teacher's internal/gateway/rest/handler.go: a bare
// *http.ServeMux with method+path patterns, writeAPIError/writeJSON
// helpers, and a thin Bearer-token middleware in place of the
// teacher's full AuthN/AuthZ stack.
package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/schema"

	"github.com/arces-wot/sepa/internal/apierror"
	"github.com/arces-wot/sepa/internal/auth"
	"github.com/arces-wot/sepa/internal/endpoint"
	"github.com/arces-wot/sepa/internal/manager"
	"github.com/arces-wot/sepa/internal/rdf"
	"github.com/arces-wot/sepa/internal/subscription"
)

var decoder = schema.NewDecoder()

func init() {
	decoder.IgnoreUnknownKeys(true)
}

// Handler serves the SPARQL 1.1 Protocol surface.
type Handler struct {
	mgr        *manager.Manager
	ep         endpoint.Client
	validator  auth.TokenValidator
	principals *auth.PrincipalStore
	tokens     *auth.TokenService
	log        *slog.Logger
}

// NewHandler builds a Handler. validator may be nil, in which case
// every request is treated as unauthenticated (empty Principal).
func NewHandler(mgr *manager.Manager, ep endpoint.Client, validator auth.TokenValidator, log *slog.Logger) *Handler {
	return &Handler{mgr: mgr, ep: ep, validator: validator, log: log}
}

// WithLocalCredentials enables POST /auth/login for local
// testing/dev, exchanging a principals/password pair for a bearer
// token minted by tokens. Production deployments never call this.
func (h *Handler) WithLocalCredentials(principals *auth.PrincipalStore, tokens *auth.TokenService) *Handler {
	h.principals = principals
	h.tokens = tokens
	return h
}

// RegisterRoutes wires the SPARQL Protocol endpoints, and the local
// login endpoint if WithLocalCredentials was called, onto mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /sparql/update", withTimeout(h.handleUpdate, 30*time.Second))
	mux.HandleFunc("GET /sparql/query", withTimeout(h.handleQuery, 30*time.Second))
	mux.HandleFunc("POST /sparql/query", withTimeout(h.handleQuery, 30*time.Second))
	if h.principals != nil && h.tokens != nil {
		mux.HandleFunc("POST /auth/login", withTimeout(h.handleLogin, 5*time.Second))
	}
}

type loginForm struct {
	Subject  string `schema:"subject"`
	Password string `schema:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeAPIError(w, apierror.BadRequest("malformed form body"))
		return
	}
	var form loginForm
	if err := decoder.Decode(&form, r.Form); err != nil {
		writeAPIError(w, apierror.BadRequest(err.Error()))
		return
	}
	principal, err := h.principals.Authenticate(form.Subject, form.Password)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	token, err := h.tokens.Mint(principal.Subject, principal.Roles)
	if err != nil {
		writeAPIError(w, apierror.Auth(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token})
}

type updateForm struct {
	Update             string   `schema:"update"`
	UsingGraphURI      []string `schema:"using-graph-uri"`
	UsingNamedGraphURI []string `schema:"using-named-graph-uri"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	principal, err := h.authenticate(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeAPIError(w, apierror.BadRequest("malformed form body"))
		return
	}
	var form updateForm
	if err := decoder.Decode(&form, r.Form); err != nil {
		writeAPIError(w, apierror.BadRequest(err.Error()))
		return
	}
	if form.Update == "" {
		writeAPIError(w, apierror.BadRequest("update parameter is required"))
		return
	}

	u := subscription.Update{
		Text:             form.Update,
		UsingGraphs:      form.UsingGraphURI,
		UsingNamedGraphs: form.UsingNamedGraphURI,
		Principal:        principal.Subject,
	}

	result, err := h.mgr.Update(r.Context(), u)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if result.Failed() {
		w.WriteHeader(result.StatusCode)
		_, _ = w.Write([]byte(result.Body))
		return
	}
	w.WriteHeader(http.StatusOK)
}

type queryForm struct {
	Query           string   `schema:"query"`
	DefaultGraphURI []string `schema:"default-graph-uri"`
	NamedGraphURI   []string `schema:"named-graph-uri"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authenticate(r); err != nil {
		writeAPIError(w, err)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeAPIError(w, apierror.BadRequest("malformed query string"))
		return
	}
	var form queryForm
	if err := decoder.Decode(&form, r.Form); err != nil {
		writeAPIError(w, apierror.BadRequest(err.Error()))
		return
	}
	if form.Query == "" {
		writeAPIError(w, apierror.BadRequest("query parameter is required"))
		return
	}

	bindings, err := h.ep.Query(r.Context(), form.Query, form.DefaultGraphURI, form.NamedGraphURI)
	if err != nil {
		writeAPIError(w, apierror.Endpoint(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, sparqlResultsJSON(bindings))
}

// authenticate extracts and validates a Bearer token if present.
// A request with no Authorization header is treated as an
// unauthenticated Principal, not an error: production deployments
// decide their own auth policy at the reverse proxy.
func (h *Handler) authenticate(r *http.Request) (auth.Principal, error) {
	if h.validator == nil {
		return auth.Principal{}, nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return auth.Principal{}, nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return auth.Principal{}, apierror.Auth("malformed Authorization header")
	}
	return h.validator.Validate(token)
}

func withTimeout(next http.HandlerFunc, d time.Duration) http.HandlerFunc {
	return http.TimeoutHandler(next, d, `{"kind":"timeout","body":"request timed out"}`).ServeHTTP
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/sparql-results+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*apierror.Error); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.Code)
		_ = json.NewEncoder(w).Encode(struct {
			Kind  apierror.Kind `json:"kind"`
			Phase apierror.Phase `json:"phase,omitempty"`
			Body  string        `json:"body"`
		}{apiErr.Kind, apiErr.Phase, apiErr.Body})
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(struct {
		Body string `json:"body"`
	}{err.Error()})
}

// sparqlResultsJSON renders a BindingSet in the shape of the W3C
// SPARQL 1.1 Query Results JSON Format.
func sparqlResultsJSON(bs rdf.BindingSet) map[string]interface{} {
	bindings := bs.Bindings()
	varSet := map[string]struct{}{}
	rows := make([]map[string]interface{}, 0, len(bindings))
	for _, b := range bindings {
		row := make(map[string]interface{}, len(b))
		for v, term := range b {
			varSet[v] = struct{}{}
			row[v] = termJSON(term)
		}
		rows = append(rows, row)
	}
	vars := make([]string, 0, len(varSet))
	for v := range varSet {
		vars = append(vars, v)
	}
	return map[string]interface{}{
		"head":    map[string]interface{}{"vars": vars},
		"results": map[string]interface{}{"bindings": rows},
	}
}

func termJSON(t rdf.Term) map[string]interface{} {
	switch t.Kind {
	case rdf.KindIRI:
		return map[string]interface{}{"type": "uri", "value": t.Value}
	case rdf.KindBlankNode:
		return map[string]interface{}{"type": "bnode", "value": t.Value}
	default:
		out := map[string]interface{}{"type": "literal", "value": t.Value}
		if t.Datatype != "" {
			out["datatype"] = t.Datatype
		}
		if t.Lang != "" {
			out["xml:lang"] = t.Lang
		}
		return out
	}
}
