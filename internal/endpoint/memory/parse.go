package memory

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/arces-wot/sepa/internal/rdf"
)

// This file implements a small, deliberately limited parser for the
// subset of SPARQL 1.1 Update and Query used to exercise the SPU
// diffing algorithm end-to-end without a third-party SPARQL engine:
// INSERT DATA / DELETE DATA / DELETE WHERE with ground triples,
// optionally wrapped in GRAPH <iri> { ... }, and single-block SELECT
// WHERE with a conjunction of triple patterns. It does not support
// OPTIONAL, FILTER, UNION, property paths, or nested GRAPH scoping
// inside WHERE beyond a flat block. See DESIGN.md.

var tokenRe = regexp.MustCompile(`<[^>]*>|\?[A-Za-z_][A-Za-z0-9_]*|_:[A-Za-z0-9_]+|"(?:[^"\\]|\\.)*"(?:\^\^<[^>]*>|@[A-Za-z-]+)?|[{}.]|[A-Za-z][A-Za-z0-9]*`)

func tokenize(s string) []string {
	return tokenRe.FindAllString(s, -1)
}

func isVar(tok string) bool { return strings.HasPrefix(tok, "?") }

func parseTerm(tok string) (rdf.Term, error) {
	switch {
	case strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">"):
		return rdf.IRI(tok[1 : len(tok)-1]), nil
	case strings.HasPrefix(tok, "_:"):
		return rdf.BlankNode(tok[2:]), nil
	case strings.HasPrefix(tok, "\""):
		return parseLiteral(tok)
	default:
		return rdf.Term{}, fmt.Errorf("memory: unsupported term %q", tok)
	}
}

func parseLiteral(tok string) (rdf.Term, error) {
	// "<lexical>"(^^<datatype>|@lang)?
	end := strings.LastIndex(tok, "\"")
	if end <= 0 {
		return rdf.Term{}, fmt.Errorf("memory: malformed literal %q", tok)
	}
	lexical := unescape(tok[1:end])
	suffix := tok[end+1:]
	switch {
	case strings.HasPrefix(suffix, "^^<"):
		return rdf.TypedLiteral(lexical, strings.TrimSuffix(strings.TrimPrefix(suffix, "^^<"), ">")), nil
	case strings.HasPrefix(suffix, "@"):
		return rdf.LangLiteral(lexical, strings.TrimPrefix(suffix, "@")), nil
	default:
		return rdf.PlainLiteral(lexical), nil
	}
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

// pattern is one triple pattern, terms may be variables.
type pattern struct {
	S, P, O string // raw tokens; resolved against bindings during evaluation
	Graph   string // empty means default graph
}

// updateOp is one parsed update operation.
type updateOp struct {
	Kind  string // "insert" or "delete"
	Quads []quad
}

type quad struct {
	Graph string // "" for default graph
	S, P, O rdf.Term
}

// parseUpdate parses a sequence of INSERT DATA / DELETE DATA / DELETE
// WHERE operations separated by ';' or whitespace.
func parseUpdate(text string) ([]updateOp, error) {
	toks := tokenize(text)
	var ops []updateOp
	i := 0
	for i < len(toks) {
		kw := strings.ToUpper(toks[i])
		switch kw {
		case "INSERT":
			if i+1 >= len(toks) || strings.ToUpper(toks[i+1]) != "DATA" {
				return nil, fmt.Errorf("memory: only INSERT DATA is supported")
			}
			quads, next, err := parseQuadBlock(toks, i+2)
			if err != nil {
				return nil, err
			}
			ops = append(ops, updateOp{Kind: "insert", Quads: quads})
			i = next
		case "DELETE":
			if i+1 < len(toks) && strings.ToUpper(toks[i+1]) == "DATA" {
				quads, next, err := parseQuadBlock(toks, i+2)
				if err != nil {
					return nil, err
				}
				ops = append(ops, updateOp{Kind: "delete", Quads: quads})
				i = next
				continue
			}
			if i+1 < len(toks) && strings.ToUpper(toks[i+1]) == "WHERE" {
				// Supported only for ground (variable-free) patterns.
				quads, next, err := parseQuadBlock(toks, i+2)
				if err != nil {
					return nil, err
				}
				ops = append(ops, updateOp{Kind: "delete", Quads: quads})
				i = next
				continue
			}
			return nil, fmt.Errorf("memory: unsupported DELETE form")
		default:
			return nil, fmt.Errorf("memory: unsupported update keyword %q", toks[i])
		}
	}
	return ops, nil
}

// parseQuadBlock parses "{ triples }" possibly containing "GRAPH <g> { triples }".
func parseQuadBlock(toks []string, i int) ([]quad, int, error) {
	if i >= len(toks) || toks[i] != "{" {
		return nil, i, fmt.Errorf("memory: expected '{'")
	}
	i++
	var quads []quad
	for i < len(toks) && toks[i] != "}" {
		if strings.ToUpper(toks[i]) == "GRAPH" {
			graph, err := parseTerm(toks[i+1])
			if err != nil {
				return nil, i, err
			}
			i += 2
			inner, next, err := parseQuadBlock(toks, i)
			if err != nil {
				return nil, i, err
			}
			for _, q := range inner {
				q.Graph = graph.Value
				quads = append(quads, q)
			}
			i = next
			continue
		}
		if i+2 >= len(toks) {
			return nil, i, fmt.Errorf("memory: truncated triple")
		}
		s, err := parseTerm(toks[i])
		if err != nil {
			return nil, i, err
		}
		p, err := parseTerm(toks[i+1])
		if err != nil {
			return nil, i, err
		}
		o, err := parseTerm(toks[i+2])
		if err != nil {
			return nil, i, err
		}
		quads = append(quads, quad{S: s, P: p, O: o})
		i += 3
		if i < len(toks) && toks[i] == "." {
			i++
		}
	}
	if i >= len(toks) {
		return nil, i, fmt.Errorf("memory: unterminated block")
	}
	return quads, i + 1, nil
}

// selectQuery is a parsed SELECT ... WHERE { patterns }.
type selectQuery struct {
	Vars     []string // empty means "*"
	Patterns []pattern
}

func parseSelect(text string) (*selectQuery, error) {
	toks := tokenize(text)
	if len(toks) == 0 || strings.ToUpper(toks[0]) != "SELECT" {
		return nil, fmt.Errorf("memory: only SELECT queries are supported")
	}
	i := 1
	var vars []string
	for i < len(toks) && (isVar(toks[i]) || toks[i] == "*") {
		if toks[i] != "*" {
			vars = append(vars, strings.TrimPrefix(toks[i], "?"))
		}
		i++
	}
	if i >= len(toks) || strings.ToUpper(toks[i]) != "WHERE" {
		return nil, fmt.Errorf("memory: expected WHERE")
	}
	i++
	if i >= len(toks) || toks[i] != "{" {
		return nil, fmt.Errorf("memory: expected '{'")
	}
	i++

	var patterns []pattern
	graph := ""
	for i < len(toks) && toks[i] != "}" {
		if strings.ToUpper(toks[i]) == "GRAPH" {
			g, err := parseTerm(toks[i+1])
			if err != nil {
				return nil, err
			}
			graph = g.Value
			i += 3 // GRAPH <g> {
			continue
		}
		if toks[i] == "}" {
			graph = ""
			i++
			continue
		}
		if i+2 >= len(toks) {
			return nil, fmt.Errorf("memory: truncated pattern")
		}
		patterns = append(patterns, pattern{S: toks[i], P: toks[i+1], O: toks[i+2], Graph: graph})
		i += 3
		if i < len(toks) && toks[i] == "." {
			i++
		}
	}
	return &selectQuery{Vars: vars, Patterns: patterns}, nil
}
