// Package search is the high level search interface: query-string
// searches, raw body passthrough and analyzer introspection.
package search

import (
	"context"
	"fmt"

	"github.com/openaleph/openaleph-search/internal/client"
	"github.com/openaleph/openaleph-search/internal/ftm"
	"github.com/openaleph/openaleph-search/internal/index"
	"github.com/openaleph/openaleph-search/internal/query"
	"github.com/openaleph/openaleph-search/internal/xref"
)

// MakeParser builds a parser from a free-text query and raw URL args.
func MakeParser(q, args string, auth *query.SearchAuth) (*query.Parser, error) {
	pairs, err := query.ParseArgs(args)
	if err != nil {
		return nil, err
	}
	if q != "" {
		pairs = append([]query.Pair{{Key: "q", Value: q}}, pairs...)
	}
	return query.NewParser(pairs, auth)
}

// SearchQueryString runs a query_string entity search. The args must not
// carry their own q; highlighting defaults to on.
func SearchQueryString(ctx context.Context, pool *client.Pool, q, args string, auth *query.SearchAuth) (*client.SearchResponse, error) {
	pairs, err := query.ParseArgs(args)
	if err != nil {
		return nil, err
	}
	highlight := false
	for _, pair := range pairs {
		if pair.Key == "q" {
			return nil, fmt.Errorf("invalid query, must not contain q in args")
		}
		if pair.Key == "highlight" {
			highlight = true
		}
	}
	if !highlight {
		pairs = append(pairs, query.Pair{Key: "highlight", Value: "true"})
	}
	pairs = append([]query.Pair{{Key: "q", Value: q}}, pairs...)
	parser, err := query.NewParser(pairs, auth)
	if err != nil {
		return nil, err
	}
	return query.NewEntitiesQuery(parser).Search(ctx, pool)
}

// SearchBody runs a raw request body against an index, defaulting to the
// whole entities read scope.
func SearchBody(ctx context.Context, pool *client.Pool, body map[string]interface{}, indexName string) (*client.SearchResponse, error) {
	if indexName == "" {
		resolved, err := index.EntitiesReadIndex(nil, true)
		if err != nil {
			return nil, err
		}
		indexName = resolved
	}
	c, err := pool.Search(ctx)
	if err != nil {
		return nil, err
	}
	reader, err := client.EncodeBody(body)
	if err != nil {
		return nil, err
	}
	res, err := c.ES.Search(
		c.ES.Search.WithContext(ctx),
		c.ES.Search.WithIndex(indexName),
		c.ES.Search.WithBody(reader))
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	decoded := &client.SearchResponse{}
	if err := client.DecodeResponse(res, decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// AnalyzeResponse is the decoded shape of an analyzer introspection call.
type AnalyzeResponse struct {
	Tokens []AnalyzeToken `json:"tokens"`
}

// AnalyzeToken is one emitted analyzer token.
type AnalyzeToken struct {
	Token       string `json:"token"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Type        string `json:"type"`
	Position    int    `json:"position"`
}

// AnalyzeText runs text through the analyzer of a field as mapped for the
// given schema. Useful for debugging what actually lands in the index.
func AnalyzeText(ctx context.Context, pool *client.Pool, text, field, schemaName string) (*AnalyzeResponse, error) {
	if schemaName == "" {
		schemaName = "LegalEntity"
	}
	schema := ftm.Default().Get(schemaName)
	if schema == nil {
		return nil, fmt.Errorf("unknown schema: %q", schemaName)
	}
	indexName, err := index.SchemaIndex(schema, "v1")
	if err != nil {
		return nil, err
	}
	c, err := pool.Search(ctx)
	if err != nil {
		return nil, err
	}
	reader, err := client.EncodeBody(map[string]interface{}{
		"field": field,
		"text":  text,
	})
	if err != nil {
		return nil, err
	}
	res, err := c.ES.Indices.Analyze(
		c.ES.Indices.Analyze.WithContext(ctx),
		c.ES.Indices.Analyze.WithIndex(indexName),
		c.ES.Indices.Analyze.WithBody(reader))
	if err != nil {
		return nil, fmt.Errorf("analyze request failed: %w", err)
	}
	decoded := &AnalyzeResponse{}
	if err := client.DecodeResponse(res, decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// AnalyzeTokens returns the unique token strings of an analysis.
func AnalyzeTokens(ctx context.Context, pool *client.Pool, text, field, schemaName string) ([]string, error) {
	res, err := AnalyzeText(ctx, pool, text, field, schemaName)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, token := range res.Tokens {
		if !seen[token.Token] {
			seen[token.Token] = true
			out = append(out, token.Token)
		}
	}
	return out, nil
}

// Upgrade creates or reconciles every index: the entity buckets and the
// xref store.
func Upgrade(ctx context.Context, pool *client.Pool) error {
	if err := index.ConfigureEntities(ctx, pool); err != nil {
		return err
	}
	return xref.Configure(ctx, pool)
}
