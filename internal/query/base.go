package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openaleph/openaleph-search/internal/client"
	"github.com/openaleph/openaleph-search/internal/ftm"
	"github.com/openaleph/openaleph-search/internal/logger"
	"github.com/openaleph/openaleph-search/internal/mapping"
	"github.com/openaleph/openaleph-search/internal/metrics"
	"github.com/openaleph/openaleph-search/internal/names"
)

var log = logger.New("query")

// Kind labels a query class for metrics and logging.
type Kind string

const (
	KindEntities     Kind = "entities"
	KindMatch        Kind = "match"
	KindGeoDistance  Kind = "geo_distance"
	KindXref         Kind = "xref"
	KindMoreLikeThis Kind = "more_like_this"
)

// Query compiles one parsed request into a backend body. The query classes
// are policy records over this single compiler: they fill in the fields and
// hooks, the compilation path is shared.
type Query struct {
	Kind   Kind
	Parser *Parser

	// TextFields receive the free-text query_string.
	TextFields []string
	// PrefixField receives the prefix argument.
	PrefixField string
	// SkipFilters are filter fields consumed elsewhere (index routing).
	SkipFilters []string
	// Source is the default _source filter.
	Source Map
	// AuthzField carries the dataset authorization terms filter.
	AuthzField string
	// SortDefault applies when the request specifies no sort.
	SortDefault []interface{}
	// SortFields renames request sort fields to index fields.
	SortFields map[string]string
	// FunctionScore wraps the query to bias toward value-rich entities.
	FunctionScore bool

	model *ftm.Model

	// Hooks for the narrow per-class overrides.
	indexFn   func(q *Query) (string, error)
	queryFn   func(q *Query, query Map) Map
	sortFn    func(q *Query) []interface{}
	filtersFn func(q *Query, filters []interface{}) []interface{}
}

func (q *Query) skipFilter(field string) bool {
	for _, skip := range q.SkipFilters {
		if skip == field {
			return true
		}
	}
	return false
}

func (q *Query) facetFields() map[string]bool {
	out := map[string]bool{}
	for _, field := range q.Parser.Facets {
		out[field] = true
	}
	return out
}

// queryString builds the free-text clause shared by the query and the
// highlighter. Nil when the request has no text.
func (q *Query) queryString() Map {
	if q.Parser.Text == "" {
		return nil
	}
	return Map{
		"query_string": Map{
			"query":                q.Parser.Text,
			"fields":               q.TextFields,
			"default_operator":     "AND",
			"lenient":              true,
			"minimum_should_match": "66%",
		},
	}
}

// synonymClauses expands a name-like text query across scripts: exact
// symbol equality plus blocking-key n-grams over the sorted query tokens.
func synonymClauses(text string) []interface{} {
	var clauses []interface{}
	if symbols := names.TagName(text); len(symbols) > 0 {
		clauses = append(clauses, Map{"terms": Map{mapping.FieldNameSymbols: symbols}})
	}
	tokens := names.Parts(names.Latinize(text))
	if len(tokens) >= 2 {
		tokens = sortedStrings(tokens)
		var keys []string
		for n := 2; n <= len(tokens); n++ {
			for i := 0; i+n <= len(tokens); i++ {
				keys = append(keys, strings.Join(tokens[i:i+n], ""))
			}
		}
		clauses = append(clauses, Map{"terms": Map{mapping.FieldNameKeys: keys}})
	}
	return clauses
}

// Index resolves the comma-joined read indexes for the request.
func (q *Query) Index() (string, error) {
	if q.indexFn != nil {
		return q.indexFn(q)
	}
	return "", fmt.Errorf("query class %s resolves no index", q.Kind)
}

// Filters compiles the filter-context clauses: equality filters on fields
// without a facet, all range filters, and the authorization filter.
func (q *Query) Filters() []interface{} {
	faceted := q.facetFields()
	var filters []interface{}
	for _, field := range q.Parser.FilterFields() {
		if q.skipFilter(field) || faceted[field] {
			continue
		}
		filters = append(filters, FieldFilterQuery(field, q.Parser.FilterValues(field)))
	}
	for _, field := range q.Parser.RangeFields() {
		filters = append(filters, RangeFilterQuery(field, q.Parser.RangeOps(field)))
	}
	if q.Parser.Auth != nil {
		filters = append(filters, q.Parser.Auth.DatasetsQuery(q.AuthzField))
	}
	if q.filtersFn != nil {
		filters = q.filtersFn(q, filters)
	}
	return filters
}

// PostFilters compiles the filters on faceted fields, applied after
// aggregation so facet counts stay unaffected by their own filter.
func (q *Query) PostFilters() []interface{} {
	faceted := q.facetFields()
	var filters []interface{}
	for _, field := range q.Parser.FilterFields() {
		if q.skipFilter(field) || !faceted[field] {
			continue
		}
		filters = append(filters, FieldFilterQuery(field, q.Parser.FilterValues(field)))
	}
	return filters
}

// CompileQuery builds the boolean query for the request.
func (q *Query) CompileQuery() Map {
	query := BoolQuery()
	qs := q.queryString()
	if qs == nil && q.Parser.Prefix == "" {
		appendClause(query, "must", Map{"match_all": Map{}})
	}
	if qs != nil {
		appendClause(query, "must", qs)
	}
	if q.Parser.Prefix != "" && q.PrefixField != "" {
		appendClause(query, "must", Map{
			"prefix": Map{q.PrefixField: q.Parser.Prefix},
		})
	}
	if q.Parser.Synonyms && q.Parser.Text != "" {
		for _, clause := range synonymClauses(q.Parser.Text) {
			appendClause(query, "should", clause)
		}
	}
	for _, filter := range q.Filters() {
		appendClause(query, "filter", filter)
	}
	for _, field := range q.Parser.ExcludeFields() {
		appendClause(query, "must_not", FieldFilterQuery(field, q.Parser.ExcludeValues(field)))
	}
	if q.queryFn != nil {
		query = q.queryFn(q, query)
	}
	return query
}

// scoredQuery applies the function_score wrap biasing toward entities
// with many property values.
func (q *Query) scoredQuery(query Map) Map {
	if !q.FunctionScore {
		return query
	}
	return Map{
		"function_score": Map{
			"query": query,
			"functions": []interface{}{
				Map{"field_value_factor": Map{
					"field":    mapping.FieldNumValues,
					"factor":   0.5,
					"modifier": "sqrt",
					"missing":  1,
				}},
			},
			"boost_mode": "sum",
		},
	}
}

// Aggregations compiles the requested facets.
func (q *Query) Aggregations() Map {
	aggs := Map{}
	for _, field := range q.Parser.Facets {
		size := q.Parser.FacetSize(field)
		if interval := q.Parser.FacetInterval(field); interval != "" {
			aggs[field+".values"] = Map{
				"date_histogram": Map{
					"field":             field,
					"calendar_interval": interval,
					"format":            "yyyy-MM-dd",
				},
			}
		} else {
			aggs[field+".values"] = Map{
				"terms": Map{"field": field, "size": size},
			}
		}
		if q.Parser.FacetTotal(field) {
			aggs[field+".cardinality"] = Map{
				"cardinality": Map{"field": field},
			}
		}
		if q.Parser.FacetSignificant(field) {
			significant := Map{
				"significant_terms": Map{"field": field, "size": size},
			}
			// Significance against the accessible corpus only.
			if q.Parser.Auth != nil {
				terms := significant["significant_terms"].(Map)
				terms["background_filter"] = q.Parser.Auth.DatasetsQuery(q.AuthzField)
			}
			aggs[field+".significant"] = significant
		}
	}
	return aggs
}

// Sort compiles the sort clauses, routing numeric-typed property fields
// through the numeric projection and appending the score tiebreaker.
func (q *Query) Sort() []interface{} {
	if q.sortFn != nil {
		return q.sortFn(q)
	}
	if len(q.Parser.Sorts) == 0 {
		return q.SortDefault
	}
	var out []interface{}
	for _, clause := range q.Parser.Sorts {
		field := clause.Field
		if renamed, ok := q.SortFields[field]; ok {
			field = renamed
		}
		if field == "_score" {
			out = append(out, Map{"_score": Map{"order": clause.Order}})
			continue
		}
		spec := Map{
			"order":         clause.Order,
			"missing":       "_last",
			"unmapped_type": "keyword",
		}
		if q.numericField(field) {
			field = mapping.FieldNumeric + "." + field
			spec["mode"] = "min"
		}
		out = append(out, Map{field: spec})
	}
	return append(out, "_score")
}

// numericField reports whether a sort field names a numeric-typed property.
func (q *Query) numericField(field string) bool {
	for _, schema := range q.model.Schemata() {
		if prop, ok := schema.Properties()[field]; ok && prop.Type.IsNumeric() {
			return true
		}
	}
	return false
}

// SourceFilter compiles the _source section. Dehydration strips the heavy
// fields and restores the explicitly requested ones, expanding group names
// to every property of that group.
func (q *Query) SourceFilter() Map {
	if !q.Parser.Dehydrate {
		return q.Source
	}
	includes := make([]string, 0, len(q.Parser.IncludeFields))
	for _, field := range q.Parser.IncludeFields {
		includes = append(includes, q.expandIncludeField(field)...)
	}
	return Map{
		"excludes": []string{mapping.FieldProperties, mapping.FieldText},
		"includes": includes,
	}
}

func (q *Query) expandIncludeField(field string) []string {
	group := false
	for _, name := range ftm.GroupFields() {
		if name == field {
			group = true
			break
		}
	}
	out := []string{field}
	if !group {
		return out
	}
	seen := map[string]bool{field: true}
	for _, schema := range q.model.Schemata() {
		for name, prop := range schema.Properties() {
			if prop.Type.Group() != field {
				continue
			}
			expanded := mapping.PropertyField(name)
			if !seen[expanded] {
				seen[expanded] = true
				out = append(out, expanded)
			}
		}
	}
	return sortedStrings(out)
}

// Body assembles the full search request body.
func (q *Query) Body() Map {
	body := Map{
		"query":            q.scoredQuery(q.CompileQuery()),
		"from":             q.Parser.Offset,
		"size":             q.Parser.Limit,
		"track_total_hits": true,
	}
	if post := q.PostFilters(); len(post) > 0 {
		body["post_filter"] = Map{"bool": Map{"filter": post}}
	}
	if aggs := q.Aggregations(); len(aggs) > 0 {
		body["aggregations"] = aggs
	}
	if sort := q.Sort(); len(sort) > 0 {
		body["sort"] = sort
	}
	if q.Parser.Highlight {
		body["highlight"] = EntitiesHighlight(q.queryString())
	}
	if source := q.SourceFilter(); source != nil {
		body["_source"] = source
	}
	return body
}

// Search executes the compiled request.
func (q *Query) Search(ctx context.Context, pool *client.Pool) (*client.SearchResponse, error) {
	index, err := q.Index()
	if err != nil {
		return nil, err
	}
	c, err := pool.Search(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SearchRequests.WithLabelValues(string(q.Kind)).Inc()
	started := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues(string(q.Kind)).Observe(time.Since(started).Seconds())
	}()

	reader, err := client.EncodeBody(q.Body())
	if err != nil {
		return nil, err
	}
	raw, err := c.ES.Search(
		c.ES.Search.WithContext(ctx),
		c.ES.Search.WithIndex(index),
		c.ES.Search.WithBody(reader),
		c.ES.Search.WithRouting(routingValues(q.Parser.RoutingKey())...),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	res := &client.SearchResponse{}
	if err := client.DecodeResponse(raw, res); err != nil {
		return nil, err
	}
	log.Debug("Search executed",
		logger.String("kind", string(q.Kind)),
		logger.String("index", index),
		logger.Int("hits", res.Hits.Total.Value),
		logger.Int("took_ms", res.Took))
	return res, nil
}

// Count executes the query without fetching hits and returns the total.
func (q *Query) Count(ctx context.Context, pool *client.Pool) (int, error) {
	index, err := q.Index()
	if err != nil {
		return 0, err
	}
	c, err := pool.Search(ctx)
	if err != nil {
		return 0, err
	}
	reader, err := client.EncodeBody(Map{"query": q.CompileQuery()})
	if err != nil {
		return 0, err
	}
	raw, err := c.ES.Count(
		c.ES.Count.WithContext(ctx),
		c.ES.Count.WithIndex(index),
		c.ES.Count.WithBody(reader),
	)
	if err != nil {
		return 0, fmt.Errorf("count request failed: %w", err)
	}
	var decoded struct {
		Count int `json:"count"`
	}
	if err := client.DecodeResponse(raw, &decoded); err != nil {
		return 0, err
	}
	return decoded.Count, nil
}

// Results runs the search and unpacks the hits.
func (q *Query) Results(ctx context.Context, pool *client.Pool) ([]client.Result, *client.SearchResponse, error) {
	res, err := q.Search(ctx, pool)
	if err != nil {
		return nil, nil, err
	}
	results := make([]client.Result, 0, len(res.Hits.Hits))
	for i := range res.Hits.Hits {
		result, err := res.Hits.Hits[i].Unpack()
		if err != nil {
			return nil, res, err
		}
		if result != nil {
			results = append(results, result)
		}
	}
	return results, res, nil
}

func routingValues(key string) []string {
	if key == "" {
		return nil
	}
	return []string{key}
}
