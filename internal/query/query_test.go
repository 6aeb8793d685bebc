package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/openaleph-search/internal/config"
)

func testParser(t *testing.T, pairs ...Pair) *Parser {
	t.Helper()
	parser, err := NewParser(pairs, nil)
	require.NoError(t, err)
	return parser
}

func boolSlot(t *testing.T, query Map, slot string) []interface{} {
	t.Helper()
	b, ok := query["bool"].(Map)
	require.True(t, ok, "not a bool query: %v", query)
	clauses, ok := b[slot].([]interface{})
	require.True(t, ok)
	return clauses
}

func unwrapFunctionScore(t *testing.T, body Map) Map {
	t.Helper()
	fs, ok := body["query"].(Map)["function_score"].(Map)
	require.True(t, ok, "query is not function_score wrapped")
	return fs["query"].(Map)
}

func TestEntitiesBodyMatchAll(t *testing.T) {
	q := NewEntitiesQuery(testParser(t))
	body := q.Body()

	assert.Equal(t, 0, body["from"])
	assert.Equal(t, 20, body["size"])
	assert.Equal(t, true, body["track_total_hits"])

	inner := unwrapFunctionScore(t, body)
	must := boolSlot(t, inner, "must")
	require.Len(t, must, 1)
	assert.Contains(t, must[0], "match_all")
}

func TestEntitiesFunctionScoreShape(t *testing.T) {
	body := NewEntitiesQuery(testParser(t)).Body()
	fs := body["query"].(Map)["function_score"].(Map)
	assert.Equal(t, "sum", fs["boost_mode"])
	functions := fs["functions"].([]interface{})
	require.Len(t, functions, 1)
	factor := functions[0].(Map)["field_value_factor"].(Map)
	assert.Equal(t, "num_values", factor["field"])
	assert.Equal(t, 0.5, factor["factor"])
	assert.Equal(t, "sqrt", factor["modifier"])
}

func TestEntitiesQueryString(t *testing.T) {
	q := NewEntitiesQuery(testParser(t, Pair{"q", "memorious pudding"}))
	inner := unwrapFunctionScore(t, q.Body())
	must := boolSlot(t, inner, "must")
	require.Len(t, must, 1)
	qs := must[0].(Map)["query_string"].(Map)
	assert.Equal(t, "memorious pudding", qs["query"])
	assert.Equal(t, []string{"name^4", "names^3", "text"}, qs["fields"])
	assert.Equal(t, "AND", qs["default_operator"])
	assert.Equal(t, true, qs["lenient"])
	assert.Equal(t, "66%", qs["minimum_should_match"])
}

func TestEntitiesPrefix(t *testing.T) {
	q := NewEntitiesQuery(testParser(t, Pair{"prefix", "put"}))
	inner := unwrapFunctionScore(t, q.Body())
	must := boolSlot(t, inner, "must")
	require.Len(t, must, 1)
	assert.Equal(t, Map{"prefix": Map{"name_parts": "put"}}, must[0])
}

func TestEntitiesFiltersAndExcludes(t *testing.T) {
	q := NewEntitiesQuery(testParser(t,
		Pair{"filter:dataset", "luanda"},
		Pair{"filter:countries", "ao"},
		Pair{"filter:countries", "pt"},
		Pair{"exclude:schema", "Page"},
	))
	inner := unwrapFunctionScore(t, q.Body())

	filter := boolSlot(t, inner, "filter")
	assert.Contains(t, filter, Map{"term": Map{"dataset": "luanda"}})
	assert.Contains(t, filter, Map{"terms": Map{"countries": []string{"ao", "pt"}}})

	mustNot := boolSlot(t, inner, "must_not")
	assert.Contains(t, mustNot, Map{"term": Map{"schema": "Page"}})
}

func TestEntitiesIDFilter(t *testing.T) {
	q := NewEntitiesQuery(testParser(t, Pair{"filter:_id", "x1"}, Pair{"filter:_id", "x2"}))
	inner := unwrapFunctionScore(t, q.Body())
	filter := boolSlot(t, inner, "filter")
	assert.Contains(t, filter, Map{"ids": Map{"values": []string{"x1", "x2"}}})
}

func TestFacetedFilterMovesToPostFilter(t *testing.T) {
	q := NewEntitiesQuery(testParser(t,
		Pair{"facet", "countries"},
		Pair{"filter:countries", "ao"},
		Pair{"filter:dataset", "luanda"},
	))
	body := q.Body()

	inner := unwrapFunctionScore(t, body)
	filter := boolSlot(t, inner, "filter")
	assert.NotContains(t, filter, Map{"term": Map{"countries": "ao"}})
	assert.Contains(t, filter, Map{"term": Map{"dataset": "luanda"}})

	post := body["post_filter"].(Map)["bool"].(Map)["filter"].([]interface{})
	assert.Contains(t, post, Map{"term": Map{"countries": "ao"}})
}

func TestFacetAggregations(t *testing.T) {
	q := NewEntitiesQuery(testParser(t,
		Pair{"facet", "countries"},
		Pair{"facet_size:countries", "100"},
		Pair{"facet_total:countries", "true"},
		Pair{"facet", "dates"},
		Pair{"facet_interval:dates", "year"},
	))
	aggs := q.Body()["aggregations"].(Map)

	terms := aggs["countries.values"].(Map)["terms"].(Map)
	assert.Equal(t, "countries", terms["field"])
	assert.Equal(t, 100, terms["size"])

	assert.Equal(t, Map{"cardinality": Map{"field": "countries"}}, aggs["countries.cardinality"])

	histogram := aggs["dates.values"].(Map)["date_histogram"].(Map)
	assert.Equal(t, "dates", histogram["field"])
	assert.Equal(t, "year", histogram["calendar_interval"])
}

func TestSignificantFacetUsesAuthorizedBackground(t *testing.T) {
	auth := NewSearchAuth([]string{"luanda"}, true, false)
	parser, err := NewParser([]Pair{
		{"facet", "names"},
		{"facet_significant:names", "true"},
	}, auth)
	require.NoError(t, err)
	aggs := NewEntitiesQuery(parser).Body()["aggregations"].(Map)

	significant := aggs["names.significant"].(Map)["significant_terms"].(Map)
	assert.Equal(t, "names", significant["field"])
	assert.Equal(t, Map{"terms": Map{"dataset": []string{"luanda"}}}, significant["background_filter"])
}

func TestAuthInjection(t *testing.T) {
	auth := NewSearchAuth([]string{"luanda", "panama"}, true, false)
	parser, err := NewParser(nil, auth)
	require.NoError(t, err)
	inner := unwrapFunctionScore(t, NewEntitiesQuery(parser).Body())
	filter := boolSlot(t, inner, "filter")
	assert.Contains(t, filter, Map{"terms": Map{"dataset": []string{"luanda", "panama"}}})

	admin := NewSearchAuth(nil, true, true)
	parser, err = NewParser(nil, admin)
	require.NoError(t, err)
	inner = unwrapFunctionScore(t, NewEntitiesQuery(parser).Body())
	filter = boolSlot(t, inner, "filter")
	assert.Contains(t, filter, Map{"match_all": Map{}})

	nobody := NewSearchAuth(nil, false, false)
	parser, err = NewParser(nil, nobody)
	require.NoError(t, err)
	inner = unwrapFunctionScore(t, NewEntitiesQuery(parser).Body())
	filter = boolSlot(t, inner, "filter")
	assert.Contains(t, filter, Map{"match_none": Map{}})
}

func TestSortNumericRouting(t *testing.T) {
	q := NewEntitiesQuery(testParser(t, Pair{"sort", "amount:desc"}))
	sort := q.Body()["sort"].([]interface{})
	require.Len(t, sort, 2)
	spec := sort[0].(Map)["numeric.amount"].(Map)
	assert.Equal(t, "desc", spec["order"])
	assert.Equal(t, "_last", spec["missing"])
	assert.Equal(t, "keyword", spec["unmapped_type"])
	assert.Equal(t, "min", spec["mode"])
	assert.Equal(t, "_score", sort[1])
}

func TestSortKeywordField(t *testing.T) {
	q := NewEntitiesQuery(testParser(t, Pair{"sort", "caption"}))
	sort := q.Body()["sort"].([]interface{})
	spec := sort[0].(Map)["caption"].(Map)
	assert.Equal(t, "asc", spec["order"])
	_, hasMode := spec["mode"]
	assert.False(t, hasMode)
}

func TestSynonymsExpansion(t *testing.T) {
	q := NewEntitiesQuery(testParser(t,
		Pair{"q", "vladimir putin"},
		Pair{"synonyms", "true"},
	))
	inner := unwrapFunctionScore(t, q.Body())
	should := boolSlot(t, inner, "should")
	require.NotEmpty(t, should)

	var keys []string
	for _, clause := range should {
		terms, ok := clause.(Map)["terms"].(Map)
		if !ok {
			continue
		}
		if values, ok := terms["name_keys"].([]string); ok {
			keys = values
		}
	}
	assert.Contains(t, keys, "putinvladimir")
}

func TestDehydrateSource(t *testing.T) {
	q := NewEntitiesQuery(testParser(t, Pair{"dehydrate", "true"}))
	source := q.Body()["_source"].(Map)
	assert.Equal(t, []string{"properties", "text"}, source["excludes"])

	q = NewEntitiesQuery(testParser(t,
		Pair{"dehydrate", "true"},
		Pair{"include_fields", "countries"},
	))
	source = q.Body()["_source"].(Map)
	includes := source["includes"].([]string)
	assert.Contains(t, includes, "countries")
	// Group names expand to the concrete properties feeding them.
	found := false
	for _, field := range includes {
		if strings.HasPrefix(field, "properties.") {
			found = true
		}
	}
	assert.True(t, found, "expected expanded property fields, got %v", includes)
}

func TestEntitiesIndexResolution(t *testing.T) {
	settings := config.Default()
	config.Set(settings)
	defer config.Reset()

	q := NewEntitiesQuery(testParser(t))
	idx, err := q.Index()
	require.NoError(t, err)
	assert.Contains(t, idx, "openaleph-entity-things-v1")
	assert.Contains(t, idx, "openaleph-entity-documents-v1")

	q = NewEntitiesQuery(testParser(t, Pair{"filter:schema", "Person"}))
	idx, err = q.Index()
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-things-v1", idx)

	q = NewEntitiesQuery(testParser(t, Pair{"filter:schemata", "Document"}))
	idx, err = q.Index()
	require.NoError(t, err)
	assert.Contains(t, idx, "openaleph-entity-documents-v1")
	assert.Contains(t, idx, "openaleph-entity-pages-v1")
}

func TestHighlightSection(t *testing.T) {
	q := NewEntitiesQuery(testParser(t, Pair{"q", "pudding"}, Pair{"highlight", "true"}))
	body := q.Body()
	highlight := body["highlight"].(Map)
	assert.Equal(t, false, highlight["require_field_match"])
	fields := highlight["fields"].(Map)
	assert.Contains(t, fields, "text")
	assert.Contains(t, fields, "content")
	assert.Contains(t, fields, "translation")
	assert.Contains(t, fields, "names")
}

func TestXrefQueryShape(t *testing.T) {
	settings := config.Default()
	config.Set(settings)
	defer config.Reset()

	parser := testParser(t)
	q := NewXrefQuery(parser, "luanda")
	assert.False(t, parser.Highlight)

	idx, err := q.Index()
	require.NoError(t, err)
	assert.Equal(t, "openaleph-xref-v1", idx)

	body := q.Body()
	filter := boolSlot(t, body["query"].(Map), "filter")
	assert.Contains(t, filter, Map{"term": Map{"dataset": "luanda"}})
	assert.Contains(t, filter, Map{"range": Map{"score": Map{"gt": 0.5}}})
	assert.Equal(t, []interface{}{Map{"score": Map{"order": "desc"}}}, body["sort"])
}

func TestXrefScoreCutoffSkippedForReviewSorts(t *testing.T) {
	q := NewXrefQuery(testParser(t, Pair{"sort", "random"}), "luanda")
	filter := boolSlot(t, q.Body()["query"].(Map), "filter")
	assert.NotContains(t, filter, Map{"range": Map{"score": Map{"gt": 0.5}}})

	q = NewXrefQuery(testParser(t, Pair{"sort", "doubt:desc"}), "luanda")
	filter = boolSlot(t, q.Body()["query"].(Map), "filter")
	assert.NotContains(t, filter, Map{"range": Map{"score": Map{"gt": 0.5}}})
}
