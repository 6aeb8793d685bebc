package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/openaleph-search/internal/config"
)

func TestParseArgs(t *testing.T) {
	pairs, err := ParseArgs("q=pudding&filter%3Aschema=Person&highlight=")
	require.NoError(t, err)
	require.Len(t, pairs, 3)
	assert.Equal(t, Pair{Key: "q", Value: "pudding"}, pairs[0])
	assert.Equal(t, Pair{Key: "filter:schema", Value: "Person"}, pairs[1])
	assert.Equal(t, Pair{Key: "highlight", Value: ""}, pairs[2])
}

func TestParserBasics(t *testing.T) {
	parser, err := NewParser([]Pair{
		{"q", "  banana "},
		{"prefix", "put"},
		{"offset", "10"},
		{"limit", "50"},
		{"highlight", "true"},
		{"synonyms", "true"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "banana", parser.Text)
	assert.Equal(t, "put", parser.Prefix)
	assert.Equal(t, 10, parser.Offset)
	assert.Equal(t, 50, parser.Limit)
	assert.True(t, parser.Highlight)
	assert.True(t, parser.Synonyms)
}

func TestParserFiltersAccumulate(t *testing.T) {
	parser, err := NewParser([]Pair{
		{"filter:dataset", "luanda"},
		{"filter:countries", "ao"},
		{"filter:countries", "pt"},
		{"filter:countries", "ao"},
		{"exclude:schema", "Page"},
		{"filter:gte:dates", "2019"},
		{"filter:lt:dates", "2021"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dataset", "countries"}, parser.FilterFields())
	assert.Equal(t, []string{"ao", "pt"}, parser.FilterValues("countries"))
	assert.Equal(t, []string{"Page"}, parser.ExcludeValues("schema"))
	assert.Equal(t, map[string]string{"gte": "2019", "lt": "2021"}, parser.RangeOps("dates"))
}

func TestParserRoutingKey(t *testing.T) {
	parser, err := NewParser([]Pair{{"filter:dataset", "luanda"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "luanda", parser.RoutingKey())

	parser, err = NewParser([]Pair{
		{"filter:dataset", "luanda"},
		{"filter:dataset", "panama"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "", parser.RoutingKey())

	parser, err = NewParser(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "", parser.RoutingKey())
}

func TestParserPaginationWindow(t *testing.T) {
	_, err := NewParser([]Pair{{"offset", "9990"}, {"limit", "100"}}, nil)
	assert.Error(t, err)

	parser, err := NewParser([]Pair{{"offset", "9979"}, {"limit", "20"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 9979, parser.Offset)
}

func TestParserSorts(t *testing.T) {
	parser, err := NewParser([]Pair{
		{"sort", "created_at:desc"},
		{"sort", "caption"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, parser.Sorts, 2)
	assert.Equal(t, SortClause{Field: "created_at", Order: "desc"}, parser.Sorts[0])
	assert.Equal(t, SortClause{Field: "caption", Order: "asc"}, parser.Sorts[1])
}

func TestParserFacetKnobs(t *testing.T) {
	parser, err := NewParser([]Pair{
		{"facet", "countries"},
		{"facet", "dates"},
		{"facet_size:countries", "100"},
		{"facet_total:countries", "true"},
		{"facet_interval:dates", "year"},
		{"facet_significant:countries", "true"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"countries", "dates"}, parser.Facets)
	assert.Equal(t, 100, parser.FacetSize("countries"))
	assert.Equal(t, 20, parser.FacetSize("dates"))
	assert.True(t, parser.FacetTotal("countries"))
	assert.Equal(t, "year", parser.FacetInterval("dates"))
	assert.True(t, parser.FacetSignificant("countries"))
}

func TestParserMLTDefaults(t *testing.T) {
	parser, err := NewParser(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, parser.MLTMinDocFreq())
	assert.Equal(t, "60%", parser.MLTMinimumShouldMatch())
	assert.Equal(t, 5, parser.MLTMinTermFreq())
	assert.Equal(t, 50, parser.MLTMaxQueryTerms())

	parser, err = NewParser([]Pair{
		{"mlt_min_doc_freq", "2"},
		{"mlt_minimum_should_match", "30%"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, parser.MLTMinDocFreq())
	assert.Equal(t, "30%", parser.MLTMinimumShouldMatch())
}

func TestParserAuthMandatory(t *testing.T) {
	settings := config.Default()
	settings.SearchAuth = true
	config.Set(settings)
	defer config.Reset()

	_, err := NewParser(nil, nil)
	assert.Error(t, err)

	auth := NewSearchAuth([]string{"luanda"}, true, false)
	parser, err := NewParser(nil, auth)
	require.NoError(t, err)
	assert.Same(t, auth, parser.Auth)
}
