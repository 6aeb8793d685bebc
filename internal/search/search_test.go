package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeParser(t *testing.T) {
	parser, err := MakeParser("putin", "filter:schema=Person&limit=5", nil)
	require.NoError(t, err)
	assert.Equal(t, "putin", parser.Text)
	assert.Equal(t, 5, parser.Limit)
	assert.Equal(t, []string{"Person"}, parser.FilterValues("schema"))
}

func TestMakeParserEmptyQuery(t *testing.T) {
	parser, err := MakeParser("", "", nil)
	require.NoError(t, err)
	assert.Empty(t, parser.Text)
}

func TestSearchQueryStringRejectsQInArgs(t *testing.T) {
	_, err := SearchQueryString(context.Background(), nil, "putin", "q=smuggled", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not contain q")
}
