package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/openaleph-search/internal/config"
)

func TestContentHighlighterUnified(t *testing.T) {
	settings := config.Default()
	settings.Highlight.ContentType = "unified"
	config.Set(settings)
	defer config.Reset()

	h := Highlighter("content", Map{"query_string": Map{"query": "x"}}, 0)
	assert.Equal(t, "unified", h["type"])
	assert.Equal(t, "sentence", h["boundary_scanner"])
	assert.Equal(t, settings.Highlight.FragmentSize, h["fragment_size"])
	assert.Equal(t, settings.Highlight.NumberOfFragments, h["number_of_fragments"])
	require.Contains(t, h, "highlight_query")
}

func TestContentHighlighterFVH(t *testing.T) {
	settings := config.Default()
	settings.Highlight.ContentType = "fvh"
	config.Set(settings)
	defer config.Reset()

	h := Highlighter("content", nil, 3)
	assert.Equal(t, "fvh", h["type"])
	assert.Equal(t, "chars", h["boundary_scanner"])
	assert.Equal(t, 3, h["number_of_fragments"])
	assert.Equal(t, "score", h["order"])
	assert.NotContains(t, h, "highlight_query")
}

func TestNamesHighlighter(t *testing.T) {
	h := Highlighter("names", nil, 0)
	assert.Equal(t, "plain", h["type"])
	assert.Equal(t, 3, h["number_of_fragments"])
	assert.Equal(t, 999999, h["max_analyzed_offset"])
	assert.Equal(t, []string{""}, h["pre_tags"])
	assert.Equal(t, []string{""}, h["post_tags"])
}

func TestDefaultHighlighter(t *testing.T) {
	qs := Map{"query_string": Map{"query": "pudding"}}
	h := Highlighter("text", qs, 0)
	assert.Equal(t, "plain", h["type"])
	assert.Equal(t, 150, h["fragment_size"])
	assert.Equal(t, 1, h["number_of_fragments"])
	assert.Equal(t, qs, h["highlight_query"])
}
