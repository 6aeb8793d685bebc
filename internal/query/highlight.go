package query

import (
	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/mapping"
)

// Content highlighter tuning that is not worth a config knob.
const (
	highlightPhraseLimit     = 128
	highlightBoundaryMaxScan = 100
	highlightNoMatchSize     = 150
	// Boundary chars cover csv/json/html/code raw text, not just prose.
	highlightBoundaryChars = ".\t\n ,!?;_-=(){}[]<>|\""
)

// Highlighter builds the per-field highlight configuration. The query, when
// given, overrides the highlight query so fragments reflect the free-text
// part of the request rather than filters.
func Highlighter(field string, highlightQuery Map, count int) Map {
	settings := config.Get().Highlight
	switch field {
	case mapping.FieldContent, mapping.FieldTranslation:
		fragments := count
		if fragments <= 0 {
			fragments = settings.NumberOfFragments
		}
		var h Map
		if settings.ContentType == "fvh" {
			h = Map{
				"type":                "fvh",
				"fragment_size":       settings.FragmentSize,
				"number_of_fragments": fragments,
				"phrase_limit":        highlightPhraseLimit,
				"order":               "score",
				"boundary_scanner":    "chars",
				"boundary_max_scan":   highlightBoundaryMaxScan,
				"boundary_chars":      highlightBoundaryChars,
				"no_match_size":       highlightNoMatchSize,
				"fragmenter":          "span",
				"max_analyzed_offset": settings.MaxAnalyzedOffset,
			}
		} else {
			h = Map{
				"type":                "unified",
				"fragment_size":       settings.FragmentSize,
				"number_of_fragments": fragments,
				"order":               "score",
				"boundary_scanner":    "sentence",
				"no_match_size":       highlightNoMatchSize,
				"max_analyzed_offset": settings.MaxAnalyzedOffset,
			}
		}
		if highlightQuery != nil {
			h["highlight_query"] = highlightQuery
		}
		return h
	case mapping.FieldName:
		// Human-readable names, never broken mid-name and never marked up.
		return Map{
			"type":                "unified",
			"fragment_size":       200,
			"number_of_fragments": 3,
			"fragmenter":          "simple",
			"pre_tags":            []string{""},
			"post_tags":           []string{""},
		}
	case mapping.FieldNames:
		return Map{
			"type":                "plain",
			"number_of_fragments": 3,
			"max_analyzed_offset": 999999,
			"pre_tags":            []string{""},
			"post_tags":           []string{""},
		}
	}
	h := Map{
		"type":                "plain",
		"fragment_size":       150,
		"number_of_fragments": 1,
	}
	if highlightQuery != nil {
		h["highlight_query"] = highlightQuery
	}
	return h
}

// EntitiesHighlight is the highlight section of an entities search:
// free text, stored content with translated fragments under their own key,
// and the name keywords.
func EntitiesHighlight(highlightQuery Map) Map {
	return Map{
		"require_field_match": false,
		"fields": Map{
			mapping.FieldText:        Highlighter(mapping.FieldText, highlightQuery, 0),
			mapping.FieldContent:     Highlighter(mapping.FieldContent, highlightQuery, 0),
			mapping.FieldTranslation: Highlighter(mapping.FieldTranslation, highlightQuery, 0),
			mapping.FieldNames:       Highlighter(mapping.FieldNames, nil, 0),
		},
	}
}
