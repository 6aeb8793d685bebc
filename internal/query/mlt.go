package query

import (
	"github.com/openaleph/openaleph-search/internal/ftm"
	"github.com/openaleph/openaleph-search/internal/mapping"
)

// Fallback MLT knobs for callers without a parser.
const (
	mltFallbackMinDocFreq         = 2
	mltFallbackMinimumShouldMatch = "20%"
	mltFallbackMinTermFreq        = 2
	mltFallbackMaxQueryTerms      = 50
)

// MoreLikeThisClause extends a boolean query with a more_like_this clause
// over the stored entity document: similar text content, boosted name
// matches, excluding the entity itself and bare page fragments.
func MoreLikeThisClause(parser *Parser, entity *ftm.Entity, datasets []string, query Map) Map {
	if entity == nil || entity.ID == "" {
		return NoneQuery(query)
	}
	if query == nil {
		query = BoolQuery()
	}

	appendClause(query, "must_not", Map{"ids": Map{"values": []string{entity.ID}}})
	if len(datasets) > 0 {
		appendClause(query, "filter", Map{"terms": Map{mapping.FieldDataset: datasets}})
	}

	minDocFreq := mltFallbackMinDocFreq
	minimumShouldMatch := mltFallbackMinimumShouldMatch
	minTermFreq := mltFallbackMinTermFreq
	maxQueryTerms := mltFallbackMaxQueryTerms
	if parser != nil {
		minDocFreq = parser.MLTMinDocFreq()
		minimumShouldMatch = parser.MLTMinimumShouldMatch()
		minTermFreq = parser.MLTMinTermFreq()
		maxQueryTerms = parser.MLTMaxQueryTerms()
	}

	appendClause(query, "must", Map{
		"more_like_this": Map{
			"fields":               []string{mapping.FieldContent, mapping.FieldName + "^2"},
			"like":                 []interface{}{Map{"_id": entity.ID}},
			"min_term_freq":        minTermFreq,
			"max_query_terms":      maxQueryTerms,
			"min_doc_freq":         minDocFreq,
			"minimum_should_match": minimumShouldMatch,
			// min_word_length filters out short stopwords, max_doc_freq
			// very common terms.
			"min_word_length": 5,
			"max_doc_freq":    500,
			"boost_terms":     1,
		},
	})

	// Child pages would swamp the results with near-identical fragments.
	appendClause(query, "must_not", Map{"term": Map{mapping.FieldSchema: "Page"}})
	return query
}
