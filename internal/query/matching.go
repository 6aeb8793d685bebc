package query

import (
	"github.com/openaleph/openaleph-search/internal/ftm"
	"github.com/openaleph/openaleph-search/internal/mapping"
	"github.com/openaleph/openaleph-search/internal/names"
	"github.com/openaleph/openaleph-search/internal/transform"
)

// strongIDTypes are the identifier-like property types whose exact values
// are blocking signals on their own.
var strongIDTypes = []ftm.PropertyType{
	ftm.TypeIdentifier,
	ftm.TypeEmail,
	ftm.TypePhone,
	ftm.TypeChecksum,
}

// BlockingQuery restricts a match search to a bounded candidate set: any
// shared name key, phonetic form, name symbol or strong identifier, within
// the matchable schemata. Runs in filter context, so candidates carry no
// score from this clause. Entities without blocking signals, or with an
// unmatchable schema, compile to match_none.
func BlockingQuery(model *ftm.Model, entity *ftm.Entity) Map {
	schema := model.Get(entity.Schema)
	if schema == nil {
		return Map{"match_none": Map{}}
	}
	matchable := schema.MatchableNames()
	if len(matchable) == 0 {
		return Map{"match_none": Map{}}
	}

	entityNames := entity.Names(schema)
	var should []interface{}
	if keys := names.Keys(entityNames); len(keys) > 0 {
		should = append(should, Map{"terms": Map{mapping.FieldNameKeys: keys}})
	}
	if phonetics := names.Phonetics(entityNames); len(phonetics) > 0 {
		should = append(should, Map{"terms": Map{mapping.FieldNamePhonetic: phonetics}})
	}
	if symbols := transform.Symbols(schema, entityNames); len(symbols) > 0 {
		should = append(should, Map{"terms": Map{mapping.FieldNameSymbols: symbols}})
	}
	for _, t := range strongIDTypes {
		if values := entity.TypedValues(schema, t); len(values) > 0 {
			should = append(should, Map{"terms": Map{t.Group(): values}})
		}
	}
	if len(should) == 0 {
		return Map{"match_none": Map{}}
	}

	block := Map{
		"should":               should,
		"minimum_should_match": 1,
		"filter": []interface{}{
			Map{"terms": Map{mapping.FieldSchema: matchable}},
		},
	}
	if entity.ID != "" {
		block["must_not"] = []interface{}{
			Map{"ids": Map{"values": []string{entity.ID}}},
		}
	}
	return Map{"bool": block}
}

// ScoringClauses builds the rerank portion of a match query: per-field
// match clauses with boosts favoring names over identifiers over
// countries and addresses.
func ScoringClauses(model *ftm.Model, entity *ftm.Entity) []interface{} {
	schema := model.Get(entity.Schema)
	if schema == nil {
		return nil
	}
	var clauses []interface{}
	for _, name := range entity.Names(schema) {
		clauses = append(clauses, Map{
			"match": Map{mapping.FieldNames: Map{"query": name, "boost": 3.0}},
		})
	}
	for _, t := range strongIDTypes {
		for _, value := range entity.TypedValues(schema, t) {
			clauses = append(clauses, Map{
				"match": Map{t.Group(): Map{"query": value, "boost": 2.0}},
			})
		}
	}
	for _, value := range entity.TypedValues(schema, ftm.TypeAddress) {
		clauses = append(clauses, Map{
			"match": Map{ftm.TypeAddress.Group(): Map{"query": value}},
		})
	}
	for _, value := range entity.TypedValues(schema, ftm.TypeCountry) {
		clauses = append(clauses, Map{
			"match": Map{ftm.TypeCountry.Group(): Map{"query": value, "boost": 0.5}},
		})
	}
	return clauses
}

// MatchQuery composes candidate blocking and scoring into an existing
// boolean query. Datasets, when given, restrict the candidate datasets.
func MatchQuery(model *ftm.Model, entity *ftm.Entity, datasets []string, query Map) Map {
	if query == nil {
		query = BoolQuery()
	}
	block := BlockingQuery(model, entity)
	if _, none := block["match_none"]; none {
		return NoneQuery(query)
	}
	appendClause(query, "filter", block)
	if len(datasets) > 0 {
		appendClause(query, "filter", Map{"terms": Map{mapping.FieldDataset: datasets}})
	}
	for _, clause := range ScoringClauses(model, entity) {
		appendClause(query, "should", clause)
	}
	return query
}
