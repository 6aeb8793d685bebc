package query

import (
	"fmt"

	"github.com/openaleph/openaleph-search/internal/ftm"
	"github.com/openaleph/openaleph-search/internal/index"
	"github.com/openaleph/openaleph-search/internal/indexer"
	"github.com/openaleph/openaleph-search/internal/mapping"
)

// ScoreCutoff hides low-confidence xref matches from score-ordered
// listings.
const ScoreCutoff = 0.5

// XrefSourceExcludes strips the match text blob from xref listings.
var XrefSourceExcludes = []string{
	mapping.FieldText, "countries", "entityset_ids",
}

// NewEntitiesQuery builds the standard entity search.
func NewEntitiesQuery(parser *Parser) *Query {
	q := &Query{
		Kind:   KindEntities,
		Parser: parser,
		model:  ftm.Default(),
		TextFields: []string{
			mapping.FieldName + "^4",
			mapping.FieldNames + "^3",
			mapping.FieldText,
		},
		PrefixField:   mapping.FieldNameParts,
		SkipFilters:   []string{mapping.FieldSchema, mapping.FieldSchemata},
		Source:        Map{"includes": indexer.ProxyIncludes},
		AuthzField:    mapping.FieldDataset,
		FunctionScore: true,
	}
	q.indexFn = entitiesIndex
	return q
}

// entitiesIndex narrows the read indexes by the schema filters: an exact
// schema filter skips descendant expansion, a schemata filter expands,
// everything else searches the Thing subtree.
func entitiesIndex(q *Query) (string, error) {
	if schemata := q.Parser.FilterValues(mapping.FieldSchema); len(schemata) > 0 {
		return index.EntitiesReadIndex(schemata, false)
	}
	schemata := q.Parser.FilterValues(mapping.FieldSchemata)
	if len(schemata) == 0 {
		schemata = []string{"Thing"}
	}
	return index.EntitiesReadIndex(schemata, true)
}

// NewMatchQuery finds the entities most similar to the given one:
// blocking keys restrict the candidates, scoring clauses rank them.
func NewMatchQuery(parser *Parser, entity *ftm.Entity, exclude, datasets []string) *Query {
	q := NewEntitiesQuery(parser)
	q.Kind = KindMatch
	q.indexFn = func(q *Query) (string, error) {
		// A Company can match another Company or a LegalEntity, never a
		// Person; unmatchable schemata like real estate match nothing.
		schema := q.model.Get(entity.Schema)
		if schema == nil {
			return "", fmt.Errorf("unknown schema: %q", entity.Schema)
		}
		matchable := schema.MatchableNames()
		if len(matchable) == 0 {
			matchable = []string{entity.Schema}
		}
		return index.EntitiesReadIndex(matchable, true)
	}
	q.queryFn = func(q *Query, query Map) Map {
		query = MatchQuery(q.model, entity, datasets, query)
		if len(exclude) > 0 {
			appendClause(query, "must_not", Map{"ids": Map{"values": exclude}})
		}
		return query
	}
	return q
}

// NewGeoDistanceQuery finds entities near an address with coordinates,
// ordered by distance.
func NewGeoDistanceQuery(parser *Parser, entity *ftm.Entity, exclude []string) *Query {
	q := NewEntitiesQuery(parser)
	q.Kind = KindGeoDistance
	valid := entity != nil &&
		entity.First("latitude") != "" && entity.First("longitude") != ""
	q.queryFn = func(q *Query, query Map) Map {
		if !valid {
			return NoneQuery(query)
		}
		ids := append(append([]string{}, exclude...), entity.ID)
		appendClause(query, "must_not", Map{"ids": Map{"values": ids}})
		appendClause(query, "must", Map{"exists": Map{"field": mapping.FieldGeoPoint}})
		return query
	}
	q.sortFn = func(q *Query) []interface{} {
		if !valid {
			return nil
		}
		return []interface{}{
			Map{
				"_geo_distance": Map{
					mapping.FieldGeoPoint: Map{
						"lat": entity.First("latitude"),
						"lon": entity.First("longitude"),
					},
					"order": "asc",
					"unit":  "km",
					"mode":  "min",
					// Plane distance is inaccurate across poles but much
					// faster; addresses cluster locally.
					"distance_type": "plane",
				},
			},
		}
	}
	return q
}

// NewXrefQuery lists stored cross-reference matches for a dataset.
func NewXrefQuery(parser *Parser, dataset string) *Query {
	parser.Highlight = false
	q := &Query{
		Kind:        KindXref,
		Parser:      parser,
		model:       ftm.Default(),
		TextFields:  []string{mapping.FieldText},
		AuthzField:  "match_dataset",
		SortDefault: []interface{}{Map{"score": Map{"order": "desc"}}},
		SortFields: map[string]string{
			"random": "random",
			"doubt":  "doubt",
			"score":  "_score",
		},
		Source: Map{"excludes": XrefSourceExcludes},
	}
	q.indexFn = func(*Query) (string, error) {
		return index.XrefIndex(), nil
	}
	q.filtersFn = func(q *Query, filters []interface{}) []interface{} {
		filters = append(filters, Map{"term": Map{mapping.FieldDataset: dataset}})
		// Random and doubt orderings are review modes that must surface
		// low-confidence matches too.
		for _, clause := range q.Parser.Sorts {
			if clause.Field == "random" || clause.Field == "doubt" {
				return filters
			}
		}
		return append(filters, Map{
			"range": Map{"score": Map{"gt": ScoreCutoff}},
		})
	}
	return q
}

// NewMoreLikeThisQuery finds documents textually similar to the given one.
func NewMoreLikeThisQuery(parser *Parser, entity *ftm.Entity, datasets []string) *Query {
	q := NewEntitiesQuery(parser)
	q.Kind = KindMoreLikeThis
	q.indexFn = func(*Query) (string, error) {
		return index.EntitiesReadIndex([]string{"Document"}, true)
	}
	q.queryFn = func(q *Query, query Map) Map {
		return MoreLikeThisClause(q.Parser, entity, datasets, query)
	}
	return q
}
