package query

import "sort"

// Map is shorthand for a JSON object under construction.
type Map = map[string]interface{}

// BoolQuery returns the empty boolean skeleton every compiled query
// starts from.
func BoolQuery() Map {
	return Map{
		"bool": Map{
			"should":   []interface{}{},
			"filter":   []interface{}{},
			"must":     []interface{}{},
			"must_not": []interface{}{},
		},
	}
}

// NoneQuery appends a match_none clause, turning the query into one that
// can never match. A nil query starts from the empty skeleton.
func NoneQuery(query Map) Map {
	if query == nil {
		query = BoolQuery()
	}
	appendClause(query, "must", Map{"match_none": Map{}})
	return query
}

// appendClause adds a clause to one of the bool occurrence slots.
func appendClause(query Map, slot string, clause interface{}) {
	b := query["bool"].(Map)
	b[slot] = append(b[slot].([]interface{}), clause)
}

// FieldFilterQuery compiles an equality filter. Id fields route to an ids
// query; single values use term, multiple use terms.
func FieldFilterQuery(field string, values []string) Map {
	if len(values) == 0 {
		return Map{"match_all": Map{}}
	}
	if field == "_id" || field == "id" {
		return Map{"ids": Map{"values": values}}
	}
	if len(values) == 1 {
		return Map{"term": Map{field: values[0]}}
	}
	return Map{"terms": Map{field: values}}
}

// RangeFilterQuery compiles a range filter from op→value bounds.
func RangeFilterQuery(field string, ops map[string]string) Map {
	return Map{"range": Map{field: ops}}
}

func sortedStrings(values []string) []string {
	sort.Strings(values)
	return values
}

func stringsToInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
