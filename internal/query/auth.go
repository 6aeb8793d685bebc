// Package query parses URL-style parameter lists into typed requests and
// compiles them into backend query bodies.
package query

import "sort"

// SearchAuth scopes a request to the datasets a user may see.
type SearchAuth struct {
	Datasets map[string]bool
	LoggedIn bool
	IsAdmin  bool
}

// NewSearchAuth builds an auth context over a dataset list.
func NewSearchAuth(datasets []string, loggedIn, isAdmin bool) *SearchAuth {
	set := make(map[string]bool, len(datasets))
	for _, dataset := range datasets {
		set[dataset] = true
	}
	return &SearchAuth{Datasets: set, LoggedIn: loggedIn, IsAdmin: isAdmin}
}

// DatasetList returns the authorized datasets, sorted.
func (a *SearchAuth) DatasetList() []string {
	out := make([]string, 0, len(a.Datasets))
	for dataset := range a.Datasets {
		out = append(out, dataset)
	}
	sort.Strings(out)
	return out
}

// DatasetsQuery builds the authorization filter on a field. Admins see
// everything; an empty dataset set matches nothing.
func (a *SearchAuth) DatasetsQuery(field string) map[string]interface{} {
	return authDatasetsQuery(a.DatasetList(), field, a.IsAdmin)
}

func authDatasetsQuery(datasets []string, field string, isAdmin bool) map[string]interface{} {
	if isAdmin {
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}
	if len(datasets) == 0 {
		return map[string]interface{}{"match_none": map[string]interface{}{}}
	}
	return map[string]interface{}{"terms": map[string]interface{}{field: datasets}}
}
