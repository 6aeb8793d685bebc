package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/mapping"
)

// MaxPage is the deepest reachable pagination window.
const MaxPage = 9999

// Parser MLT knob defaults.
const (
	DefaultMLTMinDocFreq         = 5
	DefaultMLTMinimumShouldMatch = "60%"
	DefaultMLTMinTermFreq        = 5
	DefaultMLTMaxQueryTerms      = 50
)

var rangeOps = map[string]bool{"gt": true, "gte": true, "lt": true, "lte": true}

// Pair is one ordered query argument.
type Pair struct {
	Key   string
	Value string
}

// SortClause is one requested sort field with direction.
type SortClause struct {
	Field string
	Order string
}

// Parser holds a parsed search request. Repeated keys accumulate; filters
// and facets keep first-seen field order.
type Parser struct {
	Auth *SearchAuth

	Text   string
	Prefix string
	Offset int
	Limit  int

	Highlight     bool
	Dehydrate     bool
	Synonyms      bool
	IncludeFields []string

	Sorts []SortClause

	filterFields []string
	filters      map[string][]string
	excludes     map[string][]string
	ranges       map[string]map[string]string

	Facets           []string
	facetSize        map[string]int
	facetTotal       map[string]bool
	facetType        map[string]string
	facetInterval    map[string]string
	facetSignificant map[string]bool

	mlt map[string]string
}

// ParseArgs splits a raw URL query string into ordered pairs, keeping
// blank values.
func ParseArgs(args string) ([]Pair, error) {
	var pairs []Pair
	for _, part := range strings.Split(args, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("invalid query argument %q: %w", part, err)
		}
		value, err = url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("invalid query argument %q: %w", part, err)
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs, nil
}

// NewParser consumes ordered key/value pairs into a request. When the
// global auth mode is on, a request without an auth context is rejected.
func NewParser(pairs []Pair, auth *SearchAuth) (*Parser, error) {
	if config.Get().SearchAuth && auth == nil {
		return nil, fmt.Errorf("search request requires an authorization context")
	}
	p := &Parser{
		Auth:             auth,
		Limit:            20,
		filters:          map[string][]string{},
		excludes:         map[string][]string{},
		ranges:           map[string]map[string]string{},
		facetSize:        map[string]int{},
		facetTotal:       map[string]bool{},
		facetType:        map[string]string{},
		facetInterval:    map[string]string{},
		facetSignificant: map[string]bool{},
		mlt:              map[string]string{},
	}
	for _, pair := range pairs {
		if err := p.apply(pair.Key, pair.Value); err != nil {
			return nil, err
		}
	}
	if p.Offset+p.Limit > MaxPage {
		return nil, fmt.Errorf("pagination window exceeds %d results", MaxPage)
	}
	return p, nil
}

func (p *Parser) apply(key, value string) error {
	switch {
	case key == "q":
		p.Text = strings.TrimSpace(value)
	case key == "prefix":
		p.Prefix = strings.TrimSpace(value)
	case key == "offset":
		return setIntArg(&p.Offset, key, value)
	case key == "limit":
		return setIntArg(&p.Limit, key, value)
	case key == "highlight":
		p.Highlight = parseBool(value)
	case key == "dehydrate":
		p.Dehydrate = parseBool(value)
	case key == "synonyms":
		p.Synonyms = parseBool(value)
	case key == "include_fields":
		p.IncludeFields = appendUnique(p.IncludeFields, value)
	case key == "sort":
		field, order := value, "asc"
		if f, o, ok := strings.Cut(value, ":"); ok {
			field = f
			if o == "desc" {
				order = "desc"
			}
		}
		p.Sorts = append(p.Sorts, SortClause{Field: field, Order: order})
	case key == "facet":
		p.Facets = appendUnique(p.Facets, value)
	case strings.HasPrefix(key, "facet_size:"):
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", key, value)
		}
		p.facetSize[strings.TrimPrefix(key, "facet_size:")] = n
	case strings.HasPrefix(key, "facet_total:"):
		p.facetTotal[strings.TrimPrefix(key, "facet_total:")] = parseBool(value)
	case strings.HasPrefix(key, "facet_type:"):
		p.facetType[strings.TrimPrefix(key, "facet_type:")] = value
	case strings.HasPrefix(key, "facet_interval:"):
		p.facetInterval[strings.TrimPrefix(key, "facet_interval:")] = value
	case strings.HasPrefix(key, "facet_significant:"):
		p.facetSignificant[strings.TrimPrefix(key, "facet_significant:")] = parseBool(value)
	case strings.HasPrefix(key, "filter:"):
		return p.applyFilter(strings.TrimPrefix(key, "filter:"), value)
	case strings.HasPrefix(key, "exclude:"):
		field := strings.TrimPrefix(key, "exclude:")
		p.excludes[field] = appendUnique(p.excludes[field], value)
	case strings.HasPrefix(key, "mlt_"):
		p.mlt[key] = value
	}
	// Unrecognized keys are ignored so callers can mix in their own args.
	return nil
}

func (p *Parser) applyFilter(spec, value string) error {
	if op, field, ok := strings.Cut(spec, ":"); ok && rangeOps[op] {
		if p.ranges[field] == nil {
			p.ranges[field] = map[string]string{}
		}
		p.ranges[field][op] = value
		return nil
	}
	if _, seen := p.filters[spec]; !seen {
		p.filterFields = append(p.filterFields, spec)
	}
	p.filters[spec] = appendUnique(p.filters[spec], value)
	return nil
}

// FilterFields returns the equality-filtered fields in first-seen order.
func (p *Parser) FilterFields() []string {
	return p.filterFields
}

// FilterValues returns the accumulated values for one filtered field.
func (p *Parser) FilterValues(field string) []string {
	return p.filters[field]
}

// ExcludeFields returns the fields with negation filters.
func (p *Parser) ExcludeFields() []string {
	out := make([]string, 0, len(p.excludes))
	for field := range p.excludes {
		out = append(out, field)
	}
	return sortedStrings(out)
}

// ExcludeValues returns the negated values for one field.
func (p *Parser) ExcludeValues(field string) []string {
	return p.excludes[field]
}

// RangeFields returns the range-filtered fields.
func (p *Parser) RangeFields() []string {
	out := make([]string, 0, len(p.ranges))
	for field := range p.ranges {
		out = append(out, field)
	}
	return sortedStrings(out)
}

// RangeOps returns the op→bound map for one range-filtered field.
func (p *Parser) RangeOps(field string) map[string]string {
	return p.ranges[field]
}

// FacetSize returns the requested bucket count for a facet, default 20.
func (p *Parser) FacetSize(field string) int {
	if n, ok := p.facetSize[field]; ok {
		return n
	}
	return 20
}

// FacetTotal reports whether a cardinality aggregation was requested.
func (p *Parser) FacetTotal(field string) bool {
	return p.facetTotal[field]
}

// FacetInterval returns the calendar interval for a date facet, or "".
func (p *Parser) FacetInterval(field string) string {
	return p.facetInterval[field]
}

// FacetSignificant reports whether significant terms were requested.
func (p *Parser) FacetSignificant(field string) bool {
	return p.facetSignificant[field]
}

// RoutingKey returns the dataset to route the search to when exactly one
// dataset filter value is present, else "".
func (p *Parser) RoutingKey() string {
	datasets := p.filters[mapping.FieldDataset]
	if len(datasets) == 1 {
		return datasets[0]
	}
	return ""
}

// MLT knob accessors with parser-level defaults.

func (p *Parser) MLTMinDocFreq() int {
	return p.mltInt("mlt_min_doc_freq", DefaultMLTMinDocFreq)
}

func (p *Parser) MLTMinimumShouldMatch() string {
	if v, ok := p.mlt["mlt_minimum_should_match"]; ok && v != "" {
		return v
	}
	return DefaultMLTMinimumShouldMatch
}

func (p *Parser) MLTMinTermFreq() int {
	return p.mltInt("mlt_min_term_freq", DefaultMLTMinTermFreq)
}

func (p *Parser) MLTMaxQueryTerms() int {
	return p.mltInt("mlt_max_query_terms", DefaultMLTMaxQueryTerms)
}

func (p *Parser) mltInt(key string, fallback int) int {
	if v, ok := p.mlt[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func setIntArg(target *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid %s: %q", key, value)
	}
	*target = n
	return nil
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "true", "1", "yes", "on":
		return true
	}
	return false
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}
