// Package xref stores and retrieves cross-reference match results: for an
// entity in one dataset, the candidate matches found in others.
package xref

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/openaleph/openaleph-search/internal/client"
	"github.com/openaleph/openaleph-search/internal/ftm"
	"github.com/openaleph/openaleph-search/internal/index"
	"github.com/openaleph/openaleph-search/internal/indexer"
	"github.com/openaleph/openaleph-search/internal/logger"
	"github.com/openaleph/openaleph-search/internal/mapping"
	"github.com/openaleph/openaleph-search/internal/query"
)

var log = logger.New("xref")

// MaxNames caps the number of names copied into the match text blob.
const MaxNames = 30

// Match is one scored candidate pair: an entity and its potential
// duplicate in another dataset.
type Match struct {
	Entity       *ftm.Entity
	Match        *ftm.Entity
	MatchDataset string
	Score        float64
	Doubt        float64
	Method       string
	EntitySetIDs []string
}

// Configure creates or reconciles the xref index.
func Configure(ctx context.Context, pool *client.Pool) error {
	m := map[string]interface{}{
		"date_detection": false,
		"dynamic":        false,
		"properties": map[string]interface{}{
			"score":         mapping.Float(),
			"doubt":         mapping.Float(),
			"method":        mapping.Keyword(),
			"random":        mapping.Integer(),
			"entity_id":     mapping.Keyword(),
			"dataset":       mapping.Keyword(),
			"entityset_ids": mapping.Keyword(),
			"match_id":      mapping.Keyword(),
			"match_dataset": mapping.Keyword(),
			"countries":     mapping.Keyword(),
			"schema":        mapping.Keyword(),
			"text":          mapping.Text(),
			"created_at":    mapping.Date(),
		},
	}
	return index.Configure(ctx, pool, index.XrefIndex(), m, index.Settings())
}

// matchID derives the stable document id of a match pair, so re-running a
// cross-reference overwrites instead of duplicating.
func matchID(entityID, dataset, candidateID string) string {
	h := sha1.New()
	h.Write([]byte(entityID))
	h.Write([]byte{0})
	h.Write([]byte(dataset))
	h.Write([]byte{0})
	h.Write([]byte(candidateID))
	return hex.EncodeToString(h.Sum(nil))
}

// action converts one match into an index action.
func action(dataset string, match *Match, now string, model *ftm.Model) (*indexer.Action, error) {
	if match.Entity == nil || match.Match == nil {
		return nil, fmt.Errorf("incomplete match record")
	}
	entitySchema := model.Get(match.Entity.Schema)
	matchSchema := model.Get(match.Match.Schema)
	if entitySchema == nil || matchSchema == nil {
		return nil, fmt.Errorf("unknown schema on match pair %s/%s",
			match.Entity.Schema, match.Match.Schema)
	}

	text := stringSet{}
	text.add(match.Entity.Caption(entitySchema))
	text.add(match.Match.Caption(matchSchema))
	text.addAll(capped(match.Entity.Names(entitySchema), MaxNames))
	text.addAll(capped(match.Match.Names(matchSchema), MaxNames))

	countries := stringSet{}
	countries.addAll(match.Entity.TypedValues(entitySchema, ftm.TypeCountry))
	countries.addAll(match.Match.TypedValues(matchSchema, ftm.TypeCountry))

	return &indexer.Action{
		ID:    matchID(match.Entity.ID, dataset, match.Match.ID),
		Index: index.XrefIndex(),
		Source: map[string]interface{}{
			"score":  match.Score,
			"doubt":  match.Doubt,
			"method": match.Method,
			// Deprecated review ordering, kept until doubt replaces it.
			"random":        1 + rand.Int31n(1<<31-1),
			"entity_id":     match.Entity.ID,
			"schema":        match.Match.Schema,
			"dataset":       dataset,
			"entityset_ids": emptyList(match.EntitySetIDs),
			"match_id":      match.Match.ID,
			"match_dataset": match.MatchDataset,
			"countries":     countries.sorted(),
			"text":          text.sorted(),
			"created_at":    now,
		},
	}, nil
}

// IndexMatches writes match records through the bulk pipeline. Records
// with unknown schemata are skipped with a warning.
func IndexMatches(ctx context.Context, ing *indexer.Ingester, dataset string, matches []*Match, sync bool) (*indexer.BulkResult, error) {
	model := ftm.Default()
	now := time.Now().UTC().Format("2006-01-02T15:04:05")
	actions := make([]*indexer.Action, 0, len(matches))
	for _, match := range matches {
		a, err := action(dataset, match, now, model)
		if err != nil {
			log.Warn("Skipping invalid match record",
				logger.String("dataset", dataset),
				logger.String("error", err.Error()))
			continue
		}
		actions = append(actions, a)
	}
	return ing.BulkSlice(ctx, actions, &indexer.BulkOptions{Sync: sync})
}

// IterMatches scans all stored matches of a dataset visible to the caller.
// Scan order is undefined.
func IterMatches(ctx context.Context, ing *indexer.Ingester, dataset string, auth *query.SearchAuth, fn func(client.Result) error) error {
	q := map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"dataset": dataset}},
				auth.DatasetsQuery("match_dataset"),
			},
		},
	}
	opts := &indexer.ScanOptions{Excludes: query.XrefSourceExcludes}
	return ing.Scan(ctx, index.XrefIndex(), q, opts, func(hit *client.Hit) error {
		result, err := hit.Unpack()
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}
		return fn(result)
	})
}

// Delete removes the matches of a whole dataset, or of a single entity
// when entityID is given, on either side of the pair.
func Delete(ctx context.Context, ing *indexer.Ingester, dataset, entityID string, sync bool) error {
	shoulds := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"dataset": dataset}},
		map[string]interface{}{"term": map[string]interface{}{"match_dataset": dataset}},
	}
	if entityID != "" {
		shoulds = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"entity_id": entityID}},
			map[string]interface{}{"term": map[string]interface{}{"match_id": entityID}},
		}
	}
	q := map[string]interface{}{
		"bool": map[string]interface{}{
			"should":               shoulds,
			"minimum_should_match": 1,
		},
	}
	return ing.QueryDelete(ctx, index.XrefIndex(), q, sync)
}

func capped(values []string, limit int) []string {
	if len(values) > limit {
		return values[:limit]
	}
	return values
}

func emptyList(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type stringSet map[string]bool

func (s stringSet) add(value string) {
	if value != "" {
		s[value] = true
	}
}

func (s stringSet) addAll(values []string) {
	for _, value := range values {
		s.add(value)
	}
}

func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s))
	for value := range s {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
