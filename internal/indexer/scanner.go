package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openaleph/openaleph-search/internal/client"
	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/logger"
)

// scrollDuration parses a backend scroll keepalive like "5m".
func scrollDuration(value string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return 5 * time.Minute
}

// MaxPage is the deepest reachable result window.
const MaxPage = 9999

// ProxyIncludes is the source slice needed to rebuild an entity from a
// stored document.
var ProxyIncludes = []string{
	"schema", "properties", "dataset", "profile_id", "role_id",
	"mutable", "created_at", "updated_at",
}

// ScanOptions tunes a scroll iteration.
type ScanOptions struct {
	Scroll        string
	Size          int
	PreserveOrder bool
	Includes      []string
	Excludes      []string
	Sort          []interface{}
	// DocvalueFields re-attaches source-excluded fields to each hit.
	DocvalueFields []string
}

// Scan iterates every hit matching the query using the scroll API. The
// callback returning an error stops the iteration; the cursor is released
// on every exit path.
func (ing *Ingester) Scan(ctx context.Context, index string, query map[string]interface{}, opts *ScanOptions, fn func(hit *client.Hit) error) error {
	if opts == nil {
		opts = &ScanOptions{}
	}
	scroll := opts.Scroll
	if scroll == "" {
		scroll = config.Get().Xref.Scroll
	}
	size := opts.Size
	if size <= 0 {
		size = config.Get().Xref.ScrollSize
	}

	c, err := ing.pool.Search(ctx)
	if err != nil {
		return err
	}

	body := map[string]interface{}{
		"query": query,
		"_source": map[string]interface{}{
			"includes": emptyStrings(opts.Includes),
			"excludes": emptyStrings(opts.Excludes),
		},
	}
	if len(opts.Sort) > 0 {
		body["sort"] = opts.Sort
	} else if !opts.PreserveOrder {
		body["sort"] = []interface{}{"_doc"}
	}
	if len(opts.DocvalueFields) > 0 {
		body["docvalue_fields"] = opts.DocvalueFields
	}
	reader, err := client.EncodeBody(body)
	if err != nil {
		return err
	}
	res, err := c.ES.Search(
		c.ES.Search.WithContext(ctx),
		c.ES.Search.WithIndex(index),
		c.ES.Search.WithScroll(scrollDuration(scroll)),
		c.ES.Search.WithSize(size),
		c.ES.Search.WithBody(reader))
	if err != nil {
		return fmt.Errorf("scan search failed: %w", err)
	}
	var page client.SearchResponse
	if err := client.DecodeResponse(res, &page); err != nil {
		return err
	}
	scrollID := page.ScrollID
	defer ing.clearScroll(c, scrollID)

	for len(page.Hits.Hits) > 0 {
		for i := range page.Hits.Hits {
			if err := fn(&page.Hits.Hits[i]); err != nil {
				return err
			}
		}
		res, err := c.ES.Scroll(
			c.ES.Scroll.WithContext(ctx),
			c.ES.Scroll.WithScrollID(scrollID),
			c.ES.Scroll.WithScroll(scrollDuration(scroll)))
		if err != nil {
			return fmt.Errorf("scroll failed: %w", err)
		}
		page = client.SearchResponse{}
		if err := client.DecodeResponse(res, &page); err != nil {
			return err
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}
	return nil
}

// clearScroll releases a scroll cursor, detached from the caller's context
// so cancellation still cleans up.
func (ing *Ingester) clearScroll(c *client.Client, scrollID string) {
	if scrollID == "" {
		return
	}
	res, err := c.ES.ClearScroll(
		c.ES.ClearScroll.WithContext(context.Background()),
		c.ES.ClearScroll.WithScrollID(scrollID))
	if err != nil {
		log.Warn("Failed to clear scroll cursor", logger.String("error", err.Error()))
		return
	}
	res.Body.Close()
}

// IterEntities scans every entity of a dataset in the given read indexes,
// optionally restricted to a set of schema names. Hits are unpacked with
// the default entity projection.
func (ing *Ingester) IterEntities(ctx context.Context, index, dataset string, schemata []string, fn func(client.Result) error) error {
	filter := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"dataset": dataset}},
	}
	if len(schemata) > 0 {
		filter = append(filter, map[string]interface{}{
			"terms": map[string]interface{}{"schema": schemata},
		})
	}
	query := map[string]interface{}{
		"bool": map[string]interface{}{"filter": filter},
	}
	opts := &ScanOptions{Includes: ProxyIncludes}
	return ing.Scan(ctx, index, query, opts, func(hit *client.Hit) error {
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

// IterAdjacentEntities scans the entities whose properties reference the
// given entity id, scoped to the caller's visible datasets.
func (ing *Ingester) IterAdjacentEntities(ctx context.Context, index, entityID string, datasets []string, fn func(client.Result) error) error {
	filter := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"entities": entityID}},
	}
	if len(datasets) > 0 {
		filter = append(filter, map[string]interface{}{
			"terms": map[string]interface{}{"dataset": datasets},
		})
	}
	query := map[string]interface{}{
		"bool": map[string]interface{}{"filter": filter},
	}
	opts := &ScanOptions{Includes: ProxyIncludes}
	return ing.Scan(ctx, index, query, opts, func(hit *client.Hit) error {
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

// EntitiesByIDs fetches unpacked entities for the given ids, preserving
// the requested order. Default-projection lookups are served from the
// cache when one is attached.
func (ing *Ingester) EntitiesByIDs(ctx context.Context, index string, ids []string, includes, excludes []string) ([]client.Result, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	// Only the default projection is cacheable; custom source slices would
	// poison later callers.
	useCache := ing.Cache.Enabled() && includes == nil && excludes == nil
	requested := ids
	byID := map[string]client.Result{}
	if useCache {
		for id, doc := range ing.Cache.GetMany(ctx, index, ids) {
			byID[id] = client.Result(doc)
		}
		missing := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := byID[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 {
			return orderedResults(requested, byID), nil
		}
		ids = missing
	}

	c, err := ing.pool.Search(ctx)
	if err != nil {
		return nil, err
	}
	if includes == nil {
		includes = ProxyIncludes
	}
	body := map[string]interface{}{
		"query": map[string]interface{}{"ids": map[string]interface{}{"values": ids}},
		"_source": map[string]interface{}{
			"includes": emptyStrings(includes),
			"excludes": emptyStrings(excludes),
		},
		"size": MaxPage,
	}
	reader, err := client.EncodeBody(body)
	if err != nil {
		return nil, err
	}
	res, err := c.ES.Search(
		c.ES.Search.WithContext(ctx),
		c.ES.Search.WithIndex(index),
		c.ES.Search.WithBody(reader))
	if err != nil {
		return nil, fmt.Errorf("ids search failed: %w", err)
	}
	var decoded client.SearchResponse
	if err := client.DecodeResponse(res, &decoded); err != nil {
		return nil, err
	}
	fetched := map[string]map[string]interface{}{}
	for i := range decoded.Hits.Hits {
		result, err := decoded.Hits.Hits[i].Unpack()
		if err != nil {
			return nil, err
		}
		if result != nil {
			byID[result.ID()] = result
			fetched[result.ID()] = result
		}
	}
	if useCache {
		ing.Cache.SetMany(ctx, index, fetched)
	}
	return orderedResults(requested, byID), nil
}

func orderedResults(ids []string, byID map[string]client.Result) []client.Result {
	out := make([]client.Result, 0, len(byID))
	for _, id := range ids {
		if result, ok := byID[id]; ok {
			out = append(out, result)
		}
	}
	return out
}

// GetEntity fetches one entity from the read indexes, or nil.
func (ing *Ingester) GetEntity(ctx context.Context, index, entityID string) (client.Result, error) {
	results, err := ing.EntitiesByIDs(ctx, index, []string{entityID}, nil, nil)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

// DeleteEntity removes an entity from every index it is stored in, except
// the excluded one. Used before re-indexing under a different schema.
func (ing *Ingester) DeleteEntity(ctx context.Context, readIndex, entityID, excludeIndex string, sync bool) error {
	results, err := ing.EntitiesByIDs(ctx, readIndex, []string{entityID}, nil, []string{"*"})
	if err != nil {
		return err
	}
	for _, result := range results {
		if result.IndexName() == excludeIndex {
			continue
		}
		if err := ing.DeleteSafe(ctx, result.IndexName(), entityID, sync); err != nil {
			return err
		}
	}
	return nil
}

// ChecksumsCount reports how many documents mention each checksum, via one
// msearch round trip.
func (ing *Ingester) ChecksumsCount(ctx context.Context, index string, checksums []string) (map[string]int, error) {
	if len(checksums) == 0 {
		return map[string]int{}, nil
	}
	c, err := ing.pool.Search(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, checksum := range checksums {
		header, _ := json.Marshal(map[string]interface{}{"index": index})
		query, err := json.Marshal(map[string]interface{}{
			"size":  0,
			"query": map[string]interface{}{"term": map[string]interface{}{"checksums": checksum}},
		})
		if err != nil {
			return nil, err
		}
		buf.Write(header)
		buf.WriteByte('\n')
		buf.Write(query)
		buf.WriteByte('\n')
	}
	res, err := c.ES.Msearch(&buf, c.ES.Msearch.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("msearch failed: %w", err)
	}
	var decoded client.MultiSearchResponse
	if err := client.DecodeResponse(res, &decoded); err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for i, response := range decoded.Responses {
		if i < len(checksums) {
			counts[checksums[i]] = response.Hits.Total.Value
		}
	}
	return counts, nil
}

func emptyStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
