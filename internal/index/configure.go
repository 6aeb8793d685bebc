package index

import (
	"context"
	"fmt"
	"strconv"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/openaleph/openaleph-search/internal/client"
	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/ftm"
	"github.com/openaleph/openaleph-search/internal/logger"
	"github.com/openaleph/openaleph-search/internal/mapping"
)

// MaxTimeout is the request timeout for long-running index operations.
const MaxTimeout = "700m"

var log = logger.New("index")

// immutableKeys are mapping keys the backend refuses to change in place.
// Live values win over pending ones.
var immutableKeys = map[string]bool{
	"type":       true,
	"analyzer":   true,
	"normalizer": true,
	"index":      true,
	"store":      true,
}

// RewriteMappingSafe merges a pending mapping over the live one: immutable
// keys keep their live value, everything else is updated, and live keys
// absent from the pending mapping are retained. Returns a new tree.
func RewriteMappingSafe(pending, existing interface{}) interface{} {
	pendingMap, pendingOK := pending.(map[string]interface{})
	existingMap, existingOK := existing.(map[string]interface{})
	if !pendingOK || !existingOK {
		return pending
	}
	merged := make(map[string]interface{}, len(pendingMap)+len(existingMap))
	for key, value := range pendingMap {
		oldValue, hasOld := existingMap[key]
		value = RewriteMappingSafe(value, oldValue)
		if immutableKeys[key] && hasOld {
			if fmt.Sprintf("%v", value) != fmt.Sprintf("%v", oldValue) {
				log.Warn("Keeping immutable mapping key",
					logger.String("key", key),
					logger.Any("live", oldValue),
					logger.Any("pending", value))
			}
			value = oldValue
		}
		merged[key] = value
	}
	for key, value := range existingMap {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return merged
}

// SettingsChanged reports whether any updated setting differs from its live
// value. Updating settings requires a close/open cycle, so it is skipped
// when everything is already in effect.
func SettingsChanged(updated, existing interface{}) bool {
	updatedMap, updatedOK := updated.(map[string]interface{})
	existingMap, existingOK := existing.(map[string]interface{})
	if !updatedOK || !existingOK {
		return fmt.Sprintf("%v", updated) != fmt.Sprintf("%v", existing)
	}
	for key, value := range updatedMap {
		if SettingsChanged(value, existingMap[key]) {
			return true
		}
	}
	return false
}

// Settings builds the index-level settings body: shard topology, refresh
// interval and the shared analysis chain. Testing mode shrinks to a single
// shard so routing tests are deterministic.
func Settings() map[string]interface{} {
	cfg := config.Get()
	shards := cfg.Index.Shards
	replicas := cfg.Index.Replicas
	if cfg.Testing {
		shards = 1
		replicas = 0
	}
	return map[string]interface{}{
		"index": map[string]interface{}{
			"number_of_shards":   strconv.Itoa(shards),
			"number_of_replicas": strconv.Itoa(replicas),
			"refresh_interval":   cfg.Index.RefreshInterval,
			"analysis":           mapping.AnalysisSettings(),
			"similarity":         mapping.SimilaritySettings(),
		},
	}
}

// BucketMapping synthesizes the complete mapping of one bucket.
func BucketMapping(bucket Bucket) map[string]interface{} {
	model := ftm.Default()
	var schemata []*ftm.Schema
	for _, schema := range model.Schemata() {
		if !schema.Abstract && SchemaBucket(schema) == bucket {
			schemata = append(schemata, schema)
		}
	}
	schemaProps := mapping.SchemaMapping(schemata)
	return mapping.MakeMapping(model, schemaProps, bucket == BucketPages)
}

// Configure creates an index, or reconciles the live mapping and settings
// with the pending ones. The index is only closed and reopened when a real
// settings change exists.
func Configure(ctx context.Context, pool *client.Pool, index string, pending map[string]interface{}, settings map[string]interface{}) error {
	c, err := pool.Search(ctx)
	if err != nil {
		return err
	}
	exists, err := indexExists(ctx, c, index)
	if err != nil {
		return err
	}
	if !exists {
		log.Info("Creating index", logger.String("index", index))
		body, err := client.EncodeBody(map[string]interface{}{
			"settings": settings,
			"mappings": pending,
		})
		if err != nil {
			return err
		}
		res, err := c.ES.Indices.Create(index,
			c.ES.Indices.Create.WithContext(ctx),
			c.ES.Indices.Create.WithBody(body))
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", index, err)
		}
		return client.CheckResponse(res)
	}

	log.Info("Configuring index", logger.String("index", index))
	live, err := getIndexConfig(ctx, c, index)
	if err != nil {
		return err
	}

	// Shard count can never change on a live index.
	if indexSettings, ok := settings["index"].(map[string]interface{}); ok {
		delete(indexSettings, "number_of_shards")
	}
	if SettingsChanged(settings, live["settings"]) {
		if err := closePutOpenSettings(ctx, c, index, settings); err != nil {
			return err
		}
	}
	merged := RewriteMappingSafe(pending, live["mappings"])
	body, err := client.EncodeBody(merged.(map[string]interface{}))
	if err != nil {
		return err
	}
	res, err := c.ES.Indices.PutMapping([]string{index}, body,
		c.ES.Indices.PutMapping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to put mapping for %s: %w", index, err)
	}
	if err := client.CheckResponse(res); err != nil {
		return err
	}
	res, err = c.ES.Indices.Open([]string{index}, c.ES.Indices.Open.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to open index %s: %w", index, err)
	}
	return client.CheckResponse(res)
}

func indexExists(ctx context.Context, c *client.Client, index string) (bool, error) {
	res, err := c.ES.Indices.Exists([]string{index}, c.ES.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", index, err)
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

func getIndexConfig(ctx context.Context, c *client.Client, index string) (map[string]interface{}, error) {
	res, err := c.ES.Indices.Get([]string{index}, c.ES.Indices.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get index %s: %w", index, err)
	}
	var decoded map[string]map[string]interface{}
	if err := client.DecodeResponse(res, &decoded); err != nil {
		return nil, err
	}
	config, ok := decoded[index]
	if !ok {
		return map[string]interface{}{}, nil
	}
	return config, nil
}

func closePutOpenSettings(ctx context.Context, c *client.Client, index string, settings map[string]interface{}) error {
	res, err := c.ES.Indices.Close([]string{index},
		c.ES.Indices.Close.WithContext(ctx),
		c.ES.Indices.Close.WithIgnoreUnavailable(true))
	if err != nil {
		return fmt.Errorf("failed to close index %s: %w", index, err)
	}
	if err := client.CheckResponse(res); err != nil {
		return err
	}
	body, err := client.EncodeBody(settings)
	if err != nil {
		return err
	}
	res, err = c.ES.Indices.PutSettings(body,
		c.ES.Indices.PutSettings.WithContext(ctx),
		c.ES.Indices.PutSettings.WithIndex(index))
	if err != nil {
		return fmt.Errorf("failed to put settings for %s: %w", index, err)
	}
	return client.CheckResponse(res)
}

// PutSettings applies dynamic settings to a set of indexes in place.
func PutSettings(ctx context.Context, pool *client.Pool, indexes string, settings map[string]interface{}) error {
	c, err := pool.Search(ctx)
	if err != nil {
		return err
	}
	body, err := client.EncodeBody(settings)
	if err != nil {
		return err
	}
	res, err := c.ES.Indices.PutSettings(body,
		c.ES.Indices.PutSettings.WithContext(ctx),
		c.ES.Indices.PutSettings.WithIndex(indexes))
	if err != nil {
		return fmt.Errorf("failed to put settings for %s: %w", indexes, err)
	}
	return client.CheckResponse(res)
}

// ConfigureEntities reconciles every entity bucket at every read version.
func ConfigureEntities(ctx context.Context, pool *client.Pool) error {
	settings := config.Get()
	for _, bucket := range Buckets {
		pending := BucketMapping(bucket)
		for _, version := range settings.Index.Read {
			if err := Configure(ctx, pool, BucketIndex(bucket, version), pending, Settings()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete drops every known index.
func Delete(ctx context.Context, pool *client.Pool) error {
	c, err := pool.Search(ctx)
	if err != nil {
		return err
	}
	log.Warn("Deleting all indexes", logger.String("indexes", AllIndexes()))
	res, err := c.ES.Indices.Delete([]string{AllIndexes()},
		c.ES.Indices.Delete.WithContext(ctx),
		c.ES.Indices.Delete.WithIgnoreUnavailable(true))
	if err != nil {
		return fmt.Errorf("failed to delete indexes: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 && res.StatusCode != 400 {
		return client.CheckResponse(res)
	}
	return nil
}

// Clear removes every document from every known index but keeps the
// indexes themselves.
func Clear(ctx context.Context, pool *client.Pool) error {
	c, err := pool.Search(ctx)
	if err != nil {
		return err
	}
	body, err := client.EncodeBody(map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
	})
	if err != nil {
		return err
	}
	req := esapi.DeleteByQueryRequest{
		Index:             []string{AllIndexes()},
		Body:              body,
		Refresh:           boolPtr(true),
		WaitForCompletion: boolPtr(true),
		Conflicts:         "proceed",
		IgnoreUnavailable: boolPtr(true),
	}
	res, err := req.Do(ctx, c.ES)
	if err != nil {
		return fmt.Errorf("failed to clear indexes: %w", err)
	}
	return client.CheckResponse(res)
}

func boolPtr(b bool) *bool { return &b }
