package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/openaleph-search/internal/client"
	"github.com/openaleph/openaleph-search/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header: http.Header{
			"Content-Type":      []string{"application/json"},
			"X-Elastic-Product": []string{"Elasticsearch"},
		},
		Body: io.NopCloser(strings.NewReader(body)),
	}
}

func infoResponse() *http.Response {
	return jsonResponse(200, `{"version":{"number":"8.14.0"}}`)
}

func stubIngester(t *testing.T, fn roundTripFunc) *Ingester {
	t.Helper()
	pool := client.NewPool(config.Get())
	pool.Transport = fn
	return New(pool)
}

// bulkReply echoes a bulk request as an item-level response: deletes come
// back 404, the id "bad" fails with 400, everything else is created.
func bulkReply(r *http.Request) string {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return `{}`
	}
	var items []map[string]interface{}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for i := 0; i < len(lines); i++ {
		meta := map[string]map[string]interface{}{}
		if err := json.Unmarshal([]byte(lines[i]), &meta); err != nil {
			return `{}`
		}
		for op, fields := range meta {
			id, _ := fields["_id"].(string)
			status := 201
			switch {
			case op == "delete":
				status = 404
			case id == "bad":
				status = 400
			}
			items = append(items, map[string]interface{}{
				op: map[string]interface{}{
					"_id":    id,
					"_index": fields["_index"],
					"status": status,
				},
			})
			if op != "delete" {
				i++
			}
		}
	}
	reply, err := json.Marshal(map[string]interface{}{"errors": true, "items": items})
	if err != nil {
		return `{}`
	}
	return string(reply)
}

func TestBulkActionsChunkedFanOut(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	var (
		mu        sync.Mutex
		bulkCalls int
	)
	ing := stubIngester(t, func(r *http.Request) (*http.Response, error) {
		switch {
		case r.URL.Path == "/":
			return infoResponse(), nil
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			mu.Lock()
			bulkCalls++
			mu.Unlock()
			return jsonResponse(200, bulkReply(r)), nil
		}
		return jsonResponse(404, `{}`), nil
	})

	var actions []*Action
	for _, id := range []string{"a", "b", "bad", "d", "e"} {
		actions = append(actions, &Action{
			ID:     id,
			Index:  "openaleph-entity-things-v1",
			Source: map[string]interface{}{"schema": "Person"},
		})
	}
	actions = append(actions, &Action{
		ID:    "gone",
		Index: "openaleph-entity-things-v1",
		Op:    OpDelete,
	})

	var progressed int
	result, err := ing.BulkSlice(context.Background(), actions, &BulkOptions{
		ChunkSize:      2,
		MaxConcurrency: 2,
		Progress:       func(n int) { progressed += n },
	})
	require.NoError(t, err)

	// Four good writes plus the tolerated delete-404; "bad" is the failure.
	assert.Equal(t, 5, result.Success)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, bulkCalls, "six actions at chunk size two")
	assert.Equal(t, 6, progressed)
}

func TestBulkActionsFatalAbort(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	ing := stubIngester(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/" {
			return infoResponse(), nil
		}
		return jsonResponse(500, `{"error":{"reason":"boom"}}`), nil
	})

	actions := []*Action{
		{ID: "a", Index: "idx", Source: map[string]interface{}{}},
		{ID: "b", Index: "idx", Source: map[string]interface{}{}},
	}
	result, err := ing.BulkSlice(context.Background(), actions, &BulkOptions{ChunkSize: 2})
	require.Error(t, err)
	assert.Equal(t, 0, result.Success)
	assert.Equal(t, 2, result.Failed, "the aborted chunk counts as failed")
}

func TestReapDuplicates(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	keepPath := "/openaleph-entity-pages-v1/_search"
	probePath := "/openaleph-entity-documents-v1/_search"
	deletePath := "/openaleph-entity-documents-v1/_delete_by_query"
	duplicates := map[string]bool{"p1": true, "p3": true}

	var (
		mu          sync.Mutex
		probeCalls  int
		deleteCalls int
	)
	ing := stubIngester(t, func(r *http.Request) (*http.Response, error) {
		switch {
		case r.URL.Path == "/":
			return infoResponse(), nil
		case r.URL.Path == keepPath:
			return jsonResponse(200, `{
				"_scroll_id": "cursor-1",
				"hits": {"total": {"value": 3}, "hits": [
					{"_id": "p1"}, {"_id": "p2"}, {"_id": "p3"}
				]}
			}`), nil
		case r.URL.Path == "/_search/scroll" && r.Method != http.MethodDelete:
			return jsonResponse(200, `{"_scroll_id": "cursor-1", "hits": {"hits": []}}`), nil
		case r.URL.Path == "/_search/scroll":
			return jsonResponse(200, `{"succeeded": true}`), nil
		case r.URL.Path == probePath:
			mu.Lock()
			probeCalls++
			mu.Unlock()
			data, _ := io.ReadAll(r.Body)
			var hits []string
			for id := range duplicates {
				if strings.Contains(string(data), `"`+id+`"`) {
					hits = append(hits, `{"_id": "`+id+`"}`)
				}
			}
			return jsonResponse(200, `{"hits": {"hits": [`+strings.Join(hits, ",")+`]}}`), nil
		case r.URL.Path == deletePath:
			mu.Lock()
			deleteCalls++
			mu.Unlock()
			return jsonResponse(200, `{"deleted": 1}`), nil
		}
		return jsonResponse(404, `{}`), nil
	})

	stats, err := ing.ReapDuplicates(context.Background(), &ReaperOptions{
		BatchSize: 2,
		Execute:   true,
		Sync:      true,
	})
	require.NoError(t, err)

	// Three scanned ids at batch size two: one full batch, one remainder.
	assert.Equal(t, 2, probeCalls)
	assert.Equal(t, 2, deleteCalls)
	assert.Equal(t, 2, stats.Found)
	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, 0, stats.Errors)
}

func TestReapDuplicatesDryRun(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	var deleteCalls int
	ing := stubIngester(t, func(r *http.Request) (*http.Response, error) {
		switch {
		case r.URL.Path == "/":
			return infoResponse(), nil
		case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
			deleteCalls++
			return jsonResponse(200, `{"deleted": 1}`), nil
		case r.URL.Path == "/openaleph-entity-pages-v1/_search":
			return jsonResponse(200, `{
				"_scroll_id": "cursor-1",
				"hits": {"hits": [{"_id": "p1"}]}
			}`), nil
		case r.URL.Path == "/openaleph-entity-documents-v1/_search":
			return jsonResponse(200, `{"hits": {"hits": [{"_id": "p1"}]}}`), nil
		case r.URL.Path == "/_search/scroll" && r.Method != http.MethodDelete:
			return jsonResponse(200, `{"hits": {"hits": []}}`), nil
		}
		return jsonResponse(200, `{}`), nil
	})

	stats, err := ing.ReapDuplicates(context.Background(), &ReaperOptions{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Found)
	assert.Equal(t, 0, stats.Deleted, "the default is a dry run")
	assert.Equal(t, 0, deleteCalls)
}

func TestBulkIndexingModeRestoresOnError(t *testing.T) {
	config.Set(config.Default())
	defer config.Reset()

	var (
		mu        sync.Mutex
		putBodies []string
	)
	ing := stubIngester(t, func(r *http.Request) (*http.Response, error) {
		switch {
		case r.URL.Path == "/":
			return infoResponse(), nil
		case strings.HasSuffix(r.URL.Path, "/_settings"):
			data, _ := io.ReadAll(r.Body)
			mu.Lock()
			putBodies = append(putBodies, string(data))
			mu.Unlock()
			return jsonResponse(200, `{"acknowledged": true}`), nil
		}
		return jsonResponse(404, `{}`), nil
	})

	boom := errors.New("ingest blew up")
	err := ing.WithBulkIndexingMode(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.Len(t, putBodies, 2)
	assert.Contains(t, putBodies[0], `"translog.durability":"async"`)
	assert.Contains(t, putBodies[0], `"number_of_replicas":"0"`)
	assert.Contains(t, putBodies[1], `"translog.durability":"request"`)
	assert.Contains(t, putBodies[1], `"refresh_interval":"1s"`)
}
