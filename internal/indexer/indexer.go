package indexer

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"golang.org/x/time/rate"

	"github.com/openaleph/openaleph-search/internal/cache"
	"github.com/openaleph/openaleph-search/internal/client"
	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/logger"
	"github.com/openaleph/openaleph-search/internal/metrics"
	"github.com/openaleph/openaleph-search/internal/resilience"
)

// MaxTimeout bounds long-running maintenance requests.
const MaxTimeout = "700m"

// maxLoggedFailures bounds per-chunk failure logging so mass failures do
// not become log storms.
const maxLoggedFailures = 10

var log = logger.New("indexer")

// BulkOptions tunes one bulk ingest run. Zero values fall back to the
// configured defaults.
type BulkOptions struct {
	ChunkSize      int
	MaxChunkBytes  int
	MaxConcurrency int
	// Sync requests refresh=true so the documents are visible when the
	// call returns.
	Sync bool
	// Progress, when set, receives the running count of flushed actions.
	Progress func(n int)
}

// BulkResult summarizes a completed ingest run.
type BulkResult struct {
	Success int
	Failed  int
	Took    time.Duration
}

// Ingester drives chunked bulk writes through the ingest-role client.
type Ingester struct {
	pool    *client.Pool
	limiter *rate.Limiter
	// Monitor, when set, tracks in-flight chunks for stall detection and
	// SIGUSR1 stack dumps.
	Monitor *Monitor
	// Cache, when set, serves repeated entity lookups from Redis.
	Cache *cache.Cache
}

// New creates an ingester over a connection pool, applying the configured
// document rate limit when one is set.
func New(pool *client.Pool) *Ingester {
	var limiter *rate.Limiter
	if rps := config.Get().Indexer.RateLimit; rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &Ingester{pool: pool, limiter: limiter}
}

// BulkActions consumes actions and writes them in chunks with bounded
// concurrency. Per-item failures are tolerated and counted; a bulk-level
// failure after retries aborts the stream. All submitted chunks have been
// attempted exactly once when the call returns without error.
func (ing *Ingester) BulkActions(ctx context.Context, actions <-chan *Action, opts *BulkOptions) (*BulkResult, error) {
	if opts == nil {
		opts = &BulkOptions{}
	}
	settings := config.Get()
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = settings.Indexer.ChunkSize
	}
	maxBytes := opts.MaxChunkBytes
	if maxBytes <= 0 {
		maxBytes = settings.Indexer.MaxChunkBytes
	}
	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = settings.Indexer.Concurrency
	}

	c, err := ing.pool.Ingest(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		success  int
		failed   int
		firstErr error
	)
	// Backpressure: producing another chunk blocks until a worker slot
	// frees up.
	slots := make(chan struct{}, concurrency)

	submit := func(chunk *chunk) {
		slots <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			ok, errs, err := ing.flushChunk(ctx, c, chunk, opts.Sync)
			mu.Lock()
			defer mu.Unlock()
			success += ok
			failed += errs
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if opts.Progress != nil {
				opts.Progress(chunk.count)
			}
		}()
	}

	current := newChunk()
	total := 0
producer:
	for {
		select {
		case <-ctx.Done():
			firstErr = ctx.Err()
			break producer
		case action, ok := <-actions:
			if !ok {
				break producer
			}
			if ing.limiter != nil {
				if err := ing.limiter.Wait(ctx); err != nil {
					firstErr = err
					break producer
				}
			}
			if err := current.add(action); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				log.Warn("Dropping unencodable action",
					logger.String("id", action.ID),
					logger.String("error", err.Error()))
				continue
			}
			total++
			if total%10000 == 0 {
				log.Info("Loading documents", logger.Int("count", total))
			}
			// Abort the producer once a chunk failed fatally.
			mu.Lock()
			fatal := firstErr != nil
			mu.Unlock()
			if fatal {
				break producer
			}
			if current.count >= chunkSize || current.buf.Len() >= maxBytes {
				submit(current)
				current = newChunk()
			}
		}
	}
	if current.count > 0 && firstErr == nil {
		submit(current)
	}
	wg.Wait()

	result := &BulkResult{Success: success, Failed: failed, Took: time.Since(start)}
	log.Info("Bulk indexing completed",
		logger.Int("success", result.Success),
		logger.Int("failed", result.Failed),
		logger.Duration("took", result.Took))
	if firstErr != nil {
		return result, firstErr
	}
	return result, nil
}

// BulkSlice indexes a fixed set of actions.
func (ing *Ingester) BulkSlice(ctx context.Context, actions []*Action, opts *BulkOptions) (*BulkResult, error) {
	ch := make(chan *Action, len(actions))
	for _, action := range actions {
		ch <- action
	}
	close(ch)
	return ing.BulkActions(ctx, ch, opts)
}

type chunk struct {
	buf   bytes.Buffer
	count int
	ops   []Op
}

func newChunk() *chunk {
	return &chunk{}
}

func (c *chunk) add(action *Action) error {
	if err := action.WriteNDJSON(&c.buf); err != nil {
		return err
	}
	op := action.Op
	if op == "" {
		op = OpIndex
	}
	c.ops = append(c.ops, op)
	c.count++
	return nil
}

// flushChunk sends one bulk request, retrying transient failures. Returns
// per-item success and failure counts; err is only set for fatal
// bulk-level failures.
func (ing *Ingester) flushChunk(ctx context.Context, c *client.Client, chunk *chunk, sync bool) (int, int, error) {
	started := time.Now()
	defer func() {
		metrics.ChunkDuration.Observe(time.Since(started).Seconds())
	}()
	if ing.Monitor != nil {
		done := ing.Monitor.Track(chunk.count)
		defer done()
	}

	var decoded bulkResponse
	payload := chunk.buf.Bytes()
	err := resilience.Retry(ctx, retryConfig(), func(ctx context.Context) error {
		res, err := c.ES.Bulk(bytes.NewReader(payload),
			c.ES.Bulk.WithContext(ctx),
			c.ES.Bulk.WithRefresh(refreshValue(sync)))
		if err != nil {
			return fmt.Errorf("bulk request failed: %w", err)
		}
		decoded = bulkResponse{}
		return client.DecodeResponse(res, &decoded)
	})
	if err != nil {
		log.Error("Bulk chunk failed",
			logger.Int("actions", chunk.count),
			logger.String("error", err.Error()))
		return 0, chunk.count, err
	}

	success, failures := 0, 0
	logged := 0
	for _, item := range decoded.Items {
		for op, result := range item {
			if result.Status < 400 {
				success++
				metrics.EntitiesIndexed.WithLabelValues(result.Index).Inc()
				continue
			}
			// Deleting an already-gone document is not an error.
			if Op(op) == OpDelete && result.Status == 404 {
				success++
				continue
			}
			failures++
			metrics.BulkFailures.WithLabelValues(result.Index).Inc()
			if logged < maxLoggedFailures {
				logged++
				log.Warn("Bulk item error",
					logger.String("op", op),
					logger.String("id", result.ID),
					logger.Int("status", result.Status),
					logger.String("error", string(result.Error)))
			}
		}
	}
	if failures > logged {
		log.Warn("Further bulk item errors truncated",
			logger.Int("failures", failures-logged))
	}
	return success, failures, nil
}

// IndexSafe writes a single document and retries until it is stored.
func (ing *Ingester) IndexSafe(ctx context.Context, index, id string, body map[string]interface{}, sync bool) error {
	c, err := ing.pool.Ingest(ctx)
	if err != nil {
		return err
	}
	return resilience.Retry(ctx, retryConfig(), func(ctx context.Context) error {
		reader, err := client.EncodeBody(body)
		if err != nil {
			return err
		}
		res, err := c.ES.Index(index, reader,
			c.ES.Index.WithContext(ctx),
			c.ES.Index.WithDocumentID(id),
			c.ES.Index.WithRefresh(refreshValue(sync)))
		if err != nil {
			return fmt.Errorf("index request failed: %w", err)
		}
		return client.CheckResponse(res)
	})
}

// DeleteSafe removes a single document, tolerating 404.
func (ing *Ingester) DeleteSafe(ctx context.Context, index, id string, sync bool) error {
	c, err := ing.pool.Search(ctx)
	if err != nil {
		return err
	}
	return resilience.Retry(ctx, retryConfig(), func(ctx context.Context) error {
		res, err := c.ES.Delete(index, id,
			c.ES.Delete.WithContext(ctx),
			c.ES.Delete.WithRefresh(refreshValue(sync)))
		if err != nil {
			return fmt.Errorf("delete request failed: %w", err)
		}
		defer res.Body.Close()
		if res.IsError() && res.StatusCode != 404 {
			return &resilience.StatusError{Status: res.StatusCode, Message: res.String()}
		}
		return nil
	})
}

// QueryDelete removes every document matching the query inside the index.
func (ing *Ingester) QueryDelete(ctx context.Context, index string, query map[string]interface{}, sync bool) error {
	c, err := ing.pool.Search(ctx)
	if err != nil {
		return err
	}
	settings := config.Get()
	return resilience.Retry(ctx, retryConfig(), func(ctx context.Context) error {
		body, err := client.EncodeBody(map[string]interface{}{"query": query})
		if err != nil {
			return err
		}
		refresh := settings.RefreshSync(sync)
		scrollSize := settings.Index.DeleteByQueryBatchSize
		req := esapi.DeleteByQueryRequest{
			Index:             []string{index},
			Body:              body,
			Conflicts:         "proceed",
			WaitForCompletion: &sync,
			Refresh:           &refresh,
			Timeout:           700 * time.Minute,
			ScrollSize:        intPtr(scrollSize),
		}
		res, err := req.Do(ctx, c.ES)
		if err != nil {
			return fmt.Errorf("delete_by_query failed: %w", err)
		}
		return client.CheckResponse(res)
	})
}

func retryConfig() *resilience.Config {
	cfg := resilience.DefaultConfig()
	cfg.MaxAttempts = config.Get().Elasticsearch.MaxRetries
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return cfg
}

// refreshValue maps the sync flag onto the bulk refresh parameter,
// honoring the global testing override.
func refreshValue(sync bool) string {
	if config.Get().RefreshSync(sync) {
		return "true"
	}
	return "false"
}

func intPtr(n int) *int { return &n }
