// Package client maintains the Elasticsearch connection pool. Clients are
// created lazily per role: queries go to the search role, bulk writes may be
// pointed at dedicated ingest nodes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/logger"
	"github.com/openaleph/openaleph-search/internal/resilience"
)

// Role selects the endpoint set a client talks to.
type Role string

const (
	RoleSearch Role = "search"
	RoleIngest Role = "ingest"
)

// Client wraps one Elasticsearch connection for a role.
type Client struct {
	ES   *elasticsearch.Client
	role Role
	log  logger.Logger
}

// Pool hands out lazily connected per-role clients. Safe for concurrent use.
type Pool struct {
	settings *config.Settings
	// Transport overrides the HTTP transport, used by tests to stub the
	// backend.
	Transport http.RoundTripper

	mu      sync.Mutex
	clients map[Role]*Client
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
	defaultPoolMu   sync.Mutex
)

// NewPool creates a pool over the given settings.
func NewPool(settings *config.Settings) *Pool {
	return &Pool{settings: settings, clients: map[Role]*Client{}}
}

// Default returns the process-wide pool over the global settings.
func Default() *Pool {
	defaultPoolMu.Lock()
	defer defaultPoolMu.Unlock()
	defaultPoolOnce.Do(func() {
		defaultPool = NewPool(config.Get())
	})
	return defaultPool
}

// ResetDefault discards the process-wide pool. Intended for tests.
func ResetDefault() {
	defaultPoolMu.Lock()
	defer defaultPoolMu.Unlock()
	defaultPool = nil
	defaultPoolOnce = sync.Once{}
}

// Search returns the connected search-role client.
func (p *Pool) Search(ctx context.Context) (*Client, error) {
	return p.get(ctx, RoleSearch, p.settings.SearchURLs())
}

// Ingest returns the connected ingest-role client, which may share the
// search endpoints when no dedicated ingest URL is configured.
func (p *Pool) Ingest(ctx context.Context) (*Client, error) {
	return p.get(ctx, RoleIngest, p.settings.IngestURLs())
}

func (p *Pool) get(ctx context.Context, role Role, urls []string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[role]; ok {
		return c, nil
	}
	c, err := p.connect(ctx, role, urls)
	if err != nil {
		return nil, err
	}
	p.clients[role] = c
	return c, nil
}

// esConfig maps the connection settings onto the backend client config.
// The test transport override wins over the configured request timeout.
func (p *Pool) esConfig(urls []string) elasticsearch.Config {
	es := p.settings.Elasticsearch
	transport := p.Transport
	if transport == nil && es.Timeout > 0 {
		transport = &http.Transport{ResponseHeaderTimeout: es.Timeout}
	}
	cfg := elasticsearch.Config{
		Addresses:     urls,
		RetryOnStatus: []int{502, 503, 504},
		MaxRetries:    es.MaxRetries,
		Transport:     transport,
	}
	if es.RetryOnTimeout {
		cfg.RetryOnError = func(_ *http.Request, err error) bool {
			var netErr net.Error
			return errors.As(err, &netErr) && netErr.Timeout()
		}
	}
	return cfg
}

func (p *Pool) connect(ctx context.Context, role Role, urls []string) (*Client, error) {
	log := logger.New("client").WithFields(logger.String("role", string(role)))
	es, err := elasticsearch.NewClient(p.esConfig(urls))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	client := &Client{ES: es, role: role, log: log}

	// The backend may still be starting up; keep pinging with a fixed
	// delay before giving up.
	attempts := p.settings.Elasticsearch.ConnectAttempts
	delay := p.settings.Elasticsearch.ConnectDelay
	for attempt := 1; ; attempt++ {
		err = client.Ping(ctx)
		if err == nil {
			break
		}
		if attempt >= attempts {
			return nil, fmt.Errorf("backend not reachable after %d attempts: %w", attempt, err)
		}
		log.Warn("Backend not reachable, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.String("error", err.Error()))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	log.Info("Connected to Elasticsearch", logger.Strings("nodes", maskURLs(urls)))
	return client, nil
}

// Close drops all connected clients so the next use reconnects.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients = map[Role]*Client{}
}

// Ping checks that the backend answers the info endpoint.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.ES.Info(c.ES.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to reach backend: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return statusError(res.StatusCode, res.Body)
	}
	return nil
}

// maskURLs removes credentials from endpoint URLs for logging.
func maskURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			out = append(out, raw)
			continue
		}
		if u.User != nil {
			u.User = url.User("***")
		}
		out = append(out, u.String())
	}
	return out
}

// EncodeBody serializes a query body once, at the edge.
func EncodeBody(body map[string]interface{}) (io.Reader, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return &buf, nil
}

func statusError(status int, body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return &resilience.StatusError{Status: status, Message: strings.TrimSpace(string(data))}
}

// CheckResponse drains and closes an API response, mapping error statuses
// onto a StatusError the retry policy can classify.
func CheckResponse(res *esapi.Response) error {
	defer res.Body.Close()
	if res.IsError() {
		return statusError(res.StatusCode, res.Body)
	}
	io.Copy(io.Discard, res.Body)
	return nil
}

// DecodeResponse decodes a successful API response into v and closes it.
func DecodeResponse(res *esapi.Response, v interface{}) error {
	defer res.Body.Close()
	if res.IsError() {
		return statusError(res.StatusCode, res.Body)
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
