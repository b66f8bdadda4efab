// Package attribution looks up the known entity behind a deployer
// address from the external attribution service, grounded on
// original_source/arkham_client.py and arkham_client_async.py: a
// token-bucket rate limit, an in-memory TTL cache including negative
// results, and (the Go-native upgrade over the Python client's plain
// dict cache) request coalescing via singleflight so concurrent lookups
// of the same address share one HTTP round trip.
package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chainwatch/contract-monitor/internal/config"
	"github.com/chainwatch/contract-monitor/internal/errs"
	"github.com/chainwatch/contract-monitor/internal/logging"
)

// Entity is the resolved attribution for an address. Lookup returns a nil
// *Entity when the service has no information on file.
type Entity struct {
	Name *string
	ID   *string
}

// Client queries the attribution service, rate-limited, cached, and
// request-coalesced.
type Client struct {
	cfg    config.AttributionConfig
	http   *http.Client
	limiter *tokenBucket
	group  singleflight.Group

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	entity    *Entity
	expiresAt time.Time
}

// New builds a Client from cfg.
func New(cfg config.AttributionConfig) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: newTokenBucket(float64(cfg.RatePerSec), float64(cfg.RatePerSec)),
		cache:   make(map[string]cacheEntry),
	}
}

// Lookup resolves the entity behind address on chain, using the cache
// (including cached "no information" results) before making a network
// call. Concurrent lookups of the same key share one in-flight request.
func (c *Client) Lookup(ctx context.Context, chain, address string) (*Entity, error) {
	key := cacheKey(chain, address)

	if e, ok := c.fromCache(key); ok {
		logging.Logger().Info("attribution cache hit", "chain", chain, "address", address, "found", e != nil)
		return e, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.fetch(ctx, chain, address)
	})
	if err != nil {
		return nil, err
	}
	entity, _ := v.(*Entity)
	logAttributionOutcome(chain, address, entity)
	return entity, nil
}

func logAttributionOutcome(chain, address string, entity *Entity) {
	if entity == nil {
		logging.Logger().Info("no entity found", "chain", chain, "address", address)
		return
	}
	name := ""
	if entity.Name != nil {
		name = *entity.Name
	}
	logging.Logger().Info("address belongs to entity", "chain", chain, "address", address, "entity", name)
}

func cacheKey(chain, address string) string {
	return chain + ":" + address
}

func (c *Client) fromCache(key string) (*Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.entity, true
}

func (c *Client) storeCache(key string, e *Entity) {
	c.mu.Lock()
	c.cache[key] = cacheEntry{entity: e, expiresAt: time.Now().Add(c.cfg.CacheTTL)}
	c.mu.Unlock()
}

// fetch performs the rate-limited HTTP round trip, with a single retry
// on transient network failure and Retry-After-aware handling of 429.
func (c *Client) fetch(ctx context.Context, chain, address string) (*Entity, error) {
	key := cacheKey(chain, address)

	c.limiter.wait(ctx)

	entity, err := c.request(ctx, chain, address)
	if err != nil {
		logging.Logger().Warn("attribution request failed, retrying once", "chain", chain, "address", address, "error", err)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.limiter.wait(ctx)
		entity, err = c.request(ctx, chain, address)
		if err != nil {
			return nil, errs.NewTransportError("attribution_lookup", err)
		}
	}

	c.storeCache(key, entity)
	return entity, nil
}

type addressResponse struct {
	ArkhamEntity *entityFields `json:"arkhamEntity"`
	Entity       *entityFields `json:"entity"`
	ArkhamLabel  *entityFields `json:"arkhamLabel"`
}

type entityFields struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func (r addressResponse) extract() *Entity {
	for _, f := range []*entityFields{r.ArkhamEntity, r.Entity, r.ArkhamLabel} {
		if f == nil {
			continue
		}
		name, id := f.Name, f.ID
		return &Entity{Name: &name, ID: &id}
	}
	return nil
}

// request performs one HTTP round trip, honoring a 429 Retry-After
// header with a single additional wait-and-retry.
func (c *Client) request(ctx context.Context, chain, address string) (*Entity, error) {
	url := fmt.Sprintf("%s/intelligence/address/%s?chain=%s", c.cfg.BaseURL, address, chain)
	resp, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp.Header.Get("Retry-After"))
		logging.Logger().Warn("attribution rate limited, backing off", "chain", chain, "address", address, "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		resp2, err := c.doRequest(ctx, url)
		if err != nil {
			return nil, err
		}
		defer resp2.Body.Close()
		return decodeAddressResponse(resp2)
	}

	return decodeAddressResponse(resp)
}

func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("API-Key", c.cfg.Token)
	return c.http.Do(req)
}

func decodeAddressResponse(resp *http.Response) (*Entity, error) {
	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		var parsed addressResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, err
		}
		return parsed.extract(), nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("attribution service returned status %d", resp.StatusCode)
	}
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 2 * time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 2 * time.Second
}

// tokenBucket is a simple rate limiter, grounded on the teacher's
// utils.RateLimiter (token bucket, mutex-protected, blocking Wait).
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastUpdate time.Time
}

func newTokenBucket(rate, capacity float64) *tokenBucket {
	return &tokenBucket{rate: rate, capacity: capacity, tokens: capacity, lastUpdate: time.Now()}
}

func (t *tokenBucket) allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(t.lastUpdate).Seconds()
	t.tokens = minFloat(t.capacity, t.tokens+elapsed*t.rate)
	t.lastUpdate = now
	if t.tokens >= 1 {
		t.tokens--
		return true
	}
	return false
}

func (t *tokenBucket) wait(ctx context.Context) {
	for !t.allow() {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
