package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"futures-gateway/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// allSymbolsKey caches the unfiltered premiumIndex payload.
const allSymbolsKey = "__ALL__"

const exchangeInfoKey = "exchangeInfo"

// Client is the slice of the exchange client the cache depends on.
type Client interface {
	ExchangeInfo(ctx context.Context) (map[string]any, error)
	MarkPrice(ctx context.Context, symbol string) (any, error)
}

type infoEntry struct {
	payload   map[string]any
	fetchedAt time.Time
}

type priceEntry struct {
	price     decimal.Decimal
	hasPrice  bool
	raw       any
	fetchedAt time.Time
}

// Cache keeps exchange-wide symbol metadata (large, changes rarely) and
// per-symbol mark prices (small, changes every call) fresh without
// hammering the exchange. Concurrent misses on the same key share one
// in-flight fetch.
type Cache struct {
	client   Client
	infoTTL  time.Duration
	priceTTL time.Duration
	priceCap int
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	flight singleflight.Group

	mu     sync.RWMutex
	info   *infoEntry
	prices map[string]priceEntry
}

func NewCache(client Client, infoTTL, priceTTL time.Duration, priceCap int, log *zap.Logger) *Cache {
	if priceCap < 1 {
		priceCap = 512
	}
	return &Cache{
		client:   client,
		infoTTL:  infoTTL,
		priceTTL: priceTTL,
		priceCap: priceCap,
		log:      log,
		metrics:  metrics.NewNoop(),
		now:      time.Now,
		prices:   make(map[string]priceEntry),
	}
}

func (c *Cache) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		c.metrics = m
	}
}

// ExchangeInfo returns the cached exchangeInfo payload, fetching at
// most once per TTL window regardless of caller concurrency.
func (c *Cache) ExchangeInfo(ctx context.Context) (map[string]any, error) {
	c.mu.RLock()
	entry := c.info
	c.mu.RUnlock()
	if entry != nil && c.now().Sub(entry.fetchedAt) < c.infoTTL {
		c.metrics.CacheHits.Inc()
		return entry.payload, nil
	}
	c.metrics.CacheMisses.Inc()

	payload, err, _ := c.flight.Do(exchangeInfoKey, func() (any, error) {
		c.mu.RLock()
		current := c.info
		c.mu.RUnlock()
		if current != nil && c.now().Sub(current.fetchedAt) < c.infoTTL {
			return current.payload, nil
		}
		info, err := c.client.ExchangeInfo(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.info = &infoEntry{payload: info, fetchedAt: c.now()}
		c.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return payload.(map[string]any), nil
}

// MarkPrice returns the current mark price for a symbol as an exact
// decimal, served from cache within the short TTL.
func (c *Cache) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if symbol == "" {
		return decimal.Zero, errors.New("symbol is required")
	}
	entry, err := c.markPriceEntry(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if entry.hasPrice {
		return entry.price, nil
	}
	price, err := priceFromPayload(entry.raw, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

// MarkPriceData returns the raw premiumIndex payload; with an empty
// symbol the whole-exchange array is cached under a sentinel key.
func (c *Cache) MarkPriceData(ctx context.Context, symbol string) (any, error) {
	entry, err := c.markPriceEntry(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return entry.raw, nil
}

// SetMarkPrice lets the stream feed push fresher prices than the REST
// TTL would allow.
func (c *Cache) SetMarkPrice(symbol string, price decimal.Decimal) {
	if symbol == "" {
		return
	}
	c.mu.Lock()
	c.prices[symbol] = priceEntry{price: price, hasPrice: true, fetchedAt: c.now()}
	c.evictLocked()
	c.mu.Unlock()
}

func (c *Cache) markPriceEntry(ctx context.Context, symbol string) (priceEntry, error) {
	key := symbol
	if key == "" {
		key = allSymbolsKey
	}
	c.mu.RLock()
	entry, ok := c.prices[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.priceTTL {
		c.metrics.CacheHits.Inc()
		return entry, nil
	}
	c.metrics.CacheMisses.Inc()

	fetched, err, _ := c.flight.Do("price:"+key, func() (any, error) {
		c.mu.RLock()
		current, ok := c.prices[key]
		c.mu.RUnlock()
		if ok && c.now().Sub(current.fetchedAt) < c.priceTTL {
			return current, nil
		}
		raw, err := c.client.MarkPrice(ctx, symbol)
		if err != nil {
			return priceEntry{}, err
		}
		fresh := priceEntry{raw: raw, fetchedAt: c.now()}
		if price, perr := priceFromPayload(raw, symbol); perr == nil {
			fresh.price = price
			fresh.hasPrice = true
		}
		c.mu.Lock()
		c.prices[key] = fresh
		c.evictLocked()
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return priceEntry{}, err
	}
	return fetched.(priceEntry), nil
}

// evictLocked drops the oldest entries once capacity is exceeded. The
// map stays small (hundreds of symbols) so a linear scan is fine.
func (c *Cache) evictLocked() {
	for len(c.prices) > c.priceCap {
		oldestKey := ""
		var oldestAt time.Time
		for key, entry := range c.prices {
			if oldestKey == "" || entry.fetchedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = entry.fetchedAt
			}
		}
		delete(c.prices, oldestKey)
	}
}

// priceFromPayload digs the markPrice out of either response shape:
// a single object when a symbol was requested, an array otherwise.
func priceFromPayload(payload any, symbol string) (decimal.Decimal, error) {
	switch val := payload.(type) {
	case map[string]any:
		return parsePrice(val)
	case []any:
		for _, item := range val {
			entry, ok := toMap(item)
			if !ok {
				continue
			}
			if symbol == "" || stringFromMap(entry, "symbol") == symbol {
				return parsePrice(entry)
			}
		}
	}
	return decimal.Zero, fmt.Errorf("mark price for %s not found in payload", symbol)
}

func parsePrice(entry map[string]any) (decimal.Decimal, error) {
	raw := stringFromMap(entry, "markPrice", "indexPrice")
	if raw == "" {
		return decimal.Zero, errors.New("markPrice missing from payload")
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse mark price %q: %w", raw, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("invalid mark price %s", price)
	}
	return price, nil
}
