// Package leverage remembers the last leverage applied per symbol so
// repeated identical-leverage orders cost zero exchange calls.
// Leverage-set calls have their own exchange rate-limit budget.
package leverage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"futures-gateway/internal/metrics"
	"futures-gateway/internal/state"

	"go.uber.org/zap"
)

type Client interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) (map[string]any, error)
}

type entry struct {
	applied int
	at      time.Time
}

type Manager struct {
	client  Client
	ttl     time.Duration
	store   state.Store
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]entry
}

// New builds a manager. store may be nil; when present the applied
// leverage survives restarts so a freshly booted gateway does not
// re-issue changes the exchange already has.
func New(client Client, ttl time.Duration, store state.Store, log *zap.Logger) *Manager {
	return &Manager{
		client:  client,
		ttl:     ttl,
		store:   store,
		log:     log,
		metrics: metrics.NewNoop(),
		now:     time.Now,
		cache:   make(map[string]entry),
	}
}

func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	if mt != nil {
		m.metrics = mt
	}
}

// Ensure makes the exchange's leverage for symbol equal to leverage,
// issuing a change call only when the cached value is stale or differs.
func (m *Manager) Ensure(ctx context.Context, symbol string, leverage int) error {
	if current, ok := m.cached(ctx, symbol); ok && current == leverage {
		m.metrics.LeverageSkipped.Inc()
		return nil
	}

	resp, err := m.client.SetLeverage(ctx, symbol, leverage)
	if err != nil {
		return err
	}
	applied := leverage
	if v, ok := leverageFromResponse(resp); ok {
		applied = v
	}
	now := m.now()
	m.mu.Lock()
	m.cache[symbol] = entry{applied: applied, at: now}
	m.mu.Unlock()
	m.persist(ctx, symbol, applied, now)
	m.metrics.LeverageCalls.Inc()
	m.log.Debug("leverage applied", zap.String("symbol", symbol), zap.Int("leverage", applied))
	return nil
}

func (m *Manager) cached(ctx context.Context, symbol string) (int, bool) {
	m.mu.Lock()
	e, ok := m.cache[symbol]
	m.mu.Unlock()
	if !ok {
		e, ok = m.load(ctx, symbol)
		if ok {
			m.mu.Lock()
			m.cache[symbol] = e
			m.mu.Unlock()
		}
	}
	if !ok {
		return 0, false
	}
	if m.now().Sub(e.at) >= m.ttl {
		return 0, false
	}
	return e.applied, true
}

func (m *Manager) persist(ctx context.Context, symbol string, applied int, at time.Time) {
	if m.store == nil {
		return
	}
	value := fmt.Sprintf("%d,%d", applied, at.UnixMilli())
	if err := m.store.Set(ctx, storeKey(symbol), value); err != nil {
		m.log.Warn("failed to persist leverage state", zap.String("symbol", symbol), zap.Error(err))
	}
}

func (m *Manager) load(ctx context.Context, symbol string) (entry, bool) {
	if m.store == nil {
		return entry{}, false
	}
	raw, ok, err := m.store.Get(ctx, storeKey(symbol))
	if err != nil || !ok {
		return entry{}, false
	}
	appliedStr, atStr, ok := strings.Cut(raw, ",")
	if !ok {
		return entry{}, false
	}
	applied, err := strconv.Atoi(appliedStr)
	if err != nil {
		return entry{}, false
	}
	atMS, err := strconv.ParseInt(atStr, 10, 64)
	if err != nil {
		return entry{}, false
	}
	return entry{applied: applied, at: time.UnixMilli(atMS)}, true
}

func storeKey(symbol string) string {
	return "leverage:" + symbol
}

// leverageFromResponse reads the applied value back from the exchange,
// falling back to the request when the field is absent.
func leverageFromResponse(resp map[string]any) (int, bool) {
	switch v := resp["leverage"].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}
