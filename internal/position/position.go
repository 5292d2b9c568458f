// Package position tracks open futures positions and closes them with
// reduce-only market orders.
package position

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"futures-gateway/internal/audit"

	"go.uber.org/zap"
)

type Client interface {
	PositionRisk(ctx context.Context, symbol string) (any, error)
	PlaceMarketOrder(ctx context.Context, symbol, side, quantity string, reduceOnly bool) (map[string]any, error)
}

type Position struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	Leverage         int    `json:"leverage"`
	UnrealizedProfit string `json:"unRealizedProfit"`
	MarginType       string `json:"marginType"`
}

type cacheEntry struct {
	positions []Position
	fetchedAt time.Time
}

type Service struct {
	client Client
	ttl    time.Duration
	sink   audit.Sink
	log    *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewService(client Client, ttl time.Duration, sink audit.Sink, log *zap.Logger) *Service {
	if sink == nil {
		sink = audit.Noop{}
	}
	return &Service{
		client: client,
		ttl:    ttl,
		sink:   sink,
		log:    log,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// Positions lists open positions, optionally filtered by symbol. The
// short cache absorbs UI polling; bypass forces a fresh read.
func (s *Service) Positions(ctx context.Context, symbol string, bypassCache bool) ([]Position, error) {
	key := cacheKey(symbol)
	if !bypassCache {
		s.mu.Lock()
		entry, ok := s.cache[key]
		s.mu.Unlock()
		if ok && s.now().Sub(entry.fetchedAt) < s.ttl {
			return entry.positions, nil
		}
	}

	data, err := s.client.PositionRisk(ctx, symbol)
	if err != nil {
		return nil, err
	}
	positions := parsePositions(data, s.log)

	s.mu.Lock()
	s.cache[key] = cacheEntry{positions: positions, fetchedAt: s.now()}
	s.mu.Unlock()
	return positions, nil
}

// Close flattens the position for symbol with a reduce-only market
// order in the opposite direction.
func (s *Service) Close(ctx context.Context, symbol, user string) (map[string]any, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	s.writeAudit(ctx, audit.Record{
		Symbol: symbol, Side: "CLOSE", Quantity: "0", OrderType: "CLOSE_POSITION",
		Status: "ATTEMPTING", Result: audit.ResultAttempting, User: user,
	})

	positions, err := s.Positions(ctx, symbol, true)
	if err != nil {
		s.auditCloseFailure(ctx, symbol, "CLOSE", "0", user, err)
		return nil, err
	}
	if len(positions) == 0 {
		err := fmt.Errorf("no active position for %s", symbol)
		s.auditCloseFailure(ctx, symbol, "CLOSE", "0", user, err)
		return nil, err
	}

	pos := positions[0]
	amt, err := strconv.ParseFloat(pos.PositionAmt, 64)
	if err != nil || amt == 0 {
		err := fmt.Errorf("no position amount for %s", symbol)
		s.auditCloseFailure(ctx, symbol, "CLOSE", "0", user, err)
		return nil, err
	}
	side := "SELL"
	if amt < 0 {
		side = "BUY"
	}
	quantity := strings.TrimPrefix(pos.PositionAmt, "-")

	result, err := s.client.PlaceMarketOrder(ctx, symbol, side, quantity, true)
	if err != nil {
		s.auditCloseFailure(ctx, symbol, side, quantity, user, err)
		return nil, err
	}

	s.writeAudit(ctx, audit.Record{
		Symbol: symbol, Side: side, Quantity: quantity, Leverage: pos.Leverage,
		OrderType: "CLOSE_POSITION", Status: "FILLED", Result: audit.ResultCompleted, User: user,
	})
	s.invalidate(symbol)
	return result, nil
}

func (s *Service) invalidate(symbol string) {
	s.mu.Lock()
	delete(s.cache, cacheKey(symbol))
	delete(s.cache, cacheKey(""))
	s.mu.Unlock()
}

func (s *Service) auditCloseFailure(ctx context.Context, symbol, side, quantity, user string, cause error) {
	s.writeAudit(ctx, audit.Record{
		Symbol: symbol, Side: side, Quantity: quantity, OrderType: "CLOSE_POSITION",
		Status: "FAILED", Result: audit.ResultFailed, Error: cause.Error(), User: user,
	})
}

func (s *Service) writeAudit(ctx context.Context, rec audit.Record) {
	rec.Time = s.now()
	if err := s.sink.Write(ctx, rec); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
}

func cacheKey(symbol string) string {
	if symbol == "" {
		return "positions:all"
	}
	return "positions:" + symbol
}

// parsePositions filters the positionRisk payload down to non-flat
// positions, skipping entries it cannot parse.
func parsePositions(data any, log *zap.Logger) []Position {
	items, ok := data.([]any)
	if !ok {
		return nil
	}
	positions := make([]Position, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		amtStr := stringField(entry, "positionAmt", "0")
		amt, err := strconv.ParseFloat(amtStr, 64)
		if err != nil {
			log.Warn("unparseable position entry", zap.String("positionAmt", amtStr))
			continue
		}
		if amt == 0 {
			continue
		}
		positions = append(positions, Position{
			Symbol:           stringField(entry, "symbol", ""),
			PositionAmt:      amtStr,
			EntryPrice:       stringField(entry, "entryPrice", "0"),
			Leverage:         intField(entry, "leverage"),
			UnrealizedProfit: stringField(entry, "unRealizedProfit", "0"),
			MarginType:       strings.ToLower(stringField(entry, "marginType", "cross")),
		})
	}
	return positions
}

func stringField(m map[string]any, key, fallback string) string {
	switch v := m[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fallback
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
