package market

import (
	"context"
	"fmt"
	"strconv"
)

// Filters are the per-symbol trading rules an order must satisfy.
// String fields stay strings so sizing can parse them as exact
// decimals.
type Filters struct {
	Symbol            string
	StepSize          string
	MinQty            string
	MinNotional       string
	QuantityPrecision int
	PricePrecision    int
}

// SymbolMeta is the subset of exchangeInfo exposed to the symbols
// listing endpoint.
type SymbolMeta struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
}

// SymbolFilters extracts the LOT_SIZE and MIN_NOTIONAL rules plus the
// declared precisions for one symbol from the cached exchangeInfo.
func (c *Cache) SymbolFilters(ctx context.Context, symbol string) (Filters, error) {
	info, err := c.ExchangeInfo(ctx)
	if err != nil {
		return Filters{}, err
	}
	meta, ok := findSymbol(info, symbol)
	if !ok {
		return Filters{}, fmt.Errorf("symbol %s not found", symbol)
	}
	filters := Filters{
		Symbol:            symbol,
		StepSize:          "0.001",
		MinQty:            "0",
		MinNotional:       "0",
		QuantityPrecision: intFromMap(meta, 0, "quantityPrecision"),
		PricePrecision:    intFromMap(meta, 0, "pricePrecision"),
	}
	for _, raw := range listFromMap(meta, "filters") {
		entry, ok := toMap(raw)
		if !ok {
			continue
		}
		switch stringFromMap(entry, "filterType") {
		case "LOT_SIZE":
			if v := stringFromMap(entry, "stepSize"); v != "" {
				filters.StepSize = v
			}
			if v := stringFromMap(entry, "minQty"); v != "" {
				filters.MinQty = v
			}
		case "MIN_NOTIONAL":
			if v := stringFromMap(entry, "notional", "minNotional"); v != "" {
				filters.MinNotional = v
			}
		}
	}
	return filters, nil
}

// Symbols lists tradable USDT-quoted symbols.
func (c *Cache) Symbols(ctx context.Context) ([]SymbolMeta, error) {
	info, err := c.ExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	var out []SymbolMeta
	for _, raw := range listFromMap(info, "symbols") {
		meta, ok := toMap(raw)
		if !ok {
			continue
		}
		if stringFromMap(meta, "status") != "TRADING" {
			continue
		}
		quote := stringFromMap(meta, "quoteAsset")
		if quote != "USDT" {
			continue
		}
		name := stringFromMap(meta, "symbol")
		if name == "" {
			continue
		}
		out = append(out, SymbolMeta{
			Symbol:     name,
			BaseAsset:  stringFromMap(meta, "baseAsset"),
			QuoteAsset: quote,
		})
	}
	return out, nil
}

func findSymbol(info map[string]any, symbol string) (map[string]any, bool) {
	for _, raw := range listFromMap(info, "symbols") {
		meta, ok := toMap(raw)
		if !ok {
			continue
		}
		if stringFromMap(meta, "symbol") == symbol {
			return meta, true
		}
	}
	return nil, false
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func listFromMap(m map[string]any, key string) []any {
	list, _ := m[key].([]any)
	return list
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch val := m[key].(type) {
		case string:
			if val != "" {
				return val
			}
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return ""
}

func intFromMap(m map[string]any, fallback int, keys ...string) int {
	for _, key := range keys {
		switch val := m[key].(type) {
		case float64:
			return int(val)
		case int:
			return val
		case string:
			if n, err := strconv.Atoi(val); err == nil {
				return n
			}
		}
	}
	return fallback
}
