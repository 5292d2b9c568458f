// Package account exposes wallet balances and a connectivity probe
// against the futures account endpoints.
package account

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Client interface {
	Balance(ctx context.Context) (any, error)
	AccountInfo(ctx context.Context) (map[string]any, error)
}

type Balance struct {
	AccountAlias       string `json:"accountAlias"`
	Asset              string `json:"asset"`
	Balance            string `json:"balance"`
	CrossWalletBalance string `json:"crossWalletBalance"`
	CrossUnPnl         string `json:"crossUnPnl"`
	AvailableBalance   string `json:"availableBalance"`
	MaxWithdrawAmount  string `json:"maxWithdrawAmount"`
}

type Service struct {
	client Client
	ttl    time.Duration
	log    *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	balances  []Balance
	fetchedAt time.Time
}

func NewService(client Client, ttl time.Duration, log *zap.Logger) *Service {
	return &Service{client: client, ttl: ttl, log: log, now: time.Now}
}

// Balances returns wallet balances, optionally filtered to one asset.
// Zero-balance assets are dropped unless an asset is named explicitly.
func (s *Service) Balances(ctx context.Context, asset string) ([]Balance, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))

	s.mu.Lock()
	cached := s.balances
	fresh := cached != nil && s.now().Sub(s.fetchedAt) < s.ttl
	s.mu.Unlock()

	if !fresh {
		data, err := s.client.Balance(ctx)
		if err != nil {
			return nil, err
		}
		cached = parseBalances(data)
		s.mu.Lock()
		s.balances = cached
		s.fetchedAt = s.now()
		s.mu.Unlock()
	}

	if asset == "" {
		out := make([]Balance, 0, len(cached))
		for _, b := range cached {
			if isZero(b.Balance) && isZero(b.AvailableBalance) {
				continue
			}
			out = append(out, b)
		}
		return out, nil
	}
	for _, b := range cached {
		if b.Asset == asset {
			return []Balance{b}, nil
		}
	}
	return []Balance{}, nil
}

// Verify probes the signed account endpoint and reports whether the
// configured credentials can trade.
func (s *Service) Verify(ctx context.Context) (map[string]any, error) {
	info, err := s.client.AccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	summary := map[string]any{
		"canTrade":           boolField(info, "canTrade"),
		"totalWalletBalance": stringField(info, "totalWalletBalance", "0"),
		"availableBalance":   stringField(info, "availableBalance", "0"),
	}
	s.log.Info("account verified",
		zap.Any("canTrade", summary["canTrade"]),
		zap.Any("totalWalletBalance", summary["totalWalletBalance"]))
	return summary, nil
}

func parseBalances(data any) []Balance {
	items, ok := data.([]any)
	if !ok {
		return nil
	}
	balances := make([]Balance, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		balances = append(balances, Balance{
			AccountAlias:       stringField(entry, "accountAlias", ""),
			Asset:              stringField(entry, "asset", ""),
			Balance:            stringField(entry, "balance", "0"),
			CrossWalletBalance: stringField(entry, "crossWalletBalance", "0"),
			CrossUnPnl:         stringField(entry, "crossUnPnl", "0"),
			AvailableBalance:   stringField(entry, "availableBalance", "0"),
			MaxWithdrawAmount:  stringField(entry, "maxWithdrawAmount", "0"),
		})
	}
	return balances
}

func isZero(s string) bool {
	v, err := strconv.ParseFloat(s, 64)
	return err == nil && v == 0
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

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
