package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClient struct {
	balanceCalls int
	balance      any
	balanceErr   error
	info         map[string]any
	infoErr      error
}

func (f *fakeClient) Balance(ctx context.Context) (any, error) {
	f.balanceCalls++
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeClient) AccountInfo(ctx context.Context) (map[string]any, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func sampleBalances() any {
	return []any{
		map[string]any{
			"accountAlias": "SgsR", "asset": "USDT", "balance": "1250.50",
			"crossWalletBalance": "1250.50", "crossUnPnl": "0.00",
			"availableBalance": "1100.00", "maxWithdrawAmount": "1100.00",
		},
		map[string]any{
			"accountAlias": "SgsR", "asset": "BNB", "balance": "0.00000000",
			"crossWalletBalance": "0", "crossUnPnl": "0",
			"availableBalance": "0", "maxWithdrawAmount": "0",
		},
	}
}

func TestBalancesDropsZeroAssets(t *testing.T) {
	svc := NewService(&fakeClient{balance: sampleBalances()}, time.Second, zap.NewNop())

	balances, err := svc.Balances(context.Background(), "")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("expected only funded assets, got %d", len(balances))
	}
	if balances[0].Asset != "USDT" || balances[0].AvailableBalance != "1100.00" {
		t.Fatalf("unexpected balance: %+v", balances[0])
	}
}

func TestBalancesAssetFilterIncludesZero(t *testing.T) {
	svc := NewService(&fakeClient{balance: sampleBalances()}, time.Second, zap.NewNop())

	balances, err := svc.Balances(context.Background(), "bnb")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if len(balances) != 1 || balances[0].Asset != "BNB" {
		t.Fatalf("expected BNB row, got %+v", balances)
	}

	none, err := svc.Balances(context.Background(), "DOGE")
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty slice for unknown asset, got %+v", none)
	}
}

func TestBalancesCachedWithinTTL(t *testing.T) {
	client := &fakeClient{balance: sampleBalances()}
	svc := NewService(client, 5*time.Second, zap.NewNop())
	now := time.Unix(2000, 0)
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Balances(ctx, ""); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if client.balanceCalls != 1 {
		t.Fatalf("expected 1 upstream call within ttl, got %d", client.balanceCalls)
	}

	now = now.Add(6 * time.Second)
	if _, err := svc.Balances(ctx, ""); err != nil {
		t.Fatalf("after ttl: %v", err)
	}
	if client.balanceCalls != 2 {
		t.Fatalf("expected refetch after ttl, got %d", client.balanceCalls)
	}
}

func TestVerifySummarizesAccount(t *testing.T) {
	svc := NewService(&fakeClient{info: map[string]any{
		"canTrade": true, "totalWalletBalance": "1250.50", "availableBalance": "1100.00",
	}}, time.Second, zap.NewNop())

	summary, err := svc.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if summary["canTrade"] != true || summary["totalWalletBalance"] != "1250.50" {
		t.Fatalf("unexpected summary: %v", summary)
	}
}

func TestVerifyPropagatesError(t *testing.T) {
	svc := NewService(&fakeClient{infoErr: errors.New("denied")}, time.Second, zap.NewNop())
	if _, err := svc.Verify(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
