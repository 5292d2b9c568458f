package app

import (
	"path/filepath"
	"testing"

	"futures-gateway/internal/audit"
	"futures-gateway/internal/config"

	"go.uber.org/zap"
)

func TestBuildAuditSinkEmptyConfigIsNoop(t *testing.T) {
	sink, pg, err := buildAuditSink(config.AuditConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("buildAuditSink: %v", err)
	}
	if pg != nil {
		t.Fatal("no postgres sink expected")
	}
	if _, ok := sink.(audit.Noop); !ok {
		t.Fatalf("expected noop sink, got %T", sink)
	}
}

func TestBuildAuditSinkCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "trades.csv")
	sink, _, err := buildAuditSink(config.AuditConfig{CSVPath: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("buildAuditSink: %v", err)
	}
	defer sink.Close()
	if _, ok := sink.(audit.Tee); !ok {
		t.Fatalf("expected tee sink, got %T", sink)
	}
}

func TestNewWiresApp(t *testing.T) {
	cfg := &config.Config{}
	cfg.State.SQLitePath = filepath.Join(t.TempDir(), "state.db")
	cfg.Binance.Testnet = true
	applyTestDefaults(cfg)

	application, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.store.Close()
	if application.server == nil || application.server.Handler == nil {
		t.Fatal("http server not wired")
	}
	if application.feed != nil {
		t.Fatal("ws feed should be disabled by default")
	}
}

func applyTestDefaults(cfg *config.Config) {
	// mirror of the loader defaults for configs built in tests
	if cfg.Binance.BaseURL == "" {
		cfg.Binance.BaseURL = "https://testnet.binancefuture.com"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 2
	}
	if cfg.Cache.MarkPriceCapacity == 0 {
		cfg.Cache.MarkPriceCapacity = 16
	}
	if cfg.Leverage.Max == 0 {
		cfg.Leverage.Max = 25
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:0"
	}
}
