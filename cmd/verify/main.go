// Command verify checks connectivity and credentials against the
// futures API without placing an order: it syncs the clock, reads the
// account, and prints balances.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"futures-gateway/internal/account"
	"futures-gateway/internal/binance/rest"
	"futures-gateway/internal/config"
	"futures-gateway/internal/logging"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://testnet.binancefuture.com"
	defaultTimeout = 10 * time.Second
	defaultEnvFile = ".env"
)

func main() {
	configPath := flag.String("config", "", "optional config path for REST settings")
	asset := flag.String("asset", "", "limit balance output to one asset")
	flag.Parse()

	if err := config.LoadEnv(defaultEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "info"}
	baseURL := defaultBaseURL
	timeout := defaultTimeout
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		logCfg = cfg.Log
		baseURL = cfg.Binance.BaseURL
		if cfg.Binance.Timeout > 0 {
			timeout = cfg.Binance.Timeout
		}
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	creds := rest.Credentials{APIKey: config.APIKey(), APISecret: config.APISecret()}
	if !creds.Configured() {
		fatal(fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required"))
	}

	client := rest.NewClient(baseURL, timeout, creds, rest.DefaultRetryPolicy(), log)
	ctx := context.Background()

	if err := client.SyncTime(ctx); err != nil {
		fatal(fmt.Errorf("time sync failed: %w", err))
	}
	if offset, ok := client.ClockOffset(); ok {
		fmt.Printf("clock offset: %s\n", offset)
	}

	accounts := account.NewService(client, time.Second, log)
	summary, err := accounts.Verify(ctx)
	if err != nil {
		fatal(fmt.Errorf("account verification failed: %w", err))
	}
	pretty, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Printf("account:\n%s\n", string(pretty))

	balances, err := accounts.Balances(ctx, *asset)
	if err != nil {
		fatal(fmt.Errorf("balance fetch failed: %w", err))
	}
	for _, b := range balances {
		fmt.Printf("balance: asset=%s wallet=%s available=%s unpnl=%s\n",
			b.Asset, b.Balance, b.AvailableBalance, b.CrossUnPnl)
	}
	if len(balances) == 0 {
		fmt.Println("no funded balances")
	}
	log.Info("verification complete", zap.String("base_url", baseURL))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
