package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type recordingSink struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func newRecordingSink() *recordingSink {
	return &recordingSink{prices: make(map[string]decimal.Decimal)}
}

func (r *recordingSink) SetMarkPrice(symbol string, price decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[symbol] = price
}

func (r *recordingSink) get(symbol string) (decimal.Decimal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prices[symbol]
	return p, ok
}

func TestFeedAppliesMarkPriceUpdates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	subCh := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var sub map[string]any
		if err := json.Unmarshal(data, &sub); err == nil {
			select {
			case subCh <- sub:
			default:
			}
		}

		update := `{"e":"markPriceUpdate","E":1700000000000,"s":"BTCUSDT","p":"30123.45000000"}`
		if err := conn.Write(ctx, websocket.MessageText, []byte(update)); err != nil {
			return
		}
		<-ctx.Done()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, 0, zap.NewNop())
	sink := newRecordingSink()
	feed := NewMarkPriceFeed(client, sink, []string{"BTCUSDT"}, zap.NewNop())

	go func() { _ = feed.Run(ctx) }()

	select {
	case sub := <-subCh:
		if sub["method"] != "SUBSCRIBE" {
			t.Fatalf("expected SUBSCRIBE frame, got %v", sub)
		}
		params, _ := sub["params"].([]any)
		if len(params) != 1 || params[0] != "btcusdt@markPrice" {
			t.Fatalf("unexpected params: %v", params)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for subscribe frame")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if price, ok := sink.get("BTCUSDT"); ok {
			if price.String() != "30123.45" {
				t.Fatalf("unexpected price: %s", price)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("price never reached sink")
}

func TestFeedDefaultsToAllMarketStream(t *testing.T) {
	feed := NewMarkPriceFeed(New("ws://unused", time.Second, 0, zap.NewNop()), newRecordingSink(), nil, zap.NewNop())
	if len(feed.stream) != 1 || feed.stream[0] != allMarkPricesStream {
		t.Fatalf("unexpected streams: %v", feed.stream)
	}
}

func TestHandleBatchAndBadPayloads(t *testing.T) {
	sink := newRecordingSink()
	feed := NewMarkPriceFeed(New("ws://unused", time.Second, 0, zap.NewNop()), sink, nil, zap.NewNop())

	feed.handle(json.RawMessage(`[
		{"e":"markPriceUpdate","s":"ETHUSDT","p":"2000.10"},
		{"e":"markPriceUpdate","s":"BTCUSDT","p":"-1"},
		{"e":"kline","s":"BTCUSDT","p":"5"}
	]`))
	feed.handle(json.RawMessage(`{"result":null,"id":1}`))
	feed.handle(json.RawMessage(`not json`))

	if _, ok := sink.get("BTCUSDT"); ok {
		t.Fatal("negative price should be dropped")
	}
	price, ok := sink.get("ETHUSDT")
	if !ok || price.String() != "2000.1" {
		t.Fatalf("expected ETHUSDT 2000.1, got %v %v", price, ok)
	}
}
