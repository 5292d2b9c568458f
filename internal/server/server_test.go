package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"futures-gateway/internal/account"
	"futures-gateway/internal/binance/rest"
	"futures-gateway/internal/market"
	"futures-gateway/internal/order"
	"futures-gateway/internal/position"
	"futures-gateway/internal/sizing"

	"go.uber.org/zap"
)

type fakeTrader struct {
	lastReq order.Request
	result  order.Result
	err     error
}

func (f *fakeTrader) Place(ctx context.Context, req order.Request) (order.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return order.Result{}, f.err
	}
	return f.result, nil
}

type fakePositions struct {
	positions  []position.Position
	err        error
	lastBypass bool
	closeErr   error
}

func (f *fakePositions) Positions(ctx context.Context, symbol string, bypassCache bool) ([]position.Position, error) {
	f.lastBypass = bypassCache
	return f.positions, f.err
}

func (f *fakePositions) Close(ctx context.Context, symbol, user string) (map[string]any, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return map[string]any{"orderId": float64(1), "status": "FILLED"}, nil
}

type fakeAccounts struct {
	balances []account.Balance
	err      error
}

func (f *fakeAccounts) Balances(ctx context.Context, asset string) ([]account.Balance, error) {
	return f.balances, f.err
}

type fakeSymbols struct {
	symbols []market.SymbolMeta
}

func (f *fakeSymbols) Symbols(ctx context.Context) ([]market.SymbolMeta, error) {
	return f.symbols, nil
}

func newTestServer(trader *fakeTrader, token string) (*Server, *fakePositions) {
	positions := &fakePositions{}
	srv := New(trader, positions,
		&fakeAccounts{balances: []account.Balance{{Asset: "USDT", AvailableBalance: "100"}}},
		&fakeSymbols{symbols: []market.SymbolMeta{{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"}}},
		nil, token, zap.NewNop())
	return srv, positions
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestTradeHappyPath(t *testing.T) {
	trader := &fakeTrader{result: order.Result{
		OrderID: "123", Symbol: "BTCUSDT", Side: order.SideBuy,
		ExecutedQty: "0.003", AvgPrice: "30000", Status: "FILLED",
	}}
	srv, _ := newTestServer(trader, "")

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/trade", "",
		`{"symbol":"btcusdt","side":"buy","notional":100,"leverage":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["orderId"] != "123" || body["executedQty"] != "0.003" {
		t.Fatalf("unexpected body: %v", body)
	}
	if trader.lastReq.Notional.String() != "100" || trader.lastReq.Side != order.SideBuy {
		t.Fatalf("unexpected request passed through: %+v", trader.lastReq)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}
}

func TestTradeAcceptsStringNotional(t *testing.T) {
	trader := &fakeTrader{}
	srv, _ := newTestServer(trader, "")
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/trade", "",
		`{"symbol":"BTCUSDT","side":"SELL","notional":"250.50","leverage":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if trader.lastReq.Notional.String() != "250.5" {
		t.Fatalf("unexpected notional: %s", trader.lastReq.Notional)
	}
}

func TestTradeErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", &order.InvalidInputError{Field: "symbol", Message: "required"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"zero quantity", &sizing.RejectionError{Reason: sizing.ReasonZeroQuantity, Message: "too small"}, http.StatusBadRequest, "ZERO_QUANTITY"},
		{"min notional", &sizing.RejectionError{Reason: sizing.ReasonMinNotional, Message: "below floor"}, http.StatusBadRequest, "MIN_NOTIONAL_VIOLATION"},
		{"credentials missing", rest.ErrCredentialsMissing, http.StatusServiceUnavailable, "CREDENTIALS_MISSING"},
		{"exchange unauthorized", &rest.UpstreamError{Status: 401, Body: "bad key"}, http.StatusUnauthorized, "EXCHANGE_UNAUTHORIZED"},
		{"upstream failure", &rest.UpstreamError{Status: 500, Body: "oops"}, http.StatusBadGateway, "UPSTREAM_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(&fakeTrader{err: tc.err}, "")
			rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/trade", "",
				`{"symbol":"BTCUSDT","side":"BUY","notional":100,"leverage":5}`)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.wantStatus, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["code"] != tc.wantCode {
				t.Fatalf("code %v, want %s", body["code"], tc.wantCode)
			}
			if body["requestId"] == "" {
				t.Fatal("error envelope missing requestId")
			}
		})
	}
}

func TestTradeRejectsBadSideAndBody(t *testing.T) {
	srv, _ := newTestServer(&fakeTrader{}, "")
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/api/trade", "", `{"symbol":"BTCUSDT","side":"HOLD","notional":100}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad side: status %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodPost, "/api/trade", "", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body: status %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodPost, "/api/trade", "", `{"symbol":"BTCUSDT","side":"BUY"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing notional: status %d", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	srv, _ := newTestServer(&fakeTrader{}, "sekrit")
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/positions", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodGet, "/api/positions", "wrong", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodGet, "/api/positions", "sekrit", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status %d", rec.Code)
	}
	// health stays open
	rec = doRequest(t, handler, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}
}

func TestPositionsFreshFlag(t *testing.T) {
	srv, positions := newTestServer(&fakeTrader{}, "")
	handler := srv.Handler()

	doRequest(t, handler, http.MethodGet, "/api/positions?symbol=btcusdt", "", "")
	if positions.lastBypass {
		t.Fatal("default request should use the cache")
	}
	doRequest(t, handler, http.MethodGet, "/api/positions?fresh=true", "", "")
	if !positions.lastBypass {
		t.Fatal("fresh=true should bypass the cache")
	}
}

func TestPositionsEmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(&fakeTrader{}, "")
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/positions", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"positions":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestCloseRequiresSymbol(t *testing.T) {
	srv, _ := newTestServer(&fakeTrader{}, "")
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/positions/close", "", `{"user":"ops"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestBalanceAndSymbols(t *testing.T) {
	srv, _ := newTestServer(&fakeTrader{}, "")
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/balance?asset=USDT", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"USDT"`) {
		t.Fatalf("balance: %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, handler, http.MethodGet, "/symbols", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"BTCUSDT"`) {
		t.Fatalf("symbols: %d %s", rec.Code, rec.Body.String())
	}
}
