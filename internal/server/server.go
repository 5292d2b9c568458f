// Package server is the HTTP front end of the gateway.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"futures-gateway/internal/account"
	"futures-gateway/internal/binance/rest"
	"futures-gateway/internal/market"
	"futures-gateway/internal/order"
	"futures-gateway/internal/position"
	"futures-gateway/internal/sizing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Trader interface {
	Place(ctx context.Context, req order.Request) (order.Result, error)
}

type Positions interface {
	Positions(ctx context.Context, symbol string, bypassCache bool) ([]position.Position, error)
	Close(ctx context.Context, symbol, user string) (map[string]any, error)
}

type Accounts interface {
	Balances(ctx context.Context, asset string) ([]account.Balance, error)
}

type Symbols interface {
	Symbols(ctx context.Context) ([]market.SymbolMeta, error)
}

type Server struct {
	trader    Trader
	positions Positions
	accounts  Accounts
	symbols   Symbols
	metrics   http.Handler
	authToken string
	log       *zap.Logger
}

func New(trader Trader, positions Positions, accounts Accounts, symbols Symbols, metrics http.Handler, authToken string, log *zap.Logger) *Server {
	return &Server{
		trader:    trader,
		positions: positions,
		accounts:  accounts,
		symbols:   symbols,
		metrics:   metrics,
		authToken: strings.TrimSpace(authToken),
		log:       log,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /symbols", s.withAuth(s.handleSymbols))
	mux.HandleFunc("POST /api/trade", s.withAuth(s.handleTrade))
	mux.HandleFunc("GET /api/positions", s.withAuth(s.handlePositions))
	mux.HandleFunc("POST /api/positions/close", s.withAuth(s.handleClose))
	mux.HandleFunc("GET /api/balance", s.withAuth(s.handleBalance))
	return s.withRequestID(mux)
}

type contextKey string

const requestIDKey contextKey = "requestID"

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// withAuth checks the bearer token. An empty configured token disables
// auth, which is only sensible on testnet.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.authToken)) != 1 {
				s.writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

type tradeRequest struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Notional json.RawMessage `json:"notional"`
	Leverage int             `json:"leverage"`
	User     string          `json:"user"`
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}
	side, err := order.ParseSide(req.Side)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	notional, err := parseNotional(req.Notional)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	result, err := s.trader.Place(r.Context(), order.Request{
		Symbol:   req.Symbol,
		Side:     side,
		Notional: notional,
		Leverage: req.Leverage,
		User:     req.User,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"orderId":     result.OrderID,
		"symbol":      result.Symbol,
		"side":        result.Side,
		"executedQty": result.ExecutedQty,
		"avgPrice":    result.AvgPrice,
		"status":      result.Status,
	})
}

// parseNotional accepts both a JSON number and a quoted string so
// callers never lose precision to float encoding.
func parseNotional(raw json.RawMessage) (decimal.Decimal, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return decimal.Decimal{}, errors.New("notional is required")
	}
	text = strings.Trim(text, `"`)
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, errors.New("notional must be a number")
	}
	return d, nil
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	bypass, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
	positions, err := s.positions.Positions(r.Context(), symbol, bypass)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if positions == nil {
		positions = []position.Position{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

type closeRequest struct {
	Symbol string `json:"symbol"`
	User   string `json:"user"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}
	if strings.TrimSpace(req.Symbol) == "" {
		s.writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "symbol is required")
		return
	}
	result, err := s.positions.Close(r.Context(), req.Symbol, req.User)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balances, err := s.accounts.Balances(r.Context(), r.URL.Query().Get("asset"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if balances == nil {
		balances = []account.Balance{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.symbols.Symbols(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := make([]map[string]string, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, map[string]string{
			"symbol":     sym.Symbol,
			"baseAsset":  sym.BaseAsset,
			"quoteAsset": sym.QuoteAsset,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"symbols": out})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *order.InvalidInputError
	if errors.As(err, &invalid) {
		s.writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", invalid.Error())
		return
	}
	var rejection *sizing.RejectionError
	if errors.As(err, &rejection) {
		s.writeError(w, r, http.StatusBadRequest, string(rejection.Reason), rejection.Error())
		return
	}
	if errors.Is(err, rest.ErrCredentialsMissing) {
		s.writeError(w, r, http.StatusServiceUnavailable, "CREDENTIALS_MISSING", "exchange credentials are not configured")
		return
	}
	if errors.Is(err, rest.ErrUnauthorized) {
		s.writeError(w, r, http.StatusUnauthorized, "EXCHANGE_UNAUTHORIZED", "exchange rejected the configured credentials")
		return
	}
	var upstream *rest.UpstreamError
	if errors.As(err, &upstream) {
		s.writeError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", upstream.Error())
		return
	}
	s.log.Error("unhandled request error", zap.String("request_id", requestID(r)), zap.Error(err))
	s.writeError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if status >= 500 || status == http.StatusBadGateway {
		s.log.Warn("request failed",
			zap.String("request_id", requestID(r)),
			zap.Int("status", status),
			zap.String("code", code),
			zap.String("message", message))
	}
	s.writeJSON(w, status, map[string]any{
		"requestId": requestID(r),
		"code":      code,
		"message":   message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
