package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"futures-gateway/internal/audit"
	"futures-gateway/internal/binance/rest"
	"futures-gateway/internal/market"
	"futures-gateway/internal/metrics"
	"futures-gateway/internal/sizing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exchange is the slice of the signed client the executor submits to.
type Exchange interface {
	PlaceMarketOrder(ctx context.Context, symbol, side, quantity string, reduceOnly bool) (map[string]any, error)
}

// MarketData serves filters and mark prices from the metadata cache.
type MarketData interface {
	SymbolFilters(ctx context.Context, symbol string) (market.Filters, error)
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// LeverageManager applies leverage only when it differs from the
// exchange's current setting.
type LeverageManager interface {
	Ensure(ctx context.Context, symbol string, leverage int) error
}

// Executor drives one order request end to end:
// validate, enrich, size, check precision, check min-notional, ensure
// leverage, submit, normalize. Every step before Submit is idempotent;
// Submit is the one side-effecting call and is never retried.
type Executor struct {
	exchange    Exchange
	market      MarketData
	leverage    LeverageManager
	sink        audit.Sink
	metrics     *metrics.Metrics
	log         *zap.Logger
	maxLeverage int
}

func NewExecutor(exchange Exchange, md MarketData, lm LeverageManager, sink audit.Sink, maxLeverage int, log *zap.Logger) *Executor {
	if sink == nil {
		sink = audit.Noop{}
	}
	if maxLeverage < 1 {
		maxLeverage = 25
	}
	return &Executor{
		exchange:    exchange,
		market:      md,
		leverage:    lm,
		sink:        sink,
		metrics:     metrics.NewNoop(),
		log:         log,
		maxLeverage: maxLeverage,
	}
}

func (e *Executor) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		e.metrics = m
	}
}

// Place runs the full flow. Deterministic rejections come back as
// *InvalidInputError or *sizing.RejectionError; anything unexpected
// degrades to an UpstreamError so one bad order can never take the
// gateway down.
func (e *Executor) Place(ctx context.Context, req Request) (Result, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := e.validate(req); err != nil {
		return Result{}, err
	}

	e.writeAudit(ctx, audit.Record{
		Symbol:    req.Symbol,
		Side:      string(req.Side),
		Quantity:  "0",
		Leverage:  req.Leverage,
		OrderType: "MARKET",
		Status:    "ATTEMPTING",
		Result:    audit.ResultAttempting,
		User:      req.User,
	})

	res, err := e.place(ctx, req)
	if err != nil {
		var rejection *sizing.RejectionError
		if errors.As(err, &rejection) {
			e.metrics.OrdersRejected.Inc()
		} else {
			e.metrics.OrdersFailed.Inc()
		}
		e.writeAudit(ctx, audit.Record{
			Symbol:    req.Symbol,
			Side:      string(req.Side),
			Quantity:  "0",
			Leverage:  req.Leverage,
			OrderType: "MARKET",
			Status:    "FAILED",
			Result:    audit.ResultFailed,
			Error:     err.Error(),
			User:      req.User,
		})
		return Result{}, err
	}

	e.metrics.OrdersPlaced.Inc()
	e.writeAudit(ctx, audit.Record{
		Symbol:    req.Symbol,
		Side:      string(req.Side),
		Quantity:  res.ExecutedQty,
		Price:     res.AvgPrice,
		Leverage:  req.Leverage,
		OrderID:   res.OrderID,
		Status:    res.Status,
		OrderType: "MARKET",
		Result:    audit.ResultCompleted,
		User:      req.User,
	})
	e.log.Info("order executed",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("qty", res.ExecutedQty),
		zap.String("order_id", res.OrderID),
		zap.String("status", res.Status))
	return res, nil
}

func (e *Executor) validate(req Request) error {
	if req.Symbol == "" {
		return &InvalidInputError{Field: "symbol", Message: "symbol is required"}
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return &InvalidInputError{Field: "side", Message: "side must be BUY or SELL"}
	}
	if req.Notional.Sign() <= 0 {
		return &InvalidInputError{Field: "notional", Message: "notional must be > 0"}
	}
	if req.Leverage < 1 || req.Leverage > e.maxLeverage {
		return &InvalidInputError{Field: "leverage", Message: fmt.Sprintf("leverage must be in [1,%d]", e.maxLeverage)}
	}
	return nil
}

func (e *Executor) place(ctx context.Context, req Request) (res Result, err error) {
	// A single bad order flow must never crash the gateway or corrupt
	// cache state for other symbols.
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("order flow panicked", zap.Any("panic", r), zap.String("symbol", req.Symbol))
			err = &rest.UpstreamError{Cause: fmt.Errorf("order flow panic: %v", r)}
		}
	}()

	filters, err := e.market.SymbolFilters(ctx, req.Symbol)
	if err != nil {
		return Result{}, wrapUnexpected(err)
	}
	markPrice, err := e.market.MarkPrice(ctx, req.Symbol)
	if err != nil {
		return Result{}, wrapUnexpected(err)
	}

	qty, err := sizing.Quantity(req.Notional, markPrice, filters.StepSize, filters.MinQty)
	if err != nil {
		return Result{}, wrapUnexpected(err)
	}
	if qty.IsZero() {
		return Result{}, &sizing.RejectionError{
			Reason:  sizing.ReasonZeroQuantity,
			Message: fmt.Sprintf("notional %s at price %s floors below minQty %s", req.Notional, markPrice, filters.MinQty),
		}
	}

	ok, skipErr := sizing.ValidatePrecision(qty, markPrice, filters.StepSize, filters.QuantityPrecision, filters.PricePrecision)
	if skipErr != nil {
		e.log.Warn("precision check degraded", zap.String("symbol", req.Symbol), zap.Error(skipErr))
	}
	if !ok {
		return Result{}, &sizing.RejectionError{
			Reason:  sizing.ReasonPrecision,
			Message: fmt.Sprintf("quantity %s or price %s violates declared precision", qty, markPrice),
		}
	}

	ok, skipErr = sizing.CheckMinNotional(qty, markPrice, filters.MinNotional)
	if skipErr != nil {
		e.log.Warn("min-notional check degraded", zap.String("symbol", req.Symbol), zap.Error(skipErr))
	}
	if !ok {
		return Result{}, &sizing.RejectionError{
			Reason:  sizing.ReasonMinNotional,
			Message: fmt.Sprintf("order notional %s below minimum %s", qty.Mul(markPrice), filters.MinNotional),
		}
	}

	if err := e.leverage.Ensure(ctx, req.Symbol, req.Leverage); err != nil {
		return Result{}, wrapUnexpected(err)
	}

	resp, err := e.exchange.PlaceMarketOrder(ctx, req.Symbol, string(req.Side), qty.String(), false)
	if err != nil {
		return Result{}, wrapUnexpected(err)
	}
	return normalize(resp, req, qty, markPrice), nil
}

func (e *Executor) writeAudit(ctx context.Context, rec audit.Record) {
	rec.Time = time.Now()
	if err := e.sink.Write(ctx, rec); err != nil {
		// Audit failures never block trading.
		e.log.Warn("audit write failed", zap.Error(err))
	}
}

// wrapUnexpected keeps the typed taxonomy intact and folds everything
// else into a generic upstream failure.
func wrapUnexpected(err error) error {
	if err == nil {
		return nil
	}
	var upstream *rest.UpstreamError
	var invalid *InvalidInputError
	var rejection *sizing.RejectionError
	switch {
	case errors.As(err, &upstream),
		errors.As(err, &invalid),
		errors.As(err, &rejection),
		errors.Is(err, rest.ErrCredentialsMissing),
		errors.Is(err, rest.ErrUnauthorized),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &rest.UpstreamError{Cause: err}
	}
}
