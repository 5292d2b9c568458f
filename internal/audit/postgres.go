package audit

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// PostgresSink persists audit records asynchronously: Write enqueues
// and never blocks an order flow on the database; a queue overflow
// drops the record with a single warning.
type PostgresSink struct {
	db      *sql.DB
	log     *zap.Logger
	queue   chan Record
	started atomic.Bool
	dropped atomic.Uint64
}

func NewPostgresSink(dsn string, queueSize int, log *zap.Logger) (*PostgresSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &PostgresSink{
		db:    db,
		log:   log,
		queue: make(chan Record, queueSize),
	}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS trade_audit (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		order_id TEXT NOT NULL,
		status TEXT NOT NULL,
		order_type TEXT NOT NULL,
		trade_result TEXT NOT NULL,
		error_message TEXT NOT NULL,
		user_name TEXT NOT NULL
	)`)
	return err
}

func (s *PostgresSink) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run(ctx)
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	select {
	case s.queue <- rec:
		return nil
	default:
		if s.dropped.Add(1) == 1 && s.log != nil {
			s.log.Warn("audit queue full, dropping records")
		}
		return nil
	}
}

func (s *PostgresSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-s.queue:
			s.insert(ctx, rec)
		}
	}
}

func (s *PostgresSink) insert(ctx context.Context, rec Record) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := s.db.ExecContext(writeCtx,
		`INSERT INTO trade_audit (ts, symbol, side, quantity, price, leverage, order_id, status, order_type, trade_result, error_message, user_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.Time, rec.Symbol, rec.Side, rec.Quantity, rec.Price, rec.Leverage,
		rec.OrderID, rec.Status, rec.OrderType, string(rec.Result), rec.Error, rec.User,
	)
	if err != nil && s.log != nil {
		s.log.Warn("audit insert failed", zap.Error(err))
	}
}

func (s *PostgresSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
