package audit

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var csvHeader = []string{
	"timestamp", "symbol", "side", "quantity", "price", "leverage",
	"order_id", "status", "order_type", "trade_result", "error_message", "user",
}

// CSVSink appends one row per record to a trades file, writing the
// header when the file is created.
type CSVSink struct {
	mu   sync.Mutex
	path string
}

func NewCSVSink(path string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &CSVSink{path: path}, nil
}

func (s *CSVSink) Write(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(s.path)
	writeHeader := os.IsNotExist(statErr)

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if writeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return err
		}
	}
	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	row := []string{
		ts.Format(time.RFC3339),
		rec.Symbol,
		rec.Side,
		rec.Quantity,
		rec.Price,
		strconv.Itoa(rec.Leverage),
		rec.OrderID,
		rec.Status,
		rec.OrderType,
		string(rec.Result),
		rec.Error,
		rec.User,
	}
	if err := writer.Write(row); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func (s *CSVSink) Close() error { return nil }
