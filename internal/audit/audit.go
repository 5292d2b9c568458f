// Package audit emits one structured record per order attempt. The
// gateway core only produces records; persistence is a collaborator
// behind the Sink interface.
package audit

import (
	"context"
	"time"
)

type Result string

const (
	ResultAttempting Result = "ATTEMPTING"
	ResultCompleted  Result = "COMPLETED"
	ResultFailed     Result = "FAILED"
)

type Record struct {
	Time      time.Time
	Symbol    string
	Side      string
	Quantity  string
	Price     string
	Leverage  int
	OrderID   string
	Status    string
	OrderType string
	Result    Result
	Error     string
	User      string
}

type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

type Noop struct{}

func (Noop) Write(ctx context.Context, rec Record) error { return nil }
func (Noop) Close() error                                { return nil }

// Tee fans every record out to all sinks. The first write error wins
// but every sink still sees the record.
type Tee []Sink

func (t Tee) Write(ctx context.Context, rec Record) error {
	var firstErr error
	for _, sink := range t {
		if err := sink.Write(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t Tee) Close() error {
	var firstErr error
	for _, sink := range t {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
