package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return "", &InvalidInputError{Field: "side", Message: fmt.Sprintf("side must be buy or sell, got %q", s)}
	}
}

// Request is a desired trade in notional USD terms, validated before
// any network call.
type Request struct {
	Symbol   string
	Side     Side
	Notional decimal.Decimal
	Leverage int
	User     string
}

// Result is the normalized exchange response for a submitted order.
type Result struct {
	OrderID     string
	Symbol      string
	Side        Side
	ExecutedQty string
	AvgPrice    string
	Status      string
}

// InvalidInputError rejects a request before it costs a network call.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
