// Package sizing turns a desired notional into an exchange-legal order
// quantity. Everything here is exact decimal arithmetic over the
// symbol's filter strings; floating point would break the exchange's
// decimal-exact comparisons.
package sizing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Reason string

const (
	ReasonZeroQuantity Reason = "ZERO_QUANTITY"
	ReasonPrecision    Reason = "PRECISION_VIOLATION"
	ReasonMinNotional  Reason = "MIN_NOTIONAL_VIOLATION"
)

// RejectionError is a deterministic, non-retryable sizing verdict.
type RejectionError struct {
	Reason  Reason
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected (%s): %s", e.Reason, e.Message)
}

// Quantity computes notional/markPrice floored to the nearest stepSize
// multiple. Rounding up is never allowed; it could exceed the caller's
// intended notional and blow past available margin. A result below
// minQty comes back as zero, signalling the order is not viable at this
// notional.
func Quantity(notional, markPrice decimal.Decimal, stepSize, minQty string) (decimal.Decimal, error) {
	if markPrice.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("mark price must be positive, got %s", markPrice)
	}
	if notional.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("notional must be positive, got %s", notional)
	}
	step, err := decimal.NewFromString(stepSize)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse stepSize %q: %w", stepSize, err)
	}
	min, err := decimal.NewFromString(minQty)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse minQty %q: %w", minQty, err)
	}
	raw := notional.DivRound(markPrice, 24)
	qty := raw
	if step.Sign() > 0 {
		qty = raw.Sub(raw.Mod(step))
	}
	if qty.LessThan(min) {
		return decimal.Zero, nil
	}
	return qty, nil
}

// ValidatePrecision enforces stepSize alignment and the symbol's
// declared decimal-digit limits. An internal parse failure does not
// block the order: the check reports "no violation" and surfaces the
// cause for logging. That leniency mirrors the exchange-facing behavior
// this gateway replaced and is a known hardening gap.
func ValidatePrecision(qty, price decimal.Decimal, stepSize string, qtyPrecision, pricePrecision int) (bool, error) {
	step, err := decimal.NewFromString(stepSize)
	if err != nil {
		return true, fmt.Errorf("precision check skipped: parse stepSize %q: %w", stepSize, err)
	}
	if step.Sign() > 0 && !qty.Mod(step).IsZero() {
		return false, nil
	}
	if decimalPlaces(qty) > qtyPrecision {
		return false, nil
	}
	if decimalPlaces(price) > pricePrecision {
		return false, nil
	}
	return true, nil
}

// CheckMinNotional verifies quantity×price reaches the symbol's
// minimum-notional floor. An unparseable floor degrades to zero with
// the cause surfaced for logging, matching the precision check's
// lenient default.
func CheckMinNotional(qty, markPrice decimal.Decimal, minNotional string) (bool, error) {
	floor, err := decimal.NewFromString(minNotional)
	if err != nil {
		return true, fmt.Errorf("min-notional check skipped: parse %q: %w", minNotional, err)
	}
	return qty.Mul(markPrice).GreaterThanOrEqual(floor), nil
}

// decimalPlaces counts significant fractional digits, ignoring
// trailing zeros the way the exchange does.
func decimalPlaces(d decimal.Decimal) int {
	s := d.Abs().String()
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return len(strings.TrimRight(s[i+1:], "0"))
}
