package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestQuantityFloorsToStep(t *testing.T) {
	qty, err := Quantity(dec(t, "100"), dec(t, "30000"), "0.001", "0.001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !qty.Equal(dec(t, "0.003")) {
		t.Fatalf("expected 0.003, got %s", qty)
	}
}

func TestQuantityBelowMinQtyIsZero(t *testing.T) {
	qty, err := Quantity(dec(t, "10"), dec(t, "30000"), "0.001", "0.001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !qty.IsZero() {
		t.Fatalf("expected zero quantity, got %s", qty)
	}
}

func TestQuantityNeverRoundsUp(t *testing.T) {
	cases := []struct {
		notional string
		price    string
		step     string
	}{
		{"100", "30000", "0.001"},
		{"57.31", "1893.77", "0.01"},
		{"1000", "0.07215", "1"},
		{"250", "64123.5", "0.0001"},
		{"5", "3.141", "0.1"},
	}
	for _, tc := range cases {
		notional := dec(t, tc.notional)
		price := dec(t, tc.price)
		step := dec(t, tc.step)
		qty, err := Quantity(notional, price, tc.step, "0")
		if err != nil {
			t.Fatalf("%s/%s: unexpected error: %v", tc.notional, tc.price, err)
		}
		if qty.Sign() < 0 {
			t.Fatalf("%s/%s: negative quantity %s", tc.notional, tc.price, qty)
		}
		if !qty.Mod(step).IsZero() {
			t.Fatalf("%s/%s: %s not aligned to step %s", tc.notional, tc.price, qty, tc.step)
		}
		if qty.Mul(price).GreaterThan(notional) {
			t.Fatalf("%s/%s: quantity %s exceeds intended notional", tc.notional, tc.price, qty)
		}
	}
}

func TestQuantityRejectsNonPositiveInputs(t *testing.T) {
	if _, err := Quantity(dec(t, "100"), dec(t, "0"), "0.001", "0.001"); err == nil {
		t.Fatal("expected error for zero mark price")
	}
	if _, err := Quantity(dec(t, "0"), dec(t, "30000"), "0.001", "0.001"); err == nil {
		t.Fatal("expected error for zero notional")
	}
	if _, err := Quantity(dec(t, "100"), dec(t, "30000"), "bogus", "0.001"); err == nil {
		t.Fatal("expected error for unparseable stepSize")
	}
}

func TestValidatePrecisionStepAlignment(t *testing.T) {
	ok, err := ValidatePrecision(dec(t, "0.0035"), dec(t, "30000"), "0.001", 3, 2)
	if err != nil {
		t.Fatalf("unexpected skip: %v", err)
	}
	if ok {
		t.Fatal("expected misaligned quantity to fail")
	}
}

func TestValidatePrecisionDigitLimits(t *testing.T) {
	ok, err := ValidatePrecision(dec(t, "0.003"), dec(t, "30000.00"), "0.001", 2, 2)
	if err != nil {
		t.Fatalf("unexpected skip: %v", err)
	}
	if ok {
		t.Fatal("expected quantity with 3 decimals to exceed precision 2")
	}

	ok, err = ValidatePrecision(dec(t, "0.003"), dec(t, "30000.123"), "0.001", 3, 2)
	if err != nil {
		t.Fatalf("unexpected skip: %v", err)
	}
	if ok {
		t.Fatal("expected price with 3 decimals to exceed precision 2")
	}

	ok, err = ValidatePrecision(dec(t, "0.003"), dec(t, "30000.12"), "0.001", 3, 2)
	if err != nil || !ok {
		t.Fatalf("expected pass, got ok=%v err=%v", ok, err)
	}
}

func TestValidatePrecisionIgnoresTrailingZeros(t *testing.T) {
	// 0.0030 carries a meaningless trailing zero; the exchange compares
	// normalized digit counts.
	qty := decimal.New(30, -4)
	ok, err := ValidatePrecision(qty, dec(t, "30000"), "0.001", 3, 2)
	if err != nil || !ok {
		t.Fatalf("expected pass for normalized 0.003, got ok=%v err=%v", ok, err)
	}
}

func TestValidatePrecisionSwallowsInternalErrors(t *testing.T) {
	ok, err := ValidatePrecision(dec(t, "0.003"), dec(t, "30000"), "not-a-decimal", 3, 2)
	if !ok {
		t.Fatal("internal errors must not block the order")
	}
	if err == nil {
		t.Fatal("expected the skip cause to be surfaced for logging")
	}
}

func TestCheckMinNotional(t *testing.T) {
	ok, err := CheckMinNotional(dec(t, "0.003"), dec(t, "30000"), "5")
	if err != nil || !ok {
		t.Fatalf("expected 90 >= 5 to pass, got ok=%v err=%v", ok, err)
	}
	ok, err = CheckMinNotional(dec(t, "0.001"), dec(t, "30000"), "100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected 30 < 100 to fail")
	}
	ok, err = CheckMinNotional(dec(t, "0.003"), dec(t, "30000"), "garbage")
	if !ok || err == nil {
		t.Fatalf("expected lenient pass with surfaced cause, got ok=%v err=%v", ok, err)
	}
}
