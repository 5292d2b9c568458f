package order

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Exchange responses are not uniform: the same logical field shows up
// under different key names depending on endpoint and order state.
// Extraction is an explicit ordered candidate list, first match wins.
var (
	orderIDKeys     = []string{"orderId", "orderID", "clientOrderId", "id"}
	executedQtyKeys = []string{"executedQty", "origQty", "cumQty"}
	avgPriceKeys    = []string{"avgPrice", "price"}
)

func normalize(resp map[string]any, req Request, qty decimal.Decimal, markPrice decimal.Decimal) Result {
	res := Result{
		Symbol:      req.Symbol,
		Side:        req.Side,
		OrderID:     firstString(resp, orderIDKeys...),
		ExecutedQty: firstString(resp, executedQtyKeys...),
		AvgPrice:    firstString(resp, avgPriceKeys...),
		Status:      firstString(resp, "status"),
	}
	if res.OrderID == "" {
		res.OrderID = "unknown"
	}
	if res.ExecutedQty == "" || res.ExecutedQty == "0" {
		res.ExecutedQty = qty.String()
	}
	if res.AvgPrice == "" || res.AvgPrice == "0" {
		res.AvgPrice = markPrice.String()
	}
	if res.Status == "" {
		res.Status = "FILLED"
	}
	return res
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringFromAny(m[key]); s != "" {
			return s
		}
	}
	return ""
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == math.Trunc(val) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}
