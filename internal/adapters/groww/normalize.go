package groww

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

// priceFields are the object keys that may carry a price, in lookup order.
var priceFields = []string{"ltp", "last_price", "price"}

// NormalizePrice turns one raw price value from a vendor response into a
// float. Accepted shapes: a bare JSON number, or an object with one of the
// priceFields holding a number. Anything else, and any non-positive or
// non-finite price, is a *domain.TransientDataError.
func NormalizePrice(symbol string, raw json.RawMessage) (float64, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, &domain.TransientDataError{Symbol: symbol, Reason: "undecodable price"}
	}

	switch x := v.(type) {
	case json.Number:
		return checkPrice(symbol, x)
	case map[string]any:
		for _, key := range priceFields {
			field, ok := x[key]
			if !ok || field == nil {
				continue
			}
			n, ok := field.(json.Number)
			if !ok {
				return 0, &domain.TransientDataError{Symbol: symbol, Reason: fmt.Sprintf("field %q is not a number", key)}
			}
			return checkPrice(symbol, n)
		}
		return 0, &domain.TransientDataError{Symbol: symbol, Reason: "no price field"}
	case nil:
		return 0, &domain.TransientDataError{Symbol: symbol, Reason: "missing price"}
	}
	return 0, &domain.TransientDataError{Symbol: symbol, Reason: fmt.Sprintf("unsupported price shape %T", v)}
}

func checkPrice(symbol string, n json.Number) (float64, error) {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &domain.TransientDataError{Symbol: symbol, Reason: "price is not finite"}
	}
	if f <= 0 {
		return 0, &domain.TransientDataError{Symbol: symbol, Reason: fmt.Sprintf("non-positive price %v", f)}
	}
	return f, nil
}
