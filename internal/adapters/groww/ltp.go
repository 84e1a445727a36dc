// ltp.go: live-data endpoints (batch LTP and single quote).
package groww

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/alejandrodnm/papertrader/internal/domain"
	"github.com/alejandrodnm/papertrader/internal/ports"
)

const (
	ltpPath   = "/v1/live-data/ltp"
	quotePath = "/v1/live-data/quote"
)

// LTP fetches last traded prices for symbols on one segment. Symbols are
// "EXCHANGE_SYMBOL" keys (NSE_NIFTY). Requests are split in chunks of
// ports.MaxLTPSymbols. A symbol missing from the response is a
// *domain.TransientDataError.
func (c *Client) LTP(ctx context.Context, token string, segment domain.Segment, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	prices := make(map[string]float64, len(symbols))
	for start := 0; start < len(symbols); start += ports.MaxLTPSymbols {
		end := min(start+ports.MaxLTPSymbols, len(symbols))
		chunk := symbols[start:end]

		q := url.Values{}
		q.Set("segment", string(segment))
		q.Set("exchange_symbols", strings.Join(chunk, ","))

		var raw map[string]json.RawMessage
		if err := c.get(ctx, token, ltpPath, q, &raw); err != nil {
			return nil, fmt.Errorf("groww.LTP: %w", err)
		}

		for _, sym := range chunk {
			v, ok := raw[sym]
			if !ok {
				return nil, &domain.TransientDataError{Symbol: sym, Reason: "missing from ltp response"}
			}
			p, err := NormalizePrice(sym, v)
			if err != nil {
				return nil, err
			}
			prices[sym] = p
		}
		slog.Debug("groww: ltp", "symbols", len(chunk), "segment", segment)
	}
	return prices, nil
}

// Quote fetches the last price of one trading symbol. Used for option
// contracts when batch LTP is not wanted.
func (c *Client) Quote(ctx context.Context, token, exchange string, segment domain.Segment, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("exchange", exchange)
	q.Set("segment", string(segment))
	q.Set("trading_symbol", symbol)

	var raw json.RawMessage
	if err := c.get(ctx, token, quotePath, q, &raw); err != nil {
		return 0, fmt.Errorf("groww.Quote: %w", err)
	}
	return NormalizePrice(symbol, raw)
}
