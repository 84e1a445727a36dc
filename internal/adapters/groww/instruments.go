// instruments.go: option expiries and contract listings.
package groww

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

const (
	expiriesPath  = "/v1/historical/expiries"
	contractsPath = "/v1/historical/contracts"
)

type expiriesPayload struct {
	Expiries []string `json:"expiries"`
}

type contractsPayload struct {
	Contracts []json.RawMessage `json:"contracts"`
}

// contractDTO is the object form of a contract entry.
type contractDTO struct {
	TradingSymbol  string      `json:"trading_symbol"`
	StrikePrice    json.Number `json:"strike_price"`
	InstrumentType string      `json:"instrument_type"`
}

// Expiries lists option expiries for an underlying as ISO dates, in the
// order the API returns them. Unparseable dates are dropped.
func (c *Client) Expiries(ctx context.Context, token, exchange, underlying string) ([]string, error) {
	q := url.Values{}
	q.Set("exchange", exchange)
	q.Set("underlying_symbol", underlying)

	var p expiriesPayload
	if err := c.get(ctx, token, expiriesPath, q, &p); err != nil {
		return nil, fmt.Errorf("groww.Expiries: %w", err)
	}

	out := make([]string, 0, len(p.Expiries))
	for _, raw := range p.Expiries {
		t, err := domain.ParseExpiry(raw)
		if err != nil {
			continue
		}
		out = append(out, t.Format("2006-01-02"))
	}
	return out, nil
}

// Contracts lists the option contracts of one expiry. Entries come either as
// plain symbols (NSE-NIFTY-02Jan25-24000-CE) or as objects; entries that
// are neither are skipped.
func (c *Client) Contracts(ctx context.Context, token, exchange, underlying, expiry string) ([]domain.Contract, error) {
	q := url.Values{}
	q.Set("exchange", exchange)
	q.Set("underlying_symbol", underlying)
	q.Set("expiry_date", expiry)

	var p contractsPayload
	if err := c.get(ctx, token, contractsPath, q, &p); err != nil {
		return nil, fmt.Errorf("groww.Contracts: %w", err)
	}

	contracts := make([]domain.Contract, 0, len(p.Contracts))
	for _, raw := range p.Contracts {
		ct, ok := mapContract(raw)
		if !ok {
			continue
		}
		ct.Underlying = underlying
		ct.Expiry = expiry
		contracts = append(contracts, ct)
	}
	return contracts, nil
}

// mapContract decodes either contract shape.
func mapContract(raw json.RawMessage) (domain.Contract, bool) {
	var sym string
	if err := json.Unmarshal(raw, &sym); err == nil {
		return parseContractSymbol(sym)
	}

	var dto contractDTO
	if err := json.Unmarshal(raw, &dto); err != nil || dto.TradingSymbol == "" {
		return domain.Contract{}, false
	}
	ct := domain.Contract{Symbol: dto.TradingSymbol}
	if typ, ok := domain.ParseOptionType(dto.InstrumentType); ok {
		ct.Type = typ
	}
	if strike, err := dto.StrikePrice.Float64(); err == nil {
		ct.Strike = strike
	}
	// Fill whatever the object left out from the symbol itself.
	if ct.Type == "" || ct.Strike <= 0 {
		parsed, ok := parseContractSymbol(dto.TradingSymbol)
		if !ok {
			return domain.Contract{}, false
		}
		if ct.Type == "" {
			ct.Type = parsed.Type
		}
		if ct.Strike <= 0 {
			ct.Strike = parsed.Strike
		}
	}
	return ct, true
}

// parseContractSymbol reads strike and type from the tail of a dashed
// contract symbol: ...-<strike>-<CE|PE>.
func parseContractSymbol(sym string) (domain.Contract, bool) {
	sym = strings.TrimSpace(sym)
	parts := strings.Split(sym, "-")
	if len(parts) < 3 {
		return domain.Contract{}, false
	}
	typ, ok := domain.ParseOptionType(parts[len(parts)-1])
	if !ok {
		return domain.Contract{}, false
	}
	strike, err := strconv.ParseFloat(parts[len(parts)-2], 64)
	if err != nil || strike <= 0 {
		return domain.Contract{}, false
	}
	return domain.Contract{Symbol: sym, Strike: strike, Type: typ}, true
}
