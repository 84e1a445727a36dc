package ports

import (
	"context"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

// MaxLTPSymbols is the vendor cap on symbols per batch LTP call.
const MaxLTPSymbols = 50

// MarketDataGateway is the vendor market-data API. Every call is scoped to
// the bearer token passed in, so the caller decides which credential pays
// for it. Errors are *domain.CredentialError when the token was rejected,
// *domain.TransientDataError when the payload was unusable, or anything
// else for transport failures.
type MarketDataGateway interface {
	// LTP returns last traded prices keyed by symbol. Implementations split
	// requests larger than MaxLTPSymbols.
	LTP(ctx context.Context, token string, segment domain.Segment, symbols []string) (map[string]float64, error)

	// Quote returns the last price of a single symbol, for instruments the
	// batch endpoint does not serve.
	Quote(ctx context.Context, token string, exchange string, segment domain.Segment, symbol string) (float64, error)

	// Expiries lists option expiries (ISO dates) for an underlying.
	Expiries(ctx context.Context, token, exchange, underlying string) ([]string, error)

	// Contracts lists the option contracts of one expiry.
	Contracts(ctx context.Context, token, exchange, underlying, expiry string) ([]domain.Contract, error)
}
