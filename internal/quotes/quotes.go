// Package quotes provides market quote retrieval for the sandbox engine.
package quotes

import (
	"context"

	"github.com/marketcalls/openalgo-sub012/internal/models"
)

// InstrumentKey identifies an instrument to the quote provider.
type InstrumentKey struct {
	Symbol   string
	Exchange models.Exchange
}

// String returns the provider wire format, e.g. "NSE:RELIANCE".
func (k InstrumentKey) String() string {
	return string(k.Exchange) + ":" + k.Symbol
}

// Provider fetches reference prices. GetQuotesBatch fails as a unit; the
// caller falls back to per-instrument GetQuote calls.
type Provider interface {
	GetQuote(ctx context.Context, key InstrumentKey) (*models.Quote, error)
	GetQuotesBatch(ctx context.Context, keys []InstrumentKey) (map[InstrumentKey]*models.Quote, error)
}
