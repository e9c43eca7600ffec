package quotes

import (
	"context"
	"fmt"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/pkg/utils"
)

// KiteProvider implements Provider against the Zerodha Kite Connect API.
// The sandbox consumes real quotes but never places real orders.
type KiteProvider struct {
	client *kiteconnect.Client
	retry  utils.RetryConfig
}

// KiteConfig holds Kite Connect credentials.
type KiteConfig struct {
	APIKey      string
	AccessToken string
}

// NewKiteProvider creates a Kite-backed quote provider.
func NewKiteProvider(cfg KiteConfig) *KiteProvider {
	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)
	return &KiteProvider{client: client, retry: utils.DefaultRetryConfig()}
}

// GetQuote fetches a single quote.
func (p *KiteProvider) GetQuote(ctx context.Context, key InstrumentKey) (*models.Quote, error) {
	result, err := p.GetQuotesBatch(ctx, []InstrumentKey{key})
	if err != nil {
		return nil, err
	}
	q, ok := result[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrQuoteUnavailable, key)
	}
	return q, nil
}

// GetQuotesBatch fetches quotes for all keys in one API call. Any error
// fails the whole batch.
func (p *KiteProvider) GetQuotesBatch(ctx context.Context, keys []InstrumentKey) (map[InstrumentKey]*models.Quote, error) {
	if len(keys) == 0 {
		return map[InstrumentKey]*models.Quote{}, nil
	}

	symbols := make([]string, len(keys))
	for i, k := range keys {
		symbols[i] = k.String()
	}

	// Transient API failures stall the whole matching cycle; retry with
	// backoff before giving up.
	raw, err := utils.RetryWithResult(ctx, p.retry, func() (kiteconnect.Quote, error) {
		return p.client.GetQuote(symbols...)
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrQuoteUnavailable, err.Error())
	}

	result := make(map[InstrumentKey]*models.Quote, len(keys))
	for _, k := range keys {
		q, ok := raw[k.String()]
		if !ok {
			continue
		}
		quote := &models.Quote{
			Symbol:    k.Symbol,
			Exchange:  k.Exchange,
			LTP:       q.LastPrice,
			Timestamp: time.Now(),
		}
		if len(q.Depth.Buy) > 0 {
			quote.Bid = q.Depth.Buy[0].Price
		}
		if len(q.Depth.Sell) > 0 {
			quote.Ask = q.Depth.Sell[0].Price
		}
		// Illiquid instruments can have an empty book; fall back to LTP
		// so market orders still fill at a sane price.
		if quote.Bid == 0 {
			quote.Bid = q.LastPrice
		}
		if quote.Ask == 0 {
			quote.Ask = q.LastPrice
		}
		result[k] = quote
	}
	return result, nil
}

// LoadInstruments fetches the instrument dump for an exchange, for seeding
// the reference catalog.
func (p *KiteProvider) LoadInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	raw, err := p.client.GetInstrumentsByExchange(string(exchange))
	if err != nil {
		return nil, fmt.Errorf("fetching instruments for %s: %w", exchange, err)
	}

	instruments := make([]models.Instrument, 0, len(raw))
	for _, ri := range raw {
		instruments = append(instruments, models.Instrument{
			Symbol:    ri.Tradingsymbol,
			Name:      ri.Name,
			Exchange:  exchange,
			Segment:   ri.Segment,
			LotSize:   int(ri.LotSize),
			TickSize:  ri.TickSize,
			Expiry:    ri.Expiry.Time,
			Strike:    ri.StrikePrice,
			InstrType: models.InstrumentType(ri.InstrumentType),
		})
	}
	return instruments, nil
}

// Ensure KiteProvider implements Provider.
var _ Provider = (*KiteProvider)(nil)
