// Package engine polls quotes and executes open orders against them.
//
// The sandbox has no order book: orders fill in full at the reference
// price the moment the market reaches them. A cycle loads every open
// order, fetches one quote per distinct symbol, and fills whatever is
// eligible. Cycles are stateless; a crashed cycle is simply retried by
// the next tick.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub012/internal/config"
	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/metrics"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/internal/position"
	"github.com/marketcalls/openalgo-sub012/internal/quotes"
	"github.com/marketcalls/openalgo-sub012/internal/store"
)

// Engine is the polling matcher.
type Engine struct {
	store   store.DataStore
	quotes  quotes.Provider
	tracker *position.Tracker
	cfg     *config.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a matching engine.
func New(ds store.DataStore, qp quotes.Provider, tr *position.Tracker, cfg *config.Store, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   ds,
		quotes:  qp,
		tracker: tr,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "engine").Logger(),
	}
}

// Run polls until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Current().Engine.PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("Matching engine started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Matching engine stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := e.Cycle(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error().Err(err).Msg("Matching cycle failed")
			}
			// Pick up config changes without a restart.
			if next := e.cfg.Current().Engine.PollInterval; next != interval && next > 0 {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Cycle runs one matching pass over all open orders.
func (e *Engine) Cycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		e.metrics.MatchCycles.Inc()
		e.metrics.MatchCycleDur.Observe(time.Since(start).Seconds())
	}()

	open, err := e.store.GetOpenOrders(ctx)
	if err != nil {
		return err
	}
	e.metrics.OpenOrders.Set(float64(len(open)))
	if len(open) == 0 {
		return nil
	}

	marks := e.fetchQuotes(ctx, open)
	if len(marks) == 0 {
		return nil
	}

	engineCfg := e.cfg.Current().Engine
	var batch int
	for i := range open {
		order := &open[i]
		q, ok := marks[quotes.InstrumentKey{Symbol: order.Symbol, Exchange: order.Exchange}]
		if !ok {
			continue
		}
		price, eligible := fillPrice(order, q)
		if !eligible {
			continue
		}

		if err := e.fill(ctx, order, price); err != nil {
			// One bad order must not block the rest of the cycle.
			e.logger.Error().Str("order_id", order.ID).Err(err).Msg("Fill failed")
			continue
		}
		e.metrics.FillsTotal.Inc()

		batch++
		if engineCfg.FillBatchSize > 0 && batch%engineCfg.FillBatchSize == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(engineCfg.FillBatchDelay):
			}
		}
	}
	return nil
}

// fetchQuotes pulls one quote per distinct instrument among the open
// orders. The batch path fails as a unit, so on error each symbol is
// retried alone; a single dead symbol then skips only its own orders.
func (e *Engine) fetchQuotes(ctx context.Context, open []models.Order) map[quotes.InstrumentKey]*models.Quote {
	seen := map[quotes.InstrumentKey]bool{}
	var keys []quotes.InstrumentKey
	for i := range open {
		k := quotes.InstrumentKey{Symbol: open[i].Symbol, Exchange: open[i].Exchange}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	timeout := e.cfg.Current().Engine.QuoteTimeout
	qctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	marks, err := e.quotes.GetQuotesBatch(qctx, keys)
	if err == nil {
		return marks
	}
	e.metrics.QuoteFailures.Inc()
	e.logger.Warn().Err(err).Int("symbols", len(keys)).Msg("Batch quote failed, falling back to singles")

	marks = map[quotes.InstrumentKey]*models.Quote{}
	for _, k := range keys {
		q, qerr := e.quotes.GetQuote(ctx, k)
		if qerr != nil {
			e.metrics.QuoteFailures.Inc()
			continue
		}
		marks[k] = q
	}
	return marks
}

// fill executes one order end to end: idempotency guard, exclusive
// status transition, trade record, position application.
func (e *Engine) fill(ctx context.Context, order *models.Order, price float64) error {
	exists, err := e.store.TradeExistsForOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if exists {
		// A previous cycle wrote the trade but crashed before the
		// status flip; finish the transition if it is still pending.
		if err := e.store.CompleteOrder(ctx, order.ID, order.Quantity, price); err != nil && !errors.Is(err, errors.ErrOrderNotOpen) {
			return err
		}
		return nil
	}

	// The guarded update is the exactly-once gate: a concurrent cancel
	// or duplicate cycle loses here and walks away.
	if err := e.store.CompleteOrder(ctx, order.ID, order.Quantity, price); err != nil {
		if errors.Is(err, errors.ErrOrderNotOpen) {
			return nil
		}
		return err
	}

	trade := &models.Trade{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		UserID:     order.UserID,
		Symbol:     order.Symbol,
		Exchange:   order.Exchange,
		Side:       order.Side,
		Product:    order.Product,
		Quantity:   order.Quantity,
		Price:      price,
		ExecutedAt: time.Now(),
	}
	if err := e.store.SaveTrade(ctx, trade); err != nil {
		return err
	}

	if err := e.tracker.ApplyFill(ctx, order, price); err != nil {
		return err
	}

	e.logger.Info().Str("order_id", order.ID).Str("symbol", order.Symbol).
		Str("side", string(order.Side)).Int("qty", order.Quantity).
		Float64("price", price).Msg("Order filled")
	return nil
}

// fillPrice decides eligibility and the execution price for an order
// against a quote.
//
//	MARKET fills at the ask (buy) or bid (sell), falling back to LTP
//	when the book side is empty.
//	LIMIT becomes eligible once LTP crosses the limit and fills at the
//	last price, which can be better than the limit.
//	SL arms at the trigger and fills at the limit; it executes when LTP
//	is between trigger and limit, inclusive.
//	SL-M arms at the trigger and fills like a market order.
func fillPrice(order *models.Order, q *models.Quote) (float64, bool) {
	if q == nil || q.LTP <= 0 {
		return 0, false
	}

	marketPrice := func() float64 {
		if order.Side == models.OrderSideBuy {
			if q.Ask > 0 {
				return q.Ask
			}
		} else if q.Bid > 0 {
			return q.Bid
		}
		return q.LTP
	}

	switch order.Type {
	case models.OrderTypeMarket:
		return marketPrice(), true

	case models.OrderTypeLimit:
		if order.Side == models.OrderSideBuy && q.LTP <= order.Price {
			return q.LTP, true
		}
		if order.Side == models.OrderSideSell && q.LTP >= order.Price {
			return q.LTP, true
		}
		return 0, false

	case models.OrderTypeStopLoss:
		// Buy stop: trigger <= LTP <= limit. Sell stop: limit <= LTP <= trigger.
		if order.Side == models.OrderSideBuy && q.LTP >= order.TriggerPrice && q.LTP <= order.Price {
			return order.Price, true
		}
		if order.Side == models.OrderSideSell && q.LTP <= order.TriggerPrice && q.LTP >= order.Price {
			return order.Price, true
		}
		return 0, false

	case models.OrderTypeStopLossM:
		if order.Side == models.OrderSideBuy && q.LTP >= order.TriggerPrice {
			return marketPrice(), true
		}
		if order.Side == models.OrderSideSell && q.LTP <= order.TriggerPrice {
			return marketPrice(), true
		}
		return 0, false
	}
	return 0, false
}
