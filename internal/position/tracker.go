// Package position maintains open positions: fill application with
// netting, mark-to-market, session counter rollover, and contract expiry.
package position

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub012/internal/catalog"
	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/ledger"
	"github.com/marketcalls/openalgo-sub012/internal/locks"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/internal/quotes"
	"github.com/marketcalls/openalgo-sub012/internal/store"
	"github.com/marketcalls/openalgo-sub012/pkg/utils"
)

// Tracker owns all position row mutations.
type Tracker struct {
	store   store.DataStore
	ledger  *ledger.Ledger
	catalog *catalog.Catalog
	quotes  quotes.Provider
	locks   *locks.Registry
	logger  zerolog.Logger
}

// NewTracker creates a position tracker.
func NewTracker(ds store.DataStore, lg *ledger.Ledger, cat *catalog.Catalog, qp quotes.Provider, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:   ds,
		ledger:  lg,
		catalog: cat,
		quotes:  qp,
		locks:   locks.NewRegistry(),
		logger:  logger.With().Str("component", "position").Logger(),
	}
}

func positionLockKey(userID, symbol string, exchange models.Exchange, product models.ProductType) string {
	return "pos:" + userID + ":" + string(exchange) + ":" + symbol + ":" + string(product)
}

// ApplyFill folds a fill into the position book and settles the margin
// flow with the ledger. The order's frozen margin funds the position on
// opening fills and is released on closing fills; the sum of position
// margin rows always equals the account's used margin afterwards.
func (t *Tracker) ApplyFill(ctx context.Context, order *models.Order, fillPrice float64) error {
	unlock := t.locks.Lock(positionLockKey(order.UserID, order.Symbol, order.Exchange, order.Product))
	defer unlock()

	now := time.Now()
	fillSigned := order.SignedQuantity()

	pos, err := t.store.GetPosition(ctx, order.UserID, order.Symbol, order.Exchange, order.Product)
	if err != nil && !stderrors.Is(err, errors.ErrPositionNotFound) {
		return err
	}

	// Opening: no position, or fill in the same direction.
	if pos == nil || pos.Quantity == 0 || sameSign(pos.Quantity, fillSigned) {
		return t.open(ctx, pos, order, fillPrice, now)
	}

	closeQty := order.Quantity
	if closeQty > pos.AbsQuantity() {
		closeQty = pos.AbsQuantity()
	}
	realized := realizedPnL(pos.Quantity, pos.AveragePrice, fillPrice, closeQty)

	switch {
	case order.Quantity < pos.AbsQuantity():
		return t.reduce(ctx, pos, order, closeQty, realized, now)
	case order.Quantity == pos.AbsQuantity():
		return t.close(ctx, pos, order, fillPrice, realized, now)
	default:
		return t.reverse(ctx, pos, order, fillPrice, closeQty, realized, now)
	}
}

// open creates a position or adds to one in the same direction. The
// order's frozen margin transfers to the position row; used margin is
// unchanged.
func (t *Tracker) open(ctx context.Context, pos *models.Position, order *models.Order, fillPrice float64, now time.Time) error {
	fillSigned := order.SignedQuantity()
	if pos == nil || pos.Quantity == 0 {
		created := now
		var realized, todayRealized float64
		margin := order.MarginBlocked
		if pos != nil {
			// Flat row left behind by a same-cycle close; carry its
			// realized history forward.
			realized = pos.RealizedPnL
			todayRealized = pos.TodayRealizedPnL
			margin = utils.RoundMoney(pos.MarginBlocked + order.MarginBlocked)
			created = pos.CreatedAt
		}
		fresh := &models.Position{
			UserID:           order.UserID,
			Symbol:           order.Symbol,
			Exchange:         order.Exchange,
			Product:          order.Product,
			Quantity:         fillSigned,
			AveragePrice:     fillPrice,
			LTP:              fillPrice,
			RealizedPnL:      realized,
			TodayRealizedPnL: todayRealized,
			MarginBlocked:    margin,
			CreatedAt:        created,
			UpdatedAt:        now,
		}
		return t.store.UpsertPosition(ctx, fresh)
	}

	newQty := pos.Quantity + fillSigned
	pos.AveragePrice = utils.WeightedAverage(pos.AveragePrice, pos.AbsQuantity(), fillPrice, order.Quantity)
	pos.Quantity = newQty
	pos.LTP = fillPrice
	pos.MarginBlocked = utils.RoundMoney(pos.MarginBlocked + order.MarginBlocked)
	pos.UpdatedAt = now
	return t.store.UpsertPosition(ctx, pos)
}

// reduce partially closes a position. The proportional share of the
// position margin plus the exit order's full frozen margin is released.
func (t *Tracker) reduce(ctx context.Context, pos *models.Position, order *models.Order, closeQty int, realized float64, now time.Time) error {
	releasedPos := utils.ProportionalShare(pos.MarginBlocked, closeQty, pos.AbsQuantity())

	if pos.Quantity > 0 {
		pos.Quantity -= closeQty
	} else {
		pos.Quantity += closeQty
	}
	pos.MarginBlocked = utils.RoundMoney(pos.MarginBlocked - releasedPos)
	pos.RealizedPnL = utils.RoundMoney(pos.RealizedPnL + realized)
	pos.TodayRealizedPnL = utils.RoundMoney(pos.TodayRealizedPnL + realized)
	pos.UpdatedAt = now
	if err := t.store.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	return t.ledger.Release(ctx, order.UserID, utils.RoundMoney(releasedPos+order.MarginBlocked), realized)
}

// close fully closes a position and releases all of its margin plus the
// exit order's frozen margin. The row stays behind with zero quantity so
// the day's realized P&L remains visible; the session rollover prunes it
// at the next boundary.
func (t *Tracker) close(ctx context.Context, pos *models.Position, order *models.Order, fillPrice, realized float64, now time.Time) error {
	released := utils.RoundMoney(pos.MarginBlocked + order.MarginBlocked)

	pos.Quantity = 0
	pos.LTP = fillPrice
	pos.PnL = 0
	pos.PnLPercent = 0
	pos.MarginBlocked = 0
	pos.RealizedPnL = utils.RoundMoney(pos.RealizedPnL + realized)
	pos.TodayRealizedPnL = utils.RoundMoney(pos.TodayRealizedPnL + realized)
	pos.UpdatedAt = now
	if err := t.store.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	if err := t.ledger.Release(ctx, order.UserID, released, realized); err != nil {
		return err
	}
	t.logger.Debug().Str("user", pos.UserID).Str("symbol", pos.Symbol).
		Float64("realized", realized).Msg("Position closed")
	return nil
}

// reverse closes the existing position and opens the remainder in the
// opposite direction at the fill price. The exit order's frozen margin
// splits pro rata: the closing share is released, the remainder funds
// the new position.
func (t *Tracker) reverse(ctx context.Context, pos *models.Position, order *models.Order, fillPrice float64, closeQty int, realized float64, now time.Time) error {
	remainder := order.Quantity - closeQty
	closeShare := utils.ProportionalShare(order.MarginBlocked, closeQty, order.Quantity)
	remainderMargin := utils.RoundMoney(order.MarginBlocked - closeShare)
	released := utils.RoundMoney(pos.MarginBlocked + closeShare)

	newQty := remainder
	if order.Side == models.OrderSideSell {
		newQty = -remainder
	}
	pos.Quantity = newQty
	pos.AveragePrice = fillPrice
	pos.LTP = fillPrice
	pos.MarginBlocked = remainderMargin
	pos.RealizedPnL = utils.RoundMoney(pos.RealizedPnL + realized)
	pos.TodayRealizedPnL = utils.RoundMoney(pos.TodayRealizedPnL + realized)
	pos.CreatedAt = now
	pos.UpdatedAt = now
	if err := t.store.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	return t.ledger.Release(ctx, order.UserID, released, realized)
}

// realizedPnL books P&L for closing closeQty units against the average.
func realizedPnL(posQty int, avgPrice, fillPrice float64, closeQty int) float64 {
	perUnit := fillPrice - avgPrice
	if posQty < 0 {
		perUnit = avgPrice - fillPrice
	}
	return utils.RoundMoney(perUnit * float64(closeQty))
}

func sameSign(a, b int) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// ============================================================================
// Mark-to-market
// ============================================================================

// MarkToMarket refreshes LTP and unrealized P&L on every position and
// rolls the per-user totals into the fund accounts. Quote failures skip
// the affected symbols; stale marks are better than no marks.
func (t *Tracker) MarkToMarket(ctx context.Context) error {
	positions, err := t.store.ListAllPositions(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	seen := map[quotes.InstrumentKey]bool{}
	var keys []quotes.InstrumentKey
	for i := range positions {
		k := quotes.InstrumentKey{Symbol: positions[i].Symbol, Exchange: positions[i].Exchange}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	marks, err := t.quotes.GetQuotesBatch(ctx, keys)
	if err != nil {
		// Fall back to per-symbol fetches so one bad symbol cannot
		// stall the whole sweep.
		marks = map[quotes.InstrumentKey]*models.Quote{}
		for _, k := range keys {
			q, qerr := t.quotes.GetQuote(ctx, k)
			if qerr != nil {
				t.logger.Warn().Str("instrument", k.String()).Err(qerr).Msg("Quote unavailable for mark")
				continue
			}
			marks[k] = q
		}
	}

	unrealizedByUser := map[string]float64{}
	for i := range positions {
		p := &positions[i]
		k := quotes.InstrumentKey{Symbol: p.Symbol, Exchange: p.Exchange}
		q, ok := marks[k]
		if ok && q.LTP > 0 {
			p.LTP = q.LTP
		}
		pnl := utils.RoundMoney((p.LTP - p.AveragePrice) * float64(p.Quantity))
		pct := 0.0
		if invested := p.AveragePrice * float64(p.AbsQuantity()); invested != 0 {
			pct = utils.RoundMoney(pnl / invested * 100)
		}
		unrealizedByUser[p.UserID] += pnl

		// Field-mask update: a mark must not advance updated_at, which
		// the session rollover and expiry sweep key off.
		err := t.store.UpdatePositionFields(ctx, p.UserID, p.Symbol, p.Exchange, p.Product, map[string]interface{}{
			"ltp":         p.LTP,
			"pnl":         pnl,
			"pnl_percent": pct,
		})
		if err != nil {
			t.logger.Error().Str("symbol", p.Symbol).Err(err).Msg("Failed to persist mark")
		}
	}

	for userID, unrealized := range unrealizedByUser {
		if err := t.ledger.UpdateUnrealized(ctx, userID, unrealized); err != nil {
			t.logger.Error().Str("user", userID).Err(err).Msg("Failed to roll up unrealized P&L")
		}
	}
	return nil
}

// ============================================================================
// Session rollover
// ============================================================================

// RollSessionCounters zeroes TodayRealizedPnL on positions last modified
// before the session boundary and prunes the flat rows left behind by
// closes and expiries in the previous session. The surviving rows'
// updated_at is preserved so the rollover is idempotent within a session.
func (t *Tracker) RollSessionCounters(ctx context.Context, boundary time.Time) error {
	var rolled, pruned int
	for _, product := range []models.ProductType{models.ProductMIS, models.ProductCNC, models.ProductNRML} {
		positions, err := t.store.ListPositionsModifiedBefore(ctx, product, boundary)
		if err != nil {
			return err
		}
		for i := range positions {
			p := &positions[i]
			if p.Quantity == 0 {
				if err := t.store.DeletePosition(ctx, p.UserID, p.Symbol, p.Exchange, p.Product); err != nil {
					return fmt.Errorf("failed to prune flat position %s: %w", p.Key(), err)
				}
				pruned++
				continue
			}
			if p.TodayRealizedPnL == 0 {
				continue
			}
			err := t.store.UpdatePositionFields(ctx, p.UserID, p.Symbol, p.Exchange, p.Product, map[string]interface{}{
				"today_realized_pnl": 0.0,
			})
			if err != nil {
				return fmt.Errorf("failed to roll session counter for %s: %w", p.Key(), err)
			}
			rolled++
		}
	}
	if rolled > 0 || pruned > 0 {
		t.logger.Info().Int("positions", rolled).Int("pruned", pruned).Msg("Session counters rolled")
	}
	return nil
}

// ============================================================================
// Contract expiry
// ============================================================================

// ExpireContracts settles derivative positions whose contracts expired
// before the given day. Options settle at zero; futures settle at the
// last mark, or the average price when no mark was ever taken.
func (t *Tracker) ExpireContracts(ctx context.Context, today time.Time) error {
	positions, err := t.store.ListAllPositions(ctx)
	if err != nil {
		return err
	}

	day := utils.StartOfDay(today)
	for i := range positions {
		p := &positions[i]
		if p.Quantity == 0 {
			continue
		}
		instrType := catalog.ClassifySymbol(p.Symbol)
		if instrType == models.InstrEquity {
			continue
		}
		expiry, ok := t.catalog.Expiry(p.Symbol, p.Exchange)
		if !ok || !expiry.Before(day) {
			continue
		}

		settle := 0.0
		if instrType == models.InstrFuture {
			settle = p.LTP
			if settle <= 0 {
				settle = p.AveragePrice
			}
		}
		realized := realizedPnL(p.Quantity, p.AveragePrice, settle, p.AbsQuantity())

		// The row is flattened, not deleted: backdating updated_at to the
		// expiry date keeps the audit trail while hiding the contract
		// from the live book. The rollover prunes it at the next boundary.
		unlock := t.locks.Lock(positionLockKey(p.UserID, p.Symbol, p.Exchange, p.Product))
		err := t.store.UpdatePositionFields(ctx, p.UserID, p.Symbol, p.Exchange, p.Product, map[string]interface{}{
			"quantity":           0,
			"margin_blocked":     0.0,
			"ltp":                settle,
			"pnl":                0.0,
			"pnl_percent":        0.0,
			"realized_pnl":       utils.RoundMoney(p.RealizedPnL + realized),
			"today_realized_pnl": utils.RoundMoney(p.TodayRealizedPnL + realized),
			"updated_at":         expiry,
		})
		if err != nil {
			unlock()
			return err
		}
		if err := t.ledger.Release(ctx, p.UserID, p.MarginBlocked, realized); err != nil {
			unlock()
			return err
		}
		unlock()

		t.logger.Info().Str("user", p.UserID).Str("symbol", p.Symbol).
			Time("expiry", expiry).Float64("settle", settle).
			Float64("realized", realized).Msg("Contract expired")
	}
	return nil
}

// ComputeUnrealized sums the open P&L for a user at the stored marks.
func (t *Tracker) ComputeUnrealized(ctx context.Context, userID string) (float64, error) {
	positions, err := t.store.ListPositions(ctx, userID)
	if err != nil {
		return 0, err
	}
	var total float64
	for i := range positions {
		total += positions[i].PnL
	}
	return utils.RoundMoney(total), nil
}
