package scheduler

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/pkg/utils"
)

// SettleDeliveries converts CNC positions from previous sessions into
// holdings, T+1 style. Positions touched today are left alone; they
// settle tomorrow.
//
// A long delivery releases its frozen margin and pays the purchase cost
// out of cash, so the value moves from the fund account into inventory.
// A short delivery removes shares from holdings and returns their cost
// basis to cash, with the price difference booked as realized P&L.
func (s *Scheduler) SettleDeliveries(ctx context.Context, now time.Time) error {
	cutoff := utils.StartOfDay(now)
	positions, err := s.store.ListPositionsModifiedBefore(ctx, models.ProductCNC, cutoff)
	if err != nil {
		return err
	}

	for i := range positions {
		p := &positions[i]
		if p.Quantity == 0 {
			if err := s.store.DeletePosition(ctx, p.UserID, p.Symbol, p.Exchange, p.Product); err != nil {
				s.logger.Error().Str("symbol", p.Symbol).Err(err).Msg("Failed to drop flat delivery position")
			}
			continue
		}

		var err error
		if p.Quantity > 0 {
			err = s.settleLong(ctx, p, now)
		} else {
			err = s.settleShort(ctx, p, now)
		}
		if err != nil {
			s.logger.Error().Str("user", p.UserID).Str("symbol", p.Symbol).
				Err(err).Msg("Settlement failed for position")
			continue
		}
		s.metrics.Settlements.Inc()
	}
	return nil
}

func (s *Scheduler) settleLong(ctx context.Context, p *models.Position, now time.Time) error {
	cost := utils.RoundMoney(p.AveragePrice * float64(p.Quantity))

	holding, err := s.store.GetHolding(ctx, p.UserID, p.Symbol, p.Exchange)
	if err != nil {
		if !stderrors.Is(err, errors.ErrHoldingNotFound) {
			return err
		}
		holding = &models.Holding{
			UserID:   p.UserID,
			Symbol:   p.Symbol,
			Exchange: p.Exchange,
		}
	}

	if holding.Quantity+p.Quantity > 0 {
		holding.AveragePrice = utils.WeightedAverage(holding.AveragePrice, holding.Quantity, p.AveragePrice, p.Quantity)
	}
	holding.Quantity += p.Quantity
	holding.LTP = p.LTP
	holding.InvestedValue = utils.RoundMoney(holding.AveragePrice * float64(holding.Quantity))
	holding.CurrentValue = utils.RoundMoney(holding.LTP * float64(holding.Quantity))
	holding.PnL = utils.RoundMoney(holding.CurrentValue - holding.InvestedValue)
	if holding.InvestedValue != 0 {
		holding.PnLPercent = utils.RoundMoney(holding.PnL / holding.InvestedValue * 100)
	}
	holding.SettledAt = now

	if err := s.store.UpsertHolding(ctx, holding); err != nil {
		return err
	}
	if err := s.store.DeletePosition(ctx, p.UserID, p.Symbol, p.Exchange, p.Product); err != nil {
		return err
	}

	// Unfreeze the margin, then pay for the shares. Net effect: used
	// margin drops by the frozen amount and cash drops by the cost.
	if err := s.ledger.Release(ctx, p.UserID, p.MarginBlocked, 0); err != nil {
		return err
	}
	if err := s.ledger.Debit(ctx, p.UserID, cost); err != nil {
		return err
	}

	s.logger.Info().Str("user", p.UserID).Str("symbol", p.Symbol).
		Int("qty", p.Quantity).Float64("cost", cost).Msg("Delivery settled into holdings")
	return nil
}

func (s *Scheduler) settleShort(ctx context.Context, p *models.Position, now time.Time) error {
	sellQty := p.AbsQuantity()

	holding, err := s.store.GetHolding(ctx, p.UserID, p.Symbol, p.Exchange)
	if err != nil {
		return err
	}
	if sellQty > holding.Quantity {
		// The gateway guards against overselling; trust the holding.
		sellQty = holding.Quantity
	}

	costBasis := utils.RoundMoney(holding.AveragePrice * float64(sellQty))
	realized := utils.RoundMoney((p.AveragePrice - holding.AveragePrice) * float64(sellQty))

	holding.Quantity -= sellQty
	if holding.Quantity <= 0 {
		if err := s.store.DeleteHolding(ctx, p.UserID, p.Symbol, p.Exchange); err != nil {
			return err
		}
	} else {
		holding.InvestedValue = utils.RoundMoney(holding.AveragePrice * float64(holding.Quantity))
		holding.CurrentValue = utils.RoundMoney(holding.LTP * float64(holding.Quantity))
		holding.PnL = utils.RoundMoney(holding.CurrentValue - holding.InvestedValue)
		holding.SettledAt = now
		if err := s.store.UpsertHolding(ctx, holding); err != nil {
			return err
		}
	}

	if err := s.store.DeletePosition(ctx, p.UserID, p.Symbol, p.Exchange, p.Product); err != nil {
		return err
	}

	// Return the shares' cost basis to cash and book the difference to
	// the sale price as realized P&L.
	if err := s.ledger.Release(ctx, p.UserID, p.MarginBlocked, realized); err != nil {
		return err
	}
	if err := s.ledger.Credit(ctx, p.UserID, costBasis); err != nil {
		return err
	}

	s.logger.Info().Str("user", p.UserID).Str("symbol", p.Symbol).
		Int("qty", sellQty).Float64("realized", realized).Msg("Delivery sale settled")
	return nil
}
