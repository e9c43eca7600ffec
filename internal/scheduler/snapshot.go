package scheduler

import (
	"context"
	"time"

	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/pkg/utils"
)

// TakeSnapshots writes the immutable end-of-day record for every fund
// account. Portfolio value is capital plus open P&L plus the marked
// value of settled holdings.
func (s *Scheduler) TakeSnapshots(ctx context.Context, now time.Time) error {
	accounts, err := s.store.ListFunds(ctx)
	if err != nil {
		return err
	}

	for i := range accounts {
		f := &accounts[i]

		unrealized, err := s.tracker.ComputeUnrealized(ctx, f.UserID)
		if err != nil {
			s.logger.Error().Str("user", f.UserID).Err(err).Msg("Snapshot skipped")
			continue
		}

		holdings, err := s.store.ListHoldings(ctx, f.UserID)
		if err != nil {
			s.logger.Error().Str("user", f.UserID).Err(err).Msg("Snapshot skipped")
			continue
		}
		var holdingsValue float64
		for j := range holdings {
			holdingsValue += holdings[j].CurrentValue
		}

		snap := &models.Snapshot{
			UserID:         f.UserID,
			Date:           utils.StartOfDay(now),
			RealizedPnL:    f.RealizedPnL,
			UnrealizedPnL:  unrealized,
			TotalPnL:       utils.RoundMoney(f.RealizedPnL + unrealized),
			PortfolioValue: utils.RoundMoney(f.TotalCapital + unrealized + holdingsValue),
		}
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Error().Str("user", f.UserID).Err(err).Msg("Failed to save snapshot")
		}
	}
	return nil
}
