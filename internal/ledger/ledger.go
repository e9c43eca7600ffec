// Package ledger manages virtual fund accounts: margin blocking and
// release, realized P&L booking, drift reconciliation, and capital reset.
//
// Every mutation runs under a per-user lock and maintains the identity
// TotalCapital == AvailableCash + UsedMargin + RealizedPnL.
package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub012/internal/config"
	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/locks"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/internal/store"
	"github.com/marketcalls/openalgo-sub012/pkg/utils"
)

// Ledger owns all fund account mutations.
type Ledger struct {
	store  store.DataStore
	cfg    *config.Store
	locks  *locks.Registry
	logger zerolog.Logger
}

// New creates a ledger backed by the given store.
func New(ds store.DataStore, cfg *config.Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  ds,
		cfg:    cfg,
		locks:  locks.NewRegistry(),
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// lockUser serializes fund mutations per user.
func (l *Ledger) lockUser(userID string) func() {
	return l.locks.Lock("funds:" + userID)
}

// GetFunds returns the fund account for a user, creating it with the
// configured starting capital on first touch.
func (l *Ledger) GetFunds(ctx context.Context, userID string) (*models.Funds, error) {
	unlock := l.lockUser(userID)
	defer unlock()
	return l.getOrCreate(ctx, userID)
}

func (l *Ledger) getOrCreate(ctx context.Context, userID string) (*models.Funds, error) {
	funds, err := l.store.GetFunds(ctx, userID)
	if err == nil {
		return funds, nil
	}
	if !stderrors.Is(err, errors.ErrFundsNotFound) {
		return nil, err
	}

	capital := l.cfg.Current().Sandbox.StartingCapital
	funds = &models.Funds{
		UserID:        userID,
		TotalCapital:  capital,
		AvailableCash: capital,
		LastReset:     time.Now(),
	}
	if err := l.store.SaveFunds(ctx, funds); err != nil {
		return nil, fmt.Errorf("failed to create funds for %s: %w", userID, err)
	}
	l.logger.Info().Str("user", userID).Float64("capital", capital).Msg("Fund account created")
	return funds, nil
}

// RequiredMargin computes the margin an order must block.
//
// Futures and equity positions block notional / leverage; option buys
// block the full premium and option sells block the short-premium margin
// at the configured (default 1x) leverage.
func (l *Ledger) RequiredMargin(order *models.Order, price float64, inst models.InstrumentType) float64 {
	notional := price * float64(order.Quantity)
	lev := l.leverageFor(order, inst)
	if lev <= 0 {
		lev = 1
	}
	return utils.RoundMoney(notional / lev)
}

func (l *Ledger) leverageFor(order *models.Order, inst models.InstrumentType) float64 {
	cfg := l.cfg.Current().Leverage
	switch {
	case inst == models.InstrFuture:
		return cfg.Futures
	case inst.IsOption():
		if order.Side == models.OrderSideBuy {
			return cfg.OptionBuy
		}
		return cfg.OptionSell
	case order.Product == models.ProductCNC:
		return cfg.EquityCNC
	default:
		return cfg.EquityMIS
	}
}

// Block freezes margin against available cash. The block is atomic: it
// either succeeds for the full amount or fails without partial effect.
func (l *Ledger) Block(ctx context.Context, userID string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("negative margin amount: %.2f", amount)
	}
	unlock := l.lockUser(userID)
	defer unlock()

	funds, err := l.getOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if funds.AvailableCash < amount {
		return fmt.Errorf("%w: need %.2f, have %.2f",
			errors.ErrInsufficientMargin, amount, funds.AvailableCash)
	}

	funds.AvailableCash = utils.RoundMoney(funds.AvailableCash - amount)
	funds.UsedMargin = utils.RoundMoney(funds.UsedMargin + amount)
	if err := l.store.SaveFunds(ctx, funds); err != nil {
		return fmt.Errorf("failed to block margin: %w", err)
	}

	l.logger.Debug().Str("user", userID).Float64("amount", amount).
		Float64("cash", funds.AvailableCash).Float64("used", funds.UsedMargin).
		Msg("Margin blocked")
	return nil
}

// Release returns margin to cash and books a realized P&L delta in the
// same mutation. Realized P&L lives in its own bucket: it adjusts total
// capital through the accounting identity, never through cash.
func (l *Ledger) Release(ctx context.Context, userID string, amount, realizedDelta float64) error {
	unlock := l.lockUser(userID)
	defer unlock()

	funds, err := l.getOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	funds.AvailableCash = utils.RoundMoney(funds.AvailableCash + amount)
	funds.UsedMargin = utils.RoundMoney(funds.UsedMargin - amount)
	funds.RealizedPnL = utils.RoundMoney(funds.RealizedPnL + realizedDelta)
	funds.TotalCapital = utils.RoundMoney(funds.AvailableCash + funds.UsedMargin + funds.RealizedPnL)
	funds.TotalPnL = utils.RoundMoney(funds.RealizedPnL + funds.UnrealizedPnL)
	if err := l.store.SaveFunds(ctx, funds); err != nil {
		return fmt.Errorf("failed to release margin: %w", err)
	}

	l.logger.Debug().Str("user", userID).Float64("amount", amount).
		Float64("realized_delta", realizedDelta).Float64("used", funds.UsedMargin).
		Msg("Margin released")
	return nil
}

// Credit adds cash to the account outside the margin flow. Used by T+1
// settlement to return a short-delivery cost basis.
func (l *Ledger) Credit(ctx context.Context, userID string, amount float64) error {
	unlock := l.lockUser(userID)
	defer unlock()

	funds, err := l.getOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	funds.AvailableCash = utils.RoundMoney(funds.AvailableCash + amount)
	funds.TotalCapital = utils.RoundMoney(funds.AvailableCash + funds.UsedMargin + funds.RealizedPnL)
	if err := l.store.SaveFunds(ctx, funds); err != nil {
		return fmt.Errorf("failed to credit funds: %w", err)
	}
	return nil
}

// Debit removes cash outside the margin flow. Used by T+1 settlement when
// a long delivery converts margin plus remaining cash into inventory.
func (l *Ledger) Debit(ctx context.Context, userID string, amount float64) error {
	return l.Credit(ctx, userID, -amount)
}

// UpdateUnrealized refreshes the mark-to-market fields. Does not touch
// cash, margin, or realized P&L.
func (l *Ledger) UpdateUnrealized(ctx context.Context, userID string, unrealized float64) error {
	unlock := l.lockUser(userID)
	defer unlock()

	funds, err := l.getOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	funds.UnrealizedPnL = utils.RoundMoney(unrealized)
	funds.TotalPnL = utils.RoundMoney(funds.RealizedPnL + funds.UnrealizedPnL)
	return l.store.SaveFunds(ctx, funds)
}

// Reconcile compares the account's used margin against the sum of
// position margin rows. It reports whether drift beyond the configured
// tolerance was found; when auto-fix is enabled the account is repaired
// by trusting the position rows, keeping total capital intact, otherwise
// the drift is returned as a DriftError.
func (l *Ledger) Reconcile(ctx context.Context, userID string) (bool, error) {
	unlock := l.lockUser(userID)
	defer unlock()

	funds, err := l.getOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}

	positions, err := l.store.ListPositions(ctx, userID)
	if err != nil {
		return false, err
	}
	var positionSum float64
	for i := range positions {
		positionSum += positions[i].MarginBlocked
	}
	positionSum = utils.RoundMoney(positionSum)

	cfg := l.cfg.Current().Sandbox
	drift := funds.UsedMargin - positionSum
	if drift < 0 {
		drift = -drift
	}
	if drift <= cfg.ReconcileTolerance {
		return false, nil
	}

	driftErr := &errors.DriftError{
		UserID:      userID,
		UsedMargin:  funds.UsedMargin,
		PositionSum: positionSum,
	}
	l.logger.Warn().Str("user", userID).
		Float64("used_margin", funds.UsedMargin).
		Float64("position_sum", positionSum).
		Float64("drift", driftErr.Drift()).
		Bool("auto_fix", cfg.ReconcileAutoFix).
		Msg("Margin drift detected")

	if !cfg.ReconcileAutoFix {
		return true, driftErr
	}

	// Trust the position rows; move the difference between cash and
	// used margin so total capital is unchanged.
	delta := funds.UsedMargin - positionSum
	funds.UsedMargin = positionSum
	funds.AvailableCash = utils.RoundMoney(funds.AvailableCash + delta)
	if err := l.store.SaveFunds(ctx, funds); err != nil {
		return true, fmt.Errorf("failed to persist reconciled funds: %w", err)
	}
	return true, nil
}

// ResetIfDue performs the weekly capital reset when the configured
// day/time boundary has passed since the account's last reset.
func (l *Ledger) ResetIfDue(ctx context.Context, userID string, now time.Time) (bool, error) {
	cfg := l.cfg.Current().Sandbox
	if cfg.ResetDay == "" {
		return false, nil
	}
	day, err := config.ParseWeekday(cfg.ResetDay)
	if err != nil {
		return false, err
	}
	hour, minute, err := config.ParseClock(cfg.ResetTime)
	if err != nil {
		return false, err
	}

	unlock := l.lockUser(userID)
	defer unlock()

	funds, err := l.getOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}

	due := lastResetBoundary(now, day, hour, minute)
	if !funds.LastReset.Before(due) {
		return false, nil
	}
	if err := l.reset(ctx, funds, now); err != nil {
		return false, err
	}
	return true, nil
}

// Reset forces an immediate capital reset regardless of schedule.
func (l *Ledger) Reset(ctx context.Context, userID string) error {
	unlock := l.lockUser(userID)
	defer unlock()

	funds, err := l.getOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	return l.reset(ctx, funds, time.Now())
}

func (l *Ledger) reset(ctx context.Context, funds *models.Funds, now time.Time) error {
	// Remove the portfolio first so a crash between the two writes is
	// caught by reconciliation rather than leaving phantom margin.
	if err := l.store.DeleteUserPortfolio(ctx, funds.UserID); err != nil {
		return fmt.Errorf("failed to clear portfolio: %w", err)
	}

	capital := l.cfg.Current().Sandbox.StartingCapital
	funds.TotalCapital = capital
	funds.AvailableCash = capital
	funds.UsedMargin = 0
	funds.RealizedPnL = 0
	funds.UnrealizedPnL = 0
	funds.TotalPnL = 0
	funds.LastReset = now
	funds.ResetCount++
	if err := l.store.SaveFunds(ctx, funds); err != nil {
		return fmt.Errorf("failed to reset funds: %w", err)
	}

	l.logger.Info().Str("user", funds.UserID).Float64("capital", capital).
		Int("reset_count", funds.ResetCount).Msg("Capital reset")
	return nil
}

// lastResetBoundary returns the most recent reset boundary at or before now.
func lastResetBoundary(now time.Time, day time.Weekday, hour, minute int) time.Time {
	loc := utils.IndiaLocation
	local := now.In(loc)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	daysBack := (int(local.Weekday()) - int(day) + 7) % 7
	boundary = boundary.AddDate(0, 0, -daysBack)
	if boundary.After(local) {
		boundary = boundary.AddDate(0, 0, -7)
	}
	return boundary
}
