// Package scheduler drives the wall-clock lifecycle of the sandbox:
// intraday square-off, T+1 delivery settlement, session counter
// rollover, contract expiry, end-of-day snapshots, the weekly capital
// reset, and the periodic mark-to-market and reconciliation sweeps.
//
// All clock triggers are evaluated in the Asia/Kolkata zone on a
// one-minute tick; each daily job fires at most once per calendar day.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub012/internal/config"
	"github.com/marketcalls/openalgo-sub012/internal/gateway"
	"github.com/marketcalls/openalgo-sub012/internal/ledger"
	"github.com/marketcalls/openalgo-sub012/internal/metrics"
	"github.com/marketcalls/openalgo-sub012/internal/position"
	"github.com/marketcalls/openalgo-sub012/internal/store"
	"github.com/marketcalls/openalgo-sub012/pkg/utils"
)

// Scheduler owns all background lifecycle jobs.
type Scheduler struct {
	store   store.DataStore
	ledger  *ledger.Ledger
	tracker *position.Tracker
	gateway *gateway.Gateway
	cfg     *config.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu   sync.Mutex
	done map[string]string // job name -> last fired date (YYYY-MM-DD)
}

// New creates a scheduler.
func New(ds store.DataStore, lg *ledger.Ledger, tr *position.Tracker, gw *gateway.Gateway, cfg *config.Store, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:   ds,
		ledger:  lg,
		tracker: tr,
		gateway: gw,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		done:    make(map[string]string),
	}
}

// Run blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.clockLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.mtmLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
	return ctx.Err()
}

// clockLoop evaluates all wall-clock triggers once a minute.
func (s *Scheduler) clockLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().In(utils.IndiaLocation))
		}
	}
}

// tick fires every job whose trigger time has passed today.
//
// Square-off re-runs on every tick past the cutoff so intraday exposure
// created after the cutoff is still flattened; the sweep is idempotent.
// The other jobs fire once per day and are only marked done on success,
// so a failed run is retried on the next tick.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	sched := s.cfg.Current().Schedule

	for venue, hhmm := range sched.SquareOffTimes {
		if pastTrigger(hhmm, now) {
			if err := s.SquareOffVenue(ctx, venue); err != nil {
				s.logger.Error().Str("venue", venue).Err(err).Msg("Square-off failed")
			}
		}
	}
	if s.due("session", sched.SessionBoundary, now) {
		boundary := clockToday(now, sched.SessionBoundary)
		err := s.tracker.RollSessionCounters(ctx, boundary)
		if err != nil {
			s.logger.Error().Err(err).Msg("Session rollover failed")
		}
		if expErr := s.tracker.ExpireContracts(ctx, now); expErr != nil {
			s.logger.Error().Err(expErr).Msg("Expiry sweep failed")
			err = expErr
		}
		if err == nil {
			s.markDone("session", now)
		}
	}
	if s.due("settlement", sched.SettlementTime, now) {
		if err := s.SettleDeliveries(ctx, now); err != nil {
			s.logger.Error().Err(err).Msg("Settlement failed")
		} else {
			s.markDone("settlement", now)
		}
	}
	if s.due("snapshot", sched.SnapshotTime, now) {
		if err := s.TakeSnapshots(ctx, now); err != nil {
			s.logger.Error().Err(err).Msg("Snapshot failed")
		} else {
			s.markDone("snapshot", now)
		}
	}

	s.checkResets(ctx, now)
}

// due reports whether the named daily job should fire: the trigger time
// has passed and the job has not completed today.
func (s *Scheduler) due(job, hhmm string, now time.Time) bool {
	if !pastTrigger(hhmm, now) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[job] != now.Format("2006-01-02")
}

// markDone records a successful run so the job does not fire again today.
func (s *Scheduler) markDone(job string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[job] = now.Format("2006-01-02")
}

func pastTrigger(hhmm string, now time.Time) bool {
	hour, minute, err := config.ParseClock(hhmm)
	if err != nil {
		return false
	}
	return !now.Before(utils.TimeAt(now, hour, minute))
}

func clockToday(now time.Time, hhmm string) time.Time {
	hour, minute, err := config.ParseClock(hhmm)
	if err != nil {
		return utils.StartOfDay(now)
	}
	return utils.TimeAt(now, hour, minute)
}

// mtmLoop refreshes marks and reconciles accounts on a short interval.
func (s *Scheduler) mtmLoop(ctx context.Context) {
	interval := s.cfg.Current().Schedule.MTMInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tracker.MarkToMarket(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Mark-to-market failed")
			}
			s.reconcileAll(ctx)
		}
	}
}

func (s *Scheduler) reconcileAll(ctx context.Context) {
	accounts, err := s.store.ListFunds(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list accounts for reconciliation")
		return
	}
	for i := range accounts {
		drifted, err := s.ledger.Reconcile(ctx, accounts[i].UserID)
		if drifted {
			s.metrics.ReconcileDrift.Inc()
		}
		if err != nil {
			s.logger.Warn().Str("user", accounts[i].UserID).Err(err).Msg("Reconciliation drift")
		}
	}
}

// checkResets applies the weekly capital reset to every account past
// the boundary.
func (s *Scheduler) checkResets(ctx context.Context, now time.Time) {
	accounts, err := s.store.ListFunds(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list accounts for reset check")
		return
	}
	for i := range accounts {
		reset, err := s.ledger.ResetIfDue(ctx, accounts[i].UserID, now)
		if err != nil {
			s.logger.Error().Str("user", accounts[i].UserID).Err(err).Msg("Reset check failed")
			continue
		}
		if reset {
			s.metrics.Resets.Inc()
		}
	}
}
