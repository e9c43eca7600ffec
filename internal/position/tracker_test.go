package position

import (
	"context"
	stderrors "errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub012/internal/catalog"
	"github.com/marketcalls/openalgo-sub012/internal/config"
	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/ledger"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/internal/quotes"
	"github.com/marketcalls/openalgo-sub012/internal/store"
)

// stubQuotes serves canned quotes for mark-to-market tests.
type stubQuotes struct {
	marks map[quotes.InstrumentKey]*models.Quote
}

func (s *stubQuotes) GetQuote(ctx context.Context, key quotes.InstrumentKey) (*models.Quote, error) {
	q, ok := s.marks[key]
	if !ok {
		return nil, errors.ErrQuoteUnavailable
	}
	return q, nil
}

func (s *stubQuotes) GetQuotesBatch(ctx context.Context, keys []quotes.InstrumentKey) (map[quotes.InstrumentKey]*models.Quote, error) {
	out := make(map[quotes.InstrumentKey]*models.Quote, len(keys))
	for _, k := range keys {
		if q, ok := s.marks[k]; ok {
			out[k] = q
		}
	}
	return out, nil
}

type fixture struct {
	store   store.DataStore
	ledger  *ledger.Ledger
	tracker *Tracker
	catalog *catalog.Catalog
	quotes  *stubQuotes
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ds, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { ds.Close() })

	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			StartingCapital:    10000000,
			ReconcileTolerance: 0.05,
			ReconcileAutoFix:   false,
		},
		Leverage: config.LeverageConfig{EquityMIS: 5, EquityCNC: 1, Futures: 10, OptionBuy: 1, OptionSell: 1},
	}
	cfgStore := config.NewStore("", cfg, 0)

	lg := ledger.New(ds, cfgStore, zerolog.Nop())
	cat := catalog.New()
	sq := &stubQuotes{marks: map[quotes.InstrumentKey]*models.Quote{}}
	return &fixture{
		store:   ds,
		ledger:  lg,
		tracker: NewTracker(ds, lg, cat, sq, zerolog.Nop()),
		catalog: cat,
		quotes:  sq,
	}
}

// fillOrder blocks margin and applies a fill, the way the gateway and
// engine do it end to end.
func (f *fixture) fillOrder(t *testing.T, side models.OrderSide, qty int, price, margin float64) *models.Order {
	t.Helper()
	ctx := context.Background()
	order := &models.Order{
		ID: "ord-" + time.Now().Format("150405.000000000"), UserID: "alice",
		Symbol: "RELIANCE", Exchange: models.NSE, Side: side,
		Type: models.OrderTypeMarket, Product: models.ProductMIS,
		Quantity: qty, MarginBlocked: margin,
	}
	if err := f.ledger.Block(ctx, order.UserID, margin); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if err := f.tracker.ApplyFill(ctx, order, price); err != nil {
		t.Fatalf("ApplyFill failed: %v", err)
	}
	return order
}

func (f *fixture) position(t *testing.T) *models.Position {
	t.Helper()
	pos, err := f.store.GetPosition(context.Background(), "alice", "RELIANCE", models.NSE, models.ProductMIS)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	return pos
}

func (f *fixture) checkMarginSum(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	funds, err := f.ledger.GetFunds(ctx, "alice")
	if err != nil {
		t.Fatalf("GetFunds failed: %v", err)
	}
	positions, err := f.store.ListPositions(ctx, "alice")
	if err != nil {
		t.Fatalf("ListPositions failed: %v", err)
	}
	var sum float64
	for i := range positions {
		sum += positions[i].MarginBlocked
	}
	if math.Abs(sum-funds.UsedMargin) > 0.01 {
		t.Errorf("margin sum %.2f != used margin %.2f", sum, funds.UsedMargin)
	}
	identity := funds.AvailableCash + funds.UsedMargin + funds.RealizedPnL
	if math.Abs(identity-funds.TotalCapital) > 0.01 {
		t.Errorf("identity broken: %.2f != %.2f", identity, funds.TotalCapital)
	}
}

func TestApplyFillAddAveragesPrice(t *testing.T) {
	f := newFixture(t)

	f.fillOrder(t, models.OrderSideBuy, 10, 800, 1600)
	f.fillOrder(t, models.OrderSideBuy, 5, 820, 820)

	pos := f.position(t)
	if pos.Quantity != 15 {
		t.Errorf("Quantity = %d, want 15", pos.Quantity)
	}
	if pos.AveragePrice != 806.6667 {
		t.Errorf("AveragePrice = %.4f, want 806.6667", pos.AveragePrice)
	}
	if pos.MarginBlocked != 2420 {
		t.Errorf("MarginBlocked = %.2f, want 2420", pos.MarginBlocked)
	}
	f.checkMarginSum(t)
}

func TestApplyFillPartialClose(t *testing.T) {
	f := newFixture(t)

	f.fillOrder(t, models.OrderSideBuy, 10, 800, 1600)
	f.fillOrder(t, models.OrderSideSell, 4, 850, 680)

	pos := f.position(t)
	if pos.Quantity != 6 {
		t.Errorf("Quantity = %d, want 6", pos.Quantity)
	}
	if pos.AveragePrice != 800 {
		t.Errorf("AveragePrice = %.2f, want 800 (unchanged on close)", pos.AveragePrice)
	}
	// 4/10 of the 1600 entry margin released
	if pos.MarginBlocked != 960 {
		t.Errorf("MarginBlocked = %.2f, want 960", pos.MarginBlocked)
	}
	if pos.RealizedPnL != 200 {
		t.Errorf("RealizedPnL = %.2f, want 200", pos.RealizedPnL)
	}
	if pos.TodayRealizedPnL != 200 {
		t.Errorf("TodayRealizedPnL = %.2f, want 200", pos.TodayRealizedPnL)
	}
	f.checkMarginSum(t)

	ctx := context.Background()
	funds, _ := f.ledger.GetFunds(ctx, "alice")
	if funds.RealizedPnL != 200 {
		t.Errorf("ledger RealizedPnL = %.2f, want 200", funds.RealizedPnL)
	}
}

func TestApplyFillFullCloseKeepsFlatRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fillOrder(t, models.OrderSideBuy, 10, 800, 1600)
	f.fillOrder(t, models.OrderSideSell, 10, 850, 1700)

	// The closed position stays visible with its day's realized P&L
	// until the next session boundary.
	pos := f.position(t)
	if pos.Quantity != 0 {
		t.Errorf("Quantity = %d, want 0", pos.Quantity)
	}
	if pos.MarginBlocked != 0 {
		t.Errorf("MarginBlocked = %.2f, want 0", pos.MarginBlocked)
	}
	if pos.RealizedPnL != 500 {
		t.Errorf("RealizedPnL = %.2f, want 500", pos.RealizedPnL)
	}
	if pos.TodayRealizedPnL != 500 {
		t.Errorf("TodayRealizedPnL = %.2f, want 500", pos.TodayRealizedPnL)
	}

	funds, _ := f.ledger.GetFunds(ctx, "alice")
	if funds.UsedMargin != 0 {
		t.Errorf("UsedMargin = %.2f, want 0 after full close", funds.UsedMargin)
	}
	if funds.RealizedPnL != 500 {
		t.Errorf("RealizedPnL = %.2f, want 500", funds.RealizedPnL)
	}
	f.checkMarginSum(t)
}

func TestApplyFillReopenAfterCloseCarriesRealized(t *testing.T) {
	f := newFixture(t)

	f.fillOrder(t, models.OrderSideBuy, 10, 800, 1600)
	f.fillOrder(t, models.OrderSideSell, 10, 850, 1700)
	f.fillOrder(t, models.OrderSideBuy, 5, 830, 830)

	pos := f.position(t)
	if pos.Quantity != 5 {
		t.Errorf("Quantity = %d, want 5", pos.Quantity)
	}
	if pos.AveragePrice != 830 {
		t.Errorf("AveragePrice = %.2f, want 830", pos.AveragePrice)
	}
	if pos.RealizedPnL != 500 {
		t.Errorf("RealizedPnL = %.2f, want 500 carried across the reopen", pos.RealizedPnL)
	}
	f.checkMarginSum(t)
}

func TestRollSessionCountersPrunesFlatRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fillOrder(t, models.OrderSideBuy, 10, 800, 1600)
	f.fillOrder(t, models.OrderSideSell, 10, 850, 1700)

	if err := f.tracker.RollSessionCounters(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RollSessionCounters failed: %v", err)
	}

	_, err := f.store.GetPosition(ctx, "alice", "RELIANCE", models.NSE, models.ProductMIS)
	if !stderrors.Is(err, errors.ErrPositionNotFound) {
		t.Fatalf("flat row survived the boundary: %v", err)
	}
}

func TestApplyFillReversal(t *testing.T) {
	f := newFixture(t)

	// Long 100 at 800, then sell 150 at 850: close 100 for +5000 and
	// go short 50 at 850.
	f.fillOrder(t, models.OrderSideBuy, 100, 800, 16000)
	f.fillOrder(t, models.OrderSideSell, 150, 850, 25500)

	pos := f.position(t)
	if pos.Quantity != -50 {
		t.Errorf("Quantity = %d, want -50", pos.Quantity)
	}
	if pos.AveragePrice != 850 {
		t.Errorf("AveragePrice = %.2f, want 850 (fill price)", pos.AveragePrice)
	}
	// The remainder's share of the exit order margin: 25500 * 50/150
	if pos.MarginBlocked != 8500 {
		t.Errorf("MarginBlocked = %.2f, want 8500", pos.MarginBlocked)
	}
	if pos.RealizedPnL != 5000 {
		t.Errorf("RealizedPnL = %.2f, want 5000", pos.RealizedPnL)
	}
	f.checkMarginSum(t)
}

func TestApplyFillShortSideRealizedPnL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fillOrder(t, models.OrderSideSell, 10, 850, 1700)
	f.fillOrder(t, models.OrderSideBuy, 10, 800, 1600)

	funds, _ := f.ledger.GetFunds(ctx, "alice")
	if funds.RealizedPnL != 500 {
		t.Errorf("RealizedPnL = %.2f, want 500 on short cover", funds.RealizedPnL)
	}
	f.checkMarginSum(t)
}

func TestMarkToMarketDoesNotAdvanceUpdatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fillOrder(t, models.OrderSideBuy, 10, 800, 1600)
	before := f.position(t)

	f.quotes.marks[quotes.InstrumentKey{Symbol: "RELIANCE", Exchange: models.NSE}] = &models.Quote{
		Symbol: "RELIANCE", Exchange: models.NSE, LTP: 840,
	}
	if err := f.tracker.MarkToMarket(ctx); err != nil {
		t.Fatalf("MarkToMarket failed: %v", err)
	}

	after := f.position(t)
	if after.LTP != 840 {
		t.Errorf("LTP = %.2f, want 840", after.LTP)
	}
	if after.PnL != 400 {
		t.Errorf("PnL = %.2f, want 400", after.PnL)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("mark advanced updated_at: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}

	funds, _ := f.ledger.GetFunds(ctx, "alice")
	if funds.UnrealizedPnL != 400 {
		t.Errorf("UnrealizedPnL = %.2f, want 400", funds.UnrealizedPnL)
	}
}

func TestRollSessionCountersPreservesTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fillOrder(t, models.OrderSideBuy, 10, 800, 1600)
	f.fillOrder(t, models.OrderSideSell, 4, 850, 680)
	before := f.position(t)
	if before.TodayRealizedPnL != 200 {
		t.Fatalf("TodayRealizedPnL = %.2f, want 200", before.TodayRealizedPnL)
	}

	// Boundary in the future: the row was last modified before it.
	if err := f.tracker.RollSessionCounters(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RollSessionCounters failed: %v", err)
	}

	after := f.position(t)
	if after.TodayRealizedPnL != 0 {
		t.Errorf("TodayRealizedPnL = %.2f, want 0 after rollover", after.TodayRealizedPnL)
	}
	if after.RealizedPnL != 200 {
		t.Errorf("lifetime RealizedPnL = %.2f, want 200 (untouched)", after.RealizedPnL)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("rollover advanced updated_at")
	}

	// Positions touched after the boundary are left alone.
	if err := f.tracker.RollSessionCounters(ctx, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("RollSessionCounters failed: %v", err)
	}
}

func TestExpireContractsSettlesOptionsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A long call bought at 120, expired last month.
	order := &models.Order{
		ID: "opt-1", UserID: "alice", Symbol: "NIFTY25AUG22000CE", Exchange: models.NFO,
		Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Product: models.ProductNRML,
		Quantity: 50, MarginBlocked: 6000,
	}
	if err := f.ledger.Block(ctx, "alice", 6000); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if err := f.tracker.ApplyFill(ctx, order, 120); err != nil {
		t.Fatalf("ApplyFill failed: %v", err)
	}

	sweep := time.Date(2025, 9, 15, 10, 0, 0, 0, time.UTC)
	if err := f.tracker.ExpireContracts(ctx, sweep); err != nil {
		t.Fatalf("ExpireContracts failed: %v", err)
	}

	// The row is flattened and backdated to the expiry date, not deleted.
	pos, err := f.store.GetPosition(ctx, "alice", "NIFTY25AUG22000CE", models.NFO, models.ProductNRML)
	if err != nil {
		t.Fatalf("GetPosition after expiry failed: %v", err)
	}
	if pos.Quantity != 0 {
		t.Errorf("Quantity = %d, want 0", pos.Quantity)
	}
	if pos.MarginBlocked != 0 {
		t.Errorf("MarginBlocked = %.2f, want 0", pos.MarginBlocked)
	}
	if pos.RealizedPnL != -6000 {
		t.Errorf("position RealizedPnL = %.2f, want -6000", pos.RealizedPnL)
	}
	if !pos.UpdatedAt.Before(sweep) {
		t.Errorf("updated_at = %v, want backdated before the sweep", pos.UpdatedAt)
	}

	funds, _ := f.ledger.GetFunds(ctx, "alice")
	// Premium lost in full: 120 * 50
	if funds.RealizedPnL != -6000 {
		t.Errorf("RealizedPnL = %.2f, want -6000", funds.RealizedPnL)
	}
	if funds.UsedMargin != 0 {
		t.Errorf("UsedMargin = %.2f, want 0", funds.UsedMargin)
	}

	// A second sweep must not settle the contract again.
	if err := f.tracker.ExpireContracts(ctx, sweep.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("second ExpireContracts failed: %v", err)
	}
	funds, _ = f.ledger.GetFunds(ctx, "alice")
	if funds.RealizedPnL != -6000 {
		t.Errorf("RealizedPnL = %.2f after second sweep, want -6000", funds.RealizedPnL)
	}
}

func TestExpireContractsIgnoresLiveContracts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := &models.Order{
		ID: "fut-1", UserID: "alice", Symbol: "NIFTY30DECFUT", Exchange: models.NFO,
		Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Product: models.ProductNRML,
		Quantity: 50, MarginBlocked: 110000,
	}
	if err := f.ledger.Block(ctx, "alice", 110000); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if err := f.tracker.ApplyFill(ctx, order, 22000); err != nil {
		t.Fatalf("ApplyFill failed: %v", err)
	}

	// Sweep well before the 2030 expiry.
	if err := f.tracker.ExpireContracts(ctx, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("ExpireContracts failed: %v", err)
	}
	if _, err := f.store.GetPosition(ctx, "alice", "NIFTY30DECFUT", models.NFO, models.ProductNRML); err != nil {
		t.Fatalf("live contract was settled: %v", err)
	}
}

// Property: for any alternating sequence of buys and sells, the sum of
// margin on open position rows equals the account's used margin and the
// capital identity holds.
func TestProperty_MarginSumMatchesUsedMargin(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("position margin mirrors the ledger", prop.ForAll(
		func(qtys []int, buys []bool) bool {
			f := newFixture(t)
			ctx := context.Background()

			price := 500.0
			for i, q := range qtys {
				if q <= 0 {
					continue
				}
				side := models.OrderSideSell
				if i < len(buys) && buys[i] {
					side = models.OrderSideBuy
				}
				margin := price * float64(q) / 5
				order := &models.Order{
					ID: "p-" + time.Now().Format("150405.000000000"), UserID: "alice",
					Symbol: "RELIANCE", Exchange: models.NSE, Side: side,
					Type: models.OrderTypeMarket, Product: models.ProductMIS,
					Quantity: q, MarginBlocked: margin,
				}
				if err := f.ledger.Block(ctx, "alice", margin); err != nil {
					return false
				}
				if err := f.tracker.ApplyFill(ctx, order, price); err != nil {
					return false
				}
				price += 3
			}

			funds, err := f.ledger.GetFunds(ctx, "alice")
			if err != nil {
				return false
			}
			positions, err := f.store.ListPositions(ctx, "alice")
			if err != nil {
				return false
			}
			var sum float64
			for i := range positions {
				sum += positions[i].MarginBlocked
			}
			if math.Abs(sum-funds.UsedMargin) > 0.01 {
				return false
			}
			identity := funds.AvailableCash + funds.UsedMargin + funds.RealizedPnL
			return math.Abs(identity-funds.TotalCapital) < 0.01
		},
		gen.SliceOfN(8, gen.IntRange(1, 200)),
		gen.SliceOfN(8, gen.Bool()),
	))

	properties.TestingRun(t)
}
