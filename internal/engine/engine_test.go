package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub012/internal/catalog"
	"github.com/marketcalls/openalgo-sub012/internal/config"
	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/ledger"
	"github.com/marketcalls/openalgo-sub012/internal/metrics"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/internal/position"
	"github.com/marketcalls/openalgo-sub012/internal/quotes"
	"github.com/marketcalls/openalgo-sub012/internal/store"
)

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

func TestFillPriceEligibility(t *testing.T) {
	quote := func(ltp, bid, ask float64) *models.Quote {
		return &models.Quote{LTP: ltp, Bid: bid, Ask: ask}
	}

	tests := []struct {
		name      string
		order     models.Order
		quote     *models.Quote
		wantPrice float64
		wantFill  bool
	}{
		{"market buy fills at ask", models.Order{Type: models.OrderTypeMarket, Side: models.OrderSideBuy},
			quote(100, 99.5, 100.5), 100.5, true},
		{"market sell fills at bid", models.Order{Type: models.OrderTypeMarket, Side: models.OrderSideSell},
			quote(100, 99.5, 100.5), 99.5, true},
		{"market buy falls back to ltp on empty book", models.Order{Type: models.OrderTypeMarket, Side: models.OrderSideBuy},
			quote(100, 0, 0), 100, true},
		{"no quote no fill", models.Order{Type: models.OrderTypeMarket, Side: models.OrderSideBuy},
			quote(0, 0, 0), 0, false},

		{"limit buy waits above limit", models.Order{Type: models.OrderTypeLimit, Side: models.OrderSideBuy, Price: 99},
			quote(100, 0, 0), 0, false},
		{"limit buy fills at better last price", models.Order{Type: models.OrderTypeLimit, Side: models.OrderSideBuy, Price: 99},
			quote(98.5, 0, 0), 98.5, true},
		{"limit buy fills at touch", models.Order{Type: models.OrderTypeLimit, Side: models.OrderSideBuy, Price: 99},
			quote(99, 0, 0), 99, true},
		{"limit buy captures a gap down", models.Order{Type: models.OrderTypeLimit, Side: models.OrderSideBuy, Price: 100},
			quote(95, 0, 0), 95, true},
		{"limit sell waits below limit", models.Order{Type: models.OrderTypeLimit, Side: models.OrderSideSell, Price: 101},
			quote(100, 0, 0), 0, false},
		{"limit sell fills at better last price", models.Order{Type: models.OrderTypeLimit, Side: models.OrderSideSell, Price: 101},
			quote(101.5, 0, 0), 101.5, true},

		{"sl buy waits below trigger", models.Order{Type: models.OrderTypeStopLoss, Side: models.OrderSideBuy, TriggerPrice: 100, Price: 102},
			quote(99, 0, 0), 0, false},
		{"sl buy fills between trigger and limit", models.Order{Type: models.OrderTypeStopLoss, Side: models.OrderSideBuy, TriggerPrice: 100, Price: 102},
			quote(101, 0, 0), 102, true},
		{"sl buy waits past limit", models.Order{Type: models.OrderTypeStopLoss, Side: models.OrderSideBuy, TriggerPrice: 100, Price: 102},
			quote(103, 0, 0), 0, false},
		{"sl sell fills between limit and trigger", models.Order{Type: models.OrderTypeStopLoss, Side: models.OrderSideSell, TriggerPrice: 100, Price: 98},
			quote(99, 0, 0), 98, true},
		{"sl boundaries are inclusive", models.Order{Type: models.OrderTypeStopLoss, Side: models.OrderSideBuy, TriggerPrice: 100, Price: 102},
			quote(100, 0, 0), 102, true},

		{"sl-m buy arms at trigger", models.Order{Type: models.OrderTypeStopLossM, Side: models.OrderSideBuy, TriggerPrice: 100},
			quote(100.5, 99, 101), 101, true},
		{"sl-m buy waits below trigger", models.Order{Type: models.OrderTypeStopLossM, Side: models.OrderSideBuy, TriggerPrice: 100},
			quote(99.5, 99, 101), 0, false},
		{"sl-m sell arms at trigger", models.Order{Type: models.OrderTypeStopLossM, Side: models.OrderSideSell, TriggerPrice: 100},
			quote(99.5, 99, 101), 99, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, fill := fillPrice(&tt.order, tt.quote)
			if fill != tt.wantFill {
				t.Fatalf("fill = %v, want %v", fill, tt.wantFill)
			}
			if fill && price != tt.wantPrice {
				t.Errorf("price = %.2f, want %.2f", price, tt.wantPrice)
			}
		})
	}
}

func newTestEngine(t *testing.T) (*Engine, store.DataStore, *ledger.Ledger, *stubQuotes) {
	t.Helper()
	ds, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { ds.Close() })

	cfg := &config.Config{
		Sandbox:  config.SandboxConfig{StartingCapital: 10000000, ReconcileTolerance: 0.05},
		Leverage: config.LeverageConfig{EquityMIS: 5, EquityCNC: 1, Futures: 10, OptionBuy: 1, OptionSell: 1},
		Engine:   config.EngineConfig{PollInterval: time.Second, FillBatchSize: 10, FillBatchDelay: time.Millisecond},
	}
	cfgStore := config.NewStore("", cfg, 0)

	lg := ledger.New(ds, cfgStore, zerolog.Nop())
	sq := &stubQuotes{marks: map[quotes.InstrumentKey]*models.Quote{}}
	tracker := position.NewTracker(ds, lg, catalog.New(), sq, zerolog.Nop())
	m, _ := metrics.New()
	return New(ds, sq, tracker, cfgStore, m, zerolog.Nop()), ds, lg, sq
}

func placeOpenOrder(t *testing.T, ds store.DataStore, lg *ledger.Ledger, orderType models.OrderType, limit float64) *models.Order {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	order := &models.Order{
		ID: "eng-" + now.Format("150405.000000000"), UserID: "alice",
		Symbol: "RELIANCE", Exchange: models.NSE, Side: models.OrderSideBuy,
		Type: orderType, Product: models.ProductMIS, Quantity: 10, Price: limit,
		Status: models.OrderStatusOpen, MarginBlocked: 1600,
		PlacedAt: now, UpdatedAt: now,
	}
	if err := lg.Block(ctx, order.UserID, order.MarginBlocked); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if err := ds.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}
	return order
}

func TestCycleFillsEligibleOrders(t *testing.T) {
	eng, ds, lg, sq := newTestEngine(t)
	ctx := context.Background()

	order := placeOpenOrder(t, ds, lg, models.OrderTypeMarket, 0)
	sq.marks[quotes.InstrumentKey{Symbol: "RELIANCE", Exchange: models.NSE}] = &models.Quote{
		Symbol: "RELIANCE", Exchange: models.NSE, LTP: 800, Bid: 799, Ask: 801,
	}

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	got, err := ds.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != models.OrderStatusComplete {
		t.Fatalf("Status = %s, want COMPLETE", got.Status)
	}
	if got.AveragePrice != 801 {
		t.Errorf("AveragePrice = %.2f, want 801 (ask)", got.AveragePrice)
	}

	trades, err := ds.GetTrades(ctx, store.TradeFilter{OrderID: order.ID})
	if err != nil {
		t.Fatalf("GetTrades failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}

	pos, err := ds.GetPosition(ctx, "alice", "RELIANCE", models.NSE, models.ProductMIS)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if pos.Quantity != 10 {
		t.Errorf("Quantity = %d, want 10", pos.Quantity)
	}
}

func TestCycleIsIdempotent(t *testing.T) {
	eng, ds, lg, sq := newTestEngine(t)
	ctx := context.Background()

	order := placeOpenOrder(t, ds, lg, models.OrderTypeMarket, 0)
	sq.marks[quotes.InstrumentKey{Symbol: "RELIANCE", Exchange: models.NSE}] = &models.Quote{
		Symbol: "RELIANCE", Exchange: models.NSE, LTP: 800, Bid: 799, Ask: 801,
	}

	// Fill once, then replay the fill for the same order as a crashed
	// cycle would.
	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	stale := *order
	if err := eng.fill(ctx, &stale, 801); err != nil {
		t.Fatalf("replayed fill errored: %v", err)
	}

	trades, err := ds.GetTrades(ctx, store.TradeFilter{OrderID: order.ID})
	if err != nil {
		t.Fatalf("GetTrades failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d after replay, want 1", len(trades))
	}

	pos, err := ds.GetPosition(ctx, "alice", "RELIANCE", models.NSE, models.ProductMIS)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if pos.Quantity != 10 {
		t.Errorf("Quantity = %d after replay, want 10", pos.Quantity)
	}
}

func TestCycleSkipsUnquotedSymbols(t *testing.T) {
	eng, ds, lg, _ := newTestEngine(t)
	ctx := context.Background()

	order := placeOpenOrder(t, ds, lg, models.OrderTypeMarket, 0)

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	got, err := ds.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != models.OrderStatusOpen {
		t.Errorf("Status = %s, want OPEN when no quote", got.Status)
	}
}

func TestCycleLeavesRestingLimitOrders(t *testing.T) {
	eng, ds, lg, sq := newTestEngine(t)
	ctx := context.Background()

	order := placeOpenOrder(t, ds, lg, models.OrderTypeLimit, 750)
	sq.marks[quotes.InstrumentKey{Symbol: "RELIANCE", Exchange: models.NSE}] = &models.Quote{
		Symbol: "RELIANCE", Exchange: models.NSE, LTP: 800,
	}

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	got, err := ds.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != models.OrderStatusOpen {
		t.Errorf("Status = %s, want OPEN while limit not reached", got.Status)
	}
}
