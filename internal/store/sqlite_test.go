package store

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleOrder(id string) *models.Order {
	now := time.Now()
	return &models.Order{
		ID: id, UserID: "alice", Symbol: "RELIANCE", Exchange: models.NSE,
		Side: models.OrderSideBuy, Type: models.OrderTypeLimit, Product: models.ProductMIS,
		Quantity: 10, Price: 800, Status: models.OrderStatusOpen,
		MarginBlocked: 1600, PlacedAt: now, UpdatedAt: now,
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	order := sampleOrder("o1")
	if err := s.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}

	got, err := s.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Symbol != "RELIANCE" || got.Quantity != 10 || got.Price != 800 ||
		got.MarginBlocked != 1600 || got.Status != models.OrderStatusOpen {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetOrder(ctx, "missing"); !stderrors.Is(err, errors.ErrOrderNotFound) {
		t.Errorf("GetOrder(missing) = %v, want ErrOrderNotFound", err)
	}
}

func TestCompleteOrderFiresExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveOrder(ctx, sampleOrder("o1")); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}

	if err := s.CompleteOrder(ctx, "o1", 10, 805); err != nil {
		t.Fatalf("first CompleteOrder failed: %v", err)
	}
	if err := s.CompleteOrder(ctx, "o1", 10, 805); !stderrors.Is(err, errors.ErrOrderNotOpen) {
		t.Fatalf("second CompleteOrder = %v, want ErrOrderNotOpen", err)
	}

	got, err := s.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != models.OrderStatusComplete || got.FilledQty != 10 || got.AveragePrice != 805 {
		t.Errorf("completed order mismatch: %+v", got)
	}
}

func TestCloseOrderGuardsTerminalStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveOrder(ctx, sampleOrder("o1")); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}

	if err := s.CloseOrder(ctx, "o1", models.OrderStatusComplete); err == nil {
		t.Error("CloseOrder accepted COMPLETE as a terminal status")
	}
	if err := s.CloseOrder(ctx, "o1", models.OrderStatusCancelled); err != nil {
		t.Fatalf("CloseOrder failed: %v", err)
	}
	// A cancelled order cannot be cancelled again or completed.
	if err := s.CloseOrder(ctx, "o1", models.OrderStatusRejected); !stderrors.Is(err, errors.ErrOrderNotOpen) {
		t.Errorf("re-close = %v, want ErrOrderNotOpen", err)
	}
	if err := s.CompleteOrder(ctx, "o1", 10, 805); !stderrors.Is(err, errors.ErrOrderNotOpen) {
		t.Errorf("complete after cancel = %v, want ErrOrderNotOpen", err)
	}
}

func TestGetOpenOrdersFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		o := sampleOrder(id)
		o.PlacedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := s.SaveOrder(ctx, o); err != nil {
			t.Fatalf("SaveOrder failed: %v", err)
		}
	}
	if err := s.CompleteOrder(ctx, "b", 10, 800); err != nil {
		t.Fatalf("CompleteOrder failed: %v", err)
	}

	open, err := s.GetOpenOrders(ctx)
	if err != nil {
		t.Fatalf("GetOpenOrders failed: %v", err)
	}
	if len(open) != 2 || open[0].ID != "a" || open[1].ID != "c" {
		t.Errorf("open orders = %+v, want [a c] in placement order", open)
	}
}

func TestTradeExistsForOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveOrder(ctx, sampleOrder("o1")); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}

	exists, err := s.TradeExistsForOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("TradeExistsForOrder failed: %v", err)
	}
	if exists {
		t.Error("trade reported before any was written")
	}

	trade := &models.Trade{
		ID: "t1", OrderID: "o1", UserID: "alice", Symbol: "RELIANCE",
		Exchange: models.NSE, Side: models.OrderSideBuy, Product: models.ProductMIS,
		Quantity: 10, Price: 805, ExecutedAt: time.Now(),
	}
	if err := s.SaveTrade(ctx, trade); err != nil {
		t.Fatalf("SaveTrade failed: %v", err)
	}

	exists, err = s.TradeExistsForOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("TradeExistsForOrder failed: %v", err)
	}
	if !exists {
		t.Error("trade not reported after write")
	}
}

func TestUpdatePositionFieldsPreservesUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().Add(-time.Hour).Round(time.Second)
	pos := &models.Position{
		UserID: "alice", Symbol: "RELIANCE", Exchange: models.NSE, Product: models.ProductMIS,
		Quantity: 10, AveragePrice: 800, MarginBlocked: 1600,
		CreatedAt: created, UpdatedAt: created,
	}
	if err := s.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("UpsertPosition failed: %v", err)
	}

	err := s.UpdatePositionFields(ctx, "alice", "RELIANCE", models.NSE, models.ProductMIS, map[string]interface{}{
		"ltp": 840.0,
		"pnl": 400.0,
	})
	if err != nil {
		t.Fatalf("UpdatePositionFields failed: %v", err)
	}

	got, err := s.GetPosition(ctx, "alice", "RELIANCE", models.NSE, models.ProductMIS)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if got.LTP != 840 || got.PnL != 400 {
		t.Errorf("fields not applied: ltp=%.2f pnl=%.2f", got.LTP, got.PnL)
	}
	if !got.UpdatedAt.Equal(created) {
		t.Errorf("updated_at advanced: %v -> %v", created, got.UpdatedAt)
	}

	// An unknown field is refused outright.
	err = s.UpdatePositionFields(ctx, "alice", "RELIANCE", models.NSE, models.ProductMIS, map[string]interface{}{
		"status": "gone",
	})
	if err == nil {
		t.Error("UpdatePositionFields accepted an unknown column")
	}
}

func TestListPositionsModifiedBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-24 * time.Hour)
	fresh := time.Now()
	for _, p := range []*models.Position{
		{UserID: "alice", Symbol: "OLD", Exchange: models.NSE, Product: models.ProductCNC,
			Quantity: 5, AveragePrice: 100, CreatedAt: old, UpdatedAt: old},
		{UserID: "alice", Symbol: "FRESH", Exchange: models.NSE, Product: models.ProductCNC,
			Quantity: 5, AveragePrice: 100, CreatedAt: fresh, UpdatedAt: fresh},
		{UserID: "alice", Symbol: "INTRADAY", Exchange: models.NSE, Product: models.ProductMIS,
			Quantity: 5, AveragePrice: 100, CreatedAt: old, UpdatedAt: old},
	} {
		if err := s.UpsertPosition(ctx, p); err != nil {
			t.Fatalf("UpsertPosition failed: %v", err)
		}
	}

	got, err := s.ListPositionsModifiedBefore(ctx, models.ProductCNC, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListPositionsModifiedBefore failed: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "OLD" {
		t.Errorf("got %+v, want only OLD", got)
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	first := &models.Snapshot{UserID: "alice", Date: day, RealizedPnL: 100, TotalPnL: 100, PortfolioValue: 10000100}
	if err := s.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	// A second write for the same day is a no-op.
	second := &models.Snapshot{UserID: "alice", Date: day, RealizedPnL: 999, TotalPnL: 999, PortfolioValue: 1}
	if err := s.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("second SaveSnapshot errored: %v", err)
	}

	snaps, err := s.GetSnapshots(ctx, "alice", day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	if snaps[0].RealizedPnL != 100 {
		t.Errorf("snapshot overwritten: RealizedPnL = %.2f, want 100", snaps[0].RealizedPnL)
	}
}

func TestDeleteUserPortfolio(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	pos := &models.Position{
		UserID: "alice", Symbol: "RELIANCE", Exchange: models.NSE, Product: models.ProductMIS,
		Quantity: 10, AveragePrice: 800, CreatedAt: now, UpdatedAt: now,
	}
	holding := &models.Holding{
		UserID: "alice", Symbol: "TCS", Exchange: models.NSE, Quantity: 5, AveragePrice: 3200, SettledAt: now,
	}
	otherPos := &models.Position{
		UserID: "bob", Symbol: "INFY", Exchange: models.NSE, Product: models.ProductMIS,
		Quantity: 10, AveragePrice: 1500, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.UpsertPosition(ctx, pos); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertHolding(ctx, holding); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertPosition(ctx, otherPos); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteUserPortfolio(ctx, "alice"); err != nil {
		t.Fatalf("DeleteUserPortfolio failed: %v", err)
	}

	positions, _ := s.ListPositions(ctx, "alice")
	holdings, _ := s.ListHoldings(ctx, "alice")
	if len(positions) != 0 || len(holdings) != 0 {
		t.Errorf("portfolio survived: %d positions, %d holdings", len(positions), len(holdings))
	}

	// Other users are untouched.
	bobPositions, _ := s.ListPositions(ctx, "bob")
	if len(bobPositions) != 1 {
		t.Errorf("wrong user's portfolio deleted")
	}
}
