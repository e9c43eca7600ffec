// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/marketcalls/openalgo-sub012/internal/models"
)

// DataStore defines the interface for sandbox state persistence. The
// sandbox engine owns exclusive write access to everything here.
type DataStore interface {
	// Orders
	SaveOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOpenOrders(ctx context.Context) ([]models.Order, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	// UpdateOpenOrder persists changed fields of an order that is still
	// OPEN; it fails with ErrOrderNotOpen otherwise.
	UpdateOpenOrder(ctx context.Context, order *models.Order) error
	// CompleteOrder transitions OPEN -> COMPLETE with fill details,
	// exactly once; a second call fails with ErrOrderNotOpen.
	CompleteOrder(ctx context.Context, orderID string, filledQty int, avgPrice float64) error
	// CloseOrder transitions OPEN -> CANCELLED or REJECTED, exactly once.
	CloseOrder(ctx context.Context, orderID string, status models.OrderStatus) error

	// Trades
	SaveTrade(ctx context.Context, trade *models.Trade) error
	TradeExistsForOrder(ctx context.Context, orderID string) (bool, error)
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	// Positions
	GetPosition(ctx context.Context, userID, symbol string, exchange models.Exchange, product models.ProductType) (*models.Position, error)
	UpsertPosition(ctx context.Context, pos *models.Position) error
	DeletePosition(ctx context.Context, userID, symbol string, exchange models.Exchange, product models.ProductType) error
	ListPositions(ctx context.Context, userID string) ([]models.Position, error)
	ListAllPositions(ctx context.Context) ([]models.Position, error)
	// ListPositionsModifiedBefore returns positions of a product last
	// modified strictly before the cutoff; used by settlement.
	ListPositionsModifiedBefore(ctx context.Context, product models.ProductType, before time.Time) ([]models.Position, error)
	// UpdatePositionFields applies a field mask without disturbing
	// updated_at unless the mask itself names it.
	UpdatePositionFields(ctx context.Context, userID, symbol string, exchange models.Exchange, product models.ProductType, fields map[string]interface{}) error

	// Holdings
	GetHolding(ctx context.Context, userID, symbol string, exchange models.Exchange) (*models.Holding, error)
	UpsertHolding(ctx context.Context, holding *models.Holding) error
	DeleteHolding(ctx context.Context, userID, symbol string, exchange models.Exchange) error
	ListHoldings(ctx context.Context, userID string) ([]models.Holding, error)
	DeleteUserPortfolio(ctx context.Context, userID string) error

	// Funds
	GetFunds(ctx context.Context, userID string) (*models.Funds, error)
	SaveFunds(ctx context.Context, funds *models.Funds) error
	ListFunds(ctx context.Context) ([]models.Funds, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
	GetSnapshots(ctx context.Context, userID string, from, to time.Time) ([]models.Snapshot, error)

	// Lifecycle
	Close() error
}

// OrderFilter represents filters for querying orders.
type OrderFilter struct {
	UserID    string
	Symbol    string
	Status    models.OrderStatus
	Product   models.ProductType
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	UserID    string
	Symbol    string
	OrderID   string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
