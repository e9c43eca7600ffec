package models

import "time"

// Order represents a trading order in the sandbox.
// MarginBlocked is frozen at admission time: cancellation and rejection
// release exactly this amount, never a recomputed one.
type Order struct {
	ID            string
	UserID        string
	Symbol        string
	Exchange      Exchange
	Side          OrderSide
	Type          OrderType
	Product       ProductType
	Quantity      int
	Price         float64
	TriggerPrice  float64
	Status        OrderStatus
	FilledQty     int
	AveragePrice  float64
	MarginBlocked float64
	Tag           string
	PlacedAt      time.Time
	UpdatedAt     time.Time
}

// IsOpen reports whether the order is still eligible for matching.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// SignedQuantity returns the quantity signed by side (buy positive).
func (o *Order) SignedQuantity() int {
	if o.Side == OrderSideBuy {
		return o.Quantity
	}
	return -o.Quantity
}

// Trade represents an immutable fill record for an order.
type Trade struct {
	ID         string
	OrderID    string
	UserID     string
	Symbol     string
	Exchange   Exchange
	Side       OrderSide
	Product    ProductType
	Quantity   int
	Price      float64
	ExecutedAt time.Time
}

// Position represents an open position for (user, symbol, exchange, product).
// Quantity is signed: positive for long, negative for short.
type Position struct {
	UserID           string
	Symbol           string
	Exchange         Exchange
	Product          ProductType
	Quantity         int
	AveragePrice     float64
	LTP              float64
	PnL              float64 // unrealized
	PnLPercent       float64
	RealizedPnL      float64 // lifetime
	TodayRealizedPnL float64 // resets at the session boundary
	MarginBlocked    float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Key returns the identity key of the position row.
func (p *Position) Key() string {
	return string(p.Exchange) + ":" + p.Symbol + ":" + string(p.Product) + ":" + p.UserID
}

// AbsQuantity returns the magnitude of the position quantity.
func (p *Position) AbsQuantity() int {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// Holding represents a settled delivery position. Holdings carry no margin;
// their value is inventory, fully paid for.
type Holding struct {
	UserID        string
	Symbol        string
	Exchange      Exchange
	Quantity      int
	AveragePrice  float64
	LTP           float64
	PnL           float64
	PnLPercent    float64
	InvestedValue float64
	CurrentValue  float64
	SettledAt     time.Time
}

// Funds is the virtual capital account for a user, the single source of
// truth for cash and margin. TotalCapital == AvailableCash + UsedMargin +
// RealizedPnL holds at all times.
type Funds struct {
	UserID        string
	TotalCapital  float64
	AvailableCash float64
	UsedMargin    float64
	RealizedPnL   float64
	UnrealizedPnL float64
	TotalPnL      float64
	LastReset     time.Time
	ResetCount    int
}

// Snapshot is an immutable end-of-day record per (user, date).
type Snapshot struct {
	UserID         string
	Date           time.Time
	RealizedPnL    float64
	UnrealizedPnL  float64
	TotalPnL       float64
	PortfolioValue float64
	CreatedAt      time.Time
}
