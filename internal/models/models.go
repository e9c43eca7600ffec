// Package models provides domain models for the sandbox trading engine.
package models

import (
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	CDS Exchange = "CDS" // Currency
	MCX Exchange = "MCX" // Commodity
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the reverse side, used when synthesizing exit orders.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLoss  OrderType = "SL"
	OrderTypeStopLossM OrderType = "SL-M"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductCNC  ProductType = "CNC"  // Delivery
	ProductNRML ProductType = "NRML" // F&O carry-forward
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusComplete  OrderStatus = "COMPLETE"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// InstrumentType classifies an instrument for margin purposes.
type InstrumentType string

const (
	InstrEquity InstrumentType = "EQ"
	InstrFuture InstrumentType = "FUT"
	InstrCall   InstrumentType = "CE"
	InstrPut    InstrumentType = "PE"
)

// IsOption returns true for option instruments.
func (t InstrumentType) IsOption() bool {
	return t == InstrCall || t == InstrPut
}

// Instrument represents a tradeable instrument from the reference catalog.
type Instrument struct {
	Symbol    string
	Name      string
	Exchange  Exchange
	Segment   string
	LotSize   int
	TickSize  float64
	Expiry    time.Time
	Strike    float64
	InstrType InstrumentType
}

// Quote represents a market quote from the quote provider.
type Quote struct {
	Symbol    string
	Exchange  Exchange
	LTP       float64
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// Tick represents a single pricing observation used for mark-to-market.
type Tick struct {
	Symbol    string
	Exchange  Exchange
	LTP       float64
	Timestamp time.Time
}
