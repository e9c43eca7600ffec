// Package gateway admits, modifies, and cancels sandbox orders. The
// gateway validates a request, freezes margin, and persists the order;
// execution belongs to the matching engine.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub012/internal/catalog"
	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/ledger"
	"github.com/marketcalls/openalgo-sub012/internal/metrics"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/internal/quotes"
	"github.com/marketcalls/openalgo-sub012/internal/store"
)

// OrderRequest is an inbound order placement request.
type OrderRequest struct {
	UserID       string
	Symbol       string
	Exchange     models.Exchange
	Side         models.OrderSide
	Type         models.OrderType
	Product      models.ProductType
	Quantity     int
	Price        float64
	TriggerPrice float64
	Tag          string
}

// ModifyRequest updates the resting parameters of an open order. Zero
// values leave the field unchanged.
type ModifyRequest struct {
	OrderID      string
	Quantity     int
	Price        float64
	TriggerPrice float64
}

// Gateway is the order admission layer.
type Gateway struct {
	store   store.DataStore
	ledger  *ledger.Ledger
	catalog *catalog.Catalog
	quotes  quotes.Provider
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates an order gateway.
func New(ds store.DataStore, lg *ledger.Ledger, cat *catalog.Catalog, qp quotes.Provider, m *metrics.Metrics, logger zerolog.Logger) *Gateway {
	return &Gateway{
		store:   ds,
		ledger:  lg,
		catalog: cat,
		quotes:  qp,
		metrics: m,
		logger:  logger.With().Str("component", "gateway").Logger(),
	}
}

// PlaceOrder validates a request, freezes margin, and persists the order
// in OPEN status. Validation failures cost nothing; the margin block is
// the only state change and it is atomic.
func (g *Gateway) PlaceOrder(ctx context.Context, req *OrderRequest) (*models.Order, error) {
	instr, err := g.validate(ctx, req)
	if err != nil {
		g.metrics.OrdersRejected.Inc()
		return nil, err
	}

	refPrice, err := g.referencePrice(ctx, req)
	if err != nil {
		g.metrics.OrdersRejected.Inc()
		return nil, errors.NewRejectionError(http.StatusServiceUnavailable, "no reference price for margin", err)
	}

	now := time.Now()
	order := &models.Order{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Symbol:       req.Symbol,
		Exchange:     req.Exchange,
		Side:         req.Side,
		Type:         req.Type,
		Product:      req.Product,
		Quantity:     req.Quantity,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Status:       models.OrderStatusOpen,
		Tag:          req.Tag,
		PlacedAt:     now,
		UpdatedAt:    now,
	}
	order.MarginBlocked = g.ledger.RequiredMargin(order, refPrice, instr.InstrType)
	if order.Product == models.ProductCNC && order.Side == models.OrderSideSell {
		// Delivery of held shares; nothing to freeze.
		order.MarginBlocked = 0
	}

	if err := g.ledger.Block(ctx, req.UserID, order.MarginBlocked); err != nil {
		if errors.Is(err, errors.ErrInsufficientMargin) {
			g.metrics.OrdersRejected.Inc()
			return nil, errors.NewRejectionError(http.StatusBadRequest, "insufficient margin", err)
		}
		return nil, err
	}

	if err := g.store.SaveOrder(ctx, order); err != nil {
		// Undo the block so the account cannot leak frozen margin.
		if relErr := g.ledger.Release(ctx, req.UserID, order.MarginBlocked, 0); relErr != nil {
			g.logger.Error().Str("user", req.UserID).Err(relErr).Msg("Failed to release margin after save failure")
		}
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	g.metrics.OrdersPlaced.Inc()
	g.logger.Info().Str("order_id", order.ID).Str("user", order.UserID).
		Str("symbol", order.Symbol).Str("side", string(order.Side)).
		Int("qty", order.Quantity).Float64("margin", order.MarginBlocked).
		Msg("Order placed")
	return order, nil
}

// ModifyOrder updates quantity, price, or trigger price of an open order
// and settles the margin difference.
func (g *Gateway) ModifyOrder(ctx context.Context, req *ModifyRequest) (*models.Order, error) {
	order, err := g.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IsOpen() {
		return nil, fmt.Errorf("%w: %s is %s", errors.ErrOrderNotOpen, order.ID, order.Status)
	}

	if req.Quantity > 0 {
		order.Quantity = req.Quantity
	}
	if req.Price > 0 {
		order.Price = req.Price
	}
	if req.TriggerPrice > 0 {
		order.TriggerPrice = req.TriggerPrice
	}
	if err := validatePrices(order.Type, order.Price, order.TriggerPrice); err != nil {
		return nil, err
	}

	instr, err := g.catalog.Resolve(order.Symbol, order.Exchange)
	if err != nil {
		return nil, err
	}
	if instr.LotSize > 1 && order.Quantity%instr.LotSize != 0 {
		return nil, errors.NewValidationError("quantity", order.Quantity,
			fmt.Sprintf("must be a multiple of lot size %d", instr.LotSize))
	}

	refPrice, err := g.referencePriceFor(ctx, order.Symbol, order.Exchange, order.Type, order.Price)
	if err != nil {
		return nil, errors.NewRejectionError(http.StatusServiceUnavailable, "no reference price for margin", err)
	}

	newMargin := g.ledger.RequiredMargin(order, refPrice, instr.InstrType)
	delta := newMargin - order.MarginBlocked
	switch {
	case delta > 0:
		if err := g.ledger.Block(ctx, order.UserID, delta); err != nil {
			if errors.Is(err, errors.ErrInsufficientMargin) {
				return nil, errors.NewRejectionError(http.StatusBadRequest, "insufficient margin for modification", err)
			}
			return nil, err
		}
	case delta < 0:
		if err := g.ledger.Release(ctx, order.UserID, -delta, 0); err != nil {
			return nil, err
		}
	}
	order.MarginBlocked = newMargin

	if err := g.store.UpdateOpenOrder(ctx, order); err != nil {
		// The order filled or was cancelled between read and write;
		// undo the margin adjustment.
		switch {
		case delta > 0:
			_ = g.ledger.Release(ctx, order.UserID, delta, 0)
		case delta < 0:
			_ = g.ledger.Block(ctx, order.UserID, -delta)
		}
		return nil, err
	}

	g.logger.Info().Str("order_id", order.ID).Float64("margin", order.MarginBlocked).Msg("Order modified")
	return order, nil
}

// CancelOrder cancels an open order and releases its frozen margin.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := g.store.GetOrder(ctx, orderID); err != nil {
		return err
	}
	if err := g.store.CloseOrder(ctx, orderID, models.OrderStatusCancelled); err != nil {
		return err
	}
	// Re-read after winning the guarded transition: a modify racing the
	// cancel can change the frozen margin up to the moment the order
	// leaves OPEN, and the release must match the final amount.
	order, err := g.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := g.ledger.Release(ctx, order.UserID, order.MarginBlocked, 0); err != nil {
		return err
	}
	g.logger.Info().Str("order_id", orderID).Float64("released", order.MarginBlocked).Msg("Order cancelled")
	return nil
}

// CancelOpenOrders cancels every open order for a user, optionally
// restricted to a product. Returns the number cancelled.
func (g *Gateway) CancelOpenOrders(ctx context.Context, userID string, product models.ProductType) (int, error) {
	orders, err := g.store.GetOrders(ctx, store.OrderFilter{
		UserID:  userID,
		Status:  models.OrderStatusOpen,
		Product: product,
	})
	if err != nil {
		return 0, err
	}
	var cancelled int
	for i := range orders {
		if err := g.CancelOrder(ctx, orders[i].ID); err != nil {
			if errors.Is(err, errors.ErrOrderNotOpen) {
				continue // filled while we were iterating
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// ============================================================================
// Validation
// ============================================================================

func (g *Gateway) validate(ctx context.Context, req *OrderRequest) (models.Instrument, error) {
	var zero models.Instrument

	if strings.TrimSpace(req.UserID) == "" {
		return zero, errors.NewValidationError("user_id", req.UserID, "required")
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return zero, errors.NewValidationError("symbol", req.Symbol, "required")
	}
	switch req.Side {
	case models.OrderSideBuy, models.OrderSideSell:
	default:
		return zero, errors.NewValidationError("side", req.Side, "must be BUY or SELL")
	}
	switch req.Type {
	case models.OrderTypeMarket, models.OrderTypeLimit, models.OrderTypeStopLoss, models.OrderTypeStopLossM:
	default:
		return zero, errors.NewValidationError("order_type", req.Type, "unknown order type")
	}
	switch req.Product {
	case models.ProductMIS, models.ProductCNC, models.ProductNRML:
	default:
		return zero, errors.NewValidationError("product", req.Product, "unknown product type")
	}
	if req.Quantity <= 0 {
		return zero, errors.NewValidationError("quantity", req.Quantity, "must be positive")
	}

	instr, err := g.catalog.Resolve(req.Symbol, req.Exchange)
	if err != nil {
		return zero, errors.NewValidationError("symbol", req.Symbol, "not in instrument catalog")
	}
	if instr.LotSize > 1 && req.Quantity%instr.LotSize != 0 {
		return zero, errors.NewValidationError("quantity", req.Quantity,
			fmt.Sprintf("must be a multiple of lot size %d", instr.LotSize))
	}
	if req.Product == models.ProductCNC && (req.Exchange != models.NSE && req.Exchange != models.BSE) {
		return zero, errors.NewValidationError("product", req.Product, "CNC is only valid on equity exchanges")
	}

	if err := validatePrices(req.Type, req.Price, req.TriggerPrice); err != nil {
		return zero, err
	}

	// A CNC sell delivers from holdings; it cannot exceed what is held.
	if req.Product == models.ProductCNC && req.Side == models.OrderSideSell {
		if err := g.checkHoldings(ctx, req); err != nil {
			return zero, err
		}
	}
	return instr, nil
}

func validatePrices(orderType models.OrderType, price, trigger float64) error {
	switch orderType {
	case models.OrderTypeLimit:
		if price <= 0 {
			return errors.NewValidationError("price", price, "limit orders require a positive price")
		}
	case models.OrderTypeStopLoss:
		if price <= 0 {
			return errors.NewValidationError("price", price, "stop-loss orders require a positive price")
		}
		if trigger <= 0 {
			return errors.NewValidationError("trigger_price", trigger, "stop-loss orders require a positive trigger")
		}
	case models.OrderTypeStopLossM:
		if trigger <= 0 {
			return errors.NewValidationError("trigger_price", trigger, "stop-loss market orders require a positive trigger")
		}
	}
	return nil
}

func (g *Gateway) checkHoldings(ctx context.Context, req *OrderRequest) error {
	held := 0
	if h, err := g.store.GetHolding(ctx, req.UserID, req.Symbol, req.Exchange); err == nil {
		held += h.Quantity
	}
	// Unsettled CNC buys count too; they become holdings at T+1.
	if p, err := g.store.GetPosition(ctx, req.UserID, req.Symbol, req.Exchange, models.ProductCNC); err == nil && p.Quantity > 0 {
		held += p.Quantity
	}
	if req.Quantity > held {
		return errors.NewRejectionError(http.StatusBadRequest,
			fmt.Sprintf("cannot sell %d of %s: only %d held", req.Quantity, req.Symbol, held), nil)
	}
	return nil
}

// ============================================================================
// Reference pricing
// ============================================================================

// referencePrice picks the price margin is computed against: the limit
// price for resting orders, the live quote for market-style orders.
func (g *Gateway) referencePrice(ctx context.Context, req *OrderRequest) (float64, error) {
	return g.referencePriceFor(ctx, req.Symbol, req.Exchange, req.Type, req.Price)
}

func (g *Gateway) referencePriceFor(ctx context.Context, symbol string, exchange models.Exchange, orderType models.OrderType, limitPrice float64) (float64, error) {
	if (orderType == models.OrderTypeLimit || orderType == models.OrderTypeStopLoss) && limitPrice > 0 {
		return limitPrice, nil
	}
	q, err := g.quotes.GetQuote(ctx, quotes.InstrumentKey{Symbol: symbol, Exchange: exchange})
	if err != nil {
		return 0, fmt.Errorf("%w: %s", errors.ErrQuoteUnavailable, symbol)
	}
	if q.LTP <= 0 {
		return 0, fmt.Errorf("%w: %s has no last price", errors.ErrQuoteUnavailable, symbol)
	}
	return q.LTP, nil
}
