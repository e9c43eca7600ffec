package scheduler

import (
	"context"
	"fmt"

	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/gateway"
	"github.com/marketcalls/openalgo-sub012/internal/models"
)

// squareOffTag marks exit orders synthesized by the square-off sweep.
const squareOffTag = "auto-squareoff"

// venueExchanges maps a square-off venue name to its exchanges.
var venueExchanges = map[string][]models.Exchange{
	"NSE": {models.NSE},
	"BSE": {models.BSE},
	"NFO": {models.NFO},
	"CDS": {models.CDS},
	"MCX": {models.MCX},
}

// SquareOffVenue force-closes all intraday exposure on a venue past its
// cutoff: pending MIS orders are cancelled, then every MIS position is
// flattened with a synthesized reverse market order. The exit order goes
// through the regular gateway and engine path, so it fills on the next
// matching cycle at the live quote.
//
// The sweep runs on every tick past the cutoff and is idempotent: its
// own exit orders are never cancelled, and a position with a live exit
// order pending is not flattened again. A rejected exit order is logged
// and counted; it is retried by the next sweep.
func (s *Scheduler) SquareOffVenue(ctx context.Context, venue string) error {
	exchanges, ok := venueExchanges[venue]
	if !ok {
		return fmt.Errorf("unknown square-off venue %q", venue)
	}

	// Pending intraday orders first, so a resting order cannot fill
	// after its position was flattened.
	open, err := s.store.GetOpenOrders(ctx)
	if err != nil {
		return err
	}
	pendingExit := map[string]bool{}
	for i := range open {
		o := &open[i]
		if o.Product != models.ProductMIS || !onVenue(o.Exchange, exchanges) {
			continue
		}
		if o.Tag == squareOffTag {
			pendingExit[o.UserID+"|"+string(o.Exchange)+"|"+o.Symbol] = true
			continue
		}
		if err := s.gateway.CancelOrder(ctx, o.ID); err != nil && !errors.Is(err, errors.ErrOrderNotOpen) {
			s.logger.Error().Str("order_id", o.ID).Err(err).Msg("Failed to cancel pending order at cutoff")
		}
	}

	positions, err := s.store.ListAllPositions(ctx)
	if err != nil {
		return err
	}
	for i := range positions {
		p := &positions[i]
		if p.Product != models.ProductMIS || p.Quantity == 0 || !onVenue(p.Exchange, exchanges) {
			continue
		}
		if pendingExit[p.UserID+"|"+string(p.Exchange)+"|"+p.Symbol] {
			continue
		}

		side := models.OrderSideSell
		if p.Quantity < 0 {
			side = models.OrderSideBuy
		}
		_, err := s.gateway.PlaceOrder(ctx, &gateway.OrderRequest{
			UserID:   p.UserID,
			Symbol:   p.Symbol,
			Exchange: p.Exchange,
			Side:     side,
			Type:     models.OrderTypeMarket,
			Product:  models.ProductMIS,
			Quantity: p.AbsQuantity(),
			Tag:      squareOffTag,
		})
		if err != nil {
			s.metrics.SquareOffFails.Inc()
			s.logger.Error().Str("user", p.UserID).Str("symbol", p.Symbol).
				Err(err).Msg("Square-off exit order rejected")
			continue
		}
		s.metrics.SquareOffsTotal.Inc()
		s.logger.Info().Str("venue", venue).Str("user", p.UserID).
			Str("symbol", p.Symbol).Int("qty", p.AbsQuantity()).Msg("Square-off exit placed")
	}
	return nil
}

func onVenue(exchange models.Exchange, exchanges []models.Exchange) bool {
	for _, e := range exchanges {
		if e == exchange {
			return true
		}
	}
	return false
}
