package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/marketcalls/openalgo-sub012/internal/gateway"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/internal/store"
)

var errStoreUnavailable = errors.New("data store is not available")

func addOrderCommands(rootCmd *cobra.Command, app *App) {
	ordersCmd := &cobra.Command{
		Use:   "orders",
		Short: "Place, modify, cancel, and list sandbox orders",
	}
	ordersCmd.AddCommand(newOrderPlaceCmd(app))
	ordersCmd.AddCommand(newOrderModifyCmd(app))
	ordersCmd.AddCommand(newOrderCancelCmd(app))
	ordersCmd.AddCommand(newOrderListCmd(app))
	ordersCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(ordersCmd)
}

func newOrderPlaceCmd(app *App) *cobra.Command {
	var (
		exchange  string
		side      string
		orderType string
		product   string
		quantity  int
		price     float64
		trigger   float64
		tag       string
	)

	cmd := &cobra.Command{
		Use:   "place SYMBOL",
		Short: "Place a sandbox order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Gateway == nil {
				return errStoreUnavailable
			}
			userID, _ := cmd.Flags().GetString("user")
			output := NewOutput(cmd)

			order, err := app.Gateway.PlaceOrder(cmd.Context(), &gateway.OrderRequest{
				UserID:       userID,
				Symbol:       args[0],
				Exchange:     models.Exchange(exchange),
				Side:         models.OrderSide(side),
				Type:         models.OrderType(orderType),
				Product:      models.ProductType(product),
				Quantity:     quantity,
				Price:        price,
				TriggerPrice: trigger,
				Tag:          tag,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Order placed: %s", order.ID)
			output.Printf("  %s %s %d %s @ %s, margin blocked %.2f\n",
				order.Side, order.Symbol, order.Quantity, order.Product, order.Type, order.MarginBlocked)
			return nil
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", "NSE", "exchange (NSE, BSE, NFO, CDS, MCX)")
	cmd.Flags().StringVar(&side, "side", "", "BUY or SELL")
	cmd.Flags().StringVar(&orderType, "type", "MARKET", "order type (MARKET, LIMIT, SL, SL-M)")
	cmd.Flags().StringVar(&product, "product", "MIS", "product (MIS, CNC, NRML)")
	cmd.Flags().IntVar(&quantity, "qty", 0, "quantity")
	cmd.Flags().Float64Var(&price, "price", 0, "limit price")
	cmd.Flags().Float64Var(&trigger, "trigger", 0, "trigger price for SL and SL-M")
	cmd.Flags().StringVar(&tag, "tag", "", "free-form order tag")
	_ = cmd.MarkFlagRequired("side")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func newOrderModifyCmd(app *App) *cobra.Command {
	var (
		quantity int
		price    float64
		trigger  float64
	)

	cmd := &cobra.Command{
		Use:   "modify ORDER_ID",
		Short: "Modify an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Gateway == nil {
				return errStoreUnavailable
			}
			output := NewOutput(cmd)

			order, err := app.Gateway.ModifyOrder(cmd.Context(), &gateway.ModifyRequest{
				OrderID:      args[0],
				Quantity:     quantity,
				Price:        price,
				TriggerPrice: trigger,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Order modified: %s (margin %.2f)", order.ID, order.MarginBlocked)
			return nil
		},
	}

	cmd.Flags().IntVar(&quantity, "qty", 0, "new quantity")
	cmd.Flags().Float64Var(&price, "price", 0, "new limit price")
	cmd.Flags().Float64Var(&trigger, "trigger", 0, "new trigger price")
	return cmd
}

func newOrderCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel an open order and release its margin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Gateway == nil {
				return errStoreUnavailable
			}
			if err := app.Gateway.CancelOrder(cmd.Context(), args[0]); err != nil {
				return err
			}
			NewOutput(cmd).Success("Order cancelled: %s", args[0])
			return nil
		},
	}
}

func newOrderListCmd(app *App) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errStoreUnavailable
			}
			userID, _ := cmd.Flags().GetString("user")
			output := NewOutput(cmd)

			orders, err := app.Store.GetOrders(cmd.Context(), store.OrderFilter{
				UserID: userID,
				Status: models.OrderStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Dim("No orders")
				return nil
			}
			for i := range orders {
				o := &orders[i]
				output.Printf("%s  %-9s %-5s %-20s %-5s qty=%d price=%.2f margin=%.2f\n",
					o.ID, o.Status, o.Side, o.Symbol, o.Product, o.Quantity, o.Price, o.MarginBlocked)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (OPEN, COMPLETE, CANCELLED, REJECTED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newTradesCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List executed trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errStoreUnavailable
			}
			userID, _ := cmd.Flags().GetString("user")
			output := NewOutput(cmd)

			trades, err := app.Store.GetTrades(cmd.Context(), store.TradeFilter{
				UserID: userID,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No trades")
				return nil
			}
			for i := range trades {
				t := &trades[i]
				output.Printf("%s  %-5s %-20s qty=%d price=%.2f at %s\n",
					t.ID, t.Side, t.Symbol, t.Quantity, t.Price, t.ExecutedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
