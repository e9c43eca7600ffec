package cli

import (
	"github.com/spf13/cobra"
)

func addPortfolioCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newHoldingsCmd(app))
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errStoreUnavailable
			}
			userID, _ := cmd.Flags().GetString("user")
			output := NewOutput(cmd)

			positions, err := app.Store.ListPositions(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Dim("No open positions")
				return nil
			}
			for i := range positions {
				p := &positions[i]
				output.Printf("%-20s %-5s %-5s qty=%+d avg=%.2f ltp=%.2f pnl=%s day=%s margin=%.2f\n",
					p.Symbol, p.Exchange, p.Product, p.Quantity, p.AveragePrice,
					p.LTP, output.PnL(p.PnL), output.PnL(p.TodayRealizedPnL), p.MarginBlocked)
			}
			return nil
		},
	}
}

func newHoldingsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings",
		Short: "Show settled delivery holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errStoreUnavailable
			}
			userID, _ := cmd.Flags().GetString("user")
			output := NewOutput(cmd)

			holdings, err := app.Store.ListHoldings(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(holdings)
			}
			if len(holdings) == 0 {
				output.Dim("No holdings")
				return nil
			}
			for i := range holdings {
				h := &holdings[i]
				output.Printf("%-20s %-5s qty=%d avg=%.2f ltp=%.2f invested=%.2f current=%.2f pnl=%s\n",
					h.Symbol, h.Exchange, h.Quantity, h.AveragePrice, h.LTP,
					h.InvestedValue, h.CurrentValue, output.PnL(h.PnL))
			}
			return nil
		},
	}
}
