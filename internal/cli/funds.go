package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func addFundsCommands(rootCmd *cobra.Command, app *App) {
	fundsCmd := &cobra.Command{
		Use:   "funds",
		Short: "Inspect and reset the virtual fund account",
	}
	fundsCmd.AddCommand(newFundsShowCmd(app))
	fundsCmd.AddCommand(newFundsResetCmd(app))
	fundsCmd.AddCommand(newFundsReconcileCmd(app))
	rootCmd.AddCommand(fundsCmd)
}

func newFundsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the fund account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Ledger == nil {
				return errStoreUnavailable
			}
			userID, _ := cmd.Flags().GetString("user")
			output := NewOutput(cmd)

			funds, err := app.Ledger.GetFunds(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(funds)
			}
			output.Printf("User:            %s\n", funds.UserID)
			output.Printf("Total capital:   %.2f\n", funds.TotalCapital)
			output.Printf("Available cash:  %.2f\n", funds.AvailableCash)
			output.Printf("Used margin:     %.2f\n", funds.UsedMargin)
			output.Printf("Realized P&L:    %s\n", output.PnL(funds.RealizedPnL))
			output.Printf("Unrealized P&L:  %s\n", output.PnL(funds.UnrealizedPnL))
			output.Printf("Last reset:      %s (reset #%d)\n",
				funds.LastReset.Format("2006-01-02 15:04"), funds.ResetCount)
			return nil
		},
	}
}

func newFundsResetCmd(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the account to starting capital",
		Long: `Reset the account to starting capital.

All positions and holdings are wiped and the fund account returns to the
configured starting capital. This cannot be undone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Ledger == nil {
				return errStoreUnavailable
			}
			userID, _ := cmd.Flags().GetString("user")
			if !yes {
				return fmt.Errorf("refusing to reset %q without --yes", userID)
			}
			if err := app.Ledger.Reset(cmd.Context(), userID); err != nil {
				return err
			}
			NewOutput(cmd).Success("Account %s reset to starting capital", userID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newFundsReconcileCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Check used margin against the sum of position margins",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Ledger == nil {
				return errStoreUnavailable
			}
			userID, _ := cmd.Flags().GetString("user")
			output := NewOutput(cmd)

			drifted, err := app.Ledger.Reconcile(cmd.Context(), userID)
			switch {
			case err != nil:
				output.Warning("Drift detected: %v", err)
			case drifted:
				output.Success("Account %s drifted and was repaired", userID)
			default:
				output.Success("Account %s is consistent", userID)
			}
			return nil
		},
	}
}
