package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	walletdomain "github.com/smallbiznis/stayledger/internal/wallet/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newWalletCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Host wallet maintenance",
	}
	cmd.AddCommand(newWalletReconcileCommand())
	return cmd
}

func newWalletReconcileCommand() *cobra.Command {
	var hostID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare a host's balance with the sum of its ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := snowflake.ParseString(hostID)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid --host %q", hostID)
			}

			var wallets walletdomain.Service
			app := fx.New(
				infrastructure,
				domain,
				fx.NopLogger,
				fx.Populate(&wallets),
			)
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = app.Stop(cmd.Context()) }()

			result, err := wallets.ReconcileBalance(cmd.Context(), id)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Balanced() {
				return fmt.Errorf("host %s balance %d does not match ledger %d", id, result.BalanceCents, result.LedgerCents)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hostID, "host", "", "host user id")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}
