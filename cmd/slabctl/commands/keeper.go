package commands

import (
	"github.com/spf13/cobra"

	"github.com/coldbell/slab/backend/internal/exchange"
	"github.com/coldbell/slab/backend/internal/ix"
)

var (
	crankCaller uint16
	allowPanic  bool
)

var CrankCmd = &cobra.Command{
	Use:   "crank",
	Short: "Run one keeper crank",
	Args:  cobra.NoArgs,
	RunE:  crank,
}

var LiquidateCmd = &cobra.Command{
	Use:   "liquidate <idx>",
	Short: "Liquidate a slot at the oracle price",
	Args:  cobra.ExactArgs(1),
	RunE:  liquidate,
}

func init() {
	CrankCmd.Flags().Uint16Var(&crankCaller, "caller", ix.PermissionlessCaller, "Caller slot index; the default cranks permissionlessly")
	CrankCmd.Flags().BoolVar(&allowPanic, "allow-panic", false, "Allow the crank to enter the panic path")
}

func crank(cmd *cobra.Command, args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		return client.BuildKeeperCrankTx(cmd.Context(), crankCaller, allowPanic)
	})
	return err
}

func liquidate(cmd *cobra.Command, args []string) error {
	target, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		return client.BuildLiquidateTx(cmd.Context(), target)
	})
	return err
}
