package commands

import (
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/coldbell/slab/backend/internal/slab"
)

var ownerFilter string

var MarketCmd = &cobra.Command{
	Use:   "market",
	Short: "Show the market header, config and engine state",
	Args:  cobra.NoArgs,
	RunE:  showMarket,
}

var AccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List every used account slot",
	Args:  cobra.NoArgs,
	RunE:  listAccounts,
}

var PositionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List open positions with notional and leverage",
	Args:  cobra.NoArgs,
	RunE:  listPositions,
}

func init() {
	AccountsCmd.Flags().StringVar(&ownerFilter, "owner", "", "Only show slots owned by this key")
	PositionsCmd.Flags().StringVar(&ownerFilter, "owner", "", "Only show positions owned by this key")
}

func showMarket(cmd *cobra.Command, args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	snap, err := client.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(os.Stdout, struct {
			Slab   string            `json:"slab"`
			Header slab.Header       `json:"header"`
			Config slab.MarketConfig `json:"config"`
			Engine slab.EngineState  `json:"engine"`
			Used   int               `json:"used_accounts"`
		}{snap.Slab.String(), snap.Header, snap.Config, snap.Engine, len(snap.Accounts)})
	}

	cfg, engine := snap.Config, snap.Engine
	authority := "none"
	if cfg.HasOracleAuthority() {
		authority = cfg.OracleAuthority.String()
	}
	rows := [][]string{
		{"slab", snap.Slab.String()},
		{"version", strconv.FormatUint(uint64(snap.Header.Version), 10)},
		{"admin", cfg.Admin.String()},
		{"collateral mint", cfg.CollateralMint.String()},
		{"vault", cfg.Vault.String()},
		{"oracle feed", cfg.OracleFeedID.String()},
		{"oracle authority", authority},
		{"authority price", formatPriceE6(new(big.Int).SetUint64(cfg.AuthorityPriceE6))},
		{"initial margin bps", strconv.FormatUint(cfg.Risk.InitialMarginBps, 10)},
		{"maintenance margin bps", strconv.FormatUint(cfg.Risk.MaintenanceMarginBps, 10)},
		{"trading fee bps", strconv.FormatUint(cfg.Risk.TradingFeeBps, 10)},
		{"vault balance", engine.VaultBalance.String()},
		{"insurance balance", engine.InsuranceBalance.String()},
		{"open interest", engine.TotalOpenInterest.String()},
		{"last crank slot", strconv.FormatUint(engine.LastCrankSlot, 10)},
		{"used accounts", fmt.Sprintf("%d / %d", len(snap.Accounts), cfg.Risk.MaxAccounts)},
		{"lifetime liquidations", strconv.FormatUint(engine.LifetimeLiquidations, 10)},
	}
	return printTable(os.Stdout, []string{"FIELD", "VALUE"}, rows)
}

func ownerKey() (solana.PublicKey, error) {
	if ownerFilter == "" {
		return solana.PublicKey{}, nil
	}
	key, err := solana.PublicKeyFromBase58(ownerFilter)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: owner %q", errInvalidArg, ownerFilter)
	}
	return key, nil
}

func listAccounts(cmd *cobra.Command, args []string) error {
	owner, err := ownerKey()
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	accounts, err := client.Accounts(cmd.Context())
	if err != nil {
		return err
	}
	filtered := make([]slab.IndexedAccount, 0, len(accounts))
	for _, ia := range accounts {
		if owner.IsZero() || ia.Account.Owner.Equals(owner) {
			filtered = append(filtered, ia)
		}
	}
	if jsonOutput() {
		return printJSON(os.Stdout, filtered)
	}
	rows := make([][]string, 0, len(filtered))
	for _, ia := range filtered {
		a := ia.Account
		rows = append(rows, []string{
			strconv.Itoa(int(ia.Index)),
			a.Kind.String(),
			a.Owner.String(),
			a.Capital.String(),
			a.Pnl.String(),
			a.PositionSize.String(),
			formatPriceE6(a.EntryPrice),
		})
	}
	return printTable(os.Stdout, []string{"IDX", "KIND", "OWNER", "CAPITAL", "PNL", "SIZE", "ENTRY"}, rows)
}

func listPositions(cmd *cobra.Command, args []string) error {
	owner, err := ownerKey()
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	positions, err := client.OpenPositions(cmd.Context())
	if err != nil {
		return err
	}
	filtered := make([]slab.PositionView, 0, len(positions))
	for _, p := range positions {
		if owner.IsZero() || p.Owner == owner.String() {
			filtered = append(filtered, p)
		}
	}
	if jsonOutput() {
		return printJSON(os.Stdout, filtered)
	}
	rows := make([][]string, 0, len(filtered))
	for _, p := range filtered {
		leverage := p.Leverage.State.String()
		if p.Leverage.State == slab.LeverageOK {
			leverage = p.Leverage.Value.StringFixed(2) + "x"
		}
		rows = append(rows, []string{
			strconv.Itoa(int(p.Index)),
			p.Kind.String(),
			p.Owner,
			p.Side(),
			p.Size.String(),
			formatPriceE6(p.EntryPriceE6),
			p.Notional.String(),
			leverage,
		})
	}
	return printTable(os.Stdout, []string{"IDX", "KIND", "OWNER", "SIDE", "SIZE", "ENTRY", "NOTIONAL", "LEVERAGE"}, rows)
}
