package commands

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/coldbell/slab/backend/internal/exchange"
	"github.com/coldbell/slab/backend/internal/slab"
)

var errConfirmationRequired = errors.New("refusing to close the slab without --yes")

var (
	priceTimestamp int64
	confirmClose   bool
)

var SetOracleAuthorityCmd = &cobra.Command{
	Use:   "set-oracle-authority <pubkey>",
	Short: "Set the key allowed to push oracle prices (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE:  setOracleAuthority,
}

var PushPriceCmd = &cobra.Command{
	Use:   "push-price <price>",
	Short: "Push an authority price such as 1.25 (oracle authority only)",
	Args:  cobra.ExactArgs(1),
	RunE:  pushPrice,
}

var UpdateAdminCmd = &cobra.Command{
	Use:   "update-admin <pubkey>",
	Short: "Hand the market admin role to another key",
	Args:  cobra.ExactArgs(1),
	RunE:  updateAdmin,
}

var CloseSlabCmd = &cobra.Command{
	Use:   "close-slab",
	Short: "Close the market and reclaim the slab account (admin only)",
	Args:  cobra.NoArgs,
	RunE:  closeSlab,
}

func init() {
	PushPriceCmd.Flags().Int64Var(&priceTimestamp, "timestamp", 0, "Unix timestamp of the price (defaults to now)")
	CloseSlabCmd.Flags().BoolVar(&confirmClose, "yes", false, "Confirm closing the slab")
}

func parseKey(raw, what string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %s %q", errInvalidArg, what, raw)
	}
	return key, nil
}

func setOracleAuthority(cmd *cobra.Command, args []string) error {
	authority, err := parseKey(args[0], "authority")
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		return client.BuildSetOracleAuthorityTx(authority)
	})
	return err
}

func pushPrice(cmd *cobra.Command, args []string) error {
	price, err := parsePriceE6(args[0])
	if err != nil {
		return err
	}
	ts := priceTimestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	client, err := dial()
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		return client.BuildPushOraclePriceTx(price, ts)
	})
	return err
}

func updateAdmin(cmd *cobra.Command, args []string) error {
	admin, err := parseKey(args[0], "admin")
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		return client.BuildUpdateAdminTx(admin)
	})
	return err
}

func closeSlab(cmd *cobra.Command, args []string) error {
	if !confirmClose {
		return errConfirmationRequired
	}
	client, err := dial()
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, client.BuildCloseSlabTx)
	return err
}

type bootstrapFlags struct {
	slabKeypair       string
	mint              string
	oracleFeed        string
	maxStalenessSecs  uint64
	confFilterBps     uint16
	invert            bool
	unitScale         uint32
	initialMarginBps  uint64
	maintMarginBps    uint64
	tradingFeeBps     uint64
	maxAccounts       uint64
	warmupSlots       uint64
	newAccountFee     uint64
	liquidationFeeBps uint64
	crankStaleness    uint64
	oracleAuthority   string
	initialPrice      string
	matcherProgram    string
	contextKeypair    string
	contextSpace      uint64
	lpFee             uint64
}

var boot bootstrapFlags

var BootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create and initialize a market end to end",
	Long: `Create the slab account and vault, initialize the market, optionally set
an oracle authority with an initial price, and open an LP bound to a matcher.
Steps already on chain are skipped, so a failed run can simply be repeated.`,
	Args: cobra.NoArgs,
	RunE: bootstrap,
}

func init() {
	f := BootstrapCmd.Flags()
	f.StringVar(&boot.slabKeypair, "slab-keypair", "", "Keypair file of the new slab account")
	f.StringVar(&boot.mint, "mint", "", "Collateral mint")
	f.StringVar(&boot.oracleFeed, "oracle-feed", "", "Oracle feed account (defaults to the mint when empty)")
	f.Uint64Var(&boot.maxStalenessSecs, "max-staleness", 60, "Maximum oracle age in seconds")
	f.Uint16Var(&boot.confFilterBps, "conf-filter-bps", 0, "Oracle confidence filter in bps")
	f.BoolVar(&boot.invert, "invert", false, "Invert the oracle price")
	f.Uint32Var(&boot.unitScale, "unit-scale", 1, "Collateral unit scale")
	f.Uint64Var(&boot.initialMarginBps, "initial-margin-bps", 1000, "Initial margin in bps")
	f.Uint64Var(&boot.maintMarginBps, "maintenance-margin-bps", 500, "Maintenance margin in bps")
	f.Uint64Var(&boot.tradingFeeBps, "trading-fee-bps", 10, "Trading fee in bps")
	f.Uint64Var(&boot.maxAccounts, "max-accounts", slab.MaxAccounts, "Maximum account slots")
	f.Uint64Var(&boot.warmupSlots, "warmup-slots", 0, "PnL warmup period in slots")
	f.Uint64Var(&boot.newAccountFee, "new-account-fee", 0, "Fee charged to open a slot")
	f.Uint64Var(&boot.liquidationFeeBps, "liquidation-fee-bps", 50, "Liquidation fee in bps")
	f.Uint64Var(&boot.crankStaleness, "max-crank-staleness", 0, "Maximum slots between cranks")
	f.StringVar(&boot.oracleAuthority, "oracle-authority", "", "Key allowed to push prices")
	f.StringVar(&boot.initialPrice, "initial-price", "", "First authority price; requires the wallet as authority")
	f.StringVar(&boot.matcherProgram, "matcher-program", "", "Matcher program for the bootstrap LP")
	f.StringVar(&boot.contextKeypair, "matcher-context-keypair", "", "Keypair file of the matcher context account")
	f.Uint64Var(&boot.contextSpace, "matcher-context-space", 320, "Matcher context account size in bytes")
	f.Uint64Var(&boot.lpFee, "lp-fee", 0, "Fee payment for the bootstrap LP slot")
	_ = BootstrapCmd.MarkFlagRequired("slab-keypair")
	_ = BootstrapCmd.MarkFlagRequired("mint")
}

func (b bootstrapFlags) plan() (exchange.BootstrapPlan, error) {
	var plan exchange.BootstrapPlan
	slabKey, err := solana.PrivateKeyFromSolanaKeygenFile(b.slabKeypair)
	if err != nil {
		return plan, fmt.Errorf("load slab keypair: %w", err)
	}
	mint, err := parseKey(b.mint, "mint")
	if err != nil {
		return plan, err
	}
	feed := mint
	if b.oracleFeed != "" {
		if feed, err = parseKey(b.oracleFeed, "oracle feed"); err != nil {
			return plan, err
		}
	}

	plan = exchange.BootstrapPlan{
		SlabKey: slabKey,
		Market: exchange.InitMarketParams{
			Mint:             mint,
			OracleFeedID:     feed,
			MaxStalenessSecs: b.maxStalenessSecs,
			ConfFilterBps:    b.confFilterBps,
			Invert:           b.invert,
			UnitScale:        b.unitScale,
			Risk: slab.RiskParams{
				WarmupPeriodSlots:      b.warmupSlots,
				MaintenanceMarginBps:   b.maintMarginBps,
				InitialMarginBps:       b.initialMarginBps,
				TradingFeeBps:          b.tradingFeeBps,
				MaxAccounts:            b.maxAccounts,
				NewAccountFee:          new(big.Int).SetUint64(b.newAccountFee),
				MaxCrankStalenessSlots: b.crankStaleness,
				LiquidationFeeBps:      b.liquidationFeeBps,
			},
		},
		MatcherContextSpace: b.contextSpace,
		LPFeePayment:        b.lpFee,
	}
	if b.oracleAuthority != "" {
		if plan.OracleAuthority, err = parseKey(b.oracleAuthority, "oracle authority"); err != nil {
			return plan, err
		}
	}
	if b.initialPrice != "" {
		if plan.InitialPriceE6, err = parsePriceE6(b.initialPrice); err != nil {
			return plan, err
		}
		plan.InitialPriceTimestamp = time.Now().Unix()
	}
	if b.matcherProgram != "" {
		if plan.MatcherProgram, err = parseKey(b.matcherProgram, "matcher program"); err != nil {
			return plan, err
		}
	}
	if b.contextKeypair != "" {
		if plan.MatcherContextKey, err = solana.PrivateKeyFromSolanaKeygenFile(b.contextKeypair); err != nil {
			return plan, fmt.Errorf("load matcher context keypair: %w", err)
		}
	}
	return plan, nil
}

func bootstrap(cmd *cobra.Command, args []string) error {
	plan, err := boot.plan()
	if err != nil {
		return err
	}
	if plan.MatcherProgram.IsZero() {
		plan.MatcherProgram = clientCfg.MatcherProgram
	}
	slabAddr := plan.SlabKey.PublicKey()
	if !clientCfg.Slab.IsZero() && !clientCfg.Slab.Equals(slabAddr) {
		return fmt.Errorf("%w: slab keypair %s does not match configured slab %s", errInvalidArg, slabAddr, clientCfg.Slab)
	}
	clientCfg.Slab = slabAddr

	client, err := dial()
	if err != nil {
		return err
	}
	report, err := client.BootstrapMarket(cmd.Context(), plan)
	if reportErr := reportSaga(os.Stdout, report); reportErr != nil {
		return reportErr
	}
	if err == nil && !jsonOutput() {
		fmt.Printf("slab: %s\n", slabAddr)
	}
	return err
}
