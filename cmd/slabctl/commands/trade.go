package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/coldbell/slab/backend/internal/exchange"
	"github.com/coldbell/slab/backend/internal/slab"
)

var (
	feePayment     uint64
	minCapital     uint64
	accountIdx     int
	lpIdx          int
	useMatcher     bool
	lpKeypairPath  string
	matcherProgram string
	matcherContext string
)

var InitUserCmd = &cobra.Command{
	Use:   "init-user",
	Short: "Open a user slot for the wallet, optionally funding it",
	Long: `Open a user slot for the wallet. With --min-capital the slot is also
funded up to that amount; re-running only sends what is still missing.`,
	Args: cobra.NoArgs,
	RunE: initUser,
}

var InitLPCmd = &cobra.Command{
	Use:   "init-lp",
	Short: "Open an LP slot bound to a matcher program and context",
	Args:  cobra.NoArgs,
	RunE:  initLP,
}

var DepositCmd = &cobra.Command{
	Use:   "deposit <amount>",
	Short: "Deposit collateral into a slot",
	Args:  cobra.ExactArgs(1),
	RunE:  deposit,
}

var WithdrawCmd = &cobra.Command{
	Use:   "withdraw <amount>",
	Short: "Withdraw collateral from a slot",
	Args:  cobra.ExactArgs(1),
	RunE:  withdraw,
}

var TradeCmd = &cobra.Command{
	Use:   "trade <size>",
	Short: "Trade against an LP; positive size buys, negative sells",
	Args:  cobra.ExactArgs(1),
	RunE:  trade,
}

var CloseAccountCmd = &cobra.Command{
	Use:   "close-account",
	Short: "Close a flat slot and return its capital",
	Args:  cobra.NoArgs,
	RunE:  closeAccount,
}

var TopUpCmd = &cobra.Command{
	Use:   "topup <amount>",
	Short: "Add collateral to the insurance fund",
	Args:  cobra.ExactArgs(1),
	RunE:  topUp,
}

func init() {
	InitUserCmd.Flags().Uint64Var(&feePayment, "fee", 0, "New account fee payment")
	InitUserCmd.Flags().Uint64Var(&minCapital, "min-capital", 0, "Deposit until the slot holds at least this much")

	InitLPCmd.Flags().Uint64Var(&feePayment, "fee", 0, "New account fee payment")
	InitLPCmd.Flags().StringVar(&matcherProgram, "matcher-program", "", "Matcher program id (defaults to SLAB_MATCHER_PROGRAM_ID)")
	InitLPCmd.Flags().StringVar(&matcherContext, "matcher-context", "", "Matcher context account")
	_ = InitLPCmd.MarkFlagRequired("matcher-context")

	for _, c := range []*cobra.Command{DepositCmd, WithdrawCmd, CloseAccountCmd} {
		c.Flags().IntVar(&accountIdx, "idx", -1, "Slot index (defaults to the wallet's user slot)")
	}

	TradeCmd.Flags().IntVar(&accountIdx, "idx", -1, "User slot index (defaults to the wallet's user slot)")
	TradeCmd.Flags().IntVar(&lpIdx, "lp", -1, "LP slot index")
	TradeCmd.Flags().BoolVar(&useMatcher, "cpi", false, "Route the trade through the LP's matcher")
	TradeCmd.Flags().StringVar(&lpKeypairPath, "lp-keypair", "", "LP owner keypair for direct trades")
	_ = TradeCmd.MarkFlagRequired("lp")
}

func initUser(cmd *cobra.Command, args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	idx, report, err := client.OpenUserAccount(cmd.Context(), exchange.OpenUserPlan{
		FeePayment: feePayment,
		MinCapital: minCapital,
	})
	if reportErr := reportSaga(os.Stdout, report); reportErr != nil {
		return reportErr
	}
	if err != nil {
		return err
	}
	if !jsonOutput() {
		fmt.Printf("user slot: %d\n", idx)
	}
	return nil
}

func initLP(cmd *cobra.Command, args []string) error {
	program := clientCfg.MatcherProgram
	if matcherProgram != "" {
		key, err := solana.PublicKeyFromBase58(matcherProgram)
		if err != nil {
			return fmt.Errorf("%w: matcher program %q", errInvalidArg, matcherProgram)
		}
		program = key
	}
	if program.IsZero() {
		return fmt.Errorf("%w: matcher program is required", errInvalidArg)
	}
	contextKey, err := solana.PublicKeyFromBase58(matcherContext)
	if err != nil {
		return fmt.Errorf("%w: matcher context %q", errInvalidArg, matcherContext)
	}

	client, err := dial()
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		return client.BuildInitLPTx(cmd.Context(), program, contextKey, feePayment)
	})
	if err != nil {
		return err
	}
	lp, err := client.FindLP(cmd.Context(), client.Wallet(), contextKey)
	if err != nil {
		return err
	}
	if !jsonOutput() {
		fmt.Printf("lp slot: %d\n", lp.Index)
	}
	return nil
}

// resolveIdx returns --idx or the wallet's user slot.
func resolveIdx(ctx context.Context, client *exchange.Client, flag int) (uint16, error) {
	if flag >= 0 {
		if flag > int(^uint16(0)) {
			return 0, fmt.Errorf("%w: index %d", errInvalidArg, flag)
		}
		return uint16(flag), nil
	}
	acct, err := client.FindAccount(ctx, client.Wallet(), slab.KindUser)
	if err != nil {
		return 0, fmt.Errorf("%w (pass --idx)", err)
	}
	return acct.Index, nil
}

func deposit(cmd *cobra.Command, args []string) error {
	amount, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	idx, err := resolveIdx(cmd.Context(), client, accountIdx)
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		return client.BuildDepositTx(cmd.Context(), idx, amount)
	})
	return err
}

func withdraw(cmd *cobra.Command, args []string) error {
	amount, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	idx, err := resolveIdx(cmd.Context(), client, accountIdx)
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		return client.BuildWithdrawTx(cmd.Context(), idx, amount)
	})
	return err
}

func trade(cmd *cobra.Command, args []string) error {
	size, err := parseSize(args[0])
	if err != nil {
		return err
	}
	if lpIdx < 0 || lpIdx > int(^uint16(0)) {
		return fmt.Errorf("%w: --lp %d", errInvalidArg, lpIdx)
	}
	var lpSigner solana.PrivateKey
	if lpKeypairPath != "" {
		if useMatcher {
			return fmt.Errorf("%w: --lp-keypair is only used for direct trades", errInvalidArg)
		}
		lpSigner, err = solana.PrivateKeyFromSolanaKeygenFile(lpKeypairPath)
		if err != nil {
			return fmt.Errorf("load lp keypair: %w", err)
		}
	}

	client, err := dial()
	if err != nil {
		return err
	}
	userIdx, err := resolveIdx(cmd.Context(), client, accountIdx)
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		if useMatcher {
			return client.BuildTradeCpiTx(cmd.Context(), uint16(lpIdx), userIdx, size)
		}
		return client.BuildTradeNoCpiTx(cmd.Context(), exchange.TradeParams{
			LpIdx:    uint16(lpIdx),
			UserIdx:  userIdx,
			Size:     size,
			LpSigner: lpSigner,
		})
	})
	return err
}

func closeAccount(cmd *cobra.Command, args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	idx, err := resolveIdx(cmd.Context(), client, accountIdx)
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		return client.BuildCloseAccountTx(cmd.Context(), idx)
	})
	return err
}

func topUp(cmd *cobra.Command, args []string) error {
	amount, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	_, err = send(cmd.Context(), client, func() (exchange.UnsignedTx, error) {
		return client.BuildTopUpInsuranceTx(cmd.Context(), amount)
	})
	return err
}
