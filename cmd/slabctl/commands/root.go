package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/coldbell/slab/backend/internal/config"
	"github.com/coldbell/slab/backend/internal/exchange"
	"github.com/coldbell/slab/backend/internal/logging"
)

var (
	clientCfg   config.ClientConfig
	logger      *slog.Logger
	closeLogger = func() error { return nil }
)

// global flags
var (
	outputFormat string
	rpcURL       string
	keypairPath  string
	programFlag  string
	slabFlag     string
	oracleFlag   string
)

var RootCmd = &cobra.Command{
	Use:           "slabctl",
	Short:         "Operate a slab perpetual futures market",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadClientConfig()
		if err != nil {
			return err
		}
		if err := applyOverrides(&loaded); err != nil {
			return err
		}
		// stdout carries command output.
		if out := strings.ToLower(loaded.Log.Output); out == "" || out == "console" {
			loaded.Log.Output = "stderr"
		}
		l, closeFn, err := logging.New("slabctl", loaded.Log)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		clientCfg, logger, closeLogger = loaded, l, closeFn
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLogger()
	},
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")
	flags.StringVar(&rpcURL, "rpc", "", "JSON-RPC endpoint (overrides SOLANA_RPC_URL)")
	flags.StringVar(&keypairPath, "keypair", "", "Wallet keypair file (overrides SLAB_KEYPAIR_PATH)")
	flags.StringVar(&programFlag, "program", "", "Exchange program id (overrides SLAB_PROGRAM_ID)")
	flags.StringVar(&slabFlag, "slab", "", "Slab account address (overrides SLAB_ADDRESS)")
	flags.StringVar(&oracleFlag, "oracle", "", "Oracle account override (overrides SLAB_ORACLE)")

	RootCmd.AddCommand(
		MarketCmd,
		AccountsCmd,
		PositionsCmd,
		InitUserCmd,
		InitLPCmd,
		DepositCmd,
		WithdrawCmd,
		TradeCmd,
		CloseAccountCmd,
		TopUpCmd,
		CrankCmd,
		LiquidateCmd,
		SetOracleAuthorityCmd,
		PushPriceCmd,
		UpdateAdminCmd,
		CloseSlabCmd,
		BootstrapCmd,
		DecodeLogsCmd,
		PDACmd,
	)
}

func applyOverrides(cfg *config.ClientConfig) error {
	if rpcURL != "" {
		cfg.RPCURL = rpcURL
	}
	if keypairPath != "" {
		cfg.KeypairPath = keypairPath
	}
	for _, o := range []struct {
		raw    string
		target *solana.PublicKey
		name   string
	}{
		{programFlag, &cfg.ProgramID, "program"},
		{slabFlag, &cfg.Slab, "slab"},
		{oracleFlag, &cfg.Oracle, "oracle"},
	} {
		if o.raw == "" {
			continue
		}
		key, err := solana.PublicKeyFromBase58(o.raw)
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", o.name, err)
		}
		*o.target = key
	}
	return nil
}

func dial() (*exchange.Client, error) {
	return exchange.Dial(clientCfg, logger)
}
