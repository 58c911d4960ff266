package exchange

import (
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/coldbell/slab/backend/internal/chain"
	"github.com/coldbell/slab/backend/internal/config"
)

// Dial wires a client to a JSON-RPC endpoint and a local keypair.
func Dial(cfg config.ClientConfig, logger *slog.Logger) (*Client, error) {
	if err := cfg.RequireMarket(); err != nil {
		return nil, err
	}
	signer, err := chain.LoadKeypairSigner(cfg.KeypairPath)
	if err != nil {
		return nil, err
	}
	node := chain.NewRPC(rpc.New(cfg.RPCURL), chain.RPCOptions{
		Commitment:          cfg.Commitment,
		SkipPreflight:       cfg.SkipPreflight,
		MaxRetries:          cfg.MaxRetries,
		ConfirmTimeout:      cfg.TxTimeout,
		ConfirmPollInterval: cfg.ConfirmPollInterval,
	}, logger)

	client, err := New(Config{
		ProgramID:                     cfg.ProgramID,
		Slab:                          cfg.Slab,
		Oracle:                        cfg.Oracle,
		ComputeUnitLimit:              cfg.ComputeUnitLimit,
		ComputeUnitPriceMicroLamports: cfg.ComputeUnitPriceMicroLamports,
	}, Deps{
		Fetcher:   node,
		Signer:    signer,
		Submitter: node,
		Rent:      node,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create exchange client: %w", err)
	}
	return client, nil
}
