package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/coldbell/slab/backend/internal/logging"
)

type RPCOptions struct {
	Commitment          rpc.CommitmentType
	SkipPreflight       bool
	MaxRetries          *uint
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
}

// RPC implements AccountFetcher, Submitter and RentCalculator over a JSON-RPC
// endpoint.
type RPC struct {
	client *rpc.Client
	opts   RPCOptions
	logger *slog.Logger
}

func NewRPC(client *rpc.Client, opts RPCOptions, logger *slog.Logger) *RPC {
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 30 * time.Second
	}
	if opts.ConfirmPollInterval <= 0 {
		opts.ConfirmPollInterval = 700 * time.Millisecond
	}
	return &RPC{client: client, opts: opts, logger: logging.OrDiscard(logger)}
}

func (r *RPC) Client() *rpc.Client { return r.client }

func (r *RPC) FetchAccount(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	out, err := r.client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: r.opts.Commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	return out.GetBinary(), nil
}

func (r *RPC) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	recent, err := r.client.GetLatestBlockhash(ctx, r.opts.Commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return solana.Hash{}, errors.New("get latest blockhash: empty response")
	}
	return recent.Value.Blockhash, nil
}

func (r *RPC) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	opts := rpc.TransactionOpts{
		SkipPreflight:       r.opts.SkipPreflight,
		PreflightCommitment: r.opts.Commitment,
	}
	if r.opts.MaxRetries != nil {
		retries := *r.opts.MaxRetries
		opts.MaxRetries = &retries
	}
	return r.client.SendTransactionWithOpts(ctx, tx, opts)
}

func (r *RPC) Confirm(ctx context.Context, sig solana.Signature) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(r.opts.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Status{}, fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
			result, err := r.client.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				r.logger.Debug("signature status poll failed", "signature", sig, "err", err)
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return Status{Slot: status.Slot, Err: status.Err}, nil
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return Status{Slot: status.Slot}, nil
			}
		}
	}
}

func (r *RPC) TransactionLogs(ctx context.Context, sig solana.Signature) ([]string, error) {
	maxVersion := uint64(0)
	out, err := r.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     r.opts.Commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if out == nil || out.Meta == nil {
		return nil, nil
	}
	return out.Meta.LogMessages, nil
}

func (r *RPC) MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	lamports, err := r.client.GetMinimumBalanceForRentExemption(ctx, size, r.opts.Commitment)
	if err != nil {
		return 0, fmt.Errorf("get rent exemption for %d bytes: %w", size, err)
	}
	return lamports, nil
}
