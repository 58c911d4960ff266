// Package chain holds the collaborators the exchange client talks to the
// cluster through: account reads, signing, submission and confirmation.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountFetcher interface {
	// FetchAccount returns the raw account data, or ErrAccountNotFound.
	FetchAccount(ctx context.Context, address solana.PublicKey) ([]byte, error)
}

type Signer interface {
	PublicKey() solana.PublicKey
	// SignTransaction adds the signer's signature without touching others.
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// Status is the outcome of a confirmed transaction. Err is the raw execution
// error reported by the cluster, nil on success.
type Status struct {
	Slot uint64
	Err  any
}

func (s Status) Failed() bool { return s.Err != nil }

type Submitter interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	// Confirm blocks until the transaction lands or the collaborator's own
	// timeout expires.
	Confirm(ctx context.Context, sig solana.Signature) (Status, error)
	TransactionLogs(ctx context.Context, sig solana.Signature) ([]string, error)
}

type RentCalculator interface {
	MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
}

// SimulationLogs extracts program logs from a preflight failure returned by
// sendTransaction. It returns nil when err carries none.
func SimulationLogs(err error) []string {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Data == nil {
		return nil
	}
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return nil
	}
	rawLogs, ok := data["logs"].([]interface{})
	if !ok {
		return nil
	}
	logs := make([]string, 0, len(rawLogs))
	for _, line := range rawLogs {
		if s, ok := line.(string); ok {
			logs = append(logs, s)
		}
	}
	return logs
}

// ExecutionError renders a raw status error for messages.
func ExecutionError(raw any) error {
	if raw == nil {
		return nil
	}
	if err, ok := raw.(error); ok {
		return err
	}
	return fmt.Errorf("transaction failed: %v", raw)
}
