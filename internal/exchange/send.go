package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/slab/backend/internal/chain"
	"github.com/coldbell/slab/backend/internal/progerr"
)

// ErrUnrecognizedFailure marks a failed send with no decodable program error.
var ErrUnrecognizedFailure = errors.New("unrecognized transaction failure")

type Stage string

const (
	StageBlockhash Stage = "blockhash"
	StageBuild     Stage = "build"
	StageSign      Stage = "sign"
	StageSubmit    Stage = "submit"
	StageConfirm   Stage = "confirm"
	StageExecution Stage = "execution"
)

// Failure is the structured error of a send. Program is set when the logs
// carried a custom error code from the exchange program.
type Failure struct {
	Stage   Stage
	Program *progerr.ProgramError
	Raw     error
	Logs    []string
}

func (f *Failure) Error() string {
	if f.Program != nil {
		return fmt.Sprintf("%s: %s", f.Stage, f.Program.Error())
	}
	return fmt.Sprintf("%s: %s: %v", f.Stage, ErrUnrecognizedFailure, f.Raw)
}

func (f *Failure) Unwrap() []error {
	out := make([]error, 0, 2)
	if f.Program != nil {
		out = append(out, f.Program)
	} else {
		out = append(out, ErrUnrecognizedFailure)
	}
	if f.Raw != nil {
		out = append(out, f.Raw)
	}
	return out
}

// Result is the outcome of SendTransaction: a signature with a nil Err, or a
// Failure.
type Result struct {
	Label     string
	Signature solana.Signature
	Slot      uint64
	Err       *Failure
}

func (r Result) OK() bool { return r.Err == nil }

// AsError returns Err as an error value, nil on success.
func (r Result) AsError() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// SendTransaction signs, submits and confirms utx. It makes a single attempt
// and reports every failure through Result.Err.
func (c *Client) SendTransaction(ctx context.Context, utx UnsignedTx) Result {
	res := Result{Label: utx.Label}

	blockhash, err := c.deps.Submitter.LatestBlockhash(ctx)
	if err != nil {
		return c.fail(res, StageBlockhash, err, nil)
	}

	tx, err := solana.NewTransaction(utx.Instructions, blockhash, solana.TransactionPayer(c.Wallet()))
	if err != nil {
		return c.fail(res, StageBuild, fmt.Errorf("build transaction: %w", err), nil)
	}

	if len(utx.Signers) > 0 {
		if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
			for i := range utx.Signers {
				if utx.Signers[i].PublicKey().Equals(key) {
					return &utx.Signers[i]
				}
			}
			return nil
		}); err != nil {
			return c.fail(res, StageSign, fmt.Errorf("sign with extra signers: %w", err), nil)
		}
	}
	if err := c.deps.Signer.SignTransaction(ctx, tx); err != nil {
		return c.fail(res, StageSign, err, nil)
	}

	sig, err := c.deps.Submitter.Submit(ctx, tx)
	if err != nil {
		return c.fail(res, StageSubmit, err, chain.SimulationLogs(err))
	}
	res.Signature = sig

	status, err := c.deps.Submitter.Confirm(ctx, sig)
	if err != nil {
		return c.fail(res, StageConfirm, err, nil)
	}
	res.Slot = status.Slot
	if status.Failed() {
		logs, logErr := c.deps.Submitter.TransactionLogs(ctx, sig)
		if logErr != nil {
			c.logger.Warn("fetch failed transaction logs", "signature", sig, "err", logErr)
		}
		return c.fail(res, StageExecution, chain.ExecutionError(status.Err), logs)
	}

	c.Invalidate()
	c.logger.Info("transaction confirmed", "label", utx.Label, "signature", sig, "slot", status.Slot)
	return res
}

func (c *Client) fail(res Result, stage Stage, raw error, logs []string) Result {
	res.Err = &Failure{
		Stage:   stage,
		Program: progerr.ParseErrorFromLogsFor(c.cfg.ProgramID, logs),
		Raw:     raw,
		Logs:    logs,
	}
	if res.Err.Program != nil {
		c.logger.Warn("transaction rejected by program",
			"label", res.Label,
			"stage", stage,
			"signature", res.Signature,
			"code", res.Err.Program.Code,
			"error_name", res.Err.Program.Name,
		)
	} else {
		c.logger.Warn("transaction failed", "label", res.Label, "stage", stage, "signature", res.Signature, "err", raw)
	}
	return res
}
