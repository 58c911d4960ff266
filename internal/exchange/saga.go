package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/slab/backend/internal/chain"
	"github.com/coldbell/slab/backend/internal/slab"
)

type StepStatus string

const (
	StepSkipped   StepStatus = "skipped"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

type StepReport struct {
	Name      string
	Status    StepStatus
	Signature solana.Signature
}

// SagaReport lists the steps that ran, in order. It stops at the first
// failure; steps after it are absent.
type SagaReport struct {
	Name  string
	Steps []StepReport
}

func (r SagaReport) Completed() bool {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return false
		}
	}
	return true
}

// sagaStep is one transaction of a multi-step flow. done inspects fresh
// chain state and reports whether the step's effect already exists.
type sagaStep struct {
	name  string
	done  func(ctx context.Context) (bool, error)
	build func(ctx context.Context) (UnsignedTx, error)
}

func (c *Client) runSaga(ctx context.Context, name string, steps []sagaStep) (SagaReport, error) {
	report := SagaReport{Name: name}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		c.Invalidate()
		done, err := step.done(ctx)
		if err != nil {
			return report, fmt.Errorf("%s: check %s: %w", name, step.name, err)
		}
		if done {
			c.logger.Info("saga step already applied", "saga", name, "step", step.name)
			report.Steps = append(report.Steps, StepReport{Name: step.name, Status: StepSkipped})
			continue
		}

		utx, err := step.build(ctx)
		if err != nil {
			return report, fmt.Errorf("%s: build %s: %w", name, step.name, err)
		}
		res := c.SendTransaction(ctx, utx)
		if !res.OK() {
			report.Steps = append(report.Steps, StepReport{Name: step.name, Status: StepFailed, Signature: res.Signature})
			c.logger.Error("saga step failed", "saga", name, "step", step.name, "err", res.Err)
			return report, res.Err
		}
		report.Steps = append(report.Steps, StepReport{Name: step.name, Status: StepCompleted, Signature: res.Signature})
	}
	c.Invalidate()
	return report, nil
}

// accountExists reports whether address holds an account at all.
func (c *Client) accountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	_, err := c.deps.Fetcher.FetchAccount(ctx, address)
	if errors.Is(err, chain.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// marketReady reports whether the slab parses as an initialized market.
func (c *Client) marketReady(ctx context.Context) (slab.MarketConfig, bool, error) {
	cfg, err := c.MarketConfig(ctx)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, slab.ErrMalformedSlab), errors.Is(err, chain.ErrAccountNotFound):
		return slab.MarketConfig{}, false, nil
	default:
		return slab.MarketConfig{}, false, err
	}
}

// BootstrapPlan describes a market from an empty address to a tradeable LP.
// Optional steps are left out when their fields are zero.
type BootstrapPlan struct {
	SlabKey solana.PrivateKey
	Market  InitMarketParams

	OracleAuthority       solana.PublicKey
	InitialPriceE6        uint64
	InitialPriceTimestamp int64

	MatcherProgram      solana.PublicKey
	MatcherContextKey   solana.PrivateKey
	MatcherContextSpace uint64
	LPFeePayment        uint64
}

func (p BootstrapPlan) validate(wallet solana.PublicKey) error {
	if len(p.SlabKey) == 0 {
		return fmt.Errorf("%w: slab keypair is required", ErrInvalidParams)
	}
	if p.Market.Mint.IsZero() {
		return fmt.Errorf("%w: collateral mint is required", ErrInvalidParams)
	}
	if p.InitialPriceE6 > 0 && !p.OracleAuthority.Equals(wallet) {
		return fmt.Errorf("%w: initial price needs the wallet as oracle authority", ErrInvalidParams)
	}
	if !p.MatcherProgram.IsZero() && len(p.MatcherContextKey) == 0 {
		return fmt.Errorf("%w: matcher context keypair is required with a matcher program", ErrInvalidParams)
	}
	return nil
}

// BootstrapMarket runs every setup transaction that has not already taken
// effect. Re-running it after a partial failure resumes at the failed step.
func (c *Client) BootstrapMarket(ctx context.Context, plan BootstrapPlan) (SagaReport, error) {
	if err := plan.validate(c.Wallet()); err != nil {
		return SagaReport{Name: "bootstrap"}, err
	}

	steps := []sagaStep{
		{
			name: "create-slab-account",
			done: func(ctx context.Context) (bool, error) { return c.accountExists(ctx, c.cfg.Slab) },
			build: func(ctx context.Context) (UnsignedTx, error) {
				return c.BuildCreateSlabAccountTx(ctx, plan.SlabKey)
			},
		},
		{
			name: "create-vault",
			done: func(ctx context.Context) (bool, error) {
				authority, err := c.vaultAuthority()
				if err != nil {
					return false, err
				}
				vault, _, err := solana.FindAssociatedTokenAddress(authority, plan.Market.Mint)
				if err != nil {
					return false, err
				}
				return c.accountExists(ctx, vault)
			},
			build: func(context.Context) (UnsignedTx, error) { return c.BuildCreateVaultTx(plan.Market.Mint) },
		},
		{
			name: "init-market",
			done: func(ctx context.Context) (bool, error) {
				_, ready, err := c.marketReady(ctx)
				return ready, err
			},
			build: func(context.Context) (UnsignedTx, error) { return c.BuildInitMarketTx(plan.Market) },
		},
	}

	if !plan.OracleAuthority.IsZero() {
		steps = append(steps, sagaStep{
			name: "set-oracle-authority",
			done: func(ctx context.Context) (bool, error) {
				cfg, err := c.MarketConfig(ctx)
				if err != nil {
					return false, err
				}
				return cfg.OracleAuthority.Equals(plan.OracleAuthority), nil
			},
			build: func(context.Context) (UnsignedTx, error) {
				return c.BuildSetOracleAuthorityTx(plan.OracleAuthority)
			},
		})
	}

	if plan.InitialPriceE6 > 0 {
		steps = append(steps, sagaStep{
			name: "push-initial-price",
			done: func(ctx context.Context) (bool, error) {
				cfg, err := c.MarketConfig(ctx)
				if err != nil {
					return false, err
				}
				return cfg.AuthorityPriceE6 != 0, nil
			},
			build: func(context.Context) (UnsignedTx, error) {
				ts := plan.InitialPriceTimestamp
				if ts == 0 {
					ts = time.Now().Unix()
				}
				return c.BuildPushOraclePriceTx(plan.InitialPriceE6, ts)
			},
		})
	}

	if !plan.MatcherProgram.IsZero() {
		contextKey := plan.MatcherContextKey.PublicKey()
		steps = append(steps,
			sagaStep{
				name: "create-matcher-context",
				done: func(ctx context.Context) (bool, error) { return c.accountExists(ctx, contextKey) },
				build: func(ctx context.Context) (UnsignedTx, error) {
					return c.BuildCreateMatcherContextTx(ctx, plan.MatcherProgram, plan.MatcherContextKey, plan.MatcherContextSpace)
				},
			},
			sagaStep{
				name: "init-lp",
				done: func(ctx context.Context) (bool, error) {
					_, err := c.FindLP(ctx, c.Wallet(), contextKey)
					if errors.Is(err, ErrAccountNotFound) {
						return false, nil
					}
					return err == nil, err
				},
				build: func(ctx context.Context) (UnsignedTx, error) {
					return c.BuildInitLPTx(ctx, plan.MatcherProgram, contextKey, plan.LPFeePayment)
				},
			},
		)
	}

	return c.runSaga(ctx, "bootstrap", steps)
}

// OpenUserPlan makes sure the wallet owns a user slot holding at least
// MinCapital; only the shortfall is deposited.
type OpenUserPlan struct {
	FeePayment uint64
	MinCapital uint64
}

// capitalShortfall is how much must be deposited for capital to reach target.
// Capital is a u128 on chain and may exceed any uint64.
func capitalShortfall(capital *big.Int, target uint64) uint64 {
	if capital == nil || capital.Sign() <= 0 {
		return target
	}
	want := new(big.Int).SetUint64(target)
	if capital.Cmp(want) >= 0 {
		return 0
	}
	return new(big.Int).Sub(want, capital).Uint64()
}

// OpenUserAccount returns the wallet's user slot index alongside the report.
func (c *Client) OpenUserAccount(ctx context.Context, plan OpenUserPlan) (uint16, SagaReport, error) {
	findUser := func(ctx context.Context) (slab.IndexedAccount, bool, error) {
		acct, err := c.FindAccount(ctx, c.Wallet(), slab.KindUser)
		if errors.Is(err, ErrAccountNotFound) {
			return slab.IndexedAccount{}, false, nil
		}
		return acct, err == nil, err
	}
	shortfall := func(a slab.Account) uint64 { return capitalShortfall(a.Capital, plan.MinCapital) }

	steps := []sagaStep{
		{
			name: "init-user",
			done: func(ctx context.Context) (bool, error) {
				_, found, err := findUser(ctx)
				return found, err
			},
			build: func(ctx context.Context) (UnsignedTx, error) { return c.BuildInitUserTx(ctx, plan.FeePayment) },
		},
	}
	if plan.MinCapital > 0 {
		steps = append(steps, sagaStep{
			name: "deposit",
			done: func(ctx context.Context) (bool, error) {
				acct, found, err := findUser(ctx)
				if err != nil || !found {
					return false, err
				}
				return shortfall(acct.Account) == 0, nil
			},
			build: func(ctx context.Context) (UnsignedTx, error) {
				acct, found, err := findUser(ctx)
				if err != nil {
					return UnsignedTx{}, err
				}
				if !found {
					return UnsignedTx{}, fmt.Errorf("%w: user slot for %s", ErrAccountNotFound, c.Wallet())
				}
				return c.BuildDepositTx(ctx, acct.Index, shortfall(acct.Account))
			},
		})
	}

	report, err := c.runSaga(ctx, "open-user", steps)
	if err != nil {
		return 0, report, err
	}
	acct, found, err := findUser(ctx)
	if err != nil {
		return 0, report, err
	}
	if !found {
		return 0, report, fmt.Errorf("%w: user slot for %s", ErrAccountNotFound, c.Wallet())
	}
	return acct.Index, report, nil
}
