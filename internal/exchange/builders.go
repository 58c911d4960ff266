package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/coldbell/slab/backend/internal/ix"
	"github.com/coldbell/slab/backend/internal/pda"
	"github.com/coldbell/slab/backend/internal/slab"
)

var ErrInvalidParams = errors.New("invalid builder params")

// UnsignedTx is an ordered instruction list ready for SendTransaction.
// Signers are extra keys beyond the client's wallet, such as a freshly
// generated account being created.
type UnsignedTx struct {
	Label        string
	Instructions []solana.Instruction
	Signers      []solana.PrivateKey
}

func (c *Client) computeBudget() ([]solana.Instruction, error) {
	var out []solana.Instruction
	limit, err := computebudget.NewSetComputeUnitLimitInstruction(c.cfg.ComputeUnitLimit).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
	}
	out = append(out, limit)
	if c.cfg.ComputeUnitPriceMicroLamports > 0 {
		price, err := computebudget.NewSetComputeUnitPriceInstruction(c.cfg.ComputeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		out = append(out, price)
	}
	return out, nil
}

func (c *Client) wrap(label string, signers []solana.PrivateKey, instructions ...solana.Instruction) (UnsignedTx, error) {
	prefix, err := c.computeBudget()
	if err != nil {
		return UnsignedTx{}, err
	}
	return UnsignedTx{
		Label:        label,
		Instructions: append(prefix, instructions...),
		Signers:      signers,
	}, nil
}

// program builds one program instruction and wraps it.
func (c *Client) program(data []byte, encodeErr error, supplied ...solana.PublicKey) (UnsignedTx, error) {
	return c.programWithSigners(nil, data, encodeErr, supplied...)
}

func (c *Client) programWithSigners(signers []solana.PrivateKey, data []byte, encodeErr error, supplied ...solana.PublicKey) (UnsignedTx, error) {
	if encodeErr != nil {
		return UnsignedTx{}, encodeErr
	}
	inst, err := ix.NewInstruction(c.cfg.ProgramID, c.cfg.WellKnown, data, supplied...)
	if err != nil {
		return UnsignedTx{}, err
	}
	return c.wrap(ix.Kind(data[0]).String(), signers, inst)
}

func (c *Client) walletAta(mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(c.Wallet(), mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive token account for %s: %w", c.Wallet(), err)
	}
	return ata, nil
}

func (c *Client) vaultAuthority() (solana.PublicKey, error) {
	authority, _, err := pda.DeriveVaultAuthority(c.cfg.ProgramID, c.cfg.Slab)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive vault authority: %w", err)
	}
	return authority, nil
}

// InitMarketParams are the market settings written by InitMarket. The admin is
// the client's wallet and the vault is the vault authority's token account
// for Mint.
type InitMarketParams struct {
	Mint             solana.PublicKey
	OracleFeedID     solana.PublicKey
	MaxStalenessSecs uint64
	ConfFilterBps    uint16
	Invert           bool
	UnitScale        uint32
	Risk             slab.RiskParams
}

func (c *Client) BuildInitMarketTx(p InitMarketParams) (UnsignedTx, error) {
	vault, err := pda.DeriveVaultTokenAccount(c.cfg.ProgramID, c.cfg.Slab, p.Mint)
	if err != nil {
		return UnsignedTx{}, err
	}
	data, err := ix.EncodeInitMarket(ix.InitMarketArgs{
		Admin:            c.Wallet(),
		CollateralMint:   p.Mint,
		OracleFeedID:     p.OracleFeedID,
		MaxStalenessSecs: p.MaxStalenessSecs,
		ConfFilterBps:    p.ConfFilterBps,
		Invert:           p.Invert,
		UnitScale:        p.UnitScale,
		Risk:             p.Risk,
	})
	return c.program(data, err, c.Wallet(), c.cfg.Slab, p.Mint, vault)
}

// tokenTransferIn resolves the accounts shared by every instruction that moves
// collateral from the wallet into the vault.
func (c *Client) tokenTransferIn(ctx context.Context) (userAta, vault solana.PublicKey, err error) {
	cfg, err := c.MarketConfig(ctx)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	userAta, err = c.walletAta(cfg.CollateralMint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return userAta, cfg.Vault, nil
}

func (c *Client) BuildInitUserTx(ctx context.Context, feePayment uint64) (UnsignedTx, error) {
	userAta, vault, err := c.tokenTransferIn(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}
	data, err := ix.EncodeInitUser(ix.InitUserArgs{FeePayment: feePayment})
	return c.program(data, err, c.Wallet(), c.cfg.Slab, userAta, vault)
}

func (c *Client) BuildInitLPTx(ctx context.Context, matcherProgram, matcherContext solana.PublicKey, feePayment uint64) (UnsignedTx, error) {
	userAta, vault, err := c.tokenTransferIn(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}
	data, err := ix.EncodeInitLP(ix.InitLPArgs{
		MatcherProgram: matcherProgram,
		MatcherContext: matcherContext,
		FeePayment:     feePayment,
	})
	return c.program(data, err, c.Wallet(), c.cfg.Slab, userAta, vault)
}

func (c *Client) BuildDepositTx(ctx context.Context, userIdx uint16, amount uint64) (UnsignedTx, error) {
	userAta, vault, err := c.tokenTransferIn(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}
	data, err := ix.EncodeDepositCollateral(ix.CollateralArgs{UserIdx: userIdx, Amount: amount})
	return c.program(data, err, c.Wallet(), c.cfg.Slab, userAta, vault)
}

func (c *Client) BuildTopUpInsuranceTx(ctx context.Context, amount uint64) (UnsignedTx, error) {
	userAta, vault, err := c.tokenTransferIn(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}
	data, err := ix.EncodeTopUpInsurance(ix.TopUpInsuranceArgs{Amount: amount})
	return c.program(data, err, c.Wallet(), c.cfg.Slab, userAta, vault)
}

// vaultTransferOut resolves the accounts for instructions paying out of the
// vault: vault, user token account, vault authority and oracle.
func (c *Client) vaultTransferOut(ctx context.Context) ([]solana.PublicKey, error) {
	cfg, err := c.MarketConfig(ctx)
	if err != nil {
		return nil, err
	}
	userAta, err := c.walletAta(cfg.CollateralMint)
	if err != nil {
		return nil, err
	}
	authority, err := c.vaultAuthority()
	if err != nil {
		return nil, err
	}
	return []solana.PublicKey{c.Wallet(), c.cfg.Slab, cfg.Vault, userAta, authority, c.oracle(cfg)}, nil
}

func (c *Client) BuildWithdrawTx(ctx context.Context, userIdx uint16, amount uint64) (UnsignedTx, error) {
	accounts, err := c.vaultTransferOut(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}
	data, err := ix.EncodeWithdrawCollateral(ix.CollateralArgs{UserIdx: userIdx, Amount: amount})
	return c.program(data, err, accounts...)
}

func (c *Client) BuildCloseAccountTx(ctx context.Context, userIdx uint16) (UnsignedTx, error) {
	accounts, err := c.vaultTransferOut(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}
	data, err := ix.EncodeCloseAccount(ix.CloseAccountArgs{UserIdx: userIdx})
	return c.program(data, err, accounts...)
}

// BuildKeeperCrankTx cranks the engine. Pass ix.PermissionlessCaller when the
// wallet has no slot.
func (c *Client) BuildKeeperCrankTx(ctx context.Context, callerIdx uint16, allowPanic bool) (UnsignedTx, error) {
	cfg, err := c.MarketConfig(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}
	data, err := ix.EncodeKeeperCrank(ix.KeeperCrankArgs{CallerIdx: callerIdx, AllowPanic: allowPanic})
	return c.program(data, err, c.Wallet(), c.cfg.Slab, c.oracle(cfg))
}

func (c *Client) BuildLiquidateTx(ctx context.Context, targetIdx uint16) (UnsignedTx, error) {
	cfg, err := c.MarketConfig(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}
	data, err := ix.EncodeLiquidateAtOracle(ix.LiquidateArgs{TargetIdx: targetIdx})
	return c.program(data, err, c.Wallet(), c.cfg.Slab, c.oracle(cfg))
}

// TradeParams describes a fill between a user slot and an LP slot. Size is
// signed: positive buys.
type TradeParams struct {
	LpIdx   uint16
	UserIdx uint16
	Size    *big.Int
	// LpSigner co-signs a direct trade. When empty the wallet is the LP owner.
	LpSigner solana.PrivateKey
}

func (c *Client) BuildTradeNoCpiTx(ctx context.Context, p TradeParams) (UnsignedTx, error) {
	cfg, err := c.MarketConfig(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}
	lpKey := c.Wallet()
	var signers []solana.PrivateKey
	if len(p.LpSigner) > 0 {
		lpKey = p.LpSigner.PublicKey()
		signers = append(signers, p.LpSigner)
	}
	data, err := ix.EncodeTradeNoCpi(ix.TradeArgs{LpIdx: p.LpIdx, UserIdx: p.UserIdx, Size: p.Size})
	return c.programWithSigners(signers, data, err, c.Wallet(), lpKey, c.cfg.Slab, c.oracle(cfg))
}

// BuildTradeCpiTx routes a trade through the LP's matcher. The LP owner,
// matcher program and context are read from the LP slot.
func (c *Client) BuildTradeCpiTx(ctx context.Context, lpIdx, userIdx uint16, size *big.Int) (UnsignedTx, error) {
	cfg, err := c.MarketConfig(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}
	lp, err := c.Account(ctx, lpIdx)
	if err != nil {
		return UnsignedTx{}, fmt.Errorf("load lp slot %d: %w", lpIdx, err)
	}
	if !lp.IsLP() {
		return UnsignedTx{}, fmt.Errorf("%w: slot %d is a %s account", ErrInvalidParams, lpIdx, lp.Kind)
	}
	lpPda, _, err := pda.DeriveLpPda(c.cfg.ProgramID, c.cfg.Slab, lpIdx)
	if err != nil {
		return UnsignedTx{}, fmt.Errorf("derive lp pda: %w", err)
	}
	data, err := ix.EncodeTradeCpi(ix.TradeArgs{LpIdx: lpIdx, UserIdx: userIdx, Size: size})
	return c.program(data, err,
		c.Wallet(), lp.Owner, c.cfg.Slab, c.oracle(cfg), lp.MatcherProgram, lp.MatcherContext, lpPda)
}

func (c *Client) BuildSetOracleAuthorityTx(newAuthority solana.PublicKey) (UnsignedTx, error) {
	data, err := ix.EncodeSetOracleAuthority(ix.SetOracleAuthorityArgs{NewAuthority: newAuthority})
	return c.program(data, err, c.Wallet(), c.cfg.Slab)
}

func (c *Client) BuildPushOraclePriceTx(priceE6 uint64, timestamp int64) (UnsignedTx, error) {
	data, err := ix.EncodePushOraclePrice(ix.PushOraclePriceArgs{PriceE6: priceE6, Timestamp: timestamp})
	return c.program(data, err, c.Wallet(), c.cfg.Slab)
}

func (c *Client) BuildUpdateAdminTx(newAdmin solana.PublicKey) (UnsignedTx, error) {
	data, err := ix.EncodeUpdateAdmin(ix.UpdateAdminArgs{NewAdmin: newAdmin})
	return c.program(data, err, c.Wallet(), c.cfg.Slab)
}

func (c *Client) BuildCloseSlabTx() (UnsignedTx, error) {
	data, err := ix.EncodeCloseSlab()
	return c.program(data, err, c.Wallet(), c.cfg.Slab)
}

// BuildCreateSlabAccountTx allocates the rent-exempt slab account owned by the
// program. slabKey must be the configured slab address.
func (c *Client) BuildCreateSlabAccountTx(ctx context.Context, slabKey solana.PrivateKey) (UnsignedTx, error) {
	if len(slabKey) == 0 || !slabKey.PublicKey().Equals(c.cfg.Slab) {
		return UnsignedTx{}, fmt.Errorf("%w: slab keypair does not match %s", ErrInvalidParams, c.cfg.Slab)
	}
	inst, err := c.createAccount(ctx, slabKey.PublicKey(), c.cfg.ProgramID, uint64(slab.SlabLen))
	if err != nil {
		return UnsignedTx{}, err
	}
	return c.wrap("CreateSlabAccount", []solana.PrivateKey{slabKey}, inst)
}

// BuildCreateMatcherContextTx allocates a matcher context account owned by the
// matcher program.
func (c *Client) BuildCreateMatcherContextTx(ctx context.Context, matcherProgram solana.PublicKey, contextKey solana.PrivateKey, space uint64) (UnsignedTx, error) {
	if len(contextKey) == 0 || matcherProgram.IsZero() {
		return UnsignedTx{}, fmt.Errorf("%w: matcher program and context keypair are required", ErrInvalidParams)
	}
	inst, err := c.createAccount(ctx, contextKey.PublicKey(), matcherProgram, space)
	if err != nil {
		return UnsignedTx{}, err
	}
	return c.wrap("CreateMatcherContext", []solana.PrivateKey{contextKey}, inst)
}

func (c *Client) createAccount(ctx context.Context, account, owner solana.PublicKey, space uint64) (solana.Instruction, error) {
	if c.deps.Rent == nil {
		return nil, fmt.Errorf("%w: rent calculator", ErrMissingDependency)
	}
	lamports, err := c.deps.Rent.MinimumBalanceForRentExemption(ctx, space)
	if err != nil {
		return nil, err
	}
	inst, err := system.NewCreateAccountInstruction(lamports, space, owner, c.Wallet(), account).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build create account instruction: %w", err)
	}
	return inst, nil
}

// BuildCreateVaultTx creates the vault authority's token account for mint.
func (c *Client) BuildCreateVaultTx(mint solana.PublicKey) (UnsignedTx, error) {
	authority, err := c.vaultAuthority()
	if err != nil {
		return UnsignedTx{}, err
	}
	inst, err := associatedtokenaccount.NewCreateInstruction(c.Wallet(), authority, mint).ValidateAndBuild()
	if err != nil {
		return UnsignedTx{}, fmt.Errorf("build create vault instruction: %w", err)
	}
	return c.wrap("CreateVault", nil, inst)
}
