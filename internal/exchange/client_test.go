package exchange

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/slab/backend/internal/chain"
	"github.com/coldbell/slab/backend/internal/exchange/exchangetest"
	"github.com/coldbell/slab/backend/internal/ix"
	"github.com/coldbell/slab/backend/internal/pda"
	"github.com/coldbell/slab/backend/internal/progerr"
	"github.com/coldbell/slab/backend/internal/slab"
	"github.com/coldbell/slab/backend/internal/slab/slabtest"
)

type harness struct {
	ledger         *exchangetest.Ledger
	programID      solana.PublicKey
	slabKey        solana.PrivateKey
	admin          solana.PrivateKey
	mint           solana.PublicKey
	oracleFeed     solana.PublicKey
	matcherProgram solana.PublicKey
	matcherContext solana.PrivateKey
}

func newHarness() *harness {
	programID := solana.NewWallet().PublicKey()
	return &harness{
		ledger:         exchangetest.NewLedger(programID),
		programID:      programID,
		slabKey:        solana.NewWallet().PrivateKey,
		admin:          solana.NewWallet().PrivateKey,
		mint:           solana.NewWallet().PublicKey(),
		oracleFeed:     solana.NewWallet().PublicKey(),
		matcherProgram: solana.NewWallet().PublicKey(),
		matcherContext: solana.NewWallet().PrivateKey,
	}
}

func (h *harness) client(t *testing.T, wallet solana.PrivateKey, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		ProgramID:        h.programID,
		Slab:             h.slabKey.PublicKey(),
		ComputeUnitLimit: 400_000,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg, Deps{
		Fetcher:   h.ledger,
		Signer:    chain.NewKeypairSigner(wallet),
		Submitter: h.ledger,
		Rent:      h.ledger,
	}, nil)
	require.NoError(t, err)
	return c
}

func testRiskParams() slab.RiskParams {
	return slab.RiskParams{
		WarmupPeriodSlots:      10,
		MaintenanceMarginBps:   500,
		InitialMarginBps:       1000,
		TradingFeeBps:          10,
		MaxAccounts:            slab.MaxAccounts,
		NewAccountFee:          big.NewInt(0),
		RiskReductionThreshold: big.NewInt(0),
		MaintenanceFeePerSlot:  big.NewInt(0),
		MaxCrankStalenessSlots: 400,
		LiquidationFeeBps:      50,
		LiquidationFeeCap:      big.NewInt(1_000_000),
		LiquidationBufferBps:   100,
		MinLiquidationAbs:      big.NewInt(0),
	}
}

func (h *harness) plan() BootstrapPlan {
	return BootstrapPlan{
		SlabKey: h.slabKey,
		Market: InitMarketParams{
			Mint:             h.mint,
			OracleFeedID:     h.oracleFeed,
			MaxStalenessSecs: 60,
			ConfFilterBps:    200,
			UnitScale:        1,
			Risk:             testRiskParams(),
		},
		OracleAuthority:       h.admin.PublicKey(),
		InitialPriceE6:        1_000_000,
		InitialPriceTimestamp: 1_700_000_000,
		MatcherProgram:        h.matcherProgram,
		MatcherContextKey:     h.matcherContext,
		MatcherContextSpace:   320,
		LPFeePayment:          0,
	}
}

func (h *harness) bootstrap(t *testing.T) *Client {
	t.Helper()
	admin := h.client(t, h.admin)
	report, err := admin.BootstrapMarket(context.Background(), h.plan())
	require.NoError(t, err)
	require.True(t, report.Completed())
	return admin
}

func stepStatuses(report SagaReport) []StepStatus {
	out := make([]StepStatus, len(report.Steps))
	for i, s := range report.Steps {
		out[i] = s.Status
	}
	return out
}

func countKind(kinds []ix.Kind, want ix.Kind) int {
	n := 0
	for _, k := range kinds {
		if k == want {
			n++
		}
	}
	return n
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{ProgramID: solana.NewWallet().PublicKey(), Slab: solana.NewWallet().PublicKey()}, Deps{}, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)

	h := newHarness()
	_, err = New(Config{}, Deps{Fetcher: h.ledger, Signer: chain.NewKeypairSigner(h.admin), Submitter: h.ledger}, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestBootstrapMarketFromScratch(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	admin := h.client(t, h.admin)

	report, err := admin.BootstrapMarket(ctx, h.plan())
	require.NoError(t, err)
	require.Len(t, report.Steps, 7)
	for _, s := range report.Steps {
		assert.Equal(t, StepCompleted, s.Status, s.Name)
		assert.False(t, s.Signature.IsZero(), s.Name)
	}

	cfg, err := admin.MarketConfig(ctx)
	require.NoError(t, err)
	vault, err := pda.DeriveVaultTokenAccount(h.programID, h.slabKey.PublicKey(), h.mint)
	require.NoError(t, err)
	assert.Equal(t, h.admin.PublicKey(), cfg.Admin)
	assert.Equal(t, h.mint, cfg.CollateralMint)
	assert.Equal(t, vault, cfg.Vault)
	assert.Equal(t, h.admin.PublicKey(), cfg.OracleAuthority)
	assert.Equal(t, uint64(1_000_000), cfg.AuthorityPriceE6)
	assert.Equal(t, uint64(1000), cfg.Risk.InitialMarginBps)

	lp, err := admin.FindLP(ctx, h.admin.PublicKey(), h.matcherContext.PublicKey())
	require.NoError(t, err)
	assert.True(t, lp.Account.IsLP())
	assert.Equal(t, h.matcherProgram, lp.Account.MatcherProgram)

	again, err := admin.BootstrapMarket(ctx, h.plan())
	require.NoError(t, err)
	for _, s := range again.Steps {
		assert.Equal(t, StepSkipped, s.Status, s.Name)
	}
}

func TestBootstrapResumesAfterPartialFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	admin := h.client(t, h.admin)
	h.ledger.Reject(ix.KindSetOracleAuthority, progerr.EngineUnauthorized)

	report, err := admin.BootstrapMarket(ctx, h.plan())
	require.Error(t, err)
	require.Len(t, report.Steps, 4)
	assert.Equal(t, []StepStatus{StepCompleted, StepCompleted, StepCompleted, StepFailed}, stepStatuses(report))
	assert.Equal(t, "set-oracle-authority", report.Steps[3].Name)
	assert.False(t, report.Completed())

	var perr *progerr.ProgramError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "EngineUnauthorized", perr.Name)

	// The market exists even though the saga stopped.
	_, err = admin.MarketConfig(ctx)
	require.NoError(t, err)

	report, err = admin.BootstrapMarket(ctx, h.plan())
	require.NoError(t, err)
	assert.Equal(t, []StepStatus{
		StepSkipped, StepSkipped, StepSkipped,
		StepCompleted, StepCompleted, StepCompleted, StepCompleted,
	}, stepStatuses(report))
	assert.Equal(t, 1, countKind(h.ledger.Submitted(), ix.KindInitMarket))
	assert.Equal(t, 2, countKind(h.ledger.Submitted(), ix.KindSetOracleAuthority))
}

func TestBootstrapPlanValidation(t *testing.T) {
	h := newHarness()
	admin := h.client(t, h.admin)

	plan := h.plan()
	plan.OracleAuthority = solana.NewWallet().PublicKey()
	_, err := admin.BootstrapMarket(context.Background(), plan)
	assert.ErrorIs(t, err, ErrInvalidParams)

	plan = h.plan()
	plan.MatcherContextKey = nil
	_, err = admin.BootstrapMarket(context.Background(), plan)
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.Empty(t, h.ledger.Submitted())
}

func TestDepositThenTradeReportsLeverage(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	admin := h.bootstrap(t)
	lp, err := admin.FindLP(ctx, h.admin.PublicKey(), h.matcherContext.PublicKey())
	require.NoError(t, err)

	trader := solana.NewWallet().PrivateKey
	user := h.client(t, trader)
	userIdx, report, err := user.OpenUserAccount(ctx, OpenUserPlan{MinCapital: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, []StepStatus{StepCompleted, StepCompleted}, stepStatuses(report))

	acct, err := user.Account(ctx, userIdx)
	require.NoError(t, err)
	assert.Equal(t, "1000000", acct.Capital.String())

	utx, err := user.BuildTradeNoCpiTx(ctx, TradeParams{
		LpIdx:    lp.Index,
		UserIdx:  userIdx,
		Size:     big.NewInt(2_000_000),
		LpSigner: h.admin,
	})
	require.NoError(t, err)
	res := user.SendTransaction(ctx, utx)
	require.True(t, res.OK(), "%v", res.AsError())
	assert.Equal(t, "TradeNoCpi", res.Label)

	acct, err = user.Account(ctx, userIdx)
	require.NoError(t, err)
	assert.Equal(t, "2000000", acct.PositionSize.String())
	assert.Equal(t, "1000000", acct.EntryPrice.String())
	lev := slab.Leverage(acct)
	assert.Equal(t, slab.LeverageOK, lev.State)
	assert.True(t, lev.Value.Equal(decimal.NewFromInt(2)), lev.Value.String())

	positions, err := user.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	sides := map[uint16]string{}
	for _, p := range positions {
		sides[p.Index] = p.Side()
	}
	assert.Equal(t, "long", sides[userIdx])
	assert.Equal(t, "short", sides[lp.Index])
}

func TestTradeCpiRoutesThroughMatcher(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	admin := h.bootstrap(t)
	lp, err := admin.FindLP(ctx, h.admin.PublicKey(), h.matcherContext.PublicKey())
	require.NoError(t, err)

	user := h.client(t, solana.NewWallet().PrivateKey)
	userIdx, _, err := user.OpenUserAccount(ctx, OpenUserPlan{MinCapital: 500_000})
	require.NoError(t, err)

	utx, err := user.BuildTradeCpiTx(ctx, lp.Index, userIdx, big.NewInt(-1_000_000))
	require.NoError(t, err)
	inst := utx.Instructions[len(utx.Instructions)-1]
	metas := inst.Accounts()
	require.Len(t, metas, 8)
	lpPda, _, err := pda.DeriveLpPda(h.programID, h.slabKey.PublicKey(), lp.Index)
	require.NoError(t, err)
	assert.Equal(t, h.admin.PublicKey(), metas[1].PublicKey)
	assert.False(t, metas[1].IsSigner)
	assert.Equal(t, h.matcherProgram, metas[5].PublicKey)
	assert.Equal(t, h.matcherContext.PublicKey(), metas[6].PublicKey)
	assert.True(t, metas[6].IsWritable)
	assert.Equal(t, lpPda, metas[7].PublicKey)

	res := user.SendTransaction(ctx, utx)
	require.True(t, res.OK(), "%v", res.AsError())
	acct, err := user.Account(ctx, userIdx)
	require.NoError(t, err)
	assert.Equal(t, "-1000000", acct.PositionSize.String())

	_, err = user.BuildTradeCpiTx(ctx, userIdx, userIdx, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestCloseAccountFreesSlot(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.bootstrap(t)

	user := h.client(t, solana.NewWallet().PrivateKey)
	userIdx, _, err := user.OpenUserAccount(ctx, OpenUserPlan{})
	require.NoError(t, err)

	utx, err := user.BuildCloseAccountTx(ctx, userIdx)
	require.NoError(t, err)
	res := user.SendTransaction(ctx, utx)
	require.True(t, res.OK(), "%v", res.AsError())

	accounts, err := user.Accounts(ctx)
	require.NoError(t, err)
	for _, a := range accounts {
		assert.NotEqual(t, userIdx, a.Index)
	}
	_, err = user.Account(ctx, userIdx)
	assert.ErrorIs(t, err, slab.ErrAccountNotUsed)
	_, err = user.FindAccount(ctx, user.Wallet(), slab.KindUser)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestOpenUserAccountDepositsShortfallOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.bootstrap(t)
	user := h.client(t, solana.NewWallet().PrivateKey)

	idx, _, err := user.OpenUserAccount(ctx, OpenUserPlan{MinCapital: 300})
	require.NoError(t, err)

	again, report, err := user.OpenUserAccount(ctx, OpenUserPlan{MinCapital: 300})
	require.NoError(t, err)
	assert.Equal(t, idx, again)
	assert.Equal(t, []StepStatus{StepSkipped, StepSkipped}, stepStatuses(report))

	_, _, err = user.OpenUserAccount(ctx, OpenUserPlan{MinCapital: 1_000})
	require.NoError(t, err)
	acct, err := user.Account(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, "1000", acct.Capital.String())
	assert.Equal(t, 1, countKind(h.ledger.Submitted(), ix.KindInitUser))
}

func TestOpenUserAccountWithCapitalAboveUint64(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.bootstrap(t)
	user := h.client(t, solana.NewWallet().PrivateKey)

	idx, _, err := user.OpenUserAccount(ctx, OpenUserPlan{MinCapital: 300})
	require.NoError(t, err)
	acct, err := user.Account(ctx, idx)
	require.NoError(t, err)

	huge := new(big.Int).Lsh(big.NewInt(1), 64)
	acct.Capital = huge.Add(huge, big.NewInt(5))
	raw, err := h.ledger.FetchAccount(ctx, h.slabKey.PublicKey())
	require.NoError(t, err)
	h.ledger.Put(h.slabKey.PublicKey(), slabtest.FromBytes(raw).PutAccount(int(idx), acct).Bytes())
	deposits := countKind(h.ledger.Submitted(), ix.KindDepositCollateral)

	_, report, err := user.OpenUserAccount(ctx, OpenUserPlan{MinCapital: 1_000})
	require.NoError(t, err)
	assert.Equal(t, []StepStatus{StepSkipped, StepSkipped}, stepStatuses(report))
	assert.Equal(t, deposits, countKind(h.ledger.Submitted(), ix.KindDepositCollateral))
}

func TestCapitalShortfall(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 64)
	huge.Add(huge, big.NewInt(5))

	assert.Equal(t, uint64(0), capitalShortfall(huge, 1_000_000))
	assert.Equal(t, uint64(0), capitalShortfall(huge, ^uint64(0)))
	assert.Equal(t, uint64(400), capitalShortfall(big.NewInt(600), 1_000))
	assert.Equal(t, uint64(0), capitalShortfall(big.NewInt(1_000), 1_000))
	assert.Equal(t, uint64(1_000), capitalShortfall(nil, 1_000))
	assert.Equal(t, uint64(1_000), capitalShortfall(big.NewInt(-50), 1_000))
}

func TestProgramErrorSurfacedWithNameAndHint(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.bootstrap(t)
	user := h.client(t, solana.NewWallet().PrivateKey)
	idx, _, err := user.OpenUserAccount(ctx, OpenUserPlan{MinCapital: 100})
	require.NoError(t, err)

	utx, err := user.BuildWithdrawTx(ctx, idx, 1_000)
	require.NoError(t, err)
	res := user.SendTransaction(ctx, utx)
	require.False(t, res.OK())
	assert.False(t, res.Signature.IsZero())
	assert.Equal(t, StageExecution, res.Err.Stage)
	require.NotNil(t, res.Err.Program)
	assert.Equal(t, progerr.EngineInsufficientBalance, res.Err.Program.Code)
	assert.Equal(t, "EngineInsufficientBalance", res.Err.Program.Name)
	assert.NotEmpty(t, res.Err.Program.Hint)
	assert.NotEmpty(t, res.Err.Logs)
	assert.False(t, errors.Is(res.AsError(), ErrUnrecognizedFailure))

	acct, err := user.Account(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, "100", acct.Capital.String(), "failed transactions leave state untouched")
}

func TestPreflightRejectionIsDecoded(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	admin := h.bootstrap(t)
	h.ledger.SetPreflight(true)
	h.ledger.Reject(ix.KindKeeperCrank, progerr.OracleStale)

	utx, err := admin.BuildKeeperCrankTx(ctx, ix.PermissionlessCaller, false)
	require.NoError(t, err)
	res := admin.SendTransaction(ctx, utx)
	require.False(t, res.OK())
	assert.True(t, res.Signature.IsZero())
	assert.Equal(t, StageSubmit, res.Err.Stage)
	require.NotNil(t, res.Err.Program)
	assert.Equal(t, "OracleStale", res.Err.Program.Name)
}

type failingSubmitter struct {
	*exchangetest.Ledger
	err error
}

func (f failingSubmitter) Submit(context.Context, *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, f.err
}

func TestUnrecognizedFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.bootstrap(t)

	boom := errors.New("connection reset by peer")
	c, err := New(Config{ProgramID: h.programID, Slab: h.slabKey.PublicKey()}, Deps{
		Fetcher:   h.ledger,
		Signer:    chain.NewKeypairSigner(h.admin),
		Submitter: failingSubmitter{Ledger: h.ledger, err: boom},
	}, nil)
	require.NoError(t, err)

	utx, err := c.BuildPushOraclePriceTx(1_100_000, 1_700_000_100)
	require.NoError(t, err)
	res := c.SendTransaction(ctx, utx)
	require.False(t, res.OK())
	assert.Equal(t, StageSubmit, res.Err.Stage)
	assert.Nil(t, res.Err.Program)
	assert.ErrorIs(t, res.AsError(), ErrUnrecognizedFailure)
	assert.ErrorIs(t, res.AsError(), boom)
}

func TestComputeBudgetPrefix(t *testing.T) {
	h := newHarness()

	plain := h.client(t, h.admin)
	utx, err := plain.BuildSetOracleAuthorityTx(solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.Len(t, utx.Instructions, 2)
	assert.Equal(t, solana.ComputeBudget, utx.Instructions[0].ProgramID())
	assert.Equal(t, h.programID, utx.Instructions[1].ProgramID())

	priced := h.client(t, h.admin, func(c *Config) { c.ComputeUnitPriceMicroLamports = 5_000 })
	utx, err = priced.BuildSetOracleAuthorityTx(solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.Len(t, utx.Instructions, 3)
	assert.Equal(t, solana.ComputeBudget, utx.Instructions[1].ProgramID())
	assert.Equal(t, "SetOracleAuthority", utx.Label)
}

func TestZeroComputeLimitUsesDefault(t *testing.T) {
	h := newHarness()
	c := h.client(t, h.admin, func(c *Config) { c.ComputeUnitLimit = 0 })
	assert.Equal(t, DefaultComputeUnitLimit, c.Config().ComputeUnitLimit)

	utx, err := c.BuildCloseSlabTx()
	require.NoError(t, err)
	require.Len(t, utx.Instructions, 2)
	assert.Equal(t, solana.ComputeBudget, utx.Instructions[0].ProgramID())
	data, err := utx.Instructions[0].Data()
	require.NoError(t, err)
	require.Len(t, data, 5)
	assert.Equal(t, byte(2), data[0])
	assert.Equal(t, DefaultComputeUnitLimit, binary.LittleEndian.Uint32(data[1:]))
}

func TestOracleOverride(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.bootstrap(t)
	override := solana.NewWallet().PublicKey()

	def := h.client(t, h.admin)
	utx, err := def.BuildLiquidateTx(ctx, 0)
	require.NoError(t, err)
	metas := utx.Instructions[len(utx.Instructions)-1].Accounts()
	assert.Equal(t, h.oracleFeed, metas[3].PublicKey)

	custom := h.client(t, h.admin, func(c *Config) { c.Oracle = override })
	utx, err = custom.BuildLiquidateTx(ctx, 0)
	require.NoError(t, err)
	metas = utx.Instructions[len(utx.Instructions)-1].Accounts()
	assert.Equal(t, override, metas[3].PublicKey)
}

func TestCacheRefreshAndInvalidate(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	admin := h.bootstrap(t)

	before, err := admin.MarketConfig(ctx)
	require.NoError(t, err)

	// A write from another client is invisible until the cache is dropped.
	other := h.client(t, h.admin)
	utx, err := other.BuildPushOraclePriceTx(1_250_000, 1_700_000_500)
	require.NoError(t, err)
	require.True(t, other.SendTransaction(ctx, utx).OK())

	cached, err := admin.MarketConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.AuthorityPriceE6, cached.AuthorityPriceE6)

	require.NoError(t, admin.Refresh(ctx))
	fresh, err := admin.MarketConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_250_000), fresh.AuthorityPriceE6)

	h.ledger.Put(h.slabKey.PublicKey(), []byte{1, 2, 3})
	admin.Invalidate()
	_, err = admin.Engine(ctx)
	assert.ErrorIs(t, err, slab.ErrMalformedSlab)
}

func TestSnapshotAndEngineViews(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	admin := h.bootstrap(t)

	utx, err := admin.BuildKeeperCrankTx(ctx, ix.PermissionlessCaller, false)
	require.NoError(t, err)
	require.True(t, admin.SendTransaction(ctx, utx).OK())
	utx, err = admin.BuildTopUpInsuranceTx(ctx, 5_000)
	require.NoError(t, err)
	require.True(t, admin.SendTransaction(ctx, utx).OK())

	snap, err := admin.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.slabKey.PublicKey(), snap.Slab)
	assert.Equal(t, slab.Magic, snap.Header.Magic)
	assert.NotZero(t, snap.Engine.LastCrankSlot)
	assert.Equal(t, "5000", snap.Engine.InsuranceBalance.String())
	require.Len(t, snap.Accounts, 1)
	assert.Equal(t, slab.KindLP, snap.Accounts[0].Account.Kind)

	params, err := admin.Params(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), params.MaintenanceMarginBps)
}

func TestAdminTransfersAndClosesSlab(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	admin := h.bootstrap(t)
	next := solana.NewWallet().PrivateKey

	utx, err := admin.BuildUpdateAdminTx(next.PublicKey())
	require.NoError(t, err)
	require.True(t, admin.SendTransaction(ctx, utx).OK())

	utx, err = admin.BuildCloseSlabTx()
	require.NoError(t, err)
	res := admin.SendTransaction(ctx, utx)
	require.False(t, res.OK())
	assert.Equal(t, "EngineUnauthorized", res.Err.Program.Name)

	successor := h.client(t, next)
	utx, err = successor.BuildCloseSlabTx()
	require.NoError(t, err)
	require.True(t, successor.SendTransaction(ctx, utx).OK())

	_, err = successor.MarketConfig(ctx)
	assert.ErrorIs(t, err, chain.ErrAccountNotFound)
}

func TestCreateSlabAccountNeedsMatchingKey(t *testing.T) {
	h := newHarness()
	admin := h.client(t, h.admin)
	_, err := admin.BuildCreateSlabAccountTx(context.Background(), solana.NewWallet().PrivateKey)
	assert.ErrorIs(t, err, ErrInvalidParams)

	utx, err := admin.BuildCreateSlabAccountTx(context.Background(), h.slabKey)
	require.NoError(t, err)
	require.Len(t, utx.Signers, 1)
	assert.Equal(t, solana.SystemProgramID, utx.Instructions[1].ProgramID())
}
