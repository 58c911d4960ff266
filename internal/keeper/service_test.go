package keeper

import (
	"context"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/slab/backend/internal/chain"
	"github.com/coldbell/slab/backend/internal/config"
	"github.com/coldbell/slab/backend/internal/exchange"
	"github.com/coldbell/slab/backend/internal/exchange/exchangetest"
	"github.com/coldbell/slab/backend/internal/ix"
	"github.com/coldbell/slab/backend/internal/slab"
)

type market struct {
	ledger    *exchangetest.Ledger
	programID solana.PublicKey
	slabKey   solana.PrivateKey
	admin     solana.PrivateKey
	context   solana.PrivateKey
}

func (m *market) client(t *testing.T, wallet solana.PrivateKey) *exchange.Client {
	t.Helper()
	c, err := exchange.New(exchange.Config{
		ProgramID:        m.programID,
		Slab:             m.slabKey.PublicKey(),
		ComputeUnitLimit: 200_000,
	}, exchange.Deps{
		Fetcher:   m.ledger,
		Signer:    chain.NewKeypairSigner(wallet),
		Submitter: m.ledger,
		Rent:      m.ledger,
	}, nil)
	require.NoError(t, err)
	return c
}

func newMarket(t *testing.T, initialPriceE6 uint64) *market {
	t.Helper()
	programID := solana.NewWallet().PublicKey()
	m := &market{
		ledger:    exchangetest.NewLedger(programID),
		programID: programID,
		slabKey:   solana.NewWallet().PrivateKey,
		admin:     solana.NewWallet().PrivateKey,
		context:   solana.NewWallet().PrivateKey,
	}
	plan := exchange.BootstrapPlan{
		SlabKey: m.slabKey,
		Market: exchange.InitMarketParams{
			Mint:         solana.NewWallet().PublicKey(),
			OracleFeedID: solana.NewWallet().PublicKey(),
			UnitScale:    1,
			Risk: slab.RiskParams{
				MaintenanceMarginBps: 500,
				InitialMarginBps:     1000,
				MaxAccounts:          slab.MaxAccounts,
			},
		},
		OracleAuthority:     m.admin.PublicKey(),
		InitialPriceE6:      initialPriceE6,
		MatcherProgram:      solana.NewWallet().PublicKey(),
		MatcherContextKey:   m.context,
		MatcherContextSpace: 64,
	}
	_, err := m.client(t, m.admin).BootstrapMarket(context.Background(), plan)
	require.NoError(t, err)
	return m
}

// openLong gives a fresh trader capital and a long against the admin's LP.
func (m *market) openLong(t *testing.T, capital uint64, size int64) uint16 {
	t.Helper()
	ctx := context.Background()
	admin := m.client(t, m.admin)
	lp, err := admin.FindLP(ctx, m.admin.PublicKey(), m.context.PublicKey())
	require.NoError(t, err)

	trader := m.client(t, solana.NewWallet().PrivateKey)
	idx, _, err := trader.OpenUserAccount(ctx, exchange.OpenUserPlan{MinCapital: capital})
	require.NoError(t, err)
	utx, err := trader.BuildTradeNoCpiTx(ctx, exchange.TradeParams{
		LpIdx:    lp.Index,
		UserIdx:  idx,
		Size:     big.NewInt(size),
		LpSigner: m.admin,
	})
	require.NoError(t, err)
	res := trader.SendTransaction(ctx, utx)
	require.True(t, res.OK(), "%v", res.AsError())
	return idx
}

func (m *market) pushPrice(t *testing.T, priceE6 uint64) {
	t.Helper()
	admin := m.client(t, m.admin)
	utx, err := admin.BuildPushOraclePriceTx(priceE6, 1_700_000_000)
	require.NoError(t, err)
	require.True(t, admin.SendTransaction(context.Background(), utx).OK())
}

func keeperConfig() config.KeeperConfig {
	return config.KeeperConfig{
		MaxLiquidationsPerTick: 8,
		CrankEnabled:           true,
		LiquidationsEnabled:    true,
	}
}

func TestTickLiquidatesUnderwaterAccount(t *testing.T) {
	m := newMarket(t, 1_000_000)
	healthy := m.openLong(t, 1_000_000, 2_000_000)
	underwater := m.openLong(t, 300_000, 2_000_000)
	m.pushPrice(t, 850_000)

	svc := New(keeperConfig(), m.client(t, m.admin), nil)
	report, err := svc.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Cranked)
	assert.Equal(t, uint64(850_000), report.PriceE6)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Liquidated)
	assert.Zero(t, report.Failed)

	reader := m.client(t, m.admin)
	acct, err := reader.Account(context.Background(), underwater)
	require.NoError(t, err)
	assert.True(t, acct.IsFlat())
	acct, err = reader.Account(context.Background(), healthy)
	require.NoError(t, err)
	assert.False(t, acct.IsFlat())

	assert.Contains(t, m.ledger.Submitted(), ix.KindKeeperCrank)
	assert.Contains(t, m.ledger.Submitted(), ix.KindLiquidateAtOracle)
}

func TestTickRespectsLimitAndOrdersByDeficit(t *testing.T) {
	m := newMarket(t, 1_000_000)
	mild := m.openLong(t, 280_000, 2_000_000)
	severe := m.openLong(t, 210_000, 2_000_000)
	m.pushPrice(t, 850_000)

	snap, err := m.client(t, m.admin).Snapshot(context.Background())
	require.NoError(t, err)
	candidates, err := liquidationCandidates(snap)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, severe, candidates[0].index)
	assert.Equal(t, mild, candidates[1].index)

	cfg := keeperConfig()
	cfg.MaxLiquidationsPerTick = 1
	cfg.CrankEnabled = false
	report, err := New(cfg, m.client(t, m.admin), nil).Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Cranked)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 1, report.Liquidated)

	acct, err := m.client(t, m.admin).Account(context.Background(), mild)
	require.NoError(t, err)
	assert.False(t, acct.IsFlat())
}

func TestTickWithoutPriceSkipsLiquidations(t *testing.T) {
	m := newMarket(t, 0)

	report, err := New(keeperConfig(), m.client(t, solana.NewWallet().PrivateKey), nil).Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Cranked)
	assert.Zero(t, report.Candidates)
	assert.Zero(t, report.PriceE6)
}

func TestCrankCallerFallsBackToPermissionless(t *testing.T) {
	m := newMarket(t, 1_000_000)

	stranger := New(keeperConfig(), m.client(t, solana.NewWallet().PrivateKey), nil)
	assert.Equal(t, ix.PermissionlessCaller, stranger.crankCaller(context.Background()))

	owner := New(keeperConfig(), m.client(t, m.admin), nil)
	assert.NotEqual(t, ix.PermissionlessCaller, owner.crankCaller(context.Background()))
}
