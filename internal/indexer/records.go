package indexer

import (
	"math/big"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/slab/backend/internal/exchange"
	"github.com/coldbell/slab/backend/internal/slab"
)

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func keyText(k solana.PublicKey) string {
	if k.IsZero() {
		return ""
	}
	return k.String()
}

func newMarketRecord(programID solana.PublicKey, snap exchange.Snapshot, slot uint64, now int64) MarketRecord {
	cfg, engine := snap.Config, snap.Engine
	return MarketRecord{
		Slab:                 snap.Slab.String(),
		ProgramID:            programID.String(),
		Admin:                cfg.Admin.String(),
		CollateralMint:       cfg.CollateralMint.String(),
		Vault:                cfg.Vault.String(),
		OracleFeedID:         cfg.OracleFeedID.String(),
		OracleAuthority:      keyText(cfg.OracleAuthority),
		AuthorityPriceE6:     strconv.FormatUint(cfg.AuthorityPriceE6, 10),
		AuthorityTimestamp:   cfg.AuthorityTimestamp,
		MaintenanceMarginBps: cfg.Risk.MaintenanceMarginBps,
		InitialMarginBps:     cfg.Risk.InitialMarginBps,
		TradingFeeBps:        cfg.Risk.TradingFeeBps,
		VaultBalance:         bigText(engine.VaultBalance),
		InsuranceBalance:     bigText(engine.InsuranceBalance),
		TotalOpenInterest:    bigText(engine.TotalOpenInterest),
		TotalCapital:         bigText(engine.TotalCapital),
		FundingIndexE6:       bigText(engine.FundingIndexE6),
		NumUsedAccounts:      uint16(len(snap.Accounts)),
		LastCrankSlot:        engine.LastCrankSlot,
		LifetimeLiquidations: engine.LifetimeLiquidations,
		Slot:                 slot,
		UpdatedAt:            now,
	}
}

func newAccountRecord(slabKey solana.PublicKey, ia slab.IndexedAccount, slot uint64, now int64) AccountRecord {
	view := slab.NewPositionView(ia)
	a := ia.Account
	rec := AccountRecord{
		Slab:         slabKey.String(),
		Index:        ia.Index,
		AccountID:    a.ID,
		Owner:        a.Owner.String(),
		Kind:         a.Kind.String(),
		Capital:      bigText(a.Capital),
		Pnl:          bigText(a.Pnl),
		PositionSize: bigText(a.PositionSize),
		EntryPriceE6: bigText(a.EntryPrice),
		Side:         view.Side(),
		Notional:     bigText(view.Notional),
		Leverage:     view.Leverage.State.String(),
		FundingIndex: bigText(a.FundingIndex),
		FeeCredits:   bigText(a.FeeCredits),
		Slot:         slot,
		UpdatedAt:    now,
	}
	if view.Leverage.State == slab.LeverageOK {
		rec.Leverage = view.Leverage.Value.StringFixed(4)
	}
	if a.IsLP() {
		rec.MatcherProgram = keyText(a.MatcherProgram)
		rec.MatcherContext = keyText(a.MatcherContext)
	}
	return rec
}
