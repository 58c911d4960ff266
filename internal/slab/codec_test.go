package slab_test

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/coldbell/slab/backend/internal/slab"
	"github.com/coldbell/slab/backend/internal/slab/slabtest"
)

func sampleParams() slab.RiskParams {
	return slab.RiskParams{
		WarmupPeriodSlots:      100,
		MaintenanceMarginBps:   500,
		InitialMarginBps:       1000,
		TradingFeeBps:          10,
		MaxAccounts:            slab.MaxAccounts,
		NewAccountFee:          big.NewInt(1_000),
		RiskReductionThreshold: big.NewInt(0),
		MaintenanceFeePerSlot:  big.NewInt(1),
		MaxCrankStalenessSlots: 200,
		LiquidationFeeBps:      50,
		LiquidationFeeCap:      new(big.Int).Lsh(big.NewInt(1), 100),
		LiquidationBufferBps:   100,
		MinLiquidationAbs:      big.NewInt(10),
	}
}

func sampleConfig() slab.MarketConfig {
	return slab.MarketConfig{
		Admin:              solana.NewWallet().PublicKey(),
		CollateralMint:     solana.NewWallet().PublicKey(),
		Vault:              solana.NewWallet().PublicKey(),
		OracleFeedID:       solana.NewWallet().PublicKey(),
		OracleAuthority:    solana.NewWallet().PublicKey(),
		MaxStalenessSecs:   60,
		ConfFilterBps:      250,
		VaultAuthorityBump: 254,
		Invert:             true,
		UnitScale:          1000,
		AuthorityPriceE6:   1_500_000,
		AuthorityTimestamp: -42,
		Risk:               sampleParams(),
	}
}

func TestParseHeader(t *testing.T) {
	data := slabtest.New().
		SetHeader(slab.Header{Magic: slab.Magic, Version: slab.VersionV1, Bump: 7, Nonce: 9, LastThresholdUpdateSlot: 11}).
		Bytes()

	h, err := slab.ParseHeader(data)
	require.NoError(t, err)
	assert.Equal(t, slab.Magic, h.Magic)
	assert.Equal(t, slab.VersionV1, h.Version)
	assert.Equal(t, uint8(7), h.Bump)
	assert.Equal(t, uint64(9), h.Nonce)
	assert.Equal(t, uint64(11), h.LastThresholdUpdateSlot)
}

func TestParseConfigIncludesRiskParams(t *testing.T) {
	want := sampleConfig()
	data := slabtest.New().SetConfig(want).Bytes()

	got, err := slab.ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, want.Admin, got.Admin)
	assert.Equal(t, want.CollateralMint, got.CollateralMint)
	assert.Equal(t, want.Vault, got.Vault)
	assert.Equal(t, want.OracleFeedID, got.OracleFeedID)
	assert.Equal(t, want.OracleAuthority, got.OracleAuthority)
	assert.Equal(t, want.MaxStalenessSecs, got.MaxStalenessSecs)
	assert.Equal(t, want.ConfFilterBps, got.ConfFilterBps)
	assert.Equal(t, want.VaultAuthorityBump, got.VaultAuthorityBump)
	assert.True(t, got.Invert)
	assert.Equal(t, want.UnitScale, got.UnitScale)
	assert.Equal(t, want.AuthorityPriceE6, got.AuthorityPriceE6)
	assert.Equal(t, want.AuthorityTimestamp, got.AuthorityTimestamp)
	assert.True(t, got.HasOracleAuthority())

	assert.Equal(t, uint64(500), got.Risk.MaintenanceMarginBps)
	assert.Equal(t, 0, want.Risk.LiquidationFeeCap.Cmp(got.Risk.LiquidationFeeCap))
	assert.Equal(t, 0, want.Risk.NewAccountFee.Cmp(got.Risk.NewAccountFee))

	params, err := slab.ParseParams(data)
	require.NoError(t, err)
	assert.Equal(t, got.Risk.TradingFeeBps, params.TradingFeeBps)
}

func TestParseEngine(t *testing.T) {
	want := slab.EngineState{
		VaultBalance:          big.NewInt(5_000_000),
		InsuranceBalance:      big.NewInt(1_000),
		CurrentSlot:           777,
		FundingIndexE6:        big.NewInt(-123_456),
		FundingRateBpsPerSlot: -3,
		LastCrankSlot:         770,
		TotalOpenInterest:     big.NewInt(2_000_000),
		NumUsedAccounts:       2,
		NextAccountID:         3,
		LastCrankTimestamp:    1_700_000_000,
	}
	data := slabtest.New().SetEngine(want).Bytes()

	got, err := slab.ParseEngine(data)
	require.NoError(t, err)
	assert.Equal(t, "5000000", got.VaultBalance.String())
	assert.Equal(t, "-123456", got.FundingIndexE6.String())
	assert.Equal(t, int64(-3), got.FundingRateBpsPerSlot)
	assert.Equal(t, uint64(777), got.CurrentSlot)
	assert.Equal(t, uint64(770), got.LastCrankSlot)
	assert.Equal(t, uint16(2), got.NumUsedAccounts)
	assert.Equal(t, uint64(3), got.NextAccountID)
	assert.Equal(t, "0", got.PnlPosTotal.String())
}

func TestParseAllAccountsReturnsUsedSlotsOnly(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	b := slabtest.New()
	b.PutAccount(0, slab.Account{ID: 1, Kind: slab.KindLP, Owner: owner, Capital: big.NewInt(10)})
	b.PutAccount(5, slab.Account{ID: 2, Owner: owner, Capital: big.NewInt(20), PositionSize: big.NewInt(-3), EntryPrice: big.NewInt(1_000_000)})
	b.PutAccount(64, slab.Account{ID: 3, Owner: owner})
	b.PutAccount(4095, slab.Account{ID: 4, Owner: owner, PositionSize: big.NewInt(1)})
	data := b.Bytes()

	indices, err := slab.ParseUsedIndices(data)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 5, 64, 4095}, indices)

	accounts, err := slab.ParseAllAccounts(data)
	require.NoError(t, err)
	require.Len(t, accounts, 4)
	for i, ia := range accounts {
		assert.Equal(t, indices[i], ia.Index)
		assert.Equal(t, uint64(i+1), ia.Account.ID)
	}
	assert.True(t, accounts[0].Account.IsLP())
	assert.Equal(t, "-3", accounts[1].Account.PositionSize.String())

	// flat slots are still accounts
	assert.True(t, accounts[2].Account.IsFlat())
	open := slab.OpenPositions(accounts)
	require.Len(t, open, 2)
	assert.Equal(t, uint16(5), open[0].Index)
	assert.Equal(t, "short", open[0].Side())
	assert.Equal(t, uint16(4095), open[1].Index)
}

func TestParseAccount(t *testing.T) {
	matcher := solana.NewWallet().PublicKey()
	b := slabtest.New().PutAccount(3, slab.Account{
		ID:                  9,
		Kind:                slab.KindLP,
		Capital:             big.NewInt(-5),
		Pnl:                 big.NewInt(-7),
		PositionSize:        big.NewInt(100),
		EntryPrice:          big.NewInt(2_000_000),
		FundingIndex:        big.NewInt(1),
		WarmupStartedAtSlot: 12,
		WarmupSlopePerStep:  big.NewInt(4),
		MatcherProgram:      matcher,
		FeeCredits:          big.NewInt(-1),
		LastFeeSlot:         99,
	})
	data := b.Bytes()

	a, err := slab.ParseAccount(data, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), a.ID)
	assert.Equal(t, slab.KindLP, a.Kind)
	assert.Equal(t, "-5", a.Capital.String())
	assert.Equal(t, "-7", a.Pnl.String())
	assert.Equal(t, "-1", a.FeeCredits.String())
	assert.Equal(t, matcher, a.MatcherProgram)
	assert.Equal(t, uint64(12), a.WarmupStartedAtSlot)
	assert.Equal(t, uint64(99), a.LastFeeSlot)

	_, err = slab.ParseAccount(data, 4)
	assert.ErrorIs(t, err, slab.ErrAccountNotUsed)

	_, err = slab.ParseAccount(data, slab.MaxAccounts)
	assert.ErrorIs(t, err, slab.ErrMalformedSlab)
}

func TestFreedSlotDisappears(t *testing.T) {
	b := slabtest.New().PutAccount(0, slab.Account{ID: 1}).PutAccount(1, slab.Account{ID: 2})
	assert.Equal(t, 2, b.FirstFree())
	b.FreeAccount(0)

	accounts, err := slab.ParseAllAccounts(b.Bytes())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, uint16(1), accounts[0].Index)
	assert.Equal(t, 0, b.FirstFree())
}

func TestMalformedSlab(t *testing.T) {
	full := slabtest.New().PutAccount(0, slab.Account{ID: 1}).Bytes()

	parsers := map[string]func([]byte) error{
		"header":  func(d []byte) error { _, err := slab.ParseHeader(d); return err },
		"config":  func(d []byte) error { _, err := slab.ParseConfig(d); return err },
		"engine":  func(d []byte) error { _, err := slab.ParseEngine(d); return err },
		"params":  func(d []byte) error { _, err := slab.ParseParams(d); return err },
		"bitmap":  func(d []byte) error { _, err := slab.ParseBitmap(d); return err },
		"indices": func(d []byte) error { _, err := slab.ParseUsedIndices(d); return err },
		"account": func(d []byte) error { _, err := slab.ParseAccount(d, 0); return err },
		"all":     func(d []byte) error { _, err := slab.ParseAllAccounts(d); return err },
	}

	badMagic := append([]byte(nil), full...)
	badMagic[0] ^= 0xff
	badVersion := slabtest.FromBytes(full).SetHeader(slab.Header{Magic: slab.Magic, Version: 2}).Bytes()

	inputs := map[string][]byte{
		"empty":       nil,
		"short":       full[:16],
		"header only": full[:slab.HeaderLen],
		"bad magic":   badMagic,
		"bad version": badVersion,
	}

	for name, parse := range parsers {
		for inputName, input := range inputs {
			if name == "header" && inputName == "header only" {
				continue
			}
			t.Run(name+"/"+inputName, func(t *testing.T) {
				assert.ErrorIs(t, parse(input), slab.ErrMalformedSlab)
			})
		}
	}

	// a slab truncated inside the account table still decodes the regions before it
	truncated := full[:slab.AccountsOff+10]
	_, err := slab.ParseConfig(truncated)
	require.NoError(t, err)
	_, err = slab.ParseAllAccounts(truncated)
	assert.ErrorIs(t, err, slab.ErrMalformedSlab)
}

func TestSlabLen(t *testing.T) {
	assert.Equal(t, 984112, slab.SlabLen)
	l, err := slab.LayoutFor(slab.VersionV1)
	require.NoError(t, err)
	assert.Equal(t, slab.SlabLen, l.Len())
}

func TestBitmapScanProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		used := rapid.SliceOfNDistinct(rapid.IntRange(0, slab.MaxAccounts-1), 0, 64, rapid.ID[int]).Draw(t, "used")
		b := slabtest.New()
		want := make(map[int]bool, len(used))
		for _, idx := range used {
			b.PutAccount(idx, slab.Account{ID: uint64(idx) + 1})
			want[idx] = true
		}
		data := b.Bytes()

		bitmap, err := slab.ParseBitmap(data)
		if err != nil {
			t.Fatal(err)
		}
		indices, err := slab.ParseUsedIndices(data)
		if err != nil {
			t.Fatal(err)
		}
		if len(indices) != len(want) {
			t.Fatalf("got %d used, want %d", len(indices), len(want))
		}
		for i, idx := range indices {
			if i > 0 && indices[i-1] >= idx {
				t.Fatalf("indices not ascending: %v", indices)
			}
			if !want[int(idx)] || !slab.IsAccountUsed(bitmap, int(idx)) {
				t.Fatalf("unexpected used index %d", idx)
			}
		}
	})
}

func TestInt128RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hi := rapid.Int64().Draw(t, "hi")
		lo := rapid.Uint64().Draw(t, "lo")
		v := new(big.Int).Lsh(big.NewInt(hi), 64)
		v.Add(v, new(big.Int).SetUint64(lo))

		enc, err := slab.Int128FromBig(v)
		if err != nil {
			t.Fatal(err)
		}
		if got := slab.BigFromInt128(enc); got.Cmp(v) != 0 {
			t.Fatalf("round trip %s -> %s", v, got)
		}
	})
}
