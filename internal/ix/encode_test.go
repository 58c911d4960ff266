package ix

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/coldbell/slab/backend/internal/slab"
)

func sampleRisk() slab.RiskParams {
	return slab.RiskParams{
		WarmupPeriodSlots:      10,
		MaintenanceMarginBps:   500,
		InitialMarginBps:       1000,
		TradingFeeBps:          5,
		MaxAccounts:            1024,
		NewAccountFee:          big.NewInt(1_000_000),
		RiskReductionThreshold: big.NewInt(0),
		MaintenanceFeePerSlot:  big.NewInt(0),
		MaxCrankStalenessSlots: 150,
		LiquidationFeeBps:      100,
		LiquidationFeeCap:      big.NewInt(5_000_000),
		LiquidationBufferBps:   50,
		MinLiquidationAbs:      big.NewInt(100),
	}
}

// encodeSamples produces one encoding per instruction kind.
func encodeSamples(t *testing.T) map[Kind][]byte {
	t.Helper()
	return encodeSamplesWithKey(t, solana.NewWallet().PublicKey())
}

func encodeSamplesWithKey(t *testing.T, key solana.PublicKey) map[Kind][]byte {
	t.Helper()
	encoders := map[Kind]func() ([]byte, error){
		KindInitMarket: func() ([]byte, error) {
			return EncodeInitMarket(InitMarketArgs{Admin: key, CollateralMint: key, OracleFeedID: key, MaxStalenessSecs: 60, ConfFilterBps: 200, UnitScale: 1, Risk: sampleRisk()})
		},
		KindInitUser: func() ([]byte, error) { return EncodeInitUser(InitUserArgs{FeePayment: 1_000_000}) },
		KindInitLP: func() ([]byte, error) {
			return EncodeInitLP(InitLPArgs{MatcherProgram: key, MatcherContext: key, FeePayment: 1})
		},
		KindDepositCollateral:  func() ([]byte, error) { return EncodeDepositCollateral(CollateralArgs{UserIdx: 1, Amount: 2}) },
		KindWithdrawCollateral: func() ([]byte, error) { return EncodeWithdrawCollateral(CollateralArgs{UserIdx: 1, Amount: 2}) },
		KindKeeperCrank: func() ([]byte, error) {
			return EncodeKeeperCrank(KeeperCrankArgs{CallerIdx: PermissionlessCaller})
		},
		KindTradeNoCpi: func() ([]byte, error) {
			return EncodeTradeNoCpi(TradeArgs{LpIdx: 0, UserIdx: 1, Size: big.NewInt(-5)})
		},
		KindLiquidateAtOracle: func() ([]byte, error) { return EncodeLiquidateAtOracle(LiquidateArgs{TargetIdx: 7}) },
		KindCloseAccount:      func() ([]byte, error) { return EncodeCloseAccount(CloseAccountArgs{UserIdx: 7}) },
		KindTopUpInsurance:    func() ([]byte, error) { return EncodeTopUpInsurance(TopUpInsuranceArgs{Amount: 9}) },
		KindTradeCpi: func() ([]byte, error) {
			return EncodeTradeCpi(TradeArgs{LpIdx: 0, UserIdx: 1, Size: big.NewInt(5)})
		},
		KindSetOracleAuthority: func() ([]byte, error) {
			return EncodeSetOracleAuthority(SetOracleAuthorityArgs{NewAuthority: key})
		},
		KindPushOraclePrice: func() ([]byte, error) {
			return EncodePushOraclePrice(PushOraclePriceArgs{PriceE6: 1_000_000, Timestamp: 1_700_000_000})
		},
		KindUpdateAdmin: func() ([]byte, error) { return EncodeUpdateAdmin(UpdateAdminArgs{NewAdmin: key}) },
		KindCloseSlab:   EncodeCloseSlab,
	}
	out := make(map[Kind][]byte, len(encoders))
	for k, enc := range encoders {
		data, err := enc()
		require.NoError(t, err, k.String())
		out[k] = data
	}
	return out
}

func TestEveryKindHasAnEncoder(t *testing.T) {
	samples := encodeSamples(t)
	assert.Len(t, samples, len(Kinds()))
	for _, k := range Kinds() {
		data, ok := samples[k]
		require.True(t, ok, k.String())
		spec, err := Lookup(k)
		require.NoError(t, err)

		assert.Equal(t, uint8(k), data[0], "first byte is the tag for %s", k)
		assert.Len(t, data, spec.DataLen(), k.String())
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	key := solana.NewWallet().PublicKey()
	first := encodeSamplesWithKey(t, key)
	second := encodeSamplesWithKey(t, key)
	for _, k := range Kinds() {
		require.Contains(t, first, k)
		assert.Equal(t, first[k], second[k], k.String())
	}
}

func TestTagsUnique(t *testing.T) {
	seen := map[uint8]Kind{}
	for _, k := range Kinds() {
		prev, dup := seen[uint8(k)]
		require.False(t, dup, "%s and %s share a tag", prev, k)
		seen[uint8(k)] = k
	}
	assert.Len(t, seen, 15)
}

func TestKnownLayouts(t *testing.T) {
	data, err := EncodeDepositCollateral(CollateralArgs{UserIdx: 0x0102, Amount: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 0x02, 0x01, 0x40, 0x42, 0x0f, 0, 0, 0, 0, 0}, data)

	data, err = EncodeKeeperCrank(KeeperCrankArgs{CallerIdx: PermissionlessCaller, AllowPanic: true})
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 0xff, 0xff, 1}, data)

	data, err = EncodeTradeNoCpi(TradeArgs{LpIdx: 0, UserIdx: 1, Size: big.NewInt(-1)})
	require.NoError(t, err)
	want := []byte{6, 0, 0, 1, 0}
	for i := 0; i < 16; i++ {
		want = append(want, 0xff)
	}
	assert.Equal(t, want, data)

	data, err = EncodeCloseSlab()
	require.NoError(t, err)
	assert.Equal(t, []byte{14}, data)
}

func TestTradeSizeOutOfRange(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 127)
	_, err := EncodeTradeCpi(TradeArgs{Size: tooBig})
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = EncodeTradeNoCpi(TradeArgs{})
	assert.ErrorIs(t, err, ErrEncoding)

	minI128 := new(big.Int).Neg(tooBig)
	_, err = EncodeTradeNoCpi(TradeArgs{Size: minI128})
	assert.NoError(t, err)
}

func TestInitMarketRejectsNegativeU128(t *testing.T) {
	risk := sampleRisk()
	risk.NewAccountFee = big.NewInt(-1)
	_, err := EncodeInitMarket(InitMarketArgs{Risk: risk})
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestDecodeRoundTrip(t *testing.T) {
	for k, data := range encodeSamples(t) {
		kind, _, err := Decode(data)
		require.NoError(t, err, k.String())
		assert.Equal(t, k, kind)
	}

	key := solana.NewWallet().PublicKey()
	data, err := EncodeInitMarket(InitMarketArgs{Admin: key, Invert: true, UnitScale: 7, Risk: sampleRisk()})
	require.NoError(t, err)
	_, args, err := Decode(data)
	require.NoError(t, err)
	im := args.(InitMarketArgs)
	assert.Equal(t, key, im.Admin)
	assert.True(t, im.Invert)
	assert.Equal(t, uint32(7), im.UnitScale)
	assert.Equal(t, "5000000", im.Risk.LiquidationFeeCap.String())

	_, _, err = Decode(nil)
	assert.ErrorIs(t, err, ErrEncoding)
	_, _, err = Decode([]byte{200})
	assert.ErrorIs(t, err, ErrEncoding)
	_, _, err = Decode([]byte{uint8(KindDepositCollateral), 1})
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestTradeEncodingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lp := rapid.Uint16().Draw(t, "lp")
		user := rapid.Uint16().Draw(t, "user")
		hi := rapid.Int64().Draw(t, "hi")
		lo := rapid.Uint64().Draw(t, "lo")
		size := new(big.Int).Lsh(big.NewInt(hi), 64)
		size.Add(size, new(big.Int).SetUint64(lo))
		args := TradeArgs{LpIdx: lp, UserIdx: user, Size: size}

		first, err := EncodeTradeCpi(args)
		if err != nil {
			t.Fatal(err)
		}
		second, err := EncodeTradeCpi(args)
		if err != nil {
			t.Fatal(err)
		}
		if string(first) != string(second) {
			t.Fatalf("encoding is not deterministic")
		}

		kind, decoded, err := Decode(first)
		if err != nil {
			t.Fatal(err)
		}
		got := decoded.(TradeArgs)
		if kind != KindTradeCpi || got.LpIdx != lp || got.UserIdx != user || got.Size.Cmp(size) != 0 {
			t.Fatalf("round trip mismatch: %+v vs %+v", got, args)
		}
	})
}

func TestCollateralEncodingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		args := CollateralArgs{
			UserIdx: rapid.Uint16().Draw(t, "idx"),
			Amount:  rapid.Uint64().Draw(t, "amount"),
		}
		deposit, err := EncodeDepositCollateral(args)
		if err != nil {
			t.Fatal(err)
		}
		withdraw, err := EncodeWithdrawCollateral(args)
		if err != nil {
			t.Fatal(err)
		}
		if string(deposit[1:]) != string(withdraw[1:]) || deposit[0] == withdraw[0] {
			t.Fatalf("deposit and withdraw should differ only by tag")
		}
		_, decoded, err := Decode(withdraw)
		if err != nil {
			t.Fatal(err)
		}
		if decoded.(CollateralArgs) != args {
			t.Fatalf("round trip mismatch")
		}
	})
}
