package ix

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/slab/backend/internal/slab"
)

type argReader struct {
	dec *bin.Decoder
	err error
}

func (r *argReader) do(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

func (r *argReader) u8() uint8 {
	v, err := r.dec.ReadUint8()
	r.do(err)
	return v
}

func (r *argReader) u16() uint16 {
	v, err := r.dec.ReadUint16(bin.LE)
	r.do(err)
	return v
}

func (r *argReader) u32() uint32 {
	v, err := r.dec.ReadUint32(bin.LE)
	r.do(err)
	return v
}

func (r *argReader) u64() uint64 {
	v, err := r.dec.ReadUint64(bin.LE)
	r.do(err)
	return v
}

func (r *argReader) i64() int64 {
	v, err := r.dec.ReadInt64(bin.LE)
	r.do(err)
	return v
}

func (r *argReader) key() solana.PublicKey {
	raw, err := r.dec.ReadBytes(solana.PublicKeyLength)
	r.do(err)
	if err != nil {
		return solana.PublicKey{}
	}
	return solana.PublicKeyFromBytes(raw)
}

func (r *argReader) raw(n int) []byte {
	b, err := r.dec.ReadBytes(n)
	r.do(err)
	return b
}

// Decode parses instruction data back into its kind and typed arguments. The
// argument value is one of the *Args structs, or nil for CloseSlab.
func Decode(data []byte) (Kind, any, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("%w: empty instruction data", ErrEncoding)
	}
	kind := Kind(data[0])
	spec, err := Lookup(kind)
	if err != nil {
		return 0, nil, err
	}
	if len(data) != spec.DataLen() {
		return kind, nil, fmt.Errorf("%w: %s data is %d bytes, want %d", ErrEncoding, kind, len(data), spec.DataLen())
	}

	r := &argReader{dec: bin.NewBinDecoder(data[1:])}
	var args any
	switch kind {
	case KindInitMarket:
		a := InitMarketArgs{
			Admin:            r.key(),
			CollateralMint:   r.key(),
			OracleFeedID:     r.key(),
			MaxStalenessSecs: r.u64(),
			ConfFilterBps:    r.u16(),
			Invert:           r.u8() != 0,
			UnitScale:        r.u32(),
		}
		if r.err == nil {
			a.Risk, err = slab.DecodeRiskParams(r.raw(slab.ParamsLen))
			r.do(err)
		}
		args = a
	case KindInitUser:
		args = InitUserArgs{FeePayment: r.u64()}
	case KindInitLP:
		args = InitLPArgs{MatcherProgram: r.key(), MatcherContext: r.key(), FeePayment: r.u64()}
	case KindDepositCollateral, KindWithdrawCollateral:
		args = CollateralArgs{UserIdx: r.u16(), Amount: r.u64()}
	case KindKeeperCrank:
		args = KeeperCrankArgs{CallerIdx: r.u16(), AllowPanic: r.u8() != 0}
	case KindTradeNoCpi, KindTradeCpi:
		a := TradeArgs{LpIdx: r.u16(), UserIdx: r.u16()}
		size, err := r.dec.ReadInt128(bin.LE)
		r.do(err)
		a.Size = slab.BigFromInt128(size)
		args = a
	case KindLiquidateAtOracle:
		args = LiquidateArgs{TargetIdx: r.u16()}
	case KindCloseAccount:
		args = CloseAccountArgs{UserIdx: r.u16()}
	case KindTopUpInsurance:
		args = TopUpInsuranceArgs{Amount: r.u64()}
	case KindSetOracleAuthority:
		args = SetOracleAuthorityArgs{NewAuthority: r.key()}
	case KindPushOraclePrice:
		args = PushOraclePriceArgs{PriceE6: r.u64(), Timestamp: r.i64()}
	case KindUpdateAdmin:
		args = UpdateAdminArgs{NewAdmin: r.key()}
	case KindCloseSlab:
	}
	if r.err != nil {
		return kind, nil, fmt.Errorf("%w: decode %s: %v", ErrEncoding, kind, r.err)
	}
	return kind, args, nil
}
