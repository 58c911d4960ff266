package ix

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/slab/backend/internal/slab"
)

var ErrEncoding = errors.New("instruction encoding")

type InitMarketArgs struct {
	Admin            solana.PublicKey
	CollateralMint   solana.PublicKey
	OracleFeedID     solana.PublicKey
	MaxStalenessSecs uint64
	ConfFilterBps    uint16
	Invert           bool
	UnitScale        uint32
	Risk             slab.RiskParams
}

type InitUserArgs struct {
	FeePayment uint64
}

type InitLPArgs struct {
	MatcherProgram solana.PublicKey
	MatcherContext solana.PublicKey
	FeePayment     uint64
}

// CollateralArgs addresses both deposits and withdrawals.
type CollateralArgs struct {
	UserIdx uint16
	Amount  uint64
}

type KeeperCrankArgs struct {
	CallerIdx  uint16
	AllowPanic bool
}

// TradeArgs is shared by both trade paths. Size is signed: positive buys.
type TradeArgs struct {
	LpIdx   uint16
	UserIdx uint16
	Size    *big.Int
}

type LiquidateArgs struct {
	TargetIdx uint16
}

type CloseAccountArgs struct {
	UserIdx uint16
}

type TopUpInsuranceArgs struct {
	Amount uint64
}

type SetOracleAuthorityArgs struct {
	NewAuthority solana.PublicKey
}

type PushOraclePriceArgs struct {
	PriceE6   uint64
	Timestamp int64
}

type UpdateAdminArgs struct {
	NewAdmin solana.PublicKey
}

// argWriter appends fields after the tag and keeps the first failure.
type argWriter struct {
	kind Kind
	buf  *bytes.Buffer
	enc  *bin.Encoder
	err  error
}

func newArgWriter(kind Kind) *argWriter {
	buf := new(bytes.Buffer)
	w := &argWriter{kind: kind, buf: buf, enc: bin.NewBinEncoder(buf)}
	w.do(w.enc.WriteUint8(uint8(kind)))
	return w
}

func (w *argWriter) do(err error) {
	if w.err == nil && err != nil {
		w.err = err
	}
}

func (w *argWriter) u8(v uint8) { w.do(w.enc.WriteUint8(v)) }

func (w *argWriter) u16(v uint16) { w.do(w.enc.WriteUint16(v, bin.LE)) }

func (w *argWriter) u32(v uint32) { w.do(w.enc.WriteUint32(v, bin.LE)) }

func (w *argWriter) u64(v uint64) { w.do(w.enc.WriteUint64(v, bin.LE)) }

func (w *argWriter) i64(v int64) { w.do(w.enc.WriteInt64(v, bin.LE)) }

func (w *argWriter) flag(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *argWriter) key(k solana.PublicKey) { w.do(w.enc.WriteBytes(k[:], false)) }

func (w *argWriter) raw(b []byte) { w.do(w.enc.WriteBytes(b, false)) }

func (w *argWriter) i128(name string, v *big.Int) {
	if w.err != nil {
		return
	}
	if v == nil {
		w.err = fmt.Errorf("%s is required", name)
		return
	}
	enc, err := slab.Int128FromBig(v)
	if err != nil {
		w.err = fmt.Errorf("%s=%s: %w", name, v, err)
		return
	}
	w.do(w.enc.WriteInt128(enc, bin.LE))
}

func (w *argWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncoding, w.kind, w.err)
	}
	spec, err := Lookup(w.kind)
	if err != nil {
		return nil, err
	}
	if w.buf.Len() != spec.DataLen() {
		return nil, fmt.Errorf("%w: %s encoded %d bytes, want %d", ErrEncoding, w.kind, w.buf.Len(), spec.DataLen())
	}
	return w.buf.Bytes(), nil
}

func EncodeInitMarket(a InitMarketArgs) ([]byte, error) {
	w := newArgWriter(KindInitMarket)
	w.key(a.Admin)
	w.key(a.CollateralMint)
	w.key(a.OracleFeedID)
	w.u64(a.MaxStalenessSecs)
	w.u16(a.ConfFilterBps)
	w.flag(a.Invert)
	w.u32(a.UnitScale)
	risk, err := slab.EncodeRiskParams(a.Risk)
	if err != nil {
		w.do(fmt.Errorf("risk params: %w", err))
	}
	w.raw(risk)
	return w.bytes()
}

func EncodeInitUser(a InitUserArgs) ([]byte, error) {
	w := newArgWriter(KindInitUser)
	w.u64(a.FeePayment)
	return w.bytes()
}

func EncodeInitLP(a InitLPArgs) ([]byte, error) {
	w := newArgWriter(KindInitLP)
	w.key(a.MatcherProgram)
	w.key(a.MatcherContext)
	w.u64(a.FeePayment)
	return w.bytes()
}

func EncodeDepositCollateral(a CollateralArgs) ([]byte, error) {
	w := newArgWriter(KindDepositCollateral)
	w.u16(a.UserIdx)
	w.u64(a.Amount)
	return w.bytes()
}

func EncodeWithdrawCollateral(a CollateralArgs) ([]byte, error) {
	w := newArgWriter(KindWithdrawCollateral)
	w.u16(a.UserIdx)
	w.u64(a.Amount)
	return w.bytes()
}

func EncodeKeeperCrank(a KeeperCrankArgs) ([]byte, error) {
	w := newArgWriter(KindKeeperCrank)
	w.u16(a.CallerIdx)
	w.flag(a.AllowPanic)
	return w.bytes()
}

func EncodeTradeNoCpi(a TradeArgs) ([]byte, error) {
	return encodeTrade(KindTradeNoCpi, a)
}

func EncodeTradeCpi(a TradeArgs) ([]byte, error) {
	return encodeTrade(KindTradeCpi, a)
}

func encodeTrade(kind Kind, a TradeArgs) ([]byte, error) {
	w := newArgWriter(kind)
	w.u16(a.LpIdx)
	w.u16(a.UserIdx)
	w.i128("size", a.Size)
	return w.bytes()
}

func EncodeLiquidateAtOracle(a LiquidateArgs) ([]byte, error) {
	w := newArgWriter(KindLiquidateAtOracle)
	w.u16(a.TargetIdx)
	return w.bytes()
}

func EncodeCloseAccount(a CloseAccountArgs) ([]byte, error) {
	w := newArgWriter(KindCloseAccount)
	w.u16(a.UserIdx)
	return w.bytes()
}

func EncodeTopUpInsurance(a TopUpInsuranceArgs) ([]byte, error) {
	w := newArgWriter(KindTopUpInsurance)
	w.u64(a.Amount)
	return w.bytes()
}

func EncodeSetOracleAuthority(a SetOracleAuthorityArgs) ([]byte, error) {
	w := newArgWriter(KindSetOracleAuthority)
	w.key(a.NewAuthority)
	return w.bytes()
}

func EncodePushOraclePrice(a PushOraclePriceArgs) ([]byte, error) {
	w := newArgWriter(KindPushOraclePrice)
	w.u64(a.PriceE6)
	w.i64(a.Timestamp)
	return w.bytes()
}

func EncodeUpdateAdmin(a UpdateAdminArgs) ([]byte, error) {
	w := newArgWriter(KindUpdateAdmin)
	w.key(a.NewAdmin)
	return w.bytes()
}

func EncodeCloseSlab() ([]byte, error) {
	return newArgWriter(KindCloseSlab).bytes()
}
