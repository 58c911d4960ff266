// Package slabtest writes synthetic slab buffers using the same layout the
// codec reads. It backs codec tests and the in-memory ledger used by client
// tests.
package slabtest

import (
	"bytes"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/slab/backend/internal/slab"
)

type Builder struct {
	data []byte
}

// New returns an initialized, empty version-1 slab.
func New() *Builder {
	b := &Builder{data: make([]byte, slab.SlabLen)}
	b.SetHeader(slab.Header{Magic: slab.Magic, Version: slab.VersionV1})
	return b
}

// FromBytes wraps a copy of an existing buffer.
func FromBytes(data []byte) *Builder {
	return &Builder{data: append([]byte(nil), data...)}
}

// Bytes returns a copy of the current buffer.
func (b *Builder) Bytes() []byte {
	return append([]byte(nil), b.data...)
}

type writer struct {
	buf *bytes.Buffer
	enc *bin.Encoder
	err error
}

func newWriter() *writer {
	buf := new(bytes.Buffer)
	return &writer{buf: buf, enc: bin.NewBinEncoder(buf)}
}

func (w *writer) do(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) u8(v uint8) {
	w.do(w.enc.WriteUint8(v))
}

func (w *writer) u16(v uint16) {
	w.do(w.enc.WriteUint16(v, bin.LE))
}

func (w *writer) u32(v uint32) {
	w.do(w.enc.WriteUint32(v, bin.LE))
}

func (w *writer) u64(v uint64) {
	w.do(w.enc.WriteUint64(v, bin.LE))
}

func (w *writer) i64(v int64) {
	w.do(w.enc.WriteInt64(v, bin.LE))
}

func (w *writer) pad(n int) {
	w.do(w.enc.WriteBytes(make([]byte, n), false))
}

func (w *writer) key(k solana.PublicKey) {
	w.do(w.enc.WriteBytes(k[:], false))
}

func (w *writer) u128(v *big.Int) {
	if v == nil {
		v = new(big.Int)
	}
	u, err := slab.Uint128FromBig(v)
	if err != nil {
		w.do(err)
		return
	}
	w.do(w.enc.WriteUint128(u, bin.LE))
}

func (w *writer) i128(v *big.Int) {
	if v == nil {
		v = new(big.Int)
	}
	i, err := slab.Int128FromBig(v)
	if err != nil {
		w.do(err)
		return
	}
	w.do(w.enc.WriteInt128(i, bin.LE))
}

func (b *Builder) place(off int, w *writer) {
	if w.err != nil {
		panic(fmt.Sprintf("slabtest: encode at %d: %v", off, w.err))
	}
	copy(b.data[off:], w.buf.Bytes())
}

func (b *Builder) SetHeader(h slab.Header) *Builder {
	w := newWriter()
	w.u64(h.Magic)
	w.u32(h.Version)
	w.u8(h.Bump)
	w.pad(3)
	w.u64(h.Nonce)
	w.u64(h.LastThresholdUpdateSlot)
	b.place(0, w)
	return b
}

// SetConfig writes the config region and, through SetParams, cfg.Risk.
func (b *Builder) SetConfig(cfg slab.MarketConfig) *Builder {
	w := newWriter()
	w.key(cfg.Admin)
	w.key(cfg.CollateralMint)
	w.key(cfg.Vault)
	w.key(cfg.OracleFeedID)
	w.key(cfg.OracleAuthority)
	w.u64(cfg.MaxStalenessSecs)
	w.u16(cfg.ConfFilterBps)
	w.u8(cfg.VaultAuthorityBump)
	if cfg.Invert {
		w.u8(1)
	} else {
		w.u8(0)
	}
	w.u32(cfg.UnitScale)
	w.u64(cfg.AuthorityPriceE6)
	w.i64(cfg.AuthorityTimestamp)
	b.place(slab.ConfigOff, w)
	return b.SetParams(cfg.Risk)
}

func (b *Builder) SetParams(p slab.RiskParams) *Builder {
	raw, err := slab.EncodeRiskParams(p)
	if err != nil {
		panic(fmt.Sprintf("slabtest: params: %v", err))
	}
	copy(b.data[slab.ParamsOff:], raw)
	return b
}

func (b *Builder) SetEngine(st slab.EngineState) *Builder {
	w := newWriter()
	w.u128(st.VaultBalance)
	w.u128(st.InsuranceBalance)
	w.u128(st.InsuranceFeeRevenue)
	w.u64(st.CurrentSlot)
	w.i128(st.FundingIndexE6)
	w.u64(st.LastFundingSlot)
	w.i64(st.FundingRateBpsPerSlot)
	w.u64(st.LastCrankSlot)
	w.u64(st.MaxCrankStalenessSlots)
	w.u128(st.TotalOpenInterest)
	w.u128(st.TotalCapital)
	w.u128(st.PnlPosTotal)
	w.u16(st.LiqCursor)
	w.u16(st.GcCursor)
	w.u16(st.CrankCursor)
	w.u16(st.NumUsedAccounts)
	w.u64(st.NextAccountID)
	w.u64(st.LifetimeLiquidations)
	w.u64(st.LifetimeForceCloses)
	w.i64(st.LastCrankTimestamp)
	b.place(slab.EngineOff, w)
	return b
}

// PutAccount writes a into slot idx and marks it used.
func (b *Builder) PutAccount(idx int, a slab.Account) *Builder {
	w := newWriter()
	w.u64(a.ID)
	w.u8(uint8(a.Kind))
	w.pad(7)
	w.i128(a.Capital)
	w.i128(a.Pnl)
	w.i128(a.PositionSize)
	w.i128(a.EntryPrice)
	w.i128(a.FundingIndex)
	w.u64(a.WarmupStartedAtSlot)
	w.i128(a.WarmupSlopePerStep)
	w.key(a.MatcherProgram)
	w.key(a.MatcherContext)
	w.key(a.Owner)
	w.i128(a.FeeCredits)
	w.u64(a.LastFeeSlot)
	b.place(slab.AccountsOff+idx*slab.AccountStride, w)
	b.setBit(idx, true)
	return b
}

// FreeAccount zeroes slot idx and clears its bit.
func (b *Builder) FreeAccount(idx int) *Builder {
	off := slab.AccountsOff + idx*slab.AccountStride
	copy(b.data[off:off+slab.AccountStride], make([]byte, slab.AccountStride))
	b.setBit(idx, false)
	return b
}

func (b *Builder) setBit(idx int, used bool) {
	off := slab.BitmapOff + (idx/64)*8
	word := bin.LE.Uint64(b.data[off:])
	if used {
		word |= 1 << (uint(idx) % 64)
	} else {
		word &^= 1 << (uint(idx) % 64)
	}
	bin.LE.PutUint64(b.data[off:], word)
}

// FirstFree returns the lowest unused slot, or -1 when full.
func (b *Builder) FirstFree() int {
	bitmap, err := slab.ParseBitmap(b.data)
	if err != nil {
		return -1
	}
	for i := 0; i < slab.MaxAccountIndex(bitmap); i++ {
		if !slab.IsAccountUsed(bitmap, i) {
			return i
		}
	}
	return -1
}
