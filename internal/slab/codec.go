package slab

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrMalformedSlab  = errors.New("malformed slab")
	ErrAccountNotUsed = errors.New("account slot not in use")
)

// fieldReader decodes consecutive little-endian fields out of one region and
// keeps the first error so callers check once at the end.
type fieldReader struct {
	dec *bin.Decoder
	err error
}

func newFieldReader(data []byte) *fieldReader {
	return &fieldReader{dec: bin.NewBinDecoder(data)}
}

func (r *fieldReader) fail(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

func (r *fieldReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	r.fail(err)
	return v
}

func (r *fieldReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint16(bin.LE)
	r.fail(err)
	return v
}

func (r *fieldReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint32(bin.LE)
	r.fail(err)
	return v
}

func (r *fieldReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(bin.LE)
	r.fail(err)
	return v
}

func (r *fieldReader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(bin.LE)
	r.fail(err)
	return v
}

func (r *fieldReader) u128() *big.Int {
	if r.err != nil {
		return new(big.Int)
	}
	v, err := r.dec.ReadUint128(bin.LE)
	r.fail(err)
	return BigFromUint128(v)
}

func (r *fieldReader) i128() *big.Int {
	if r.err != nil {
		return new(big.Int)
	}
	v, err := r.dec.ReadInt128(bin.LE)
	r.fail(err)
	return BigFromInt128(v)
}

func (r *fieldReader) pubkey() solana.PublicKey {
	if r.err != nil {
		return solana.PublicKey{}
	}
	raw, err := r.dec.ReadBytes(solana.PublicKeyLength)
	r.fail(err)
	if err != nil {
		return solana.PublicKey{}
	}
	return solana.PublicKeyFromBytes(raw)
}

func (r *fieldReader) skip(n uint) {
	if r.err != nil {
		return
	}
	r.fail(r.dec.SkipBytes(n))
}

// region bounds-checks data[off:off+n] before any field is decoded.
func region(data []byte, off, n int, name string) ([]byte, error) {
	if off < 0 || n < 0 || len(data) < off+n {
		return nil, fmt.Errorf("%w: %s needs bytes [%d:%d], have %d", ErrMalformedSlab, name, off, off+n, len(data))
	}
	return data[off : off+n], nil
}

// validate checks the header and resolves the layout for its version.
func validate(data []byte) (Header, Layout, error) {
	raw, err := region(data, 0, HeaderLen, "header")
	if err != nil {
		return Header{}, Layout{}, err
	}
	r := newFieldReader(raw)
	h := Header{
		Magic:   r.u64(),
		Version: r.u32(),
		Bump:    r.u8(),
	}
	r.skip(3)
	h.Nonce = r.u64()
	h.LastThresholdUpdateSlot = r.u64()
	if r.err != nil {
		return Header{}, Layout{}, fmt.Errorf("%w: header: %v", ErrMalformedSlab, r.err)
	}
	if h.Magic != Magic {
		return Header{}, Layout{}, fmt.Errorf("%w: bad magic 0x%016x", ErrMalformedSlab, h.Magic)
	}
	layout, err := LayoutFor(h.Version)
	if err != nil {
		return Header{}, Layout{}, err
	}
	return h, layout, nil
}

func ParseHeader(data []byte) (Header, error) {
	h, _, err := validate(data)
	return h, err
}

// ParseConfig decodes the market configuration together with the risk
// parameters it is always read with.
func ParseConfig(data []byte) (MarketConfig, error) {
	_, layout, err := validate(data)
	if err != nil {
		return MarketConfig{}, err
	}
	raw, err := region(data, layout.ConfigOff, ConfigLen, "config")
	if err != nil {
		return MarketConfig{}, err
	}
	r := newFieldReader(raw)
	cfg := MarketConfig{
		Admin:              r.pubkey(),
		CollateralMint:     r.pubkey(),
		Vault:              r.pubkey(),
		OracleFeedID:       r.pubkey(),
		OracleAuthority:    r.pubkey(),
		MaxStalenessSecs:   r.u64(),
		ConfFilterBps:      r.u16(),
		VaultAuthorityBump: r.u8(),
		Invert:             r.u8() != 0,
		UnitScale:          r.u32(),
		AuthorityPriceE6:   r.u64(),
		AuthorityTimestamp: r.i64(),
	}
	if r.err != nil {
		return MarketConfig{}, fmt.Errorf("%w: config: %v", ErrMalformedSlab, r.err)
	}
	params, err := parseParams(data, layout)
	if err != nil {
		return MarketConfig{}, err
	}
	cfg.Risk = params
	return cfg, nil
}

func ParseEngine(data []byte) (EngineState, error) {
	_, layout, err := validate(data)
	if err != nil {
		return EngineState{}, err
	}
	raw, err := region(data, layout.EngineOff, EngineLen, "engine")
	if err != nil {
		return EngineState{}, err
	}
	r := newFieldReader(raw)
	st := EngineState{
		VaultBalance:           r.u128(),
		InsuranceBalance:       r.u128(),
		InsuranceFeeRevenue:    r.u128(),
		CurrentSlot:            r.u64(),
		FundingIndexE6:         r.i128(),
		LastFundingSlot:        r.u64(),
		FundingRateBpsPerSlot:  r.i64(),
		LastCrankSlot:          r.u64(),
		MaxCrankStalenessSlots: r.u64(),
		TotalOpenInterest:      r.u128(),
		TotalCapital:           r.u128(),
		PnlPosTotal:            r.u128(),
		LiqCursor:              r.u16(),
		GcCursor:               r.u16(),
		CrankCursor:            r.u16(),
		NumUsedAccounts:        r.u16(),
		NextAccountID:          r.u64(),
		LifetimeLiquidations:   r.u64(),
		LifetimeForceCloses:    r.u64(),
		LastCrankTimestamp:     r.i64(),
	}
	if r.err != nil {
		return EngineState{}, fmt.Errorf("%w: engine: %v", ErrMalformedSlab, r.err)
	}
	return st, nil
}

func ParseParams(data []byte) (RiskParams, error) {
	_, layout, err := validate(data)
	if err != nil {
		return RiskParams{}, err
	}
	return parseParams(data, layout)
}

func parseParams(data []byte, layout Layout) (RiskParams, error) {
	raw, err := region(data, layout.ParamsOff, ParamsLen, "params")
	if err != nil {
		return RiskParams{}, err
	}
	p, err := DecodeRiskParams(raw)
	if err != nil {
		return RiskParams{}, fmt.Errorf("%w: params: %v", ErrMalformedSlab, err)
	}
	return p, nil
}

// DecodeRiskParams reads the packed risk parameter block. The same packing is
// used on the slab and inside the market initialization payload.
func DecodeRiskParams(raw []byte) (RiskParams, error) {
	r := newFieldReader(raw)
	p := RiskParams{
		WarmupPeriodSlots:      r.u64(),
		MaintenanceMarginBps:   r.u64(),
		InitialMarginBps:       r.u64(),
		TradingFeeBps:          r.u64(),
		MaxAccounts:            r.u64(),
		NewAccountFee:          r.u128(),
		RiskReductionThreshold: r.u128(),
		MaintenanceFeePerSlot:  r.u128(),
		MaxCrankStalenessSlots: r.u64(),
		LiquidationFeeBps:      r.u64(),
		LiquidationFeeCap:      r.u128(),
		LiquidationBufferBps:   r.u64(),
		MinLiquidationAbs:      r.u128(),
	}
	return p, r.err
}

// ParseBitmap returns the occupancy words.
func ParseBitmap(data []byte) ([]uint64, error) {
	_, layout, err := validate(data)
	if err != nil {
		return nil, err
	}
	return parseBitmap(data, layout)
}

func parseBitmap(data []byte, layout Layout) ([]uint64, error) {
	words := layout.MaxAccounts / 64
	raw, err := region(data, layout.BitmapOff, words*8, "bitmap")
	if err != nil {
		return nil, err
	}
	r := newFieldReader(raw)
	out := make([]uint64, words)
	for i := range out {
		out[i] = r.u64()
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: bitmap: %v", ErrMalformedSlab, r.err)
	}
	return out, nil
}

// IsAccountUsed reports whether bit idx is set. Out-of-range indices are unused.
func IsAccountUsed(bitmap []uint64, idx int) bool {
	if idx < 0 || idx/64 >= len(bitmap) {
		return false
	}
	return bitmap[idx/64]>>(uint(idx)%64)&1 == 1
}

// MaxAccountIndex is the capacity addressed by the bitmap.
func MaxAccountIndex(bitmap []uint64) int {
	return len(bitmap) * 64
}

// ParseUsedIndices lists occupied slots in ascending order.
func ParseUsedIndices(data []byte) ([]uint16, error) {
	_, layout, err := validate(data)
	if err != nil {
		return nil, err
	}
	bitmap, err := parseBitmap(data, layout)
	if err != nil {
		return nil, err
	}
	return usedIndices(bitmap), nil
}

func usedIndices(bitmap []uint64) []uint16 {
	out := make([]uint16, 0)
	for w, word := range bitmap {
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			out = append(out, uint16(w*64+bit))
			word &= word - 1
		}
	}
	return out
}

// ParseAccount decodes slot idx. Unused slots return ErrAccountNotUsed.
func ParseAccount(data []byte, idx int) (Account, error) {
	_, layout, err := validate(data)
	if err != nil {
		return Account{}, err
	}
	if idx < 0 || idx >= layout.MaxAccounts {
		return Account{}, fmt.Errorf("%w: account index %d outside [0,%d)", ErrMalformedSlab, idx, layout.MaxAccounts)
	}
	bitmap, err := parseBitmap(data, layout)
	if err != nil {
		return Account{}, err
	}
	if !IsAccountUsed(bitmap, idx) {
		return Account{}, fmt.Errorf("%w: index %d", ErrAccountNotUsed, idx)
	}
	return parseAccountAt(data, layout, idx)
}

// ParseAllAccounts decodes every occupied slot in ascending index order.
func ParseAllAccounts(data []byte) ([]IndexedAccount, error) {
	_, layout, err := validate(data)
	if err != nil {
		return nil, err
	}
	bitmap, err := parseBitmap(data, layout)
	if err != nil {
		return nil, err
	}
	used := usedIndices(bitmap)
	out := make([]IndexedAccount, 0, len(used))
	for _, idx := range used {
		acct, err := parseAccountAt(data, layout, int(idx))
		if err != nil {
			return nil, err
		}
		out = append(out, IndexedAccount{Index: idx, Account: acct})
	}
	return out, nil
}

func parseAccountAt(data []byte, layout Layout, idx int) (Account, error) {
	raw, err := region(data, layout.accountOffset(idx), layout.AccountStride, fmt.Sprintf("account %d", idx))
	if err != nil {
		return Account{}, err
	}
	r := newFieldReader(raw)
	a := Account{ID: r.u64()}
	a.Kind = AccountKind(r.u8())
	r.skip(7)
	a.Capital = r.i128()
	a.Pnl = r.i128()
	a.PositionSize = r.i128()
	a.EntryPrice = r.i128()
	a.FundingIndex = r.i128()
	a.WarmupStartedAtSlot = r.u64()
	a.WarmupSlopePerStep = r.i128()
	a.MatcherProgram = r.pubkey()
	a.MatcherContext = r.pubkey()
	a.Owner = r.pubkey()
	a.FeeCredits = r.i128()
	a.LastFeeSlot = r.u64()
	if r.err != nil {
		return Account{}, fmt.Errorf("%w: account %d: %v", ErrMalformedSlab, idx, r.err)
	}
	return a, nil
}
