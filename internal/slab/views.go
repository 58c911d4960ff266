package slab

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// PriceScale is the fixed-point scale of prices (e6).
const PriceScale = 1_000_000

var (
	priceScale = big.NewInt(PriceScale)
	bpsScale   = big.NewInt(10_000)
)

type LeverageState int

const (
	LeverageOK LeverageState = iota
	// LeverageNoCapital marks an account with zero capital; Value is zero.
	LeverageNoCapital
	// LeverageNegativeCapital marks an account whose capital is below zero; Value is zero.
	LeverageNegativeCapital
)

func (s LeverageState) String() string {
	switch s {
	case LeverageOK:
		return "ok"
	case LeverageNoCapital:
		return "no_capital"
	case LeverageNegativeCapital:
		return "negative_capital"
	default:
		return "unknown"
	}
}

type LeverageView struct {
	Value decimal.Decimal
	State LeverageState
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Notional is |size| * entry / 1e6, truncated toward zero.
func Notional(a Account) *big.Int {
	n := new(big.Int).Abs(orZero(a.PositionSize))
	n.Mul(n, orZero(a.EntryPrice))
	return n.Quo(n, priceScale)
}

// Leverage is notional divided by capital. It is only computed at this
// presentation boundary; everything upstream stays in integers.
func Leverage(a Account) LeverageView {
	capital := orZero(a.Capital)
	switch capital.Sign() {
	case 0:
		return LeverageView{Value: decimal.Zero, State: LeverageNoCapital}
	case -1:
		return LeverageView{Value: decimal.Zero, State: LeverageNegativeCapital}
	}
	notional := decimal.NewFromBigInt(Notional(a), 0)
	return LeverageView{
		Value: notional.Div(decimal.NewFromBigInt(capital, 0)),
		State: LeverageOK,
	}
}

// UnrealizedPnl marks the position at priceE6: size * (price - entry) / 1e6.
func UnrealizedPnl(a Account, priceE6 uint64) *big.Int {
	diff := new(big.Int).SetUint64(priceE6)
	diff.Sub(diff, orZero(a.EntryPrice))
	out := new(big.Int).Mul(orZero(a.PositionSize), diff)
	return out.Quo(out, priceScale)
}

// Equity is capital + realized pnl + unrealized pnl at priceE6.
func Equity(a Account, priceE6 uint64) *big.Int {
	out := new(big.Int).Add(orZero(a.Capital), orZero(a.Pnl))
	return out.Add(out, UnrealizedPnl(a, priceE6))
}

type MarginHealth struct {
	Equity       *big.Int
	NotionalMark *big.Int
	Maintenance  *big.Int
	Liquidatable bool
}

// Health evaluates the maintenance requirement at priceE6. Flat accounts are
// never liquidatable.
func Health(a Account, priceE6 uint64, params RiskParams) MarginHealth {
	mark := new(big.Int).Abs(orZero(a.PositionSize))
	mark.Mul(mark, new(big.Int).SetUint64(priceE6))
	mark.Quo(mark, priceScale)

	maint := new(big.Int).Mul(mark, new(big.Int).SetUint64(params.MaintenanceMarginBps))
	maint.Quo(maint, bpsScale)

	equity := Equity(a, priceE6)
	return MarginHealth{
		Equity:       equity,
		NotionalMark: mark,
		Maintenance:  maint,
		Liquidatable: !a.IsFlat() && equity.Cmp(maint) < 0,
	}
}

type PositionView struct {
	Index        uint16
	Owner        string
	Kind         AccountKind
	Size         *big.Int
	EntryPriceE6 *big.Int
	Capital      *big.Int
	Pnl          *big.Int
	Notional     *big.Int
	Leverage     LeverageView
}

// Side is "long", "short" or "flat".
func (p PositionView) Side() string {
	switch orZero(p.Size).Sign() {
	case 1:
		return "long"
	case -1:
		return "short"
	default:
		return "flat"
	}
}

func NewPositionView(ia IndexedAccount) PositionView {
	a := ia.Account
	return PositionView{
		Index:        ia.Index,
		Owner:        a.Owner.String(),
		Kind:         a.Kind,
		Size:         orZero(a.PositionSize),
		EntryPriceE6: orZero(a.EntryPrice),
		Capital:      orZero(a.Capital),
		Pnl:          orZero(a.Pnl),
		Notional:     Notional(a),
		Leverage:     Leverage(a),
	}
}

// OpenPositions drops flat accounts and projects the rest.
func OpenPositions(accounts []IndexedAccount) []PositionView {
	out := make([]PositionView, 0, len(accounts))
	for _, ia := range accounts {
		if ia.Account.IsFlat() {
			continue
		}
		out = append(out, NewPositionView(ia))
	}
	return out
}
