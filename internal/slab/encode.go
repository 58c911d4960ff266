package slab

import (
	"bytes"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
)

// EncodeRiskParams packs p into the ParamsLen-byte block shared by the slab and
// the market initialization payload.
func EncodeRiskParams(p RiskParams) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	u128 := func(name string, v *big.Int) error {
		if v == nil {
			v = new(big.Int)
		}
		u, err := Uint128FromBig(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return enc.WriteUint128(u, bin.LE)
	}
	steps := []func() error{
		func() error { return enc.WriteUint64(p.WarmupPeriodSlots, bin.LE) },
		func() error { return enc.WriteUint64(p.MaintenanceMarginBps, bin.LE) },
		func() error { return enc.WriteUint64(p.InitialMarginBps, bin.LE) },
		func() error { return enc.WriteUint64(p.TradingFeeBps, bin.LE) },
		func() error { return enc.WriteUint64(p.MaxAccounts, bin.LE) },
		func() error { return u128("new_account_fee", p.NewAccountFee) },
		func() error { return u128("risk_reduction_threshold", p.RiskReductionThreshold) },
		func() error { return u128("maintenance_fee_per_slot", p.MaintenanceFeePerSlot) },
		func() error { return enc.WriteUint64(p.MaxCrankStalenessSlots, bin.LE) },
		func() error { return enc.WriteUint64(p.LiquidationFeeBps, bin.LE) },
		func() error { return u128("liquidation_fee_cap", p.LiquidationFeeCap) },
		func() error { return enc.WriteUint64(p.LiquidationBufferBps, bin.LE) },
		func() error { return u128("min_liquidation_abs", p.MinLiquidationAbs) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
