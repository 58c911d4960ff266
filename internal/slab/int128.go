package slab

import (
	"errors"
	"math/big"

	bin "github.com/gagliardetto/binary"
)

var ErrOutOfRange = errors.New("value out of 128-bit range")

var (
	two128     = new(big.Int).Lsh(big.NewInt(1), 128)
	maxInt128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxUint128 = new(big.Int).Sub(two128, big.NewInt(1))
	mask64     = new(big.Int).SetUint64(^uint64(0))
)

// BigFromUint128 converts a little-endian u128 into a non-negative big.Int.
func BigFromUint128(v bin.Uint128) *big.Int {
	out := new(big.Int).SetUint64(v.Hi)
	out.Lsh(out, 64)
	return out.Or(out, new(big.Int).SetUint64(v.Lo))
}

// BigFromInt128 converts a two's complement i128 into a signed big.Int.
func BigFromInt128(v bin.Int128) *big.Int {
	out := BigFromUint128(bin.Uint128(v))
	if v.Hi>>63 == 1 {
		out.Sub(out, two128)
	}
	return out
}

// Uint128FromBig is the inverse of BigFromUint128.
func Uint128FromBig(v *big.Int) (bin.Uint128, error) {
	if v == nil || v.Sign() < 0 || v.Cmp(maxUint128) > 0 {
		return bin.Uint128{}, ErrOutOfRange
	}
	return split128(v), nil
}

// Int128FromBig encodes v as two's complement over 128 bits.
func Int128FromBig(v *big.Int) (bin.Int128, error) {
	if v == nil || v.Cmp(minInt128) < 0 || v.Cmp(maxInt128) > 0 {
		return bin.Int128{}, ErrOutOfRange
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}
	return bin.Int128(split128(u)), nil
}

func split128(v *big.Int) bin.Uint128 {
	lo := new(big.Int).And(v, mask64).Uint64()
	hi := new(big.Int).Rsh(v, 64).Uint64()
	return bin.Uint128{Lo: lo, Hi: hi, Endianness: bin.LE}
}
