package ix

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var ErrAccountMetaMismatch = errors.New("account meta mismatch")

// WellKnown resolves the constant program and sysvar addresses a template
// refers to. Tests and alternate clusters inject their own.
type WellKnown struct {
	TokenProgram  solana.PublicKey
	Clock         solana.PublicKey
	Rent          solana.PublicKey
	SystemProgram solana.PublicKey
}

func DefaultWellKnown() WellKnown {
	return WellKnown{
		TokenProgram:  solana.TokenProgramID,
		Clock:         solana.SysVarClockPubkey,
		Rent:          solana.SysVarRentPubkey,
		SystemProgram: solana.SystemProgramID,
	}
}

// resolve does not reject the zero key: the system program id is all zeros.
func (w WellKnown) resolve(src Source) (solana.PublicKey, error) {
	var pk solana.PublicKey
	switch src {
	case TokenProgram:
		pk = w.TokenProgram
	case Clock:
		pk = w.Clock
	case Rent:
		pk = w.Rent
	case SystemProgram:
		pk = w.SystemProgram
	default:
		return solana.PublicKey{}, fmt.Errorf("unknown account source %d", src)
	}
	return pk, nil
}

// BuildAccountMetas expands a role template into ordered, flagged metas.
// supplied fills the Supplied roles in template order.
func BuildAccountMetas(template []Role, env WellKnown, supplied []solana.PublicKey) (solana.AccountMetaSlice, error) {
	want := 0
	for _, r := range template {
		if r.Source == Supplied {
			want++
		}
	}
	if len(supplied) != want {
		return nil, fmt.Errorf("%w: template needs %d supplied accounts, got %d", ErrAccountMetaMismatch, want, len(supplied))
	}

	metas := make(solana.AccountMetaSlice, 0, len(template))
	next := 0
	for _, r := range template {
		var pk solana.PublicKey
		if r.Source == Supplied {
			pk = supplied[next]
			next++
		} else {
			resolved, err := env.resolve(r.Source)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrAccountMetaMismatch, r.Name, err)
			}
			pk = resolved
		}
		metas = append(metas, solana.NewAccountMeta(pk, r.Writable, r.Signer))
	}
	return metas, nil
}

// NewInstruction pairs encoded data with the account list for its kind. The
// data's tag and length are checked against the same table entry the metas
// come from.
func NewInstruction(programID solana.PublicKey, env WellKnown, data []byte, supplied ...solana.PublicKey) (solana.Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty instruction data", ErrEncoding)
	}
	spec, err := Lookup(Kind(data[0]))
	if err != nil {
		return nil, err
	}
	if len(data) != spec.DataLen() {
		return nil, fmt.Errorf("%w: %s data is %d bytes, want %d", ErrEncoding, spec.Name, len(data), spec.DataLen())
	}
	metas, err := BuildAccountMetas(spec.Accounts, env, supplied)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	return solana.NewInstruction(programID, metas, data), nil
}
