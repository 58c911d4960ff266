package ix

import (
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/slab/backend/internal/slab"
)

// Kind is the one-byte instruction tag.
type Kind uint8

const (
	KindInitMarket         Kind = 0
	KindInitUser           Kind = 1
	KindInitLP             Kind = 2
	KindDepositCollateral  Kind = 3
	KindWithdrawCollateral Kind = 4
	KindKeeperCrank        Kind = 5
	KindTradeNoCpi         Kind = 6
	KindLiquidateAtOracle  Kind = 7
	KindCloseAccount       Kind = 8
	KindTopUpInsurance     Kind = 9
	KindTradeCpi           Kind = 10
	KindSetOracleAuthority Kind = 11
	KindPushOraclePrice    Kind = 12
	KindUpdateAdmin        Kind = 13
	KindCloseSlab          Kind = 14
)

// PermissionlessCaller is the keeper-crank caller index meaning "no account".
const PermissionlessCaller uint16 = 0xFFFF

// Source says where an account in a template comes from.
type Source uint8

const (
	Supplied Source = iota
	TokenProgram
	Clock
	Rent
	SystemProgram
)

type Role struct {
	Name     string
	Signer   bool
	Writable bool
	Source   Source
}

// Spec is the single table entry for an instruction: its tag, argument size
// and ordered account roles.
type Spec struct {
	Kind     Kind
	Name     string
	ArgsLen  int
	Accounts []Role
}

// DataLen is the encoded length including the tag byte.
func (s Spec) DataLen() int { return 1 + s.ArgsLen }

// SuppliedCount is how many addresses a caller must provide.
func (s Spec) SuppliedCount() int {
	n := 0
	for _, r := range s.Accounts {
		if r.Source == Supplied {
			n++
		}
	}
	return n
}

func (k Kind) String() string {
	if s, ok := specs[k]; ok {
		return s.Name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func signerW(name string) Role {
	return Role{Name: name, Signer: true, Writable: true}
}

func writable(name string) Role {
	return Role{Name: name, Writable: true}
}

func readonly(name string) Role {
	return Role{Name: name}
}

func known(name string, src Source) Role {
	return Role{Name: name, Source: src}
}

const pubkeyLen = solana.PublicKeyLength

var (
	tokenTransferIn = []Role{
		signerW("user"),
		writable("slab"),
		writable("user_ata"),
		writable("vault"),
		known("token_program", TokenProgram),
	}
	vaultTransferOut = []Role{
		signerW("user"),
		writable("slab"),
		writable("vault"),
		writable("user_ata"),
		readonly("vault_authority"),
		known("token_program", TokenProgram),
		known("clock", Clock),
		readonly("oracle"),
	}
	crankLike = []Role{
		signerW("caller"),
		writable("slab"),
		known("clock", Clock),
		readonly("oracle"),
	}
	adminOnly = []Role{
		signerW("admin"),
		writable("slab"),
	}
)

var specs = map[Kind]Spec{
	KindInitMarket: {
		Name:    "InitMarket",
		ArgsLen: 3*pubkeyLen + 8 + 2 + 1 + 4 + slab.ParamsLen,
		Accounts: []Role{
			signerW("admin"),
			writable("slab"),
			readonly("mint"),
			readonly("vault"),
			known("token_program", TokenProgram),
			known("clock", Clock),
			known("rent", Rent),
			known("system_program", SystemProgram),
		},
	},
	KindInitUser: {
		Name:     "InitUser",
		ArgsLen:  8,
		Accounts: tokenTransferIn,
	},
	KindInitLP: {
		Name:     "InitLP",
		ArgsLen:  2*pubkeyLen + 8,
		Accounts: tokenTransferIn,
	},
	KindDepositCollateral: {
		Name:    "DepositCollateral",
		ArgsLen: 2 + 8,
		Accounts: []Role{
			signerW("user"),
			writable("slab"),
			writable("user_ata"),
			writable("vault"),
			known("token_program", TokenProgram),
			known("clock", Clock),
		},
	},
	KindWithdrawCollateral: {
		Name:     "WithdrawCollateral",
		ArgsLen:  2 + 8,
		Accounts: vaultTransferOut,
	},
	KindKeeperCrank: {
		Name:     "KeeperCrank",
		ArgsLen:  2 + 1,
		Accounts: crankLike,
	},
	KindTradeNoCpi: {
		Name:    "TradeNoCpi",
		ArgsLen: 2 + 2 + 16,
		Accounts: []Role{
			signerW("user"),
			signerW("lp"),
			writable("slab"),
			known("clock", Clock),
			readonly("oracle"),
		},
	},
	KindLiquidateAtOracle: {
		Name:     "LiquidateAtOracle",
		ArgsLen:  2,
		Accounts: crankLike,
	},
	KindCloseAccount: {
		Name:     "CloseAccount",
		ArgsLen:  2,
		Accounts: vaultTransferOut,
	},
	KindTopUpInsurance: {
		Name:     "TopUpInsurance",
		ArgsLen:  8,
		Accounts: tokenTransferIn,
	},
	KindTradeCpi: {
		Name:    "TradeCpi",
		ArgsLen: 2 + 2 + 16,
		Accounts: []Role{
			signerW("user"),
			readonly("lp_owner"),
			writable("slab"),
			known("clock", Clock),
			readonly("oracle"),
			readonly("matcher_program"),
			writable("matcher_context"),
			readonly("lp_pda"),
		},
	},
	KindSetOracleAuthority: {
		Name:     "SetOracleAuthority",
		ArgsLen:  pubkeyLen,
		Accounts: adminOnly,
	},
	KindPushOraclePrice: {
		Name:    "PushOraclePrice",
		ArgsLen: 8 + 8,
		Accounts: []Role{
			signerW("authority"),
			writable("slab"),
		},
	},
	KindUpdateAdmin: {
		Name:     "UpdateAdmin",
		ArgsLen:  pubkeyLen,
		Accounts: adminOnly,
	},
	KindCloseSlab: {
		Name:     "CloseSlab",
		ArgsLen:  0,
		Accounts: adminOnly,
	},
}

func init() {
	for k, s := range specs {
		s.Kind = k
		specs[k] = s
	}
}

// Lookup returns the table entry for k.
func Lookup(k Kind) (Spec, error) {
	s, ok := specs[k]
	if !ok {
		return Spec{}, fmt.Errorf("%w: unknown instruction tag %d", ErrEncoding, uint8(k))
	}
	return s, nil
}

// Kinds lists every known instruction in tag order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(specs))
	for k := range specs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
