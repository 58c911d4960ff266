package slab

import (
	"math/big"

	"github.com/gagliardetto/solana-go"
)

type Header struct {
	Magic                   uint64
	Version                 uint32
	Bump                    uint8
	Nonce                   uint64
	LastThresholdUpdateSlot uint64
}

// MarketConfig is the market's static configuration. Risk is read from the
// risk-parameter region so callers see the fee and margin knobs alongside the
// rest of the configuration.
type MarketConfig struct {
	Admin              solana.PublicKey
	CollateralMint     solana.PublicKey
	Vault              solana.PublicKey
	OracleFeedID       solana.PublicKey
	OracleAuthority    solana.PublicKey
	MaxStalenessSecs   uint64
	ConfFilterBps      uint16
	VaultAuthorityBump uint8
	Invert             bool
	UnitScale          uint32
	AuthorityPriceE6   uint64
	AuthorityTimestamp int64
	Risk               RiskParams
}

// HasOracleAuthority reports whether prices may be pushed by an authority key.
func (c MarketConfig) HasOracleAuthority() bool {
	return !c.OracleAuthority.IsZero()
}

type EngineState struct {
	VaultBalance           *big.Int
	InsuranceBalance       *big.Int
	InsuranceFeeRevenue    *big.Int
	CurrentSlot            uint64
	FundingIndexE6         *big.Int
	LastFundingSlot        uint64
	FundingRateBpsPerSlot  int64
	LastCrankSlot          uint64
	MaxCrankStalenessSlots uint64
	TotalOpenInterest      *big.Int
	TotalCapital           *big.Int
	PnlPosTotal            *big.Int
	LiqCursor              uint16
	GcCursor               uint16
	CrankCursor            uint16
	NumUsedAccounts        uint16
	NextAccountID          uint64
	LifetimeLiquidations   uint64
	LifetimeForceCloses    uint64
	LastCrankTimestamp     int64
}

type RiskParams struct {
	WarmupPeriodSlots      uint64
	MaintenanceMarginBps   uint64
	InitialMarginBps       uint64
	TradingFeeBps          uint64
	MaxAccounts            uint64
	NewAccountFee          *big.Int
	RiskReductionThreshold *big.Int
	MaintenanceFeePerSlot  *big.Int
	MaxCrankStalenessSlots uint64
	LiquidationFeeBps      uint64
	LiquidationFeeCap      *big.Int
	LiquidationBufferBps   uint64
	MinLiquidationAbs      *big.Int
}

type AccountKind uint8

const (
	KindUser AccountKind = 0
	KindLP   AccountKind = 1
)

func (k AccountKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindLP:
		return "lp"
	default:
		return "unknown"
	}
}

// Account is one participant slot. PositionSize is signed: positive long,
// negative short, zero flat. Capital and Pnl move independently.
type Account struct {
	ID                  uint64
	Kind                AccountKind
	Capital             *big.Int
	Pnl                 *big.Int
	PositionSize        *big.Int
	EntryPrice          *big.Int
	FundingIndex        *big.Int
	WarmupStartedAtSlot uint64
	WarmupSlopePerStep  *big.Int
	MatcherProgram      solana.PublicKey
	MatcherContext      solana.PublicKey
	Owner               solana.PublicKey
	FeeCredits          *big.Int
	LastFeeSlot         uint64
}

func (a Account) IsLP() bool { return a.Kind == KindLP }

// IsFlat reports whether the account carries no exposure.
func (a Account) IsFlat() bool {
	return a.PositionSize == nil || a.PositionSize.Sign() == 0
}

// IndexedAccount pairs an account with its slot index, the handle every
// instruction uses to address it.
type IndexedAccount struct {
	Index   uint16
	Account Account
}
