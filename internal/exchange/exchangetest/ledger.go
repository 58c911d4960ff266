// Package exchangetest provides an in-memory cluster for exercising the
// exchange client end to end.
package exchangetest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/coldbell/slab/backend/internal/chain"
	"github.com/coldbell/slab/backend/internal/ix"
	"github.com/coldbell/slab/backend/internal/progerr"
	"github.com/coldbell/slab/backend/internal/slab"
	"github.com/coldbell/slab/backend/internal/slab/slabtest"
)

const (
	// RentPerByte is the fake rent-exemption rate.
	RentPerByte      = 10
	tokenAccountSize = 165
)

// Ledger is an in-memory cluster. It executes the exchange program's
// instructions against real slab buffers, creates accounts for the system and
// associated token programs and ignores compute-budget instructions. It
// implements chain.AccountFetcher, chain.Submitter and chain.RentCalculator.
type Ledger struct {
	programID solana.PublicKey

	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	statuses map[solana.Signature]chain.Status
	logs     map[solana.Signature][]string
	slot     uint64
	nonce    uint64

	reject    map[ix.Kind]uint32
	preflight bool
	markE6    uint64
	submitted []ix.Kind
}

func NewLedger(programID solana.PublicKey) *Ledger {
	return &Ledger{
		programID: programID,
		accounts:  make(map[solana.PublicKey][]byte),
		statuses:  make(map[solana.Signature]chain.Status),
		logs:      make(map[solana.Signature][]string),
		reject:    make(map[ix.Kind]uint32),
		markE6:    1_000_000,
		slot:      100,
	}
}

// Reject makes the next instruction of kind fail with a custom error code.
func (l *Ledger) Reject(kind ix.Kind, code uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reject[kind] = code
}

// SetPreflight reports rejections from Submit as simulation failures instead
// of landing failed transactions.
func (l *Ledger) SetPreflight(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.preflight = on
}

// SetMark sets the fill price used while no authority price is pushed.
func (l *Ledger) SetMark(priceE6 uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markE6 = priceE6
}

// Submitted lists the program instructions executed so far, failed ones
// included.
func (l *Ledger) Submitted() []ix.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ix.Kind(nil), l.submitted...)
}

func (l *Ledger) Put(address solana.PublicKey, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[address] = append([]byte(nil), data...)
}

func (l *Ledger) FetchAccount(_ context.Context, address solana.PublicKey) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrAccountNotFound, address)
	}
	return append([]byte(nil), data...), nil
}

func (l *Ledger) MinimumBalanceForRentExemption(_ context.Context, size uint64) (uint64, error) {
	return size * RentPerByte, nil
}

func (l *Ledger) LatestBlockhash(context.Context) (solana.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nonce++
	return solana.Hash(sha256.Sum256([]byte(fmt.Sprintf("blockhash-%d", l.nonce)))), nil
}

func (l *Ledger) Confirm(_ context.Context, sig solana.Signature) (chain.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	status, ok := l.statuses[sig]
	if !ok {
		return chain.Status{}, fmt.Errorf("unknown signature %s", sig)
	}
	return status, nil
}

func (l *Ledger) TransactionLogs(_ context.Context, sig solana.Signature) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logs[sig], nil
}

// programFailure is a custom error raised by the fake program.
type programFailure struct{ code uint32 }

func (e programFailure) Error() string { return fmt.Sprintf("custom program error: 0x%x", e.code) }

func (l *Ledger) Submit(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, fmt.Errorf("signature verification failed: %w", err)
	}
	sig := tx.Signatures[0]

	l.mu.Lock()
	defer l.mu.Unlock()
	l.slot++

	pending := make(map[solana.PublicKey][]byte, len(l.accounts))
	for k, v := range l.accounts {
		pending[k] = v
	}

	for i, inst := range tx.Message.Instructions {
		programID := tx.Message.AccountKeys[inst.ProgramIDIndex]
		keys := make([]solana.PublicKey, len(inst.Accounts))
		for j, idx := range inst.Accounts {
			keys[j] = tx.Message.AccountKeys[idx]
		}

		err := l.execute(pending, programID, keys, inst.Data)
		if err == nil {
			continue
		}
		var pf programFailure
		if !errors.As(err, &pf) {
			return solana.Signature{}, fmt.Errorf("instruction %d: %w", i, err)
		}
		logs := []string{
			fmt.Sprintf("Program %s invoke [1]", programID),
			fmt.Sprintf("Program %s consumed 1200 of 200000 compute units", programID),
			fmt.Sprintf("Program %s failed: custom program error: 0x%x", programID, pf.code),
		}
		if l.preflight {
			return solana.Signature{}, &jsonrpc.RPCError{
				Code:    -32002,
				Message: "Transaction simulation failed: Error processing Instruction",
				Data:    map[string]interface{}{"logs": toInterfaces(logs)},
			}
		}
		l.statuses[sig] = chain.Status{
			Slot: l.slot,
			Err:  map[string]any{"InstructionError": []any{i, map[string]any{"Custom": pf.code}}},
		}
		l.logs[sig] = logs
		return sig, nil
	}

	l.accounts = pending
	l.statuses[sig] = chain.Status{Slot: l.slot}
	l.logs[sig] = []string{fmt.Sprintf("Program %s success", l.programID)}
	return sig, nil
}

func toInterfaces(lines []string) []interface{} {
	out := make([]interface{}, len(lines))
	for i, line := range lines {
		out[i] = line
	}
	return out
}

func (l *Ledger) execute(state map[solana.PublicKey][]byte, programID solana.PublicKey, keys []solana.PublicKey, data []byte) error {
	switch {
	case programID.Equals(solana.ComputeBudget):
		return nil
	case programID.Equals(solana.SystemProgramID):
		return createSystemAccount(state, keys, data)
	case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
		if _, exists := state[keys[1]]; exists {
			return fmt.Errorf("token account %s already in use", keys[1])
		}
		state[keys[1]] = make([]byte, tokenAccountSize)
		return nil
	case programID.Equals(l.programID):
		return l.executeProgram(state, keys, data)
	default:
		return fmt.Errorf("unexpected program %s", programID)
	}
}

func createSystemAccount(state map[solana.PublicKey][]byte, keys []solana.PublicKey, data []byte) error {
	dec := bin.NewBinDecoder(data)
	typeID, err := dec.ReadUint32(bin.LE)
	if err != nil || typeID != 0 {
		return fmt.Errorf("unsupported system instruction %d", typeID)
	}
	if _, err := dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	space, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if _, exists := state[keys[1]]; exists {
		return fmt.Errorf("account %s already in use", keys[1])
	}
	state[keys[1]] = make([]byte, space)
	return nil
}

func (l *Ledger) executeProgram(state map[solana.PublicKey][]byte, keys []solana.PublicKey, data []byte) error {
	kind, args, err := ix.Decode(data)
	if err != nil {
		return err
	}
	l.submitted = append(l.submitted, kind)
	if code, ok := l.reject[kind]; ok {
		delete(l.reject, kind)
		return programFailure{code: code}
	}

	signer := keys[0]
	slabKey := keys[1]
	if kind == ix.KindTradeNoCpi || kind == ix.KindTradeCpi {
		slabKey = keys[2]
	}
	raw, ok := state[slabKey]
	if !ok {
		return programFailure{code: progerr.InvalidSlabLen}
	}
	if len(raw) != slab.SlabLen {
		return programFailure{code: progerr.InvalidSlabLen}
	}

	if kind == ix.KindInitMarket {
		if _, err := slab.ParseHeader(raw); err == nil {
			return programFailure{code: progerr.AlreadyInitialized}
		}
		a := args.(ix.InitMarketArgs)
		b := slabtest.FromBytes(raw).
			SetHeader(slab.Header{Magic: slab.Magic, Version: slab.VersionV1}).
			SetConfig(slab.MarketConfig{
				Admin:            a.Admin,
				CollateralMint:   a.CollateralMint,
				Vault:            keys[3],
				OracleFeedID:     a.OracleFeedID,
				MaxStalenessSecs: a.MaxStalenessSecs,
				ConfFilterBps:    a.ConfFilterBps,
				Invert:           a.Invert,
				UnitScale:        a.UnitScale,
				Risk:             a.Risk,
			})
		state[slabKey] = b.Bytes()
		return nil
	}

	cfg, err := slab.ParseConfig(raw)
	if err != nil {
		return programFailure{code: progerr.NotInitialized}
	}
	engine, err := slab.ParseEngine(raw)
	if err != nil {
		return err
	}
	b := slabtest.FromBytes(raw)

	account := func(idx uint16) (slab.Account, error) {
		acct, err := slab.ParseAccount(raw, int(idx))
		if err != nil {
			return slab.Account{}, programFailure{code: progerr.EngineAccountNotFound}
		}
		return acct, nil
	}
	owned := func(idx uint16) (slab.Account, error) {
		acct, err := account(idx)
		if err != nil {
			return acct, err
		}
		if !acct.Owner.Equals(signer) {
			return acct, programFailure{code: progerr.EngineUnauthorized}
		}
		return acct, nil
	}
	open := func(kind slab.AccountKind, matcherProgram, matcherContext solana.PublicKey) error {
		idx := b.FirstFree()
		if idx < 0 {
			return programFailure{code: progerr.EngineOverflow}
		}
		engine.NextAccountID++
		engine.NumUsedAccounts++
		b.PutAccount(idx, slab.Account{
			ID:             engine.NextAccountID,
			Kind:           kind,
			Capital:        new(big.Int),
			MatcherProgram: matcherProgram,
			MatcherContext: matcherContext,
			Owner:          signer,
		})
		return nil
	}

	switch a := args.(type) {
	case ix.InitUserArgs:
		if err := open(slab.KindUser, solana.PublicKey{}, solana.PublicKey{}); err != nil {
			return err
		}
	case ix.InitLPArgs:
		if err := open(slab.KindLP, a.MatcherProgram, a.MatcherContext); err != nil {
			return err
		}
	case ix.CollateralArgs:
		acct, err := owned(a.UserIdx)
		if err != nil {
			return err
		}
		amount := new(big.Int).SetUint64(a.Amount)
		if kind == ix.KindWithdrawCollateral {
			if acct.Capital.Cmp(amount) < 0 {
				return programFailure{code: progerr.EngineInsufficientBalance}
			}
			amount.Neg(amount)
		}
		acct.Capital = new(big.Int).Add(acct.Capital, amount)
		b.PutAccount(int(a.UserIdx), acct)
	case ix.TradeArgs:
		user, err := owned(a.UserIdx)
		if err != nil {
			return err
		}
		lp, err := account(a.LpIdx)
		if err != nil {
			return err
		}
		if !lp.IsLP() {
			return programFailure{code: progerr.EngineNotAnLPAccount}
		}
		if !keys[1].Equals(lp.Owner) {
			return programFailure{code: progerr.EngineUnauthorized}
		}
		price := cfg.AuthorityPriceE6
		if price == 0 {
			price = l.markE6
		}
		user = fill(user, a.Size, price)
		lp = fill(lp, new(big.Int).Neg(a.Size), price)
		required := new(big.Int).Mul(slab.Notional(user), new(big.Int).SetUint64(cfg.Risk.InitialMarginBps))
		required.Quo(required, big.NewInt(10_000))
		if user.Capital.Cmp(required) < 0 {
			return programFailure{code: progerr.EngineUndercollateralized}
		}
		b.PutAccount(int(a.UserIdx), user)
		b.PutAccount(int(a.LpIdx), lp)
	case ix.CloseAccountArgs:
		acct, err := owned(a.UserIdx)
		if err != nil {
			return err
		}
		if !acct.IsFlat() {
			return programFailure{code: progerr.EnginePositionSizeMismatch}
		}
		engine.NumUsedAccounts--
		b.FreeAccount(int(a.UserIdx))
	case ix.KeeperCrankArgs:
		engine.LastCrankSlot = l.slot
		engine.CurrentSlot = l.slot
	case ix.LiquidateArgs:
		acct, err := account(a.TargetIdx)
		if err != nil {
			return err
		}
		if slab.Health(acct, cfg.AuthorityPriceE6, cfg.Risk).Liquidatable {
			acct.Pnl = new(big.Int).Add(acct.Pnl, slab.UnrealizedPnl(acct, cfg.AuthorityPriceE6))
			acct.PositionSize = new(big.Int)
			acct.EntryPrice = new(big.Int)
			engine.LifetimeLiquidations++
			b.PutAccount(int(a.TargetIdx), acct)
		}
	case ix.TopUpInsuranceArgs:
		engine.InsuranceBalance = new(big.Int).Add(engine.InsuranceBalance, new(big.Int).SetUint64(a.Amount))
	case ix.SetOracleAuthorityArgs:
		if !signer.Equals(cfg.Admin) {
			return programFailure{code: progerr.EngineUnauthorized}
		}
		cfg.OracleAuthority = a.NewAuthority
		b.SetConfig(cfg)
	case ix.PushOraclePriceArgs:
		if !cfg.HasOracleAuthority() || !signer.Equals(cfg.OracleAuthority) {
			return programFailure{code: progerr.EngineUnauthorized}
		}
		cfg.AuthorityPriceE6 = a.PriceE6
		cfg.AuthorityTimestamp = a.Timestamp
		b.SetConfig(cfg)
	case ix.UpdateAdminArgs:
		if !signer.Equals(cfg.Admin) {
			return programFailure{code: progerr.EngineUnauthorized}
		}
		cfg.Admin = a.NewAdmin
		b.SetConfig(cfg)
	case nil:
		if !signer.Equals(cfg.Admin) {
			return programFailure{code: progerr.EngineUnauthorized}
		}
		delete(state, slabKey)
		return nil
	default:
		return fmt.Errorf("unhandled instruction %s", kind)
	}

	b.SetEngine(engine)
	state[slabKey] = b.Bytes()
	return nil
}

// fill applies a signed size at price. Opening from flat sets the entry price;
// adding to a position averages it.
func fill(a slab.Account, size *big.Int, price uint64) slab.Account {
	current := orZeroInt(a.PositionSize)
	next := new(big.Int).Add(current, size)
	px := new(big.Int).SetUint64(price)
	switch {
	case next.Sign() == 0:
		a.EntryPrice = new(big.Int)
	case current.Sign() == 0 || current.Sign() != next.Sign():
		a.EntryPrice = px
	case current.Sign() == size.Sign():
		weighted := new(big.Int).Mul(new(big.Int).Abs(current), orZeroInt(a.EntryPrice))
		weighted.Add(weighted, new(big.Int).Mul(new(big.Int).Abs(size), px))
		a.EntryPrice = weighted.Quo(weighted, new(big.Int).Abs(next))
	}
	a.PositionSize = next
	return a
}

func orZeroInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
