package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	raw *sql.DB
	db  rebound
}

// Tx is a transaction whose statements use ? placeholders.
type Tx struct {
	rebound
}

// sqlConn is the statement surface shared by *sql.DB and *sql.Tx.
type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebound rewrites ? placeholders to $n before each statement.
type rebound struct {
	conn sqlConn
}

func (r rebound) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.conn.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (r rebound) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.conn.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (r rebound) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return r.conn.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

// rebindPostgresPlaceholders numbers every ? outside single-quoted literals.
// A doubled quote inside a literal toggles twice and stays quoted.
func rebindPostgresPlaceholders(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n, quoted := 0, false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store := &Store{raw: db, db: rebound{conn: db}}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.raw.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.raw.PingContext(ctx)
}

// WithTx commits when fn returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	raw, err := s.raw.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{rebound{conn: raw}}); err != nil {
		_ = raw.Rollback()
		return err
	}
	if err := raw.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS slab_sync_state (
			slab TEXT PRIMARY KEY,
			last_slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS slab_markets (
			slab TEXT PRIMARY KEY,
			program_id TEXT NOT NULL,
			admin TEXT NOT NULL,
			collateral_mint TEXT NOT NULL,
			vault TEXT NOT NULL,
			oracle_feed_id TEXT NOT NULL,
			oracle_authority TEXT NOT NULL,
			authority_price_e6 TEXT NOT NULL,
			authority_timestamp BIGINT NOT NULL,
			maintenance_margin_bps BIGINT NOT NULL,
			initial_margin_bps BIGINT NOT NULL,
			trading_fee_bps BIGINT NOT NULL,
			vault_balance TEXT NOT NULL,
			insurance_balance TEXT NOT NULL,
			total_open_interest TEXT NOT NULL,
			total_capital TEXT NOT NULL,
			funding_index_e6 TEXT NOT NULL,
			num_used_accounts INTEGER NOT NULL,
			last_crank_slot BIGINT NOT NULL,
			lifetime_liquidations BIGINT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS slab_accounts (
			slab TEXT NOT NULL,
			idx INTEGER NOT NULL,
			account_id BIGINT NOT NULL,
			owner TEXT NOT NULL,
			kind TEXT NOT NULL,
			capital TEXT NOT NULL,
			pnl TEXT NOT NULL,
			position_size TEXT NOT NULL,
			entry_price_e6 TEXT NOT NULL,
			side TEXT NOT NULL,
			notional TEXT NOT NULL,
			leverage TEXT NOT NULL,
			funding_index TEXT NOT NULL,
			fee_credits TEXT NOT NULL,
			matcher_program TEXT NOT NULL,
			matcher_context TEXT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (slab, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slab_accounts_owner ON slab_accounts(owner)`,
		`CREATE TABLE IF NOT EXISTS slab_position_history (
			id BIGSERIAL PRIMARY KEY,
			slab TEXT NOT NULL,
			idx INTEGER NOT NULL,
			account_id BIGINT NOT NULL,
			owner TEXT NOT NULL,
			event_type TEXT NOT NULL,
			prev_position_size TEXT NOT NULL,
			prev_entry_price_e6 TEXT NOT NULL,
			next_position_size TEXT NOT NULL,
			next_entry_price_e6 TEXT NOT NULL,
			slot BIGINT NOT NULL,
			recorded_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slab_position_history_owner ON slab_position_history(owner, recorded_at DESC)`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) UpsertSyncStateTx(ctx context.Context, tx *Tx, slab string, slot uint64) error {
	now := time.Now().Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO slab_sync_state (slab, last_slot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(slab) DO UPDATE SET
			last_slot = excluded.last_slot,
			updated_at = excluded.updated_at
	`, slab, int64(slot), now)
	return err
}

func (s *Store) UpsertMarketTx(ctx context.Context, tx *Tx, m MarketRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO slab_markets (
			slab, program_id, admin, collateral_mint, vault, oracle_feed_id, oracle_authority,
			authority_price_e6, authority_timestamp, maintenance_margin_bps, initial_margin_bps,
			trading_fee_bps, vault_balance, insurance_balance, total_open_interest, total_capital,
			funding_index_e6, num_used_accounts, last_crank_slot, lifetime_liquidations,
			slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slab) DO UPDATE SET
			program_id = excluded.program_id,
			admin = excluded.admin,
			collateral_mint = excluded.collateral_mint,
			vault = excluded.vault,
			oracle_feed_id = excluded.oracle_feed_id,
			oracle_authority = excluded.oracle_authority,
			authority_price_e6 = excluded.authority_price_e6,
			authority_timestamp = excluded.authority_timestamp,
			maintenance_margin_bps = excluded.maintenance_margin_bps,
			initial_margin_bps = excluded.initial_margin_bps,
			trading_fee_bps = excluded.trading_fee_bps,
			vault_balance = excluded.vault_balance,
			insurance_balance = excluded.insurance_balance,
			total_open_interest = excluded.total_open_interest,
			total_capital = excluded.total_capital,
			funding_index_e6 = excluded.funding_index_e6,
			num_used_accounts = excluded.num_used_accounts,
			last_crank_slot = excluded.last_crank_slot,
			lifetime_liquidations = excluded.lifetime_liquidations,
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		m.Slab,
		m.ProgramID,
		m.Admin,
		m.CollateralMint,
		m.Vault,
		m.OracleFeedID,
		m.OracleAuthority,
		m.AuthorityPriceE6,
		m.AuthorityTimestamp,
		int64(m.MaintenanceMarginBps),
		int64(m.InitialMarginBps),
		int64(m.TradingFeeBps),
		m.VaultBalance,
		m.InsuranceBalance,
		m.TotalOpenInterest,
		m.TotalCapital,
		m.FundingIndexE6,
		int(m.NumUsedAccounts),
		int64(m.LastCrankSlot),
		int64(m.LifetimeLiquidations),
		int64(m.Slot),
		m.UpdatedAt,
	)
	return err
}

// UpsertAccountTx stores one used slot and appends to the position history
// when the position differs from the stored row.
func (s *Store) UpsertAccountTx(ctx context.Context, tx *Tx, a AccountRecord) error {
	prev, err := s.getPositionSnapshotTx(ctx, tx, a.Slab, a.Index)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO slab_accounts (
			slab, idx, account_id, owner, kind, capital, pnl, position_size, entry_price_e6,
			side, notional, leverage, funding_index, fee_credits, matcher_program,
			matcher_context, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slab, idx) DO UPDATE SET
			account_id = excluded.account_id,
			owner = excluded.owner,
			kind = excluded.kind,
			capital = excluded.capital,
			pnl = excluded.pnl,
			position_size = excluded.position_size,
			entry_price_e6 = excluded.entry_price_e6,
			side = excluded.side,
			notional = excluded.notional,
			leverage = excluded.leverage,
			funding_index = excluded.funding_index,
			fee_credits = excluded.fee_credits,
			matcher_program = excluded.matcher_program,
			matcher_context = excluded.matcher_context,
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		a.Slab,
		int(a.Index),
		int64(a.AccountID),
		a.Owner,
		a.Kind,
		a.Capital,
		a.Pnl,
		a.PositionSize,
		a.EntryPriceE6,
		a.Side,
		a.Notional,
		a.Leverage,
		a.FundingIndex,
		a.FeeCredits,
		a.MatcherProgram,
		a.MatcherContext,
		int64(a.Slot),
		a.UpdatedAt,
	)
	if err != nil {
		return err
	}

	next := positionSnapshot{AccountID: a.AccountID, PositionSize: a.PositionSize, EntryPriceE6: a.EntryPriceE6}
	event, changed := positionEvent(prev, next)
	if !changed {
		return nil
	}
	from := zeroPositionSnapshot()
	if prev != nil && prev.AccountID == next.AccountID {
		from = *prev
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO slab_position_history (
			slab, idx, account_id, owner, event_type,
			prev_position_size, prev_entry_price_e6, next_position_size, next_entry_price_e6,
			slot, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.Slab,
		int(a.Index),
		int64(a.AccountID),
		a.Owner,
		event,
		from.PositionSize,
		from.EntryPriceE6,
		next.PositionSize,
		next.EntryPriceE6,
		int64(a.Slot),
		a.UpdatedAt,
	)
	return err
}

// DeleteFreedAccountsTx removes rows for slots that are no longer in use.
func (s *Store) DeleteFreedAccountsTx(ctx context.Context, tx *Tx, slab string, used []uint16) (int64, error) {
	query := `DELETE FROM slab_accounts WHERE slab = ?`
	args := []any{slab}
	if len(used) > 0 {
		placeholders := make([]string, len(used))
		for i, idx := range used {
			placeholders[i] = "?"
			args = append(args, int(idx))
		}
		query += ` AND idx NOT IN (` + strings.Join(placeholders, ", ") + `)`
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type positionSnapshot struct {
	AccountID    uint64
	PositionSize string
	EntryPriceE6 string
}

func zeroPositionSnapshot() positionSnapshot {
	return positionSnapshot{PositionSize: "0", EntryPriceE6: "0"}
}

// positionEvent classifies the transition between the stored and the fresh
// position of a slot. A reused slot (new account id) counts as a snapshot.
func positionEvent(prev *positionSnapshot, next positionSnapshot) (string, bool) {
	if prev == nil || prev.AccountID != next.AccountID {
		if next.PositionSize == "0" {
			return "", false
		}
		return "snapshot", true
	}
	if prev.PositionSize == next.PositionSize && prev.EntryPriceE6 == next.EntryPriceE6 {
		return "", false
	}
	if next.PositionSize == "0" {
		return "close", true
	}
	return "update", true
}

func (s *Store) getPositionSnapshotTx(ctx context.Context, tx *Tx, slab string, idx uint16) (*positionSnapshot, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT account_id, position_size, entry_price_e6 FROM slab_accounts WHERE slab = ? AND idx = ?`,
		slab, int(idx),
	)
	var snapshot positionSnapshot
	var accountID int64
	err := row.Scan(&accountID, &snapshot.PositionSize, &snapshot.EntryPriceE6)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snapshot.AccountID = uint64(accountID)
	return &snapshot, nil
}
