package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

var ErrNotFound = errors.New("not found")

type MarketRecord struct {
	Slab                 string `json:"slab"`
	ProgramID            string `json:"program_id"`
	Admin                string `json:"admin"`
	CollateralMint       string `json:"collateral_mint"`
	Vault                string `json:"vault"`
	OracleFeedID         string `json:"oracle_feed_id"`
	OracleAuthority      string `json:"oracle_authority"`
	AuthorityPriceE6     string `json:"authority_price_e6"`
	AuthorityTimestamp   int64  `json:"authority_timestamp"`
	MaintenanceMarginBps uint64 `json:"maintenance_margin_bps"`
	InitialMarginBps     uint64 `json:"initial_margin_bps"`
	TradingFeeBps        uint64 `json:"trading_fee_bps"`
	VaultBalance         string `json:"vault_balance"`
	InsuranceBalance     string `json:"insurance_balance"`
	TotalOpenInterest    string `json:"total_open_interest"`
	TotalCapital         string `json:"total_capital"`
	FundingIndexE6       string `json:"funding_index_e6"`
	NumUsedAccounts      uint16 `json:"num_used_accounts"`
	LastCrankSlot        uint64 `json:"last_crank_slot"`
	LifetimeLiquidations uint64 `json:"lifetime_liquidations"`
	Slot                 uint64 `json:"slot"`
	UpdatedAt            int64  `json:"updated_at"`
}

type AccountRecord struct {
	Slab           string `json:"slab"`
	Index          uint16 `json:"idx"`
	AccountID      uint64 `json:"account_id"`
	Owner          string `json:"owner"`
	Kind           string `json:"kind"`
	Capital        string `json:"capital"`
	Pnl            string `json:"pnl"`
	PositionSize   string `json:"position_size"`
	EntryPriceE6   string `json:"entry_price_e6"`
	Side           string `json:"side"`
	Notional       string `json:"notional"`
	Leverage       string `json:"leverage"`
	FundingIndex   string `json:"funding_index"`
	FeeCredits     string `json:"fee_credits"`
	MatcherProgram string `json:"matcher_program,omitempty"`
	MatcherContext string `json:"matcher_context,omitempty"`
	Slot           uint64 `json:"slot"`
	UpdatedAt      int64  `json:"updated_at"`
}

type AccountFilter struct {
	Slab     string
	Owner    string
	Kind     string
	OpenOnly bool
	Limit    int
	Offset   int
}

type PositionHistoryFilter struct {
	Slab   string
	Owner  string
	Limit  int
	Offset int
}

type PositionHistoryRecord struct {
	ID               int64  `json:"id"`
	Slab             string `json:"slab"`
	Index            uint16 `json:"idx"`
	AccountID        uint64 `json:"account_id"`
	Owner            string `json:"owner"`
	EventType        string `json:"event_type"`
	PrevPositionSize string `json:"prev_position_size"`
	PrevEntryPriceE6 string `json:"prev_entry_price_e6"`
	NextPositionSize string `json:"next_position_size"`
	NextEntryPriceE6 string `json:"next_entry_price_e6"`
	Slot             uint64 `json:"slot"`
	RecordedAt       int64  `json:"recorded_at"`
}

const marketColumns = `
	slab, program_id, admin, collateral_mint, vault, oracle_feed_id, oracle_authority,
	authority_price_e6, authority_timestamp, maintenance_margin_bps, initial_margin_bps,
	trading_fee_bps, vault_balance, insurance_balance, total_open_interest, total_capital,
	funding_index_e6, num_used_accounts, last_crank_slot, lifetime_liquidations,
	slot, updated_at`

func scanMarket(row interface{ Scan(...any) error }) (MarketRecord, error) {
	var (
		item                      MarketRecord
		mm, im, fee               int64
		used                      int
		crank, liquidations, slot int64
	)
	err := row.Scan(
		&item.Slab,
		&item.ProgramID,
		&item.Admin,
		&item.CollateralMint,
		&item.Vault,
		&item.OracleFeedID,
		&item.OracleAuthority,
		&item.AuthorityPriceE6,
		&item.AuthorityTimestamp,
		&mm,
		&im,
		&fee,
		&item.VaultBalance,
		&item.InsuranceBalance,
		&item.TotalOpenInterest,
		&item.TotalCapital,
		&item.FundingIndexE6,
		&used,
		&crank,
		&liquidations,
		&slot,
		&item.UpdatedAt,
	)
	if err != nil {
		return MarketRecord{}, err
	}
	item.MaintenanceMarginBps = uint64(mm)
	item.InitialMarginBps = uint64(im)
	item.TradingFeeBps = uint64(fee)
	item.NumUsedAccounts = uint16(used)
	item.LastCrankSlot = uint64(crank)
	item.LifetimeLiquidations = uint64(liquidations)
	item.Slot = uint64(slot)
	return item, nil
}

func (s *Store) GetMarket(ctx context.Context, slab string) (MarketRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM slab_markets WHERE slab = ?`, slab)
	item, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MarketRecord{}, fmt.Errorf("%w: market %s", ErrNotFound, slab)
	}
	return item, err
}

func (s *Store) ListMarkets(ctx context.Context) ([]MarketRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+marketColumns+` FROM slab_markets ORDER BY slab ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []MarketRecord
	for rows.Next() {
		item, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListAccounts(ctx context.Context, filter AccountFilter) ([]AccountRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	where, args := accountClauses(filter)

	query := fmt.Sprintf(`
		SELECT
			slab,
			idx,
			account_id,
			owner,
			kind,
			capital,
			pnl,
			position_size,
			entry_price_e6,
			side,
			notional,
			leverage,
			funding_index,
			fee_credits,
			matcher_program,
			matcher_context,
			slot,
			updated_at
		FROM slab_accounts
		WHERE %s
		ORDER BY slab ASC, idx ASC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]AccountRecord, 0, limit)
	for rows.Next() {
		var item AccountRecord
		var idx int
		var accountID, slot int64
		if err := rows.Scan(
			&item.Slab,
			&idx,
			&accountID,
			&item.Owner,
			&item.Kind,
			&item.Capital,
			&item.Pnl,
			&item.PositionSize,
			&item.EntryPriceE6,
			&item.Side,
			&item.Notional,
			&item.Leverage,
			&item.FundingIndex,
			&item.FeeCredits,
			&item.MatcherProgram,
			&item.MatcherContext,
			&slot,
			&item.UpdatedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		item.Index = uint16(idx)
		item.AccountID = uint64(accountID)
		item.Slot = uint64(slot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func accountClauses(filter AccountFilter) (string, []any) {
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 3)
	if filter.Slab != "" {
		clauses = append(clauses, "slab = ?")
		args = append(args, filter.Slab)
	}
	if filter.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.OpenOnly {
		clauses = append(clauses, "position_size <> '0'")
	}
	return strings.Join(clauses, " AND "), args
}

func (s *Store) ListPositionHistory(ctx context.Context, filter PositionHistoryFilter) ([]PositionHistoryRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 4)
	if filter.Slab != "" {
		clauses = append(clauses, "slab = ?")
		args = append(args, filter.Slab)
	}
	if filter.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, filter.Owner)
	}

	query := fmt.Sprintf(`
		SELECT
			id, slab, idx, account_id, owner, event_type,
			prev_position_size, prev_entry_price_e6, next_position_size, next_entry_price_e6,
			slot, recorded_at
		FROM slab_position_history
		WHERE %s
		ORDER BY recorded_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]PositionHistoryRecord, 0, limit)
	for rows.Next() {
		var item PositionHistoryRecord
		var idx int
		var accountID, slot int64
		if err := rows.Scan(
			&item.ID,
			&item.Slab,
			&idx,
			&accountID,
			&item.Owner,
			&item.EventType,
			&item.PrevPositionSize,
			&item.PrevEntryPriceE6,
			&item.NextPositionSize,
			&item.NextEntryPriceE6,
			&slot,
			&item.RecordedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		item.Index = uint16(idx)
		item.AccountID = uint64(accountID)
		item.Slot = uint64(slot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

// LastSyncedSlot returns 0 when the slab has never been indexed.
func (s *Store) LastSyncedSlot(ctx context.Context, slab string) (uint64, error) {
	var slot int64
	err := s.db.QueryRowContext(ctx, `SELECT last_slot FROM slab_sync_state WHERE slab = ?`, slab).Scan(&slot)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(slot), nil
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
