// Package exchange ties the slab codec, the instruction ABI and the chain
// collaborators together: it caches the market account, builds transactions
// for every instruction, sends them and runs the multi-step setup flows.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/slab/backend/internal/chain"
	"github.com/coldbell/slab/backend/internal/ix"
	"github.com/coldbell/slab/backend/internal/logging"
	"github.com/coldbell/slab/backend/internal/slab"
)

var (
	ErrMissingDependency = errors.New("missing client dependency")
	ErrAccountNotFound   = errors.New("slab account not found")
)

// DefaultComputeUnitLimit is used when Config leaves the limit at zero.
const DefaultComputeUnitLimit uint32 = 400_000

type Config struct {
	ProgramID solana.PublicKey
	Slab      solana.PublicKey
	// Oracle overrides the oracle account passed to price-reading
	// instructions. Zero means the market's configured feed.
	Oracle                        solana.PublicKey
	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64
	WellKnown                     ix.WellKnown
}

// Deps are the collaborators the client performs I/O through.
type Deps struct {
	Fetcher   chain.AccountFetcher
	Signer    chain.Signer
	Submitter chain.Submitter
	Rent      chain.RentCalculator
}

type Client struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu    sync.Mutex
	cache *snapshotCache
}

// snapshotCache is replaced as a whole, never edited in place.
type snapshotCache struct {
	data   []byte
	config slab.MarketConfig
}

func New(cfg Config, deps Deps, logger *slog.Logger) (*Client, error) {
	if deps.Fetcher == nil || deps.Signer == nil || deps.Submitter == nil {
		return nil, fmt.Errorf("%w: fetcher, signer and submitter are required", ErrMissingDependency)
	}
	if cfg.ProgramID.IsZero() || cfg.Slab.IsZero() {
		return nil, fmt.Errorf("%w: program id and slab address are required", ErrMissingDependency)
	}
	if cfg.WellKnown == (ix.WellKnown{}) {
		cfg.WellKnown = ix.DefaultWellKnown()
	}
	if cfg.ComputeUnitLimit == 0 {
		cfg.ComputeUnitLimit = DefaultComputeUnitLimit
	}
	return &Client{cfg: cfg, deps: deps, logger: logging.OrDiscard(logger)}, nil
}

func (c *Client) Config() Config { return c.cfg }

// Wallet is the signer's public key, the default payer and user for every
// builder.
func (c *Client) Wallet() solana.PublicKey { return c.deps.Signer.PublicKey() }

// Refresh re-fetches the slab and replaces the cache.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.fetch(ctx)
	return err
}

// Invalidate drops the cache; the next accessor re-fetches.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

func (c *Client) fetch(ctx context.Context) (*snapshotCache, error) {
	data, err := c.deps.Fetcher.FetchAccount(ctx, c.cfg.Slab)
	if err != nil {
		return nil, fmt.Errorf("fetch slab %s: %w", c.cfg.Slab, err)
	}
	cfg, err := slab.ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse slab %s: %w", c.cfg.Slab, err)
	}
	fresh := &snapshotCache{data: data, config: cfg}

	c.mu.Lock()
	c.cache = fresh
	c.mu.Unlock()

	c.logger.Debug("slab refreshed", "slab", c.cfg.Slab, "bytes", len(data))
	return fresh, nil
}

func (c *Client) load(ctx context.Context) (*snapshotCache, error) {
	c.mu.Lock()
	cached := c.cache
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return c.fetch(ctx)
}

func (c *Client) MarketConfig(ctx context.Context) (slab.MarketConfig, error) {
	cached, err := c.load(ctx)
	if err != nil {
		return slab.MarketConfig{}, err
	}
	return cached.config, nil
}

func (c *Client) Header(ctx context.Context) (slab.Header, error) {
	cached, err := c.load(ctx)
	if err != nil {
		return slab.Header{}, err
	}
	return slab.ParseHeader(cached.data)
}

func (c *Client) Engine(ctx context.Context) (slab.EngineState, error) {
	cached, err := c.load(ctx)
	if err != nil {
		return slab.EngineState{}, err
	}
	return slab.ParseEngine(cached.data)
}

func (c *Client) Params(ctx context.Context) (slab.RiskParams, error) {
	cached, err := c.load(ctx)
	if err != nil {
		return slab.RiskParams{}, err
	}
	return cached.config.Risk, nil
}

// Accounts returns every used slot in index order.
func (c *Client) Accounts(ctx context.Context) ([]slab.IndexedAccount, error) {
	cached, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return slab.ParseAllAccounts(cached.data)
}

func (c *Client) Account(ctx context.Context, idx uint16) (slab.Account, error) {
	cached, err := c.load(ctx)
	if err != nil {
		return slab.Account{}, err
	}
	return slab.ParseAccount(cached.data, int(idx))
}

// FindAccount returns the lowest-index slot of kind owned by owner.
func (c *Client) FindAccount(ctx context.Context, owner solana.PublicKey, kind slab.AccountKind) (slab.IndexedAccount, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return slab.IndexedAccount{}, err
	}
	for _, acct := range accounts {
		if acct.Account.Kind == kind && acct.Account.Owner.Equals(owner) {
			return acct, nil
		}
	}
	return slab.IndexedAccount{}, fmt.Errorf("%w: no %s slot for %s", ErrAccountNotFound, kind, owner)
}

// FindLP returns the LP slot owned by owner that routes to matcherContext.
func (c *Client) FindLP(ctx context.Context, owner, matcherContext solana.PublicKey) (slab.IndexedAccount, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return slab.IndexedAccount{}, err
	}
	for _, acct := range accounts {
		a := acct.Account
		if a.IsLP() && a.Owner.Equals(owner) && a.MatcherContext.Equals(matcherContext) {
			return acct, nil
		}
	}
	return slab.IndexedAccount{}, fmt.Errorf("%w: no lp slot for %s with context %s", ErrAccountNotFound, owner, matcherContext)
}

// Positions returns a view of every used slot, flat ones included.
func (c *Client) Positions(ctx context.Context) ([]slab.PositionView, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]slab.PositionView, 0, len(accounts))
	for _, acct := range accounts {
		out = append(out, slab.NewPositionView(acct))
	}
	return out, nil
}

func (c *Client) OpenPositions(ctx context.Context) ([]slab.PositionView, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	return slab.OpenPositions(accounts), nil
}

// Snapshot is every view parsed from the same buffer.
type Snapshot struct {
	Slab     solana.PublicKey
	Header   slab.Header
	Config   slab.MarketConfig
	Engine   slab.EngineState
	Accounts []slab.IndexedAccount
}

func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	cached, err := c.load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return ParseSnapshot(c.cfg.Slab, cached.data)
}

// ParseSnapshot decodes a raw slab into a Snapshot.
func ParseSnapshot(address solana.PublicKey, data []byte) (Snapshot, error) {
	header, err := slab.ParseHeader(data)
	if err != nil {
		return Snapshot{}, err
	}
	cfg, err := slab.ParseConfig(data)
	if err != nil {
		return Snapshot{}, err
	}
	engine, err := slab.ParseEngine(data)
	if err != nil {
		return Snapshot{}, err
	}
	accounts, err := slab.ParseAllAccounts(data)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Slab: address, Header: header, Config: cfg, Engine: engine, Accounts: accounts}, nil
}

// oracle picks the oracle account for price-reading instructions.
func (c *Client) oracle(cfg slab.MarketConfig) solana.PublicKey {
	if !c.cfg.Oracle.IsZero() {
		return c.cfg.Oracle
	}
	return cfg.OracleFeedID
}
