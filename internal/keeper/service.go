package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/coldbell/slab/backend/internal/config"
	"github.com/coldbell/slab/backend/internal/exchange"
	"github.com/coldbell/slab/backend/internal/ix"
	"github.com/coldbell/slab/backend/internal/logging"
	"github.com/coldbell/slab/backend/internal/slab"
)

var errNoPrice = errors.New("no authority price pushed")

type Service struct {
	cfg    config.KeeperConfig
	client *exchange.Client
	logger *slog.Logger
}

// TickReport summarizes one pass.
type TickReport struct {
	Cranked      bool
	Candidates   int
	Liquidated   int
	Failed       int
	PriceE6      uint64
	AccountsSeen int
}

type candidate struct {
	index   uint16
	owner   string
	deficit *big.Int
}

func New(cfg config.KeeperConfig, client *exchange.Client, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, client: client, logger: logging.OrDiscard(logger)}
}

func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("keeper started",
		"rpc", s.cfg.Client.RPCURL,
		"commitment", s.cfg.Client.Commitment,
		"caller", s.client.Wallet(),
		"program", s.cfg.Client.ProgramID,
		"slab", s.cfg.Client.Slab,
	)

	if _, err := s.Tick(ctx); err != nil {
		s.logger.Error("keeper tick failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("keeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("keeper tick failed", "err", err)
			}
		}
	}
}

// Tick refreshes the slab, cranks the engine and liquidates the accounts
// that are below maintenance at the authority price, worst first.
func (s *Service) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	if err := s.client.Refresh(ctx); err != nil {
		return report, err
	}

	if s.cfg.CrankEnabled {
		if err := s.crank(ctx); err != nil {
			s.logger.Warn("crank failed", "err", err)
		} else {
			report.Cranked = true
		}
	}

	if !s.cfg.LiquidationsEnabled {
		return report, nil
	}

	snap, err := s.client.Snapshot(ctx)
	if err != nil {
		return report, err
	}
	report.AccountsSeen = len(snap.Accounts)
	report.PriceE6 = snap.Config.AuthorityPriceE6

	candidates, err := liquidationCandidates(snap)
	if errors.Is(err, errNoPrice) {
		s.logger.Warn("liquidations skipped", "reason", err)
		return report, nil
	}
	if err != nil {
		return report, err
	}
	report.Candidates = len(candidates)

	limit := s.cfg.MaxLiquidationsPerTick
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	for _, c := range candidates[:limit] {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := s.liquidate(ctx, c); err != nil {
			report.Failed++
			s.logger.Warn("liquidation failed", "index", c.index, "owner", c.owner, "err", err)
			continue
		}
		report.Liquidated++
	}

	s.logger.Info(
		"keeper tick complete",
		"accounts", report.AccountsSeen,
		"price_e6", report.PriceE6,
		"candidates", report.Candidates,
		"liquidated", report.Liquidated,
		"failed", report.Failed,
		"cranked", report.Cranked,
	)
	return report, nil
}

// crankCaller is the keeper's own slot when it has one, permissionless
// otherwise.
func (s *Service) crankCaller(ctx context.Context) uint16 {
	acct, err := s.client.FindAccount(ctx, s.client.Wallet(), slab.KindUser)
	if err != nil {
		acct, err = s.client.FindAccount(ctx, s.client.Wallet(), slab.KindLP)
	}
	if err != nil {
		return ix.PermissionlessCaller
	}
	return acct.Index
}

func (s *Service) crank(ctx context.Context) error {
	utx, err := s.client.BuildKeeperCrankTx(ctx, s.crankCaller(ctx), false)
	if err != nil {
		return fmt.Errorf("build crank: %w", err)
	}
	txCtx, cancel := s.txContext(ctx)
	defer cancel()

	res := s.client.SendTransaction(txCtx, utx)
	if !res.OK() {
		return res.Err
	}
	s.logger.Info("crank sent", "signature", res.Signature, "slot", res.Slot)
	return nil
}

func (s *Service) txContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Client.TxTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Client.TxTimeout)
}

func (s *Service) liquidate(ctx context.Context, c candidate) error {
	utx, err := s.client.BuildLiquidateTx(ctx, c.index)
	if err != nil {
		return fmt.Errorf("build liquidation: %w", err)
	}
	txCtx, cancel := s.txContext(ctx)
	defer cancel()

	res := s.client.SendTransaction(txCtx, utx)
	if !res.OK() {
		return res.Err
	}
	s.logger.Info("account liquidated",
		"index", c.index,
		"owner", c.owner,
		"deficit", c.deficit.String(),
		"signature", res.Signature,
	)
	return nil
}

// liquidationCandidates returns accounts under maintenance at the authority
// price ordered by how far under they are.
func liquidationCandidates(snap exchange.Snapshot) ([]candidate, error) {
	price := snap.Config.AuthorityPriceE6
	if price == 0 {
		return nil, errNoPrice
	}
	var out []candidate
	for _, acct := range snap.Accounts {
		health := slab.Health(acct.Account, price, snap.Config.Risk)
		if !health.Liquidatable {
			continue
		}
		out = append(out, candidate{
			index:   acct.Index,
			owner:   acct.Account.Owner.String(),
			deficit: new(big.Int).Sub(health.Maintenance, health.Equity),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].deficit.Cmp(out[j].deficit) > 0
	})
	return out, nil
}
