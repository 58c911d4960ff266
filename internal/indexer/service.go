package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/coldbell/slab/backend/internal/chain"
	"github.com/coldbell/slab/backend/internal/config"
	"github.com/coldbell/slab/backend/internal/exchange"
	"github.com/coldbell/slab/backend/internal/logging"
)

type slotSource interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

type Service struct {
	cfg     config.IndexerConfig
	fetcher chain.AccountFetcher
	slots   slotSource
	store   *Store
	logger  *slog.Logger
}

// slabBatch is everything written for one slab in one sync.
type slabBatch struct {
	slab     string
	market   MarketRecord
	accounts []AccountRecord
	used     []uint16
}

func New(cfg config.IndexerConfig, logger *slog.Logger) (*Service, error) {
	store, err := NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	client := rpc.New(cfg.RPCURL)
	return &Service{
		cfg:     cfg,
		fetcher: chain.NewRPC(client, chain.RPCOptions{Commitment: cfg.Commitment}, logger),
		slots:   client,
		store:   store,
		logger:  logging.OrDiscard(logger),
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	s.logger.Info("indexer started",
		"rpc", s.cfg.RPCURL,
		"db_driver", "postgres",
		"commitment", s.cfg.Commitment,
		"slabs", len(s.cfg.Slabs),
	)

	if err := s.syncOnce(ctx); err != nil {
		s.logger.Error("initial sync failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("indexer stopped")
			return nil
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Error("sync failed", "err", err)
			}
		}
	}
}

func (s *Service) syncOnce(ctx context.Context) error {
	var slot uint64
	err := s.withRetry(ctx, "get slot", func() error {
		var err error
		slot, err = s.slots.GetSlot(ctx, s.cfg.Commitment)
		return err
	})
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}

	batches := s.collect(ctx, slot)
	if len(batches) == 0 {
		return nil
	}

	stats := map[string]int{}
	err = s.store.WithTx(ctx, func(tx *Tx) error {
		for _, batch := range batches {
			if err := s.store.UpsertMarketTx(ctx, tx, batch.market); err != nil {
				return fmt.Errorf("upsert market %s: %w", batch.slab, err)
			}
			for _, acct := range batch.accounts {
				if err := s.store.UpsertAccountTx(ctx, tx, acct); err != nil {
					return fmt.Errorf("upsert account %s/%d: %w", batch.slab, acct.Index, err)
				}
			}
			freed, err := s.store.DeleteFreedAccountsTx(ctx, tx, batch.slab, batch.used)
			if err != nil {
				return fmt.Errorf("delete freed accounts %s: %w", batch.slab, err)
			}
			if err := s.store.UpsertSyncStateTx(ctx, tx, batch.slab, slot); err != nil {
				return err
			}
			stats["markets"]++
			stats["accounts"] += len(batch.accounts)
			stats["freed"] += int(freed)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info(
		"sync complete",
		"slot", slot,
		"markets", stats["markets"],
		"accounts", stats["accounts"],
		"freed", stats["freed"],
	)

	return nil
}

// collect fetches and decodes every configured slab. A slab that cannot be
// read is logged and left out of this sync.
func (s *Service) collect(ctx context.Context, slot uint64) []slabBatch {
	now := time.Now().Unix()
	batches := make([]slabBatch, 0, len(s.cfg.Slabs))
	for _, address := range s.cfg.Slabs {
		var data []byte
		err := s.withRetry(ctx, "fetch slab", func() error {
			var err error
			data, err = s.fetcher.FetchAccount(ctx, address)
			return err
		})
		if err != nil {
			s.logger.Warn("failed to fetch slab", "slab", address, "slot", slot, "err", err)
			continue
		}
		snap, err := exchange.ParseSnapshot(address, data)
		if err != nil {
			s.logger.Warn("failed to decode slab", "slab", address, "slot", slot, "err", err)
			continue
		}
		batches = append(batches, newSlabBatch(s.cfg.ProgramID, snap, slot, now))
	}
	return batches
}

func newSlabBatch(programID solana.PublicKey, snap exchange.Snapshot, slot uint64, now int64) slabBatch {
	batch := slabBatch{
		slab:     snap.Slab.String(),
		market:   newMarketRecord(programID, snap, slot, now),
		accounts: make([]AccountRecord, 0, len(snap.Accounts)),
		used:     make([]uint16, 0, len(snap.Accounts)),
	}
	for _, ia := range snap.Accounts {
		batch.accounts = append(batch.accounts, newAccountRecord(snap.Slab, ia, slot, now))
		batch.used = append(batch.used, ia.Index)
	}
	return batch
}

// withRetry retries fn with doubling delays between the configured bounds.
// A missing account is final.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := s.cfg.RPCRetryBaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, chain.ErrAccountNotFound) || attempt >= s.cfg.RPCMaxRetries {
			return err
		}
		s.logger.Debug("rpc call failed, retrying", "op", op, "attempt", attempt+1, "delay", delay.String(), "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = nextBackoff(delay, s.cfg.RPCRetryBaseDelay, s.cfg.RPCRetryMaxDelay)
	}
}

func nextBackoff(current, floor, ceiling time.Duration) time.Duration {
	if floor <= 0 {
		floor = time.Second
	}
	if current < floor {
		current = floor
	}
	next := current * 2
	if ceiling > 0 && next > ceiling {
		return ceiling
	}
	return next
}
