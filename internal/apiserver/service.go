package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coldbell/slab/backend/internal/config"
	"github.com/coldbell/slab/backend/internal/indexer"
	"github.com/coldbell/slab/backend/internal/logging"
)

// reader is the query side of indexer.Store.
type reader interface {
	Ping(ctx context.Context) error
	GetMarket(ctx context.Context, slab string) (indexer.MarketRecord, error)
	ListMarkets(ctx context.Context) ([]indexer.MarketRecord, error)
	ListAccounts(ctx context.Context, filter indexer.AccountFilter) ([]indexer.AccountRecord, int, int, error)
	ListPositionHistory(ctx context.Context, filter indexer.PositionHistoryFilter) ([]indexer.PositionHistoryRecord, int, int, error)
	LastSyncedSlot(ctx context.Context, slab string) (uint64, error)
}

type Service struct {
	cfg        config.APIServerConfig
	logger     *slog.Logger
	store      reader
	closeStore func() error
	cors       corsPolicy
}

var errAmbiguousMarket = errors.New("slab is required when more than one market is indexed")

func New(cfg config.APIServerConfig, logger *slog.Logger) (*Service, error) {
	store, err := indexer.NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	svc := newService(cfg, store, logger)
	svc.closeStore = store.Close
	return svc, nil
}

func newService(cfg config.APIServerConfig, store reader, logger *slog.Logger) *Service {
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 2 * time.Second
	}
	if cfg.StreamPingInterval <= 0 {
		cfg.StreamPingInterval = 30 * time.Second
	}
	return &Service{
		cfg:        cfg,
		logger:     logging.OrDiscard(logger),
		store:      store,
		closeStore: func() error { return nil },
		cors:       newCORSPolicy(cfg.AllowedOrigins),
	}
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/markets", s.handleMarkets)
	mux.HandleFunc("GET /api/v1/market", s.handleMarket)
	mux.HandleFunc("GET /api/v1/accounts", s.accountsHandler(false))
	mux.HandleFunc("GET /api/v1/positions", s.accountsHandler(true))
	mux.HandleFunc("GET /api/v1/position-history", s.handlePositionHistory)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	return s.cors.wrap(mux)
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.closeStore(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
		"stream_interval", s.cfg.StreamInterval.String(),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("api-server stopping")
		if err := server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type marketResponse struct {
	indexer.MarketRecord
	LastSyncedSlot uint64 `json:"last_synced_slot"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "err", err)
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, map[string]bool{"ok": status == http.StatusOK})
}

func (s *Service) handleMarkets(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListMarkets(r.Context())
	if err != nil {
		s.internalError(w, "list markets", err)
		return
	}
	if items == nil {
		items = []indexer.MarketRecord{}
	}
	s.respondJSON(w, http.StatusOK, listResponse[indexer.MarketRecord]{Items: items, Limit: len(items)})
}

// handleMarket serves one market by ?slab=, or the only market when exactly
// one is indexed.
func (s *Service) handleMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.resolveMarket(r.Context(), query(r, "slab"))
	switch {
	case errors.Is(err, indexer.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, errAmbiguousMarket):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.internalError(w, "get market", err)
		return
	}

	synced, err := s.store.LastSyncedSlot(r.Context(), market.Slab)
	if err != nil {
		s.internalError(w, "get sync state", err)
		return
	}
	s.respondJSON(w, http.StatusOK, marketResponse{MarketRecord: market, LastSyncedSlot: synced})
}

func (s *Service) resolveMarket(ctx context.Context, slab string) (indexer.MarketRecord, error) {
	if slab != "" {
		return s.store.GetMarket(ctx, slab)
	}
	markets, err := s.store.ListMarkets(ctx)
	if err != nil {
		return indexer.MarketRecord{}, err
	}
	switch len(markets) {
	case 0:
		return indexer.MarketRecord{}, fmt.Errorf("%w: no market indexed", indexer.ErrNotFound)
	case 1:
		return markets[0], nil
	default:
		return indexer.MarketRecord{}, errAmbiguousMarket
	}
}

func (s *Service) accountsHandler(openOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := parsePage(r)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind := strings.ToLower(query(r, "kind"))
		if kind != "" && kind != "user" && kind != "lp" {
			s.respondError(w, http.StatusBadRequest, "invalid kind: must be user or lp")
			return
		}

		items, limit, offset, err := s.store.ListAccounts(r.Context(), indexer.AccountFilter{
			Slab:     query(r, "slab"),
			Owner:    query(r, "owner"),
			Kind:     kind,
			OpenOnly: openOnly,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			s.internalError(w, "list accounts", err)
			return
		}
		s.respondJSON(w, http.StatusOK, listResponse[indexer.AccountRecord]{Items: items, Limit: limit, Offset: offset})
	}
}

func (s *Service) handlePositionHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, limit, offset, err := s.store.ListPositionHistory(r.Context(), indexer.PositionHistoryFilter{
		Slab:   query(r, "slab"),
		Owner:  query(r, "owner"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.internalError(w, "list position history", err)
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[indexer.PositionHistoryRecord]{Items: items, Limit: limit, Offset: offset})
}

func query(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// parsePage reads limit and offset. Missing values are zero; the store applies
// its defaults and bounds.
func parsePage(r *http.Request) (limit, offset int, err error) {
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &limit}, {"offset", &offset}} {
		raw := query(r, p.key)
		if raw == "" {
			continue
		}
		if *p.dst, err = strconv.Atoi(raw); err != nil {
			return 0, 0, fmt.Errorf("invalid %s: %q", p.key, raw)
		}
	}
	return limit, offset, nil
}

func (s *Service) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "err", err)
	s.respondError(w, http.StatusInternalServerError, "failed to "+op)
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, map[string]string{"error": message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
