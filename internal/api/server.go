package api

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

	"github.com/google/uuid"

	"github.com/vietddude/orderwatch/internal/core/domain"
	"github.com/vietddude/orderwatch/internal/indexing/emitter"
	"github.com/vietddude/orderwatch/internal/indexing/metrics"
	"github.com/vietddude/orderwatch/internal/infra/storage"
)

// StateFetcher resolves an order's current on-chain state.
// *batcher.Batcher implements it.
type StateFetcher interface {
	FetchState(ctx context.Context, order domain.SignedOrder, priority bool) (domain.OrderState, error)
}

// Server serves the order submission API. A submitted order is validated
// offline, checked against the chain with a priority state fetch, stored and
// announced.
type Server struct {
	server  *http.Server
	chain   domain.ChainInfo
	fetcher StateFetcher
	repo    storage.OrderRepository
	emitter *emitter.Emitter
}

// NewServer creates the submission API server.
func NewServer(port int, chain domain.ChainInfo, fetcher StateFetcher, repo storage.OrderRepository, em *emitter.Emitter) *Server {
	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		chain:   chain,
		fetcher: fetcher,
		repo:    repo,
		emitter: em,
	}

	mux.HandleFunc("/order", s.handleOrder)
	mux.HandleFunc("/order/", s.handleOrderByHash)
	mux.HandleFunc("/orders", s.handleOrders)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	metrics.APIRequests.WithLabelValues("/order").Inc()
	if r.Method != http.MethodPost {
		s.writeError(w, methodNotAllowed())
		return
	}

	var order domain.SignedOrder
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&order); err != nil {
		s.writeError(w, badRequest("malformed order JSON"))
		return
	}

	requestID := uuid.NewString()
	hash, err := s.submit(r.Context(), order)
	if err != nil {
		apiErr := asAPIError(err)
		slog.Info("Order rejected",
			"request_id", requestID,
			"code", apiErr.Code,
			"reason", apiErr.Reason,
		)
		s.writeError(w, apiErr)
		return
	}

	slog.Info("Order accepted", "request_id", requestID, "order_hash", hash)
	s.writeJSON(w, http.StatusOK, map[string]string{"orderHash": hash})
}

type batchResult struct {
	OrderHash string    `json:"orderHash,omitempty"`
	Error     *apiError `json:"error,omitempty"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	metrics.APIRequests.WithLabelValues("/orders").Inc()
	if r.Method != http.MethodPost {
		s.writeError(w, methodNotAllowed())
		return
	}

	var orders []domain.SignedOrder
	if err := json.NewDecoder(r.Body).Decode(&orders); err != nil {
		s.writeError(w, badRequest("malformed order array JSON"))
		return
	}
	if len(orders) == 0 {
		s.writeError(w, badRequest("empty order array"))
		return
	}

	requestID := uuid.NewString()
	results := make([]batchResult, len(orders))
	accepted := 0
	for i := range orders {
		hash, err := s.submit(r.Context(), orders[i])
		if err != nil {
			results[i] = batchResult{Error: asAPIError(err)}
			continue
		}
		results[i] = batchResult{OrderHash: hash}
		accepted++
	}

	slog.Info("Order batch processed",
		"request_id", requestID,
		"orders", len(orders),
		"accepted", accepted,
	)
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleOrderByHash(w http.ResponseWriter, r *http.Request) {
	metrics.APIRequests.WithLabelValues("/order/{hash}").Inc()
	if r.Method != http.MethodGet {
		s.writeError(w, methodNotAllowed())
		return
	}

	hash := strings.TrimPrefix(r.URL.Path, "/order/")
	if hash == "" || strings.Contains(hash, "/") {
		s.writeError(w, badRequest("malformed order hash"))
		return
	}

	order, err := s.repo.Get(r.Context(), hash)
	if err != nil {
		slog.Error("Order lookup failed", "order_hash", hash, "error", err)
		s.writeError(w, internalError())
		return
	}
	if order == nil {
		s.writeError(w, notFound())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"orderHash": order.Hash,
		"status":    order.Status,
		"remaining": order.Remaining,
		"order":     order.Order,
	})
}

// submit runs the full acceptance pipeline for one order. The state fetch
// uses the priority lane so submission latency stays low even while a full
// revalidation pass is queued.
func (s *Server) submit(ctx context.Context, order domain.SignedOrder) (string, error) {
	if err := order.Validate(s.chain); err != nil {
		return "", rejection(err)
	}

	state, err := s.fetcher.FetchState(ctx, order, true)
	if err != nil {
		slog.Error("Order state fetch failed", "error", err)
		return "", internalError()
	}
	if err := state.Validate(); err != nil {
		return "", rejection(err)
	}

	meta := &domain.OrderWithMetadata{
		Order:     order,
		Hash:      state.Hash,
		Remaining: state.FillableAmount,
		Status:    state.Status,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, meta); err != nil {
		slog.Error("Order insert failed", "order_hash", state.Hash, "error", err)
		return "", internalError()
	}

	s.emitter.Emit(ctx, &domain.OrderEvent{
		Kind:      domain.OrderAdded,
		Hash:      state.Hash,
		Status:    state.Status,
		Remaining: state.FillableAmount,
		Order:     &order,
	})
	return state.Hash, nil
}

func asAPIError(err error) *apiError {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return internalError()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	metrics.APIResponseStatus.WithLabelValues(strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, apiErr *apiError) {
	s.writeJSON(w, apiErr.Status, map[string]*apiError{"error": apiErr})
}
