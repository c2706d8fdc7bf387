// Package api exposes the coordination engines over REST/JSON for the
// orchestrator, plus the Prometheus scrape endpoint and a websocket
// event stream.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenteconomy/backend/internal/events"
	"github.com/agenteconomy/backend/internal/ledger"
	"github.com/agenteconomy/backend/internal/middleware"
	"github.com/agenteconomy/backend/internal/reputation"
	"github.com/agenteconomy/backend/internal/reward"
	"github.com/agenteconomy/backend/internal/token"
	"github.com/agenteconomy/backend/internal/verification"
)

// Server wires the engines behind HTTP.
type Server struct {
	ledger       *ledger.Ledger
	rewards      *reward.Engine
	verification *verification.Engine
	reputation   *reputation.Engine
	ranker       *reputation.Ranker
	bus          *events.Bus
	logger       *slog.Logger
}

// NewServer builds the API server.
func NewServer(l *ledger.Ledger, rw *reward.Engine, v *verification.Engine, rep *reputation.Engine, rank *reputation.Ranker, bus *events.Bus) *Server {
	return &Server{
		ledger:       l,
		rewards:      rw,
		verification: v,
		reputation:   rep,
		ranker:       rank,
		bus:          bus,
		logger:       slog.Default().With("component", "api"),
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging(s.logger))

	// Ledger
	r.HandleFunc("/v1/mint", s.handleMint).Methods("POST")
	r.HandleFunc("/v1/transfer", s.handleTransfer).Methods("POST")
	r.HandleFunc("/v1/escrow", s.handleEscrow).Methods("POST")
	r.HandleFunc("/v1/escrow/{taskID}", s.handleEscrowGet).Methods("GET")
	r.HandleFunc("/v1/escrow/{taskID}/release", s.handleRelease).Methods("POST")
	r.HandleFunc("/v1/escrow/{taskID}/refund", s.handleRefund).Methods("POST")
	r.HandleFunc("/v1/stake", s.handleStake).Methods("POST")
	r.HandleFunc("/v1/unstake", s.handleUnstake).Methods("POST")
	r.HandleFunc("/v1/slash", s.handleSlash).Methods("POST")
	r.HandleFunc("/v1/balances", s.handleBalances).Methods("GET")
	r.HandleFunc("/v1/balances/{entity}", s.handleBalance).Methods("GET")
	r.HandleFunc("/v1/stakes", s.handleStakes).Methods("GET")
	r.HandleFunc("/v1/transactions", s.handleTransactions).Methods("GET")
	r.HandleFunc("/v1/ledger/verify", s.handleVerifyChain).Methods("GET")

	// Rewards and verification
	r.HandleFunc("/v1/tasks/{taskID}/distribute", s.handleDistribute).Methods("POST")
	r.HandleFunc("/v1/tasks/{taskID}/review", s.handleReview).Methods("POST")
	r.HandleFunc("/v1/tasks/{taskID}/verification", s.handleVerificationGet).Methods("GET")
	r.HandleFunc("/v1/tasks/{taskID}/alignment", s.handleAlignment).Methods("POST")

	// Reputation and bidding
	r.HandleFunc("/v1/reputation/{agent}", s.handleReputationGet).Methods("GET")
	r.HandleFunc("/v1/reputation/{agent}/rating", s.handleRating).Methods("POST")
	r.HandleFunc("/v1/bidding/rank", s.handleBidRank).Methods("POST")

	// Observability
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/ws/events", s.handleEventStream)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	return r
}

// Start listens on the given port with the rate limit applied in
// front of the route table.
func (s *Server) Start(port string) error {
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{})
	s.logger.Info("api server listening", "port", port)
	return http.ListenAndServe(":"+port, limiter.Handler(s.Router()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the engine error taxonomy onto HTTP statuses:
// validation 400, insufficiency/state conflicts 409, not-found 404,
// integrity 503 (the ledger refuses work until reconciled).
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var (
		invalidAmount *token.InvalidAmountError
		insufficient  *token.InsufficientBalanceError
		splitPolicy   *token.SplitPolicyError
		splitMismatch *token.SplitMismatchError
		dupEscrow     *token.DuplicateEscrowError
		escrowGone    *token.EscrowNotFoundError
		escrowDone    *token.EscrowResolvedError
		noStake       *token.NoActiveStakeError
		cooldown      *token.CooldownActiveError
	)
	switch {
	case errors.As(err, &invalidAmount), errors.As(err, &splitPolicy), errors.As(err, &splitMismatch):
		status = http.StatusBadRequest
	case errors.As(err, &escrowGone), errors.As(err, &noStake):
		status = http.StatusNotFound
	case errors.As(err, &insufficient), errors.As(err, &dupEscrow),
		errors.As(err, &escrowDone), errors.As(err, &cooldown),
		errors.Is(err, token.ErrAlreadyResolved), errors.Is(err, token.ErrNoEligibleValidator):
		status = http.StatusConflict
	case errors.Is(err, token.ErrChainCorrupted):
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
