package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/agenteconomy/backend/internal/reputation"
	"github.com/agenteconomy/backend/internal/reward"
	"github.com/agenteconomy/backend/internal/token"
)

type amountRequest struct {
	Entity string  `json:"entity"`
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
	Memo   string  `json:"memo"`
	TaskID string  `json:"taskId"`
	Reason string  `json:"reason"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := s.ledger.Mint(req.Entity, token.FromFloat(req.Amount), req.Memo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := s.ledger.Transfer(req.From, req.To, token.FromFloat(req.Amount), req.Memo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := s.ledger.Escrow(req.From, token.FromFloat(req.Amount), req.TaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	rec, ok := s.ledger.EscrowOf(taskID)
	if !ok {
		writeError(w, &token.EscrowNotFoundError{TaskID: taskID})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type releaseRequest struct {
	Distributions map[string]float64 `json:"distributions"`
	Partial       bool               `json:"partial"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	var req releaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dists := make(map[string]token.Amount, len(req.Distributions))
	for dest, amt := range req.Distributions {
		dists[dest] = token.FromFloat(amt)
	}

	var txs []*token.Transaction
	var err error
	if req.Partial {
		txs, err = s.ledger.ReleasePartial(taskID, dists)
	} else {
		txs, err = s.ledger.Release(taskID, dists)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txs)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.Refund(mux.Vars(r)["taskID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := s.ledger.Stake(req.Entity, token.FromFloat(req.Amount))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := s.ledger.Unstake(req.Entity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleSlash(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := s.ledger.Slash(req.Entity, req.Reason, req.TaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleBalances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Balances())
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	writeJSON(w, http.StatusOK, map[string]any{
		"entity":  entity,
		"balance": s.ledger.Balance(entity),
	})
}

func (s *Server) handleStakes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Stakes())
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, s.ledger.Transactions(entity, limit))
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.VerifyChain())
}

type distributeRequest struct {
	Type            string  `json:"type"`
	FundedBy        string  `json:"fundedBy"`
	RewardAmount    float64 `json:"rewardAmount"`
	QualityBonus    float64 `json:"qualityBonus"`
	ValidatorReward float64 `json:"validatorReward"`

	Agent        string  `json:"agent"`
	Owner        string  `json:"owner"`
	QualityScore float64 `json:"qualityScore"`

	Policy struct {
		Owner      float64 `json:"owner"`
		Agent      float64 `json:"agent"`
		Provenance float64 `json:"provenance"`
	} `json:"policy"`

	Provenance []struct {
		Child    string `json:"child"`
		Parent   string `json:"parent"`
		ForkedAt string `json:"forkedAt"`
	} `json:"provenance"`
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	var req distributeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	edges := make([]reward.Edge, 0, len(req.Provenance))
	for _, e := range req.Provenance {
		forkedAt, err := time.Parse(time.RFC3339, e.ForkedAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid forkedAt timestamp: " + e.ForkedAt,
			})
			return
		}
		edges = append(edges, reward.Edge{Child: e.Child, Parent: e.Parent, ForkedAt: forkedAt})
	}

	outcome, err := s.rewards.Distribute(reward.Request{
		Task: &token.TaskSpec{
			ID:              taskID,
			Type:            req.Type,
			FundedBy:        req.FundedBy,
			RewardAmount:    token.FromFloat(req.RewardAmount),
			QualityBonus:    token.FromFloat(req.QualityBonus),
			ValidatorReward: token.FromFloat(req.ValidatorReward),
		},
		Agent: req.Agent,
		Owner: req.Owner,
		Policy: reward.SplitPolicy{
			Owner:      req.Policy.Owner,
			Agent:      req.Policy.Agent,
			Provenance: req.Policy.Provenance,
		},
		Graph:        reward.NewGraph(edges...),
		QualityScore: req.QualityScore,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type reviewRequest struct {
	Type            string  `json:"type"`
	FundedBy        string  `json:"fundedBy"`
	RewardAmount    float64 `json:"rewardAmount"`
	QualityBonus    float64 `json:"qualityBonus"`
	ValidatorReward float64 `json:"validatorReward"`
	MinQuality      float64 `json:"minQuality"`

	Agent       string `json:"agent"`
	Success     bool   `json:"success"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	Output      string `json:"output"`
	ValidatorID string `json:"validatorId"`

	Verdict struct {
		Passed       bool    `json:"passed"`
		QualityScore float64 `json:"qualityScore"`
		Feedback     string  `json:"feedback"`
	} `json:"verdict"`
}

// staticVerdict adapts a verdict already produced by an out-of-process
// validator to the in-process review flow.
type staticVerdict token.Verdict

func (v staticVerdict) Verify(_ *token.TaskSpec, _ *token.TaskResult) (*token.Verdict, error) {
	verdict := token.Verdict(v)
	return &verdict, nil
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	var req reviewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task := &token.TaskSpec{
		ID:              taskID,
		Type:            req.Type,
		FundedBy:        req.FundedBy,
		RewardAmount:    token.FromFloat(req.RewardAmount),
		QualityBonus:    token.FromFloat(req.QualityBonus),
		ValidatorReward: token.FromFloat(req.ValidatorReward),
		MinQuality:      req.MinQuality,
	}
	result := &token.TaskResult{
		TaskID:  taskID,
		Agent:   req.Agent,
		Success: req.Success,
		Title:   req.Title,
		Summary: req.Summary,
		Output:  req.Output,
	}

	rec, err := s.verification.Review(task, result, req.ValidatorID, staticVerdict(req.Verdict))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleVerificationGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.verification.Record(mux.Vars(r)["taskID"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no verification record"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type alignmentRequest struct {
	HumanRating int  `json:"humanRating"`
	Unrated     bool `json:"unrated"`
}

func (s *Server) handleAlignment(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	var req alignmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var outcome any
	var err error
	if req.Unrated {
		outcome, err = s.verification.ResolveUnrated(taskID)
	} else {
		outcome, err = s.verification.ResolveAlignment(taskID, req.HumanRating)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleReputationGet(w http.ResponseWriter, r *http.Request) {
	agent := mux.Vars(r)["agent"]
	rec, ok := s.reputation.Get(agent)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"agent": agent,
			"score": s.reputation.Score(agent),
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type ratingRequest struct {
	Funder string `json:"funder"`
	Stars  int    `json:"stars"`
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	agent := mux.Vars(r)["agent"]
	var req ratingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	score := s.reputation.AddRating(agent, req.Funder, req.Stars)
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent, "score": score})
}

type bidRankRequest struct {
	Category   string                    `json:"category"`
	Candidates []reputation.BidCandidate `json:"candidates"`
}

func (s *Server) handleBidRank(w http.ResponseWriter, r *http.Request) {
	var req bidRankRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.ranker.Rank(req.Candidates, req.Category))
}
