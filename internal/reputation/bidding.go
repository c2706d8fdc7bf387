package reputation

import (
	"sort"

	"github.com/agenteconomy/backend/internal/config"
)

// BidCandidate is one agent competing for an open task.
type BidCandidate struct {
	ID string
	// Discount is the agent's price discount in [0,1]; higher is a
	// cheaper bid.
	Discount float64
	// ActiveTasks is the agent's current concurrent load.
	ActiveTasks int
}

// RankedBid is a candidate with its computed bid score.
type RankedBid struct {
	ID       string  `json:"id"`
	BidScore float64 `json:"bidScore"`
}

// Ranker computes bidding order. It is configured once from the
// marketplace config and consults the reputation engine for each
// candidate's record.
type Ranker struct {
	engine *Engine

	minReputation float64
	minQuality    float64
	minPaidTasks  int
	defaultW      config.BiddingWeights
	qualityFirstW config.BiddingWeights
	qualityFirst  func(category string) bool
}

// NewRanker builds the bidding ranker.
func NewRanker(engine *Engine, cfg *config.Config) *Ranker {
	return &Ranker{
		engine:        engine,
		minReputation: cfg.Bidding.MinReputationForOpen,
		minQuality:    cfg.Bidding.MinQualityThreshold,
		minPaidTasks:  cfg.Bidding.MinPaidTasks,
		defaultW:      cfg.Bidding.DefaultWeights,
		qualityFirstW: cfg.Bidding.QualityFirstWeights,
		qualityFirst:  cfg.QualityFirst,
	}
}

// Rank filters candidates through the eligibility gates, scores the
// survivors with the category's weight vector, and returns them in
// descending bid-score order. Gate failures exclude a candidate
// outright, never merely penalize it. Ties break by earliest
// registration, then lexicographic ID, so outcomes are reproducible.
func (r *Ranker) Rank(candidates []BidCandidate, category string) []RankedBid {
	w := r.defaultW
	if r.qualityFirst(category) {
		w = r.qualityFirstW
	}

	r.engine.mu.RLock()
	defer r.engine.mu.RUnlock()

	type scored struct {
		RankedBid
		registered int64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := r.engine.records[c.ID]
		if !ok {
			continue
		}
		if rec.Score < r.minReputation {
			continue
		}
		if rec.AvgQuality < r.minQuality {
			continue
		}
		if rec.PaidTasksCompleted < r.minPaidTasks {
			continue
		}

		ratingAvg, _ := r.engine.cappedRatingAverage(rec)
		load := 1.0 / (1.0 + float64(c.ActiveTasks))

		score := w.Reputation*rec.Score/100 +
			w.Quality*rec.AvgQuality +
			w.Price*c.Discount +
			w.Rating*ratingAvg/5 +
			w.Load*load

		ranked = append(ranked, scored{
			RankedBid:  RankedBid{ID: c.ID, BidScore: score},
			registered: rec.RegisteredAt.UnixNano(),
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].BidScore != ranked[j].BidScore {
			return ranked[i].BidScore > ranked[j].BidScore
		}
		if ranked[i].registered != ranked[j].registered {
			return ranked[i].registered < ranked[j].registered
		}
		return ranked[i].ID < ranked[j].ID
	})

	out := make([]RankedBid, len(ranked))
	for i, s := range ranked {
		out[i] = s.RankedBid
	}
	return out
}
