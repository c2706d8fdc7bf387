package reputation

// weightedTarget is the core scoring formula: five components, each
// normalized to [0,1], combined by the configured weights and scaled
// to [0,100]. Must be called with the lock held.
//
// Sybil resistance lives in the rating component: only the first
// maxRatingsPerFunder ratings from any single funder count, and until
// minUniqueFunders distinct funders have rated the agent the rating
// weight is scaled down proportionally, with the freed weight
// redistributed across the remaining components.
func (e *Engine) weightedTarget(rec *Record) float64 {
	quality := 0.5
	if rec.qualityCount > 0 {
		quality = rec.AvgQuality
	}

	success := 0.5
	if total := rec.TasksCompleted + rec.TasksFailed; total > 0 {
		success = float64(rec.TasksCompleted) / float64(total)
	}

	ratingAvg, uniqueFunders := e.cappedRatingAverage(rec)
	rating := ratingAvg / 5

	completions := float64(rec.TasksCompleted)
	volume := completions / (completions + 10)

	decay := 0.0
	if !rec.LastActiveAt.IsZero() {
		idleDays := e.now().Sub(rec.LastActiveAt).Hours() / 24
		decay = clamp(1-idleDays/e.decayWindowDays, 0, 1)
	}

	w := e.weights
	ratingWeight := w.Rating
	otherScale := 1.0
	if uniqueFunders < e.minUniqueFunders {
		// Scale the rating weight down and hand the freed weight to
		// the remaining components, keeping the total at 1.
		ratingWeight = w.Rating * float64(uniqueFunders) / float64(e.minUniqueFunders)
		otherSum := w.Quality + w.Success + w.Volume + w.Decay
		if otherSum > 0 {
			otherScale = (1 - ratingWeight) / otherSum
		}
	}

	target := w.Quality*otherScale*quality +
		w.Success*otherScale*success +
		ratingWeight*rating +
		w.Volume*otherScale*volume +
		w.Decay*otherScale*decay

	return clamp(target*100, 0, 100)
}

// cappedRatingAverage averages stars with the per-funder cap applied,
// in arrival order, and reports how many distinct funders have rated
// the agent.
func (e *Engine) cappedRatingAverage(rec *Record) (avg float64, uniqueFunders int) {
	perFunder := make(map[string]int)
	var sum, count int
	for _, r := range rec.Ratings {
		if perFunder[r.Funder] >= e.maxRatingsPerFunder {
			continue
		}
		perFunder[r.Funder]++
		sum += r.Stars
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return float64(sum) / float64(count), len(perFunder)
}
