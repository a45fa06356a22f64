// Package bidding implements the per-job bidding decision engine:
// skip/bid/entry with undercut and margin guardrails, and ranking of
// decisions across a job batch. Guardrail checks run in a fixed order so
// the first violated rule determines the skip reason.
package bidding

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"nearautopilot/internal/config"
	"nearautopilot/pkg/types"
)

const undercutStep = "0.0001"

// DecideBidForJob applies the guardrail precedence rules to a single job
// and returns the resulting decision.
func DecideBidForJob(job types.MarketJob, bids []types.MarketBid, policy config.Policy) types.BidDecision {
	action := actionForJobType(job.JobType)

	if !job.IsBudgetNear() {
		return skip(job.JobID, types.ReasonBudgetUnknownOrNonNear)
	}

	budget := job.BudgetAmount
	minBudget := decimal.NewFromFloat(policy.MinBudgetNear)
	maxBudget := decimal.NewFromFloat(policy.MaxBudgetNear)
	if budget.LessThan(minBudget) || budget.GreaterThan(maxBudget) {
		return skip(job.JobID, types.ReasonBudgetOutsidePolicy)
	}

	existingCount := len(bids)
	if existingCount > policy.MaxExistingBids {
		return skip(job.JobID, types.ReasonMarketTooCompetitive)
	}

	bidAmount, ok := computeBidAmount(budget, bids, policy)
	if !ok {
		return skip(job.JobID, types.ReasonInvalidBidAfterBounds)
	}

	minMargin := decimal.NewFromFloat(policy.MinMarginNear)
	if budget.Sub(bidAmount).LessThan(minMargin) {
		return skip(job.JobID, types.ReasonBelowMarginFloor)
	}

	confidence := computeConfidence(budget, policy, existingCount)

	return types.BidDecision{
		JobID:         job.JobID,
		Action:        action,
		HasBidAmount:  true,
		BidAmountNear: bidAmount,
		Confidence:    confidence,
	}
}

func actionForJobType(jt types.JobType) types.BidAction {
	if jt == types.JobTypeCompetition {
		return types.BidActionEntry
	}
	return types.BidActionBid
}

func skip(jobID, reason string) types.BidDecision {
	return types.BidDecision{JobID: jobID, Action: types.BidActionSkip, Reason: reason}
}

// computeBidAmount derives the candidate bid (discounted budget, or a
// minimum-step undercut of the lowest live bid) and reports ok=false when
// the result is non-positive or non-finite after clamping.
func computeBidAmount(budget decimal.Decimal, bids []types.MarketBid, policy config.Policy) (decimal.Decimal, bool) {
	bidDiscount := decimal.NewFromInt(int64(policy.BidDiscountBps)).Div(decimal.NewFromInt(10000))
	base := budget.Mul(bidDiscount)

	candidate := base
	if lowest, found := lowestPositiveBid(bids); found {
		candidate = lowest.Sub(decimal.RequireFromString(undercutStep))
	}

	minBid := decimal.NewFromFloat(policy.MinBidNear)
	maxBid := decimal.NewFromFloat(policy.MaxBidNear)

	upperBound := budget.Sub(decimal.RequireFromString(undercutStep))
	if upperBound.IsNegative() {
		upperBound = decimal.Zero
	}
	if maxBid.LessThan(upperBound) {
		upperBound = maxBid
	}

	final := candidate
	if final.LessThan(minBid) {
		final = minBid
	}
	if final.GreaterThan(upperBound) {
		final = upperBound
	}
	final = final.Round(4)

	f, _ := final.Float64()
	if !final.IsPositive() || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return final, true
}

func lowestPositiveBid(bids []types.MarketBid) (decimal.Decimal, bool) {
	var lowest decimal.Decimal
	found := false
	for _, b := range bids {
		if !b.HasAmount || !b.Amount.IsPositive() {
			continue
		}
		if !found || b.Amount.LessThan(lowest) {
			lowest = b.Amount
			found = true
		}
	}
	return lowest, found
}

// computeConfidence scales confidence by budget ratio and penalizes
// crowded jobs, clamped to [0,1] and rounded to 3 decimals.
func computeConfidence(budget decimal.Decimal, policy config.Policy, existingBidsCount int) float64 {
	maxBudget := policy.MaxBudgetNear
	budgetF, _ := budget.Float64()

	budgetRatio := 1.0
	if maxBudget > 0 {
		budgetRatio = math.Min(1, budgetF/maxBudget)
	}

	competitionPenalty := math.Min(0.4, 0.03*float64(existingBidsCount))
	confidence := budgetRatio * (1 - competitionPenalty)

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return math.Round(confidence*1000) / 1000
}

// jobBids pairs a job with the bids fed to DecideBidForJob, used only to
// keep RankJobsForBidding's inputs aligned by index.
type jobBids struct {
	Job  types.MarketJob
	Bids []types.MarketBid
}

// RankJobsForBidding applies DecideBidForJob to each job (after a stable
// pre-sort by jobId for deterministic input ordering) and returns the
// decisions sorted with non-skip actions first, then descending by
// confidence; skips are stable-sorted after.
func RankJobsForBidding(jobs []types.MarketJob, bidsByJobID map[string][]types.MarketBid, policy config.Policy) []types.BidDecision {
	pairs := toJobBids(jobs, bidsByJobID)
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Job.JobID < pairs[j].Job.JobID
	})

	decisions := make([]types.BidDecision, len(pairs))
	for i, p := range pairs {
		decisions[i] = DecideBidForJob(p.Job, p.Bids, policy)
	}

	sort.SliceStable(decisions, func(i, j int) bool {
		iSkip := decisions[i].Action == types.BidActionSkip
		jSkip := decisions[j].Action == types.BidActionSkip
		if iSkip != jSkip {
			return !iSkip
		}
		if iSkip {
			return false
		}
		return decisions[i].Confidence > decisions[j].Confidence
	})

	return decisions
}

func toJobBids(jobs []types.MarketJob, bidsByJobID map[string][]types.MarketBid) []jobBids {
	out := make([]jobBids, len(jobs))
	for i, j := range jobs {
		out[i] = jobBids{Job: j, Bids: bidsByJobID[j.JobID]}
	}
	return out
}
