// Package settlement implements the completed-job sweep: for every
// completed job it resolves a payout amount by precedence across the
// awarded bid, the worker's own bid, and the job's raw budget, normalizing
// to both NEAR and USD.
package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"nearautopilot/pkg/types"
)

// BuildSettlementReport sweeps jobs for status == "completed" and resolves
// amountNear by precedence: awarded bid, then the worker's own bid, then
// the job budget. Jobs for which no rule yields a positive amount are
// skipped.
func BuildSettlementReport(jobs []types.MarketJob, bidsByJobID map[string][]types.MarketBid, agentID string, nearPriceUsd decimal.Decimal) types.SettlementReport {
	report := types.SettlementReport{
		TotalNear:   decimal.Zero,
		TotalUsd:    decimal.Zero,
		ScannedJobs: len(jobs),
	}

	for _, job := range jobs {
		if job.Status != types.JobStatusCompleted {
			continue
		}

		amount, bidID, hasBidID, ok := resolveAmount(job, bidsByJobID[job.JobID], agentID)
		if !ok {
			continue
		}

		settlementBidID := "unknown"
		if hasBidID {
			settlementBidID = bidID
		}

		record := types.SettlementRecord{
			SettlementID: job.JobID + ":" + settlementBidID,
			JobID:        job.JobID,
			JobTitle:     job.Title,
			HasBidID:     hasBidID,
			BidID:        bidID,
			AmountNear:   amount,
			AmountUsd:    amount.Mul(nearPriceUsd),
			CompletedAt:  completedAt(job),
		}

		report.Records = append(report.Records, record)
		report.TotalNear = report.TotalNear.Add(amount)
		report.TotalUsd = report.TotalUsd.Add(record.AmountUsd)
	}

	return report
}

// resolveAmount applies the three-rule precedence: the awarded bid, then
// the worker's own bid, then the job's raw budget.
func resolveAmount(job types.MarketJob, bids []types.MarketBid, agentID string) (amount decimal.Decimal, bidID string, hasBidID bool, ok bool) {
	if job.AwardedBidID != "" {
		for _, b := range bids {
			if b.BidID == job.AwardedBidID && b.HasAmount && b.Amount.IsPositive() {
				return b.Amount, b.BidID, true, true
			}
		}
	}

	for _, b := range bids {
		if b.BidderAgentID == agentID && b.HasAmount && b.Amount.IsPositive() {
			return b.Amount, b.BidID, true, true
		}
	}

	if job.IsBudgetNear() {
		return job.BudgetAmount, "", false, true
	}

	return decimal.Zero, "", false, false
}

func completedAt(job types.MarketJob) time.Time {
	if job.HasUpdatedAt {
		return job.UpdatedAt
	}
	return time.Unix(0, 0).UTC()
}
