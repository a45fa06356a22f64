package settlement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"nearautopilot/pkg/types"
)

func completedJob(id string) types.MarketJob {
	return types.MarketJob{JobID: id, Title: "title-" + id, Status: types.JobStatusCompleted}
}

func TestSettlementPrecedenceAwardedBidWins(t *testing.T) {
	t.Parallel()
	job := completedJob("j1")
	job.AwardedBidID = "bid-awarded"
	bids := map[string][]types.MarketBid{
		"j1": {
			{BidID: "bid-awarded", HasAmount: true, Amount: decimal.NewFromFloat(5)},
			{BidID: "bid-other", BidderAgentID: "me", HasAmount: true, Amount: decimal.NewFromFloat(99)},
		},
	}

	report := BuildSettlementReport([]types.MarketJob{job}, bids, "me", decimal.NewFromFloat(3))
	if len(report.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(report.Records))
	}
	r := report.Records[0]
	if !r.AmountNear.Equal(decimal.NewFromFloat(5)) {
		t.Errorf("AmountNear = %s, want 5 (awarded bid)", r.AmountNear)
	}
	if r.SettlementID != "j1:bid-awarded" {
		t.Errorf("SettlementID = %q, want j1:bid-awarded", r.SettlementID)
	}
}

func TestSettlementPrecedenceFallsBackToOwnBid(t *testing.T) {
	t.Parallel()
	job := completedJob("j1")
	bids := map[string][]types.MarketBid{
		"j1": {{BidID: "bid-mine", BidderAgentID: "me", HasAmount: true, Amount: decimal.NewFromFloat(7)}},
	}

	report := BuildSettlementReport([]types.MarketJob{job}, bids, "me", decimal.NewFromFloat(2))
	if len(report.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(report.Records))
	}
	if !report.Records[0].AmountNear.Equal(decimal.NewFromFloat(7)) {
		t.Errorf("AmountNear = %s, want 7", report.Records[0].AmountNear)
	}
}

func TestSettlementPrecedenceFallsBackToBudget(t *testing.T) {
	t.Parallel()
	job := completedJob("j1")
	job.HasBudget = true
	job.BudgetToken = "NEAR"
	job.BudgetAmount = decimal.NewFromFloat(3)

	report := BuildSettlementReport([]types.MarketJob{job}, nil, "me", decimal.NewFromFloat(4))
	if len(report.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(report.Records))
	}
	r := report.Records[0]
	if !r.AmountNear.Equal(decimal.NewFromFloat(3)) {
		t.Errorf("AmountNear = %s, want 3 (budget fallback)", r.AmountNear)
	}
	if r.HasBidID {
		t.Error("budget-fallback record should not carry a bidId")
	}
	if r.SettlementID != "j1:unknown" {
		t.Errorf("SettlementID = %q, want j1:unknown", r.SettlementID)
	}
}

func TestSettlementSkipsJobsWithNoPositiveAmount(t *testing.T) {
	t.Parallel()
	job := completedJob("j1")

	report := BuildSettlementReport([]types.MarketJob{job}, nil, "me", decimal.NewFromFloat(1))
	if len(report.Records) != 0 {
		t.Errorf("expected job to be skipped, got %+v", report.Records)
	}
	if report.ScannedJobs != 1 {
		t.Errorf("ScannedJobs = %d, want 1", report.ScannedJobs)
	}
}

func TestSettlementIgnoresNonCompletedJobs(t *testing.T) {
	t.Parallel()
	job := types.MarketJob{JobID: "j1", Status: types.JobStatusOpen, HasBudget: true, BudgetToken: "NEAR", BudgetAmount: decimal.NewFromFloat(5)}

	report := BuildSettlementReport([]types.MarketJob{job}, nil, "me", decimal.NewFromFloat(1))
	if len(report.Records) != 0 {
		t.Errorf("non-completed jobs should never settle, got %+v", report.Records)
	}
}

func TestCompletedAtFallsBackToEpoch(t *testing.T) {
	t.Parallel()
	job := completedJob("j1")
	job.HasBudget = true
	job.BudgetToken = "NEAR"
	job.BudgetAmount = decimal.NewFromFloat(1)

	report := BuildSettlementReport([]types.MarketJob{job}, nil, "me", decimal.NewFromFloat(1))
	if !report.Records[0].CompletedAt.Equal(time.Unix(0, 0).UTC()) {
		t.Errorf("CompletedAt = %v, want epoch", report.Records[0].CompletedAt)
	}
}

func TestTotalsAccumulate(t *testing.T) {
	t.Parallel()
	j1 := completedJob("j1")
	j1.HasBudget, j1.BudgetToken, j1.BudgetAmount = true, "NEAR", decimal.NewFromFloat(2)
	j2 := completedJob("j2")
	j2.HasBudget, j2.BudgetToken, j2.BudgetAmount = true, "NEAR", decimal.NewFromFloat(3)

	report := BuildSettlementReport([]types.MarketJob{j1, j2}, nil, "me", decimal.NewFromFloat(10))
	if !report.TotalNear.Equal(decimal.NewFromFloat(5)) {
		t.Errorf("TotalNear = %s, want 5", report.TotalNear)
	}
	if !report.TotalUsd.Equal(decimal.NewFromFloat(50)) {
		t.Errorf("TotalUsd = %s, want 50", report.TotalUsd)
	}
}
