package simulate

import (
	"testing"

	"github.com/shopspring/decimal"

	"nearautopilot/pkg/types"
)

func TestDecodeInputSetsOptionalFlags(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"nowIso": "2026-02-28T00:00:00.000Z",
		"jobs": [
			{"jobId": "j1", "status": "open", "jobType": "standard",
			 "budgetAmount": "1.5", "budgetToken": "NEAR",
			 "myAssignments": [{"assignmentId": "a1", "bidId": "b1"}]},
			{"jobId": "j2", "status": "open", "budgetAmount": 2}
		],
		"bidsByJobId": {"j1": [{"bidId": "b1", "amount": "0.2"}]},
		"trackedBids": [{"bidId": "b1", "jobId": "j1", "status": "pending"}],
		"submitStateByKey": {
			"j1:b1": {"attempts": 2, "firstSeenAt": "2026-02-27T00:00:00.000Z",
			          "submittedAt": "2026-02-27T12:00:00.000Z"}
		}
	}`)

	input, err := DecodeInput(raw)
	if err != nil {
		t.Fatalf("DecodeInput: %v", err)
	}

	if len(input.Jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(input.Jobs))
	}
	j1 := input.Jobs[0]
	if !j1.HasBudget || !j1.BudgetAmount.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("j1 budget = has=%v amount=%s, want 1.5 from a string", j1.HasBudget, j1.BudgetAmount)
	}
	if len(j1.MyAssignments) != 1 || j1.MyAssignments[0].AssignmentID != "a1" {
		t.Errorf("j1 assignments = %+v", j1.MyAssignments)
	}
	j2 := input.Jobs[1]
	if !j2.HasBudget || !j2.BudgetAmount.Equal(decimal.NewFromInt(2)) {
		t.Errorf("j2 budget = has=%v amount=%s, want 2 from a number", j2.HasBudget, j2.BudgetAmount)
	}

	bids := input.BidsByJobID["j1"]
	if len(bids) != 1 || !bids[0].HasAmount || !bids[0].Amount.Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("j1 bids = %+v", bids)
	}

	if len(input.TrackedBids) != 1 || input.TrackedBids[0].Status != types.BidStatusPending {
		t.Errorf("trackedBids = %+v", input.TrackedBids)
	}
	if input.TrackedBids[0].HasAmount {
		t.Error("trackedBid with no amountNear should not set HasAmount")
	}

	state, ok := input.SubmitStateByKey["j1:b1"]
	if !ok {
		t.Fatal("expected submit state for j1:b1")
	}
	if state.Attempts != 2 || !state.HasSubmittedAt {
		t.Errorf("submit state = %+v, want attempts=2 with submittedAt set", state)
	}
	if state.HasNextAttemptAt {
		t.Error("absent nextAttemptAt should not set HasNextAttemptAt")
	}
}

func TestDecodeInputRejectsBadTimestamps(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"nowIso": "2026-02-28T00:00:00.000Z",
		"submitStateByKey": {"j1:b1": {"attempts": 1, "firstSeenAt": "yesterday"}}
	}`)
	if _, err := DecodeInput(raw); err == nil {
		t.Error("expected an error for an unparseable firstSeenAt")
	}
}
