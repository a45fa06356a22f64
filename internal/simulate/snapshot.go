package simulate

// JSON snapshot shapes for the simulate CLI. These mirror the snapshot
// file's camelCase field names; DecodeInput translates them into the
// normalized pkg/types records, setting the Has* flags that a direct
// unmarshal could not infer from absent fields.

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"nearautopilot/internal/clock"
	"nearautopilot/internal/config"
	"nearautopilot/pkg/types"
)

// flexibleNumber accepts the snapshot's "decimal string or number" form for
// amounts, holding the raw text either way.
type flexibleNumber string

func (n *flexibleNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = flexibleNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = flexibleNumber(num.String())
	return nil
}

type snapshotAssignment struct {
	AssignmentID string `json:"assignmentId"`
	BidID        string `json:"bidId"`
}

type snapshotJob struct {
	JobID         string               `json:"jobId"`
	Title         string               `json:"title"`
	Status        string               `json:"status"`
	JobType       string               `json:"jobType"`
	BudgetAmount  *flexibleNumber      `json:"budgetAmount"`
	BudgetToken   *string              `json:"budgetToken"`
	AwardedBidID  *string              `json:"awardedBidId"`
	UpdatedAt     *string              `json:"updatedAt"`
	MyAssignments []snapshotAssignment `json:"myAssignments"`
}

type snapshotBid struct {
	BidID         string          `json:"bidId"`
	JobID         string          `json:"jobId"`
	Status        string          `json:"status"`
	BidderAgentID string          `json:"bidderAgentId"`
	Amount        *flexibleNumber `json:"amount"`
}

type snapshotTrackedBid struct {
	BidID      string          `json:"bidId"`
	JobID      string          `json:"jobId"`
	Status     string          `json:"status"`
	AmountNear *flexibleNumber `json:"amountNear"`
}

type snapshotSubmitState struct {
	Attempts      int     `json:"attempts"`
	FirstSeenAt   string  `json:"firstSeenAt"`
	NextAttemptAt *string `json:"nextAttemptAt"`
	Escalations   int     `json:"escalations"`
	SubmittedAt   *string `json:"submittedAt"`
}

type snapshotInput struct {
	NowISO           string                         `json:"nowIso"`
	Jobs             []snapshotJob                  `json:"jobs"`
	BidsByJobID      map[string][]snapshotBid       `json:"bidsByJobId"`
	TrackedBids      []snapshotTrackedBid           `json:"trackedBids"`
	SubmitStateByKey map[string]snapshotSubmitState `json:"submitStateByKey"`
	Policy           config.PolicyOverride          `json:"policy"`
}

// DecodeInput parses a JSON simulation snapshot into an Input.
func DecodeInput(raw []byte) (Input, error) {
	var snap snapshotInput
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Input{}, fmt.Errorf("simulate: decode snapshot: %w", err)
	}

	input := Input{
		NowISO:         snap.NowISO,
		PolicyOverride: snap.Policy,
	}

	for _, sj := range snap.Jobs {
		input.Jobs = append(input.Jobs, decodeJob(sj))
	}

	if len(snap.BidsByJobID) > 0 {
		input.BidsByJobID = make(map[string][]types.MarketBid, len(snap.BidsByJobID))
		for jobID, sbids := range snap.BidsByJobID {
			bids := make([]types.MarketBid, 0, len(sbids))
			for _, sb := range sbids {
				bids = append(bids, decodeBid(sb))
			}
			input.BidsByJobID[jobID] = bids
		}
	}

	for _, stb := range snap.TrackedBids {
		tb := types.TrackedBid{
			BidID:  stb.BidID,
			JobID:  stb.JobID,
			Status: decodeBidStatus(stb.Status),
		}
		if amt, ok := decodeAmount(stb.AmountNear); ok {
			tb.HasAmount = true
			tb.AmountNear = amt
		}
		input.TrackedBids = append(input.TrackedBids, tb)
	}

	if len(snap.SubmitStateByKey) > 0 {
		input.SubmitStateByKey = make(map[string]types.SubmitAttemptState, len(snap.SubmitStateByKey))
		for key, ss := range snap.SubmitStateByKey {
			state, err := decodeSubmitState(ss)
			if err != nil {
				return Input{}, fmt.Errorf("simulate: submitStateByKey[%s]: %w", key, err)
			}
			input.SubmitStateByKey[key] = state
		}
	}

	return input, nil
}

func decodeJob(sj snapshotJob) types.MarketJob {
	job := types.MarketJob{
		JobID:   sj.JobID,
		Title:   sj.Title,
		Status:  decodeJobStatus(sj.Status),
		JobType: decodeJobType(sj.JobType),
	}
	if amt, ok := decodeAmount(sj.BudgetAmount); ok {
		job.HasBudget = true
		job.BudgetAmount = amt
	}
	if sj.BudgetToken != nil {
		job.BudgetToken = *sj.BudgetToken
	}
	if sj.AwardedBidID != nil {
		job.AwardedBidID = *sj.AwardedBidID
	}
	if sj.UpdatedAt != nil {
		if t, err := clock.Parse(*sj.UpdatedAt); err == nil {
			job.HasUpdatedAt = true
			job.UpdatedAt = t
		}
	}
	for _, a := range sj.MyAssignments {
		job.MyAssignments = append(job.MyAssignments, types.Assignment{
			AssignmentID: a.AssignmentID,
			BidID:        a.BidID,
		})
	}
	return job
}

func decodeBid(sb snapshotBid) types.MarketBid {
	bid := types.MarketBid{
		BidID:         sb.BidID,
		JobID:         sb.JobID,
		Status:        decodeBidStatus(sb.Status),
		BidderAgentID: sb.BidderAgentID,
	}
	if amt, ok := decodeAmount(sb.Amount); ok {
		bid.HasAmount = true
		bid.Amount = amt
	}
	return bid
}

func decodeSubmitState(ss snapshotSubmitState) (types.SubmitAttemptState, error) {
	state := types.SubmitAttemptState{
		Attempts:    ss.Attempts,
		Escalations: ss.Escalations,
	}
	if ss.FirstSeenAt != "" {
		t, err := clock.Parse(ss.FirstSeenAt)
		if err != nil {
			return types.SubmitAttemptState{}, fmt.Errorf("firstSeenAt: %w", err)
		}
		state.FirstSeenAt = t
	}
	if ss.NextAttemptAt != nil {
		t, err := clock.Parse(*ss.NextAttemptAt)
		if err != nil {
			return types.SubmitAttemptState{}, fmt.Errorf("nextAttemptAt: %w", err)
		}
		state.HasNextAttemptAt = true
		state.NextAttemptAt = t
	}
	if ss.SubmittedAt != nil {
		t, err := clock.Parse(*ss.SubmittedAt)
		if err != nil {
			return types.SubmitAttemptState{}, fmt.Errorf("submittedAt: %w", err)
		}
		state.HasSubmittedAt = true
		state.SubmittedAt = t
	}
	return state, nil
}

// decodeAmount accepts the snapshot's "decimal string or number" form.
func decodeAmount(n *flexibleNumber) (decimal.Decimal, bool) {
	if n == nil || *n == "" {
		return decimal.Decimal{}, false
	}
	amt, err := decimal.NewFromString(string(*n))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return amt, true
}

func decodeJobStatus(s string) types.JobStatus {
	switch types.JobStatus(s) {
	case types.JobStatusOpen, types.JobStatusFilling, types.JobStatusInProgress,
		types.JobStatusSubmitted, types.JobStatusJudging, types.JobStatusCompleted,
		types.JobStatusClosed, types.JobStatusExpired:
		return types.JobStatus(s)
	default:
		return types.JobStatusUnknown
	}
}

func decodeJobType(s string) types.JobType {
	if types.JobType(s) == types.JobTypeCompetition {
		return types.JobTypeCompetition
	}
	return types.JobTypeStandard
}

func decodeBidStatus(s string) types.BidStatus {
	switch types.BidStatus(s) {
	case types.BidStatusPending, types.BidStatusAccepted, types.BidStatusSubmitted,
		types.BidStatusInProgress, types.BidStatusWithdrawn, types.BidStatusRejected,
		types.BidStatusCompleted:
		return types.BidStatus(s)
	default:
		return types.BidStatusUnknown
	}
}
