// Package simulate implements the simulator: a pure, input→output
// projection of one tick's decisions, with a canonical SHA-256 digest so
// identical input yields byte-identical output across processes and
// architectures. It calls the same decision packages (bidding, lifecycle)
// the live orchestrator does, so "what would the autopilot do" can be
// answered without touching the market, the store, or the clock.
package simulate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"nearautopilot/internal/bidding"
	"nearautopilot/internal/canon"
	"nearautopilot/internal/clock"
	"nearautopilot/internal/config"
	"nearautopilot/internal/lifecycle"
	"nearautopilot/pkg/types"
)

// submittableStatuses are the TrackedBid states the lifecycle engine will
// consider for a submission attempt, mirroring the orchestrator's step 5.
var submittableStatuses = map[types.BidStatus]bool{
	types.BidStatusAccepted:   true,
	types.BidStatusInProgress: true,
	types.BidStatusSubmitted:  true,
}

// Input is the full snapshot simulateTick projects a decision set from.
// PolicyOverride and SubmitStateByKey are both optional: a nil/empty
// PolicyOverride resolves to the built-in defaults, and an absent entry
// in SubmitStateByKey is treated as a fresh (never-attempted) bid.
type Input struct {
	NowISO           string
	Jobs             []types.MarketJob
	BidsByJobID      map[string][]types.MarketBid
	TrackedBids      []types.TrackedBid
	SubmitStateByKey map[string]types.SubmitAttemptState
	PolicyOverride   config.PolicyOverride
}

// Output is simulateTick's projection: the three decision sets an
// orchestrator tick would have produced, plus their canonical digest.
type Output struct {
	BidDecisions        []types.BidDecision
	WithdrawBidIDs      []string
	SubmitDecisions     []types.ExecutionDecision
	DeterministicDigest string
}

// SubmitStateKey builds the SubmitStateByKey map key for one (jobID,
// bidID) pair, matching the persisted store key's suffix shape.
func SubmitStateKey(jobID, bidID string) string {
	return jobID + ":" + bidID
}

// SimulateTick runs the bidding and lifecycle engines over a static
// snapshot and returns the decisions they would produce, with no I/O and
// no dependency on wall-clock time beyond input.NowISO.
//
// Stale-bid withdrawal planning is intentionally not projected here:
// withdrawal requires a marker observed on a prior tick, and this pure
// snapshot carries no cross-tick marker state (only SubmitStateByKey,
// which is a different piece of persisted state). WithdrawBidIDs is
// therefore always empty, the same conservative answer the live planner
// gives on a bid's first-ever observation.
func SimulateTick(input Input) (Output, error) {
	now, err := clock.Parse(input.NowISO)
	if err != nil {
		return Output{}, fmt.Errorf("simulate: parse nowIso: %w", err)
	}

	policy, err := config.Resolve(input.PolicyOverride)
	if err != nil {
		return Output{}, fmt.Errorf("simulate: resolve policy: %w", err)
	}

	bidDecisions := bidding.RankJobsForBidding(input.Jobs, input.BidsByJobID, policy)

	jobsByID := make(map[string]types.MarketJob, len(input.Jobs))
	for _, j := range input.Jobs {
		jobsByID[j.JobID] = j
	}

	submitDecisions := projectSubmitDecisions(input, jobsByID, now, policy)

	digest, err := digestOf(bidDecisions, nil, submitDecisions)
	if err != nil {
		return Output{}, err
	}

	return Output{
		BidDecisions:        bidDecisions,
		WithdrawBidIDs:      nil,
		SubmitDecisions:     submitDecisions,
		DeterministicDigest: digest,
	}, nil
}

func projectSubmitDecisions(input Input, jobsByID map[string]types.MarketJob, now time.Time, policy config.Policy) []types.ExecutionDecision {
	tracked := make([]types.TrackedBid, len(input.TrackedBids))
	copy(tracked, input.TrackedBids)
	sort.SliceStable(tracked, func(i, j int) bool {
		if tracked[i].JobID != tracked[j].JobID {
			return tracked[i].JobID < tracked[j].JobID
		}
		return tracked[i].BidID < tracked[j].BidID
	})

	var decisions []types.ExecutionDecision
	for _, bid := range tracked {
		if !submittableStatuses[bid.Status] {
			continue
		}

		key := SubmitStateKey(bid.JobID, bid.BidID)
		state := input.SubmitStateByKey[key]

		result := lifecycle.NextSubmissionAttempt(now, policy, state)
		decision := types.ExecutionDecision{JobID: bid.JobID, BidID: bid.BidID}

		if !result.ShouldAttempt {
			decision.Action = types.ExecutionActionSkip
			decision.Reason = result.Reason
			if result.NextState.HasNextAttemptAt {
				decision.HasNextAttemptAt = true
				decision.NextAttemptAt = result.NextState.NextAttemptAt
			}
			decisions = append(decisions, decision)
			continue
		}

		assignmentID, ok := assignmentFor(jobsByID[bid.JobID], bid.BidID)
		if !ok {
			decision.Action = types.ExecutionActionSkip
			decision.Reason = types.ReasonAssignmentMissing
			decisions = append(decisions, decision)
			continue
		}

		decision.Action = types.ExecutionActionSubmit
		decision.AssignmentID = assignmentID
		decisions = append(decisions, decision)
	}

	return decisions
}

func assignmentFor(job types.MarketJob, bidID string) (string, bool) {
	for _, a := range job.MyAssignments {
		if a.BidID == bidID {
			return a.AssignmentID, true
		}
	}
	return "", false
}

// digestOf renders the canonical encoding of {bidDecisions, sorted
// withdrawBidIds, submitDecisions} and returns its hex SHA-256 digest.
func digestOf(bidDecisions []types.BidDecision, withdrawBidIDs []string, submitDecisions []types.ExecutionDecision) (string, error) {
	sorted := append([]string(nil), withdrawBidIDs...)
	sort.Strings(sorted)

	payload := struct {
		BidDecisions    []types.BidDecision       `json:"bidDecisions"`
		WithdrawBidIDs  []string                  `json:"withdrawBidIds"`
		SubmitDecisions []types.ExecutionDecision `json:"submitDecisions"`
	}{
		BidDecisions:    bidDecisions,
		WithdrawBidIDs:  sorted,
		SubmitDecisions: submitDecisions,
	}

	encoded, err := canon.Encode(payload)
	if err != nil {
		return "", fmt.Errorf("simulate: canonical encode: %w", err)
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
