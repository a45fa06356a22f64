// Package lifecycle implements the bid/submission lifecycle engine: the
// stale-bid withdrawal planner and the submission retry/backoff/escalation
// state machine. Both are pure functions over persisted state plus the
// current instant, no I/O, so transitions can be tested in isolation.
package lifecycle

import (
	"time"

	"nearautopilot/internal/config"
	"nearautopilot/pkg/types"
)

// StaleWithdrawalPlan is the result of PlanStaleBidWithdrawals: bids to
// withdraw this tick, and marker updates to persist (first-seen
// bookkeeping for bids observed pending for the first time).
type StaleWithdrawalPlan struct {
	ToWithdraw    []types.TrackedBid
	MarkerUpdates map[string]time.Time
}

// PlanStaleBidWithdrawals implements the two-step stale-bid pattern: a bid
// is only withdrawn after being observed pending across a prior tick — the
// marker from markerByJobID — never on the same tick its marker is first
// created.
func PlanStaleBidWithdrawals(trackedBids []types.TrackedBid, now time.Time, markerByJobID map[string]time.Time, policy config.Policy) StaleWithdrawalPlan {
	plan := StaleWithdrawalPlan{MarkerUpdates: map[string]time.Time{}}
	staleThreshold := time.Duration(policy.StalePendingBidMinutes * float64(time.Minute))

	for _, bid := range trackedBids {
		if bid.Status != types.BidStatusPending {
			continue
		}

		marker, ok := markerByJobID[bid.JobID]
		if !ok || marker.IsZero() {
			plan.MarkerUpdates[bid.JobID] = now
			continue
		}

		if !marker.After(now.Add(-staleThreshold)) {
			plan.ToWithdraw = append(plan.ToWithdraw, bid)
		}
	}

	return plan
}

// SubmissionAttemptResult is the verdict from NextSubmissionAttempt.
type SubmissionAttemptResult struct {
	ShouldAttempt bool
	NextState     types.SubmitAttemptState
	Reason        string
}

// NextSubmissionAttempt evaluates the retry preconditions in order
// (terminal, limit, backoff) against the persisted state for one
// (jobId, bidId). A zero-value state means no prior attempt was recorded.
func NextSubmissionAttempt(now time.Time, policy config.Policy, state types.SubmitAttemptState) SubmissionAttemptResult {
	if state.Terminal() {
		return SubmissionAttemptResult{ShouldAttempt: false, NextState: state, Reason: types.ReasonAlreadySubmitted}
	}
	if state.Attempts >= policy.SubmitRetryLimit {
		return SubmissionAttemptResult{ShouldAttempt: false, NextState: state, Reason: types.ReasonRetryLimitReached}
	}
	if state.HasNextAttemptAt && state.NextAttemptAt.After(now) {
		return SubmissionAttemptResult{ShouldAttempt: false, NextState: state, Reason: types.ReasonBackoffPending}
	}

	next := state
	if next.FirstSeenAt.IsZero() {
		next.FirstSeenAt = now
	}
	next.Attempts++
	return SubmissionAttemptResult{ShouldAttempt: true, NextState: next}
}

// ApplySubmissionFailure advances retry state after a failed submission
// attempt: backoff grows linearly with attempts, capped at
// submitRetryMaxBackoffMinutes, and escalations bump once the bid has been
// outstanding for submitEscalateAfterMinutes, capped at
// submitEscalationLimit.
func ApplySubmissionFailure(state types.SubmitAttemptState, now time.Time, policy config.Policy) types.SubmitAttemptState {
	next := state

	attempts := next.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoffMinutes := policy.SubmitRetryBackoffMinutes * float64(attempts)
	if backoffMinutes > policy.SubmitRetryMaxBackoffMinutes {
		backoffMinutes = policy.SubmitRetryMaxBackoffMinutes
	}
	next.HasNextAttemptAt = true
	next.NextAttemptAt = now.Add(time.Duration(backoffMinutes * float64(time.Minute)))

	if !next.FirstSeenAt.IsZero() {
		escalateAfter := time.Duration(policy.SubmitEscalateAfterMinutes * float64(time.Minute))
		if now.Sub(next.FirstSeenAt) >= escalateAfter && next.Escalations < policy.SubmitEscalationLimit {
			next.Escalations++
		}
	}

	return next
}

// MarkSubmissionSucceeded marks state terminal: submittedAt is set and any
// pending backoff is cleared.
func MarkSubmissionSucceeded(state types.SubmitAttemptState, now time.Time) types.SubmitAttemptState {
	next := state
	next.HasSubmittedAt = true
	next.SubmittedAt = now
	next.HasNextAttemptAt = false
	next.NextAttemptAt = time.Time{}
	return next
}
