package orchestrator

import "strings"

// Store key families. Every key the orchestrator reads or writes goes
// through one of these builders so the prefix strings live in one place.
const (
	keyBidSubmittedPrefix  = "near_market_bid_submitted:"
	keySubmitAttemptPrefix = "near_market_submit_attempt:"
	keyWithdrawnBidPrefix  = "near_market_withdrawn_bid:"
	keySettlementCursor    = "near_market_settlement_cursor"
)

func bidSubmittedKey(jobID string) string {
	return keyBidSubmittedPrefix + jobID
}

func jobIDFromBidSubmittedKey(key string) (string, bool) {
	jobID, ok := strings.CutPrefix(key, keyBidSubmittedPrefix)
	return jobID, ok
}

func submitAttemptKey(jobID, bidID string) string {
	return keySubmitAttemptPrefix + jobID + ":" + bidID
}

func withdrawnBidKey(bidID string) string {
	return keyWithdrawnBidPrefix + bidID
}
