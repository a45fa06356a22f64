// Package types defines the shared data structures used across all
// autopilot packages — job/bid records as returned by the marketplace,
// the normalized shapes the autopilot reasons over, and the decision and
// result records produced by each tick. It has no dependency on any
// internal package, so it can be imported by every layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Enumerations
// ————————————————————————————————————————————————————————————————————————

// JobStatus is the marketplace's lifecycle state for a job. Unrecognized
// values normalize to JobStatusUnknown rather than propagating raw strings.
type JobStatus string

const (
	JobStatusOpen       JobStatus = "open"
	JobStatusFilling    JobStatus = "filling"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusSubmitted  JobStatus = "submitted"
	JobStatusJudging    JobStatus = "judging"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusClosed     JobStatus = "closed"
	JobStatusExpired    JobStatus = "expired"
	JobStatusUnknown    JobStatus = "unknown"
)

// JobType distinguishes standard bid-for-work jobs from competition jobs,
// which take entries instead of bids.
type JobType string

const (
	JobTypeStandard    JobType = "standard"
	JobTypeCompetition JobType = "competition"
)

// BidStatus is the normalized lifecycle state of a TrackedBid.
type BidStatus string

const (
	BidStatusPending    BidStatus = "pending"
	BidStatusAccepted   BidStatus = "accepted"
	BidStatusSubmitted  BidStatus = "submitted"
	BidStatusInProgress BidStatus = "in_progress"
	BidStatusWithdrawn  BidStatus = "withdrawn"
	BidStatusRejected   BidStatus = "rejected"
	BidStatusCompleted  BidStatus = "completed"
	BidStatusUnknown    BidStatus = "unknown"
)

// BidAction is the outcome of a bidding decision.
type BidAction string

const (
	BidActionSkip  BidAction = "skip"
	BidActionBid   BidAction = "bid"
	BidActionEntry BidAction = "entry"
)

// ExecutionAction is the outcome of a submission decision.
type ExecutionAction string

const (
	ExecutionActionSkip   ExecutionAction = "skip"
	ExecutionActionSubmit ExecutionAction = "submit"
)

// Skip reasons, in guardrail precedence order. Exported as constants so
// the bidding engine and its tests share one vocabulary.
const (
	ReasonBudgetUnknownOrNonNear = "budget_unknown_or_non_near"
	ReasonBudgetOutsidePolicy    = "budget_outside_policy"
	ReasonMarketTooCompetitive   = "market_too_competitive"
	ReasonInvalidBidAfterBounds  = "invalid_bid_after_bounds"
	ReasonBelowMarginFloor       = "below_margin_floor"
)

// Submission decision reasons.
const (
	ReasonAlreadySubmitted  = "already_submitted"
	ReasonRetryLimitReached = "retry_limit_reached"
	ReasonBackoffPending    = "backoff_pending"
	ReasonAssignmentMissing = "assignment_missing"
)

const near = "NEAR"

// ————————————————————————————————————————————————————————————————————————
// Marketplace records (as returned by the Market Client, heterogeneous and
// partial by nature — every optional field is an explicit bool/zero-value
// pair, never an open-ended map)
// ————————————————————————————————————————————————————————————————————————

// Assignment is the marketplace's record that a bid has been accepted and
// work is expected, as embedded in a job's my_assignments list.
type Assignment struct {
	AssignmentID string `json:"assignmentId"`
	BidID        string `json:"bidId"`
}

// MarketJob is the normalized projection of a job returned by the
// marketplace. Optional fields are explicit zero values guarded by a Has*
// flag; Status/JobType fall back to their Unknown/Standard defaults rather
// than leaving a raw string.
type MarketJob struct {
	JobID         string
	Title         string
	Status        JobStatus
	JobType       JobType
	HasBudget     bool
	BudgetAmount  decimal.Decimal
	BudgetToken   string
	AwardedBidID  string
	HasUpdatedAt  bool
	UpdatedAt     time.Time
	MyAssignments []Assignment
}

// IsBudgetNear reports whether the job carries a positive NEAR-denominated
// budget, the precondition every bidding-engine and settlement rule checks.
func (j MarketJob) IsBudgetNear() bool {
	return j.HasBudget && j.BudgetToken == near && j.BudgetAmount.IsPositive()
}

// MarketBid is the normalized projection of a bid as returned embedded in a
// job's bid list (listJobBids) — a narrower shape than TrackedBid because
// these rows are about other bidders too.
type MarketBid struct {
	BidID         string
	JobID         string
	Status        BidStatus
	BidderAgentID string
	HasAmount     bool
	Amount        decimal.Decimal
}

// TrackedBid is the normalized projection of one of the autopilot's own
// bids, as returned by listMyBids.
type TrackedBid struct {
	BidID      string
	JobID      string
	Status     BidStatus
	HasAmount  bool
	AmountNear decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Decisions
// ————————————————————————————————————————————————————————————————————————

// BidDecision is the bidding engine's verdict for one job.
type BidDecision struct {
	JobID         string
	Action        BidAction
	Reason        string
	HasBidAmount  bool
	BidAmountNear decimal.Decimal
	Confidence    float64
}

// ExecutionDecision is the lifecycle engine's verdict for one submittable
// bid: whether to attempt submission this tick, and if not, why and when
// next to try.
type ExecutionDecision struct {
	JobID            string
	BidID            string
	AssignmentID     string
	Action           ExecutionAction
	Reason           string
	HasNextAttemptAt bool
	NextAttemptAt    time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Retry state machine
// ————————————————————————————————————————————————————————————————————————

// SubmitAttemptState is the persisted retry state for one (jobId, bidId)
// submission. Invariants: SubmittedAt set implies terminal; Attempts never
// exceeds the policy's retry limit; Escalations never exceeds its cap.
type SubmitAttemptState struct {
	Attempts         int
	FirstSeenAt      time.Time
	HasNextAttemptAt bool
	NextAttemptAt    time.Time
	Escalations      int
	HasSubmittedAt   bool
	SubmittedAt      time.Time
}

// Terminal reports whether this state can never attempt submission again.
func (s SubmitAttemptState) Terminal() bool {
	return s.HasSubmittedAt
}

// ————————————————————————————————————————————————————————————————————————
// Settlement
// ————————————————————————————————————————————————————————————————————————

// SettlementRecord is one resolved payout for a completed job.
type SettlementRecord struct {
	SettlementID string
	JobID        string
	JobTitle     string
	HasBidID     bool
	BidID        string
	AmountNear   decimal.Decimal
	AmountUsd    decimal.Decimal
	CompletedAt  time.Time
}

// SettlementReport is the output of one reconciliation sweep.
type SettlementReport struct {
	Records     []SettlementRecord
	TotalNear   decimal.Decimal
	TotalUsd    decimal.Decimal
	ScannedJobs int
}

// ————————————————————————————————————————————————————————————————————————
// Deliverable manifests
// ————————————————————————————————————————————————————————————————————————

// DeliverableManifest describes one delivered artifact before signing.
// Metadata is a caller-supplied, JSON-serializable bag of extra fields
// (e.g. revision notes); it participates in the canonical encoding like
// every other field.
type DeliverableManifest struct {
	JobID          string                 `json:"jobId"`
	AssignmentID   string                 `json:"assignmentId"`
	BidID          string                 `json:"bidId"`
	AgentID        string                 `json:"agentId"`
	DeliverableURL string                 `json:"deliverableUrl"`
	ArtifactHash   string                 `json:"artifactHash"`
	CreatedAt      string                 `json:"createdAt"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ManifestSignature carries the algorithm tag and hex-encoded HMAC.
type ManifestSignature struct {
	Algorithm    string `json:"algorithm"`
	SignerID     string `json:"signerId"`
	SignatureHex string `json:"signatureHex"`
}

// SignedManifest is a DeliverableManifest plus its content hash and
// signature, ready to submit alongside a bid.
type SignedManifest struct {
	Manifest     DeliverableManifest `json:"manifest"`
	ManifestHash string              `json:"manifestHash"`
	Signature    ManifestSignature   `json:"signature"`
}

// ————————————————————————————————————————————————————————————————————————
// Tick results
// ————————————————————————————————————————————————————————————————————————

// TickError records one error surfaced during a tick: either a per-item
// error that the tick continues past (e.g. one job's bid fetch failing
// inside a fan-out) or the discovery error that halted the tick.
type TickError struct {
	Stage   string
	JobID   string
	Message string
}

// TickResult is the single user-visible output of one orchestrator tick.
type TickResult struct {
	TickID             string
	StartedAt          time.Time
	CompletedAt        time.Time
	BidDecisions       []BidDecision
	ExecutionDecisions []ExecutionDecision
	Settlements        []SettlementRecord
	Errors             []TickError
	Halted             bool
}
