package market

// Wire-format request/response shapes for the marketplace HTTP API.
// These mirror the API's own snake_case JSON field names; Client translates
// them to/from the normalized pkg/types records so the rest of the
// autopilot never touches raw wire shapes.

type wireAssignment struct {
	AssignmentID string `json:"assignment_id"`
	BidID        string `json:"bid_id"`
}

type wireJob struct {
	JobID         string           `json:"job_id"`
	Title         string           `json:"title"`
	Status        string           `json:"status"`
	JobType       string           `json:"job_type"`
	BudgetAmount  *string          `json:"budget_amount"`
	BudgetToken   *string          `json:"budget_token"`
	AwardedBidID  *string          `json:"awarded_bid_id"`
	UpdatedAt     *string          `json:"updated_at"`
	MyAssignments []wireAssignment `json:"my_assignments"`
}

type wireJobListResponse struct {
	Jobs []wireJob `json:"jobs"`
}

type wireBid struct {
	BidID         string  `json:"bid_id"`
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	BidderAgentID string  `json:"bidder_agent_id"`
	Amount        *string `json:"amount"`
}

type wireBidListResponse struct {
	Bids []wireBid `json:"bids"`
}

type wirePlaceBidRequest struct {
	Amount     string `json:"amount"`
	EtaSeconds int    `json:"eta_seconds"`
	Proposal   string `json:"proposal"`
}

type wireSubmitRequest struct {
	Deliverable     string `json:"deliverable"`
	DeliverableHash string `json:"deliverable_hash"`
}

type wireRequestChangesRequest struct {
	Message string `json:"message"`
}
