// Package market implements the marketplace client: a transport-level
// adapter over the remote job marketplace's JSON REST API. Transport
// faults and 5xx responses are retried with a linear backoffMs·attempt
// schedule; 4xx responses surface immediately.
package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"nearautopilot/internal/clock"
	"nearautopilot/internal/errs"
	"nearautopilot/pkg/types"
)

// Client is the marketplace HTTP API adapter.
type Client struct {
	http *resty.Client
}

// Config carries the transport-level settings the Market Client needs;
// internal/config.MarketConfig is translated into this at wiring time.
type Config struct {
	BaseURL        string
	APIKey         string
	AuthHeader     string
	TimeoutMs      int
	RetryAttempts  int
	RetryBackoffMs int
}

// New creates a marketplace client. authHeader defaults to
// "authorization" and the API key is prefixed with "Bearer " if it lacks
// one.
func New(cfg Config) *Client {
	authHeader := cfg.AuthHeader
	if authHeader == "" {
		authHeader = "authorization"
	}
	headerValue := cfg.APIKey
	if headerValue != "" && !hasBearerPrefix(headerValue) {
		headerValue = "Bearer " + headerValue
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoffMs := cfg.RetryBackoffMs
	if backoffMs <= 0 {
		backoffMs = 500
	}
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(timeoutMs) * time.Millisecond).
		SetRetryCount(attempts - 1).
		SetRetryAfter(func(c *resty.Client, r *resty.Response) (time.Duration, error) {
			attempt := r.Request.Attempt
			return time.Duration(backoffMs*attempt) * time.Millisecond, nil
		}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	if headerValue != "" {
		httpClient.SetHeader(authHeader, headerValue)
	}

	return &Client{http: httpClient}
}

func hasBearerPrefix(v string) bool {
	return len(v) >= 7 && v[:7] == "Bearer "
}

// ListJobsParams are the optional query filters for ListJobs.
type ListJobsParams struct {
	Status        string
	Sort          string
	Order         string
	WorkerAgentID string
	JobType       string
	Limit         int
	Offset        int
}

func (c *Client) do(ctx context.Context, op string, fn func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := fn()
	if err != nil {
		return nil, errs.New(errs.TransportFault, op, err)
	}
	if resp.StatusCode() >= 500 {
		// resty has already spent every retry on this 5xx.
		return nil, errs.New(errs.MarketClientError, op, fmt.Errorf("status %d after retries: %s", resp.StatusCode(), resp.String()))
	}
	if resp.StatusCode() >= 400 {
		return nil, errs.New(errs.MarketClientError, op, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()))
	}
	return resp, nil
}

// ListJobs lists jobs matching the given filters.
func (c *Client) ListJobs(ctx context.Context, p ListJobsParams) ([]types.MarketJob, error) {
	req := c.http.R().SetContext(ctx)
	if p.Status != "" {
		req.SetQueryParam("status", p.Status)
	}
	if p.Sort != "" {
		req.SetQueryParam("sort", p.Sort)
	}
	if p.Order != "" {
		req.SetQueryParam("order", p.Order)
	}
	if p.WorkerAgentID != "" {
		req.SetQueryParam("worker_agent_id", p.WorkerAgentID)
	}
	if p.JobType != "" {
		req.SetQueryParam("job_type", p.JobType)
	}
	if p.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		req.SetQueryParam("offset", strconv.Itoa(p.Offset))
	}

	var result wireJobListResponse
	req.SetResult(&result)
	if _, err := c.do(ctx, "market.ListJobs", func() (*resty.Response, error) {
		return req.Get("/v1/jobs")
	}); err != nil {
		return nil, err
	}

	jobs := make([]types.MarketJob, 0, len(result.Jobs))
	for _, wj := range result.Jobs {
		jobs = append(jobs, normalizeJob(wj))
	}
	return jobs, nil
}

// GetJob fetches a single job's detail, including its assignments.
func (c *Client) GetJob(ctx context.Context, jobID string) (types.MarketJob, error) {
	var wj wireJob
	if _, err := c.do(ctx, "market.GetJob", func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetResult(&wj).Get("/v1/jobs/" + jobID)
	}); err != nil {
		return types.MarketJob{}, err
	}
	return normalizeJob(wj), nil
}

// ListJobBidsParams are the optional pagination params for ListJobBids.
type ListJobBidsParams struct {
	Limit  int
	Offset int
}

// ListJobBids lists a job's public bids.
func (c *Client) ListJobBids(ctx context.Context, jobID string, p ListJobBidsParams) ([]types.MarketBid, error) {
	req := c.http.R().SetContext(ctx)
	if p.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		req.SetQueryParam("offset", strconv.Itoa(p.Offset))
	}

	var result wireBidListResponse
	req.SetResult(&result)
	if _, err := c.do(ctx, "market.ListJobBids", func() (*resty.Response, error) {
		return req.Get("/v1/jobs/" + jobID + "/bids")
	}); err != nil {
		return nil, err
	}

	bids := make([]types.MarketBid, 0, len(result.Bids))
	for _, wb := range result.Bids {
		bids = append(bids, normalizeBid(wb))
	}
	return bids, nil
}

// ListMyBidsParams are the optional filters for ListMyBids.
type ListMyBidsParams struct {
	Statuses []string
	Limit    int
	Offset   int
}

// ListMyBids lists the worker's own bids, filtering out rows with an
// empty jobId (malformed rows the marketplace should not return but the
// autopilot defends against).
func (c *Client) ListMyBids(ctx context.Context, p ListMyBidsParams) ([]types.TrackedBid, error) {
	req := c.http.R().SetContext(ctx)
	for _, s := range p.Statuses {
		req.SetQueryParam("status", s)
	}
	if p.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		req.SetQueryParam("offset", strconv.Itoa(p.Offset))
	}

	var result wireBidListResponse
	req.SetResult(&result)
	if _, err := c.do(ctx, "market.ListMyBids", func() (*resty.Response, error) {
		return req.Get("/v1/agents/me/bids")
	}); err != nil {
		return nil, err
	}

	tracked := make([]types.TrackedBid, 0, len(result.Bids))
	for _, wb := range result.Bids {
		if wb.JobID == "" {
			continue
		}
		tb := types.TrackedBid{
			BidID:  wb.BidID,
			JobID:  wb.JobID,
			Status: normalizeBidStatus(wb.Status),
		}
		if wb.Amount != nil {
			if amt, err := decimal.NewFromString(*wb.Amount); err == nil {
				tb.HasAmount = true
				tb.AmountNear = amt
			}
		}
		tracked = append(tracked, tb)
	}
	return tracked, nil
}

// PlaceBidParams are the request fields for PlaceBid.
type PlaceBidParams struct {
	AmountNear decimal.Decimal
	EtaSeconds int
	Proposal   string
}

// PlaceBid places a bid on a standard job.
func (c *Client) PlaceBid(ctx context.Context, jobID string, p PlaceBidParams) (types.MarketBid, error) {
	body := wirePlaceBidRequest{
		Amount:     p.AmountNear.StringFixed(4),
		EtaSeconds: p.EtaSeconds,
		Proposal:   p.Proposal,
	}
	var wb wireBid
	if _, err := c.do(ctx, "market.PlaceBid", func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetBody(body).SetResult(&wb).Post("/v1/jobs/" + jobID + "/bids")
	}); err != nil {
		return types.MarketBid{}, err
	}
	return normalizeBid(wb), nil
}

// SubmitParams are the request fields for SubmitEntry and SubmitWork.
type SubmitParams struct {
	Deliverable     string
	DeliverableHash string
}

// SubmitEntry submits a competition entry.
func (c *Client) SubmitEntry(ctx context.Context, jobID string, p SubmitParams) error {
	body := wireSubmitRequest{Deliverable: p.Deliverable, DeliverableHash: p.DeliverableHash}
	_, err := c.do(ctx, "market.SubmitEntry", func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetBody(body).Post("/v1/jobs/" + jobID + "/entries")
	})
	return err
}

// SubmitWork submits deliverables for a standard job.
func (c *Client) SubmitWork(ctx context.Context, jobID string, p SubmitParams) error {
	body := wireSubmitRequest{Deliverable: p.Deliverable, DeliverableHash: p.DeliverableHash}
	_, err := c.do(ctx, "market.SubmitWork", func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetBody(body).Post("/v1/jobs/" + jobID + "/submit")
	})
	return err
}

// RequestChanges asks the reviewer for changes on a submitted job.
func (c *Client) RequestChanges(ctx context.Context, jobID, message string) error {
	body := wireRequestChangesRequest{Message: message}
	_, err := c.do(ctx, "market.RequestChanges", func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetBody(body).Post("/v1/jobs/" + jobID + "/request-changes")
	})
	return err
}

// WithdrawBid withdraws a pending bid.
func (c *Client) WithdrawBid(ctx context.Context, bidID string) error {
	_, err := c.do(ctx, "market.WithdrawBid", func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).Post("/v1/bids/" + bidID + "/withdraw")
	})
	return err
}

// ListCompletedJobsForWorker paginates through every completed job
// assigned to workerAgentID up to limit.
func (c *Client) ListCompletedJobsForWorker(ctx context.Context, workerAgentID string, limit int) ([]types.MarketJob, error) {
	const pageSize = 100
	var all []types.MarketJob
	offset := 0
	for {
		remaining := limit - len(all)
		if limit > 0 && remaining <= 0 {
			break
		}
		pageLimit := pageSize
		if limit > 0 && remaining < pageSize {
			pageLimit = remaining
		}

		page, err := c.ListJobs(ctx, ListJobsParams{
			Status:        "completed",
			WorkerAgentID: workerAgentID,
			Limit:         pageLimit,
			Offset:        offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageLimit {
			break
		}
		offset += len(page)
	}
	return all, nil
}

func normalizeJob(wj wireJob) types.MarketJob {
	job := types.MarketJob{
		JobID:   wj.JobID,
		Title:   wj.Title,
		Status:  normalizeJobStatus(wj.Status),
		JobType: normalizeJobType(wj.JobType),
	}
	if wj.BudgetAmount != nil {
		if amt, err := decimal.NewFromString(*wj.BudgetAmount); err == nil {
			job.HasBudget = true
			job.BudgetAmount = amt
		}
	}
	if wj.BudgetToken != nil {
		job.BudgetToken = *wj.BudgetToken
	}
	if wj.AwardedBidID != nil {
		job.AwardedBidID = *wj.AwardedBidID
	}
	if wj.UpdatedAt != nil {
		if t, err := parseTimestamp(*wj.UpdatedAt); err == nil {
			job.HasUpdatedAt = true
			job.UpdatedAt = t
		}
	}
	for _, a := range wj.MyAssignments {
		job.MyAssignments = append(job.MyAssignments, types.Assignment{
			AssignmentID: a.AssignmentID,
			BidID:        a.BidID,
		})
	}
	return job
}

func normalizeBid(wb wireBid) types.MarketBid {
	bid := types.MarketBid{
		BidID:         wb.BidID,
		JobID:         wb.JobID,
		Status:        normalizeBidStatus(wb.Status),
		BidderAgentID: wb.BidderAgentID,
	}
	if wb.Amount != nil {
		if amt, err := decimal.NewFromString(*wb.Amount); err == nil {
			bid.HasAmount = true
			bid.Amount = amt
		}
	}
	return bid
}

func normalizeJobStatus(s string) types.JobStatus {
	switch types.JobStatus(s) {
	case types.JobStatusOpen, types.JobStatusFilling, types.JobStatusInProgress,
		types.JobStatusSubmitted, types.JobStatusJudging, types.JobStatusCompleted,
		types.JobStatusClosed, types.JobStatusExpired:
		return types.JobStatus(s)
	default:
		return types.JobStatusUnknown
	}
}

func normalizeJobType(s string) types.JobType {
	if types.JobType(s) == types.JobTypeCompetition {
		return types.JobTypeCompetition
	}
	return types.JobTypeStandard
}

func normalizeBidStatus(s string) types.BidStatus {
	switch types.BidStatus(s) {
	case types.BidStatusPending, types.BidStatusAccepted, types.BidStatusSubmitted,
		types.BidStatusInProgress, types.BidStatusWithdrawn, types.BidStatusRejected,
		types.BidStatusCompleted:
		return types.BidStatus(s)
	default:
		return types.BidStatusUnknown
	}
}

func parseTimestamp(s string) (time.Time, error) {
	return clock.Parse(s)
}
