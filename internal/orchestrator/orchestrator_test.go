package orchestrator

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"nearautopilot/internal/clock"
	"nearautopilot/internal/config"
	"nearautopilot/internal/errs"
	"nearautopilot/internal/market"
	"nearautopilot/pkg/types"
)

// fakeStore is a minimal in-memory store.Store for orchestrator tests.
type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string]string{}} }

func (s *fakeStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *fakeStore) Del(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *fakeStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *fakeStore) Close() error { return nil }

// fakeMarket is a scriptable MarketClient fake. Each field is a function the
// test wires up to whatever behavior the scenario needs; a nil field means
// "this method should not be called" and fails the test if it is.
type fakeMarket struct {
	t *testing.T

	listJobsFn               func(market.ListJobsParams) ([]types.MarketJob, error)
	getJobFn                 func(string) (types.MarketJob, error)
	listJobBidsFn            func(string) ([]types.MarketBid, error)
	listMyBidsFn             func() ([]types.TrackedBid, error)
	placeBidFn               func(string, market.PlaceBidParams) (types.MarketBid, error)
	submitEntryCalls         int
	submitWorkCalls          int
	submitFn                 func(string, market.SubmitParams) error
	withdrawBidFn            func(string) error
	listCompletedFn          func(string, int) ([]types.MarketJob, error)
}

func (f *fakeMarket) ListJobs(_ context.Context, p market.ListJobsParams) ([]types.MarketJob, error) {
	if f.listJobsFn == nil {
		f.t.Fatal("unexpected ListJobs call")
	}
	return f.listJobsFn(p)
}

func (f *fakeMarket) GetJob(_ context.Context, jobID string) (types.MarketJob, error) {
	if f.getJobFn == nil {
		f.t.Fatal("unexpected GetJob call")
	}
	return f.getJobFn(jobID)
}

func (f *fakeMarket) ListJobBids(_ context.Context, jobID string, _ market.ListJobBidsParams) ([]types.MarketBid, error) {
	if f.listJobBidsFn == nil {
		return nil, nil
	}
	return f.listJobBidsFn(jobID)
}

func (f *fakeMarket) ListMyBids(_ context.Context, _ market.ListMyBidsParams) ([]types.TrackedBid, error) {
	if f.listMyBidsFn == nil {
		return nil, nil
	}
	return f.listMyBidsFn()
}

func (f *fakeMarket) PlaceBid(_ context.Context, jobID string, p market.PlaceBidParams) (types.MarketBid, error) {
	if f.placeBidFn == nil {
		f.t.Fatal("unexpected PlaceBid call")
	}
	return f.placeBidFn(jobID, p)
}

func (f *fakeMarket) SubmitEntry(_ context.Context, jobID string, p market.SubmitParams) error {
	f.submitEntryCalls++
	if f.submitFn == nil {
		return nil
	}
	return f.submitFn(jobID, p)
}

func (f *fakeMarket) SubmitWork(_ context.Context, jobID string, p market.SubmitParams) error {
	f.submitWorkCalls++
	if f.submitFn == nil {
		return nil
	}
	return f.submitFn(jobID, p)
}

func (f *fakeMarket) WithdrawBid(_ context.Context, bidID string) error {
	if f.withdrawBidFn == nil {
		f.t.Fatal("unexpected WithdrawBid call")
	}
	return f.withdrawBidFn(bidID)
}

func (f *fakeMarket) ListCompletedJobsForWorker(_ context.Context, workerAgentID string, limit int) ([]types.MarketJob, error) {
	if f.listCompletedFn == nil {
		return nil, nil
	}
	return f.listCompletedFn(workerAgentID, limit)
}

func newOrchestrator(t *testing.T, m *fakeMarket, st *fakeStore, now string) *Orchestrator {
	t.Helper()
	policy, err := config.Resolve(config.PolicyOverride{})
	if err != nil {
		t.Fatalf("config.Resolve: %v", err)
	}
	at, err := clock.Parse(now)
	if err != nil {
		t.Fatalf("clock.Parse: %v", err)
	}
	return New(Config{
		AgentID:      "agent-1",
		Policy:       policy,
		Market:       m,
		Store:        st,
		Clock:        clock.NewFixed(at),
		NearPriceUsd: decimal.NewFromFloat(4.5),
	})
}

// TestRunTickHaltsOnFailClosedJobDiscoveryError covers scenario 9 from the
// spec's worked examples: a 5xx storm on job discovery halts the tick with
// FailClosed (the resolved default) and touches nothing downstream.
func TestRunTickHaltsOnFailClosedJobDiscoveryError(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	m := &fakeMarket{
		t: t,
		listJobsFn: func(market.ListJobsParams) ([]types.MarketJob, error) {
			return nil, errs.New(errs.MarketClientError, "market.ListJobs", errTransport)
		},
	}
	o := newOrchestrator(t, m, st, "2026-03-01T00:00:00Z")

	result, err := o.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if !result.Halted {
		t.Error("expected Halted=true on a fail-closed discovery error")
	}
	if len(result.Errors) != 1 || result.Errors[0].Stage != "discover_jobs" {
		t.Errorf("Errors = %+v, want a single discover_jobs error", result.Errors)
	}
	if result.BidDecisions != nil || result.ExecutionDecisions != nil || result.Settlements != nil {
		t.Error("expected no downstream decisions once discovery halts the tick")
	}
}

// TestRunTickSubmissionIsIdempotentAcrossTicks exercises the submit retry
// state machine end to end across two ticks: the first submits and marks
// the (job, bid) pair terminal; the second observes the terminal state and
// skips with already_submitted, never calling SubmitWork again.
func TestRunTickSubmissionIsIdempotentAcrossTicks(t *testing.T) {
	t.Parallel()
	st := newFakeStore()

	job := types.MarketJob{
		JobID:         "job-1",
		JobType:       types.JobTypeStandard,
		Status:        types.JobStatusInProgress,
		MyAssignments: []types.Assignment{{AssignmentID: "asn-1", BidID: "bid-1"}},
	}
	ownBids := []types.TrackedBid{{BidID: "bid-1", JobID: "job-1", Status: types.BidStatusAccepted}}

	m := &fakeMarket{
		t: t,
		listJobsFn: func(market.ListJobsParams) ([]types.MarketJob, error) {
			return nil, nil
		},
		listMyBidsFn: func() ([]types.TrackedBid, error) {
			return ownBids, nil
		},
		getJobFn: func(jobID string) (types.MarketJob, error) {
			return job, nil
		},
		listCompletedFn: func(string, int) ([]types.MarketJob, error) {
			return nil, nil
		},
	}
	o := newOrchestrator(t, m, st, "2026-03-01T00:00:00Z")

	first, err := o.RunTick(context.Background())
	if err != nil {
		t.Fatalf("first RunTick: %v", err)
	}
	if first.Halted {
		t.Fatalf("first tick unexpectedly halted: %+v", first.Errors)
	}
	if m.submitWorkCalls != 1 {
		t.Fatalf("submitWorkCalls after first tick = %d, want 1", m.submitWorkCalls)
	}
	if len(first.ExecutionDecisions) != 1 || first.ExecutionDecisions[0].Action != types.ExecutionActionSubmit {
		t.Fatalf("first tick decisions = %+v, want a single submit", first.ExecutionDecisions)
	}

	second, err := o.RunTick(context.Background())
	if err != nil {
		t.Fatalf("second RunTick: %v", err)
	}
	if second.Halted {
		t.Fatalf("second tick unexpectedly halted: %+v", second.Errors)
	}
	if m.submitWorkCalls != 1 {
		t.Errorf("submitWorkCalls after second tick = %d, want still 1 (idempotent)", m.submitWorkCalls)
	}
	if len(second.ExecutionDecisions) != 1 || second.ExecutionDecisions[0].Reason != types.ReasonAlreadySubmitted {
		t.Errorf("second tick decisions = %+v, want a single already_submitted skip", second.ExecutionDecisions)
	}
}

// A per-item fan-out failure (one job's bid listing) is recorded and that
// job is skipped, but siblings still get a bidding decision.
func TestRunTickPerJobBidFetchErrorDoesNotHaltSiblings(t *testing.T) {
	t.Parallel()
	st := newFakeStore()

	healthyJob := types.MarketJob{
		JobID: "job-ok", JobType: types.JobTypeStandard, Status: types.JobStatusOpen,
		HasBudget: true, BudgetAmount: decimal.NewFromFloat(1), BudgetToken: "NEAR",
	}
	brokenJob := types.MarketJob{
		JobID: "job-broken", JobType: types.JobTypeStandard, Status: types.JobStatusOpen,
		HasBudget: true, BudgetAmount: decimal.NewFromFloat(1), BudgetToken: "NEAR",
	}

	m := &fakeMarket{
		t: t,
		listJobsFn: func(market.ListJobsParams) ([]types.MarketJob, error) {
			return []types.MarketJob{healthyJob, brokenJob}, nil
		},
		listJobBidsFn: func(jobID string) ([]types.MarketBid, error) {
			if jobID == "job-broken" {
				return nil, errs.New(errs.TransportFault, "market.ListJobBids", errTransport)
			}
			return nil, nil
		},
		placeBidFn: func(jobID string, p market.PlaceBidParams) (types.MarketBid, error) {
			return types.MarketBid{BidID: "new-bid", JobID: jobID, Status: types.BidStatusPending}, nil
		},
		listMyBidsFn: func() ([]types.TrackedBid, error) {
			return nil, nil
		},
		listCompletedFn: func(string, int) ([]types.MarketJob, error) {
			return nil, nil
		},
	}
	o := newOrchestrator(t, m, st, "2026-03-01T00:00:00Z")

	result, err := o.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if result.Halted {
		t.Fatalf("tick unexpectedly halted: %+v", result.Errors)
	}

	foundErr := false
	for _, e := range result.Errors {
		if e.Stage == "discover_job_bids" && e.JobID == "job-broken" {
			foundErr = true
		}
	}
	if !foundErr {
		t.Errorf("expected a discover_job_bids error for job-broken, got %+v", result.Errors)
	}

	foundDecision := false
	for _, d := range result.BidDecisions {
		if d.JobID == "job-ok" {
			foundDecision = true
		}
		if d.JobID == "job-broken" {
			t.Errorf("job-broken should have been dropped from the surviving set, got decision %+v", d)
		}
	}
	if !foundDecision {
		t.Errorf("expected a bid decision for job-ok, got %+v", result.BidDecisions)
	}
}

var errTransport = &staticErr{"simulated 503 storm"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }
