// Package orchestrator implements the tick orchestrator: the single entry
// point that sequences the bidding engine, the lifecycle engine, the
// settlement reconciler, and the state store into one fail-closed cycle,
// fanning per-job I/O out through internal/concurrency.MapLimit. There is
// one logical worker; phases run sequentially and only per-job I/O inside
// a phase runs concurrently.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"nearautopilot/internal/bidding"
	"nearautopilot/internal/clock"
	"nearautopilot/internal/concurrency"
	"nearautopilot/internal/config"
	"nearautopilot/internal/errs"
	"nearautopilot/internal/lifecycle"
	"nearautopilot/internal/manifest"
	"nearautopilot/internal/market"
	"nearautopilot/internal/settlement"
	"nearautopilot/internal/store"
	"nearautopilot/internal/telemetry"
	"nearautopilot/pkg/types"
)

// fanOutLimit is the bounded-concurrency ceiling every per-job fan-out in
// the orchestrator routes through.
const fanOutLimit = 10

// MarketClient is the subset of internal/market.Client the orchestrator
// depends on, narrowed to an interface so tests can substitute a fake.
// *market.Client satisfies it.
type MarketClient interface {
	ListJobs(ctx context.Context, p market.ListJobsParams) ([]types.MarketJob, error)
	GetJob(ctx context.Context, jobID string) (types.MarketJob, error)
	ListJobBids(ctx context.Context, jobID string, p market.ListJobBidsParams) ([]types.MarketBid, error)
	ListMyBids(ctx context.Context, p market.ListMyBidsParams) ([]types.TrackedBid, error)
	PlaceBid(ctx context.Context, jobID string, p market.PlaceBidParams) (types.MarketBid, error)
	SubmitEntry(ctx context.Context, jobID string, p market.SubmitParams) error
	SubmitWork(ctx context.Context, jobID string, p market.SubmitParams) error
	WithdrawBid(ctx context.Context, bidID string) error
	ListCompletedJobsForWorker(ctx context.Context, workerAgentID string, limit int) ([]types.MarketJob, error)
}

// Config wires every dependency the orchestrator needs. Clock, Bus, and
// ArtifactProvider default to production implementations when left zero.
type Config struct {
	AgentID          string
	Policy           config.Policy
	Market           MarketClient
	Store            store.Store
	Clock            clock.Clock
	Bus              *telemetry.Bus
	ArtifactProvider ArtifactProvider
	NearPriceUsd     decimal.Decimal
	SubmitSigningKey string
	SubmitSignerID   string
	BidEtaSeconds    int
	BidProposal      string
	SettlementLimit  int
	Logger           *slog.Logger
}

// Orchestrator sequences one tick's worth of work across every CORE
// subsystem.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs an Orchestrator, filling in production defaults for any
// zero-valued optional dependency.
func New(cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewReal()
	}
	if cfg.Bus == nil {
		cfg.Bus = telemetry.NewBus()
	}
	if cfg.ArtifactProvider == nil {
		cfg.ArtifactProvider = StaticArtifactProvider{BaseURL: "https://deliverables.invalid"}
	}
	if cfg.BidEtaSeconds <= 0 {
		cfg.BidEtaSeconds = 3600
	}
	if cfg.SubmitSignerID == "" {
		cfg.SubmitSignerID = cfg.AgentID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger.With("component", "orchestrator")}
}

type jobBidsResult struct {
	Job  types.MarketJob
	Bids []types.MarketBid
	Err  error
}

// RunTick executes one full cycle: discover → bid → withdraw stale bids →
// submit accepted work → reconcile settlements. It halts immediately,
// short-circuiting remaining phases, on any StateStoreError/ConfigInvalid
// error, or on any discovery-phase error while cfg.Policy.FailClosed is
// true.
func (o *Orchestrator) RunTick(ctx context.Context) (types.TickResult, error) {
	tickID := uuid.NewString()
	started, err := clock.Parse(o.cfg.Clock.NowISO())
	if err != nil {
		return types.TickResult{}, fmt.Errorf("orchestrator: parse start time: %w", err)
	}

	result := types.TickResult{TickID: tickID, StartedAt: started}
	o.emit("tick_started", tickID, "", nil)

	halted := false

	jobs, jerr := o.cfg.Market.ListJobs(ctx, market.ListJobsParams{Status: "open"})
	if jerr != nil {
		result.Errors = append(result.Errors, tickErr("discover_jobs", "", jerr))
		if errs.Fatal(errs.KindOf(jerr)) || o.cfg.Policy.FailClosed {
			halted = true
		}
	}

	if !halted {
		bidsByJobID, survivingJobs := o.fetchBidsForJobs(ctx, jobs, &result)
		result.BidDecisions = bidding.RankJobsForBidding(survivingJobs, bidsByJobID, o.cfg.Policy)
		if err := o.placeBids(ctx, result.BidDecisions, &result, tickID); err != nil {
			return types.TickResult{}, err
		}
	}

	var ownBids []types.TrackedBid
	if !halted {
		var merr error
		ownBids, merr = o.cfg.Market.ListMyBids(ctx, market.ListMyBidsParams{})
		if merr != nil {
			result.Errors = append(result.Errors, tickErr("discover_own_bids", "", merr))
			if errs.Fatal(errs.KindOf(merr)) || o.cfg.Policy.FailClosed {
				halted = true
			}
		}
	}

	if !halted {
		if err := o.planAndWithdrawStaleBids(ctx, ownBids, started, &result); err != nil {
			return types.TickResult{}, err
		}
	}

	if !halted {
		executionDecisions, err := o.processSubmissions(ctx, ownBids, started, &result)
		if err != nil {
			return types.TickResult{}, err
		}
		result.ExecutionDecisions = executionDecisions
	}

	if !halted {
		settlementHalted, err := o.reconcileSettlements(ctx, &result)
		if err != nil {
			return types.TickResult{}, err
		}
		halted = halted || settlementHalted
	}

	result.Halted = halted
	completed, err := clock.Parse(o.cfg.Clock.NowISO())
	if err != nil {
		return types.TickResult{}, fmt.Errorf("orchestrator: parse completion time: %w", err)
	}
	result.CompletedAt = completed

	o.emit("tick_completed", tickID, "", result)
	return result, nil
}

func (o *Orchestrator) fetchBidsForJobs(ctx context.Context, jobs []types.MarketJob, result *types.TickResult) (map[string][]types.MarketBid, []types.MarketJob) {
	results, _ := concurrency.MapLimit(fanOutLimit, jobs, func(job types.MarketJob) (jobBidsResult, error) {
		bids, err := o.cfg.Market.ListJobBids(ctx, job.JobID, market.ListJobBidsParams{})
		return jobBidsResult{Job: job, Bids: bids, Err: err}, nil
	})

	bidsByJobID := make(map[string][]types.MarketBid, len(results))
	surviving := make([]types.MarketJob, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			result.Errors = append(result.Errors, tickErr("discover_job_bids", r.Job.JobID, r.Err))
			continue
		}
		bidsByJobID[r.Job.JobID] = r.Bids
		surviving = append(surviving, r.Job)
	}
	return bidsByJobID, surviving
}

func (o *Orchestrator) placeBids(ctx context.Context, decisions []types.BidDecision, result *types.TickResult, tickID string) error {
	nowISO := o.cfg.Clock.NowISO()
	for _, d := range decisions {
		if d.Action == types.BidActionSkip {
			continue
		}

		_, err := o.cfg.Market.PlaceBid(ctx, d.JobID, market.PlaceBidParams{
			AmountNear: d.BidAmountNear,
			EtaSeconds: o.cfg.BidEtaSeconds,
			Proposal:   o.cfg.BidProposal,
		})
		if err != nil {
			result.Errors = append(result.Errors, tickErr("place_bid", d.JobID, err))
			continue
		}

		if err := o.cfg.Store.Set(bidSubmittedKey(d.JobID), nowISO); err != nil {
			return errs.New(errs.StateStoreError, "orchestrator.placeBids", err)
		}
		o.emit("bid_placed", tickID, d.JobID, d)
	}
	return nil
}

func (o *Orchestrator) planAndWithdrawStaleBids(ctx context.Context, ownBids []types.TrackedBid, now time.Time, result *types.TickResult) error {
	markerKeys, err := o.cfg.Store.Keys(keyBidSubmittedPrefix)
	if err != nil {
		return errs.New(errs.StateStoreError, "orchestrator.planAndWithdrawStaleBids", err)
	}

	markerByJobID := make(map[string]time.Time, len(markerKeys))
	for _, key := range markerKeys {
		jobID, ok := jobIDFromBidSubmittedKey(key)
		if !ok {
			continue
		}
		raw, found, err := o.cfg.Store.Get(key)
		if err != nil {
			return errs.New(errs.StateStoreError, "orchestrator.planAndWithdrawStaleBids", err)
		}
		if !found {
			continue
		}
		t, err := clock.Parse(raw)
		if err != nil {
			continue
		}
		markerByJobID[jobID] = t
	}

	plan := lifecycle.PlanStaleBidWithdrawals(ownBids, now, markerByJobID, o.cfg.Policy)

	for jobID, markerTime := range plan.MarkerUpdates {
		if err := o.cfg.Store.Set(bidSubmittedKey(jobID), clock.Format(markerTime)); err != nil {
			return errs.New(errs.StateStoreError, "orchestrator.planAndWithdrawStaleBids", err)
		}
	}

	for _, bid := range plan.ToWithdraw {
		if err := o.cfg.Market.WithdrawBid(ctx, bid.BidID); err != nil {
			// Per Open Question (c): a failed withdraw never clears the
			// marker, so a future tick can retry it.
			result.Errors = append(result.Errors, tickErr("withdraw_bid", bid.JobID, err))
			continue
		}
		if err := o.cfg.Store.Del(bidSubmittedKey(bid.JobID)); err != nil {
			return errs.New(errs.StateStoreError, "orchestrator.planAndWithdrawStaleBids", err)
		}
		if err := o.cfg.Store.Set(withdrawnBidKey(bid.BidID), clock.Format(now)); err != nil {
			return errs.New(errs.StateStoreError, "orchestrator.planAndWithdrawStaleBids", err)
		}
		o.emit("bid_withdrawn", "", bid.JobID, bid)
	}

	return nil
}

var submittableStatuses = map[types.BidStatus]bool{
	types.BidStatusAccepted:   true,
	types.BidStatusInProgress: true,
	types.BidStatusSubmitted:  true,
}

func (o *Orchestrator) processSubmissions(ctx context.Context, ownBids []types.TrackedBid, now time.Time, result *types.TickResult) ([]types.ExecutionDecision, error) {
	var decisions []types.ExecutionDecision

	for _, bid := range ownBids {
		if !submittableStatuses[bid.Status] {
			continue
		}

		key := submitAttemptKey(bid.JobID, bid.BidID)
		state, err := o.loadSubmitState(key)
		if err != nil {
			return nil, err
		}

		attempt := lifecycle.NextSubmissionAttempt(now, o.cfg.Policy, state)
		if !attempt.ShouldAttempt {
			decisions = append(decisions, types.ExecutionDecision{
				JobID:            bid.JobID,
				BidID:            bid.BidID,
				Action:           types.ExecutionActionSkip,
				Reason:           attempt.Reason,
				HasNextAttemptAt: attempt.NextState.HasNextAttemptAt,
				NextAttemptAt:    attempt.NextState.NextAttemptAt,
			})
			continue
		}

		job, err := o.cfg.Market.GetJob(ctx, bid.JobID)
		if err != nil {
			result.Errors = append(result.Errors, tickErr("fetch_job_for_submission", bid.JobID, err))
			decisions = append(decisions, types.ExecutionDecision{
				JobID: bid.JobID, BidID: bid.BidID,
				Action: types.ExecutionActionSkip, Reason: types.ReasonAssignmentMissing,
			})
			continue
		}

		assignmentID, ok := assignmentFor(job, bid.BidID)
		if !ok {
			decisions = append(decisions, types.ExecutionDecision{
				JobID: bid.JobID, BidID: bid.BidID,
				Action: types.ExecutionActionSkip, Reason: types.ReasonAssignmentMissing,
			})
			continue
		}

		decisions = append(decisions, types.ExecutionDecision{
			JobID: bid.JobID, BidID: bid.BidID,
			Action: types.ExecutionActionSubmit, AssignmentID: assignmentID,
		})

		if err := o.attemptSubmission(ctx, job, bid, assignmentID, attempt.NextState, now, key, result); err != nil {
			return nil, err
		}
	}

	return decisions, nil
}

func (o *Orchestrator) attemptSubmission(ctx context.Context, job types.MarketJob, bid types.TrackedBid, assignmentID string, nextState types.SubmitAttemptState, now time.Time, key string, result *types.TickResult) error {
	artifact, err := o.cfg.ArtifactProvider.Produce(ctx, job, assignmentID)
	if err != nil {
		result.Errors = append(result.Errors, tickErr("artifact_provider", job.JobID, errs.New(errs.ArtifactProviderError, "orchestrator.attemptSubmission", err)))
		return o.saveSubmitState(key, lifecycle.ApplySubmissionFailure(nextState, now, o.cfg.Policy))
	}

	m := types.DeliverableManifest{
		JobID:          job.JobID,
		AssignmentID:   assignmentID,
		BidID:          bid.BidID,
		AgentID:        o.cfg.AgentID,
		DeliverableURL: artifact.DeliverableURL,
		ArtifactHash:   artifact.DeliverableHash,
		CreatedAt:      clock.Format(now),
	}

	signed, err := manifest.Sign(m, o.cfg.SubmitSigningKey, o.cfg.SubmitSignerID)
	if err != nil {
		return fmt.Errorf("orchestrator: sign manifest: %w", err)
	}

	params := market.SubmitParams{Deliverable: m.DeliverableURL, DeliverableHash: signed.ManifestHash}

	var submitErr error
	if job.JobType == types.JobTypeCompetition {
		submitErr = o.cfg.Market.SubmitEntry(ctx, job.JobID, params)
	} else {
		submitErr = o.cfg.Market.SubmitWork(ctx, job.JobID, params)
	}

	if submitErr != nil {
		result.Errors = append(result.Errors, tickErr("submit", job.JobID, errs.New(errs.SubmissionFailed, "orchestrator.attemptSubmission", submitErr)))
		return o.saveSubmitState(key, lifecycle.ApplySubmissionFailure(nextState, now, o.cfg.Policy))
	}

	return o.saveSubmitState(key, lifecycle.MarkSubmissionSucceeded(nextState, now))
}

func (o *Orchestrator) reconcileSettlements(ctx context.Context, result *types.TickResult) (bool, error) {
	jobs, err := o.cfg.Market.ListCompletedJobsForWorker(ctx, o.cfg.AgentID, o.cfg.SettlementLimit)
	if err != nil {
		result.Errors = append(result.Errors, tickErr("discover_completed_jobs", "", err))
		return errs.Fatal(errs.KindOf(err)) || o.cfg.Policy.FailClosed, nil
	}

	bidsByJobID, surviving := o.fetchBidsForJobs(ctx, jobs, result)
	report := settlement.BuildSettlementReport(surviving, bidsByJobID, o.cfg.AgentID, o.cfg.NearPriceUsd)
	result.Settlements = report.Records

	cursor := latestCompletedAt(report.Records)
	if cursor.IsZero() {
		return false, nil
	}

	current, found, err := o.cfg.Store.Get(keySettlementCursor)
	if err != nil {
		return false, errs.New(errs.StateStoreError, "orchestrator.reconcileSettlements", err)
	}
	if found {
		if t, err := clock.Parse(current); err == nil && !cursor.After(t) {
			return false, nil
		}
	}
	if err := o.cfg.Store.Set(keySettlementCursor, clock.Format(cursor)); err != nil {
		return false, errs.New(errs.StateStoreError, "orchestrator.reconcileSettlements", err)
	}
	return false, nil
}

func latestCompletedAt(records []types.SettlementRecord) time.Time {
	var max time.Time
	for _, r := range records {
		if r.CompletedAt.After(max) {
			max = r.CompletedAt
		}
	}
	return max
}

func (o *Orchestrator) loadSubmitState(key string) (types.SubmitAttemptState, error) {
	raw, found, err := o.cfg.Store.Get(key)
	if err != nil {
		return types.SubmitAttemptState{}, errs.New(errs.StateStoreError, "orchestrator.loadSubmitState", err)
	}
	if !found {
		return types.SubmitAttemptState{}, nil
	}

	var state types.SubmitAttemptState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return types.SubmitAttemptState{}, errs.New(errs.StateStoreError, "orchestrator.loadSubmitState", fmt.Errorf("corrupt submit attempt state: %w", err))
	}
	return state, nil
}

func (o *Orchestrator) saveSubmitState(key string, state types.SubmitAttemptState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal submit attempt state: %w", err)
	}
	if err := o.cfg.Store.Set(key, string(raw)); err != nil {
		return errs.New(errs.StateStoreError, "orchestrator.saveSubmitState", err)
	}
	return nil
}

func assignmentFor(job types.MarketJob, bidID string) (string, bool) {
	for _, a := range job.MyAssignments {
		if a.BidID == bidID {
			return a.AssignmentID, true
		}
	}
	return "", false
}

func (o *Orchestrator) emit(eventType, tickID, jobID string, data interface{}) {
	ts, err := clock.Parse(o.cfg.Clock.NowISO())
	if err != nil {
		ts = time.Time{}
	}
	o.cfg.Bus.Emit(telemetry.Event{
		Type:      eventType,
		Timestamp: ts,
		TickID:    tickID,
		JobID:     jobID,
		Data:      data,
	})
}

func tickErr(stage, jobID string, err error) types.TickError {
	return types.TickError{Stage: stage, JobID: jobID, Message: err.Error()}
}

// LoopOptions configures RunLoop's steady cadence.
type LoopOptions struct {
	IntervalMs int
	MaxTicks   int // 0 means unlimited
	OnTick     func(types.TickResult)
}

// RunLoop calls RunTick on a steady cadence until ctx is cancelled, a
// tick halts, or MaxTicks ticks have run. A halted tick stops the loop
// with an error so the process exits non-zero rather than retrying into
// whatever halted it. Cancellation is cooperative: ctx is checked before
// each tick and again before sleeping, so cancelling between ticks
// always prevents the next one. A mid-tick cancellation is not
// guaranteed to stop the in-flight tick early.
func (o *Orchestrator) RunLoop(ctx context.Context, opts LoopOptions) error {
	interval := time.Duration(opts.IntervalMs) * time.Millisecond
	ticks := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		result, err := o.RunTick(ctx)
		if err != nil {
			return err
		}
		if opts.OnTick != nil {
			opts.OnTick(result)
		}
		if result.Halted {
			return fmt.Errorf("orchestrator: tick %s halted: further ticks suppressed", result.TickID)
		}

		ticks++
		if opts.MaxTicks > 0 && ticks >= opts.MaxTicks {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
