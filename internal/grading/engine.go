// Package grading owns the lifecycle of a grading job:
// queued -> processing -> complete | failed. All pipeline errors are
// absorbed here and surfaced as a terminal failed status; nothing escapes
// mid-transaction, so a reservation is always settled or refunded.
package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/markm8/backend/internal/consensus"
	"github.com/markm8/backend/internal/models"
	"github.com/markm8/backend/internal/notify"
	"github.com/markm8/backend/internal/scoring"
)

// WallClockTimeout forces a job to failed this long after queued_at,
// regardless of retries remaining.
const WallClockTimeout = 5 * time.Minute

// StaleQueuedThreshold is how long a job may sit queued before the sweep
// assumes its wake-up notification was lost.
const StaleQueuedThreshold = time.Minute

// ErrDoubleSettlement means a terminal transition raced another writer past
// the status guard. Defensive invariant: fatal-log, never silent.
var ErrDoubleSettlement = errors.New("double settlement")

// JobStore is the grading-job persistence contract for the engine.
type JobStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.GradingJob, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, lower, upper float64, feedback, modelResults json.RawMessage, totalCostUSD float64) (int64, error)
	FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, errorMessage string) (int64, error)
	ListStaleQueued(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)
	ListTimedOut(ctx context.Context, wallClock time.Duration) ([]uuid.UUID, error)
}

// SubmissionStore resolves the work product being graded.
type SubmissionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Submission, error)
}

// Ledger is the settlement contract the engine needs.
type Ledger interface {
	Settle(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, jobID uuid.UUID, description string) error
	Refund(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, jobID uuid.UUID, byAdmin bool) error
}

// Scorer runs the concurrent provider fan-out with retries.
type Scorer interface {
	ScoreAll(ctx context.Context, req scoring.Request) ([]*scoring.ScoreResult, error)
}

type Engine struct {
	Jobs        JobStore
	Submissions SubmissionStore
	Ledger      Ledger
	Scorer      Scorer
	Notifier    notify.Publisher
	Logger      *slog.Logger
}

func NewEngine(jobs JobStore, submissions SubmissionStore, ledger Ledger, scorer Scorer, notifier notify.Publisher, logger *slog.Logger) *Engine {
	return &Engine{Jobs: jobs, Submissions: submissions, Ledger: ledger, Scorer: scorer, Notifier: notifier, Logger: logger}
}

// feedbackPayload is what gets persisted on the job's feedback column.
type feedbackPayload struct {
	scoring.Feedback
	PrimaryProvider   string `json:"primary_provider"`
	ReducedConfidence bool   `json:"reduced_confidence,omitempty"`
}

// Process drives one job to a terminal state. Safe under at-least-once
// delivery: the queued -> processing claim is a conditional update, so a
// redelivered or concurrently swept job is a no-op for the loser.
func (e *Engine) Process(ctx context.Context, jobID uuid.UUID) error {
	job, err := e.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	switch job.Status {
	case models.JobStatusComplete, models.JobStatusFailed:
		return nil
	case models.JobStatusProcessing:
		// Another worker holds it; the sweep will time it out if that
		// worker died.
		return nil
	}

	claimed, err := e.Jobs.Claim(ctx, jobID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		return nil
	}
	_ = e.Notifier.PublishStatus(ctx, jobID, models.JobStatusProcessing)

	deadline := job.QueuedAt.Add(WallClockTimeout)
	if time.Now().After(deadline) {
		return e.fail(ctx, job, "grading timed out")
	}
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	sub, err := e.Submissions.GetByID(runCtx, job.SubmissionID)
	if err != nil {
		return e.fail(ctx, job, "submission could not be loaded")
	}

	results, err := e.Scorer.ScoreAll(runCtx, scoreRequest(sub))
	if err != nil {
		e.Logger.Warn("scoring failed", "job_id", jobID, "error", err)
		if runCtx.Err() != nil {
			return e.fail(ctx, job, "grading timed out")
		}
		return e.fail(ctx, job, "all grading providers failed")
	}

	cons, err := consensus.Reconcile(results)
	if err != nil {
		return e.fail(ctx, job, "could not reconcile provider scores")
	}

	return e.complete(ctx, job, results, cons)
}

// complete persists results, settles the reservation, and appends the audit
// entry in one atomic unit.
func (e *Engine) complete(ctx context.Context, job *models.GradingJob, results []*scoring.ScoreResult, cons *consensus.Result) error {
	modelResults := make([]models.ModelResult, len(results))
	totalCost := 0.0
	for i, r := range results {
		modelResults[i] = models.ModelResult{
			ProviderID: r.ProviderID,
			Percentage: r.Percentage,
			Included:   cons.Included[i],
			CostUSD:    r.CostUSD,
		}
		totalCost += r.CostUSD
	}
	resultsJSON, err := json.Marshal(modelResults)
	if err != nil {
		return e.fail(ctx, job, "could not persist grading results")
	}
	feedbackJSON, err := json.Marshal(feedbackPayload{
		Feedback:          cons.Feedback,
		PrimaryProvider:   cons.PrimaryProvider,
		ReducedConfidence: cons.ReducedConfidence,
	})
	if err != nil {
		return e.fail(ctx, job, "could not persist grading feedback")
	}

	tx, err := e.Jobs.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := e.Jobs.CompleteTx(ctx, tx, job.ID, cons.Lower, cons.Upper, feedbackJSON, resultsJSON, totalCost)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if rows == 0 {
		e.Logger.Error("job already settled by another writer", "job_id", job.ID, "error", ErrDoubleSettlement)
		return nil
	}
	if err := e.Ledger.Settle(ctx, tx, job.AccountID, job.CostCredits, job.ID, "grading charge"); err != nil {
		return fmt.Errorf("settle job %s: %w", job.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete tx: %w", err)
	}

	_ = e.Notifier.PublishStatus(ctx, job.ID, models.JobStatusComplete)
	e.Logger.Info("job complete", "job_id", job.ID, "lower", cons.Lower, "upper", cons.Upper,
		"reduced_confidence", cons.ReducedConfidence, "cost_usd", totalCost)
	return nil
}

// fail persists the error and refunds the reservation in one atomic unit.
// The user is never charged for a job that did not complete.
func (e *Engine) fail(ctx context.Context, job *models.GradingJob, reason string) error {
	msg := reason + "; your credit was not charged"

	tx, err := e.Jobs.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := e.Jobs.FailTx(ctx, tx, job.ID, msg)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if rows == 0 {
		// Already terminal; refunding again would double-refund.
		return nil
	}
	if err := e.Ledger.Refund(ctx, tx, job.AccountID, job.CostCredits, job.ID, false); err != nil {
		return fmt.Errorf("refund job %s: %w", job.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit fail tx: %w", err)
	}

	_ = e.Notifier.PublishStatus(ctx, job.ID, models.JobStatusFailed)
	e.Logger.Info("job failed", "job_id", job.ID, "reason", reason)
	return nil
}

// Sweep is the reconciliation pass shared by the periodic timer and process
// startup. It force-fails jobs past the hard wall clock, then reprocesses
// queued jobs whose wake-up notification was evidently lost.
func (e *Engine) Sweep(ctx context.Context) error {
	timedOut, err := e.Jobs.ListTimedOut(ctx, WallClockTimeout)
	if err != nil {
		return fmt.Errorf("list timed out jobs: %w", err)
	}
	for _, id := range timedOut {
		job, err := e.Jobs.GetByID(ctx, id)
		if err != nil {
			e.Logger.Error("sweep: load timed out job", "job_id", id, "error", err)
			continue
		}
		if err := e.fail(ctx, job, "grading timed out"); err != nil {
			e.Logger.Error("sweep: fail timed out job", "job_id", id, "error", err)
		}
	}

	stale, err := e.Jobs.ListStaleQueued(ctx, StaleQueuedThreshold)
	if err != nil {
		return fmt.Errorf("list stale queued jobs: %w", err)
	}
	for _, id := range stale {
		e.Logger.Info("sweep: picking up stale queued job", "job_id", id)
		if err := e.Process(ctx, id); err != nil {
			e.Logger.Error("sweep: process stale job", "job_id", id, "error", err)
		}
	}
	return nil
}

func scoreRequest(sub *models.Submission) scoring.Request {
	req := scoring.Request{
		Title:         sub.Title,
		Content:       sub.Content,
		Instructions:  sub.Instructions,
		Subject:       sub.Subject,
		AcademicLevel: sub.AcademicLevel,
		FocusAreas:    sub.FocusAreas,
	}
	if sub.Rubric != nil {
		req.Rubric = *sub.Rubric
	}
	return req
}
