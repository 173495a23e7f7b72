// Package dispatcher accepts new grading jobs. Submit performs the atomic
// reserve + enqueue + notify transaction and returns the job ID immediately;
// grading itself never runs inline.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/markm8/backend/internal/grading"
	"github.com/markm8/backend/internal/models"
)

var (
	// ErrNotFound means the submission does not exist.
	ErrNotFound = errors.New("submission not found")
	// ErrNotOwner means the submission belongs to a different account.
	ErrNotOwner = errors.New("submission not owned by account")
	// ErrNotSubmitted means the submission has not left draft (or was
	// archived) and is not eligible for grading.
	ErrNotSubmitted = errors.New("submission is not submitted")
)

// InsertGradeJobTxFunc enqueues the wake-up notification within the given
// transaction. Provided by main as a closure over river.Client.InsertTx.
type InsertGradeJobTxFunc func(ctx context.Context, tx pgx.Tx, args grading.GradeArgs) error

// SubmissionStore is the submission lookup the dispatcher needs.
type SubmissionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Submission, error)
}

// JobStore creates job rows and owns the submit transaction.
type JobStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, j *models.GradingJob) error
}

// Ledger is the reservation contract.
type Ledger interface {
	Reserve(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int) error
}

type Service struct {
	Submissions    SubmissionStore
	Jobs           JobStore
	Ledger         Ledger
	InsertGradeJob InsertGradeJobTxFunc
}

func NewService(submissions SubmissionStore, jobs JobStore, ledger Ledger, insert InsertGradeJobTxFunc) *Service {
	return &Service{Submissions: submissions, Jobs: jobs, Ledger: ledger, InsertGradeJob: insert}
}

// Submit validates eligibility, then in one transaction reserves one credit,
// inserts the queued job row, and enqueues the wake-up. Either all three
// commit or none do: a committed reservation can never lack its job, and a
// committed job can never lack its notification.
func (s *Service) Submit(ctx context.Context, accountID, submissionID uuid.UUID) (uuid.UUID, error) {
	sub, err := s.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("load submission: %w", err)
	}
	if sub.AccountID != accountID {
		return uuid.Nil, ErrNotOwner
	}
	if sub.Status != models.SubmissionStatusSubmitted {
		return uuid.Nil, ErrNotSubmitted
	}

	job := &models.GradingJob{
		ID:           uuid.New(),
		SubmissionID: sub.ID,
		AccountID:    accountID,
		CostCredits:  models.GradingCostCredits,
	}

	tx, err := s.Jobs.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.Ledger.Reserve(ctx, tx, accountID, job.CostCredits); err != nil {
		return uuid.Nil, err
	}
	if err := s.Jobs.CreateTx(ctx, tx, job); err != nil {
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.InsertGradeJob(ctx, tx, grading.GradeArgs{JobID: job.ID}); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit submit tx: %w", err)
	}
	return job.ID, nil
}
