package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/markm8/backend/internal/models"
)

// ErrInsufficientFunds is returned when the balance cannot cover a reservation.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrReservationMismatch means a settle or refund asked for more than is
// reserved. It indicates a prior bug, not a retry path: callers must
// fatal-log it, never swallow it.
var ErrReservationMismatch = errors.New("reservation mismatch")

// AccountStore is the minimal account repository interface for the ledger.
type AccountStore interface {
	ReserveCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int64, error)
	ReleaseReserved(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int64, error)
	ReturnReserved(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int64, error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
}

// EntryStore is the minimal append-only entry interface for the ledger.
type EntryStore interface {
	AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	AppendUniqueRef(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) (bool, error)
}

// Service owns every balance mutation. Accounts are never written outside
// the reserve/settle/refund/credit operations below; each operation runs
// inside the caller's transaction so it commits atomically with the job
// transition that triggered it.
type Service struct {
	Accounts AccountStore
	Entries  EntryStore
}

func NewService(accounts AccountStore, entries EntryStore) *Service {
	return &Service{Accounts: accounts, Entries: entries}
}

// Reserve holds amount against a pending job: balance -= amount,
// reserved += amount, checked and written in one conditional UPDATE.
func (s *Service) Reserve(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int) error {
	rows, err := s.Accounts.ReserveCredits(ctx, tx, accountID, amount)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// Settle converts a reservation into a final charge on successful job
// completion and appends the grading audit entry.
func (s *Service) Settle(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, jobID uuid.UUID, description string) error {
	rows, err := s.Accounts.ReleaseReserved(ctx, tx, accountID, amount)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("settle job %s: %w", jobID, ErrReservationMismatch)
	}
	return s.Entries.AppendTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		JobID:       &jobID,
		Kind:        models.EntryGrading,
		Amount:      -amount,
		Description: description,
	})
}

// Refund returns a reservation to the spendable balance. The automatic
// failure path writes a grading charge/reversal pair netting to zero, so the
// audit trail shows the attempted charge was reversed; an admin-triggered
// refund writes a single refund entry instead.
func (s *Service) Refund(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, jobID uuid.UUID, byAdmin bool) error {
	rows, err := s.Accounts.ReturnReserved(ctx, tx, accountID, amount)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("refund job %s: %w", jobID, ErrReservationMismatch)
	}
	if byAdmin {
		return s.Entries.AppendTx(ctx, tx, &models.LedgerEntry{
			ID:          uuid.New(),
			AccountID:   accountID,
			JobID:       &jobID,
			Kind:        models.EntryRefund,
			Amount:      amount,
			Description: "admin refund",
		})
	}
	if err := s.Entries.AppendTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		JobID:       &jobID,
		Kind:        models.EntryGrading,
		Amount:      -amount,
		Description: "grading charge",
	}); err != nil {
		return err
	}
	return s.Entries.AppendTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		JobID:       &jobID,
		Kind:        models.EntryGrading,
		Amount:      amount,
		Description: "grading charge reversed: job did not complete",
	})
}

// Credit tops up the balance. When externalRef is non-empty the call is
// idempotent on it: a ref that already has an entry is a silent no-op and
// the balance is untouched, so redelivered payment notifications cannot
// double-credit.
func (s *Service) Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, kind, description string, externalRef *string) error {
	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		ExternalRef: externalRef,
	}
	if externalRef != nil && *externalRef != "" {
		inserted, err := s.Entries.AppendUniqueRef(ctx, tx, entry)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
	} else {
		if err := s.Entries.AppendTx(ctx, tx, entry); err != nil {
			return err
		}
	}
	_, err := s.Accounts.AddCredits(ctx, tx, accountID, amount)
	return err
}
