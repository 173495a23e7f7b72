package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/markm8/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for AccountStore and EntryStore. These mirror the SQL
// semantics: conditional updates report zero rows when the guard fails.
// ---------------------------------------------------------------------------

type mockAccounts struct {
	mu       sync.Mutex
	balance  map[uuid.UUID]int
	reserved map[uuid.UUID]int
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{balance: map[uuid.UUID]int{}, reserved: map[uuid.UUID]int{}}
}

func (m *mockAccounts) ReserveCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balance[id] < amount {
		return 0, nil
	}
	m.balance[id] -= amount
	m.reserved[id] += amount
	return 1, nil
}

func (m *mockAccounts) ReleaseReserved(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved[id] < amount {
		return 0, nil
	}
	m.reserved[id] -= amount
	return 1, nil
}

func (m *mockAccounts) ReturnReserved(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved[id] < amount {
		return 0, nil
	}
	m.reserved[id] -= amount
	m.balance[id] += amount
	return 1, nil
}

func (m *mockAccounts) AddCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance[id] += amount
	return m.balance[id], nil
}

func (m *mockAccounts) state(id uuid.UUID) (balance, reserved int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance[id], m.reserved[id]
}

// ---

type mockEntries struct {
	mu      sync.Mutex
	entries []*models.LedgerEntry
	refs    map[string]bool
}

func newMockEntries() *mockEntries {
	return &mockEntries{refs: map[string]bool{}}
}

func (m *mockEntries) AppendTx(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockEntries) AppendUniqueRef(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ExternalRef == nil {
		return false, fmt.Errorf("AppendUniqueRef called without ref")
	}
	if m.refs[*e.ExternalRef] {
		return false, nil
	}
	m.refs[*e.ExternalRef] = true
	cp := *e
	m.entries = append(m.entries, &cp)
	return true, nil
}

func (m *mockEntries) byKind(kind string) []*models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Reserve
// ---------------------------------------------------------------------------

func TestReserve_InsufficientFunds(t *testing.T) {
	accounts := newMockAccounts()
	entries := newMockEntries()
	svc := NewService(accounts, entries)
	accID := uuid.New()
	accounts.balance[accID] = 0

	err := svc.Reserve(context.Background(), nil, accID, 1)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if balance, reserved := accounts.state(accID); balance != 0 || reserved != 0 {
		t.Fatalf("failed reserve must not mutate account, got balance=%d reserved=%d", balance, reserved)
	}
}

// ---------------------------------------------------------------------------
// Conservation: reserve then settle, and reserve then refund, both bring
// reserved back to zero and account for every credit.
// ---------------------------------------------------------------------------

func TestReserveThenSettle_Conservation(t *testing.T) {
	accounts := newMockAccounts()
	entries := newMockEntries()
	svc := NewService(accounts, entries)
	accID, jobID := uuid.New(), uuid.New()
	accounts.balance[accID] = 5

	ctx := context.Background()
	if err := svc.Reserve(ctx, nil, accID, 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.Settle(ctx, nil, accID, 1, jobID, "grading charge"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	balance, reserved := accounts.state(accID)
	if balance != 4 || reserved != 0 {
		t.Fatalf("expected balance=4 reserved=0, got balance=%d reserved=%d", balance, reserved)
	}
	grading := entries.byKind(models.EntryGrading)
	if len(grading) != 1 || grading[0].Amount != -1 {
		t.Fatalf("expected one grading entry of -1, got %+v", grading)
	}
	if grading[0].JobID == nil || *grading[0].JobID != jobID {
		t.Fatal("grading entry must reference the job")
	}
}

func TestReserveThenRefund_NoChargeOnFailure(t *testing.T) {
	accounts := newMockAccounts()
	entries := newMockEntries()
	svc := NewService(accounts, entries)
	accID, jobID := uuid.New(), uuid.New()
	accounts.balance[accID] = 5

	ctx := context.Background()
	if err := svc.Reserve(ctx, nil, accID, 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.Refund(ctx, nil, accID, 1, jobID, false); err != nil {
		t.Fatalf("refund: %v", err)
	}

	balance, reserved := accounts.state(accID)
	if balance != 5 || reserved != 0 {
		t.Fatalf("failed job must restore pre-submission state, got balance=%d reserved=%d", balance, reserved)
	}

	// Automatic refunds write a grading charge/reversal pair netting zero.
	grading := entries.byKind(models.EntryGrading)
	if len(grading) != 2 {
		t.Fatalf("expected charge/reversal pair, got %d entries", len(grading))
	}
	if grading[0].Amount+grading[1].Amount != 0 {
		t.Fatalf("pair must net to zero, got %d and %d", grading[0].Amount, grading[1].Amount)
	}
	if len(entries.byKind(models.EntryRefund)) != 0 {
		t.Fatal("automatic refund must not write a refund-kind entry")
	}
}

func TestRefund_AdminWritesSingleRefundEntry(t *testing.T) {
	accounts := newMockAccounts()
	entries := newMockEntries()
	svc := NewService(accounts, entries)
	accID, jobID := uuid.New(), uuid.New()
	accounts.balance[accID] = 5

	ctx := context.Background()
	if err := svc.Reserve(ctx, nil, accID, 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.Refund(ctx, nil, accID, 1, jobID, true); err != nil {
		t.Fatalf("refund: %v", err)
	}

	refunds := entries.byKind(models.EntryRefund)
	if len(refunds) != 1 || refunds[0].Amount != 1 {
		t.Fatalf("expected one refund entry of +1, got %+v", refunds)
	}
}

// ---------------------------------------------------------------------------
// Defensive invariants
// ---------------------------------------------------------------------------

func TestSettle_ReservationMismatch(t *testing.T) {
	accounts := newMockAccounts()
	entries := newMockEntries()
	svc := NewService(accounts, entries)
	accID := uuid.New()
	accounts.balance[accID] = 5

	err := svc.Settle(context.Background(), nil, accID, 1, uuid.New(), "grading charge")
	if !errors.Is(err, ErrReservationMismatch) {
		t.Fatalf("expected ErrReservationMismatch, got %v", err)
	}
	if len(entries.entries) != 0 {
		t.Fatal("mismatched settle must not append entries")
	}
}

func TestRefund_SecondRefundIsMismatch(t *testing.T) {
	accounts := newMockAccounts()
	entries := newMockEntries()
	svc := NewService(accounts, entries)
	accID, jobID := uuid.New(), uuid.New()
	accounts.balance[accID] = 5

	ctx := context.Background()
	if err := svc.Reserve(ctx, nil, accID, 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.Refund(ctx, nil, accID, 1, jobID, false); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	err := svc.Refund(ctx, nil, accID, 1, jobID, false)
	if !errors.Is(err, ErrReservationMismatch) {
		t.Fatalf("second refund must be a mismatch, got %v", err)
	}
	if balance, _ := accounts.state(accID); balance != 5 {
		t.Fatalf("double refund must not inflate balance, got %d", balance)
	}
}

// ---------------------------------------------------------------------------
// Idempotent crediting
// ---------------------------------------------------------------------------

func TestCredit_IdempotentOnExternalRef(t *testing.T) {
	accounts := newMockAccounts()
	entries := newMockEntries()
	svc := NewService(accounts, entries)
	accID := uuid.New()

	ctx := context.Background()
	ref := strPtr("pay_abc123")
	for i := 0; i < 3; i++ {
		if err := svc.Credit(ctx, nil, accID, 10, models.EntryPurchase, "credit purchase", ref); err != nil {
			t.Fatalf("credit %d: %v", i, err)
		}
	}

	if balance, _ := accounts.state(accID); balance != 10 {
		t.Fatalf("redelivered credit must apply once, got balance=%d", balance)
	}
	if got := len(entries.byKind(models.EntryPurchase)); got != 1 {
		t.Fatalf("expected one purchase entry, got %d", got)
	}
}

func TestCredit_WithoutRefAlwaysApplies(t *testing.T) {
	accounts := newMockAccounts()
	entries := newMockEntries()
	svc := NewService(accounts, entries)
	accID := uuid.New()

	ctx := context.Background()
	if err := svc.Credit(ctx, nil, accID, 3, models.EntrySignupBonus, "welcome credits", nil); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := svc.Credit(ctx, nil, accID, 2, models.EntryAdminAdjustment, "goodwill", nil); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance, _ := accounts.state(accID); balance != 5 {
		t.Fatalf("expected balance=5, got %d", balance)
	}
}
