package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry kinds. Entries are append-only; one entry per
// balance-affecting event.
const (
	EntrySignupBonus     = "signup_bonus"
	EntryPurchase        = "purchase"
	EntryGrading         = "grading"
	EntryRefund          = "refund"
	EntryAdminAdjustment = "admin_adjustment"
)

type LedgerEntry struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"account_id"`
	JobID       *uuid.UUID `json:"job_id,omitempty"`
	Kind        string     `json:"kind"`
	Amount      int        `json:"amount"` // signed credits: negative = charge
	Description string     `json:"description"`
	ExternalRef *string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
