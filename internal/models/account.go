package models

import (
	"time"

	"github.com/google/uuid"
)

// SignupBonusCredits is granted once at registration via a signup_bonus
// ledger entry.
const SignupBonusCredits = 3

// GradingCostCredits is the flat price of one grading job.
const GradingCostCredits = 1

type Account struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	PasswordHash    string    `json:"-"`
	BalanceCredits  int       `json:"balance_credits"`
	ReservedCredits int       `json:"reserved_credits"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
