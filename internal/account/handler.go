package account

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/markm8/backend/internal/middleware"
	"github.com/markm8/backend/internal/models"
)

// LedgerReader lists the audit trail.
type LedgerReader interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)
}

type Handler struct {
	Entries LedgerReader
	Logger  *slog.Logger
}

func NewHandler(ledger LedgerReader, logger *slog.Logger) *Handler {
	return &Handler{Entries: ledger, Logger: logger}
}

// Get handles GET /api/account: current balance and reservation.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// Ledger handles GET /api/account/ledger: the append-only entry history.
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.Entries.ListByAccountID(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("list ledger entries", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
