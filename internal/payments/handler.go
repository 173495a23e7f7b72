// Package payments receives settlement notifications from the external
// payment processor. Delivery is at-least-once, so crediting is idempotent
// on the external payment reference; signature verification happens
// upstream of this handler.
package payments

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/markm8/backend/internal/models"
)

// TxBeginner opens the crediting transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger is the idempotent crediting contract.
type Ledger interface {
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, kind, description string, externalRef *string) error
}

type Handler struct {
	Pool   TxBeginner
	Ledger Ledger
	Logger *slog.Logger
}

func NewHandler(pool TxBeginner, ledger Ledger, logger *slog.Logger) *Handler {
	return &Handler{Pool: pool, Ledger: ledger, Logger: logger}
}

type webhookPayload struct {
	ExternalPaymentRef string `json:"external_payment_ref"`
	UserID             string `json:"user_id"`
	Credits            int    `json:"credits"`
}

// Webhook handles POST /api/payments/webhook. The caller retries on any
// non-2xx, so a redelivered reference must still be acknowledged 200 even
// though the credit is a no-op.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var p webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	accountID, err := uuid.Parse(p.UserID)
	if err != nil {
		http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
		return
	}
	if p.ExternalPaymentRef == "" || p.Credits <= 0 {
		http.Error(w, `{"error":"external_payment_ref and positive credits are required"}`, http.StatusBadRequest)
		return
	}

	tx, err := h.Pool.Begin(r.Context())
	if err != nil {
		h.Logger.Error("webhook: begin tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	if err := h.Ledger.Credit(r.Context(), tx, accountID, p.Credits, models.EntryPurchase, "credit purchase", &p.ExternalPaymentRef); err != nil {
		h.Logger.Error("webhook: credit", "external_ref", p.ExternalPaymentRef, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.Logger.Error("webhook: commit", "external_ref", p.ExternalPaymentRef, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
