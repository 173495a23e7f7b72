package dispatcher

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/markm8/backend/internal/ledger"
	"github.com/markm8/backend/internal/middleware"
)

type Handler struct {
	Service *Service
	Logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

// Grade handles POST /api/submissions/{id}/grade. Returns the job ID
// immediately; the pipeline runs in the background.
func (h *Handler) Grade(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	submissionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid submission id"}`, http.StatusBadRequest)
		return
	}

	jobID, err := h.Service.Submit(r.Context(), acc.ID, submissionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotOwner):
			http.Error(w, `{"error":"submission not found"}`, http.StatusNotFound)
		case errors.Is(err, ErrNotSubmitted):
			http.Error(w, `{"error":"submission is not submitted"}`, http.StatusConflict)
		case errors.Is(err, ledger.ErrInsufficientFunds):
			http.Error(w, `{"error":"insufficient funds"}`, http.StatusPaymentRequired)
		default:
			h.Logger.Error("submit grading job", "submission_id", submissionID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"job_id": jobID.String()})
}
