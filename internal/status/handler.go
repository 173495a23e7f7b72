// Package status exposes grading-job state to observers over a pull-then-push
// WebSocket: every connection receives the current state as its first frame,
// then a frame per transition, and the stream ends after a terminal frame.
// Postgres is the source of truth; missed intermediate states are not
// buffered, observers reconnect and re-fetch.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"

	"github.com/markm8/backend/internal/middleware"
	"github.com/markm8/backend/internal/models"
	"github.com/markm8/backend/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// JobStore reads current job state.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.GradingJob, error)
	ListBySubmissionID(ctx context.Context, submissionID uuid.UUID) ([]*models.GradingJob, error)
}

// Subscriber is the push side of the status channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan notify.StatusEvent, func())
}

type Handler struct {
	Jobs     JobStore
	Bus      Subscriber
	Logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(jobs JobStore, bus Subscriber, logger *slog.Logger) *Handler {
	return &Handler{
		Jobs:   jobs,
		Bus:    bus,
		Logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Get serves GET /api/jobs/{id}: the plain snapshot for pollers.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.authorizedJob(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

// ListForSubmission serves GET /api/submissions/{id}/jobs: every grading
// attempt for one submission, newest first. Ownership is enforced on the job
// rows themselves.
func (h *Handler) ListForSubmission(w http.ResponseWriter, r *http.Request) {
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

	jobs, err := h.Jobs.ListBySubmissionID(r.Context(), submissionID)
	if err != nil {
		h.Logger.Error("list jobs for submission", "submission_id", submissionID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	owned := make([]*models.GradingJob, 0, len(jobs))
	for _, j := range jobs {
		if j.AccountID == acc.ID {
			owned = append(owned, j)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(owned)
}

// Stream serves GET /api/jobs/{id}/stream. The snapshot frame is read after
// the subscription is live, so a transition landing between the authorization
// read and the subscribe is reflected in the first frame instead of lost.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	job, ok := h.authorizedJob(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, closeSub := h.Bus.Subscribe(ctx)
	defer closeSub()

	jobID := job.ID
	job, err := h.Jobs.GetByID(ctx, jobID)
	if err != nil {
		h.Logger.Error("stream: reload job", "job_id", jobID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "job_id", job.ID, "error", err)
		return
	}
	defer conn.Close()

	// Discard client frames; unblocks on close and tears the stream down.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.writeJob(conn, job); err != nil {
		return
	}
	if isTerminal(job.Status) {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			if ev.JobID != job.ID {
				continue
			}
			current, err := h.Jobs.GetByID(ctx, job.ID)
			if err != nil {
				h.Logger.Error("stream: reload job", "job_id", job.ID, "error", err)
				return
			}
			if err := h.writeJob(conn, current); err != nil {
				return
			}
			if isTerminal(current.Status) {
				return
			}
		}
	}
}

func (h *Handler) writeJob(conn *websocket.Conn, job *models.GradingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// authorizedJob parses the path ID, loads the job, and enforces ownership.
// A job owned by someone else reads as not found.
func (h *Handler) authorizedJob(w http.ResponseWriter, r *http.Request) (*models.GradingJob, bool) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return nil, false
	}
	job, err := h.Jobs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
			return nil, false
		}
		h.Logger.Error("load job", "job_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return nil, false
	}
	if job.AccountID != acc.ID {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return nil, false
	}
	return job, true
}

func isTerminal(status string) bool {
	return status == models.JobStatusComplete || status == models.JobStatusFailed
}
