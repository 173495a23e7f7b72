package main

import (
	"net/http"

	"github.com/markm8/backend/internal/account"
	"github.com/markm8/backend/internal/auth"
	"github.com/markm8/backend/internal/dispatcher"
	"github.com/markm8/backend/internal/payments"
	"github.com/markm8/backend/internal/status"
	"github.com/markm8/backend/internal/submissions"
)

// registerRoutes adds all /api endpoints to the given mux.
// Middleware chain: Auth -> (RateLimit on the grade endpoint only) -> handler.
// The payments webhook is unauthenticated: the external processor signs its
// calls upstream and retries on any non-2xx.
func registerRoutes(
	mux *http.ServeMux,
	authHandler *auth.Handler,
	accountHandler *account.Handler,
	submissionHandler *submissions.Handler,
	dispatchHandler *dispatcher.Handler,
	statusHandler *status.Handler,
	paymentsHandler *payments.Handler,
	authMW func(http.Handler) http.Handler,
	rateMW func(http.Handler) http.Handler,
) {
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	mux.Handle("GET /api/account", authMW(http.HandlerFunc(accountHandler.Get)))
	mux.Handle("GET /api/account/ledger", authMW(http.HandlerFunc(accountHandler.Ledger)))

	mux.Handle("PUT /api/submissions/draft", authMW(http.HandlerFunc(submissionHandler.SaveDraft)))
	mux.Handle("GET /api/submissions/draft", authMW(http.HandlerFunc(submissionHandler.GetDraft)))
	mux.Handle("GET /api/submissions", authMW(http.HandlerFunc(submissionHandler.List)))
	mux.Handle("POST /api/submissions/{id}/submit", authMW(http.HandlerFunc(submissionHandler.Submit)))
	mux.Handle("DELETE /api/submissions/{id}", authMW(http.HandlerFunc(submissionHandler.Archive)))
	mux.Handle("GET /api/submissions/{id}/jobs", authMW(http.HandlerFunc(statusHandler.ListForSubmission)))

	// POST /api/submissions/{id}/grade — Auth -> RateLimit -> reserve + enqueue
	mux.Handle("POST /api/submissions/{id}/grade", authMW(rateMW(http.HandlerFunc(dispatchHandler.Grade))))

	mux.Handle("GET /api/jobs/{id}", authMW(http.HandlerFunc(statusHandler.Get)))
	mux.Handle("GET /api/jobs/{id}/stream", authMW(http.HandlerFunc(statusHandler.Stream)))

	mux.HandleFunc("POST /api/payments/webhook", paymentsHandler.Webhook)
}
