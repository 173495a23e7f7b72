package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/markm8/backend/internal/models"
)

type fakeValidator struct {
	token     string
	accountID uuid.UUID
}

func (v *fakeValidator) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	if token != v.token {
		return uuid.Nil, errors.New("invalid token")
	}
	return v.accountID, nil
}

type fakeAccounts struct {
	acc *models.Account
}

func (a *fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	if a.acc == nil || a.acc.ID != id {
		return nil, errors.New("no such account")
	}
	return a.acc, nil
}

func authedHandler(t *testing.T) (http.Handler, *models.Account) {
	t.Helper()
	acc := &models.Account{ID: uuid.New(), Email: "student@example.com"}
	mw := Auth(&fakeValidator{token: "good-token", accountID: acc.ID}, &fakeAccounts{acc: acc})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := AccountFromCtx(r.Context())
		if got == nil || got.ID != acc.ID {
			t.Error("account missing from request context")
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mw(inner), acc
}

func TestAuth_BearerHeader(t *testing.T) {
	h, _ := authedHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestAuth_QueryParamFallbackForWebSockets(t *testing.T) {
	h, _ := authedHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/x/stream?token=good-token", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 via query token, got %d", rec.Code)
	}
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	h, _ := authedHandler(t)
	cases := map[string]func(*http.Request){
		"no token":     func(r *http.Request) {},
		"wrong token":  func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
		"wrong scheme": func(r *http.Request) { r.Header.Set("Authorization", "Basic good-token") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
			mutate(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}
