package controllers

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/statorhq/stator/internal/config"
	"github.com/statorhq/stator/pkg/stator/domain"
	"github.com/statorhq/stator/pkg/stator/models"
)

func TestRequireAuthRejectsMissingCredentials(t *testing.T) {
	ac := &AuthController{UserRepo: &MockUserRepo{}}
	handler := ac.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	})

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/api/executions", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	er := decodeBody[models.ErrorResponse](t, rr)
	if er.Code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %+v", er)
	}
}

func TestRequireAuthAcceptsSessionCookie(t *testing.T) {
	ac := &AuthController{UserRepo: &MockUserRepo{
		FindBySessionIDFunc: func(sessionID string, now time.Time) (*domain.User, error) {
			if sessionID == "sess-1" {
				return &domain.User{Username: "alice"}, nil
			}
			return nil, nil
		},
	}}

	var gotUser string
	handler := ac.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		gotUser = Username(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/executions", nil)
	req.AddCookie(&http.Cookie{Name: "sessionId", Value: "sess-1"})
	rr := httptest.NewRecorder()
	handler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotUser != "alice" {
		t.Fatalf("expected username in context, got %q", gotUser)
	}
}

func TestRequireAuthAcceptsApiKey(t *testing.T) {
	ac := &AuthController{UserRepo: apiUserRepo()}

	var gotUser string
	handler := ac.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		gotUser = Username(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/executions", nil)
	req.Header.Set("X-API-Key", "secret")
	rr := httptest.NewRecorder()
	handler(rr, req)

	if rr.Code != http.StatusOK || gotUser != "alice" {
		t.Fatalf("expected authenticated request, got %d user %q", rr.Code, gotUser)
	}
}

func TestRequireAuthRejectsUnknownApiKey(t *testing.T) {
	ac := &AuthController{UserRepo: apiUserRepo()}
	handler := ac.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/executions", nil)
	req.Header.Set("X-API-Key", "wrong")
	rr := httptest.NewRecorder()
	handler(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireAuthPassesLoginThrough(t *testing.T) {
	ac := &AuthController{UserRepo: &MockUserRepo{}}
	reached := false
	handler := ac.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodPost, "/api/login", nil))
	if !reached {
		t.Fatal("login endpoint must be reachable without credentials")
	}
}

func TestLoginIssuesSession(t *testing.T) {
	t.Setenv(config.WEB_SESSION_EXPIRY_HOURS, "24")

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	var savedSession string
	ac := &AuthController{UserRepo: &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) {
			if username == "alice" {
				return &domain.User{
					ID:       1,
					Username: "alice",
					Password: string(hash),
					Enabled:  sql.NullBool{Bool: true, Valid: true},
				}, nil
			}
			return nil, nil
		},
		UpdateSessionFunc: func(userID int64, sessionID string, expiry time.Time) error {
			savedSession = sessionID
			return nil
		},
	}}

	rr := httptest.NewRecorder()
	ac.handleLogin(rr, jsonRequest(t, http.MethodPost, "/api/login",
		models.LoginRequest{Username: "alice", Password: "hunter2"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[models.LoginResponse](t, rr)
	if resp.SessionID == "" || resp.SessionID != savedSession {
		t.Fatalf("session not persisted: response %q, saved %q", resp.SessionID, savedSession)
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "sessionId" {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != resp.SessionID || !cookie.HttpOnly {
		t.Fatalf("expected http-only sessionId cookie, got %+v", cookie)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	ac := &AuthController{UserRepo: &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) {
			return &domain.User{
				Username: "alice",
				Password: string(hash),
				Enabled:  sql.NullBool{Bool: true, Valid: true},
			}, nil
		},
	}}

	rr := httptest.NewRecorder()
	ac.handleLogin(rr, jsonRequest(t, http.MethodPost, "/api/login",
		models.LoginRequest{Username: "alice", Password: "nope"}))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLoginRejectsDisabledUser(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	ac := &AuthController{UserRepo: &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) {
			return &domain.User{
				Username: "alice",
				Password: string(hash),
				Enabled:  sql.NullBool{Bool: false, Valid: true},
			}, nil
		},
	}}

	rr := httptest.NewRecorder()
	ac.handleLogin(rr, jsonRequest(t, http.MethodPost, "/api/login",
		models.LoginRequest{Username: "alice", Password: "hunter2"}))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	var cleared string
	ac := &AuthController{UserRepo: &MockUserRepo{
		ClearSessionBySessionIDFunc: func(sessionID string) error {
			cleared = sessionID
			return nil
		},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.AddCookie(&http.Cookie{Name: "sessionId", Value: "sess-1"})
	rr := httptest.NewRecorder()
	ac.handleLogout(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if cleared != "sess-1" {
		t.Fatalf("session not cleared, got %q", cleared)
	}
}
