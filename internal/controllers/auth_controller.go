package controllers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/statorhq/stator/internal/config"
	"github.com/statorhq/stator/internal/engine"
	"github.com/statorhq/stator/internal/util"
	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/models"
)

type AuthController struct {
	UserRepo engine.UserRepo
}

func NewAuthController(userRepo engine.UserRepo) *AuthController {
	return &AuthController{UserRepo: userRepo}
}

func (ac *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/login" {
			next(w, r)
			return
		}
		// 1) Try session cookie
		if c, err := r.Cookie("sessionId"); err == nil && c.Value != "" {
			u, err := ac.UserRepo.FindBySessionID(c.Value, time.Now().UTC())
			if err == nil && u != nil {
				ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
				next(w, r.WithContext(ctx))
				return
			}
		}
		// 2) Try API key from headers
		// Supported headers: X-API-Key: <key>
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" {
			u, err := ac.UserRepo.FindByApiKey(apiKey)
			if err == nil && u != nil {
				ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
				next(w, r.WithContext(ctx))
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credentials")
	}
}

// Username returns the authenticated username from the request context.
func Username(r *http.Request) string {
	if v, ok := r.Context().Value(core.CtxKeyUsername).(string); ok {
		return v
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	util.WriteJSONResponse(w, status, models.ErrorResponse{Code: code, Message: message})
}

func (ac *AuthController) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := util.DecodeJSONBody[models.LoginRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "username and password are required")
		return
	}
	u, err := ac.UserRepo.FindByUsername(username)
	if err != nil {
		slog.Error("FindByUsername failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	if u == nil || !u.Enabled.Valid || !u.Enabled.Bool {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid username or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid username or password")
		return
	}

	sessionID := uuid.NewString()
	expiryHours := config.GetSystemSettingInteger(config.WEB_SESSION_EXPIRY_HOURS)
	expiry := time.Now().UTC().Add(time.Duration(expiryHours) * time.Hour)
	if err := ac.UserRepo.UpdateSession(u.ID, sessionID, expiry); err != nil {
		slog.Error("UpdateSession failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "server error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "sessionId",
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Expires:  expiry,
	})
	util.WriteJSONResponse(w, http.StatusOK, models.LoginResponse{SessionID: sessionID, Expiry: expiry})
}

func (ac *AuthController) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if c, err := r.Cookie("sessionId"); err == nil && c.Value != "" {
		if err := ac.UserRepo.ClearSessionBySessionID(c.Value); err != nil {
			slog.Error("ClearSessionBySessionID failed", "error", err)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     "sessionId",
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}
