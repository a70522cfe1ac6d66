package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/accounts-svc/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// Sessions is implemented by *services.SessionService.
type Sessions interface {
	Login(ctx context.Context, email, password string) (types.TokenPair, error)
	Authenticate(ctx context.Context, scheme, token string) (int, error)
	Refresh(ctx context.Context, scheme, token string) (types.TokenPair, error)
}

// AuthHandler provides token endpoints.
type AuthHandler struct {
	sessions Sessions
	logger   *slog.Logger
}

func NewAuthHandler(sessions Sessions, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, logger: logger}
}

// AuthRouter registers login and token routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/login", handler.Login)
	r.Get("/verify_id_token", handler.VerifyToken)
	r.Post("/refresh_token", handler.RefreshToken)
}

// RequireAuth validates the bearer token and injects the user id into the
// request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, err := bearerCredentials(r)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		userID, err := h.sessions.Authenticate(r.Context(), scheme, token)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pair, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// VerifyToken returns the id of the user owning the access token.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	scheme, token, err := bearerCredentials(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	userID, err := h.sessions.Authenticate(r.Context(), scheme, token)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userID)
}

// RefreshToken exchanges the bearer refresh token for a new pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	scheme, token, err := bearerCredentials(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pair, err := h.sessions.Refresh(r.Context(), scheme, token)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}
