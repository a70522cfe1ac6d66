package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/accounts-svc/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// Recoveries is implemented by *services.RecoveryService.
type Recoveries interface {
	Initiate(ctx context.Context, email string) (types.PasswordRecovery, error)
	Complete(ctx context.Context, email, code, newPassword string) (int, error)
	Cancel(ctx context.Context, userID int) error
}

// PasswordHandler serves the password recovery flow.
type PasswordHandler struct {
	recoveries Recoveries
	logger     *slog.Logger
}

func NewPasswordHandler(recoveries Recoveries, logger *slog.Logger) *PasswordHandler {
	return &PasswordHandler{recoveries: recoveries, logger: logger}
}

// PasswordRouter registers the recovery routes next to the user routes.
func PasswordRouter(r chi.Router, handler *PasswordHandler, requireAuth func(http.Handler) http.Handler) {
	r.Post("/password/recover", handler.Initiate)
	r.Put("/password/recover", handler.Complete)
	r.With(requireAuth).Delete("/password/recover", handler.Cancel)
}

type InitiateRecoveryRequest struct {
	Email string `json:"email"`
}

type CompleteRecoveryRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *PasswordHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRecoveryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	recovery, err := h.recoveries.Initiate(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, recovery)
}

func (h *PasswordHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRecoveryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	userID, err := h.recoveries.Complete(r.Context(), req.Email, req.Code, req.NewPassword)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userID)
}

func (h *PasswordHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	if err := h.recoveries.Cancel(r.Context(), userID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
