package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/accounts-svc/apiserver/internal/services"
	"github.com/accounts-svc/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxAvatarBytes    = 5 << 20
	maxMultipartBytes = maxAvatarBytes + 1<<20
	formFieldAvatar   = "avatar"
)

// Profiles is implemented by *services.ProfileService.
type Profiles interface {
	Signup(ctx context.Context, req services.SignupRequest) (types.User, error)
	Get(ctx context.Context, id int) (types.User, error)
	Preferences(ctx context.Context, id int) ([]string, error)
	PushToken(ctx context.Context, id int) (string, error)
	Update(ctx context.Context, userID int, patch types.UserPatch) (types.User, error)
	Delete(ctx context.Context, userID int) (types.User, error)
	UploadAvatar(ctx context.Context, userID int, contentType string, data []byte) (types.User, error)
	SetChat(ctx context.Context, chat types.Chat) (types.User, error)
	Chat(ctx context.Context, userID int) (types.Chat, error)
	SetPushToken(ctx context.Context, userID int, token string) (types.User, error)
	ChangePassword(ctx context.Context, userID int, current, next string) (int, error)
}

// UserHandler provides HTTP handlers for accounts and profiles.
type UserHandler struct {
	profiles Profiles
	logger   *slog.Logger
}

func NewUserHandler(profiles Profiles, logger *slog.Logger) *UserHandler {
	return &UserHandler{profiles: profiles, logger: logger}
}

// UserRouter registers profile routes. requireAuth guards the routes that
// act on the caller's own account.
func UserRouter(r chi.Router, handler *UserHandler, requireAuth func(http.Handler) http.Handler) {
	r.Post("/signup", handler.Signup)
	r.Get("/{id}", handler.Get)
	r.Get("/{id}/chat", handler.Chat)
	r.Get("/{id}/preferences", handler.Preferences)
	r.Get("/{id}/fcm_token", handler.PushToken)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Patch("/", handler.Update)
		r.Delete("/", handler.Delete)
		r.Post("/avatar", handler.UploadAvatar)
		r.Post("/chat", handler.SetChat)
		r.Post("/fcm_token", handler.SetPushToken)
		r.Patch("/password/update", handler.ChangePassword)
	})
}

type SignupRequest struct {
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	Password    string      `json:"password"`
	BirthDate   *types.Date `json:"birth_date"`
	City        string      `json:"city"`
	Preferences []string    `json:"preferences"`
	PushToken   string      `json:"fcm_token"`
}

type PushTokenRequest struct {
	PushToken string `json:"fcm_token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *UserHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	user, err := h.profiles.Signup(r.Context(), services.SignupRequest{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		BirthDate:   req.BirthDate,
		City:        req.City,
		Preferences: req.Preferences,
		PushToken:   req.PushToken,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	user, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Preferences(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	prefs, err := h.profiles.Preferences(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	var patch types.UserPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	user, err := h.profiles.Update(r.Context(), userID, patch)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	user, err := h.profiles.Delete(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UploadAvatar accepts a multipart form with a single image in "avatar".
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
	file, header, err := r.FormFile(formFieldAvatar)
	if err != nil {
		writeServiceError(w, r, h.logger, invalidInput("avatar file is required"))
		return
	}
	data, err := readFileLimited(file, maxAvatarBytes)
	_ = file.Close()
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		writeServiceError(w, r, h.logger, invalidInput("avatar must be an image"))
		return
	}

	user, err := h.profiles.UploadAvatar(r.Context(), userID, contentType, data)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SetChat links the caller to an assistant conversation. A user_id in the
// body is ignored.
func (h *UserHandler) SetChat(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	var chat types.Chat
	if err := decodeJSON(r, &chat); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	chat.UserID = userID
	user, err := h.profiles.SetChat(r.Context(), chat)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Chat(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	chat, err := h.profiles.Chat(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *UserHandler) SetPushToken(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	var req PushTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	user, err := h.profiles.SetPushToken(r.Context(), userID, req.PushToken)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	token := ""
	if user.PushToken != nil {
		token = *user.PushToken
	}
	writeJSON(w, http.StatusCreated, token)
}

func (h *UserHandler) PushToken(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	token, err := h.profiles.PushToken(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	id, err := h.profiles.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}
