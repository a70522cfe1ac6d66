package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/accounts-svc/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

type contextKey string

const contextSubjectKey contextKey = "sub"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

var kindStatus = map[services.Kind]int{
	services.KindUserExists:               http.StatusConflict,
	services.KindUserNotFound:             http.StatusNotFound,
	services.KindLoginError:               http.StatusBadRequest,
	services.KindInvalidHeader:            http.StatusForbidden,
	services.KindInvalidCredentials:       http.StatusForbidden,
	services.KindExpiredToken:             http.StatusForbidden,
	services.KindRecoveryAlreadyInitiated: http.StatusConflict,
	services.KindRecoveryNotInitiated:     http.StatusNotFound,
	services.KindInvalidRecoveryCode:      http.StatusBadRequest,
	services.KindWrongPassword:            http.StatusBadRequest,
	services.KindInvalidInput:             http.StatusUnprocessableEntity,
	services.KindDatabaseError:            http.StatusInternalServerError,
	services.KindUnknownError:             http.StatusInternalServerError,
}

// statusFor returns the transport status of a service error kind.
func statusFor(kind services.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func withUserID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, contextSubjectKey, id)
}

func userIDFromContext(ctx context.Context) (int, error) {
	id, ok := ctx.Value(contextSubjectKey).(int)
	if !ok || id < 1 {
		return 0, errors.New("missing subject")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError logs err and writes it with the status of its kind.
// Causes are logged, never sent to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	svcErr := services.AsError(err)
	status := statusFor(svcErr.Kind)

	attrs := []any{"kind", svcErr.Kind, "path", r.URL.Path, "status", status}
	if svcErr.Err != nil {
		attrs = append(attrs, "error", svcErr.Err)
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), svcErr.Msg, attrs...)
	} else {
		logger.WarnContext(r.Context(), svcErr.Msg, attrs...)
	}
	writeError(w, status, svcErr.Error())
}

func invalidInput(msg string) error {
	return &services.Error{Kind: services.KindInvalidInput, Msg: msg}
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return invalidInput("Request body is required")
		}
		return invalidInput("Invalid request body")
	}
	return nil
}

func parseUserID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return 0, invalidInput("Invalid user id")
	}
	return id, nil
}

// bearerCredentials splits the Authorization header into scheme and token.
// The scheme is returned as sent; services decide whether it is acceptable.
func bearerCredentials(r *http.Request) (scheme, token string, err error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", "", &services.Error{Kind: services.KindInvalidHeader, Msg: "Not authenticated"}
	}
	return scheme, token, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, invalidInput("Failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, invalidInput("Uploaded file too large")
	}
	return data, nil
}
