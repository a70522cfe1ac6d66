package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strconv"

	"github.com/accounts-svc/apiserver/internal/auth"
	"github.com/accounts-svc/apiserver/internal/store"
	"github.com/accounts-svc/apiserver/types"
)

const (
	bearerScheme = "Bearer"
	tokenType    = "bearer"
)

// SessionService issues, checks and rotates tokens.
type SessionService struct {
	users  UserRepository
	hasher PasswordHasher
	tokens TokenIssuer
	logger *slog.Logger
}

func NewSessionService(users UserRepository, hasher PasswordHasher, tokens TokenIssuer, logger *slog.Logger) *SessionService {
	return &SessionService{users: users, hasher: hasher, tokens: tokens, logger: logger}
}

// Login checks the credentials and returns a new token pair. The refresh
// token replaces whatever the user had stored before.
func (s *SessionService) Login(ctx context.Context, email, password string) (types.TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenPair{}, newError(KindLoginError, "Invalid email or password")
		}
		return types.TokenPair{}, dbError(err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return types.TokenPair{}, newError(KindLoginError, "Invalid email or password")
	}
	return s.issue(ctx, user.ID)
}

// Authenticate validates a bearer credential and returns its user id.
func (s *SessionService) Authenticate(ctx context.Context, scheme, token string) (int, error) {
	if scheme != bearerScheme {
		return 0, newError(KindInvalidHeader, "Not authenticated")
	}
	claims, err := s.validate(ctx, token)
	if err != nil {
		return 0, err
	}
	if claims.ExpiresAt == nil {
		return 0, newError(KindInvalidCredentials, "Could not validate credentials")
	}
	return subjectID(claims)
}

// Refresh exchanges the stored refresh token for a new pair. The presented
// token stops working as soon as this succeeds.
//
// Two concurrent refreshes with the same token may both succeed; the last
// write decides which new refresh token stays valid.
func (s *SessionService) Refresh(ctx context.Context, scheme, token string) (types.TokenPair, error) {
	if scheme != bearerScheme {
		return types.TokenPair{}, newError(KindInvalidHeader, "Not authenticated")
	}
	claims, err := s.validate(ctx, token)
	if err != nil {
		return types.TokenPair{}, err
	}
	userID, err := subjectID(claims)
	if err != nil {
		return types.TokenPair{}, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenPair{}, newError(KindUserNotFound, "User not found")
		}
		return types.TokenPair{}, dbError(err)
	}
	if user.RefreshToken == nil || subtle.ConstantTimeCompare([]byte(*user.RefreshToken), []byte(token)) != 1 {
		return types.TokenPair{}, newError(KindInvalidCredentials, "Invalid refresh token")
	}
	return s.issue(ctx, user.ID)
}

func (s *SessionService) validate(ctx context.Context, token string) (auth.Claims, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, auth.ErrTokenExpired) {
			reason = "expired"
		}
		s.logger.DebugContext(ctx, "token rejected", "reason", reason, "error", err)
		return auth.Claims{}, &Error{Kind: KindExpiredToken, Msg: "Could not validate credentials", Err: err}
	}
	return claims, nil
}

func (s *SessionService) issue(ctx context.Context, userID int) (types.TokenPair, error) {
	subject := strconv.Itoa(userID)
	access, err := s.tokens.IssueAccess(subject)
	if err != nil {
		return types.TokenPair{}, unknownError("Could not issue token", err)
	}
	refresh, err := s.tokens.IssueRefresh(subject)
	if err != nil {
		return types.TokenPair{}, unknownError("Could not issue token", err)
	}

	if _, err := s.users.Update(ctx, userID, types.UserPatch{RefreshToken: types.Set(&refresh)}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenPair{}, newError(KindUserNotFound, "User not found")
		}
		return types.TokenPair{}, dbError(err)
	}

	return types.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
	}, nil
}

func subjectID(claims auth.Claims) (int, error) {
	if claims.Subject == "" {
		return 0, newError(KindInvalidCredentials, "Could not validate credentials")
	}
	id, err := strconv.Atoi(claims.Subject)
	if err != nil || id < 1 {
		return 0, newError(KindInvalidCredentials, "Could not validate credentials")
	}
	return id, nil
}
