package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/accounts-svc/apiserver/config"
	"github.com/accounts-svc/apiserver/internal/mail"
	"github.com/accounts-svc/apiserver/internal/store"
	"github.com/accounts-svc/apiserver/types"
)

const recoveryCodeBytes = 3

// RecoveryService runs the emailed one-time code flow for forgotten
// passwords.
type RecoveryService struct {
	users      UserRepository
	recoveries RecoveryRepository
	hasher     PasswordHasher
	mailer     Mailer
	cfg        config.RecoveryConfig
	logger     *slog.Logger

	now     func() time.Time
	newCode func() (string, error)
}

func NewRecoveryService(
	users UserRepository,
	recoveries RecoveryRepository,
	hasher PasswordHasher,
	mailer Mailer,
	cfg config.RecoveryConfig,
	logger *slog.Logger,
) *RecoveryService {
	return &RecoveryService{
		users:      users,
		recoveries: recoveries,
		hasher:     hasher,
		mailer:     mailer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		newCode:    generateCode,
	}
}

// Initiate creates a recovery for the user owning email and mails the code.
// Nothing is stored unless the mail was accepted.
func (s *RecoveryService) Initiate(ctx context.Context, email string) (types.PasswordRecovery, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.PasswordRecovery{}, newError(KindUserNotFound, "Email not found")
		}
		return types.PasswordRecovery{}, dbError(err)
	}

	code, err := s.newCode()
	if err != nil {
		return types.PasswordRecovery{}, unknownError("Could not generate recovery code", err)
	}
	body, err := mail.RecoveryBody(user.Username, code, s.cfg.CodeTTL)
	if err != nil {
		return types.PasswordRecovery{}, unknownError("Could not render recovery email", err)
	}

	recovery := types.PasswordRecovery{
		UserID:       user.ID,
		Code:         code,
		IssuedAt:     s.now().UTC(),
		AttemptsLeft: s.cfg.Attempts,
	}
	dispatch := func(ctx context.Context) error {
		if err := s.mailer.Send(ctx, user.Email, mail.RecoverySubject, body); err != nil {
			return unknownError("Could not send recovery email", err)
		}
		return nil
	}

	if s.cfg.Policy == config.RecoveryPolicyReject {
		if err := s.discardExpired(ctx, user.ID); err != nil {
			return types.PasswordRecovery{}, err
		}
		recovery, err = s.recoveries.Create(ctx, recovery, dispatch)
	} else {
		recovery, err = s.recoveries.Replace(ctx, recovery, dispatch)
	}
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.PasswordRecovery{}, newError(KindRecoveryAlreadyInitiated, "Pin already sent to %s", email)
		}
		var svcErr *Error
		if errors.As(err, &svcErr) {
			return types.PasswordRecovery{}, svcErr
		}
		return types.PasswordRecovery{}, dbError(err)
	}

	s.logger.InfoContext(ctx, "password recovery initiated", "user_id", user.ID)
	return recovery, nil
}

// Complete checks code against the user's recovery and, when it matches,
// sets newPassword. Expiry is checked before the code. A wrong code uses up
// one attempt and the recovery is removed with the last one.
func (s *RecoveryService) Complete(ctx context.Context, email, code, newPassword string) (int, error) {
	if err := validatePassword(newPassword); err != nil {
		return 0, err
	}

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, newError(KindUserNotFound, "Email not found")
		}
		return 0, dbError(err)
	}

	recovery, err := s.recoveries.Get(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, recoveryNotInitiated()
		}
		return 0, dbError(err)
	}

	if s.expired(recovery) {
		if err := s.discard(ctx, user.ID); err != nil {
			return 0, err
		}
		return 0, newError(KindInvalidRecoveryCode, "Recovery code expired")
	}

	if subtle.ConstantTimeCompare([]byte(recovery.Code), []byte(code)) == 1 {
		hash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return 0, unknownError("Could not hash password", err)
		}
		if err := s.recoveries.Redeem(ctx, user.ID, recovery.Code, hash); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return 0, recoveryNotInitiated()
			}
			return 0, dbError(err)
		}
		s.logger.InfoContext(ctx, "password recovered", "user_id", user.ID)
		return user.ID, nil
	}

	left, err := s.recoveries.DecrementAttempts(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, recoveryNotInitiated()
		}
		return 0, dbError(err)
	}
	if left == 0 {
		if err := s.discard(ctx, user.ID); err != nil {
			return 0, err
		}
		return 0, newError(KindInvalidRecoveryCode, "Invalid code, no attempts left")
	}
	return 0, newError(KindInvalidRecoveryCode, "Invalid code, %d attempts left", left)
}

// Cancel drops the user's active recovery.
func (s *RecoveryService) Cancel(ctx context.Context, userID int) error {
	if err := s.recoveries.Delete(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return recoveryNotInitiated()
		}
		return dbError(err)
	}
	return nil
}

func (s *RecoveryService) discard(ctx context.Context, userID int) error {
	if err := s.recoveries.Delete(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return dbError(err)
	}
	return nil
}

// discardExpired removes the user's recovery if it outlived the code TTL.
func (s *RecoveryService) discardExpired(ctx context.Context, userID int) error {
	existing, err := s.recoveries.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return dbError(err)
	}
	if s.expired(existing) {
		return s.discard(ctx, userID)
	}
	return nil
}

func (s *RecoveryService) expired(recovery types.PasswordRecovery) bool {
	return s.now().Sub(recovery.IssuedAt) > s.cfg.CodeTTL
}

func recoveryNotInitiated() *Error {
	return newError(KindRecoveryNotInitiated, "The user did not initiate the password recovery process")
}

// generateCode returns recoveryCodeBytes random bytes as lowercase hex.
func generateCode() (string, error) {
	buf := make([]byte, recoveryCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
