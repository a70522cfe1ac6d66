package services

import (
	"context"

	"github.com/accounts-svc/apiserver/internal/auth"
	"github.com/accounts-svc/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, id int, patch types.UserPatch) (types.User, error)
	Delete(ctx context.Context, id int) (types.User, error)
}

// RecoveryRepository defines persistence operations for password recoveries.
type RecoveryRepository interface {
	Get(ctx context.Context, userID int) (types.PasswordRecovery, error)
	Create(ctx context.Context, recovery types.PasswordRecovery, dispatch func(context.Context) error) (types.PasswordRecovery, error)
	Replace(ctx context.Context, recovery types.PasswordRecovery, dispatch func(context.Context) error) (types.PasswordRecovery, error)
	DecrementAttempts(ctx context.Context, userID int) (int, error)
	Delete(ctx context.Context, userID int) error
	Redeem(ctx context.Context, userID int, code, passwordHash string) error
}

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

type TokenIssuer interface {
	IssueAccess(subject string) (string, error)
	IssueRefresh(subject string) (string, error)
	Validate(token string) (auth.Claims, error)
}

type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ObjectStorage stores files under folder/key and returns public URLs.
type ObjectStorage interface {
	Upload(ctx context.Context, folder, contentType string, data []byte, key string) (string, error)
	Remove(ctx context.Context, folder, key string) error
}

// Notifier is told about profile changes that affect recommendations.
// Implementations must not block.
type Notifier interface {
	Notify(userID int, city string, preferences []string)
}
