package types

import "time"

// User represents an account in the system.
// It contains identity, profile, session and chat metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the display name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's email address. It is unique across all users
	// and is the login identifier.
	Email string `json:"email" db:"email"`

	// BirthDate is the user's date of birth, if provided.
	BirthDate *Date `json:"birth_date,omitempty" db:"birth_date"`

	// City is the city the user is based in. Together with Preferences it
	// feeds the recommendation service.
	City string `json:"city" db:"city"`

	// Preferences are free-form tags describing what the user likes.
	// Order is irrelevant and duplicates are not filtered.
	Preferences []string `json:"preferences" db:"preferences"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// AvatarURL is the public link of the uploaded avatar image.
	AvatarURL *string `json:"avatar_link,omitempty" db:"avatar_url"`

	// PushToken is the device token used for push notifications.
	PushToken *string `json:"-" db:"push_token"`

	// RefreshToken is the most recently issued refresh token. Any other
	// refresh token presented for this user is rejected.
	RefreshToken *string `json:"-" db:"refresh_token"`

	// ThreadID and AssistantID are opaque chat-session identifiers assigned
	// by the external assistant service.
	ThreadID    *string `json:"-" db:"thread_id"`
	AssistantID *string `json:"-" db:"assistant_id"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Chat links a user to an assistant conversation.
type Chat struct {
	UserID      int    `json:"user_id"`
	ThreadID    string `json:"thread_id"`
	AssistantID string `json:"assistant_id"`
}

// TokenPair is the transient result of a login or refresh.
type TokenPair struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// PasswordRecovery is an in-flight password recovery attempt.
// At most one exists per user.
type PasswordRecovery struct {
	// UserID is the owner of the recovery and its primary key.
	UserID int `json:"user_id" db:"user_id"`

	// Code is the one-time code emailed to the user. Never serialized.
	Code string `json:"-" db:"code"`

	// IssuedAt is when the code was generated.
	IssuedAt time.Time `json:"emited_datetime" db:"issued_at"`

	// AttemptsLeft is the remaining number of guesses. The record is
	// removed when it reaches zero.
	AttemptsLeft int `json:"leftover_attempts" db:"attempts_left"`
}
