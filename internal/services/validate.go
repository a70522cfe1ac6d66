package services

import (
	"net/mail"
	"strings"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return newError(KindInvalidInput, "Invalid email address")
	}
	return nil
}

func validatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return newError(KindInvalidInput, "Password must be at least %d characters", minPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return newError(KindInvalidInput, "Password must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
