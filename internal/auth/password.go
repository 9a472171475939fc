package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 6
	// bcrypt ignores input past 72 bytes.
	maxPasswordLen = 72
	specialChars   = `!@#$%^&*(),.?":{}|<>`
)

// ValidatePassword applies the signup strength policy. The returned error
// text is meant for the end user.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("Password must be at least %d characters long.", minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return fmt.Errorf("Password must be at most %d characters long.", maxPasswordLen)
	}
	if !strings.ContainsFunc(password, unicode.IsUpper) {
		return errors.New("Password must contain at least one uppercase letter.")
	}
	if !strings.ContainsFunc(password, unicode.IsDigit) {
		return errors.New("Password must contain at least one number.")
	}
	if !strings.ContainsAny(password, specialChars) {
		return errors.New("Password must contain at least one special character.")
	}
	return nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash. An empty hash never
// matches.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
