package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for a wrong username or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials is the single dashboard login. Password may be plain text or a bcrypt hash.
type Credentials struct {
	Username string
	Password string
}

// Verify checks a login attempt.
func (c Credentials) Verify(username, password string) error {
	want := strings.TrimSpace(c.Username)
	if want == "" || c.Password == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(strings.TrimSpace(username))) != 1 {
		return ErrInvalidCredentials
	}
	if isBcryptHash(c.Password) {
		if err := bcrypt.CompareHashAndPassword([]byte(c.Password), []byte(password)); err != nil {
			return ErrInvalidCredentials
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(c.Password), []byte(password)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for the dashboard password setting.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
