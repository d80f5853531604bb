package handlers

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/guardrelay/internal/auth"
	"github.com/memohai/guardrelay/internal/channel/adapters/local"
	"github.com/memohai/guardrelay/internal/identity"
)

// IdentityResolver maps a dashboard request to the identity it acts for: the token
// subject when auth is on, the configured dashboard identity otherwise.
type IdentityResolver struct {
	authEnabled bool
	fallback    string
}

func NewIdentityResolver(authEnabled bool, fallback string) IdentityResolver {
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		fallback = "web"
	}
	return IdentityResolver{authEnabled: authEnabled, fallback: fallback}
}

func (r IdentityResolver) Subject(c echo.Context) string {
	if r.authEnabled {
		if subject, err := auth.SubjectFromContext(c); err == nil && strings.TrimSpace(subject) != "" {
			return strings.TrimSpace(subject)
		}
	}
	return r.fallback
}

func (r IdentityResolver) Key(c echo.Context) identity.Key {
	return identity.NewKey(local.Type.String(), r.Subject(c))
}
