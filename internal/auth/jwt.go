package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// tokenKey is where the middleware stores the parsed token on the echo context.
const tokenKey = "user"

var (
	errNoSubject = errors.New("subject is required")
	errNoSecret  = errors.New("jwt secret is required")
	errBadTTL    = errors.New("token lifetime must be positive")
)

// Claims is the dashboard session token payload.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTMiddleware verifies HS256 session tokens from the Authorization header or, for
// websocket upgrades where browsers cannot set headers, the token query parameter.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		ContextKey:    tokenKey,
		Skipper:       skipper,
		NewClaimsFunc: func(echo.Context) jwt.Claims { return new(Claims) },
	})
}

// SubjectFromContext returns the dashboard user of a verified request.
func SubjectFromContext(c echo.Context) (string, error) {
	token, _ := c.Get(tokenKey).(*jwt.Token)
	if token == nil || !token.Valid {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	for _, v := range []string{claims.Username, claims.Subject} {
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", echo.NewHTTPError(http.StatusUnauthorized, "subject missing")
}

// GenerateToken signs a session token for username valid for ttl.
func GenerateToken(username, secret string, ttl time.Duration) (string, time.Time, error) {
	switch {
	case strings.TrimSpace(username) == "":
		return "", time.Time{}, errNoSubject
	case strings.TrimSpace(secret) == "":
		return "", time.Time{}, errNoSecret
	case ttl <= 0:
		return "", time.Time{}, errBadTTL
	}
	issued := time.Now().UTC().Truncate(time.Second)
	expires := issued.Add(ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// RefreshTokenFromContext signs a new token for the user of the current request.
func RefreshTokenFromContext(c echo.Context, secret string, ttl time.Duration) (string, time.Time, error) {
	subject, err := SubjectFromContext(c)
	if err != nil {
		return "", time.Time{}, err
	}
	return GenerateToken(subject, secret, ttl)
}
