// Package identity turns the opaque auth token handed to the client into the
// signed-in user's identity. Credential flows themselves live outside this
// module; only token verification happens here.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds verification parameters for identity tokens.
type Config struct {
	Secret string
	Issuer string
}

// Claims is the normalized identity extracted from a token.
type Claims struct {
	UserID      string
	DisplayName string
	ExpiresAt   time.Time
}

// ErrMissingToken is returned when no token is supplied.
var ErrMissingToken = errors.New("missing identity token")

// ErrInvalidToken wraps parsing and validation failures.
var ErrInvalidToken = errors.New("invalid identity token")

// Parse validates an HS256 token and returns normalized claims.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, ErrInvalidToken
	}
	displayName, _ := claims["name"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}

	return &Claims{
		UserID:      subject,
		DisplayName: displayName,
		ExpiresAt:   exp.Time,
	}, nil
}
