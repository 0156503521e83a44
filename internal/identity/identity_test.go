package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = Config{Secret: "test-secret", Issuer: "ascendr.identity"}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, jwt.MapClaims{
		"sub":  "u42",
		"name": "Alice",
		"iss":  testCfg.Issuer,
		"exp":  exp.Unix(),
	}, testCfg.Secret)

	claims, err := Parse(token, testCfg)
	require.NoError(t, err)
	assert.Equal(t, "u42", claims.UserID)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.Equal(t, exp.Unix(), claims.ExpiresAt.Unix())
}

func TestParseMissingToken(t *testing.T) {
	_, err := Parse("   ", testCfg)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "u42",
		"iss": testCfg.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}, "other-secret")

	_, err := Parse(token, testCfg)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "u42",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, testCfg.Secret)

	_, err := Parse(token, testCfg)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsMissingSubject(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss": testCfg.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}, testCfg.Secret)

	_, err := Parse(token, testCfg)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "u42",
		"iss": testCfg.Issuer,
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, testCfg.Secret)

	_, err := Parse(token, testCfg)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
