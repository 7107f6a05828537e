package jwt

import (
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = strings.Repeat("s", 32)

func TestManager_GenerateAndValidate(t *testing.T) {
	m := NewManager(testSecret, "test", time.Hour)

	token, err := m.Generate("user-1", "admin")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, int64(3600), token.ExpiresIn)

	claims, err := m.ValidateToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestManager_ValidateToken_Expired(t *testing.T) {
	m := NewManager(testSecret, "test", -time.Minute)

	token, err := m.Generate("user-1", "user")
	require.NoError(t, err)

	_, err = m.ValidateToken(token.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestManager_ValidateToken_WrongSecret(t *testing.T) {
	token, err := NewManager(testSecret, "test", time.Hour).Generate("user-1", "user")
	require.NoError(t, err)

	_, err = NewManager(strings.Repeat("x", 32), "test", time.Hour).ValidateToken(token.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_ValidateToken_WrongIssuer(t *testing.T) {
	token, err := NewManager(testSecret, "other", time.Hour).Generate("user-1", "user")
	require.NoError(t, err)

	_, err = NewManager(testSecret, "test", time.Hour).ValidateToken(token.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_ValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{
		UserID: "user-1",
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    "test",
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, claims).SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewManager(testSecret, "test", time.Hour).ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_ValidateToken_Garbage(t *testing.T) {
	_, err := NewManager(testSecret, "test", time.Hour).ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
