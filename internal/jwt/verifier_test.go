package jwt

import (
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func sign(t *testing.T, key []byte, claims jwtv5.MapClaims) string {
	t.Helper()
	s, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerify_UIDAndSession(t *testing.T) {
	v := NewVerifier(secret, "auth")
	tok := sign(t, secret, jwtv5.MapClaims{
		"iss": "auth", "sub": "user-x", "uid": 42, "sid": "abc",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.UserID)
	assert.Equal(t, "abc", p.Session)
	assert.Equal(t, "user-x", p.Subject)
	assert.False(t, p.Expires.IsZero())
}

func TestVerify_NumericSubjectFallback(t *testing.T) {
	v := NewVerifier(secret, "")
	p, err := v.Verify(sign(t, secret, jwtv5.MapClaims{"sub": "17"}))
	require.NoError(t, err)
	assert.Equal(t, int64(17), p.UserID)
	assert.Equal(t, "17", p.Session)
}

func TestVerify_Rejections(t *testing.T) {
	v := NewVerifier(secret, "auth")

	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(sign(t, []byte("otra-clave-otra-clave-otra-clave"), jwtv5.MapClaims{"iss": "auth", "uid": 1}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(sign(t, secret, jwtv5.MapClaims{"iss": "otro", "uid": 1}))
	assert.ErrorIs(t, err, ErrInvalidIssuer)

	_, err = v.Verify(sign(t, secret, jwtv5.MapClaims{"iss": "auth", "uid": 1, "exp": time.Now().Add(-time.Hour).Unix()}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(sign(t, secret, jwtv5.MapClaims{"iss": "auth", "sub": "no-numerico"}))
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	v := NewVerifier(secret, "")
	tok, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS512, jwtv5.MapClaims{"uid": 1}).SignedString(secret)
	require.NoError(t, err)
	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
