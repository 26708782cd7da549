package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("s3cret")

	token, err := v.Issue("u-alice", time.Hour)
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-alice", userID)
}

func TestVerifier_SubjectFallback(t *testing.T) {
	v := NewVerifier("s3cret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u-bob"}).
		SignedString([]byte("s3cret"))
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-bob", userID)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("s3cret")

	other, err := NewVerifier("different").Issue("u-alice", time.Hour)
	require.NoError(t, err)

	// Issue treats ttl <= 0 as no expiry, so build an expired one by hand.
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           "u-alice",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{UserID: "u-alice"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"other secret": other,
		"expired":      expired,
		"no user":      noUser,
		"wrong alg":    wrongAlg,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
