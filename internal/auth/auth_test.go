package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/caresync-appointments/internal/config"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{JWTSecret: "test-secret", Issuer: "caresync", Audience: "caresync-web"}
}

func TestMintAndVerify(t *testing.T) {
	cfg := testAuthConfig()
	signer, err := NewSigner(cfg)
	require.NoError(t, err)
	verifier, err := NewVerifier(cfg)
	require.NoError(t, err)

	token, err := signer.Mint("uid-1", "asha@example.com", "", time.Hour)
	require.NoError(t, err)

	claims, err := verifier.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", claims.Subject)
	assert.Equal(t, "asha@example.com", claims.Email)
}

func TestVerifyRejects(t *testing.T) {
	cfg := testAuthConfig()
	signer, err := NewSigner(cfg)
	require.NoError(t, err)
	verifier, err := NewVerifier(cfg)
	require.NoError(t, err)

	expired, err := signer.Mint("uid-1", "", "", -time.Minute)
	require.NoError(t, err)

	reset, err := signer.Mint("uid-1", "", PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	other, err := NewSigner(config.AuthConfig{JWTSecret: "other", Issuer: "caresync", Audience: "caresync-web"})
	require.NoError(t, err)
	forged, err := other.Mint("uid-1", "", "", time.Hour)
	require.NoError(t, err)

	wrongAud, err := NewSigner(config.AuthConfig{JWTSecret: "test-secret", Issuer: "caresync", Audience: "elsewhere"})
	require.NoError(t, err)
	misdirected, err := wrongAud.Mint("uid-1", "", "", time.Hour)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":        expired,
		"reset purpose":  reset,
		"wrong secret":   forged,
		"wrong audience": misdirected,
		"garbage":        "abc.def.ghi",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.VerifyAccess(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	// Reset tokens still parse for the flow that issued them.
	claims, err := verifier.Parse(reset)
	require.NoError(t, err)
	assert.Equal(t, PurposePasswordReset, claims.Purpose)
}

func TestVerifyRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	verifier, err := NewVerifier(config.AuthConfig{JWTPublicKey: string(pemKey)})
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Subject:   "firebase-uid",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)

	got, err := verifier.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "firebase-uid", got.Subject)

	// No secret configured, so HS256 tokens are refused.
	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("x"))
	require.NoError(t, err)
	_, err = verifier.VerifyAccess(hs)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewVerifierRequiresKey(t *testing.T) {
	_, err := NewVerifier(config.AuthConfig{})
	assert.Error(t, err)

	_, err = NewSigner(config.AuthConfig{})
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	tok, err = BearerToken("bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Bearer ", "Basic abc", "abc"} {
		_, err := BearerToken(h)
		assert.ErrorIs(t, err, ErrMissingToken, h)
	}
}

func TestClaimsContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", UserIDFromContext(ctx))

	ctx = WithClaims(ctx, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "uid-7"}})
	assert.Equal(t, "uid-7", UserIDFromContext(ctx))
}
