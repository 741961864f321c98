package edge

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cybernetic/internal/errs"
)

func TestValidTenantID(t *testing.T) {
	assert.True(t, ValidTenantID("tenant-1"))
	assert.True(t, ValidTenantID("a"))
	assert.False(t, ValidTenantID(""))
	assert.False(t, ValidTenantID("bad tenant"))
	assert.False(t, ValidTenantID("bad/tenant"))
}

func signJWT(t *testing.T, key *rsa.PrivateKey, kid string, c claims) string {
	t.Helper()
	header := jwtHeader{Alg: "RS256", Kid: kid}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	payloadJSON, err := json.Marshal(c)
	require.NoError(t, err)

	enc := func(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
	signingInput := enc(headerJSON) + "." + enc(payloadJSON)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return signingInput + "." + enc(sig)
}

func TestVerifyJWT_ValidSignatureRoundTrips(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := map[string]*rsa.PublicKey{"k1": &key.PublicKey}

	token := signJWT(t, key, "k1", claims{Subject: "u1", Tenant: "tenant-a", ExpiresAt: time.Now().Add(time.Hour).Unix()})

	c, err := verifyJWT(token, keys)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", c.Tenant)
}

func TestVerifyJWT_ExpiredRejected(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := map[string]*rsa.PublicKey{"k1": &key.PublicKey}

	token := signJWT(t, key, "k1", claims{Tenant: "tenant-a", ExpiresAt: time.Now().Add(-time.Hour).Unix()})
	_, err = verifyJWT(token, keys)
	assert.Error(t, err)
}

func TestVerifyJWT_WrongKeyRejected(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := map[string]*rsa.PublicKey{"k1": &other.PublicKey}

	token := signJWT(t, key, "k1", claims{Tenant: "tenant-a", ExpiresAt: time.Now().Add(time.Hour).Unix()})
	_, err = verifyJWT(token, keys)
	assert.ErrorIs(t, err, errs.ErrInvalidSignature)
}

func TestVerifyJWT_UnknownKidRejected(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := map[string]*rsa.PublicKey{"other": &key.PublicKey}

	token := signJWT(t, key, "missing", claims{Tenant: "tenant-a"})
	_, err = verifyJWT(token, keys)
	assert.Error(t, err)
}

func TestAuthenticate_SystemAPIKey(t *testing.T) {
	cfg := AuthConfig{Environment: "production", SystemAPIKey: "topsecret"}
	tenant, err := Authenticate(context.Background(), "", "topsecret", cfg)
	require.NoError(t, err)
	assert.Equal(t, "system", tenant)
}

func TestAuthenticate_WrongAPIKeyRejected(t *testing.T) {
	cfg := AuthConfig{Environment: "production", SystemAPIKey: "topsecret"}
	_, err := Authenticate(context.Background(), "", "wrong", cfg)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAuthenticate_DevelopmentDefaultsTenantWhenUnauthenticated(t *testing.T) {
	cfg := AuthConfig{Environment: "development"}
	tenant, err := Authenticate(context.Background(), "", "", cfg)
	require.NoError(t, err)
	assert.Equal(t, "default-tenant", tenant)
}

func TestAuthenticate_ProductionRejectsUnauthenticated(t *testing.T) {
	cfg := AuthConfig{Environment: "production"}
	_, err := Authenticate(context.Background(), "", "", cfg)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestIsDisallowedIP(t *testing.T) {
	assert.True(t, isDisallowedIP(net.ParseIP("127.0.0.1")))
	assert.True(t, isDisallowedIP(net.ParseIP("10.0.0.5")))
	assert.True(t, isDisallowedIP(net.ParseIP("169.254.1.1")))
	assert.True(t, isDisallowedIP(net.ParseIP("192.168.1.1")))
	assert.False(t, isDisallowedIP(net.ParseIP("8.8.8.8")))
}

func TestJWKSCache_GuardURL_RequiresHTTPSInProduction(t *testing.T) {
	c := NewJWKSCache("http://example.com/jwks", time.Minute, true)
	err := c.guardURL("http://example.com/jwks")
	assert.Error(t, err)
}

func TestJWKSCache_GuardURL_RejectsLoopbackOutsideProduction(t *testing.T) {
	c := NewJWKSCache("http://127.0.0.1/jwks", time.Minute, false)
	// loopback is still disallowed regardless of environment
	err := c.guardURL("http://127.0.0.1/jwks")
	assert.Error(t, err)
}
