package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hs256Token(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	hdr, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, _ := json.Marshal(claims)
	enc := base64.RawURLEncoding
	signing := enc.EncodeToString(hdr) + "." + enc.EncodeToString(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signing))
	return signing + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestDevMode(t *testing.T) {
	v := NewVerifier("dev", "", "")
	p, err := v.Verify("t1:coordinator")
	require.NoError(t, err)
	assert.Equal(t, "t1", p.Tenant)
	assert.True(t, p.CanSchedule())
	assert.False(t, p.IsAdmin())

	p, err = v.Verify("t1:carer:s42")
	require.NoError(t, err)
	assert.Equal(t, "s42", p.StaffID)
	assert.True(t, p.CanReportVisit())
	assert.False(t, p.CanSchedule())

	_, err = v.Verify("garbage")
	assert.Error(t, err)
}

func TestHMACMode(t *testing.T) {
	v := NewVerifier("hmac", "topsecret", "")

	tok := hs256Token(t, "topsecret", map[string]any{"tenant": "t1", "role": "Admin", "sub": "s1"})
	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "admin", p.Role)
	assert.Equal(t, "s1", p.StaffID)

	// wrong key
	bad := hs256Token(t, "otherkey", map[string]any{"tenant": "t1", "role": "admin"})
	_, err = v.Verify(bad)
	assert.Error(t, err)

	// missing tenant
	tok = hs256Token(t, "topsecret", map[string]any{"role": "admin"})
	_, err = v.Verify(tok)
	assert.Error(t, err)
}

func TestHMACIssuer(t *testing.T) {
	v := NewVerifier("hmac", "topsecret", "")
	v.Issuer = "https://id.example"

	tok := hs256Token(t, "topsecret", map[string]any{"tenant": "t1", "role": "admin", "iss": "https://id.example"})
	_, err := v.Verify(tok)
	require.NoError(t, err)

	tok = hs256Token(t, "topsecret", map[string]any{"tenant": "t1", "role": "admin", "iss": "https://evil.example"})
	_, err = v.Verify(tok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer")
}

func TestHMACExpiry(t *testing.T) {
	v := NewVerifier("hmac", "topsecret", "")
	tok := hs256Token(t, "topsecret", map[string]any{"tenant": "t1", "role": "carer", "exp": time.Now().Add(-time.Minute).Unix()})
	_, err := v.Verify(tok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}
