package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func makeRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func jwkFromRSA(kid string, pub *rsa.PublicKey) map[string]any {
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big64(pub.E))
	return map[string]any{
		"kty": "RSA",
		"kid": kid,
		"alg": "RS256",
		"n":   n,
		"e":   e,
	}
}

func big64(e int) []byte {
	b := []byte{byte(e >> 16), byte(e >> 8), byte(e)}
	// trim leading zero byte
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return b
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	})
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newJWKSServer(t *testing.T, keysJSON []map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keysJSON})
	})
	return httptest.NewServer(mux)
}

func TestJWTRoundTrip(t *testing.T) {
	key := makeRSAKey(t)
	server := newJWKSServer(t, []map[string]any{jwkFromRSA("key-1", &key.PublicKey)})
	defer server.Close()

	cache := NewCache(server.URL, nil)
	token := signToken(t, key, "key-1", "user-1", time.Now().Add(time.Hour))

	claims, err := cache.Validate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Sub)
}

func TestRotatingJWKSToDisjointSetFailsValidation(t *testing.T) {
	signingKey := makeRSAKey(t)
	otherKey := makeRSAKey(t)
	server := newJWKSServer(t, []map[string]any{jwkFromRSA("key-2", &otherKey.PublicKey)})
	defer server.Close()

	cache := NewCache(server.URL, nil)
	token := signToken(t, signingKey, "key-1", "user-1", time.Now().Add(time.Hour))

	_, err := cache.Validate(context.Background(), token)
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "alg")
	require.Contains(t, msg, "kid")
}

func TestExpiredTokenFailsValidation(t *testing.T) {
	key := makeRSAKey(t)
	server := newJWKSServer(t, []map[string]any{jwkFromRSA("key-1", &key.PublicKey)})
	defer server.Close()

	cache := NewCache(server.URL, nil)
	token := signToken(t, key, "key-1", "user-1", time.Now().Add(-time.Hour))

	_, err := cache.Validate(context.Background(), token)
	require.Error(t, err)
}

func ExampleCache_Validate() {
	fmt.Println("jwks cache validates tokens against a rotated key set")
	// Output: jwks cache validates tokens against a rotated key set
}
