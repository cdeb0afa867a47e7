// Package jwks implements OIDC-discovery-backed JWT validation with a
// TTL-cached key set and rotation support: each JWK in the cached set is
// tried in order until one verifies the token.
package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
)

const otelTracerName = "beacon-gateway/jwks"

// Claims are the gatekeeper token claims this gateway trusts. Audience
// is deliberately not validated (see spec Open Questions); only
// expiry is checked against wall clock.
type Claims struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"`
	Iss string `json:"iss,omitempty"`
}

// jwk is a single JSON Web Key as returned by a JWKS endpoint.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type cachedKeys struct {
	keys      []jwk
	expiresAt time.Time
}

// Cache resolves the JWKS URI via OIDC discovery (falling back to a
// conventional well-known path), fetches and caches the key set for one
// hour, and validates bearer tokens against it.
type Cache struct {
	authBaseURL string
	httpClient  *http.Client
	logger      *slog.Logger

	mu       sync.RWMutex
	keys     *cachedKeys
	jwksURI  string
	resolved bool
}

// NewCache returns a Cache that discovers keys relative to authBaseURL
// (e.g. "https://auth.example.com").
func NewCache(authBaseURL string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		authBaseURL: strings.TrimRight(authBaseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger.With("component", "jwks"),
	}
}

// Validate verifies token against the cached (or freshly fetched) key
// set, returning the first successful decode. The validation's accepted
// algorithm is constrained to exactly the token header's alg, avoiding
// key-type/alg confusion across the JWK family.
func (c *Cache) Validate(ctx context.Context, token string) (Claims, error) {
	ctx, span := otel.Tracer(otelTracerName).Start(ctx, "jwks.validate")
	defer span.End()

	keys, err := c.getKeys(ctx)
	if err != nil {
		return Claims{}, fmt.Errorf("fetch jwks: %w", err)
	}

	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Claims{}, fmt.Errorf("parse token header: %w", err)
	}
	alg, _ := unverified.Header["alg"].(string)
	kid, _ := unverified.Header["kid"].(string)

	var lastErr error
	for _, k := range keys {
		key, err := jwkToKey(k)
		if err != nil {
			c.logger.Debug("skip jwk", "kid", k.Kid, "error", err)
			continue
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, (*rawClaims)(claims), func(t *jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{alg}))
		if err != nil || !parsed.Valid {
			lastErr = err
			continue
		}
		return *claims, nil
	}

	return Claims{}, fmt.Errorf("no jwk verified token: alg=%q kid=%q keys=%d last_error=%v", alg, kid, len(keys), lastErr)
}

// rawClaims adapts Claims to jwt.ClaimsValidator with exp validated
// against wall clock and no audience requirement.
type rawClaims Claims

func (c *rawClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}
func (c *rawClaims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c *rawClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *rawClaims) GetIssuer() (string, error)              { return c.Iss, nil }
func (c *rawClaims) GetSubject() (string, error)              { return c.Sub, nil }
func (c *rawClaims) GetAudience() (jwt.ClaimStrings, error)   { return nil, nil }

// PurgeExpired drops the cached key set once it has expired, instead
// of waiting for the next Validate call to discover staleness. Safe to
// call from a background sweep; a nil or already-fresh cache is a
// no-op.
func (c *Cache) PurgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys != nil && !time.Now().Before(c.keys.expiresAt) {
		c.keys = nil
	}
}

func (c *Cache) getKeys(ctx context.Context) ([]jwk, error) {
	c.mu.RLock()
	if c.keys != nil && time.Now().Before(c.keys.expiresAt) {
		keys := c.keys.keys
		c.mu.RUnlock()
		return keys, nil
	}
	c.mu.RUnlock()

	uri, err := c.resolveJWKSURI(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", uri, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("malformed jwks body: %w", err)
	}

	c.mu.Lock()
	c.keys = &cachedKeys{keys: set.Keys, expiresAt: time.Now().Add(time.Hour)}
	c.mu.Unlock()

	return set.Keys, nil
}

func (c *Cache) resolveJWKSURI(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.resolved {
		uri := c.jwksURI
		c.mu.RUnlock()
		return uri, nil
	}
	c.mu.RUnlock()

	fallback := c.authBaseURL + "/.well-known/jwks.json"
	discoveryURL := c.authBaseURL + "/.well-known/openid-configuration"

	uri := fallback
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err == nil {
		if resp, err := c.httpClient.Do(req); err == nil {
			func() {
				defer resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					var doc struct {
						JwksURI string `json:"jwks_uri"`
					}
					if body, err := io.ReadAll(resp.Body); err == nil {
						if json.Unmarshal(body, &doc) == nil && doc.JwksURI != "" {
							uri = doc.JwksURI
							c.logger.Info("resolved jwks_uri via oidc discovery", "uri", uri)
						}
					}
				}
			}()
		}
	}
	if uri == fallback {
		c.logger.Debug("falling back to conventional jwks path", "uri", uri)
	}

	c.mu.Lock()
	c.jwksURI = uri
	c.resolved = true
	c.mu.Unlock()

	return uri, nil
}
