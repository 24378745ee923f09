package transport

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tukangworks/tukang/internal/config"
	"github.com/tukangworks/tukang/model"
)

// clockSkewLeeway is the tolerance applied to exp/nbf/iat checks.
const clockSkewLeeway = 30 * time.Second

// jwk is one entry of a JWKS document. Only RSA keys are supported; the
// identity providers this service fronts sign with RS256.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	if k.N == "" || k.E == "" {
		return nil, errors.New("jwk missing modulus or exponent")
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

// JWKSClient resolves token signing keys against the identity provider's
// JWKS endpoint. Fetched keys are cached for the configured TTL; when a
// refresh fails, previously cached keys keep verifying tokens so an identity
// provider outage does not take the whole API down with it.
type JWKSClient struct {
	url  string
	ttl  time.Duration
	http *http.Client

	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	fetchedAt  time.Time
	minRefresh time.Duration
}

// NewJWKSClient creates a key resolver for the given JWKS URL.
func NewJWKSClient(url string, ttl time.Duration) *JWKSClient {
	return &JWKSClient{
		url:        url,
		ttl:        ttl,
		minRefresh: 5 * time.Minute,
		http:       &http.Client{Timeout: 10 * time.Second},
		keys:       map[string]*rsa.PublicKey{},
	}
}

// GetKey returns the signing key for a key ID, refreshing the cached set
// when it is stale or the ID is unknown.
func (c *JWKSClient) GetKey(kid string) (*rsa.PublicKey, error) {
	if key := c.cached(kid, true); key != nil {
		return key, nil
	}

	if err := c.refresh(); err != nil {
		// Stale keys are still better than rejecting every request while
		// the provider is down.
		if key := c.cached(kid, false); key != nil {
			return key, nil
		}
		return nil, fmt.Errorf("jwks fetch: %w", err)
	}

	if key := c.cached(kid, false); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

// Loaded reports whether any signing key is cached, for readiness checks.
func (c *JWKSClient) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys) > 0
}

// cached returns the key for kid, or nil. With checkTTL set, an expired
// cache returns nil even on a hit so the caller refreshes.
func (c *JWKSClient) cached(kid string, checkTTL bool) *rsa.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if checkTTL && time.Since(c.fetchedAt) > c.ttl {
		return nil
	}
	return c.keys[kid]
}

func (c *JWKSClient) refresh() error {
	c.mu.RLock()
	recent := time.Since(c.fetchedAt) < c.minRefresh && len(c.keys) > 0
	c.mu.RUnlock()
	if recent {
		// A miss right after a fetch means the kid simply is not in the
		// set; hammering the provider will not change that.
		return nil
	}

	resp, err := c.http.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, c.url)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" || k.Kty != "RSA" {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// bearerToken extracts the token from the Authorization header. The error
// message distinguishes a missing header from a malformed one.
func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("Missing authorization header")
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return "", errors.New("Invalid authorization header format")
	}
	return token, nil
}

// JWTAuthenticator returns middleware that verifies bearer tokens against
// the identity configuration and stores the verified claims in the request
// context for the authorization layer.
func JWTAuthenticator(cfg config.IdentityConfig, jwks *JWKSClient) func(http.Handler) http.Handler {
	keyFor := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return jwks.GetKey(kid)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, err := bearerToken(r)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(err.Error()))
				return
			}

			token, err := jwt.Parse(tokenStr, keyFor,
				jwt.WithValidMethods(cfg.Algorithms),
				jwt.WithIssuer(cfg.Issuer),
				jwt.WithAudience(cfg.Audience),
				jwt.WithLeeway(clockSkewLeeway),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(rejectionReason(err)))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				WriteError(w, model.NewUnauthorizedError("Invalid token"))
				return
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rejectionReason maps a verification error to the client-facing message.
// Reasons stay coarse on purpose; the details would only help an attacker.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	default:
		return "Invalid token"
	}
}
