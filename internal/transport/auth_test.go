package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tukangworks/tukang/internal/config"
)

const testKID = "test-key-1"

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pub := key.Public().(*rsa.PublicKey)
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": testKID,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testIdentityConfig(jwksURL string) config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:       "https://auth.example.com",
		Audience:     "tukang-bff",
		JWKSURL:      jwksURL,
		JWKSCacheTTL: time.Hour,
		Algorithms:   []string{"RS256"},
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://auth.example.com",
		"aud":   "tukang-bff",
		"sub":   "user-1",
		"email": "user@example.com",
		"roles": []string{"provider"},
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
}

func runAuth(t *testing.T, cfg config.IdentityConfig, jwks *JWKSClient, authz string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var gotClaims map[string]any
	handler := JWTAuthenticator(cfg, jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/ui/screens", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, gotClaims
}

func TestJWTAuthenticator_valid_token(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, key)
	cfg := testIdentityConfig(srv.URL)
	jwks := NewJWKSClient(srv.URL, time.Hour)

	tokenStr := signToken(t, key, validClaims())
	w, claims := runAuth(t, cfg, jwks, "Bearer "+tokenStr)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if claims["sub"] != "user-1" {
		t.Errorf("sub claim = %v", claims["sub"])
	}
	if !jwks.Loaded() {
		t.Error("Loaded() = false after a successful fetch")
	}
}

func TestJWTAuthenticator_missing_header(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, key)
	jwks := NewJWKSClient(srv.URL, time.Hour)

	w, _ := runAuth(t, testIdentityConfig(srv.URL), jwks, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthenticator_malformed_header(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, key)
	jwks := NewJWKSClient(srv.URL, time.Hour)

	w, _ := runAuth(t, testIdentityConfig(srv.URL), jwks, "Token abc")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthenticator_expired_token(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, key)
	jwks := NewJWKSClient(srv.URL, time.Hour)

	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	tokenStr := signToken(t, key, claims)

	w, _ := runAuth(t, testIdentityConfig(srv.URL), jwks, "Bearer "+tokenStr)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error body: %v", err)
	}
	if body.Error.Message != "Token expired" {
		t.Errorf("message = %q, want Token expired", body.Error.Message)
	}
}

func TestJWTAuthenticator_wrong_issuer(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, key)
	jwks := NewJWKSClient(srv.URL, time.Hour)

	claims := validClaims()
	claims["iss"] = "https://evil.example.com"
	tokenStr := signToken(t, key, claims)

	w, _ := runAuth(t, testIdentityConfig(srv.URL), jwks, "Bearer "+tokenStr)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthenticator_wrong_audience(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, key)
	jwks := NewJWKSClient(srv.URL, time.Hour)

	claims := validClaims()
	claims["aud"] = "other-app"
	tokenStr := signToken(t, key, claims)

	w, _ := runAuth(t, testIdentityConfig(srv.URL), jwks, "Bearer "+tokenStr)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthenticator_wrong_key(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, key)
	jwks := NewJWKSClient(srv.URL, time.Hour)

	attacker := newSigningKey(t)
	tokenStr := signToken(t, attacker, validClaims())

	w, _ := runAuth(t, testIdentityConfig(srv.URL), jwks, "Bearer "+tokenStr)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestJWKSClient_unknown_kid(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, key)
	jwks := NewJWKSClient(srv.URL, time.Hour)

	if _, err := jwks.GetKey("other-kid"); err == nil {
		t.Error("GetKey(other-kid) should return error")
	}
}

func TestJWKSClient_skips_non_rsa_keys(t *testing.T) {
	key := newSigningKey(t)
	pub := key.Public().(*rsa.PublicKey)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{"kty": "EC", "kid": "ec-key", "crv": "P-256"},
				{
					"kty": "RSA",
					"kid": testKID,
					"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	jwks := NewJWKSClient(srv.URL, time.Hour)

	if _, err := jwks.GetKey(testKID); err != nil {
		t.Fatalf("GetKey(%s) error = %v", testKID, err)
	}
	if _, err := jwks.GetKey("ec-key"); err == nil {
		t.Error("GetKey(ec-key) should fail, EC keys are not supported")
	}
}

func TestJWKSClient_degraded_mode_uses_cached_key(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, key)
	// Zero TTL forces a refresh on every call.
	jwks := NewJWKSClient(srv.URL, 0)
	jwks.minRefresh = 0

	if _, err := jwks.GetKey(testKID); err != nil {
		t.Fatalf("initial GetKey error = %v", err)
	}

	srv.Close()
	if _, err := jwks.GetKey(testKID); err != nil {
		t.Errorf("GetKey after provider outage = %v, want cached key", err)
	}
}
