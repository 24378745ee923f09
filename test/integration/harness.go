// Package integration provides a reusable test harness for end-to-end
// integration testing of the Tukang BFF server. It starts a full HTTP server
// with mock backend services, an in-memory session manager, and a test JWT
// issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tukangworks/tukang/internal/catalog"
	"github.com/tukangworks/tukang/internal/config"
	"github.com/tukangworks/tukang/internal/definition"
	"github.com/tukangworks/tukang/internal/observability"
	"github.com/tukangworks/tukang/internal/openapi"
	"github.com/tukangworks/tukang/internal/rules"
	"github.com/tukangworks/tukang/internal/session"
	"github.com/tukangworks/tukang/internal/transport"
	"github.com/tukangworks/tukang/model"
)

// TestHarness encapsulates a fully wired BFF instance with mock backends
// for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry *definition.Registry
	OAIndex  *openapi.Index
	Cache    *catalog.Cache
	Sessions *session.Manager

	backends map[string]*MockBackend
	cfg      *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	handlerTimeout time.Duration
	serviceTimeout time.Duration
	circuitBreaker config.CircuitBreakerConfig
	retry          config.RetryConfig
	sessionTTL     time.Duration
	maxPerSubject  int
	cacheTTL       time.Duration
}

// WithDefinitions sets the definition directories to load. Relative paths
// are resolved from the testdata directory.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithServiceTimeout sets the per-backend HTTP client timeout.
func WithServiceTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.serviceTimeout = d
	}
}

// WithCircuitBreaker sets the circuit breaker configuration for all backends.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.circuitBreaker = cb
	}
}

// WithRetry sets the retry policy for all backends.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.retry = r
	}
}

// WithSessionLimits sets the session TTL and the per-subject session cap.
func WithSessionLimits(ttl time.Duration, maxPerSubject int) HarnessOption {
	return func(c *harnessConfig) {
		c.sessionTTL = ttl
		c.maxPerSubject = maxPerSubject
	}
}

// WithCacheTTL sets the enumeration cache TTL.
func WithCacheTTL(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.cacheTTL = d
	}
}

// NewTestHarness creates and starts a full BFF test instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		serviceTimeout: 5 * time.Second,
		retry:          config.RetryConfig{MaxAttempts: 1},
		sessionTTL:     30 * time.Minute,
		maxPerSubject:  2,
		cacheTTL:       5 * time.Minute,
	}
	for _, opt := range opts {
		opt(hc)
	}

	testdata := testdataDir()
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(testdata, "definitions")}
	}

	h := &TestHarness{
		t:        t,
		backends: make(map[string]*MockBackend),
	}

	// Step 1: Mock backends for the two services the fixtures name.
	h.backends["catalog"] = newMockBackend(t, "catalog", catalogRoutes())
	h.backends["providers"] = newMockBackend(t, "providers", providersRoutes())

	// Step 2: Load the OpenAPI index from the testdata specs.
	h.OAIndex = openapi.NewIndex()
	err := h.OAIndex.Load([]openapi.SpecSource{
		{ServiceID: "catalog", SpecPath: filepath.Join(testdata, "specs", "catalog-svc.yaml")},
		{ServiceID: "providers", SpecPath: filepath.Join(testdata, "specs", "providers-svc.yaml")},
	})
	if err != nil {
		t.Fatalf("load OpenAPI specs: %v", err)
	}

	// Step 3: Load and validate definitions, the same gate startup applies.
	defs, err := definition.NewLoader().LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	services := map[string]bool{"catalog": true, "providers": true}
	if verrs := definition.NewValidator(rules.KnownFormats()).Validate(defs, services, h.OAIndex); len(verrs) > 0 {
		t.Fatalf("definition validation failed: %v", verrs)
	}
	h.Registry = definition.NewRegistry(defs)

	// Step 4: Catalog client and cache against the mock backends.
	serviceConfigs := make(map[string]config.ServiceConfig, len(h.backends))
	for svcID, mb := range h.backends {
		serviceConfigs[svcID] = config.ServiceConfig{
			BaseURL:        mb.URL(),
			Timeout:        hc.serviceTimeout,
			CircuitBreaker: hc.circuitBreaker,
			Retry:          hc.retry,
		}
	}
	postcode := config.PostcodeConfig{ServiceID: "catalog", Path: "/v1/postcodes", Param: "postcode"}
	client := catalog.NewClient(h.Registry, serviceConfigs, postcode, nil)
	h.Cache = catalog.NewCache(client, hc.cacheTTL, 1000, nil)

	// Step 5: Session manager.
	h.Sessions = session.NewManager(config.SessionsConfig{
		TTL:           hc.sessionTTL,
		SweepInterval: time.Minute,
		MaxPerSubject: hc.maxPerSubject,
	}, h.Cache, nil, zap.NewNop())
	h.Sessions.Start()
	t.Cleanup(h.Sessions.Stop)

	// Step 6: JWT issuer and config.
	h.issuer = newTokenIssuer(t)
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Identity = config.IdentityConfig{
		Issuer:       h.issuer.Issuer(),
		Audience:     h.issuer.Audience(),
		JWKSURL:      h.issuer.JWKSURL(),
		JWKSCacheTTL: time.Hour,
		Algorithms:   []string{"RS256"},
	}
	cfg.Services = serviceConfigs
	h.cfg = cfg

	// Step 7: Router with the full middleware chain.
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour)
	handlers := transport.NewHandlers(h.Registry, h.Sessions, client, nil, zap.NewNop())

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Handlers: handlers,
		Ready: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(h.Registry.AllDomains()) > 0 },
			OpenAPILoaded:     func() bool { return h.OAIndex.PathCount("catalog") > 0 },
			JWKSLoaded:        jwks.Loaded,
		},
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
	})

	// Step 8: Start the test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// MockBackend returns the mock backend for the given service ID.
func (h *TestHarness) MockBackend(serviceID string) *MockBackend {
	mb, ok := h.backends[serviceID]
	if !ok {
		h.t.Fatalf("mock backend %q not configured", serviceID)
	}
	return mb
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with extra headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status code and stable error code of an error
// response, and returns the parsed envelope for further assertions.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, status int, code string) *model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error == nil {
		t.Fatalf("response has no error envelope")
	}
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
	return body.Error
}

// --- Default test claims ---

// ProviderClaims returns TestClaims for a service provider user.
func ProviderClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-provider",
		Email:     "provider@tukang.example.com",
		Roles:     []string{"provider"},
	}
}

// AdminClaims returns TestClaims for a marketplace admin user.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		Email:     "admin@tukang.example.com",
		Roles:     []string{"admin"},
	}
}

// CustomerClaims returns TestClaims for a customer user.
func CustomerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-customer",
		Email:     "customer@tukang.example.com",
		Roles:     []string{"customer"},
	}
}

// CompanyClaims returns TestClaims for a company user.
func CompanyClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-company",
		Email:     "company@tukang.example.com",
		Roles:     []string{"company"},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// sessionPath builds a session-scoped API path.
func sessionPath(sessionID string, parts ...string) string {
	p := "/ui/sessions/" + sessionID
	if len(parts) > 0 {
		p += "/" + strings.Join(parts, "/")
	}
	return p
}

// selectorLevelPath builds the path for a screen-selector level selection.
func selectorLevelPath(sessionID, selectorID string, level int) string {
	return sessionPath(sessionID, "selectors", selectorID, "levels", fmt.Sprint(level))
}

// rowLevelPath builds the path for a row-level selection.
func rowLevelPath(sessionID, sectionID string, row, level int) string {
	return sessionPath(sessionID, "rows", sectionID, fmt.Sprint(row), "levels", fmt.Sprint(level))
}
