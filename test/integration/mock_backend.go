package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server that simulates a backend
// service. It allows configuring per-operation responses and records all
// received requests for later assertion. Operations with no configured
// response fall back to built-in catalog fixtures so a fresh harness serves
// a working hierarchy without per-test setup.
type MockBackend struct {
	t         *testing.T
	serviceID string
	server    *httptest.Server

	mu           sync.RWMutex
	operations   map[string]*operationConfig
	receivedByOp map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Headers     http.Header
	Body        map[string]any
	RawBody     []byte
	ReceivedAt  time.Time
}

// operationConfig holds the configured responses for a single operation.
type operationConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
}

// OperationMock is a builder for configuring mock responses for a specific operation.
type OperationMock struct {
	backend *MockBackend
	opID    string
}

// operationRoute maps an operation ID to its HTTP method and path pattern.
type operationRoute struct {
	method      string
	pathPattern string
}

// newMockBackend creates a new mock backend and starts the HTTP test server.
func newMockBackend(t *testing.T, serviceID string, routes map[string]operationRoute) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:            t,
		serviceID:    serviceID,
		operations:   make(map[string]*operationConfig),
		receivedByOp: make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	for opID, route := range routes {
		pattern := route.method + " " + route.pathPattern
		mux.HandleFunc(pattern, mb.handleOperation(opID))
	}

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)

	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OnOperation returns a builder for configuring responses for the named operation.
func (mb *MockBackend) OnOperation(operationID string) *OperationMock {
	return &OperationMock{
		backend: mb,
		opID:    operationID,
	}
}

// RespondWith configures the operation to respond with the given status and body.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		status: status,
		body:   body,
	})
	return om
}

// RespondWithError configures the operation to respond with a backend error body.
func (om *OperationMock) RespondWithError(status int, message string) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		status: status,
		body:   map[string]any{"message": message},
	})
	return om
}

// RespondWithDelay configures a delayed response to simulate slow backends.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		status: status,
		body:   body,
		delay:  delay,
	})
	return om
}

// RespondWithConnectionError configures the operation to close the connection
// to simulate a backend failure.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		connError: true,
	})
	return om
}

func (mb *MockBackend) addResponse(opID string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.operations[opID]
	if !ok {
		cfg = &operationConfig{}
		mb.operations[opID] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) handleOperation(opID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &RecordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			QueryParams: make(map[string]string),
			Headers:     r.Header.Clone(),
			ReceivedAt:  time.Now(),
		}
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				rec.QueryParams[key] = values[0]
			}
		}
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			rec.RawBody = body
			if len(body) > 0 {
				var parsed map[string]any
				if err := json.Unmarshal(body, &parsed); err == nil {
					rec.Body = parsed
				}
			}
		}

		mb.mu.Lock()
		mb.receivedByOp[opID] = append(mb.receivedByOp[opID], rec)
		mb.mu.Unlock()

		resp := mb.getNextResponse(opID)
		if resp == nil {
			status, body := defaultResponse(opID, r)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if body != nil {
				json.NewEncoder(w).Encode(body)
			}
			return
		}

		if resp.connError {
			// Hijack the connection and close it to simulate a connection error.
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				if conn != nil {
					conn.Close()
				}
			}
			return
		}

		if resp.delay > 0 {
			time.Sleep(resp.delay)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		if resp.body != nil {
			json.NewEncoder(w).Encode(resp.body)
		}
	}
}

func (mb *MockBackend) getNextResponse(opID string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.operations[opID]
	mb.mu.RUnlock()
	if !ok || cfg == nil {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if len(cfg.responses) == 0 {
		return nil
	}

	idx := cfg.current
	if idx >= len(cfg.responses) {
		// Repeat the last response for subsequent calls.
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the operation was called the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, operationID string, expectedCount int) {
	t.Helper()
	mb.mu.RLock()
	actual := len(mb.receivedByOp[operationID])
	mb.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("mock %s: operation %q called %d times, want %d", mb.serviceID, operationID, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the operation was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, operationID string) {
	t.Helper()
	mb.AssertCalled(t, operationID, 0)
}

// CallCount returns the number of requests recorded for the operation.
func (mb *MockBackend) CallCount(operationID string) int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.receivedByOp[operationID])
}

// LastRequest returns the last request received for the given operation.
// Returns nil if no requests were recorded.
func (mb *MockBackend) LastRequest(operationID string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[operationID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AllRequests returns all requests received for the given operation.
func (mb *MockBackend) AllRequests(operationID string) []*RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[operationID]
	copied := make([]*RecordedRequest, len(reqs))
	copy(copied, reqs)
	return copied
}

// ResetOperation clears recorded requests and configured responses for one operation.
func (mb *MockBackend) ResetOperation(operationID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.operations, operationID)
	delete(mb.receivedByOp, operationID)
}

// catalogRoutes returns the operation routes for the catalog test spec.
// Kept in sync by hand with testdata/specs/catalog-svc.yaml to avoid
// importing kin-openapi into the harness.
func catalogRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"listRegions":      {method: "GET", pathPattern: "/v1/regions"},
		"listStates":       {method: "GET", pathPattern: "/v1/regions/{region}/states"},
		"listServiceTypes": {method: "GET", pathPattern: "/v1/service-types"},
		"listCategories":   {method: "GET", pathPattern: "/v1/categories"},
		"listItems":        {method: "GET", pathPattern: "/v1/categories/{category}/items"},
		"listTypes":        {method: "GET", pathPattern: "/v1/types"},
		"listDescriptions": {method: "GET", pathPattern: "/v1/descriptions"},
		"lookupPostcode":   {method: "GET", pathPattern: "/v1/postcodes"},
	}
}

// providersRoutes returns the operation routes for the providers test spec.
func providersRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"createProvider":  {method: "POST", pathPattern: "/v1/providers"},
		"getProvider":     {method: "GET", pathPattern: "/v1/providers/current"},
		"createCompany":   {method: "POST", pathPattern: "/v1/companies"},
		"createWorkOrder": {method: "POST", pathPattern: "/v1/workorders"},
		"updateSettings":  {method: "POST", pathPattern: "/v1/settings"},
	}
}

// defaultResponse serves the built-in fixtures for operations that have no
// configured response.
func defaultResponse(opID string, r *http.Request) (int, any) {
	switch opID {
	case "listRegions":
		return http.StatusOK, RegionItems()
	case "listStates":
		return http.StatusOK, StateItems(r.PathValue("region"))
	case "listServiceTypes":
		return http.StatusOK, ServiceTypeItems()
	case "listCategories":
		return http.StatusOK, CategoryItems()
	case "listItems":
		return http.StatusOK, CategoryItemItems(r.PathValue("category"))
	case "listTypes":
		return http.StatusOK, TypeItems()
	case "listDescriptions":
		return http.StatusOK, DescriptionItems()
	case "lookupPostcode":
		if r.URL.Query().Get("postcode") == "50450" {
			return http.StatusOK, map[string]string{"city": "Kuala Lumpur", "state": "W.P. Kuala Lumpur"}
		}
		return http.StatusNotFound, map[string]string{"message": "postcode not found"}
	case "createProvider":
		return http.StatusCreated, map[string]any{"id": "prov-1"}
	case "getProvider":
		return http.StatusOK, ProviderRecordFixture()
	case "createCompany":
		return http.StatusCreated, map[string]any{"id": "comp-1"}
	case "createWorkOrder":
		return http.StatusCreated, map[string]any{"id": "wo-1"}
	default:
		return http.StatusOK, map[string]string{"status": "ok"}
	}
}

// --- Fixtures ---

// RegionItems returns the default region enumeration.
func RegionItems() []map[string]any {
	return []map[string]any{
		{"id": "central", "name": "Central"},
		{"id": "north", "name": "North"},
	}
}

// StateItems returns the default state enumeration for a region.
func StateItems(region string) []map[string]any {
	switch region {
	case "central":
		return []map[string]any{
			{"id": "kl", "name": "Kuala Lumpur"},
			{"id": "sel", "name": "Selangor"},
		}
	case "north":
		return []map[string]any{
			{"id": "png", "name": "Penang"},
		}
	default:
		return []map[string]any{}
	}
}

// ServiceTypeItems returns the default service type enumeration.
func ServiceTypeItems() []map[string]any {
	return []map[string]any{
		{"id": "plumbing", "name": "Plumbing"},
		{"id": "wiring", "name": "Wiring"},
	}
}

// CategoryItems returns the default work category enumeration.
func CategoryItems() []map[string]any {
	return []map[string]any{
		{"id": "electrical", "name": "Electrical"},
		{"id": "plumbing", "name": "Plumbing"},
	}
}

// CategoryItemItems returns the default item enumeration for a category.
func CategoryItemItems(category string) []map[string]any {
	switch category {
	case "electrical":
		return []map[string]any{
			{"id": "switch", "name": "Switch"},
			{"id": "fan", "name": "Ceiling Fan"},
		}
	case "plumbing":
		return []map[string]any{
			{"id": "tap", "name": "Tap"},
		}
	default:
		return []map[string]any{}
	}
}

// TypeItems returns the default work type enumeration.
func TypeItems() []map[string]any {
	return []map[string]any{
		{"id": "repair", "name": "Repair"},
		{"id": "install", "name": "Installation"},
	}
}

// DescriptionItems returns the default work description enumeration.
func DescriptionItems() []map[string]any {
	return []map[string]any{
		{"id": "not-working", "name": "Not working"},
		{"id": "new-unit", "name": "New unit"},
	}
}

// ProviderRecordFixture returns a persisted provider record the shape the
// load endpoint serves: labels under level keys, IDs under "<key>_id".
func ProviderRecordFixture() map[string]any {
	return map[string]any{
		"name":     "Siti Aminah",
		"contact":  "0198765432",
		"postcode": "50450",
		"services": []any{
			map[string]any{
				"region":     "Central",
				"region_id":  "central",
				"state":      "Kuala Lumpur",
				"state_id":   "kl",
				"service":    "Plumbing",
				"service_id": "plumbing",
				"price":      120.0,
			},
		},
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
