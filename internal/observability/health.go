package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// ReadinessChecks holds the dependency checks for the readiness endpoint.
// All checks are boolean probes of in-process state; the BFF holds no
// stateful external dependencies of its own.
type ReadinessChecks struct {
	DefinitionsLoaded func() bool
	OpenAPILoaded     func() bool
	JWKSLoaded        func() bool
}

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	probes := []struct {
		name string
		fn   func() bool
		err  string
	}{
		{"definitions", checks.DefinitionsLoaded, "no definitions loaded"},
		{"openapi_index", checks.OpenAPILoaded, "no OpenAPI specs loaded"},
		{"jwks", checks.JWKSLoaded, "no signing keys loaded"},
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		results := make(map[string]CheckResult)
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, probe := range probes {
			if probe.fn == nil {
				continue
			}
			wg.Add(1)
			go func(name string, fn func() bool, errMsg string) {
				defer wg.Done()
				start := time.Now()
				result := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
				if !fn() {
					result.Status = "error"
					result.Error = errMsg
					result.LatencyMs = time.Since(start).Milliseconds()
				}
				mu.Lock()
				results[name] = result
				mu.Unlock()
			}(probe.name, probe.fn, probe.err)
		}
		wg.Wait()

		status := "ready"
		httpStatus := http.StatusOK
		for _, result := range results {
			if result.Status != "ok" {
				status = "not_ready"
				httpStatus = http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(httpStatus)
		json.NewEncoder(w).Encode(ReadinessResponse{
			Status: status,
			Checks: results,
		})
	}
}
