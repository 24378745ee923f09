// Package catalog fetches enumeration lists from the marketplace backend:
// the geographic hierarchy (region, state, city), the work classification
// hierarchy (category, item, type, description), and the postcode reverse
// lookup. It owns the per-service HTTP clients, retry policy, circuit
// breakers, and the session-scoped enumeration cache.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tukangworks/tukang/internal/config"
	"github.com/tukangworks/tukang/internal/definition"
	"github.com/tukangworks/tukang/internal/observability"
	"github.com/tukangworks/tukang/internal/rules"
	"github.com/tukangworks/tukang/model"
)

// serviceClient holds the HTTP client, circuit breaker, and retry config
// for a single backend service.
type serviceClient struct {
	cfg     config.ServiceConfig
	client  *http.Client
	breaker *CircuitBreaker
}

// Client executes read-only enumeration requests and submission posts
// against the configured backend services.
type Client struct {
	registry *definition.Registry
	clients  map[string]*serviceClient
	postcode config.PostcodeConfig
	metrics  *observability.Metrics
}

// NewClient creates a catalog client with per-service HTTP clients, circuit
// breakers, and retry policies. metrics may be nil.
func NewClient(registry *definition.Registry, services map[string]config.ServiceConfig,
	postcode config.PostcodeConfig, metrics *observability.Metrics) *Client {
	clients := make(map[string]*serviceClient, len(services))
	for id, svcCfg := range services {
		timeout := svcCfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		cbCfg := svcCfg.CircuitBreaker
		clients[id] = &serviceClient{
			cfg: svcCfg,
			client: &http.Client{
				Timeout:   timeout,
				Transport: transport,
			},
			breaker: NewCircuitBreaker(
				cbCfg.FailureThreshold,
				cbCfg.SuccessThreshold,
				cbCfg.Timeout,
				cbCfg.ErrorRateThreshold,
				cbCfg.ErrorRateWindow,
			),
		}
	}
	return &Client{
		registry: registry,
		clients:  clients,
		postcode: postcode,
		metrics:  metrics,
	}
}

// Children fetches the enumeration list of the given endpoint. parents maps
// hierarchy level keys to the selected ancestor item IDs; they fill the
// endpoint's path placeholders and query parameters.
func (c *Client) Children(ctx context.Context, endpointID string, parents map[string]string) ([]model.Item, error) {
	ep, ok := c.registry.GetEndpoint(endpointID)
	if !ok {
		return nil, fmt.Errorf("catalog: endpoint %q not defined", endpointID)
	}

	svc, ok := c.clients[ep.ServiceID]
	if !ok {
		return nil, fmt.Errorf("catalog: service %q not configured", ep.ServiceID)
	}

	reqURL, err := buildEndpointURL(svc.cfg.BaseURL, ep, parents)
	if err != nil {
		return nil, fmt.Errorf("catalog: endpoint %q: %w", endpointID, err)
	}

	body, status, err := c.executeWithRetry(ctx, svc, ep.ServiceID, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("catalog: endpoint %q returned status %d", endpointID, status)
	}

	items, err := decodeItems(body, ep)
	if err != nil {
		return nil, fmt.Errorf("catalog: endpoint %q: %w", endpointID, err)
	}
	return items, nil
}

// Postcode resolves a postal code to its city and state. Callers invoke it
// only for exactly-five-digit values; anything else is rejected here without
// a backend call.
func (c *Client) Postcode(ctx context.Context, postcode string) (model.PostcodeResult, error) {
	if !rules.MatchesFormat("postcode", postcode) {
		return model.PostcodeResult{}, model.NewBadRequestError("postcode must be exactly 5 digits")
	}

	svc, ok := c.clients[c.postcode.ServiceID]
	if !ok {
		return model.PostcodeResult{}, fmt.Errorf("catalog: postcode service %q not configured", c.postcode.ServiceID)
	}

	param := c.postcode.Param
	if param == "" {
		param = "postcode"
	}
	reqURL := strings.TrimRight(svc.cfg.BaseURL, "/") + c.postcode.Path +
		"?" + url.Values{param: []string{postcode}}.Encode()

	body, status, err := c.executeWithRetry(ctx, svc, c.postcode.ServiceID, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.PostcodeResult{}, err
	}
	if status == http.StatusNotFound {
		return model.PostcodeResult{}, model.NewNotFoundError(fmt.Sprintf("postcode %q not found", postcode))
	}
	if status < 200 || status >= 300 {
		return model.PostcodeResult{}, fmt.Errorf("catalog: postcode lookup returned status %d", status)
	}

	var result model.PostcodeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return model.PostcodeResult{}, fmt.Errorf("catalog: postcode lookup: decode: %w", err)
	}
	return result, nil
}

// Submit posts an assembled payload to the screen's backend endpoint. It
// returns the decoded backend response body when the backend accepts the
// submission, or a SUBMISSION_ERROR envelope when it rejects it.
func (c *Client) Submit(ctx context.Context, op model.OperationDefinition, payload map[string]any) (map[string]any, error) {
	svc, ok := c.clients[op.ServiceID]
	if !ok {
		return nil, fmt.Errorf("catalog: service %q not configured", op.ServiceID)
	}

	method := op.Method
	if method == "" {
		method = http.MethodPost
	}
	reqURL := strings.TrimRight(svc.cfg.BaseURL, "/") + op.Path

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal payload: %w", err)
	}

	respBody, status, err := c.executeWithRetry(ctx, svc, op.ServiceID, method, reqURL, bodyBytes)
	if err != nil {
		return nil, err
	}

	var decoded map[string]any
	if len(respBody) > 0 {
		// A non-JSON body is tolerated; the status code decides the outcome.
		_ = json.Unmarshal(respBody, &decoded)
	}

	if status < 200 || status >= 300 {
		msg := backendMessage(decoded)
		if msg == "" {
			msg = fmt.Sprintf("backend rejected the submission with status %d", status)
		}
		return nil, model.NewSubmissionError(msg)
	}
	return decoded, nil
}

// Load fetches an existing record through the screen's load endpoint, for
// hydrating a session in edit mode.
func (c *Client) Load(ctx context.Context, op model.OperationDefinition) (map[string]any, error) {
	svc, ok := c.clients[op.ServiceID]
	if !ok {
		return nil, fmt.Errorf("catalog: service %q not configured", op.ServiceID)
	}

	method := op.Method
	if method == "" {
		method = http.MethodGet
	}
	reqURL := strings.TrimRight(svc.cfg.BaseURL, "/") + op.Path

	respBody, status, err := c.executeWithRetry(ctx, svc, op.ServiceID, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, model.NewNotFoundError("record not found")
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("catalog: load returned status %d", status)
	}

	var decoded map[string]any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("catalog: load: decode: %w", err)
	}
	return decoded, nil
}

// BreakerState reports the circuit breaker state for a service, for
// readiness checks and metrics.
func (c *Client) BreakerState(serviceID string) (BreakerState, bool) {
	svc, ok := c.clients[serviceID]
	if !ok {
		return BreakerClosed, false
	}
	return svc.breaker.State(), true
}

// executeWithRetry wraps executeOnce with retry logic and exponential
// backoff. Retries only idempotent methods when the service is configured
// idempotent-only.
func (c *Client) executeWithRetry(ctx context.Context, svc *serviceClient, serviceID,
	method, reqURL string, body []byte) ([]byte, int, error) {
	retryCfg := svc.cfg.Retry
	maxAttempts := retryCfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	canRetry := isIdempotentMethod(method) || !retryCfg.IdempotentOnly

	var lastErr error
	var lastBody []byte
	var lastStatus int

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(retryCfg, attempt)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
			if c.metrics != nil {
				c.metrics.RecordBackendRetry(serviceID)
			}
		}

		respBody, status, err := c.executeOnce(ctx, svc, serviceID, method, reqURL, body)
		if err != nil {
			lastErr = err
			if !canRetry || !isRetryableError(err) {
				return nil, 0, err
			}
			slog.Debug("catalog: retrying after error",
				"attempt", attempt+1,
				"max", maxAttempts,
				"error", err,
			)
			continue
		}

		if isRetryableStatus(status) && canRetry && attempt < maxAttempts-1 {
			lastBody, lastStatus = respBody, status
			slog.Debug("catalog: retrying after status",
				"attempt", attempt+1,
				"status", status,
			)
			continue
		}

		return respBody, status, nil
	}

	if lastStatus != 0 {
		return lastBody, lastStatus, nil
	}
	return nil, 0, lastErr
}

// executeOnce performs a single HTTP round trip guarded by the service's
// circuit breaker.
func (c *Client) executeOnce(ctx context.Context, svc *serviceClient, serviceID,
	method, reqURL string, body []byte) ([]byte, int, error) {
	if err := svc.breaker.Allow(); err != nil {
		return nil, 0, model.NewBackendUnavailableError()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.CorrelationID != "" {
		req.Header.Set("X-Correlation-Id", rctx.CorrelationID)
	}

	start := time.Now()
	resp, err := svc.client.Do(req)
	if c.metrics != nil {
		defer func() {
			c.metrics.SetBreakerState(serviceID, int(svc.breaker.State()))
		}()
	}
	if err != nil {
		svc.breaker.RecordFailure()
		if c.metrics != nil {
			c.metrics.RecordBackendRequest(serviceID, 0, time.Since(start))
		}
		return nil, 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		svc.breaker.RecordFailure()
		return nil, 0, fmt.Errorf("catalog: read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		svc.breaker.RecordFailure()
	} else {
		svc.breaker.RecordSuccess()
	}
	if c.metrics != nil {
		c.metrics.RecordBackendRequest(serviceID, resp.StatusCode, time.Since(start))
	}

	return respBody, resp.StatusCode, nil
}

// buildEndpointURL renders the endpoint path template and query string from
// the ancestor selections.
func buildEndpointURL(baseURL string, ep model.EndpointDefinition, parents map[string]string) (string, error) {
	path := ep.Path
	for key, value := range parents {
		path = strings.ReplaceAll(path, "{"+key+"}", url.PathEscape(value))
	}
	if i := strings.Index(path, "{"); i >= 0 {
		return "", fmt.Errorf("unresolved path placeholder in %q", path)
	}

	query := url.Values{}
	for param, levelKey := range ep.Query {
		value, ok := parents[levelKey]
		if !ok {
			return "", fmt.Errorf("missing parent selection for level %q", levelKey)
		}
		query.Set(param, value)
	}

	full := strings.TrimRight(baseURL, "/") + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full, nil
}

// decodeItems maps the backend response onto []model.Item using the
// endpoint's field mapping. Responses are either a bare array or an object
// wrapping the array under ItemsPath (default "data", then "items").
func decodeItems(body []byte, ep model.EndpointDefinition) ([]model.Item, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	arr, ok := raw.([]any)
	if !ok {
		obj, isObj := raw.(map[string]any)
		if !isObj {
			return nil, fmt.Errorf("unexpected response shape")
		}
		paths := []string{"data", "items"}
		if ep.ItemsPath != "" {
			paths = []string{ep.ItemsPath}
		}
		for _, p := range paths {
			if inner, exists := obj[p]; exists {
				if arr, ok = inner.([]any); ok {
					break
				}
			}
		}
		if arr == nil {
			return nil, fmt.Errorf("no item array found in response")
		}
	}

	items := make([]model.Item, 0, len(arr))
	for _, entry := range arr {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := model.Item{
			ID:    fieldString(m, ep.IDField),
			Label: fieldString(m, ep.LabelField),
		}
		if item.ID == "" && item.Label == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// fieldString extracts a string representation of a response field. Catalog
// backends return numeric IDs for some hierarchies, so numbers are accepted.
func fieldString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return ""
	}
}

// backendMessage pulls a human-readable message out of a backend error body.
func backendMessage(body map[string]any) string {
	for _, key := range []string{"message", "error", "detail"} {
		if s, ok := body[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func isRetryableStatus(status int) bool {
	return status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout ||
		status == http.StatusTooManyRequests
}

func isRetryableError(err error) bool {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code == model.ErrBackendTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// classifyTransportError maps transport failures onto the stable error
// codes surfaced to the frontend.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewBackendTimeoutError()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewBackendTimeoutError()
	}
	return model.NewBackendUnavailableError()
}

// calculateBackoff computes the delay before the given retry attempt.
func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	maxDelay := cfg.BackoffMax
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay > maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
