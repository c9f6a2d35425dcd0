// Package sync implements the REST transport the processor replays
// mutations through.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperengineering/fitsync"
)

// HTTPClient implements fitsync.Remote using net/http.
type HTTPClient struct {
	baseURL    string
	tokens     fitsync.TokenSource
	httpClient *http.Client
	debug      *fitsync.DebugLogger
	userAgent  string
}

// NewHTTPClient creates a new API client. tokens may be nil for
// unauthenticated backends.
func NewHTTPClient(apiURL string, tokens fitsync.TokenSource) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(apiURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		userAgent: "fitsync-client/1.0",
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.httpClient = client
	return c
}

// WithDebugLogger traces every request and response to l.
func (c *HTTPClient) WithDebugLogger(l *fitsync.DebugLogger) *HTTPClient {
	c.debug = l
	return c
}

// WithUserAgent overrides the User-Agent header.
func (c *HTTPClient) WithUserAgent(ua string) *HTTPClient {
	c.userAgent = ua
	return c
}

func (c *HTTPClient) setHeaders(ctx context.Context, req *http.Request) error {
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("auth token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	return nil
}

func newSyncError(op string, statusCode int, body []byte) *fitsync.SyncError {
	msg := ""
	if len(body) > 0 && statusCode >= 400 {
		if len(body) > 200 {
			msg = string(body[:200]) + "..."
		} else {
			msg = string(body)
		}
	}
	return &fitsync.SyncError{
		Operation:  op,
		StatusCode: statusCode,
		Err:        fmt.Errorf("HTTP %d: %s", statusCode, msg),
	}
}

// operation names a call for errors and logs, e.g. "set_create".
func operation(call fitsync.Call) string {
	return string(call.Entity) + "_" + strings.ToLower(string(call.Action))
}

// Send replays one mutation.
func (c *HTTPClient) Send(ctx context.Context, call fitsync.Call) (*fitsync.Ack, error) {
	op := operation(call)

	method, path, err := call.Route()
	if err != nil {
		return nil, err
	}

	body, err := requestBody(call)
	if err != nil {
		return nil, &fitsync.SyncError{Operation: op, Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &fitsync.SyncError{Operation: op, Err: err}
	}
	if err := c.setHeaders(ctx, req); err != nil {
		return nil, &fitsync.SyncError{Operation: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if call.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", call.IdempotencyKey)
	}

	c.debug.LogRequest(method, req.URL.String(), body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.debug.LogError(op, err)
		return nil, &fitsync.SyncError{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.debug.LogError(op, err)
		return nil, &fitsync.SyncError{Operation: op, StatusCode: resp.StatusCode, Err: err}
	}
	c.debug.LogResponse(resp.StatusCode, resp.Status, respBody)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newSyncError(op, resp.StatusCode, respBody)
	}

	ack := &fitsync.Ack{StatusCode: resp.StatusCode, Body: respBody}
	if call.Action == fitsync.ActionCreate {
		id, err := decodeID(respBody)
		if err != nil {
			c.debug.LogError(op, err)
			return nil, &fitsync.SyncError{Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", fitsync.ErrMalformedResponse, err)}
		}
		ack.RemoteID = id
	}
	return ack, nil
}

// Ping checks that the API answers its health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return &fitsync.SyncError{Operation: "health_check", Err: err}
	}
	if err := c.setHeaders(ctx, req); err != nil {
		return &fitsync.SyncError{Operation: "health_check", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &fitsync.SyncError{Operation: "health_check", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return newSyncError("health_check", resp.StatusCode, body)
	}
	return nil
}

// parentFields are local ids that only make sense on this device; the
// parent travels in the path instead.
var parentFields = []string{"workout_id", "workout_exercise_id"}

// requestBody builds the JSON body of a call. DELETEs have none. The local
// id is sent as client_id so the server can correlate retries.
func requestBody(call fitsync.Call) ([]byte, error) {
	if call.Action == fitsync.ActionDelete {
		return nil, nil
	}
	if call.Payload == nil {
		return nil, fmt.Errorf("%s %s: %w", call.Entity, call.Action, fitsync.ErrUnknownPayload)
	}

	raw, err := json.Marshal(call.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", call.Entity, err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", call.Entity, err)
	}
	for _, f := range parentFields {
		delete(fields, f)
	}
	if call.LocalID != "" {
		fields["client_id"] = call.LocalID
	}
	return json.Marshal(fields)
}

// createResponse accepts {"id": ...} and {"data": {"id": ...}} with the id
// as a number or a string.
type createResponse struct {
	ID   json.RawMessage `json:"id"`
	Data *struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

func decodeID(body []byte) (string, error) {
	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}

	raw := resp.ID
	if len(raw) == 0 && resp.Data != nil {
		raw = resp.Data.ID
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("create response has no id")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode id %s: %w", raw, err)
	}
	return n.String(), nil
}
