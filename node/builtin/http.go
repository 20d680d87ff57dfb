package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nervemind/nervemind/credential"
	"github.com/nervemind/nervemind/execlog"
	"github.com/nervemind/nervemind/execution"
	"github.com/nervemind/nervemind/node"
	"github.com/nervemind/nervemind/workflow"
)

// redacted replaces credential-bearing header values in log records.
const redacted = "[redacted]"

var httpMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
	http.MethodOptions: true,
}

// HTTPRequest performs an HTTP call. Config: url (required), method
// (default GET), headers, body (string sent raw, anything else sent as
// JSON), timeout in milliseconds, credentialId, verbose. Credentials are
// applied by type and never surface in log records. Responses with status
// >= 400 fail the node; the status code rides in the error message so retry
// policies can reason about it.
type HTTPRequest struct {
	client *http.Client
}

// NewHTTPRequest builds the executor. A nil client gets a default with a
// 30 second overall timeout; per-node timeouts layer on top via context.
func NewHTTPRequest(client *http.Client) *HTTPRequest {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRequest{client: client}
}

// Info returns the node type identity.
func (h *HTTPRequest) Info() node.Info {
	return node.Info{
		Type:         "httpRequest",
		Name:         "HTTP Request",
		Category:     node.CategoryAction,
		Description:  "Calls an HTTP endpoint and returns status, headers and parsed body.",
		ConfigSchema: httpRequestSchema,
	}
}

// Validate flags a missing url and malformed method or timeout values.
func (h *HTTPRequest) Validate(params map[string]any) map[string]string {
	problems := make(map[string]string)
	if stringOr(params, "url", "") == "" {
		problems["url"] = "url is required"
	}
	if m := stringOr(params, "method", ""); m != "" && !httpMethods[strings.ToUpper(m)] && !expression(m) {
		problems["method"] = fmt.Sprintf("unsupported method %q", m)
	}
	if _, ok := params["timeout"]; ok && intOr(params, "timeout", -1) < 0 {
		problems["timeout"] = "timeout must be a non-negative number of milliseconds"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// Execute issues the request and returns {status, headers, body}. The body
// is decoded when the response carries JSON, otherwise returned as a string.
func (h *HTTPRequest) Execute(ctx context.Context, run *execution.Context, n workflow.Node, input map[string]any) (map[string]any, error) {
	params := n.Parameters
	target := strings.TrimSpace(stringParam(params, "url"))
	if target == "" {
		return nil, errors.New("url is required")
	}
	method := strings.ToUpper(stringOr(params, "method", http.MethodGet))

	if ms := intOr(params, "timeout", 0); ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	bodyBytes, contentType, err := encodeBody(params["body"])
	if err != nil {
		return nil, err
	}
	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := mapParam(params, "headers"); ok {
		for k := range headers {
			req.Header.Set(k, stringParam(headers, k))
		}
	}

	secretHeaders, err := h.applyCredential(ctx, run, n, params, req)
	if err != nil {
		return nil, err
	}

	verbose := boolOr(params, "verbose", false)
	if verbose {
		publish(ctx, run, execlog.New(execlog.LevelDebug, execlog.CategoryDataFlow, executionID(run), method+" "+target).
			WithNode(n.ID).
			WithContext(map[string]any{
				"direction": "request",
				"method":    method,
				"url":       target,
				"headers":   redactHeaders(req.Header, secretHeaders),
				"body":      execlog.Preview(string(bodyBytes)),
			}))
	}

	started := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("http request timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	duration := time.Since(started)

	if verbose {
		publish(ctx, run, execlog.New(execlog.LevelDebug, execlog.CategoryDataFlow, executionID(run), fmt.Sprintf("%d from %s", resp.StatusCode, target)).
			WithNode(n.ID).
			WithContext(map[string]any{
				"direction":  "response",
				"status":     resp.StatusCode,
				"durationMs": duration.Milliseconds(),
				"headers":    redactHeaders(resp.Header, nil),
				"body":       execlog.Preview(string(raw)),
			}))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("http request failed with status %d: %s", resp.StatusCode, execlog.Preview(string(raw)))
	}

	out := copyMap(input)
	out["status"] = resp.StatusCode
	out["headers"] = flattenHeaders(resp.Header)
	out["body"] = decodeBody(raw, resp.Header.Get("Content-Type"))
	return out, nil
}

// applyCredential resolves the node's credential, applies it to the request
// per credential type and returns the header names that now carry secrets.
func (h *HTTPRequest) applyCredential(ctx context.Context, run *execution.Context, n workflow.Node, params map[string]any, req *http.Request) ([]string, error) {
	id := stringOr(params, "credentialId", n.CredentialID)
	if id == "" {
		return nil, nil
	}
	if run == nil || run.Credentials == nil {
		return nil, errors.New("credential resolution is not configured")
	}
	cred, err := run.Credentials.Resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve credential %q: %w", id, err)
	}
	switch cred.Type {
	case credential.TypeAPIKey:
		key := cred.Data["apiKey"]
		if q := cred.Data["queryParam"]; q != "" {
			values := req.URL.Query()
			values.Set(q, key)
			req.URL.RawQuery = values.Encode()
			return nil, nil
		}
		header := cred.Data["headerName"]
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, key)
		return []string{header}, nil
	case credential.TypeBasic:
		req.SetBasicAuth(cred.Data["username"], cred.Data["password"])
		return []string{"Authorization"}, nil
	case credential.TypeBearer:
		req.Header.Set("Authorization", "Bearer "+cred.Data["token"])
		return []string{"Authorization"}, nil
	case credential.TypeOAuth2:
		req.Header.Set("Authorization", "Bearer "+cred.Data["accessToken"])
		return []string{"Authorization"}, nil
	case credential.TypeCustomHeader:
		header := cred.Data["headerName"]
		if header == "" {
			return nil, errors.New("custom-header credential missing headerName")
		}
		req.Header.Set(header, cred.Data["headerValue"])
		return []string{header}, nil
	default:
		return nil, fmt.Errorf("unsupported credential type %q", cred.Type)
	}
}

// encodeBody renders the body parameter: nil produces no body, strings are
// sent raw, everything else marshals to JSON.
func encodeBody(v any) ([]byte, string, error) {
	switch t := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		if t == "" {
			return nil, "", nil
		}
		return []byte(t), "", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return b, "application/json", nil
	}
}

// decodeBody parses JSON responses into structured data and leaves
// everything else as a string.
func decodeBody(raw []byte, contentType string) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	looksJSON := strings.Contains(contentType, "json") || trimmed[0] == '{' || trimmed[0] == '['
	if looksJSON {
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

// flattenHeaders keeps the first value per header, which is what workflow
// expressions index into.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// redactHeaders renders headers for log records, masking Authorization and
// any header a credential was written to.
func redactHeaders(h http.Header, secret []string) map[string]string {
	hidden := map[string]string{"Authorization": redacted}
	for _, name := range secret {
		hidden[http.CanonicalHeaderKey(name)] = redacted
	}
	out := make(map[string]string, len(h))
	for k := range h {
		if v, ok := hidden[http.CanonicalHeaderKey(k)]; ok {
			out[k] = v
			continue
		}
		out[k] = h.Get(k)
	}
	return out
}

// executionID tolerates executors exercised without a run context.
func executionID(run *execution.Context) string {
	if run == nil {
		return ""
	}
	return run.ExecutionID
}

// expression reports whether a raw parameter still carries interpolation
// syntax, in which case static validation cannot judge it.
func expression(s string) bool {
	return strings.Contains(s, "${")
}

var httpRequestSchema = []byte(`{
	"type": "object",
	"properties": {
		"url": {"type": "string"},
		"method": {"type": "string"},
		"headers": {"type": "object"},
		"body": {},
		"timeout": {"type": ["number", "string"]},
		"credentialId": {"type": "string"},
		"verbose": {"type": ["boolean", "string"]}
	},
	"required": ["url"]
}`)
