package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowd-io/flowd/pkg/schema"
)

const (
	defaultHTTPTimeout     = 30 * time.Second
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
)

// HTTPHandler executes an outbound request. Method, URL, header values,
// and body are interpolated individually against the scope. A non-2xx
// status or transport error fails the node; there is no retry unless
// the node carries a retry policy.
type HTTPHandler struct {
	deps Deps
}

func (h *HTTPHandler) Type() schema.NodeType { return schema.NodeTypeHTTP }

func (h *HTTPHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	data, err := decodeData[schema.HTTPData](req.Node)
	if err != nil {
		return nil, err
	}
	if data.URL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http url is required").WithNode(req.Node.ID)
	}

	var output any
	attempts, err := withRetry(ctx, data.Retry, h.deps.Logger, req.Node.ID, func() error {
		var callErr error
		output, callErr = h.call(ctx, data, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return &Result{Output: output, Attempts: attempts}, nil
}

func (h *HTTPHandler) call(ctx context.Context, data schema.HTTPData, req *Request) (any, error) {
	scope := req.Scope

	rawURL, err := h.deps.Resolver.ResolveString(ctx, data.URL, scope)
	if err != nil {
		return nil, err
	}
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q", rawURL).WithNode(req.Node.ID)
	}

	method, err := h.deps.Resolver.ResolveString(ctx, data.Method, scope)
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	headers, err := h.deps.Resolver.ResolveMap(ctx, data.Headers, scope)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	contentType := ""
	if len(data.Body) > 0 {
		resolved, rerr := h.deps.Resolver.ResolveRaw(ctx, data.Body, scope)
		if rerr != nil {
			return nil, rerr
		}
		bodyReader = bytes.NewReader(resolved)
		contentType = "application/json"
	}

	timeout := defaultHTTPTimeout
	if data.Timeout != "" {
		if d, perr := time.ParseDuration(data.Timeout); perr == nil {
			timeout = d
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeHandler, "failed to build request").WithNode(req.Node.ID).WithCause(err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.deps.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "request failed: %v", err).WithNode(req.Node.ID).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeHandler, "failed to read response body").WithNode(req.Node.ID).WithCause(err)
	}

	parsedBody := parseResponseBody(resp.Header.Get("Content-Type"), bodyBytes)
	output := map[string]any{
		"status":      resp.StatusCode,
		"body":        parsedBody,
		"duration_ms": time.Since(start).Milliseconds(),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "http %s %s returned %d: %s",
			method, rawURL, resp.StatusCode, summarize(bodyBytes)).
			WithNode(req.Node.ID).
			WithDetails(output)
	}
	return output, nil
}

func parseResponseBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if strings.Contains(contentType, "application/json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			return parsed
		}
	}
	return string(body)
}

// summarize keeps error messages readable for large response bodies.
func summarize(body []byte) string {
	const limit = 256
	s := string(body)
	if len(s) > limit {
		return fmt.Sprintf("%s... (%d bytes)", s[:limit], len(s))
	}
	return s
}
