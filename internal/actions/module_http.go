package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPRequestModule performs a single HTTP request and returns status and
// body. JSON responses are decoded into structured output.
type HTTPRequestModule struct {
	client *http.Client
}

func NewHTTPRequestModule() *HTTPRequestModule {
	return &HTTPRequestModule{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *HTTPRequestModule) ID() string { return "http_request" }

func (m *HTTPRequestModule) Validate(params map[string]any) error {
	url, _ := params["url"].(string)
	if url == "" {
		return fmt.Errorf("url is required")
	}
	if method, ok := params["method"].(string); ok && method != "" {
		switch strings.ToUpper(method) {
		case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
		default:
			return fmt.Errorf("unsupported method %q", method)
		}
	}
	return nil
}

func (m *HTTPRequestModule) Execute(ctx context.Context, input map[string]any, _ string) (map[string]any, error) {
	url, _ := input["url"].(string)
	method, _ := input["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	var bodyReader io.Reader
	if body, ok := input["body"].(string); ok && body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("request build failed: %w", err)
	}
	if headers, ok := input["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("response read failed: %w", err)
	}

	out := map[string]any{"status": resp.StatusCode}
	var parsed any
	if json.Unmarshal(raw, &parsed) == nil {
		out["body"] = parsed
	} else {
		out["body"] = string(raw)
	}
	return out, nil
}
