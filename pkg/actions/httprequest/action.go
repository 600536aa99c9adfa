// Package httprequest provides the http action: one templated HTTP call per node.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowrun/pkg/actions"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/template"
)

const (
	defaultTimeoutSeconds = 30
	maxBodyBytes          = 10 << 20
)

var (
	// ErrHTTPStatus is returned for responses with a status code of 400 or above.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
	// ErrInvalidURL is returned when the resolved URL is empty.
	ErrInvalidURL = errors.New("invalid HTTP request url")
)

// Config is the configuration of an http action node.
type Config struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
	Timeout int               `json:"timeout,omitempty"`
}

// ActionType implements actions.Config.
func (Config) ActionType() actions.Type {
	return actions.TypeHTTP
}

// Schema returns the JSON schema of the node configuration.
func Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": string(actions.TypeHTTP)},
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL. Supports {{placeholders}}.",
				"examples":    []string{"https://api.example.com/users/{{user_id}}"},
			},
			"method": map[string]any{
				"type":    "string",
				"default": http.MethodGet,
				"enum":    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "get", "post", "put", "delete", "patch", "head", "options"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "Request body. Strings are sent as-is, other values are JSON encoded.",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"maximum":     300,
				"description": "Timeout in seconds",
				"default":     defaultTimeoutSeconds,
			},
		},
		"required": []string{"url"},
	}
}

// Handler performs HTTP requests.
type Handler struct {
	client *http.Client
	logger *slog.Logger
}

// NewHandler creates a handler. A nil client selects http.DefaultClient's transport.
func NewHandler(client *http.Client, logger *slog.Logger) *Handler {
	if client == nil {
		client = &http.Client{}
	}

	return &Handler{
		client: client,
		logger: logger.With("module", "http_action"),
	}
}

// Execute resolves the request against the execution context, performs it and
// returns {status, headers, body, json}.
func (h *Handler) Execute(ctx context.Context, cfg Config, execCtx *models.ExecutionContext) (map[string]any, error) {
	data := execCtx.Snapshot()

	url := template.ResolveString(cfg.URL, data)
	if url == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolved := template.Resolve(cfg.Body, data)

	body, err := buildBody(resolved)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, template.ResolveString(value, data))
	}

	if resolved != nil && req.Header.Get("Content-Type") == "" {
		if _, isString := resolved.(string); !isString {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	h.logger.DebugContext(ctx, "sending http request", "method", method, "url", url)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	return h.processResponse(ctx, resp)
}

func buildBody(body any) (io.Reader, error) {
	switch v := body.(type) {
	case nil:
		return http.NoBody, nil
	case string:
		return strings.NewReader(v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		return bytes.NewReader(encoded), nil
	}
}

func (h *Handler) processResponse(ctx context.Context, resp *http.Response) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	result := map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    string(raw),
		"json":    nil,
	}

	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		result["json"] = decoded
	}

	h.logger.InfoContext(ctx, "http request completed", "status", resp.StatusCode, "bytes", len(raw))

	if resp.StatusCode >= http.StatusBadRequest {
		return result, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}

	return result, nil
}
