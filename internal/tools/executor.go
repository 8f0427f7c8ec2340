package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wolfganghq/centurion/internal/egress"
	"github.com/wolfganghq/centurion/internal/store"
)

const (
	defaultToolTimeout = 15 * time.Second
	maxAttempts        = 3
	retryBackoff       = 300 * time.Millisecond
)

var allowedMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// Result is the structured outcome handed back to the model. Failures are
// data, not errors: a broken tool must not take the dispatch down.
type Result struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code"`
	Body       any    `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
	Details    any    `json:"details,omitempty"`
}

// Executor performs tenant HTTP tool calls under the egress policy.
type Executor struct {
	client *http.Client
	policy *egress.Policy
	limits egress.Limits
	logger *slog.Logger
}

func NewExecutor(policy *egress.Policy, limits egress.Limits, logger *slog.Logger) *Executor {
	return &Executor{
		client: &http.Client{Timeout: defaultToolTimeout},
		policy: policy,
		limits: limits,
		logger: logger,
	}
}

func failure(msg string, details any) Result {
	return Result{OK: false, StatusCode: 0, Error: msg, Details: details}
}

// Execute runs one tool call end to end: egress check, size check, input
// schema validation, the HTTP exchange with retries, and output validation.
func (e *Executor) Execute(ctx context.Context, tool *store.ToolConfig, args map[string]any) Result {
	if err := e.policy.CheckURL(ctx, tool.Endpoint); err != nil {
		return failure("endpoint not allowed", map[string]any{
			"endpoint": tool.Endpoint,
			"reason":   err.Error(),
		})
	}
	if err := e.limits.CheckToolArgs(args, tool.ToolName); err != nil {
		return failure("arguments rejected", err.Error())
	}
	if len(tool.InputSchema) > 0 {
		if err := validateSchema(tool.InputSchema, args); err != nil {
			return failure("arguments failed schema validation", err.Error())
		}
	}

	method := strings.ToUpper(tool.Method)
	if _, ok := allowedMethods[method]; !ok {
		return failure("unsupported method", tool.Method)
	}

	timeout := defaultToolTimeout
	if tool.TimeoutMS > 0 {
		timeout = time.Duration(tool.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := e.doRequest(ctx, tool, method, args)
		if err == nil {
			return resp
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		e.logger.Warn("tool.request_retry",
			"tool", tool.ToolName, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			attempt = maxAttempts
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}
	return failure("request failed", lastErr.Error())
}

func (e *Executor) doRequest(ctx context.Context, tool *store.ToolConfig, method string, args map[string]any) (Result, error) {
	var req *http.Request
	var err error

	if method == http.MethodGet {
		endpoint, qerr := withQueryParams(tool.Endpoint, args)
		if qerr != nil {
			return Result{}, qerr
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	} else {
		body, merr := json.Marshal(args)
		if merr != nil {
			return Result{}, fmt.Errorf("encode arguments: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, method, tool.Endpoint, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}

	for k, v := range tool.Headers {
		req.Header.Set(k, v)
	}
	if aerr := applyAuth(req, tool.AuthType, tool.AuthConfig); aerr != nil {
		// Misconfigured auth is not retryable.
		return failure("auth configuration invalid", aerr.Error()), nil
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(e.limits.MaxToolResultBytes)+1))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	result := Result{
		OK:         resp.StatusCode < 400,
		StatusCode: resp.StatusCode,
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var body any
		if jerr := json.Unmarshal(raw, &body); jerr == nil {
			result.Body = body
		} else {
			result.Body = string(raw)
		}
	} else {
		result.Body = string(raw)
	}

	if result.OK && len(tool.OutputSchema) > 0 {
		if _, structured := result.Body.(string); !structured {
			if verr := validateSchema(tool.OutputSchema, result.Body); verr != nil {
				result.OK = false
				result.Error = "response failed schema validation"
				result.Details = verr.Error()
			}
		}
	}

	result.Body = e.limits.TruncateResult(result.Body)
	return result, nil
}

func withQueryParams(endpoint string, args map[string]any) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	for k, v := range args {
		switch t := v.(type) {
		case string:
			q.Set(k, t)
		case nil:
		default:
			b, merr := json.Marshal(t)
			if merr != nil {
				continue
			}
			q.Set(k, string(b))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func applyAuth(req *http.Request, authType string, authConfig map[string]any) error {
	switch authType {
	case "", "none":
		return nil
	case "bearer":
		token, _ := authConfig["token"].(string)
		if token == "" {
			return errors.New("bearer auth requires token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "api_key":
		key, _ := authConfig["key"].(string)
		if key == "" {
			return errors.New("api_key auth requires key")
		}
		headerName, _ := authConfig["header_name"].(string)
		if headerName == "" {
			headerName = "x-api-key"
		}
		req.Header.Set(headerName, key)
	case "basic":
		user, _ := authConfig["username"].(string)
		pass, _ := authConfig["password"].(string)
		if user == "" {
			return errors.New("basic auth requires username")
		}
		cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		req.Header.Set("Authorization", "Basic "+cred)
	default:
		return fmt.Errorf("unsupported auth type %q", authType)
	}
	return nil
}

// validateSchema checks a value against a raw JSON schema document.
func validateSchema(rawSchema json.RawMessage, value any) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(rawSchema))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline://schema.json", doc); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	schema, err := compiler.Compile("inline://schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	// Round-trip so the value matches the decoder's type mapping.
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return schema.Validate(decoded)
}
