// Package pluginhub is a Go client for the PluginHub admin REST API.
package pluginhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"PluginHub/pkg/plugin"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the PluginHub admin API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

// OperationResult is the server's answer to a targeted lifecycle call.
type OperationResult struct {
	Plugin    string         `json:"plugin"`
	Operation string         `json:"operation"`
	Outcome   plugin.Outcome `json:"outcome"`
}

// APIError represents a response the server could not map to an outcome.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("pluginhub api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the PluginHub API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// SetAccessToken configures the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.token = token
}

// Plugins lists the coordinator followed by every registered plugin.
func (c *Client) Plugins(ctx context.Context) ([]plugin.Status, error) {
	var out []plugin.Status
	if err := c.call(ctx, http.MethodGet, "/api/v1/plugins", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Activate asks the coordinator to activate the plugin registered under id.
func (c *Client) Activate(ctx context.Context, id string) (plugin.Outcome, error) {
	return c.operate(ctx, id, "activate", nil)
}

// Deactivate asks the coordinator to deactivate the plugin registered under id.
func (c *Client) Deactivate(ctx context.Context, id string) (plugin.Outcome, error) {
	return c.operate(ctx, id, "deactivate", nil)
}

// Execute runs the plugin registered under id with the given models. Models
// must be JSON encodable.
func (c *Client) Execute(ctx context.Context, id string, models ...any) (plugin.Outcome, error) {
	if models == nil {
		models = []any{}
	}
	return c.operate(ctx, id, "execute", models)
}

// Init triggers the coordinator init fan-out and reports its boolean result.
func (c *Client) Init(ctx context.Context, configs ...string) (bool, error) {
	if configs == nil {
		configs = []string{}
	}
	var out struct {
		OK bool `json:"ok"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/init", nil, configs, &out, http.StatusInternalServerError)
	if err != nil {
		return false, err
	}
	return out.OK, nil
}

// Events returns up to limit recent lifecycle events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]plugin.Event, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out []plugin.Event
	if err := c.call(ctx, http.MethodGet, "/api/v1/events", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) operate(ctx context.Context, id, action string, payload any) (plugin.Outcome, error) {
	endpoint := "/api/v1/plugins/" + url.PathEscape(id) + "/" + action
	var out OperationResult
	err := c.call(ctx, http.MethodPost, endpoint, nil, payload, &out, http.StatusNotFound, http.StatusConflict)
	if err != nil {
		return "", err
	}
	return out.Outcome, nil
}

// call performs the request and decodes the body into out. endpoint must
// already be path-escaped. Status codes in accepted are decoded like 2xx
// responses.
func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, payload, out any, accepted ...int) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	u := *c.baseURL
	u.RawPath = path.Join(c.baseURL.EscapedPath(), endpoint)
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return fmt.Errorf("build request path: %w", err)
	}
	u.Path = unescaped
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && !contains(accepted, resp.StatusCode) {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func contains(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
