package arrutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"sweeparr/internal/httputil"
)

// Client provides shared HTTP plumbing for Sonarr/Radarr v3 APIs.
type Client struct {
	BaseURL string
	APIKey  string
	Name    string
	HTTP    *http.Client
}

func New(name, baseURL, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if err := httputil.ValidateIntegrationURL(baseURL); err != nil {
		return nil, err
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Name:    name,
		HTTP:    httputil.NewClientWithTimeout(httputil.DefaultTimeout),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (json.RawMessage, int, error) {
	u := c.BaseURL + "/api/v3" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httputil.Do(c.HTTP, req, c.Name)
	if err != nil {
		return nil, 0, err
	}
	defer httputil.DrainBody(resp)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("%s returned status %d: %s", c.Name, resp.StatusCode, httputil.Truncate(respBody, 200))
	}

	return json.RawMessage(respBody), resp.StatusCode, nil
}

func (c *Client) DoGet(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	raw, _, err := c.do(ctx, http.MethodGet, path, query, nil)
	return raw, err
}

func (c *Client) DoPut(ctx context.Context, path string, body json.RawMessage) (json.RawMessage, error) {
	raw, _, err := c.do(ctx, http.MethodPut, path, nil, bytes.NewReader(body))
	return raw, err
}

// DoDelete removes a resource. A 404 means it is already gone and is
// not an error.
func (c *Client) DoDelete(ctx context.Context, path string, query url.Values) error {
	_, status, err := c.do(ctx, http.MethodDelete, path, query, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.DoGet(ctx, "/system/status", nil)
	return err
}
