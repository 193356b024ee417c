package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"sweeparr/internal/httputil"
	"sweeparr/internal/models"
)

const serviceName = "plex"

// maxPageBody bounds a single section page. Pages carry at most 100
// items but large libraries have long tag lists.
const maxPageBody = 50 << 20

// walkPace bounds section paging to ten pages a second.
var walkPace = rate.Limit(10)

// Client talks to one Plex Media Server over its HTTP API.
type Client struct {
	serverID int64
	name     string
	baseURL  string
	token    string
	http     *http.Client
	pace     *rate.Limiter
}

func NewClient(serverID int64, name, baseURL, token string) *Client {
	return &Client{
		serverID: serverID,
		name:     name,
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     httputil.NewClient(),
		pace:     rate.NewLimiter(walkPace, 1),
	}
}

func (c *Client) ServerID() int64 { return c.serverID }
func (c *Client) Name() string    { return c.name }
func (c *Client) BaseURL() string { return c.baseURL }
func (c *Client) Token() string   { return c.token }

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/xml")
}

// get fetches path (already query-encoded) and decodes the XML body
// into out, honoring the shared retry policy.
func (c *Client) get(ctx context.Context, path string, limit int64, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := httputil.Do(c.http, req, serviceName)
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("plex %s: %w", path, models.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plex %s: status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("plex %s: parse: %w", path, err)
	}
	return nil
}

type identityContainer struct {
	XMLName           xml.Name `xml:"MediaContainer"`
	MachineIdentifier string   `xml:"machineIdentifier,attr"`
	Version           string   `xml:"version,attr"`
}

// Identity reports the server's machine identifier and version. Used
// both as a liveness probe and to pin discovered connections to the
// right machine.
func (c *Client) Identity(ctx context.Context) (machineID, version string, err error) {
	var ic identityContainer
	if err := c.get(ctx, "/identity", httputil.MaxResponseBody, &ic); err != nil {
		return "", "", err
	}
	if ic.MachineIdentifier == "" {
		return "", "", fmt.Errorf("plex /identity: empty machine identifier")
	}
	return ic.MachineIdentifier, ic.Version, nil
}

// DeleteItem removes one item from the server library, deleting its
// files when the server allows it. An item that is already gone is not
// an error.
func (c *Client) DeleteItem(ctx context.Context, ratingKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/library/metadata/"+ratingKey, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := httputil.Do(c.http, req, serviceName)
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		slog.Debug("plex: delete target already gone", "ratingKey", ratingKey)
		return nil
	}
	return fmt.Errorf("plex delete %s: status %d", ratingKey, resp.StatusCode)
}
