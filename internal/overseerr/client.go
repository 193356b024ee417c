package overseerr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"sweeparr/internal/httputil"
	"sweeparr/internal/models"
)

// ValidateURL checks that the given URL is valid for use as an Overseerr endpoint.
var ValidateURL = httputil.ValidateIntegrationURL

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if err := ValidateURL(baseURL); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httputil.NewClientWithTimeout(httputil.DefaultTimeout),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) (json.RawMessage, int, error) {
	u := c.baseURL + "/api/v1" + path
	if len(query) > 0 {
		// url.Values.Encode() uses + for spaces per x-www-form-urlencoded;
		// Overseerr expects %20 in query parameters.
		u += "?" + strings.ReplaceAll(query.Encode(), "+", "%20")
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := httputil.Do(c.http, req, "overseerr")
	if err != nil {
		return nil, 0, err
	}
	defer httputil.DrainBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("Overseerr returned status %d: %s", resp.StatusCode, httputil.Truncate(body, 200))
	}

	return json.RawMessage(body), resp.StatusCode, nil
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	raw, _, err := c.do(ctx, http.MethodGet, path, query)
	return raw, err
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	_, status, err := c.do(ctx, http.MethodDelete, path, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.doGet(ctx, "/status", nil)
	return err
}

type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type listUsersResponse struct {
	PageInfo struct {
		Pages   int `json:"pages"`
		Page    int `json:"page"`
		Results int `json:"results"`
	} `json:"pageInfo"`
	Results []User `json:"results"`
}

const maxListUsersPages = 100 // safety valve: 5,000 users max

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	const pageSize = 50
	var all []User

	for page := 0; page < maxListUsersPages; page++ {
		skip := page * pageSize
		params := url.Values{}
		params.Set("take", strconv.Itoa(pageSize))
		if skip > 0 {
			params.Set("skip", strconv.Itoa(skip))
		}

		raw, err := c.doGet(ctx, "/user", params)
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}

		var resp listUsersResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("parsing user list: %w", err)
		}

		if all == nil {
			all = make([]User, 0, resp.PageInfo.Pages*pageSize)
		}
		all = append(all, resp.Results...)

		if resp.PageInfo.Page >= resp.PageInfo.Pages || len(resp.Results) < pageSize {
			break
		}
	}

	return all, nil
}

// GetUserByEmail resolves an Overseerr account by email, or ErrNotFound.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if strings.EqualFold(users[i].Email, email) {
			return &users[i], nil
		}
	}
	return nil, models.ErrNotFound
}

type mediaInfoResponse struct {
	MediaInfo *struct {
		ID       int64 `json:"id"`
		Requests []struct {
			ID int64 `json:"id"`
		} `json:"requests"`
	} `json:"mediaInfo"`
}

// MediaLookupResult holds the IDs found when looking up media by TMDB ID.
type MediaLookupResult struct {
	RequestID int64 // First request ID, or 0 if none
	MediaID   int64 // Media entry ID, or 0 if none
}

// FindRequestByTMDB looks up the Overseerr media entry for a given TMDB ID and
// media type. Uses the movie/tv detail endpoint for an O(1) lookup instead of
// scanning all requests. mediaType must be "movie" or "tv"; any other value
// defaults to "movie". Media Overseerr has never seen comes back empty.
func (c *Client) FindRequestByTMDB(ctx context.Context, tmdbID int64, mediaType string) (MediaLookupResult, error) {
	path := fmt.Sprintf("/movie/%d", tmdbID)
	if mediaType == "tv" {
		path = fmt.Sprintf("/tv/%d", tmdbID)
	}

	raw, status, err := c.do(ctx, http.MethodGet, path, nil)
	if status == http.StatusNotFound {
		return MediaLookupResult{}, nil
	}
	if err != nil {
		return MediaLookupResult{}, fmt.Errorf("fetching media info: %w", err)
	}

	var resp mediaInfoResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return MediaLookupResult{}, fmt.Errorf("parsing media info: %w", err)
	}

	var result MediaLookupResult
	if resp.MediaInfo != nil {
		result.MediaID = resp.MediaInfo.ID
		if len(resp.MediaInfo.Requests) > 0 {
			result.RequestID = resp.MediaInfo.Requests[0].ID
		}
	}

	return result, nil
}

// DeleteRequest removes a pending or fulfilled request. Already-gone
// requests are not an error.
func (c *Client) DeleteRequest(ctx context.Context, requestID int64) error {
	return c.doDelete(ctx, fmt.Sprintf("/request/%d", requestID))
}

// DeleteMedia removes the media entry itself so the title shows as
// available to request again.
func (c *Client) DeleteMedia(ctx context.Context, mediaID int64) error {
	return c.doDelete(ctx, fmt.Sprintf("/media/%d", mediaID))
}
