package tautulli

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
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// FlexString handles JSON fields that can be either string or number
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// FlexInt handles JSON fields that can be either string or number
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" || string(data) == `""` {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		var n int64
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			*f = 0
			return nil
		}
		*f = FlexInt(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// FlexFloat handles JSON fields that can be string, int, or float
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" || string(data) == `""` {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

type HistoryRecord struct {
	User                 string     `json:"user"`
	Title                string     `json:"title"`
	MediaType            string     `json:"media_type"`
	GrandparentTitle     string     `json:"grandparent_title"`
	ParentTitle          string     `json:"parent_title"`
	Year                 FlexInt    `json:"year"`
	RatingKey            FlexString `json:"rating_key"`
	GrandparentRatingKey FlexString `json:"grandparent_rating_key"`
	Started              int64      `json:"started"`
	Stopped              int64      `json:"stopped"`
	Duration             int64      `json:"duration"`
	PlayDuration         int64      `json:"play_duration"`
	PercentComplete      FlexInt    `json:"percent_complete"`
	WatchedStatus        FlexFloat  `json:"watched_status"`
	ParentMediaIndex     FlexInt    `json:"parent_media_index"`
	MediaIndex           FlexInt    `json:"media_index"`
}

// completeThreshold is the completion percentage above which a play
// counts as complete.
const completeThreshold = 90

// Complete classifies the play. The watched_status flag is the
// source's own verdict and wins when it is set; the percentage
// threshold covers older versions that omit it.
func (r *HistoryRecord) Complete() bool {
	if r.WatchedStatus > 0 {
		return r.WatchedStatus >= 1
	}
	return int(r.PercentComplete) >= completeThreshold
}

// WatchedAt returns the play's end time, falling back to its start.
func (r *HistoryRecord) WatchedAt() int64 {
	if r.Stopped > 0 {
		return r.Stopped
	}
	return r.Started
}

type historyResponse struct {
	Response struct {
		Result  string `json:"result"`
		Message string `json:"message"`
		Data    struct {
			RecordsFiltered int             `json:"recordsFiltered"`
			RecordsTotal    int             `json:"recordsTotal"`
			Data            []HistoryRecord `json:"data"`
		} `json:"data"`
	} `json:"response"`
}

type serverInfoResponse struct {
	Response struct {
		Result  string `json:"result"`
		Message string `json:"message"`
	} `json:"response"`
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if err := ValidateURL(baseURL); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httputil.NewClientWithTimeout(httputil.IntegrationTimeout),
	}, nil
}

// ValidateURL checks that the given URL is valid for use as a Tautulli endpoint.
var ValidateURL = httputil.ValidateIntegrationURL

func (c *Client) doRequest(ctx context.Context, params url.Values, maxBodySize int64) ([]byte, error) {
	u, err := url.Parse(c.baseURL + "/api/v2")
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	params.Set("apikey", c.apiKey)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := httputil.Do(c.http, req, "tautulli")
	if err != nil {
		return nil, err
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Tautulli returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return body, nil
}

func (c *Client) TestConnection(ctx context.Context) error {
	params := url.Values{}
	params.Set("cmd", "get_server_info")

	body, err := c.doRequest(ctx, params, 1<<20)
	if err != nil {
		return err
	}

	var r serverInfoResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if r.Response.Result != "success" {
		return fmt.Errorf("Tautulli error: %s", r.Response.Message)
	}

	return nil
}

// Window narrows a history query to plays that started inside the
// range. Zero bounds are open.
type Window struct {
	After  string // YYYY-MM-DD
	Before string // YYYY-MM-DD
}

func (c *Client) GetHistory(ctx context.Context, w Window, start, length int) ([]HistoryRecord, int, error) {
	params := url.Values{}
	params.Set("cmd", "get_history")
	params.Set("start", strconv.Itoa(start))
	params.Set("length", strconv.Itoa(length))
	if w.After != "" {
		params.Set("after", w.After)
	}
	if w.Before != "" {
		params.Set("before", w.Before)
	}

	body, err := c.doRequest(ctx, params, 50<<20)
	if err != nil {
		return nil, 0, err
	}

	var r historyResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, 0, fmt.Errorf("parsing response: %w", err)
	}

	if r.Response.Result != "success" {
		return nil, 0, fmt.Errorf("Tautulli error: %s", r.Response.Message)
	}

	total := r.Response.Data.RecordsFiltered
	if total == 0 {
		total = r.Response.Data.RecordsTotal
	}
	return r.Response.Data.Data, total, nil
}

type BatchResult struct {
	Records   []HistoryRecord
	Total     int
	Processed int
}

type BatchHandler func(batch BatchResult) error

// StreamHistory pages the full matching history through handler in
// batches, so callers never hold the whole table in memory.
func (c *Client) StreamHistory(ctx context.Context, w Window, batchSize int, handler BatchHandler) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	start := 0
	processed := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		records, total, err := c.GetHistory(ctx, w, start, batchSize)
		if err != nil {
			return err
		}

		processed += len(records)

		if err := handler(BatchResult{
			Records:   records,
			Total:     total,
			Processed: processed,
		}); err != nil {
			return err
		}

		if len(records) == 0 || len(records) < batchSize || processed >= total {
			break
		}

		start += len(records)
	}

	return nil
}
