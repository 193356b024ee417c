package sonarr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"sweeparr/internal/arrutil"
	"sweeparr/internal/httputil"
)

// ValidateURL checks that the given URL is valid for use as a Sonarr endpoint.
var ValidateURL = httputil.ValidateIntegrationURL

type Client struct {
	arrutil.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	arr, err := arrutil.New("Sonarr", baseURL, apiKey)
	if err != nil {
		return nil, err
	}
	return &Client{Client: *arr}, nil
}

type seriesResult struct {
	ID int64 `json:"id"`
}

// LookupSeriesByTVDB finds a series in Sonarr by its TVDB ID.
// Returns the Sonarr internal ID, or 0 if the series is not managed.
func (c *Client) LookupSeriesByTVDB(ctx context.Context, tvdbID int64) (int64, error) {
	raw, err := c.DoGet(ctx, "/series", url.Values{"tvdbId": {strconv.FormatInt(tvdbID, 10)}})
	if err != nil {
		return 0, err
	}

	var series []seriesResult
	if err := json.Unmarshal(raw, &series); err != nil {
		return 0, fmt.Errorf("parsing series list: %w", err)
	}
	if len(series) == 0 {
		return 0, nil
	}
	return series[0].ID, nil
}

// DeleteSeries removes a series from Sonarr. With deleteFiles the media
// files go too; with exclude the series lands on the import list
// exclusions so it is not re-grabbed.
func (c *Client) DeleteSeries(ctx context.Context, seriesID int64, deleteFiles, exclude bool) error {
	q := url.Values{}
	if deleteFiles {
		q.Set("deleteFiles", "true")
	}
	if exclude {
		q.Set("addImportListExclusion", "true")
	}
	return c.DoDelete(ctx, fmt.Sprintf("/series/%d", seriesID), q)
}

// SetMonitored flips series monitoring so Sonarr stops grabbing new
// episodes without removing the series. Used when only part of a show
// was cleaned up.
func (c *Client) SetMonitored(ctx context.Context, seriesID int64, monitored bool) error {
	raw, err := c.DoGet(ctx, fmt.Sprintf("/series/%d", seriesID), nil)
	if err != nil {
		return err
	}

	var series map[string]any
	if err := json.Unmarshal(raw, &series); err != nil {
		return fmt.Errorf("parsing series: %w", err)
	}
	series["monitored"] = monitored

	body, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encoding series: %w", err)
	}
	_, err = c.DoPut(ctx, fmt.Sprintf("/series/%d", seriesID), body)
	return err
}
