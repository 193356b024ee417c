package plex

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"sweeparr/internal/httputil"
)

const plexTVBaseURL = "https://plex.tv"

var plexTVClient = httputil.NewClient()

// Resource is one server a plex.tv account can reach.
type Resource struct {
	Name             string       `json:"name"`
	ClientIdentifier string       `json:"clientIdentifier"`
	Product          string       `json:"product"`
	Platform         string       `json:"platform"`
	ProductVersion   string       `json:"productVersion"`
	Provides         string       `json:"provides"`
	Owned            bool         `json:"owned"`
	Connections      []Connection `json:"connections"`
}

type Connection struct {
	URI      string `json:"uri"`
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Local    bool   `json:"local"`
	Relay    bool   `json:"relay"`
}

// ProbeResult is the connection a probe settled on.
type ProbeResult struct {
	URL       string
	LatencyMS int64
	MachineID string
	Version   string
}

func setPlexTVHeaders(req *http.Request, token string) {
	req.Header.Set("X-Plex-Token", token)
	req.Header.Set("X-Plex-Client-Identifier", "sweeparr")
	req.Header.Set("X-Plex-Product", "Sweeparr")
	req.Header.Set("X-Plex-Version", "1.0.0")
	req.Header.Set("Accept", "application/json")
}

// DiscoverServers lists the owned media servers the token can reach,
// with every advertised connection.
func DiscoverServers(ctx context.Context, token string) ([]Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		plexTVBaseURL+"/api/v2/resources?includeHttps=1&includeRelay=1", nil)
	if err != nil {
		return nil, err
	}
	setPlexTVHeaders(req, token)

	resp, err := httputil.Do(plexTVClient, req, "plex.tv")
	if err != nil {
		return nil, err
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex.tv resources: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, err
	}

	var all []Resource
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("plex.tv resources: parse: %w", err)
	}

	servers := make([]Resource, 0, len(all))
	for _, r := range all {
		if r.Owned && r.Provides == "server" {
			servers = append(servers, r)
		}
	}
	return servers, nil
}

// orderConnections sorts candidates into probe order: direct remote
// addresses, then LAN, then relay last. Relay bandwidth is capped by
// plex.tv so it only wins when nothing else answers.
func orderConnections(conns []Connection) []Connection {
	ordered := make([]Connection, len(conns))
	copy(ordered, conns)
	rank := func(c Connection) int {
		switch {
		case c.Relay:
			return 2
		case c.Local:
			return 1
		}
		return 0
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i]) < rank(ordered[j])
	})
	return ordered
}

// ProbeConnections tries each connection in order with a short
// per-probe timeout and returns the first that answers /identity with
// the expected machine identifier. extra URLs (operator overrides) are
// probed after the advertised set.
func ProbeConnections(ctx context.Context, token, wantMachineID string, conns []Connection, extra ...string) (*ProbeResult, error) {
	var urls []string
	for _, c := range orderConnections(conns) {
		if c.URI != "" {
			urls = append(urls, c.URI)
		}
	}
	urls = append(urls, extra...)

	var lastErr error
	for _, u := range urls {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res, err := probeOne(ctx, token, wantMachineID, u)
		if err != nil {
			slog.Debug("plex: connection probe failed", "url", u, "error", err)
			lastErr = err
			continue
		}
		slog.Debug("plex: connection selected", "url", res.URL, "latency_ms", res.LatencyMS)
		return res, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no connections advertised")
	}
	return nil, fmt.Errorf("no reachable connection: %w", lastErr)
}

// probeOne is a single shot with a short timeout; dead candidates must
// fail fast rather than run the shared retry schedule.
func probeOne(ctx context.Context, token, wantMachineID, baseURL string) (*ProbeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, httputil.ProbeTimeout)
	defer cancel()

	baseURL = strings.TrimRight(baseURL, "/")
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, baseURL+"/identity", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Plex-Token", token)
	req.Header.Set("Accept", "application/xml")

	probeClient := httputil.NewClientWithTimeout(httputil.ProbeTimeout)
	start := time.Now()
	resp, err := probeClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s/identity: status %d", baseURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, err
	}
	var ic identityContainer
	if err := xml.Unmarshal(body, &ic); err != nil {
		return nil, fmt.Errorf("%s/identity: parse: %w", baseURL, err)
	}
	if ic.MachineIdentifier == "" {
		return nil, fmt.Errorf("%s/identity: empty machine identifier", baseURL)
	}
	if wantMachineID != "" && ic.MachineIdentifier != wantMachineID {
		return nil, fmt.Errorf("%s answered as %s, want %s", baseURL, ic.MachineIdentifier, wantMachineID)
	}
	return &ProbeResult{
		URL:       baseURL,
		LatencyMS: time.Since(start).Milliseconds(),
		MachineID: ic.MachineIdentifier,
		Version:   ic.Version,
	}, nil
}
