package version

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultReleaseAPI = "https://api.github.com/repos/sweeparr/sweeparr/releases/latest"
	checkEvery        = 6 * time.Hour
)

// Info is the payload of GET /api/version.
type Info struct {
	Current         string `json:"version"`
	Latest          string `json:"latest_version,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
	ReleaseURL      string `json:"release_url,omitempty"`
}

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker polls the GitHub releases feed and remembers the newest
// published tag. Builds stamped "dev" never phone home.
type Checker struct {
	current    string
	releaseAPI string
	client     *http.Client

	mu         sync.RWMutex
	latest     string
	releaseURL string
}

// NewChecker builds a checker for the given build version. Set
// SWEEPARR_VERSION_CHECK_URL to point the poll somewhere else.
func NewChecker(buildVersion string) *Checker {
	api := defaultReleaseAPI
	if u := os.Getenv("SWEEPARR_VERSION_CHECK_URL"); u != "" {
		api = u
	}
	return &Checker{
		current:    strings.TrimPrefix(buildVersion, "v"),
		releaseAPI: api,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Start checks immediately, then every six hours until ctx ends.
func (c *Checker) Start(ctx context.Context) {
	c.check(ctx)
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

// Info reports the running version and, once a poll has landed, the
// newest published release.
func (c *Checker) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := Info{Current: c.current}
	if c.latest == "" {
		return info
	}
	info.Latest = c.latest
	info.ReleaseURL = c.releaseURL
	if c.current != "dev" && compareVersions(c.latest, c.current) > 0 {
		info.UpdateAvailable = true
	}
	return info
}

func (c *Checker) check(ctx context.Context) {
	if c.current == "dev" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.releaseAPI, nil)
	if err != nil {
		log.Printf("update check: %v", err)
		return
	}
	req.Header.Set("User-Agent", "Sweeparr/"+c.current)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("update check: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("update check: release feed returned %d", resp.StatusCode)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Printf("update check: %v", err)
		return
	}
	var rel release
	if err := json.Unmarshal(body, &rel); err != nil {
		log.Printf("update check: %v", err)
		return
	}

	c.mu.Lock()
	c.latest = strings.TrimPrefix(rel.TagName, "v")
	c.releaseURL = rel.HTMLURL
	c.mu.Unlock()
}

// compareVersions orders two dotted versions numerically. Pre-release
// and build suffixes are ignored. Returns <0, 0, or >0.
func compareVersions(a, b string) int {
	av, bv := versionParts(a), versionParts(b)
	for i := 0; i < 3; i++ {
		if av[i] != bv[i] {
			return av[i] - bv[i]
		}
	}
	return 0
}

func versionParts(v string) [3]int {
	if i := strings.IndexAny(v, "-+"); i != -1 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	var out [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		out[i], _ = strconv.Atoi(parts[i])
	}
	return out
}
