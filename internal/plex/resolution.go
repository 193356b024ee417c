package plex

import (
	"strconv"
	"strings"
)

// NormalizeResolution maps the server's videoResolution attribute (and
// the stream height as a fallback) onto the fixed quality buckets the
// mirror stores: 4k, 1080p, 720p, 480p, sd.
func NormalizeResolution(res, height string) string {
	r := strings.ToLower(strings.TrimSpace(res))
	switch r {
	case "4k", "2160", "2160p":
		return "4k"
	case "1080", "1080p":
		return "1080p"
	case "720", "720p":
		return "720p"
	case "480", "480p":
		return "480p"
	case "sd":
		return "sd"
	}
	if h := atoi(strings.TrimSuffix(r, "p")); h > 0 {
		return heightBucket(h)
	}
	if h := atoi(height); h > 0 {
		return heightBucket(h)
	}
	return ""
}

func heightBucket(h int) string {
	switch {
	case h >= 2160:
		return "4k"
	case h >= 1080:
		return "1080p"
	case h >= 720:
		return "720p"
	case h >= 480:
		return "480p"
	}
	return "sd"
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
