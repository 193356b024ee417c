package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"sweeparr/internal/httputil"
	"sweeparr/internal/models"
)

// Plex numeric type filters for section listings.
const (
	typeMovie   = "1"
	typeShow    = "2"
	typeSeason  = "3"
	typeEpisode = "4"
)

func typeFilter(kind models.MediaKind) string {
	switch kind {
	case models.KindMovie:
		return typeMovie
	case models.KindShow:
		return typeShow
	case models.KindSeason:
		return typeSeason
	case models.KindEpisode:
		return typeEpisode
	}
	return ""
}

// Section is one library section as the server reports it.
type Section struct {
	Key   string
	Title string
	Type  string // "movie", "show", "artist", "photo"
}

// SyncKinds lists the media kinds a section contributes to the mirror.
// Show sections yield the full hierarchy; photo and music sections
// yield nothing.
func (s Section) SyncKinds() []models.MediaKind {
	switch s.Type {
	case "movie":
		return []models.MediaKind{models.KindMovie}
	case "show":
		return []models.MediaKind{models.KindShow, models.KindSeason, models.KindEpisode}
	}
	return nil
}

type sectionsContainer struct {
	XMLName     xml.Name     `xml:"MediaContainer"`
	Directories []sectionXML `xml:"Directory"`
}

type sectionXML struct {
	Key   string `xml:"key,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

func (c *Client) Sections(ctx context.Context) ([]Section, error) {
	var sc sectionsContainer
	if err := c.get(ctx, "/library/sections", httputil.MaxResponseBody, &sc); err != nil {
		return nil, err
	}
	sections := make([]Section, 0, len(sc.Directories))
	for _, d := range sc.Directories {
		sections = append(sections, Section{Key: d.Key, Title: d.Title, Type: d.Type})
	}
	return sections, nil
}

type countContainer struct {
	XMLName   xml.Name `xml:"MediaContainer"`
	Size      int      `xml:"size,attr"`
	TotalSize int      `xml:"totalSize,attr"`
}

// CountSectionItems returns how many items of one kind a section holds
// without paging any of them, via a zero-size container request.
// updatedSince applies the same filter ItemPage uses, so incremental
// totals match what a walk will yield.
func (c *Client) CountSectionItems(ctx context.Context, sectionKey string, kind models.MediaKind, updatedSince time.Time) (int, error) {
	q := url.Values{}
	q.Set("X-Plex-Container-Start", "0")
	q.Set("X-Plex-Container-Size", "0")
	if tf := typeFilter(kind); tf != "" {
		q.Set("type", tf)
	}
	if !updatedSince.IsZero() {
		q.Set("updatedAt>", strconv.FormatInt(updatedSince.Unix(), 10))
	}

	var cc countContainer
	path := fmt.Sprintf("/library/sections/%s/all?%s", url.PathEscape(sectionKey), q.Encode())
	if err := c.get(ctx, path, httputil.MaxResponseBody, &cc); err != nil {
		return 0, err
	}
	if cc.TotalSize > 0 {
		return cc.TotalSize, nil
	}
	return cc.Size, nil
}
