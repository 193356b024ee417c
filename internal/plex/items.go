package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sweeparr/internal/models"
)

// PageSize is how many items one section page carries.
const PageSize = 100

type itemsContainer struct {
	XMLName     xml.Name  `xml:"MediaContainer"`
	TotalSize   int       `xml:"totalSize,attr"`
	Size        int       `xml:"size,attr"`
	Videos      []itemXML `xml:"Video"`
	Directories []itemXML `xml:"Directory"`
}

type itemXML struct {
	RatingKey        string `xml:"ratingKey,attr"`
	Type             string `xml:"type,attr"`
	Title            string `xml:"title,attr"`
	TitleSort        string `xml:"titleSort,attr"`
	Year             string `xml:"year,attr"`
	Duration         string `xml:"duration,attr"`
	Rating           string `xml:"rating,attr"`
	AddedAt          string `xml:"addedAt,attr"`
	UpdatedAt        string `xml:"updatedAt,attr"`
	ViewCount        string `xml:"viewCount,attr"`
	LastViewedAt     string `xml:"lastViewedAt,attr"`
	LeafCount        string `xml:"leafCount,attr"`
	GrandparentTitle string `xml:"grandparentTitle,attr"`
	ParentTitle      string `xml:"parentTitle,attr"`
	ParentIndex      string `xml:"parentIndex,attr"`
	Index            string `xml:"index,attr"`

	Guids       []guidXML      `xml:"Guid"`
	Genres      []tagXML       `xml:"Genre"`
	Collections []tagXML       `xml:"Collection"`
	Media       []itemMediaXML `xml:"Media"`
}

type guidXML struct {
	ID string `xml:"id,attr"`
}

type tagXML struct {
	Tag string `xml:"tag,attr"`
}

type itemMediaXML struct {
	VideoResolution string    `xml:"videoResolution,attr"`
	Height          string    `xml:"height,attr"`
	VideoCodec      string    `xml:"videoCodec,attr"`
	AudioCodec      string    `xml:"audioCodec,attr"`
	Container       string    `xml:"container,attr"`
	Bitrate         string    `xml:"bitrate,attr"`
	Parts           []partXML `xml:"Part"`
}

type partXML struct {
	File       string `xml:"file,attr"`
	Size       int64  `xml:"size,attr"`
	Exists     string `xml:"exists,attr"`
	Accessible string `xml:"accessible,attr"`
}

// Item is one catalog entry from a section listing, flattened from the
// container XML.
type Item struct {
	RatingKey string
	Kind      models.MediaKind
	Title     string
	SortTitle string
	Year      int
	RuntimeMS int64
	Rating    float64

	TMDBID int64
	TVDBID int64
	IMDBID string

	GrandparentTitle string
	ParentTitle      string
	ParentIndex      int
	Index            int
	LeafCount        int

	VideoResolution string
	VideoCodec      string
	AudioCodec      string
	Container       string
	BitrateKbps     int64

	FilePath      string
	FileSizeBytes int64
	FileMissing   bool

	Genres      []string
	Collections []string

	AddedAt      int64
	UpdatedAt    int64
	ViewCount    int
	LastViewedAt int64
}

// ItemPage fetches one page of a section listing. updatedSince narrows
// the result to items the server touched at or after that instant;
// zero means everything. Returns the page and the section's total for
// the filter.
func (c *Client) ItemPage(ctx context.Context, sectionKey string, kind models.MediaKind, updatedSince time.Time, start int) ([]Item, int, error) {
	q := url.Values{}
	q.Set("type", typeFilter(kind))
	q.Set("includeGuids", "1")
	q.Set("includeCollections", "1")
	q.Set("X-Plex-Container-Start", strconv.Itoa(start))
	q.Set("X-Plex-Container-Size", strconv.Itoa(PageSize))
	if !updatedSince.IsZero() {
		q.Set("updatedAt>", strconv.FormatInt(updatedSince.Unix(), 10))
	}

	var container itemsContainer
	path := fmt.Sprintf("/library/sections/%s/all?%s", url.PathEscape(sectionKey), q.Encode())
	if err := c.get(ctx, path, maxPageBody, &container); err != nil {
		return nil, 0, err
	}

	xmlItems := append(container.Videos, container.Directories...)
	items := make([]Item, 0, len(xmlItems))
	for _, x := range xmlItems {
		items = append(items, buildItem(x))
	}

	total := container.TotalSize
	if total == 0 {
		total = container.Size
	}
	return items, total, nil
}

// WalkSection pages through a section serially and hands every item to
// fn. Paging stops on the first fn error or when the section is
// exhausted.
func (c *Client) WalkSection(ctx context.Context, sectionKey string, kind models.MediaKind, updatedSince time.Time, fn func(Item) error) error {
	start := 0
	for {
		if err := c.pace.Wait(ctx); err != nil {
			return err
		}
		items, _, err := c.ItemPage(ctx, sectionKey, kind, updatedSince, start)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for _, it := range items {
			if err := fn(it); err != nil {
				return err
			}
		}
		if len(items) < PageSize {
			return nil
		}
		start += len(items)
	}
}

func buildItem(x itemXML) Item {
	it := Item{
		RatingKey:        x.RatingKey,
		Kind:             itemKind(x.Type),
		Title:            x.Title,
		SortTitle:        x.TitleSort,
		Year:             atoi(x.Year),
		RuntimeMS:        atoi64(x.Duration),
		Rating:           atof(x.Rating),
		GrandparentTitle: x.GrandparentTitle,
		ParentTitle:      x.ParentTitle,
		ParentIndex:      atoi(x.ParentIndex),
		Index:            atoi(x.Index),
		LeafCount:        atoi(x.LeafCount),
		AddedAt:          atoi64(x.AddedAt),
		UpdatedAt:        atoi64(x.UpdatedAt),
		ViewCount:        atoi(x.ViewCount),
		LastViewedAt:     atoi64(x.LastViewedAt),
	}

	for _, g := range x.Guids {
		switch {
		case strings.HasPrefix(g.ID, "tmdb://"):
			it.TMDBID = atoi64(strings.TrimPrefix(g.ID, "tmdb://"))
		case strings.HasPrefix(g.ID, "tvdb://"):
			it.TVDBID = atoi64(strings.TrimPrefix(g.ID, "tvdb://"))
		case strings.HasPrefix(g.ID, "imdb://"):
			it.IMDBID = strings.TrimPrefix(g.ID, "imdb://")
		}
	}
	for _, g := range x.Genres {
		if g.Tag != "" {
			it.Genres = append(it.Genres, g.Tag)
		}
	}
	for _, cl := range x.Collections {
		if cl.Tag != "" {
			it.Collections = append(it.Collections, cl.Tag)
		}
	}

	for _, m := range x.Media {
		if it.VideoResolution == "" {
			it.VideoResolution = NormalizeResolution(m.VideoResolution, m.Height)
		}
		if it.VideoCodec == "" {
			it.VideoCodec = m.VideoCodec
		}
		if it.AudioCodec == "" {
			it.AudioCodec = m.AudioCodec
		}
		if it.Container == "" {
			it.Container = m.Container
		}
		if it.BitrateKbps == 0 {
			it.BitrateKbps = atoi64(m.Bitrate)
		}
		for _, p := range m.Parts {
			if it.FilePath == "" {
				it.FilePath = p.File
			}
			it.FileSizeBytes += p.Size
			if p.Exists == "0" || p.Accessible == "0" {
				it.FileMissing = true
			}
		}
	}

	return it
}

func itemKind(t string) models.MediaKind {
	switch t {
	case "movie":
		return models.KindMovie
	case "show":
		return models.KindShow
	case "season":
		return models.KindSeason
	case "episode":
		return models.KindEpisode
	}
	return models.MediaKind(t)
}

// CatalogPatch converts the item into the partial mirror record a
// library sync upserts. sectionTitle is the owning section's name.
func (it Item) CatalogPatch(sectionTitle string) *models.MediaItemPatch {
	p := &models.MediaItemPatch{
		ExternalID:     it.RatingKey,
		Kind:           it.Kind,
		Title:          it.Title,
		LibrarySection: sectionTitle,
		Genres:         it.Genres,
		Collections:    it.Collections,
	}

	if it.SortTitle != "" {
		p.SortTitle = &it.SortTitle
	}
	if it.Year > 0 {
		p.Year = &it.Year
	}
	if it.RuntimeMS > 0 {
		sec := it.RuntimeMS / 1000
		p.RuntimeSec = &sec
	}
	if it.Rating > 0 {
		p.Rating = &it.Rating
	}
	if it.TMDBID > 0 {
		p.TMDBID = &it.TMDBID
	}
	if it.TVDBID > 0 {
		p.TVDBID = &it.TVDBID
	}
	if it.IMDBID != "" {
		p.IMDBID = &it.IMDBID
	}

	switch it.Kind {
	case models.KindEpisode:
		if it.GrandparentTitle != "" {
			p.GrandparentTitle = &it.GrandparentTitle
		}
		if it.ParentTitle != "" {
			p.ParentTitle = &it.ParentTitle
		}
		if it.ParentIndex > 0 || it.GrandparentTitle != "" {
			p.SeasonNumber = &it.ParentIndex
		}
		if it.Index > 0 {
			p.EpisodeNumber = &it.Index
		}
	case models.KindSeason:
		if it.ParentTitle != "" {
			p.GrandparentTitle = &it.ParentTitle
		}
		if it.Index > 0 || it.ParentTitle != "" {
			p.SeasonNumber = &it.Index
		}
	}

	if it.VideoResolution != "" {
		p.VideoResolution = &it.VideoResolution
	}
	if it.VideoCodec != "" {
		p.VideoCodec = &it.VideoCodec
	}
	if it.AudioCodec != "" {
		p.AudioCodec = &it.AudioCodec
	}
	if it.Container != "" {
		p.Container = &it.Container
	}
	if it.BitrateKbps > 0 {
		p.BitrateKbps = &it.BitrateKbps
	}

	if it.FilePath != "" {
		p.FilePath = &it.FilePath
	}
	if it.Kind.Leaf() {
		p.FileSizeBytes = &it.FileSizeBytes
		accessible := !it.FileMissing && it.FilePath != ""
		p.Accessible = &accessible
	}

	if it.AddedAt > 0 {
		t := time.Unix(it.AddedAt, 0).UTC()
		p.AddedAt = &t
	}

	return p
}

// FallbackEngagement builds the engagement patch a history sync can
// derive from section attributes alone: the server's own play count
// and last-watched time. Returns nil when the item carries neither.
func (it Item) FallbackEngagement() *models.EngagementPatch {
	if it.ViewCount == 0 && it.LastViewedAt == 0 {
		return nil
	}
	p := &models.EngagementPatch{ExternalID: it.RatingKey, Cumulative: true}
	if it.ViewCount > 0 {
		vc := it.ViewCount
		p.TotalPlayCount = &vc
	}
	if it.LastViewedAt > 0 {
		t := time.Unix(it.LastViewedAt, 0).UTC()
		p.LastWatchedAt = &t
	}
	return p
}
