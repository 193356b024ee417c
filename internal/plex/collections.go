package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"sweeparr/internal/httputil"
	"sweeparr/internal/models"
)

type collectionsContainer struct {
	XMLName     xml.Name        `xml:"MediaContainer"`
	Directories []collectionXML `xml:"Directory"`
}

type collectionXML struct {
	RatingKey string `xml:"ratingKey,attr"`
	Title     string `xml:"title,attr"`
}

// FindCollection looks up a collection by title within a section and
// returns its rating key, or "" when no such collection exists.
func (c *Client) FindCollection(ctx context.Context, sectionKey, title string) (string, error) {
	var cc collectionsContainer
	path := fmt.Sprintf("/library/sections/%s/collections", url.PathEscape(sectionKey))
	if err := c.get(ctx, path, httputil.MaxResponseBody, &cc); err != nil {
		return "", err
	}
	for _, d := range cc.Directories {
		if strings.EqualFold(d.Title, title) {
			return d.RatingKey, nil
		}
	}
	return "", nil
}

// CreateCollection creates a collection in a section seeded with the
// given items and returns its rating key.
func (c *Client) CreateCollection(ctx context.Context, sectionKey, title string, kind models.MediaKind, machineID string, ratingKeys []string) (string, error) {
	q := url.Values{}
	q.Set("type", typeFilter(kind))
	q.Set("title", title)
	q.Set("smart", "0")
	q.Set("sectionId", sectionKey)
	q.Set("uri", itemsURI(machineID, ratingKeys))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/library/collections?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := httputil.Do(c.http, req, serviceName)
	if err != nil {
		return "", err
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("plex create collection %q: status %d", title, resp.StatusCode)
	}

	var cc collectionsContainer
	if err := xml.NewDecoder(resp.Body).Decode(&cc); err != nil || len(cc.Directories) == 0 {
		// Some server versions return an empty body; resolve by title.
		return c.FindCollection(ctx, sectionKey, title)
	}
	return cc.Directories[0].RatingKey, nil
}

// AddToCollection appends items to an existing collection.
func (c *Client) AddToCollection(ctx context.Context, collectionKey, machineID string, ratingKeys []string) error {
	if len(ratingKeys) == 0 {
		return nil
	}
	q := url.Values{}
	q.Set("uri", itemsURI(machineID, ratingKeys))

	u := fmt.Sprintf("%s/library/collections/%s/items?%s", c.baseURL, url.PathEscape(collectionKey), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := httputil.Do(c.http, req, serviceName)
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("plex add to collection %s: status %d", collectionKey, resp.StatusCode)
	}
	return nil
}

// RemoveFromCollection drops one item from a collection without
// touching the item itself.
func (c *Client) RemoveFromCollection(ctx context.Context, collectionKey, ratingKey string) error {
	u := fmt.Sprintf("%s/library/collections/%s/children/%s",
		c.baseURL, url.PathEscape(collectionKey), url.PathEscape(ratingKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
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
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return fmt.Errorf("plex remove from collection %s: status %d", collectionKey, resp.StatusCode)
}

// CollectionItems lists the rating keys currently in a collection.
func (c *Client) CollectionItems(ctx context.Context, collectionKey string) ([]string, error) {
	var container itemsContainer
	path := fmt.Sprintf("/library/collections/%s/children", url.PathEscape(collectionKey))
	if err := c.get(ctx, path, maxPageBody, &container); err != nil {
		return nil, err
	}

	xmlItems := append(container.Videos, container.Directories...)
	keys := make([]string, 0, len(xmlItems))
	for _, x := range xmlItems {
		keys = append(keys, x.RatingKey)
	}
	return keys, nil
}

func itemsURI(machineID string, ratingKeys []string) string {
	return fmt.Sprintf("server://%s/com.plexapp.plugins.library/library/metadata/%s",
		machineID, strings.Join(ratingKeys, ","))
}
