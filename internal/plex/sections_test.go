package plex

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"sweeparr/internal/models"
)

func TestSections(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/library/sections" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `<MediaContainer size="3">
  <Directory key="1" title="Movies" type="movie" />
  <Directory key="2" title="TV Shows" type="show" />
  <Directory key="3" title="Photos" type="photo" />
</MediaContainer>`)
	})

	sections, err := c.Sections(context.Background())
	if err != nil {
		t.Fatalf("Sections: %v", err)
	}
	if len(sections) != 3 {
		t.Fatalf("len = %d", len(sections))
	}
	if sections[0].Key != "1" || sections[0].Title != "Movies" || sections[0].Type != "movie" {
		t.Fatalf("first = %+v", sections[0])
	}

	if kinds := sections[0].SyncKinds(); len(kinds) != 1 || kinds[0] != models.KindMovie {
		t.Fatalf("movie kinds = %v", kinds)
	}
	if kinds := sections[1].SyncKinds(); len(kinds) != 3 {
		t.Fatalf("show kinds = %v", kinds)
	}
	if kinds := sections[2].SyncKinds(); kinds != nil {
		t.Fatalf("photo kinds = %v", kinds)
	}
}

func TestCountSectionItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("X-Plex-Container-Size") != "0" {
			t.Errorf("container size = %s, want 0", q.Get("X-Plex-Container-Size"))
		}
		if q.Get("type") != "4" {
			t.Errorf("type = %s, want 4", q.Get("type"))
		}
		if q.Get("updatedAt>") != "" {
			t.Errorf("unexpected updatedAt filter %q", q.Get("updatedAt>"))
		}
		io.WriteString(w, `<MediaContainer size="0" totalSize="1250"></MediaContainer>`)
	})

	n, err := c.CountSectionItems(context.Background(), "2", models.KindEpisode, time.Time{})
	if err != nil {
		t.Fatalf("CountSectionItems: %v", err)
	}
	if n != 1250 {
		t.Fatalf("count = %d, want 1250", n)
	}
}

func TestCountSectionItemsIncremental(t *testing.T) {
	since := time.Unix(1700000000, 0)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("updatedAt>"); got != "1700000000" {
			t.Errorf("updatedAt filter = %q", got)
		}
		io.WriteString(w, `<MediaContainer size="0" totalSize="37"></MediaContainer>`)
	})

	n, err := c.CountSectionItems(context.Background(), "2", models.KindEpisode, since)
	if err != nil {
		t.Fatal(err)
	}
	if n != 37 {
		t.Fatalf("count = %d, want 37", n)
	}
}

func TestIdentity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/identity" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `<MediaContainer machineIdentifier="abc123" version="1.40.1.8227"></MediaContainer>`)
	})

	machineID, version, err := c.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if machineID != "abc123" || version != "1.40.1.8227" {
		t.Fatalf("identity = %s/%s", machineID, version)
	}
}
