package overseerr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"sweeparr/internal/models"
)

func TestListUsersPaginates(t *testing.T) {
	const totalUsers = 120
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/user" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		take, _ := strconv.Atoi(r.URL.Query().Get("take"))
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		n := take
		if skip+n > totalUsers {
			n = totalUsers - skip
		}
		users := make([]map[string]any, 0, n)
		for i := 0; i < n; i++ {
			users = append(users, map[string]any{
				"id":    skip + i + 1,
				"email": fmt.Sprintf("user%d@example.com", skip+i+1),
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"pageInfo": map[string]any{"pages": 3, "page": skip/take + 1, "results": totalUsers},
			"results":  users,
		})
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "test-key")
	users, err := c.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != totalUsers {
		t.Fatalf("len = %d, want %d", len(users), totalUsers)
	}
}

func TestGetUserByEmail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"pageInfo": map[string]any{"pages": 1, "page": 1, "results": 2},
			"results": []map[string]any{
				{"id": 1, "email": "admin@example.com"},
				{"id": 7, "email": "Viewer@Example.com"},
			},
		})
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "test-key")
	u, err := c.GetUserByEmail(context.Background(), "viewer@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if u.ID != 7 {
		t.Fatalf("id = %d, want 7", u.ID)
	}

	_, err = c.GetUserByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFindRequestByTMDB(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/movie/550" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": 550,
			"mediaInfo": map[string]any{
				"id":       33,
				"requests": []map[string]any{{"id": 12}, {"id": 13}},
			},
		})
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "test-key")
	res, err := c.FindRequestByTMDB(context.Background(), 550, "movie")
	if err != nil {
		t.Fatalf("FindRequestByTMDB: %v", err)
	}
	if res.MediaID != 33 || res.RequestID != 12 {
		t.Fatalf("result = %+v", res)
	}
}

func TestFindRequestByTMDBUsesTVPath(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tv/1399" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 1399})
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "test-key")
	res, err := c.FindRequestByTMDB(context.Background(), 1399, "tv")
	if err != nil {
		t.Fatalf("FindRequestByTMDB: %v", err)
	}
	if res.MediaID != 0 || res.RequestID != 0 {
		t.Fatalf("result = %+v, want zero", res)
	}
}

func TestFindRequestByTMDBUnknownMedia(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "test-key")
	res, err := c.FindRequestByTMDB(context.Background(), 99999, "movie")
	if err != nil {
		t.Fatalf("FindRequestByTMDB on 404: %v", err)
	}
	if res.MediaID != 0 || res.RequestID != 0 {
		t.Fatalf("result = %+v, want zero", res)
	}
}

func TestDeleteRequestAlreadyGone(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c, _ := NewClient(ts.URL, "test-key")
	if err := c.DeleteRequest(context.Background(), 12); err != nil {
		t.Fatalf("DeleteRequest on 404: %v", err)
	}
	if err := c.DeleteMedia(context.Background(), 33); err != nil {
		t.Fatalf("DeleteMedia on 404: %v", err)
	}
}
