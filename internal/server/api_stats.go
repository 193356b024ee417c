package server

import (
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"sweeparr/internal/auth"
	"sweeparr/internal/models"
)

// statsOverview bundles the dashboard panels in one response.
// Integration rows serialize without credentials; APIKeyEncrypted is
// json-hidden on the model.
type statsOverview struct {
	Storage      *models.StorageStats      `json:"storage"`
	Quality      []models.QualityBucket    `json:"quality"`
	Inaccessible []models.InaccessibleFile `json:"inaccessible"`
	Integrations []models.Integration      `json:"integrations"`
}

const overviewInaccessibleLimit = 20

func (s *Server) handleStatsOverview(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var overview statsOverview
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		overview.Storage, err = s.st.StorageStats(ctx, user.ID)
		return err
	})
	g.Go(func() error {
		var err error
		overview.Quality, err = s.st.QualityAnalysis(ctx, user.ID)
		return err
	})
	g.Go(func() error {
		var err error
		overview.Inaccessible, err = s.st.InaccessibleFiles(ctx, user.ID, overviewInaccessibleLimit)
		return err
	})
	g.Go(func() error {
		var err error
		overview.Integrations, err = s.st.ListIntegrations(ctx, user.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleStatsStorage(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	stats, err := s.st.StorageStats(r.Context(), user.ID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatsQuality(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	buckets, err := s.st.QualityAnalysis(r.Context(), user.ID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleStatsInaccessible(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	files, err := s.st.InaccessibleFiles(r.Context(), user.ID, limit)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleSetCapacity(w http.ResponseWriter, r *http.Request) {
	var capacity models.StorageCapacity
	if err := decodeJSON(r, &capacity); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if capacity.TotalBytes <= 0 {
		writeError(w, http.StatusBadRequest, "total_bytes must be positive")
		return
	}
	if err := s.st.SetStorageCapacity(r.Context(), &capacity); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, capacity)
}
