package handlers

import (
	"context"
	"net/http"

	"ytgrab/models"
)

const recentLimit = 5

// RecentLister serves the dashboard's recent-completed list.
type RecentLister interface {
	ListRecentCompleted(ctx context.Context, limit int) ([]models.Job, error)
}

type RecentHandler struct {
	lister RecentLister
}

func NewRecentHandler(lister RecentLister) *RecentHandler {
	return &RecentHandler{lister: lister}
}

func (h *RecentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.lister.ListRecentCompleted(r.Context(), recentLimit)
	if err != nil {
		http.Error(w, "Error fetching downloads", http.StatusInternalServerError)
		return
	}

	recent := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		entry := map[string]interface{}{
			"title":   job.Title,
			"format":  job.Format,
			"quality": job.Quality,
		}
		if job.CompletedAt != nil {
			entry["completed_at"] = job.CompletedAt
		}
		recent = append(recent, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"downloads": recent,
	})
}
