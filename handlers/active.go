package handlers

import (
	"context"
	"net/http"

	"ytgrab/models"
)

// ActiveLister serves the active-downloads view.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]models.Job, error)
}

type ActiveHandler struct {
	lister ActiveLister
}

func NewActiveHandler(lister ActiveLister) *ActiveHandler {
	return &ActiveHandler{lister: lister}
}

func (h *ActiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.lister.ListActive(r.Context())
	if err != nil {
		http.Error(w, "Error fetching downloads", http.StatusInternalServerError)
		return
	}

	active := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		active = append(active, map[string]interface{}{
			"job_id":   job.ID,
			"status":   job.Status,
			"progress": job.ProgressPercent,
			"format":   job.Format,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_downloads": len(active),
		"downloads":        active,
	})
}
