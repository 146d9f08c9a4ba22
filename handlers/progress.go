package handlers

import (
	"context"
	"errors"
	"net/http"

	"ytgrab/services"
)

// StatusReader serves poll requests.
type StatusReader interface {
	GetStatus(ctx context.Context, jobID string) (*services.JobStatus, error)
}

type ProgressHandler struct {
	reader StatusReader
}

func NewProgressHandler(reader StatusReader) *ProgressHandler {
	return &ProgressHandler{reader: reader}
}

func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := pathSuffix(r, "/api/progress/")
	if jobID == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	status, err := h.reader.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error": "Download not found",
			})
			return
		}
		http.Error(w, "Error fetching status", http.StatusInternalServerError)
		return
	}

	body := map[string]interface{}{
		"status":   status.Status,
		"progress": status.Progress,
	}
	if status.ArtifactRef != "" {
		body["artifact"] = "/api/file/" + status.ArtifactRef
		body["file_size"] = status.ArtifactSize
	}
	if status.Error != "" {
		body["error"] = status.Error
	}
	writeJSON(w, http.StatusOK, body)
}
