package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"ytgrab/models"
)

// JobGetter looks up a single job record.
type JobGetter interface {
	GetByID(ctx context.Context, id string) (*models.Job, error)
}

// FileHandler streams a completed job's artifact. Lookup is by job ID only;
// a raw filesystem path from the client is never trusted.
type FileHandler struct {
	jobs JobGetter
}

func NewFileHandler(jobs JobGetter) *FileHandler {
	return &FileHandler{jobs: jobs}
}

func (h *FileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := pathSuffix(r, "/api/file/")
	if jobID == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		http.Error(w, "Error fetching download", http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "Download not found", http.StatusNotFound)
		return
	}
	if job.Status != models.StatusCompleted || job.ArtifactPath == nil {
		http.Error(w, "Download not ready", http.StatusConflict)
		return
	}

	info, err := os.Stat(*job.ArtifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}

	filename := filepath.Base(*job.ArtifactPath)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))

	// ServeFile handles byte-range requests for large media.
	http.ServeFile(w, r, *job.ArtifactPath)
}
