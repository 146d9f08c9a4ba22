package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"ytgrab/models"
	"ytgrab/services"
)

// Submitter accepts download submissions.
type Submitter interface {
	Submit(ctx context.Context, identity string, req models.DownloadRequest) (*models.Job, int, error)
}

type DownloadHandler struct {
	submitter Submitter
}

func NewDownloadHandler(submitter Submitter) *DownloadHandler {
	return &DownloadHandler{submitter: submitter}
}

func (h *DownloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "Invalid request body",
		})
		return
	}

	identity := clientIdentity(r)
	job, remaining, err := h.submitter.Submit(r.Context(), identity, req)
	if err != nil {
		var validationErr *services.ValidationError
		if errors.As(err, &validationErr) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"error":   validationErr.Error(),
			})
			return
		}
		var rateErr *services.RateLimitError
		if errors.As(err, &rateErr) {
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"success":          false,
				"error":            "Rate limit exceeded",
				"time_until_reset": int(rateErr.RetryAfter.Seconds()),
			})
			return
		}
		log.Printf("Submit for %s failed: %v", identity, err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "Failed to start download",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"job_id":    job.ID,
		"remaining": remaining,
	})
}
