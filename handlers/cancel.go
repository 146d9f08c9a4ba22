package handlers

import (
	"errors"
	"net/http"

	"ytgrab/services"
)

// Canceller terminates running jobs.
type Canceller interface {
	Cancel(jobID string) error
}

type CancelHandler struct {
	canceller Canceller
}

func NewCancelHandler(canceller Canceller) *CancelHandler {
	return &CancelHandler{canceller: canceller}
}

func (h *CancelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := pathSuffix(r, "/api/cancel/")
	if jobID == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	if err := h.canceller.Cancel(jobID); err != nil {
		if errors.Is(err, services.ErrNotRunning) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error": "No running download with that ID",
			})
			return
		}
		http.Error(w, "Error cancelling download", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "cancelling",
		"job_id": jobID,
	})
}
