package handlers

import (
	"net/http"

	"github.com/haulfs/haulfs/internal/api/httpio"
	"github.com/haulfs/haulfs/pkg/maintenance"
)

// AdminHandler serves the maintenance trigger endpoint.
type AdminHandler struct {
	job *maintenance.Job
}

// NewAdminHandler constructs a handler bound to job.
func NewAdminHandler(job *maintenance.Job) *AdminHandler {
	return &AdminHandler{job: job}
}

// Cleanup handles POST /admin/cleanup: the admin trigger endpoint invokes
// the same sweep logic the background ticker runs, synchronously.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	report := h.job.RunOnce(r.Context())
	httpio.WriteJSON(w, http.StatusOK, report)
}
