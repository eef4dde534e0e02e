// Grounded on pkg/api/handlers/health.go's Liveness/Readiness split.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/haulfs/haulfs/internal/api/httpio"
	"github.com/haulfs/haulfs/internal/buildinfo"
	"github.com/haulfs/haulfs/pkg/metastore"
)

// HealthCheckTimeout bounds the readiness probe's metastore round trip.
const HealthCheckTimeout = 2 * time.Second

// HealthHandler serves the liveness/readiness/version endpoints.
type HealthHandler struct {
	meta metastore.Store
}

// NewHealthHandler constructs a handler bound to meta.
func NewHealthHandler(meta metastore.Store) *HealthHandler {
	return &HealthHandler{meta: meta}
}

// Liveness handles GET /health: always succeeds once the process can
// serve HTTP, for Kubernetes liveness probes.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	httpio.WriteHealthy(w)
}

// Readiness handles GET /health/ready: confirms the metadata store
// accepts a transaction before declaring the server ready to receive
// traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	err := h.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		return nil
	})
	if err != nil {
		httpio.WriteUnhealthy(w, "metadata store unreachable: "+err.Error())
		return
	}
	httpio.WriteHealthy(w)
}

// Version handles GET /version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	httpio.WriteJSON(w, http.StatusOK, buildinfo.Get())
}
