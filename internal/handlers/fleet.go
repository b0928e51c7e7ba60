package handlers

import (
	"net/http"

	"github.com/ukydev/fleet-maintenance/internal/fleet"
)

// FleetHandler serves the derived fleet status board.
type FleetHandler struct {
	projector *fleet.Projector
}

// NewFleetHandler creates a fleet handler.
func NewFleetHandler(projector *fleet.Projector) *FleetHandler {
	return &FleetHandler{projector: projector}
}

// Status recomputes the board for the caller's site, or any site for admins.
func (h *FleetHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	status, err := h.projector.Status(r.Context(), siteScope(claims, r.URL.Query().Get("site_id")))
	if err != nil {
		writeStoreError(w, err, "Failed to compute fleet status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
