package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ukydev/fleet-maintenance/internal/lifecycle"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// RequestHandler exposes the maintenance request lifecycle over HTTP.
type RequestHandler struct {
	engine *lifecycle.Engine
}

// NewRequestHandler creates a request handler.
func NewRequestHandler(engine *lifecycle.Engine) *RequestHandler {
	return &RequestHandler{engine: engine}
}

// Submit opens a new request for a vehicle.
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	var in lifecycle.SubmitInput
	if !decode(w, r, &in) {
		return
	}
	req, err := h.engine.Submit(r.Context(), claims, in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// List returns the caller's view of a bucket.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	bucket, ok := lifecycle.ParseBucket(r.URL.Query().Get("bucket"))
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "Unknown bucket")
		return
	}
	status := models.Status(r.URL.Query().Get("status"))
	if status != "" && !models.IsValidStatus(status) {
		writeError(w, http.StatusBadRequest, "validation_error", "Unknown status")
		return
	}
	requests, err := h.engine.List(r.Context(), claims, bucket, r.URL.Query().Get("site_id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if status != "" {
		matching := requests[:0]
		for _, req := range requests {
			if req.Status == status {
				matching = append(matching, req)
			}
		}
		requests = matching
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bucket":   bucket,
		"count":    len(requests),
		"requests": requests,
	})
}

// PendingCount returns how many requests wait on the caller's role.
func (h *RequestHandler) PendingCount(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	n, err := h.engine.PendingCount(r.Context(), claims)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// Get returns one request.
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	req, err := h.engine.Get(r.Context(), claims, mux.Vars(r)["id"])
	reply(w, req, err)
}

func reply(w http.ResponseWriter, req *models.Request, err error) {
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Diagnose records a technician's diagnosis.
func (h *RequestHandler) Diagnose(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	var in lifecycle.DiagnosisInput
	if !decode(w, r, &in) {
		return
	}
	req, err := h.engine.Diagnose(r.Context(), claims, mux.Vars(r)["id"], in)
	reply(w, req, err)
}

// Decide records a coordinator's approval or rejection.
func (h *RequestHandler) Decide(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	var in lifecycle.DecisionInput
	if !decode(w, r, &in) {
		return
	}
	req, err := h.engine.Decide(r.Context(), claims, mux.Vars(r)["id"], in)
	reply(w, req, err)
}

// FinalizeRepair records the work performed.
func (h *RequestHandler) FinalizeRepair(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	var in lifecycle.RepairInput
	if !decode(w, r, &in) {
		return
	}
	req, err := h.engine.FinalizeRepair(r.Context(), claims, mux.Vars(r)["id"], in)
	reply(w, req, err)
}

// Acknowledge records the driver's receipt of the vehicle.
func (h *RequestHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	var in lifecycle.AcknowledgeInput
	if !decode(w, r, &in) {
		return
	}
	req, err := h.engine.AcknowledgeReceipt(r.Context(), claims, mux.Vars(r)["id"], in)
	reply(w, req, err)
}

// Close archives the request.
func (h *RequestHandler) Close(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	var in lifecycle.CloseInput
	if !decode(w, r, &in) {
		return
	}
	req, err := h.engine.Close(r.Context(), claims, mux.Vars(r)["id"], in)
	reply(w, req, err)
}
