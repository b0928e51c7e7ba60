package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// CatalogHandler manages the vehicle and site reference data.
type CatalogHandler struct {
	vehicles db.VehicleCollection
	sites    db.SiteCollection
}

// NewCatalogHandler creates a catalog handler.
func NewCatalogHandler(vehicles db.VehicleCollection, sites db.SiteCollection) *CatalogHandler {
	return &CatalogHandler{vehicles: vehicles, sites: sites}
}

type vehicleInput struct {
	SiteID string `json:"site_id" validate:"required"`
	Plate  string `json:"plate" validate:"notblank"`
	Name   string `json:"name"`
	Make   string `json:"make"`
	Model  string `json:"model"`
}

type siteInput struct {
	Name string `json:"name" validate:"notblank"`
}

// ListVehicles returns the vehicles of the caller's site, or of any site for admins.
func (h *CatalogHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	vehicles, err := h.vehicles.FindVehicles(r.Context(), siteScope(claims, r.URL.Query().Get("site_id")))
	if err != nil {
		writeStoreError(w, err, "Failed to list vehicles")
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// CreateVehicle registers a vehicle at an existing site.
func (h *CatalogHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var in vehicleInput
	if !decodeValid(w, r, &in) {
		return
	}
	_, err := h.sites.FindSiteByID(r.Context(), in.SiteID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "validation_error", "Unknown site")
		return
	}
	if err != nil {
		writeStoreError(w, err, "Failed to look up site")
		return
	}

	vehicle := models.Vehicle{
		SiteID: in.SiteID,
		Plate:  strings.ToUpper(strings.TrimSpace(in.Plate)),
		Name:   strings.TrimSpace(in.Name),
		Make:   strings.TrimSpace(in.Make),
		Model:  strings.TrimSpace(in.Model),
	}
	err = h.vehicles.InsertVehicle(r.Context(), &vehicle)
	if errors.Is(err, db.ErrDuplicate) {
		writeError(w, http.StatusConflict, "conflict", "Plate already registered")
		return
	}
	if err != nil {
		writeStoreError(w, err, "Failed to create vehicle")
		return
	}
	writeJSON(w, http.StatusCreated, vehicle)
}

// ListSites returns every site.
func (h *CatalogHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.sites.FindSites(r.Context())
	if err != nil {
		writeStoreError(w, err, "Failed to list sites")
		return
	}
	writeJSON(w, http.StatusOK, sites)
}

// CreateSite registers a site.
func (h *CatalogHandler) CreateSite(w http.ResponseWriter, r *http.Request) {
	var in siteInput
	if !decodeValid(w, r, &in) {
		return
	}
	site := models.Site{Name: strings.TrimSpace(in.Name)}
	if err := h.sites.InsertSite(r.Context(), &site); err != nil {
		writeStoreError(w, err, "Failed to create site")
		return
	}
	writeJSON(w, http.StatusCreated, site)
}
