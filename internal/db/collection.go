package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

var (
	// ErrNotFound is returned when no record matches the given id.
	ErrNotFound = errors.New("record not found")
	// ErrStatusChanged is returned by CompareAndSwapRequest when the stored
	// status no longer equals the expected one.
	ErrStatusChanged = errors.New("request status changed")
	// ErrDuplicate is returned when an insert collides with a unique key.
	ErrDuplicate = errors.New("duplicate key")
)

// RequestFilter narrows request queries. Zero values mean "no constraint";
// the created-at bounds are inclusive.
type RequestFilter struct {
	SiteID      string
	DriverID    string
	VehicleID   string
	Statuses    []models.Status
	CreatedFrom time.Time
	CreatedTo   time.Time
}

// Matches reports whether a request satisfies the filter.
func (f RequestFilter) Matches(r models.Request) bool {
	if f.SiteID != "" && r.SiteID != f.SiteID {
		return false
	}
	if f.DriverID != "" && r.DriverID != f.DriverID {
		return false
	}
	if f.VehicleID != "" && r.VehicleID != f.VehicleID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.CreatedFrom.IsZero() && r.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && r.CreatedAt.After(f.CreatedTo) {
		return false
	}
	return true
}

// RequestCollection defines the interface for maintenance request storage.
type RequestCollection interface {
	InsertRequest(ctx context.Context, req *models.Request) error
	FindRequestByID(ctx context.Context, id string) (*models.Request, error)
	FindRequests(ctx context.Context, filter RequestFilter) ([]models.Request, error)
	// CompareAndSwapRequest replaces the stored request with next only if its
	// current status equals expected. It returns ErrStatusChanged otherwise,
	// or ErrNotFound when the request no longer exists.
	CompareAndSwapRequest(ctx context.Context, expected models.Status, next models.Request) error
}

// VehicleCollection defines the interface for vehicle data operations.
type VehicleCollection interface {
	// InsertVehicle returns ErrDuplicate when the plate is already registered.
	InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error
	FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error)
	// FindVehicles returns the vehicles of a site, or all of them when siteID is empty.
	FindVehicles(ctx context.Context, siteID string) ([]models.Vehicle, error)
}

// SiteCollection defines the interface for site reference data.
type SiteCollection interface {
	InsertSite(ctx context.Context, site *models.Site) error
	FindSiteByID(ctx context.Context, id string) (*models.Site, error)
	FindSites(ctx context.Context) ([]models.Site, error)
}
