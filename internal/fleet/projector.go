// Package fleet derives the operational state of every vehicle from its
// maintenance requests.
package fleet

import (
	"context"
	"fmt"
	"sort"

	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// State is the derived availability of a vehicle.
type State string

const (
	StateOperational State = "OPERATIONAL"
	StateInWorkshop  State = "IN_WORKSHOP"
)

// VehicleStatus is one row of the fleet board.
type VehicleStatus struct {
	VehicleID    string `json:"vehicle_id"`
	Plate        string `json:"plate"`
	Name         string `json:"name"`
	SiteID       string `json:"site_id"`
	SiteName     string `json:"site_name"`
	State        State  `json:"state"`
	OpenRequests int    `json:"open_requests"`
}

// Aggregate counts vehicles per state. Operational + InWorkshop == Total.
type Aggregate struct {
	SiteID      string `json:"site_id,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Total       int    `json:"total"`
	Operational int    `json:"operational"`
	InWorkshop  int    `json:"in_workshop"`
}

func (a *Aggregate) add(state State) {
	a.Total++
	if state == StateInWorkshop {
		a.InWorkshop++
	} else {
		a.Operational++
	}
}

// Status is the projector output.
type Status struct {
	Vehicles []VehicleStatus `json:"vehicles"`
	Sites    []Aggregate     `json:"sites"`
	Global   Aggregate       `json:"global"`
}

// Project computes the fleet status. Vehicles whose site is not in sites are
// grouped under their raw site id.
func Project(vehicles []models.Vehicle, requests []models.Request, sites []models.Site) Status {
	open := make(map[string]int)
	for _, r := range requests {
		if r.Status.InWorkshop() {
			open[r.VehicleID]++
		}
	}
	names := make(map[string]string, len(sites))
	for _, s := range sites {
		names[s.ID.Hex()] = s.Name
	}

	out := Status{Vehicles: make([]VehicleStatus, 0, len(vehicles)), Sites: []Aggregate{}}
	bySite := make(map[string]*Aggregate)
	for _, v := range vehicles {
		id := v.ID.Hex()
		siteName, ok := names[v.SiteID]
		if !ok {
			siteName = v.SiteID
		}
		state := StateOperational
		if open[id] > 0 {
			state = StateInWorkshop
		}
		out.Vehicles = append(out.Vehicles, VehicleStatus{
			VehicleID:    id,
			Plate:        v.Plate,
			Name:         v.Name,
			SiteID:       v.SiteID,
			SiteName:     siteName,
			State:        state,
			OpenRequests: open[id],
		})

		agg, ok := bySite[v.SiteID]
		if !ok {
			agg = &Aggregate{SiteID: v.SiteID, SiteName: siteName}
			bySite[v.SiteID] = agg
		}
		agg.add(state)
		out.Global.add(state)
	}

	sort.SliceStable(out.Vehicles, func(i, j int) bool {
		if out.Vehicles[i].Plate == out.Vehicles[j].Plate {
			return out.Vehicles[i].VehicleID < out.Vehicles[j].VehicleID
		}
		return out.Vehicles[i].Plate < out.Vehicles[j].Plate
	})
	for _, agg := range bySite {
		out.Sites = append(out.Sites, *agg)
	}
	sort.Slice(out.Sites, func(i, j int) bool {
		if out.Sites[i].SiteName == out.Sites[j].SiteName {
			return out.Sites[i].SiteID < out.Sites[j].SiteID
		}
		return out.Sites[i].SiteName < out.Sites[j].SiteName
	})
	return out
}

// Projector loads the inputs of Project from the stores.
type Projector struct {
	vehicles db.VehicleCollection
	requests db.RequestCollection
	sites    db.SiteCollection
}

// NewProjector creates a Projector.
func NewProjector(vehicles db.VehicleCollection, requests db.RequestCollection, sites db.SiteCollection) *Projector {
	return &Projector{vehicles: vehicles, requests: requests, sites: sites}
}

// Status recomputes the fleet status, restricted to siteID when non-empty.
func (p *Projector) Status(ctx context.Context, siteID string) (Status, error) {
	vehicles, err := p.vehicles.FindVehicles(ctx, siteID)
	if err != nil {
		return Status{}, fmt.Errorf("load vehicles: %w", err)
	}
	requests, err := p.requests.FindRequests(ctx, db.RequestFilter{
		SiteID:   siteID,
		Statuses: []models.Status{models.StatusPendingDiagnosis, models.StatusPendingDecision, models.StatusInRepair},
	})
	if err != nil {
		return Status{}, fmt.Errorf("load requests: %w", err)
	}
	sites, err := p.sites.FindSites(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load sites: %w", err)
	}
	return Project(vehicles, requests, sites), nil
}
