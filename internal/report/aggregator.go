// Package report builds the status and vehicle histograms of maintenance
// requests created within a date range.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// Query selects the requests of a report. Zero bounds are open; both bounds
// are inclusive on created_at.
type Query struct {
	Start  time.Time
	End    time.Time
	SiteID string
}

// Count is one histogram bucket.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Report holds both histograms, each sorted by key.
type Report struct {
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	SiteID    string     `json:"site_id,omitempty"`
	Total     int        `json:"total"`
	ByStatus  []Count    `json:"by_status"`
	ByVehicle []Count    `json:"by_vehicle"`
}

// Aggregate counts requests by status and by vehicle. plates maps vehicle ids
// to plates; vehicles missing from it are keyed by their id.
func Aggregate(q Query, requests []models.Request, plates map[string]string) Report {
	status := make(map[string]int)
	vehicle := make(map[string]int)
	rep := Report{SiteID: q.SiteID}
	if !q.Start.IsZero() {
		start := q.Start.UTC()
		rep.Start = &start
	}
	if !q.End.IsZero() {
		end := q.End.UTC()
		rep.End = &end
	}

	for _, r := range requests {
		if !q.Start.IsZero() && r.CreatedAt.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && r.CreatedAt.After(q.End) {
			continue
		}
		if q.SiteID != "" && r.SiteID != q.SiteID {
			continue
		}
		rep.Total++
		status[string(r.Status)]++
		key, ok := plates[r.VehicleID]
		if !ok || key == "" {
			key = r.VehicleID
		}
		vehicle[key]++
	}
	rep.ByStatus = histogram(status)
	rep.ByVehicle = histogram(vehicle)
	return rep
}

func histogram(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, n := range m {
		out = append(out, Count{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Aggregator loads report inputs from the stores.
type Aggregator struct {
	requests db.RequestCollection
	vehicles db.VehicleCollection
}

// NewAggregator creates an Aggregator.
func NewAggregator(requests db.RequestCollection, vehicles db.VehicleCollection) *Aggregator {
	return &Aggregator{requests: requests, vehicles: vehicles}
}

// Build runs q against the stores.
func (a *Aggregator) Build(ctx context.Context, q Query) (Report, error) {
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return Report{}, fmt.Errorf("end %s precedes start %s", q.End.Format(time.RFC3339), q.Start.Format(time.RFC3339))
	}
	requests, err := a.requests.FindRequests(ctx, db.RequestFilter{
		SiteID:      q.SiteID,
		CreatedFrom: q.Start,
		CreatedTo:   q.End,
	})
	if err != nil {
		return Report{}, fmt.Errorf("load requests: %w", err)
	}
	vehicles, err := a.vehicles.FindVehicles(ctx, "")
	if err != nil {
		return Report{}, fmt.Errorf("load vehicles: %w", err)
	}
	plates := make(map[string]string, len(vehicles))
	for _, v := range vehicles {
		plates[v.ID.Hex()] = v.Plate
	}
	return Aggregate(q, requests, plates), nil
}
