package handlers

import (
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/report"
)

// ReportHandler serves the request histograms.
type ReportHandler struct {
	aggregator *report.Aggregator
}

// NewReportHandler creates a report handler.
func NewReportHandler(aggregator *report.Aggregator) *ReportHandler {
	return &ReportHandler{aggregator: aggregator}
}

// parseBound accepts RFC3339 or YYYY-MM-DD. A date-only end bound covers the
// whole day.
func parseBound(v string, end bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (h *ReportHandler) build(w http.ResponseWriter, r *http.Request) (report.Report, bool) {
	claims, ok := caller(w, r)
	if !ok {
		return report.Report{}, false
	}
	q := r.URL.Query()
	start, err := parseBound(q.Get("start"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return report.Report{}, false
	}
	end, err := parseBound(q.Get("end"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return report.Report{}, false
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		writeError(w, http.StatusBadRequest, "validation_error", "end precedes start")
		return report.Report{}, false
	}

	rep, err := h.aggregator.Build(r.Context(), report.Query{
		Start:  start,
		End:    end,
		SiteID: siteScope(claims, q.Get("site_id")),
	})
	if err != nil {
		writeStoreError(w, err, "Failed to build report")
		return report.Report{}, false
	}
	return rep, true
}

// Get returns the histograms as JSON.
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	if rep, ok := h.build(w, r); ok {
		writeJSON(w, http.StatusOK, rep)
	}
}

// Export returns the histograms as an XLSX workbook.
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.build(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=maintenance-report-%s.xlsx", time.Now().UTC().Format("20060102")))
	if err := report.WriteXLSX(w, rep); err != nil {
		log.WithError(err).Error("Failed to write report workbook")
	}
}
