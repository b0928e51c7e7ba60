package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/access"
	"github.com/ukydev/fleet-maintenance/internal/auth"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/fleet"
	"github.com/ukydev/fleet-maintenance/internal/lifecycle"
	"github.com/ukydev/fleet-maintenance/internal/metrics"
	"github.com/ukydev/fleet-maintenance/internal/middleware"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/report"
)

// Deps holds what the router wires into its handlers.
type Deps struct {
	Auth      *auth.Service
	Stores    db.Stores
	Engine    *lifecycle.Engine
	Projector *fleet.Projector
	Reports   *report.Aggregator
	Logger    log.FieldLogger

	RateLimitRequests int
	RateLimitWindow   time.Duration
	MetricsPath       string
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) *mux.Router {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.MetricsPath == "" {
		d.MetricsPath = "/metrics"
	}
	authMW := middleware.NewAuthMiddleware(d.Auth, d.MetricsPath)
	rateLimit := middleware.NewRateLimitMiddleware()

	authH := NewAuthHandler(d.Auth, d.Stores.Users, d.Stores.Sites)
	requestH := NewRequestHandler(d.Engine)
	fleetH := NewFleetHandler(d.Projector)
	reportH := NewReportHandler(d.Reports)
	catalogH := NewCatalogHandler(d.Stores.Vehicles, d.Stores.Sites)
	notifyH := NewNotificationHandler(d.Stores.Users)

	r := mux.NewRouter()
	r.Use(middleware.Logging(d.Logger))
	if d.RateLimitRequests > 0 {
		r.Use(rateLimit.RateLimit(d.RateLimitRequests, d.RateLimitWindow))
	}
	r.Use(authMW.Authenticate)

	r.HandleFunc("/health", Health).Methods(http.MethodGet)
	r.Handle(d.MetricsPath, metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	gate := func(action access.Action, h http.HandlerFunc) http.Handler {
		return authMW.RequireAction(action)(h)
	}

	api.HandleFunc("/auth/login", authH.Login).Methods(http.MethodPost)
	api.Handle("/auth/register", authMW.RequireRole(models.RoleAdmin)(http.HandlerFunc(authH.Register))).Methods(http.MethodPost)
	api.HandleFunc("/auth/profile", authH.GetProfile).Methods(http.MethodGet)
	api.HandleFunc("/auth/profile", authH.UpdateProfile).Methods(http.MethodPut)
	api.HandleFunc("/auth/password", authH.ChangePassword).Methods(http.MethodPost)
	api.Handle("/users", authMW.RequireRole(models.RoleAdmin)(http.HandlerFunc(authH.ListUsers))).Methods(http.MethodGet)

	api.HandleFunc("/requests", requestH.Submit).Methods(http.MethodPost)
	api.HandleFunc("/requests", requestH.List).Methods(http.MethodGet)
	api.HandleFunc("/requests/pending-count", requestH.PendingCount).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", requestH.Get).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/diagnosis", requestH.Diagnose).Methods(http.MethodPut)
	api.HandleFunc("/requests/{id}/decision", requestH.Decide).Methods(http.MethodPut)
	api.HandleFunc("/requests/{id}/repair", requestH.FinalizeRepair).Methods(http.MethodPut)
	api.HandleFunc("/requests/{id}/acknowledgment", requestH.Acknowledge).Methods(http.MethodPut)
	api.HandleFunc("/requests/{id}/closure", requestH.Close).Methods(http.MethodPut)

	api.Handle("/fleet/status", gate(access.ActionViewFleet, fleetH.Status)).Methods(http.MethodGet)
	api.Handle("/reports", gate(access.ActionViewReport, reportH.Get)).Methods(http.MethodGet)
	api.Handle("/reports/export", gate(access.ActionViewReport, reportH.Export)).Methods(http.MethodGet)

	api.HandleFunc("/vehicles", catalogH.ListVehicles).Methods(http.MethodGet)
	api.Handle("/vehicles", gate(access.ActionManageFleet, catalogH.CreateVehicle)).Methods(http.MethodPost)
	api.HandleFunc("/sites", catalogH.ListSites).Methods(http.MethodGet)
	api.Handle("/sites", gate(access.ActionManageFleet, catalogH.CreateSite)).Methods(http.MethodPost)

	api.HandleFunc("/notifications/subscribe", notifyH.Subscribe).Methods(http.MethodPost)

	return r
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
