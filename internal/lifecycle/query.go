package lifecycle

import (
	"context"
	"errors"

	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// Bucket names a view of the request list.
type Bucket string

const (
	BucketPendingDiagnosis Bucket = "pending-diagnosis"
	BucketPendingDecision  Bucket = "pending-decision"
	BucketInRepair         Bucket = "in-repair"
	BucketReadyForDelivery Bucket = "ready-for-delivery"
	BucketPendingClosure   Bucket = "pending-closure"
	BucketHistorical       Bucket = "historical"
	BucketAll              Bucket = "all"
)

var bucketStatuses = map[Bucket][]models.Status{
	BucketPendingDiagnosis: {models.StatusPendingDiagnosis},
	BucketPendingDecision:  {models.StatusPendingDecision},
	BucketInRepair:         {models.StatusInRepair},
	BucketReadyForDelivery: {models.StatusReadyForDelivery},
	BucketPendingClosure:   {models.StatusPendingClosure},
	BucketHistorical:       {models.StatusClosed, models.StatusRejected},
	BucketAll:              nil,
}

// ParseBucket maps a query value to a Bucket. An empty value means BucketAll.
func ParseBucket(s string) (Bucket, bool) {
	if s == "" {
		return BucketAll, true
	}
	b := Bucket(s)
	_, ok := bucketStatuses[b]
	return b, ok
}

// actionable lists, per role, the statuses that wait on that role.
var actionable = map[models.Role][]models.Status{
	models.RoleDriver:      {models.StatusReadyForDelivery},
	models.RoleTechnician:  {models.StatusPendingDiagnosis, models.StatusInRepair},
	models.RoleCoordinator: {models.StatusPendingDecision, models.StatusPendingClosure},
	models.RoleAdmin: {
		models.StatusPendingDiagnosis,
		models.StatusPendingDecision,
		models.StatusInRepair,
		models.StatusReadyForDelivery,
		models.StatusPendingClosure,
	},
}

// scope restricts a filter to what caller may see. siteID is honoured only
// for admins.
func scope(caller models.Claims, siteID string) (db.RequestFilter, bool) {
	switch caller.Role {
	case models.RoleAdmin:
		return db.RequestFilter{SiteID: siteID}, true
	case models.RoleDriver:
		return db.RequestFilter{DriverID: caller.UserID}, caller.UserID != ""
	case models.RoleTechnician, models.RoleCoordinator:
		return db.RequestFilter{SiteID: caller.SiteID}, caller.SiteID != ""
	default:
		return db.RequestFilter{}, false
	}
}

func visible(caller models.Claims, r *models.Request) bool {
	switch caller.Role {
	case models.RoleAdmin:
		return true
	case models.RoleDriver:
		return r.DriverID == caller.UserID
	case models.RoleTechnician, models.RoleCoordinator:
		return caller.SiteID != "" && r.SiteID == caller.SiteID
	default:
		return false
	}
}

// List returns the requests of bucket visible to caller, newest first.
func (e *Engine) List(ctx context.Context, caller models.Claims, bucket Bucket, siteID string) ([]models.Request, error) {
	const op = "list"
	statuses, ok := bucketStatuses[bucket]
	if !ok {
		return nil, &Error{Op: op, Kind: ErrValidation, Detail: "unknown bucket " + string(bucket)}
	}
	filter, ok := scope(caller, siteID)
	if !ok {
		return nil, &Error{Op: op, Kind: ErrForbidden, Detail: "caller has no request scope"}
	}
	filter.Statuses = statuses
	requests, err := e.requests.FindRequests(ctx, filter)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrStoreUnavailable, Err: err}
	}
	return requests, nil
}

// Get returns one request if caller may see it.
func (e *Engine) Get(ctx context.Context, caller models.Claims, id string) (*models.Request, error) {
	const op = "get"
	rec, err := e.requests.FindRequestByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, &Error{Op: op, Kind: ErrNotFound, RequestID: id}
	}
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrStoreUnavailable, RequestID: id, Err: err}
	}
	if !visible(caller, rec) {
		return nil, &Error{Op: op, Kind: ErrForbidden, RequestID: id}
	}
	return rec, nil
}

// PendingCount returns how many visible requests currently wait on the
// caller's role.
func (e *Engine) PendingCount(ctx context.Context, caller models.Claims) (int, error) {
	const op = "pending_count"
	filter, ok := scope(caller, "")
	if !ok {
		return 0, &Error{Op: op, Kind: ErrForbidden, Detail: "caller has no request scope"}
	}
	filter.Statuses = actionable[caller.Role]
	requests, err := e.requests.FindRequests(ctx, filter)
	if err != nil {
		return 0, &Error{Op: op, Kind: ErrStoreUnavailable, Err: err}
	}
	return len(requests), nil
}
