// Package lifecycle drives a maintenance request through its stages:
// driver report, technician diagnosis, coordinator decision, repair,
// driver acknowledgment and coordinator closure.
//
// Every transition is checked against the permission table, the current
// status, the caller's signature and the stage payload before it is
// committed with a compare-and-swap on the stored status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/access"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/metrics"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// Publisher receives a TransitionApplied event after each committed
// transition. Delivery failures must not be reported back to the engine.
type Publisher interface {
	Publish(ctx context.Context, event models.TransitionApplied)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event models.TransitionApplied)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, event models.TransitionApplied) {
	f(ctx, event)
}

// Engine applies lifecycle transitions.
type Engine struct {
	requests  db.RequestCollection
	vehicles  db.VehicleCollection
	publisher Publisher
	validate  *validator.Validate
	log       *log.Entry
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for stage timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublisher sets the sink for TransitionApplied events.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the engine's log entry.
func WithLogger(entry *log.Entry) Option {
	return func(e *Engine) { e.log = entry }
}

// NewEngine creates an engine over the request and vehicle stores.
func NewEngine(requests db.RequestCollection, vehicles db.VehicleCollection, opts ...Option) *Engine {
	e := &Engine{
		requests: requests,
		vehicles: vehicles,
		validate: newValidator(),
		log:      log.WithField("component", "lifecycle"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit creates a request in pending_diagnosis for a vehicle of the
// caller's site. The site is taken from the vehicle, never from the caller.
func (e *Engine) Submit(ctx context.Context, caller models.Claims, in SubmitInput) (*models.Request, error) {
	const op = "submit"
	start := time.Now()
	fail := func(kind error, detail string, cause error) error {
		return e.refuse(op, access.ActionSubmit, "", kind, detail, cause, start)
	}

	if !access.Allows(caller.Role, access.ActionSubmit) {
		return nil, fail(ErrForbidden, fmt.Sprintf("role %q may not submit requests", caller.Role), nil)
	}
	if blank(in.VehicleID) {
		return nil, fail(ErrValidation, "vehicle_id failed \"notblank\"", nil)
	}
	vehicle, err := e.vehicles.FindVehicleByID(ctx, strings.TrimSpace(in.VehicleID))
	if errors.Is(err, db.ErrNotFound) {
		return nil, fail(ErrValidation, "unknown vehicle "+in.VehicleID, nil)
	}
	if err != nil {
		return nil, fail(ErrStoreUnavailable, "", err)
	}
	if !access.CanPerformAs(caller, access.ActionSubmit, vehicle.SiteID, true) {
		return nil, fail(ErrForbidden, "vehicle belongs to another site", nil)
	}
	if blank(in.Signature) {
		return nil, fail(ErrMissingSignature, "", nil)
	}
	if detail := e.check(in); detail != "" {
		return nil, fail(ErrValidation, detail, nil)
	}

	now := e.now().UTC()
	req := &models.Request{
		VehicleID:        vehicle.ID.Hex(),
		SiteID:           vehicle.SiteID,
		DriverID:         caller.UserID,
		Status:           models.StatusPendingDiagnosis,
		ReportedIssue:    strings.TrimSpace(in.IssueText),
		CreatedAt:        now,
		SignatureRequest: in.Signature,
		UpdatedAt:        now,
	}
	if err := e.requests.InsertRequest(ctx, req); err != nil {
		return nil, fail(ErrStoreUnavailable, "", err)
	}
	e.applied(ctx, op, access.ActionSubmit, caller, "", req, start)
	return req, nil
}

// Diagnose records the technician's diagnosis and moves the request to
// pending_decision.
func (e *Engine) Diagnose(ctx context.Context, caller models.Claims, id string, in DiagnosisInput) (*models.Request, error) {
	return e.transition(ctx, caller, id, stage{
		op:        "diagnose",
		action:    access.ActionDiagnose,
		from:      models.StatusPendingDiagnosis,
		signature: in.Signature,
		input:     in,
		check: func(r *models.Request) string {
			if in.EntryTime.IsZero() {
				return "entry_time is required"
			}
			return ""
		},
		apply: func(r *models.Request, now time.Time) {
			entry := in.EntryTime.UTC()
			r.TechnicianID = caller.UserID
			r.DiagnosisText = strings.TrimSpace(in.DiagnosisText)
			r.EntryTime = &entry
			r.DiagnosedAt = &now
			r.SignatureDiagnosis = in.Signature
			r.Status = models.StatusPendingDecision
		},
		done: func(r *models.Request) bool {
			return r.TechnicianID == caller.UserID && r.SignatureDiagnosis == in.Signature
		},
	})
}

// Decide approves or rejects a diagnosed request. A rejection requires a
// reason and is terminal.
func (e *Engine) Decide(ctx context.Context, caller models.Claims, id string, in DecisionInput) (*models.Request, error) {
	return e.transition(ctx, caller, id, stage{
		op:        "decide",
		action:    access.ActionDecide,
		from:      models.StatusPendingDecision,
		signature: in.Signature,
		input:     in,
		check: func(r *models.Request) string {
			switch {
			case in.Decision == models.DecisionRejected && blank(in.Reason):
				return "reason is required when rejecting"
			case in.Decision == models.DecisionApproved && !blank(in.Reason):
				return "reason is only accepted when rejecting"
			}
			return ""
		},
		apply: func(r *models.Request, now time.Time) {
			r.CoordinatorID = caller.UserID
			r.Decision = in.Decision
			r.DecisionAt = &now
			r.SignatureDecision = in.Signature
			if in.Decision == models.DecisionRejected {
				r.RejectionReason = strings.TrimSpace(in.Reason)
				r.Status = models.StatusRejected
				return
			}
			r.Status = models.StatusInRepair
		},
		done: func(r *models.Request) bool {
			return r.CoordinatorID == caller.UserID &&
				r.SignatureDecision == in.Signature &&
				r.Decision == in.Decision
		},
	})
}

// FinalizeRepair records the work performed and moves the request to
// ready_for_delivery. Any technician of the site may finalize.
func (e *Engine) FinalizeRepair(ctx context.Context, caller models.Claims, id string, in RepairInput) (*models.Request, error) {
	return e.transition(ctx, caller, id, stage{
		op:        "finalize_repair",
		action:    access.ActionFinalizeRepair,
		from:      models.StatusInRepair,
		signature: in.Signature,
		input:     in,
		check: func(r *models.Request) string {
			if in.ExitTime.IsZero() {
				return "exit_time is required"
			}
			if r.EntryTime != nil && in.ExitTime.Before(*r.EntryTime) {
				return "exit_time precedes entry_time"
			}
			return ""
		},
		apply: func(r *models.Request, now time.Time) {
			exit := in.ExitTime.UTC()
			r.RepairTechnicianID = caller.UserID
			r.WorkPerformed = strings.TrimSpace(in.WorkPerformed)
			r.PartsUsed = strings.TrimSpace(in.PartsUsed)
			r.WorkshopNotes = strings.TrimSpace(in.Notes)
			r.ExitTime = &exit
			r.RepairedAt = &now
			r.SignatureRepair = in.Signature
			r.Status = models.StatusReadyForDelivery
		},
		done: func(r *models.Request) bool {
			return r.RepairTechnicianID == caller.UserID && r.SignatureRepair == in.Signature
		},
	})
}

// AcknowledgeReceipt records the owning driver's receipt of the vehicle and
// moves the request to pending_closure.
func (e *Engine) AcknowledgeReceipt(ctx context.Context, caller models.Claims, id string, in AcknowledgeInput) (*models.Request, error) {
	return e.transition(ctx, caller, id, stage{
		op:        "acknowledge_receipt",
		action:    access.ActionAcknowledgeReceipt,
		from:      models.StatusReadyForDelivery,
		signature: in.Signature,
		input:     in,
		apply: func(r *models.Request, now time.Time) {
			r.DriverNotes = strings.TrimSpace(in.Notes)
			r.AcknowledgedAt = &now
			r.SignatureDriverAck = in.Signature
			r.Status = models.StatusPendingClosure
		},
		done: func(r *models.Request) bool {
			return r.DriverID == caller.UserID && r.SignatureDriverAck == in.Signature
		},
	})
}

// Close archives an acknowledged request.
func (e *Engine) Close(ctx context.Context, caller models.Claims, id string, in CloseInput) (*models.Request, error) {
	return e.transition(ctx, caller, id, stage{
		op:        "close",
		action:    access.ActionClose,
		from:      models.StatusPendingClosure,
		signature: in.Signature,
		input:     in,
		apply: func(r *models.Request, now time.Time) {
			r.ClosingCoordinatorID = caller.UserID
			r.ClosedAt = &now
			r.SignatureClosure = in.Signature
			r.Status = models.StatusClosed
		},
		done: func(r *models.Request) bool {
			return r.ClosingCoordinatorID == caller.UserID && r.SignatureClosure == in.Signature
		},
	})
}

// stage describes one edge of the pipeline.
type stage struct {
	op        string
	action    access.Action
	from      models.Status
	signature string
	input     interface{}
	// check returns a validation detail that depends on the stored record.
	check func(r *models.Request) string
	apply func(r *models.Request, now time.Time)
	// done reports whether r already carries this caller's effect for the stage.
	done func(r *models.Request) bool
}

func (e *Engine) transition(ctx context.Context, caller models.Claims, id string, s stage) (*models.Request, error) {
	start := time.Now()
	fail := func(kind error, detail string, cause error) error {
		return e.refuse(s.op, s.action, id, kind, detail, cause, start)
	}

	rec, err := e.requests.FindRequestByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fail(ErrNotFound, "", nil)
	}
	if err != nil {
		return nil, fail(ErrStoreUnavailable, "", err)
	}

	if !blank(s.signature) && s.done(rec) {
		e.log.WithFields(log.Fields{
			"op":         s.op,
			"request_id": id,
			"actor_id":   caller.UserID,
		}).Debug("transition already applied")
		return rec, nil
	}
	if rec.Status.Terminal() {
		return nil, fail(ErrInvalidTransition, fmt.Sprintf("request is %s", rec.Status), nil)
	}
	if !access.CanPerformAs(caller, s.action, rec.SiteID, rec.DriverID == caller.UserID) {
		return nil, fail(ErrForbidden, fmt.Sprintf("role %q may not %s this request", caller.Role, s.action), nil)
	}
	if rec.Status != s.from {
		return nil, fail(ErrInvalidTransition, fmt.Sprintf("expected %s, found %s", s.from, rec.Status), nil)
	}
	if blank(s.signature) {
		return nil, fail(ErrMissingSignature, "", nil)
	}
	if detail := e.check(s.input); detail != "" {
		return nil, fail(ErrValidation, detail, nil)
	}
	if s.check != nil {
		if detail := s.check(rec); detail != "" {
			return nil, fail(ErrValidation, detail, nil)
		}
	}

	now := e.now().UTC()
	next := *rec
	s.apply(&next, now)
	next.UpdatedAt = now

	if err := e.requests.CompareAndSwapRequest(ctx, s.from, next); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fail(ErrNotFound, "", nil)
		}
		if !errors.Is(err, db.ErrStatusChanged) {
			return nil, fail(ErrStoreUnavailable, "", err)
		}
		current, rerr := e.requests.FindRequestByID(ctx, id)
		if rerr == nil && s.done(current) {
			return current, nil
		}
		return nil, fail(ErrConflict, "request was modified concurrently", nil)
	}

	e.applied(ctx, s.op, s.action, caller, s.from, &next, start)
	return &next, nil
}

// check validates input struct tags and flattens the failures into one detail.
func (e *Engine) check(input interface{}) string {
	err := e.validate.Struct(input)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(fields, "; ")
}

func (e *Engine) applied(ctx context.Context, op string, action access.Action, caller models.Claims, from models.Status, r *models.Request, start time.Time) {
	event := models.TransitionApplied{
		RequestID: r.ID.Hex(),
		VehicleID: r.VehicleID,
		SiteID:    r.SiteID,
		DriverID:  r.DriverID,
		ActorID:   caller.UserID,
		Action:    string(action),
		From:      from,
		To:        r.Status,
		At:        r.UpdatedAt,
	}
	metrics.ObserveTransition(string(action), string(r.Status), time.Since(start))
	e.log.WithFields(log.Fields{
		"op":         op,
		"request_id": event.RequestID,
		"actor_id":   caller.UserID,
		"from":       from,
		"to":         r.Status,
	}).Info("transition applied")
	if e.publisher != nil {
		e.publisher.Publish(ctx, event)
	}
}

func (e *Engine) refuse(op string, action access.Action, id string, kind error, detail string, cause error, start time.Time) error {
	err := &Error{Op: op, Kind: kind, RequestID: id, Detail: detail, Err: cause}
	metrics.ObserveFailure(string(action), Code(err), time.Since(start))
	entry := e.log.WithFields(log.Fields{
		"op":         op,
		"request_id": id,
		"reason":     Code(err),
	})
	if cause != nil {
		entry.WithError(cause).Error("transition failed")
	} else {
		entry.Warn(err.Error())
	}
	return err
}
