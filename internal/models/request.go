package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Status is the pipeline stage a maintenance request is in.
type Status string

const (
	StatusPendingDiagnosis Status = "pending_diagnosis"
	StatusPendingDecision  Status = "pending_decision"
	StatusInRepair         Status = "in_repair"
	StatusReadyForDelivery Status = "ready_for_delivery"
	StatusPendingClosure   Status = "pending_closure"
	StatusClosed           Status = "closed"
	StatusRejected         Status = "rejected"
)

// AllStatuses lists every status in pipeline order.
var AllStatuses = []Status{
	StatusPendingDiagnosis,
	StatusPendingDecision,
	StatusInRepair,
	StatusReadyForDelivery,
	StatusPendingClosure,
	StatusClosed,
	StatusRejected,
}

// Terminal reports whether no further transition is accepted from s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusRejected
}

// InWorkshop reports whether a request in status s keeps its vehicle in the workshop.
func (s Status) InWorkshop() bool {
	switch s {
	case StatusPendingDiagnosis, StatusPendingDecision, StatusInRepair:
		return true
	default:
		return false
	}
}

// IsValidStatus checks if a status is one of the known pipeline stages
func IsValidStatus(s Status) bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Decision is the coordinator's verdict on a diagnosed request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Request represents one maintenance case tracked through the five-stage pipeline.
// Stage fields are only ever appended as the request advances.
type Request struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	VehicleID string             `bson:"vehicle_id" json:"vehicle_id"`
	SiteID    string             `bson:"site_id" json:"site_id"`
	DriverID  string             `bson:"driver_id" json:"driver_id"`
	Status    Status             `bson:"status" json:"status"`

	// Stage 1: creation
	ReportedIssue    string    `bson:"reported_issue" json:"reported_issue"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
	SignatureRequest string    `bson:"signature_request" json:"signature_request"`

	// Stage 2: diagnosis
	TechnicianID       string     `bson:"technician_id,omitempty" json:"technician_id,omitempty"`
	DiagnosisText      string     `bson:"diagnosis_text,omitempty" json:"diagnosis_text,omitempty"`
	EntryTime          *time.Time `bson:"entry_time,omitempty" json:"entry_time,omitempty"`
	DiagnosedAt        *time.Time `bson:"diagnosed_at,omitempty" json:"diagnosed_at,omitempty"`
	SignatureDiagnosis string     `bson:"signature_diagnosis,omitempty" json:"signature_diagnosis,omitempty"`

	// Stage 3: decision
	CoordinatorID     string     `bson:"coordinator_id,omitempty" json:"coordinator_id,omitempty"`
	Decision          Decision   `bson:"decision,omitempty" json:"decision,omitempty"`
	RejectionReason   string     `bson:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
	DecisionAt        *time.Time `bson:"decision_at,omitempty" json:"decision_at,omitempty"`
	SignatureDecision string     `bson:"signature_decision,omitempty" json:"signature_decision,omitempty"`

	// Stage 4: repair
	RepairTechnicianID string     `bson:"repair_technician_id,omitempty" json:"repair_technician_id,omitempty"`
	WorkPerformed      string     `bson:"work_performed,omitempty" json:"work_performed,omitempty"`
	PartsUsed          string     `bson:"parts_used,omitempty" json:"parts_used,omitempty"`
	WorkshopNotes      string     `bson:"workshop_notes,omitempty" json:"workshop_notes,omitempty"`
	ExitTime           *time.Time `bson:"exit_time,omitempty" json:"exit_time,omitempty"`
	RepairedAt         *time.Time `bson:"repaired_at,omitempty" json:"repaired_at,omitempty"`
	SignatureRepair    string     `bson:"signature_repair,omitempty" json:"signature_repair,omitempty"`

	// Stage 5a: driver acknowledgment
	DriverNotes        string     `bson:"driver_notes,omitempty" json:"driver_notes,omitempty"`
	AcknowledgedAt     *time.Time `bson:"acknowledged_at,omitempty" json:"acknowledged_at,omitempty"`
	SignatureDriverAck string     `bson:"signature_driver_ack,omitempty" json:"signature_driver_ack,omitempty"`

	// Stage 5b: closure
	ClosingCoordinatorID string     `bson:"closing_coordinator_id,omitempty" json:"closing_coordinator_id,omitempty"`
	ClosedAt             *time.Time `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
	SignatureClosure     string     `bson:"signature_closure,omitempty" json:"signature_closure,omitempty"`

	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// TransitionApplied is emitted once for every successful stage transition.
type TransitionApplied struct {
	RequestID string    `json:"request_id"`
	VehicleID string    `json:"vehicle_id"`
	SiteID    string    `json:"site_id"`
	DriverID  string    `json:"driver_id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	From      Status    `json:"from,omitempty"`
	To        Status    `json:"to"`
	At        time.Time `json:"at"`
}
