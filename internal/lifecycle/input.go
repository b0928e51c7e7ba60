package lifecycle

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// SubmitInput is the driver's initial report.
type SubmitInput struct {
	VehicleID string `json:"vehicle_id" validate:"notblank"`
	IssueText string `json:"issue_text" validate:"notblank"`
	Signature string `json:"signature"`
}

// DiagnosisInput is the technician's diagnosis.
type DiagnosisInput struct {
	DiagnosisText string    `json:"diagnosis_text" validate:"notblank"`
	EntryTime     time.Time `json:"entry_time"`
	Signature     string    `json:"signature"`
}

// DecisionInput is the coordinator's verdict.
type DecisionInput struct {
	Decision  models.Decision `json:"decision" validate:"oneof=approved rejected"`
	Reason    string          `json:"reason"`
	Signature string          `json:"signature"`
}

// RepairInput closes the workshop stage.
type RepairInput struct {
	WorkPerformed string    `json:"work_performed" validate:"notblank"`
	PartsUsed     string    `json:"parts_used"`
	Notes         string    `json:"notes"`
	ExitTime      time.Time `json:"exit_time"`
	Signature     string    `json:"signature"`
}

// AcknowledgeInput is the driver's receipt of the repaired vehicle.
type AcknowledgeInput struct {
	Notes     string `json:"notes"`
	Signature string `json:"signature"`
}

// CloseInput is the coordinator's administrative closure.
type CloseInput struct {
	Signature string `json:"signature"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
