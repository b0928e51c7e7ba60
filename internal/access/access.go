// Package access holds the server-side permission table that gates every
// lifecycle transition and read surface.
package access

import "github.com/ukydev/fleet-maintenance/internal/models"

// Action names an operation a caller may attempt.
type Action string

const (
	ActionSubmit             Action = "submit"
	ActionDiagnose           Action = "diagnose"
	ActionDecide             Action = "decide"
	ActionFinalizeRepair     Action = "finalize_repair"
	ActionAcknowledgeReceipt Action = "acknowledge_receipt"
	ActionClose              Action = "close"
	ActionViewFleet          Action = "view_fleet"
	ActionViewReport         Action = "view_report"
	ActionManageFleet        Action = "manage_fleet"
)

// permissions is the role x action table. Admin is not listed: it may perform
// every action on every site.
var permissions = map[models.Role]map[Action]bool{
	models.RoleDriver: {
		ActionSubmit:             true,
		ActionAcknowledgeReceipt: true,
	},
	models.RoleTechnician: {
		ActionDiagnose:       true,
		ActionFinalizeRepair: true,
	},
	models.RoleCoordinator: {
		ActionDecide:     true,
		ActionClose:      true,
		ActionViewFleet:  true,
		ActionViewReport: true,
	},
}

// ownerActions additionally require the caller to own the request.
var ownerActions = map[Action]bool{
	ActionSubmit:             true,
	ActionAcknowledgeReceipt: true,
}

// Allows reports whether role has action in its row of the table, ignoring
// site and ownership.
func Allows(role models.Role, action Action) bool {
	if role == models.RoleAdmin {
		return true
	}
	return permissions[role][action]
}

// CanPerform answers whether a caller with role and callerSite may perform
// action on a request belonging to requestSite.
func CanPerform(role models.Role, callerSite string, action Action, requestSite string, isOwner bool) bool {
	if role == models.RoleAdmin {
		return true
	}
	if !Allows(role, action) {
		return false
	}
	if callerSite == "" || callerSite != requestSite {
		return false
	}
	if role == models.RoleDriver && ownerActions[action] && !isOwner {
		return false
	}
	return true
}

// CanPerformAs is CanPerform with the role and site taken from claims.
func CanPerformAs(caller models.Claims, action Action, requestSite string, isOwner bool) bool {
	return CanPerform(caller.Role, caller.SiteID, action, requestSite, isOwner)
}
