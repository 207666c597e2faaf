package service

import (
	"fmt"

	"github.com/noah-isme/staff-transfer-api/internal/models"
	appErrors "github.com/noah-isme/staff-transfer-api/pkg/errors"
)

type transitionKey struct {
	from   models.TransferStatus
	action models.TransferAction
}

type transitionRule struct {
	role models.UserRole
	next models.TransferStatus
}

// transferTransitions is the complete approval chain. Anything absent is illegal.
var transferTransitions = map[transitionKey]transitionRule{
	{models.TransferStatusPending, models.TransferActionAccept}:            {models.RoleOfficeAdmin, models.TransferStatusReceivingApproved},
	{models.TransferStatusPending, models.TransferActionReject}:            {models.RoleOfficeAdmin, models.TransferStatusRejected},
	{models.TransferStatusReceivingApproved, models.TransferActionApprove}: {models.RoleZonalAuthority, models.TransferStatusZonalApproved},
	{models.TransferStatusReceivingApproved, models.TransferActionReject}:  {models.RoleZonalAuthority, models.TransferStatusFinallyRejected},
	{models.TransferStatusZonalApproved, models.TransferActionApprove}:     {models.RoleDistrictAuthority, models.TransferStatusFullyApproved},
	{models.TransferStatusZonalApproved, models.TransferActionReject}:      {models.RoleDistrictAuthority, models.TransferStatusFinallyRejected},
}

// stageGate names the role deciding each active state.
var stageGate = map[models.TransferStatus]models.UserRole{
	models.TransferStatusPending:           models.RoleOfficeAdmin,
	models.TransferStatusReceivingApproved: models.RoleZonalAuthority,
	models.TransferStatusZonalApproved:     models.RoleDistrictAuthority,
}

var stageOrder = map[models.UserRole]int{
	models.RoleOfficeAdmin:       0,
	models.RoleZonalAuthority:    1,
	models.RoleDistrictAuthority: 2,
}

var statusOrder = map[models.TransferStatus]int{
	models.TransferStatusPending:           0,
	models.TransferStatusReceivingApproved: 1,
	models.TransferStatusZonalApproved:     2,
}

// RequiredRole returns the role gating decisions on status, if any.
func RequiredRole(status models.TransferStatus) (models.UserRole, bool) {
	role, ok := stageGate[status]
	return role, ok
}

// IsChainRole reports whether role takes part in the approval chain.
func IsChainRole(role models.UserRole) bool {
	_, ok := stageOrder[role]
	return ok
}

// NextTransferStatus resolves the state reached when role applies action to a
// request currently in status.
//
// Terminal states and requests already advanced past the role's stage fail with
// INVALID_TRANSITION; a role acting before its stage fails with FORBIDDEN.
func NextTransferStatus(status models.TransferStatus, action models.TransferAction, role models.UserRole) (models.TransferStatus, error) {
	details := map[string]interface{}{
		"currentStatus": status,
		"action":        action,
	}
	if !status.Valid() {
		return "", appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("unknown status %q", status)), details)
	}
	if status.Terminal() {
		return "", appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("request is %s and accepts no further decisions", status)), details)
	}

	required, _ := RequiredRole(status)
	details["requiredRole"] = required
	if role != required {
		if IsChainRole(role) && stageOrder[role] < statusOrder[status] {
			return "", appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("request already advanced to %s", status)), details)
		}
		return "", appErrors.WithDetails(appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s decides requests in %s", required, status)), details)
	}

	rule, ok := transferTransitions[transitionKey{from: status, action: action}]
	if !ok {
		return "", appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("action %q is not allowed from %s", action, status)), details)
	}
	return rule.next, nil
}
