package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/staff-transfer-api/internal/models"
	"github.com/noah-isme/staff-transfer-api/pkg/config"
	appErrors "github.com/noah-isme/staff-transfer-api/pkg/errors"
)

// OfficeLookup resolves an office to its zone and district.
type OfficeLookup interface {
	Office(ctx context.Context, id string) (*models.Office, error)
}

// TransferAuthorizer decides which requests an actor may see and act on.
//
// Office admins are scoped by office id. Zonal and district authorities are
// scoped through the policy office of a request, which is its destination
// unless the authorizer is built with config.ScopeFromOffice.
type TransferAuthorizer struct {
	directory      OfficeLookup
	scopeFromStart bool
}

// NewTransferAuthorizer constructs the gate for the given approval scope policy.
func NewTransferAuthorizer(directory OfficeLookup, approvalScope string) *TransferAuthorizer {
	return &TransferAuthorizer{
		directory:      directory,
		scopeFromStart: approvalScope == config.ScopeFromOffice,
	}
}

func (a *TransferAuthorizer) policyOffice(transfer *models.TransferRequest) string {
	if a.scopeFromStart {
		return transfer.FromOffice
	}
	return transfer.ToOffice
}

// AuthorizeCreate allows only the originating office's admin to submit.
func (a *TransferAuthorizer) AuthorizeCreate(actor models.Actor, fromOffice string) error {
	if actor.Role != models.RoleOfficeAdmin {
		return forbidden("only office admins submit transfer requests", map[string]interface{}{"requiredRole": models.RoleOfficeAdmin})
	}
	if actor.OfficeID == "" || actor.OfficeID != fromOffice {
		return forbidden("transfer requests are submitted by the originating office", nil)
	}
	return nil
}

// AuthorizeDecision checks that the actor holds a chain role with scope over the request.
// Whether the role matches the request's current stage is left to the state machine.
func (a *TransferAuthorizer) AuthorizeDecision(ctx context.Context, actor models.Actor, transfer *models.TransferRequest) error {
	switch actor.Role {
	case models.RoleOfficeAdmin:
		if actor.OfficeID == "" || actor.OfficeID != transfer.ToOffice {
			return forbidden("only the receiving office responds to a transfer request", nil)
		}
		return nil
	case models.RoleZonalAuthority, models.RoleDistrictAuthority:
		return a.authorityInScope(ctx, actor, transfer)
	default:
		return forbidden(fmt.Sprintf("role %s takes no part in transfer approval", actor.Role), nil)
	}
}

// AuthorizeView allows SUPERADMIN everything, office admins requests touching
// their office, and authorities requests whose policy office they govern.
func (a *TransferAuthorizer) AuthorizeView(ctx context.Context, actor models.Actor, transfer *models.TransferRequest) error {
	switch actor.Role {
	case models.RoleSuperAdmin:
		return nil
	case models.RoleOfficeAdmin:
		if actor.OfficeID != "" && (actor.OfficeID == transfer.FromOffice || actor.OfficeID == transfer.ToOffice) {
			return nil
		}
		return forbidden("transfer request belongs to another office", nil)
	case models.RoleZonalAuthority, models.RoleDistrictAuthority:
		return a.authorityInScope(ctx, actor, transfer)
	default:
		return forbidden("insufficient permissions", nil)
	}
}

// AuthorizeReconcile allows SUPERADMIN or the district authority in scope.
func (a *TransferAuthorizer) AuthorizeReconcile(ctx context.Context, actor models.Actor, transfer *models.TransferRequest) error {
	switch actor.Role {
	case models.RoleSuperAdmin:
		return nil
	case models.RoleDistrictAuthority:
		return a.authorityInScope(ctx, actor, transfer)
	default:
		return forbidden("only district authorities reconcile transfers", nil)
	}
}

// QueueFilter returns the action queue of an actor: requests waiting at the actor's stage within scope.
func (a *TransferAuthorizer) QueueFilter(actor models.Actor) (models.TransferFilter, error) {
	switch actor.Role {
	case models.RoleOfficeAdmin:
		if actor.OfficeID == "" {
			return models.TransferFilter{}, forbidden("actor has no office", nil)
		}
		return models.TransferFilter{
			ToOffice: actor.OfficeID,
			Statuses: []models.TransferStatus{models.TransferStatusPending},
		}, nil
	case models.RoleZonalAuthority:
		if actor.ZoneID == "" {
			return models.TransferFilter{}, forbidden("actor has no zone", nil)
		}
		return models.TransferFilter{
			ZoneID:            actor.ZoneID,
			ScopeByFromOffice: a.scopeFromStart,
			Statuses:          []models.TransferStatus{models.TransferStatusReceivingApproved},
		}, nil
	case models.RoleDistrictAuthority:
		if actor.DistrictID == "" {
			return models.TransferFilter{}, forbidden("actor has no district", nil)
		}
		return models.TransferFilter{
			DistrictID:        actor.DistrictID,
			ScopeByFromOffice: a.scopeFromStart,
			Statuses:          []models.TransferStatus{models.TransferStatusZonalApproved},
		}, nil
	default:
		return models.TransferFilter{}, forbidden("role has no approval queue", nil)
	}
}

func (a *TransferAuthorizer) authorityInScope(ctx context.Context, actor models.Actor, transfer *models.TransferRequest) error {
	officeID := a.policyOffice(transfer)
	office, err := a.directory.Office(ctx, officeID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return forbidden("policy office is not in the directory", map[string]interface{}{"officeId": officeID})
		}
		return err
	}
	switch actor.Role {
	case models.RoleZonalAuthority:
		if actor.ZoneID != "" && office.ZoneID == actor.ZoneID {
			return nil
		}
		return forbidden("transfer request is outside the actor's zone", nil)
	case models.RoleDistrictAuthority:
		if actor.DistrictID != "" && office.DistrictID == actor.DistrictID {
			return nil
		}
		return forbidden("transfer request is outside the actor's district", nil)
	}
	return forbidden("insufficient permissions", nil)
}

func forbidden(message string, details map[string]interface{}) error {
	err := appErrors.Clone(appErrors.ErrForbidden, message)
	if len(details) > 0 {
		err = appErrors.WithDetails(err, details)
	}
	return err
}
