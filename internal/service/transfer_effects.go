package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/staff-transfer-api/internal/models"
)

// TransferEffect applies the consequence of a fully approved transfer.
type TransferEffect interface {
	Apply(ctx context.Context, transfer *models.TransferRequest) error
}

// TransferEffectFunc allows using plain functions.
type TransferEffectFunc func(ctx context.Context, transfer *models.TransferRequest) error

// Apply implements TransferEffect.
func (f TransferEffectFunc) Apply(ctx context.Context, transfer *models.TransferRequest) error {
	return f(ctx, transfer)
}

type employeeOfficeStore interface {
	UpdateOffice(ctx context.Context, employeeID, officeID string) error
}

// EmployeeOfficeApplier moves the employee record to the destination office.
type EmployeeOfficeApplier struct {
	repo   employeeOfficeStore
	logger *zap.Logger
}

// NewEmployeeOfficeApplier constructs an applier backed by the employee repository.
func NewEmployeeOfficeApplier(repo employeeOfficeStore, logger *zap.Logger) *EmployeeOfficeApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmployeeOfficeApplier{repo: repo, logger: logger}
}

// Apply sets the employee's current office to the request's destination. Repeating it is harmless.
func (a *EmployeeOfficeApplier) Apply(ctx context.Context, transfer *models.TransferRequest) error {
	if transfer.Status != models.TransferStatusFullyApproved {
		return fmt.Errorf("transfer %s is %s, not fully approved", transfer.ID, transfer.Status)
	}
	if err := a.repo.UpdateOffice(ctx, transfer.EmployeeRef, transfer.ToOffice); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("employee %s not found", transfer.EmployeeRef)
		}
		return err
	}
	a.logger.Info("employee office updated",
		zap.String("transfer_id", transfer.ID),
		zap.String("employee_ref", transfer.EmployeeRef),
		zap.String("office_id", transfer.ToOffice),
	)
	return nil
}
