package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// EmployeeRepository updates the employee office projection.
type EmployeeRepository struct {
	db *sqlx.DB
}

// NewEmployeeRepository constructs the repository.
func NewEmployeeRepository(db *sqlx.DB) *EmployeeRepository {
	return &EmployeeRepository{db: db}
}

// UpdateOffice points the employee at a new office. Setting the same office again is a no-op update.
func (r *EmployeeRepository) UpdateOffice(ctx context.Context, employeeID, officeID string) error {
	const query = `UPDATE employees SET current_office_id = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, officeID, time.Now().UTC(), employeeID)
	if err != nil {
		return fmt.Errorf("update employee office: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check employee update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
