package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/staff-transfer-api/internal/models"
)

// OfficeRepository reads the office directory. The table is owned by the directory service.
type OfficeRepository struct {
	db *sqlx.DB
}

// NewOfficeRepository constructs the repository.
func NewOfficeRepository(db *sqlx.DB) *OfficeRepository {
	return &OfficeRepository{db: db}
}

// GetByID returns the office with its zone and district. Unknown ids yield sql.ErrNoRows.
func (r *OfficeRepository) GetByID(ctx context.Context, id string) (*models.Office, error) {
	const query = `SELECT id, name, zone_id, district_id FROM offices WHERE id = $1`
	var office models.Office
	if err := r.db.GetContext(ctx, &office, query, id); err != nil {
		return nil, err
	}
	return &office, nil
}
