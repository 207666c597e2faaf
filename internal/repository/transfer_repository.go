package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/staff-transfer-api/internal/models"
)

var (
	// ErrActiveTransferExists is returned when the employee already has a non-terminal request.
	ErrActiveTransferExists = errors.New("active transfer request exists for employee")
	// ErrTransferStale is returned when a guarded update matched no row.
	ErrTransferStale = errors.New("transfer request changed concurrently")
)

const (
	uniqueViolation      = "23505"
	activeTransferIndex  = "transfer_requests_one_active"
	defaultTransferLimit = 100
	maxTransferListLimit = 500
)

const transferSelectColumns = `t.id, t.employee_ref, t.from_office, t.to_office, t.transfer_type, t.transfer_date, t.reason,
       t.order_number, t.order_date, t.order_document_ref, t.status, t.requested_by, t.version,
       t.effect_applied_at, t.created_at, t.updated_at`

const transferReturningColumns = `id, employee_ref, from_office, to_office, transfer_type, transfer_date, reason,
       order_number, order_date, order_document_ref, status, requested_by, version,
       effect_applied_at, created_at, updated_at`

// TransferRepository persists transfer requests and their history.
type TransferRepository struct {
	db *sqlx.DB
}

// NewTransferRepository constructs the repository.
func NewTransferRepository(db *sqlx.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Create inserts a new PENDING request together with its first history entry.
// Timestamps come from the database transaction clock.
func (r *TransferRepository) Create(ctx context.Context, transfer *models.TransferRequest, first models.TransferHistoryEntry) (err error) {
	if transfer.ID == "" {
		transfer.ID = uuid.NewString()
	}
	transfer.Status = models.TransferStatusPending
	transfer.Version = 1
	transfer.EffectAppliedAt = nil

	first.ID = uuid.NewString()
	first.TransferID = transfer.ID
	first.Seq = 1
	first.Status = models.TransferStatusPending

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing []string
	const activeQuery = `SELECT id FROM transfer_requests WHERE employee_ref = $1 AND status = ANY($2) LIMIT 1 FOR UPDATE`
	if err = tx.SelectContext(ctx, &existing, activeQuery, transfer.EmployeeRef, pq.Array(activeStatusValues())); err != nil {
		return fmt.Errorf("check active transfer: %w", err)
	}
	if len(existing) > 0 {
		return ErrActiveTransferExists
	}

	const insertQuery = `INSERT INTO transfer_requests
	(id, employee_ref, from_office, to_office, transfer_type, transfer_date, reason, order_number, order_date, order_document_ref,
	 status, requested_by, version, effect_applied_at, created_at, updated_at)
	VALUES (:id, :employee_ref, :from_office, :to_office, :transfer_type, :transfer_date, :reason, :order_number, :order_date, :order_document_ref,
	 :status, :requested_by, :version, :effect_applied_at, transaction_timestamp(), transaction_timestamp())`
	if _, err = tx.NamedExecContext(ctx, insertQuery, transfer); err != nil {
		if isActiveTransferViolation(err) {
			return ErrActiveTransferExists
		}
		return fmt.Errorf("insert transfer request: %w", err)
	}
	if err = insertHistory(ctx, tx, &first); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer request: %w", err)
	}

	transfer.CreatedAt = first.CreatedAt
	transfer.UpdatedAt = first.CreatedAt
	transfer.History = []models.TransferHistoryEntry{first}
	return nil
}

// GetByID fetches a request with its history ordered by sequence. Unknown ids yield sql.ErrNoRows.
func (r *TransferRepository) GetByID(ctx context.Context, id string) (*models.TransferRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM transfer_requests t WHERE t.id = $1`, transferSelectColumns)
	var transfer models.TransferRequest
	if err := r.db.GetContext(ctx, &transfer, query, id); err != nil {
		return nil, err
	}
	history, err := loadHistory(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	transfer.History = history
	return &transfer, nil
}

// UpdateTransferStatusParams describes a guarded status transition.
type UpdateTransferStatusParams struct {
	ID              string
	ExpectedStatus  models.TransferStatus
	ExpectedVersion int
	Status          models.TransferStatus
	Entry           models.TransferHistoryEntry
}

// UpdateStatus moves a request to a new status only if it still holds the
// expected status and version, appending the history entry in the same
// transaction. A lost race returns ErrTransferStale.
func (r *TransferRepository) UpdateStatus(ctx context.Context, params UpdateTransferStatusParams) (_ *models.TransferRequest, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`UPDATE transfer_requests SET status = $1, version = version + 1, updated_at = transaction_timestamp()
	WHERE id = $2 AND status = $3 AND version = $4
	RETURNING %s`, transferReturningColumns)
	var transfer models.TransferRequest
	if err = tx.GetContext(ctx, &transfer, query, params.Status, params.ID, params.ExpectedStatus, params.ExpectedVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransferStale
		}
		return nil, fmt.Errorf("update transfer status: %w", err)
	}

	entry := params.Entry
	entry.ID = uuid.NewString()
	entry.TransferID = transfer.ID
	entry.Seq = transfer.Version
	entry.Status = transfer.Status
	if err = insertHistory(ctx, tx, &entry); err != nil {
		return nil, err
	}

	history, err := loadHistory(ctx, tx, transfer.ID)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	transfer.History = history
	return &transfer, nil
}

// MarkEffectApplied records the employee-office projection for a fully approved
// request. It reports false when the mark was already present.
func (r *TransferRepository) MarkEffectApplied(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE transfer_requests SET effect_applied_at = $1
	WHERE id = $2 AND status = $3 AND effect_applied_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, at.UTC(), id, models.TransferStatusFullyApproved)
	if err != nil {
		return false, fmt.Errorf("mark transfer effect applied: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check effect mark rows: %w", err)
	}
	return rows > 0, nil
}

// Iterate lazily streams requests matching the filter, newest first. History is not loaded.
func (r *TransferRepository) Iterate(ctx context.Context, filter models.TransferFilter) iter.Seq2[models.TransferRequest, error] {
	return func(yield func(models.TransferRequest, error) bool) {
		query, args := buildTransferListQuery(filter)
		rows, err := r.db.QueryxContext(ctx, query, args...)
		if err != nil {
			yield(models.TransferRequest{}, fmt.Errorf("list transfer requests: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var transfer models.TransferRequest
			if err := rows.StructScan(&transfer); err != nil {
				yield(models.TransferRequest{}, fmt.Errorf("scan transfer request: %w", err))
				return
			}
			if !yield(transfer, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.TransferRequest{}, fmt.Errorf("iterate transfer requests: %w", err))
		}
	}
}

func buildTransferListQuery(filter models.TransferFilter) (string, []interface{}) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString("SELECT ")
	builder.WriteString(transferSelectColumns)
	builder.WriteString(" FROM transfer_requests t")

	if filter.ZoneID != "" || filter.DistrictID != "" {
		if filter.ScopeByFromOffice {
			builder.WriteString(" JOIN offices o ON o.id = t.from_office")
		} else {
			builder.WriteString(" JOIN offices o ON o.id = t.to_office")
		}
	}

	conditions := make([]string, 0, 6)
	if filter.FromOffice != "" {
		args = append(args, filter.FromOffice)
		conditions = append(conditions, fmt.Sprintf("t.from_office = $%d", len(args)))
	}
	if filter.ToOffice != "" {
		args = append(args, filter.ToOffice)
		conditions = append(conditions, fmt.Sprintf("t.to_office = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		values := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			values[i] = string(status)
		}
		args = append(args, pq.Array(values))
		conditions = append(conditions, fmt.Sprintf("t.status = ANY($%d)", len(args)))
	}
	if filter.EmployeeRef != "" {
		args = append(args, filter.EmployeeRef)
		conditions = append(conditions, fmt.Sprintf("t.employee_ref = $%d", len(args)))
	}
	if filter.ZoneID != "" {
		args = append(args, filter.ZoneID)
		conditions = append(conditions, fmt.Sprintf("o.zone_id = $%d", len(args)))
	}
	if filter.DistrictID != "" {
		args = append(args, filter.DistrictID)
		conditions = append(conditions, fmt.Sprintf("o.district_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY t.created_at DESC, t.id DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTransferLimit
	}
	if limit > maxTransferListLimit {
		limit = maxTransferListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	return builder.String(), args
}

// insertHistory stamps the entry with the transaction clock so seq and
// created_at order agree across replicas.
func insertHistory(ctx context.Context, tx *sqlx.Tx, entry *models.TransferHistoryEntry) error {
	const query = `INSERT INTO transfer_request_history (id, transfer_id, seq, status, actor_ref, actor_role, comment, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, transaction_timestamp())
	RETURNING created_at`
	row := tx.QueryRowxContext(ctx, query, entry.ID, entry.TransferID, entry.Seq, entry.Status, entry.ActorRef, entry.ActorRole, entry.Comment)
	if err := row.Scan(&entry.CreatedAt); err != nil {
		return fmt.Errorf("insert transfer history: %w", err)
	}
	return nil
}

func loadHistory(ctx context.Context, q sqlx.QueryerContext, transferID string) ([]models.TransferHistoryEntry, error) {
	const query = `SELECT id, transfer_id, seq, status, actor_ref, actor_role, comment, created_at
	FROM transfer_request_history WHERE transfer_id = $1 ORDER BY seq ASC`
	var history []models.TransferHistoryEntry
	if err := sqlx.SelectContext(ctx, q, &history, query, transferID); err != nil {
		return nil, fmt.Errorf("load transfer history: %w", err)
	}
	return history, nil
}

func activeStatusValues() []string {
	values := make([]string, len(models.ActiveTransferStatuses))
	for i, status := range models.ActiveTransferStatuses {
		values[i] = string(status)
	}
	return values
}

func isActiveTransferViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && (pqErr.Constraint == "" || pqErr.Constraint == activeTransferIndex)
}
