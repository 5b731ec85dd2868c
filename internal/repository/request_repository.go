package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gso-platform/maintenance-api/internal/models"
)

const requestColumns = `id, date_requested, details, requester_id, position_id, office_id,
       contact_number, maintenance_type_id, status, date_received, time_received,
       priority_number, remarks, verified_by, approved_by_first, approved_by_second,
       approved_by_director, version, created_at, updated_at`

// RequestRepository persists maintenance requests. It guarantees storage-level
// atomicity only; transition rules live in the approval service.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request row with version 1.
func (r *RequestRepository) Create(ctx context.Context, request *models.MaintenanceRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.StatusPending
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now
	request.Version = 1
	const query = `INSERT INTO maintenance_requests
	(id, date_requested, details, requester_id, position_id, office_id, contact_number,
	 maintenance_type_id, status, date_received, time_received, priority_number, remarks,
	 verified_by, approved_by_first, approved_by_second, approved_by_director, version,
	 created_at, updated_at)
	VALUES (:id, :date_requested, :details, :requester_id, :position_id, :office_id,
	 :contact_number, :maintenance_type_id, :status, :date_received, :time_received,
	 :priority_number, :remarks, :verified_by, :approved_by_first, :approved_by_second,
	 :approved_by_director, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create maintenance request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier including its current version.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.MaintenanceRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM maintenance_requests WHERE id = $1`, requestColumns)
	var request models.MaintenanceRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns committed requests matching the filter with a total count.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.MaintenanceRequest, int, error) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if filter.OfficeID != "" {
		args = append(args, filter.OfficeID)
		conditions = append(conditions, fmt.Sprintf("office_id = $%d", len(args)))
	}
	if filter.MaintenanceTypeID != "" {
		args = append(args, filter.MaintenanceTypeID)
		conditions = append(conditions, fmt.Sprintf("maintenance_type_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM maintenance_requests" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count maintenance requests: %w", err)
	}

	order := " ORDER BY created_at DESC"
	if filter.Sort == models.SortSchedule {
		order = " ORDER BY date_received ASC NULLS LAST, created_at ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	query := fmt.Sprintf("SELECT %s FROM maintenance_requests%s%s LIMIT %d OFFSET %d",
		requestColumns, where, order, pageSize, (page-1)*pageSize)

	var requests []models.MaintenanceRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list maintenance requests: %w", err)
	}
	return requests, total, nil
}

// UpdateRequestParams groups the columns a transition may write. Nil pointer
// fields are left untouched; the state machine only ever sets slots, never
// clears them.
type UpdateRequestParams struct {
	ID              string
	ExpectedVersion int64
	Status          models.RequestStatus

	DateReceived   *time.Time
	TimeReceived   *string
	PriorityNumber *string
	Remarks        *string
	VerifiedBy     *string

	ApprovedByFirst    *string
	ApprovedBySecond   *string
	ApprovedByDirector *string
}

// UpdateWithVersion applies a transition as a single compare-and-swap keyed
// on the record version. Zero affected rows means the caller read stale state
// (or the row is gone) and is reported as sql.ErrNoRows.
func (r *RequestRepository) UpdateWithVersion(ctx context.Context, params UpdateRequestParams) error {
	setParts := []string{
		"status = :status",
		"version = version + 1",
		"updated_at = :updated_at",
	}
	if params.DateReceived != nil {
		setParts = append(setParts, "date_received = :date_received")
	}
	if params.TimeReceived != nil {
		setParts = append(setParts, "time_received = :time_received")
	}
	if params.PriorityNumber != nil {
		setParts = append(setParts, "priority_number = :priority_number")
	}
	if params.Remarks != nil {
		setParts = append(setParts, "remarks = :remarks")
	}
	if params.VerifiedBy != nil {
		setParts = append(setParts, "verified_by = :verified_by")
	}
	if params.ApprovedByFirst != nil {
		setParts = append(setParts, "approved_by_first = :approved_by_first")
	}
	if params.ApprovedBySecond != nil {
		setParts = append(setParts, "approved_by_second = :approved_by_second")
	}
	if params.ApprovedByDirector != nil {
		setParts = append(setParts, "approved_by_director = :approved_by_director")
	}

	query := fmt.Sprintf("UPDATE maintenance_requests SET %s WHERE id = :id AND version = :expected_version",
		strings.Join(setParts, ", "))
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                   params.ID,
		"expected_version":     params.ExpectedVersion,
		"status":               params.Status,
		"updated_at":           time.Now().UTC(),
		"date_received":        params.DateReceived,
		"time_received":        params.TimeReceived,
		"priority_number":      params.PriorityNumber,
		"remarks":              params.Remarks,
		"verified_by":          params.VerifiedBy,
		"approved_by_first":    params.ApprovedByFirst,
		"approved_by_second":   params.ApprovedBySecond,
		"approved_by_director": params.ApprovedByDirector,
	})
	if err != nil {
		return fmt.Errorf("update maintenance request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check maintenance request update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateDetailsParams groups the descriptive columns editable before
// verification. The write is version-guarded like any other mutation.
type UpdateDetailsParams struct {
	ID                string
	ExpectedVersion   int64
	DateRequested     time.Time
	Details           string
	PositionID        string
	OfficeID          string
	ContactNumber     string
	MaintenanceTypeID string
}

// UpdateDetails rewrites the descriptive fields of a request.
func (r *RequestRepository) UpdateDetails(ctx context.Context, params UpdateDetailsParams) error {
	const query = `UPDATE maintenance_requests
	SET date_requested = :date_requested, details = :details, position_id = :position_id,
	    office_id = :office_id, contact_number = :contact_number,
	    maintenance_type_id = :maintenance_type_id, version = version + 1,
	    updated_at = :updated_at
	WHERE id = :id AND version = :expected_version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                  params.ID,
		"expected_version":    params.ExpectedVersion,
		"date_requested":      params.DateRequested,
		"details":             params.Details,
		"position_id":         params.PositionID,
		"office_id":           params.OfficeID,
		"contact_number":      params.ContactNumber,
		"maintenance_type_id": params.MaintenanceTypeID,
		"updated_at":          time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("update request details: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request details update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PriorityNumberInUse reports whether another open request already carries the
// given priority number.
func (r *RequestRepository) PriorityNumberInUse(ctx context.Context, priorityNumber, excludeID string) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM maintenance_requests
		WHERE priority_number = $1 AND id <> $2
		  AND status NOT IN ('APPROVED', 'DISAPPROVED', 'CANCELLED', 'DONE'))`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, priorityNumber, excludeID); err != nil {
		return false, fmt.Errorf("check priority number: %w", err)
	}
	return exists, nil
}

// Delete removes a request row. Administrative operation, bypasses the state
// machine entirely.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM maintenance_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete maintenance request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check maintenance request delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
