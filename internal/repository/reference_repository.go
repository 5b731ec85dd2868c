package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gso-platform/maintenance-api/internal/models"
)

// ReferenceRepository persists reference-data rows: offices, positions and
// maintenance types. Plain CRUD, no approval logic.
type ReferenceRepository struct {
	db *sqlx.DB
}

// NewReferenceRepository constructs the repository.
func NewReferenceRepository(db *sqlx.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// GetOffice returns an office row by id.
func (r *ReferenceRepository) GetOffice(ctx context.Context, id string) (*models.Office, error) {
	const query = `SELECT id, name, created_at, updated_at FROM offices WHERE id = $1`
	var office models.Office
	if err := r.db.GetContext(ctx, &office, query, id); err != nil {
		return nil, err
	}
	return &office, nil
}

// ListOffices returns all offices ordered by name.
func (r *ReferenceRepository) ListOffices(ctx context.Context) ([]models.Office, error) {
	const query = `SELECT id, name, created_at, updated_at FROM offices ORDER BY name ASC`
	var offices []models.Office
	if err := r.db.SelectContext(ctx, &offices, query); err != nil {
		return nil, fmt.Errorf("list offices: %w", err)
	}
	return offices, nil
}

// CreateOffice inserts a new office row.
func (r *ReferenceRepository) CreateOffice(ctx context.Context, office *models.Office) error {
	if office.ID == "" {
		office.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	office.CreatedAt = now
	office.UpdatedAt = now
	const query = `INSERT INTO offices (id, name, created_at, updated_at) VALUES (:id, :name, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, office); err != nil {
		return fmt.Errorf("create office: %w", err)
	}
	return nil
}

// GetPosition returns a position row by id.
func (r *ReferenceRepository) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	const query = `SELECT id, name, created_at, updated_at FROM positions WHERE id = $1`
	var position models.Position
	if err := r.db.GetContext(ctx, &position, query, id); err != nil {
		return nil, err
	}
	return &position, nil
}

// ListPositions returns all positions ordered by name.
func (r *ReferenceRepository) ListPositions(ctx context.Context) ([]models.Position, error) {
	const query = `SELECT id, name, created_at, updated_at FROM positions ORDER BY name ASC`
	var positions []models.Position
	if err := r.db.SelectContext(ctx, &positions, query); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return positions, nil
}

// CreatePosition inserts a new position row.
func (r *ReferenceRepository) CreatePosition(ctx context.Context, position *models.Position) error {
	if position.ID == "" {
		position.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	position.CreatedAt = now
	position.UpdatedAt = now
	const query = `INSERT INTO positions (id, name, created_at, updated_at) VALUES (:id, :name, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, position); err != nil {
		return fmt.Errorf("create position: %w", err)
	}
	return nil
}

// GetMaintenanceType returns a maintenance type row by id.
func (r *ReferenceRepository) GetMaintenanceType(ctx context.Context, id string) (*models.MaintenanceType, error) {
	const query = `SELECT id, code, name, created_at, updated_at FROM maintenance_types WHERE id = $1`
	var mt models.MaintenanceType
	if err := r.db.GetContext(ctx, &mt, query, id); err != nil {
		return nil, err
	}
	return &mt, nil
}

// ListMaintenanceTypes returns all maintenance types ordered by name.
func (r *ReferenceRepository) ListMaintenanceTypes(ctx context.Context) ([]models.MaintenanceType, error) {
	const query = `SELECT id, code, name, created_at, updated_at FROM maintenance_types ORDER BY name ASC`
	var types []models.MaintenanceType
	if err := r.db.SelectContext(ctx, &types, query); err != nil {
		return nil, fmt.Errorf("list maintenance types: %w", err)
	}
	return types, nil
}

// CreateMaintenanceType inserts a new maintenance type row.
func (r *ReferenceRepository) CreateMaintenanceType(ctx context.Context, mt *models.MaintenanceType) error {
	if mt.ID == "" {
		mt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	mt.CreatedAt = now
	mt.UpdatedAt = now
	const query = `INSERT INTO maintenance_types (id, code, name, created_at, updated_at) VALUES (:id, :code, :name, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, mt); err != nil {
		return fmt.Errorf("create maintenance type: %w", err)
	}
	return nil
}
