package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gso-platform/maintenance-api/internal/models"
	appErrors "github.com/gso-platform/maintenance-api/pkg/errors"
)

const referenceCacheTTL = 10 * time.Minute

type referenceStore interface {
	GetOffice(ctx context.Context, id string) (*models.Office, error)
	ListOffices(ctx context.Context) ([]models.Office, error)
	CreateOffice(ctx context.Context, office *models.Office) error
	GetPosition(ctx context.Context, id string) (*models.Position, error)
	ListPositions(ctx context.Context) ([]models.Position, error)
	CreatePosition(ctx context.Context, position *models.Position) error
	GetMaintenanceType(ctx context.Context, id string) (*models.MaintenanceType, error)
	ListMaintenanceTypes(ctx context.Context) ([]models.MaintenanceType, error)
	CreateMaintenanceType(ctx context.Context, mt *models.MaintenanceType) error
}

// ReferenceService resolves reference-data ids to display labels and manages
// the underlying rows. Lookups are cached; reference data changes rarely.
type ReferenceService struct {
	store  referenceStore
	cache  listingCache
	logger *zap.Logger
}

// ReferenceServiceOption configures the service.
type ReferenceServiceOption func(*ReferenceService)

// WithReferenceCache enables cached lookups.
func WithReferenceCache(cache listingCache) ReferenceServiceOption {
	return func(s *ReferenceService) {
		s.cache = cache
	}
}

// NewReferenceService constructs the service.
func NewReferenceService(store referenceStore, logger *zap.Logger, opts ...ReferenceServiceOption) *ReferenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ReferenceService{store: store, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Resolve maps a reference id to its display label. Status kinds resolve to
// themselves since statuses are self-describing.
func (s *ReferenceService) Resolve(ctx context.Context, kind models.ReferenceKind, id string) (string, error) {
	if id == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "reference id is required")
	}
	if kind == models.ReferenceStatus {
		return id, nil
	}

	key := fmt.Sprintf("reference:%s:%s", kind, id)
	if s.cache != nil {
		var label string
		if hit, err := s.cache.Get(ctx, key, &label); err == nil && hit {
			return label, nil
		}
	}

	var label string
	var err error
	switch kind {
	case models.ReferenceOffice:
		var office *models.Office
		if office, err = s.store.GetOffice(ctx, id); err == nil {
			label = office.Name
		}
	case models.ReferencePosition:
		var position *models.Position
		if position, err = s.store.GetPosition(ctx, id); err == nil {
			label = position.Name
		}
	case models.ReferenceMaintenanceType:
		var mt *models.MaintenanceType
		if mt, err = s.store.GetMaintenanceType(ctx, id); err == nil {
			label = mt.Name
		}
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown reference kind %s", kind))
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %s not found", kind, id))
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve reference")
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, key, label, referenceCacheTTL); cacheErr != nil {
			s.logger.Warn("reference cache write failed", zap.String("key", key), zap.Error(cacheErr))
		}
	}
	return label, nil
}

// ValidateReferences confirms that the office, position and maintenance type
// a submission names all exist.
func (s *ReferenceService) ValidateReferences(ctx context.Context, officeID, positionID, maintenanceTypeID string) error {
	if _, err := s.Resolve(ctx, models.ReferenceOffice, officeID); err != nil {
		return referenceValidationError(err, "office")
	}
	if _, err := s.Resolve(ctx, models.ReferencePosition, positionID); err != nil {
		return referenceValidationError(err, "position")
	}
	if _, err := s.Resolve(ctx, models.ReferenceMaintenanceType, maintenanceTypeID); err != nil {
		return referenceValidationError(err, "maintenance type")
	}
	return nil
}

func referenceValidationError(err error, field string) error {
	if appErrors.Is(err, appErrors.ErrNotFound) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown %s", field))
	}
	return err
}

// ListOffices returns all offices.
func (s *ReferenceService) ListOffices(ctx context.Context) ([]models.Office, error) {
	offices, err := s.store.ListOffices(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list offices")
	}
	return offices, nil
}

// ListPositions returns all positions.
func (s *ReferenceService) ListPositions(ctx context.Context) ([]models.Position, error) {
	positions, err := s.store.ListPositions(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list positions")
	}
	return positions, nil
}

// ListMaintenanceTypes returns all maintenance types.
func (s *ReferenceService) ListMaintenanceTypes(ctx context.Context) ([]models.MaintenanceType, error) {
	types, err := s.store.ListMaintenanceTypes(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list maintenance types")
	}
	return types, nil
}

// CreateOffice adds an office row. Admin only.
func (s *ReferenceService) CreateOffice(ctx context.Context, name string, actor *models.JWTClaims) (*models.Office, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "office name is required")
	}
	office := &models.Office{Name: name}
	if err := s.store.CreateOffice(ctx, office); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create office")
	}
	return office, nil
}

// CreatePosition adds a position row. Admin only.
func (s *ReferenceService) CreatePosition(ctx context.Context, name string, actor *models.JWTClaims) (*models.Position, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "position name is required")
	}
	position := &models.Position{Name: name}
	if err := s.store.CreatePosition(ctx, position); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create position")
	}
	return position, nil
}

// CreateMaintenanceType adds a maintenance type row. Admin only.
func (s *ReferenceService) CreateMaintenanceType(ctx context.Context, code, name string, actor *models.JWTClaims) (*models.MaintenanceType, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	code = strings.TrimSpace(strings.ToUpper(code))
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "maintenance type code and name are required")
	}
	mt := &models.MaintenanceType{Code: code, Name: name}
	if err := s.store.CreateMaintenanceType(ctx, mt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create maintenance type")
	}
	return mt, nil
}

// EscalationByCode builds an escalation policy that routes a request to the
// director when its maintenance type carries one of the configured codes.
func (s *ReferenceService) EscalationByCode(codes []string) EscalationPolicy {
	escalated := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(strings.ToUpper(code))
		if code != "" {
			escalated[code] = struct{}{}
		}
	}
	return EscalationPolicyFunc(func(ctx context.Context, request *models.MaintenanceRequest) (bool, error) {
		if len(escalated) == 0 {
			return false, nil
		}
		mt, err := s.store.GetMaintenanceType(ctx, request.MaintenanceTypeID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, nil
			}
			return false, err
		}
		_, ok := escalated[strings.ToUpper(mt.Code)]
		return ok, nil
	})
}
