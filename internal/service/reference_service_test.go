package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gso-platform/maintenance-api/internal/models"
	appErrors "github.com/gso-platform/maintenance-api/pkg/errors"
)

type referenceStoreStub struct {
	offices  map[string]*models.Office
	positions map[string]*models.Position
	types    map[string]*models.MaintenanceType
	typeGets int
	created  []string
}

func newReferenceStoreStub() *referenceStoreStub {
	return &referenceStoreStub{
		offices:   map[string]*models.Office{"office-1": {ID: "office-1", Name: "Registrar"}},
		positions: map[string]*models.Position{"position-1": {ID: "position-1", Name: "Clerk"}},
		types: map[string]*models.MaintenanceType{
			"type-1": {ID: "type-1", Code: "ELECTRICAL", Name: "Electrical"},
			"type-2": {ID: "type-2", Code: "CARPENTRY", Name: "Carpentry"},
		},
	}
}

func (s *referenceStoreStub) GetOffice(_ context.Context, id string) (*models.Office, error) {
	office, ok := s.offices[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return office, nil
}

func (s *referenceStoreStub) ListOffices(context.Context) ([]models.Office, error) {
	out := make([]models.Office, 0, len(s.offices))
	for _, office := range s.offices {
		out = append(out, *office)
	}
	return out, nil
}

func (s *referenceStoreStub) CreateOffice(_ context.Context, office *models.Office) error {
	office.ID = "office-generated"
	s.offices[office.ID] = office
	s.created = append(s.created, office.Name)
	return nil
}

func (s *referenceStoreStub) GetPosition(_ context.Context, id string) (*models.Position, error) {
	position, ok := s.positions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return position, nil
}

func (s *referenceStoreStub) ListPositions(context.Context) ([]models.Position, error) {
	out := make([]models.Position, 0, len(s.positions))
	for _, position := range s.positions {
		out = append(out, *position)
	}
	return out, nil
}

func (s *referenceStoreStub) CreatePosition(_ context.Context, position *models.Position) error {
	position.ID = "position-generated"
	s.positions[position.ID] = position
	return nil
}

func (s *referenceStoreStub) GetMaintenanceType(_ context.Context, id string) (*models.MaintenanceType, error) {
	s.typeGets++
	mt, ok := s.types[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return mt, nil
}

func (s *referenceStoreStub) ListMaintenanceTypes(context.Context) ([]models.MaintenanceType, error) {
	out := make([]models.MaintenanceType, 0, len(s.types))
	for _, mt := range s.types {
		out = append(out, *mt)
	}
	return out, nil
}

func (s *referenceStoreStub) CreateMaintenanceType(_ context.Context, mt *models.MaintenanceType) error {
	mt.ID = "type-generated"
	s.types[mt.ID] = mt
	return nil
}

func TestResolveReturnsDisplayLabels(t *testing.T) {
	svc := NewReferenceService(newReferenceStoreStub(), nil)

	label, err := svc.Resolve(context.Background(), models.ReferenceOffice, "office-1")
	require.NoError(t, err)
	require.Equal(t, "Registrar", label)

	label, err = svc.Resolve(context.Background(), models.ReferenceMaintenanceType, "type-1")
	require.NoError(t, err)
	require.Equal(t, "Electrical", label)
}

func TestResolveStatusKindIsIdentity(t *testing.T) {
	svc := NewReferenceService(newReferenceStoreStub(), nil)

	label, err := svc.Resolve(context.Background(), models.ReferenceStatus, "APPROVED")
	require.NoError(t, err)
	require.Equal(t, "APPROVED", label)
}

func TestResolveReportsMissingReference(t *testing.T) {
	svc := NewReferenceService(newReferenceStoreStub(), nil)

	_, err := svc.Resolve(context.Background(), models.ReferenceOffice, "missing")
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestValidateReferencesNamesTheUnknownField(t *testing.T) {
	svc := NewReferenceService(newReferenceStoreStub(), nil)

	require.NoError(t, svc.ValidateReferences(context.Background(), "office-1", "position-1", "type-1"))

	err := svc.ValidateReferences(context.Background(), "office-1", "position-1", "missing")
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
	require.Contains(t, err.Error(), "maintenance type")
}

func TestCreateMaintenanceTypeNormalizesCode(t *testing.T) {
	store := newReferenceStoreStub()
	svc := NewReferenceService(store, nil)

	mt, err := svc.CreateMaintenanceType(context.Background(), " plumbing ", "Plumbing", claimsFor(models.RoleAdmin, "admin-1"))
	require.NoError(t, err)
	require.Equal(t, "PLUMBING", mt.Code)

	_, err = svc.CreateMaintenanceType(context.Background(), "MASONRY", "Masonry", claimsFor(models.RoleStaff, "staff-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrRoleNotPermitted))
}

func TestCreateOfficeRequiresName(t *testing.T) {
	svc := NewReferenceService(newReferenceStoreStub(), nil)

	_, err := svc.CreateOffice(context.Background(), "   ", claimsFor(models.RoleAdmin, "admin-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestEscalationByCodeMatchesMaintenanceType(t *testing.T) {
	store := newReferenceStoreStub()
	svc := NewReferenceService(store, nil)
	policy := svc.EscalationByCode([]string{"electrical"})

	request := verifiedRequest("req-1")
	request.MaintenanceTypeID = "type-1"
	escalate, err := policy.RequiresDirector(context.Background(), request)
	require.NoError(t, err)
	require.True(t, escalate)

	request.MaintenanceTypeID = "type-2"
	escalate, err = policy.RequiresDirector(context.Background(), request)
	require.NoError(t, err)
	require.False(t, escalate)
}

func TestEscalationByCodeIgnoresUnknownType(t *testing.T) {
	svc := NewReferenceService(newReferenceStoreStub(), nil)
	policy := svc.EscalationByCode([]string{"ELECTRICAL"})

	request := verifiedRequest("req-1")
	request.MaintenanceTypeID = "missing"
	escalate, err := policy.RequiresDirector(context.Background(), request)
	require.NoError(t, err)
	require.False(t, escalate)
}
