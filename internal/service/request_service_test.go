package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gso-platform/maintenance-api/internal/dto"
	"github.com/gso-platform/maintenance-api/internal/models"
	"github.com/gso-platform/maintenance-api/internal/repository"
	appErrors "github.com/gso-platform/maintenance-api/pkg/errors"
)

type crudStoreStub struct {
	requests      map[string]*models.MaintenanceRequest
	detailsStale  bool
	deleted       []string
	createdStatus models.RequestStatus
}

func newCrudStoreStub() *crudStoreStub {
	return &crudStoreStub{requests: make(map[string]*models.MaintenanceRequest)}
}

func (s *crudStoreStub) Create(_ context.Context, request *models.MaintenanceRequest) error {
	request.ID = "req-generated"
	request.Version = 1
	s.createdStatus = request.Status
	s.requests[request.ID] = request
	return nil
}

func (s *crudStoreStub) GetByID(_ context.Context, id string) (*models.MaintenanceRequest, error) {
	request, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *request
	return &copy, nil
}

func (s *crudStoreStub) UpdateDetails(_ context.Context, params repository.UpdateDetailsParams) error {
	if s.detailsStale {
		return sql.ErrNoRows
	}
	request, ok := s.requests[params.ID]
	if !ok || request.Version != params.ExpectedVersion {
		return sql.ErrNoRows
	}
	request.Details = params.Details
	request.Version++
	return nil
}

func (s *crudStoreStub) Delete(_ context.Context, id string) error {
	if _, ok := s.requests[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.requests, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type refsStub struct {
	err error
}

func (r *refsStub) ValidateReferences(context.Context, string, string, string) error {
	return r.err
}

func createPayload() dto.CreateRequestPayload {
	return dto.CreateRequestPayload{
		DateRequested:     time.Now().UTC(),
		Details:           "flickering hallway lights",
		PositionID:        "position-1",
		OfficeID:          "office-1",
		ContactNumber:     "555-0101",
		MaintenanceTypeID: "type-1",
	}
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	store := newCrudStoreStub()
	emitter := &emitterStub{}
	svc := NewRequestService(store, &refsStub{}, nil, WithRequestNotifier(emitter))

	request, err := svc.Submit(context.Background(), createPayload(), claimsFor(models.RoleRequester, "requester-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, request.Status)
	require.Equal(t, "requester-1", request.RequesterID)
	require.Equal(t, int64(1), request.Version)
	require.Equal(t, []models.NotificationEventType{models.EventRequestSubmitted}, emitter.events)
}

func TestSubmitRejectsIncompletePayload(t *testing.T) {
	svc := NewRequestService(newCrudStoreStub(), &refsStub{}, nil)

	payload := createPayload()
	payload.Details = ""
	_, err := svc.Submit(context.Background(), payload, claimsFor(models.RoleRequester, "requester-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSubmitRejectsUnknownReference(t *testing.T) {
	refs := &refsStub{err: appErrors.Clone(appErrors.ErrValidation, "unknown office")}
	svc := NewRequestService(newCrudStoreStub(), refs, nil)

	_, err := svc.Submit(context.Background(), createPayload(), claimsFor(models.RoleRequester, "requester-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestGetHidesForeignRequestsFromRequesters(t *testing.T) {
	store := newCrudStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	svc := NewRequestService(store, &refsStub{}, nil)

	_, err := svc.Get(context.Background(), "req-1", claimsFor(models.RoleRequester, "requester-2"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	found, err := svc.Get(context.Background(), "req-1", claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.Equal(t, "req-1", found.ID)
}

func TestUpdateDetailsRewritesPendingRequest(t *testing.T) {
	store := newCrudStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	svc := NewRequestService(store, &refsStub{}, nil)

	payload := dto.UpdateDetailsPayload(createPayload())
	payload.Details = "flickering lights on second floor"
	updated, err := svc.UpdateDetails(context.Background(), "req-1", payload, claimsFor(models.RoleRequester, "requester-1"))
	require.NoError(t, err)
	require.Equal(t, "flickering lights on second floor", updated.Details)
	require.Equal(t, int64(2), updated.Version)
}

func TestUpdateDetailsRejectsVerifiedRequest(t *testing.T) {
	store := newCrudStoreStub()
	store.requests["req-1"] = verifiedRequest("req-1")
	svc := NewRequestService(store, &refsStub{}, nil)

	_, err := svc.UpdateDetails(context.Background(), "req-1", dto.UpdateDetailsPayload(createPayload()), claimsFor(models.RoleRequester, "requester-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestUpdateDetailsRejectsForeignRequester(t *testing.T) {
	store := newCrudStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	svc := NewRequestService(store, &refsStub{}, nil)

	_, err := svc.UpdateDetails(context.Background(), "req-1", dto.UpdateDetailsPayload(createPayload()), claimsFor(models.RoleRequester, "requester-2"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrRoleNotPermitted))
}

func TestUpdateDetailsReportsStaleVersion(t *testing.T) {
	store := newCrudStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	store.detailsStale = true
	svc := NewRequestService(store, &refsStub{}, nil)

	_, err := svc.UpdateDetails(context.Background(), "req-1", dto.UpdateDetailsPayload(createPayload()), claimsFor(models.RoleRequester, "requester-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrConcurrentModification))
}

func TestDeleteRequiresAdmin(t *testing.T) {
	store := newCrudStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	svc := NewRequestService(store, &refsStub{}, nil)

	err := svc.Delete(context.Background(), "req-1", claimsFor(models.RoleStaff, "staff-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrRoleNotPermitted))

	require.NoError(t, svc.Delete(context.Background(), "req-1", claimsFor(models.RoleAdmin, "admin-1")))
	require.Equal(t, []string{"req-1"}, store.deleted)
}
