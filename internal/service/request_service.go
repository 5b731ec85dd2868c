package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gso-platform/maintenance-api/internal/dto"
	"github.com/gso-platform/maintenance-api/internal/models"
	"github.com/gso-platform/maintenance-api/internal/repository"
	appErrors "github.com/gso-platform/maintenance-api/pkg/errors"
)

type requestStore interface {
	Create(ctx context.Context, request *models.MaintenanceRequest) error
	GetByID(ctx context.Context, id string) (*models.MaintenanceRequest, error)
	UpdateDetails(ctx context.Context, params repository.UpdateDetailsParams) error
	Delete(ctx context.Context, id string) error
}

type referenceChecker interface {
	ValidateReferences(ctx context.Context, officeID, positionID, maintenanceTypeID string) error
}

// RequestService handles the descriptive side of a maintenance request:
// submission, lookup, pre-verification edits and administrative deletion.
// Status and approval columns are off limits here; those belong to the
// approval service.
type RequestService struct {
	store     requestStore
	refs      referenceChecker
	notifier  notificationEmitter
	cache     viewInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// RequestServiceOption configures the service.
type RequestServiceOption func(*RequestService)

// WithRequestNotifier sets the notification emitter.
func WithRequestNotifier(notifier notificationEmitter) RequestServiceOption {
	return func(s *RequestService) {
		s.notifier = notifier
	}
}

// WithRequestViewInvalidator sets the listing-cache invalidator.
func WithRequestViewInvalidator(cache viewInvalidator) RequestServiceOption {
	return func(s *RequestService) {
		s.cache = cache
	}
}

// NewRequestService constructs the service.
func NewRequestService(store requestStore, refs referenceChecker, logger *zap.Logger, opts ...RequestServiceOption) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestService{
		store:     store,
		refs:      refs,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit records a new maintenance request in PENDING status on behalf of the
// authenticated requester.
func (s *RequestService) Submit(ctx context.Context, payload dto.CreateRequestPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "all request fields are required")
	}
	if s.refs != nil {
		if err := s.refs.ValidateReferences(ctx, payload.OfficeID, payload.PositionID, payload.MaintenanceTypeID); err != nil {
			return nil, err
		}
	}

	request := &models.MaintenanceRequest{
		DateRequested:     payload.DateRequested,
		Details:           payload.Details,
		RequesterID:       actor.UserID,
		PositionID:        payload.PositionID,
		OfficeID:          payload.OfficeID,
		ContactNumber:     payload.ContactNumber,
		MaintenanceTypeID: payload.MaintenanceTypeID,
		Status:            models.StatusPending,
	}
	if err := s.store.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create maintenance request")
	}

	s.logger.Info("maintenance request submitted",
		zap.String("request_id", request.ID),
		zap.String("requester_id", actor.UserID))

	if s.notifier != nil {
		recipients := models.RecipientSelector{Roles: []models.UserRole{models.RoleStaff}}
		if err := s.notifier.Emit(ctx, models.EventRequestSubmitted, *request, recipients); err != nil {
			s.logger.Warn("failed to emit submission notification",
				zap.String("request_id", request.ID), zap.Error(err))
		}
	}
	s.invalidateViews(ctx)

	return request, nil
}

// Get loads a single request. Requesters only see their own records; review
// roles see everything.
func (s *RequestService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "maintenance request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load maintenance request")
	}
	if actor.Role == models.RoleRequester && request.RequesterID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "maintenance request not found")
	}
	return request, nil
}

// UpdateDetails rewrites the descriptive fields of a request that has not yet
// entered review. The write is version guarded so an edit racing a verify
// loses cleanly.
func (s *RequestService) UpdateDetails(ctx context.Context, id string, payload dto.UpdateDetailsPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "all request fields are required")
	}
	if s.refs != nil {
		if err := s.refs.ValidateReferences(ctx, payload.OfficeID, payload.PositionID, payload.MaintenanceTypeID); err != nil {
			return nil, err
		}
	}

	request, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "maintenance request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load maintenance request")
	}
	if actor.Role != models.RoleAdmin && request.RequesterID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrRoleNotPermitted, "only the original requester or an administrator may edit this request")
	}
	if request.Status != models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "request details can only be edited before verification")
	}

	params := repository.UpdateDetailsParams{
		ID:                request.ID,
		ExpectedVersion:   request.Version,
		DateRequested:     payload.DateRequested,
		Details:           payload.Details,
		PositionID:        payload.PositionID,
		OfficeID:          payload.OfficeID,
		ContactNumber:     payload.ContactNumber,
		MaintenanceTypeID: payload.MaintenanceTypeID,
	}
	if err := s.store.UpdateDetails(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConcurrentModification, "request was modified concurrently, retry with fresh state")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request details")
	}

	request.DateRequested = payload.DateRequested
	request.Details = payload.Details
	request.PositionID = payload.PositionID
	request.OfficeID = payload.OfficeID
	request.ContactNumber = payload.ContactNumber
	request.MaintenanceTypeID = payload.MaintenanceTypeID
	request.Version++

	s.invalidateViews(ctx)
	return request, nil
}

// Delete removes a request outright. Administrative escape hatch only.
func (s *RequestService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "maintenance request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete maintenance request")
	}
	s.invalidateViews(ctx)
	return nil
}

func (s *RequestService) invalidateViews(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "requests:*"); err != nil {
		s.logger.Warn("failed to invalidate listing cache", zap.Error(err))
	}
}
