package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gso-platform/maintenance-api/internal/dto"
	"github.com/gso-platform/maintenance-api/internal/models"
	"github.com/gso-platform/maintenance-api/internal/repository"
	"github.com/gso-platform/maintenance-api/pkg/config"
	appErrors "github.com/gso-platform/maintenance-api/pkg/errors"
)

type approvalRequestStore interface {
	GetByID(ctx context.Context, id string) (*models.MaintenanceRequest, error)
	UpdateWithVersion(ctx context.Context, params repository.UpdateRequestParams) error
	PriorityNumberInUse(ctx context.Context, priorityNumber, excludeID string) (bool, error)
}

type transitionAuditor interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type notificationEmitter interface {
	Emit(ctx context.Context, eventType models.NotificationEventType, snapshot models.MaintenanceRequest, recipients models.RecipientSelector) error
}

type viewInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

type transitionRecorder interface {
	ObserveTransition(transition string, status models.RequestStatus)
}

// EscalationPolicy decides whether a request needs director sign-off after
// both head approvals. Eligibility to approve is always by role; the policy
// only selects which requests take the longer path.
type EscalationPolicy interface {
	RequiresDirector(ctx context.Context, request *models.MaintenanceRequest) (bool, error)
}

// EscalationPolicyFunc allows using plain functions as policies.
type EscalationPolicyFunc func(ctx context.Context, request *models.MaintenanceRequest) (bool, error)

// RequiresDirector implements EscalationPolicy.
func (f EscalationPolicyFunc) RequiresDirector(ctx context.Context, request *models.MaintenanceRequest) (bool, error) {
	return f(ctx, request)
}

// ApprovalService is the single entry point for every state transition on a
// maintenance request. Each operation runs as a bounded optimistic-retry
// loop: load, validate against fresh state, compare-and-swap on the record
// version. A writer that loses the race re-reads and re-validates, so two
// heads approving concurrently resolve to distinct slots instead of a lost
// update.
type ApprovalService struct {
	store      approvalRequestStore
	audit      transitionAuditor
	notifier   notificationEmitter
	cache      viewInvalidator
	metrics    transitionRecorder
	escalation EscalationPolicy
	validator  *validator.Validate
	logger     *zap.Logger
	attempts   int
}

// ApprovalServiceOption configures the service.
type ApprovalServiceOption func(*ApprovalService)

// WithNotifier sets the notification emitter.
func WithNotifier(notifier notificationEmitter) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.notifier = notifier
	}
}

// WithViewInvalidator sets the listing-cache invalidator.
func WithViewInvalidator(cache viewInvalidator) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.cache = cache
	}
}

// WithTransitionMetrics records applied transitions on the metrics registry.
func WithTransitionMetrics(metrics transitionRecorder) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.metrics = metrics
	}
}

// WithEscalationPolicy overrides the config-driven escalation decision.
func WithEscalationPolicy(policy EscalationPolicy) ApprovalServiceOption {
	return func(s *ApprovalService) {
		if policy != nil {
			s.escalation = policy
		}
	}
}

// NewApprovalService constructs the service. The default escalation policy
// matches the request's maintenance type against cfg.EscalationTypes.
func NewApprovalService(store approvalRequestStore, audit transitionAuditor, logger *zap.Logger, cfg config.ApprovalConfig, opts ...ApprovalServiceOption) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	escalated := make(map[string]struct{}, len(cfg.EscalationTypes))
	for _, t := range cfg.EscalationTypes {
		escalated[strings.TrimSpace(t)] = struct{}{}
	}
	svc := &ApprovalService{
		store:     store,
		audit:     audit,
		validator: validator.New(),
		logger:    logger,
		attempts:  attempts,
		escalation: EscalationPolicyFunc(func(ctx context.Context, request *models.MaintenanceRequest) (bool, error) {
			_, ok := escalated[request.MaintenanceTypeID]
			return ok, nil
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Verify records receipt metadata and priority, moving a pending request to
// VERIFIED. Replaying against an already verified record is rejected, never
// silently accepted.
func (s *ApprovalService) Verify(ctx context.Context, id string, payload dto.VerifyPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if err := requireRole(actor, models.RoleStaff, models.RoleHead, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date received, time received and priority number are required")
	}

	return s.transition(ctx, id, "verify", actor, func(request *models.MaintenanceRequest) (*repository.UpdateRequestParams, models.NotificationEventType, models.RecipientSelector, error) {
		if request.Status != models.StatusPending {
			if request.IsVerified() {
				return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrInvalidState, "request has already been verified")
			}
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("verify is only allowed for pending requests, current status is %s", request.Status))
		}
		inUse, err := s.store.PriorityNumberInUse(ctx, payload.PriorityNumber, request.ID)
		if err != nil {
			return nil, "", models.RecipientSelector{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check priority number")
		}
		if inUse {
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("priority number %s is already assigned to an open request", payload.PriorityNumber))
		}
		params := &repository.UpdateRequestParams{
			Status:         models.StatusVerified,
			DateReceived:   &payload.DateReceived,
			TimeReceived:   &payload.TimeReceived,
			PriorityNumber: &payload.PriorityNumber,
			Remarks:        optionalString(payload.Remarks),
			VerifiedBy:     &actor.UserID,
		}
		recipients := models.RecipientSelector{
			Roles:   []models.UserRole{models.RoleHead},
			UserIDs: []string{request.RequesterID},
		}
		return params, models.EventRequestVerified, recipients, nil
	})
}

// ApproveHead fills one of the two head-approval slots: first empty slot
// wins, and an approver may occupy only one slot. Filling the second slot
// completes approval unless the escalation policy routes the request to the
// director first.
func (s *ApprovalService) ApproveHead(ctx context.Context, id string, payload dto.ApprovePayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if err := requireRole(actor, models.RoleHead, models.RoleAdmin); err != nil {
		return nil, err
	}

	return s.transition(ctx, id, "approve_head", actor, func(request *models.MaintenanceRequest) (*repository.UpdateRequestParams, models.NotificationEventType, models.RecipientSelector, error) {
		if err := approvableState(request); err != nil {
			return nil, "", models.RecipientSelector{}, err
		}
		params := &repository.UpdateRequestParams{Remarks: optionalString(payload.Remarks)}
		eventType := models.EventHeadApproved
		recipients := models.RecipientSelector{UserIDs: []string{request.RequesterID}}

		switch {
		case request.ApprovedByFirst == nil:
			params.ApprovedByFirst = &actor.UserID
			params.Status = models.StatusPartiallyApproved
			recipients.Roles = []models.UserRole{models.RoleHead}
		case *request.ApprovedByFirst == actor.UserID:
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrAlreadyApproved, "you have already approved this request")
		case request.ApprovedBySecond == nil:
			params.ApprovedBySecond = &actor.UserID
			escalate, err := s.escalation.RequiresDirector(ctx, request)
			if err != nil {
				return nil, "", models.RecipientSelector{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate director escalation")
			}
			if escalate {
				params.Status = models.StatusAwaitingDirector
				eventType = models.EventAwaitingDirector
				recipients.Roles = []models.UserRole{models.RoleDirector}
			} else {
				params.Status = models.StatusApproved
				eventType = models.EventRequestApproved
				recipients.Roles = []models.UserRole{models.RoleStaff}
			}
		default:
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrAlreadyApproved, "both approval slots are already filled")
		}
		return params, eventType, recipients, nil
	})
}

// ApproveDirector records the campus director sign-off on an escalated
// request.
func (s *ApprovalService) ApproveDirector(ctx context.Context, id string, payload dto.ApprovePayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if err := requireRole(actor, models.RoleDirector, models.RoleAdmin); err != nil {
		return nil, err
	}

	return s.transition(ctx, id, "approve_director", actor, func(request *models.MaintenanceRequest) (*repository.UpdateRequestParams, models.NotificationEventType, models.RecipientSelector, error) {
		if request.Status != models.StatusAwaitingDirector {
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("director approval is only allowed while awaiting director, current status is %s", request.Status))
		}
		if request.ApprovedByFirst == nil || request.ApprovedBySecond == nil {
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrPrerequisiteNotMet, "both department head approvals are required before director sign-off")
		}
		params := &repository.UpdateRequestParams{
			Status:             models.StatusApproved,
			ApprovedByDirector: &actor.UserID,
			Remarks:            optionalString(payload.Remarks),
		}
		recipients := models.RecipientSelector{
			Roles:   []models.UserRole{models.RoleStaff},
			UserIDs: []string{request.RequesterID},
		}
		return params, models.EventRequestApproved, recipients, nil
	})
}

// Deny rejects a request from any non-terminal status. Remarks are
// mandatory so the requester learns why.
func (s *ApprovalService) Deny(ctx context.Context, id string, payload dto.DenyPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if err := requireRole(actor, models.RoleStaff, models.RoleHead, models.RoleDirector, models.RoleAdmin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.Remarks) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "remarks are required when denying a request")
	}

	return s.transition(ctx, id, "deny", actor, func(request *models.MaintenanceRequest) (*repository.UpdateRequestParams, models.NotificationEventType, models.RecipientSelector, error) {
		if request.IsTerminal() {
			return nil, "", models.RecipientSelector{}, terminalStateError(request)
		}
		params := &repository.UpdateRequestParams{
			Status:  models.StatusDisapproved,
			Remarks: optionalString(payload.Remarks),
		}
		recipients := models.RecipientSelector{UserIDs: []string{request.RequesterID}}
		return params, models.EventRequestDenied, recipients, nil
	})
}

// Cancel withdraws a request before any head approval. Only the original
// requester or an administrator may cancel.
func (s *ApprovalService) Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	return s.transition(ctx, id, "cancel", actor, func(request *models.MaintenanceRequest) (*repository.UpdateRequestParams, models.NotificationEventType, models.RecipientSelector, error) {
		if actor.Role != models.RoleAdmin && actor.UserID != request.RequesterID {
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrRoleNotPermitted, "only the original requester or an administrator may cancel this request")
		}
		if request.IsTerminal() {
			return nil, "", models.RecipientSelector{}, terminalStateError(request)
		}
		if request.HasAnyApproval() {
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrInvalidState, "request can no longer be cancelled once head approval has begun")
		}
		base := request.BaseStatus()
		if base != models.StatusPending && base != models.StatusVerified {
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cancel is only allowed before approval, current status is %s", request.Status))
		}
		params := &repository.UpdateRequestParams{Status: models.StatusCancelled}
		recipients := models.RecipientSelector{Roles: []models.UserRole{models.RoleStaff}}
		return params, models.EventRequestCancelled, recipients, nil
	})
}

// MarkUrgent applies the URGENT overlay label.
func (s *ApprovalService) MarkUrgent(ctx context.Context, id string, payload dto.FlagPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	return s.applyFlag(ctx, id, models.StatusUrgent, payload, actor)
}

// MarkOnHold applies the ON_HOLD overlay label.
func (s *ApprovalService) MarkOnHold(ctx context.Context, id string, payload dto.FlagPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	return s.applyFlag(ctx, id, models.StatusOnHold, payload, actor)
}

func (s *ApprovalService) applyFlag(ctx context.Context, id string, flag models.RequestStatus, payload dto.FlagPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if err := requireRole(actor, models.RoleStaff, models.RoleHead, models.RoleAdmin); err != nil {
		return nil, err
	}

	return s.transition(ctx, id, "flag", actor, func(request *models.MaintenanceRequest) (*repository.UpdateRequestParams, models.NotificationEventType, models.RecipientSelector, error) {
		if request.HasAnyApproval() {
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrInvalidState, "request cannot be flagged once an approval slot is filled")
		}
		if request.Status != models.StatusPending && request.Status != models.StatusVerified {
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request cannot be flagged from status %s", request.Status))
		}
		params := &repository.UpdateRequestParams{
			Status:  flag,
			Remarks: optionalString(payload.Remarks),
		}
		recipients := models.RecipientSelector{
			Roles:   []models.UserRole{models.RoleStaff, models.RoleHead},
			UserIDs: []string{request.RequesterID},
		}
		return params, models.EventRequestFlagged, recipients, nil
	})
}

// ClearFlag removes an overlay label, returning the request to its
// underlying pending or verified status.
func (s *ApprovalService) ClearFlag(ctx context.Context, id string, actor *models.JWTClaims) (*models.MaintenanceRequest, error) {
	if err := requireRole(actor, models.RoleStaff, models.RoleHead, models.RoleAdmin); err != nil {
		return nil, err
	}

	return s.transition(ctx, id, "clear_flag", actor, func(request *models.MaintenanceRequest) (*repository.UpdateRequestParams, models.NotificationEventType, models.RecipientSelector, error) {
		if !request.IsFlagged() {
			return nil, "", models.RecipientSelector{}, appErrors.Clone(appErrors.ErrInvalidState, "request carries no urgent or on-hold flag")
		}
		params := &repository.UpdateRequestParams{Status: request.BaseStatus()}
		recipients := models.RecipientSelector{
			Roles:   []models.UserRole{models.RoleStaff, models.RoleHead},
			UserIDs: []string{request.RequesterID},
		}
		return params, models.EventFlagCleared, recipients, nil
	})
}

// decide inspects committed state and either proposes the columns to write or
// rejects the transition with a typed error.
type decide func(request *models.MaintenanceRequest) (*repository.UpdateRequestParams, models.NotificationEventType, models.RecipientSelector, error)

func (s *ApprovalService) transition(ctx context.Context, id, name string, actor *models.JWTClaims, fn decide) (*models.MaintenanceRequest, error) {
	for attempt := 1; ; attempt++ {
		request, err := s.store.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "maintenance request not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load maintenance request")
		}

		params, eventType, recipients, err := fn(request)
		if err != nil {
			return nil, err
		}
		params.ID = request.ID
		params.ExpectedVersion = request.Version

		if err := s.store.UpdateWithVersion(ctx, *params); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				if attempt < s.attempts {
					continue
				}
				return nil, appErrors.Clone(appErrors.ErrConcurrentModification, "request was modified concurrently, retry with fresh state")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
		}

		updated := applyParams(*request, *params)
		if s.metrics != nil {
			s.metrics.ObserveTransition(name, updated.Status)
		}
		s.recordTransition(ctx, name, actor, &updated)
		s.notify(ctx, eventType, updated, recipients)
		s.invalidateViews(ctx)
		return &updated, nil
	}
}

// applyParams mirrors the committed write onto the loaded snapshot, saving a
// round trip after a successful CAS.
func applyParams(request models.MaintenanceRequest, params repository.UpdateRequestParams) models.MaintenanceRequest {
	request.Status = params.Status
	request.Version++
	if params.DateReceived != nil {
		request.DateReceived = params.DateReceived
	}
	if params.TimeReceived != nil {
		request.TimeReceived = params.TimeReceived
	}
	if params.PriorityNumber != nil {
		request.PriorityNumber = params.PriorityNumber
	}
	if params.Remarks != nil {
		request.Remarks = params.Remarks
	}
	if params.VerifiedBy != nil {
		request.VerifiedBy = params.VerifiedBy
	}
	if params.ApprovedByFirst != nil {
		request.ApprovedByFirst = params.ApprovedByFirst
	}
	if params.ApprovedBySecond != nil {
		request.ApprovedBySecond = params.ApprovedBySecond
	}
	if params.ApprovedByDirector != nil {
		request.ApprovedByDirector = params.ApprovedByDirector
	}
	return request
}

func (s *ApprovalService) recordTransition(ctx context.Context, name string, actor *models.JWTClaims, request *models.MaintenanceRequest) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"transition": name,
		"status":     request.Status,
		"version":    request.Version,
	})
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionTransition,
		Resource:   "maintenance_request",
		ResourceID: &request.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "approval-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist transition audit log", zap.Error(err))
	}
}

// notify is best-effort: the committed record is the source of truth and a
// failed dispatch never rolls back the transition.
func (s *ApprovalService) notify(ctx context.Context, eventType models.NotificationEventType, snapshot models.MaintenanceRequest, recipients models.RecipientSelector) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Emit(ctx, eventType, snapshot, recipients); err != nil {
		s.logger.Warn("failed to emit notification",
			zap.String("event", string(eventType)),
			zap.String("request_id", snapshot.ID),
			zap.Error(err))
	}
}

func (s *ApprovalService) invalidateViews(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "requests:*"); err != nil {
		s.logger.Warn("failed to invalidate listing cache", zap.Error(err))
	}
}

func approvableState(request *models.MaintenanceRequest) error {
	switch request.Status {
	case models.StatusVerified, models.StatusPartiallyApproved:
		return nil
	case models.StatusPending:
		return appErrors.Clone(appErrors.ErrInvalidState, "request must be verified before it can be approved")
	case models.StatusUrgent, models.StatusOnHold:
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request is flagged %s, clear the flag before approving", request.Status))
	default:
		return terminalStateError(request)
	}
}

func terminalStateError(request *models.MaintenanceRequest) error {
	switch request.Status {
	case models.StatusApproved:
		return appErrors.Clone(appErrors.ErrInvalidState, "request has already been approved")
	case models.StatusDisapproved:
		return appErrors.Clone(appErrors.ErrInvalidState, "request has already been denied")
	case models.StatusCancelled:
		return appErrors.Clone(appErrors.ErrInvalidState, "request has already been cancelled")
	case models.StatusDone:
		return appErrors.Clone(appErrors.ErrInvalidState, "request is already completed")
	default:
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("transition not allowed from status %s", request.Status))
	}
}

func requireRole(actor *models.JWTClaims, allowed ...models.UserRole) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	for _, role := range allowed {
		if actor.Role == role {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrRoleNotPermitted, fmt.Sprintf("role %s is not permitted to perform this transition", actor.Role))
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
