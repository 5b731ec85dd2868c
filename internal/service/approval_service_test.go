package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gso-platform/maintenance-api/internal/dto"
	"github.com/gso-platform/maintenance-api/internal/models"
	"github.com/gso-platform/maintenance-api/internal/repository"
	"github.com/gso-platform/maintenance-api/pkg/config"
	appErrors "github.com/gso-platform/maintenance-api/pkg/errors"
)

type requestStoreStub struct {
	mu            sync.Mutex
	requests      map[string]*models.MaintenanceRequest
	priorityInUse bool
	forceConflict bool
}

func newRequestStoreStub() *requestStoreStub {
	return &requestStoreStub{requests: make(map[string]*models.MaintenanceRequest)}
}

func (s *requestStoreStub) GetByID(_ context.Context, id string) (*models.MaintenanceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *request
	return &copy, nil
}

func (s *requestStoreStub) UpdateWithVersion(_ context.Context, params repository.UpdateRequestParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forceConflict {
		return sql.ErrNoRows
	}
	request, ok := s.requests[params.ID]
	if !ok || request.Version != params.ExpectedVersion {
		return sql.ErrNoRows
	}
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
	return nil
}

func (s *requestStoreStub) PriorityNumberInUse(_ context.Context, _, _ string) (bool, error) {
	return s.priorityInUse, nil
}

type auditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditStub) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.logs)
}

type emitterStub struct {
	mu     sync.Mutex
	events []models.NotificationEventType
}

func (e *emitterStub) Emit(_ context.Context, eventType models.NotificationEventType, _ models.MaintenanceRequest, _ models.RecipientSelector) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
	return nil
}

func claimsFor(role models.UserRole, id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: role}
}

func pendingRequest(id string) *models.MaintenanceRequest {
	return &models.MaintenanceRequest{
		ID:                id,
		DateRequested:     time.Now().UTC(),
		Details:           "leaking faucet at the records office",
		RequesterID:       "requester-1",
		PositionID:        "position-1",
		OfficeID:          "office-1",
		ContactNumber:     "555-0101",
		MaintenanceTypeID: "type-1",
		Status:            models.StatusPending,
		Version:           1,
	}
}

func verifiedRequest(id string) *models.MaintenanceRequest {
	request := pendingRequest(id)
	request.Status = models.StatusVerified
	staff := "staff-1"
	priority := "42"
	received := time.Now().UTC()
	slot := "09:00"
	request.VerifiedBy = &staff
	request.PriorityNumber = &priority
	request.DateReceived = &received
	request.TimeReceived = &slot
	request.Version = 2
	return request
}

func verifyPayload() dto.VerifyPayload {
	return dto.VerifyPayload{
		DateReceived:   time.Now().UTC(),
		TimeReceived:   "10:30",
		PriorityNumber: "7",
	}
}

func newApprovalService(store *requestStoreStub, audit *auditStub, opts ...ApprovalServiceOption) *ApprovalService {
	return NewApprovalService(store, audit, nil, config.ApprovalConfig{RetryAttempts: 3}, opts...)
}

func TestVerifyMovesPendingToVerified(t *testing.T) {
	store := newRequestStoreStub()
	audit := &auditStub{}
	emitter := &emitterStub{}
	store.requests["req-1"] = pendingRequest("req-1")
	svc := newApprovalService(store, audit, WithNotifier(emitter))

	result, err := svc.Verify(context.Background(), "req-1", verifyPayload(), claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusVerified, result.Status)
	require.NotNil(t, result.VerifiedBy)
	require.Equal(t, "staff-1", *result.VerifiedBy)
	require.Equal(t, int64(2), result.Version)
	require.Equal(t, 1, audit.count())
	require.Equal(t, []models.NotificationEventType{models.EventRequestVerified}, emitter.events)
}

func TestVerifyRejectsReplay(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = verifiedRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.Verify(context.Background(), "req-1", verifyPayload(), claimsFor(models.RoleStaff, "staff-2"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestVerifyRejectsDuplicatePriority(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	store.priorityInUse = true
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.Verify(context.Background(), "req-1", verifyPayload(), claimsFor(models.RoleStaff, "staff-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestVerifyRequiresReviewRole(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.Verify(context.Background(), "req-1", verifyPayload(), claimsFor(models.RoleRequester, "requester-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrRoleNotPermitted))
}

func TestApproveHeadFillsFirstSlot(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = verifiedRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	result, err := svc.ApproveHead(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleHead, "head-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusPartiallyApproved, result.Status)
	require.NotNil(t, result.ApprovedByFirst)
	require.Equal(t, "head-1", *result.ApprovedByFirst)
	require.Nil(t, result.ApprovedBySecond)
}

func TestApproveHeadSecondSlotCompletesApproval(t *testing.T) {
	store := newRequestStoreStub()
	request := verifiedRequest("req-1")
	first := "head-1"
	request.ApprovedByFirst = &first
	request.Status = models.StatusPartiallyApproved
	store.requests["req-1"] = request
	emitter := &emitterStub{}
	svc := newApprovalService(store, &auditStub{}, WithNotifier(emitter))

	result, err := svc.ApproveHead(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleHead, "head-2"))
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, result.Status)
	require.Equal(t, "head-2", *result.ApprovedBySecond)
	require.Equal(t, []models.NotificationEventType{models.EventRequestApproved}, emitter.events)
}

func TestApproveHeadEscalatesToDirector(t *testing.T) {
	store := newRequestStoreStub()
	request := verifiedRequest("req-1")
	first := "head-1"
	request.ApprovedByFirst = &first
	request.Status = models.StatusPartiallyApproved
	store.requests["req-1"] = request
	escalate := EscalationPolicyFunc(func(context.Context, *models.MaintenanceRequest) (bool, error) {
		return true, nil
	})
	svc := newApprovalService(store, &auditStub{}, WithEscalationPolicy(escalate))

	result, err := svc.ApproveHead(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleHead, "head-2"))
	require.NoError(t, err)
	require.Equal(t, models.StatusAwaitingDirector, result.Status)

	final, err := svc.ApproveDirector(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleDirector, "director-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, final.Status)
	require.Equal(t, "director-1", *final.ApprovedByDirector)
}

func TestApproveHeadRejectsSameApproverTwice(t *testing.T) {
	store := newRequestStoreStub()
	request := verifiedRequest("req-1")
	first := "head-1"
	request.ApprovedByFirst = &first
	request.Status = models.StatusPartiallyApproved
	store.requests["req-1"] = request
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.ApproveHead(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleHead, "head-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrAlreadyApproved))
}

func TestApproveHeadRejectsWhenBothSlotsFilled(t *testing.T) {
	store := newRequestStoreStub()
	request := verifiedRequest("req-1")
	first, second := "head-1", "head-2"
	request.ApprovedByFirst = &first
	request.ApprovedBySecond = &second
	request.Status = models.StatusPartiallyApproved
	store.requests["req-1"] = request
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.ApproveHead(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleHead, "head-3"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrAlreadyApproved))
}

func TestApproveHeadRejectsUnverifiedRequest(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.ApproveHead(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleHead, "head-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestApproveDirectorRequiresEscalatedStatus(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = verifiedRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.ApproveDirector(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleDirector, "director-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestConcurrentHeadApprovalsFillDistinctSlots(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = verifiedRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	heads := []string{"head-1", "head-2"}
	for i, head := range heads {
		wg.Add(1)
		go func(i int, head string) {
			defer wg.Done()
			_, errs[i] = svc.ApproveHead(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleHead, head))
		}(i, head)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	final, err := store.GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	require.NotNil(t, final.ApprovedByFirst)
	require.NotNil(t, final.ApprovedBySecond)
	require.NotEqual(t, *final.ApprovedByFirst, *final.ApprovedBySecond)
	require.Equal(t, models.StatusApproved, final.Status)
}

func TestTransitionReportsConcurrentModificationWhenRetriesExhausted(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	store.forceConflict = true
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.Verify(context.Background(), "req-1", verifyPayload(), claimsFor(models.RoleStaff, "staff-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrConcurrentModification))
}

func TestDenyRequiresRemarks(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = verifiedRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.Deny(context.Background(), "req-1", dto.DenyPayload{Remarks: "  "}, claimsFor(models.RoleHead, "head-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestDenyFromPartialApproval(t *testing.T) {
	store := newRequestStoreStub()
	request := verifiedRequest("req-1")
	first := "head-1"
	request.ApprovedByFirst = &first
	request.Status = models.StatusPartiallyApproved
	store.requests["req-1"] = request
	svc := newApprovalService(store, &auditStub{})

	result, err := svc.Deny(context.Background(), "req-1", dto.DenyPayload{Remarks: "no budget this quarter"}, claimsFor(models.RoleHead, "head-2"))
	require.NoError(t, err)
	require.Equal(t, models.StatusDisapproved, result.Status)
	require.Equal(t, "no budget this quarter", *result.Remarks)
}

func TestDenyRejectsTerminalRequest(t *testing.T) {
	store := newRequestStoreStub()
	request := verifiedRequest("req-1")
	request.Status = models.StatusCancelled
	store.requests["req-1"] = request
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.Deny(context.Background(), "req-1", dto.DenyPayload{Remarks: "late"}, claimsFor(models.RoleHead, "head-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestCancelByRequester(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	result, err := svc.Cancel(context.Background(), "req-1", claimsFor(models.RoleRequester, "requester-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, result.Status)
}

func TestCancelRejectsOtherRequesters(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.Cancel(context.Background(), "req-1", claimsFor(models.RoleRequester, "requester-2"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrRoleNotPermitted))
}

func TestCancelRejectedOnceApprovalStarted(t *testing.T) {
	store := newRequestStoreStub()
	request := verifiedRequest("req-1")
	first := "head-1"
	request.ApprovedByFirst = &first
	request.Status = models.StatusPartiallyApproved
	store.requests["req-1"] = request
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.Cancel(context.Background(), "req-1", claimsFor(models.RoleRequester, "requester-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestFlagBlocksApprovalUntilCleared(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = verifiedRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	flagged, err := svc.MarkUrgent(context.Background(), "req-1", dto.FlagPayload{Remarks: "water damage spreading"}, claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusUrgent, flagged.Status)

	_, err = svc.ApproveHead(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleHead, "head-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	cleared, err := svc.ClearFlag(context.Background(), "req-1", claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusVerified, cleared.Status)

	approved, err := svc.ApproveHead(context.Background(), "req-1", dto.ApprovePayload{}, claimsFor(models.RoleHead, "head-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusPartiallyApproved, approved.Status)
}

func TestFlagClearRestoresPendingClass(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = pendingRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.MarkOnHold(context.Background(), "req-1", dto.FlagPayload{}, claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)

	cleared, err := svc.ClearFlag(context.Background(), "req-1", claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, cleared.Status)
}

func TestFlagRejectedAfterApprovalStarts(t *testing.T) {
	store := newRequestStoreStub()
	request := verifiedRequest("req-1")
	first := "head-1"
	request.ApprovedByFirst = &first
	request.Status = models.StatusPartiallyApproved
	store.requests["req-1"] = request
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.MarkUrgent(context.Background(), "req-1", dto.FlagPayload{}, claimsFor(models.RoleStaff, "staff-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestClearFlagRequiresActiveFlag(t *testing.T) {
	store := newRequestStoreStub()
	store.requests["req-1"] = verifiedRequest("req-1")
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.ClearFlag(context.Background(), "req-1", claimsFor(models.RoleStaff, "staff-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestTransitionNotFound(t *testing.T) {
	store := newRequestStoreStub()
	svc := newApprovalService(store, &auditStub{})

	_, err := svc.Cancel(context.Background(), "missing", claimsFor(models.RoleAdmin, "admin-1"))
	require.Error(t, err)
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
