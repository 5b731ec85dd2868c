package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gso-platform/maintenance-api/internal/dto"
	"github.com/gso-platform/maintenance-api/internal/models"
	"github.com/gso-platform/maintenance-api/pkg/config"
)

type listerStub struct {
	mu       sync.Mutex
	requests []models.MaintenanceRequest
	calls    int
	filters  []models.RequestFilter
}

func (s *listerStub) List(_ context.Context, filter models.RequestFilter) ([]models.MaintenanceRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.filters = append(s.filters, filter)
	return s.requests, len(s.requests), nil
}

type cacheStub struct {
	mu      sync.Mutex
	entries map[string]*ListingResult
	sets    int
}

func newCacheStub() *cacheStub {
	return &cacheStub{entries: make(map[string]*ListingResult)}
}

func (c *cacheStub) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if out, ok := dest.(*ListingResult); ok {
		*out = *cached
	}
	return true, nil
}

func (c *cacheStub) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if result, ok := value.(*ListingResult); ok {
		copy := *result
		c.entries[key] = &copy
	}
	c.sets++
	return nil
}

type labelStub struct {
	labels map[string]string
}

func (l *labelStub) Resolve(_ context.Context, kind models.ReferenceKind, id string) (string, error) {
	return l.labels[string(kind)+":"+id], nil
}

func listingConfig() config.ListingsConfig {
	return config.ListingsConfig{CacheEnabled: true, CacheTTL: time.Minute}
}

func TestListPinsRequestersToOwnRequests(t *testing.T) {
	store := &listerStub{}
	svc := NewListingService(store, nil, listingConfig())

	_, err := svc.List(context.Background(), dto.ListRequestsQuery{}, claimsFor(models.RoleRequester, "requester-1"))
	require.NoError(t, err)
	require.Len(t, store.filters, 1)
	require.Equal(t, "requester-1", store.filters[0].RequesterID)
}

func TestListServesSecondReadFromCache(t *testing.T) {
	store := &listerStub{requests: []models.MaintenanceRequest{*pendingRequest("req-1")}}
	cache := newCacheStub()
	svc := NewListingService(store, nil, listingConfig(), WithListingCache(cache))

	query := dto.ListRequestsQuery{Statuses: []models.RequestStatus{models.StatusPending}}
	first, err := svc.List(context.Background(), query, claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.Len(t, first.Requests, 1)
	require.Equal(t, 1, store.calls)

	second, err := svc.List(context.Background(), query, claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.Len(t, second.Requests, 1)
	require.Equal(t, 1, store.calls)
}

func TestListDistinctFiltersNeverShareCacheEntries(t *testing.T) {
	store := &listerStub{}
	cache := newCacheStub()
	svc := NewListingService(store, nil, listingConfig(), WithListingCache(cache))

	_, err := svc.List(context.Background(), dto.ListRequestsQuery{OfficeID: "office-1"}, claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	_, err = svc.List(context.Background(), dto.ListRequestsQuery{OfficeID: "office-2"}, claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.Equal(t, 2, store.calls)
	require.Len(t, cache.entries, 2)
}

func TestListPendingScopesToUnreviewedStatuses(t *testing.T) {
	store := &listerStub{}
	svc := NewListingService(store, nil, listingConfig())

	_, err := svc.ListPending(context.Background(), dto.ListRequestsQuery{}, claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.ElementsMatch(t, []models.RequestStatus{
		models.StatusPending, models.StatusUrgent, models.StatusOnHold,
	}, store.filters[0].Statuses)
}

func TestApprovalQueueScopesToReviewStatuses(t *testing.T) {
	store := &listerStub{}
	svc := NewListingService(store, nil, listingConfig())

	_, err := svc.ListApprovalQueue(context.Background(), dto.ListRequestsQuery{}, claimsFor(models.RoleHead, "head-1"))
	require.NoError(t, err)
	require.ElementsMatch(t, []models.RequestStatus{
		models.StatusVerified, models.StatusPartiallyApproved, models.StatusAwaitingDirector,
	}, store.filters[0].Statuses)
}

func TestScheduleOrdersApprovedWorkByReceiveDate(t *testing.T) {
	store := &listerStub{}
	svc := NewListingService(store, nil, listingConfig())

	_, err := svc.Schedule(context.Background(), dto.ListRequestsQuery{Sort: "details"}, claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.ElementsMatch(t, []models.RequestStatus{models.StatusApproved, models.StatusDone}, store.filters[0].Statuses)
	require.Equal(t, models.SortSchedule, store.filters[0].Sort)
}

func TestExportDatasetResolvesReferenceLabels(t *testing.T) {
	request := *verifiedRequest("req-1")
	store := &listerStub{requests: []models.MaintenanceRequest{request}}
	labels := &labelStub{labels: map[string]string{
		string(models.ReferenceOffice) + ":" + request.OfficeID:                  "Registrar",
		string(models.ReferenceMaintenanceType) + ":" + request.MaintenanceTypeID: "Electrical",
	}}
	svc := NewListingService(store, nil, listingConfig(), WithLabelResolver(labels))

	dataset, err := svc.ExportDataset(context.Background(), dto.ListRequestsQuery{}, claimsFor(models.RoleStaff, "staff-1"))
	require.NoError(t, err)
	require.Len(t, dataset.Rows, 1)
	require.Equal(t, "Registrar", dataset.Rows[0]["Office"])
	require.Equal(t, "Electrical", dataset.Rows[0]["Type"])
	require.Equal(t, string(models.StatusVerified), dataset.Rows[0]["Status"])
}
