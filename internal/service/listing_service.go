package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gso-platform/maintenance-api/internal/dto"
	"github.com/gso-platform/maintenance-api/internal/models"
	"github.com/gso-platform/maintenance-api/pkg/config"
	appErrors "github.com/gso-platform/maintenance-api/pkg/errors"
	"github.com/gso-platform/maintenance-api/pkg/export"
)

type requestLister interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.MaintenanceRequest, int, error)
}

type listingCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type labelResolver interface {
	Resolve(ctx context.Context, kind models.ReferenceKind, id string) (string, error)
}

// ListingResult is a page of requests plus pagination metadata.
type ListingResult struct {
	Requests   []models.MaintenanceRequest `json:"requests"`
	Pagination models.Pagination           `json:"pagination"`
}

// ListingService serves the read-only request views. Listings always reflect
// committed rows; an in-flight transition is invisible until its version
// bump lands. Pages are cached in Redis and invalidated wholesale on every
// write.
type ListingService struct {
	store  requestLister
	cache  listingCache
	labels labelResolver
	logger *zap.Logger
	cfg    config.ListingsConfig
}

// ListingServiceOption configures the service.
type ListingServiceOption func(*ListingService)

// WithListingCache enables the Redis read-through cache.
func WithListingCache(cache listingCache) ListingServiceOption {
	return func(s *ListingService) {
		s.cache = cache
	}
}

// WithLabelResolver enables human-readable labels in exports.
func WithLabelResolver(labels labelResolver) ListingServiceOption {
	return func(s *ListingService) {
		s.labels = labels
	}
}

// NewListingService constructs the service.
func NewListingService(store requestLister, logger *zap.Logger, cfg config.ListingsConfig, opts ...ListingServiceOption) *ListingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ListingService{store: store, logger: logger, cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// List returns a filtered page of requests scoped to the caller's role.
// Requesters are pinned to their own submissions regardless of the filters
// they send.
func (s *ListingService) List(ctx context.Context, query dto.ListRequestsQuery, actor *models.JWTClaims) (*ListingResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	filter := models.RequestFilter{
		Statuses:          query.Statuses,
		OfficeID:          query.OfficeID,
		MaintenanceTypeID: query.MaintenanceTypeID,
		Sort:              query.Sort,
		Page:              query.Page,
		PageSize:          query.PageSize,
	}
	if actor.Role == models.RoleRequester {
		filter.RequesterID = actor.UserID
	}

	key := s.cacheKey(filter)
	if s.cacheEnabled() {
		var cached ListingResult
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("listing cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	requests, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list maintenance requests")
	}
	if requests == nil {
		requests = []models.MaintenanceRequest{}
	}

	result := &ListingResult{
		Requests: requests,
		Pagination: models.Pagination{
			Page:       normalizePage(filter.Page),
			PageSize:   normalizePageSize(filter.PageSize),
			TotalCount: total,
		},
	}

	if s.cacheEnabled() {
		if err := s.cache.Set(ctx, key, result, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("listing cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return result, nil
}

// ListPending is the staff work queue: unverified submissions plus flagged
// records that still need review.
func (s *ListingService) ListPending(ctx context.Context, query dto.ListRequestsQuery, actor *models.JWTClaims) (*ListingResult, error) {
	query.Statuses = []models.RequestStatus{
		models.StatusPending,
		models.StatusUrgent,
		models.StatusOnHold,
	}
	return s.List(ctx, query, actor)
}

// ListApprovalQueue returns the records waiting on head or director action.
func (s *ListingService) ListApprovalQueue(ctx context.Context, query dto.ListRequestsQuery, actor *models.JWTClaims) (*ListingResult, error) {
	query.Statuses = []models.RequestStatus{
		models.StatusVerified,
		models.StatusPartiallyApproved,
		models.StatusAwaitingDirector,
	}
	return s.List(ctx, query, actor)
}

// Schedule returns approved work ordered by the verified receive date.
func (s *ListingService) Schedule(ctx context.Context, query dto.ListRequestsQuery, actor *models.JWTClaims) (*ListingResult, error) {
	query.Statuses = []models.RequestStatus{models.StatusApproved, models.StatusDone}
	query.Sort = models.SortSchedule
	return s.List(ctx, query, actor)
}

// ExportDataset flattens a listing into tabular form for the CSV and PDF
// exporters. Reference ids are resolved to display labels when a resolver is
// wired.
func (s *ListingService) ExportDataset(ctx context.Context, query dto.ListRequestsQuery, actor *models.JWTClaims) (export.Dataset, error) {
	result, err := s.List(ctx, query, actor)
	if err != nil {
		return export.Dataset{}, err
	}

	headers := []string{"Priority", "Date Requested", "Details", "Office", "Type", "Status", "Date Received", "Remarks"}
	rows := make([]map[string]string, 0, len(result.Requests))
	for _, request := range result.Requests {
		row := map[string]string{
			"Priority":       derefString(request.PriorityNumber),
			"Date Requested": request.DateRequested.Format("2006-01-02"),
			"Details":        request.Details,
			"Office":         s.resolveLabel(ctx, models.ReferenceOffice, request.OfficeID),
			"Type":           s.resolveLabel(ctx, models.ReferenceMaintenanceType, request.MaintenanceTypeID),
			"Status":         string(request.Status),
			"Remarks":        derefString(request.Remarks),
		}
		if request.DateReceived != nil {
			row["Date Received"] = request.DateReceived.Format("2006-01-02")
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}, nil
}

func (s *ListingService) resolveLabel(ctx context.Context, kind models.ReferenceKind, id string) string {
	if s.labels == nil || id == "" {
		return id
	}
	label, err := s.labels.Resolve(ctx, kind, id)
	if err != nil {
		return id
	}
	return label
}

func (s *ListingService) cacheEnabled() bool {
	return s.cache != nil && s.cfg.CacheEnabled
}

// cacheKey builds a deterministic key from the effective filter so distinct
// views never collide.
func (s *ListingService) cacheKey(filter models.RequestFilter) string {
	statuses := make([]string, len(filter.Statuses))
	for i, status := range filter.Statuses {
		statuses[i] = string(status)
	}
	sort.Strings(statuses)
	return fmt.Sprintf("requests:%s:%s:%s:%s:%s:%d:%d",
		strings.Join(statuses, ","),
		filter.RequesterID,
		filter.OfficeID,
		filter.MaintenanceTypeID,
		filter.Sort,
		normalizePage(filter.Page),
		normalizePageSize(filter.PageSize))
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func normalizePageSize(size int) int {
	if size <= 0 || size > 200 {
		return 50
	}
	return size
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
