package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gso-platform/maintenance-api/internal/dto"
	"github.com/gso-platform/maintenance-api/internal/models"
	"github.com/gso-platform/maintenance-api/internal/service"
	appErrors "github.com/gso-platform/maintenance-api/pkg/errors"
	"github.com/gso-platform/maintenance-api/pkg/export"
	"github.com/gso-platform/maintenance-api/pkg/response"
)

type requestService interface {
	Submit(ctx context.Context, payload dto.CreateRequestPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	UpdateDetails(ctx context.Context, id string, payload dto.UpdateDetailsPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
}

type approvalService interface {
	Verify(ctx context.Context, id string, payload dto.VerifyPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	ApproveHead(ctx context.Context, id string, payload dto.ApprovePayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	ApproveDirector(ctx context.Context, id string, payload dto.ApprovePayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	Deny(ctx context.Context, id string, payload dto.DenyPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	MarkUrgent(ctx context.Context, id string, payload dto.FlagPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	MarkOnHold(ctx context.Context, id string, payload dto.FlagPayload, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
	ClearFlag(ctx context.Context, id string, actor *models.JWTClaims) (*models.MaintenanceRequest, error)
}

type listingService interface {
	List(ctx context.Context, query dto.ListRequestsQuery, actor *models.JWTClaims) (*service.ListingResult, error)
	ListPending(ctx context.Context, query dto.ListRequestsQuery, actor *models.JWTClaims) (*service.ListingResult, error)
	ListApprovalQueue(ctx context.Context, query dto.ListRequestsQuery, actor *models.JWTClaims) (*service.ListingResult, error)
	Schedule(ctx context.Context, query dto.ListRequestsQuery, actor *models.JWTClaims) (*service.ListingResult, error)
	ExportDataset(ctx context.Context, query dto.ListRequestsQuery, actor *models.JWTClaims) (export.Dataset, error)
}

// RequestHandler exposes REST endpoints for the maintenance request pipeline.
type RequestHandler struct {
	requests requestService
	approval approvalService
	listings listingService
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(requests requestService, approval approvalService, listings listingService) *RequestHandler {
	return &RequestHandler{
		requests: requests,
		approval: approval,
		listings: listings,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
	}
}

// Create godoc
// @Summary Submit a maintenance request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestPayload true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var payload dto.CreateRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	request, err := h.requests.Submit(c.Request.Context(), payload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, request, nil)
}

// Get godoc
// @Summary Get a maintenance request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	request, err := h.requests.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// List godoc
// @Summary List maintenance requests
// @Tags Requests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param office_id query string false "Office filter"
// @Param type_id query string false "Maintenance type filter"
// @Param sort query string false "recent or schedule"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	h.serveListing(c, h.listings.List)
}

// ListPending godoc
// @Summary List requests awaiting verification
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/pending [get]
func (h *RequestHandler) ListPending(c *gin.Context) {
	h.serveListing(c, h.listings.ListPending)
}

// ListApprovalQueue godoc
// @Summary List requests awaiting approval
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/approval-queue [get]
func (h *RequestHandler) ListApprovalQueue(c *gin.Context) {
	h.serveListing(c, h.listings.ListApprovalQueue)
}

// Schedule godoc
// @Summary List approved work ordered by receive date
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/schedule [get]
func (h *RequestHandler) Schedule(c *gin.Context) {
	h.serveListing(c, h.listings.Schedule)
}

// Export godoc
// @Summary Export requests as CSV or PDF
// @Tags Requests
// @Produce octet-stream
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /requests/export [get]
func (h *RequestHandler) Export(c *gin.Context) {
	query := parseListQuery(c)
	dataset, err := h.listings.ExportDataset(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("maintenance-requests-%s", time.Now().UTC().Format("20060102"))
	switch strings.ToLower(c.DefaultQuery("format", "csv")) {
	case "pdf":
		payload, err := h.pdf.Render(dataset, "Maintenance Requests")
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export"))
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", filename))
		c.Data(http.StatusOK, "application/pdf", payload)
	case "csv":
		payload, err := h.csv.Render(dataset)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export"))
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", filename))
		c.Data(http.StatusOK, "text/csv", payload)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
	}
}

// UpdateDetails godoc
// @Summary Edit request details before verification
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.UpdateDetailsPayload true "Updated details"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [put]
func (h *RequestHandler) UpdateDetails(c *gin.Context) {
	var payload dto.UpdateDetailsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	request, err := h.requests.UpdateDetails(c.Request.Context(), c.Param("id"), payload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Delete godoc
// @Summary Delete a maintenance request
// @Tags Requests
// @Param id path string true "Request ID"
// @Success 204 {object} response.Envelope
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	if err := h.requests.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Verify godoc
// @Summary Verify a pending request
// @Tags Approval
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.VerifyPayload true "Review fields"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/verify [post]
func (h *RequestHandler) Verify(c *gin.Context) {
	var payload dto.VerifyPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid verify payload"))
		return
	}
	request, err := h.approval.Verify(c.Request.Context(), c.Param("id"), payload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// ApproveHead godoc
// @Summary Record a department head approval
// @Tags Approval
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ApprovePayload false "Optional remarks"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/approve [post]
func (h *RequestHandler) ApproveHead(c *gin.Context) {
	payload := bindOptionalApprove(c)
	request, err := h.approval.ApproveHead(c.Request.Context(), c.Param("id"), payload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// ApproveDirector godoc
// @Summary Record the director approval on an escalated request
// @Tags Approval
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ApprovePayload false "Optional remarks"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/approve-director [post]
func (h *RequestHandler) ApproveDirector(c *gin.Context) {
	payload := bindOptionalApprove(c)
	request, err := h.approval.ApproveDirector(c.Request.Context(), c.Param("id"), payload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Deny godoc
// @Summary Deny a request
// @Tags Approval
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DenyPayload true "Denial remarks"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/deny [post]
func (h *RequestHandler) Deny(c *gin.Context) {
	var payload dto.DenyPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "remarks are required when denying a request"))
		return
	}
	request, err := h.approval.Deny(c.Request.Context(), c.Param("id"), payload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Cancel godoc
// @Summary Cancel a request before approval begins
// @Tags Approval
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/cancel [post]
func (h *RequestHandler) Cancel(c *gin.Context) {
	request, err := h.approval.Cancel(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// MarkUrgent godoc
// @Summary Flag a request as urgent
// @Tags Approval
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.FlagPayload false "Optional remarks"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/urgent [post]
func (h *RequestHandler) MarkUrgent(c *gin.Context) {
	payload := bindOptionalFlag(c)
	request, err := h.approval.MarkUrgent(c.Request.Context(), c.Param("id"), payload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// MarkOnHold godoc
// @Summary Place a request on hold
// @Tags Approval
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.FlagPayload false "Optional remarks"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/hold [post]
func (h *RequestHandler) MarkOnHold(c *gin.Context) {
	payload := bindOptionalFlag(c)
	request, err := h.approval.MarkOnHold(c.Request.Context(), c.Param("id"), payload, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// ClearFlag godoc
// @Summary Remove the urgent or on-hold flag
// @Tags Approval
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/clear-flag [post]
func (h *RequestHandler) ClearFlag(c *gin.Context) {
	request, err := h.approval.ClearFlag(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

func (h *RequestHandler) serveListing(c *gin.Context, fn func(context.Context, dto.ListRequestsQuery, *models.JWTClaims) (*service.ListingResult, error)) {
	query := parseListQuery(c)
	result, err := fn(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result.Requests, &result.Pagination)
}

func parseListQuery(c *gin.Context) dto.ListRequestsQuery {
	query := dto.ListRequestsQuery{
		OfficeID:          strings.TrimSpace(c.Query("office_id")),
		MaintenanceTypeID: strings.TrimSpace(c.Query("type_id")),
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.RequestStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.RequestStatus(part))
		}
		query.Statuses = statuses
	}
	if sort := c.Query("sort"); sort != "" {
		query.Sort = models.RequestSort(strings.ToLower(strings.TrimSpace(sort)))
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		query.Page = page
	}
	if pageSize, err := strconv.Atoi(c.Query("page_size")); err == nil {
		query.PageSize = pageSize
	}
	return query
}

// bindOptionalApprove tolerates an empty body; remarks are optional.
func bindOptionalApprove(c *gin.Context) dto.ApprovePayload {
	var payload dto.ApprovePayload
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		_ = c.ShouldBindJSON(&payload)
	}
	return payload
}

func bindOptionalFlag(c *gin.Context) dto.FlagPayload {
	var payload dto.FlagPayload
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		_ = c.ShouldBindJSON(&payload)
	}
	return payload
}
