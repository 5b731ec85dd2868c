package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gso-platform/maintenance-api/internal/service"
	appErrors "github.com/gso-platform/maintenance-api/pkg/errors"
	"github.com/gso-platform/maintenance-api/pkg/response"
)

// ReferenceHandler exposes the reference-data catalogues used to populate
// request forms.
type ReferenceHandler struct {
	service *service.ReferenceService
}

// NewReferenceHandler constructs the handler.
func NewReferenceHandler(svc *service.ReferenceService) *ReferenceHandler {
	return &ReferenceHandler{service: svc}
}

// ListOffices godoc
// @Summary List offices
// @Tags Reference
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reference/offices [get]
func (h *ReferenceHandler) ListOffices(c *gin.Context) {
	offices, err := h.service.ListOffices(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offices, nil)
}

// ListPositions godoc
// @Summary List positions
// @Tags Reference
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reference/positions [get]
func (h *ReferenceHandler) ListPositions(c *gin.Context) {
	positions, err := h.service.ListPositions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, positions, nil)
}

// ListMaintenanceTypes godoc
// @Summary List maintenance types
// @Tags Reference
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reference/maintenance-types [get]
func (h *ReferenceHandler) ListMaintenanceTypes(c *gin.Context) {
	types, err := h.service.ListMaintenanceTypes(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, types, nil)
}

// CreateOffice godoc
// @Summary Create an office
// @Tags Reference
// @Accept json
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /reference/offices [post]
func (h *ReferenceHandler) CreateOffice(c *gin.Context) {
	var payload struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "office name is required"))
		return
	}
	office, err := h.service.CreateOffice(c.Request.Context(), payload.Name, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, office, nil)
}

// CreatePosition godoc
// @Summary Create a position
// @Tags Reference
// @Accept json
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /reference/positions [post]
func (h *ReferenceHandler) CreatePosition(c *gin.Context) {
	var payload struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "position name is required"))
		return
	}
	position, err := h.service.CreatePosition(c.Request.Context(), payload.Name, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, position, nil)
}

// CreateMaintenanceType godoc
// @Summary Create a maintenance type
// @Tags Reference
// @Accept json
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /reference/maintenance-types [post]
func (h *ReferenceHandler) CreateMaintenanceType(c *gin.Context) {
	var payload struct {
		Code string `json:"code" binding:"required"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "maintenance type code and name are required"))
		return
	}
	mt, err := h.service.CreateMaintenanceType(c.Request.Context(), payload.Code, payload.Name, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, mt, nil)
}
