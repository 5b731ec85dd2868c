package dto

import (
	"time"

	"github.com/gso-platform/maintenance-api/internal/models"
)

// CreateRequestPayload is the requester submission.
type CreateRequestPayload struct {
	DateRequested     time.Time `json:"date_requested" validate:"required"`
	Details           string    `json:"details" validate:"required"`
	PositionID        string    `json:"position_id" validate:"required"`
	OfficeID          string    `json:"office_id" validate:"required"`
	ContactNumber     string    `json:"contact_number" validate:"required"`
	MaintenanceTypeID string    `json:"maintenance_type_id" validate:"required"`
}

// UpdateDetailsPayload replaces the descriptive fields of an unverified
// pending request.
type UpdateDetailsPayload struct {
	DateRequested     time.Time `json:"date_requested" validate:"required"`
	Details           string    `json:"details" validate:"required"`
	PositionID        string    `json:"position_id" validate:"required"`
	OfficeID          string    `json:"office_id" validate:"required"`
	ContactNumber     string    `json:"contact_number" validate:"required"`
	MaintenanceTypeID string    `json:"maintenance_type_id" validate:"required"`
}

// VerifyPayload carries the staff review fields.
type VerifyPayload struct {
	DateReceived   time.Time `json:"date_received" validate:"required"`
	TimeReceived   string    `json:"time_received" validate:"required"`
	PriorityNumber string    `json:"priority_number" validate:"required"`
	Remarks        string    `json:"remarks"`
}

// ApprovePayload carries optional approver remarks.
type ApprovePayload struct {
	Remarks string `json:"remarks"`
}

// DenyPayload requires an explanation for the denial.
type DenyPayload struct {
	Remarks string `json:"remarks" validate:"required"`
}

// FlagPayload applies or clears an overlay label.
type FlagPayload struct {
	Remarks string `json:"remarks"`
}

// ListRequestsQuery mirrors the supported listing filters.
type ListRequestsQuery struct {
	Statuses          []models.RequestStatus
	OfficeID          string
	MaintenanceTypeID string
	Sort              models.RequestSort
	Page              int
	PageSize          int
}
