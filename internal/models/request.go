package models

import "time"

// RequestStatus captures the lifecycle of a maintenance request. URGENT and
// ON_HOLD are overlay labels applied on top of the pre-approval statuses; the
// underlying class (pending vs verified) is recoverable from the review fields.
type RequestStatus string

const (
	StatusPending           RequestStatus = "PENDING"
	StatusVerified          RequestStatus = "VERIFIED"
	StatusPartiallyApproved RequestStatus = "PARTIALLY_APPROVED"
	StatusAwaitingDirector  RequestStatus = "AWAITING_DIRECTOR"
	StatusApproved          RequestStatus = "APPROVED"
	StatusDisapproved       RequestStatus = "DISAPPROVED"
	StatusCancelled         RequestStatus = "CANCELLED"
	StatusDone              RequestStatus = "DONE"
	StatusUrgent            RequestStatus = "URGENT"
	StatusOnHold            RequestStatus = "ON_HOLD"
)

// MaintenanceRequest is the stateful entity tracked through the review and
// approval pipeline. Approval and status columns are only ever written by the
// approval service under the record's version guard.
type MaintenanceRequest struct {
	ID                string        `db:"id" json:"id"`
	DateRequested     time.Time     `db:"date_requested" json:"date_requested"`
	Details           string        `db:"details" json:"details"`
	RequesterID       string        `db:"requester_id" json:"requester_id"`
	PositionID        string        `db:"position_id" json:"position_id"`
	OfficeID          string        `db:"office_id" json:"office_id"`
	ContactNumber     string        `db:"contact_number" json:"contact_number"`
	MaintenanceTypeID string        `db:"maintenance_type_id" json:"maintenance_type_id"`
	Status            RequestStatus `db:"status" json:"status"`

	DateReceived   *time.Time `db:"date_received" json:"date_received,omitempty"`
	TimeReceived   *string    `db:"time_received" json:"time_received,omitempty"`
	PriorityNumber *string    `db:"priority_number" json:"priority_number,omitempty"`
	Remarks        *string    `db:"remarks" json:"remarks,omitempty"`
	VerifiedBy     *string    `db:"verified_by" json:"verified_by,omitempty"`

	ApprovedByFirst    *string `db:"approved_by_first" json:"approved_by_first,omitempty"`
	ApprovedBySecond   *string `db:"approved_by_second" json:"approved_by_second,omitempty"`
	ApprovedByDirector *string `db:"approved_by_director" json:"approved_by_director,omitempty"`

	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the record is frozen for approval mutation.
func (r *MaintenanceRequest) IsTerminal() bool {
	switch r.Status {
	case StatusApproved, StatusDisapproved, StatusCancelled, StatusDone:
		return true
	}
	return false
}

// IsVerified reports whether staff review has been recorded.
func (r *MaintenanceRequest) IsVerified() bool {
	return r.VerifiedBy != nil
}

// IsFlagged reports whether an overlay label is active.
func (r *MaintenanceRequest) IsFlagged() bool {
	return r.Status == StatusUrgent || r.Status == StatusOnHold
}

// HasAnyApproval reports whether at least one approval slot is filled.
func (r *MaintenanceRequest) HasAnyApproval() bool {
	return r.ApprovedByFirst != nil || r.ApprovedBySecond != nil || r.ApprovedByDirector != nil
}

// HasApprovedBy reports whether the identity already occupies a head slot.
func (r *MaintenanceRequest) HasApprovedBy(id string) bool {
	if r.ApprovedByFirst != nil && *r.ApprovedByFirst == id {
		return true
	}
	if r.ApprovedBySecond != nil && *r.ApprovedBySecond == id {
		return true
	}
	return false
}

// BaseStatus resolves overlay labels back to the underlying pre-approval
// class using the review fields.
func (r *MaintenanceRequest) BaseStatus() RequestStatus {
	if !r.IsFlagged() {
		return r.Status
	}
	if r.IsVerified() {
		return StatusVerified
	}
	return StatusPending
}

// RequestSort selects the ordering applied by listing queries.
type RequestSort string

const (
	// SortRecent orders listings newest request first.
	SortRecent RequestSort = "recent"
	// SortSchedule orders schedule views by date received ascending.
	SortSchedule RequestSort = "schedule"
)

// RequestFilter constrains listing queries.
type RequestFilter struct {
	Statuses          []RequestStatus
	RequesterID       string
	OfficeID          string
	MaintenanceTypeID string
	Sort              RequestSort
	Page              int
	PageSize          int
}
