package models

import "time"

// NotificationEventType enumerates transition outcomes that fan out to users.
type NotificationEventType string

const (
	EventRequestSubmitted NotificationEventType = "REQUEST_SUBMITTED"
	EventRequestVerified  NotificationEventType = "REQUEST_VERIFIED"
	EventHeadApproved     NotificationEventType = "HEAD_APPROVED"
	EventAwaitingDirector NotificationEventType = "AWAITING_DIRECTOR"
	EventRequestApproved  NotificationEventType = "REQUEST_APPROVED"
	EventRequestDenied    NotificationEventType = "REQUEST_DENIED"
	EventRequestCancelled NotificationEventType = "REQUEST_CANCELLED"
	EventRequestFlagged   NotificationEventType = "REQUEST_FLAGGED"
	EventFlagCleared      NotificationEventType = "REQUEST_FLAG_CLEARED"
)

// RecipientSelector describes who should receive a notification. Delivery
// channels resolve the selector; the core never addresses mailboxes directly.
type RecipientSelector struct {
	Roles   []UserRole `json:"roles,omitempty"`
	UserIDs []string   `json:"user_ids,omitempty"`
}

// NotificationEvent is the payload handed to delivery sinks after a
// successful transition. Snapshot is the committed record state.
type NotificationEvent struct {
	ID         string                `json:"id"`
	Type       NotificationEventType `json:"type"`
	RequestID  string                `json:"request_id"`
	Snapshot   MaintenanceRequest    `json:"snapshot"`
	Recipients RecipientSelector     `json:"recipients"`
	OccurredAt time.Time             `json:"occurred_at"`
}
