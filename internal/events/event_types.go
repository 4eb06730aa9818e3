package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAccountProvisioned     EventType = "account_provisioned"
	EventAccountActivated       EventType = "account_activated"
	EventRolePermissionsChanged EventType = "role_permissions_changed"
	EventRoleDeleted            EventType = "role_deleted"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	UserID   *string `json:"user_id,omitempty"`
	RoleCode string  `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SubjectID string      `json:"subject_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// AccountProvisionedPayload payload.
type AccountProvisionedPayload struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	LeadID    *string   `json:"lead_id,omitempty"`
	SetupURL  string    `json:"setup_url"`
	ExpiresAt time.Time `json:"expires_at"`
	Reissued  bool      `json:"reissued"`
}

// AccountActivatedPayload payload.
type AccountActivatedPayload struct {
	Email string `json:"email"`
}

// RolePermissionsChangedPayload payload.
type RolePermissionsChangedPayload struct {
	RoleCode string   `json:"role"`
	Applied  []string `json:"applied"`
	Ignored  []string `json:"ignored,omitempty"`
}

// RoleDeletedPayload payload.
type RoleDeletedPayload struct {
	RoleCode string `json:"role"`
}
