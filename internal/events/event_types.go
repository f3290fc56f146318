package events

import (
	"time"

	"github.com/spec-kit/lms-api/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered         EventType = "user_registered"
	EventUserLoggedIn           EventType = "user_logged_in"
	EventRolePromoted           EventType = "role_promoted"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordResetCompleted EventType = "password_reset_completed"
	EventAccessDenied           EventType = "access_denied"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	SubjectID string      `json:"subject_id,omitempty"`
	Email     string      `json:"email,omitempty"`
	Role      domain.Role `json:"role,omitempty"`
	IP        string      `json:"ip,omitempty"`
}

// Event represents an audit-relevant fact emitted by services and gates.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// RolePromotedPayload payload.
type RolePromotedPayload struct {
	TargetUserID string      `json:"target_user_id"`
	OldRole      domain.Role `json:"old_role"`
	NewRole      domain.Role `json:"new_role"`
	ViaKey       bool        `json:"via_key"`
}

// AccessDeniedPayload payload.
type AccessDeniedPayload struct {
	Resource string `json:"resource"`
	CourseID string `json:"course_id,omitempty"`
	Reason   string `json:"reason"`
}
