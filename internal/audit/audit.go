// Package audit provides audit logging for the SSO subsystem.
// It captures login, provisioning, and configuration events for security and
// compliance purposes. Detail strings must never carry tokens or secrets.
package audit

import (
	"context"
	"time"
)

// Event represents a single auditable SSO action.
type Event struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Actor          string    `json:"actor"`      // user email, admin ID, or "anonymous"
	ActorType      string    `json:"actor_type"` // "user", "admin", "system", "anonymous"
	Action         string    `json:"action"`
	ResourceType   string    `json:"resource_type"`
	ResourceID     string    `json:"resource_id"`
	Result         string    `json:"result"` // "success" or "failure"
	Detail         string    `json:"detail,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
}

// ListOptions provides filtering and pagination options for listing audit events.
type ListOptions struct {
	Limit          int
	Offset         int
	OrganizationID string
	Actor          string
	Action         string
	ResourceType   string
	Since          *time.Time
	Until          *time.Time
}

// Logger defines the interface for audit logging operations.
type Logger interface {
	// Log records an audit event. The implementation assigns an ID and
	// timestamp if not provided.
	Log(ctx context.Context, event *Event) error

	// List retrieves audit events with optional filtering.
	List(ctx context.Context, opts ListOptions) ([]*Event, int, error)

	// GetByResource retrieves audit events for a specific resource.
	GetByResource(ctx context.Context, resourceType, resourceID string) ([]*Event, error)

	// DeleteOlderThan removes events older than the given time and reports how
	// many were removed. Used by the retention loop.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Valid actions for audit events.
const (
	ActionLogin           = "login"
	ActionLoginFailed     = "login_failed"
	ActionProvision       = "provision"
	ActionConfigCreate    = "config_create"
	ActionConfigUpdate    = "config_update"
	ActionConfigDelete    = "config_delete"
	ActionConfigTest      = "config_test"
	ActionTokenRefresh    = "token_refresh"
	ActionTokenRevoke     = "token_revoke"
	ActionDiscoveryFailed = "discovery_failed"
	ActionIssuerMismatch  = "issuer_mismatch"
)

// Valid resource types for audit events.
const (
	ResourceConfiguration = "sso_configuration"
	ResourceSession       = "sso_session"
	ResourceUser          = "user"
)

// Results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Valid actor types.
const (
	ActorTypeUser      = "user"
	ActorTypeAdmin     = "admin"
	ActorTypeSystem    = "system"
	ActorTypeAnonymous = "anonymous"
)

// DefaultRetention is how long audit events are kept by the retention loop.
const DefaultRetention = 90 * 24 * time.Hour
