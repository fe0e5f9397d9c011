// Package storage defines persistence interfaces for SSO configuration, SSO
// sessions, and the tenant data model, plus an in-memory implementation used
// in development and tests. SQLite and PostgreSQL implementations live in the
// sqlite and postgres subpackages behind build tags.
package storage

import (
	"context"
	"time"

	"doorpasses/internal/domain"
)

// ConfigStore persists per-organization SSO configuration.
type ConfigStore interface {
	// CreateConfig stores a new SSO configuration. Returns ErrDuplicateConfig
	// if the configuration is enabled and the organization already has an
	// enabled one.
	CreateConfig(ctx context.Context, cfg *domain.SSOConfiguration) error

	// GetConfig retrieves a configuration by ID. Returns ErrNotFound if absent.
	GetConfig(ctx context.Context, id string) (*domain.SSOConfiguration, error)

	// GetEnabledConfig retrieves the organization's enabled configuration.
	// Returns nil, nil when the organization has none; callers fall back to
	// standard password auth.
	GetEnabledConfig(ctx context.Context, organizationID string) (*domain.SSOConfiguration, error)

	// ListConfigs returns all configurations for an organization.
	ListConfigs(ctx context.Context, organizationID string) ([]*domain.SSOConfiguration, error)

	// UpdateConfig modifies an existing configuration. Returns ErrNotFound if
	// absent and ErrDuplicateConfig if enabling it would leave the
	// organization with two enabled configurations.
	UpdateConfig(ctx context.Context, cfg *domain.SSOConfiguration) error

	// DeleteConfig removes a configuration by ID. Returns ErrNotFound if absent.
	DeleteConfig(ctx context.Context, id string) error
}

// SessionStore persists SSO sessions carrying encrypted provider tokens.
type SessionStore interface {
	// CreateSession stores a new SSO session.
	CreateSession(ctx context.Context, s *domain.SSOSession) error

	// GetSession retrieves a session by ID. Returns ErrNotFound if absent.
	GetSession(ctx context.Context, id string) (*domain.SSOSession, error)

	// UpdateSessionTokens replaces the encrypted tokens after a refresh. An
	// empty refreshTokenEncrypted keeps the stored refresh token, since many
	// providers do not rotate refresh tokens on every grant.
	UpdateSessionTokens(ctx context.Context, id, accessTokenEncrypted, refreshTokenEncrypted string, expiresAt *time.Time) error

	// DeleteSession removes a session by ID. Deleting an absent session is
	// not an error; revocation must be idempotent.
	DeleteSession(ctx context.Context, id string) error

	// DeleteSessionsByUser removes all sessions for a user.
	DeleteSessionsByUser(ctx context.Context, userID string) error
}

// UserStore persists application users.
type UserStore interface {
	// GetUserByEmail retrieves a user by email, matched case-insensitively.
	// Returns nil, nil if not found.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetUserByUsername retrieves a user by username.
	// Returns nil, nil if not found.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// CreateUser stores a new user. Returns ErrConflict on a duplicate email
	// or username.
	CreateUser(ctx context.Context, u *domain.User) error

	// UpdateUser modifies an existing user. Returns ErrNotFound if absent.
	UpdateUser(ctx context.Context, u *domain.User) error
}

// OrgStore persists organizations, roles, and memberships.
type OrgStore interface {
	// GetOrganization retrieves an organization by ID. Returns ErrNotFound if absent.
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)

	// GetOrganizationBySlug retrieves an organization by its URL slug.
	// Returns ErrNotFound if absent.
	GetOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error)

	// CreateOrganization stores a new organization. Returns ErrConflict on a
	// duplicate slug.
	CreateOrganization(ctx context.Context, o *domain.Organization) error

	// GetRoleByName retrieves an organization role by name. Returns
	// ErrNotFound if absent.
	GetRoleByName(ctx context.Context, organizationID, name string) (*domain.OrganizationRole, error)

	// CreateRole stores a new organization role.
	CreateRole(ctx context.Context, r *domain.OrganizationRole) error

	// GetMembership retrieves the membership for (user, organization).
	// Returns nil, nil if not found.
	GetMembership(ctx context.Context, userID, organizationID string) (*domain.Membership, error)

	// EnsureMembership inserts a membership unless one already exists for
	// (user, organization) and reports whether a row was created.
	// Implementations must rely on a database-level unique constraint with an
	// insert-if-absent statement, not check-then-insert, so two simultaneous
	// first logins for the same user yield exactly one row.
	EnsureMembership(ctx context.Context, m *domain.Membership) (bool, error)
}

// Store aggregates all persistence interfaces plus lifecycle management.
type Store interface {
	ConfigStore
	SessionStore
	UserStore
	OrgStore

	// Close releases resources held by the store.
	Close() error
}
