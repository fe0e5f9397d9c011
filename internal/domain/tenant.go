package domain

import "time"

// Organization is a tenant. SSO configurations and sessions are owned by
// exactly one organization.
type Organization struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrganizationRole is a named role within an organization (e.g. "member",
// "admin"). Provisioned SSO users receive the configuration's default role.
type OrganizationRole struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

// Membership links a user to an organization with a role. The (user,
// organization) pair is unique; insertion is an idempotent upsert.
type Membership struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	RoleID         string    `json:"role_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// User is an application user. SSO-provisioned users are linked to their
// identity-provider subject via SSOSession rows, and to the tenant via
// Membership rows.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
