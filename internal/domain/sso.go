package domain

import "time"

// SSOConfiguration holds the per-organization SSO settings.
// At most one enabled configuration exists per organization.
type SSOConfiguration struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`

	IssuerURL             string `json:"issuer_url"`
	ClientID              string `json:"client_id"`
	ClientSecretEncrypted string `json:"-"`
	ClientSecretMasked    string `json:"client_secret,omitempty"`

	// Scopes is a space-delimited OAuth2 scope string, e.g. "openid profile email".
	Scopes string `json:"scopes"`

	// AutoDiscovery controls whether endpoints are resolved from the issuer's
	// .well-known document. When false (or when discovery fails), the manual
	// endpoint URLs below are used.
	AutoDiscovery     bool   `json:"auto_discovery"`
	AuthorizationURL  string `json:"authorization_url,omitempty"`
	TokenURL          string `json:"token_url,omitempty"`
	UserInfoURL       string `json:"userinfo_url,omitempty"`
	RevocationURL     string `json:"revocation_url,omitempty"`
	JWKSURL           string `json:"jwks_url,omitempty"`

	PKCEEnabled   bool   `json:"pkce_enabled"`
	AutoProvision bool   `json:"auto_provision"`
	DefaultRole   string `json:"default_role"`

	// AttributeMapping maps OIDC claim paths (dot notation for nested claims)
	// to user attributes. Keys: "email", "name", "username".
	AttributeMapping map[string]string `json:"attribute_mapping,omitempty"`

	RequireVerifiedEmail bool     `json:"require_verified_email"`
	AllowedEmailDomains  []string `json:"allowed_email_domains,omitempty"`

	Enabled    bool       `json:"enabled"`
	LastTested *time.Time `json:"last_tested,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SSOSession links an application session to an SSO configuration and the
// provider's subject identifier. Tokens are stored encrypted; one row per
// authenticated provider session.
type SSOSession struct {
	ID                    string     `json:"id"`
	ConfigurationID       string     `json:"configuration_id"`
	OrganizationID        string     `json:"organization_id"`
	UserID                string     `json:"user_id"`
	ProviderUserID        string     `json:"provider_user_id"`
	AccessTokenEncrypted  string     `json:"-"`
	RefreshTokenEncrypted string     `json:"-"`
	TokenExpiresAt        *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// HasRefreshToken reports whether a refresh token is stored for this session.
func (s *SSOSession) HasRefreshToken() bool {
	return s.RefreshTokenEncrypted != ""
}
