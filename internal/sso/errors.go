package sso

import "errors"

var (
	// ErrNotConfigured is returned when an organization has no enabled SSO
	// configuration.
	ErrNotConfigured = errors.New("single sign-on is not configured for this organization")

	// ErrStateNotFound is returned by HandleCallback when the state parameter
	// does not match a pending authorization request. States are single-use
	// and expire after stateTTL.
	ErrStateNotFound = errors.New("unknown or expired authorization state")

	// ErrNoRefreshToken is returned by RefreshTokens when the session has no
	// stored refresh token to redeem.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// Provisioning failures. These abort the login; the message is surfaced to
// the end user, so none of them may carry claim values or tokens.
var (
	ErrEmailRequired         = errors.New("Email is required for user provisioning")
	ErrEmailNotVerified      = errors.New("email address is not verified by the identity provider")
	ErrEmailDomainNotAllowed = errors.New("email domain is not allowed for this organization")
	ErrProvisioningDisabled  = errors.New("automatic user provisioning is disabled for this organization")
)
