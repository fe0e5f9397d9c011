// Package oidc implements the provider-facing half of the SSO subsystem:
// endpoint discovery and validation, ID-token verification against a JWKS,
// and the retrying outbound transport shared by both.
package oidc

import (
	"fmt"
	"net/url"
	"strings"
)

// EndpointConfiguration is a validated set of OAuth2/OIDC endpoints, produced
// by discovery or taken from manual configuration. Cache-only; never written
// to primary storage.
type EndpointConfiguration struct {
	AuthorizationURL string `json:"authorization_url"`
	TokenURL         string `json:"token_url"`
	UserInfoURL      string `json:"userinfo_url,omitempty"`
	RevocationURL    string `json:"revocation_url,omitempty"`
	JWKSURL          string `json:"jwks_url,omitempty"`
}

// DiscoveryDocument is the subset of the provider's
// .well-known/openid-configuration payload the resolver consumes. The full
// document is held only transiently.
type DiscoveryDocument struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserInfoEndpoint              string   `json:"userinfo_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// NormalizeIssuer trims the trailing slash and defaults the scheme to https.
func NormalizeIssuer(raw string) string {
	issuer := strings.TrimSpace(raw)
	issuer = strings.TrimRight(issuer, "/")
	if issuer != "" && !strings.Contains(issuer, "://") {
		issuer = "https://" + issuer
	}
	return issuer
}

// validateURL checks that raw is a well-formed absolute http/https URL.
func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL %q: %w", field, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: URL %q must use http or https", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: URL %q has no host", field, raw)
	}
	return nil
}

// Validate checks the endpoint set: authorization and token URLs are
// required; userinfo/revocation/jwks are validated only when present, and a
// missing jwks URL is reported as a warning (ID-token validation falls back
// to UserInfo-derived identity without it).
func (e *EndpointConfiguration) Validate() ([]string, error) {
	if e.AuthorizationURL == "" {
		return nil, fmt.Errorf("authorization endpoint is required")
	}
	if err := validateURL("authorization endpoint", e.AuthorizationURL); err != nil {
		return nil, err
	}
	if e.TokenURL == "" {
		return nil, fmt.Errorf("token endpoint is required")
	}
	if err := validateURL("token endpoint", e.TokenURL); err != nil {
		return nil, err
	}

	var warnings []string
	if e.UserInfoURL != "" {
		if err := validateURL("userinfo endpoint", e.UserInfoURL); err != nil {
			return nil, err
		}
	}
	if e.RevocationURL != "" {
		if err := validateURL("revocation endpoint", e.RevocationURL); err != nil {
			return nil, err
		}
	}
	if e.JWKSURL == "" {
		warnings = append(warnings, "no jwks URL configured; ID-token signatures cannot be verified")
	} else if err := validateURL("jwks URL", e.JWKSURL); err != nil {
		return nil, err
	}
	return warnings, nil
}
