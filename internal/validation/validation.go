// Package validation provides input validation for SSO configuration
// requests.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Validation error types for specific error handling.
var (
	ErrEmptyValue     = errors.New("value cannot be empty")
	ErrTooLong        = errors.New("value exceeds maximum length")
	ErrInvalidFormat  = errors.New("invalid format")
	ErrInsecureScheme = errors.New("url must use https")
)

// Constraints for validation.
const (
	MaxURLLength    = 2048
	MaxSlugLength   = 64
	MaxScopesLength = 512
)

// slugPattern matches tenant slugs: lowercase alphanumerics and hyphens,
// starting and ending with an alphanumeric.
var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// scopePattern matches a single OAuth2 scope token (RFC 6749 §3.3).
var scopePattern = regexp.MustCompile(`^[\x21\x23-\x5B\x5D-\x7E]+$`)

// URLError provides detailed URL validation error information.
type URLError struct {
	URL    string
	Field  string
	Reason string
	Err    error
}

func (e *URLError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, truncate(e.URL, 80), e.Reason)
}

func (e *URLError) Unwrap() error {
	return e.Err
}

// SlugError provides detailed slug validation error information.
type SlugError struct {
	Slug   string
	Reason string
	Err    error
}

func (e *SlugError) Error() string {
	return fmt.Sprintf("invalid slug %q: %s", truncate(e.Slug, 50), e.Reason)
}

func (e *SlugError) Unwrap() error {
	return e.Err
}

// ValidateIssuerURL validates an OIDC issuer URL. Issuers must be absolute
// https URLs without query or fragment (http is allowed for loopback
// addresses so local providers work in development).
func ValidateIssuerURL(raw string) error {
	return validateEndpoint("issuer_url", raw, true)
}

// ValidateEndpointURL validates a manually configured endpoint URL
// (authorization, token, userinfo, revocation, jwks). Empty is allowed;
// endpoints are optional.
func ValidateEndpointURL(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return validateEndpoint(field, raw, false)
}

func validateEndpoint(field, raw string, forbidQuery bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &URLError{URL: raw, Field: field, Reason: "cannot be empty", Err: ErrEmptyValue}
	}
	if len(raw) > MaxURLLength {
		return &URLError{
			URL:    raw,
			Field:  field,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxURLLength),
			Err:    ErrTooLong,
		}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &URLError{URL: raw, Field: field, Reason: "must be an absolute URL", Err: ErrInvalidFormat}
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !isLoopback(u.Hostname()) {
			return &URLError{URL: raw, Field: field, Reason: "http is only allowed for loopback hosts", Err: ErrInsecureScheme}
		}
	default:
		return &URLError{URL: raw, Field: field, Reason: "scheme must be https", Err: ErrInsecureScheme}
	}
	if u.Fragment != "" {
		return &URLError{URL: raw, Field: field, Reason: "must not contain a fragment", Err: ErrInvalidFormat}
	}
	if forbidQuery && u.RawQuery != "" {
		return &URLError{URL: raw, Field: field, Reason: "must not contain a query string", Err: ErrInvalidFormat}
	}
	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ValidateSlug validates an organization slug.
func ValidateSlug(slug string) error {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return &SlugError{Slug: slug, Reason: "cannot be empty", Err: ErrEmptyValue}
	}
	if len(slug) > MaxSlugLength {
		return &SlugError{
			Slug:   slug,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxSlugLength),
			Err:    ErrTooLong,
		}
	}
	if !slugPattern.MatchString(slug) {
		return &SlugError{
			Slug:   slug,
			Reason: "must contain only lowercase letters, digits, and hyphens",
			Err:    ErrInvalidFormat,
		}
	}
	return nil
}

// ValidateScopes validates a space-delimited OAuth2 scope string. Empty is
// allowed; defaults apply downstream.
func ValidateScopes(scopes string) error {
	scopes = strings.TrimSpace(scopes)
	if scopes == "" {
		return nil
	}
	if len(scopes) > MaxScopesLength {
		return fmt.Errorf("scopes exceed maximum length of %d characters: %w", MaxScopesLength, ErrTooLong)
	}
	for _, s := range strings.Fields(scopes) {
		if !scopePattern.MatchString(s) {
			return fmt.Errorf("scope %q contains invalid characters: %w", truncate(s, 50), ErrInvalidFormat)
		}
	}
	return nil
}

// ValidateEmailDomain validates one entry of an allowed email domain list.
func ValidateEmailDomain(domain string) error {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return fmt.Errorf("email domain cannot be empty: %w", ErrEmptyValue)
	}
	if strings.ContainsAny(domain, "@ /") || !strings.Contains(domain, ".") {
		return fmt.Errorf("email domain %q is not a valid hostname: %w", truncate(domain, 50), ErrInvalidFormat)
	}
	return nil
}

// truncate shortens a string for display in error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
