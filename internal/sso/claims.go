package sso

import (
	"strings"

	"doorpasses/internal/domain"
)

// Attribute keys recognized in an SSOConfiguration's attribute mapping.
const (
	AttrEmail    = "email"
	AttrName     = "name"
	AttrUsername = "username"
)

// defaultAttributeMapping is applied for any attribute the configuration
// does not map explicitly.
var defaultAttributeMapping = map[string]string{
	AttrEmail:    "email",
	AttrName:     "name",
	AttrUsername: "preferred_username",
}

// effectiveMapping merges the configuration's attribute mapping over the
// defaults. Unknown keys in the configured mapping are preserved.
func effectiveMapping(cfg *domain.SSOConfiguration) map[string]string {
	merged := make(map[string]string, len(defaultAttributeMapping)+len(cfg.AttributeMapping))
	for k, v := range defaultAttributeMapping {
		merged[k] = v
	}
	for k, v := range cfg.AttributeMapping {
		if v != "" {
			merged[k] = v
		}
	}
	return merged
}

// LookupClaim resolves a dot-notation path in a claim set, descending into
// nested objects: "user.contact.email" reads claims["user"]["contact"]["email"].
// A missing segment or a non-object in the middle of the path returns
// (nil, false).
func LookupClaim(claims map[string]any, path string) (any, bool) {
	if path == "" || claims == nil {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current any = claims
	for _, seg := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// lookupString resolves a claim path and returns its string form; non-string
// values and missing claims yield "".
func lookupString(claims map[string]any, path string) string {
	v, ok := LookupClaim(claims, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// MergeClaims overlays UserInfo claims under ID-token claims. When both
// sources carry the same claim the ID-token value wins: it is
// signature-verified, the UserInfo response is only channel-authenticated.
func MergeClaims(idToken, userInfo map[string]any) map[string]any {
	merged := make(map[string]any, len(idToken)+len(userInfo))
	for k, v := range userInfo {
		merged[k] = v
	}
	for k, v := range idToken {
		merged[k] = v
	}
	return merged
}

// MappedAttributes is the user profile extracted from provider claims via a
// configuration's attribute mapping.
type MappedAttributes struct {
	Email         string
	Name          string
	Username      string
	EmailVerified bool
}

// ExtractAttributes applies the configuration's attribute mapping (with
// defaults) to a merged claim set. email_verified is read from the standard
// claim regardless of mapping; providers serialize it as a bool or the
// strings "true"/"false".
func ExtractAttributes(cfg *domain.SSOConfiguration, claims map[string]any) MappedAttributes {
	mapping := effectiveMapping(cfg)
	attrs := MappedAttributes{
		Email:    lookupString(claims, mapping[AttrEmail]),
		Name:     lookupString(claims, mapping[AttrName]),
		Username: lookupString(claims, mapping[AttrUsername]),
	}
	switch v := claims["email_verified"].(type) {
	case bool:
		attrs.EmailVerified = v
	case string:
		attrs.EmailVerified = strings.EqualFold(v, "true")
	}
	return attrs
}
