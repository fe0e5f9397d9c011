package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateIssuerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"valid https", "https://idp.example.com", nil},
		{"valid with path", "https://idp.example.com/realms/acme", nil},
		{"http loopback allowed", "http://localhost:8081", nil},
		{"http 127.0.0.1 allowed", "http://127.0.0.1:9000/issuer", nil},
		{"empty", "", ErrEmptyValue},
		{"plain http", "http://idp.example.com", ErrInsecureScheme},
		{"other scheme", "ftp://idp.example.com", ErrInsecureScheme},
		{"relative", "idp.example.com", ErrInvalidFormat},
		{"query string", "https://idp.example.com?x=1", ErrInvalidFormat},
		{"fragment", "https://idp.example.com#frag", ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIssuerURL(tt.url)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateIssuerURL(%q) = %v, want nil", tt.url, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateIssuerURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIssuerURLTooLong(t *testing.T) {
	long := "https://idp.example.com/" + strings.Repeat("a", MaxURLLength)
	if err := ValidateIssuerURL(long); !errors.Is(err, ErrTooLong) {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
}

func TestValidateEndpointURL(t *testing.T) {
	if err := ValidateEndpointURL("token_url", ""); err != nil {
		t.Errorf("empty endpoint should be allowed, got %v", err)
	}
	if err := ValidateEndpointURL("token_url", "https://idp.example.com/token?audience=x"); err != nil {
		t.Errorf("endpoint with query should be allowed, got %v", err)
	}
	if err := ValidateEndpointURL("token_url", "http://idp.example.com/token"); !errors.Is(err, ErrInsecureScheme) {
		t.Errorf("expected ErrInsecureScheme, got %v", err)
	}

	var urlErr *URLError
	err := ValidateEndpointURL("jwks_url", "not-a-url")
	if !errors.As(err, &urlErr) || urlErr.Field != "jwks_url" {
		t.Errorf("expected URLError naming the field, got %v", err)
	}
}

func TestValidateSlug(t *testing.T) {
	valid := []string{"acme", "acme-corp", "a", "org-42"}
	for _, s := range valid {
		if err := ValidateSlug(s); err != nil {
			t.Errorf("ValidateSlug(%q) = %v, want nil", s, err)
		}
	}

	invalid := map[string]error{
		"":                                   ErrEmptyValue,
		"Acme":                               ErrInvalidFormat,
		"-acme":                              ErrInvalidFormat,
		"acme-":                              ErrInvalidFormat,
		"acme corp":                          ErrInvalidFormat,
		"acme_corp":                          ErrInvalidFormat,
		strings.Repeat("a", MaxSlugLength+1): ErrTooLong,
	}
	for s, want := range invalid {
		if err := ValidateSlug(s); !errors.Is(err, want) {
			t.Errorf("ValidateSlug(%q) = %v, want %v", s, err, want)
		}
	}
}

func TestValidateScopes(t *testing.T) {
	if err := ValidateScopes(""); err != nil {
		t.Errorf("empty scopes should be allowed, got %v", err)
	}
	if err := ValidateScopes("openid profile email"); err != nil {
		t.Errorf("standard scopes rejected: %v", err)
	}
	if err := ValidateScopes("openid https://idp.example.com/custom.scope"); err != nil {
		t.Errorf("URL-style scope rejected: %v", err)
	}
	if err := ValidateScopes("openid bad\"scope"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("expected ErrInvalidFormat for quote in scope, got %v", err)
	}
}

func TestValidateEmailDomain(t *testing.T) {
	if err := ValidateEmailDomain("corp.com"); err != nil {
		t.Errorf("ValidateEmailDomain(corp.com) = %v", err)
	}
	if err := ValidateEmailDomain("sub.corp.co.uk"); err != nil {
		t.Errorf("ValidateEmailDomain(sub.corp.co.uk) = %v", err)
	}

	invalid := []string{"", "@corp.com", "corp com", "localhost", "corp.com/path"}
	for _, d := range invalid {
		if err := ValidateEmailDomain(d); err == nil {
			t.Errorf("ValidateEmailDomain(%q) = nil, want error", d)
		}
	}
}
