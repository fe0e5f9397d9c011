package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"doorpasses/internal/observability"
)

// DefaultEndpointTTL bounds how long discovered endpoints are served from
// cache without re-fetching. Configuration edits invalidate explicitly and
// take effect immediately; the TTL only covers a provider migrating its
// infrastructure underneath an unchanged issuer.
const DefaultEndpointTTL = 1 * time.Hour

const wellKnownPath = "/.well-known/openid-configuration"

// ErrIssuerMismatch is returned when a discovery document's issuer does not
// match the requested issuer. This is a hard error: it guards against a
// provider serving the wrong metadata or an SSRF-style misdirection.
var ErrIssuerMismatch = errors.New("discovery document issuer mismatch")

// Resolver turns an issuer URL into a validated EndpointConfiguration, via
// discovery or manual configuration, with a TTL cache keyed by normalized
// issuer.
type Resolver struct {
	pool    *Pool
	cache   *gocache.Cache
	retry   RetryPolicy
	logger  observability.Logger
	metrics *observability.Metrics
}

// ResolveResult is a successful endpoint resolution. Warnings carry
// non-fatal findings (missing jwks URL, unadvertised PKCE support) for the
// admin "Test Connection" surface and logs.
type ResolveResult struct {
	Issuer        string
	Endpoints     EndpointConfiguration
	Warnings      []string
	FromDiscovery bool
}

// NewResolver creates a Resolver using the given connection pool.
func NewResolver(pool *Pool, logger observability.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Resolver{
		pool:    pool,
		cache:   gocache.New(DefaultEndpointTTL, 10*time.Minute),
		retry:   DefaultRetryPolicy(),
		logger:  logger.WithComponent("discovery"),
		metrics: metrics,
	}
}

// Resolve resolves endpoints for the issuer. When preferAutoDiscovery is
// set, discovery is attempted first and manual endpoints are the fallback;
// otherwise manual endpoints are used first and discovery is the fallback.
// Failure of both paths returns the primary path's error.
func (r *Resolver) Resolve(ctx context.Context, issuerURL string, manual *EndpointConfiguration, preferAutoDiscovery bool) (*ResolveResult, error) {
	issuer := NormalizeIssuer(issuerURL)
	if issuer == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}

	if !preferAutoDiscovery {
		if result, err := r.resolveManual(issuer, manual); err == nil {
			return result, nil
		} else if manual != nil {
			r.logger.WarnContext(ctx, "manual endpoints invalid; falling back to discovery",
				"issuer", issuer, "error", err)
		}
		return r.resolveDiscovery(ctx, issuer)
	}

	result, discErr := r.resolveDiscovery(ctx, issuer)
	if discErr == nil {
		return result, nil
	}
	if manual != nil {
		manualResult, err := r.resolveManual(issuer, manual)
		if err == nil {
			manualResult.Warnings = append(manualResult.Warnings,
				fmt.Sprintf("discovery failed (%v); using manually configured endpoints", discErr))
			r.logger.WarnContext(ctx, "discovery failed; using manual endpoints",
				"issuer", issuer, "error", discErr)
			return manualResult, nil
		}
	}
	return nil, discErr
}

// Invalidate drops the cached endpoints for an issuer. Called whenever an
// admin edits the owning SSO configuration.
func (r *Resolver) Invalidate(issuerURL string) {
	r.cache.Delete(NormalizeIssuer(issuerURL))
}

func (r *Resolver) resolveManual(issuer string, manual *EndpointConfiguration) (*ResolveResult, error) {
	if manual == nil {
		return nil, fmt.Errorf("no manual endpoints configured")
	}
	warnings, err := manual.Validate()
	if err != nil {
		return nil, fmt.Errorf("manual endpoint configuration: %w", err)
	}
	return &ResolveResult{
		Issuer:    issuer,
		Endpoints: *manual,
		Warnings:  warnings,
	}, nil
}

func (r *Resolver) resolveDiscovery(ctx context.Context, issuer string) (*ResolveResult, error) {
	if cached, ok := r.cache.Get(issuer); ok {
		r.metrics.RecordCache("endpoints", true)
		result := cached.(ResolveResult)
		return &result, nil
	}
	r.metrics.RecordCache("endpoints", false)

	doc, err := r.fetchDiscovery(ctx, issuer)
	if err != nil {
		r.metrics.RecordEvent("discovery", "failure")
		return nil, err
	}

	result, err := validateDiscovery(doc, issuer)
	if err != nil {
		r.metrics.RecordEvent("discovery", "failure")
		return nil, err
	}

	r.metrics.RecordEvent("discovery", "success")
	r.cache.SetDefault(issuer, *result)
	return result, nil
}

// fetchDiscovery retrieves the well-known document with bounded retries.
func (r *Resolver) fetchDiscovery(ctx context.Context, issuer string) (*DiscoveryDocument, error) {
	return Retry(ctx, r.retry, func(ctx context.Context) (*DiscoveryDocument, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+wellKnownPath, nil)
		if err != nil {
			return nil, fmt.Errorf("build discovery request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.pool.Do(req)
		if err != nil {
			return nil, wrapNetErr(err, "oidc_discovery", issuer)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, "oidc_discovery", issuer); err != nil {
			return nil, err
		}

		ct := resp.Header.Get("Content-Type")
		if mediaType, _, err := mime.ParseMediaType(ct); err != nil || !strings.HasSuffix(mediaType, "json") {
			return nil, fmt.Errorf("discovery document has content-type %q, expected application/json", ct)
		}

		var doc DiscoveryDocument
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse discovery document: %w", err)
		}
		return &doc, nil
	})
}

// validateDiscovery applies the validation rules to a fetched document:
// issuer equality is a hard error, missing required endpoints are hard
// errors, and unadvertised capabilities are warnings only. Many real-world
// providers have minor metadata quirks; warnings keep them usable.
func validateDiscovery(doc *DiscoveryDocument, issuer string) (*ResolveResult, error) {
	if NormalizeIssuer(doc.Issuer) != issuer {
		return nil, fmt.Errorf("%w: document declares %q, requested %q", ErrIssuerMismatch, doc.Issuer, issuer)
	}

	endpoints := EndpointConfiguration{
		AuthorizationURL: doc.AuthorizationEndpoint,
		TokenURL:         doc.TokenEndpoint,
		UserInfoURL:      doc.UserInfoEndpoint,
		RevocationURL:    doc.RevocationEndpoint,
		JWKSURL:          doc.JWKSURI,
	}
	warnings, err := endpoints.Validate()
	if err != nil {
		return nil, fmt.Errorf("discovery document: %w", err)
	}

	if len(doc.ResponseTypesSupported) > 0 && !contains(doc.ResponseTypesSupported, "code") {
		warnings = append(warnings, "provider does not advertise the code response type")
	}
	if len(doc.GrantTypesSupported) > 0 && !contains(doc.GrantTypesSupported, "authorization_code") {
		warnings = append(warnings, "provider does not advertise the authorization_code grant")
	}
	if len(doc.CodeChallengeMethodsSupported) > 0 && !contains(doc.CodeChallengeMethodsSupported, "S256") {
		warnings = append(warnings, "provider does not advertise S256 PKCE support")
	}

	return &ResolveResult{
		Issuer:        issuer,
		Endpoints:     endpoints,
		Warnings:      warnings,
		FromDiscovery: true,
	}, nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
