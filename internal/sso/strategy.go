package sso

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"

	"doorpasses/internal/audit"
	"doorpasses/internal/domain"
	"doorpasses/internal/oidc"
)

// Strategy is a ready-to-use login strategy for one organization: the
// enabled configuration, its resolved endpoints, and the assembled OAuth2
// client. Built lazily and cached; RefreshStrategy discards it.
type Strategy struct {
	Config    *domain.SSOConfiguration
	Endpoints oidc.EndpointConfiguration
	Issuer    string
	Warnings  []string

	// OAuth2 carries the decrypted client secret; strategies must never be
	// serialized or logged.
	OAuth2 *oauth2.Config
}

// RedirectURL returns the callback URL registered with the provider for the
// given organization slug.
func (s *Service) RedirectURL(orgSlug string) string {
	return fmt.Sprintf("%s/auth/sso/%s/callback", s.baseURL, orgSlug)
}

// GetStrategy returns the cached strategy for an organization, building one
// from the enabled configuration on a miss. Returns nil, nil when the
// organization has no enabled configuration.
func (s *Service) GetStrategy(ctx context.Context, org *domain.Organization) (*Strategy, error) {
	if cached, ok := s.strategies.Get(org.ID); ok {
		s.metrics.RecordCache("strategy", true)
		return cached.(*Strategy), nil
	}
	s.metrics.RecordCache("strategy", false)

	cfg, err := s.store.GetEnabledConfig(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("load sso configuration: %w", err)
	}
	if cfg == nil {
		return nil, nil
	}
	strat, err := s.buildStrategy(ctx, org, cfg)
	if err != nil {
		return nil, err
	}
	s.strategies.Set(org.ID, strat, gocache.DefaultExpiration)
	return strat, nil
}

// RefreshStrategy invalidates every cache derived from an organization's
// configuration: the strategy itself, the resolved endpoints, and the JWKS
// key set. Called after any configuration change so the next login sees the
// new settings.
func (s *Service) RefreshStrategy(organizationID string) {
	if cached, ok := s.strategies.Get(organizationID); ok {
		strat := cached.(*Strategy)
		s.resolver.Invalidate(strat.Config.IssuerURL)
		if strat.Endpoints.JWKSURL != "" {
			s.validator.InvalidateKeySet(strat.Endpoints.JWKSURL)
		}
	}
	s.strategies.Delete(organizationID)
	s.logger.Debug("strategy invalidated", "organization_id", organizationID)
}

func (s *Service) buildStrategy(ctx context.Context, org *domain.Organization, cfg *domain.SSOConfiguration) (*Strategy, error) {
	secret, err := s.decrypt(cfg.ClientSecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt client secret for configuration %s: %w", cfg.ID, err)
	}

	result, err := s.resolver.Resolve(ctx, cfg.IssuerURL, manualEndpoints(cfg), cfg.AutoDiscovery)
	if err != nil {
		s.record(ctx, &audit.Event{
			OrganizationID: org.ID,
			ActorType:      audit.ActorTypeSystem,
			Action:         audit.ActionDiscoveryFailed,
			ResourceType:   audit.ResourceConfiguration,
			ResourceID:     cfg.ID,
			Result:         audit.ResultFailure,
			Detail:         err.Error(),
		})
		return nil, fmt.Errorf("resolve endpoints for %s: %w", org.Slug, err)
	}
	for _, w := range result.Warnings {
		s.logger.WarnContext(ctx, "endpoint resolution warning", "organization", org.Slug, "warning", w)
	}

	return &Strategy{
		Config:    cfg,
		Endpoints: result.Endpoints,
		Issuer:    result.Issuer,
		Warnings:  result.Warnings,
		OAuth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: secret,
			RedirectURL:  s.RedirectURL(org.Slug),
			Scopes:       scopeList(cfg.Scopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  result.Endpoints.AuthorizationURL,
				TokenURL: result.Endpoints.TokenURL,
			},
		},
	}, nil
}

// manualEndpoints returns the configuration's manual endpoint URLs, or nil
// when none are set.
func manualEndpoints(cfg *domain.SSOConfiguration) *oidc.EndpointConfiguration {
	if cfg.AuthorizationURL == "" && cfg.TokenURL == "" {
		return nil
	}
	return &oidc.EndpointConfiguration{
		AuthorizationURL: cfg.AuthorizationURL,
		TokenURL:         cfg.TokenURL,
		UserInfoURL:      cfg.UserInfoURL,
		RevocationURL:    cfg.RevocationURL,
		JWKSURL:          cfg.JWKSURL,
	}
}

func scopeList(scopes string) []string {
	fields := strings.Fields(scopes)
	if len(fields) == 0 {
		return []string{"openid", "profile", "email"}
	}
	// The openid scope is required for an ID token; tolerate configurations
	// that omit it.
	for _, f := range fields {
		if f == "openid" {
			return fields
		}
	}
	return append([]string{"openid"}, fields...)
}

// TestResult is the outcome of a configuration connectivity test.
type TestResult struct {
	Issuer        string             `json:"issuer"`
	FromDiscovery bool               `json:"from_discovery"`
	Endpoints     oidc.EndpointConfiguration `json:"endpoints"`
	Warnings      []string           `json:"warnings,omitempty"`
	Probes        []oidc.ProbeResult `json:"probes"`
	TestedAt      time.Time          `json:"tested_at"`
}

// TestConnection resolves a configuration's endpoints bypassing the cache,
// probes each endpoint, and records the test time on the configuration. Runs
// against the stored configuration whether or not it is enabled, so
// administrators can verify a draft before enabling it.
func (s *Service) TestConnection(ctx context.Context, configID string) (*TestResult, error) {
	cfg, err := s.store.GetConfig(ctx, configID)
	if err != nil {
		return nil, err
	}

	s.resolver.Invalidate(cfg.IssuerURL)
	result, err := s.resolver.Resolve(ctx, cfg.IssuerURL, manualEndpoints(cfg), cfg.AutoDiscovery)
	if err != nil {
		s.record(ctx, &audit.Event{
			OrganizationID: cfg.OrganizationID,
			ActorType:      audit.ActorTypeAdmin,
			Action:         audit.ActionConfigTest,
			ResourceType:   audit.ResourceConfiguration,
			ResourceID:     cfg.ID,
			Result:         audit.ResultFailure,
			Detail:         err.Error(),
		})
		return nil, err
	}

	tested := s.now().UTC()
	res := &TestResult{
		Issuer:        result.Issuer,
		FromDiscovery: result.FromDiscovery,
		Endpoints:     result.Endpoints,
		Warnings:      result.Warnings,
		Probes:        s.pool.Probe(ctx, result.Endpoints),
		TestedAt:      tested,
	}

	cfg.LastTested = &tested
	if err := s.store.UpdateConfig(ctx, cfg); err != nil {
		s.logger.WarnContext(ctx, "recording last_tested failed", "configuration_id", cfg.ID, "error", err)
	}
	s.record(ctx, &audit.Event{
		OrganizationID: cfg.OrganizationID,
		ActorType:      audit.ActorTypeAdmin,
		Action:         audit.ActionConfigTest,
		ResourceType:   audit.ResourceConfiguration,
		ResourceID:     cfg.ID,
		Result:         audit.ResultSuccess,
	})
	return res, nil
}
