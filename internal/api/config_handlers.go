package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"doorpasses/internal/audit"
	"doorpasses/internal/domain"
	"doorpasses/internal/observability"
	"doorpasses/internal/validation"
)

const secretMask = "****"

// configInput is the admin request body for create and update. Pointer
// fields distinguish "absent" from "zero" on PATCH.
type configInput struct {
	IssuerURL     *string `json:"issuer_url"`
	ClientID      *string `json:"client_id"`
	ClientSecret  *string `json:"client_secret"`
	Scopes        *string `json:"scopes"`
	AutoDiscovery *bool   `json:"auto_discovery"`

	AuthorizationURL *string `json:"authorization_url"`
	TokenURL         *string `json:"token_url"`
	UserInfoURL      *string `json:"userinfo_url"`
	RevocationURL    *string `json:"revocation_url"`
	JWKSURL          *string `json:"jwks_url"`

	PKCEEnabled          *bool              `json:"pkce_enabled"`
	AutoProvision        *bool              `json:"auto_provision"`
	DefaultRole          *string            `json:"default_role"`
	AttributeMapping     *map[string]string `json:"attribute_mapping"`
	RequireVerifiedEmail *bool              `json:"require_verified_email"`
	AllowedEmailDomains  *[]string          `json:"allowed_email_domains"`
	Enabled              *bool              `json:"enabled"`
}

func masked(cfg *domain.SSOConfiguration) *domain.SSOConfiguration {
	out := *cfg
	out.ClientSecretMasked = secretMask
	return &out
}

// handleListConfigs returns an organization's SSO configurations with
// secrets masked.
// GET /api/v1/orgs/{orgSlug}/sso/configurations
func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug, ok := s.orgFromPath(w, r)
	if !ok {
		return
	}
	org, err := s.store.GetOrganizationBySlug(ctx, slug)
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	configs, err := s.store.ListConfigs(ctx, org.ID)
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}
	out := make([]*domain.SSOConfiguration, len(configs))
	for i, c := range configs {
		out[i] = masked(c)
	}
	writeJSON(w, http.StatusOK, struct {
		Configurations []*domain.SSOConfiguration `json:"configurations"`
	}{Configurations: out})
}

// handleCreateConfig creates an SSO configuration. The client secret is
// encrypted before it touches the store and never returned.
// POST /api/v1/orgs/{orgSlug}/sso/configurations
func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug, ok := s.orgFromPath(w, r)
	if !ok {
		return
	}
	org, err := s.store.GetOrganizationBySlug(ctx, slug)
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	var input configInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if input.IssuerURL == nil || *input.IssuerURL == "" {
		s.writeErr(ctx, w, http.StatusBadRequest, "issuer_url is required", "")
		return
	}
	if input.ClientID == nil || *input.ClientID == "" {
		s.writeErr(ctx, w, http.StatusBadRequest, "client_id is required", "")
		return
	}
	if input.ClientSecret == nil || *input.ClientSecret == "" {
		s.writeErr(ctx, w, http.StatusBadRequest, "client_secret is required", "")
		return
	}
	if err := validateConfigInput(&input); err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, err.Error(), "")
		return
	}

	encSecret, err := s.svc.EncryptSecret(*input.ClientSecret)
	if err != nil {
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to encrypt client secret", "")
		return
	}

	now := time.Now().UTC()
	cfg := &domain.SSOConfiguration{
		ID:                    uuid.NewString(),
		OrganizationID:        org.ID,
		IssuerURL:             *input.IssuerURL,
		ClientID:              *input.ClientID,
		ClientSecretEncrypted: encSecret,
		Scopes:                "openid profile email",
		AutoDiscovery:         true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	applyConfigInput(cfg, &input)

	if err := s.store.CreateConfig(ctx, cfg); err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	s.svc.RefreshStrategy(org.ID)
	s.logConfigAudit(ctx, org.ID, audit.ActionConfigCreate, cfg.ID)
	writeJSON(w, http.StatusCreated, masked(cfg))
}

// handleGetConfig returns a single configuration with the secret masked.
// GET /api/v1/orgs/{orgSlug}/sso/configurations/{id}
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.configFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, masked(cfg))
}

// handleUpdateConfig applies a partial update. Omitting client_secret
// keeps the stored one; providing it re-encrypts.
// PATCH /api/v1/orgs/{orgSlug}/sso/configurations/{id}
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, ok := s.configFromPath(w, r)
	if !ok {
		return
	}

	var input configInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := validateConfigInput(&input); err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, err.Error(), "")
		return
	}

	if input.IssuerURL != nil {
		cfg.IssuerURL = *input.IssuerURL
	}
	if input.ClientID != nil {
		cfg.ClientID = *input.ClientID
	}
	if input.ClientSecret != nil && *input.ClientSecret != "" && *input.ClientSecret != secretMask {
		encSecret, err := s.svc.EncryptSecret(*input.ClientSecret)
		if err != nil {
			s.writeErr(ctx, w, http.StatusInternalServerError, "failed to encrypt client secret", "")
			return
		}
		cfg.ClientSecretEncrypted = encSecret
	}
	applyConfigInput(cfg, &input)
	cfg.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateConfig(ctx, cfg); err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	s.svc.RefreshStrategy(cfg.OrganizationID)
	s.logConfigAudit(ctx, cfg.OrganizationID, audit.ActionConfigUpdate, cfg.ID)
	writeJSON(w, http.StatusOK, masked(cfg))
}

// handleDeleteConfig removes a configuration.
// DELETE /api/v1/orgs/{orgSlug}/sso/configurations/{id}
func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, ok := s.configFromPath(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteConfig(ctx, cfg.ID); err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	s.svc.RefreshStrategy(cfg.OrganizationID)
	s.logConfigAudit(ctx, cfg.OrganizationID, audit.ActionConfigDelete, cfg.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleTestConfig runs the connectivity self-test: endpoint resolution
// plus a probe of each resolved endpoint.
// POST /api/v1/orgs/{orgSlug}/sso/configurations/{id}/test
func (s *Server) handleTestConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, ok := s.configFromPath(w, r)
	if !ok {
		return
	}

	result, err := s.svc.TestConnection(ctx, cfg.ID)
	if err != nil {
		s.writeErr(ctx, w, http.StatusBadGateway, "connection test failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListAudit returns the organization's audit trail, newest first.
// GET /api/v1/orgs/{orgSlug}/audit?action=&limit=&offset=
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug, ok := s.orgFromPath(w, r)
	if !ok {
		return
	}
	org, err := s.store.GetOrganizationBySlug(ctx, slug)
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return
	}

	opts := audit.ListOptions{
		OrganizationID: org.ID,
		Action:         r.URL.Query().Get("action"),
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	}
	events, total, err := s.audit.List(ctx, opts)
	if err != nil {
		s.writeErr(ctx, w, http.StatusInternalServerError, "failed to list audit events", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Events []*audit.Event `json:"events"`
		Total  int            `json:"total"`
	}{Events: events, Total: total})
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// configFromPath loads the configuration named in the route and verifies
// it belongs to the organization named in the route.
func (s *Server) configFromPath(w http.ResponseWriter, r *http.Request) (*domain.SSOConfiguration, bool) {
	ctx := r.Context()
	slug, ok := s.orgFromPath(w, r)
	if !ok {
		return nil, false
	}
	org, err := s.store.GetOrganizationBySlug(ctx, slug)
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return nil, false
	}
	id := r.PathValue("id")
	cfg, err := s.store.GetConfig(ctx, id)
	if err != nil {
		s.writeStoreErr(ctx, w, err)
		return nil, false
	}
	if cfg.OrganizationID != org.ID {
		s.writeErr(ctx, w, http.StatusNotFound, "configuration not found", "")
		return nil, false
	}
	return cfg, true
}

// validateConfigInput checks the fields present in a create or update
// request. Absent fields are skipped so PATCH semantics hold.
func validateConfigInput(input *configInput) error {
	if input.IssuerURL != nil {
		if err := validation.ValidateIssuerURL(*input.IssuerURL); err != nil {
			return err
		}
	}
	if input.Scopes != nil {
		if err := validation.ValidateScopes(*input.Scopes); err != nil {
			return err
		}
	}
	endpoints := []struct {
		field string
		value *string
	}{
		{"authorization_url", input.AuthorizationURL},
		{"token_url", input.TokenURL},
		{"userinfo_url", input.UserInfoURL},
		{"revocation_url", input.RevocationURL},
		{"jwks_url", input.JWKSURL},
	}
	for _, ep := range endpoints {
		if ep.value == nil {
			continue
		}
		if err := validation.ValidateEndpointURL(ep.field, *ep.value); err != nil {
			return err
		}
	}
	if input.AllowedEmailDomains != nil {
		for _, d := range *input.AllowedEmailDomains {
			if err := validation.ValidateEmailDomain(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyConfigInput copies the optional fields shared by create and update.
func applyConfigInput(cfg *domain.SSOConfiguration, input *configInput) {
	if input.Scopes != nil {
		cfg.Scopes = *input.Scopes
	}
	if input.AutoDiscovery != nil {
		cfg.AutoDiscovery = *input.AutoDiscovery
	}
	if input.AuthorizationURL != nil {
		cfg.AuthorizationURL = *input.AuthorizationURL
	}
	if input.TokenURL != nil {
		cfg.TokenURL = *input.TokenURL
	}
	if input.UserInfoURL != nil {
		cfg.UserInfoURL = *input.UserInfoURL
	}
	if input.RevocationURL != nil {
		cfg.RevocationURL = *input.RevocationURL
	}
	if input.JWKSURL != nil {
		cfg.JWKSURL = *input.JWKSURL
	}
	if input.PKCEEnabled != nil {
		cfg.PKCEEnabled = *input.PKCEEnabled
	}
	if input.AutoProvision != nil {
		cfg.AutoProvision = *input.AutoProvision
	}
	if input.DefaultRole != nil {
		cfg.DefaultRole = *input.DefaultRole
	}
	if input.AttributeMapping != nil {
		cfg.AttributeMapping = *input.AttributeMapping
	}
	if input.RequireVerifiedEmail != nil {
		cfg.RequireVerifiedEmail = *input.RequireVerifiedEmail
	}
	if input.AllowedEmailDomains != nil {
		cfg.AllowedEmailDomains = *input.AllowedEmailDomains
	}
	if input.Enabled != nil {
		cfg.Enabled = *input.Enabled
	}
}

func (s *Server) logConfigAudit(ctx context.Context, orgID, action, configID string) {
	ev := &audit.Event{
		OrganizationID: orgID,
		Actor:          "admin",
		ActorType:      audit.ActorTypeAdmin,
		Action:         action,
		ResourceType:   audit.ResourceConfiguration,
		ResourceID:     configID,
		Result:         audit.ResultSuccess,
		RequestID:      observability.RequestIDFromContext(ctx),
	}
	if err := s.audit.Log(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "audit write failed", "error", err, "action", action)
	}
}
