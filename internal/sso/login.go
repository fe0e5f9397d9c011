package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"

	"doorpasses/internal/audit"
	"doorpasses/internal/domain"
	"doorpasses/internal/oidc"
)

// pendingAuth is the server-side half of an in-flight authorization
// request, keyed by state. Single-use: HandleCallback consumes it.
type pendingAuth struct {
	OrganizationID string
	ConfigID       string
	Nonce          string
	Verifier       string
	CreatedAt      time.Time
}

// AuthRedirect is the provider authorization URL a login request should be
// redirected to, plus the state the callback must present.
type AuthRedirect struct {
	URL   string
	State string
}

// LoginResult is a completed SSO login: the (possibly just provisioned)
// user, their organization, and the stored provider session.
type LoginResult struct {
	User         *domain.User
	Organization *domain.Organization
	Session      *domain.SSOSession
	// Warnings carries non-fatal findings from endpoint resolution and
	// token validation; surfaced in logs, never to the end user.
	Warnings []string
}

// InitiateAuth begins a login for an organization: generates state, nonce,
// and (when enabled) a PKCE verifier, remembers them for stateTTL, and
// returns the provider authorization URL.
func (s *Service) InitiateAuth(ctx context.Context, orgSlug string) (*AuthRedirect, error) {
	org, err := s.store.GetOrganizationBySlug(ctx, orgSlug)
	if err != nil {
		return nil, err
	}
	strat, err := s.GetStrategy(ctx, org)
	if err != nil {
		return nil, err
	}
	if strat == nil {
		return nil, ErrNotConfigured
	}

	state := uuid.NewString()
	nonce, err := randomToken()
	if err != nil {
		return nil, err
	}
	pending := &pendingAuth{
		OrganizationID: org.ID,
		ConfigID:       strat.Config.ID,
		Nonce:          nonce,
		CreatedAt:      s.now(),
	}
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	if strat.Config.PKCEEnabled {
		pending.Verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(pending.Verifier))
	}
	s.pending.Set(state, pending, gocache.DefaultExpiration)

	s.logger.InfoContext(ctx, "login initiated", "organization", orgSlug, "pkce", strat.Config.PKCEEnabled)
	return &AuthRedirect{URL: strat.OAuth2.AuthCodeURL(state, opts...), State: state}, nil
}

// HandleCallback completes a login: redeems the state, exchanges the code,
// validates the ID token, merges UserInfo claims, provisions the user, and
// stores an encrypted provider session.
//
// The code exchange is not retried. A transient failure there surfaces to
// the user for a fresh login attempt; retrying a possibly consumed
// authorization code only produces confusing invalid_grant errors.
func (s *Service) HandleCallback(ctx context.Context, orgSlug, state, code string) (*LoginResult, error) {
	org, err := s.store.GetOrganizationBySlug(ctx, orgSlug)
	if err != nil {
		return nil, err
	}

	cached, ok := s.pending.Get(state)
	if !ok {
		s.recordLoginFailure(ctx, org, "", ErrStateNotFound)
		return nil, ErrStateNotFound
	}
	s.pending.Delete(state)
	pending := cached.(*pendingAuth)
	if pending.OrganizationID != org.ID {
		s.recordLoginFailure(ctx, org, "", ErrStateNotFound)
		return nil, ErrStateNotFound
	}

	strat, err := s.GetStrategy(ctx, org)
	if err != nil {
		return nil, err
	}
	if strat == nil || strat.Config.ID != pending.ConfigID {
		// The configuration changed between initiation and callback.
		s.recordLoginFailure(ctx, org, "", ErrStateNotFound)
		return nil, ErrStateNotFound
	}
	warnings := append([]string(nil), strat.Warnings...)

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, s.pool.Client())
	var exchangeOpts []oauth2.AuthCodeOption
	if pending.Verifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(pending.Verifier))
	}
	token, err := strat.OAuth2.Exchange(exchangeCtx, code, exchangeOpts...)
	if err != nil {
		err = fmt.Errorf("token exchange: %w", err)
		s.recordLoginFailure(ctx, org, strat.Config.ID, err)
		return nil, err
	}

	claims, subject, vwarnings, err := s.identify(ctx, strat, pending.Nonce, token)
	if err != nil {
		s.recordLoginFailure(ctx, org, strat.Config.ID, err)
		return nil, err
	}
	warnings = append(warnings, vwarnings...)

	attrs := ExtractAttributes(strat.Config, claims)
	user, err := s.provisionUser(ctx, org, strat.Config, attrs)
	if err != nil {
		s.recordLoginFailure(ctx, org, strat.Config.ID, err)
		return nil, err
	}

	session, err := s.createSession(ctx, strat.Config, org, user, subject, token)
	if err != nil {
		s.recordLoginFailure(ctx, org, strat.Config.ID, err)
		return nil, err
	}

	s.metrics.RecordLogin(org.Slug, true)
	s.record(ctx, &audit.Event{
		OrganizationID: org.ID,
		Actor:          user.ID,
		ActorType:      audit.ActorTypeUser,
		Action:         audit.ActionLogin,
		ResourceType:   audit.ResourceSession,
		ResourceID:     session.ID,
		Result:         audit.ResultSuccess,
	})
	s.logger.InfoContext(ctx, "login completed", "organization", org.Slug, "user_id", user.ID)
	return &LoginResult{User: user, Organization: org, Session: session, Warnings: warnings}, nil
}

// identify derives the user's claims and provider subject from the token
// response. The ID token is authoritative when it verifies; UserInfo claims
// fill the gaps. Fatal validation failures (signature, issuer, audience)
// abort; other validation failures downgrade to warnings and the flow
// continues on UserInfo alone. Having neither source is an error.
func (s *Service) identify(ctx context.Context, strat *Strategy, nonce string, token *oauth2.Token) (map[string]any, string, []string, error) {
	var warnings []string
	var idClaims *oidc.IDTokenClaims

	if raw, _ := token.Extra("id_token").(string); raw != "" {
		claims, err := s.validator.Validate(ctx, raw, strat.Endpoints.JWKSURL, oidc.Expectations{
			Issuer:   strat.Issuer,
			ClientID: strat.Config.ClientID,
			Nonce:    nonce,
		})
		var verr *oidc.ValidationError
		switch {
		case err == nil:
			idClaims = claims
		case errors.As(err, &verr) && !verr.Fatal():
			warnings = append(warnings, err.Error())
			s.logger.WarnContext(ctx, "id token rejected, continuing on userinfo", "error", err)
		default:
			return nil, "", nil, err
		}
	}

	var userInfo map[string]any
	if strat.Endpoints.UserInfoURL != "" {
		ui, err := oidc.FetchUserInfo(ctx, s.pool, s.retry, strat.Endpoints.UserInfoURL, token.AccessToken, strat.Issuer)
		if err != nil {
			if idClaims == nil {
				return nil, "", nil, fmt.Errorf("fetch userinfo: %w", err)
			}
			// The verified ID token already identifies the user.
			warnings = append(warnings, fmt.Sprintf("userinfo fetch failed: %v", err))
			s.logger.WarnContext(ctx, "userinfo fetch failed, using id token claims only", "error", err)
		} else {
			userInfo = ui
		}
	}

	var idRaw map[string]any
	subject := ""
	if idClaims != nil {
		idRaw = idClaims.Raw
		subject = idClaims.Subject
	}
	merged := MergeClaims(idRaw, userInfo)
	if subject == "" {
		subject = lookupString(merged, "sub")
	}
	if subject == "" {
		return nil, "", nil, fmt.Errorf("provider returned no usable identity (no id token, no userinfo subject)")
	}
	return merged, subject, warnings, nil
}

func (s *Service) createSession(ctx context.Context, cfg *domain.SSOConfiguration, org *domain.Organization, user *domain.User, subject string, token *oauth2.Token) (*domain.SSOSession, error) {
	accessEnc, err := s.EncryptSecret(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc := ""
	if token.RefreshToken != "" {
		if refreshEnc, err = s.EncryptSecret(token.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	session := &domain.SSOSession{
		ID:                    uuid.NewString(),
		ConfigurationID:       cfg.ID,
		OrganizationID:        org.ID,
		UserID:                user.ID,
		ProviderUserID:        subject,
		AccessTokenEncrypted:  accessEnc,
		RefreshTokenEncrypted: refreshEnc,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		session.TokenExpiresAt = &expiry
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return session, nil
}

func (s *Service) recordLoginFailure(ctx context.Context, org *domain.Organization, configID string, cause error) {
	s.metrics.RecordLogin(org.Slug, false)
	s.record(ctx, &audit.Event{
		OrganizationID: org.ID,
		ActorType:      audit.ActorTypeAnonymous,
		Action:         audit.ActionLoginFailed,
		ResourceType:   audit.ResourceConfiguration,
		ResourceID:     configID,
		Result:         audit.ResultFailure,
		Detail:         cause.Error(),
	})
}
