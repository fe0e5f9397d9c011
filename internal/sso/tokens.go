package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"doorpasses/internal/audit"
	"doorpasses/internal/domain"
	"doorpasses/internal/oidc"
	"doorpasses/internal/storage"
)

// RefreshTokens redeems a session's refresh token for a new access token
// and updates the stored session. Fails with ErrNoRefreshToken when the
// session has none. When the provider response carries no new refresh
// token, the stored one is kept; providers that rotate refresh tokens
// return a replacement, providers that do not stay silent.
//
// Transient provider failures (5xx, network) are retried; a definite
// rejection (4xx, typically an expired or revoked grant) is not.
func (s *Service) RefreshTokens(ctx context.Context, sessionID string) (*domain.SSOSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasRefreshToken() {
		return nil, ErrNoRefreshToken
	}

	org, err := s.store.GetOrganization(ctx, session.OrganizationID)
	if err != nil {
		return nil, err
	}
	strat, err := s.GetStrategy(ctx, org)
	if err != nil {
		return nil, err
	}
	if strat == nil || strat.Config.ID != session.ConfigurationID {
		return nil, ErrNotConfigured
	}

	refreshToken, err := s.decrypt(session.RefreshTokenEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	token, err := oidc.Retry(ctx, s.retry, func(ctx context.Context) (*oauth2.Token, error) {
		clientCtx := context.WithValue(ctx, oauth2.HTTPClient, s.pool.Client())
		t, err := strat.OAuth2.TokenSource(clientCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return nil, classifyOAuth2Err("token refresh", strat.Issuer, err)
		}
		return t, nil
	})
	if err != nil {
		s.metrics.RecordEvent("token_refresh", "failure")
		s.record(ctx, &audit.Event{
			OrganizationID: session.OrganizationID,
			Actor:          session.UserID,
			ActorType:      audit.ActorTypeUser,
			Action:         audit.ActionTokenRefresh,
			ResourceType:   audit.ResourceSession,
			ResourceID:     session.ID,
			Result:         audit.ResultFailure,
			Detail:         err.Error(),
		})
		return nil, fmt.Errorf("refresh tokens: %w", err)
	}

	accessEnc, err := s.EncryptSecret(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	// Empty means "keep the stored refresh token"; the store layer treats
	// it that way.
	refreshEnc := ""
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		if refreshEnc, err = s.EncryptSecret(token.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		e := token.Expiry.UTC()
		expiresAt = &e
	}
	if err := s.store.UpdateSessionTokens(ctx, session.ID, accessEnc, refreshEnc, expiresAt); err != nil {
		return nil, fmt.Errorf("store refreshed tokens: %w", err)
	}

	s.metrics.RecordEvent("token_refresh", "success")
	s.record(ctx, &audit.Event{
		OrganizationID: session.OrganizationID,
		Actor:          session.UserID,
		ActorType:      audit.ActorTypeUser,
		Action:         audit.ActionTokenRefresh,
		ResourceType:   audit.ResourceSession,
		ResourceID:     session.ID,
		Result:         audit.ResultSuccess,
	})
	return s.store.GetSession(ctx, session.ID)
}

// RevokeTokens logs a session out. Remote revocation at the provider is
// best effort: failures are logged and audited but never block the logout.
// The local session row is always deleted.
func (s *Service) RevokeTokens(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	s.revokeRemote(ctx, session)

	if err := s.store.DeleteSession(ctx, session.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.metrics.RecordEvent("token_revoke", "success")
	s.record(ctx, &audit.Event{
		OrganizationID: session.OrganizationID,
		Actor:          session.UserID,
		ActorType:      audit.ActorTypeUser,
		Action:         audit.ActionTokenRevoke,
		ResourceType:   audit.ResourceSession,
		ResourceID:     session.ID,
		Result:         audit.ResultSuccess,
	})
	return nil
}

func (s *Service) revokeRemote(ctx context.Context, session *domain.SSOSession) {
	org, err := s.store.GetOrganization(ctx, session.OrganizationID)
	if err != nil {
		s.logger.WarnContext(ctx, "remote revocation skipped", "session_id", session.ID, "error", err)
		return
	}
	strat, err := s.GetStrategy(ctx, org)
	if err != nil || strat == nil || strat.Endpoints.RevocationURL == "" {
		if err != nil {
			s.logger.WarnContext(ctx, "remote revocation skipped", "session_id", session.ID, "error", err)
		}
		return
	}

	revoke := func(kind, encrypted string) {
		if encrypted == "" {
			return
		}
		token, err := s.decrypt(encrypted)
		if err != nil {
			s.logger.WarnContext(ctx, "remote revocation skipped", "session_id", session.ID, "token", kind, "error", err)
			return
		}
		err = oidc.RevokeToken(ctx, s.pool, strat.Endpoints.RevocationURL,
			token, strat.Config.ClientID, strat.OAuth2.ClientSecret, strat.Issuer)
		if err != nil {
			s.logger.WarnContext(ctx, "remote revocation failed", "session_id", session.ID, "token", kind, "error", err)
			s.record(ctx, &audit.Event{
				OrganizationID: session.OrganizationID,
				Actor:          session.UserID,
				ActorType:      audit.ActorTypeUser,
				Action:         audit.ActionTokenRevoke,
				ResourceType:   audit.ResourceSession,
				ResourceID:     session.ID,
				Result:         audit.ResultFailure,
				Detail:         fmt.Sprintf("remote revocation of %s token failed", kind),
			})
		}
	}
	revoke("refresh", session.RefreshTokenEncrypted)
	revoke("access", session.AccessTokenEncrypted)
}

// classifyOAuth2Err converts an oauth2 error into an HTTPError so the retry
// policy can distinguish transient provider failures (5xx, network) from
// definite rejections (4xx, never retried).
func classifyOAuth2Err(operation, provider string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return &oidc.HTTPError{
			Operation:  operation,
			Provider:   provider,
			StatusCode: retrieveErr.Response.StatusCode,
			Status:     retrieveErr.Response.Status,
		}
	}
	return &oidc.HTTPError{Operation: operation, Provider: provider, Err: err}
}
