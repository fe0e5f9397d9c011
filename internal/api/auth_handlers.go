package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"doorpasses/internal/domain"
	"doorpasses/internal/sso"
	"doorpasses/internal/storage"
)

const (
	stateCookieName   = "sso_state"
	sessionCookieName = "session"
	stateCookieMaxAge = 600 // seconds; matches the pending-auth TTL
)

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

// handleLogin starts the SSO flow for an organization and redirects the
// browser to the identity provider.
// GET /auth/sso/{orgSlug}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug, ok := s.orgFromPath(w, r)
	if !ok {
		return
	}

	redirect, err := s.svc.InitiateAuth(ctx, slug)
	if err != nil {
		if errors.Is(err, sso.ErrNotConfigured) {
			s.writeErr(ctx, w, http.StatusNotFound, sso.ErrNotConfigured.Error(), "")
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			s.writeErr(ctx, w, http.StatusNotFound, "organization not found", "")
			return
		}
		s.writeErr(ctx, w, http.StatusBadGateway, "failed to start login", err.Error())
		return
	}

	// Binds the callback to this browser; the server-side pending-auth
	// entry holds the nonce and PKCE verifier.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    redirect.State,
		Path:     "/auth/sso/",
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   stateCookieMaxAge,
	})
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// handleCallback completes the SSO flow: verifies the browser's state
// cookie, hands the code to the service, and issues the session cookie.
// GET /auth/sso/{orgSlug}/callback?code=...&state=...
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug, ok := s.orgFromPath(w, r)
	if !ok {
		return
	}

	// Providers report user-visible failures (consent denied, login
	// cancelled) via the error parameter.
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		http.Redirect(w, r, "/?error="+url.QueryEscape(errParam), http.StatusFound)
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		s.writeErr(ctx, w, http.StatusBadRequest, "missing code or state", "")
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value != state {
		s.writeErr(ctx, w, http.StatusForbidden, "invalid state", "state mismatch")
		return
	}
	clearCookie(w, r, stateCookieName, "/auth/sso/")

	result, err := s.svc.HandleCallback(ctx, slug, state, code)
	if err != nil {
		s.writeCallbackErr(ctx, w, err)
		return
	}

	secure := isSecureRequest(r)
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteStrictMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    result.Session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) writeCallbackErr(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sso.ErrStateNotFound):
		s.writeErr(ctx, w, http.StatusForbidden, err.Error(), "")
	case errors.Is(err, sso.ErrEmailRequired),
		errors.Is(err, sso.ErrEmailNotVerified),
		errors.Is(err, sso.ErrEmailDomainNotAllowed),
		errors.Is(err, sso.ErrProvisioningDisabled):
		s.writeErr(ctx, w, http.StatusForbidden, err.Error(), "")
	case errors.Is(err, sso.ErrNotConfigured):
		s.writeErr(ctx, w, http.StatusNotFound, err.Error(), "")
	default:
		s.writeErr(ctx, w, http.StatusBadGateway, "login failed", err.Error())
	}
}

// handleRefresh redeems the session's refresh token against the provider.
// POST /auth/sso/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionCookie, err := r.Cookie(sessionCookieName)
	if err != nil || sessionCookie.Value == "" {
		s.writeErr(ctx, w, http.StatusUnauthorized, "no session", "")
		return
	}

	session, err := s.svc.RefreshTokens(ctx, sessionCookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.writeErr(ctx, w, http.StatusUnauthorized, "invalid session", "")
		case errors.Is(err, sso.ErrNoRefreshToken):
			s.writeErr(ctx, w, http.StatusBadRequest, err.Error(), "")
		default:
			s.writeErr(ctx, w, http.StatusBadGateway, "token refresh failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, struct {
		SessionID      string  `json:"session_id"`
		TokenExpiresAt *string `json:"token_expires_at,omitempty"`
	}{
		SessionID:      session.ID,
		TokenExpiresAt: formatExpiry(session),
	})
}

// handleLogout revokes the session's tokens (best effort at the provider,
// unconditionally locally) and clears the session cookie.
// POST /auth/sso/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionCookie, err := r.Cookie(sessionCookieName)
	if err != nil || sessionCookie.Value == "" {
		s.writeErr(ctx, w, http.StatusUnauthorized, "no session", "")
		return
	}

	if err := s.svc.RevokeTokens(ctx, sessionCookie.Value); err != nil {
		s.writeErr(ctx, w, http.StatusInternalServerError, "logout failed", err.Error())
		return
	}
	clearCookie(w, r, sessionCookieName, "/")
	w.WriteHeader(http.StatusNoContent)
}

func formatExpiry(session *domain.SSOSession) *string {
	if session.TokenExpiresAt == nil {
		return nil
	}
	s := session.TokenExpiresAt.Format(time.RFC3339)
	return &s
}

func clearCookie(w http.ResponseWriter, r *http.Request, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
