package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// FetchUserInfo retrieves claims from the provider's UserInfo endpoint with
// the given bearer token, retrying transient failures.
func FetchUserInfo(ctx context.Context, pool *Pool, policy RetryPolicy, userinfoURL, accessToken, provider string) (map[string]any, error) {
	return Retry(ctx, policy, func(ctx context.Context) (map[string]any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build userinfo request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := pool.Do(req)
		if err != nil {
			return nil, wrapNetErr(err, "userinfo_fetch", provider)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, "userinfo_fetch", provider); err != nil {
			return nil, err
		}

		var claims map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
			return nil, fmt.Errorf("parse userinfo response: %w", err)
		}
		return claims, nil
	})
}

// RevokeToken posts an RFC 7009 revocation request. Revocation endpoints
// answer 200 even for unknown tokens; a non-2xx status is returned as an
// *HTTPError for the caller to log. Not retried: revocation is best-effort
// and the caller deletes local state regardless.
func RevokeToken(ctx context.Context, pool *Pool, revocationURL, token, clientID, clientSecret, provider string) error {
	form := url.Values{
		"token":         {token},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revocationURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := pool.Do(req)
	if err != nil {
		return wrapNetErr(err, "token_revoke", provider)
	}
	defer resp.Body.Close()

	return checkStatus(resp, "token_revoke", provider)
}
