package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"doorpasses/internal/domain"
	"doorpasses/internal/storage"
)

// mockIdP is a minimal OIDC provider: discovery, JWKS, token, userinfo, and
// revocation endpoints backed by a fresh RSA key.
type mockIdP struct {
	srv    *httptest.Server
	key    *rsa.PrivateKey
	issuer string

	mu sync.Mutex
	// nonce is echoed into issued ID tokens; tests set it from the
	// authorization URL produced by InitiateAuth.
	nonce         string
	subject       string
	codeGrants    int
	refreshGrants int
	lastTokenForm url.Values
	// refreshToken is included in refresh-grant responses when non-empty;
	// empty models a provider that does not rotate refresh tokens.
	refreshToken  string
	tokenStatus   int // non-zero forces this status from /token
	failRefreshes int // fail this many refresh grants with 503 before succeeding
	revokeStatus  int
	revoked       []string
}

func newMockIdP(t *testing.T) *mockIdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	idp := &mockIdP{key: key, subject: "idp-user-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.handleDiscovery)
	mux.HandleFunc("/jwks", idp.handleJWKS)
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		// Only reached by endpoint probes; a request without the required
		// parameters is a client error.
		http.Error(w, "missing client_id", http.StatusBadRequest)
	})
	mux.HandleFunc("/token", idp.handleToken)
	mux.HandleFunc("/userinfo", idp.handleUserInfo)
	mux.HandleFunc("/revoke", idp.handleRevoke)

	idp.srv = httptest.NewServer(mux)
	idp.issuer = idp.srv.URL
	t.Cleanup(idp.srv.Close)
	return idp
}

func (i *mockIdP) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                           i.issuer,
		"authorization_endpoint":           i.issuer + "/authorize",
		"token_endpoint":                   i.issuer + "/token",
		"userinfo_endpoint":                i.issuer + "/userinfo",
		"revocation_endpoint":              i.issuer + "/revoke",
		"jwks_uri":                         i.issuer + "/jwks",
		"response_types_supported":         []string{"code"},
		"grant_types_supported":            []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported": []string{"S256"},
	})
}

func (i *mockIdP) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &i.key.PublicKey,
			KeyID:     "idp-key-1",
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	})
}

func (i *mockIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	defer i.mu.Unlock()

	_ = r.ParseForm()
	i.lastTokenForm = r.PostForm

	if i.tokenStatus != 0 {
		if r.PostForm.Get("grant_type") == "refresh_token" {
			i.refreshGrants++
		}
		http.Error(w, `{"error":"server_error"}`, i.tokenStatus)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		i.codeGrants++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-token-1",
			"refresh_token": "refresh-token-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"id_token":      i.signIDTokenLocked(),
		})
	case "refresh_token":
		i.refreshGrants++
		if i.failRefreshes > 0 {
			i.failRefreshes--
			http.Error(w, `{"error":"temporarily_unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		resp := map[string]any{
			"access_token": "access-token-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if i.refreshToken != "" {
			resp["refresh_token"] = i.refreshToken
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
	}
}

func (i *mockIdP) signIDTokenLocked() string {
	now := time.Now()
	payload, _ := json.Marshal(map[string]any{
		"iss":                i.issuer,
		"sub":                i.subject,
		"aud":                "client-123",
		"exp":                now.Add(time.Hour).Unix(),
		"iat":                now.Unix(),
		"nonce":              i.nonce,
		"email":              "alice@corp.com",
		"email_verified":     true,
		"name":               "Alice Example",
		"preferred_username": "alice",
	})
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: i.key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", "idp-key-1"),
	)
	if err != nil {
		panic(err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		panic(err)
	}
	raw, err := jws.CompactSerialize()
	if err != nil {
		panic(err)
	}
	return raw
}

func (i *mockIdP) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	i.mu.Lock()
	sub := i.subject
	i.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sub":                sub,
		"email":              "alice@corp.com",
		"email_verified":     true,
		"name":               "Alice From UserInfo",
		"preferred_username": "alice",
		"department":         "engineering",
	})
}

func (i *mockIdP) handleRevoke(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.revokeStatus != 0 {
		http.Error(w, "revocation unavailable", i.revokeStatus)
		return
	}
	_ = r.ParseForm()
	token := r.PostForm.Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	i.revoked = append(i.revoked, token)
	w.WriteHeader(http.StatusOK)
}

// seedEnabledConfig stores an enabled auto-discovery configuration pointing
// at the mock provider.
func seedEnabledConfig(t *testing.T, svc *Service, store storage.Store, idp *mockIdP, orgID string) *domain.SSOConfiguration {
	t.Helper()
	secretEnc, err := svc.EncryptSecret("s3cret")
	if err != nil {
		t.Fatalf("encrypt client secret: %v", err)
	}
	cfg := &domain.SSOConfiguration{
		ID:                    uuid.NewString(),
		OrganizationID:        orgID,
		IssuerURL:             idp.issuer,
		ClientID:              "client-123",
		ClientSecretEncrypted: secretEnc,
		Scopes:                "openid profile email",
		AutoDiscovery:         true,
		PKCEEnabled:           true,
		AutoProvision:         true,
		DefaultRole:           "member",
		Enabled:               true,
	}
	if err := store.CreateConfig(context.Background(), cfg); err != nil {
		t.Fatalf("seed configuration: %v", err)
	}
	return cfg
}
