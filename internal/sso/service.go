// Package sso implements the organization-level single sign-on service:
// strategy resolution and caching, the authorization-code login flow with
// PKCE, user provisioning, and token refresh/revocation against the
// identity provider.
package sso

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"doorpasses/internal/audit"
	"doorpasses/internal/observability"
	"doorpasses/internal/oidc"
	"doorpasses/internal/secrets"
	"doorpasses/internal/storage"
)

const (
	// stateTTL bounds how long a pending authorization request (state,
	// nonce, PKCE verifier) stays redeemable.
	stateTTL = 10 * time.Minute

	// strategyTTL caps strategy cache staleness independently of explicit
	// invalidation via RefreshStrategy.
	strategyTTL = 1 * time.Hour

	// defaultRoleName is granted to provisioned users when the
	// configuration names no default role.
	defaultRoleName = "member"
)

// Options wires a Service.
type Options struct {
	Store     storage.Store
	Resolver  *oidc.Resolver
	Validator *oidc.Validator
	Pool      *oidc.Pool

	// CipherKey is the 32-byte token encryption key. Client secrets and
	// provider tokens at rest are encrypted with it.
	CipherKey []byte

	// BaseURL is the externally visible application origin, used to build
	// per-organization callback URLs.
	BaseURL string

	Retry   oidc.RetryPolicy
	Audit   audit.Logger
	Logger  observability.Logger
	Metrics *observability.Metrics
}

// Service orchestrates SSO logins for all organizations. Strategies are
// cached per organization and invalidated when an administrator changes the
// configuration.
type Service struct {
	store     storage.Store
	resolver  *oidc.Resolver
	validator *oidc.Validator
	pool      *oidc.Pool
	retry     oidc.RetryPolicy

	cipherKey []byte
	baseURL   string

	strategies *gocache.Cache
	pending    *gocache.Cache

	audit   audit.Logger
	logger  observability.Logger
	metrics *observability.Metrics

	// now is stubbed in tests.
	now func() time.Time
}

// NewService creates a Service. The cipher key must be valid for the token
// cipher; construction fails fast on a bad key rather than failing on the
// first login.
func NewService(opts Options) (*Service, error) {
	if err := secrets.CheckKey(opts.CipherKey); err != nil {
		return nil, fmt.Errorf("sso service: %w", err)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("sso service: store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	pool := opts.Pool
	if pool == nil {
		pool = oidc.NewPool(oidc.DefaultPoolConfig())
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = oidc.NewResolver(pool, logger, opts.Metrics)
	}
	validator := opts.Validator
	if validator == nil {
		validator = oidc.NewValidator(pool)
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = oidc.DefaultRetryPolicy()
	}
	return &Service{
		store:      opts.Store,
		resolver:   resolver,
		validator:  validator,
		pool:       pool,
		retry:      retry,
		cipherKey:  opts.CipherKey,
		baseURL:    trimTrailingSlash(opts.BaseURL),
		strategies: gocache.New(strategyTTL, 10*time.Minute),
		pending:    gocache.New(stateTTL, time.Minute),
		audit:      opts.Audit,
		logger:     logger.WithComponent("sso"),
		metrics:    opts.Metrics,
		now:        time.Now,
	}, nil
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// EncryptSecret encrypts a client secret or provider token for storage.
func (s *Service) EncryptSecret(plaintext string) (string, error) {
	return secrets.Encrypt(plaintext, s.cipherKey)
}

func (s *Service) decrypt(ciphertext string) (string, error) {
	return secrets.Decrypt(ciphertext, s.cipherKey)
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// record writes an audit event, tolerating a nil or failing audit logger;
// auditing must never abort a login.
func (s *Service) record(ctx context.Context, ev *audit.Event) {
	if s.audit == nil {
		return
	}
	ev.RequestID = observability.RequestIDFromContext(ctx)
	if err := s.audit.Log(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "audit write failed", "error", err, "action", ev.Action)
	}
}
