package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
)

// ValidationCode classifies ID-token validation failures. Signature, issuer,
// and audience failures are fatal (a forged or misdirected token); the rest
// are interoperability problems callers may downgrade to warnings.
type ValidationCode string

const (
	CodeSignature        ValidationCode = "signature"
	CodeIssuerMismatch   ValidationCode = "issuer_mismatch"
	CodeAudienceMismatch ValidationCode = "audience_mismatch"
	CodeInvalidToken     ValidationCode = "invalid_token"
)

// ValidationError is a typed ID-token validation failure.
type ValidationError struct {
	Code ValidationCode
	msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("id token validation (%s): %s", e.Code, e.msg)
}

// Fatal reports whether authentication must abort. Non-fatal failures allow
// the caller to continue on UserInfo-derived identity.
func (e *ValidationError) Fatal() bool {
	switch e.Code {
	case CodeSignature, CodeIssuerMismatch, CodeAudienceMismatch:
		return true
	}
	return false
}

func validationErrf(code ValidationCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, msg: fmt.Sprintf(format, args...)}
}

// DefaultClockTolerance absorbs clock skew between this service and the
// provider when checking exp/iat.
const DefaultClockTolerance = 120 * time.Second

// allowedSigAlgs are the JWS algorithms accepted for ID tokens. "none" and
// symmetric algorithms are deliberately absent.
var allowedSigAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
}

// Expectations are the claims an ID token must satisfy.
type Expectations struct {
	Issuer   string
	ClientID string
	// Nonce is the value generated at authorization-request time; empty
	// skips the check (the initiating request carried no nonce).
	Nonce string
	// ClockTolerance defaults to DefaultClockTolerance when zero.
	ClockTolerance time.Duration
}

// IDTokenClaims is the validated identity extracted from an ID token.
type IDTokenClaims struct {
	Subject  string
	Issuer   string
	Audience []string
	Expiry   time.Time
	IssuedAt time.Time
	// Raw holds every claim in the token for attribute-mapping lookups.
	Raw map[string]any
}

// Validator verifies ID-token signatures against per-provider JWKS key sets
// and checks standard claims. Key sets are cached per jwks URL; go-oidc's
// remote key set re-fetches on unknown key IDs, which covers provider key
// rotation.
type Validator struct {
	pool *Pool

	mu      sync.Mutex
	keySets map[string]gooidc.KeySet

	// now is stubbed in tests.
	now func() time.Time
}

// NewValidator creates a Validator using the pool's HTTP client for JWKS
// fetches.
func NewValidator(pool *Pool) *Validator {
	return &Validator{
		pool:    pool,
		keySets: make(map[string]gooidc.KeySet),
		now:     time.Now,
	}
}

// keySet returns the cached key set for a jwks URL, creating it on first use.
func (v *Validator) keySet(ctx context.Context, jwksURL string) gooidc.KeySet {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ks, ok := v.keySets[jwksURL]; ok {
		return ks
	}
	ctx = gooidc.ClientContext(context.WithoutCancel(ctx), v.pool.Client())
	ks := gooidc.NewRemoteKeySet(ctx, jwksURL)
	v.keySets[jwksURL] = ks
	return ks
}

// InvalidateKeySet drops the cached key set for a jwks URL. Called when the
// owning configuration changes.
func (v *Validator) InvalidateKeySet(jwksURL string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.keySets, jwksURL)
}

// Validate verifies the raw ID token: structure, signature against the JWKS,
// then issuer, audience, exp/iat within tolerance, and nonce when expected.
// All failures are *ValidationError; callers branch on Fatal().
func (v *Validator) Validate(ctx context.Context, rawToken, jwksURL string, expect Expectations) (*IDTokenClaims, error) {
	if rawToken == "" {
		return nil, validationErrf(CodeInvalidToken, "empty token")
	}
	if jwksURL == "" {
		return nil, validationErrf(CodeInvalidToken, "no jwks URL available for signature verification")
	}

	// Structural parse first so malformed tokens and disallowed algorithms
	// are distinguishable from genuine signature failures.
	if _, err := jose.ParseSigned(rawToken, allowedSigAlgs); err != nil {
		return nil, validationErrf(CodeInvalidToken, "malformed token: %v", err)
	}

	verifier := gooidc.NewVerifier(expect.Issuer, v.keySet(ctx, jwksURL), &gooidc.Config{
		SkipClientIDCheck: true,
		SkipIssuerCheck:   true,
		SkipExpiryCheck:   true,
		Now:               v.now,
	})
	idToken, err := verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, validationErrf(CodeSignature, "signature verification failed: %v", err)
	}

	tolerance := expect.ClockTolerance
	if tolerance <= 0 {
		tolerance = DefaultClockTolerance
	}
	now := v.now()

	if idToken.Issuer != expect.Issuer {
		return nil, validationErrf(CodeIssuerMismatch, "token issuer %q, expected %q", idToken.Issuer, expect.Issuer)
	}
	if !contains(idToken.Audience, expect.ClientID) {
		return nil, validationErrf(CodeAudienceMismatch, "token audience %v does not contain client id", idToken.Audience)
	}
	if now.After(idToken.Expiry.Add(tolerance)) {
		return nil, validationErrf(CodeInvalidToken, "token expired at %s", idToken.Expiry.Format(time.RFC3339))
	}
	if !idToken.IssuedAt.IsZero() && idToken.IssuedAt.After(now.Add(tolerance)) {
		return nil, validationErrf(CodeInvalidToken, "token issued in the future (%s)", idToken.IssuedAt.Format(time.RFC3339))
	}
	if expect.Nonce != "" && idToken.Nonce != expect.Nonce {
		return nil, validationErrf(CodeInvalidToken, "nonce mismatch")
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, validationErrf(CodeInvalidToken, "extract claims: %v", err)
	}

	return &IDTokenClaims{
		Subject:  idToken.Subject,
		Issuer:   idToken.Issuer,
		Audience: idToken.Audience,
		Expiry:   idToken.Expiry,
		IssuedAt: idToken.IssuedAt,
		Raw:      raw,
	}, nil
}
