//go:build sqlite

// Package sqlite implements storage.Store on SQLite via the CGO-less
// modernc.org driver. Selected with the "sqlite" build tag.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // CGO-less SQLite driver

	"doorpasses/internal/domain"
	"doorpasses/internal/storage"
)

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying connection for the audit logger, which shares the
// same database file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Status returns schema_migrations and schema_info summary for the given DSN
// without creating a Store.
func Status(dsn string) (string, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return "", err
	}
	defer db.Close()
	var latest int
	_ = db.QueryRow(`SELECT COALESCE(MAX(version),0) FROM schema_migrations`).Scan(&latest)
	var schemaVersion, minSupported int
	var appVersion, appliedAt string
	_ = db.QueryRow(`SELECT schema_version, min_supported_schema, app_version, applied_at FROM schema_info WHERE id=1`).Scan(&schemaVersion, &minSupported, &appVersion, &appliedAt)
	var count int
	_ = db.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&count)
	return fmt.Sprintf("schema_version=%d applied=%d latest=%d app_version=%s applied_at=%s min_supported=%d", schemaVersion, count, latest, appVersion, appliedAt, minSupported), nil
}

const tsFormat = time.RFC3339

func fmtTime(t time.Time) string { return t.UTC().Format(tsFormat) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(tsFormat, s)
	return t
}

// =============================================================================
// SSO Configurations
// =============================================================================

const configColumns = `id, organization_id, issuer_url, client_id, client_secret_encrypted, scopes,
	auto_discovery, authorization_url, token_url, userinfo_url, revocation_url, jwks_url,
	pkce_enabled, auto_provision, default_role, attribute_mapping, require_verified_email,
	allowed_email_domains, enabled, last_tested, created_at, updated_at`

func scanConfig(row interface{ Scan(...any) error }) (*domain.SSOConfiguration, error) {
	var c domain.SSOConfiguration
	var mapping, domains string
	var lastTested sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.IssuerURL, &c.ClientID, &c.ClientSecretEncrypted, &c.Scopes,
		&c.AutoDiscovery, &c.AuthorizationURL, &c.TokenURL, &c.UserInfoURL, &c.RevocationURL, &c.JWKSURL,
		&c.PKCEEnabled, &c.AutoProvision, &c.DefaultRole, &mapping, &c.RequireVerifiedEmail,
		&domains, &c.Enabled, &lastTested, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if mapping != "" {
		_ = json.Unmarshal([]byte(mapping), &c.AttributeMapping)
	}
	if domains != "" {
		_ = json.Unmarshal([]byte(domains), &c.AllowedEmailDomains)
	}
	if lastTested.Valid {
		t := parseTime(lastTested.String)
		c.LastTested = &t
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func configJSONFields(c *domain.SSOConfiguration) (mapping, domains string) {
	mapping, domains = "{}", "[]"
	if c.AttributeMapping != nil {
		if b, err := json.Marshal(c.AttributeMapping); err == nil {
			mapping = string(b)
		}
	}
	if c.AllowedEmailDomains != nil {
		if b, err := json.Marshal(c.AllowedEmailDomains); err == nil {
			domains = string(b)
		}
	}
	return mapping, domains
}

func (s *Store) CreateConfig(ctx context.Context, cfg *domain.SSOConfiguration) error {
	if cfg.ID == "" || cfg.OrganizationID == "" {
		return fmt.Errorf("%w: configuration id and organization id are required", storage.ErrValidation)
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	mapping, domains := configJSONFields(cfg)
	var lastTested sql.NullString
	if cfg.LastTested != nil {
		lastTested = sql.NullString{String: fmtTime(*cfg.LastTested), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sso_configurations(`+configColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.OrganizationID, cfg.IssuerURL, cfg.ClientID, cfg.ClientSecretEncrypted, cfg.Scopes,
		cfg.AutoDiscovery, cfg.AuthorizationURL, cfg.TokenURL, cfg.UserInfoURL, cfg.RevocationURL, cfg.JWKSURL,
		cfg.PKCEEnabled, cfg.AutoProvision, cfg.DefaultRole, mapping, cfg.RequireVerifiedEmail,
		domains, cfg.Enabled, lastTested, fmtTime(cfg.CreatedAt), fmtTime(cfg.UpdatedAt),
	)
	return wrapConfigErr(err)
}

func (s *Store) GetConfig(ctx context.Context, id string) (*domain.SSOConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM sso_configurations WHERE id=?`, id)
	c, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: configuration %s", storage.ErrNotFound, id)
	}
	return c, err
}

func (s *Store) GetEnabledConfig(ctx context.Context, organizationID string) (*domain.SSOConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM sso_configurations WHERE organization_id=? AND enabled=1`, organizationID)
	c, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *Store) ListConfigs(ctx context.Context, organizationID string) ([]*domain.SSOConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+configColumns+` FROM sso_configurations WHERE organization_id=? ORDER BY created_at ASC`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SSOConfiguration
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateConfig(ctx context.Context, cfg *domain.SSOConfiguration) error {
	cfg.UpdatedAt = time.Now().UTC()
	mapping, domains := configJSONFields(cfg)
	var lastTested sql.NullString
	if cfg.LastTested != nil {
		lastTested = sql.NullString{String: fmtTime(*cfg.LastTested), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sso_configurations SET
			issuer_url=?, client_id=?, client_secret_encrypted=?, scopes=?,
			auto_discovery=?, authorization_url=?, token_url=?, userinfo_url=?, revocation_url=?, jwks_url=?,
			pkce_enabled=?, auto_provision=?, default_role=?, attribute_mapping=?, require_verified_email=?,
			allowed_email_domains=?, enabled=?, last_tested=?, updated_at=?
		WHERE id=?`,
		cfg.IssuerURL, cfg.ClientID, cfg.ClientSecretEncrypted, cfg.Scopes,
		cfg.AutoDiscovery, cfg.AuthorizationURL, cfg.TokenURL, cfg.UserInfoURL, cfg.RevocationURL, cfg.JWKSURL,
		cfg.PKCEEnabled, cfg.AutoProvision, cfg.DefaultRole, mapping, cfg.RequireVerifiedEmail,
		domains, cfg.Enabled, lastTested, fmtTime(cfg.UpdatedAt),
		cfg.ID,
	)
	if err != nil {
		return wrapConfigErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: configuration %s", storage.ErrNotFound, cfg.ID)
	}
	return nil
}

func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sso_configurations WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: configuration %s", storage.ErrNotFound, id)
	}
	return nil
}

// wrapConfigErr maps the partial unique index on (organization_id) WHERE
// enabled to ErrDuplicateConfig.
func wrapConfigErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "idx_sso_config_enabled") {
		return storage.ErrDuplicateConfig
	}
	return storage.WrapIfConflict(err)
}

// =============================================================================
// SSO Sessions
// =============================================================================

const sessionColumns = `id, configuration_id, organization_id, user_id, provider_user_id,
	access_token_encrypted, refresh_token_encrypted, token_expires_at, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.SSOSession, error) {
	var sess domain.SSOSession
	var expiresAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(
		&sess.ID, &sess.ConfigurationID, &sess.OrganizationID, &sess.UserID, &sess.ProviderUserID,
		&sess.AccessTokenEncrypted, &sess.RefreshTokenEncrypted, &expiresAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := parseTime(expiresAt.String)
		sess.TokenExpiresAt = &t
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.SSOSession) error {
	if sess.ID == "" || sess.UserID == "" {
		return fmt.Errorf("%w: session id and user id are required", storage.ErrValidation)
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	var expiresAt sql.NullString
	if sess.TokenExpiresAt != nil {
		expiresAt = sql.NullString{String: fmtTime(*sess.TokenExpiresAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sso_sessions(`+sessionColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ConfigurationID, sess.OrganizationID, sess.UserID, sess.ProviderUserID,
		sess.AccessTokenEncrypted, sess.RefreshTokenEncrypted, expiresAt, fmtTime(sess.CreatedAt), fmtTime(sess.UpdatedAt),
	)
	return storage.WrapIfConflict(err)
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.SSOSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sso_sessions WHERE id=?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", storage.ErrNotFound, id)
	}
	return sess, err
}

func (s *Store) UpdateSessionTokens(ctx context.Context, id, accessTokenEncrypted, refreshTokenEncrypted string, expiresAt *time.Time) error {
	var exp sql.NullString
	if expiresAt != nil {
		exp = sql.NullString{String: fmtTime(*expiresAt), Valid: true}
	}
	// COALESCE-style keep of the stored refresh token when none was issued.
	res, err := s.db.ExecContext(ctx, `
		UPDATE sso_sessions SET
			access_token_encrypted=?,
			refresh_token_encrypted=CASE WHEN ?='' THEN refresh_token_encrypted ELSE ? END,
			token_expires_at=?, updated_at=?
		WHERE id=?`,
		accessTokenEncrypted, refreshTokenEncrypted, refreshTokenEncrypted, exp, fmtTime(time.Now()), id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: session %s", storage.ErrNotFound, id)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sso_sessions WHERE id=?`, id)
	return err
}

func (s *Store) DeleteSessionsByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sso_sessions WHERE user_id=?`, userID)
	return err
}

// =============================================================================
// Users
// =============================================================================

const userColumns = `id, email, username, name, is_active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	var createdAt, updatedAt string
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Name, &u.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER(?)`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" || u.Email == "" {
		return fmt.Errorf("%w: user id and email are required", storage.ErrValidation)
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users(`+userColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.Name, u.IsActive, fmtTime(u.CreatedAt), fmtTime(u.UpdatedAt),
	)
	return storage.WrapIfConflict(err)
}

func (s *Store) UpdateUser(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email=?, username=?, name=?, is_active=?, updated_at=? WHERE id=?`,
		u.Email, u.Username, u.Name, u.IsActive, fmtTime(u.UpdatedAt), u.ID,
	)
	if err != nil {
		return storage.WrapIfConflict(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: user %s", storage.ErrNotFound, u.ID)
	}
	return nil
}

// =============================================================================
// Organizations, Roles, Memberships
// =============================================================================

func scanOrg(row interface{ Scan(...any) error }) (*domain.Organization, error) {
	var o domain.Organization
	var createdAt, updatedAt string
	if err := row.Scan(&o.ID, &o.Slug, &o.Name, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, slug, name, created_at, updated_at FROM organizations WHERE id=?`, id)
	o, err := scanOrg(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: organization %s", storage.ErrNotFound, id)
	}
	return o, err
}

func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, slug, name, created_at, updated_at FROM organizations WHERE slug=?`, slug)
	o, err := scanOrg(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: organization %s", storage.ErrNotFound, slug)
	}
	return o, err
}

func (s *Store) CreateOrganization(ctx context.Context, o *domain.Organization) error {
	if o.ID == "" || o.Slug == "" {
		return fmt.Errorf("%w: organization id and slug are required", storage.ErrValidation)
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations(id, slug, name, created_at, updated_at) VALUES(?, ?, ?, ?, ?)`,
		o.ID, o.Slug, o.Name, fmtTime(o.CreatedAt), fmtTime(o.UpdatedAt),
	)
	return storage.WrapIfConflict(err)
}

func (s *Store) GetRoleByName(ctx context.Context, organizationID, name string) (*domain.OrganizationRole, error) {
	var r domain.OrganizationRole
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name FROM organization_roles WHERE organization_id=? AND name=?`,
		organizationID, name,
	).Scan(&r.ID, &r.OrganizationID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %s in organization %s", storage.ErrNotFound, name, organizationID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateRole(ctx context.Context, r *domain.OrganizationRole) error {
	if r.ID == "" || r.OrganizationID == "" || r.Name == "" {
		return fmt.Errorf("%w: role id, organization id, and name are required", storage.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_roles(id, organization_id, name) VALUES(?, ?, ?)`,
		r.ID, r.OrganizationID, r.Name,
	)
	return storage.WrapIfConflict(err)
}

func (s *Store) GetMembership(ctx context.Context, userID, organizationID string) (*domain.Membership, error) {
	var m domain.Membership
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, organization_id, role_id, created_at FROM memberships
		WHERE user_id=? AND organization_id=?`,
		userID, organizationID,
	).Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.RoleID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func (s *Store) EnsureMembership(ctx context.Context, m *domain.Membership) (bool, error) {
	if m.ID == "" || m.UserID == "" || m.OrganizationID == "" {
		return false, fmt.Errorf("%w: membership id, user id, and organization id are required", storage.ErrValidation)
	}
	m.CreatedAt = time.Now().UTC()
	// The UNIQUE(user_id, organization_id) constraint makes this safe under
	// concurrent first logins.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships(id, user_id, organization_id, role_id, created_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(user_id, organization_id) DO NOTHING`,
		m.ID, m.UserID, m.OrganizationID, m.RoleID, fmtTime(m.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
