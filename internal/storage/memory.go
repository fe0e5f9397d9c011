package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"doorpasses/internal/domain"
)

// MemoryStore is an in-memory Store implementation. Used for development and
// tests; all data is lost on process exit.
type MemoryStore struct {
	mu          sync.RWMutex
	configs     map[string]*domain.SSOConfiguration
	sessions    map[string]*domain.SSOSession
	users       map[string]*domain.User
	orgs        map[string]*domain.Organization
	roles       map[string]*domain.OrganizationRole
	memberships map[string]*domain.Membership
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:     make(map[string]*domain.SSOConfiguration),
		sessions:    make(map[string]*domain.SSOSession),
		users:       make(map[string]*domain.User),
		orgs:        make(map[string]*domain.Organization),
		roles:       make(map[string]*domain.OrganizationRole),
		memberships: make(map[string]*domain.Membership),
	}
}

// Close implements Store. It is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

func copyConfig(c *domain.SSOConfiguration) *domain.SSOConfiguration {
	cp := *c
	if c.AttributeMapping != nil {
		cp.AttributeMapping = make(map[string]string, len(c.AttributeMapping))
		for k, v := range c.AttributeMapping {
			cp.AttributeMapping[k] = v
		}
	}
	if c.AllowedEmailDomains != nil {
		cp.AllowedEmailDomains = append([]string(nil), c.AllowedEmailDomains...)
	}
	if c.LastTested != nil {
		t := *c.LastTested
		cp.LastTested = &t
	}
	return &cp
}

func copySession(s *domain.SSOSession) *domain.SSOSession {
	cp := *s
	if s.TokenExpiresAt != nil {
		t := *s.TokenExpiresAt
		cp.TokenExpiresAt = &t
	}
	return &cp
}

// CreateConfig implements ConfigStore.
func (m *MemoryStore) CreateConfig(_ context.Context, cfg *domain.SSOConfiguration) error {
	if cfg.ID == "" || cfg.OrganizationID == "" {
		return fmt.Errorf("%w: configuration id and organization id are required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[cfg.ID]; ok {
		return fmt.Errorf("%w: configuration %s already exists", ErrConflict, cfg.ID)
	}
	if cfg.Enabled && m.enabledConfigLocked(cfg.OrganizationID, cfg.ID) != nil {
		return ErrDuplicateConfig
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	m.configs[cfg.ID] = copyConfig(cfg)
	return nil
}

// GetConfig implements ConfigStore.
func (m *MemoryStore) GetConfig(_ context.Context, id string) (*domain.SSOConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: configuration %s", ErrNotFound, id)
	}
	return copyConfig(c), nil
}

// GetEnabledConfig implements ConfigStore. Returns nil, nil when the
// organization has no enabled configuration.
func (m *MemoryStore) GetEnabledConfig(_ context.Context, organizationID string) (*domain.SSOConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.enabledConfigLocked(organizationID, ""); c != nil {
		return copyConfig(c), nil
	}
	return nil, nil
}

// ListConfigs implements ConfigStore.
func (m *MemoryStore) ListConfigs(_ context.Context, organizationID string) ([]*domain.SSOConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.SSOConfiguration
	for _, c := range m.configs {
		if c.OrganizationID == organizationID {
			out = append(out, copyConfig(c))
		}
	}
	return out, nil
}

// UpdateConfig implements ConfigStore.
func (m *MemoryStore) UpdateConfig(_ context.Context, cfg *domain.SSOConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.configs[cfg.ID]
	if !ok {
		return fmt.Errorf("%w: configuration %s", ErrNotFound, cfg.ID)
	}
	if cfg.Enabled && m.enabledConfigLocked(cfg.OrganizationID, cfg.ID) != nil {
		return ErrDuplicateConfig
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()
	m.configs[cfg.ID] = copyConfig(cfg)
	return nil
}

// DeleteConfig implements ConfigStore.
func (m *MemoryStore) DeleteConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[id]; !ok {
		return fmt.Errorf("%w: configuration %s", ErrNotFound, id)
	}
	delete(m.configs, id)
	return nil
}

// enabledConfigLocked returns the organization's enabled configuration,
// excluding excludeID. Caller must hold the lock.
func (m *MemoryStore) enabledConfigLocked(organizationID, excludeID string) *domain.SSOConfiguration {
	for _, c := range m.configs {
		if c.OrganizationID == organizationID && c.Enabled && c.ID != excludeID {
			return c
		}
	}
	return nil
}

// CreateSession implements SessionStore.
func (m *MemoryStore) CreateSession(_ context.Context, s *domain.SSOSession) error {
	if s.ID == "" || s.UserID == "" {
		return fmt.Errorf("%w: session id and user id are required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("%w: session %s already exists", ErrConflict, s.ID)
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.sessions[s.ID] = copySession(s)
	return nil
}

// GetSession implements SessionStore.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*domain.SSOSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return copySession(s), nil
}

// UpdateSessionTokens implements SessionStore.
func (m *MemoryStore) UpdateSessionTokens(_ context.Context, id, accessTokenEncrypted, refreshTokenEncrypted string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	s.AccessTokenEncrypted = accessTokenEncrypted
	if refreshTokenEncrypted != "" {
		s.RefreshTokenEncrypted = refreshTokenEncrypted
	}
	if expiresAt != nil {
		t := expiresAt.UTC()
		s.TokenExpiresAt = &t
	} else {
		s.TokenExpiresAt = nil
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteSession implements SessionStore. Deleting an absent session is a no-op.
func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// DeleteSessionsByUser implements SessionStore.
func (m *MemoryStore) DeleteSessionsByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

// GetUserByEmail implements UserStore. Returns nil, nil if not found.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(email)
	for _, u := range m.users {
		if strings.ToLower(u.Email) == needle {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// GetUserByUsername implements UserStore. Returns nil, nil if not found.
func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// CreateUser implements UserStore.
func (m *MemoryStore) CreateUser(_ context.Context, u *domain.User) error {
	if u.ID == "" || u.Email == "" {
		return fmt.Errorf("%w: user id and email are required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(u.Email)
	for _, existing := range m.users {
		if strings.ToLower(existing.Email) == needle {
			return fmt.Errorf("%w: email %s already registered", ErrConflict, u.Email)
		}
		if existing.Username == u.Username {
			return fmt.Errorf("%w: username %s already taken", ErrConflict, u.Username)
		}
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

// UpdateUser implements UserStore.
func (m *MemoryStore) UpdateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, u.ID)
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

// GetOrganization implements OrgStore.
func (m *MemoryStore) GetOrganization(_ context.Context, id string) (*domain.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, fmt.Errorf("%w: organization %s", ErrNotFound, id)
	}
	cp := *o
	return &cp, nil
}

// GetOrganizationBySlug implements OrgStore.
func (m *MemoryStore) GetOrganizationBySlug(_ context.Context, slug string) (*domain.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orgs {
		if o.Slug == slug {
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: organization %s", ErrNotFound, slug)
}

// CreateOrganization implements OrgStore.
func (m *MemoryStore) CreateOrganization(_ context.Context, o *domain.Organization) error {
	if o.ID == "" || o.Slug == "" {
		return fmt.Errorf("%w: organization id and slug are required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orgs {
		if existing.Slug == o.Slug {
			return fmt.Errorf("%w: slug %s already taken", ErrConflict, o.Slug)
		}
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	cp := *o
	m.orgs[o.ID] = &cp
	return nil
}

// GetRoleByName implements OrgStore.
func (m *MemoryStore) GetRoleByName(_ context.Context, organizationID, name string) (*domain.OrganizationRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if r.OrganizationID == organizationID && r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: role %s in organization %s", ErrNotFound, name, organizationID)
}

// CreateRole implements OrgStore.
func (m *MemoryStore) CreateRole(_ context.Context, r *domain.OrganizationRole) error {
	if r.ID == "" || r.OrganizationID == "" || r.Name == "" {
		return fmt.Errorf("%w: role id, organization id, and name are required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.OrganizationID == r.OrganizationID && existing.Name == r.Name {
			return fmt.Errorf("%w: role %s already exists", ErrConflict, r.Name)
		}
	}
	cp := *r
	m.roles[r.ID] = &cp
	return nil
}

// GetMembership implements OrgStore. Returns nil, nil if not found.
func (m *MemoryStore) GetMembership(_ context.Context, userID, organizationID string) (*domain.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mb := m.membershipLocked(userID, organizationID); mb != nil {
		cp := *mb
		return &cp, nil
	}
	return nil, nil
}

// EnsureMembership implements OrgStore. The single lock makes the
// check-and-insert atomic, mirroring the unique-constraint upsert the SQL
// stores use.
func (m *MemoryStore) EnsureMembership(_ context.Context, mb *domain.Membership) (bool, error) {
	if mb.ID == "" || mb.UserID == "" || mb.OrganizationID == "" {
		return false, fmt.Errorf("%w: membership id, user id, and organization id are required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.membershipLocked(mb.UserID, mb.OrganizationID) != nil {
		return false, nil
	}
	mb.CreatedAt = time.Now().UTC()
	cp := *mb
	m.memberships[mb.ID] = &cp
	return true, nil
}

func (m *MemoryStore) membershipLocked(userID, organizationID string) *domain.Membership {
	for _, mb := range m.memberships {
		if mb.UserID == userID && mb.OrganizationID == organizationID {
			return mb
		}
	}
	return nil
}
