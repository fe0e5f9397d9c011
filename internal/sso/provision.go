package sso

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"doorpasses/internal/audit"
	"doorpasses/internal/domain"
	"doorpasses/internal/storage"
)

// usernameAttempts bounds the numbered-suffix search before falling back to
// a timestamp suffix.
const usernameAttempts = 100

// provisionUser maps provider attributes to a local user and membership.
//
// Gates, in order: a mapped email is mandatory; requireVerifiedEmail and
// allowedEmailDomains reject per configuration; autoProvision gates both
// creating a new user and adding an organization membership for an existing
// user who has none. Existing users are matched by email,
// case-insensitively.
func (s *Service) provisionUser(ctx context.Context, org *domain.Organization, cfg *domain.SSOConfiguration, attrs MappedAttributes) (*domain.User, error) {
	if strings.TrimSpace(attrs.Email) == "" {
		return nil, ErrEmailRequired
	}
	if cfg.RequireVerifiedEmail && !attrs.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	if err := checkEmailDomain(attrs.Email, cfg.AllowedEmailDomains); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, attrs.Email)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if user == nil {
		if !cfg.AutoProvision {
			return nil, ErrProvisioningDisabled
		}
		if user, err = s.createUser(ctx, attrs); err != nil {
			return nil, err
		}
		s.metrics.RecordEvent("provision", "created")
	} else {
		membership, err := s.store.GetMembership(ctx, user.ID, org.ID)
		if err != nil {
			return nil, fmt.Errorf("look up membership: %w", err)
		}
		if membership == nil && !cfg.AutoProvision {
			return nil, ErrProvisioningDisabled
		}
		if attrs.Name != "" && attrs.Name != user.Name {
			user.Name = attrs.Name
			if err := s.store.UpdateUser(ctx, user); err != nil {
				s.logger.WarnContext(ctx, "profile update failed", "user_id", user.ID, "error", err)
			}
		}
	}

	created, err := s.ensureMembership(ctx, org, cfg, user)
	if err != nil {
		return nil, err
	}
	if created {
		s.record(ctx, &audit.Event{
			OrganizationID: org.ID,
			Actor:          user.ID,
			ActorType:      audit.ActorTypeSystem,
			Action:         audit.ActionProvision,
			ResourceType:   audit.ResourceUser,
			ResourceID:     user.ID,
			Result:         audit.ResultSuccess,
		})
	}
	return user, nil
}

func checkEmailDomain(email string, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ErrEmailDomainNotAllowed
	}
	domainPart := strings.ToLower(email[at+1:])
	for _, d := range allowed {
		if domainPart == strings.ToLower(strings.TrimSpace(d)) {
			return nil
		}
	}
	return ErrEmailDomainNotAllowed
}

func (s *Service) createUser(ctx context.Context, attrs MappedAttributes) (*domain.User, error) {
	username, err := s.uniqueUsername(ctx, usernameBase(attrs))
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		ID:       uuid.NewString(),
		Email:    attrs.Email,
		Username: username,
		Name:     attrs.Name,
		IsActive: true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost a race against a concurrent login for the same identity;
			// the winner's row serves both.
			if existing, lookupErr := s.store.GetUserByEmail(ctx, attrs.Email); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// uniqueUsername picks the first free username among base, base-1, base-2,
// ... and gives up on a timestamp suffix after usernameAttempts collisions.
func (s *Service) uniqueUsername(ctx context.Context, base string) (string, error) {
	for i := 0; i <= usernameAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		existing, err := s.store.GetUserByUsername(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check username: %w", err)
		}
		if existing == nil {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s-%d", base, s.now().Unix()), nil
}

// usernameBase derives the starting username: the mapped username claim, or
// the email local part. Lowercased, with characters outside [a-z0-9._-]
// replaced by "-".
func usernameBase(attrs MappedAttributes) string {
	base := attrs.Username
	if base == "" {
		base = attrs.Email
		if at := strings.Index(base, "@"); at > 0 {
			base = base[:at]
		}
	}
	base = strings.ToLower(strings.TrimSpace(base))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

// ensureMembership grants the configuration's default role idempotently.
// The store-level insert-if-absent keeps concurrent logins for the same
// user from erroring on the unique (user, organization) pair.
func (s *Service) ensureMembership(ctx context.Context, org *domain.Organization, cfg *domain.SSOConfiguration, user *domain.User) (bool, error) {
	roleName := cfg.DefaultRole
	if roleName == "" {
		roleName = defaultRoleName
	}
	role, err := s.store.GetRoleByName(ctx, org.ID, roleName)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("look up role %q: %w", roleName, err)
	}
	if role == nil {
		role = &domain.OrganizationRole{
			ID:             uuid.NewString(),
			OrganizationID: org.ID,
			Name:           roleName,
		}
		if err := s.store.CreateRole(ctx, role); err != nil {
			if !errors.Is(err, storage.ErrConflict) {
				return false, fmt.Errorf("create role %q: %w", roleName, err)
			}
			// Concurrent creation; use the row that won.
			if role, err = s.store.GetRoleByName(ctx, org.ID, roleName); err != nil || role == nil {
				return false, fmt.Errorf("look up role %q after conflict: %w", roleName, err)
			}
		}
	}
	created, err := s.store.EnsureMembership(ctx, &domain.Membership{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		OrganizationID: org.ID,
		RoleID:         role.ID,
	})
	if err != nil {
		return false, fmt.Errorf("ensure membership: %w", err)
	}
	return created, nil
}
