//go:build postgres

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"doorpasses/internal/domain"
	"doorpasses/internal/storage"
)

// testDB holds a shared database connection for test suites.
// It's initialized once via TestMain and reused across test functions.
var testDB struct {
	connStr   string
	pool      *pgxpool.Pool
	store     *Store
	container testcontainers.Container
}

// TestMain sets up a PostgreSQL database for tests.
// It supports two modes:
//  1. DATABASE_URL env var - uses an existing PostgreSQL instance (CI/custom)
//  2. testcontainers-go - automatically starts a PostgreSQL container
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("doorpasses_test"),
			tcpostgres.WithUsername("doorpasses"),
			tcpostgres.WithPassword("doorpasses"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}
		testDB.container = container

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
			_ = container.Terminate(ctx)
			os.Exit(1)
		}
	}

	testDB.connStr = connStr

	// Create the store (runs migrations)
	store, err := New(connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create store: %v\n", err)
		if testDB.container != nil {
			_ = testDB.container.Terminate(ctx)
		}
		os.Exit(1)
	}
	testDB.store = store
	testDB.pool = store.Pool()

	code := m.Run()

	_ = store.Close()
	if testDB.container != nil {
		_ = testDB.container.Terminate(ctx)
	}

	os.Exit(code)
}

// resetDB truncates all data tables between tests to ensure isolation.
func resetDB(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	// Delete in dependency order (children before parents)
	tables := []string{
		"audit_logs",
		"sso_sessions",
		"sso_configurations",
		"memberships",
		"organization_roles",
		"users",
		"organizations",
	}
	for _, table := range tables {
		if _, err := testDB.pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("failed to reset table %s: %v", table, err)
		}
	}
}

func seedOrg(t *testing.T) (orgID, roleID string) {
	t.Helper()
	ctx := context.Background()
	org := &domain.Organization{ID: uuid.NewString(), Slug: "acme", Name: "Acme"}
	if err := testDB.store.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	role := &domain.OrganizationRole{ID: uuid.NewString(), OrganizationID: org.ID, Name: "member"}
	if err := testDB.store.CreateRole(ctx, role); err != nil {
		t.Fatalf("seed role: %v", err)
	}
	return org.ID, role.ID
}

func TestConfigCRUD(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	s := testDB.store
	orgID, _ := seedOrg(t)

	cfg := &domain.SSOConfiguration{
		ID:                    uuid.NewString(),
		OrganizationID:        orgID,
		IssuerURL:             "https://idp.example.com",
		ClientID:              "client-1",
		ClientSecretEncrypted: "deadbeef",
		Scopes:                "openid profile email",
		AutoDiscovery:         true,
		PKCEEnabled:           true,
		DefaultRole:           "member",
		AttributeMapping:      map[string]string{"email": "email", "name": "profile.display_name"},
		AllowedEmailDomains:   []string{"example.com"},
		Enabled:               true,
	}
	if err := s.CreateConfig(ctx, cfg); err != nil {
		t.Fatalf("CreateConfig failed: %v", err)
	}
	if cfg.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	got, err := s.GetConfig(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if got.AttributeMapping["name"] != "profile.display_name" {
		t.Errorf("attribute mapping not round-tripped: %v", got.AttributeMapping)
	}
	if len(got.AllowedEmailDomains) != 1 || got.AllowedEmailDomains[0] != "example.com" {
		t.Errorf("allowed domains not round-tripped: %v", got.AllowedEmailDomains)
	}

	enabled, err := s.GetEnabledConfig(ctx, orgID)
	if err != nil {
		t.Fatalf("GetEnabledConfig failed: %v", err)
	}
	if enabled == nil || enabled.ID != cfg.ID {
		t.Errorf("expected enabled config %s, got %+v", cfg.ID, enabled)
	}

	got.ClientID = "client-2"
	if err := s.UpdateConfig(ctx, got); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	again, _ := s.GetConfig(ctx, cfg.ID)
	if again.ClientID != "client-2" {
		t.Errorf("update not persisted: %q", again.ClientID)
	}

	if err := s.DeleteConfig(ctx, cfg.ID); err != nil {
		t.Fatalf("DeleteConfig failed: %v", err)
	}
	if err := s.DeleteConfig(ctx, cfg.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEnabledConfigUniqueness(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	s := testDB.store
	orgID, _ := seedOrg(t)

	first := &domain.SSOConfiguration{
		ID: uuid.NewString(), OrganizationID: orgID,
		IssuerURL: "https://idp1.example.com", ClientID: "c1", ClientSecretEncrypted: "x",
		Enabled: true,
	}
	if err := s.CreateConfig(ctx, first); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	second := &domain.SSOConfiguration{
		ID: uuid.NewString(), OrganizationID: orgID,
		IssuerURL: "https://idp2.example.com", ClientID: "c2", ClientSecretEncrypted: "x",
		Enabled: true,
	}
	if err := s.CreateConfig(ctx, second); !errors.Is(err, storage.ErrDuplicateConfig) {
		t.Errorf("expected ErrDuplicateConfig, got %v", err)
	}

	second.Enabled = false
	if err := s.CreateConfig(ctx, second); err != nil {
		t.Fatalf("disabled create failed: %v", err)
	}

	second.Enabled = true
	if err := s.UpdateConfig(ctx, second); !errors.Is(err, storage.ErrDuplicateConfig) {
		t.Errorf("expected ErrDuplicateConfig on enabling update, got %v", err)
	}

	first.Enabled = false
	if err := s.UpdateConfig(ctx, first); err != nil {
		t.Fatalf("disable first failed: %v", err)
	}
	if err := s.UpdateConfig(ctx, second); err != nil {
		t.Errorf("enable second after disabling first failed: %v", err)
	}
}

func TestSessionTokenRefresh(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	s := testDB.store
	orgID, _ := seedOrg(t)

	user := &domain.User{ID: uuid.NewString(), Email: "jane@example.com", Username: "jane", IsActive: true}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	cfg := &domain.SSOConfiguration{
		ID: uuid.NewString(), OrganizationID: orgID,
		IssuerURL: "https://idp.example.com", ClientID: "c1", ClientSecretEncrypted: "x",
	}
	if err := s.CreateConfig(ctx, cfg); err != nil {
		t.Fatalf("CreateConfig failed: %v", err)
	}

	sess := &domain.SSOSession{
		ID:                    uuid.NewString(),
		ConfigurationID:       cfg.ID,
		OrganizationID:        orgID,
		UserID:                user.ID,
		ProviderUserID:        "subject-1",
		AccessTokenEncrypted:  "enc-access",
		RefreshTokenEncrypted: "enc-refresh",
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	exp := time.Now().Add(time.Hour).UTC()
	if err := s.UpdateSessionTokens(ctx, sess.ID, "new-access", "", &exp); err != nil {
		t.Fatalf("UpdateSessionTokens failed: %v", err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.AccessTokenEncrypted != "new-access" {
		t.Errorf("access token not updated: %q", got.AccessTokenEncrypted)
	}
	if got.RefreshTokenEncrypted != "enc-refresh" {
		t.Errorf("empty refresh should preserve stored token, got %q", got.RefreshTokenEncrypted)
	}

	if err := s.UpdateSessionTokens(ctx, sess.ID, "newer-access", "rotated-refresh", nil); err != nil {
		t.Fatalf("UpdateSessionTokens failed: %v", err)
	}
	got, _ = s.GetSession(ctx, sess.ID)
	if got.RefreshTokenEncrypted != "rotated-refresh" {
		t.Errorf("refresh token not rotated: %q", got.RefreshTokenEncrypted)
	}

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	// Idempotent delete.
	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Errorf("second delete should be a no-op: %v", err)
	}
}

func TestUserEmailCaseInsensitive(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	s := testDB.store

	u := &domain.User{ID: uuid.NewString(), Email: "Jane.Doe@Example.com", Username: "jane.doe", IsActive: true}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "jane.doe@example.COM")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Errorf("expected %s, got %+v", u.ID, got)
	}

	dup := &domain.User{ID: uuid.NewString(), Email: "JANE.DOE@example.com", Username: "other"}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate email, got %v", err)
	}

	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing user; got %+v, %v", missing, err)
	}
}

func TestEnsureMembershipConcurrent(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	s := testDB.store
	orgID, roleID := seedOrg(t)

	user := &domain.User{ID: uuid.NewString(), Email: "jane@example.com", Username: "jane", IsActive: true}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	// Fire concurrent upserts for the same (user, org); exactly one must win.
	const n = 8
	results := make(chan bool, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			created, err := s.EnsureMembership(ctx, &domain.Membership{
				ID: uuid.NewString(), UserID: user.ID, OrganizationID: orgID, RoleID: roleID,
			})
			results <- created
			errs <- err
		}()
	}
	createdCount := 0
	for i := 0; i < n; i++ {
		if <-results {
			createdCount++
		}
		if err := <-errs; err != nil {
			t.Fatalf("EnsureMembership failed: %v", err)
		}
	}
	if createdCount != 1 {
		t.Errorf("expected exactly 1 created, got %d", createdCount)
	}

	var count int
	if err := testDB.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memberships WHERE user_id=$1 AND organization_id=$2`, user.ID, orgID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 membership row, got %d", count)
	}
}
