package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"doorpasses/internal/audit"
	"doorpasses/internal/domain"
	"doorpasses/internal/secrets"
	"doorpasses/internal/sso"
	"doorpasses/internal/storage"
)

var testCipherKey = []byte("0123456789abcdef0123456789abcdef")

const testAdminToken = "admin-token-for-tests"

type testEnv struct {
	mux   *http.ServeMux
	store *storage.MemoryStore
	svc   *sso.Service
	audit audit.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	auditLog := audit.NewMemoryLogger()
	svc, err := sso.NewService(sso.Options{
		Store:     store,
		CipherKey: testCipherKey,
		BaseURL:   "https://doorpasses.example.com",
		Audit:     auditLog,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	mux := http.NewServeMux()
	srv := NewServer(mux, ServerOptions{
		Store:      store,
		Service:    svc,
		Audit:      auditLog,
		AdminToken: testAdminToken,
	})
	srv.RegisterRoutes(LoginRateLimitConfig{})
	return &testEnv{mux: mux, store: store, svc: svc, audit: auditLog}
}

func (e *testEnv) seedOrg(t *testing.T, slug string) *domain.Organization {
	t.Helper()
	org := &domain.Organization{
		ID:   uuid.NewString(),
		Slug: slug,
		Name: slug,
	}
	if err := e.store.CreateOrganization(context.Background(), org); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	return org
}

func (e *testEnv) adminRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func createPayload() map[string]any {
	return map[string]any{
		"issuer_url":    "https://idp.example.com",
		"client_id":     "client-123",
		"client_secret": "hunter2",
		"enabled":       true,
	}
}

func TestCreateConfig(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrg(t, "acme")

	rec := env.do(env.adminRequest(http.MethodPost, "/api/v1/orgs/acme/sso/configurations", createPayload()))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got domain.SSOConfiguration
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ClientSecretMasked != secretMask {
		t.Errorf("client_secret = %q, want masked", got.ClientSecretMasked)
	}
	if got.Scopes != "openid profile email" {
		t.Errorf("default scopes = %q", got.Scopes)
	}
	if !got.AutoDiscovery {
		t.Error("auto_discovery should default to true")
	}

	stored, err := env.store.GetConfig(context.Background(), got.ID)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if stored.ClientSecretEncrypted == "hunter2" {
		t.Error("client secret stored in plaintext")
	}
	plain, err := secrets.Decrypt(stored.ClientSecretEncrypted, testCipherKey)
	if err != nil || plain != "hunter2" {
		t.Errorf("stored secret decrypts to %q (%v), want hunter2", plain, err)
	}
}

func TestCreateConfig_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrg(t, "acme")

	for _, missing := range []string{"issuer_url", "client_id", "client_secret"} {
		payload := createPayload()
		delete(payload, missing)
		rec := env.do(env.adminRequest(http.MethodPost, "/api/v1/orgs/acme/sso/configurations", payload))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("missing %s: status = %d, want 400", missing, rec.Code)
		}
	}
}

func TestCreateConfig_SecondEnabledConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrg(t, "acme")

	if rec := env.do(env.adminRequest(http.MethodPost, "/api/v1/orgs/acme/sso/configurations", createPayload())); rec.Code != http.StatusCreated {
		t.Fatalf("first create: %d", rec.Code)
	}
	rec := env.do(env.adminRequest(http.MethodPost, "/api/v1/orgs/acme/sso/configurations", createPayload()))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second enabled create: status = %d, want 409", rec.Code)
	}
}

func TestCreateConfig_UnknownOrg(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(env.adminRequest(http.MethodPost, "/api/v1/orgs/ghost/sso/configurations", createPayload()))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateConfig_KeepsSecretWhenOmittedOrMasked(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrg(t, "acme")

	rec := env.do(env.adminRequest(http.MethodPost, "/api/v1/orgs/acme/sso/configurations", createPayload()))
	var created domain.SSOConfiguration
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	before, _ := env.store.GetConfig(context.Background(), created.ID)
	path := fmt.Sprintf("/api/v1/orgs/acme/sso/configurations/%s", created.ID)

	// PATCH without client_secret keeps the stored ciphertext.
	rec = env.do(env.adminRequest(http.MethodPatch, path, map[string]any{"default_role": "engineer"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
	}
	after, _ := env.store.GetConfig(context.Background(), created.ID)
	if after.ClientSecretEncrypted != before.ClientSecretEncrypted {
		t.Error("patch without secret replaced the stored ciphertext")
	}
	if after.DefaultRole != "engineer" {
		t.Errorf("default_role = %q", after.DefaultRole)
	}

	// Sending the mask back (as a UI round-trip would) also keeps it.
	rec = env.do(env.adminRequest(http.MethodPatch, path, map[string]any{"client_secret": secretMask}))
	if rec.Code != http.StatusOK {
		t.Fatalf("patch with mask: %d", rec.Code)
	}
	after, _ = env.store.GetConfig(context.Background(), created.ID)
	if after.ClientSecretEncrypted != before.ClientSecretEncrypted {
		t.Error("patch with masked secret replaced the stored ciphertext")
	}

	// A real new secret re-encrypts.
	rec = env.do(env.adminRequest(http.MethodPatch, path, map[string]any{"client_secret": "rotated"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("patch with new secret: %d", rec.Code)
	}
	after, _ = env.store.GetConfig(context.Background(), created.ID)
	plain, err := secrets.Decrypt(after.ClientSecretEncrypted, testCipherKey)
	if err != nil || plain != "rotated" {
		t.Errorf("rotated secret decrypts to %q (%v)", plain, err)
	}
}

func TestGetConfig_CrossOrgHidden(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrg(t, "acme")
	env.seedOrg(t, "globex")

	rec := env.do(env.adminRequest(http.MethodPost, "/api/v1/orgs/acme/sso/configurations", createPayload()))
	var created domain.SSOConfiguration
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = env.do(env.adminRequest(http.MethodGet, "/api/v1/orgs/globex/sso/configurations/"+created.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-org get: status = %d, want 404", rec.Code)
	}
}

func TestDeleteConfig(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrg(t, "acme")

	rec := env.do(env.adminRequest(http.MethodPost, "/api/v1/orgs/acme/sso/configurations", createPayload()))
	var created domain.SSOConfiguration
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	path := "/api/v1/orgs/acme/sso/configurations/" + created.ID
	rec = env.do(env.adminRequest(http.MethodDelete, path, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	if rec = env.do(env.adminRequest(http.MethodGet, path, nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d, want 404", rec.Code)
	}
}

func TestListConfigs_SecretsMasked(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrg(t, "acme")
	env.do(env.adminRequest(http.MethodPost, "/api/v1/orgs/acme/sso/configurations", createPayload()))

	rec := env.do(env.adminRequest(http.MethodGet, "/api/v1/orgs/acme/sso/configurations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var out struct {
		Configurations []*domain.SSOConfiguration `json:"configurations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Configurations) != 1 {
		t.Fatalf("got %d configurations", len(out.Configurations))
	}
	if out.Configurations[0].ClientSecretMasked != secretMask {
		t.Errorf("listed secret = %q, want masked", out.Configurations[0].ClientSecretMasked)
	}
	if out.Configurations[0].ClientSecretEncrypted != "" {
		t.Error("ciphertext leaked into the list response")
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrg(t, "acme")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orgs/acme/sso/configurations", nil)
	if rec := env.do(req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token: status = %d, want 401", rec.Code)
	}
}

func TestListAudit(t *testing.T) {
	env := newTestEnv(t)
	org := env.seedOrg(t, "acme")
	env.do(env.adminRequest(http.MethodPost, "/api/v1/orgs/acme/sso/configurations", createPayload()))

	rec := env.do(env.adminRequest(http.MethodGet, "/api/v1/orgs/acme/audit", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list audit: %d", rec.Code)
	}
	var out struct {
		Events []*audit.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Events) == 0 {
		t.Fatal("no audit events recorded for config create")
	}
	ev := out.Events[0]
	if ev.OrganizationID != org.ID || ev.Action != audit.ActionConfigCreate {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp.After(time.Now().Add(time.Minute)) {
		t.Errorf("event timestamp in the future: %v", ev.Timestamp)
	}
}
