package sso

import (
	"context"
	"testing"

	"doorpasses/internal/storage"
)

func TestGetStrategy_CachesUntilRefreshed(t *testing.T) {
	ctx := context.Background()
	idp := newMockIdP(t)
	store := storage.NewMemoryStore()
	svc := newTestService(t, store)
	org := seedOrg(t, store, "acme")
	cfg := seedEnabledConfig(t, svc, store, idp, org.ID)

	strat, err := svc.GetStrategy(ctx, org)
	if err != nil {
		t.Fatalf("GetStrategy: %v", err)
	}
	if strat == nil || strat.Config.ID != cfg.ID {
		t.Fatalf("strategy = %+v", strat)
	}
	if strat.OAuth2.ClientSecret != "s3cret" {
		t.Errorf("client secret not decrypted")
	}
	if strat.Endpoints.TokenURL != idp.issuer+"/token" {
		t.Errorf("token URL = %q", strat.Endpoints.TokenURL)
	}

	// Disabling the configuration is invisible until the strategy is
	// refreshed.
	cfg.Enabled = false
	if err := store.UpdateConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	if cached, err := svc.GetStrategy(ctx, org); err != nil || cached == nil {
		t.Fatalf("expected cached strategy, got %v, %v", cached, err)
	}

	svc.RefreshStrategy(org.ID)
	after, err := svc.GetStrategy(ctx, org)
	if err != nil {
		t.Fatalf("GetStrategy after refresh: %v", err)
	}
	if after != nil {
		t.Error("strategy served for organization with no enabled configuration")
	}
}

func TestGetStrategy_NoEnabledConfig(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestService(t, store)
	org := seedOrg(t, store, "acme")

	strat, err := svc.GetStrategy(context.Background(), org)
	if err != nil {
		t.Fatalf("GetStrategy: %v", err)
	}
	if strat != nil {
		t.Errorf("strategy = %+v, want nil", strat)
	}
}

func TestTestConnection(t *testing.T) {
	ctx := context.Background()
	idp := newMockIdP(t)
	store := storage.NewMemoryStore()
	svc := newTestService(t, store)
	org := seedOrg(t, store, "acme")
	cfg := seedEnabledConfig(t, svc, store, idp, org.ID)

	result, err := svc.TestConnection(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if !result.FromDiscovery {
		t.Error("endpoints not resolved via discovery")
	}
	if result.Issuer != idp.issuer {
		t.Errorf("issuer = %q", result.Issuer)
	}
	if len(result.Probes) == 0 {
		t.Fatal("no endpoint probes ran")
	}
	for _, p := range result.Probes {
		if !p.Healthy {
			t.Errorf("endpoint %s unhealthy: %s", p.Endpoint, p.Detail)
		}
	}

	stored, err := store.GetConfig(ctx, cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastTested == nil {
		t.Error("last_tested not recorded")
	}
}
