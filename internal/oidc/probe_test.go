package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbe_HealthyEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing client_id", http.StatusBadRequest)
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
	})
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pool := NewPool(DefaultPoolConfig())
	results := pool.Probe(context.Background(), EndpointConfiguration{
		AuthorizationURL: srv.URL + "/authorize",
		TokenURL:         srv.URL + "/token",
		UserInfoURL:      srv.URL + "/userinfo",
		RevocationURL:    srv.URL + "/revoke",
	})

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, result := range results {
		if !result.Healthy {
			t.Errorf("%s endpoint unhealthy: status=%d detail=%s", result.Endpoint, result.ActualStatus, result.Detail)
		}
	}
}

func TestProbe_MisbehavingEndpoint(t *testing.T) {
	// A token endpoint answering 200 to an empty form is misconfigured.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "anything-goes"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pool := NewPool(DefaultPoolConfig())
	results := pool.Probe(context.Background(), EndpointConfiguration{
		AuthorizationURL: "",
		TokenURL:         srv.URL + "/token",
	})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Healthy {
		t.Error("expected token endpoint to be reported unhealthy")
	}
	if results[0].ActualStatus != http.StatusOK {
		t.Errorf("actual status: got %d", results[0].ActualStatus)
	}
}

func TestProbe_AuthorizationEndpointLeniency(t *testing.T) {
	// Authorization endpoints may serve a login/error page (200) to the
	// invalid probe request; that still counts as healthy. A 404 does not.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login-page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>sign in</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pool := NewPool(DefaultPoolConfig())

	results := pool.Probe(context.Background(), EndpointConfiguration{
		AuthorizationURL: srv.URL + "/login-page",
	})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Healthy {
		t.Errorf("login page response should be healthy: status=%d", results[0].ActualStatus)
	}
	if results[0].Detail == "" {
		t.Error("expected a detail note for the non-standard status")
	}

	results = pool.Probe(context.Background(), EndpointConfiguration{
		AuthorizationURL: srv.URL + "/missing",
	})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Healthy {
		t.Errorf("404 from the authorization endpoint must be unhealthy")
	}
	if results[0].ActualStatus != http.StatusNotFound {
		t.Errorf("actual status: got %d", results[0].ActualStatus)
	}
}

func TestProbe_UnreachableEndpoint(t *testing.T) {
	pool := NewPool(DefaultPoolConfig())
	results := pool.Probe(context.Background(), EndpointConfiguration{
		AuthorizationURL: "http://127.0.0.1:1/authorize",
		TokenURL:         "http://127.0.0.1:1/token",
	})

	for _, result := range results {
		if result.Healthy {
			t.Errorf("%s: expected unhealthy for unreachable endpoint", result.Endpoint)
		}
		if result.Detail == "" {
			t.Errorf("%s: expected a detail message", result.Endpoint)
		}
	}
}

func TestProbe_SkipsUnconfiguredEndpoints(t *testing.T) {
	pool := NewPool(DefaultPoolConfig())
	results := pool.Probe(context.Background(), EndpointConfiguration{})
	if len(results) != 0 {
		t.Errorf("expected no results for empty configuration, got %d", len(results))
	}
}
