package oidc

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout  = 15 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
	defaultMaxIdlePerHost  = 10

	// Outbound ceiling per identity-provider host. Many tenants share a
	// handful of large providers; this keeps one tenant's login storm from
	// exhausting the provider's rate limits for everyone.
	defaultHostRPS   = 50.0
	defaultHostBurst = 100
)

// PoolConfig configures the outbound HTTP connection pool.
type PoolConfig struct {
	// RequestTimeout is the per-request deadline applied via the client.
	RequestTimeout time.Duration
	// MaxIdleConnsPerHost bounds kept-alive connections to each IdP host.
	MaxIdleConnsPerHost int
	// HostRPS and HostBurst bound the outbound request rate per host.
	// Zero RPS disables the limiter.
	HostRPS   float64
	HostBurst int
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		RequestTimeout:      defaultRequestTimeout,
		MaxIdleConnsPerHost: defaultMaxIdlePerHost,
		HostRPS:             defaultHostRPS,
		HostBurst:           defaultHostBurst,
	}
}

// Pool is a shared outbound HTTP client for identity-provider calls.
// Connection reuse avoids repeated TLS handshakes to the same IdP host
// across many tenants' login attempts. Safe for concurrent use.
type Pool struct {
	client *http.Client

	hostRPS   float64
	hostBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPool creates a connection pool with the given configuration.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = defaultMaxIdlePerHost
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Pool{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		hostRPS:   cfg.HostRPS,
		hostBurst: cfg.HostBurst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Client returns the pooled *http.Client, for libraries that take a client
// directly (oauth2 exchange, JWKS fetching).
func (p *Pool) Client() *http.Client {
	return p.client
}

// Do executes one HTTP request through the pool, waiting on the per-host
// rate limiter first. The request context is the effective deadline for
// both the limiter wait and the request itself.
func (p *Pool) Do(req *http.Request) (*http.Response, error) {
	if p.hostRPS > 0 {
		limiter := p.hostLimiter(req.URL.Host)
		if err := limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait for %s: %w", req.URL.Host, err)
		}
	}
	return p.client.Do(req)
}

func (p *Pool) hostLimiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(p.hostRPS), p.hostBurst)
		p.limiters[host] = limiter
	}
	return limiter
}

// CloseIdleConnections drops kept-alive connections, for shutdown.
func (p *Pool) CloseIdleConnections() {
	p.client.CloseIdleConnections()
}
