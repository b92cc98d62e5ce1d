package pool

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// HTTPPool interface for HTTP client providers
// Implementations can provide connection pooling, proxies, custom timeouts, etc.
type HTTPPool interface {
	GetHTTPClient() *http.Client
}

// Config holds configuration for the default pool
type Config struct {
	// InsecureSkipVerify allows self-signed certificates (intercepting proxies)
	// WARNING: This should be false in production for security
	InsecureSkipVerify bool

	// ProxyURL routes every request through the given proxy (empty = environment)
	ProxyURL string

	// Connection pool settings
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers only.
	// The client itself has no overall timeout since chat streams are long lived.
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns sensible defaults (secure by default)
func DefaultConfig() *Config {
	return &Config{
		InsecureSkipVerify:    false,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: time.Minute,
	}
}

var (
	defaultPool  HTTPPool
	poolMu       sync.RWMutex
	activeConfig *Config
)

// SetPool sets the global pool used by clients that do not bring their own
func SetPool(pool HTTPPool) {
	poolMu.Lock()
	defer poolMu.Unlock()
	defaultPool = pool
}

// GetPool returns the global pool (creates default if nil)
func GetPool() HTTPPool {
	poolMu.RLock()
	p := defaultPool
	poolMu.RUnlock()
	if p != nil {
		return p
	}

	cfg := GetConfig()
	created, err := New(cfg)
	if err != nil {
		// Only a malformed proxy URL can fail; fall back to a direct pool.
		cfg.ProxyURL = ""
		created, _ = New(cfg)
	}

	poolMu.Lock()
	defer poolMu.Unlock()
	if defaultPool == nil {
		defaultPool = created
	}
	return defaultPool
}

// SetConfig sets the configuration for the default pool
// Must be called before the first GetPool call
func SetConfig(config *Config) {
	poolMu.Lock()
	defer poolMu.Unlock()
	activeConfig = config
}

// GetConfig returns a copy of the current pool configuration
func GetConfig() Config {
	poolMu.RLock()
	defer poolMu.RUnlock()

	if activeConfig == nil {
		return *DefaultConfig()
	}
	return *activeConfig
}

// DefaultPool is the default HTTP pool implementation
type DefaultPool struct {
	httpClient *http.Client
}

// New creates a pool from the given configuration
func New(cfg Config) (*DefaultPool, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}

	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("failed to configure http2: %w", err)
	}

	return &DefaultPool{
		httpClient: &http.Client{Transport: transport},
	}, nil
}

// GetHTTPClient returns the shared HTTP client
func (p *DefaultPool) GetHTTPClient() *http.Client {
	return p.httpClient
}

// Ensure DefaultPool implements HTTPPool
var _ HTTPPool = (*DefaultPool)(nil)
