// Package probe holds the low-level network primitives the engines
// build on: the SSDP multicast client, the TCP port sweep, the HTTP
// fetcher with the stealth request identity, and ARP table hints.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/wyatt727/upnp-cli/internal/logging"
)

// userAgents is the rotating identity pool used under stealth.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// FetchConfig holds fetcher configuration.
type FetchConfig struct {
	Timeout     time.Duration
	UserAgent   string
	Stealth     bool
	StealthMin  time.Duration
	StealthMax  time.Duration
	VerifyTLS   bool
	MaxBodySize int64
}

// DefaultFetchConfig returns sensible defaults.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:     10 * time.Second,
		UserAgent:   "upnp-cli/1.0",
		Stealth:     false,
		StealthMin:  50 * time.Millisecond,
		StealthMax:  400 * time.Millisecond,
		VerifyTLS:   false,
		MaxBodySize: 4 << 20,
	}
}

// Fetcher is a shared HTTP client for description, SCPD, and control
// traffic. Under stealth it rotates the user agent and waits a random
// jitter before each request, serializing per-host traffic.
type Fetcher struct {
	cfg    FetchConfig
	logger *logging.Logger
	client *http.Client

	mu      sync.Mutex
	uaIndex int
	hostMu  sync.Map // host -> *sync.Mutex, only used under stealth
}

// NewFetcher creates a fetcher.
func NewFetcher(logger *logging.Logger, cfg FetchConfig) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.StealthMin == 0 {
		cfg.StealthMin = 50 * time.Millisecond
	}
	if cfg.StealthMax <= cfg.StealthMin {
		cfg.StealthMax = 400 * time.Millisecond
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 4 << 20
	}
	transport := &http.Transport{
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
		DisableKeepAlives: true,
	}
	return &Fetcher{
		cfg:     cfg,
		logger:  logger,
		client:  &http.Client{Transport: transport, Timeout: cfg.Timeout},
		uaIndex: rand.Intn(len(userAgents)),
	}
}

// Do sends an HTTP request, applying the stealth identity and jitter
// when enabled. The caller owns the response body.
func (f *Fetcher) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent())
	}
	req.Header.Set("Connection", "close")

	if f.cfg.Stealth {
		unlock := f.lockHost(req.URL.Host)
		defer unlock()
		if err := f.jitter(ctx); err != nil {
			return nil, err
		}
	}

	return f.client.Do(req)
}

// Get fetches a URL and returns the body when the status is 200.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize))
}

// GetWithHeader is Get plus the response header, for callers that need
// the SERVER header of a description endpoint.
func (f *Fetcher) GetWithHeader(ctx context.Context, url string) ([]byte, http.Header, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := f.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.Header, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize))
	return body, resp.Header, err
}

// userAgent returns the configured agent, or the next one from the
// rotating pool under stealth.
func (f *Fetcher) userAgent() string {
	if !f.cfg.Stealth {
		return f.cfg.UserAgent
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ua := userAgents[f.uaIndex%len(userAgents)]
	f.uaIndex++
	return ua
}

// jitter sleeps a random duration in [StealthMin, StealthMax).
func (f *Fetcher) jitter(ctx context.Context) error {
	span := f.cfg.StealthMax - f.cfg.StealthMin
	delay := f.cfg.StealthMin + time.Duration(rand.Int63n(int64(span)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (f *Fetcher) lockHost(host string) func() {
	v, _ := f.hostMu.LoadOrStore(host, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Stealth reports whether the fetcher runs in stealth mode.
func (f *Fetcher) Stealth() bool {
	return f.cfg.Stealth
}
