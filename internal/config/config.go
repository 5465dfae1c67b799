// Package config loads tool configuration from HCL files and converts
// it into the per-engine config structs. Every field has a default;
// a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/wyatt727/upnp-cli/internal/control"
	"github.com/wyatt727/upnp-cli/internal/discovery"
	"github.com/wyatt727/upnp-cli/internal/probe"
	"github.com/wyatt727/upnp-cli/internal/scpd"
)

// Config is the root configuration document.
type Config struct {
	Discovery *DiscoveryBlock `hcl:"discovery,block"`
	Profiling *ProfilingBlock `hcl:"profiling,block"`
	Control   *ControlBlock   `hcl:"control,block"`
	Stealth   *StealthBlock   `hcl:"stealth,block"`
	Cache     *CacheBlock     `hcl:"cache,block"`
	Profiles  *ProfilesBlock  `hcl:"profiles,block"`
}

// DiscoveryBlock configures the discovery engine.
type DiscoveryBlock struct {
	Network          string `hcl:"network,optional"`
	TimeoutSeconds   int    `hcl:"timeout_seconds,optional"`
	Aggressive       bool   `hcl:"aggressive,optional"`
	Ports            []int  `hcl:"ports,optional"`
	SweepConcurrency int    `hcl:"sweep_concurrency,optional"`
	SweepRate        int    `hcl:"sweep_rate,optional"`
	FetchConcurrency int    `hcl:"fetch_concurrency,optional"`
	PingFirst        bool   `hcl:"ping_first,optional"`
}

// ProfilingBlock configures the SCPD profiler.
type ProfilingBlock struct {
	HTTPTimeoutSeconds int `hcl:"http_timeout_seconds,optional"`
	DeviceConcurrency  int `hcl:"device_concurrency,optional"`
	MassConcurrency    int `hcl:"mass_concurrency,optional"`
}

// ControlBlock configures the control engine.
type ControlBlock struct {
	TimeoutSeconds int  `hcl:"timeout_seconds,optional"`
	Retry          bool `hcl:"retry,optional"`
	MaxAttempts    int  `hcl:"max_attempts,optional"`
	UseSSL         bool `hcl:"use_ssl,optional"`
	VerifyTLS      bool `hcl:"verify_tls,optional"`
	SnippetLimit   int  `hcl:"snippet_limit,optional"`
}

// StealthBlock configures the rotating request identity.
type StealthBlock struct {
	Enabled    bool `hcl:"enabled,optional"`
	MinDelayMS int  `hcl:"min_delay_ms,optional"`
	MaxDelayMS int  `hcl:"max_delay_ms,optional"`
}

// CacheBlock configures the device cache.
type CacheBlock struct {
	Path        string `hcl:"path,optional"`
	MaxAgeHours int    `hcl:"max_age_hours,optional"`
}

// ProfilesBlock points at a directory of user profile files. Files
// there override the built-in profiles by name.
type ProfilesBlock struct {
	Dir string `hcl:"dir,optional"`
}

// Default returns the fully-populated default configuration.
func Default() *Config {
	return &Config{
		Discovery: &DiscoveryBlock{
			TimeoutSeconds:   5,
			SweepConcurrency: 256,
			SweepRate:        512,
			FetchConcurrency: 32,
		},
		Profiling: &ProfilingBlock{
			HTTPTimeoutSeconds: 10,
			DeviceConcurrency:  8,
			MassConcurrency:    16,
		},
		Control: &ControlBlock{
			TimeoutSeconds: 10,
			Retry:          true,
			MaxAttempts:    3,
			SnippetLimit:   300,
		},
		Stealth: &StealthBlock{
			MinDelayMS: 50,
			MaxDelayMS: 400,
		},
		Cache: &CacheBlock{
			Path:        "upnp-cli-cache.db",
			MaxAgeHours: 24,
		},
		Profiles: &ProfilesBlock{},
	}
}

// Load reads an HCL file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var loaded Config
	if err := hclsimple.DecodeFile(path, nil, &loaded); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.merge(&loaded)
	return cfg, nil
}

// Parse decodes HCL source held in memory over the defaults. The
// filename only labels diagnostics.
func Parse(filename string, src []byte) (*Config, error) {
	cfg := Default()
	var loaded Config
	if err := hclsimple.Decode(filename, src, nil, &loaded); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", filename, err)
	}
	cfg.merge(&loaded)
	return cfg, nil
}

// merge overlays non-zero loaded values onto the defaults. Booleans
// from a present block always win so a block can switch a flag off.
func (c *Config) merge(o *Config) {
	if o.Discovery != nil {
		overlayInt(&c.Discovery.TimeoutSeconds, o.Discovery.TimeoutSeconds)
		overlayInt(&c.Discovery.SweepConcurrency, o.Discovery.SweepConcurrency)
		overlayInt(&c.Discovery.SweepRate, o.Discovery.SweepRate)
		overlayInt(&c.Discovery.FetchConcurrency, o.Discovery.FetchConcurrency)
		if o.Discovery.Network != "" {
			c.Discovery.Network = o.Discovery.Network
		}
		if len(o.Discovery.Ports) > 0 {
			c.Discovery.Ports = o.Discovery.Ports
		}
		c.Discovery.Aggressive = o.Discovery.Aggressive
		c.Discovery.PingFirst = o.Discovery.PingFirst
	}
	if o.Profiling != nil {
		overlayInt(&c.Profiling.HTTPTimeoutSeconds, o.Profiling.HTTPTimeoutSeconds)
		overlayInt(&c.Profiling.DeviceConcurrency, o.Profiling.DeviceConcurrency)
		overlayInt(&c.Profiling.MassConcurrency, o.Profiling.MassConcurrency)
	}
	if o.Control != nil {
		overlayInt(&c.Control.TimeoutSeconds, o.Control.TimeoutSeconds)
		overlayInt(&c.Control.MaxAttempts, o.Control.MaxAttempts)
		overlayInt(&c.Control.SnippetLimit, o.Control.SnippetLimit)
		c.Control.Retry = o.Control.Retry
		c.Control.UseSSL = o.Control.UseSSL
		c.Control.VerifyTLS = o.Control.VerifyTLS
	}
	if o.Stealth != nil {
		overlayInt(&c.Stealth.MinDelayMS, o.Stealth.MinDelayMS)
		overlayInt(&c.Stealth.MaxDelayMS, o.Stealth.MaxDelayMS)
		c.Stealth.Enabled = o.Stealth.Enabled
	}
	if o.Cache != nil {
		if o.Cache.Path != "" {
			c.Cache.Path = o.Cache.Path
		}
		overlayInt(&c.Cache.MaxAgeHours, o.Cache.MaxAgeHours)
	}
	if o.Profiles != nil && o.Profiles.Dir != "" {
		c.Profiles.Dir = o.Profiles.Dir
	}
}

func overlayInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// Validate rejects settings no engine can honor.
func (c *Config) Validate() error {
	if c.Discovery.TimeoutSeconds < 0 {
		return fmt.Errorf("discovery timeout_seconds must not be negative")
	}
	if c.Control.MaxAttempts < 1 {
		return fmt.Errorf("control max_attempts must be at least 1")
	}
	if c.Stealth.MinDelayMS > c.Stealth.MaxDelayMS {
		return fmt.Errorf("stealth min_delay_ms exceeds max_delay_ms")
	}
	return nil
}

// FetchConfig builds the shared HTTP fetcher configuration.
func (c *Config) FetchConfig() probe.FetchConfig {
	fc := probe.DefaultFetchConfig()
	fc.Timeout = time.Duration(c.Control.TimeoutSeconds) * time.Second
	fc.Stealth = c.Stealth.Enabled
	fc.StealthMin = time.Duration(c.Stealth.MinDelayMS) * time.Millisecond
	fc.StealthMax = time.Duration(c.Stealth.MaxDelayMS) * time.Millisecond
	fc.VerifyTLS = c.Control.VerifyTLS
	return fc
}

// DiscoveryConfig builds the discovery engine configuration.
func (c *Config) DiscoveryConfig() discovery.Config {
	dc := discovery.DefaultConfig()
	dc.FetchConcurrency = c.Discovery.FetchConcurrency
	dc.Sweep.Concurrency = c.Discovery.SweepConcurrency
	dc.Sweep.RatePerSecond = c.Discovery.SweepRate
	dc.Sweep.PingFirst = c.Discovery.PingFirst
	return dc
}

// DiscoveryOptions builds per-run discovery options.
func (c *Config) DiscoveryOptions() discovery.Options {
	return discovery.Options{
		Network:    c.Discovery.Network,
		Timeout:    time.Duration(c.Discovery.TimeoutSeconds) * time.Second,
		Aggressive: c.Discovery.Aggressive,
		Ports:      c.Discovery.Ports,
	}
}

// ProfilerConfig builds the SCPD profiler configuration.
func (c *Config) ProfilerConfig() scpd.Config {
	return scpd.Config{
		HTTPTimeout:       time.Duration(c.Profiling.HTTPTimeoutSeconds) * time.Second,
		DeviceConcurrency: c.Profiling.DeviceConcurrency,
		MassConcurrency:   c.Profiling.MassConcurrency,
	}
}

// ControlConfig builds the control engine configuration.
func (c *Config) ControlConfig() control.Config {
	cc := control.DefaultConfig()
	cc.Timeout = time.Duration(c.Control.TimeoutSeconds) * time.Second
	cc.SnippetLimit = c.Control.SnippetLimit
	cc.Fetch = c.FetchConfig()
	return cc
}

// ControlOptions builds default invocation options.
func (c *Config) ControlOptions() control.Options {
	opts := control.DefaultOptions()
	opts.Timeout = time.Duration(c.Control.TimeoutSeconds) * time.Second
	opts.UseSSL = c.Control.UseSSL
	opts.VerifyTLS = c.Control.VerifyTLS
	opts.Stealth = c.Stealth.Enabled
	opts.Retry = c.Control.Retry
	opts.MaxAttempts = c.Control.MaxAttempts
	return opts
}

// CacheMaxAge returns the cache TTL.
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeHours) * time.Hour
}
