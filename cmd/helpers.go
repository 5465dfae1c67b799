// Package cmd holds the CLI subcommand entry points. Each RunXxx
// function wires the engines from configuration, runs one operation,
// and returns an exit code per the contract: 0 success, 2 usage or
// validation error, 3 nothing discovered, 4 action failed, 5 partial
// success in a mass operation.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wyatt727/upnp-cli/internal/assess"
	"github.com/wyatt727/upnp-cli/internal/cache"
	"github.com/wyatt727/upnp-cli/internal/config"
	"github.com/wyatt727/upnp-cli/internal/control"
	"github.com/wyatt727/upnp-cli/internal/discovery"
	"github.com/wyatt727/upnp-cli/internal/logging"
	"github.com/wyatt727/upnp-cli/internal/probe"
	"github.com/wyatt727/upnp-cli/internal/profile"
	"github.com/wyatt727/upnp-cli/internal/scpd"
)

// Exit codes for the CLI contract.
const (
	ExitOK       = 0
	ExitUsage    = 2
	ExitNoTarget = 3
	ExitFailed   = 4
	ExitPartial  = 5
)

// toolkit bundles the configured engines for one command run.
type toolkit struct {
	cfg        *config.Config
	logger     *logging.Logger
	discoverer *discovery.Engine
	profiler   *scpd.Profiler
	controller *control.Engine
	matcher    *profile.Matcher
}

// buildToolkit loads configuration and constructs the engines.
func buildToolkit(configFile string, verbose bool) (*toolkit, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	if verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger := logging.New(logCfg)

	store, err := profileStore(logger, cfg)
	if err != nil {
		return nil, err
	}

	fetcher := probe.NewFetcher(logger, cfg.FetchConfig())
	return &toolkit{
		cfg:        cfg,
		logger:     logger,
		discoverer: discovery.New(logger, fetcher, cfg.DiscoveryConfig()),
		profiler:   scpd.New(logger, fetcher, cfg.ProfilerConfig()),
		controller: control.New(logger, cfg.ControlConfig()),
		matcher:    profile.NewMatcher(store),
	}, nil
}

// profileStore loads the builtin profiles, overlaid with the user
// profile directory when configured.
func profileStore(logger *logging.Logger, cfg *config.Config) (*profile.Store, error) {
	if cfg.Profiles.Dir != "" {
		return profile.NewStoreFromDir(logger, cfg.Profiles.Dir)
	}
	return profile.NewStore(logger)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openCache opens the device cache, or returns nil when caching is off.
func (t *toolkit) openCache() *cache.Store {
	if t.cfg.Cache.Path == "" {
		return nil
	}
	store, err := cache.Open(t.logger, t.cfg.Cache.Path)
	if err != nil {
		t.logger.Warn("cache unavailable", "error", err)
		return nil
	}
	return store
}

// orchestrator builds the mass-scan orchestrator over the toolkit.
func (t *toolkit) orchestrator() *assess.Orchestrator {
	return assess.New(t.logger, t.discoverer, t.profiler, t.matcher)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// usageError prints to stderr and returns the usage exit code.
func usageError(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return ExitUsage
}
