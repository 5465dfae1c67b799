package cmd

import (
	"fmt"
	"os"
	"time"
)

// DiscoverOptions are the discover subcommand flags.
type DiscoverOptions struct {
	ConfigFile string
	Network    string
	Aggressive bool
	TimeoutSec int
	JSON       bool
	NoCache    bool
	Verbose    bool
}

// RunDiscover scans the network and prints the device list.
func RunDiscover(opts DiscoverOptions) int {
	tk, err := buildToolkit(opts.ConfigFile, opts.Verbose)
	if err != nil {
		return usageError("discover: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	dopts := tk.cfg.DiscoveryOptions()
	if opts.Network != "" {
		dopts.Network = opts.Network
	}
	if opts.Aggressive {
		dopts.Aggressive = true
	}
	if opts.TimeoutSec > 0 {
		dopts.Timeout = time.Duration(opts.TimeoutSec) * time.Second
	}

	devices, err := tk.discoverer.Discover(ctx, dopts)
	if err != nil && len(devices) == 0 {
		fmt.Fprintf(os.Stderr, "discover: %v\n", err)
		return ExitFailed
	}
	interrupted := err != nil

	if !opts.NoCache {
		if store := tk.openCache(); store != nil {
			defer store.Close()
			for _, dev := range devices {
				if cerr := store.Upsert(dev); cerr != nil {
					tk.logger.Warn("cache write failed", "device", dev.Identity(), "error", cerr)
				}
			}
		}
	}

	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "no devices discovered")
		return ExitNoTarget
	}

	if opts.JSON {
		if err := printJSON(devices); err != nil {
			return ExitFailed
		}
	} else {
		for _, dev := range devices {
			name := dev.FriendlyName
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("%-16s %-6d %-30s %s %s [%s]\n",
				dev.IP, dev.Port, name, dev.Manufacturer, dev.ModelName, dev.DiscoveryMethod)
		}
	}

	if interrupted {
		return ExitPartial
	}
	return ExitOK
}
