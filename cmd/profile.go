package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/wyatt727/upnp-cli/internal/device"
	"github.com/wyatt727/upnp-cli/internal/scpd"
)

// ProfileOptions are the profile subcommand flags.
type ProfileOptions struct {
	ConfigFile string
	Target     string // description URL or host[:port]
	JSON       bool
	NoCache    bool
	Verbose    bool
}

// RunProfile fetches a device's SCPDs and prints its action inventory.
func RunProfile(opts ProfileOptions) int {
	if opts.Target == "" {
		return usageError("profile: --target is required")
	}
	tk, err := buildToolkit(opts.ConfigFile, opts.Verbose)
	if err != nil {
		return usageError("profile: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	dev, err := tk.resolveTarget(ctx, opts.Target, opts.NoCache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "profile: %v\n", err)
		return ExitNoTarget
	}

	inv, err := tk.profiler.ProfileDevice(ctx, dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "profile: %v\n", err)
		return ExitFailed
	}

	if opts.JSON {
		if err := printJSON(inv); err != nil {
			return ExitFailed
		}
		return ExitOK
	}
	printInventory(inv)
	return ExitOK
}

// resolveTarget finds the device behind a target string. A fresh cache
// entry for the address wins over a network fetch; either way the
// resolved device refreshes the cache.
func (t *toolkit) resolveTarget(ctx context.Context, target string, noCache bool) (*device.Device, error) {
	if !noCache {
		if cached := t.cachedTarget(target); cached != nil {
			return cached, nil
		}
	}

	dev, err := t.discoverer.Describe(ctx, target)
	if err != nil {
		return nil, err
	}
	if !noCache {
		if s := t.openCache(); s != nil {
			defer s.Close()
			if cerr := s.Upsert(dev); cerr != nil {
				t.logger.Warn("cache write failed", "error", cerr)
			}
		}
	}
	return dev, nil
}

// cachedTarget scans the cache for a device whose address or
// description URL matches the target.
func (t *toolkit) cachedTarget(target string) *device.Device {
	s := t.openCache()
	if s == nil {
		return nil
	}
	defer s.Close()

	devices, err := s.List(t.cfg.CacheMaxAge())
	if err != nil {
		return nil
	}
	for _, dev := range devices {
		if dev.IP == target || dev.Endpoint() == target || dev.DescriptionURL == target {
			return dev
		}
	}
	return nil
}

// printInventory renders the action inventory as a readable table.
func printInventory(inv *scpd.Inventory) {
	dev := inv.Device
	fmt.Printf("%s (%s %s) at %s:%d\n", dev.FriendlyName, dev.Manufacturer, dev.ModelName, dev.IP, dev.Port)
	fmt.Printf("services analyzed: %d  parsed: %d  actions: %d\n\n",
		inv.Analysis.ServicesAnalyzed, inv.Analysis.SuccessfulParses, inv.Analysis.TotalActions)

	for _, name := range inv.ServiceOrder {
		doc := inv.Services[name]
		fmt.Printf("[%s] %d actions\n", name, len(doc.ActionOrder))
		for _, an := range doc.ActionOrder {
			act := doc.Actions[an]
			fmt.Printf("  %-40s %-7s %s (%d in, %d out)\n",
				act.Name, act.Complexity, act.Category,
				len(act.ArgumentsIn), len(act.ArgumentsOut))
		}
	}

	caps := inv.Capabilities
	fmt.Println()
	fmt.Printf("media control: %v  volume control: %v  security-sensitive: %v\n",
		caps.HasMediaControl, caps.HasVolumeControl, caps.HasSecurityActions)
}
