package cmd

import (
	"fmt"
	"os"

	"github.com/wyatt727/upnp-cli/internal/assess"
)

// MassOptions are the mass subcommand flags.
type MassOptions struct {
	ConfigFile  string
	Network     string
	Aggressive  bool
	FullProfile bool
	JSON        bool
	Verbose     bool
}

// RunMass discovers the whole network and prints the prioritized
// assessment report.
func RunMass(opts MassOptions) int {
	tk, err := buildToolkit(opts.ConfigFile, opts.Verbose)
	if err != nil {
		return usageError("mass: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	aopts := assess.Options{
		Discovery:   tk.cfg.DiscoveryOptions(),
		FullProfile: opts.FullProfile,
	}
	if opts.Network != "" {
		aopts.Discovery.Network = opts.Network
	}
	if opts.Aggressive {
		aopts.Discovery.Aggressive = true
	}

	report, err := tk.orchestrator().Run(ctx, aopts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mass: %v\n", err)
		return ExitFailed
	}
	if len(report.Targets) == 0 {
		fmt.Fprintln(os.Stderr, "no devices discovered")
		return ExitNoTarget
	}

	if store := tk.openCache(); store != nil {
		defer store.Close()
		for _, a := range report.Targets {
			if cerr := store.Upsert(a.Device); cerr != nil {
				tk.logger.Warn("cache write failed", "device", a.Device.Identity(), "error", cerr)
			}
		}
	}

	if opts.JSON {
		if err := printJSON(report); err != nil {
			return ExitFailed
		}
	} else {
		printReport(report)
	}

	if ctx.Err() != nil {
		return ExitPartial
	}
	return ExitOK
}

// printReport renders the assessment report in priority order.
func printReport(report *assess.Report) {
	fmt.Printf("targets: %d  (high: %d, medium: %d, low: %d, unknown: %d)\n\n",
		len(report.Targets),
		len(report.Buckets[assess.BucketHigh]),
		len(report.Buckets[assess.BucketMedium]),
		len(report.Buckets[assess.BucketLow]),
		len(report.Buckets[assess.BucketUnknown]))

	for _, a := range report.Targets {
		dev := a.Device
		name := dev.FriendlyName
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%3d %-7s %-16s %-30s %s\n",
			a.PriorityScore, a.Bucket, dev.IP, name, a.PrimaryProtocol)
		for _, f := range a.SecurityFindings {
			fmt.Printf("      ! %s\n", f)
		}
	}
}
