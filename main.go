package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wyatt727/upnp-cli/cmd"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(cmd.ExitUsage)
	}

	switch os.Args[1] {
	case "discover":
		fs := flag.NewFlagSet("discover", flag.ExitOnError)
		opts := cmd.DiscoverOptions{}
		fs.StringVar(&opts.ConfigFile, "config", "", "Configuration file (HCL)")
		fs.StringVar(&opts.Network, "network", "", "Network CIDR (auto-detected when empty)")
		fs.BoolVar(&opts.Aggressive, "aggressive", false, "Add a port sweep for silent devices")
		fs.IntVar(&opts.TimeoutSec, "timeout", 0, "SSDP listen window in seconds")
		fs.BoolVar(&opts.JSON, "json", false, "JSON output")
		fs.BoolVar(&opts.NoCache, "no-cache", false, "Skip the device cache")
		fs.BoolVar(&opts.Verbose, "v", false, "Verbose logging")
		fs.Parse(os.Args[2:])
		os.Exit(cmd.RunDiscover(opts))

	case "profile":
		fs := flag.NewFlagSet("profile", flag.ExitOnError)
		opts := cmd.ProfileOptions{}
		fs.StringVar(&opts.ConfigFile, "config", "", "Configuration file (HCL)")
		fs.StringVar(&opts.Target, "target", "", "Device IP, host:port, or description URL")
		fs.BoolVar(&opts.JSON, "json", false, "JSON output")
		fs.BoolVar(&opts.NoCache, "no-cache", false, "Skip the device cache")
		fs.BoolVar(&opts.Verbose, "v", false, "Verbose logging")
		fs.Parse(os.Args[2:])
		if opts.Target == "" && fs.NArg() > 0 {
			opts.Target = fs.Arg(0)
		}
		os.Exit(cmd.RunProfile(opts))

	case "invoke":
		fs := flag.NewFlagSet("invoke", flag.ExitOnError)
		opts := cmd.InvokeOptions{}
		fs.StringVar(&opts.ConfigFile, "config", "", "Configuration file (HCL)")
		fs.StringVar(&opts.Target, "target", "", "Device IP, host:port, or description URL")
		fs.BoolVar(&opts.NoProfile, "no-profile", false, "Invoke without SCPD profiling")
		fs.BoolVar(&opts.DryRun, "dry-run", false, "Render the request without sending")
		fs.BoolVar(&opts.Stealth, "stealth", false, "Rotate identity and jitter requests")
		fs.BoolVar(&opts.JSON, "json", false, "JSON output")
		fs.BoolVar(&opts.Verbose, "v", false, "Verbose logging")
		fs.Parse(os.Args[2:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "invoke: an action is required, e.g. avtransport#Play")
			os.Exit(cmd.ExitUsage)
		}
		opts.Action = fs.Arg(0)
		opts.Args = fs.Args()[1:]
		os.Exit(cmd.RunInvoke(opts))

	case "mass":
		fs := flag.NewFlagSet("mass", flag.ExitOnError)
		opts := cmd.MassOptions{}
		fs.StringVar(&opts.ConfigFile, "config", "", "Configuration file (HCL)")
		fs.StringVar(&opts.Network, "network", "", "Network CIDR (auto-detected when empty)")
		fs.BoolVar(&opts.Aggressive, "aggressive", false, "Add a port sweep for silent devices")
		fs.BoolVar(&opts.FullProfile, "full", false, "Full SCPD profiling of every device")
		fs.BoolVar(&opts.JSON, "json", false, "JSON output")
		fs.BoolVar(&opts.Verbose, "v", false, "Verbose logging")
		fs.Parse(os.Args[2:])
		os.Exit(cmd.RunMass(opts))

	case "cache":
		fs := flag.NewFlagSet("cache", flag.ExitOnError)
		opts := cmd.CacheOptions{}
		fs.StringVar(&opts.ConfigFile, "config", "", "Configuration file (HCL)")
		fs.BoolVar(&opts.JSON, "json", false, "JSON output")
		fs.BoolVar(&opts.Verbose, "v", false, "Verbose logging")
		fs.Parse(os.Args[2:])
		opts.Op = fs.Arg(0)
		os.Exit(cmd.RunCache(opts))

	case "help", "-h", "--help":
		printUsage()
		os.Exit(cmd.ExitOK)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(cmd.ExitUsage)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `upnp-cli - UPnP discovery, profiling, and control

Usage:
  upnp-cli discover [--network CIDR] [--aggressive] [--timeout N] [--json]
  upnp-cli profile  --target HOST[:PORT]|URL [--json]
  upnp-cli invoke   --target HOST[:PORT]|URL [flags] ACTION [key=value ...]
  upnp-cli mass     [--network CIDR] [--aggressive] [--full] [--json]
  upnp-cli cache    [list|prune]

ACTION is either a bare action name (Play) or service-qualified
(avtransport#Play). Flags common to all commands:
  --config FILE   HCL configuration file
  --json          machine-readable output
  -v              verbose logging
`)
}
