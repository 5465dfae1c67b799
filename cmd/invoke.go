package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/wyatt727/upnp-cli/internal/control"
)

// InvokeOptions are the invoke subcommand flags.
type InvokeOptions struct {
	ConfigFile string
	Target     string   // description URL or host[:port]
	Action     string   // "Action" or "service#Action"
	Args       []string // key=value pairs
	NoProfile  bool     // skip SCPD profiling before the call
	DryRun     bool
	Stealth    bool
	JSON       bool
	Verbose    bool
}

// RunInvoke executes one action against one device.
func RunInvoke(opts InvokeOptions) int {
	if opts.Target == "" || opts.Action == "" {
		return usageError("invoke: --target and an action are required")
	}
	args, err := parseArgs(opts.Args)
	if err != nil {
		return usageError("invoke: %v", err)
	}

	tk, err := buildToolkit(opts.ConfigFile, opts.Verbose)
	if err != nil {
		return usageError("invoke: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	dev, err := tk.resolveTarget(ctx, opts.Target, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invoke: %v\n", err)
		return ExitNoTarget
	}

	copts := tk.cfg.ControlOptions()
	copts.DryRun = opts.DryRun
	copts.Verbose = opts.Verbose
	if opts.Stealth {
		copts.Stealth = true
	}
	if !opts.NoProfile {
		if inv, perr := tk.profiler.ProfileDevice(ctx, dev); perr == nil {
			copts.Inventory = inv
		} else {
			tk.logger.Warn("profiling failed, invoking without inventory", "error", perr)
		}
	}

	match := tk.matcher.Best(dev)
	res := tk.controller.Invoke(ctx, dev, match, opts.Action, args, copts)

	if opts.JSON {
		if err := printJSON(res); err != nil {
			return ExitFailed
		}
	} else {
		printResult(res)
	}

	switch res.Status {
	case control.StatusOK:
		return ExitOK
	case control.StatusPartial:
		return ExitPartial
	default:
		return ExitFailed
	}
}

// parseArgs turns key=value pairs into the argument map.
func parseArgs(pairs []string) (map[string]string, error) {
	args := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("argument %q is not key=value", p)
		}
		args[k] = v
	}
	return args, nil
}

// printResult renders an invocation result for humans.
func printResult(res *control.Result) {
	fmt.Printf("status: %s  protocol: %s  action: %s", res.Status, res.Protocol, res.Action)
	if res.Elapsed > 0 {
		fmt.Printf("  elapsed: %s", res.Elapsed)
	}
	fmt.Println()

	if res.Request != "" {
		fmt.Println("--- request ---")
		fmt.Println(res.Request)
	}
	for k, v := range res.Outputs {
		fmt.Printf("  %s = %s\n", k, v)
	}
	if res.Error != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", res.Error.Error())
	}
}
