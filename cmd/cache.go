package cmd

import (
	"fmt"
	"os"
)

// CacheOptions are the cache subcommand flags.
type CacheOptions struct {
	ConfigFile string
	Op         string // list or prune
	JSON       bool
	Verbose    bool
}

// RunCache lists or prunes the device cache.
func RunCache(opts CacheOptions) int {
	tk, err := buildToolkit(opts.ConfigFile, opts.Verbose)
	if err != nil {
		return usageError("cache: %v", err)
	}
	store := tk.openCache()
	if store == nil {
		fmt.Fprintln(os.Stderr, "cache: no cache configured")
		return ExitUsage
	}
	defer store.Close()

	switch opts.Op {
	case "list", "":
		devices, err := store.List(tk.cfg.CacheMaxAge())
		if err != nil {
			fmt.Fprintf(os.Stderr, "cache: %v\n", err)
			return ExitFailed
		}
		if opts.JSON {
			if err := printJSON(devices); err != nil {
				return ExitFailed
			}
			return ExitOK
		}
		for _, dev := range devices {
			fmt.Printf("%-16s %-6d %-30s last seen %s\n",
				dev.IP, dev.Port, dev.FriendlyName, dev.LastSeen.Format("2006-01-02 15:04:05"))
		}
		return ExitOK
	case "prune":
		n, err := store.Prune(tk.cfg.CacheMaxAge())
		if err != nil {
			fmt.Fprintf(os.Stderr, "cache: %v\n", err)
			return ExitFailed
		}
		fmt.Printf("pruned %d entries\n", n)
		return ExitOK
	}
	return usageError("cache: unknown operation %q (want list or prune)", opts.Op)
}
