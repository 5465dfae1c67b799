package probe

import (
	"bufio"
	"os"
	"strings"
)

// arpTablePath is the kernel ARP table. Overridable for tests.
var arpTablePath = "/proc/net/arp"

// ARPEntries reads the kernel ARP table and returns ip -> mac for
// entries with a resolved hardware address. An unreadable table is not
// an error; the sweep just loses its ordering hint.
func ARPEntries() map[string]string {
	f, err := os.Open(arpTablePath)
	if err != nil {
		return nil
	}
	defer f.Close()

	entries := make(map[string]string)
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header row
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		ip, mac := fields[0], fields[3]
		if mac == "00:00:00:00:00:00" {
			continue
		}
		entries[ip] = mac
	}
	return entries
}
