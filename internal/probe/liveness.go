package probe

import (
	"context"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// pingTimeout bounds one liveness probe.
const pingTimeout = 750 * time.Millisecond

// Alive sends a single unprivileged ICMP echo to ip and reports whether
// a reply came back before the timeout.
func Alive(ctx context.Context, ip string) bool {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return false
	}
	pinger.SetPrivileged(false)
	pinger.Count = 1
	pinger.Timeout = pingTimeout
	if err := pinger.RunWithContext(ctx); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// filterAlive pings hosts concurrently and returns the responsive
// subset in the original order. Hosts that do not answer ICMP are kept
// out of the sweep entirely, which is a large win on sparse networks.
func filterAlive(ctx context.Context, hosts []string, concurrency int) []string {
	if concurrency <= 0 {
		concurrency = 64
	}
	alive := make([]bool, len(hosts))
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for i, ip := range hosts {
		select {
		case <-ctx.Done():
			wg.Wait()
			return hosts
		default:
		}
		wg.Add(1)
		go func(i int, ip string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			alive[i] = Alive(ctx, ip)
		}(i, ip)
	}
	wg.Wait()

	var out []string
	for i, ok := range alive {
		if ok {
			out = append(out, hosts[i])
		}
	}
	return out
}
