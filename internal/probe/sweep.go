package probe

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/wyatt727/upnp-cli/internal/logging"
	"github.com/wyatt727/upnp-cli/internal/metrics"
	"github.com/wyatt727/upnp-cli/internal/ratelimit"
)

// DefaultSweepPorts are the TCP ports worth probing for UPnP-adjacent
// HTTP stacks: generic web, Sonos (1400), AirPlay (7000), Cast (8008),
// Roku ECP (8060), and common alternates.
var DefaultSweepPorts = []int{80, 443, 1400, 7000, 8008, 8060, 8443, 9080, 49200}

// VendorPorts extend the sweep when aggressive mode wants the
// non-UPnP sibling protocols too.
var VendorPorts = []int{55001, 1255, 5005, 8090}

// Endpoint is one open TCP port found by the sweep.
type Endpoint struct {
	IP   string
	Port int
}

// Addr returns "ip:port".
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// SweepConfig holds port sweep configuration.
type SweepConfig struct {
	ConnectTimeout time.Duration
	Concurrency    int
	RatePerSecond  int
	PingFirst      bool
}

// DefaultSweepConfig returns sensible defaults.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		ConnectTimeout: 2 * time.Second,
		Concurrency:    256,
		RatePerSecond:  512,
		PingFirst:      false,
	}
}

// Sweeper probes a network for open TCP ports, bounded by a concurrency
// cap and a global connect rate limit.
type Sweeper struct {
	logger  *logging.Logger
	cfg     SweepConfig
	limiter *ratelimit.Limiter
}

// NewSweeper creates a sweeper.
func NewSweeper(logger *logging.Logger, cfg SweepConfig) *Sweeper {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 256
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 512
	}
	return &Sweeper{
		logger:  logger,
		cfg:     cfg,
		limiter: ratelimit.NewLimiter(),
	}
}

// Sweep connect-scans every host in ipnet for the given ports, skipping
// the network/broadcast addresses and selfIP. Hosts already present in
// the ARP table are probed first. Cancellation returns the endpoints
// found so far along with ctx.Err().
func (s *Sweeper) Sweep(ctx context.Context, ipnet *net.IPNet, ports []int, selfIP net.IP) ([]Endpoint, error) {
	if ipnet == nil {
		return nil, fmt.Errorf("no network to sweep")
	}
	if len(ports) == 0 {
		ports = DefaultSweepPorts
	}

	hosts := hostsInNetwork(ipnet, selfIP)
	orderByARPHints(hosts, ARPEntries())
	if s.cfg.PingFirst {
		before := len(hosts)
		hosts = filterAlive(ctx, hosts, s.cfg.Concurrency)
		s.logger.Debug("liveness pre-check", "candidates", before, "alive", len(hosts))
	}

	s.logger.Info("starting port sweep",
		"network", ipnet.String(),
		"hosts", len(hosts),
		"ports", len(ports),
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Endpoint
	)
	sem := make(chan struct{}, s.cfg.Concurrency)

loop:
	for _, ip := range hosts {
		for _, port := range ports {
			select {
			case <-ctx.Done():
				break loop
			default:
			}

			s.waitForToken(ctx)

			wg.Add(1)
			go func(ip string, port int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				if s.isPortOpen(ctx, ip, port) {
					metrics.Get().PortsOpen.WithLabelValues(strconv.Itoa(port)).Inc()
					mu.Lock()
					results = append(results, Endpoint{IP: ip, Port: port})
					mu.Unlock()
				}
			}(ip, port)
		}
		metrics.Get().HostsProbed.Inc()
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].IP != results[j].IP {
			return lessIP(results[i].IP, results[j].IP)
		}
		return results[i].Port < results[j].Port
	})

	s.logger.Info("port sweep complete", "open", len(results))
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// waitForToken blocks until the global rate limiter yields a token or
// the context is cancelled.
func (s *Sweeper) waitForToken(ctx context.Context) {
	for !s.limiter.Allow("sweep", s.cfg.RatePerSecond, time.Second) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// isPortOpen checks if a TCP port accepts connections.
func (s *Sweeper) isPortOpen(ctx context.Context, ip string, port int) bool {
	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// hostsInNetwork enumerates usable host addresses in ipnet.
func hostsInNetwork(ipnet *net.IPNet, selfIP net.IP) []string {
	var hosts []string
	for ip := ipnet.IP.Mask(ipnet.Mask); ipnet.Contains(ip); incIP(ip) {
		// Skip network and broadcast for /24 and smaller
		ones, bits := ipnet.Mask.Size()
		if bits-ones <= 8 {
			if ip[len(ip)-1] == 0 || ip[len(ip)-1] == 255 {
				continue
			}
		}
		if selfIP != nil && ip.Equal(selfIP) {
			continue
		}
		hostIP := make(net.IP, len(ip))
		copy(hostIP, ip)
		hosts = append(hosts, hostIP.String())
	}
	return hosts
}

// orderByARPHints moves hosts with an ARP entry to the front so
// known-live endpoints answer before the timeout-bound stragglers.
func orderByARPHints(hosts []string, arp map[string]string) {
	if len(arp) == 0 {
		return
	}
	sort.SliceStable(hosts, func(i, j int) bool {
		_, iKnown := arp[hosts[i]]
		_, jKnown := arp[hosts[j]]
		return iKnown && !jKnown
	})
}

// incIP increments an IP address in place.
func incIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

// lessIP compares two dotted-quad addresses numerically.
func lessIP(a, b string) bool {
	ipA := net.ParseIP(a).To4()
	ipB := net.ParseIP(b).To4()
	if ipA == nil || ipB == nil {
		return a < b
	}
	for i := 0; i < 4; i++ {
		if ipA[i] != ipB[i] {
			return ipA[i] < ipB[i]
		}
	}
	return false
}
