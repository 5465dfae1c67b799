// Package discovery implements the discovery engine: SSDP multicast
// search, an optional aggressive port sweep, device description
// fetches, and multi-level deduplication into a stable device list.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wyatt727/upnp-cli/internal/clock"
	"github.com/wyatt727/upnp-cli/internal/device"
	"github.com/wyatt727/upnp-cli/internal/logging"
	"github.com/wyatt727/upnp-cli/internal/metrics"
	"github.com/wyatt727/upnp-cli/internal/probe"
	"github.com/wyatt727/upnp-cli/internal/upnpxml"
)

// descriptionPaths are tried, in order, against endpoints found by the
// port sweep. Only the first path is requested per endpoint; chasing
// every candidate path on every open port is how a LAN of 8 devices
// turns into a hundred duplicate records.
var descriptionPaths = []string{
	"/xml/device_description.xml",
	"/description.xml",
}

// Options controls one discovery call.
type Options struct {
	Network       string        // CIDR; auto-detected when empty
	Timeout       time.Duration // SSDP listen window
	Aggressive    bool          // enables the port sweep
	Ports         []int         // sweep ports; defaults applied when empty
	SearchTargets []string      // SSDP ST values; defaults applied when empty
}

// Config holds engine configuration.
type Config struct {
	DescriptionTimeout time.Duration
	FetchConcurrency   int // description fetches in flight
	Sweep              probe.SweepConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DescriptionTimeout: 5 * time.Second,
		FetchConcurrency:   32,
		Sweep:              probe.DefaultSweepConfig(),
	}
}

// Engine orchestrates the discovery phases.
type Engine struct {
	cfg     Config
	logger  *logging.Logger
	fetcher *probe.Fetcher
}

// New creates a discovery engine.
func New(logger *logging.Logger, fetcher *probe.Fetcher, cfg Config) *Engine {
	if cfg.DescriptionTimeout == 0 {
		cfg.DescriptionTimeout = 5 * time.Second
	}
	if cfg.FetchConcurrency == 0 {
		cfg.FetchConcurrency = 32
	}
	return &Engine{cfg: cfg, logger: logger.WithComponent("discovery"), fetcher: fetcher}
}

// candidate is a description URL waiting to be fetched, with whatever
// the transport already told us about the device behind it.
type candidate struct {
	location string
	method   string
	server   string
	udn      string
}

// Discover runs the full discovery pipeline and returns a deduplicated
// device list ordered by IP then port. Per-endpoint failures are logged
// and skipped; the call fails only when the local network cannot be
// determined. On cancellation the devices collected so far are
// returned along with ctx.Err().
func (e *Engine) Discover(ctx context.Context, opts Options) ([]*device.Device, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}

	localIP, network, err := e.resolveNetwork(opts.Network)
	if err != nil {
		return nil, err
	}

	table := newDedupTable()

	// Phase 1: SSDP multicast search.
	ssdpClient := probe.NewSSDPClient(e.logger, localIP, opts.SearchTargets)
	responses, err := ssdpClient.Search(ctx, opts.Timeout)
	cancelled := err != nil && ctx.Err() != nil
	if err != nil && !cancelled {
		e.logger.Warn("ssdp search failed", "error", err)
	}
	e.logger.Info("ssdp phase complete", "replies", len(responses))

	// Phase 2: deduplicate replies by LOCATION before any fetch.
	candidates := e.ssdpCandidates(responses)

	// Phase 3: aggressive port sweep for devices that do not announce.
	if opts.Aggressive && !cancelled {
		sweeper := probe.NewSweeper(e.logger, e.cfg.Sweep)
		endpoints, sweepErr := sweeper.Sweep(ctx, network, sweepPorts(opts.Ports), localIP)
		if sweepErr != nil && ctx.Err() != nil {
			cancelled = true
		}
		candidates = append(candidates, e.sweepCandidates(endpoints, candidates)...)
	}

	// Phase 4: fetch and parse descriptions, bounded fan-out.
	e.fetchDescriptions(ctx, candidates, table)

	devices := table.sorted()
	e.logger.Info("discovery complete", "devices", len(devices))
	if cancelled || ctx.Err() != nil {
		return devices, context.Cause(ctx)
	}
	return devices, nil
}

// Describe fetches and parses one device description directly. target
// is a description URL, or a host[:port] to try the well-known paths
// against. Used for single-target workflows that skip discovery.
func (e *Engine) Describe(ctx context.Context, target string) (*device.Device, error) {
	var urls []string
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		urls = []string{target}
	} else {
		host := target
		if _, _, err := net.SplitHostPort(target); err != nil {
			host = net.JoinHostPort(target, "80")
		}
		for _, p := range descriptionPaths {
			urls = append(urls, "http://"+host+p)
		}
	}

	var lastErr error
	for _, u := range urls {
		fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.DescriptionTimeout)
		body, hdr, err := e.fetcher.GetWithHeader(fetchCtx, u)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		desc, err := upnpxml.ParseDescription(u, body)
		if err != nil {
			lastErr = err
			continue
		}
		c := candidate{location: u, method: device.MethodPortScan}
		return e.buildDevice(u, c, desc, hdr.Get("Server")), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no description found at %s", target)
	}
	return nil, fmt.Errorf("describe %s: %w", target, lastErr)
}

// resolveNetwork picks the sweep network and the local bind address.
func (e *Engine) resolveNetwork(cidr string) (net.IP, *net.IPNet, error) {
	localIP, localNet, err := probe.LocalNetwork()
	if cidr == "" {
		if err != nil {
			return nil, nil, fmt.Errorf("determine local network: %w", err)
		}
		return localIP, localNet, nil
	}
	_, network, parseErr := net.ParseCIDR(cidr)
	if parseErr != nil {
		return nil, nil, fmt.Errorf("invalid network %q: %w", cidr, parseErr)
	}
	// A bind address is still useful when the caller names the network,
	// but its absence only disables interface pinning.
	return localIP, network, nil
}

// ssdpCandidates collapses SSDP replies into one candidate per LOCATION.
func (e *Engine) ssdpCandidates(responses []probe.SSDPResponse) []candidate {
	seen := make(map[string]bool)
	var out []candidate
	for _, r := range responses {
		if r.Location == "" || seen[r.Location] {
			continue
		}
		seen[r.Location] = true
		out = append(out, candidate{
			location: r.Location,
			method:   device.MethodSSDP,
			server:   r.Server,
			udn:      udnFromUSN(r.USN),
		})
	}
	e.logger.Debug("ssdp replies deduplicated", "unique_locations", len(out))
	return out
}

// sweepPorts returns the aggressive-sweep port list. An explicit list
// passes through untouched; otherwise the well-known description ports
// are extended with the vendor control ports (WAM, HEOS, MusicCast,
// SoundTouch) so the sweep also reaches devices that only speak a
// sibling protocol.
func sweepPorts(explicit []int) []int {
	if len(explicit) > 0 {
		return explicit
	}
	ports := make([]int, 0, len(probe.DefaultSweepPorts)+len(probe.VendorPorts))
	ports = append(ports, probe.DefaultSweepPorts...)
	ports = append(ports, probe.VendorPorts...)
	return ports
}

// sweepCandidates builds description candidates for swept endpoints
// not already covered by an SSDP location.
func (e *Engine) sweepCandidates(endpoints []probe.Endpoint, existing []candidate) []candidate {
	covered := make(map[string]bool)
	for _, c := range existing {
		if host := hostPortOf(c.location); host != "" {
			covered[host] = true
		}
	}
	var out []candidate
	for _, ep := range endpoints {
		if covered[ep.Addr()] {
			continue
		}
		covered[ep.Addr()] = true
		out = append(out, candidate{
			location: "http://" + ep.Addr() + descriptionPaths[0],
			method:   device.MethodPortScan,
		})
	}
	return out
}

// fetchDescriptions fans out description fetches and feeds parsed
// devices into the dedup table.
func (e *Engine) fetchDescriptions(ctx context.Context, candidates []candidate, table *dedupTable) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.FetchConcurrency)

	for _, c := range candidates {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			dev := e.fetchOne(ctx, c)
			if dev != nil {
				metrics.Get().DevicesDiscovered.WithLabelValues(dev.DiscoveryMethod).Inc()
				table.add(dev)
			}
		}(c)
	}
	wg.Wait()
}

// fetchOne fetches a candidate's description, trying the fallback path
// for port-scan candidates when the first choice 404s.
func (e *Engine) fetchOne(ctx context.Context, c candidate) *device.Device {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.DescriptionTimeout)
	defer cancel()

	urls := []string{c.location}
	if c.method == device.MethodPortScan {
		if host := hostPortOf(c.location); host != "" {
			urls = append(urls, "http://"+host+descriptionPaths[1])
		}
	}

	for _, u := range urls {
		body, hdr, err := e.fetcher.GetWithHeader(fetchCtx, u)
		if err != nil {
			continue
		}
		desc, err := upnpxml.ParseDescription(u, body)
		if err != nil {
			e.logger.Debug("description parse failed", "url", u, "error", err)
			metrics.Get().DescriptionErrors.Inc()
			return nil
		}
		server := c.server
		if server == "" {
			server = hdr.Get("Server")
		}
		return e.buildDevice(u, c, desc, server)
	}
	metrics.Get().DescriptionErrors.Inc()
	return nil
}

// buildDevice assembles a Device record from a parsed description.
func (e *Engine) buildDevice(fetchURL string, c candidate, desc *upnpxml.Description, server string) *device.Device {
	ip, port := splitHostPort(fetchURL)
	now := clock.Now()
	dev := &device.Device{
		IP:              ip,
		Port:            port,
		UDN:             desc.UDN,
		FriendlyName:    desc.FriendlyName,
		Manufacturer:    desc.Manufacturer,
		ModelName:       desc.ModelName,
		ModelNumber:     desc.ModelNumber,
		DeviceType:      desc.DeviceType,
		DescriptionURL:  fetchURL,
		ServerHeader:    server,
		DiscoveryMethod: c.method,
		FirstSeen:       now,
		LastSeen:        now,
		Services:        desc.Services,
	}
	if dev.UDN == "" {
		dev.UDN = c.udn
	}
	return dev
}

// --- dedup table ---

// dedupTable merges devices under the identity rule. Confined to one
// discovery call; no locking needed beyond its own mutex.
type dedupTable struct {
	mu      sync.Mutex
	devices map[string]*device.Device
}

func newDedupTable() *dedupTable {
	return &dedupTable{devices: make(map[string]*device.Device)}
}

// add merges dev into the table. An SSDP record absorbs a port-scan
// sighting without losing its own fields; otherwise later data wins.
func (t *dedupTable) add(dev *device.Device) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.devices[dev.Identity()]
	if !ok {
		t.devices[dev.Identity()] = dev
		return
	}
	if existing.DiscoveryMethod == device.MethodSSDP && dev.DiscoveryMethod == device.MethodPortScan {
		existing.FillMissing(dev)
		return
	}
	if dev.DiscoveryMethod == device.MethodSSDP && existing.DiscoveryMethod == device.MethodPortScan {
		dev.FillMissing(existing)
		t.devices[dev.Identity()] = dev
		return
	}
	existing.Merge(dev)
}

// sorted returns the table's devices ordered by IP then port.
func (t *dedupTable) sorted() []*device.Device {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*device.Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IP != out[j].IP {
			return lessIP(out[i].IP, out[j].IP)
		}
		return out[i].Port < out[j].Port
	})
	return out
}

// --- helpers ---

// udnFromUSN extracts the uuid portion of an SSDP USN header.
// "uuid:RINCON_xxx::upnp:rootdevice" -> "uuid:RINCON_xxx".
func udnFromUSN(usn string) string {
	if usn == "" {
		return ""
	}
	if i := strings.Index(usn, "::"); i >= 0 {
		usn = usn[:i]
	}
	if strings.HasPrefix(strings.ToLower(usn), "uuid:") {
		return usn
	}
	return ""
}

// hostPortOf returns the host:port of an http(s) URL, or "".
func hostPortOf(rawURL string) string {
	ip, port := splitHostPort(rawURL)
	if ip == "" {
		return ""
	}
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

// splitHostPort pulls (ip, port) out of a URL, defaulting the port
// from the scheme.
func splitHostPort(rawURL string) (string, int) {
	rest := rawURL
	port := 80
	switch {
	case strings.HasPrefix(rest, "https://"):
		rest = strings.TrimPrefix(rest, "https://")
		port = 443
	case strings.HasPrefix(rest, "http://"):
		rest = strings.TrimPrefix(rest, "http://")
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return rest, port
	}
	if p, err := strconv.Atoi(portStr); err == nil {
		port = p
	}
	return host, port
}

// lessIP compares dotted-quad addresses numerically.
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
