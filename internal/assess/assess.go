// Package assess implements the mass orchestrator: discovery across a
// LAN, per-device profile matching and capability scanning, and a
// prioritized target report.
package assess

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/wyatt727/upnp-cli/internal/clock"
	"github.com/wyatt727/upnp-cli/internal/device"
	"github.com/wyatt727/upnp-cli/internal/discovery"
	"github.com/wyatt727/upnp-cli/internal/logging"
	"github.com/wyatt727/upnp-cli/internal/profile"
	"github.com/wyatt727/upnp-cli/internal/scpd"
)

// Bucket labels for the report.
const (
	BucketHigh    = "high"
	BucketMedium  = "medium"
	BucketLow     = "low"
	BucketUnknown = "unknown"
)

// Priority weights. The total is capped at 100.
const (
	weightCast         = 15
	weightWAM          = 12
	weightECP          = 10
	weightMediaService = 2
	weightSecurityAct  = 10
	weightAdminIface   = 8
	weightExposedAdmin = 15
	weightMediaCapable = 5
	maxPriorityScore   = 100
	highThreshold      = 20
	mediumThreshold    = 10
)

// mediaServiceFragments identify the UPnP AV service family.
var mediaServiceFragments = []string{
	"avtransport",
	"renderingcontrol",
	"connectionmanager",
	"contentdirectory",
	"queue",
}

// Assessment is the scored outcome for one device.
type Assessment struct {
	Device           *device.Device        `json:"device"`
	Match            *profile.MatchResult  `json:"profile_match,omitempty"`
	PrimaryProtocol  string                `json:"primary_protocol"`
	PriorityScore    int                   `json:"priority_score"`
	Bucket           string                `json:"bucket"`
	Categories       map[scpd.Category]int `json:"categories_summary,omitempty"`
	SecurityFindings []string              `json:"security_findings,omitempty"`
}

// Report is the full mass-scan outcome, sorted by priority descending.
type Report struct {
	Network     string                   `json:"network,omitempty"`
	GeneratedAt time.Time                `json:"generated_at"`
	Targets     []*Assessment            `json:"targets"`
	Buckets     map[string][]*Assessment `json:"-"`
}

// Options controls one orchestrator run.
type Options struct {
	Discovery   discovery.Options
	FullProfile bool // full SCPD profiling instead of the shallow URN scan
}

// Orchestrator wires discovery, matching, and profiling together.
type Orchestrator struct {
	logger     *logging.Logger
	discoverer *discovery.Engine
	profiler   *scpd.Profiler
	matcher    *profile.Matcher
}

// New creates an orchestrator.
func New(logger *logging.Logger, discoverer *discovery.Engine, profiler *scpd.Profiler, matcher *profile.Matcher) *Orchestrator {
	return &Orchestrator{
		logger:     logger.WithComponent("assess"),
		discoverer: discoverer,
		profiler:   profiler,
		matcher:    matcher,
	}
}

// Run discovers the network and assesses every device found. A
// cancelled discovery still produces a report over the partial device
// list.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	devices, err := o.discoverer.Discover(ctx, opts.Discovery)
	if err != nil && len(devices) == 0 {
		return nil, err
	}

	var inventories map[string]*scpd.Inventory
	if opts.FullProfile {
		inventories = o.profiler.ProfileAll(ctx, devices)
	}

	report := &Report{
		Network:     opts.Discovery.Network,
		GeneratedAt: clock.Now(),
		Buckets:     map[string][]*Assessment{},
	}

	for _, dev := range devices {
		var inv *scpd.Inventory
		if inventories != nil {
			inv = inventories[dev.Identity()]
		}
		a := o.Assess(dev, inv)
		report.Targets = append(report.Targets, a)
		report.Buckets[a.Bucket] = append(report.Buckets[a.Bucket], a)
	}

	sort.SliceStable(report.Targets, func(i, j int) bool {
		if report.Targets[i].PriorityScore != report.Targets[j].PriorityScore {
			return report.Targets[i].PriorityScore > report.Targets[j].PriorityScore
		}
		return lessIP(report.Targets[i].Device.IP, report.Targets[j].Device.IP)
	})

	o.logger.Info("assessment complete",
		"targets", len(report.Targets),
		"high", len(report.Buckets[BucketHigh]),
		"medium", len(report.Buckets[BucketMedium]),
	)
	return report, nil
}

// Assess scores one device. inv may be nil for a shallow scan, in
// which case only the service URNs and the profile match contribute.
func (o *Orchestrator) Assess(dev *device.Device, inv *scpd.Inventory) *Assessment {
	a := &Assessment{
		Device:          dev,
		PrimaryProtocol: profile.ProtocolGeneric,
	}
	if match := o.matcher.Best(dev); match != nil {
		a.Match = match
		a.PrimaryProtocol = match.PrimaryProtocol
	}
	if inv != nil {
		a.Categories = inv.Capabilities.ByCategory
	}

	a.PriorityScore, a.SecurityFindings = score(dev, a.PrimaryProtocol, inv)
	a.Bucket = bucketFor(a.PriorityScore)
	return a
}

// score applies the priority formula and collects security findings.
func score(dev *device.Device, primaryProtocol string, inv *scpd.Inventory) (int, []string) {
	total := 0
	var findings []string

	switch primaryProtocol {
	case profile.ProtocolCast:
		total += weightCast
	case profile.ProtocolWAM:
		total += weightWAM
	case profile.ProtocolECP:
		total += weightECP
	}

	media := 0
	for _, svc := range dev.Services {
		st := strings.ToLower(svc.ServiceType)
		for _, frag := range mediaServiceFragments {
			if strings.Contains(st, frag) {
				media++
				break
			}
		}
	}
	total += media * weightMediaService

	if inv != nil {
		if n := inv.Capabilities.ByCategory[scpd.CategorySecurity]; n > 0 {
			total += n * weightSecurityAct
			findings = append(findings, "security-sensitive actions exposed without authentication")
		}
	}

	if admin := hasAdminInterface(dev); admin {
		total += weightAdminIface
		findings = append(findings, "administrative interfaces detected")
		if exposedOverHTTP(dev) {
			total += weightExposedAdmin
			findings = append(findings, "admin surface reachable over plain HTTP")
		}
	}

	if (inv != nil && inv.Capabilities.HasMediaControl) || dev.HasMediaRenderer() {
		total += weightMediaCapable
	}

	if total > maxPriorityScore {
		total = maxPriorityScore
	}
	return total, findings
}

// hasAdminInterface looks for admin-flavored paths in service URLs.
func hasAdminInterface(dev *device.Device) bool {
	for _, svc := range dev.Services {
		for _, u := range []string{svc.ControlURL, svc.SCPDURL, svc.EventSubURL} {
			if strings.Contains(strings.ToLower(u), "admin") {
				return true
			}
		}
	}
	return false
}

// exposedOverHTTP reports whether the device serves plain HTTP on a
// standard web port.
func exposedOverHTTP(dev *device.Device) bool {
	if strings.HasPrefix(dev.DescriptionURL, "https://") {
		return false
	}
	return dev.Port == 80 || dev.Port == 8080
}

// bucketFor maps a score to its report bucket.
func bucketFor(score int) string {
	switch {
	case score >= highThreshold:
		return BucketHigh
	case score >= mediumThreshold:
		return BucketMedium
	case score >= 1:
		return BucketLow
	default:
		return BucketUnknown
	}
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
