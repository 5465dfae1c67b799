package scpd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wyatt727/upnp-cli/internal/device"
	"github.com/wyatt727/upnp-cli/internal/logging"
	"github.com/wyatt727/upnp-cli/internal/metrics"
)

// Fetcher is the HTTP dependency the profiler needs. Satisfied by
// probe.Fetcher.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Config holds profiler configuration.
type Config struct {
	HTTPTimeout       time.Duration
	DeviceConcurrency int // SCPD fetches in flight per device
	MassConcurrency   int // devices in flight during mass profiling
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:       10 * time.Second,
		DeviceConcurrency: 8,
		MassConcurrency:   16,
	}
}

// Analysis summarizes how an inventory run went.
type Analysis struct {
	ServicesAnalyzed int      `json:"services_analyzed"`
	SuccessfulParses int      `json:"successful_parses"`
	TotalActions     int      `json:"total_actions"`
	ParsingErrors    []string `json:"parsing_errors,omitempty"`
}

// Capabilities aggregates what the inventory can do.
type Capabilities struct {
	ByCategory         map[Category]int   `json:"by_category"`
	ByComplexity       map[Complexity]int `json:"by_complexity"`
	HasMediaControl    bool               `json:"has_media_control"`
	HasVolumeControl   bool               `json:"has_volume_control"`
	HasSecurityActions bool               `json:"has_security_actions"`
}

// Inventory is the full action inventory of one device: every parsed
// SCPD keyed by short service name, in service-declaration order.
type Inventory struct {
	Device       *device.Device       `json:"-"`
	Services     map[string]*Document `json:"services"`
	ServiceOrder []string             `json:"service_order"`
	Capabilities Capabilities         `json:"capabilities"`
	Analysis     Analysis             `json:"analysis"`
}

// Action looks up an action by (service name, action name).
func (inv *Inventory) Action(service, action string) (*Action, bool) {
	doc, ok := inv.Services[service]
	if !ok {
		return nil, false
	}
	a, ok := doc.Actions[action]
	return a, ok
}

// FindAction searches every service for the named action and returns
// the owning service name.
func (inv *Inventory) FindAction(action string) (string, *Action, bool) {
	for _, name := range inv.ServiceOrder {
		if a, ok := inv.Services[name].Actions[action]; ok {
			return name, a, true
		}
	}
	return "", nil, false
}

// TotalActions counts actions across all services.
func (inv *Inventory) TotalActions() int {
	n := 0
	for _, doc := range inv.Services {
		n += len(doc.Actions)
	}
	return n
}

// Profiler fetches and parses every SCPD a device advertises.
type Profiler struct {
	cfg     Config
	logger  *logging.Logger
	fetcher Fetcher
}

// New creates a profiler.
func New(logger *logging.Logger, fetcher Fetcher, cfg Config) *Profiler {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.DeviceConcurrency == 0 {
		cfg.DeviceConcurrency = 8
	}
	if cfg.MassConcurrency == 0 {
		cfg.MassConcurrency = 16
	}
	return &Profiler{cfg: cfg, logger: logger.WithComponent("profiler"), fetcher: fetcher}
}

// ProfileDevice builds the action inventory for one device. SCPD
// fetches fan out up to the per-device cap; a failed fetch or parse is
// recorded in the analysis and never fails the call.
func (p *Profiler) ProfileDevice(ctx context.Context, dev *device.Device) (*Inventory, error) {
	inv := &Inventory{
		Device:   dev,
		Services: make(map[string]*Document),
		Capabilities: Capabilities{
			ByCategory:   make(map[Category]int),
			ByComplexity: make(map[Complexity]int),
		},
	}

	type result struct {
		index int
		name  string
		doc   *Document
		err   error
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.DeviceConcurrency)
	results := make([]result, len(dev.Services))

	for i, svc := range dev.Services {
		if svc.SCPDURL == "" {
			results[i] = result{index: i, name: svc.Name(), err: fmt.Errorf("service %s has no SCPD URL", svc.ServiceType)}
			continue
		}
		wg.Add(1)
		go func(i int, svc device.Service) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			doc, err := p.fetchSCPD(ctx, svc.SCPDURL)
			results[i] = result{index: i, name: svc.Name(), doc: doc, err: err}
		}(i, svc)
	}
	wg.Wait()

	seen := make(map[string]int)
	for _, r := range results {
		inv.Analysis.ServicesAnalyzed++
		if r.err != nil {
			metrics.Get().SCPDFetches.WithLabelValues("error").Inc()
			metrics.Get().ParseErrors.Inc()
			inv.Analysis.ParsingErrors = append(inv.Analysis.ParsingErrors, r.err.Error())
			continue
		}
		metrics.Get().SCPDFetches.WithLabelValues("ok").Inc()
		inv.Analysis.SuccessfulParses++
		inv.Analysis.ParsingErrors = append(inv.Analysis.ParsingErrors, r.doc.ParseErrors...)

		// Disambiguate duplicate short names (rare, but some stacks
		// expose the same service twice).
		name := r.name
		if n := seen[r.name]; n > 0 {
			name = fmt.Sprintf("%s%d", r.name, n+1)
		}
		seen[r.name]++

		inv.Services[name] = r.doc
		inv.ServiceOrder = append(inv.ServiceOrder, name)

		for _, action := range r.doc.Actions {
			inv.Analysis.TotalActions++
			inv.Capabilities.ByCategory[action.Category]++
			inv.Capabilities.ByComplexity[action.Complexity]++
		}
		metrics.Get().ActionsInventoried.Add(float64(len(r.doc.Actions)))
	}

	inv.Capabilities.HasMediaControl = inv.Capabilities.ByCategory[CategoryMediaControl] > 0
	inv.Capabilities.HasVolumeControl = inv.Capabilities.ByCategory[CategoryVolumeControl] > 0
	inv.Capabilities.HasSecurityActions = inv.Capabilities.ByCategory[CategorySecurity] > 0

	p.logger.Debug("device profiled",
		"device", dev.Endpoint(),
		"services", inv.Analysis.SuccessfulParses,
		"actions", inv.Analysis.TotalActions,
	)
	return inv, nil
}

// fetchSCPD fetches and parses one SCPD URL.
func (p *Profiler) fetchSCPD(ctx context.Context, url string) (*Document, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()

	body, err := p.fetcher.Get(fetchCtx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	doc, err := Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

// ProfileAll profiles a device list concurrently under the mass cap and
// returns inventories keyed by device identity. Per-device failures are
// skipped; the map holds whatever succeeded when ctx is cancelled.
func (p *Profiler) ProfileAll(ctx context.Context, devices []*device.Device) map[string]*Inventory {
	var mu sync.Mutex
	out := make(map[string]*Inventory)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MassConcurrency)

	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			inv, err := p.ProfileDevice(gctx, dev)
			if err != nil {
				p.logger.Warn("profiling failed", "device", dev.Endpoint(), "error", err)
				return nil
			}
			mu.Lock()
			out[dev.Identity()] = inv
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}
