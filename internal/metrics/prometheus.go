// Package metrics exposes prometheus counters for the recon engines.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all tool metrics.
type Registry struct {
	// Discovery metrics
	SSDPRequestsSent  *prometheus.CounterVec
	SSDPRepliesTotal  prometheus.Counter
	HostsProbed       prometheus.Counter
	PortsOpen         *prometheus.CounterVec
	DevicesDiscovered *prometheus.CounterVec
	DescriptionErrors prometheus.Counter

	// Profiling metrics
	SCPDFetches        *prometheus.CounterVec
	ActionsInventoried prometheus.Counter
	ParseErrors        prometheus.Counter

	// Control metrics
	Invocations    *prometheus.CounterVec
	InvocationTime *prometheus.HistogramVec
	Retries        prometheus.Counter
	SoapFaults     *prometheus.CounterVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.SSDPRequestsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upnpcli_ssdp_requests_total",
		Help: "M-SEARCH datagrams sent, by search target",
	}, []string{"st"})

	r.SSDPRepliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upnpcli_ssdp_replies_total",
		Help: "SSDP unicast replies received",
	})

	r.HostsProbed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upnpcli_hosts_probed_total",
		Help: "Hosts attempted during the port sweep",
	})

	r.PortsOpen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upnpcli_ports_open_total",
		Help: "Open ports found during the sweep, by port",
	}, []string{"port"})

	r.DevicesDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upnpcli_devices_discovered_total",
		Help: "Unique devices discovered, by method",
	}, []string{"method"})

	r.DescriptionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upnpcli_description_errors_total",
		Help: "Device description fetches or parses that failed",
	})

	r.SCPDFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upnpcli_scpd_fetches_total",
		Help: "SCPD document fetches, by outcome",
	}, []string{"outcome"})

	r.ActionsInventoried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upnpcli_actions_inventoried_total",
		Help: "SOAP actions added to action inventories",
	})

	r.ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upnpcli_scpd_parse_errors_total",
		Help: "SCPD documents that failed to parse",
	})

	r.Invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upnpcli_invocations_total",
		Help: "Action invocations, by protocol and status",
	}, []string{"protocol", "status"})

	r.InvocationTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upnpcli_invocation_seconds",
		Help:    "Action invocation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"protocol"})

	r.Retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upnpcli_retries_total",
		Help: "Transport retries performed by the control engine",
	})

	r.SoapFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upnpcli_soap_faults_total",
		Help: "SOAP faults returned by devices, by UPnP error code",
	}, []string{"code"})

	r.CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upnpcli_cache_hits_total",
		Help: "Device cache lookups that returned a fresh entry",
	})

	r.CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upnpcli_cache_misses_total",
		Help: "Device cache lookups that missed or were stale",
	})

	return r
}
