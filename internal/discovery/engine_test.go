package discovery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/wyatt727/upnp-cli/internal/device"
	"github.com/wyatt727/upnp-cli/internal/logging"
	"github.com/wyatt727/upnp-cli/internal/probe"
	"github.com/wyatt727/upnp-cli/internal/upnpxml"
)

func parsedDescription(t *testing.T, doc, fetchURL string) *upnpxml.Description {
	t.Helper()
	desc, err := upnpxml.ParseDescription(fetchURL, []byte(doc))
	if err != nil {
		t.Fatalf("parse description fixture: %v", err)
	}
	return desc
}

func testLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Output = io.Discard
	return logging.New(cfg)
}

func testEngine() *Engine {
	fetchCfg := probe.DefaultFetchConfig()
	fetcher := probe.NewFetcher(testLogger(), fetchCfg)
	return New(testLogger(), fetcher, DefaultConfig())
}

func ssdpDevice(udn string) *device.Device {
	return &device.Device{
		IP: "192.168.1.50", Port: 1400,
		UDN:             udn,
		FriendlyName:    "Living Room",
		Manufacturer:    "Sonos, Inc.",
		ModelName:       "Sonos Play:1",
		DiscoveryMethod: device.MethodSSDP,
	}
}

func TestDedup_SameUDNCollapses(t *testing.T) {
	table := newDedupTable()
	table.add(ssdpDevice("uuid:RINCON_1"))
	table.add(ssdpDevice("uuid:RINCON_1"))
	other := ssdpDevice("uuid:RINCON_1")
	other.Port = 80
	table.add(other)

	if got := len(table.sorted()); got != 1 {
		t.Errorf("got %d devices, want 1", got)
	}
}

func TestDedup_SSDPAbsorbsPortScan(t *testing.T) {
	table := newDedupTable()
	scan := &device.Device{
		IP: "192.168.1.50", Port: 1400,
		UDN:             "uuid:RINCON_1",
		ServerHeader:    "Linux UPnP/1.0 Sonos/70.3",
		DiscoveryMethod: device.MethodPortScan,
	}
	table.add(scan)
	table.add(ssdpDevice("uuid:RINCON_1"))

	devices := table.sorted()
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}
	d := devices[0]
	if d.DiscoveryMethod != device.MethodSSDP {
		t.Errorf("DiscoveryMethod = %q, ssdp record must win", d.DiscoveryMethod)
	}
	if d.FriendlyName != "Living Room" {
		t.Errorf("FriendlyName = %q, ssdp fields must survive", d.FriendlyName)
	}
	if d.ServerHeader != "Linux UPnP/1.0 Sonos/70.3" {
		t.Errorf("ServerHeader = %q, port-scan fields must fill gaps", d.ServerHeader)
	}

	// Same devices, opposite arrival order.
	reversed := newDedupTable()
	reversed.add(ssdpDevice("uuid:RINCON_1"))
	reversed.add(scan)
	r := reversed.sorted()[0]
	if r.DiscoveryMethod != device.MethodSSDP || r.ServerHeader == "" {
		t.Error("absorption must be order-independent")
	}
}

// Deduplicating an already-deduplicated list must be a no-op.
func TestDedup_Idempotent(t *testing.T) {
	first := newDedupTable()
	inputs := []*device.Device{
		ssdpDevice("uuid:RINCON_1"),
		ssdpDevice("uuid:RINCON_2"),
		{IP: "192.168.1.60", Port: 8060, DiscoveryMethod: device.MethodPortScan},
		ssdpDevice("uuid:RINCON_1"),
	}
	for _, d := range inputs {
		first.add(d)
	}
	once := first.sorted()

	second := newDedupTable()
	for _, d := range once {
		second.add(d)
	}
	twice := second.sorted()

	a, _ := json.MarshalIndent(once, "", " ")
	b, _ := json.MarshalIndent(twice, "", " ")
	if string(a) != string(b) {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(a)),
			B:        difflib.SplitLines(string(b)),
			FromFile: "first pass",
			ToFile:   "second pass",
			Context:  2,
		})
		t.Errorf("dedup not idempotent:\n%s", diff)
	}
}

func TestSSDPCandidates_DedupByLocation(t *testing.T) {
	e := testEngine()
	responses := []probe.SSDPResponse{
		{Location: "http://192.168.1.50:1400/xml/device_description.xml", USN: "uuid:RINCON_1::upnp:rootdevice"},
		{Location: "http://192.168.1.50:1400/xml/device_description.xml", USN: "uuid:RINCON_1::urn:schemas-upnp-org:device:ZonePlayer:1"},
		{Location: "http://192.168.1.60:8060/", USN: "uuid:roku:ecp:X00100"},
		{USN: "uuid:nolocation"},
	}
	candidates := e.ssdpCandidates(responses)
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}
	if candidates[0].udn != "uuid:RINCON_1" {
		t.Errorf("udn = %q", candidates[0].udn)
	}
}

func TestSweepPorts_DefaultIncludesVendorControlPorts(t *testing.T) {
	ports := sweepPorts(nil)
	if want := len(probe.DefaultSweepPorts) + len(probe.VendorPorts); len(ports) != want {
		t.Fatalf("got %d ports, want %d", len(ports), want)
	}
	have := make(map[int]bool, len(ports))
	for _, p := range ports {
		have[p] = true
	}
	// WAM, HEOS, MusicCast, SoundTouch control ports join the sweep.
	for _, p := range []int{55001, 1255, 5005, 8090} {
		if !have[p] {
			t.Errorf("vendor port %d missing from default sweep", p)
		}
	}
}

func TestSweepPorts_ExplicitListPassesThrough(t *testing.T) {
	explicit := []int{80, 9080}
	ports := sweepPorts(explicit)
	if len(ports) != 2 || ports[0] != 80 || ports[1] != 9080 {
		t.Errorf("ports = %v, want %v", ports, explicit)
	}
}

func TestSweepCandidates_SkipsSSDPCovered(t *testing.T) {
	e := testEngine()
	existing := []candidate{
		{location: "http://192.168.1.50:1400/xml/device_description.xml", method: device.MethodSSDP},
	}
	endpoints := []probe.Endpoint{
		{IP: "192.168.1.50", Port: 1400}, // covered by SSDP
		{IP: "192.168.1.60", Port: 80},
	}
	out := e.sweepCandidates(endpoints, existing)
	if len(out) != 1 {
		t.Fatalf("got %d candidates, want 1", len(out))
	}
	if out[0].location != "http://192.168.1.60:80/xml/device_description.xml" {
		t.Errorf("location = %q", out[0].location)
	}
	if out[0].method != device.MethodPortScan {
		t.Errorf("method = %q", out[0].method)
	}
}

func TestFetchOne_PortScanFallbackPath(t *testing.T) {
	var paths []string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path != "/description.xml" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `<root><device>
		  <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
		  <friendlyName>Shield</friendlyName>
		  <manufacturer>NVIDIA</manufacturer>
		  <UDN>uuid:shield-1</UDN>
		</device></root>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := testEngine()
	host := strings.TrimPrefix(srv.URL, "http://")
	dev := e.fetchOne(context.Background(), candidate{
		location: "http://" + host + "/xml/device_description.xml",
		method:   device.MethodPortScan,
	})
	if dev == nil {
		t.Fatal("expected a device from the fallback path")
	}
	if dev.FriendlyName != "Shield" {
		t.Errorf("FriendlyName = %q", dev.FriendlyName)
	}
	if len(paths) != 2 {
		t.Errorf("paths tried = %v, want primary then fallback", paths)
	}
}

func TestFetchOne_SSDPNoFallback(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e := testEngine()
	dev := e.fetchOne(context.Background(), candidate{
		location: srv.URL + "/xml/device_description.xml",
		method:   device.MethodSSDP,
	})
	if dev != nil {
		t.Fatal("expected no device")
	}
	if hits != 1 {
		t.Errorf("hits = %d, ssdp candidates get exactly one path", hits)
	}
}

func TestBuildDevice_UDNFallsBackToUSN(t *testing.T) {
	e := testEngine()
	dev := e.buildDevice(
		"http://192.168.1.60:8060/",
		candidate{method: device.MethodSSDP, udn: "uuid:roku-1"},
		parsedDescription(t, `<root><device><friendlyName>Roku</friendlyName></device></root>`, "http://192.168.1.60:8060/"),
		"Roku/12.0",
	)
	if dev.UDN != "uuid:roku-1" {
		t.Errorf("UDN = %q, want the USN-derived uuid", dev.UDN)
	}
	if dev.IP != "192.168.1.60" || dev.Port != 8060 {
		t.Errorf("address = %s:%d", dev.IP, dev.Port)
	}
	if dev.ServerHeader != "Roku/12.0" {
		t.Errorf("ServerHeader = %q", dev.ServerHeader)
	}
}

func TestUDNFromUSN(t *testing.T) {
	tests := []struct {
		usn  string
		want string
	}{
		{"uuid:RINCON_1::upnp:rootdevice", "uuid:RINCON_1"},
		{"uuid:RINCON_1", "uuid:RINCON_1"},
		{"upnp:rootdevice", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := udnFromUSN(tt.usn); got != tt.want {
			t.Errorf("udnFromUSN(%q) = %q, want %q", tt.usn, got, tt.want)
		}
	}
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		url  string
		ip   string
		port int
	}{
		{"http://192.168.1.50:1400/xml/dd.xml", "192.168.1.50", 1400},
		{"http://192.168.1.50/dd.xml", "192.168.1.50", 80},
		{"https://192.168.1.50/dd.xml", "192.168.1.50", 443},
		{"http://192.168.1.60:8060/", "192.168.1.60", 8060},
	}
	for _, tt := range tests {
		ip, port := splitHostPort(tt.url)
		if ip != tt.ip || port != tt.port {
			t.Errorf("splitHostPort(%q) = (%s, %d), want (%s, %d)", tt.url, ip, port, tt.ip, tt.port)
		}
	}
}

func TestDiscover_InvalidNetwork(t *testing.T) {
	e := testEngine()
	_, err := e.Discover(context.Background(), Options{Network: "not-a-cidr"})
	if err == nil {
		t.Fatal("expected an error for an invalid CIDR")
	}
}
