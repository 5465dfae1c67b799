package assess

import (
	"io"
	"testing"

	"github.com/wyatt727/upnp-cli/internal/device"
	"github.com/wyatt727/upnp-cli/internal/logging"
	"github.com/wyatt727/upnp-cli/internal/profile"
	"github.com/wyatt727/upnp-cli/internal/scpd"
)

func testLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Output = io.Discard
	return logging.New(cfg)
}

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	store, err := profile.NewStore(testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return New(testLogger(), nil, nil, profile.NewMatcher(store))
}

func sonosDevice() *device.Device {
	return &device.Device{
		IP: "192.168.1.50", Port: 80,
		FriendlyName:   "Living Room",
		Manufacturer:   "Sonos, Inc.",
		ModelName:      "Sonos Play:1",
		DeviceType:     "urn:schemas-upnp-org:device:ZonePlayer:1",
		DescriptionURL: "http://192.168.1.50:80/xml/device_description.xml",
		Services: []device.Service{
			{ServiceType: "urn:schemas-upnp-org:service:AVTransport:1", ControlURL: "/admin/AVTransport/Control"},
			{ServiceType: "urn:schemas-upnp-org:service:RenderingControl:1", ControlURL: "/RenderingControl/Control"},
			{ServiceType: "urn:schemas-upnp-org:service:Queue:1", ControlURL: "/Queue/Control"},
		},
	}
}

func TestAssess_HighPriorityRenderer(t *testing.T) {
	o := testOrchestrator(t)
	a := o.Assess(sonosDevice(), nil)

	// Three media services, an admin path, plain HTTP on port 80, and a
	// renderer surface: 3*2 + 8 + 15 + 5.
	if a.PriorityScore != 34 {
		t.Errorf("PriorityScore = %d, want 34", a.PriorityScore)
	}
	if a.Bucket != BucketHigh {
		t.Errorf("Bucket = %s, want high", a.Bucket)
	}
	if a.PrimaryProtocol != profile.ProtocolUPnP {
		t.Errorf("PrimaryProtocol = %s, want upnp", a.PrimaryProtocol)
	}

	wantFindings := map[string]bool{
		"administrative interfaces detected":      false,
		"admin surface reachable over plain HTTP": false,
	}
	for _, f := range a.SecurityFindings {
		if _, ok := wantFindings[f]; ok {
			wantFindings[f] = true
		}
	}
	for f, seen := range wantFindings {
		if !seen {
			t.Errorf("finding %q missing from %v", f, a.SecurityFindings)
		}
	}
}

func TestAssess_CastBeatsPlainIGD(t *testing.T) {
	o := testOrchestrator(t)

	cast := o.Assess(&device.Device{
		IP: "192.168.1.60", Port: 8008,
		Manufacturer: "Google Inc.",
		ModelName:    "Chromecast Ultra",
	}, nil)
	if cast.PriorityScore != weightCast {
		t.Errorf("cast score = %d, want %d", cast.PriorityScore, weightCast)
	}
	if cast.Bucket != BucketMedium {
		t.Errorf("cast bucket = %s, want medium", cast.Bucket)
	}

	igd := o.Assess(&device.Device{
		IP: "192.168.1.1", Port: 49152,
		Manufacturer: "MikroTik",
		DeviceType:   "urn:schemas-upnp-org:device:InternetGatewayDevice:1",
		Services: []device.Service{
			{ServiceType: "urn:schemas-upnp-org:service:WANIPConnection:1", ControlURL: "/ctl/IPConn"},
		},
	}, nil)
	if igd.PriorityScore != 0 {
		t.Errorf("igd score = %d, want 0", igd.PriorityScore)
	}
	if igd.Bucket != BucketUnknown {
		t.Errorf("igd bucket = %s, want unknown", igd.Bucket)
	}
	if igd.PrimaryProtocol != profile.ProtocolGeneric {
		t.Errorf("igd protocol = %s, want generic", igd.PrimaryProtocol)
	}
}

func TestAssess_SecurityActionsScoreAndFinding(t *testing.T) {
	o := testOrchestrator(t)
	dev := &device.Device{
		IP: "192.168.1.70", Port: 1400,
		DeviceType: "urn:schemas-upnp-org:device:MediaRenderer:1",
	}
	inv := &scpd.Inventory{
		Capabilities: scpd.Capabilities{
			ByCategory:      map[scpd.Category]int{scpd.CategorySecurity: 2},
			HasMediaControl: true,
		},
	}

	a := o.Assess(dev, inv)
	// 2 security actions plus the renderer surface.
	if a.PriorityScore != 2*weightSecurityAct+weightMediaCapable {
		t.Errorf("score = %d", a.PriorityScore)
	}
	found := false
	for _, f := range a.SecurityFindings {
		if f == "security-sensitive actions exposed without authentication" {
			found = true
		}
	}
	if !found {
		t.Errorf("security finding missing: %v", a.SecurityFindings)
	}
	if a.Categories[scpd.CategorySecurity] != 2 {
		t.Errorf("Categories = %v", a.Categories)
	}
}

func TestScore_CappedAt100(t *testing.T) {
	dev := &device.Device{
		IP: "10.0.0.5", Port: 80,
		DeviceType: "urn:schemas-upnp-org:device:MediaRenderer:1",
	}
	for i := 0; i < 10; i++ {
		dev.Services = append(dev.Services, device.Service{
			ServiceType: "urn:schemas-upnp-org:service:AVTransport:1",
			ControlURL:  "/admin/ctl",
		})
	}
	inv := &scpd.Inventory{
		Capabilities: scpd.Capabilities{
			ByCategory: map[scpd.Category]int{scpd.CategorySecurity: 20},
		},
	}

	total, _ := score(dev, profile.ProtocolCast, inv)
	if total != maxPriorityScore {
		t.Errorf("score = %d, want the cap", total)
	}
}

func TestBucketFor(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{34, BucketHigh},
		{20, BucketHigh},
		{19, BucketMedium},
		{10, BucketMedium},
		{9, BucketLow},
		{1, BucketLow},
		{0, BucketUnknown},
	}
	for _, tt := range tests {
		if got := bucketFor(tt.score); got != tt.want {
			t.Errorf("bucketFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestExposedOverHTTP(t *testing.T) {
	if !exposedOverHTTP(&device.Device{Port: 80}) {
		t.Error("port 80 is exposed")
	}
	if !exposedOverHTTP(&device.Device{Port: 8080}) {
		t.Error("port 8080 is exposed")
	}
	if exposedOverHTTP(&device.Device{Port: 1400}) {
		t.Error("port 1400 is not a standard web port")
	}
	if exposedOverHTTP(&device.Device{Port: 80, DescriptionURL: "https://10.0.0.5/desc.xml"}) {
		t.Error("https descriptions are not plain exposure")
	}
}

func TestLessIP(t *testing.T) {
	if !lessIP("192.168.1.2", "192.168.1.10") {
		t.Error("numeric compare, not lexical")
	}
	if lessIP("192.168.1.10", "192.168.1.2") {
		t.Error("ordering inverted")
	}
	if lessIP("192.168.1.5", "192.168.1.5") {
		t.Error("equal addresses")
	}
}
