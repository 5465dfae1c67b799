package cache

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/wyatt727/upnp-cli/internal/clock"
	"github.com/wyatt727/upnp-cli/internal/device"
	"github.com/wyatt727/upnp-cli/internal/logging"
)

func testLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Output = io.Discard
	return logging.New(cfg)
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testLogger(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func cachedDevice(udn, ip string, port int) *device.Device {
	return &device.Device{
		IP: ip, Port: port,
		UDN:             udn,
		FriendlyName:    "Living Room",
		Manufacturer:    "Sonos, Inc.",
		DiscoveryMethod: device.MethodSSDP,
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := testStore(t)
	dev := cachedDevice("uuid:RINCON_1", "192.168.1.50", 1400)

	if err := s.Upsert(dev); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(dev.Identity(), 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UDN != dev.UDN || got.FriendlyName != dev.FriendlyName || got.Port != dev.Port {
		t.Errorf("got %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get("uuid:nobody", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsert_RefreshesExisting(t *testing.T) {
	s := testStore(t)
	dev := cachedDevice("uuid:RINCON_1", "192.168.1.50", 1400)
	if err := s.Upsert(dev); err != nil {
		t.Fatal(err)
	}

	dev.IP = "192.168.1.51"
	dev.FriendlyName = "Kitchen"
	if err := s.Upsert(dev); err != nil {
		t.Fatal(err)
	}

	devices, err := s.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d entries, upsert must not duplicate", len(devices))
	}
	if devices[0].IP != "192.168.1.51" || devices[0].FriendlyName != "Kitchen" {
		t.Errorf("entry not refreshed: %+v", devices[0])
	}
}

// backdate rewrites an entry's last_seen to simulate age.
func backdate(t *testing.T, s *Store, identity string, age time.Duration) {
	t.Helper()
	_, err := s.db.Exec(`UPDATE devices SET last_seen = ? WHERE identity = ?`,
		clock.Now().Add(-age).Unix(), identity)
	if err != nil {
		t.Fatal(err)
	}
}

func TestGet_StaleEntryExpires(t *testing.T) {
	s := testStore(t)
	dev := cachedDevice("uuid:RINCON_1", "192.168.1.50", 1400)
	if err := s.Upsert(dev); err != nil {
		t.Fatal(err)
	}
	backdate(t, s, dev.Identity(), 48*time.Hour)

	if _, err := s.Get(dev.Identity(), 24*time.Hour); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale entry must miss: %v", err)
	}
	// A wider window still serves it.
	if _, err := s.Get(dev.Identity(), 72*time.Hour); err != nil {
		t.Errorf("entry within maxAge must hit: %v", err)
	}
}

func TestList_OrderAndFreshness(t *testing.T) {
	s := testStore(t)
	fresh1 := cachedDevice("uuid:a", "192.168.1.10", 1400)
	fresh2 := cachedDevice("uuid:b", "192.168.1.10", 80)
	stale := cachedDevice("uuid:c", "192.168.1.5", 8060)
	for _, d := range []*device.Device{fresh1, fresh2, stale} {
		if err := s.Upsert(d); err != nil {
			t.Fatal(err)
		}
	}
	backdate(t, s, stale.Identity(), 48*time.Hour)

	devices, err := s.List(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want the 2 fresh ones", len(devices))
	}
	if devices[0].Port != 80 || devices[1].Port != 1400 {
		t.Errorf("order = %d, %d, want ip then port", devices[0].Port, devices[1].Port)
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	fresh := cachedDevice("uuid:a", "192.168.1.10", 1400)
	stale1 := cachedDevice("uuid:b", "192.168.1.11", 1400)
	stale2 := cachedDevice("uuid:c", "192.168.1.12", 1400)
	for _, d := range []*device.Device{fresh, stale1, stale2} {
		if err := s.Upsert(d); err != nil {
			t.Fatal(err)
		}
	}
	backdate(t, s, stale1.Identity(), 48*time.Hour)
	backdate(t, s, stale2.Identity(), 72*time.Hour)

	n, err := s.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}

	devices, err := s.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].UDN != "uuid:a" {
		t.Errorf("survivors = %+v", devices)
	}
}

func TestOpen_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(testLogger(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dev := cachedDevice("uuid:RINCON_1", "192.168.1.50", 1400)
	if err := s.Upsert(dev); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen and read back.
	s2, err := Open(testLogger(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(dev.Identity(), 0)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.UDN != dev.UDN {
		t.Errorf("got %+v", got)
	}
}
