// Package device holds the discovered-device data model shared by the
// discovery, profiling, and control engines.
package device

import (
	"fmt"
	"strings"
	"time"
)

// Discovery methods, in order of trust. SSDP responses carry the device's
// own advertisement; a port-scan hit is inferred.
const (
	MethodSSDP     = "ssdp"
	MethodPortScan = "port_scan"
)

// Service describes one UPnP service advertised in a device description.
// All URLs are absolute after normalization.
type Service struct {
	ServiceType string `json:"service_type"`
	ServiceID   string `json:"service_id"`
	ControlURL  string `json:"control_url"`
	EventSubURL string `json:"event_sub_url"`
	SCPDURL     string `json:"scpd_url"`
}

// Name derives a short service name from the service type URN:
// the token before the version, lowercased, digits stripped.
// "urn:schemas-upnp-org:service:RenderingControl:1" -> "renderingcontrol".
func (s Service) Name() string {
	parts := strings.Split(s.ServiceType, ":")
	name := s.ServiceType
	if len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	name = strings.ToLower(name)
	return strings.TrimRight(name, "0123456789")
}

// Device is a single discovered endpoint. Created by the discovery engine,
// mutated only by discovery and the cache; the control engine treats it as
// read-only.
type Device struct {
	IP              string    `json:"ip"`
	Port            int       `json:"port"`
	UDN             string    `json:"udn,omitempty"`
	FriendlyName    string    `json:"friendly_name,omitempty"`
	Manufacturer    string    `json:"manufacturer,omitempty"`
	ModelName       string    `json:"model_name,omitempty"`
	ModelNumber     string    `json:"model_number,omitempty"`
	DeviceType      string    `json:"device_type,omitempty"`
	DescriptionURL  string    `json:"description_url,omitempty"`
	ServerHeader    string    `json:"server_header,omitempty"`
	DiscoveryMethod string    `json:"discovery_method"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	Services        []Service `json:"services,omitempty"`
}

// Identity returns the stable dedup key for a device.
// UDN wins when present; otherwise the (ip, port) endpoint; the
// name tuple is a last resort for records with no address at all.
func (d *Device) Identity() string {
	if udn := strings.TrimSpace(d.UDN); udn != "" {
		return "udn:" + strings.TrimPrefix(udn, "uuid:")
	}
	if d.IP != "" && d.Port > 0 {
		return fmt.Sprintf("endpoint:%s:%d", d.IP, d.Port)
	}
	return fmt.Sprintf("device:%s:%s:%s",
		strings.ToLower(d.FriendlyName),
		strings.ToLower(d.Manufacturer),
		strings.ToLower(d.ModelName))
}

// Merge folds other into d. Later data wins per field, except the
// discovery method, where an SSDP sighting outranks a port-scan one.
func (d *Device) Merge(other *Device) {
	if other == nil {
		return
	}
	if other.UDN != "" {
		d.UDN = other.UDN
	}
	if other.FriendlyName != "" {
		d.FriendlyName = other.FriendlyName
	}
	if other.Manufacturer != "" {
		d.Manufacturer = other.Manufacturer
	}
	if other.ModelName != "" {
		d.ModelName = other.ModelName
	}
	if other.ModelNumber != "" {
		d.ModelNumber = other.ModelNumber
	}
	if other.DeviceType != "" {
		d.DeviceType = other.DeviceType
	}
	if other.DescriptionURL != "" {
		d.DescriptionURL = other.DescriptionURL
	}
	if other.ServerHeader != "" {
		d.ServerHeader = other.ServerHeader
	}
	if len(other.Services) > 0 {
		d.Services = other.Services
	}
	if other.IP != "" {
		d.IP = other.IP
	}
	if other.Port > 0 {
		d.Port = other.Port
	}

	switch {
	case d.DiscoveryMethod == MethodSSDP || other.DiscoveryMethod == MethodSSDP:
		d.DiscoveryMethod = MethodSSDP
	case other.DiscoveryMethod != "":
		d.DiscoveryMethod = other.DiscoveryMethod
	}

	if d.FirstSeen.IsZero() || (!other.FirstSeen.IsZero() && other.FirstSeen.Before(d.FirstSeen)) {
		d.FirstSeen = other.FirstSeen
	}
	if other.LastSeen.After(d.LastSeen) {
		d.LastSeen = other.LastSeen
	}
}

// FillMissing copies fields from other that d lacks, without overwriting
// anything d already has. Used when an SSDP record absorbs a port-scan
// sighting of the same device.
func (d *Device) FillMissing(other *Device) {
	if other == nil {
		return
	}
	if d.UDN == "" {
		d.UDN = other.UDN
	}
	if d.FriendlyName == "" {
		d.FriendlyName = other.FriendlyName
	}
	if d.Manufacturer == "" {
		d.Manufacturer = other.Manufacturer
	}
	if d.ModelName == "" {
		d.ModelName = other.ModelName
	}
	if d.ModelNumber == "" {
		d.ModelNumber = other.ModelNumber
	}
	if d.DeviceType == "" {
		d.DeviceType = other.DeviceType
	}
	if d.DescriptionURL == "" {
		d.DescriptionURL = other.DescriptionURL
	}
	if d.ServerHeader == "" {
		d.ServerHeader = other.ServerHeader
	}
	if len(d.Services) == 0 {
		d.Services = other.Services
	}
	if other.LastSeen.After(d.LastSeen) {
		d.LastSeen = other.LastSeen
	}
}

// ServiceByType returns the first service whose type URN contains the
// given fragment, matched case-insensitively.
func (d *Device) ServiceByType(fragment string) (Service, bool) {
	frag := strings.ToLower(fragment)
	for _, s := range d.Services {
		if strings.Contains(strings.ToLower(s.ServiceType), frag) {
			return s, true
		}
	}
	return Service{}, false
}

// HasMediaRenderer reports whether the device looks like a renderer,
// either by device type or by exposing AVTransport/RenderingControl.
func (d *Device) HasMediaRenderer() bool {
	if strings.Contains(strings.ToLower(d.DeviceType), "mediarenderer") {
		return true
	}
	if _, ok := d.ServiceByType(":service:AVTransport:"); ok {
		return true
	}
	_, ok := d.ServiceByType(":service:RenderingControl:")
	return ok
}

// Endpoint returns "ip:port".
func (d *Device) Endpoint() string {
	return fmt.Sprintf("%s:%d", d.IP, d.Port)
}
