// Package profile holds the vendor profile catalog and the matcher
// that scores discovered devices against it. Profiles are data: the
// control engine's adapters consume their port and endpoint templates.
package profile

import (
	"strings"

	"github.com/wyatt727/upnp-cli/internal/device"
)

// Protocol names, ordered by control preference. Cast and the vendor
// HTTP protocols beat plain UPnP because they need no SCPD round trip.
const (
	ProtocolCast       = "cast"
	ProtocolWAM        = "wam"
	ProtocolECP        = "ecp"
	ProtocolHEOS       = "heos"
	ProtocolMusicCast  = "musiccast"
	ProtocolJSONRPC    = "jsonrpc"
	ProtocolSoundTouch = "soundtouch"
	ProtocolUPnP       = "upnp"
	ProtocolGeneric    = "generic"
)

// ProtocolPriority is the adapter selection order.
var ProtocolPriority = []string{
	ProtocolCast,
	ProtocolWAM,
	ProtocolECP,
	ProtocolHEOS,
	ProtocolMusicCast,
	ProtocolJSONRPC,
	ProtocolSoundTouch,
	ProtocolUPnP,
	ProtocolGeneric,
}

// Match lists the substrings a profile matches on. All comparisons are
// case-insensitive substring tests.
type Match struct {
	Manufacturer []string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	ModelName    []string `json:"modelName,omitempty" yaml:"modelName,omitempty"`
	DeviceType   []string `json:"deviceType,omitempty" yaml:"deviceType,omitempty"`
	ServerHeader []string `json:"server_header,omitempty" yaml:"server_header,omitempty"`
}

// UPnPService names a control endpoint a profile knows about without
// needing the device description.
type UPnPService struct {
	ServiceType string `json:"serviceType" yaml:"serviceType"`
	ControlURL  string `json:"controlURL" yaml:"controlURL"`
}

// Block describes one non-UPnP protocol a device family speaks.
// Endpoint and command templates may carry {PLACEHOLDER} tokens
// substituted at invocation time.
type Block struct {
	Port      int               `json:"port,omitempty" yaml:"port,omitempty"`
	Endpoints map[string]string `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Commands  map[string]string `json:"commands,omitempty" yaml:"commands,omitempty"`
}

// Profile is one device-family record.
type Profile struct {
	Name  string `json:"name" yaml:"name"`
	Match Match  `json:"match" yaml:"match"`

	UPnP       map[string]UPnPService `json:"upnp,omitempty" yaml:"upnp,omitempty"`
	ECP        *Block                 `json:"ecp,omitempty" yaml:"ecp,omitempty"`
	WAM        *Block                 `json:"wam,omitempty" yaml:"wam,omitempty"`
	Cast       *Block                 `json:"cast,omitempty" yaml:"cast,omitempty"`
	HEOS       *Block                 `json:"heos,omitempty" yaml:"heos,omitempty"`
	MusicCast  *Block                 `json:"musiccast,omitempty" yaml:"musiccast,omitempty"`
	JSONRPC    *Block                 `json:"jsonrpc,omitempty" yaml:"jsonrpc,omitempty"`
	SoundTouch *Block                 `json:"soundtouch,omitempty" yaml:"soundtouch,omitempty"`

	// GenericFallback marks the catch-all MediaRenderer profile.
	GenericFallback bool   `json:"generic_fallback,omitempty" yaml:"generic_fallback,omitempty"`
	Notes           string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Block returns the named protocol block, or nil.
func (p *Profile) Block(protocol string) *Block {
	switch protocol {
	case ProtocolECP:
		return p.ECP
	case ProtocolWAM:
		return p.WAM
	case ProtocolCast:
		return p.Cast
	case ProtocolHEOS:
		return p.HEOS
	case ProtocolMusicCast:
		return p.MusicCast
	case ProtocolJSONRPC:
		return p.JSONRPC
	case ProtocolSoundTouch:
		return p.SoundTouch
	}
	return nil
}

// PrimaryProtocol picks the highest-priority protocol the profile
// declares. Profiles with only UPnP data, and the generic fallback,
// resolve to upnp.
func (p *Profile) PrimaryProtocol() string {
	for _, proto := range ProtocolPriority {
		if p.Block(proto) != nil {
			return proto
		}
	}
	if len(p.UPnP) > 0 || p.GenericFallback {
		return ProtocolUPnP
	}
	return ProtocolGeneric
}

// score weights per match category.
const (
	weightManufacturer = 4
	weightModel        = 3
	weightDeviceType   = 2
	weightServer       = 1
)

// Score rates how well the profile matches a device. The second return
// is the length of the longest matched substring, used to break ties
// in favor of more specific profiles.
func (p *Profile) Score(dev *device.Device) (int, int) {
	score := 0
	longest := 0

	check := func(field string, needles []string, weight int) {
		if field == "" || len(needles) == 0 {
			return
		}
		haystack := strings.ToLower(field)
		matched := false
		for _, n := range needles {
			needle := strings.ToLower(n)
			if needle != "" && strings.Contains(haystack, needle) {
				matched = true
				if len(needle) > longest {
					longest = len(needle)
				}
			}
		}
		if matched {
			score += weight
		}
	}

	check(dev.Manufacturer, p.Match.Manufacturer, weightManufacturer)
	check(dev.ModelName, p.Match.ModelName, weightModel)
	check(dev.DeviceType, p.Match.DeviceType, weightDeviceType)
	check(dev.ServerHeader, p.Match.ServerHeader, weightServer)

	if score == 0 && p.GenericFallback && dev.HasMediaRenderer() {
		return 1, 0
	}
	return score, longest
}
