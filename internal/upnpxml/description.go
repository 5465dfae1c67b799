package upnpxml

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wyatt727/upnp-cli/internal/device"
)

// Description is the normalized form of a UPnP device description.
// Services from embedded devices (<deviceList>) are folded into the
// root device's list in document order.
type Description struct {
	DeviceType   string
	FriendlyName string
	Manufacturer string
	ModelName    string
	ModelNumber  string
	UDN          string
	Services     []device.Service
}

// ParseDescription parses a device description fetched from fetchURL.
// Missing fields become empty strings; only an unparseable document or
// a missing <device> element is an error. Service URLs are resolved
// against <URLBase> when present, otherwise against the fetch URL.
func ParseDescription(fetchURL string, body []byte) (*Description, error) {
	root, err := Parse(body)
	if err != nil {
		return nil, err
	}

	base, err := resolveBase(fetchURL, root.TextOf("URLBase"))
	if err != nil {
		return nil, fmt.Errorf("device description base url: %w", err)
	}

	dev := root.FindDeep("device")
	if dev == nil {
		return nil, fmt.Errorf("%w: no device element", ErrMalformedXML)
	}

	d := &Description{
		DeviceType:   dev.TextOf("deviceType"),
		FriendlyName: dev.TextOf("friendlyName"),
		Manufacturer: dev.TextOf("manufacturer"),
		ModelName:    dev.TextOf("modelName"),
		ModelNumber:  dev.TextOf("modelNumber"),
		UDN:          dev.TextOf("UDN"),
	}
	collectServices(dev, base, &d.Services)
	return d, nil
}

// collectServices walks a <device> subtree, appending its own services
// and then recursing into embedded devices.
func collectServices(dev *Elem, base *url.URL, out *[]device.Service) {
	if list := dev.First("serviceList"); list != nil {
		for _, s := range list.All("service") {
			*out = append(*out, device.Service{
				ServiceType: s.TextOf("serviceType"),
				ServiceID:   s.TextOf("serviceId"),
				ControlURL:  absolute(base, s.TextOf("controlURL")),
				EventSubURL: absolute(base, s.TextOf("eventSubURL")),
				SCPDURL:     absolute(base, s.TextOf("SCPDURL")),
			})
		}
	}
	if list := dev.First("deviceList"); list != nil {
		for _, embedded := range list.All("device") {
			collectServices(embedded, base, out)
		}
	}
}

// resolveBase picks the URL services resolve against: the declared
// URLBase when present, else the origin of the fetch URL.
func resolveBase(fetchURL, urlBase string) (*url.URL, error) {
	if urlBase != "" {
		u, err := url.Parse(urlBase)
		if err == nil && u.IsAbs() {
			return u, nil
		}
	}
	u, err := url.Parse(fetchURL)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("fetch url %q is not absolute", fetchURL)
	}
	return u, nil
}

// absolute resolves ref against base. Already-absolute refs pass through.
func absolute(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return r.String()
	}
	return base.ResolveReference(r).String()
}
