package upnpxml

import (
	"errors"
	"testing"
)

const sonosDescription = `<?xml version="1.0" encoding="utf-8"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:ZonePlayer:1</deviceType>
    <friendlyName>192.168.1.50 - Sonos Play:1</friendlyName>
    <manufacturer>Sonos, Inc.</manufacturer>
    <modelNumber>S1</modelNumber>
    <modelName>Sonos Play:1</modelName>
    <UDN>uuid:RINCON_000E58A0B81401400</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:DeviceProperties:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:DeviceProperties</serviceId>
        <controlURL>/DeviceProperties/Control</controlURL>
        <eventSubURL>/DeviceProperties/Event</eventSubURL>
        <SCPDURL>/xml/DeviceProperties1.xml</SCPDURL>
      </service>
    </serviceList>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
        <serviceList>
          <service>
            <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
            <controlURL>/MediaRenderer/AVTransport/Control</controlURL>
            <eventSubURL>/MediaRenderer/AVTransport/Event</eventSubURL>
            <SCPDURL>/xml/AVTransport1.xml</SCPDURL>
          </service>
          <service>
            <serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
            <controlURL>/MediaRenderer/RenderingControl/Control</controlURL>
            <eventSubURL>/MediaRenderer/RenderingControl/Event</eventSubURL>
            <SCPDURL>/xml/RenderingControl1.xml</SCPDURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
  </device>
</root>`

func TestParseDescription_Sonos(t *testing.T) {
	desc, err := ParseDescription("http://192.168.1.50:1400/xml/device_description.xml", []byte(sonosDescription))
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}

	if desc.Manufacturer != "Sonos, Inc." {
		t.Errorf("Manufacturer = %q", desc.Manufacturer)
	}
	if desc.UDN != "uuid:RINCON_000E58A0B81401400" {
		t.Errorf("UDN = %q", desc.UDN)
	}
	if len(desc.Services) != 3 {
		t.Fatalf("got %d services, want 3 (root + embedded)", len(desc.Services))
	}

	// Embedded device services fold in after the root's own.
	avt := desc.Services[1]
	if avt.ServiceType != "urn:schemas-upnp-org:service:AVTransport:1" {
		t.Errorf("second service = %q", avt.ServiceType)
	}
	want := "http://192.168.1.50:1400/MediaRenderer/AVTransport/Control"
	if avt.ControlURL != want {
		t.Errorf("ControlURL = %q, want %q", avt.ControlURL, want)
	}
}

func TestParseDescription_URLBaseWins(t *testing.T) {
	doc := `<?xml version="1.0"?>
<root>
  <URLBase>http://10.0.0.9:49152/</URLBase>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>BRAVIA</friendlyName>
    <serviceList>
      <service>
        <serviceType>urn:schemas-sony-com:service:IRCC:1</serviceType>
        <serviceId>urn:schemas-sony-com:serviceId:IRCC</serviceId>
        <controlURL>/upnp/control/IRCC</controlURL>
        <SCPDURL>/sony/ircc.xml</SCPDURL>
      </service>
    </serviceList>
  </device>
</root>`
	desc, err := ParseDescription("http://10.0.0.9:80/dd.xml", []byte(doc))
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}
	want := "http://10.0.0.9:49152/upnp/control/IRCC"
	if desc.Services[0].ControlURL != want {
		t.Errorf("ControlURL = %q, want %q (URLBase must win over fetch URL)", desc.Services[0].ControlURL, want)
	}
}

func TestParseDescription_AbsoluteURLPassThrough(t *testing.T) {
	doc := `<root><device>
    <friendlyName>X</friendlyName>
    <serviceList><service>
      <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
      <controlURL>http://192.168.1.7:8888/control</controlURL>
    </service></serviceList>
  </device></root>`
	desc, err := ParseDescription("http://192.168.1.7:80/dd.xml", []byte(doc))
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}
	if got := desc.Services[0].ControlURL; got != "http://192.168.1.7:8888/control" {
		t.Errorf("ControlURL = %q, absolute URLs must pass through", got)
	}
}

func TestParseDescription_MissingFieldsAreEmpty(t *testing.T) {
	doc := `<root><device><friendlyName>Bare</friendlyName></device></root>`
	desc, err := ParseDescription("http://192.168.1.2/dd.xml", []byte(doc))
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}
	if desc.Manufacturer != "" || desc.UDN != "" || len(desc.Services) != 0 {
		t.Errorf("missing fields must stay empty: %+v", desc)
	}
}

func TestParseDescription_NoDeviceElement(t *testing.T) {
	_, err := ParseDescription("http://192.168.1.2/dd.xml", []byte(`<root><foo/></root>`))
	if !errors.Is(err, ErrMalformedXML) {
		t.Errorf("err = %v, want ErrMalformedXML", err)
	}
}

func TestParse_GarbagePrefixAndBOM(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF, '\n', ' '}, []byte(`<root><device><friendlyName>OK</friendlyName></device></root>`)...)
	desc, err := ParseDescription("http://192.168.1.2/dd.xml", payload)
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}
	if desc.FriendlyName != "OK" {
		t.Errorf("FriendlyName = %q", desc.FriendlyName)
	}
}

func TestParse_Unparseable(t *testing.T) {
	_, err := Parse([]byte("not xml at all"))
	if !errors.Is(err, ErrMalformedXML) {
		t.Errorf("err = %v, want ErrMalformedXML", err)
	}
}

func TestElem_CaseInsensitiveLookup(t *testing.T) {
	root, err := Parse([]byte(`<Root><FriendlyName>tv</FriendlyName></Root>`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := root.TextOf("friendlyname"); got != "tv" {
		t.Errorf("TextOf = %q", got)
	}
}
