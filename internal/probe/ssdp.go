package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/wyatt727/upnp-cli/internal/logging"
	"github.com/wyatt727/upnp-cli/internal/metrics"
)

const (
	// SSDPMulticastAddr is the IPv4 SSDP multicast group.
	SSDPMulticastAddr = "239.255.255.250:1900"
	// SSDPMX is the maximum response delay requested from devices.
	SSDPMX = 3
)

// DefaultSearchTargets are the ST values queried during discovery.
// ssdp:all casts the widest net, upnp:rootdevice catches devices that
// only answer root queries, and the DIAL target flushes out Cast and
// smart-TV endpoints that ignore plain UPnP searches.
var DefaultSearchTargets = []string{
	"upnp:rootdevice",
	"ssdp:all",
	"urn:dial-multiscreen-org:service:dial:1",
}

// SSDPResponse is one parsed unicast reply to an M-SEARCH.
type SSDPResponse struct {
	From     net.IP
	Location string
	Server   string
	USN      string
	ST       string
}

// SSDPClient sends M-SEARCH queries and collects replies.
type SSDPClient struct {
	logger  *logging.Logger
	localIP net.IP
	targets []string
}

// NewSSDPClient creates an SSDP client bound to localIP. A nil localIP
// lets the kernel pick the interface.
func NewSSDPClient(logger *logging.Logger, localIP net.IP, targets []string) *SSDPClient {
	if len(targets) == 0 {
		targets = DefaultSearchTargets
	}
	return &SSDPClient{logger: logger, localIP: localIP, targets: targets}
}

// Search multicasts one M-SEARCH per search target on a single UDP
// socket and collects replies until the timeout elapses or ctx is
// cancelled. Replies already collected are returned on cancellation.
func (c *SSDPClient) Search(ctx context.Context, timeout time.Duration) ([]SSDPResponse, error) {
	mAddr, err := net.ResolveUDPAddr("udp4", SSDPMulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve ssdp addr: %w", err)
	}

	local := &net.UDPAddr{Port: 0}
	if c.localIP != nil {
		local.IP = c.localIP
	}
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	defer conn.Close()

	// Pin the multicast route to the bound interface so multi-homed
	// hosts do not send the search out the wrong NIC.
	if c.localIP != nil {
		if iface := interfaceForIP(c.localIP); iface != nil {
			p := ipv4.NewPacketConn(conn)
			if err := p.SetMulticastInterface(iface); err != nil {
				c.logger.Debug("set multicast interface failed", "iface", iface.Name, "error", err)
			}
		}
	}

	for _, st := range c.targets {
		if err := c.sendSearch(conn, mAddr, st); err != nil {
			c.logger.Warn("m-search send failed", "st", st, "error", err)
			continue
		}
		metrics.Get().SSDPRequestsSent.WithLabelValues(st).Inc()
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var responses []SSDPResponse
	buf := make([]byte, 8192)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if ctx.Err() != nil {
					return responses, ctx.Err()
				}
				return responses, nil
			}
			return responses, fmt.Errorf("read ssdp: %w", err)
		}
		if resp, ok := parseSSDPResponse(src, buf[:n]); ok {
			metrics.Get().SSDPRepliesTotal.Inc()
			responses = append(responses, resp)
		}
	}
}

// sendSearch writes one M-SEARCH datagram for the given search target.
func (c *SSDPClient) sendSearch(conn *net.UDPConn, addr *net.UDPAddr, st string) error {
	req := fmt.Sprintf(
		"M-SEARCH * HTTP/1.1\r\n"+
			"HOST: %s\r\n"+
			"MAN: \"ssdp:discover\"\r\n"+
			"MX: %d\r\n"+
			"ST: %s\r\n"+
			"USER-AGENT: upnp-cli/1.0 UPnP/1.0\r\n\r\n",
		SSDPMulticastAddr, SSDPMX, st,
	)
	if _, err := conn.WriteToUDP([]byte(req), addr); err != nil {
		return fmt.Errorf("send m-search: %w", err)
	}
	return nil
}

// parseSSDPResponse parses a reply as HTTP-style header lines.
func parseSSDPResponse(src *net.UDPAddr, payload []byte) (SSDPResponse, bool) {
	data := payload
	if !bytes.HasSuffix(data, []byte("\r\n\r\n")) {
		data = append(append([]byte{}, data...), []byte("\r\n\r\n")...)
	}
	tr := textproto.NewReader(bufio.NewReader(bytes.NewReader(data)))
	status, err := tr.ReadLine()
	if err != nil || !strings.Contains(status, "200") {
		return SSDPResponse{}, false
	}
	hdr, err := tr.ReadMIMEHeader()
	if err != nil {
		return SSDPResponse{}, false
	}
	resp := SSDPResponse{
		From:     src.IP,
		Location: strings.TrimSpace(hdr.Get("Location")),
		Server:   strings.TrimSpace(hdr.Get("Server")),
		USN:      strings.TrimSpace(hdr.Get("Usn")),
		ST:       strings.TrimSpace(hdr.Get("St")),
	}
	if resp.Location == "" && resp.USN == "" {
		return SSDPResponse{}, false
	}
	return resp, true
}

// interfaceForIP finds the interface owning the given address.
func interfaceForIP(ip net.IP) *net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
				return &ifaces[i]
			}
		}
	}
	return nil
}
