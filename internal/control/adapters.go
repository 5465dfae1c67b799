package control

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wyatt727/upnp-cli/internal/clock"
	"github.com/wyatt727/upnp-cli/internal/device"
	"github.com/wyatt727/upnp-cli/internal/profile"
)

// invokeVendor dispatches to the protocol family the profile selected.
// Command names resolve against the profile block's endpoint and
// command templates; the profile carries the data, the adapter only
// knows the transport shape.
func (e *Engine) invokeVendor(ctx context.Context, dev *device.Device, match *profile.MatchResult, protocol, action string, args map[string]string, opts Options) *Result {
	res := newResult(protocol, "", action)

	var block *profile.Block
	if match != nil && match.Profile != nil {
		block = match.Profile.Block(protocol)
	}
	if block == nil {
		return res.fail(&Error{Kind: KindUnknownService,
			Detail: fmt.Sprintf("profile has no %s block", protocol)})
	}

	switch protocol {
	case profile.ProtocolCast:
		return e.invokeCast(dev, block, res)
	case profile.ProtocolHEOS:
		return e.invokeHEOS(ctx, dev, block, action, args, opts, res)
	case profile.ProtocolWAM:
		return e.invokeWAM(ctx, dev, block, action, args, opts, res)
	case profile.ProtocolECP:
		return e.invokeECP(ctx, dev, block, action, args, opts, res)
	case profile.ProtocolMusicCast, profile.ProtocolSoundTouch, profile.ProtocolJSONRPC:
		return e.invokeTemplated(ctx, dev, block, protocol, action, args, opts, res)
	}
	return res.fail(&Error{Kind: KindNotImplemented,
		Detail: fmt.Sprintf("no adapter for protocol %s", protocol)})
}

// invokeCast identifies the Cast endpoint but does not speak the media
// session protocol; callers get the endpoint to hand to a Cast client.
func (e *Engine) invokeCast(dev *device.Device, block *profile.Block, res *Result) *Result {
	port := block.Port
	if port == 0 {
		port = 8008
	}
	descPath := block.Endpoints["device_desc"]
	if descPath == "" {
		descPath = "/ssdp/device-desc.xml"
	}
	endpoint := fmt.Sprintf("http://%s:%d%s", dev.IP, port, descPath)
	res.fail(&Error{Kind: KindNotImplemented,
		Detail: "Cast media sessions require an external Cast client; endpoint: " + endpoint})
	res.Outputs = map[string]string{"endpoint": endpoint}
	return res
}

// invokeECP drives Roku's External Control Protocol: query paths are
// GETs, everything else is a bare POST.
func (e *Engine) invokeECP(ctx context.Context, dev *device.Device, block *profile.Block, action string, args map[string]string, opts Options, res *Result) *Result {
	tpl, ok := block.Endpoints[action]
	if !ok {
		return res.fail(&Error{Kind: KindUnknownAction,
			Detail: fmt.Sprintf("ecp profile has no endpoint %s", action)})
	}
	path := substitute(tpl, args, true)

	method := http.MethodPost
	if strings.HasPrefix(path, "/query") {
		method = http.MethodGet
	}
	u := vendorURL(dev.IP, block.Port, 8060, path, opts)
	return e.sendVendor(ctx, method, u, nil, "", opts, res)
}

// invokeWAM drives Samsung's WAM speakers: every command is a GET of
// /UIC?cmd=<url-encoded command xml>.
func (e *Engine) invokeWAM(ctx context.Context, dev *device.Device, block *profile.Block, action string, args map[string]string, opts Options, res *Result) *Result {
	cmdTpl, ok := block.Commands[action]
	if !ok {
		return res.fail(&Error{Kind: KindUnknownAction,
			Detail: fmt.Sprintf("wam profile has no command %s", action)})
	}
	cmd := substitute(cmdTpl, args, false)

	pathTpl := block.Endpoints["command"]
	if pathTpl == "" {
		pathTpl = "/UIC?cmd={CMD}"
	}
	path := strings.Replace(pathTpl, "{CMD}", url.QueryEscape(cmd), 1)

	u := vendorURL(dev.IP, block.Port, 55001, path, opts)
	return e.sendVendor(ctx, http.MethodGet, u, nil, "", opts, res)
}

// invokeHEOS speaks the HEOS CLI protocol: a raw TCP connection that
// takes one heos:// command line and answers with a line of JSON.
func (e *Engine) invokeHEOS(ctx context.Context, dev *device.Device, block *profile.Block, action string, args map[string]string, opts Options, res *Result) *Result {
	cmdTpl, ok := block.Commands[action]
	if !ok {
		return res.fail(&Error{Kind: KindUnknownAction,
			Detail: fmt.Sprintf("heos profile has no command %s", action)})
	}
	cmd := substitute(cmdTpl, args, false)

	port := block.Port
	if port == 0 {
		port = 1255
	}
	addr := net.JoinHostPort(dev.IP, strconv.Itoa(port))

	if opts.DryRun {
		res.Request = cmd
		return res
	}

	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return res.fail(classifyTransportError(err))
	}
	defer conn.Close()

	conn.SetDeadline(clock.Now().Add(opts.Timeout))

	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		return res.fail(classifyTransportError(err))
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return res.fail(classifyTransportError(err))
	}
	res.Outputs = map[string]string{"response": strings.TrimSpace(line)}
	return res
}

// invokeTemplated covers the vendor HTTP protocols that are pure
// profile data: MusicCast path GETs, SoundTouch XML POSTs, and
// JSON-RPC POSTs.
func (e *Engine) invokeTemplated(ctx context.Context, dev *device.Device, block *profile.Block, protocol, action string, args map[string]string, opts Options, res *Result) *Result {
	body := ""
	contentType := ""
	if tpl, ok := block.Commands[action]; ok {
		body = substitute(tpl, args, false)
		switch protocol {
		case profile.ProtocolJSONRPC:
			contentType = "application/json"
		default:
			contentType = "text/xml"
		}
	}

	pathTpl, ok := block.Endpoints[action]
	if !ok {
		// Body-carrying commands post to the protocol's single
		// endpoint when no per-action path exists.
		for _, key := range []string{"rpc", "command", "endpoint"} {
			if p, found := block.Endpoints[key]; found {
				pathTpl = p
				ok = true
				break
			}
		}
	}
	if !ok && body == "" {
		return res.fail(&Error{Kind: KindUnknownAction,
			Detail: fmt.Sprintf("%s profile has no endpoint or command %s", protocol, action)})
	}
	path := substitute(pathTpl, args, true)

	method := http.MethodGet
	var payload []byte
	if body != "" {
		method = http.MethodPost
		payload = []byte(body)
	}

	u := vendorURL(dev.IP, block.Port, 80, path, opts)
	return e.sendVendor(ctx, method, u, payload, contentType, opts, res)
}

// sendVendor runs one vendor HTTP request through the shared transport.
func (e *Engine) sendVendor(ctx context.Context, method, rawURL string, payload []byte, contentType string, opts Options, res *Result) *Result {
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		return res.fail(&Error{Kind: KindInvalidArgument, Detail: err.Error(), wrapped: err})
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if opts.DryRun {
		res.Request = renderRequest(req, payload)
		return res
	}

	body, status, errK := e.transport(ctx, req, payload, opts)
	res.HTTPStatus = status
	if errK != nil {
		e.attachSnippets(errK, payload, body, opts)
		return res.fail(errK)
	}
	res.Outputs = map[string]string{"response": string(body)}
	return res
}

// substitute replaces {PLACEHOLDER} tokens with argument values. Keys
// are matched uppercase; URL mode query-escapes the values.
func substitute(tpl string, args map[string]string, urlMode bool) string {
	out := tpl
	for k, v := range args {
		if urlMode {
			v = url.QueryEscape(v)
		}
		out = strings.ReplaceAll(out, "{"+strings.ToUpper(k)+"}", v)
	}
	return out
}

// vendorURL builds the request URL for a vendor protocol, with the
// profile port falling back to the protocol default.
func vendorURL(ip string, port, defaultPort int, path string, opts Options) string {
	if port == 0 {
		port = defaultPort
	}
	scheme := "http"
	if opts.UseSSL {
		scheme = "https"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(ip, strconv.Itoa(port)), path)
}
