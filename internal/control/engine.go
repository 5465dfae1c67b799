package control

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wyatt727/upnp-cli/internal/clock"
	"github.com/wyatt727/upnp-cli/internal/device"
	"github.com/wyatt727/upnp-cli/internal/logging"
	"github.com/wyatt727/upnp-cli/internal/metrics"
	"github.com/wyatt727/upnp-cli/internal/probe"
	"github.com/wyatt727/upnp-cli/internal/profile"
	"github.com/wyatt727/upnp-cli/internal/retry"
	"github.com/wyatt727/upnp-cli/internal/scpd"
)

// Config holds control engine configuration.
type Config struct {
	Timeout             time.Duration
	SnippetLimit        int
	VerboseSnippetLimit int
	Fetch               probe.FetchConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             10 * time.Second,
		SnippetLimit:        300,
		VerboseSnippetLimit: 1000,
		Fetch:               probe.DefaultFetchConfig(),
	}
}

// Engine executes actions against devices. It never mutates the Device
// records it is handed.
type Engine struct {
	cfg    Config
	logger *logging.Logger

	plain   *probe.Fetcher
	stealth *probe.Fetcher
}

// New creates a control engine.
func New(logger *logging.Logger, cfg Config) *Engine {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SnippetLimit == 0 {
		cfg.SnippetLimit = 300
	}
	if cfg.VerboseSnippetLimit == 0 {
		cfg.VerboseSnippetLimit = 1000
	}

	plainCfg := cfg.Fetch
	plainCfg.Stealth = false
	stealthCfg := cfg.Fetch
	stealthCfg.Stealth = true

	return &Engine{
		cfg:     cfg,
		logger:  logger.WithComponent("control"),
		plain:   probe.NewFetcher(logger, plainCfg),
		stealth: probe.NewFetcher(logger, stealthCfg),
	}
}

// Invoke executes a named action on a device. qualifiedAction is either
// "Action" or "service#Action"; the service part may be a short service
// name or a full type URN. The transport is chosen from the matched
// profile, but a qualified UPnP action on a device that exposes the
// service always goes over SOAP, whatever the primary protocol says.
func (e *Engine) Invoke(ctx context.Context, dev *device.Device, match *profile.MatchResult, qualifiedAction string, args map[string]string, opts Options) *Result {
	if opts.Timeout == 0 {
		opts.Timeout = e.cfg.Timeout
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}

	service, action := splitQualified(qualifiedAction)
	protocol := profile.ProtocolUPnP
	if match != nil {
		protocol = match.PrimaryProtocol
	}

	start := clock.Now()
	var res *Result
	if e.resolvesToSOAP(dev, match, opts.Inventory, service, action, protocol) {
		res = e.invokeSOAP(ctx, dev, match, service, action, args, opts)
	} else {
		res = e.invokeVendor(ctx, dev, match, protocol, action, args, opts)
	}
	res.Elapsed = clock.Since(start)

	metrics.Get().Invocations.WithLabelValues(res.Protocol, string(res.Status)).Inc()
	metrics.Get().InvocationTime.WithLabelValues(res.Protocol).Observe(res.Elapsed.Seconds())
	if res.Error != nil && res.Error.Kind == KindSoapFault {
		metrics.Get().SoapFaults.WithLabelValues(strconv.Itoa(res.Error.UPnPCode)).Inc()
	}
	return res
}

// resolvesToSOAP decides whether the invocation is a UPnP action.
func (e *Engine) resolvesToSOAP(dev *device.Device, match *profile.MatchResult, inv *scpd.Inventory, service, action string, protocol string) bool {
	switch protocol {
	case profile.ProtocolUPnP, profile.ProtocolGeneric:
		return true
	}
	// A service-qualified action targets the device's own UPnP surface.
	if service != "" {
		return true
	}
	if inv != nil {
		if _, _, ok := inv.FindAction(action); ok {
			return true
		}
	}
	// Vendor protocols handle bare command names from the profile.
	return false
}

// --- SOAP path ---

// invokeSOAP runs the UPnP/SOAP adapter, including the generic
// fallback that reads service URNs and control URLs straight from the
// device description.
func (e *Engine) invokeSOAP(ctx context.Context, dev *device.Device, match *profile.MatchResult, service, action string, args map[string]string, opts Options) *Result {
	res := newResult(profile.ProtocolUPnP, service, action)

	serviceType, controlURL, scpdAction, errK := e.resolveService(dev, match, opts.Inventory, service, action)
	if errK != nil {
		return res.fail(errK)
	}
	res.Service = service

	ordered, errK := orderArguments(scpdAction, args)
	if errK != nil {
		return res.fail(errK)
	}

	envelope := buildEnvelope(serviceType, action, ordered)
	endpoint := e.endpointURL(dev, controlURL, opts)

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(envelope))
	if err != nil {
		return res.fail(&Error{Kind: KindInvalidArgument, Detail: err.Error(), wrapped: err})
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", soapActionHeader(serviceType, action))

	if opts.DryRun {
		res.Request = renderRequest(req, envelope)
		return res
	}

	body, status, errK := e.transport(ctx, req, envelope, opts)
	res.HTTPStatus = status
	if errK != nil {
		e.attachSnippets(errK, envelope, body, opts)
		return res.fail(errK)
	}

	outputs, faultErr := parseSoapResponse(action, body)
	if faultErr != nil {
		e.attachSnippets(faultErr, envelope, body, opts)
		return res.fail(faultErr)
	}
	res.Outputs = outputs
	return res
}

// resolveService finds the service type and control URL for an action,
// preferring the live inventory, then the device description, then the
// profile's declared UPnP endpoints.
func (e *Engine) resolveService(dev *device.Device, match *profile.MatchResult, inv *scpd.Inventory, service, action string) (string, string, *scpd.Action, *Error) {
	var scpdAction *scpd.Action

	if inv != nil {
		if service == "" {
			if name, a, ok := inv.FindAction(action); ok {
				service = name
				scpdAction = a
			}
		} else if a, ok := inv.Action(strings.ToLower(service), action); ok {
			scpdAction = a
		}
		if scpdAction == nil && service != "" {
			if _, ok := inv.Services[strings.ToLower(service)]; ok {
				return "", "", nil, &Error{Kind: KindUnknownAction,
					Detail: fmt.Sprintf("service %s has no action %s", service, action)}
			}
		}
	}

	if service == "" {
		return "", "", nil, &Error{Kind: KindUnknownAction,
			Detail: fmt.Sprintf("no service on %s exposes action %s", dev.Endpoint(), action)}
	}

	// Device description first: URNs and control URLs as advertised.
	for _, svc := range dev.Services {
		if serviceMatches(svc, service) && svc.ControlURL != "" {
			return svc.ServiceType, svc.ControlURL, scpdAction, nil
		}
	}

	// Profile fallback for devices discovered without a description.
	if match != nil && match.Profile != nil && service != "" {
		if ps, ok := match.Profile.UPnP[strings.ToLower(service)]; ok {
			return ps.ServiceType, ps.ControlURL, scpdAction, nil
		}
	}

	return "", "", nil, &Error{Kind: KindUnknownService,
		Detail: fmt.Sprintf("device %s has no service %s", dev.Endpoint(), service)}
}

// serviceMatches compares a service reference against a device service
// by short name or by URN fragment.
func serviceMatches(svc device.Service, ref string) bool {
	ref = strings.ToLower(ref)
	if svc.Name() == strings.TrimRight(ref, "0123456789") {
		return true
	}
	return strings.Contains(strings.ToLower(svc.ServiceType), ref)
}

// orderArguments places provided arguments in SCPD declaration order.
// Arguments the SCPD does not declare are rejected; without an SCPD the
// ordering falls back to name order for determinism.
func orderArguments(scpdAction *scpd.Action, args map[string]string) ([]Arg, *Error) {
	if scpdAction == nil {
		names := make([]string, 0, len(args))
		for name := range args {
			names = append(names, name)
		}
		sort.Strings(names)
		ordered := make([]Arg, 0, len(names))
		for _, name := range names {
			ordered = append(ordered, Arg{Name: name, Value: args[name]})
		}
		return ordered, nil
	}

	declared := make(map[string]bool, len(scpdAction.ArgumentsIn))
	var ordered []Arg
	for _, in := range scpdAction.ArgumentsIn {
		declared[in.Name] = true
		if v, ok := args[in.Name]; ok {
			ordered = append(ordered, Arg{Name: in.Name, Value: v})
		}
	}
	for name := range args {
		if !declared[name] {
			return nil, &Error{Kind: KindInvalidArgument,
				Detail: fmt.Sprintf("action %s has no input argument %s", scpdAction.Name, name)}
		}
	}
	return ordered, nil
}

// endpointURL joins the device endpoint with a control URL, honoring
// the SSL toggle. Absolute control URLs pass through with at most a
// scheme upgrade.
func (e *Engine) endpointURL(dev *device.Device, controlURL string, opts Options) string {
	scheme := "http"
	if opts.UseSSL {
		scheme = "https"
	}
	if strings.HasPrefix(controlURL, "http://") || strings.HasPrefix(controlURL, "https://") {
		if opts.UseSSL {
			return "https://" + strings.TrimPrefix(strings.TrimPrefix(controlURL, "http://"), "https://")
		}
		return controlURL
	}
	if !strings.HasPrefix(controlURL, "/") {
		controlURL = "/" + controlURL
	}
	return fmt.Sprintf("%s://%s%s", scheme, dev.Endpoint(), controlURL)
}

// --- shared transport ---

// transport sends the request with the retry policy applied, returning
// the response body and HTTP status. SOAP faults ride back inside 500
// responses, so 500 bodies are returned for fault parsing instead of
// being mapped to HttpStatus errors.
func (e *Engine) transport(ctx context.Context, req *http.Request, payload []byte, opts Options) ([]byte, int, *Error) {
	type attemptResult struct {
		body   []byte
		status int
	}

	fetcher := e.plain
	if opts.Stealth {
		fetcher = e.stealth
	}

	attempt := func() (attemptResult, error) {
		reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		r := req.Clone(reqCtx)
		if payload != nil {
			r.Body = io.NopCloser(bytes.NewReader(payload))
			r.ContentLength = int64(len(payload))
		}
		resp, err := fetcher.Do(reqCtx, r)
		if err != nil {
			return attemptResult{}, classifyTransportError(err)
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if readErr != nil {
			return attemptResult{body: body, status: resp.StatusCode}, classifyTransportError(readErr)
		}

		if resp.StatusCode >= 400 && !isSoapFaultBody(resp.StatusCode, body) {
			return attemptResult{body: body, status: resp.StatusCode},
				&Error{Kind: KindHTTPStatus, HTTPStatus: resp.StatusCode}
		}
		return attemptResult{body: body, status: resp.StatusCode}, nil
	}

	run := attempt
	if opts.Retry {
		cfg := retry.DefaultConfig()
		cfg.MaxAttempts = opts.MaxAttempts
		cfg.ShouldRetry = func(err error) bool {
			ce, ok := err.(*Error)
			if ok && ce.Transient() {
				metrics.Get().Retries.Inc()
				return true
			}
			return false
		}
		run = func() (attemptResult, error) {
			return retry.DoWithResult(ctx, cfg, attempt)
		}
	}

	out, err := run()
	if err != nil {
		if ce, ok := err.(*Error); ok {
			return out.body, out.status, ce
		}
		return out.body, out.status, classifyTransportError(err)
	}
	return out.body, out.status, nil
}

// isSoapFaultBody sniffs whether a 500 carries a SOAP fault envelope.
func isSoapFaultBody(status int, body []byte) bool {
	return status == http.StatusInternalServerError && bytes.Contains(body, []byte("Fault"))
}

// attachSnippets adds truncated request/response payloads to an error.
func (e *Engine) attachSnippets(errK *Error, request, response []byte, opts Options) {
	limit := e.cfg.SnippetLimit
	if opts.Verbose {
		limit = e.cfg.VerboseSnippetLimit
	}
	errK.RequestSnippet = snippet(request, limit)
	errK.ResponseSnippet = snippet(response, limit)
}

// renderRequest formats a request for dry-run output.
func renderRequest(req *http.Request, body []byte) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, req.URL.String())
	for k, vs := range req.Header {
		for _, v := range vs {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.String()
}

// splitQualified splits "service#Action" into its parts.
func splitQualified(qualified string) (string, string) {
	if i := strings.Index(qualified, "#"); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return "", qualified
}
