// Package control executes actions on discovered devices. It builds
// requests in the protocol family the matched profile calls for,
// transports them with stealth and retry options, and parses the
// responses into uniform results.
package control

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/wyatt727/upnp-cli/internal/upnpxml"
)

// Kind enumerates the failure classes surfaced to callers.
type Kind string

const (
	KindNetworkUnreachable Kind = "network_unreachable"
	KindTimeout            Kind = "timeout"
	KindTLSFailure         Kind = "tls_failure"
	KindHTTPStatus         Kind = "http_status"
	KindMalformedXML       Kind = "malformed_xml"
	KindUnknownService     Kind = "unknown_service"
	KindUnknownAction      Kind = "unknown_action"
	KindInvalidArgument    Kind = "invalid_argument"
	KindSoapFault          Kind = "soap_fault"
	KindNotImplemented     Kind = "not_implemented"
	KindCanceled           Kind = "canceled"
)

// upnpErrorDescriptions maps well-known UPnP fault codes to text.
var upnpErrorDescriptions = map[int]string{
	401: "Invalid Action",
	402: "Invalid Args",
	501: "Action Failed",
	600: "Argument Value Invalid",
	601: "Argument Value Out of Range",
	602: "Optional Action Not Implemented",
	603: "Out of Memory",
	604: "Human Intervention Required",
	605: "String Argument Too Long",
	606: "Action Not Authorized",
	701: "Transition not available",
	702: "No contents",
	703: "Read error",
	704: "Format not supported for playback",
	705: "Transport is locked",
	706: "Write error",
	707: "Media protected or not writable",
	708: "Format not supported for recording",
	709: "Media full",
	710: "Seek mode not supported",
	711: "Illegal seek target",
	712: "Play mode not supported",
	713: "Record quality not supported",
	714: "Illegal MIME type",
	715: "Content busy",
	716: "Resource not found",
	717: "Play speed not supported",
	718: "Invalid InstanceID",
}

// UPnPErrorDescription returns the standard text for a UPnP error code.
func UPnPErrorDescription(code int) string {
	if desc, ok := upnpErrorDescriptions[code]; ok {
		return desc
	}
	return "Unknown error"
}

// Error is the structured failure attached to a Result.
type Error struct {
	Kind        Kind   `json:"kind"`
	Detail      string `json:"detail,omitempty"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	FaultCode   string `json:"fault_code,omitempty"`
	FaultString string `json:"fault_string,omitempty"`
	UPnPCode    int    `json:"upnp_code,omitempty"`

	// Truncated wire snippets for debugging, per the snippet limit.
	RequestSnippet  string `json:"request_snippet,omitempty"`
	ResponseSnippet string `json:"response_snippet,omitempty"`

	wrapped error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("http status %d", e.HTTPStatus)
	case KindSoapFault:
		if e.UPnPCode != 0 {
			return fmt.Sprintf("soap fault: upnp error %d (%s)", e.UPnPCode, UPnPErrorDescription(e.UPnPCode))
		}
		return fmt.Sprintf("soap fault: %s: %s", e.FaultCode, e.FaultString)
	}
	if e.Detail != "" {
		return string(e.Kind) + ": " + e.Detail
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// Transient reports whether the retry policy may re-attempt after this
// error: connection failures, timeouts, 5xx, 408, and the generic
// "Action Failed" SOAP fault that devices return for momentary state.
// Other 4xx, argument errors, and definite faults never retry.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindNetworkUnreachable:
		return true
	case KindHTTPStatus:
		return e.HTTPStatus >= 500 || e.HTTPStatus == 408
	case KindSoapFault:
		return e.UPnPCode == 501
	}
	return false
}

// classifyTransportError maps a transport-layer error to a Kind.
func classifyTransportError(err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Detail: err.Error(), wrapped: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Detail: err.Error(), wrapped: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Detail: err.Error(), wrapped: err}
	}

	var tlsErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	if errors.As(err, &tlsErr) || errors.As(err, &recordErr) ||
		strings.Contains(err.Error(), "tls:") {
		return &Error{Kind: KindTLSFailure, Detail: err.Error(), wrapped: err}
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.ECONNRESET) {
		return &Error{Kind: KindNetworkUnreachable, Detail: err.Error(), wrapped: err}
	}

	if errors.Is(err, upnpxml.ErrMalformedXML) {
		return &Error{Kind: KindMalformedXML, Detail: err.Error(), wrapped: err}
	}

	// Unresolvable hosts and everything else transport-shaped.
	return &Error{Kind: KindNetworkUnreachable, Detail: err.Error(), wrapped: err}
}

// snippet truncates wire payloads for error reporting.
func snippet(data []byte, limit int) string {
	if limit <= 0 {
		limit = 300
	}
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// atoiSafe parses an int, returning 0 on garbage.
func atoiSafe(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
