package control

import (
	"time"

	"github.com/google/uuid"
	"github.com/wyatt727/upnp-cli/internal/scpd"
)

// Status is the caller-visible outcome of an invocation.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Result is the uniform outcome of every adapter.
type Result struct {
	ID         string            `json:"id"`
	Status     Status            `json:"status"`
	Protocol   string            `json:"protocol"`
	Service    string            `json:"service,omitempty"`
	Action     string            `json:"action"`
	Outputs    map[string]string `json:"outputs"`
	Error      *Error            `json:"error,omitempty"`
	HTTPStatus int               `json:"http_status,omitempty"`
	Elapsed    time.Duration     `json:"elapsed,omitempty"`

	// Request holds the rendered request under dry_run.
	Request string `json:"request,omitempty"`
}

// newResult stamps a fresh invocation result.
func newResult(protocol, service, action string) *Result {
	return &Result{
		ID:       uuid.NewString(),
		Status:   StatusOK,
		Protocol: protocol,
		Service:  service,
		Action:   action,
		Outputs:  map[string]string{},
	}
}

// fail marks the result failed with the given error.
func (r *Result) fail(err *Error) *Result {
	r.Status = StatusFailed
	r.Error = err
	r.Outputs = map[string]string{}
	return r
}

// Options control one invocation.
type Options struct {
	Timeout     time.Duration // overall deadline, default 10 s
	UseSSL      bool          // force https
	VerifyTLS   bool          // verify certificates when UseSSL
	Stealth     bool          // rotate identity + jitter
	Retry       bool          // exponential backoff on transient errors
	MaxAttempts int           // retry budget, default 3
	DryRun      bool          // render the request without sending
	Verbose     bool          // widen error snippets

	// Inventory, when present, supplies SCPD argument ordering and
	// validation for SOAP invocations.
	Inventory *scpd.Inventory
}

// DefaultOptions returns the baseline invocation options.
func DefaultOptions() Options {
	return Options{
		Timeout:     10 * time.Second,
		Retry:       true,
		MaxAttempts: 3,
	}
}
