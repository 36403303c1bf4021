package fetch

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/valyala/fasthttp"
)

// Transport failures are reported with the Cloudflare-style 52x codes so
// they never collide with real HTTP statuses.
const (
	// https://support.cloudflare.com/hc/en-us/articles/200171936-Error-520-Web-server-is-returning-an-unknown-error
	CodeUnknownError = 520
	// https://support.cloudflare.com/hc/en-us/articles/200171916-Error-521-Web-server-is-down
	CodeConnectionError = 521
	// https://support.cloudflare.com/hc/en-us/articles/200171906-Error-522-Connection-timed-out
	CodeConnectionTimeout = 522
	// https://support.cloudflare.com/hc/en-us/articles/200171946-Error-523-Origin-is-unreachable
	CodeUnreachable = 523
	// https://support.cloudflare.com/hc/en-us/articles/200171926-Error-524-A-timeout-occurred
	CodeTimeout  = 524
	CodeTLSError = 525

	CodeTooManyRedirects = 310
	// Aborted by pool shutdown, as nginx's "client closed request".
	CodeClosed = 499
)

var (
	ErrPoolClosed     = errors.New("fetch pool is shut down")
	ErrTransferClosed = errors.New("transfer closed")
	ErrSlotNotBusy    = errors.New("slot was not acquired")
	ErrSlotInFlight   = errors.New("slot already has a request in flight")
)

// DispatchError is a failed fetch: transport error or non-2xx status.
type DispatchError struct {
	Code    int
	Message string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func statusError(status int) *DispatchError {
	return &DispatchError{Code: status, Message: fasthttp.StatusMessage(status)}
}

// classify maps a transport error onto a DispatchError code.
func classify(err error) *DispatchError {
	var de *DispatchError
	if errors.As(err, &de) {
		return de
	}

	code := CodeUnknownError

	var dnsErr *net.DNSError
	var opErr *net.OpError
	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError

	switch {
	case errors.Is(err, ErrTransferClosed), errors.Is(err, net.ErrClosed):
		code = CodeClosed
	case errors.Is(err, fasthttp.ErrDialTimeout):
		code = CodeConnectionTimeout
	case errors.Is(err, fasthttp.ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded):
		code = CodeTimeout
	case errors.As(err, &dnsErr):
		code = CodeUnreachable
	case errors.As(err, &certErr), errors.As(err, &recordErr):
		code = CodeTLSError
	case errors.As(err, &opErr) && opErr.Op == "dial":
		code = CodeConnectionError
	case errors.Is(err, fasthttp.ErrConnectionClosed):
		code = CodeConnectionError
	}

	return &DispatchError{Code: code, Message: err.Error(), Err: err}
}
