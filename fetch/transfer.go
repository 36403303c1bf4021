package fetch

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// Transfer is the transport handle owned by one slot. Fetch blocks until the
// request finished or failed; Close aborts whatever is in flight and makes
// every later Fetch fail fast.
type Transfer interface {
	Fetch(url string, sink io.Writer) (effectiveURL string, err error)
	Close() error
}

// TransferFactory builds the transfer for slot id.
type TransferFactory func(id int, cfg Config) Transfer

// HTTPTransfer fetches over a fasthttp client private to its slot, so
// connections are kept alive across the requests that slot carries.
type HTTPTransfer struct {
	client *fasthttp.Client
	cfg    Config

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func NewHTTPTransfer(_ int, cfg Config) Transfer {
	t := &HTTPTransfer{
		cfg:   cfg,
		conns: make(map[net.Conn]struct{}),
	}

	t.client = &fasthttp.Client{
		Dial:                      t.dial,
		MaxConnsPerHost:           1,
		MaxIdemponentCallAttempts: 1,
		ReadTimeout:               cfg.TotalTimeout,
		WriteTimeout:              cfg.TotalTimeout,
		NoDefaultUserAgentHeader:  cfg.UserAgent == "",
		Name:                      cfg.UserAgent,
	}
	if cfg.Insecure {
		t.client.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return t
}

func (t *HTTPTransfer) dial(addr string) (net.Conn, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrTransferClosed
	}

	conn, err := fasthttp.DialTimeout(addr, t.cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.Close()
		return nil, ErrTransferClosed
	}
	t.conns[conn] = struct{}{}

	return &trackedConn{Conn: conn, owner: t}, nil
}

func (t *HTTPTransfer) forget(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

// Fetch issues a GET for url, following up to MaxRedirects Location hops
// within TotalTimeout, and copies the final body into sink. A final status
// outside 2xx is returned as a *DispatchError carrying that status.
func (t *HTTPTransfer) Fetch(url string, sink io.Writer) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline := time.Now().Add(t.cfg.TotalTimeout)
	redirects := 0

	for {
		if err := t.client.DoDeadline(req, resp, deadline); err != nil {
			if t.isClosed() {
				err = ErrTransferClosed
			}
			return req.URI().String(), classify(err)
		}

		status := resp.StatusCode()
		location := resp.Header.Peek(fasthttp.HeaderLocation)
		if !fasthttp.StatusCodeIsRedirect(status) || len(location) == 0 {
			break
		}

		if redirects >= t.cfg.MaxRedirects {
			return req.URI().String(), &DispatchError{
				Code:    CodeTooManyRedirects,
				Message: "maximum redirects followed",
			}
		}
		redirects++

		req.URI().UpdateBytes(location)
		resp.Reset()
	}

	effective := req.URI().String()

	if err := resp.BodyWriteTo(sink); err != nil {
		return effective, classify(err)
	}

	if status := resp.StatusCode(); status < 200 || status > 299 {
		return effective, statusError(status)
	}

	return effective, nil
}

func (t *HTTPTransfer) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close force-closes every live connection, aborting an in-flight Fetch.
func (t *HTTPTransfer) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	conns := make([]net.Conn, 0, len(t.conns))
	for conn := range t.conns {
		conns = append(conns, conn)
	}
	t.conns = make(map[net.Conn]struct{})
	t.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	t.client.CloseIdleConnections()

	return nil
}

type trackedConn struct {
	net.Conn
	owner *HTTPTransfer
	once  sync.Once
}

func (c *trackedConn) Close() error {
	c.once.Do(func() { c.owner.forget(c.Conn) })
	return c.Conn.Close()
}
