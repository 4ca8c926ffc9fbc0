// Package transport opens remote resources as byte streams. Each scheme has its
// own Transport; Mux routes a URL to the right one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/grabber/internal/utils"
)

// ErrConnectTimeout is the cancellation cause when no response arrives within the connect timeout.
var ErrConnectTimeout = errors.New("no response within connect timeout")

// Response is an opened resource. Body must be closed by the caller.
type Response struct {
	StatusCode    int
	ContentLength int64 // -1 when unknown
	Header        http.Header
	Body          io.ReadCloser
}

// Transport opens a URL for streaming. connectTimeout bounds the time until the
// response starts; the body stays bound to ctx. Returned errors are
// *utils.DownloadError values carrying a retry classification.
type Transport interface {
	Open(ctx context.Context, link string, connectTimeout time.Duration) (*Response, error)
}

type Mux struct {
	mu     sync.RWMutex
	routes map[string]Transport
}

func NewMux() *Mux {
	return &Mux{routes: make(map[string]Transport)}
}

// Handle registers t for a URL scheme, replacing any earlier registration.
func (m *Mux) Handle(scheme string, t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[strings.ToLower(scheme)] = t
}

func (m *Mux) lookup(link string) (Transport, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", link, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL %q has no host", link)
	}
	m.mu.RLock()
	t, ok := m.routes[strings.ToLower(u.Scheme)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return t, nil
}

// Check reports why link cannot be opened, or nil if a transport handles it.
func (m *Mux) Check(link string) error {
	if _, err := m.lookup(link); err != nil {
		return utils.NewError(utils.KindConfig, "transport/mux", err)
	}
	return nil
}

func (m *Mux) Supports(link string) bool {
	return m.Check(link) == nil
}

func (m *Mux) Open(ctx context.Context, link string, connectTimeout time.Duration) (*Response, error) {
	t, err := m.lookup(link)
	if err != nil {
		return nil, utils.NewError(utils.KindConfig, "transport/mux", err)
	}
	return t.Open(ctx, link, connectTimeout)
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	if text := http.StatusText(e.Code); text != "" {
		return fmt.Sprintf("unexpected status %d %s", e.Code, text)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// CheckStatus classifies a response status. 2xx is success; 5xx, 408, 425, 429
// and 449 are transient; anything else is terminal.
func CheckStatus(op string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500, code == 408, code == 425, code == 429, code == 449:
		return utils.NewError(utils.KindTransportTransient, op, &StatusError{Code: code})
	default:
		return utils.NewError(utils.KindTransportTerminal, op, &StatusError{Code: code})
	}
}

// connectContext derives a context that is cancelled with ErrConnectTimeout unless
// stop is called within d. stop reports false when the timer already fired.
func connectContext(parent context.Context, d time.Duration) (ctx context.Context, stop func() bool, cancel func()) {
	cctx, cancelCause := context.WithCancelCause(parent)
	cancel = func() { cancelCause(nil) }
	if d <= 0 {
		return cctx, func() bool { return true }, cancel
	}
	timer := time.AfterFunc(d, func() { cancelCause(ErrConnectTimeout) })
	return cctx, timer.Stop, func() {
		timer.Stop()
		cancelCause(nil)
	}
}

// classify maps a transport failure onto the error taxonomy.
func classify(ctx context.Context, op string, err error) error {
	var de *utils.DownloadError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(context.Cause(ctx), ErrConnectTimeout) {
		return utils.NewError(utils.KindTimeout, op, ErrConnectTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return utils.NewError(utils.KindTimeout, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return utils.NewError(utils.KindTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		// caller gave up; not a transport condition
		return fmt.Errorf("%s: %w", op, err)
	}
	if malformed(err) {
		return utils.NewError(utils.KindTransportTerminal, op, err)
	}
	return utils.NewError(utils.KindTransportTransient, op, err)
}

// malformed reports protocol failures that a retry would only repeat: an
// unparseable status line or header block, a plain HTTP answer to a TLS client,
// or too many redirects. net/http returns most of these as plain string errors.
func malformed(err error) bool {
	var pe textproto.ProtocolError
	if errors.As(err, &pe) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"malformed HTTP",
		"malformed MIME header",
		"server gave HTTP response to HTTPS client",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return strings.Contains(msg, "stopped after") && strings.Contains(msg, "redirects")
}

// body classifies read errors and releases the connect context on Close.
type body struct {
	op     string
	rc     io.ReadCloser
	ctx    context.Context
	cancel func()
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		err = classify(b.ctx, b.op, err)
	}
	return n, err
}

func (b *body) Close() error {
	err := b.rc.Close()
	b.cancel()
	return err
}
