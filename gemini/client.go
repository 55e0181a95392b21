package gemini

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/jamestomasino-forks/kristall/identity"
	"github.com/jamestomasino-forks/kristall/log"
)

// State of a client between Fetch calls and within one.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingHeader
	StateStreamingBody
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHeader:
		return "awaiting-header"
	case StateStreamingBody:
		return "streaming-body"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// ErrNotGemini is returned when Fetch is given a URL with a different scheme.
var ErrNotGemini = errors.New("gemini: URL scheme is not gemini")

// ErrInFlight is returned when Fetch is called while a request is live.
var ErrInFlight = errors.New("gemini: a request is already in flight")

// ErrRequestTooLong is returned when the encoded request exceeds 1024 bytes.
var ErrRequestTooLong = errors.New("gemini: request exceeds 1024 bytes")

// ErrInvalidIdentity is returned when UseIdentity is given an identity
// without both certificate and key.
var ErrInvalidIdentity = errors.New("gemini: identity is missing certificate or key")

const maxRequestLength = 1024

// Response is the single terminal outcome of a Fetch. Body is only
// populated for 2x responses; Redirect only for 3x.
type Response struct {
	Status   Status
	Body     []byte
	Redirect *url.URL
}

// MIME returns the media type of a successful response.
func (r *Response) MIME() string {
	return r.Status.Meta
}

// NewClient creates a Gemini client with the default timeouts.
func NewClient() *Client {
	return &Client{
		WriteTimeout: time.Second * 5,
		ReadTimeout:  time.Second * 15,
	}
}

// Client performs one Gemini request at a time over TLS 1.2+.
type Client struct {
	mu    sync.Mutex
	state State
	conn  net.Conn
	id    *identity.Identity

	// TrustCertificate decides whether to accept the server
	// certificate. When nil every certificate is accepted; trust
	// policy (e.g. TOFU) belongs to the host application.
	TrustCertificate func(hostname string, cert *x509.Certificate) error

	// OnProgress is called with the accumulated body size while a 2x
	// response streams in.
	OnProgress func(total int64)

	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// UseIdentity sets the client certificate presented on subsequent
// requests. The identity must carry both certificate and key.
func (c *Client) UseIdentity(id *identity.Identity) error {
	if !id.Valid() {
		return ErrInvalidIdentity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	return nil
}

// ClearIdentity removes the client certificate. A request that is
// already in flight keeps the identity it started with.
func (c *Client) ClearIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = nil
}

// Identity returns the currently configured identity, if any.
func (c *Client) Identity() *identity.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// State returns the request state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel closes the socket and returns the client to idle. It is
// idempotent, safe from any state, and emits no terminal outcome: a
// cancelled Fetch returns context.Canceled, which callers discard.
func (c *Client) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateIdle
	return nil
}

// Fetch performs one request and returns exactly one terminal outcome:
// a Response, or an error (protocol violation, transport failure, or
// context cancellation).
func (c *Client) Fetch(ctx context.Context, u *url.URL) (*Response, error) {
	if u.Scheme != "gemini" {
		return nil, ErrNotGemini
	}
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.reset()

	tlsDialer := tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout: c.ReadTimeout,
		},
		Config: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true,
		},
	}
	if c.TrustCertificate != nil {
		hostname := u.Hostname()
		tlsDialer.Config.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("gemini: server presented no certificate")
			}
			return c.TrustCertificate(hostname, cs.PeerCertificates[0])
		}
	}
	if id := c.Identity(); id.Valid() {
		tlsDialer.Config.Certificates = []tls.Certificate{id.Certificate}
	}
	port := u.Port()
	if port == "" {
		port = "1965"
	}
	conn, err := tlsDialer.DialContext(ctx, "tcp", u.Hostname()+":"+port)
	if err != nil {
		return nil, c.normalize(ctx, fmt.Errorf("gemini: error connecting: %w", err))
	}
	if !c.track(conn) {
		conn.Close()
		return nil, context.Canceled
	}
	return c.roundTrip(ctx, conn, u)
}

// FetchConn performs the request over an existing connection. It
// allows tests and proxies to supply their own transport.
func (c *Client) FetchConn(ctx context.Context, conn net.Conn, u *url.URL) (*Response, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.reset()
	if !c.track(conn) {
		conn.Close()
		return nil, context.Canceled
	}
	return c.roundTrip(ctx, conn, u)
}

func (c *Client) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrInFlight
	}
	c.state = StateConnecting
	return nil
}

// track publishes the live connection so Cancel can close it. It
// reports false if the request was cancelled while connecting.
func (c *Client) track(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.conn = conn
	c.state = StateAwaitingHeader
	return true
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateIdle
}

// normalize folds cancellation-induced transport errors into
// context.Canceled so callers can discard them silently.
func (c *Client) normalize(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return context.Canceled
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, conn net.Conn, u *url.URL) (*Response, error) {
	defer func() {
		c.setState(StateClosing)
		conn.Close()
	}()

	request := u.String() + "\r\n"
	if len(request) > maxRequestLength {
		return nil, ErrRequestTooLong
	}
	conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	if _, err := conn.Write([]byte(request)); err != nil {
		return nil, c.normalize(ctx, fmt.Errorf("gemini: error writing request: %w", err))
	}

	reader := newReaderContext(ctx, conn)
	conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	status, err := readHeader(reader)
	if err != nil {
		if IsProtocolViolation(err) {
			log.Warn("gemini: protocol violation", log.URL(u), log.String("reason", err.Error()))
			return nil, err
		}
		return nil, c.normalize(ctx, err)
	}

	switch status.Primary {
	case ClassSuccess:
		c.setState(StateStreamingBody)
		body, err := c.readBody(conn, reader)
		if err != nil {
			return nil, c.normalize(ctx, err)
		}
		log.Info("gemini: request complete", log.URL(u), log.Int("size", len(body)), log.String("mime", status.Meta))
		return &Response{Status: status, Body: body}, nil
	case ClassInput, ClassTemporaryFailure, ClassPermanentFailure, ClassCertificateRequired:
		return &Response{Status: status}, nil
	case ClassRedirect:
		target, err := redirectTarget(u, status.Meta)
		if err != nil {
			return nil, err
		}
		return &Response{Status: status, Redirect: target}, nil
	}
	return nil, ProtocolViolationError{Reason: "unspecified status code used"}
}

// readBody accumulates the body until the server closes the session.
// A close without TLS close_notify is still a completion: small-web
// servers routinely drop the connection once the body is written. Any
// other transport error mid-body fails the request.
func (c *Client) readBody(conn net.Conn, r io.Reader) ([]byte, error) {
	body := []byte{}
	buffer := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		n, err := r.Read(buffer)
		if n > 0 {
			body = append(body, buffer[:n]...)
			if c.OnProgress != nil {
				c.OnProgress(int64(len(body)))
			}
		}
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return body, nil
		}
		if err != nil {
			return nil, fmt.Errorf("gemini: error reading body: %w", err)
		}
	}
}

type readerCtx struct {
	ctx context.Context
	r   io.Reader
}

func (r *readerCtx) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func newReaderContext(ctx context.Context, r io.Reader) io.Reader {
	return &readerCtx{
		ctx: ctx,
		r:   r,
	}
}
