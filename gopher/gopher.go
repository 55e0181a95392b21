package gopher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/jamestomasino-forks/kristall/log"
)

// ErrNotGopher is returned when Fetch is given a URL with a different scheme.
var ErrNotGopher = errors.New("gopher: URL scheme is not gopher")

// ErrInFlight is returned when Fetch is called while a request is live.
var ErrInFlight = errors.New("gopher: a request is already in flight")

// TypeOf returns the selector type character encoded as the second
// character of the URL path (RFC 4266). An empty path is a menu.
func TypeOf(path string) byte {
	if len(path) < 2 {
		return 0
	}
	return path[1]
}

// MIMEFor maps a selector type to the media type of the response.
func MIMEFor(t byte) string {
	switch t {
	case 0, '1':
		return "text/gophermap"
	case '0':
		return "text/plain"
	case 'g':
		return "image/gif"
	case 'I':
		return "image/unknown"
	case 'h':
		return "text/html"
	case 's':
		return "audio/unknown"
	}
	return "application/octet-stream"
}

// IsBinary reports whether the selector type transfers raw bytes with
// no lone-dot terminator.
func IsBinary(t byte) bool {
	return t == '5' || t == '9' || t == 'I' || t == 'g'
}

// loneDot terminates text-mode transfers.
var loneDot = []byte("\r\n.\r\n")

// NewClient creates a Gopher client with the default timeouts.
func NewClient() *Client {
	return &Client{
		Timeout: time.Second * 15,
	}
}

// Client performs one Gopher request at a time over plain TCP.
type Client struct {
	mu   sync.Mutex
	conn net.Conn

	// OnProgress is called with the accumulated body size.
	OnProgress func(total int64)

	Timeout time.Duration
}

// Cancel closes the socket. Idempotent; a cancelled Fetch returns
// context.Canceled.
func (c *Client) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Fetch requests the URL's selector and returns the body and its
// inferred media type.
func (c *Client) Fetch(ctx context.Context, u *url.URL) (body []byte, mime string, err error) {
	if u.Scheme != "gopher" {
		return nil, "", ErrNotGopher
	}
	selectorType := TypeOf(u.Path)
	mime = MIMEFor(selectorType)
	binary := IsBinary(selectorType)

	port := u.Port()
	if port == "" {
		port = "70"
	}
	dialer := net.Dialer{
		Timeout: c.Timeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", u.Hostname()+":"+port)
	if err != nil {
		return nil, "", normalize(ctx, fmt.Errorf("gopher: error connecting: %w", err))
	}
	if err = c.track(conn); err != nil {
		conn.Close()
		return nil, "", err
	}
	defer c.Cancel()

	// The selector is the path with the leading slash and type
	// character stripped.
	var selector string
	if len(u.Path) > 2 {
		selector = u.Path[2:]
	}
	conn.SetWriteDeadline(time.Now().Add(c.Timeout))
	if _, err = conn.Write([]byte(selector + "\r\n")); err != nil {
		return nil, "", normalize(ctx, fmt.Errorf("gopher: error writing selector: %w", err))
	}

	buffer := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		conn.SetReadDeadline(time.Now().Add(c.Timeout))
		n, err := conn.Read(buffer)
		if n > 0 {
			body = append(body, buffer[:n]...)
			if !binary {
				// Strip the lone dot from text transfers, keeping the
				// CRLF that precedes it.
				if index := bytes.Index(body, loneDot); index >= 0 {
					body = body[:index+2]
					break
				}
			}
			if c.OnProgress != nil {
				c.OnProgress(int64(len(body)))
			}
		}
		if err != nil {
			if isClose(err) {
				break
			}
			return nil, "", normalize(ctx, fmt.Errorf("gopher: error reading body: %w", err))
		}
	}
	log.Info("gopher: request complete", log.URL(u), log.Int("size", len(body)), log.String("mime", mime))
	return body, mime, nil
}

func (c *Client) track(conn net.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrInFlight
	}
	c.conn = conn
	return nil
}

func isClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func normalize(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return context.Canceled
	}
	return err
}
