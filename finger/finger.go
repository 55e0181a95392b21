package finger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jamestomasino-forks/kristall/log"
)

// ErrNotFinger is returned when Fetch is given a URL with a different scheme.
var ErrNotFinger = errors.New("finger: URL scheme is not finger")

// ErrInFlight is returned when Fetch is called while a request is live.
var ErrInFlight = errors.New("finger: a request is already in flight")

// MIME tags finger output for the renderer routing.
const MIME = "text/finger"

// User extracts the queried user from a finger URL. Both
// finger://user@host and finger://host/user forms are accepted.
func User(u *url.URL) string {
	if u.User != nil {
		return u.User.Username()
	}
	return strings.TrimPrefix(u.Path, "/")
}

// NewClient creates a Finger client with the default timeout.
func NewClient() *Client {
	return &Client{
		Timeout: time.Second * 15,
	}
}

// Client performs one Finger request at a time (RFC 1288).
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

// Fetch sends the user query and accumulates the reply until the
// server closes the connection.
func (c *Client) Fetch(ctx context.Context, u *url.URL) (body []byte, mime string, err error) {
	if u.Scheme != "finger" {
		return nil, "", ErrNotFinger
	}
	port := u.Port()
	if port == "" {
		port = "79"
	}
	dialer := net.Dialer{
		Timeout: c.Timeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", u.Hostname()+":"+port)
	if err != nil {
		return nil, "", normalize(ctx, fmt.Errorf("finger: error connecting: %w", err))
	}
	if err = c.track(conn); err != nil {
		conn.Close()
		return nil, "", err
	}
	defer c.Cancel()

	conn.SetWriteDeadline(time.Now().Add(c.Timeout))
	if _, err = conn.Write([]byte(User(u) + "\r\n")); err != nil {
		return nil, "", normalize(ctx, fmt.Errorf("finger: error writing query: %w", err))
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
			if c.OnProgress != nil {
				c.OnProgress(int64(len(body)))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, "", normalize(ctx, fmt.Errorf("finger: error reading body: %w", err))
		}
	}
	log.Info("finger: request complete", log.URL(u), log.Int("size", len(body)))
	return body, MIME, nil
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

func normalize(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return context.Canceled
	}
	return err
}
