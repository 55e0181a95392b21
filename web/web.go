package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jamestomasino-forks/kristall/log"
)

// ErrNotWeb is returned when Fetch is given a URL that is neither http
// nor https.
var ErrNotWeb = errors.New("web: URL scheme is not http or https")

// ErrInFlight is returned when Fetch is called while a request is live.
var ErrInFlight = errors.New("web: a request is already in flight")

// NewClient creates a web client over the given HTTP engine. A nil
// engine uses http.DefaultClient.
func NewClient(engine *http.Client) *Client {
	if engine == nil {
		engine = http.DefaultClient
	}
	return &Client{
		engine:  engine,
		Timeout: time.Second * 30,
	}
}

// Client adapts an HTTP engine to the protocol-client contract: one
// request at a time, byte accumulation with progress, cancellation
// through the context.
type Client struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	engine *http.Client

	// OnProgress is called with the accumulated body size.
	OnProgress func(total int64)

	Timeout time.Duration
}

// Cancel aborts the in-flight transfer. Idempotent; a cancelled Fetch
// returns context.Canceled.
func (c *Client) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}

// Fetch performs the HTTP request and returns the accumulated body
// with the media type from the Content-Type header, sniffed from
// content when absent.
func (c *Client) Fetch(ctx context.Context, u *url.URL) (body []byte, mime string, err error) {
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", ErrNotWeb
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	if err = c.track(cancel); err != nil {
		cancel()
		return nil, "", err
	}
	defer c.Cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("web: error building request: %w", err)
	}
	resp, err := c.engine.Do(req)
	if err != nil {
		return nil, "", normalize(ctx, fmt.Errorf("web: request failed: %w", err))
	}
	defer resp.Body.Close()

	buffer := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buffer)
		if n > 0 {
			body = append(body, buffer[:n]...)
			if c.OnProgress != nil {
				c.OnProgress(int64(len(body)))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", normalize(ctx, fmt.Errorf("web: error reading body: %w", err))
		}
	}

	mime = resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(body)
	}
	log.Info("web: request complete", log.URL(u), log.Int("size", len(body)), log.String("mime", mime), log.Int("status", resp.StatusCode))
	return body, mime, nil
}

func (c *Client) track(cancel context.CancelFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrInFlight
	}
	c.cancel = cancel
	return nil
}

func normalize(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	return err
}
