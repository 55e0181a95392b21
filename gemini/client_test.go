package gemini

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jamestomasino-forks/kristall/identity"
)

func mustParse(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatalf("failed to parse URL %q: %v", s, err)
	}
	return u
}

// serve reads the request line from the peer end of a pipe, writes the
// scripted response and closes the connection.
func serve(conn net.Conn, response string) {
	go func() {
		buffer := make([]byte, 1024)
		if _, err := conn.Read(buffer); err != nil {
			conn.Close()
			return
		}
		conn.Write([]byte(response))
		conn.Close()
	}()
}

func TestFetchConn(t *testing.T) {
	tests := []struct {
		name             string
		url              string
		response         string
		expected         *Response
		expectedRedirect string
		expectedReason   string
	}{
		{
			name:     "success with streaming body",
			url:      "gemini://example.com/",
			response: "20 text/gemini\r\n# Hello\n",
			expected: &Response{
				Status: Status{Primary: 2, Secondary: 0, Meta: "text/gemini"},
				Body:   []byte("# Hello\n"),
			},
		},
		{
			name:     "success with empty meta",
			url:      "gemini://example.com/",
			response: "20 \r\n",
			expected: &Response{
				Status: Status{Primary: 2, Secondary: 0, Meta: ""},
				Body:   []byte{},
			},
		},
		{
			name:     "input required",
			url:      "gemini://example.com/search",
			response: "10 Enter query\r\n",
			expected: &Response{
				Status: Status{Primary: 1, Secondary: 0, Meta: "Enter query"},
			},
		},
		{
			name:             "relative redirect resolves against the request URL",
			url:              "gemini://example.com/a",
			response:         "31 /next\r\n",
			expectedRedirect: "gemini://example.com/next",
		},
		{
			name:     "temporary failure",
			url:      "gemini://example.com/",
			response: "41 maintenance\r\n",
			expected: &Response{
				Status: Status{Primary: 4, Secondary: 1, Meta: "maintenance"},
			},
		},
		{
			name:     "certificate required",
			url:      "gemini://example.com/private",
			response: "61 Authenticate\r\n",
			expected: &Response{
				Status: Status{Primary: 6, Secondary: 1, Meta: "Authenticate"},
			},
		},
		{
			name:           "missing separator is a protocol violation",
			url:            "gemini://example.com/",
			response:       "20text/gemini\r\n",
			expectedReason: "third character is not a space",
		},
		{
			name:           "status class seven is a protocol violation",
			url:            "gemini://example.com/",
			response:       "70 what\r\n",
			expectedReason: "unspecified status code used",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient()
			clientConn, serverConn := net.Pipe()
			serve(serverConn, tt.response)
			resp, err := client.FetchConn(context.Background(), clientConn, mustParse(t, tt.url))
			if tt.expectedReason != "" {
				var pv ProtocolViolationError
				if !errors.As(err, &pv) {
					t.Fatalf("expected a protocol violation, got %v", err)
				}
				if pv.Reason != tt.expectedReason {
					t.Errorf("expected reason %q, got %q", tt.expectedReason, pv.Reason)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.expectedRedirect != "" {
				if resp.Redirect == nil {
					t.Fatalf("expected a redirect, got %+v", resp)
				}
				if resp.Redirect.String() != tt.expectedRedirect {
					t.Errorf("expected redirect to %q, got %q", tt.expectedRedirect, resp.Redirect)
				}
				return
			}
			if diff := cmp.Diff(tt.expected, resp); diff != "" {
				t.Error(diff)
			}
			if state := client.State(); state != StateIdle {
				t.Errorf("expected the client to return to idle, got %v", state)
			}
		})
	}
}

func TestCancellationIsSilent(t *testing.T) {
	client := NewClient()
	progress := make(chan int64, 16)
	client.OnProgress = func(total int64) {
		select {
		case progress <- total:
		default:
		}
	}
	clientConn, serverConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	go func() {
		buffer := make([]byte, 1024)
		if _, err := serverConn.Read(buffer); err != nil {
			return
		}
		serverConn.Write([]byte("20 application/octet-stream\r\n"))
		serverConn.Write(make([]byte, 2048))
		<-release
		serverConn.Write([]byte("more"))
		serverConn.Close()
	}()

	type outcome struct {
		resp *Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := client.FetchConn(ctx, clientConn, mustParse(t, "gemini://example.com/blob"))
		done <- outcome{resp: resp, err: err}
	}()

	// Wait until the body is streaming, then cancel mid-transfer.
	<-progress
	cancel()
	close(release)

	result := <-done
	if !errors.Is(result.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", result.err)
	}
	if result.resp != nil {
		t.Errorf("a cancelled request must not deliver a partial completion, got %+v", result.resp)
	}
	if state := client.State(); state != StateIdle {
		t.Errorf("expected the client to return to idle, got %v", state)
	}
}

func TestSecondRequestWhileInFlightIsRejected(t *testing.T) {
	client := NewClient()
	clientConn, serverConn := net.Pipe()
	started := make(chan struct{})
	go func() {
		buffer := make([]byte, 1024)
		serverConn.Read(buffer)
		close(started)
		// Keep the request hanging until the client cancels.
	}()
	go client.FetchConn(context.Background(), clientConn, mustParse(t, "gemini://example.com/"))
	<-started

	otherConn, _ := net.Pipe()
	_, err := client.FetchConn(context.Background(), otherConn, mustParse(t, "gemini://example.com/other"))
	if !errors.Is(err, ErrInFlight) {
		t.Errorf("expected ErrInFlight, got %v", err)
	}
	client.Cancel()
}

func TestCancelIsIdempotent(t *testing.T) {
	client := NewClient()
	if err := client.Cancel(); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if err := client.Cancel(); err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	if state := client.State(); state != StateIdle {
		t.Errorf("expected idle, got %v", state)
	}
}

func TestFetchRejectsOtherSchemes(t *testing.T) {
	client := NewClient()
	_, err := client.Fetch(context.Background(), mustParse(t, "https://example.com/"))
	if !errors.Is(err, ErrNotGemini) {
		t.Errorf("expected ErrNotGemini, got %v", err)
	}
}

func TestOverlongRequestIsRejected(t *testing.T) {
	client := NewClient()
	u := mustParse(t, "gemini://example.com/")
	for len(u.Path) < maxRequestLength {
		u.Path += "aaaaaaaaaa"
	}
	clientConn, _ := net.Pipe()
	_, err := client.FetchConn(context.Background(), clientConn, u)
	if !errors.Is(err, ErrRequestTooLong) {
		t.Errorf("expected ErrRequestTooLong, got %v", err)
	}
}

func TestUseIdentityRequiresAValidKeyPair(t *testing.T) {
	client := NewClient()
	if err := client.UseIdentity(&identity.Identity{DisplayName: "empty"}); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("expected ErrInvalidIdentity, got %v", err)
	}
	id, err := identity.NewTransient("test session")
	if err != nil {
		t.Fatalf("failed to mint a transient identity: %v", err)
	}
	if err := client.UseIdentity(id); err != nil {
		t.Errorf("expected the transient identity to be accepted, got %v", err)
	}
	client.ClearIdentity()
	if client.Identity() != nil {
		t.Error("expected the identity to be cleared")
	}
}
