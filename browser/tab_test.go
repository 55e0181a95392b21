package browser

import (
	"bufio"
	"context"
	"crypto/tls"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jamestomasino-forks/kristall/cert"
	"github.com/jamestomasino-forks/kristall/identity"
)

// fakeUI plays back scripted answers and records every prompt.
type fakeUI struct {
	inputs      []string
	identity    *identity.Identity
	identityOK  bool
	confirm     bool
	prompts     []string
	certPrompts []string
	warnings    []string
}

func (f *fakeUI) AskInput(prompt string) (string, bool) {
	f.prompts = append(f.prompts, prompt)
	if len(f.inputs) == 0 {
		return "", false
	}
	text := f.inputs[0]
	f.inputs = f.inputs[1:]
	return text, true
}

func (f *fakeUI) PickIdentity(reason string) (*identity.Identity, bool) {
	f.certPrompts = append(f.certPrompts, reason)
	return f.identity, f.identityOK
}

func (f *fakeUI) ConfirmDiscardTransient() bool {
	return f.confirm
}

func (f *fakeUI) Warn(msg string) {
	f.warnings = append(f.warnings, msg)
}

// startGeminiServer runs a scripted TLS server. The handler receives
// the request line and whether the client presented a certificate, and
// returns the raw response.
func startGeminiServer(t *testing.T, handler func(request string, authenticated bool) string) *url.URL {
	t.Helper()
	certPEM, keyPEM, err := cert.Generate("test server", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate a server certificate: %v", err)
	}
	keyPair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("failed to load the server keypair: %v", err)
	}
	config := &tls.Config{
		Certificates: []tls.Certificate{keyPair},
		ClientAuth:   tls.RequestClientCert,
	}
	l, err := tls.Listen("tcp", "127.0.0.1:0", config)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn *tls.Conn) {
				defer conn.Close()
				request, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				authenticated := len(conn.ConnectionState().PeerCertificates) > 0
				conn.Write([]byte(handler(strings.TrimRight(request, "\r\n"), authenticated)))
			}(conn.(*tls.Conn))
		}
	}()
	u, err := url.Parse("gemini://" + l.Addr().String() + "/")
	if err != nil {
		t.Fatalf("failed to parse the server URL: %v", err)
	}
	return u
}

func newTestTab(ui UI) *Tab {
	return NewTab(NewPrefs(""), NewFavourites(""), ui)
}

func requestPath(t *testing.T, request string) string {
	t.Helper()
	u, err := url.Parse(request)
	if err != nil {
		t.Errorf("server received an unparseable request %q: %v", request, err)
		return ""
	}
	return u.Path
}

func TestNavigateToUnsupportedScheme(t *testing.T) {
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.NavigateTo(context.Background(), historyURL(t, "mailto:alice@example.com"), PushImmediate)
	if len(ui.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", ui.warnings)
	}
	if !strings.Contains(ui.warnings[0], "mailto") {
		t.Errorf("expected the warning to name the scheme, got %q", ui.warnings[0])
	}
	if tab.Current() != nil {
		t.Error("expected no request to have been issued")
	}
	if got := len(tab.History.All()); got != 0 {
		t.Errorf("expected history to be untouched, got %v entries", got)
	}
}

func TestNavigateToDisabledScheme(t *testing.T) {
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.Prefs.Protocols.SetEnabled("gemini", false)
	tab.NavigateTo(context.Background(), historyURL(t, "gemini://example.com/"), PushImmediate)
	if len(ui.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", ui.warnings)
	}
	if tab.Current() != nil {
		t.Error("expected no request to have been issued")
	}
}

func TestNavigateToSuccess(t *testing.T) {
	u := startGeminiServer(t, func(request string, authenticated bool) string {
		return "20 text/gemini\r\n# Hello\n"
	})
	ui := &fakeUI{}
	tab := newTestTab(ui)
	var loadedSize int
	var loadedMIME string
	tab.OnLoaded = func(size int, mime string, elapsed time.Duration) {
		loadedSize = size
		loadedMIME = mime
	}
	tab.NavigateTo(context.Background(), u, PushImmediate)

	if !tab.Loaded() {
		t.Fatalf("expected the tab to be loaded, warnings: %v", ui.warnings)
	}
	if tab.State() != NavLoaded {
		t.Errorf("expected NavLoaded, got %v", tab.State())
	}
	expected := &Envelope{Body: []byte("# Hello\n"), MIME: "text/gemini"}
	if diff := cmp.Diff(expected, tab.Current()); diff != "" {
		t.Error(diff)
	}
	if tab.Renderer() != RenderGemtext {
		t.Errorf("expected the gemtext renderer, got %v", tab.Renderer())
	}
	if loadedSize != 8 || loadedMIME != "text/gemini" {
		t.Errorf("expected the loaded event to carry size and MIME, got %v %q", loadedSize, loadedMIME)
	}
	if got := len(tab.History.All()); got != 1 {
		t.Errorf("expected one history entry, got %v", got)
	}
}

func TestTooManyRedirections(t *testing.T) {
	u := startGeminiServer(t, func(request string, authenticated bool) string {
		return "31 /next\r\n"
	})
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.NavigateTo(context.Background(), u, PushImmediate)

	if tab.Loaded() {
		t.Error("expected the navigation to fail")
	}
	if tab.State() != NavErrored {
		t.Errorf("expected NavErrored, got %v", tab.State())
	}
	if !strings.Contains(string(tab.Current().Body), "Too many redirections") {
		t.Errorf("expected a too-many-redirections page, got %q", tab.Current().Body)
	}
	// None of the redirects push history.
	if got := len(tab.History.All()); got != 1 {
		t.Errorf("expected one history entry, got %v", got)
	}
}

func TestRedirectResolvesAgainstTheRequestURL(t *testing.T) {
	base := startGeminiServer(t, func(request string, authenticated bool) string {
		switch requestPath(t, request) {
		case "/start":
			return "31 /target\r\n"
		default:
			return "20 text/plain\r\nok\n"
		}
	})
	start := *base
	start.Path = "/start"
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.NavigateTo(context.Background(), &start, PushImmediate)

	if !tab.Loaded() {
		t.Fatalf("expected the tab to be loaded, warnings: %v", ui.warnings)
	}
	if got := string(tab.Current().Body); got != "ok\n" {
		t.Errorf("expected the redirect target body, got %q", got)
	}
	if got := tab.Location().Path; got != "/target" {
		t.Errorf("expected the location to follow the redirect, got %q", got)
	}
}

func TestInputRequired(t *testing.T) {
	base := startGeminiServer(t, func(request string, authenticated bool) string {
		u, err := url.Parse(request)
		if err != nil || u.RawQuery == "" {
			return "10 Enter query\r\n"
		}
		return "20 text/plain\r\nok\n"
	})
	ui := &fakeUI{inputs: []string{"foo bar"}}
	tab := newTestTab(ui)
	tab.NavigateTo(context.Background(), base, PushImmediate)

	if !tab.Loaded() {
		t.Fatalf("expected the tab to be loaded, warnings: %v", ui.warnings)
	}
	if got := string(tab.Current().Body); got != "ok\n" {
		t.Errorf("expected the post-input body, got %q", got)
	}
	if diff := cmp.Diff([]string{"Enter query"}, ui.prompts); diff != "" {
		t.Error(diff)
	}
	if got := tab.Location().RawQuery; got != url.QueryEscape("foo bar") {
		t.Errorf("expected the input in the query component, got %q", got)
	}
}

func TestInputCancelled(t *testing.T) {
	base := startGeminiServer(t, func(request string, authenticated bool) string {
		return "10 Enter query\r\n"
	})
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.NavigateTo(context.Background(), base, PushImmediate)

	if tab.Loaded() {
		t.Error("expected the navigation to fail")
	}
	if !strings.Contains(string(tab.Current().Body), "Enter query") {
		t.Errorf("expected the error page to carry the prompt, got %q", tab.Current().Body)
	}
}

func TestCertificateRequested(t *testing.T) {
	id, err := identity.NewTransient("test session")
	if err != nil {
		t.Fatalf("failed to mint an identity: %v", err)
	}
	base := startGeminiServer(t, func(request string, authenticated bool) string {
		if !authenticated {
			return "60 Authenticate\r\n"
		}
		return "20 text/gemini\r\nsecret\n"
	})
	private := *base
	private.Path = "/private"

	t.Run("selecting an identity re-issues the request", func(t *testing.T) {
		ui := &fakeUI{identity: id, identityOK: true}
		tab := newTestTab(ui)
		tab.NavigateTo(context.Background(), &private, PushImmediate)
		if !tab.Loaded() {
			t.Fatalf("expected the tab to be loaded, warnings: %v", ui.warnings)
		}
		if got := string(tab.Current().Body); got != "secret\n" {
			t.Errorf("expected the protected body, got %q", got)
		}
		if tab.Identity() != id {
			t.Error("expected the selected identity to be active")
		}
		if diff := cmp.Diff([]string{"Authenticate"}, ui.certPrompts); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("declining renders an error page with the reason", func(t *testing.T) {
		ui := &fakeUI{identityOK: false}
		tab := newTestTab(ui)
		tab.NavigateTo(context.Background(), &private, PushImmediate)
		if tab.Loaded() {
			t.Error("expected the navigation to fail")
		}
		if !strings.Contains(string(tab.Current().Body), "Authenticate") {
			t.Errorf("expected the error page to carry the reason, got %q", tab.Current().Body)
		}
		if diff := cmp.Diff([]string{"Authenticate"}, ui.certPrompts); diff != "" {
			t.Error(diff)
		}
		if tab.Gemini.Identity() != nil {
			t.Error("expected the client certificate to be disabled")
		}
	})
}

func TestCertificateFlowEndToEnd(t *testing.T) {
	id, err := identity.NewTransient("test session")
	if err != nil {
		t.Fatalf("failed to mint an identity: %v", err)
	}
	// The server asks for a certificate until the client presents one.
	base := startGeminiServer(t, func(request string, authenticated bool) string {
		if !authenticated {
			return "60 Authenticate\r\n"
		}
		return "20 text/gemini\r\nsecret\n"
	})
	ui := &fakeUI{identity: id, identityOK: true}
	tab := newTestTab(ui)
	if !tab.EnableClientCertificate("Authenticate") {
		t.Fatal("expected the identity to be installed")
	}
	tab.NavigateTo(context.Background(), base, PushImmediate)
	if !tab.Loaded() {
		t.Fatalf("expected the tab to be loaded, warnings: %v", ui.warnings)
	}
	if got := string(tab.Current().Body); got != "secret\n" {
		t.Errorf("expected the protected body, got %q", got)
	}
}

func TestDisableTransientIdentityNeedsConfirmation(t *testing.T) {
	id, err := identity.NewTransient("test session")
	if err != nil {
		t.Fatalf("failed to mint an identity: %v", err)
	}
	ui := &fakeUI{identity: id, identityOK: true, confirm: false}
	tab := newTestTab(ui)
	if !tab.EnableClientCertificate("Authenticate") {
		t.Fatal("expected the identity to be installed")
	}
	if tab.DisableClientCertificate() {
		t.Error("expected the disable to be refused without confirmation")
	}
	if tab.Identity() == nil {
		t.Error("expected the transient identity to survive")
	}
	ui.confirm = true
	if !tab.DisableClientCertificate() {
		t.Error("expected the disable to proceed with confirmation")
	}
	if tab.Identity() != nil || tab.Gemini.Identity() != nil {
		t.Error("expected the identity to be cleared")
	}
}

func TestReloadYieldsTheSameBody(t *testing.T) {
	u := startGeminiServer(t, func(request string, authenticated bool) string {
		return "20 text/gemini\r\nstable content\n"
	})
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.NavigateTo(context.Background(), u, PushImmediate)
	first := append([]byte{}, tab.Current().Body...)
	tab.Reload(context.Background())
	if diff := cmp.Diff(first, tab.Current().Body); diff != "" {
		t.Error(diff)
	}
	if got := len(tab.History.All()); got != 1 {
		t.Errorf("expected reload not to push history, got %v entries", got)
	}
}

func TestBackAndForward(t *testing.T) {
	base := startGeminiServer(t, func(request string, authenticated bool) string {
		switch requestPath(t, request) {
		case "/a":
			return "20 text/plain\r\nA"
		default:
			return "20 text/plain\r\nB"
		}
	})
	a, b := *base, *base
	a.Path = "/a"
	b.Path = "/b"
	ui := &fakeUI{}
	tab := newTestTab(ui)
	ctx := context.Background()

	tab.NavigateTo(ctx, &a, PushImmediate)
	tab.NavigateTo(ctx, &b, PushImmediate)
	if !tab.CanBack() {
		t.Fatal("expected back-navigation to be available")
	}
	tab.Back(ctx)
	if got := string(tab.Current().Body); got != "A" {
		t.Errorf("expected to be back at A, got %q", got)
	}
	if !tab.CanForward() {
		t.Fatal("expected forward-navigation to be available")
	}
	tab.Forward(ctx)
	if got := string(tab.Current().Body); got != "B" {
		t.Errorf("expected to be forward at B, got %q", got)
	}
	if got := len(tab.History.All()); got != 2 {
		t.Errorf("expected two history entries, got %v", got)
	}
}

func TestAboutBlank(t *testing.T) {
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.NavigateTo(context.Background(), historyURL(t, "about:blank"), PushImmediate)
	if !tab.Loaded() {
		t.Fatalf("expected the tab to be loaded, warnings: %v", ui.warnings)
	}
	expected := &Envelope{Body: []byte{}, MIME: "text/gemini"}
	if diff := cmp.Diff(expected, tab.Current()); diff != "" {
		t.Error(diff)
	}
	if tab.Renderer() != RenderGemtext {
		t.Errorf("expected the gemtext renderer, got %v", tab.Renderer())
	}
}

func TestAboutFavourites(t *testing.T) {
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.Favourites.Add(historyURL(t, "gemini://example.com/"))
	tab.NavigateTo(context.Background(), historyURL(t, "about:favourites"), PushImmediate)
	if !tab.Loaded() {
		t.Fatalf("expected the tab to be loaded, warnings: %v", ui.warnings)
	}
	if !strings.Contains(string(tab.Current().Body), "=> gemini://example.com/") {
		t.Errorf("expected a link line per favourite, got %q", tab.Current().Body)
	}
}

func TestAboutUnknownPageWarns(t *testing.T) {
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.NavigateTo(context.Background(), historyURL(t, "about:nonsense"), PushImmediate)
	if len(ui.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", ui.warnings)
	}
	if !strings.Contains(ui.warnings[0], "nonsense") {
		t.Errorf("expected the warning to name the page, got %q", ui.warnings[0])
	}
}

func TestServerFailuresRenderErrorPages(t *testing.T) {
	u := startGeminiServer(t, func(request string, authenticated bool) string {
		return "51 nope\r\n"
	})
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.NavigateTo(context.Background(), u, PushImmediate)
	if tab.State() != NavErrored {
		t.Fatalf("expected NavErrored, got %v", tab.State())
	}
	body := string(tab.Current().Body)
	if !strings.Contains(body, "Not Found") || !strings.Contains(body, "nope") {
		t.Errorf("expected the error page to carry kind and meta, got %q", body)
	}
	if !strings.HasPrefix(tab.Current().MIME, "text/plain") {
		t.Errorf("expected a synthetic plaintext body, got %q", tab.Current().MIME)
	}

	// The tab stays navigable after an error.
	tab.NavigateTo(context.Background(), historyURL(t, "about:blank"), PushImmediate)
	if !tab.Loaded() {
		t.Error("expected the tab to recover")
	}
}

func TestPlainTextPreferenceForcesThePlaintextRenderer(t *testing.T) {
	u := startGeminiServer(t, func(request string, authenticated bool) string {
		return "20 text/gemini\r\n# Hello\n"
	})
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.Prefs.TextDisplay = TextDisplayPlain
	tab.NavigateTo(context.Background(), u, PushImmediate)
	if tab.Renderer() != RenderPlain {
		t.Errorf("expected the plaintext renderer, got %v", tab.Renderer())
	}
}

func TestFileNavigation(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "doc.gmi")
	if err := os.WriteFile(fn, []byte("# Local\n"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	ui := &fakeUI{}
	tab := newTestTab(ui)
	tab.NavigateTo(context.Background(), historyURL(t, "file://"+fn), PushImmediate)
	if !tab.Loaded() {
		t.Fatalf("expected the tab to be loaded, warnings: %v", ui.warnings)
	}
	if diff := cmp.Diff("# Local\n", string(tab.Current().Body)); diff != "" {
		t.Error(diff)
	}

	tab.NavigateTo(context.Background(), historyURL(t, "file://"+filepath.Join(dir, "absent")), PushImmediate)
	if tab.State() != NavErrored {
		t.Errorf("expected a missing file to error, got %v", tab.State())
	}
}
