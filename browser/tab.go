package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jamestomasino-forks/kristall/finger"
	"github.com/jamestomasino-forks/kristall/gemini"
	"github.com/jamestomasino-forks/kristall/gopher"
	"github.com/jamestomasino-forks/kristall/identity"
	"github.com/jamestomasino-forks/kristall/local"
	"github.com/jamestomasino-forks/kristall/log"
	"github.com/jamestomasino-forks/kristall/web"
	osbrowser "github.com/pkg/browser"
)

// HistoryMode selects whether a navigation is recorded.
type HistoryMode int

const (
	DontPush HistoryMode = iota
	PushImmediate
)

// NavigationState of a tab.
type NavigationState int

const (
	NavIdle NavigationState = iota
	NavInFlight
	NavLoaded
	NavErrored
)

// UI is the set of prompts the controller needs from its host. All
// calls block until the user answers; protocol code never renders
// dialogs itself.
type UI interface {
	// AskInput shows the prompt of a 1x response. ok is false when the
	// user cancels.
	AskInput(prompt string) (text string, ok bool)
	// PickIdentity shows the credential selector for a 6x response.
	PickIdentity(reason string) (id *identity.Identity, ok bool)
	// ConfirmDiscardTransient asks before a transient identity is
	// cleared, since it cannot be restored.
	ConfirmDiscardTransient() bool
	// Warn shows a modal warning.
	Warn(msg string)
}

// maxRedirections bounds a redirect chain; the next redirect aborts.
const maxRedirections = 5

// Tab turns a user-level navigation into exactly one terminal outcome:
// a rendered envelope or an error page. It owns one client per
// protocol, the history tree and the current envelope.
type Tab struct {
	Gemini *gemini.Client
	Gopher *gopher.Client
	Finger *finger.Client
	Web    *web.Client

	Prefs      *Prefs
	Favourites *Favourites
	History    *History
	UI         UI

	// OnLocation, OnTitle and OnLoaded fire on completion; OnProgress
	// fires while a body streams in.
	OnLocation func(u *url.URL)
	OnTitle    func(title string)
	OnLoaded   func(size int, mime string, elapsed time.Duration)
	OnProgress func(transferred int64)

	state            NavigationState
	location         *url.URL
	current          *Envelope
	renderer         RendererKind
	historyIndex     int
	redirectionCount int
	loaded           bool
	identity         *identity.Identity
	started          time.Time
}

// NewTab creates a tab wired to the given collaborators.
func NewTab(prefs *Prefs, favourites *Favourites, ui UI) *Tab {
	t := &Tab{
		Gemini:       gemini.NewClient(),
		Gopher:       gopher.NewClient(),
		Finger:       finger.NewClient(),
		Web:          web.NewClient(nil),
		Prefs:        prefs,
		Favourites:   favourites,
		History:      &History{},
		UI:           ui,
		historyIndex: NoIndex,
	}
	progress := func(total int64) {
		if t.OnProgress != nil {
			t.OnProgress(total)
		}
	}
	t.Gemini.OnProgress = progress
	t.Gopher.OnProgress = progress
	t.Finger.OnProgress = progress
	t.Web.OnProgress = progress
	return t
}

// State returns the tab's navigation state.
func (t *Tab) State() NavigationState { return t.state }

// Location returns the current URL.
func (t *Tab) Location() *url.URL { return t.location }

// Current returns the most recently completed envelope.
func (t *Tab) Current() *Envelope { return t.current }

// Renderer returns the renderer the current envelope routed to.
func (t *Tab) Renderer() RendererKind { return t.renderer }

// Loaded reports whether the last navigation completed successfully.
func (t *Tab) Loaded() bool { return t.loaded }

// HistoryIndex returns the tab's position in the history tree.
func (t *Tab) HistoryIndex() int { return t.historyIndex }

// CanBack reports whether back-navigation is possible.
func (t *Tab) CanBack() bool {
	return t.History.Get(t.History.OneBackward(t.historyIndex)) != nil
}

// CanForward reports whether forward-navigation is possible.
func (t *Tab) CanForward() bool {
	return t.History.Get(t.History.OneForward(t.historyIndex)) != nil
}

// NavigateTo resolves the URL to exactly one terminal outcome. The
// scheme is validated against the registry, all clients are cancelled,
// and the URL is dispatched to the matching client. Redirects, input
// prompts and certificate prompts are re-dispatched internally.
func (t *Tab) NavigateTo(ctx context.Context, u *url.URL, mode HistoryMode) {
	if t.Prefs.Protocols.Support(u.Scheme) != Enabled {
		t.UI.Warn("URI scheme not supported or disabled: " + u.Scheme)
		return
	}
	if !t.cancelClients() {
		return
	}
	t.started = time.Now()
	t.redirectionCount = 0
	t.loaded = false
	t.state = NavInFlight
	t.setLocation(u)
	if mode == PushImmediate {
		t.historyIndex = t.History.Push(t.historyIndex, u)
	}
	t.dispatch(ctx, u)
}

// Back moves one step backwards through the history tree.
func (t *Tab) Back(ctx context.Context) {
	t.navigateHistory(ctx, t.History.OneBackward(t.historyIndex))
}

// Forward moves to the most recent branch below the current node.
func (t *Tab) Forward(ctx context.Context) {
	t.navigateHistory(ctx, t.History.OneForward(t.historyIndex))
}

func (t *Tab) navigateHistory(ctx context.Context, index int) {
	if u := t.History.Get(index); u != nil {
		t.historyIndex = index
		t.NavigateTo(ctx, u, DontPush)
	}
}

// Reload re-dispatches the current URL without touching history.
func (t *Tab) Reload(ctx context.Context) {
	if t.location != nil {
		t.NavigateTo(ctx, t.location, DontPush)
	}
}

// Stop silently cancels any in-flight request.
func (t *Tab) Stop() {
	t.cancelClients()
}

// FollowLink resolves an anchor target against the current location
// and navigates to it. Links using a disabled or unsupported scheme
// are handed to the operating system when the preference allows it.
func (t *Tab) FollowLink(ctx context.Context, target *url.URL) {
	if !target.IsAbs() && t.location != nil {
		target = t.location.ResolveReference(target)
	}
	support := t.Prefs.Protocols.Support(target.Scheme)
	if support == Enabled {
		t.NavigateTo(ctx, target, PushImmediate)
		return
	}
	if t.Prefs.UseOSSchemeHandler {
		if err := osbrowser.OpenURL(target.String()); err != nil {
			t.UI.Warn(fmt.Sprintf("Failed to start system URL handler for\r\n%v", target))
		}
		return
	}
	if support == Disabled {
		t.UI.Warn(fmt.Sprintf("The requested URL uses a scheme that has been disabled in the settings:\r\n%v", target))
		return
	}
	t.UI.Warn(fmt.Sprintf("The requested URL cannot be processed:\r\n%v", target))
}

// EnableClientCertificate asks the user for an identity and installs
// it on the Gemini client.
func (t *Tab) EnableClientCertificate(reason string) bool {
	id, ok := t.UI.PickIdentity(reason)
	if !ok || !id.Valid() {
		t.Gemini.ClearIdentity()
		t.identity = nil
		return false
	}
	if err := t.Gemini.UseIdentity(id); err != nil {
		t.UI.Warn("Failed to use the selected crypto-identity")
		t.identity = nil
		return false
	}
	t.identity = id
	return true
}

// DisableClientCertificate clears the active identity. Clearing a
// transient identity needs confirmation: it cannot be restored.
func (t *Tab) DisableClientCertificate() bool {
	if t.identity.Valid() && !t.identity.Persistent {
		if !t.UI.ConfirmDiscardTransient() {
			return false
		}
	}
	t.identity = nil
	t.Gemini.ClearIdentity()
	return true
}

// Identity returns the identity active on this tab, if any.
func (t *Tab) Identity() *identity.Identity { return t.identity }

// cancelClients cancels all four protocol clients. Every cancellation
// must succeed before a new request may be dispatched.
func (t *Tab) cancelClients() bool {
	if err := t.Gemini.Cancel(); err != nil {
		t.UI.Warn("Failed to cancel running gemini request!")
		return false
	}
	if err := t.Web.Cancel(); err != nil {
		t.UI.Warn("Failed to cancel running web request!")
		return false
	}
	if err := t.Gopher.Cancel(); err != nil {
		t.UI.Warn("Failed to cancel running gopher request!")
		return false
	}
	if err := t.Finger.Cancel(); err != nil {
		t.UI.Warn("Failed to cancel running finger request!")
		return false
	}
	return true
}

func (t *Tab) dispatch(ctx context.Context, u *url.URL) {
	switch u.Scheme {
	case "gemini":
		t.fetchGemini(ctx, u)
	case "http", "https":
		body, mime, err := t.Web.Fetch(ctx, u)
		t.finishFetch(u, body, mime, err)
	case "gopher":
		body, mime, err := t.Gopher.Fetch(ctx, u)
		t.finishFetch(u, body, mime, err)
	case "finger":
		body, mime, err := t.Finger.Fetch(ctx, u)
		t.finishFetch(u, body, mime, err)
	case "file":
		body, mime, err := local.File(u)
		if err != nil {
			t.errorPage(fmt.Sprintf("Request failed:\n%v", err))
			return
		}
		t.complete(u, body, mime)
	case "about":
		body, mime, err := local.About(u, t.Favourites)
		if err != nil {
			t.UI.Warn("Unknown location: " + local.AboutName(u))
			t.state = NavErrored
			return
		}
		t.complete(u, body, mime)
	}
}

// finishFetch maps the shared fetch contract of the gopher, finger and
// web clients to a terminal outcome. Cancellation is silent.
func (t *Tab) finishFetch(u *url.URL, body []byte, mime string, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			t.state = NavIdle
			return
		}
		t.errorPage(fmt.Sprintf("Request failed:\n%v", err))
		return
	}
	t.complete(u, body, mime)
}

// fetchGemini drives a Gemini request to its terminal outcome,
// handling the recoverable status classes: input prompts, redirects
// and certificate requests re-dispatch without a user-visible failure.
func (t *Tab) fetchGemini(ctx context.Context, u *url.URL) {
	for {
		resp, err := t.Gemini.Fetch(ctx, u)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				t.state = NavIdle
				return
			}
			if gemini.IsProtocolViolation(err) {
				var pv gemini.ProtocolViolationError
				errors.As(err, &pv)
				t.errorPage(fmt.Sprintf("Protocol violation:\n%v", pv.Reason))
				return
			}
			t.errorPage(fmt.Sprintf("Request failed:\n%v", err))
			return
		}

		switch resp.Status.Primary {
		case gemini.ClassInput:
			text, ok := t.UI.AskInput(resp.Status.Meta)
			if !ok {
				t.errorPage(fmt.Sprintf("Site requires input:\n%v", resp.Status.Meta))
				return
			}
			// Re-issue the current URL with the input as its query.
			next := *u
			next.RawQuery = url.QueryEscape(text)
			u = &next
			t.redirectionCount = 0
			t.setLocation(u)

		case gemini.ClassSuccess:
			t.complete(u, resp.Body, resp.MIME())
			return

		case gemini.ClassRedirect:
			if t.redirectionCount >= maxRedirections {
				t.errorPage("Too many redirections!")
				return
			}
			t.redirectionCount++
			u = resp.Redirect
			t.setLocation(u)

		case gemini.ClassTemporaryFailure:
			t.errorPage(fmt.Sprintf("%v\n%v", resp.Status.Temporary(), resp.Status.Meta))
			return

		case gemini.ClassPermanentFailure:
			t.errorPage(fmt.Sprintf("%v\n%v", resp.Status.Permanent(), resp.Status.Meta))
			return

		case gemini.ClassCertificateRequired:
			switch resp.Status.Secondary {
			case 0, 1:
				if !t.EnableClientCertificate(resp.Status.Meta) {
					t.errorPage(fmt.Sprintf("The page requested a transient client certificate, but none was provided.\r\nOriginal query was: %v", resp.Status.Meta))
					return
				}
			case 2:
				if !t.EnableClientCertificate(resp.Status.Meta) {
					t.errorPage(fmt.Sprintf("The page requested an authorised client certificate, but none was provided.\r\nOriginal query was: %v", resp.Status.Meta))
					return
				}
			default:
				t.errorPage(fmt.Sprintf("%v\n%v", resp.Status.Rejection(), resp.Status.Meta))
				return
			}
		}
	}
}

func (t *Tab) setLocation(u *url.URL) {
	t.location = u
	if t.OnLocation != nil {
		t.OnLocation(u)
	}
}

// complete stores the envelope, routes it to a renderer and publishes
// the completion events.
func (t *Tab) complete(u *url.URL, body []byte, mime string) {
	t.location = u
	t.current = &Envelope{Body: body, MIME: mime}
	t.renderer = ResolveRenderer(mime, t.Prefs.TextDisplay == TextDisplayPlain)
	t.loaded = true
	t.state = NavLoaded
	elapsed := time.Since(t.started)
	log.Info("tab: loaded", log.URL(u), log.Int("size", len(body)), log.String("mime", mime), log.Duration("elapsed", elapsed))
	if t.OnLocation != nil {
		t.OnLocation(u)
	}
	if t.OnTitle != nil {
		t.OnTitle(u.String())
	}
	if t.OnLoaded != nil {
		t.OnLoaded(len(body), mime, elapsed)
	}
}

// errorPage renders a failure as a synthetic plaintext body so the tab
// stays consistent and navigable.
func (t *Tab) errorPage(msg string) {
	body := []byte("An error happened:\r\n" + msg)
	t.current = &Envelope{Body: body, MIME: "text/plain; charset=utf-8"}
	t.renderer = RenderPlain
	t.loaded = false
	t.state = NavErrored
	elapsed := time.Since(t.started)
	log.Warn("tab: error page", log.String("message", msg))
	if t.OnTitle != nil {
		t.OnTitle("Error")
	}
	if t.OnLoaded != nil {
		t.OnLoaded(len(body), t.current.MIME, elapsed)
	}
}
