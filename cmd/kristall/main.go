package main

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/gdamore/tcell"
	"github.com/jamestomasino-forks/kristall/browser"
	"github.com/jamestomasino-forks/kristall/gemini"
	"github.com/jamestomasino-forks/kristall/identity"
)

var configPath = func() string {
	home, _ := os.UserHomeDir()
	return path.Join(home, ".kristall")
}()

const pageWidth = 80
const homeURL = "about:help"

func main() {
	// Configure the context to handle SIGINT.
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(c)
		cancel()
	}()
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
		}
	}()

	os.MkdirAll(configPath, 0700)

	prefs := browser.NewPrefs(path.Join(configPath, "config.ini"))
	if err := prefs.Load(); err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
	favourites := browser.NewFavourites(path.Join(configPath, "favourites.txt"))
	if err := favourites.Load(); err != nil {
		fmt.Println("Error loading favourites:", err)
		os.Exit(1)
	}

	// Create a screen.
	tcell.SetEncodingFallback(tcell.EncodingFallbackASCII)
	s, err := tcell.NewScreen()
	if err != nil {
		fmt.Println("Error creating screen:", err)
		os.Exit(1)
	}
	if err = s.Init(); err != nil {
		fmt.Println("Error initializing screen:", err)
		os.Exit(1)
	}
	defer s.Fini()

	// Set default colours.
	s.SetStyle(tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorBlack))

	shell := &Shell{
		Screen:     s,
		Identities: identity.NewStore(path.Join(configPath, "identities")),
	}
	tab := browser.NewTab(prefs, favourites, shell)

	startURL := strings.Join(os.Args[1:], "")
	if startURL == "" {
		startURL = homeURL
	}
	Run(ctx, tab, shell, startURL)
}

// Shell implements browser.UI with modal tcell dialogs.
type Shell struct {
	Screen     tcell.Screen
	Identities *identity.Store
}

func (sh *Shell) AskInput(prompt string) (text string, ok bool) {
	return promptText(sh.Screen, prompt, "")
}

func (sh *Shell) Warn(msg string) {
	pickOption(sh.Screen, msg, "Continue")
}

func (sh *Shell) ConfirmDiscardTransient() bool {
	msg := "You currently have a transient session active!\nIf you disable the session, you will not be able to restore it. Continue?"
	return confirm(sh.Screen, msg)
}

const permanentIdentityLifetime = time.Hour * 24 * 365 * 200

func (sh *Shell) PickIdentity(reason string) (id *identity.Identity, ok bool) {
	msg := "The server has requested a certificate"
	if reason != "" {
		msg += "\n\n" + reason
	}
	names, err := sh.Identities.List()
	if err != nil {
		sh.Warn(fmt.Sprintf("Error reading identity store: %v", err))
	}
	options := append(append([]string{}, names...), "Create (Transient)", "Create (Permanent)")
	choice := pickOption(sh.Screen, msg, options...)
	switch {
	case choice < 0:
		return nil, false
	case choice < len(names):
		id, err = sh.Identities.Load(names[choice])
		if err != nil {
			sh.Warn(fmt.Sprintf("Error loading identity: %v", err))
			return nil, false
		}
		return id, true
	case choice == len(names):
		id, err = identity.NewTransient("Transient session")
		if err != nil {
			sh.Warn(fmt.Sprintf("Error creating certificate: %v", err))
			return nil, false
		}
		return id, true
	default:
		name, accepted := sh.AskInput("Name for the new identity:")
		if !accepted || name == "" {
			return nil, false
		}
		id, err = identity.NewPersistent(name, permanentIdentityLifetime)
		if err != nil {
			sh.Warn(fmt.Sprintf("Error creating certificate: %v", err))
			return nil, false
		}
		if err = sh.Identities.Save(id); err != nil {
			sh.Warn(fmt.Sprintf("Error saving certificate: %v", err))
			return nil, false
		}
		return id, true
	}
}

type Action string

const (
	ActionHome      Action = ""
	ActionAskForURL Action = "AskForURL"
	ActionDisplay   Action = "Display"
)

func Run(ctx context.Context, tab *browser.Tab, shell *Shell, startURL string) {
	urlText := startURL
	var action Action
	if u, err := browser.Normalize(startURL); err == nil {
		tab.NavigateTo(ctx, u, browser.PushImmediate)
		action = ActionDisplay
	}
	for {
		if ctx.Err() != nil {
			return
		}
		switch action {
		case ActionHome:
			switch pickOption(shell.Screen, "Kristall", "Enter URL", "Favourites", "History", "Exit") {
			case 0:
				action = ActionAskForURL
			case 1:
				u, _ := url.Parse("about:favourites")
				tab.NavigateTo(ctx, u, browser.PushImmediate)
				action = ActionDisplay
			case 2:
				displayHistory(ctx, tab, shell)
			case 3, -1:
				return
			}
		case ActionAskForURL:
			var ok bool
			urlText, ok = promptText(shell.Screen, "Enter URL:", urlText)
			if !ok {
				action = ActionHome
				continue
			}
			u, err := browser.Normalize(urlText)
			if err != nil {
				shell.Warn(fmt.Sprintf("Error parsing URL\n\nURL: %v\nMessage: %v", urlText, err))
				continue
			}
			tab.NavigateTo(ctx, u, browser.PushImmediate)
			action = ActionDisplay
		case ActionDisplay:
			envelope := tab.Current()
			if envelope == nil {
				action = ActionAskForURL
				continue
			}
			if tab.Location() != nil {
				urlText = tab.Location().String()
			}
			doc := layout(envelope, tab.Renderer(), pageWidth)
			next, act, err := newViewer(shell.Screen, tab.Location(), doc).show()
			if err != nil {
				shell.Warn(fmt.Sprintf("Error processing link\n\nMessage: %v", err))
				continue
			}
			switch act {
			case actionBack:
				tab.Back(ctx)
			case actionForward:
				tab.Forward(ctx)
			case actionReload:
				tab.Reload(ctx)
			case actionToggleFavourite:
				toggleFavourite(tab, shell)
			case actionURLBar:
				action = ActionAskForURL
			case actionHome:
				action = ActionHome
			}
			if next != nil {
				tab.FollowLink(ctx, next)
			}
		}
	}
}

func toggleFavourite(tab *browser.Tab, shell *Shell) {
	u := tab.Location()
	if u == nil || !tab.Loaded() {
		return
	}
	if tab.Favourites.Contains(u) {
		tab.Favourites.Remove(u)
	} else {
		tab.Favourites.Add(u)
	}
	if err := tab.Favourites.Save(); err != nil {
		shell.Warn(fmt.Sprintf("Unable to persist favourites to disk: %v", err))
	}
}

// displayHistory renders the tab's history tree as a gemtext page
// without navigating.
func displayHistory(ctx context.Context, tab *browser.Tab, shell *Shell) {
	buf := new(bytes.Buffer)
	w := gemini.NewDocumentWriter(buf)
	w.Header1("History")
	w.Line("")
	visited := tab.History.All()
	for i := len(visited) - 1; i >= 0; i-- {
		w.RawLink(visited[i].String())
	}
	doc := &document{}
	doc.appendGemtext(buf.String(), pageWidth)
	next, _, err := newViewer(shell.Screen, nil, doc).show()
	if err != nil {
		shell.Warn(fmt.Sprintf("Error processing link\n\nMessage: %v", err))
		return
	}
	if next != nil {
		tab.FollowLink(ctx, next)
	}
}
