package local

import (
	"bytes"
	"embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/jamestomasino-forks/kristall/gemini"
)

//go:embed about/*.gemini
var aboutPages embed.FS

// FavouritesLister is the view of the favourites store needed to build
// the about:favourites page.
type FavouritesLister interface {
	All() []*url.URL
}

// AboutName extracts the page name from an about: URL. Both the opaque
// form (about:blank) and the path form are accepted.
func AboutName(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	return strings.TrimPrefix(u.Path, "/")
}

// About resolves an about: URL. blank is an empty document,
// favourites is generated from the store, and any other name loads the
// embedded page of that name. Unknown names are an error for the UI,
// not a protocol outcome.
func About(u *url.URL, favourites FavouritesLister) (body []byte, mimeType string, err error) {
	name := AboutName(u)
	switch name {
	case "blank":
		return []byte{}, "text/gemini", nil
	case "favourites":
		return favouritesPage(favourites), "text/gemini", nil
	}
	body, err = aboutPages.ReadFile("about/" + name + ".gemini")
	if err != nil {
		return nil, "", fmt.Errorf("local: unknown location: %v", name)
	}
	return body, "text/gemini", nil
}

func favouritesPage(favourites FavouritesLister) []byte {
	buf := new(bytes.Buffer)
	w := gemini.NewDocumentWriter(buf)
	w.Header1("Favourites")
	w.Line("")
	if favourites != nil {
		for _, fav := range favourites.All() {
			w.RawLink(fav.String())
		}
	}
	return buf.Bytes()
}
