package local

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"

	"github.com/jamestomasino-forks/kristall/gemini"
	"github.com/jamestomasino-forks/kristall/log"
)

// DefaultMIMEType is the media type of generated directory listings.
const DefaultMIMEType = "text/gemini; charset=utf-8"

// File resolves a file:// URL to a body and media type. The media type
// is taken from the extension, falling back to content sniffing. A
// directory resolves to a generated text/gemini index of its entries.
func File(u *url.URL) (body []byte, mimeType string, err error) {
	stat, err := os.Stat(u.Path)
	if err != nil {
		return nil, "", fmt.Errorf("local: cannot open %v: %w", u.Path, err)
	}
	if stat.IsDir() {
		return directoryListing(u.Path)
	}
	body, err = os.ReadFile(u.Path)
	if err != nil {
		return nil, "", fmt.Errorf("local: cannot read %v: %w", u.Path, err)
	}
	mimeType = mime.TypeByExtension(path.Ext(u.Path))
	if mimeType == "" {
		mimeType = http.DetectContentType(body)
	}
	log.Info("local: file loaded", log.String("path", u.Path), log.Int("size", len(body)), log.String("mime", mimeType))
	return body, mimeType, nil
}

func directoryListing(dir string) (body []byte, mimeType string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("local: readdir failed for %v: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})
	buf := new(bytes.Buffer)
	w := gemini.NewDocumentWriter(buf)
	w.Header1("Index of " + dir)
	w.Line("")
	w.RawLink("../")
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		link := url.URL{Path: name}
		w.RawLink(link.String())
	}
	return buf.Bytes(), DefaultMIMEType, nil
}
