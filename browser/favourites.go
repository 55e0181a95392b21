package browser

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"os"

	"github.com/natefinch/atomic"
)

// Favourites is an ordered, deduplicated list of URLs, persisted one
// URL per line.
type Favourites struct {
	fileName string
	urls     []*url.URL
}

// NewFavourites creates an in-memory store. Pass a file name to Load
// and Save for persistence; an empty name keeps the store volatile.
func NewFavourites(fileName string) *Favourites {
	return &Favourites{
		fileName: fileName,
	}
}

// Load reads the favourites file. A missing file is an empty store.
func (f *Favourites) Load() error {
	if f.fileName == "" {
		return nil
	}
	file, err := os.Open(f.fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()
	f.urls = nil
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		u, err := url.Parse(line)
		if err != nil {
			return fmt.Errorf("favourites: couldn't parse %q: %w", line, err)
		}
		f.urls = append(f.urls, u)
	}
	return scanner.Err()
}

// Save writes the favourites file atomically.
func (f *Favourites) Save() error {
	if f.fileName == "" {
		return nil
	}
	b := new(bytes.Buffer)
	for _, u := range f.urls {
		fmt.Fprintln(b, u.String())
	}
	return atomic.WriteFile(f.fileName, b)
}

// Add appends the URL if it is not already present.
func (f *Favourites) Add(u *url.URL) {
	if f.Contains(u) {
		return
	}
	f.urls = append(f.urls, u)
}

// Remove deletes the URL if present.
func (f *Favourites) Remove(u *url.URL) {
	s := u.String()
	remaining := f.urls[:0]
	for _, existing := range f.urls {
		if existing.String() != s {
			remaining = append(remaining, existing)
		}
	}
	f.urls = remaining
}

// Contains reports whether the URL is in the store.
func (f *Favourites) Contains(u *url.URL) bool {
	if u == nil {
		return false
	}
	s := u.String()
	for _, existing := range f.urls {
		if existing.String() == s {
			return true
		}
	}
	return false
}

// All returns the favourites in insertion order.
func (f *Favourites) All() []*url.URL {
	return append([]*url.URL{}, f.urls...)
}
