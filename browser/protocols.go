package browser

import (
	"net/url"
	"strings"
)

// SchemeSupport is the state of one URL scheme in the registry.
type SchemeSupport int

const (
	Unsupported SchemeSupport = iota
	Enabled
	Disabled
)

func (s SchemeSupport) String() string {
	switch s {
	case Enabled:
		return "enabled"
	case Disabled:
		return "disabled"
	}
	return "unsupported"
}

// knownSchemes are the schemes the browser can speak.
var knownSchemes = []string{"gemini", "gopher", "finger", "http", "https", "file", "about"}

// Registry maps schemes to their support state. Schemes outside the
// known set are always Unsupported.
type Registry struct {
	m map[string]SchemeSupport
}

// NewRegistry creates a registry with every known scheme enabled.
func NewRegistry() *Registry {
	r := &Registry{
		m: make(map[string]SchemeSupport),
	}
	for _, s := range knownSchemes {
		r.m[s] = Enabled
	}
	return r
}

// Support returns the state of the scheme.
func (r *Registry) Support(scheme string) SchemeSupport {
	return r.m[strings.ToLower(scheme)]
}

// SetEnabled switches a known scheme between Enabled and Disabled.
// Unknown schemes are ignored.
func (r *Registry) SetEnabled(scheme string, enabled bool) {
	scheme = strings.ToLower(scheme)
	if _, known := r.m[scheme]; !known {
		return
	}
	if enabled {
		r.m[scheme] = Enabled
	} else {
		r.m[scheme] = Disabled
	}
}

// Schemes returns the known schemes in registration order.
func (r *Registry) Schemes() []string {
	return append([]string{}, knownSchemes...)
}

// defaultPorts per scheme; URLs carrying the default port are
// normalized to omit it.
var defaultPorts = map[string]string{
	"gemini": "1965",
	"gopher": "70",
	"finger": "79",
	"http":   "80",
	"https":  "443",
}

// Normalize parses user input into a URL, upgrading bare host strings
// to gemini:// and stripping redundant default ports.
func Normalize(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u, err = url.Parse("gemini://" + raw)
		if err != nil {
			return nil, err
		}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if port, ok := defaultPorts[u.Scheme]; ok && u.Port() == port {
		u.Host = u.Hostname()
	}
	return u, nil
}
