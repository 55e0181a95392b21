package browser

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/natefinch/atomic"
)

// Text display modes.
const (
	TextDisplayFancy = "fancy"
	TextDisplayPlain = "plain"
)

// Prefs holds the user preferences the core consults: the text display
// mode, the OS scheme-handler fallback, and the per-scheme enable
// table. The format is a flat key=value file.
type Prefs struct {
	fileName string

	TextDisplay        string
	UseOSSchemeHandler bool
	Protocols          *Registry
}

// NewPrefs creates preferences with defaults: fancy text, no OS
// handler, every scheme enabled.
func NewPrefs(fileName string) *Prefs {
	return &Prefs{
		fileName:    fileName,
		TextDisplay: TextDisplayFancy,
		Protocols:   NewRegistry(),
	}
}

// Load reads the preferences file. A missing file keeps the defaults.
func (p *Prefs) Load() error {
	if p.fileName == "" {
		return nil
	}
	file, err := os.Open(p.fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		kv := strings.SplitN(scanner.Text(), "=", 2)
		if len(kv) != 2 {
			continue
		}
		k, v := strings.ToLower(strings.TrimSpace(kv[0])), strings.TrimSpace(kv[1])
		switch k {
		case "text_display":
			if v == TextDisplayPlain {
				p.TextDisplay = TextDisplayPlain
			} else {
				p.TextDisplay = TextDisplayFancy
			}
		case "use_os_scheme_handler":
			p.UseOSSchemeHandler = v == "true"
		}
		if scheme, found := strings.CutPrefix(k, "scheme/"); found {
			p.Protocols.SetEnabled(scheme, v != "off")
		}
	}
	return scanner.Err()
}

// Save writes the preferences file atomically.
func (p *Prefs) Save() error {
	if p.fileName == "" {
		return nil
	}
	b := new(bytes.Buffer)
	fmt.Fprintf(b, "text_display=%v\n", p.TextDisplay)
	fmt.Fprintf(b, "use_os_scheme_handler=%v\n", p.UseOSSchemeHandler)
	for _, scheme := range p.Protocols.Schemes() {
		state := "on"
		if p.Protocols.Support(scheme) == Disabled {
			state = "off"
		}
		fmt.Fprintf(b, "scheme/%v=%v\n", scheme, state)
	}
	return atomic.WriteFile(p.fileName, b)
}
