package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gdamore/tcell"
	"github.com/jamestomasino-forks/kristall/browser"
)

// A document is an envelope laid out for the terminal: wrapping and
// styling happen once, up front, leaving the viewer with a flat slice
// of rows to blit. Links are collected alongside with the row they
// occupy.
type document struct {
	rows  []row
	links []link
}

type row struct {
	text  string
	style tcell.Style
	link  int // index into links, or -1
}

type link struct {
	row    int
	target string
	label  string
}

var (
	styleText    = tcell.StyleDefault
	styleHeading = tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
	styleLink    = tcell.StyleDefault.Foreground(tcell.ColorBlue).Underline(true)
	styleQuote   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	stylePre     = tcell.StyleDefault.Foreground(tcell.ColorYellow)
)

func (d *document) addRow(text string, style tcell.Style) {
	d.rows = append(d.rows, row{text: text, style: style, link: -1})
}

func (d *document) addWrapped(text string, style tcell.Style, width int) {
	for _, line := range wrap(text, width) {
		d.addRow(line, style)
	}
}

func (d *document) addLink(target, label string) {
	if label == "" {
		label = target
	}
	d.links = append(d.links, link{row: len(d.rows), target: target, label: label})
	d.rows = append(d.rows, row{
		text:  "→ " + label,
		style: styleLink,
		link:  len(d.links) - 1,
	})
}

// layout converts an envelope into a document for the routed
// renderer. The terminal shell substitutes plaintext for the HTML and
// Markdown renderers and a notice for images and media.
func layout(envelope *browser.Envelope, kind browser.RendererKind, width int) *document {
	doc := &document{}
	switch kind {
	case browser.RenderGemtext:
		doc.appendGemtext(string(envelope.Body), width)
	case browser.RenderGophermap:
		doc.appendGophermap(string(envelope.Body), width)
	case browser.RenderPlain, browser.RenderHTML, browser.RenderMarkdown:
		doc.appendPlain(string(envelope.Body))
	case browser.RenderImage, browser.RenderMedia:
		doc.addWrapped("No inline viewer for this media type in the terminal.", styleText, width)
		doc.addRow("", styleText)
		doc.addRow("MIME Type: "+envelope.MIME, styleText)
		doc.addRow("File Size: "+browser.SizeHuman(len(envelope.Body)), styleText)
	default:
		doc.appendPlain(string(browser.UnsupportedPage(envelope.MIME, len(envelope.Body))))
	}
	return doc
}

// appendGemtext lays out a text/gemini body. Prose wraps; preformatted
// blocks keep their lines and are clipped by the viewer instead.
func (d *document) appendGemtext(body string, width int) {
	pre := false
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "```"):
			pre = !pre
		case pre:
			d.addRow(line, stylePre)
		case strings.HasPrefix(line, "=>"):
			target, label := splitLinkLine(line)
			d.addLink(target, label)
		case strings.HasPrefix(line, "#"):
			d.addWrapped(line, styleHeading, width)
		case strings.HasPrefix(line, ">"):
			d.addWrapped(line, styleQuote, width)
		default:
			d.addWrapped(line, styleText, width)
		}
	}
}

// splitLinkLine splits "=> target label" into its parts.
func splitLinkLine(line string) (target, label string) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "=>"))
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		return rest[:i], strings.TrimSpace(rest[i+1:])
	}
	return rest, ""
}

// appendPlain keeps lines as they are; overly long ones are clipped at
// the screen edge rather than re-flowed.
func (d *document) appendPlain(body string) {
	for _, line := range strings.Split(body, "\n") {
		d.addRow(strings.TrimSuffix(line, "\r"), styleText)
	}
}

// appendGophermap lays out a gophermap. Each line is
// <type><display>TAB<selector>TAB<host>TAB<port>; informational lines
// and lines with fewer than three fields after the type become text,
// everything else becomes a gopher link.
func (d *document) appendGophermap(body string, width int) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || line == "." {
			continue
		}
		selectorType := line[0]
		parts := strings.Split(line[1:], "\t")
		if selectorType == 'i' || len(parts) < 3 {
			d.addWrapped(parts[0], styleText, width)
			continue
		}
		d.addLink(gopherTarget(selectorType, parts), parts[0])
	}
}

func gopherTarget(selectorType byte, parts []string) string {
	host := parts[2]
	port := "70"
	if len(parts) > 3 && parts[3] != "" {
		port = parts[3]
	}
	target := url.URL{
		Scheme: "gopher",
		Host:   host,
		Path:   "/" + string(selectorType) + parts[1],
	}
	if port != "70" {
		target.Host = host + ":" + port
	}
	return target.String()
}

// resolveLink turns a link target into an absolute URL.
func resolveLink(l link, base *url.URL) (*url.URL, error) {
	u, err := url.Parse(l.target)
	if err != nil {
		return nil, fmt.Errorf("bad link %q: %w", l.target, err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u, nil
}
